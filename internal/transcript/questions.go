package transcript

import (
	"sort"
	"strings"
	"time"
)

// Question source classifications.
const (
	SourceInterrogative = "interrogative"
	SourceImperative    = "imperative"
)

// Question is a segment whose text reads as a question or a prompt.
// Identity is the hash of the normalized text, so the same question seen in
// several segments stays a single entry.
type Question struct {
	QuestionID     string    `json:"question_id"`
	Text           string    `json:"text"`
	NormalizedText string    `json:"normalized_text"`
	SegmentIDs     []string  `json:"segment_ids"`
	FirstSeen      time.Time `json:"first_seen"`
	LastSeen       time.Time `json:"last_seen"`
	SourceTypes    []string  `json:"source_types"`
	IsExplicit     bool      `json:"is_explicit"`
}

var interrogativeWords = map[string]struct{}{
	"what": {}, "how": {}, "why": {}, "when": {},
	"where": {}, "who": {}, "which": {}, "whose": {},
}

var imperativePrefixes = []string{
	"imagine", "describe", "show me", "tell me", "present",
	"explain", "what if", "let's say", "suppose", "consider",
}

// classify reports whether normalized text reads as an interrogative
// (contains "?" or a question word) or as an imperative prompt (starts with
// a known prompt verb).
func classify(text string) (interrogative, imperative bool) {
	lower := strings.ToLower(text)

	if strings.Contains(lower, "?") {
		interrogative = true
	} else {
		for _, w := range strings.Fields(strings.Map(stripPunct, lower)) {
			if _, ok := interrogativeWords[w]; ok {
				interrogative = true
				break
			}
		}
	}

	for _, prefix := range imperativePrefixes {
		if strings.HasPrefix(lower, prefix) {
			imperative = true
			break
		}
	}
	return interrogative, imperative
}

func stripPunct(r rune) rune {
	switch r {
	case '.', ',', '!', '?', ';', ':':
		return ' '
	}
	return r
}

// questionSet is the bounded question table, FIFO-evicted by first_seen.
// Not safe for concurrent use; the aggregator serializes access.
type questionSet struct {
	max       int
	questions map[string]*Question
}

func newQuestionSet(max int) *questionSet {
	return &questionSet{
		max:       max,
		questions: make(map[string]*Question),
	}
}

// observe inspects a committed segment and records a question when the text
// qualifies. Reports whether a new question was created; a repeat sighting
// appends the segment id and refreshes last_seen instead.
func (q *questionSet) observe(seg Segment, now time.Time) (*Question, bool) {
	interrogative, imperative := classify(seg.Text)
	if !interrogative && !imperative {
		return nil, false
	}

	id := TextHash(seg.Text)
	if existing, ok := q.questions[id]; ok {
		existing.LastSeen = now
		for _, sid := range existing.SegmentIDs {
			if sid == seg.ID {
				return existing, false
			}
		}
		existing.SegmentIDs = append(existing.SegmentIDs, seg.ID)
		return existing, false
	}

	var sources []string
	if interrogative {
		sources = append(sources, SourceInterrogative)
	}
	if imperative {
		sources = append(sources, SourceImperative)
	}

	question := &Question{
		QuestionID:     id,
		Text:           seg.Text,
		NormalizedText: strings.ToLower(strings.TrimSpace(seg.Text)),
		SegmentIDs:     []string{seg.ID},
		FirstSeen:      now,
		LastSeen:       now,
		SourceTypes:    sources,
		IsExplicit:     interrogative,
	}
	q.questions[id] = question
	q.evict()
	return question, true
}

// evict drops the oldest questions by first_seen until within the bound.
func (q *questionSet) evict() {
	for q.max > 0 && len(q.questions) > q.max {
		var oldest *Question
		for _, question := range q.questions {
			if oldest == nil || question.FirstSeen.Before(oldest.FirstSeen) {
				oldest = question
			}
		}
		delete(q.questions, oldest.QuestionID)
	}
}

// list returns the questions ordered by first_seen.
func (q *questionSet) list() []Question {
	out := make([]Question, 0, len(q.questions))
	for _, question := range q.questions {
		copied := *question
		copied.SegmentIDs = append([]string(nil), question.SegmentIDs...)
		copied.SourceTypes = append([]string(nil), question.SourceTypes...)
		out = append(out, copied)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FirstSeen.Equal(out[j].FirstSeen) {
			return out[i].FirstSeen.Before(out[j].FirstSeen)
		}
		return out[i].QuestionID < out[j].QuestionID
	})
	return out
}

func (q *questionSet) len() int { return len(q.questions) }
