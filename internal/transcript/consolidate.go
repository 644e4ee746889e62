package transcript

import (
	"container/list"
	"sort"
	"strings"
	"time"
)

// Consolidated is a snapshot of the monotone transcript built from
// committed segments.
type Consolidated struct {
	Text         string    `json:"text"`
	Revision     int       `json:"revision"`
	SegmentCount int       `json:"segment_count"`
	LastUpdate   time.Time `json:"last_update"`
}

// ledgerEntry pairs an absorbed hash with the text it stood for, so
// eviction can tell whether the text is still present in the transcript.
type ledgerEntry struct {
	hash string
	text string
}

// hashLedger is the set of absorbed or suppressed text hashes, bounded by
// LRU on insertion order. Entries whose text still appears in the
// consolidated transcript are never evicted; the ledger may exceed its cap
// while that holds.
type hashLedger struct {
	max     int
	order   *list.List
	entries map[string]*list.Element
}

func newHashLedger(max int) *hashLedger {
	return &hashLedger{
		max:     max,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

func (l *hashLedger) has(hash string) bool {
	_, ok := l.entries[hash]
	return ok
}

// add records hash with its source text, evicting the oldest evictable
// entry when the cap is exceeded. consolidated is the current transcript
// text, used to protect still-visible entries.
func (l *hashLedger) add(hash, text, consolidated string) {
	if _, ok := l.entries[hash]; ok {
		return
	}
	l.entries[hash] = l.order.PushBack(ledgerEntry{hash: hash, text: text})

	if l.max <= 0 || l.order.Len() <= l.max {
		return
	}
	lower := strings.ToLower(consolidated)
	for e := l.order.Front(); e != nil; e = e.Next() {
		entry := e.Value.(ledgerEntry)
		if strings.Contains(lower, strings.ToLower(entry.text)) {
			continue
		}
		l.order.Remove(e)
		delete(l.entries, entry.hash)
		return
	}
}

func (l *hashLedger) len() int { return l.order.Len() }

// consolidator owns the consolidated transcript state. Not safe for
// concurrent use; the aggregator serializes access.
type consolidator struct {
	text         string
	revision     int
	segmentCount int
	lastUpdate   time.Time
	maxLength    int
	ledger       *hashLedger
}

func newConsolidator(maxLength, ledgerCap int) *consolidator {
	return &consolidator{
		maxLength: maxLength,
		ledger:    newHashLedger(ledgerCap),
	}
}

// absorb folds the committed segments into the transcript, ordered by
// (start_time, segment_id). Segments whose hash is already in the ledger
// are skipped; near-duplicates of the current text are suppressed and
// ledger-marked; the rest contribute their non-overlapping suffix. Reports
// whether the text changed.
func (c *consolidator) absorb(committed []Segment, now time.Time) bool {
	ordered := make([]Segment, len(committed))
	copy(ordered, committed)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Start != ordered[j].Start {
			return ordered[i].Start < ordered[j].Start
		}
		return ordered[i].ID < ordered[j].ID
	})

	changed := false
	for _, seg := range ordered {
		if c.ledger.has(seg.TextHash) {
			continue
		}

		cur := strings.ToLower(strings.TrimSpace(c.text))
		nrm := strings.ToLower(strings.TrimSpace(seg.Text))

		if cur == nrm || (nrm != "" && strings.Contains(cur, nrm)) || overlapRatio(cur, nrm) > 0.8 {
			c.ledger.add(seg.TextHash, seg.Text, c.text)
			continue
		}

		suffix := nonOverlappingSuffix(c.text, seg.Text)
		if suffix != "" {
			if c.text != "" && !strings.HasSuffix(c.text, " ") {
				c.text += " "
			}
			c.text += suffix
			changed = true
		}
		c.ledger.add(seg.TextHash, seg.Text, c.text)
	}

	c.text = strings.TrimRight(c.text, " \t\n")
	if c.maxLength > 0 && len(c.text) > c.maxLength {
		c.text = trimFront(c.text, c.maxLength)
		changed = true
	}

	if changed {
		c.revision++
		c.segmentCount = len(committed)
		c.lastUpdate = now
	}
	return changed
}

// overlapRatio is the share of nrm's distinct words already present in
// cur. Both inputs must be lowercased.
func overlapRatio(cur, nrm string) float64 {
	nrmWords := strings.Fields(nrm)
	if len(nrmWords) == 0 {
		return 0
	}
	curSet := make(map[string]struct{})
	for _, w := range strings.Fields(cur) {
		curSet[w] = struct{}{}
	}
	seen := make(map[string]struct{})
	common := 0
	for _, w := range nrmWords {
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		if _, ok := curSet[w]; ok {
			common++
		}
	}
	return float64(common) / float64(len(seen))
}

// nonOverlappingSuffix returns the part of candidate not already covered by
// the tail of text. Comparison is whole-word and case-insensitive; the
// returned suffix keeps the candidate's original casing.
//
// When the candidate starts with the whole current text the suffix is
// empty: an anchored superset restates the transcript from the beginning
// and is suppressed rather than appended.
func nonOverlappingSuffix(text, candidate string) string {
	candidate = strings.TrimSpace(candidate)
	if strings.TrimSpace(text) == "" {
		return candidate
	}

	cur := strings.ToLower(strings.TrimSpace(text))
	nrm := strings.ToLower(candidate)

	if strings.HasPrefix(nrm, cur) {
		return ""
	}
	if strings.HasSuffix(cur, nrm) {
		return ""
	}

	curWords := strings.Fields(cur)
	nrmLower := strings.Fields(nrm)
	nrmOrig := strings.Fields(candidate)

	maxK := min(len(curWords), len(nrmLower))
	for k := maxK; k >= 1; k-- {
		if wordsEqual(curWords[len(curWords)-k:], nrmLower[:k]) {
			return strings.Join(nrmOrig[k:], " ")
		}
	}
	return candidate
}

func wordsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// trimFront cuts text down to at most max bytes by dropping words from the
// front.
func trimFront(text string, max int) string {
	cut := len(text) - max
	idx := strings.IndexByte(text[cut:], ' ')
	if idx < 0 {
		return ""
	}
	return text[cut+idx+1:]
}

// snapshot returns the externally visible consolidated state.
func (c *consolidator) snapshot() Consolidated {
	return Consolidated{
		Text:         c.text,
		Revision:     c.revision,
		SegmentCount: c.segmentCount,
		LastUpdate:   c.lastUpdate,
	}
}
