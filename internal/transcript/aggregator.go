package transcript

import (
	"log/slog"
	"sync"
	"time"

	"github.com/cliolabs/clio/internal/upstream"
)

// AggregatorConfig bounds the aggregator state and sets the commit policy.
type AggregatorConfig struct {
	// MaxUnconsolidatedSegments bounds the live segment window. Defaults
	// to 1000.
	MaxUnconsolidatedSegments int

	// MaxConsolidatedLength caps the consolidated transcript length in
	// bytes. Defaults to 100000.
	MaxConsolidatedLength int

	// MaxQuestions bounds the question table. Defaults to 500.
	MaxQuestions int

	// CommitDelay is the minimum interval between a segment's first FINAL
	// observation and its COMMITTED transition. Defaults to 2s.
	CommitDelay time.Duration

	// EnforceEnglish marks segments non-English when detection disagrees.
	EnforceEnglish bool

	// MinEnglishConfidence is the detection confidence above which a
	// non-English language marks the segment. Defaults to 0.8.
	MinEnglishConfidence float64

	// Now supplies the clock. Defaults to time.Now. Tests inject a fake.
	Now func() time.Time

	// OnEvent, when set, receives pipeline notifications (commits and
	// question extraction) as system events. Called while the aggregator
	// lock is held; the callback must not call back into the aggregator.
	OnEvent func(upstream.Event)

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// AggregatorStats is a snapshot of the aggregator counters.
type AggregatorStats struct {
	SegmentsReceived   uint64
	SegmentsCommitted  uint64
	SegmentsDropped    uint64
	QuestionsExtracted uint64
}

// Aggregator consumes normalized events serially and maintains the live
// segment window, the commit-delay ledger, the consolidated transcript, and
// the question table. All exported methods are safe for concurrent use;
// readers get point-in-time copies.
type Aggregator struct {
	cfg AggregatorConfig
	log *slog.Logger
	now func() time.Time

	mu         sync.Mutex
	order      []string
	segments   map[string]Segment
	firstFinal map[string]time.Time
	cons       *consolidator
	questions  *questionSet

	sessionLanguage string
	sessionProb     float64

	received   uint64
	committed  uint64
	dropped    uint64
	questioned uint64
}

// NewAggregator creates an Aggregator with empty state.
func NewAggregator(cfg AggregatorConfig) *Aggregator {
	if cfg.MaxUnconsolidatedSegments <= 0 {
		cfg.MaxUnconsolidatedSegments = 1000
	}
	if cfg.MaxConsolidatedLength <= 0 {
		cfg.MaxConsolidatedLength = 100000
	}
	if cfg.MaxQuestions <= 0 {
		cfg.MaxQuestions = 500
	}
	if cfg.CommitDelay <= 0 {
		cfg.CommitDelay = 2 * time.Second
	}
	if cfg.MinEnglishConfidence <= 0 {
		cfg.MinEnglishConfidence = 0.8
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	a := &Aggregator{
		cfg: cfg,
		log: log.With("component", "aggregator"),
		now: cfg.Now,
	}
	a.reset()
	return a
}

func (a *Aggregator) reset() {
	a.order = nil
	a.segments = make(map[string]Segment)
	a.firstFinal = make(map[string]time.Time)
	// Ledger cap scales with the window so replay suppression survives
	// well past eviction.
	a.cons = newConsolidator(a.cfg.MaxConsolidatedLength, 4*a.cfg.MaxUnconsolidatedSegments)
	a.questions = newQuestionSet(a.cfg.MaxQuestions)
	a.sessionLanguage = ""
	a.sessionProb = 0
	a.received = 0
	a.committed = 0
	a.dropped = 0
	a.questioned = 0
}

// Reset clears all aggregation state. Called by the supervisor on each
// pipeline start so a new session begins with an empty transcript.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reset()
}

// ProcessEvent applies one normalized event. Segment events update the
// window and may trigger commits; language detection arms the English gate;
// other event types are ignored here.
func (a *Aggregator) ProcessEvent(ev upstream.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch ev.EventType {
	case upstream.EventPartial:
		a.applySegment(ev, false)
	case upstream.EventFinal:
		a.applySegment(ev, true)
	case upstream.EventLanguageDetected:
		a.sessionLanguage = ev.Language
		a.sessionProb = ev.LanguageProb
	}
}

func (a *Aggregator) applySegment(ev upstream.Event, isFinal bool) {
	if ev.SegmentID == "" {
		return
	}
	now := a.now()
	text := NormalizeText(ev.Text)
	a.received++

	existing, exists := a.segments[ev.SegmentID]

	// Identical text: the only possible action is a commit once the delay
	// has elapsed.
	if exists && existing.Text == text {
		if isFinal && existing.Status != StatusCommitted && a.commitReady(ev.SegmentID, now) {
			a.commit(ev.SegmentID, now)
		}
		return
	}

	status := StatusPartial
	if isFinal {
		status = StatusFinal
	}

	var seg Segment
	if exists {
		seg = existing.withText(text, status, now)
	} else {
		seg = newSegment(ev.SegmentID, text, ev.Start, ev.End, status, now)
		a.order = append(a.order, seg.ID)
	}
	seg.Language, seg.IsEnglish = a.languageFor(ev)
	a.segments[seg.ID] = seg

	a.enforceWindow()

	if seg, ok := a.segments[ev.SegmentID]; ok &&
		isFinal && seg.Status == StatusFinal && a.commitReady(seg.ID, now) {
		a.commit(seg.ID, now)
	}
}

// commitReady implements the commit-delay rule: the first FINAL observation
// for a segment records its timestamp and reports false, so a segment never
// commits on first sighting. Later observations report true once the delay
// has elapsed.
func (a *Aggregator) commitReady(id string, now time.Time) bool {
	t0, ok := a.firstFinal[id]
	if !ok {
		a.firstFinal[id] = now
		return false
	}
	return now.Sub(t0) >= a.cfg.CommitDelay
}

// commit transitions the segment to COMMITTED, folds the committed set into
// the consolidated transcript, and runs question extraction.
func (a *Aggregator) commit(id string, now time.Time) {
	seg := a.segments[id]
	seg.Status = StatusCommitted
	seg.UpdatedAt = now
	a.segments[id] = seg
	a.committed++

	changed := a.cons.absorb(a.committedSegments(), now)

	a.log.Debug("segment committed",
		"segment_id", id,
		"text", seg.Text,
		"consolidated_changed", changed,
		"consolidated_revision", a.cons.revision,
	)
	a.emit(commitEvent(seg))

	if seg.IsEnglish {
		if question, created := a.questions.observe(seg, now); created {
			a.questioned++
			a.log.Info("question extracted",
				"question_id", question.QuestionID,
				"text", question.Text,
				"explicit", question.IsExplicit,
			)
			a.emit(questionEvent(question))
		}
	}
}

func (a *Aggregator) committedSegments() []Segment {
	out := make([]Segment, 0, len(a.order))
	for _, id := range a.order {
		if seg, ok := a.segments[id]; ok && seg.Status == StatusCommitted {
			out = append(out, seg)
		}
	}
	return out
}

// enforceWindow evicts the oldest segments by created_at until the window
// fits. Evicted hashes stay in the ledger, so a committed segment is never
// re-absorbed after eviction.
func (a *Aggregator) enforceWindow() {
	for len(a.order) > a.cfg.MaxUnconsolidatedSegments {
		oldestIdx := 0
		oldest := a.segments[a.order[0]]
		for i, id := range a.order[1:] {
			if seg := a.segments[id]; seg.CreatedAt.Before(oldest.CreatedAt) {
				oldest = seg
				oldestIdx = i + 1
			}
		}
		a.order = append(a.order[:oldestIdx], a.order[oldestIdx+1:]...)
		delete(a.segments, oldest.ID)
		delete(a.firstFinal, oldest.ID)
		a.dropped++
		a.log.Debug("segment evicted", "segment_id", oldest.ID)
	}
}

// languageFor resolves the effective language marking for a segment event,
// preferring the event's own language field over the session-level
// detection.
func (a *Aggregator) languageFor(ev upstream.Event) (lang string, isEnglish bool) {
	lang, prob := ev.Language, ev.LanguageProb
	if lang == "" {
		lang, prob = a.sessionLanguage, a.sessionProb
	}
	if lang == "" {
		return "", true
	}
	if !a.cfg.EnforceEnglish {
		return lang, true
	}
	if lang == "en" || lang == "english" {
		return lang, true
	}
	return lang, prob < a.cfg.MinEnglishConfidence
}

func (a *Aggregator) emit(ev upstream.Event) {
	if a.cfg.OnEvent != nil {
		a.cfg.OnEvent(ev)
	}
}

func commitEvent(seg Segment) upstream.Event {
	ev := upstream.NewSystemEvent("segment_committed")
	ev.SegmentID = seg.ID
	ev.Text = seg.Text
	ev.Start = seg.Start
	ev.End = seg.End
	return ev
}

func questionEvent(q *Question) upstream.Event {
	ev := upstream.NewSystemEvent("question_extracted")
	ev.Text = q.Text
	return ev
}

// Unconsolidated returns the live segment window in insertion order.
func (a *Aggregator) Unconsolidated() []Segment {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Segment, 0, len(a.order))
	for _, id := range a.order {
		if seg, ok := a.segments[id]; ok {
			out = append(out, seg)
		}
	}
	return out
}

// Consolidated returns a snapshot of the consolidated transcript.
func (a *Aggregator) Consolidated() Consolidated {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cons.snapshot()
}

// Questions returns the extracted questions ordered by first_seen.
func (a *Aggregator) Questions() []Question {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.questions.list()
}

// Stats returns a snapshot of the aggregator counters.
func (a *Aggregator) Stats() AggregatorStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return AggregatorStats{
		SegmentsReceived:   a.received,
		SegmentsCommitted:  a.committed,
		SegmentsDropped:    a.dropped,
		QuestionsExtracted: a.questioned,
	}
}
