package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cliolabs/clio/internal/upstream"
)

// Subscriber kinds, used for per-kind connection counts.
const (
	KindSSE = "sse"
	KindWS  = "ws"
)

// Subscriber is one registered consumer of the broadcast stream. Events are
// delivered on a bounded buffer; when the consumer lags past the per-put
// timeout, events are skipped for it.
type Subscriber struct {
	kind string
	ch   chan upstream.Event

	b    *Broadcaster
	once sync.Once
}

// Events returns the subscriber's delivery channel. The channel is never
// closed; consumers must also select on their own context.
func (s *Subscriber) Events() <-chan upstream.Event { return s.ch }

// Kind returns the subscriber kind, KindSSE or KindWS.
func (s *Subscriber) Kind() string { return s.kind }

// Close unregisters the subscriber. Safe to call more than once.
func (s *Subscriber) Close() {
	s.once.Do(func() {
		s.b.remove(s)
	})
}

// Broadcaster fans the shared event stream out to live subscribers. A
// single fan-out loop performs all deliveries, so producers publishing into
// the broadcaster never block: a full intake buffer drops the event.
type Broadcaster struct {
	in  chan upstream.Event
	log *slog.Logger

	putTimeout time.Duration
	bufCap     int

	mu   sync.Mutex
	subs map[*Subscriber]struct{}

	dropped atomic.Uint64
	skipped atomic.Uint64
}

// BroadcasterConfig tunes the broadcaster. Zero values get defaults.
type BroadcasterConfig struct {
	// IntakeCapacity is the shared inbound buffer size. Defaults to 256.
	IntakeCapacity int

	// BufferCapacity is each subscriber's buffer size. Defaults to 50.
	BufferCapacity int

	// PutTimeout is how long the fan-out loop waits on one slow subscriber
	// before skipping it for the event. Defaults to 1s.
	PutTimeout time.Duration

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// bufferCapacity is resolved at Subscribe time.
func (c BroadcasterConfig) bufferCapacity() int {
	if c.BufferCapacity > 0 {
		return c.BufferCapacity
	}
	return 50
}

// NewBroadcaster creates a Broadcaster. Run must be started for deliveries
// to happen.
func NewBroadcaster(cfg BroadcasterConfig) *Broadcaster {
	if cfg.IntakeCapacity <= 0 {
		cfg.IntakeCapacity = 256
	}
	if cfg.PutTimeout <= 0 {
		cfg.PutTimeout = time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Broadcaster{
		in:         make(chan upstream.Event, cfg.IntakeCapacity),
		log:        log.With("component", "broadcaster"),
		putTimeout: cfg.PutTimeout,
		subs:       make(map[*Subscriber]struct{}),
		bufCap:     cfg.bufferCapacity(),
	}
}

// Publish offers ev to the fan-out loop without blocking. Events that do
// not fit the intake buffer are dropped and counted.
func (b *Broadcaster) Publish(ev upstream.Event) {
	select {
	case b.in <- ev:
	default:
		b.dropped.Add(1)
	}
}

// Run delivers events to subscribers until ctx is cancelled. All deliveries
// happen in this loop.
func (b *Broadcaster) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.in:
			b.fanOut(ctx, ev)
		}
	}
}

func (b *Broadcaster) fanOut(ctx context.Context, ev upstream.Event) {
	b.mu.Lock()
	targets := make([]*Subscriber, 0, len(b.subs))
	for s := range b.subs {
		targets = append(targets, s)
	}
	b.mu.Unlock()

	for _, s := range targets {
		select {
		case s.ch <- ev:
			continue
		default:
		}

		// Buffer full: give the consumer the put timeout to catch up.
		timer := time.NewTimer(b.putTimeout)
		select {
		case s.ch <- ev:
			timer.Stop()
		case <-timer.C:
			b.skipped.Add(1)
			b.log.Debug("subscriber lagging, event skipped",
				"kind", s.kind,
				"event_type", ev.EventType,
			)
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// Subscribe registers a new subscriber of the given kind.
func (b *Broadcaster) Subscribe(kind string) *Subscriber {
	s := &Subscriber{
		kind: kind,
		ch:   make(chan upstream.Event, b.bufCap),
		b:    b,
	}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

func (b *Broadcaster) remove(s *Subscriber) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
}

// Count returns the number of connected subscribers of the given kind.
func (b *Broadcaster) Count(kind string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for s := range b.subs {
		if s.kind == kind {
			n++
		}
	}
	return n
}

// Dropped returns the number of events lost at the intake buffer.
func (b *Broadcaster) Dropped() uint64 { return b.dropped.Load() }

// Skipped returns the number of per-subscriber deliveries skipped due to
// lag.
func (b *Broadcaster) Skipped() uint64 { return b.skipped.Load() }
