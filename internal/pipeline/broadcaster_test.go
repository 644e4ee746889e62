package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/cliolabs/clio/internal/upstream"
)

func runBroadcaster(t *testing.T, cfg BroadcasterConfig) *Broadcaster {
	t.Helper()
	b := NewBroadcaster(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return b
}

func recvEvent(t *testing.T, sub *Subscriber) upstream.Event {
	t.Helper()
	select {
	case ev := <-sub.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return upstream.Event{}
	}
}

func TestBroadcastDelivery(t *testing.T) {
	b := runBroadcaster(t, BroadcasterConfig{})

	sse := b.Subscribe(KindSSE)
	defer sse.Close()
	ws := b.Subscribe(KindWS)
	defer ws.Close()

	b.Publish(upstream.Event{EventType: upstream.EventPartial, Text: "hello"})

	for _, sub := range []*Subscriber{sse, ws} {
		ev := recvEvent(t, sub)
		if ev.Text != "hello" {
			t.Errorf("%s subscriber got text %q, want hello", sub.Kind(), ev.Text)
		}
	}
}

func TestBroadcastSlowSubscriberSkipped(t *testing.T) {
	b := runBroadcaster(t, BroadcasterConfig{
		BufferCapacity: 1,
		PutTimeout:     20 * time.Millisecond,
	})

	slow := b.Subscribe(KindSSE)
	defer slow.Close()
	fast := b.Subscribe(KindWS)
	defer fast.Close()

	// The slow subscriber never reads: its single buffer slot fills on the
	// first event and later events are skipped after the put timeout.
	for i := 0; i < 3; i++ {
		b.Publish(upstream.Event{EventType: upstream.EventPartial, SegmentID: "s"})
	}

	for i := 0; i < 3; i++ {
		recvEvent(t, fast)
	}

	deadline := time.Now().Add(2 * time.Second)
	for b.Skipped() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("Skipped = %d, want >= 2", b.Skipped())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := len(slow.Events()); got != 1 {
		t.Errorf("slow buffer holds %d events, want 1", got)
	}
}

func TestBroadcastPublishNeverBlocks(t *testing.T) {
	// No Run loop: the intake buffer fills and further publishes drop.
	b := NewBroadcaster(BroadcasterConfig{IntakeCapacity: 2})

	for i := 0; i < 5; i++ {
		b.Publish(upstream.Event{EventType: upstream.EventPartial})
	}
	if got := b.Dropped(); got != 3 {
		t.Errorf("Dropped = %d, want 3", got)
	}
}

func TestBroadcastCountByKind(t *testing.T) {
	b := NewBroadcaster(BroadcasterConfig{})

	s1 := b.Subscribe(KindSSE)
	s2 := b.Subscribe(KindSSE)
	w1 := b.Subscribe(KindWS)

	if got := b.Count(KindSSE); got != 2 {
		t.Errorf("Count(sse) = %d, want 2", got)
	}
	if got := b.Count(KindWS); got != 1 {
		t.Errorf("Count(ws) = %d, want 1", got)
	}

	s1.Close()
	s1.Close() // idempotent
	if got := b.Count(KindSSE); got != 1 {
		t.Errorf("Count(sse) after close = %d, want 1", got)
	}

	s2.Close()
	w1.Close()
	if got := b.Count(KindSSE) + b.Count(KindWS); got != 0 {
		t.Errorf("total after closing all = %d, want 0", got)
	}
}

func TestBroadcastClosedSubscriberNotDelivered(t *testing.T) {
	b := runBroadcaster(t, BroadcasterConfig{})

	sub := b.Subscribe(KindSSE)
	keep := b.Subscribe(KindWS)
	defer keep.Close()
	sub.Close()

	b.Publish(upstream.Event{EventType: upstream.EventFinal, Text: "after close"})
	recvEvent(t, keep)

	select {
	case ev := <-sub.Events():
		t.Errorf("closed subscriber received %v", ev.EventType)
	default:
	}
}
