package upstream

import (
	"math/rand/v2"
	"time"
)

// Backoff computes reconnect delays: exponential doubling from Base with
// multiplicative jitter, clamped to Max. A server WAIT replaces the next
// doubling with a gentler 1.5x step, so retries against a busy server slow
// down without exploding.
type Backoff struct {
	// Base is the first delay. Defaults to 1s if zero.
	Base time.Duration

	// Max clamps the computed delay. Defaults to 30s if zero.
	Max time.Duration

	// rnd allows deterministic jitter in tests. Nil uses the global source.
	rnd *rand.Rand

	attempt int
	cur     time.Duration
	waited  bool
}

func (b *Backoff) init() {
	if b.cur == 0 {
		b.cur = b.Base
		if b.cur == 0 {
			b.cur = time.Second
		}
	}
	if b.Max == 0 {
		b.Max = 30 * time.Second
	}
}

// Next returns the delay before the next reconnect attempt and advances the
// schedule: the un-jittered delay doubles per attempt, unless the attempt
// was answered with WAIT, in which case [Backoff.NoteWait] has already
// applied the 1.5x step. Jitter is uniform in [0.8, 1.2].
func (b *Backoff) Next() time.Duration {
	b.init()

	d := b.cur
	if b.waited {
		b.waited = false
	} else {
		b.cur *= 2
		if b.cur > b.Max {
			b.cur = b.Max
		}
	}
	b.attempt++

	jitter := 0.8 + 0.4*b.float64()
	d = time.Duration(float64(d) * jitter)
	if d > b.Max {
		d = b.Max
	}
	return d
}

// NoteWait records a server WAIT response: the pending delay grows by 1.5x
// in place of the usual doubling, so consecutive WAITs yield 1.5x growth
// per attempt.
func (b *Backoff) NoteWait() {
	b.init()
	b.cur = time.Duration(float64(b.cur) * 1.5)
	if b.cur > b.Max {
		b.cur = b.Max
	}
	b.waited = true
}

// Attempts returns the number of delays handed out since the last Reset.
func (b *Backoff) Attempts() int { return b.attempt }

// Reset restores the initial schedule and clears the attempt counter.
// Called after a session reaches the ready state.
func (b *Backoff) Reset() {
	b.attempt = 0
	b.cur = 0
	b.waited = false
}

func (b *Backoff) float64() float64 {
	if b.rnd != nil {
		return b.rnd.Float64()
	}
	return rand.Float64()
}
