package upstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/cliolabs/clio/pkg/audio"
)

// ErrReconnectsExhausted is returned by [Link.Run] when the maximum number
// of reconnect attempts is reached without a successful session.
var ErrReconnectsExhausted = errors.New("upstream: reconnect attempts exhausted")

var (
	errStopped    = errors.New("upstream: stopped")
	errServerBusy = errors.New("upstream: server busy")
)

// Wire sample formats for outgoing audio frames.
const (
	FormatFloat32 = "float32"
	FormatInt16   = "int16"
)

// LinkConfig configures a [Link].
type LinkConfig struct {
	// URL is the WebSocket endpoint of the transcription service.
	URL string

	// UID identifies this client in the handshake. A fresh UUID is
	// generated when empty.
	UID string

	// Handshake fields.
	Language          string
	Task              string
	Model             string
	UseVAD            bool
	SendLastNSegments int

	// Format is the wire sample format, FormatFloat32 or FormatInt16.
	// Defaults to FormatFloat32.
	Format string

	// DialTimeout bounds the WebSocket dial. Defaults to 10s.
	DialTimeout time.Duration

	// ReadyTimeout bounds the wait for SERVER_READY after the handshake.
	// Defaults to 30s.
	ReadyTimeout time.Duration

	// MaxAttempts is the reconnect budget before Run gives up. Defaults
	// to 10.
	MaxAttempts int

	// ReconnectBase is the first reconnect delay. Defaults to 1s.
	ReconnectBase time.Duration

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// handshake is the session-open message WhisperLive expects as the first
// text frame.
type handshake struct {
	UID               string `json:"uid"`
	Language          string `json:"language"`
	Task              string `json:"task"`
	Model             string `json:"model"`
	UseVAD            bool   `json:"use_vad"`
	SendLastNSegments int    `json:"send_last_n_segments"`
}

// Link is the upstream session manager. It owns the WebSocket connection to
// the transcription service, streams audio frames up, and pushes normalized
// [Event] values to the event queue. Run keeps the session alive across
// failures using exponential backoff until the reconnect budget is spent or
// the link is stopped.
type Link struct {
	cfg    LinkConfig
	frames <-chan audio.Frame
	events chan<- Event
	log    *slog.Logger

	connected  atomic.Bool
	reconnects atomic.Uint64
	framesSent atomic.Uint64
	dropped    atomic.Uint64
	malformed  atomic.Uint64

	mu      sync.Mutex
	backend string

	done     chan struct{}
	stopOnce sync.Once
}

// NewLink creates a Link reading frames from frames and delivering events
// to events. The connection is not opened until Run.
func NewLink(cfg LinkConfig, frames <-chan audio.Frame, events chan<- Event) *Link {
	if cfg.UID == "" {
		cfg.UID = uuid.NewString()
	}
	if cfg.Format == "" {
		cfg.Format = FormatFloat32
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Link{
		cfg:    cfg,
		frames: frames,
		events: events,
		log:    log.With("component", "upstream"),
		done:   make(chan struct{}),
	}
}

// Run connects to the transcription service and keeps the session alive
// until Stop is called, ctx is cancelled, or the reconnect budget is spent.
// It returns nil on a clean stop, ctx.Err() on cancellation, and
// [ErrReconnectsExhausted] when the service stays unreachable.
func (l *Link) Run(ctx context.Context) error {
	bo := Backoff{Base: l.cfg.ReconnectBase}

	for {
		ready, err := l.session(ctx)
		l.connected.Store(false)
		if ready {
			// Only a session re-established after a failure counts as a
			// reconnect.
			if bo.Attempts() > 0 {
				l.reconnects.Add(1)
			}
			bo.Reset()
		}

		switch {
		case err == nil, errors.Is(err, errStopped):
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		}

		select {
		case <-l.done:
			return nil
		default:
		}

		if errors.Is(err, errServerBusy) {
			bo.NoteWait()
		}

		if bo.Attempts() >= l.cfg.MaxAttempts {
			return fmt.Errorf("%w: last error: %v", ErrReconnectsExhausted, err)
		}

		delay := bo.Next()
		l.log.Warn("upstream session ended, reconnecting",
			"error", err,
			"attempt", bo.Attempts(),
			"delay", delay,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			return nil
		}
	}
}

// session runs one connection lifecycle: dial, handshake, wait for
// SERVER_READY, then pump frames up and events down until something fails.
// ready reports whether the session reached the ready state.
func (l *Link) session(ctx context.Context) (ready bool, err error) {
	dialCtx, cancel := context.WithTimeout(ctx, l.cfg.DialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, l.cfg.URL, nil)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", l.cfg.URL, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "session closed")

	hs := handshake{
		UID:               l.cfg.UID,
		Language:          l.cfg.Language,
		Task:              l.cfg.Task,
		Model:             l.cfg.Model,
		UseVAD:            l.cfg.UseVAD,
		SendLastNSegments: l.cfg.SendLastNSegments,
	}
	if err := wsjson.Write(ctx, conn, hs); err != nil {
		return false, fmt.Errorf("send handshake: %w", err)
	}

	if err := l.awaitReady(ctx, conn); err != nil {
		return false, err
	}

	l.connected.Store(true)
	l.log.Info("upstream session ready",
		"url", l.cfg.URL,
		"uid", l.cfg.UID,
		"backend", l.Backend(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return l.sendLoop(gctx, conn) })
	g.Go(func() error { return l.recvLoop(gctx, conn) })
	return true, g.Wait()
}

// awaitReady consumes server messages until SERVER_READY arrives. A WAIT
// status means the server has no free slot; the session ends and the caller
// backs off harder.
func (l *Link) awaitReady(ctx context.Context, conn *websocket.Conn) error {
	readyCtx, cancel := context.WithTimeout(ctx, l.cfg.ReadyTimeout)
	defer cancel()

	for {
		_, data, err := conn.Read(readyCtx)
		if err != nil {
			return fmt.Errorf("waiting for server ready: %w", err)
		}

		events, err := Normalize(data)
		if err != nil {
			l.malformed.Add(1)
			l.log.Warn("malformed message during handshake", "error", err)
			continue
		}

		for _, ev := range events {
			switch ev.EventType {
			case EventServerReady:
				l.mu.Lock()
				l.backend = ev.Backend
				l.mu.Unlock()
				l.publish(ev)
				return nil
			case EventWait:
				l.publish(ev)
				return fmt.Errorf("%w: estimated wait %s min", errServerBusy, ev.Message)
			default:
				l.publish(ev)
			}
		}
	}
}

// sendLoop streams audio frames as binary messages until the link stops.
// On stop it sends the END_OF_AUDIO marker so the server flushes pending
// transcription before the connection drops.
func (l *Link) sendLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		select {
		case <-ctx.Done():
			l.sendEndOfAudio(conn)
			return ctx.Err()
		case <-l.done:
			l.sendEndOfAudio(conn)
			return errStopped
		case frame := <-l.frames:
			payload := frame.Data
			if l.cfg.Format == FormatFloat32 {
				payload = audio.Int16ToFloat32LE(payload)
			}

			writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Write(writeCtx, websocket.MessageBinary, payload)
			cancel()
			if err != nil {
				return fmt.Errorf("send audio frame: %w", err)
			}
			l.framesSent.Add(1)
		}
	}
}

// recvLoop reads server messages, normalizes them, and publishes the
// resulting events. A DISCONNECT from the server ends the session cleanly.
func (l *Link) recvLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			select {
			case <-l.done:
				return errStopped
			default:
			}
			return fmt.Errorf("read server message: %w", err)
		}

		events, err := Normalize(data)
		if err != nil {
			l.malformed.Add(1)
			l.log.Warn("malformed server message", "error", err)
			continue
		}

		for _, ev := range events {
			l.publish(ev)
			if ev.EventType == EventDisconnect {
				l.log.Info("server requested disconnect", "uid", ev.ClientUID)
				return errStopped
			}
		}
	}
}

// sendEndOfAudio tells the server the stream is complete. Uses a fresh
// context so the marker still goes out when the run context is cancelled.
func (l *Link) sendEndOfAudio(conn *websocket.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(endOfAudio)); err != nil {
		l.log.Debug("send end of audio marker", "error", err)
	}
}

// publish offers ev to the event queue without blocking. Events that do not
// fit are dropped and counted.
func (l *Link) publish(ev Event) {
	select {
	case l.events <- ev:
	default:
		l.dropped.Add(1)
	}
}

// Stop ends the session and prevents further reconnects. Safe to call more
// than once.
func (l *Link) Stop() {
	l.stopOnce.Do(func() {
		close(l.done)
	})
}

// Connected reports whether a ready session is currently established.
func (l *Link) Connected() bool { return l.connected.Load() }

// Backend returns the server-reported transcription backend, or "" before
// the first ready session.
func (l *Link) Backend() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.backend
}

// UID returns the client identifier used in the handshake.
func (l *Link) UID() string { return l.cfg.UID }

// Stats is a snapshot of the link counters.
type Stats struct {
	FramesSent     uint64
	EventsDropped  uint64
	Malformed      uint64
	ReconnectCount uint64
}

// Stats returns a snapshot of the link counters.
func (l *Link) Stats() Stats {
	return Stats{
		FramesSent:     l.framesSent.Load(),
		EventsDropped:  l.dropped.Load(),
		Malformed:      l.malformed.Load(),
		ReconnectCount: l.reconnects.Load(),
	}
}
