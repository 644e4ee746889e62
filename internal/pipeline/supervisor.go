package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cliolabs/clio/internal/config"
	"github.com/cliolabs/clio/internal/observe"
	"github.com/cliolabs/clio/internal/transcript"
	"github.com/cliolabs/clio/internal/upstream"
	"github.com/cliolabs/clio/pkg/audio"
)

// queueCapacity is the size of the audio and event queues allocated per
// pipeline start.
const queueCapacity = 100

// defaultStartupWindow is how long the supervisor waits for the audio
// source to confirm capture before declaring the pipeline DEGRADED.
const defaultStartupWindow = time.Second

// Link abstracts the upstream session so tests can inject a double.
type Link interface {
	Run(ctx context.Context) error
	Stop()
	Connected() bool
	Backend() string
	Stats() upstream.Stats
}

// SupervisorConfig wires the supervisor's collaborators.
type SupervisorConfig struct {
	Config *config.Config

	// NewSource builds the audio source writing into the given queue.
	// Defaults to a factory selecting file or microphone capture from the
	// configuration.
	NewSource func(out chan<- audio.Frame) (audio.Source, error)

	// NewLink builds the upstream session. Defaults to [upstream.NewLink]
	// configured from the configuration.
	NewLink func(frames <-chan audio.Frame, events chan<- upstream.Event) Link

	// StartupWindow is how long to wait for the audio source to confirm
	// capture before going DEGRADED. Defaults to 1s.
	StartupWindow time.Duration

	// Metrics defaults to observe.DefaultMetrics.
	Metrics *observe.Metrics

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// StatusInfo is the control-surface status payload.
type StatusInfo struct {
	State        State          `json:"state"`
	AudioDevice  string         `json:"audio_device,omitempty"`
	SampleRate   int            `json:"sample_rate"`
	WSConnection string         `json:"ws_connection"`
	QueueDepths  map[string]int `json:"queue_depths"`
	LastError    string         `json:"last_error,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

// HealthInfo is the control-surface health payload.
type HealthInfo struct {
	Status               string            `json:"status"`
	WhisperLiveReady     bool              `json:"whisperlive_ready"`
	WhisperLiveConnected bool              `json:"whisperlive_connected"`
	Details              map[string]string `json:"details,omitempty"`
}

// MetricsInfo is the control-surface metrics payload.
type MetricsInfo struct {
	SegmentsReceived    uint64 `json:"segments_received"`
	SegmentsCommitted   uint64 `json:"segments_committed"`
	SegmentsDropped     uint64 `json:"segments_dropped"`
	QuestionsExtracted  uint64 `json:"questions_extracted"`
	AudioFramesSent     uint64 `json:"audio_frames_sent"`
	AudioFramesDropped  uint64 `json:"audio_frames_dropped"`
	EventsDropped       uint64 `json:"events_dropped"`
	ReconnectCount      uint64 `json:"reconnect_count"`
	ConnectedSSEClients int    `json:"connected_sse_clients"`
	ConnectedWSClients  int    `json:"connected_ws_clients"`
	AudioQueueDepth     int    `json:"audio_queue_depth"`
	EventQueueDepth     int    `json:"event_queue_depth"`
}

// Supervisor owns the pipeline lifecycle: it allocates fresh queues per
// start, spawns the source, link, and aggregation tasks, tracks the state
// machine, and exposes snapshots for the control surface.
type Supervisor struct {
	cfg           *config.Config
	log           *slog.Logger
	metrics       *observe.Metrics
	startupWindow time.Duration

	newSource func(out chan<- audio.Frame) (audio.Source, error)
	newLink   func(frames <-chan audio.Frame, events chan<- upstream.Event) Link

	agg   *transcript.Aggregator
	bcast *Broadcaster

	mu        sync.Mutex
	state     State
	lastError string

	// Per-run resources, valid between Start and the end of Stop.
	source audio.Source
	lnk    Link
	audioQ chan audio.Frame
	eventQ chan upstream.Event
	cancel context.CancelFunc
	tasks  sync.WaitGroup
}

// NewSupervisor creates a Supervisor in the STOPPED state. The broadcaster
// loop is started by Run.
func NewSupervisor(sc SupervisorConfig) *Supervisor {
	cfg := sc.Config
	log := sc.Logger
	if log == nil {
		log = slog.Default()
	}
	metrics := sc.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}

	window := sc.StartupWindow
	if window <= 0 {
		window = defaultStartupWindow
	}

	s := &Supervisor{
		cfg:           cfg,
		log:           log.With("component", "supervisor"),
		metrics:       metrics,
		startupWindow: window,
		state:         StateStopped,
		bcast:         NewBroadcaster(BroadcasterConfig{Logger: log}),
	}

	s.agg = transcript.NewAggregator(transcript.AggregatorConfig{
		MaxUnconsolidatedSegments: cfg.Aggregation.MaxUnconsolidatedSegments,
		MaxConsolidatedLength:     cfg.Aggregation.MaxConsolidatedLength,
		MaxQuestions:              cfg.Aggregation.MaxQuestions,
		CommitDelay:               time.Duration(cfg.Aggregation.CommitDelaySeconds * float64(time.Second)),
		EnforceEnglish:            cfg.English.EnforceEnglish,
		MinEnglishConfidence:      cfg.English.MinEnglishConfidence,
		Logger:                    log,
		OnEvent:                   s.onAggregatorEvent,
	})

	s.newSource = sc.NewSource
	if s.newSource == nil {
		s.newSource = s.defaultSource
	}
	s.newLink = sc.NewLink
	if s.newLink == nil {
		s.newLink = s.defaultLink
	}
	return s
}

func (s *Supervisor) defaultSource(out chan<- audio.Frame) (audio.Source, error) {
	switch s.cfg.Audio.InputMode {
	case config.InputFile:
		return audio.NewFileSource(audio.FileSourceConfig{
			Path:       s.cfg.Audio.InputFile,
			SampleRate: s.cfg.Audio.SampleRate,
			ChunkSize:  s.cfg.Audio.ChunkSize,
		}, out), nil
	case config.InputMicrophone:
		return audio.NewDeviceSource(audio.DeviceSourceConfig{
			DeviceIndex: s.cfg.Audio.DeviceIndex,
			DeviceName:  s.cfg.Audio.DeviceName,
			SampleRate:  s.cfg.Audio.SampleRate,
			Channels:    s.cfg.Audio.Channels,
			ChunkSize:   s.cfg.Audio.ChunkSize,
		}, out), nil
	default:
		return nil, fmt.Errorf("pipeline: unknown input mode %q", s.cfg.Audio.InputMode)
	}
}

func (s *Supervisor) defaultLink(frames <-chan audio.Frame, events chan<- upstream.Event) Link {
	return upstream.NewLink(upstream.LinkConfig{
		URL:               s.cfg.UpstreamURL(),
		UID:               s.cfg.Upstream.UID,
		Language:          s.cfg.Upstream.Language,
		Task:              s.cfg.Upstream.Task,
		Model:             s.cfg.Upstream.Model,
		UseVAD:            s.cfg.Upstream.UseVAD,
		SendLastNSegments: s.cfg.Upstream.SendLastNSegments,
		Format:            string(s.cfg.Upstream.AudioFormat),
		Logger:            s.log,
	}, frames, events)
}

// onAggregatorEvent forwards aggregator notifications to subscribers and
// the metric instruments.
func (s *Supervisor) onAggregatorEvent(ev upstream.Event) {
	ctx := context.Background()
	switch ev.Message {
	case "segment_committed":
		s.metrics.SegmentsCommitted.Add(ctx, 1)
	case "question_extracted":
		s.metrics.QuestionsExtracted.Add(ctx, 1)
	}
	s.bcast.Publish(ev)
}

// Run starts the broadcaster fan-out loop and blocks until ctx is
// cancelled, then stops the pipeline if it is still active.
func (s *Supervisor) Run(ctx context.Context) error {
	go s.bcast.Run(ctx)
	<-ctx.Done()
	return s.Stop()
}

// Start launches the pipeline. Allowed only from STOPPED or ERROR;
// otherwise [ErrInvalidState] is returned. Aggregation state is reset so a
// new session begins with an empty transcript.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	if !s.state.CanStart() {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot start from %s", ErrInvalidState, state)
	}
	if s.state == StateError {
		// Drain the failed run's tasks before reusing the wait group.
		s.mu.Unlock()
		if err := s.Stop(); err != nil {
			return err
		}
		s.mu.Lock()
		if s.state != StateStopped {
			state := s.state
			s.mu.Unlock()
			return fmt.Errorf("%w: cannot start from %s", ErrInvalidState, state)
		}
	}
	s.state = StateStarting
	s.lastError = ""

	s.audioQ = make(chan audio.Frame, queueCapacity)
	s.eventQ = make(chan upstream.Event, queueCapacity)
	s.agg.Reset()

	source, err := s.newSource(s.audioQ)
	if err != nil {
		s.state = StateError
		s.lastError = err.Error()
		s.mu.Unlock()
		return err
	}
	s.source = source
	s.lnk = s.newLink(s.audioQ, s.eventQ)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	eventQ := s.eventQ
	lnk := s.lnk
	s.mu.Unlock()

	s.log.Info("pipeline starting",
		"upstream", s.cfg.UpstreamURL(),
		"input_mode", s.cfg.Audio.InputMode,
	)

	s.tasks.Add(3)

	go func() {
		defer s.tasks.Done()
		err := source.Start(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.fail(fmt.Errorf("audio source: %w", err))
		}
	}()

	go func() {
		defer s.tasks.Done()
		err := lnk.Run(ctx)
		if errors.Is(err, upstream.ErrReconnectsExhausted) {
			s.fail(err)
		}
	}()

	go func() {
		defer s.tasks.Done()
		s.eventLoop(ctx, eventQ)
	}()

	// Confirm capture within the startup window; otherwise run degraded.
	go func() {
		timer := time.NewTimer(s.startupWindow)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.state != StateStarting {
			return
		}
		if source.Running() {
			s.state = StateRunning
			s.log.Info("pipeline running", "device", source.Stats().DeviceName)
		} else {
			s.state = StateDegraded
			s.log.Warn("audio source not confirmed, pipeline degraded")
		}
	}()

	return nil
}

// eventLoop is the single consumer of the event queue: every event goes
// through the aggregator and then out to subscribers.
func (s *Supervisor) eventLoop(ctx context.Context, eventQ <-chan upstream.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-eventQ:
			start := time.Now()
			s.applyEvent(ev)
			s.metrics.EventProcessingDuration.Record(ctx, time.Since(start).Seconds())
			s.bcast.Publish(ev)
		}
	}
}

func (s *Supervisor) applyEvent(ev upstream.Event) {
	switch ev.EventType {
	case upstream.EventPartial, upstream.EventFinal:
		s.metrics.SegmentsReceived.Add(context.Background(), 1)
	case upstream.EventError:
		s.mu.Lock()
		s.lastError = ev.Message
		s.mu.Unlock()
	}
	s.agg.ProcessEvent(ev)
}

// fail moves the pipeline to ERROR and tears the tasks down.
func (s *Supervisor) fail(err error) {
	s.mu.Lock()
	if s.state == StateStopping || s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	s.state = StateError
	s.lastError = err.Error()
	cancel := s.cancel
	lnk := s.lnk
	source := s.source
	s.mu.Unlock()

	s.log.Error("pipeline failed", "error", err)
	if lnk != nil {
		lnk.Stop()
	}
	if source != nil {
		source.Stop()
	}
	if cancel != nil {
		cancel()
	}
}

// Stop shuts the pipeline down and waits for all tasks to exit. Idempotent
// from STOPPED.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return nil
	}
	fromError := s.state == StateError
	s.state = StateStopping
	cancel := s.cancel
	lnk := s.lnk
	source := s.source
	s.mu.Unlock()

	// The link sends END_OF_AUDIO on its way out.
	if lnk != nil {
		lnk.Stop()
	}
	if source != nil {
		source.Stop()
	}
	if cancel != nil {
		cancel()
	}
	s.tasks.Wait()

	s.mu.Lock()
	ctx := context.Background()
	if lnk != nil {
		stats := lnk.Stats()
		s.metrics.Reconnects.Add(ctx, int64(stats.ReconnectCount))
		s.metrics.AudioFramesSent.Add(ctx, int64(stats.FramesSent))
		s.metrics.EventsDropped.Add(ctx, int64(stats.EventsDropped))
		s.metrics.ProtocolErrors.Add(ctx, int64(stats.Malformed))
	}
	if source != nil {
		s.metrics.AudioFramesDropped.Add(ctx, int64(source.Stats().FramesDropped))
	}
	s.metrics.SegmentsEvicted.Add(ctx, int64(s.agg.Stats().SegmentsDropped))
	s.state = StateStopped
	s.source = nil
	s.lnk = nil
	s.cancel = nil
	s.mu.Unlock()

	if fromError {
		s.log.Info("pipeline stopped after error")
	} else {
		s.log.Info("pipeline stopped")
	}
	return nil
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Broadcaster returns the event fan-out used by the streaming transports.
func (s *Supervisor) Broadcaster() *Broadcaster { return s.bcast }

// Unconsolidated returns the live segment window.
func (s *Supervisor) Unconsolidated() []transcript.Segment { return s.agg.Unconsolidated() }

// Consolidated returns the consolidated transcript snapshot.
func (s *Supervisor) Consolidated() transcript.Consolidated { return s.agg.Consolidated() }

// Questions returns the extracted questions.
func (s *Supervisor) Questions() []transcript.Question { return s.agg.Questions() }

// Status returns the control-surface status snapshot.
func (s *Supervisor) Status() StatusInfo {
	s.mu.Lock()
	state := s.state
	lastError := s.lastError
	source := s.source
	lnk := s.lnk
	audioQ, eventQ := s.audioQ, s.eventQ
	s.mu.Unlock()

	info := StatusInfo{
		State:        state,
		SampleRate:   s.cfg.Audio.SampleRate,
		WSConnection: "disconnected",
		QueueDepths:  map[string]int{"audio": 0, "event": 0},
		LastError:    lastError,
		Timestamp:    time.Now().UTC(),
	}
	if source != nil {
		info.AudioDevice = source.Stats().DeviceName
	}
	if lnk != nil && lnk.Connected() {
		info.WSConnection = "connected"
	}
	if audioQ != nil {
		info.QueueDepths["audio"] = len(audioQ)
	}
	if eventQ != nil {
		info.QueueDepths["event"] = len(eventQ)
	}
	return info
}

// Health returns the control-surface health snapshot.
func (s *Supervisor) Health() HealthInfo {
	s.mu.Lock()
	state := s.state
	lastError := s.lastError
	lnk := s.lnk
	s.mu.Unlock()

	connected := lnk != nil && lnk.Connected()
	ready := connected && (state == StateRunning || state == StateDegraded)

	info := HealthInfo{
		WhisperLiveReady:     ready,
		WhisperLiveConnected: connected,
		Details:              map[string]string{"state": string(state)},
	}
	if lastError != "" {
		info.Details["last_error"] = lastError
	}
	if lnk != nil {
		if backend := lnk.Backend(); backend != "" {
			info.Details["backend"] = backend
		}
	}

	switch {
	case state == StateRunning && connected:
		info.Status = "healthy"
	case state == StateDegraded || (state == StateRunning && !connected) || state == StateStarting:
		info.Status = "degraded"
	default:
		info.Status = "unhealthy"
	}
	return info
}

// Metrics returns the control-surface counters snapshot.
func (s *Supervisor) Metrics() MetricsInfo {
	s.mu.Lock()
	source := s.source
	lnk := s.lnk
	audioQ, eventQ := s.audioQ, s.eventQ
	s.mu.Unlock()

	agg := s.agg.Stats()
	info := MetricsInfo{
		SegmentsReceived:    agg.SegmentsReceived,
		SegmentsCommitted:   agg.SegmentsCommitted,
		SegmentsDropped:     agg.SegmentsDropped,
		QuestionsExtracted:  agg.QuestionsExtracted,
		ConnectedSSEClients: s.bcast.Count(KindSSE),
		ConnectedWSClients:  s.bcast.Count(KindWS),
	}
	if source != nil {
		stats := source.Stats()
		info.AudioFramesDropped = stats.FramesDropped
	}
	if lnk != nil {
		stats := lnk.Stats()
		info.AudioFramesSent = stats.FramesSent
		info.EventsDropped = stats.EventsDropped
		info.ReconnectCount = stats.ReconnectCount
	}
	if audioQ != nil {
		info.AudioQueueDepth = len(audioQ)
	}
	if eventQ != nil {
		info.EventQueueDepth = len(eventQ)
	}
	return info
}

// LastError returns the most recent pipeline error message, if any.
func (s *Supervisor) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}
