// Package config provides the configuration schema, loader, and environment
// override handling for the clio transcription server.
package config

import "strconv"

// LogLevel controls log verbosity for the clio server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// AudioFormat selects the wire sample format sent to the transcription
// service.
type AudioFormat string

const (
	// FormatFloat32 sends little-endian float32 samples normalised to
	// [-1, 1]. This is what WhisperLive expects by default.
	FormatFloat32 AudioFormat = "float32"

	// FormatInt16 sends raw little-endian int16 samples.
	FormatInt16 AudioFormat = "int16"
)

// IsValid reports whether f is a recognised audio wire format.
func (f AudioFormat) IsValid() bool {
	return f == FormatFloat32 || f == FormatInt16
}

// InputMode selects the audio capture source.
type InputMode string

const (
	InputMicrophone InputMode = "microphone"
	InputFile       InputMode = "file"
)

// IsValid reports whether m is a recognised input mode.
func (m InputMode) IsValid() bool {
	return m == InputMicrophone || m == InputFile
}

// Config is the root configuration structure for clio. It is typically
// loaded from a YAML file using [Load] or [LoadFromReader]; every field can
// be overridden through environment variables (see loader.go for the
// variable names).
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Upstream    UpstreamConfig    `yaml:"upstream"`
	Audio       AudioConfig       `yaml:"audio"`
	Aggregation AggregationConfig `yaml:"aggregation"`
	English     EnglishConfig     `yaml:"english"`
}

// ServerConfig holds network and logging settings for the HTTP surface.
type ServerConfig struct {
	// ListenAddr is the TCP address the control server listens on
	// (e.g., ":8000").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// UpstreamConfig describes the WhisperLive session: endpoint, handshake
// fields, and the wire format for audio frames.
type UpstreamConfig struct {
	// WSURL is the full WebSocket endpoint. When empty it is derived from
	// Host and Port as "ws://host:port".
	WSURL string `yaml:"ws_url"`

	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// UID identifies this client in the handshake. When empty a fresh UUID
	// is generated per process.
	UID string `yaml:"uid"`

	// Language is the transcription language hint (e.g., "en").
	Language string `yaml:"language"`

	// Task is the upstream task, normally "transcribe".
	Task string `yaml:"task"`

	// Model selects the upstream model size (e.g., "base", "small").
	Model string `yaml:"model"`

	// UseVAD asks the upstream service to gate audio with its own voice
	// activity detector.
	UseVAD bool `yaml:"use_vad"`

	// SendLastNSegments is how many trailing segments the service repeats
	// in each update.
	SendLastNSegments int `yaml:"send_last_n_segments"`

	// AudioFormat is the wire sample format for outgoing frames.
	AudioFormat AudioFormat `yaml:"audio_format"`
}

// AudioConfig selects and parameterises the capture source.
type AudioConfig struct {
	// InputMode selects microphone capture or file replay.
	InputMode InputMode `yaml:"input_mode"`

	// DeviceIndex selects a capture device by index. Negative means unset.
	DeviceIndex int `yaml:"device_index"`

	// DeviceName selects a capture device by case-insensitive substring.
	DeviceName string `yaml:"device_name"`

	// SampleRate in Hz for capture and the upstream session.
	SampleRate int `yaml:"sample_rate"`

	// Channels requested from the device; the pipeline itself is mono.
	Channels int `yaml:"channels"`

	// ChunkSize is the number of samples per frame.
	ChunkSize int `yaml:"chunk_size"`

	// InputFile is the WAV file replayed when InputMode is "file".
	InputFile string `yaml:"input_file"`
}

// AggregationConfig bounds the aggregator's in-memory state and sets the
// FINAL-to-COMMITTED delay.
type AggregationConfig struct {
	// MaxUnconsolidatedSegments bounds the live segment window. The oldest
	// segment (by creation time) is evicted past this bound.
	MaxUnconsolidatedSegments int `yaml:"max_unconsolidated_segments"`

	// MaxConsolidatedLength caps the consolidated transcript, trimming
	// from the front at a word boundary when exceeded.
	MaxConsolidatedLength int `yaml:"max_consolidated_length"`

	// MaxQuestions bounds the extracted question set (FIFO by first_seen).
	MaxQuestions int `yaml:"max_questions"`

	// CommitDelaySeconds is the minimum interval between a segment's first
	// FINAL observation and its COMMITTED transition.
	CommitDelaySeconds float64 `yaml:"commit_delay_seconds"`
}

// EnglishConfig controls the language gate for question extraction.
type EnglishConfig struct {
	// EnforceEnglish marks segments non-English when the detected language
	// differs from English with sufficient confidence.
	EnforceEnglish bool `yaml:"enforce_english"`

	// MinEnglishConfidence is the detection confidence above which a
	// non-English language marks the segment.
	MinEnglishConfidence float64 `yaml:"min_english_confidence"`
}

// Default returns a Config populated with the documented defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8000",
			LogLevel:   LogInfo,
		},
		Upstream: UpstreamConfig{
			Host:              "localhost",
			Port:              9090,
			Language:          "en",
			Task:              "transcribe",
			Model:             "base",
			UseVAD:            true,
			SendLastNSegments: 10,
			AudioFormat:       FormatFloat32,
		},
		Audio: AudioConfig{
			InputMode:   InputMicrophone,
			DeviceIndex: -1,
			SampleRate:  16000,
			Channels:    1,
			ChunkSize:   4096,
		},
		Aggregation: AggregationConfig{
			MaxUnconsolidatedSegments: 1000,
			MaxConsolidatedLength:     100000,
			MaxQuestions:              500,
			CommitDelaySeconds:        2.0,
		},
		English: EnglishConfig{
			EnforceEnglish:       true,
			MinEnglishConfidence: 0.8,
		},
	}
}

// UpstreamURL returns the effective WebSocket endpoint for the upstream
// transcription service.
func (c *Config) UpstreamURL() string {
	if c.Upstream.WSURL != "" {
		return c.Upstream.WSURL
	}
	return "ws://" + c.Upstream.Host + ":" + strconv.Itoa(c.Upstream.Port)
}
