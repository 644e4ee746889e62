package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads the configuration from the YAML file at path, applies any
// environment variable overrides, and validates the result. A .env file in
// the working directory is loaded first if present. When path is empty the
// defaults are used as the base.
func Load(path string) (*Config, error) {
	// Missing .env is fine; only a malformed one is an error.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()
		if err := decodeYAML(f, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML configuration from r on top of the defaults,
// applies environment overrides, and validates. Intended for tests and
// embedded configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decodeYAML(r, cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

// applyEnv overrides cfg fields from environment variables. Variable names
// follow the section prefixes SERVER_, WHISPERLIVE_, AUDIO_, AGGREGATION_,
// and ENGLISH_.
func applyEnv(cfg *Config) {
	setString(&cfg.Server.ListenAddr, "SERVER_LISTEN_ADDR")
	if v, ok := os.LookupEnv("SERVER_LOG_LEVEL"); ok {
		cfg.Server.LogLevel = LogLevel(v)
	}

	setString(&cfg.Upstream.WSURL, "WHISPERLIVE_WS_URL")
	setString(&cfg.Upstream.Host, "WHISPERLIVE_HOST")
	setInt(&cfg.Upstream.Port, "WHISPERLIVE_PORT")
	setString(&cfg.Upstream.UID, "WHISPERLIVE_UID")
	setString(&cfg.Upstream.Language, "WHISPERLIVE_LANGUAGE")
	setString(&cfg.Upstream.Task, "WHISPERLIVE_TASK")
	setString(&cfg.Upstream.Model, "WHISPERLIVE_MODEL")
	setBool(&cfg.Upstream.UseVAD, "WHISPERLIVE_USE_VAD")
	setInt(&cfg.Upstream.SendLastNSegments, "WHISPERLIVE_SEND_LAST_N_SEGMENTS")
	if v, ok := os.LookupEnv("WHISPERLIVE_AUDIO_FORMAT"); ok {
		cfg.Upstream.AudioFormat = AudioFormat(v)
	}

	if v, ok := os.LookupEnv("AUDIO_INPUT_MODE"); ok {
		cfg.Audio.InputMode = InputMode(v)
	}
	setInt(&cfg.Audio.DeviceIndex, "AUDIO_DEVICE_INDEX")
	setString(&cfg.Audio.DeviceName, "AUDIO_DEVICE_NAME")
	setInt(&cfg.Audio.SampleRate, "AUDIO_SAMPLE_RATE")
	setInt(&cfg.Audio.Channels, "AUDIO_CHANNELS")
	setInt(&cfg.Audio.ChunkSize, "AUDIO_CHUNK_SIZE")
	setString(&cfg.Audio.InputFile, "AUDIO_INPUT_FILE")

	setInt(&cfg.Aggregation.MaxUnconsolidatedSegments, "AGGREGATION_MAX_UNCONSOLIDATED_SEGMENTS")
	setInt(&cfg.Aggregation.MaxConsolidatedLength, "AGGREGATION_MAX_CONSOLIDATED_LENGTH")
	setInt(&cfg.Aggregation.MaxQuestions, "AGGREGATION_MAX_QUESTIONS")
	setFloat(&cfg.Aggregation.CommitDelaySeconds, "AGGREGATION_COMMIT_DELAY_SECONDS")

	setBool(&cfg.English.EnforceEnglish, "ENGLISH_ENFORCE_ENGLISH")
	setFloat(&cfg.English.MinEnglishConfidence, "ENGLISH_MIN_ENGLISH_CONFIDENCE")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setFloat(dst *float64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

// Validate checks the configuration for internal consistency and reports
// every problem found.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr must not be empty"))
	}
	if !c.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is not one of debug, info, warn, error", c.Server.LogLevel))
	}

	if c.Upstream.WSURL == "" {
		if c.Upstream.Host == "" {
			errs = append(errs, errors.New("upstream.host must not be empty when upstream.ws_url is unset"))
		}
		if c.Upstream.Port <= 0 || c.Upstream.Port > 65535 {
			errs = append(errs, fmt.Errorf("upstream.port %d is out of range", c.Upstream.Port))
		}
	}
	if c.Upstream.SendLastNSegments <= 0 {
		errs = append(errs, fmt.Errorf("upstream.send_last_n_segments must be positive, got %d", c.Upstream.SendLastNSegments))
	}
	if !c.Upstream.AudioFormat.IsValid() {
		errs = append(errs, fmt.Errorf("upstream.audio_format %q is not one of float32, int16", c.Upstream.AudioFormat))
	}

	if !c.Audio.InputMode.IsValid() {
		errs = append(errs, fmt.Errorf("audio.input_mode %q is not one of microphone, file", c.Audio.InputMode))
	}
	if c.Audio.InputMode == InputFile && c.Audio.InputFile == "" {
		errs = append(errs, errors.New("audio.input_file is required when audio.input_mode is file"))
	}
	if c.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be positive, got %d", c.Audio.SampleRate))
	}
	if c.Audio.Channels != 1 && c.Audio.Channels != 2 {
		errs = append(errs, fmt.Errorf("audio.channels must be 1 or 2, got %d", c.Audio.Channels))
	}
	if c.Audio.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.chunk_size must be positive, got %d", c.Audio.ChunkSize))
	}

	if c.Aggregation.MaxUnconsolidatedSegments <= 0 {
		errs = append(errs, fmt.Errorf("aggregation.max_unconsolidated_segments must be positive, got %d", c.Aggregation.MaxUnconsolidatedSegments))
	}
	if c.Aggregation.MaxConsolidatedLength <= 0 {
		errs = append(errs, fmt.Errorf("aggregation.max_consolidated_length must be positive, got %d", c.Aggregation.MaxConsolidatedLength))
	}
	if c.Aggregation.MaxQuestions <= 0 {
		errs = append(errs, fmt.Errorf("aggregation.max_questions must be positive, got %d", c.Aggregation.MaxQuestions))
	}
	if c.Aggregation.CommitDelaySeconds < 0 {
		errs = append(errs, fmt.Errorf("aggregation.commit_delay_seconds must not be negative, got %v", c.Aggregation.CommitDelaySeconds))
	}

	if c.English.MinEnglishConfidence < 0 || c.English.MinEnglishConfidence > 1 {
		errs = append(errs, fmt.Errorf("english.min_english_confidence must be in [0, 1], got %v", c.English.MinEnglishConfidence))
	}

	return errors.Join(errs...)
}

// SlogLevel maps the configured log level onto the slog level scale.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
