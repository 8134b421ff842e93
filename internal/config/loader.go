package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"whisper_api", "whisper_local", "deepgram"},
	"llm": {"anthropic", "openai", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// Default returns a Config populated with the built-in defaults. [LoadFromReader]
// decodes on top of it, so keys missing from the YAML keep these values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   LogInfo,
		},
		Audio: AudioConfig{
			ChunkSeconds:     3,
			SampleRate:       16000,
			BytesPerSample:   2,
			NoiseSuppression: SuppressionClient,
		},
		Assistant: AssistantConfig{
			HistoryLimit: 50,
			ReadTimeout:  60 * time.Second,
		},
		History: HistoryConfig{
			Backend: HistoryMemory,
			TTL:     24 * time.Hour,
		},
		Sessions: SessionsConfig{
			MaxSessions: 1024,
			IdleTTL:     2 * time.Hour,
		},
		Jobs: JobsConfig{
			Attempts:    3,
			BaseBackoff: time.Second,
		},
		Telemetry: TelemetryConfig{
			ServiceName:      "spatialvoice",
			TraceSampleRatio: 1,
		},
	}
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// ${VAR} references are replaced with the environment value of VAR before
// decoding; unset variables expand to the empty string.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(ExpandEnv(data)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnv replaces every ${VAR} in data with the value of the environment
// variable VAR. Bare $VAR is left alone so DSNs and secrets containing '$'
// survive.
func ExpandEnv(data []byte) []byte {
	return envRef.ReplaceAllFunc(data, func(m []byte) []byte {
		name := envRef.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Audio
	if cfg.Audio.ChunkSeconds <= 0 {
		errs = append(errs, fmt.Errorf("audio.chunk_seconds must be positive, got %d", cfg.Audio.ChunkSeconds))
	}
	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be positive, got %d", cfg.Audio.SampleRate))
	}
	if cfg.Audio.BytesPerSample <= 0 {
		errs = append(errs, fmt.Errorf("audio.bytes_per_sample must be positive, got %d", cfg.Audio.BytesPerSample))
	}
	if !cfg.Audio.NoiseSuppression.IsValid() {
		errs = append(errs, fmt.Errorf("audio.noise_suppression %q is invalid; valid values: off, client, server, both", cfg.Audio.NoiseSuppression))
	}

	// Providers
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	}
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	for i, e := range cfg.Providers.STTFallbacks {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallbacks[%d].name is required", i))
		}
		validateProviderName("stt", e.Name)
	}
	for i, e := range cfg.Providers.LLMFallbacks {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
		}
		validateProviderName("llm", e.Name)
	}

	// Assistant
	if cfg.Assistant.HistoryLimit <= 0 {
		errs = append(errs, fmt.Errorf("assistant.history_limit must be positive, got %d", cfg.Assistant.HistoryLimit))
	}
	if cfg.Assistant.ReadTimeout < 0 {
		errs = append(errs, fmt.Errorf("assistant.read_timeout must not be negative, got %s", cfg.Assistant.ReadTimeout))
	}

	// History
	switch cfg.History.Backend {
	case HistoryMemory:
	case HistoryBadger:
		if cfg.History.Path == "" {
			errs = append(errs, errors.New("history.path is required when backend is badger"))
		}
	case HistoryPostgres:
		if cfg.History.PostgresDSN == "" {
			errs = append(errs, errors.New("history.postgres_dsn is required when backend is postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("history.backend %q is invalid; valid values: memory, badger, postgres", cfg.History.Backend))
	}
	if cfg.History.TTL <= 0 {
		errs = append(errs, fmt.Errorf("history.ttl must be positive, got %s", cfg.History.TTL))
	}

	// Sessions
	if cfg.Sessions.MaxSessions < 0 {
		errs = append(errs, fmt.Errorf("sessions.max_sessions must not be negative, got %d", cfg.Sessions.MaxSessions))
	}
	if cfg.Sessions.IdleTTL < 0 {
		errs = append(errs, fmt.Errorf("sessions.idle_ttl must not be negative, got %s", cfg.Sessions.IdleTTL))
	}
	if cfg.Sessions.MaxSessions == 0 && cfg.Sessions.IdleTTL == 0 {
		slog.Warn("sessions.max_sessions and sessions.idle_ttl are both 0; sessions are never evicted")
	}

	// Jobs
	if cfg.Jobs.Attempts < 1 {
		errs = append(errs, fmt.Errorf("jobs.attempts must be at least 1, got %d", cfg.Jobs.Attempts))
	}
	if cfg.Jobs.BaseBackoff < 0 {
		errs = append(errs, fmt.Errorf("jobs.base_backoff must not be negative, got %s", cfg.Jobs.BaseBackoff))
	}

	// Telemetry
	if r := cfg.Telemetry.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.trace_sample_ratio must be within [0, 1], got %g", r))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
