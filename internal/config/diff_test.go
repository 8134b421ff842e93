package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/spatialvoice/internal/config"
)

func baseConfig() *config.Config {
	cfg := config.Default()
	cfg.Providers.STT = config.ProviderEntry{Name: "deepgram", Options: map[string]any{"language": "en"}}
	cfg.Providers.LLM = config.ProviderEntry{Name: "anthropic"}
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	d := config.Diff(baseConfig(), baseConfig())
	if d.Changed() {
		t.Errorf("expected no changes, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("log level needs no restart, got %v", d.RestartRequired)
	}
}

func TestDiff_NoiseSuppressionChanged(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Audio.NoiseSuppression = config.SuppressionServer

	d := config.Diff(old, new)
	if !d.NoiseSuppressionChanged || d.NewNoiseSuppression != config.SuppressionServer {
		t.Errorf("got %+v", d)
	}
	if slices.Contains(d.RestartRequired, "audio") {
		t.Error("noise suppression alone must not require an audio restart")
	}
}

func TestDiff_AllowedOriginsChanged(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Server.AllowedOrigins = []string{"example.com"}

	d := config.Diff(old, new)
	if !d.AllowedOriginsChanged {
		t.Fatal("expected AllowedOriginsChanged=true")
	}
	new.Server.AllowedOrigins[0] = "mutated"
	if d.NewAllowedOrigins[0] != "example.com" {
		t.Error("diff must not alias the new config's slice")
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		section string
	}{
		{"listen addr", func(c *config.Config) { c.Server.ListenAddr = ":1" }, "server"},
		{"tls", func(c *config.Config) { c.Server.TLS = &config.TLSConfig{CertFile: "a", KeyFile: "b"} }, "server"},
		{"chunk size", func(c *config.Config) { c.Audio.ChunkSeconds = 5 }, "audio"},
		{"stt model", func(c *config.Config) { c.Providers.STT.Model = "nova-3" }, "providers"},
		{"stt option", func(c *config.Config) { c.Providers.STT.Options["language"] = "de" }, "providers"},
		{"llm fallback", func(c *config.Config) {
			c.Providers.LLMFallbacks = []config.ProviderEntry{{Name: "ollama"}}
		}, "providers"},
		{"history limit", func(c *config.Config) { c.Assistant.HistoryLimit = 10 }, "assistant"},
		{"history backend", func(c *config.Config) { c.History.Backend = config.HistoryBadger }, "history"},
		{"sessions", func(c *config.Config) { c.Sessions.MaxSessions = 1 }, "sessions"},
		{"jobs", func(c *config.Config) { c.Jobs.Attempts = 9 }, "jobs"},
		{"telemetry", func(c *config.Config) { c.Telemetry.ServiceName = "x" }, "telemetry"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old, new := baseConfig(), baseConfig()
			tt.mutate(new)
			d := config.Diff(old, new)
			if !slices.Equal(d.RestartRequired, []string{tt.section}) {
				t.Errorf("RestartRequired = %v, want [%s]", d.RestartRequired, tt.section)
			}
			if !d.Changed() {
				t.Error("Changed() = false")
			}
		})
	}
}
