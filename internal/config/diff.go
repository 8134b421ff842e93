package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	NoiseSuppressionChanged bool
	NewNoiseSuppression     NoiseSuppression

	AllowedOriginsChanged bool
	NewAllowedOrigins     []string

	// RestartRequired lists top-level sections that changed in ways that only
	// take effect after a restart (e.g. "providers", "history").
	RestartRequired []string
}

// Changed reports whether d carries any change at all.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.NoiseSuppressionChanged || d.AllowedOriginsChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Audio.NoiseSuppression != new.Audio.NoiseSuppression {
		d.NoiseSuppressionChanged = true
		d.NewNoiseSuppression = new.Audio.NoiseSuppression
	}
	if !slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins) {
		d.AllowedOriginsChanged = true
		d.NewAllowedOrigins = slices.Clone(new.Server.AllowedOrigins)
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || !equalTLS(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	oa, na := old.Audio, new.Audio
	oa.NoiseSuppression, na.NoiseSuppression = "", ""
	if oa != na {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if !equalProviders(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Assistant != new.Assistant {
		d.RestartRequired = append(d.RestartRequired, "assistant")
	}
	if old.History != new.History {
		d.RestartRequired = append(d.RestartRequired, "history")
	}
	if old.Sessions != new.Sessions {
		d.RestartRequired = append(d.RestartRequired, "sessions")
	}
	if old.Jobs != new.Jobs {
		d.RestartRequired = append(d.RestartRequired, "jobs")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}

	return d
}

func equalTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalProviders(a, b ProvidersConfig) bool {
	return equalEntry(a.STT, b.STT) &&
		equalEntry(a.LLM, b.LLM) &&
		slices.EqualFunc(a.STTFallbacks, b.STTFallbacks, equalEntry) &&
		slices.EqualFunc(a.LLMFallbacks, b.LLMFallbacks, equalEntry)
}

// equalEntry compares option maps shallowly; nested maps count as changed.
func equalEntry(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k, av := range a.Options {
		bv, ok := b.Options[k]
		if !ok || !comparableEqual(av, bv) {
			return false
		}
	}
	return true
}

func comparableEqual(a, b any) bool {
	switch a.(type) {
	case string, int, int64, float64, bool, nil:
		return a == b
	}
	return false
}
