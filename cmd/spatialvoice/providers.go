package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/spatialvoice/internal/app"
	"github.com/MrWong99/spatialvoice/internal/config"
	"github.com/MrWong99/spatialvoice/internal/resilience"
	"github.com/MrWong99/spatialvoice/pkg/provider/llm"
	"github.com/MrWong99/spatialvoice/pkg/provider/llm/anthropic"
	"github.com/MrWong99/spatialvoice/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/spatialvoice/pkg/provider/llm/openai"
	"github.com/MrWong99/spatialvoice/pkg/provider/stt"
	"github.com/MrWong99/spatialvoice/pkg/provider/stt/deepgram"
	oastt "github.com/MrWong99/spatialvoice/pkg/provider/stt/openai"
	"github.com/MrWong99/spatialvoice/pkg/provider/stt/whisper"
)

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages. readTimeout is the idle
// limit for streaming LLM responses.
func registerBuiltinProviders(reg *config.Registry, readTimeout time.Duration) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper_api", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []oastt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oastt.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, oastt.WithModel(entry.Model))
		}
		if lang := entry.OptionString("language"); lang != "" {
			opts = append(opts, oastt.WithLanguage(lang))
		}
		return oastt.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper_local", func(entry config.ProviderEntry) (stt.Provider, error) {
		return whisper.New(entry.BaseURL)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := entry.OptionString("language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("anthropic", func(entry config.ProviderEntry) (llm.Provider, error) {
		opts := []anthropic.Option{
			anthropic.WithMaxTokens(entry.OptionInt("max_tokens", anthropic.DefaultMaxTokens)),
			anthropic.WithReadTimeout(readTimeout),
		}
		if entry.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(entry.BaseURL))
		}
		return anthropic.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		opts := []oallm.Option{oallm.WithTimeout(readTimeout)}
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org := entry.OptionString("organization"); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	// gemini, deepseek, mistral, groq, llamacpp, llamafile all share the same
	// pattern: optional APIKey + optional BaseURL.
	for _, providerName := range []string{"gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.NewOllama(entry.Model, opts...)
	})

	for _, kind := range []string{"stt", "llm"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// buildProviders instantiates the providers named in cfg using the registry.
// Configured fallbacks are chained behind the primary with one circuit
// breaker per entry. An unknown or failing primary is fatal; a failing
// fallback is skipped with a warning.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{
		STTName: cfg.Providers.STT.Name,
		LLMName: cfg.Providers.LLM.Name,
	}
	fbCfg := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, to resilience.State) {
				slog.Warn("provider circuit changed state", "provider", name, "state", to.String())
			},
		},
	}

	// ── STT ───────────────────────────────────────────────────────────────────
	primarySTT, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name)
	ps.STT = primarySTT
	if len(cfg.Providers.STTFallbacks) > 0 {
		fb := resilience.NewSTTFallback(primarySTT, cfg.Providers.STT.Name, fbCfg)
		for _, entry := range cfg.Providers.STTFallbacks {
			p, err := reg.CreateSTT(entry)
			if err != nil {
				slog.Warn("skipping stt fallback", "name", entry.Name, "err", err)
				continue
			}
			fb.AddFallback(entry.Name, p)
			slog.Info("provider created", "kind", "stt", "name", entry.Name, "role", "fallback")
		}
		ps.STT = fb
	}

	// ── LLM ───────────────────────────────────────────────────────────────────
	primaryLLM, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name)
	ps.LLM = primaryLLM
	if len(cfg.Providers.LLMFallbacks) > 0 {
		fb := resilience.NewLLMFallback(primaryLLM, cfg.Providers.LLM.Name, fbCfg)
		for _, entry := range cfg.Providers.LLMFallbacks {
			p, err := reg.CreateLLM(entry)
			if err != nil {
				slog.Warn("skipping llm fallback", "name", entry.Name, "err", err)
				continue
			}
			fb.AddFallback(entry.Name, p)
			slog.Info("provider created", "kind", "llm", "name", entry.Name, "role", "fallback")
		}
		ps.LLM = fb
	}

	return ps, nil
}

// isNotRegistered reports whether err comes from an unknown provider name.
func isNotRegistered(err error) bool {
	return errors.Is(err, config.ErrProviderNotRegistered)
}
