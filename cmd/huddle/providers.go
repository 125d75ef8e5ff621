package main

import (
	"context"
	"errors"
	"log/slog"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/huddle/internal/config"
	"github.com/MrWong99/huddle/internal/observe"
	"github.com/MrWong99/huddle/internal/resilience"
	"github.com/MrWong99/huddle/internal/synth"
	"github.com/MrWong99/huddle/internal/transcribe"
	"github.com/MrWong99/huddle/pkg/provider/llm"
	"github.com/MrWong99/huddle/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/huddle/pkg/provider/llm/openai"
	"github.com/MrWong99/huddle/pkg/provider/stt"
	"github.com/MrWong99/huddle/pkg/provider/stt/deepgram"
	"github.com/MrWong99/huddle/pkg/provider/stt/googlespeech"
	oastt "github.com/MrWong99/huddle/pkg/provider/stt/openai"
	"github.com/MrWong99/huddle/pkg/provider/stt/whisper"
	"github.com/MrWong99/huddle/pkg/provider/tts"
	"github.com/MrWong99/huddle/pkg/provider/tts/coqui"
	"github.com/MrWong99/huddle/pkg/provider/tts/elevenlabs"
	oatts "github.com/MrWong99/huddle/pkg/provider/tts/openai"
)

// registerBuiltinProviders wires every provider implementation that ships
// with huddle into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ─────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(e config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if e.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(e.BaseURL))
		}
		if config.OptBool(e.Options, "legacy_max_tokens") {
			opts = append(opts, oallm.WithLegacyMaxTokens())
		}
		return oallm.New(e.APIKey, e.Model, opts...)
	})

	// "openai" goes through the native client above; any-llm serves the rest.
	for _, backend := range anyllm.Backends() {
		if backend == "openai" {
			continue
		}
		reg.RegisterLLM(backend, func(e config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if e.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(e.APIKey))
			}
			if e.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(e.BaseURL))
			}
			return anyllm.New(backend, e.Model, opts...)
		})
	}

	// ── STT ─────────────────────────────────────────────────────────────────

	reg.RegisterSTT("openai", func(e config.ProviderEntry) (stt.Provider, error) {
		var opts []oastt.Option
		if e.BaseURL != "" {
			opts = append(opts, oastt.WithBaseURL(e.BaseURL))
		}
		return oastt.New(e.APIKey, e.Model, opts...)
	})

	reg.RegisterSTT("googlespeech", func(e config.ProviderEntry) (stt.Provider, error) {
		return googlespeech.New(googlespeech.Config{
			ProjectID:       config.OptString(e.Options, "project_id"),
			CredentialsJSON: config.OptString(e.Options, "credentials_json"),
			Location:        config.OptString(e.Options, "location"),
			Model:           e.Model,
			Language:        config.OptString(e.Options, "language"),
		})
	})

	reg.RegisterSTT("deepgram", func(e config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if e.Model != "" {
			opts = append(opts, deepgram.WithModel(e.Model))
		}
		if lang := config.OptString(e.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		return deepgram.New(e.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(e config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if e.Model != "" {
			opts = append(opts, whisper.WithModel(e.Model))
		}
		if lang := config.OptString(e.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(e.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(e config.ProviderEntry) (stt.Provider, error) {
		modelPath := e.Model
		if modelPath == "" {
			modelPath = config.OptString(e.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := config.OptString(e.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		if n := config.OptInt(e.Options, "concurrency"); n > 0 {
			opts = append(opts, whisper.WithNativeConcurrency(n))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	// ── TTS ─────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(e config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if e.Model != "" {
			opts = append(opts, elevenlabs.WithModel(e.Model))
		}
		if f := config.OptString(e.Options, "output_format"); f != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(f))
		}
		if v := config.OptString(e.Options, "voice"); v != "" {
			opts = append(opts, elevenlabs.WithDefaultVoice(v))
		}
		if e.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(e.BaseURL))
		}
		return elevenlabs.New(e.APIKey, opts...)
	})

	reg.RegisterTTS("openai", func(e config.ProviderEntry) (tts.Provider, error) {
		var opts []oatts.Option
		if e.BaseURL != "" {
			opts = append(opts, oatts.WithBaseURL(e.BaseURL))
		}
		if v := config.OptString(e.Options, "voice"); v != "" {
			opts = append(opts, oatts.WithDefaultVoice(v))
		}
		return oatts.New(e.APIKey, e.Model, opts...)
	})

	reg.RegisterTTS("coqui", func(e config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := config.OptString(e.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if v := config.OptString(e.Options, "voice"); v != "" {
			opts = append(opts, coqui.WithDefaultSpeaker(v))
		}
		return coqui.New(e.BaseURL, opts...)
	})

	for kind, names := range reg.Names() {
		slog.Debug("registered providers", "kind", kind, "names", names)
	}
}

// fallbackConfig counts every provider attempt by outcome and every failed
// attempt as a provider error.
func fallbackConfig(m *observe.Metrics, kind string) resilience.FallbackConfig {
	return resilience.FallbackConfig{
		OnFailure: func(provider string, err error) {
			m.RecordProviderRequest(context.Background(), provider, kind, "error")
			m.RecordProviderError(context.Background(), provider, kind)
			slog.Warn("provider attempt failed", "kind", kind, "provider", provider, "err", err)
		},
		OnSuccess: func(provider string) {
			m.RecordProviderRequest(context.Background(), provider, kind, "ok")
		},
	}
}

// buildTranscriber assembles the local model and the cloud fallback chain.
// A local model that fails to load is reported once and skipped.
func buildTranscriber(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (*transcribe.Gateway, error) {
	opts := []transcribe.Option{
		transcribe.WithMetrics(m),
		transcribe.WithLocalTimeout(cfg.Timeouts.LocalTranscribe),
	}

	if local := cfg.Providers.LocalSTT; local.Name != "" {
		opts = append(opts, transcribe.WithLocal(local.Name, func() (stt.Provider, error) {
			return reg.CreateSTT(local)
		}))
	}

	var group *resilience.FallbackGroup[stt.Provider]
	for _, e := range cfg.Providers.CloudSTT() {
		p, err := reg.CreateSTT(e)
		if err != nil {
			return nil, err
		}
		if group == nil {
			group = resilience.NewFallbackGroup(p, e.Name, fallbackConfig(m, "stt"))
		} else {
			group.AddFallback(e.Name, p)
		}
		slog.Info("provider created", "kind", "stt", "name", e.Name, "model", e.Model)
	}
	if group != nil {
		opts = append(opts, transcribe.WithCloud(group))
	}
	if group == nil && cfg.Providers.LocalSTT.Name == "" {
		return nil, errors.New("no speech-to-text provider configured")
	}
	return transcribe.New(opts...), nil
}

// buildSynthesizer returns nil when no TTS provider is configured; replies
// then go out as text.
func buildSynthesizer(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (*synth.Gateway, error) {
	var group *resilience.FallbackGroup[tts.Provider]
	for _, e := range cfg.Providers.TTSChain() {
		p, err := reg.CreateTTS(e)
		if err != nil {
			return nil, err
		}
		if group == nil {
			group = resilience.NewFallbackGroup(p, e.Name, fallbackConfig(m, "tts"))
		} else {
			group.AddFallback(e.Name, p)
		}
		slog.Info("provider created", "kind", "tts", "name", e.Name, "model", e.Model)
	}
	if group == nil {
		return nil, nil
	}
	return synth.New(group, synth.WithMaxRunes(cfg.Calls.MaxReplyRunes)), nil
}

// buildGenerator chains the configured LLMs in order.
func buildGenerator(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (llm.Provider, error) {
	var chain *resilience.LLMFallback
	for _, e := range cfg.Providers.LLMChain() {
		p, err := reg.CreateLLM(e)
		if err != nil {
			return nil, err
		}
		if chain == nil {
			chain = resilience.NewLLMFallback(p, e.Name, fallbackConfig(m, "llm"))
		} else {
			chain.AddFallback(e.Name, p)
		}
		slog.Info("provider created", "kind", "llm", "name", e.Name, "model", e.Model)
	}
	if chain == nil {
		return nil, errors.New("no llm provider configured")
	}
	return chain, nil
}
