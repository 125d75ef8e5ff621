package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/samber/do/v2"

	"github.com/MrWong99/huddle/internal/callctl"
	"github.com/MrWong99/huddle/internal/codec"
	"github.com/MrWong99/huddle/internal/config"
	"github.com/MrWong99/huddle/internal/copresence"
	"github.com/MrWong99/huddle/internal/discord"
	"github.com/MrWong99/huddle/internal/observe"
	"github.com/MrWong99/huddle/internal/policy"
	"github.com/MrWong99/huddle/internal/policy/postgres"
	"github.com/MrWong99/huddle/internal/policy/yamlstore"
	"github.com/MrWong99/huddle/internal/synth"
	"github.com/MrWong99/huddle/internal/transcribe"
	"github.com/MrWong99/huddle/internal/turn"
	"github.com/MrWong99/huddle/pkg/provider/llm"
)

// setupDI registers every component constructor. Nothing is built until it
// is first invoked.
func setupDI(ctx context.Context, cfg *config.Config, metrics *observe.Metrics) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	do.ProvideValue(injector, metrics)

	do.Provide(injector, func(do.Injector) (*config.Registry, error) {
		reg := config.NewRegistry()
		registerBuiltinProviders(reg)
		return reg, nil
	})

	registerProviders(injector)
	registerPolicy(ctx, injector)
	registerCalls(ctx, injector)

	return injector
}

// ── Speech and language providers ───────────────────────────────────────────

func registerProviders(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*transcribe.Gateway, error) {
		return buildTranscriber(do.MustInvoke[*config.Config](i), do.MustInvoke[*config.Registry](i), do.MustInvoke[*observe.Metrics](i))
	})
	do.Provide(injector, func(i do.Injector) (*synth.Gateway, error) {
		return buildSynthesizer(do.MustInvoke[*config.Config](i), do.MustInvoke[*config.Registry](i), do.MustInvoke[*observe.Metrics](i))
	})
	do.Provide(injector, func(i do.Injector) (llm.Provider, error) {
		return buildGenerator(do.MustInvoke[*config.Config](i), do.MustInvoke[*config.Registry](i), do.MustInvoke[*observe.Metrics](i))
	})
	do.Provide(injector, func(i do.Injector) (*codec.Bridge, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return codec.New(codec.WithFFmpegPath(cfg.Calls.FFmpegPath)), nil
	})
}

// ── Policy ──────────────────────────────────────────────────────────────────

func registerPolicy(ctx context.Context, injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (policy.Store, error) {
		cfg := do.MustInvoke[*config.Config](i)
		switch cfg.Policy.Store {
		case config.PolicyStoreYAML:
			return yamlstore.New(cfg.Policy.Path)
		case config.PolicyStorePostgres:
			return postgres.New(ctx, cfg.Policy.PostgresDSN)
		default:
			return policy.NewMemoryStore(policy.Document{Defaults: cfg.Policy.Defaults}), nil
		}
	})

	do.Provide(injector, func(i do.Injector) (*policy.Settings, error) {
		cfg := do.MustInvoke[*config.Config](i)
		store, err := do.Invoke[policy.Store](i)
		if err != nil {
			return nil, err
		}
		settings := policy.NewSettings(store, cfg.Policy.Defaults)
		if err := settings.Load(ctx); err != nil {
			return nil, err
		}
		return settings, nil
	})

	do.Provide(injector, func(i do.Injector) (*policy.Engine, error) {
		cfg := do.MustInvoke[*config.Config](i)
		loc, err := cfg.Location()
		if err != nil {
			return nil, fmt.Errorf("calls.timezone: %w", err)
		}
		return policy.NewEngine(policy.WithLocation(loc), policy.WithCooldown(cfg.Calls.Cooldown)), nil
	})
}

// ── Discord and the engine ──────────────────────────────────────────────────

func registerCalls(ctx context.Context, injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*discord.Bot, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return discord.New(ctx, discord.Config{Token: cfg.Discord.Token, GuildID: cfg.Discord.GuildID})
	})

	do.Provide(injector, func(i do.Injector) (*copresence.Engine, error) {
		cfg := do.MustInvoke[*config.Config](i)
		bot := do.MustInvoke[*discord.Bot](i)
		metrics := do.MustInvoke[*observe.Metrics](i)

		transcriber, err := do.Invoke[*transcribe.Gateway](i)
		if err != nil {
			return nil, err
		}
		generator, err := do.Invoke[llm.Provider](i)
		if err != nil {
			return nil, err
		}
		synthesizer, err := do.Invoke[*synth.Gateway](i)
		if err != nil {
			return nil, err
		}
		settings, err := do.Invoke[*policy.Settings](i)
		if err != nil {
			return nil, err
		}
		gates, err := do.Invoke[*policy.Engine](i)
		if err != nil {
			return nil, err
		}

		name := cfg.Discord.BotName
		if name == "" {
			name = bot.Name()
		}
		t := cfg.Timeouts
		turnOpts := []turn.Option{
			turn.WithMessenger(bot.Messenger()),
			turn.WithHistory(bot.Messenger(), 0),
			turn.WithPersona(turn.Persona{Name: name, Aliases: cfg.Discord.Aliases}),
			turn.WithReplyChance(cfg.Calls.ReplyProbability),
			turn.WithNotice(turn.DefaultNotice, cfg.Calls.FailureNoticeThreshold),
			turn.WithTimeouts(turn.Timeouts{
				Convert:    t.Convert,
				Transcribe: t.Transcribe,
				Generate:   t.Generate,
				Synthesize: t.Synthesize,
				Stream:     t.Stream,
				Deliver:    t.Deliver,
			}),
		}
		// A nil gateway must not become a non-nil interface.
		if synthesizer != nil {
			turnOpts = append(turnOpts, turn.WithSynthesizer(synthesizer))
		}

		engine, err := copresence.New(copresence.Deps{
			Platform:    bot.Platform(),
			Policy:      gates,
			Settings:    settings,
			Codec:       do.MustInvoke[*codec.Bridge](i),
			Transcriber: transcriber,
			Generator:   generator,
		},
			copresence.WithQueueSize(cfg.Calls.QueueSize),
			copresence.WithAutoLeaveGrace(cfg.Calls.AutoLeaveGrace),
			copresence.WithMetrics(metrics),
			copresence.WithCallOptions(callctl.WithTimeouts(t.Join, t.Leave, t.Stream)),
			copresence.WithTurnOptions(turnOpts...),
		)
		if err != nil {
			return nil, err
		}
		bot.Observe(engine.ObserveParticipants)
		slog.Info("engine assembled", "bot_name", name, "tts", synthesizer != nil, "stt", transcriber.Providers())
		return engine, nil
	})
}
