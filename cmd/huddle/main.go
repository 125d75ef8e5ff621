// Command huddle runs the voice-call co-presence bot: it sits in Discord
// voice channels, listens, and occasionally chimes in.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/do/v2"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/huddle/internal/config"
	"github.com/MrWong99/huddle/internal/copresence"
	"github.com/MrWong99/huddle/internal/discord"
	"github.com/MrWong99/huddle/internal/health"
	"github.com/MrWong99/huddle/internal/observe"
	"github.com/MrWong99/huddle/internal/policy"
	"github.com/MrWong99/huddle/internal/policy/postgres"
	"github.com/MrWong99/huddle/internal/policy/yamlstore"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// shutdownTimeout bounds leaving calls and flushing telemetry on exit.
const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ─────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Configuration ─────────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "huddle: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "huddle: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(cfg.Server.LogFormat, level))

	slog.Info("huddle starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"policy_store", cfg.Policy.Store,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: version,
		Prometheus:     cfg.Observability.MetricsEnabled,
		SampleRatio:    cfg.Observability.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Dependency graph ──────────────────────────────────────────────────────
	injector := setupDI(ctx, cfg, metrics)

	bot, err := do.Invoke[*discord.Bot](injector)
	if err != nil {
		slog.Error("failed to connect to discord", "err", err)
		return 1
	}
	defer func() {
		if err := bot.Close(); err != nil {
			slog.Warn("discord bot close error", "err", err)
		}
	}()
	slog.Info("discord connected", "guild_id", bot.GuildID(), "user", bot.Name())

	engine, err := do.Invoke[*copresence.Engine](injector)
	if err != nil {
		slog.Error("failed to assemble engine", "err", err)
		return 1
	}

	store := do.MustInvoke[policy.Store](injector)
	settings := do.MustInvoke[*policy.Settings](injector)
	switch s := store.(type) {
	case *yamlstore.Store:
		w, err := s.Watch(settings, config.WithInterval(cfg.Policy.ReloadInterval))
		if err != nil {
			slog.Error("failed to watch policy file", "path", s.Path(), "err", err)
			return 1
		}
		defer w.Stop()
	case *postgres.Store:
		defer s.Close()
	}

	cw, err := config.WatchConfig(*configPath, func(old, new *config.Config) {
		applyReload(old, new, level, store, settings)
	}, config.WithInterval(cfg.Policy.ReloadInterval))
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer cw.Stop()
	}

	// ── Serve ─────────────────────────────────────────────────────────────────
	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           newMux(cfg, metrics, engine, bot, settings),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return bot.Run(gctx)
	})
	g.Go(func() error {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	slog.Info("huddle ready, press Ctrl+C to shut down")
	runErr := g.Wait()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutting down, leaving calls")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	code := 0
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		code = 1
	}
	if err := engine.Close(shutdownCtx); err != nil {
		slog.Error("engine shutdown error", "err", err)
		code = 1
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return code
}

// newMux builds the operations HTTP handler: probes, call status and,
// when enabled, Prometheus metrics.
func newMux(cfg *config.Config, metrics *observe.Metrics, engine *copresence.Engine, bot *discord.Bot, settings *policy.Settings) http.Handler {
	mux := http.NewServeMux()
	health.New([]health.Checker{
		{Name: "discord", Check: bot.Ready},
		{Name: "policy_store", Check: settings.Ping},
	}, health.WithCalls(engine)).Register(mux)
	if cfg.Observability.MetricsEnabled {
		mux.Handle("GET /metrics", promhttp.Handler())
	}
	return observe.Middleware(metrics)(mux)
}

// applyReload applies the parts of a changed config file that can change
// at runtime and reports the rest.
func applyReload(old, new *config.Config, level *slog.LevelVar, store policy.Store, settings *policy.Settings) {
	d := config.Diff(old, new)
	if !d.Changed() {
		return
	}
	if d.LogLevelChanged {
		level.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.PolicyDefaultsChanged {
		// Persistent stores own their defaults.
		if _, ok := store.(*policy.MemoryStore); ok {
			snap := settings.Snapshot()
			settings.Replace(policy.Document{Defaults: new.Policy.Defaults, Chats: snap.Chats})
			slog.Info("policy defaults reloaded")
		} else {
			slog.Warn("policy defaults changed in the config file; edit the policy store instead")
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart", "sections", d.RestartRequired)
	}
}

// ── Logger ──────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newLogger(format config.LogFormat, level slog.Leveler) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
