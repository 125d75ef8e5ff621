package main

import (
	"log/slog"
	"testing"

	"github.com/MrWong99/huddle/internal/config"
	"github.com/MrWong99/huddle/internal/policy"
)

func TestSlogLevel(t *testing.T) {
	t.Parallel()

	tests := map[config.LogLevel]slog.Level{
		config.LogDebug: slog.LevelDebug,
		config.LogInfo:  slog.LevelInfo,
		config.LogWarn:  slog.LevelWarn,
		config.LogError: slog.LevelError,
		"":              slog.LevelInfo,
	}
	for in, want := range tests {
		if got := slogLevel(in); got != want {
			t.Errorf("slogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func testConfigs() (*config.Config, *config.Config) {
	old := &config.Config{}
	config.ApplyDefaults(old)
	next := &config.Config{}
	config.ApplyDefaults(next)
	return old, next
}

func TestApplyReload_LogLevel(t *testing.T) {
	t.Parallel()

	old, next := testConfigs()
	next.Server.LogLevel = config.LogDebug

	level := new(slog.LevelVar)
	store := policy.NewMemoryStore(policy.Document{})
	applyReload(old, next, level, store, policy.NewSettings(store, policy.Defaults()))

	if level.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", level.Level())
	}
}

func TestApplyReload_PolicyDefaultsInMemory(t *testing.T) {
	t.Parallel()

	old, next := testConfigs()
	next.Policy.Defaults.ProactiveEnabled = !old.Policy.Defaults.ProactiveEnabled

	store := policy.NewMemoryStore(policy.Document{})
	settings := policy.NewSettings(store, old.Policy.Defaults)
	override := policy.Defaults()
	override.TTSEnabled = false
	if err := settings.Set(t.Context(), "vc-1", override); err != nil {
		t.Fatalf("Set: %v", err)
	}

	applyReload(old, next, new(slog.LevelVar), store, settings)

	if got := settings.For("vc-2").ProactiveEnabled; got != next.Policy.Defaults.ProactiveEnabled {
		t.Errorf("default ProactiveEnabled = %v, want %v", got, next.Policy.Defaults.ProactiveEnabled)
	}
	if settings.For("vc-1").TTSEnabled {
		t.Error("chat override lost on reload")
	}
}
