package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/huddle/internal/policy"
)

func TestRow_RoundTrip(t *testing.T) {
	t.Parallel()

	cfg := policy.Defaults()
	cfg.ProactiveEnabled = true
	cfg.QuietHours = &policy.QuietHours{Start: policy.MustTimeOfDay("22:15"), End: policy.MustTimeOfDay("07:00")}

	r := toRow("chat-1", cfg)
	if r.QuietStart == nil || *r.QuietStart != "22:15" {
		t.Fatalf("QuietStart = %v, want 22:15", r.QuietStart)
	}
	got, err := r.config()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if got.QuietHours == nil || *got.QuietHours != *cfg.QuietHours {
		t.Errorf("quiet hours = %v, want %v", got.QuietHours, cfg.QuietHours)
	}
	got.QuietHours, cfg.QuietHours = nil, nil
	if got != cfg {
		t.Errorf("config = %+v, want %+v", got, cfg)
	}
}

func TestRow_NoQuietHours(t *testing.T) {
	t.Parallel()

	r := toRow("c", policy.Defaults())
	if r.QuietStart != nil || r.QuietEnd != nil {
		t.Error("quiet columns should be NULL without quiet hours")
	}
	got, err := r.config()
	if err != nil || got.QuietHours != nil {
		t.Errorf("config = %+v, %v", got, err)
	}
}

func TestRow_CorruptQuietHours(t *testing.T) {
	t.Parallel()

	bad := "25:99"
	r := row{QuietStart: &bad, QuietEnd: &bad}
	if _, err := r.config(); err == nil {
		t.Fatal("expected parse error")
	}
}

// ── Integration ──────────────────────────────────────────────────────────────

// testDSN returns the test database DSN from the environment, or skips the
// test if HUDDLE_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("HUDDLE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("HUDDLE_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

func TestStore_SaveLoad(t *testing.T) {
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	defer pool.Close()
	if _, err := pool.Exec(ctx, `DROP TABLE IF EXISTS chat_policies`); err != nil {
		t.Fatalf("drop: %v", err)
	}

	s, err := New(ctx, dsn)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	a := policy.Defaults()
	a.ProactiveEnabled = true
	b := policy.Defaults()
	b.TTSRate = "+20%"
	if err := s.Save(ctx, policy.Document{Defaults: policy.Defaults(), Chats: map[string]policy.Config{"a": a, "b": b}}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(ctx, policy.Document{Defaults: policy.Defaults(), Chats: map[string]policy.Config{"a": a}}); err != nil {
		t.Fatalf("Save (second): %v", err)
	}

	doc, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(doc.Chats) != 1 || !doc.Chats["a"].ProactiveEnabled {
		t.Errorf("chats = %+v, want only a", doc.Chats)
	}
	if doc.Defaults != policy.Defaults() {
		t.Errorf("defaults = %+v", doc.Defaults)
	}
}
