// Package postgres persists the policy document in PostgreSQL.
//
// Every chat override is one row of chat_policies; the defaults are the row
// with an empty chat_id. Save replaces the whole document in one
// transaction.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/huddle/internal/policy"
)

var _ policy.Store = (*Store)(nil)

// defaultsKey is the chat_id of the defaults row.
const defaultsKey = ""

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS chat_policies (
		chat_id           TEXT PRIMARY KEY,
		proactive_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		min_participants  INTEGER NOT NULL DEFAULT 2 CHECK (min_participants >= 1),
		quiet_start       TEXT,
		quiet_end         TEXT,
		stt_enabled       BOOLEAN NOT NULL DEFAULT TRUE,
		stt_language      TEXT NOT NULL DEFAULT 'en',
		tts_enabled       BOOLEAN NOT NULL DEFAULT TRUE,
		tts_voice         TEXT NOT NULL DEFAULT '',
		tts_rate          TEXT NOT NULL DEFAULT '+0%',
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// Migrate creates the schema if it does not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, s := range migrationStatements {
		stmt := strings.TrimSpace(s)
		if stmt == "" {
			continue
		}
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Store is a PostgreSQL-backed [policy.Store].
type Store struct {
	pool *pgxpool.Pool
}

// New connects to dsn, verifies the connection and runs [Migrate].
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("policy postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("policy postgres: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("policy postgres: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() { s.pool.Close() }

// Ping checks database reachability.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// row mirrors one chat_policies row.
type row struct {
	ChatID           string
	ProactiveEnabled bool
	MinParticipants  int
	QuietStart       *string
	QuietEnd         *string
	STTEnabled       bool
	STTLanguage      string
	TTSEnabled       bool
	TTSVoice         string
	TTSRate          string
}

func toRow(chatID string, c policy.Config) row {
	r := row{
		ChatID:           chatID,
		ProactiveEnabled: c.ProactiveEnabled,
		MinParticipants:  c.MinParticipants,
		STTEnabled:       c.STTEnabled,
		STTLanguage:      c.STTLanguage,
		TTSEnabled:       c.TTSEnabled,
		TTSVoice:         c.TTSVoice,
		TTSRate:          c.TTSRate,
	}
	if c.QuietHours != nil {
		start, end := c.QuietHours.Start.String(), c.QuietHours.End.String()
		r.QuietStart, r.QuietEnd = &start, &end
	}
	return r
}

func (r row) config() (policy.Config, error) {
	c := policy.Config{
		ProactiveEnabled: r.ProactiveEnabled,
		MinParticipants:  r.MinParticipants,
		STTEnabled:       r.STTEnabled,
		STTLanguage:      r.STTLanguage,
		TTSEnabled:       r.TTSEnabled,
		TTSVoice:         r.TTSVoice,
		TTSRate:          r.TTSRate,
	}
	if r.QuietStart != nil && r.QuietEnd != nil {
		start, err := policy.ParseTimeOfDay(*r.QuietStart)
		if err != nil {
			return policy.Config{}, err
		}
		end, err := policy.ParseTimeOfDay(*r.QuietEnd)
		if err != nil {
			return policy.Config{}, err
		}
		c.QuietHours = &policy.QuietHours{Start: start, End: end}
	}
	return c, nil
}

// Load implements [policy.Store].
func (s *Store) Load(ctx context.Context) (policy.Document, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT chat_id, proactive_enabled, min_participants, quiet_start, quiet_end,
		       stt_enabled, stt_language, tts_enabled, tts_voice, tts_rate
		FROM chat_policies`)
	if err != nil {
		return policy.Document{}, fmt.Errorf("policy postgres: query: %w", err)
	}
	records, err := pgx.CollectRows(rows, pgx.RowToStructByPos[row])
	if err != nil {
		return policy.Document{}, fmt.Errorf("policy postgres: scan: %w", err)
	}

	doc := policy.Document{Chats: make(map[string]policy.Config, len(records))}
	for _, r := range records {
		c, err := r.config()
		if err != nil {
			return policy.Document{}, fmt.Errorf("policy postgres: chat %q: %w", r.ChatID, err)
		}
		if r.ChatID == defaultsKey {
			doc.Defaults = c
			continue
		}
		doc.Chats[r.ChatID] = c
	}
	return doc, nil
}

// Save implements [policy.Store].
func (s *Store) Save(ctx context.Context, doc policy.Document) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("policy postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	keep := make([]string, 0, len(doc.Chats)+1)
	batch := &pgx.Batch{}
	upsert := func(r row) {
		keep = append(keep, r.ChatID)
		batch.Queue(`
			INSERT INTO chat_policies (chat_id, proactive_enabled, min_participants, quiet_start, quiet_end,
			                           stt_enabled, stt_language, tts_enabled, tts_voice, tts_rate, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
			ON CONFLICT (chat_id) DO UPDATE SET
				proactive_enabled = EXCLUDED.proactive_enabled,
				min_participants  = EXCLUDED.min_participants,
				quiet_start       = EXCLUDED.quiet_start,
				quiet_end         = EXCLUDED.quiet_end,
				stt_enabled       = EXCLUDED.stt_enabled,
				stt_language      = EXCLUDED.stt_language,
				tts_enabled       = EXCLUDED.tts_enabled,
				tts_voice         = EXCLUDED.tts_voice,
				tts_rate          = EXCLUDED.tts_rate,
				updated_at        = NOW()`,
			r.ChatID, r.ProactiveEnabled, r.MinParticipants, r.QuietStart, r.QuietEnd,
			r.STTEnabled, r.STTLanguage, r.TTSEnabled, r.TTSVoice, r.TTSRate)
	}
	upsert(toRow(defaultsKey, doc.Defaults.Normalize()))
	for id, c := range doc.Chats {
		upsert(toRow(id, c.Normalize()))
	}
	batch.Queue(`DELETE FROM chat_policies WHERE NOT (chat_id = ANY($1))`, keep)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("policy postgres: write: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("policy postgres: commit: %w", err)
	}
	return nil
}
