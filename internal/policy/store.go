package policy

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
)

// Document is the whole persisted policy state: the defaults plus every
// chat-specific override.
type Document struct {
	Defaults Config            `yaml:"defaults"`
	Chats    map[string]Config `yaml:"chats"`
}

// Clone returns a deep copy of d.
func (d Document) Clone() Document {
	out := Document{Defaults: d.Defaults, Chats: make(map[string]Config, len(d.Chats))}
	maps.Copy(out.Chats, d.Chats)
	for id, c := range out.Chats {
		if c.QuietHours != nil {
			q := *c.QuietHours
			c.QuietHours = &q
			out.Chats[id] = c
		}
	}
	if d.Defaults.QuietHours != nil {
		q := *d.Defaults.QuietHours
		out.Defaults.QuietHours = &q
	}
	return out
}

// Store persists the policy [Document]. The document is always read and
// written whole.
type Store interface {
	Load(ctx context.Context) (Document, error)
	Save(ctx context.Context, doc Document) error
}

// MemoryStore is an in-process [Store]. It is the default when no
// persistence is configured, and handy in tests.
type MemoryStore struct {
	mu  sync.Mutex
	doc Document
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns a MemoryStore holding doc.
func NewMemoryStore(doc Document) *MemoryStore {
	return &MemoryStore{doc: doc.Clone()}
}

// Load implements [Store].
func (m *MemoryStore) Load(context.Context) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doc.Clone(), nil
}

// Save implements [Store].
func (m *MemoryStore) Save(_ context.Context, doc Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doc = doc.Clone()
	return nil
}

// Settings is a read-through cache of the policy document in front of a
// [Store]. Reads never touch the store; writes go to the store first and
// are only cached once persisted.
//
// All methods are safe for concurrent use.
type Settings struct {
	store    Store
	fallback Config

	mu  sync.RWMutex
	doc Document
}

// NewSettings returns Settings backed by store. fallback is used as the
// defaults until [Settings.Load] succeeds or when the stored document has
// none.
func NewSettings(store Store, fallback Config) *Settings {
	fallback = fallback.Normalize()
	return &Settings{
		store:    store,
		fallback: fallback,
		doc:      Document{Defaults: fallback, Chats: map[string]Config{}},
	}
}

// Load reads the document from the store and replaces the cache.
func (s *Settings) Load(ctx context.Context) error {
	doc, err := s.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("policy: load: %w", err)
	}
	s.Replace(doc)
	return nil
}

// Replace swaps the cached document, e.g. after the backing file changed.
// Invalid chat entries are dropped with a warning.
func (s *Settings) Replace(doc Document) {
	doc = doc.Clone()
	if doc.Defaults == (Config{}) {
		doc.Defaults = s.fallback
	}
	doc.Defaults = doc.Defaults.Normalize()
	for id, c := range doc.Chats {
		c = c.Normalize()
		if err := c.Validate(); err != nil {
			slog.Warn("policy: ignoring invalid chat config", "chat_id", id, "err", err)
			delete(doc.Chats, id)
			continue
		}
		doc.Chats[id] = c
	}
	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()
}

// For returns the effective configuration of chatID.
func (s *Settings) For(chatID string) Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.doc.Chats[chatID]; ok {
		return c
	}
	return s.doc.Defaults
}

// Set validates cfg, persists it as chatID's override and updates the cache.
func (s *Settings) Set(ctx context.Context, chatID string, cfg Config) error {
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("policy: chat %q: %w", chatID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.doc.Clone()
	next.Chats[chatID] = cfg
	if err := s.store.Save(ctx, next); err != nil {
		return fmt.Errorf("policy: save: %w", err)
	}
	s.doc = next
	return nil
}

// Update applies fn to chatID's effective config and persists the result.
func (s *Settings) Update(ctx context.Context, chatID string, fn func(*Config)) (Config, error) {
	cfg := s.For(chatID)
	fn(&cfg)
	if err := s.Set(ctx, chatID, cfg); err != nil {
		return Config{}, err
	}
	return s.For(chatID), nil
}

// Snapshot returns a copy of the cached document.
func (s *Settings) Snapshot() Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Clone()
}

// Ping checks that the backing store is reachable.
func (s *Settings) Ping(ctx context.Context) error {
	_, err := s.store.Load(ctx)
	return err
}
