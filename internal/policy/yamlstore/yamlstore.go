// Package yamlstore persists the policy document as a single YAML file.
//
// Writes replace the file atomically (temp file + rename in the same
// directory), so a concurrent reader or the hot-reload watcher never sees a
// partial document. Edits made by hand are picked up by [Store.Watch].
package yamlstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/huddle/internal/config"
	"github.com/MrWong99/huddle/internal/policy"
)

var _ policy.Store = (*Store)(nil)

// Store is a file-backed [policy.Store].
type Store struct {
	path string

	// mu serialises writers within this process.
	mu sync.Mutex
}

// New returns a Store for the document at path. The file does not have to
// exist yet; it is created by the first Save.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("yamlstore: path must not be empty")
	}
	return &Store{path: path}, nil
}

// Path returns the document location.
func (s *Store) Path() string { return s.path }

// Load implements [policy.Store]. A missing file yields an empty document.
func (s *Store) Load(ctx context.Context) (policy.Document, error) {
	if err := ctx.Err(); err != nil {
		return policy.Document{}, err
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return policy.Document{Chats: map[string]policy.Config{}}, nil
	}
	if err != nil {
		return policy.Document{}, fmt.Errorf("yamlstore: read %q: %w", s.path, err)
	}
	doc, err := Decode(bytes.NewReader(data))
	if err != nil {
		return policy.Document{}, fmt.Errorf("yamlstore: %q: %w", s.path, err)
	}
	return doc, nil
}

// Save implements [policy.Store].
func (s *Store) Save(ctx context.Context, doc policy.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("yamlstore: encode: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("yamlstore: create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("yamlstore: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("yamlstore: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("yamlstore: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("yamlstore: close: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("yamlstore: rename: %w", err)
	}
	return nil
}

// Watch polls the file and hands every successfully decoded change to
// settings. The returned watcher must be stopped by the caller.
func (s *Store) Watch(settings *policy.Settings, opts ...config.WatcherOption) (*config.Watcher[policy.Document], error) {
	if _, err := os.Stat(s.path); errors.Is(err, fs.ErrNotExist) {
		if err := s.Save(context.Background(), settings.Snapshot()); err != nil {
			return nil, err
		}
	}
	w, err := config.NewWatcher(s.path, Decode, func(_, doc policy.Document) {
		settings.Replace(doc)
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("yamlstore: watch: %w", err)
	}
	return w, nil
}

// Decode parses a policy document. Unknown keys are rejected.
func Decode(r io.Reader) (policy.Document, error) {
	var doc policy.Document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return policy.Document{}, fmt.Errorf("decode yaml: %w", err)
	}
	if doc.Chats == nil {
		doc.Chats = map[string]policy.Config{}
	}
	return doc, nil
}
