package callsession

import (
	"slices"
	"sync"
)

// entry guards one chat's session.
type entry struct {
	mu      sync.Mutex
	session Session
}

// Store owns the sessions of every chat. Each chat has its own lock, so
// updates to one chat never wait on another. Callers must not hold a session
// across a blocking call; re-read it instead.
//
// All methods are safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{entries: make(map[string]*entry)}
}

func (st *Store) lookup(chatID string, create bool) *entry {
	st.mu.Lock()
	defer st.mu.Unlock()
	e, ok := st.entries[chatID]
	if !ok && create {
		e = &entry{session: Session{ChatID: chatID}}
		st.entries[chatID] = e
	}
	return e
}

// Get returns a copy of the chat's session, or the default idle record when
// the chat has never been seen. Get never creates an entry.
func (st *Store) Get(chatID string) Session {
	e := st.lookup(chatID, false)
	if e == nil {
		return Session{ChatID: chatID}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

// Update runs fn on a working copy of the chat's session under the chat's
// lock. The copy is committed only when fn returns nil; otherwise the
// stored session is left untouched and fn's error is returned. The committed
// (or unchanged) session is returned either way.
//
// fn must not block on I/O.
func (st *Store) Update(chatID string, fn func(*Session) error) (Session, error) {
	e := st.lookup(chatID, true)
	e.mu.Lock()
	defer e.mu.Unlock()

	work := e.session
	if err := fn(&work); err != nil {
		return e.session, err
	}
	work.ChatID = chatID
	work.validate()
	e.session = work
	return work, nil
}

// ChatIDs returns the IDs of all known chats in sorted order.
func (st *Store) ChatIDs() []string {
	st.mu.Lock()
	ids := make([]string, 0, len(st.entries))
	for id := range st.entries {
		ids = append(ids, id)
	}
	st.mu.Unlock()
	slices.Sort(ids)
	return ids
}

// Joined returns copies of every session currently in StateJoined.
func (st *Store) Joined() []Session {
	var out []Session
	for _, id := range st.ChatIDs() {
		if s := st.Get(id); s.IsJoined() {
			out = append(out, s)
		}
	}
	return out
}
