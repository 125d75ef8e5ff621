// Package schedule runs delayed callbacks keyed by chat.
//
// Every timer has a key (normally a chat ID) and a name. Scheduling a timer
// under an existing key and name replaces it. Timers can be cancelled one at
// a time or per key, and [Scheduler.Close] cancels everything and waits for
// callbacks that are already running.
package schedule

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrClosed is returned by [Scheduler.Schedule] after [Scheduler.Close].
var ErrClosed = errors.New("schedule: scheduler closed")

type timer struct {
	t        *time.Timer
	deadline time.Time
}

// Option is a functional option for [New].
type Option func(*Scheduler)

// WithLogger sets the logger. Default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// Scheduler owns a set of keyed timers. It is safe for concurrent use.
type Scheduler struct {
	log *slog.Logger

	// ctx is handed to callbacks and cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	timers  map[string]map[string]*timer
	running sync.WaitGroup
	closed  bool
}

// New returns an empty Scheduler.
func New(opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		log:    slog.Default(),
		ctx:    ctx,
		cancel: cancel,
		timers: make(map[string]map[string]*timer),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Schedule runs fn after d under key and name, replacing any pending timer
// with the same key and name. fn receives a context that is cancelled when
// the scheduler closes.
func (s *Scheduler) Schedule(key, name string, d time.Duration, fn func(ctx context.Context)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	byName := s.timers[key]
	if byName == nil {
		byName = make(map[string]*timer)
		s.timers[key] = byName
	}
	if old := byName[name]; old != nil {
		old.t.Stop()
	}

	tm := &timer{deadline: time.Now().Add(d)}
	tm.t = time.AfterFunc(d, func() { s.fire(key, name, tm, fn) })
	byName[name] = tm
	return nil
}

func (s *Scheduler) fire(key, name string, tm *timer, fn func(context.Context)) {
	s.mu.Lock()
	if s.closed || s.timers[key][name] != tm {
		// Cancelled or replaced after the timer already fired.
		s.mu.Unlock()
		return
	}
	s.removeLocked(key, name)
	s.running.Add(1)
	s.mu.Unlock()

	defer s.running.Done()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("schedule: timer callback panicked", "key", key, "name", name, "panic", r)
		}
	}()
	fn(s.ctx)
}

func (s *Scheduler) removeLocked(key, name string) {
	byName := s.timers[key]
	delete(byName, name)
	if len(byName) == 0 {
		delete(s.timers, key)
	}
}

// Cancel stops the timer under key and name. It reports whether a pending
// timer was stopped. A callback that already started is not interrupted.
func (s *Scheduler) Cancel(key, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	tm := s.timers[key][name]
	if tm == nil {
		return false
	}
	tm.t.Stop()
	s.removeLocked(key, name)
	return true
}

// CancelAll stops every pending timer under key and returns how many there
// were.
func (s *Scheduler) CancelAll(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	byName := s.timers[key]
	for _, tm := range byName {
		tm.t.Stop()
	}
	delete(s.timers, key)
	return len(byName)
}

// Pending reports whether a timer is waiting under key and name.
func (s *Scheduler) Pending(key, name string) bool {
	_, ok := s.Deadline(key, name)
	return ok
}

// Deadline returns when the timer under key and name is due to fire.
func (s *Scheduler) Deadline(key, name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tm := s.timers[key][name]
	if tm == nil {
		return time.Time{}, false
	}
	return tm.deadline, true
}

// Len returns the number of pending timers.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, byName := range s.timers {
		n += len(byName)
	}
	return n
}

// Close cancels every pending timer, cancels the context of running
// callbacks and waits for them to return or for ctx to be done.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		for _, byName := range s.timers {
			for _, tm := range byName {
				tm.t.Stop()
			}
		}
		clear(s.timers)
		s.cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
