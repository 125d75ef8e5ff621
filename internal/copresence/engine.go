// Package copresence is the entry point of the voice-call co-presence engine.
//
// An [Engine] owns the call controller, the speech-turn pipeline, one worker
// goroutine per joined chat and the auto-leave timers. The surrounding
// application drives it with explicit join and leave requests, captured
// audio and participant-count observations; everything else happens inside.
//
// Audio of one chat is handled strictly in arrival order by that chat's
// worker. Different chats never wait on each other. Leaving a call drops the
// chat's queued audio and cancels its timers; a pass that is already running
// notices the leave before it would stream and replies in text instead.
package copresence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/huddle/internal/callctl"
	"github.com/MrWong99/huddle/internal/callsession"
	"github.com/MrWong99/huddle/internal/observe"
	"github.com/MrWong99/huddle/internal/policy"
	"github.com/MrWong99/huddle/internal/schedule"
	"github.com/MrWong99/huddle/internal/turn"
	"github.com/MrWong99/huddle/pkg/audio"
	"github.com/MrWong99/huddle/pkg/provider/llm"
)

// Defaults.
const (
	DefaultQueueSize      = 16
	DefaultAutoLeaveGrace = 30 * time.Second
)

// timerAutoLeave names the auto-leave timer of a chat.
const timerAutoLeave = "auto_leave"

// ErrClosed is returned after [Engine.Close].
var ErrClosed = errors.New("copresence: engine closed")

// Deps are the collaborators the engine is built from.
type Deps struct {
	// Platform is the voice transport.
	Platform audio.Platform

	// Sessions is the call-session store. Nil creates an empty one.
	Sessions *callsession.Store

	// Policy decides auto-joins and reply cooldowns.
	Policy *policy.Engine

	// Settings supplies the per-chat configuration.
	Settings turn.PolicySource

	Codec       turn.Codec
	Transcriber turn.Transcriber
	Generator   llm.Provider
}

// Option is a functional option for [New].
type Option func(*Engine)

// WithQueueSize sets how many utterances a chat may have waiting. Audio
// beyond that is dropped. Default 16.
func WithQueueSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.queueSize = n
		}
	}
}

// WithAutoLeaveGrace sets how long a call may stay empty before the engine
// leaves it. Default 30s.
func WithAutoLeaveGrace(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.autoLeaveGrace = d
		}
	}
}

// WithTurnOptions passes options to the speech-turn pipeline.
func WithTurnOptions(opts ...turn.Option) Option {
	return func(e *Engine) { e.turnOpts = append(e.turnOpts, opts...) }
}

// WithCallOptions passes options to the call controller. Its audio and
// lifecycle hooks are owned by the engine and cannot be overridden.
func WithCallOptions(opts ...callctl.Option) Option {
	return func(e *Engine) { e.callOpts = append(e.callOpts, opts...) }
}

// WithMetrics sets the metrics sink of the engine, the controller and the
// pipeline. Default observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the logger of the engine and its parts. Default
// slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithClock overrides time.Now for policy decisions and job timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine is the co-presence façade. It is safe for concurrent use.
type Engine struct {
	sessions *callsession.Store
	policy   *policy.Engine
	settings turn.PolicySource
	calls    *callctl.Controller
	pipeline *turn.Pipeline
	timers   *schedule.Scheduler

	queueSize      int
	autoLeaveGrace time.Duration
	turnOpts       []turn.Option
	callOpts       []callctl.Option

	metrics *observe.Metrics
	log     *slog.Logger
	now     func() time.Time

	// ctx is the parent of every pass; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	workers map[string]*worker
	// suppressed chats were left on request and are not auto-joined again
	// until their call empties.
	suppressed map[string]bool
	closed     bool
	group      errgroup.Group
}

type worker struct {
	jobs chan turn.Job
	stop chan struct{}
}

// New assembles an Engine.
func New(d Deps, opts ...Option) (*Engine, error) {
	if d.Platform == nil {
		return nil, errors.New("copresence: voice platform is required")
	}
	if d.Sessions == nil {
		d.Sessions = callsession.NewStore()
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		sessions:       d.Sessions,
		policy:         d.Policy,
		settings:       d.Settings,
		queueSize:      DefaultQueueSize,
		autoLeaveGrace: DefaultAutoLeaveGrace,
		log:            slog.Default(),
		now:            time.Now,
		ctx:            ctx,
		cancel:         cancel,
		workers:        make(map[string]*worker),
		suppressed:     make(map[string]bool),
	}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	e.timers = schedule.New(schedule.WithLogger(e.log))

	callOpts := append([]callctl.Option{
		callctl.WithMetrics(e.metrics),
		callctl.WithLogger(e.log),
	}, e.callOpts...)
	callOpts = append(callOpts,
		callctl.WithClock(e.now),
		callctl.WithAudioHandler(e.OnInboundAudio),
		callctl.WithOnJoined(e.startWorker),
		callctl.WithOnLeft(e.chatLeft),
	)
	e.calls = callctl.New(d.Platform, e.sessions, callOpts...)

	turnOpts := append([]turn.Option{
		turn.WithMetrics(e.metrics),
		turn.WithLogger(e.log),
		turn.WithClock(e.now),
	}, e.turnOpts...)
	p, err := turn.New(turn.Deps{
		Sessions:    e.sessions,
		Policy:      d.Policy,
		Settings:    d.Settings,
		Codec:       d.Codec,
		Transcriber: d.Transcriber,
		Generator:   d.Generator,
		Streamer:    e.calls,
	}, turnOpts...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("copresence: %w", err)
	}
	e.pipeline = p
	return e, nil
}

// ── Exposed operations ──────────────────────────────────────────────────────

// JoinCall enters the chat's live call. Joining a joined chat succeeds
// without changes. The error wraps [callctl.ErrJoinFailed] on transport
// failure.
func (e *Engine) JoinCall(ctx context.Context, chatID string, autoJoined bool) error {
	if e.isClosed() {
		return ErrClosed
	}
	if !autoJoined {
		e.mu.Lock()
		delete(e.suppressed, chatID)
		e.mu.Unlock()
	}
	return e.calls.Join(ctx, chatID, autoJoined)
}

// LeaveCall exits the chat's call. It is idempotent. A chat left this way is
// not auto-joined again until its call has emptied.
func (e *Engine) LeaveCall(ctx context.Context, chatID string) error {
	e.mu.Lock()
	e.suppressed[chatID] = true
	e.mu.Unlock()
	return e.calls.Leave(ctx, chatID)
}

// GetCallStatus returns a snapshot of the chat's session. Unknown chats
// report the idle record.
func (e *Engine) GetCallStatus(chatID string) callsession.Session {
	return e.calls.Status(chatID)
}

// ActiveCalls returns the sessions of every joined chat.
func (e *Engine) ActiveCalls() []callsession.Session {
	return e.sessions.Joined()
}

// OnInboundAudio queues one captured utterance for the chat's worker. It
// never blocks: audio for chats that are not joined is ignored and audio
// beyond the queue size is dropped.
func (e *Engine) OnInboundAudio(chatID string, chunk audio.AudioChunk) {
	e.mu.Lock()
	w := e.workers[chatID]
	e.mu.Unlock()
	if w == nil {
		return
	}

	job := turn.NewJob(chatID, chunk, e.now())
	select {
	case <-w.stop:
	case w.jobs <- job:
	default:
		e.metrics.DroppedTurns.Add(e.ctx, 1)
		e.log.Warn("copresence: turn queue full, dropping utterance", "chat_id", chatID, "job_id", job.ID.String())
	}
}

// ShouldAutoJoin reports whether the chat's call qualifies for a proactive
// join with participantCount other members present.
func (e *Engine) ShouldAutoJoin(ctx context.Context, chatID string, participantCount int) bool {
	d := e.policy.ShouldAutoJoin(e.settings.For(chatID), participantCount, e.now())
	if !d.Allowed {
		observe.Logger(ctx).Debug("copresence: auto-join declined", "chat_id", chatID, "gate", d.Gate, "reason", d.Reason)
	}
	return d.Allowed
}

// ObserveParticipants records how many members other than the assistant
// are in the chat's call. It joins qualifying calls proactively and leaves
// a joined call once it has stayed empty for the auto-leave grace period.
func (e *Engine) ObserveParticipants(ctx context.Context, chatID string, count int) error {
	if e.isClosed() {
		return ErrClosed
	}
	count = max(count, 0)
	sess, _ := e.sessions.Update(chatID, func(s *callsession.Session) error {
		s.ParticipantCount = count
		return nil
	})

	if sess.IsJoined() {
		if count > 0 {
			if e.timers.Cancel(chatID, timerAutoLeave) {
				e.log.Debug("copresence: auto-leave cancelled", "chat_id", chatID)
			}
			return nil
		}
		if !e.timers.Pending(chatID, timerAutoLeave) {
			e.log.Info("copresence: call is empty, scheduling auto-leave", "chat_id", chatID, "grace", e.autoLeaveGrace)
			return e.timers.Schedule(chatID, timerAutoLeave, e.autoLeaveGrace, func(ctx context.Context) {
				e.autoLeave(ctx, chatID)
			})
		}
		return nil
	}

	cfg := e.settings.For(chatID)
	e.mu.Lock()
	if count < cfg.MinParticipants {
		delete(e.suppressed, chatID)
	}
	suppressed := e.suppressed[chatID]
	e.mu.Unlock()
	if suppressed || sess.State == callsession.StateJoining || !e.ShouldAutoJoin(ctx, chatID, count) {
		return nil
	}
	e.log.Info("copresence: joining call proactively", "chat_id", chatID, "participants", count)
	return e.calls.Join(ctx, chatID, true)
}

func (e *Engine) autoLeave(ctx context.Context, chatID string) {
	if s := e.sessions.Get(chatID); !s.IsJoined() || s.ParticipantCount > 0 {
		return
	}
	if err := e.calls.LeaveFor(ctx, chatID, callctl.ReasonAutoLeave); err != nil {
		e.log.Warn("copresence: auto-leave failed", "chat_id", chatID, "err", err)
	}
}

// Close leaves every call, stops the timers and waits for running passes
// to finish or for ctx to be done.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	var errs []error
	if err := e.calls.LeaveAll(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := e.timers.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("copresence: timers: %w", err))
	}
	e.cancel()

	done := make(chan error, 1)
	go func() { done <- e.group.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			errs = append(errs, err)
		}
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("copresence: waiting for workers: %w", ctx.Err()))
	}
	return errors.Join(errs...)
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// ── Workers ─────────────────────────────────────────────────────────────────

// startWorker runs when a chat became joined.
func (e *Engine) startWorker(chatID string, _ bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.workers[chatID] != nil {
		return
	}
	w := &worker{
		jobs: make(chan turn.Job, e.queueSize),
		stop: make(chan struct{}),
	}
	e.workers[chatID] = w
	e.group.Go(func() error {
		e.run(chatID, w)
		return nil
	})
}

// chatLeft runs during every leave.
func (e *Engine) chatLeft(chatID string) {
	e.timers.CancelAll(chatID)
	e.mu.Lock()
	w := e.workers[chatID]
	delete(e.workers, chatID)
	e.mu.Unlock()
	if w != nil {
		close(w.stop)
	}
}

func (e *Engine) run(chatID string, w *worker) {
	log := e.log.With("chat_id", chatID)
	log.Debug("copresence: worker started")
	defer log.Debug("copresence: worker stopped")
	for {
		select {
		case <-w.stop:
			return
		case <-e.ctx.Done():
			return
		case job := <-w.jobs:
			// Queued audio of a chat that left is dropped.
			select {
			case <-w.stop:
				return
			default:
			}
			out := e.pipeline.Handle(e.ctx, job)
			if out.Replied() {
				log.Info("copresence: replied", "job_id", job.ID.String(), "delivery", out.Delivery)
			}
		}
	}
}
