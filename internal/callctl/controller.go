// Package callctl joins and leaves live calls and owns the call-session
// lifecycle around the voice transport.
//
// Join and leave of one chat are serialised by a per-chat operation lock, so
// a second join while the first is still connecting waits and then sees the
// chat as joined. Different chats never wait on each other.
package callctl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/huddle/internal/callsession"
	"github.com/MrWong99/huddle/internal/observe"
	"github.com/MrWong99/huddle/pkg/audio"
)

var (
	// ErrJoinFailed means the transport could not join the call.
	ErrJoinFailed = errors.New("callctl: join failed")

	// ErrStreamFailed means the transport rejected outbound audio.
	ErrStreamFailed = errors.New("callctl: stream failed")

	// ErrNotJoined means the chat is not in a live call.
	ErrNotJoined = errors.New("callctl: not joined")
)

// Default timeouts and placeholder length.
const (
	DefaultJoinTimeout   = 15 * time.Second
	DefaultLeaveTimeout  = 5 * time.Second
	DefaultStreamTimeout = 60 * time.Second
	DefaultPlaceholder   = 100 * time.Millisecond
)

// Leave reasons reported to metrics.
const (
	ReasonRequest   = "request"
	ReasonAutoLeave = "auto_leave"
	ReasonShutdown  = "shutdown"
)

// Option is a functional option for [New].
type Option func(*Controller)

// WithTimeouts bounds transport join, leave and stream calls. Zero keeps the
// default.
func WithTimeouts(join, leave, stream time.Duration) Option {
	return func(c *Controller) {
		if join > 0 {
			c.joinTimeout = join
		}
		if leave > 0 {
			c.leaveTimeout = leave
		}
		if stream > 0 {
			c.streamTimeout = stream
		}
	}
}

// WithAudioHandler sets the receiver of captured utterances of every joined
// chat. It must not block.
func WithAudioHandler(fn func(chatID string, chunk audio.AudioChunk)) Option {
	return func(c *Controller) { c.onAudio = fn }
}

// WithOnJoined sets a hook that runs after a chat became joined, still under
// the chat's operation lock.
func WithOnJoined(fn func(chatID string, autoJoined bool)) Option {
	return func(c *Controller) { c.onJoined = fn }
}

// WithOnLeft sets a hook that runs during every leave, before the session
// reaches Left. It should drop buffered audio and pending timers.
func WithOnLeft(fn func(chatID string)) Option {
	return func(c *Controller) { c.onLeft = fn }
}

// WithMetrics sets the metrics sink. Default observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithLogger sets the logger. Default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// WithClock overrides time.Now for JoinedAt.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// Controller drives the voice transport for every chat. It is safe for
// concurrent use.
type Controller struct {
	platform audio.Platform
	sessions *callsession.Store

	joinTimeout   time.Duration
	leaveTimeout  time.Duration
	streamTimeout time.Duration
	placeholder   time.Duration

	onAudio  func(chatID string, chunk audio.AudioChunk)
	onJoined func(chatID string, autoJoined bool)
	onLeft   func(chatID string)

	metrics *observe.Metrics
	log     *slog.Logger
	now     func() time.Time

	opsMu sync.Mutex
	ops   map[string]*sync.Mutex

	connMu sync.Mutex
	conns  map[string]audio.Connection
}

// New returns a Controller joining calls through platform and recording
// state in sessions.
func New(platform audio.Platform, sessions *callsession.Store, opts ...Option) *Controller {
	c := &Controller{
		platform:      platform,
		sessions:      sessions,
		joinTimeout:   DefaultJoinTimeout,
		leaveTimeout:  DefaultLeaveTimeout,
		streamTimeout: DefaultStreamTimeout,
		placeholder:   DefaultPlaceholder,
		log:           slog.Default(),
		now:           time.Now,
		ops:           make(map[string]*sync.Mutex),
		conns:         make(map[string]audio.Connection),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// opLock returns the chat's operation lock.
func (c *Controller) opLock(chatID string) *sync.Mutex {
	c.opsMu.Lock()
	defer c.opsMu.Unlock()
	mu, ok := c.ops[chatID]
	if !ok {
		mu = &sync.Mutex{}
		c.ops[chatID] = mu
	}
	return mu
}

func (c *Controller) conn(chatID string) audio.Connection {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conns[chatID]
}

func (c *Controller) takeConn(chatID string) audio.Connection {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	conn := c.conns[chatID]
	delete(c.conns, chatID)
	return conn
}

// Status returns the chat's session, or the idle record for unknown chats.
func (c *Controller) Status(chatID string) callsession.Session {
	return c.sessions.Get(chatID)
}

// Join enters the chat's live call. Joining an already joined chat succeeds
// without touching it. On transport failure the session rolls back to idle,
// its error count grows, and the returned error wraps [ErrJoinFailed].
func (c *Controller) Join(ctx context.Context, chatID string, autoJoined bool) (err error) {
	ctx, span := observe.StartChatSpan(ctx, "call.join", chatID, observe.AttrAutoJoined.Bool(autoJoined))
	defer func() { observe.EndSpan(span, err) }()

	mu := c.opLock(chatID)
	mu.Lock()
	defer mu.Unlock()

	if c.sessions.Get(chatID).IsJoined() {
		return nil
	}
	if _, err := c.sessions.Update(chatID, func(s *callsession.Session) error {
		return s.Transition(callsession.StateJoining)
	}); err != nil {
		c.metrics.RecordJoin(ctx, autoJoined, "error")
		return fmt.Errorf("%w: chat %s: %w", ErrJoinFailed, chatID, err)
	}

	conn, err := c.connect(ctx, chatID)
	if err != nil {
		c.sessions.Update(chatID, func(s *callsession.Session) error { //nolint:errcheck // Joining -> Idle is always valid
			if err := s.Transition(callsession.StateIdle); err != nil {
				return err
			}
			s.RecordFailure()
			return nil
		})
		c.metrics.RecordJoin(ctx, autoJoined, "error")
		c.log.Warn("callctl: join failed", "chat_id", chatID, "auto", autoJoined, "err", err)
		return fmt.Errorf("%w: chat %s: %w", ErrJoinFailed, chatID, err)
	}

	c.connMu.Lock()
	c.conns[chatID] = conn
	c.connMu.Unlock()
	if c.onAudio != nil {
		conn.OnAudio(func(chunk audio.AudioChunk) { c.onAudio(chatID, chunk) })
	}

	now := c.now()
	if _, err := c.sessions.Update(chatID, func(s *callsession.Session) error {
		if err := s.Transition(callsession.StateJoined); err != nil {
			return err
		}
		s.JoinedAt = now
		s.AutoJoined = autoJoined
		s.RecordSuccess()
		s.Transcript.Clear()
		return nil
	}); err != nil {
		// Unreachable under the operation lock.
		panic(fmt.Sprintf("callctl: chat %q: %v", chatID, err))
	}

	c.metrics.RecordJoin(ctx, autoJoined, "ok")
	c.metrics.ActiveCalls.Add(ctx, 1)
	c.log.Info("callctl: joined call", "chat_id", chatID, "auto", autoJoined)
	if c.onJoined != nil {
		c.onJoined(chatID, autoJoined)
	}
	return nil
}

// connect joins the transport and pushes a short silence so the platform
// keeps the connection. A connection whose placeholder fails is released.
func (c *Controller) connect(ctx context.Context, chatID string) (audio.Connection, error) {
	ctx, cancel := context.WithTimeout(ctx, c.joinTimeout)
	defer cancel()

	conn, err := c.platform.Connect(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if err := conn.Push(ctx, audio.Silence(audio.PlaybackFormat, c.placeholder)); err != nil {
		if derr := conn.Disconnect(); derr != nil {
			c.log.Debug("callctl: disconnect after failed placeholder", "chat_id", chatID, "err", derr)
		}
		return nil, fmt.Errorf("silence placeholder: %w", err)
	}
	return conn, nil
}

// Leave exits the chat's call and clears its transcript, buffered audio and
// outbound audio. It succeeds for chats that are not joined, leaving them in
// Left with an empty transcript.
func (c *Controller) Leave(ctx context.Context, chatID string) error {
	return c.LeaveFor(ctx, chatID, ReasonRequest)
}

// LeaveFor is [Controller.Leave] with a reason label for metrics and logs.
func (c *Controller) LeaveFor(ctx context.Context, chatID, reason string) (err error) {
	ctx, span := observe.StartChatSpan(ctx, "call.leave", chatID, observe.AttrReason.String(reason))
	defer func() { observe.EndSpan(span, err) }()

	mu := c.opLock(chatID)
	mu.Lock()
	defer mu.Unlock()

	wasJoined := false
	if _, err := c.sessions.Update(chatID, func(s *callsession.Session) error {
		wasJoined = s.IsJoined()
		if wasJoined {
			return s.Transition(callsession.StateLeaving)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("callctl: leave chat %s: %w", chatID, err)
	}

	if conn := c.takeConn(chatID); conn != nil {
		conn.OnAudio(func(audio.AudioChunk) {})
		c.disconnect(ctx, chatID, conn)
	}
	if c.onLeft != nil {
		c.onLeft(chatID)
	}

	if _, err := c.sessions.Update(chatID, func(s *callsession.Session) error {
		switch s.State {
		case callsession.StateJoining:
			// A crashed join; roll it back first.
			s.State = callsession.StateIdle
		case callsession.StateJoined:
			s.State = callsession.StateLeaving
		}
		if err := s.Transition(callsession.StateLeft); err != nil {
			return err
		}
		s.Transcript.Clear()
		s.JoinedAt = time.Time{}
		s.AutoJoined = false
		return nil
	}); err != nil {
		return fmt.Errorf("callctl: leave chat %s: %w", chatID, err)
	}

	if wasJoined {
		c.metrics.RecordLeave(ctx, reason)
		c.metrics.ActiveCalls.Add(ctx, -1)
		c.log.Info("callctl: left call", "chat_id", chatID, "reason", reason)
	}
	return nil
}

// disconnect releases conn, giving up after the leave timeout.
func (c *Controller) disconnect(ctx context.Context, chatID string, conn audio.Connection) {
	ctx, cancel := context.WithTimeout(ctx, c.leaveTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- conn.Disconnect() }()
	select {
	case err := <-done:
		if err != nil {
			c.log.Warn("callctl: disconnect failed", "chat_id", chatID, "err", err)
		}
	case <-ctx.Done():
		c.log.Warn("callctl: disconnect timed out", "chat_id", chatID, "err", ctx.Err())
	}
}

// LeaveAll leaves every joined chat and returns the joined errors.
func (c *Controller) LeaveAll(ctx context.Context) error {
	var errs []error
	for _, s := range c.sessions.Joined() {
		if err := c.LeaveFor(ctx, s.ChatID, ReasonShutdown); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stream plays pcm ([audio.PlaybackFormat]) into the chat's call. It
// returns [ErrNotJoined] when the chat is not joined and an error wrapping
// [ErrStreamFailed] when the transport fails or times out.
func (c *Controller) Stream(ctx context.Context, chatID string, pcm []byte) error {
	if !c.sessions.Get(chatID).IsJoined() {
		return ErrNotJoined
	}
	conn := c.conn(chatID)
	if conn == nil {
		return ErrNotJoined
	}

	ctx, cancel := context.WithTimeout(ctx, c.streamTimeout)
	defer cancel()
	if err := conn.Push(ctx, pcm); err != nil {
		return fmt.Errorf("%w: chat %s: %w", ErrStreamFailed, chatID, err)
	}
	return nil
}
