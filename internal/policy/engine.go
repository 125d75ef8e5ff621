package policy

import (
	"fmt"
	"time"

	"github.com/MrWong99/huddle/internal/callsession"
)

// DefaultCooldown is the minimum gap between two replies in the same chat.
const DefaultCooldown = 30 * time.Second

// Decision is the outcome of a policy check. A negative decision is a normal
// result, not an error; Reason says which gate refused.
type Decision struct {
	Allowed bool
	Gate    string
	Reason  string
}

// Allow is the positive decision.
var Allow = Decision{Allowed: true}

func deny(gate, format string, args ...any) Decision {
	return Decision{Gate: gate, Reason: fmt.Sprintf(format, args...)}
}

// Input is what every gate gets to look at.
type Input struct {
	Config           Config
	ParticipantCount int
	Session          callsession.Session
	Now              time.Time
}

// Gate is one independent policy check.
type Gate interface {
	Name() string
	Check(in Input) Decision
}

// All evaluates gates in order and returns the first refusal, or [Allow].
// Gates are independent: order only affects which reason is reported.
func All(in Input, gates ...Gate) Decision {
	for _, g := range gates {
		if d := g.Check(in); !d.Allowed {
			if d.Gate == "" {
				d.Gate = g.Name()
			}
			return d
		}
	}
	return Allow
}

// ── Gates ────────────────────────────────────────────────────────────────────

// ProactiveGate refuses unless proactive joins are enabled.
type ProactiveGate struct{}

// Name implements [Gate].
func (ProactiveGate) Name() string { return "proactive" }

// Check implements [Gate].
func (g ProactiveGate) Check(in Input) Decision {
	if !in.Config.ProactiveEnabled {
		return deny(g.Name(), "proactive calls are disabled")
	}
	return Allow
}

// QuietHoursGate refuses while the reference time lies in the quiet window.
type QuietHoursGate struct {
	Location *time.Location
}

// Name implements [Gate].
func (QuietHoursGate) Name() string { return "quiet_hours" }

// Check implements [Gate].
func (g QuietHoursGate) Check(in Input) Decision {
	if in.Config.QuietHours == nil {
		return Allow
	}
	tod := Of(in.Now.In(g.location()))
	if in.Config.QuietHours.Contains(tod) {
		return deny(g.Name(), "%s is within quiet hours %s", tod, in.Config.QuietHours)
	}
	return Allow
}

func (g QuietHoursGate) location() *time.Location {
	if g.Location == nil {
		return time.UTC
	}
	return g.Location
}

// ParticipantsGate refuses while fewer than MinParticipants others are present.
type ParticipantsGate struct{}

// Name implements [Gate].
func (ParticipantsGate) Name() string { return "participants" }

// Check implements [Gate].
func (g ParticipantsGate) Check(in Input) Decision {
	minimum := in.Config.MinParticipants
	if minimum < 1 {
		minimum = DefaultMinParticipants
	}
	if in.ParticipantCount < minimum {
		return deny(g.Name(), "%d participants, need %d", in.ParticipantCount, minimum)
	}
	return Allow
}

// CooldownGate refuses while the last reply is more recent than Cooldown.
type CooldownGate struct {
	Cooldown time.Duration
}

// Name implements [Gate].
func (CooldownGate) Name() string { return "cooldown" }

// Check implements [Gate].
func (g CooldownGate) Check(in Input) Decision {
	last := in.Session.LastResponseAt
	if last.IsZero() {
		return Allow
	}
	if elapsed := in.Now.Sub(last); elapsed < g.Cooldown {
		return deny(g.Name(), "last reply %s ago, cooldown %s", elapsed.Round(time.Second), g.Cooldown)
	}
	return Allow
}

// ── Engine ───────────────────────────────────────────────────────────────────

// Option is a functional option for [NewEngine].
type Option func(*Engine)

// WithLocation sets the reference timezone for quiet hours. Default UTC.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// WithCooldown overrides [DefaultCooldown].
func WithCooldown(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.cooldown = d
		}
	}
}

// Engine evaluates the join and reply policies. It is stateless apart from
// its options and safe for concurrent use.
type Engine struct {
	loc      *time.Location
	cooldown time.Duration
}

// NewEngine returns an Engine with the given options applied.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{loc: time.UTC, cooldown: DefaultCooldown}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Location returns the quiet-hours reference timezone.
func (e *Engine) Location() *time.Location { return e.loc }

// Cooldown returns the reply cooldown.
func (e *Engine) Cooldown() time.Duration { return e.cooldown }

// ShouldAutoJoin decides whether to join a call on the assistant's own
// initiative: proactive calls enabled, outside quiet hours, and enough
// participants present.
func (e *Engine) ShouldAutoJoin(cfg Config, participantCount int, now time.Time) Decision {
	in := Input{Config: cfg, ParticipantCount: participantCount, Now: now}
	return All(in, ProactiveGate{}, QuietHoursGate{Location: e.loc}, ParticipantsGate{})
}

// CanRespondNow decides whether the reply cooldown has elapsed.
func (e *Engine) CanRespondNow(session callsession.Session, now time.Time) Decision {
	in := Input{Session: session, Now: now}
	return All(in, CooldownGate{Cooldown: e.cooldown})
}

// InQuietHours reports whether now falls in cfg's quiet window.
func (e *Engine) InQuietHours(cfg Config, now time.Time) bool {
	d := QuietHoursGate{Location: e.loc}.Check(Input{Config: cfg, Now: now})
	return !d.Allowed
}
