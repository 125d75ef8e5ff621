// Package callsession holds the volatile per-chat call state: the membership
// state machine, the rolling transcript and the counters the reply policy
// reads. Sessions live only in memory and are owned by a [Store].
package callsession

import (
	"errors"
	"fmt"
	"time"
)

// TranscriptCapacity is the number of entries a transcript retains.
const TranscriptCapacity = 20

// ErrInvalidTransition is returned when a state change is not permitted by
// the call state machine.
var ErrInvalidTransition = errors.New("callsession: invalid state transition")

// State is the membership state of a chat in its live call.
type State int

const (
	// StateIdle means the assistant has never joined, or a join was rolled back.
	StateIdle State = iota
	// StateJoining means a transport join is in progress.
	StateJoining
	// StateJoined means the assistant is a member of the call.
	StateJoined
	// StateLeaving means the transport handle is being released.
	StateLeaving
	// StateLeft means the assistant left; a new join may start from here.
	StateLeft
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateJoining:
		return "joining"
	case StateJoined:
		return "joined"
	case StateLeaving:
		return "leaving"
	case StateLeft:
		return "left"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// transitions lists the permitted state changes.
var transitions = map[State][]State{
	StateIdle:    {StateJoining, StateLeft},
	StateJoining: {StateJoined, StateIdle},
	StateJoined:  {StateLeaving},
	StateLeaving: {StateLeft},
	StateLeft:    {StateJoining, StateLeft},
}

// CanTransition reports whether from → to is a permitted state change.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TranscriptEntry is one transcribed utterance.
type TranscriptEntry struct {
	Timestamp time.Time
	Speaker   string
	Text      string
}

// Transcript is a fixed-capacity FIFO of the most recent entries. The zero
// value is empty and ready to use. Copying a Transcript copies its contents.
type Transcript struct {
	buf   [TranscriptCapacity]TranscriptEntry
	start int
	n     int
}

// Append adds e, evicting the oldest entry when full.
func (t *Transcript) Append(e TranscriptEntry) {
	if t.n < TranscriptCapacity {
		t.buf[(t.start+t.n)%TranscriptCapacity] = e
		t.n++
		return
	}
	t.buf[t.start] = e
	t.start = (t.start + 1) % TranscriptCapacity
}

// Len returns the number of retained entries.
func (t Transcript) Len() int { return t.n }

// Entries returns the retained entries oldest first.
func (t Transcript) Entries() []TranscriptEntry {
	out := make([]TranscriptEntry, t.n)
	for i := range t.n {
		out[i] = t.buf[(t.start+i)%TranscriptCapacity]
	}
	return out
}

// Clear drops all entries.
func (t *Transcript) Clear() { *t = Transcript{} }

// Session is the call state of one chat. The zero value with a ChatID is the
// default idle record.
type Session struct {
	ChatID           string
	State            State
	ParticipantCount int
	Transcript       Transcript

	// LastResponseAt is zero until the first reply was produced.
	LastResponseAt time.Time

	// ErrorCount counts consecutive failures; any success resets it.
	ErrorCount int

	// JoinedAt is set whenever State is StateJoined.
	JoinedAt time.Time

	AutoJoined bool
}

// Transition moves the session to state to, or returns ErrInvalidTransition.
func (s *Session) Transition(to State) error {
	if !CanTransition(s.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.State, to)
	}
	s.State = to
	return nil
}

// IsJoined reports whether the assistant is currently in the call.
func (s Session) IsJoined() bool { return s.State == StateJoined }

// RecordFailure increments ErrorCount and returns the new value.
func (s *Session) RecordFailure() int {
	s.ErrorCount++
	return s.ErrorCount
}

// RecordSuccess resets ErrorCount.
func (s *Session) RecordSuccess() { s.ErrorCount = 0 }

// validate panics on a session that breaks the state-machine invariants.
// Such a session can only result from a programming error.
func (s *Session) validate() {
	if s.State == StateJoined && s.JoinedAt.IsZero() {
		panic(fmt.Sprintf("callsession: chat %q is joined without a join time", s.ChatID))
	}
	if s.Transcript.n > TranscriptCapacity || s.Transcript.n < 0 {
		panic(fmt.Sprintf("callsession: chat %q transcript holds %d entries", s.ChatID, s.Transcript.n))
	}
	if s.ErrorCount < 0 {
		panic(fmt.Sprintf("callsession: chat %q has negative error count %d", s.ChatID, s.ErrorCount))
	}
}
