package callsession_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MrWong99/huddle/internal/callsession"
)

func TestTranscript_KeepsMostRecent(t *testing.T) {
	t.Parallel()

	var tr callsession.Transcript
	for i := range 25 {
		tr.Append(callsession.TranscriptEntry{Text: fmt.Sprintf("e%d", i)})
	}

	if got := tr.Len(); got != callsession.TranscriptCapacity {
		t.Fatalf("Len = %d, want %d", got, callsession.TranscriptCapacity)
	}
	entries := tr.Entries()
	for i, e := range entries {
		want := fmt.Sprintf("e%d", i+5)
		if e.Text != want {
			t.Errorf("entries[%d] = %q, want %q", i, e.Text, want)
		}
	}
}

func TestTranscript_PartialAndClear(t *testing.T) {
	t.Parallel()

	var tr callsession.Transcript
	tr.Append(callsession.TranscriptEntry{Text: "a"})
	tr.Append(callsession.TranscriptEntry{Text: "b"})
	if got := tr.Entries(); len(got) != 2 || got[0].Text != "a" || got[1].Text != "b" {
		t.Fatalf("Entries = %+v, want [a b]", got)
	}
	tr.Clear()
	if tr.Len() != 0 || len(tr.Entries()) != 0 {
		t.Errorf("after Clear Len = %d, want 0", tr.Len())
	}
}

func TestTranscript_CopyIsIndependent(t *testing.T) {
	t.Parallel()

	var a callsession.Transcript
	a.Append(callsession.TranscriptEntry{Text: "x"})
	b := a
	b.Append(callsession.TranscriptEntry{Text: "y"})
	if a.Len() != 1 {
		t.Errorf("original Len = %d, want 1", a.Len())
	}
}

func TestCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to callsession.State
		want     bool
	}{
		{callsession.StateIdle, callsession.StateJoining, true},
		{callsession.StateJoining, callsession.StateJoined, true},
		{callsession.StateJoining, callsession.StateIdle, true},
		{callsession.StateJoined, callsession.StateLeaving, true},
		{callsession.StateLeaving, callsession.StateLeft, true},
		{callsession.StateLeft, callsession.StateJoining, true},
		{callsession.StateIdle, callsession.StateJoined, false},
		{callsession.StateJoined, callsession.StateIdle, false},
		{callsession.StateLeft, callsession.StateJoined, false},
		{callsession.StateLeaving, callsession.StateJoined, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			t.Parallel()
			if got := callsession.CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSession_TransitionRejectsInvalid(t *testing.T) {
	t.Parallel()

	s := callsession.Session{ChatID: "c"}
	err := s.Transition(callsession.StateJoined)
	if !errors.Is(err, callsession.ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
	if s.State != callsession.StateIdle {
		t.Errorf("State = %s, want idle", s.State)
	}
}

func TestSession_Counters(t *testing.T) {
	t.Parallel()

	var s callsession.Session
	s.RecordFailure()
	if n := s.RecordFailure(); n != 2 {
		t.Errorf("RecordFailure = %d, want 2", n)
	}
	s.RecordSuccess()
	if s.ErrorCount != 0 {
		t.Errorf("ErrorCount = %d, want 0", s.ErrorCount)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	if got := callsession.StateJoined.String(); got != "joined" {
		t.Errorf("String = %q, want %q", got, "joined")
	}
	if got := callsession.State(42).String(); got != "state(42)" {
		t.Errorf("String = %q, want %q", got, "state(42)")
	}
}

func TestStore_UpdatePanicsOnCorruption(t *testing.T) {
	t.Parallel()

	st := callsession.NewStore()
	defer func() {
		if recover() == nil {
			t.Error("expected panic for joined session without join time")
		}
	}()
	_, _ = st.Update("c", func(s *callsession.Session) error {
		s.State = callsession.StateJoined
		s.JoinedAt = time.Time{}
		return nil
	})
}
