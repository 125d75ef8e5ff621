package callsession_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/huddle/internal/callsession"
)

func TestStore_GetDefaultsToIdle(t *testing.T) {
	t.Parallel()

	st := callsession.NewStore()
	s := st.Get("chat-1")
	if s.ChatID != "chat-1" || s.State != callsession.StateIdle {
		t.Errorf("Get = %+v, want idle record for chat-1", s)
	}
	if len(st.ChatIDs()) != 0 {
		t.Error("Get must not create an entry")
	}
}

func TestStore_UpdateCommitsOnSuccess(t *testing.T) {
	t.Parallel()

	st := callsession.NewStore()
	now := time.Now()
	got, err := st.Update("chat-1", func(s *callsession.Session) error {
		if err := s.Transition(callsession.StateJoining); err != nil {
			return err
		}
		if err := s.Transition(callsession.StateJoined); err != nil {
			return err
		}
		s.JoinedAt = now
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.State != callsession.StateJoined {
		t.Errorf("returned State = %s, want joined", got.State)
	}
	if s := st.Get("chat-1"); !s.JoinedAt.Equal(now) {
		t.Errorf("JoinedAt = %v, want %v", s.JoinedAt, now)
	}
}

func TestStore_UpdateDiscardsOnError(t *testing.T) {
	t.Parallel()

	st := callsession.NewStore()
	boom := errors.New("boom")
	_, err := st.Update("chat-1", func(s *callsession.Session) error {
		s.ErrorCount = 7
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if got := st.Get("chat-1").ErrorCount; got != 0 {
		t.Errorf("ErrorCount = %d, want 0 (discarded)", got)
	}
}

func TestStore_GetReturnsCopy(t *testing.T) {
	t.Parallel()

	st := callsession.NewStore()
	_, _ = st.Update("c", func(s *callsession.Session) error {
		s.Transcript.Append(callsession.TranscriptEntry{Text: "hi"})
		return nil
	})
	s := st.Get("c")
	s.Transcript.Append(callsession.TranscriptEntry{Text: "mutated"})
	if got := st.Get("c").Transcript.Len(); got != 1 {
		t.Errorf("stored transcript Len = %d, want 1", got)
	}
}

func TestStore_ConcurrentUpdatesSerialisePerChat(t *testing.T) {
	t.Parallel()

	st := callsession.NewStore()
	var wg sync.WaitGroup
	for i := range 4 {
		chat := fmt.Sprintf("chat-%d", i)
		for range 50 {
			wg.Go(func() {
				_, _ = st.Update(chat, func(s *callsession.Session) error {
					s.ErrorCount++
					return nil
				})
			})
		}
	}
	wg.Wait()

	for i := range 4 {
		chat := fmt.Sprintf("chat-%d", i)
		if got := st.Get(chat).ErrorCount; got != 50 {
			t.Errorf("%s ErrorCount = %d, want 50", chat, got)
		}
	}
}

func TestStore_Joined(t *testing.T) {
	t.Parallel()

	st := callsession.NewStore()
	join := func(s *callsession.Session) error {
		s.State = callsession.StateJoined
		s.JoinedAt = time.Now()
		return nil
	}
	_, _ = st.Update("a", join)
	_, _ = st.Update("b", func(*callsession.Session) error { return nil })
	_, _ = st.Update("c", join)

	joined := st.Joined()
	if len(joined) != 2 || joined[0].ChatID != "a" || joined[1].ChatID != "c" {
		t.Fatalf("Joined = %+v, want chats a and c", joined)
	}

	if got := st.ChatIDs(); len(got) != 3 {
		t.Errorf("ChatIDs = %v, want 3 chats", got)
	}
}

func TestStore_ReadOnlyMethodsOnReturnedValue(t *testing.T) {
	t.Parallel()

	st := callsession.NewStore()
	_, _ = st.Update("a", func(s *callsession.Session) error {
		s.State = callsession.StateJoined
		s.JoinedAt = time.Now()
		s.Transcript.Append(callsession.TranscriptEntry{Speaker: "Alice", Text: "hi"})
		return nil
	})

	if !st.Get("a").IsJoined() {
		t.Error("Get(a).IsJoined() = false")
	}
	if n := st.Get("a").Transcript.Len(); n != 1 {
		t.Errorf("Get(a).Transcript.Len() = %d, want 1", n)
	}
	if e := st.Get("a").Transcript.Entries(); len(e) != 1 || e[0].Text != "hi" {
		t.Errorf("Get(a).Transcript.Entries() = %+v", e)
	}
	if st.Get("b").IsJoined() || st.Get("b").Transcript.Len() != 0 {
		t.Error("unknown chat is not idle and empty")
	}
}
