package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/huddle/internal/callsession"
)

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return v
}

func ok(context.Context) error { return nil }

func TestHealthz_AlwaysReturns200(t *testing.T) {
	t.Parallel()

	h := New(nil)
	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if body := decode[result](t, rec); body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		checkers   []Checker
		wantStatus int
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{},
		},
		{
			name: "all pass",
			checkers: []Checker{
				{Name: "discord", Check: ok},
				{Name: "policy_store", Check: ok},
			},
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{"discord": "ok", "policy_store": "ok"},
		},
		{
			name: "one fails",
			checkers: []Checker{
				{Name: "discord", Check: func(context.Context) error { return errors.New("gateway not ready") }},
				{Name: "policy_store", Check: ok},
			},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"discord": "fail: gateway not ready", "policy_store": "ok"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := httptest.NewRecorder()
			New(tt.checkers).Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			body := decode[result](t, rec)
			for name, want := range tt.wantChecks {
				if body.Checks[name] != want {
					t.Errorf("check %s = %q, want %q", name, body.Checks[name], want)
				}
			}
		})
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	started := make(chan struct{}, 2)
	slow := func(ctx context.Context) error {
		started <- struct{}{}
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h := New([]Checker{{Name: "a", Check: slow}, {Name: "b", Check: slow}})

	go func() {
		<-started
		<-started
		close(release)
	}()

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	t.Parallel()

	h := New([]Checker{{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

type fakeCalls struct {
	sessions map[string]callsession.Session
}

func (f fakeCalls) GetCallStatus(chatID string) callsession.Session {
	if s, ok := f.sessions[chatID]; ok {
		return s
	}
	return callsession.Session{ChatID: chatID}
}

func (f fakeCalls) ActiveCalls() []callsession.Session {
	var out []callsession.Session
	for _, s := range f.sessions {
		if s.IsJoined() {
			out = append(out, s)
		}
	}
	return out
}

func TestCalls(t *testing.T) {
	t.Parallel()

	joined := callsession.Session{
		ChatID:           "vc-1",
		State:            callsession.StateJoined,
		ParticipantCount: 3,
		AutoJoined:       true,
		JoinedAt:         time.Date(2026, 4, 1, 20, 0, 0, 0, time.UTC),
	}
	joined.Transcript.Append(callsession.TranscriptEntry{Speaker: "Alice", Text: "hi"})
	h := New(nil, WithCalls(fakeCalls{sessions: map[string]callsession.Session{"vc-1": joined}}))

	mux := http.NewServeMux()
	h.Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/calls", nil))
	list := decode[[]CallStatus](t, rec)
	if len(list) != 1 {
		t.Fatalf("calls = %+v, want one", list)
	}
	got := list[0]
	if got.ChatID != "vc-1" || got.State != "joined" || !got.AutoJoined || got.ParticipantCount != 3 || got.TranscriptLines != 1 {
		t.Errorf("call = %+v", got)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/calls/vc-9", nil))
	idle := decode[CallStatus](t, rec)
	if idle.ChatID != "vc-9" || idle.State != "idle" {
		t.Errorf("unknown chat = %+v, want idle record", idle)
	}
}

func TestRegister_CallsRoutesNeedSource(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	New(nil).Register(mux)

	for path, want := range map[string]int{
		"/healthz": http.StatusOK,
		"/readyz":  http.StatusOK,
		"/calls":   http.StatusNotFound,
	} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != want {
			t.Errorf("%s: status = %d, want %d", path, rec.Code, want)
		}
	}
}
