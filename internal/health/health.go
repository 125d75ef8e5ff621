// Package health serves the operational HTTP endpoints of Huddle:
//
//   - /healthz: liveness probe; always 200 OK.
//   - /readyz: readiness probe; 200 only when every registered [Checker]
//     passes. Checkers run concurrently.
//   - /calls and /calls/{chat_id}: call status, when a [CallSource] is set.
//
// Responses are JSON objects.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/huddle/internal/callsession"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness probe. Check returns nil when the dependency
// is usable.
type Checker struct {
	// Name is the key of this check in the response (e.g. "discord").
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// CallSource reports call state.
type CallSource interface {
	GetCallStatus(chatID string) callsession.Session
	ActiveCalls() []callsession.Session
}

// Option configures a [Handler].
type Option func(*Handler)

// WithCalls exposes the /calls endpoints backed by src.
func WithCalls(src CallSource) Option {
	return func(h *Handler) { h.calls = src }
}

// result is the JSON body of the probe endpoints.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// CallStatus is the JSON view of one chat's session.
type CallStatus struct {
	ChatID           string    `json:"chat_id"`
	State            string    `json:"state"`
	AutoJoined       bool      `json:"auto_joined"`
	ParticipantCount int       `json:"participant_count"`
	ErrorCount       int       `json:"error_count"`
	TranscriptLines  int       `json:"transcript_lines"`
	JoinedAt         time.Time `json:"joined_at,omitzero"`
	LastResponseAt   time.Time `json:"last_response_at,omitzero"`
}

func statusOf(s callsession.Session) CallStatus {
	return CallStatus{
		ChatID:           s.ChatID,
		State:            s.State.String(),
		AutoJoined:       s.AutoJoined,
		ParticipantCount: s.ParticipantCount,
		ErrorCount:       s.ErrorCount,
		TranscriptLines:  s.Transcript.Len(),
		JoinedAt:         s.JoinedAt,
		LastResponseAt:   s.LastResponseAt,
	}
}

// Handler serves the health endpoints. The checker list is fixed at
// construction time.
type Handler struct {
	checkers []Checker
	calls    CallSource
}

// New creates a [Handler] evaluating checkers on each /readyz request.
func New(checkers []Checker, opts ...Option) *Handler {
	h := &Handler{checkers: append([]Checker(nil), checkers...)}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Healthz is a liveness probe. A process that serves HTTP is alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz returns 200 only when every [Checker] passes. Each check gets its
// own [checkTimeout] deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	var (
		mu     sync.Mutex
		checks = make(map[string]string, len(h.checkers))
		allOK  = true
		g      errgroup.Group
	)
	for _, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			err := c.Check(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[c.Name] = "fail: " + err.Error()
				allOK = false
				return nil
			}
			checks[c.Name] = "ok"
			return nil
		})
	}
	_ = g.Wait()

	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Calls lists every joined call.
func (h *Handler) Calls(w http.ResponseWriter, _ *http.Request) {
	active := h.calls.ActiveCalls()
	out := make([]CallStatus, 0, len(active))
	for _, s := range active {
		out = append(out, statusOf(s))
	}
	writeJSON(w, http.StatusOK, out)
}

// Call reports the session of the chat named by the chat_id path value.
// Unknown chats report the idle record.
func (h *Handler) Call(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusOf(h.calls.GetCallStatus(r.PathValue("chat_id"))))
}

// Register adds the routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	if h.calls != nil {
		mux.HandleFunc("GET /calls", h.Calls)
		mux.HandleFunc("GET /calls/{chat_id}", h.Call)
	}
}

// writeJSON encodes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
