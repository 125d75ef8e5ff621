package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/huddle/pkg/audio"
	"github.com/MrWong99/huddle/pkg/provider/tts"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

type received struct {
	mu    sync.Mutex
	path  string
	query string
	msgs  []textMessage
}

// startServer accepts one socket per request, reads the three client
// messages and answers with replies.
func startServer(t *testing.T, rec *received, replies ...audioResponse) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		for range 3 {
			_, data, err := conn.Read(ctx)
			if err != nil {
				t.Errorf("server read: %v", err)
				return
			}
			var m textMessage
			_ = json.Unmarshal(data, &m)
			rec.mu.Lock()
			rec.msgs = append(rec.msgs, m)
			rec.mu.Unlock()
		}
		rec.mu.Lock()
		rec.path, rec.query = r.URL.Path, r.URL.RawQuery
		rec.mu.Unlock()

		for _, reply := range replies {
			data, _ := json.Marshal(reply)
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func b64(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Error("expected error for empty api key")
	}
	if _, err := New("k", WithOutputFormat("mp3_44100_128")); err == nil {
		t.Error("expected error for non-PCM output format")
	}
}

func TestSampleRate(t *testing.T) {
	t.Parallel()

	if n, err := sampleRate("pcm_24000"); err != nil || n != 24000 {
		t.Errorf("sampleRate(pcm_24000) = %d, %v", n, err)
	}
	if _, err := sampleRate("pcm_x"); err == nil {
		t.Error("expected error for pcm_x")
	}
}

func TestBuildVoiceSettings_ClampsSpeed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want float64
	}{
		{0, 0},
		{1.0, 1.0},
		{2.0, 1.2},
		{0.5, 0.7},
	}
	for _, tt := range tests {
		if got := buildVoiceSettings(tt.in).Speed; got != tt.want {
			t.Errorf("speed(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSynthesize_CollectsAudio(t *testing.T) {
	t.Parallel()

	var rec received
	srv := startServer(t, &rec,
		audioResponse{Audio: b64([]byte{1, 2, 3, 4})},
		audioResponse{Audio: b64([]byte{5, 6})},
		audioResponse{IsFinal: true},
	)
	p, err := New("xi-key", WithBaseURL(wsURL(srv)), WithOutputFormat("pcm_24000"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	out, err := p.Synthesize(context.Background(), tts.Request{Text: "hello there", Voice: "voice-1", Speed: 1.1})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(out.Data) != string([]byte{1, 2, 3, 4, 5, 6}) {
		t.Errorf("Data = %v", out.Data)
	}
	if out.Encoding != audio.EncodingPCM16 || out.SampleRate != 24000 || out.Channels != 1 {
		t.Errorf("format = %s %d %d", out.Encoding, out.SampleRate, out.Channels)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.path != "/v1/text-to-speech/voice-1/stream-input" {
		t.Errorf("path = %q", rec.path)
	}
	if !strings.Contains(rec.query, "model_id=eleven_flash_v2_5") || !strings.Contains(rec.query, "output_format=pcm_24000") {
		t.Errorf("query = %q", rec.query)
	}
	if len(rec.msgs) != 3 {
		t.Fatalf("messages = %d, want 3", len(rec.msgs))
	}
	if rec.msgs[0].XiAPIKey != "xi-key" || rec.msgs[0].VoiceSettings == nil || rec.msgs[0].VoiceSettings.Speed != 1.1 {
		t.Errorf("first message = %+v", rec.msgs[0])
	}
	if rec.msgs[1].Text != "hello there " || !rec.msgs[1].TryTriggerGeneration {
		t.Errorf("text message = %+v", rec.msgs[1])
	}
	if rec.msgs[2].Text != "" {
		t.Errorf("flush message = %+v", rec.msgs[2])
	}
}

func TestSynthesize_DefaultVoice(t *testing.T) {
	t.Parallel()

	var rec received
	srv := startServer(t, &rec, audioResponse{Audio: b64([]byte{1, 2}), IsFinal: true})
	p, _ := New("k", WithBaseURL(wsURL(srv)), WithDefaultVoice("fallback-voice"))
	if _, err := p.Synthesize(context.Background(), tts.Request{Text: "x"}); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if !strings.Contains(rec.path, "/fallback-voice/") {
		t.Errorf("path = %q, want default voice", rec.path)
	}
}

func TestSynthesize_ServerError(t *testing.T) {
	t.Parallel()

	var rec received
	srv := startServer(t, &rec, audioResponse{Error: "quota_exceeded", Message: "out of credits"})
	p, _ := New("k", WithBaseURL(wsURL(srv)))
	_, err := p.Synthesize(context.Background(), tts.Request{Text: "x"})
	if err == nil || !strings.Contains(err.Error(), "quota_exceeded") {
		t.Errorf("err = %v, want quota_exceeded", err)
	}
}

func TestSynthesize_NoAudio(t *testing.T) {
	t.Parallel()

	var rec received
	srv := startServer(t, &rec, audioResponse{IsFinal: true})
	p, _ := New("k", WithBaseURL(wsURL(srv)))
	if _, err := p.Synthesize(context.Background(), tts.Request{Text: "x"}); err == nil {
		t.Error("expected error when no audio arrives")
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	t.Parallel()

	p, _ := New("k")
	if _, err := p.Synthesize(context.Background(), tts.Request{Text: "  "}); err == nil {
		t.Error("expected error for blank text")
	}
}
