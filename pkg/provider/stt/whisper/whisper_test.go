package whisper_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/huddle/pkg/provider/stt"
	"github.com/MrWong99/huddle/pkg/provider/stt/whisper"
)

type captured struct {
	mu       sync.Mutex
	language string
	model    string
	wavHead  string
	calls    int
}

// newMockServer answers POST /inference with the given text and records the
// form fields it received.
func newMockServer(t *testing.T, text string, status int, c *captured) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if c != nil {
			c.mu.Lock()
			c.calls++
			c.language = r.FormValue("language")
			c.model = r.FormValue("model")
			if f, _, err := r.FormFile("file"); err == nil {
				head := make([]byte, 4)
				_, _ = io.ReadFull(f, head)
				c.wavHead = string(head)
				f.Close()
			}
			c.mu.Unlock()
		}
		if status != http.StatusOK {
			http.Error(w, "boom", status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": text})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNew_EmptyServerURL(t *testing.T) {
	t.Parallel()
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty serverURL")
	}
}

func TestTranscribe_Success(t *testing.T) {
	t.Parallel()

	var c captured
	srv := newMockServer(t, " hello there ", http.StatusOK, &c)
	p, err := whisper.New(srv.URL+"/", whisper.WithModel("base"), whisper.WithLanguage("de"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := p.Transcribe(context.Background(), stt.Request{PCM: make([]byte, 3200), SampleRate: 16000, Channels: 1, Language: "en"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "hello there" {
		t.Errorf("Text = %q, want %q", res.Text, "hello there")
	}
	if res.Language != "en" {
		t.Errorf("Language = %q, want en", res.Language)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls != 1 {
		t.Errorf("calls = %d, want 1", c.calls)
	}
	if c.language != "en" || c.model != "base" {
		t.Errorf("fields language=%q model=%q", c.language, c.model)
	}
	if c.wavHead != "RIFF" {
		t.Errorf("uploaded file head = %q, want RIFF", c.wavHead)
	}
}

func TestTranscribe_DefaultLanguage(t *testing.T) {
	t.Parallel()

	var c captured
	srv := newMockServer(t, "ok", http.StatusOK, &c)
	p, _ := whisper.New(srv.URL, whisper.WithLanguage("fr"))
	if _, err := p.Transcribe(context.Background(), stt.Request{PCM: make([]byte, 320)}); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.language != "fr" {
		t.Errorf("language = %q, want fr", c.language)
	}
}

func TestTranscribe_BlankAudioIsEmptyText(t *testing.T) {
	t.Parallel()

	srv := newMockServer(t, "[BLANK_AUDIO]", http.StatusOK, nil)
	p, _ := whisper.New(srv.URL)
	res, err := p.Transcribe(context.Background(), stt.Request{PCM: make([]byte, 320)})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "" {
		t.Errorf("Text = %q, want empty", res.Text)
	}
}

func TestTranscribe_EmptyAudio(t *testing.T) {
	t.Parallel()

	p, _ := whisper.New("http://127.0.0.1:1")
	if _, err := p.Transcribe(context.Background(), stt.Request{}); !errors.Is(err, stt.ErrEmptyAudio) {
		t.Errorf("err = %v, want ErrEmptyAudio", err)
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	t.Parallel()

	srv := newMockServer(t, "", http.StatusInternalServerError, nil)
	p, _ := whisper.New(srv.URL)
	_, err := p.Transcribe(context.Background(), stt.Request{PCM: make([]byte, 320)})
	if err == nil || !strings.Contains(err.Error(), "HTTP 500") {
		t.Errorf("err = %v, want HTTP 500", err)
	}
}

func TestTranscribe_CancelledContext(t *testing.T) {
	t.Parallel()

	srv := newMockServer(t, "x", http.StatusOK, nil)
	p, _ := whisper.New(srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Transcribe(ctx, stt.Request{PCM: make([]byte, 320)}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestNewNative_EmptyPath(t *testing.T) {
	t.Parallel()
	if _, err := whisper.NewNative(""); err == nil {
		t.Fatal("expected error for empty model path")
	}
}
