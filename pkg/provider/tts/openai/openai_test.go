package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/huddle/pkg/audio"
	"github.com/MrWong99/huddle/pkg/provider/tts"
)

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	if _, err := New("", ""); err == nil {
		t.Error("expected error for empty api key")
	}
	p, err := New("sk-test", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != "tts-1" || p.defaultVoice != "alloy" {
		t.Errorf("model=%q voice=%q", p.model, p.defaultVoice)
	}
}

func TestSynthesize_AgainstFakeServer(t *testing.T) {
	t.Parallel()

	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/audio/speech") {
			http.NotFound(w, r)
			return
		}
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &body)
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte{1, 0, 2, 0})
	}))
	defer srv.Close()

	p, _ := New("sk-test", "", WithBaseURL(srv.URL+"/v1/"), WithHTTPClient(srv.Client()), WithDefaultVoice("nova"))
	out, err := p.Synthesize(context.Background(), tts.Request{Text: "hi all", Speed: 9})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(out.Data) != 4 || out.SampleRate != 24000 || out.Channels != 1 || out.Encoding != audio.EncodingPCM16 {
		t.Errorf("out = %+v", out)
	}
	if body["input"] != "hi all" || body["voice"] != "nova" || body["response_format"] != "pcm" || body["model"] != "tts-1" {
		t.Errorf("request body = %v", body)
	}
	if body["speed"] != 4.0 {
		t.Errorf("speed = %v, want clamped 4", body["speed"])
	}
}

func TestSynthesize_Errors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error": {"message": "bad voice", "type": "invalid_request_error"}}`)
	}))
	defer srv.Close()

	p, _ := New("sk-test", "", WithBaseURL(srv.URL+"/v1/"), WithHTTPClient(srv.Client()))
	if _, err := p.Synthesize(context.Background(), tts.Request{Text: "x"}); err == nil {
		t.Error("expected error for 400 response")
	}
	if _, err := p.Synthesize(context.Background(), tts.Request{Text: ""}); err == nil {
		t.Error("expected error for empty text")
	}
}
