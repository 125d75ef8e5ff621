package anyllm

import (
	"slices"
	"strings"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/huddle/pkg/provider/llm"
)

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New("", "m"); err == nil {
		t.Error("empty provider: expected error")
	}
	if _, err := New("groq", ""); err == nil {
		t.Error("empty model: expected error")
	}
	_, err := New("cerebras-unknown", "m", anyllmlib.WithAPIKey("k"))
	if err == nil || !strings.Contains(err.Error(), "unsupported provider") {
		t.Errorf("unknown provider err = %v, want unsupported provider", err)
	}
}

func TestNew_KnownBackends(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"openai", "groq", "anthropic"} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			p, err := New(name, "some-model", anyllmlib.WithAPIKey("test-key"))
			if err != nil {
				t.Fatalf("New(%q): %v", name, err)
			}
			if p.model != "some-model" {
				t.Errorf("model = %q, want some-model", p.model)
			}
			if p.Name() != "anyllm/"+name {
				t.Errorf("Name = %q", p.Name())
			}
		})
	}
}

func TestBackends_Sorted(t *testing.T) {
	t.Parallel()

	got := Backends()
	if !slices.IsSorted(got) {
		t.Errorf("Backends() = %v, want sorted", got)
	}
	for _, want := range []string{"anthropic", "groq", "ollama", "openai"} {
		if !slices.Contains(got, want) {
			t.Errorf("Backends() = %v, missing %q", got, want)
		}
	}
}

func TestBuildParams(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "llama-3.1-8b-instant"}
	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "persona",
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "hello", Name: "alice"},
			{Role: llm.RoleAssistant, Content: "hey"},
		},
		Temperature: 0.9,
		MaxTokens:   80,
	})

	if params.Model != "llama-3.1-8b-instant" {
		t.Errorf("Model = %q", params.Model)
	}
	if len(params.Messages) != 3 {
		t.Fatalf("Messages = %d, want 3", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem || params.Messages[0].ContentString() != "persona" {
		t.Errorf("first message = %+v, want system persona", params.Messages[0])
	}
	if params.Messages[1].Name != "alice" {
		t.Errorf("user name = %q, want alice", params.Messages[1].Name)
	}
	if params.Temperature == nil || *params.Temperature != 0.9 {
		t.Errorf("Temperature = %v, want 0.9", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 80 {
		t.Errorf("MaxTokens = %v, want 80", params.MaxTokens)
	}
}

func TestBuildParams_DefaultsLeftUnset(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "m"}
	params := p.buildParams(llm.CompletionRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}}})
	if params.Temperature != nil || params.MaxTokens != nil {
		t.Error("zero temperature / max tokens should stay nil")
	}
	if len(params.Messages) != 1 {
		t.Errorf("Messages = %d, want 1", len(params.Messages))
	}
}
