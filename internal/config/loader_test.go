package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/huddle/internal/config"
)

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "invalid log level",
			yaml: "server:\n  log_level: verbose\n",
			want: "server.log_level",
		},
		{
			name: "invalid log format",
			yaml: "server:\n  log_format: xml\n",
			want: "server.log_format",
		},
		{
			name: "reply probability out of range",
			yaml: "calls:\n  reply_probability: 1.5\n",
			want: "calls.reply_probability",
		},
		{
			name: "trace sample ratio out of range",
			yaml: "observability:\n  trace_sample_ratio: -0.1\n",
			want: "observability.trace_sample_ratio",
		},
		{
			name: "local transcription not shorter than the pass",
			yaml: "timeouts:\n  transcribe: 10s\n  local_transcribe: 10s\n",
			want: "timeouts.local_transcribe",
		},
		{
			name: "unknown timezone",
			yaml: "calls:\n  timezone: Mars/Olympus\n",
			want: "calls.timezone",
		},
		{
			name: "yaml store without path",
			yaml: "policy:\n  store: yaml\n",
			want: "policy.path",
		},
		{
			name: "postgres store without dsn",
			yaml: "policy:\n  store: postgres\n",
			want: "policy.postgres_dsn",
		},
		{
			name: "unknown store",
			yaml: "policy:\n  store: redis\n",
			want: "policy.store",
		},
		{
			name: "invalid min participants",
			yaml: "policy:\n  defaults:\n    min_participants: -1\n",
			want: "min_participants",
		},
		{
			name: "whisper server without url",
			yaml: "providers:\n  stt:\n    name: whisper\n",
			want: "whisper requires base_url",
		},
		{
			name: "native whisper without model",
			yaml: "providers:\n  local_stt:\n    name: whisper-native\n",
			want: "whisper-native requires model",
		},
		{
			name: "negative timeout",
			yaml: "timeouts:\n  stream: -1s\n",
			want: "timeouts.stream",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tc.yaml))
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error should mention %q, got: %v", tc.want, err)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
calls:
  reply_probability: 2
policy:
  store: yaml
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	for _, want := range []string{"server.log_level", "calls.reply_probability", "policy.path"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error should mention %q, got: %v", want, err)
		}
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	for _, kind := range []string{"local_stt", "stt", "tts", "llm"} {
		if len(config.ValidProviderNames[kind]) == 0 {
			t.Errorf("ValidProviderNames[%q] is empty", kind)
		}
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if config.LogLevel("trace").IsValid() {
		t.Error("trace should be invalid")
	}
}
