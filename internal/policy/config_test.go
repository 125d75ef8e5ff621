package policy_test

import (
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/huddle/internal/policy"
)

func TestParseTimeOfDay(t *testing.T) {
	t.Parallel()

	tod, err := policy.ParseTimeOfDay("07:45")
	if err != nil {
		t.Fatalf("ParseTimeOfDay: %v", err)
	}
	if int(tod) != 7*60+45 || tod.String() != "07:45" {
		t.Errorf("tod = %d (%s), want 465 (07:45)", tod, tod)
	}
	for _, bad := range []string{"", "24:00", "7pm", "12:60"} {
		if _, err := policy.ParseTimeOfDay(bad); err == nil {
			t.Errorf("ParseTimeOfDay(%q): expected error", bad)
		}
	}
}

func TestConfig_YAMLRoundTrip(t *testing.T) {
	t.Parallel()

	in := `
proactive_enabled: true
min_participants: 3
quiet_hours:
  start: "23:00"
  end: "06:30"
stt_enabled: true
stt_language: de
tts_enabled: false
tts_voice: de-DE-KatjaNeural
tts_rate: "-10%"
`
	var cfg policy.Config
	if err := yaml.Unmarshal([]byte(in), &cfg); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if cfg.QuietHours == nil || cfg.QuietHours.String() != "23:00-06:30" {
		t.Fatalf("quiet hours = %v", cfg.QuietHours)
	}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(out), "23:00") || !strings.Contains(string(out), "06:30") {
		t.Errorf("marshalled YAML should carry HH:MM, got:\n%s", out)
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	if err := policy.Defaults().Validate(); err != nil {
		t.Fatalf("defaults should be valid: %v", err)
	}

	bad := policy.Defaults()
	bad.MinParticipants = 0
	bad.TTSRate = "fast"
	bad.QuietHours = &policy.QuietHours{Start: -1, End: 5000}
	err := bad.Validate()
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"min_participants", "tts_rate", "quiet_hours"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q: %v", want, err)
		}
	}
}

func TestConfig_Normalize(t *testing.T) {
	t.Parallel()

	got := policy.Config{ProactiveEnabled: true}.Normalize()
	if got.MinParticipants != policy.DefaultMinParticipants {
		t.Errorf("MinParticipants = %d, want %d", got.MinParticipants, policy.DefaultMinParticipants)
	}
	if got.STTLanguage != "en" || got.TTSRate != "+0%" {
		t.Errorf("normalized = %+v", got)
	}
	if !got.ProactiveEnabled {
		t.Error("Normalize must not touch set fields")
	}
}
