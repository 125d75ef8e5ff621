// Package policy decides when the assistant may join a call and when it may
// speak. Decisions are built from small independent gates; every gate must
// allow for the decision to allow. Per-chat settings are persisted through a
// [Store].
package policy

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultMinParticipants is the participant threshold for proactive joins.
const DefaultMinParticipants = 2

// TimeOfDay is a wall-clock time with minute precision, stored as minutes
// since midnight. In YAML and the database it is written as "HH:MM".
type TimeOfDay int

// ParseTimeOfDay parses "HH:MM" (24-hour clock).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("policy: invalid time of day %q: want HH:MM", s)
	}
	return TimeOfDay(t.Hour()*60 + t.Minute()), nil
}

// MustTimeOfDay is like [ParseTimeOfDay] but panics on error. For tests and
// package-level defaults.
func MustTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

// Of returns the time of day of t in t's location.
func Of(t time.Time) TimeOfDay {
	return TimeOfDay(t.Hour()*60 + t.Minute())
}

// String formats as "HH:MM".
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// Valid reports whether t lies within a day.
func (t TimeOfDay) Valid() bool { return t >= 0 && t < 24*60 }

// MarshalYAML implements [yaml.Marshaler].
func (t TimeOfDay) MarshalYAML() (any, error) { return t.String(), nil }

// UnmarshalYAML implements [yaml.Unmarshaler].
func (t *TimeOfDay) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	v, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// QuietHours is a daily window during which the assistant never joins on its
// own. When Start is after End the window wraps midnight.
type QuietHours struct {
	Start TimeOfDay `yaml:"start"`
	End   TimeOfDay `yaml:"end"`
}

// Contains reports whether tod falls inside the window. Both bounds are
// inclusive: start <= end gives [start, end]; start > end gives
// [start, 24:00) ∪ [00:00, end].
func (q QuietHours) Contains(tod TimeOfDay) bool {
	if q.Start <= q.End {
		return tod >= q.Start && tod <= q.End
	}
	return tod >= q.Start || tod <= q.End
}

// String formats the window as "HH:MM-HH:MM".
func (q QuietHours) String() string { return q.Start.String() + "-" + q.End.String() }

// rateRe matches speaking-rate adjustments such as "+0%", "-15%", "+25%".
var rateRe = regexp.MustCompile(`^[+-]\d{1,3}%$`)

// Config is the persisted per-chat behaviour configuration.
type Config struct {
	// ProactiveEnabled allows joining a call without an explicit request.
	ProactiveEnabled bool `yaml:"proactive_enabled"`

	// MinParticipants is the number of other members a call needs before a
	// proactive join. Must be at least 1.
	MinParticipants int `yaml:"min_participants"`

	// QuietHours, when set, blocks proactive joins during the window.
	QuietHours *QuietHours `yaml:"quiet_hours,omitempty"`

	// STTEnabled turns transcription (and therefore replies) on or off.
	STTEnabled bool `yaml:"stt_enabled"`

	// STTLanguage is a BCP-47 language hint, e.g. "en".
	STTLanguage string `yaml:"stt_language"`

	// TTSEnabled allows spoken replies. When false, replies go out as text.
	TTSEnabled bool `yaml:"tts_enabled"`

	// TTSVoice is a provider-specific voice name.
	TTSVoice string `yaml:"tts_voice"`

	// TTSRate adjusts the speaking rate, written as "+N%" or "-N%".
	TTSRate string `yaml:"tts_rate"`
}

// Defaults returns the configuration used for chats without a stored entry.
func Defaults() Config {
	return Config{
		ProactiveEnabled: false,
		MinParticipants:  DefaultMinParticipants,
		STTEnabled:       true,
		STTLanguage:      "en",
		TTSEnabled:       true,
		TTSVoice:         "en-US-AriaNeural",
		TTSRate:          "+0%",
	}
}

// Normalize fills zero-valued fields that have a non-zero default.
func (c Config) Normalize() Config {
	d := Defaults()
	if c.MinParticipants == 0 {
		c.MinParticipants = d.MinParticipants
	}
	if c.STTLanguage == "" {
		c.STTLanguage = d.STTLanguage
	}
	if c.TTSRate == "" {
		c.TTSRate = d.TTSRate
	}
	return c
}

// Validate returns a joined error listing every invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.MinParticipants < 1 {
		errs = append(errs, fmt.Errorf("min_participants %d must be at least 1", c.MinParticipants))
	}
	if c.QuietHours != nil {
		if !c.QuietHours.Start.Valid() || !c.QuietHours.End.Valid() {
			errs = append(errs, fmt.Errorf("quiet_hours %s is out of range", c.QuietHours))
		}
	}
	if c.TTSRate != "" && !rateRe.MatchString(c.TTSRate) {
		errs = append(errs, fmt.Errorf("tts_rate %q must look like +10%% or -10%%", c.TTSRate))
	}
	return errors.Join(errs...)
}
