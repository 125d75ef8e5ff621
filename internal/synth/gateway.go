// Package synth turns reply text into speech.
//
// A [Gateway] cleans the text for speaking, caps its length and tries an
// ordered chain of TTS providers until one returns audio.
package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/MrWong99/huddle/internal/resilience"
	"github.com/MrWong99/huddle/pkg/audio"
	"github.com/MrWong99/huddle/pkg/provider/tts"
)

var (
	// ErrEmpty means nothing speakable was left after cleaning.
	ErrEmpty = errors.New("synth: empty text")

	// ErrProviderFailed means every provider failed. The cause is wrapped.
	ErrProviderFailed = errors.New("synth: provider failed")
)

// Audio is synthesized speech together with the provider that produced it.
type Audio struct {
	Data       []byte
	Encoding   audio.Encoding
	SampleRate int
	Channels   int
	Provider   string
}

// Chunk returns the audio as an [audio.AudioChunk].
func (a Audio) Chunk() audio.AudioChunk {
	return audio.AudioChunk{Data: a.Data, SampleRate: a.SampleRate, Channels: a.Channels, Encoding: a.Encoding}
}

// ParseRate converts a rate adjustment such as "+10%" or "-25%" into a
// speed multiplier (1.1, 0.75). Empty input means 1.0.
func ParseRate(rate string) (float64, error) {
	rate = strings.TrimSpace(rate)
	if rate == "" {
		return 1, nil
	}
	pct, ok := strings.CutSuffix(rate, "%")
	if !ok {
		return 0, fmt.Errorf("synth: rate %q must end in %%", rate)
	}
	n, err := strconv.Atoi(pct)
	if err != nil {
		return 0, fmt.Errorf("synth: rate %q: %w", rate, err)
	}
	speed := 1 + float64(n)/100
	if speed <= 0 {
		return 0, fmt.Errorf("synth: rate %q slows speech to nothing", rate)
	}
	return speed, nil
}

// Option is a functional option for [New].
type Option func(*Gateway)

// WithMaxRunes sets the length ceiling. Default [DefaultMaxRunes].
func WithMaxRunes(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.maxRunes = n
		}
	}
}

// WithLogger sets the logger. Default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.log = l }
}

// Gateway synthesizes speech. It is safe for concurrent use.
type Gateway struct {
	providers *resilience.FallbackGroup[tts.Provider]
	maxRunes  int
	log       *slog.Logger
}

// New returns a Gateway over the given provider chain.
func New(providers *resilience.FallbackGroup[tts.Provider], opts ...Option) *Gateway {
	g := &Gateway{providers: providers, maxRunes: DefaultMaxRunes, log: slog.Default()}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Prepare returns the text that [Gateway.Synthesize] would speak.
func (g *Gateway) Prepare(text string) string {
	return Truncate(Sanitize(text), g.maxRunes)
}

// Synthesize speaks text with the given voice and rate. An unparsable rate
// falls back to normal speed.
func (g *Gateway) Synthesize(ctx context.Context, text, voice, rate string) (Audio, error) {
	clean := g.Prepare(text)
	if clean == "" {
		return Audio{}, ErrEmpty
	}
	speed, err := ParseRate(rate)
	if err != nil {
		g.log.Warn("synth: ignoring invalid rate", "rate", rate, "err", err)
		speed = 1
	}
	if g.providers == nil || g.providers.Len() == 0 {
		return Audio{}, fmt.Errorf("%w: no providers configured", ErrProviderFailed)
	}

	req := tts.Request{Text: clean, Voice: voice, Speed: speed}
	out, name, err := resilience.ExecuteContext(ctx, g.providers, func(p tts.Provider) (tts.Audio, error) {
		a, err := p.Synthesize(ctx, req)
		if err == nil && len(a.Data) == 0 {
			err = errors.New("no audio returned")
		}
		return a, err
	})
	if err != nil {
		return Audio{}, fmt.Errorf("%w: %w", ErrProviderFailed, err)
	}
	return Audio{
		Data:       out.Data,
		Encoding:   out.Encoding,
		SampleRate: out.SampleRate,
		Channels:   out.Channels,
		Provider:   name,
	}, nil
}
