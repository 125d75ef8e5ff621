// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A provider turns one cleaned reply into one audio buffer. The buffer's
// encoding is provider-specific (raw PCM or MP3, usually) and is described
// by the returned [Audio] so that callers can convert it for playback.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/MrWong99/huddle/pkg/audio"
)

// Request is one synthesis job.
type Request struct {
	Text string

	// Voice is a provider-specific voice identifier. Empty selects the
	// provider's default.
	Voice string

	// Speed is a playback-rate multiplier; 1.0 is normal, 0 means default.
	Speed float64
}

// Audio is synthesized speech.
type Audio struct {
	Data     []byte
	Encoding audio.Encoding

	// SampleRate and Channels are set for raw PCM output and may be zero for
	// self-describing containers such as MP3.
	SampleRate int
	Channels   int
}

// Chunk returns the audio as an [audio.AudioChunk].
func (a Audio) Chunk() audio.AudioChunk {
	return audio.AudioChunk{
		Data:       a.Data,
		SampleRate: a.SampleRate,
		Channels:   a.Channels,
		Encoding:   a.Encoding,
	}
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize speaks req.Text and returns the complete audio.
	Synthesize(ctx context.Context, req Request) (Audio, error)
}
