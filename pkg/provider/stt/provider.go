// Package stt defines the Provider interface for Speech-to-Text backends.
//
// A provider transcribes one complete utterance per call: a buffer of 16-bit
// little-endian PCM, normally 16 kHz mono. Local engines (whisper.cpp) and
// cloud services (OpenAI, Google Cloud Speech) share this interface so that a
// gateway can try them in order.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrEmptyAudio is returned when a request carries no samples.
var ErrEmptyAudio = errors.New("stt: empty audio")

// Request is a single utterance to transcribe.
type Request struct {
	// PCM is signed 16-bit little-endian interleaved audio.
	PCM []byte

	// SampleRate in Hz. Most providers expect 16000.
	SampleRate int

	// Channels is 1 for mono.
	Channels int

	// Language is a BCP-47 hint such as "en" or "de-DE". Empty lets the
	// provider auto-detect where supported.
	Language string
}

// Result is a transcription outcome. An empty Text means the audio held no
// recognisable speech and is not an error.
type Result struct {
	Text string

	// Language is the detected or requested language.
	Language string

	// Confidence is in [0, 1]; zero when the provider does not report one.
	Confidence float64
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe returns the text spoken in req.PCM.
	Transcribe(ctx context.Context, req Request) (Result, error)
}
