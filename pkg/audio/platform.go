// Package audio defines the audio value types shared by the co-presence
// engine and the narrow interfaces a voice platform has to implement.
//
// The two primary abstractions are:
//
//   - [Platform] joins a live call identified by a chat ID and returns a [Connection].
//   - [Connection] is an active membership in that call: it delivers captured
//     utterances to a callback and accepts PCM for live playback.
//
// Platform adapters (e.g., audio/discord) live in sub-packages. The package
// lives under pkg/ because third-party adapters are expected to implement
// [Platform] and [Connection].
package audio

import (
	"context"
	"errors"
)

// ErrClosed is returned by [Connection.Push] after the connection has been
// disconnected.
var ErrClosed = errors.New("audio: connection closed")

// Connection represents an active membership in a live call.
//
// A Connection is obtained by calling [Platform.Connect] and remains valid
// until [Connection.Disconnect] is called. Implementations must be safe for
// concurrent use.
type Connection interface {
	// ChatID returns the identifier of the call this connection belongs to.
	ChatID() string

	// OnAudio registers cb to receive each captured utterance. Only one
	// callback may be registered at a time; a later call replaces the earlier
	// one. The callback runs on an internal goroutine and must not block.
	OnAudio(cb func(AudioChunk))

	// Push queues pcm (16-bit little-endian, [PlaybackFormat]) for playback and
	// blocks until it has been handed to the transport or ctx is done.
	Push(ctx context.Context, pcm []byte) error

	// Disconnect leaves the call, drops any queued outbound audio and stops
	// capture. It is safe to call more than once; later calls return nil.
	Disconnect() error
}

// Platform is the entry point for a voice provider.
//
// Implementations must be safe for concurrent use.
type Platform interface {
	// Connect joins the live call identified by chatID. ctx governs the join
	// attempt only; the returned Connection lives until Disconnect.
	Connect(ctx context.Context, chatID string) (Connection, error)
}
