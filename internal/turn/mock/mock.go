// Package mock provides test doubles for the chat-facing collaborators of
// the turn pipeline: [turn.Messenger] and [turn.History].
//
// Both mocks are safe for concurrent use and record every call.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/huddle/internal/turn"
	"github.com/MrWong99/huddle/pkg/audio"
)

var (
	_ turn.Messenger = (*Messenger)(nil)
	_ turn.History   = (*History)(nil)
)

// ─── Messenger ────────────────────────────────────────────────────────────────

// TextCall records one SendText call.
type TextCall struct {
	ChatID string
	Text   string
}

// VoiceCall records one SendVoice call.
type VoiceCall struct {
	ChatID string
	Voice  audio.AudioChunk
}

// Messenger is a mock implementation of [turn.Messenger].
type Messenger struct {
	mu sync.Mutex

	// TextErr is returned by SendText.
	TextErr error

	// VoiceErr is returned by SendVoice.
	VoiceErr error

	// TextCalls records every SendText call in order.
	TextCalls []TextCall

	// VoiceCalls records every SendVoice call in order.
	VoiceCalls []VoiceCall
}

// SendText implements [turn.Messenger].
func (m *Messenger) SendText(_ context.Context, chatID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TextCalls = append(m.TextCalls, TextCall{ChatID: chatID, Text: text})
	return m.TextErr
}

// SendVoice implements [turn.Messenger].
func (m *Messenger) SendVoice(_ context.Context, chatID string, voice audio.AudioChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.VoiceCalls = append(m.VoiceCalls, VoiceCall{ChatID: chatID, Voice: voice})
	return m.VoiceErr
}

// Texts returns a copy of the recorded SendText calls.
func (m *Messenger) Texts() []TextCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]TextCall(nil), m.TextCalls...)
}

// Voices returns a copy of the recorded SendVoice calls.
func (m *Messenger) Voices() []VoiceCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]VoiceCall(nil), m.VoiceCalls...)
}

// ─── History ──────────────────────────────────────────────────────────────────

// History is a mock implementation of [turn.History].
type History struct {
	mu sync.Mutex

	// Messages is returned by Recent, trimmed to the newest limit entries.
	Messages []turn.ChatMessage

	// Err, if non-nil, is returned by Recent.
	Err error

	// CallCount counts Recent calls.
	CallCount int
}

// Recent implements [turn.History].
func (h *History) Recent(_ context.Context, _ string, limit int) ([]turn.ChatMessage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.CallCount++
	if h.Err != nil {
		return nil, h.Err
	}
	msgs := h.Messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]turn.ChatMessage(nil), msgs...), nil
}
