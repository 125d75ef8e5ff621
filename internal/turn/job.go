package turn

import (
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/huddle/pkg/audio"
)

// Job is one captured utterance waiting for a pipeline pass. It is passed by
// value and never shared between passes.
type Job struct {
	// ID correlates log lines, spans and notices of one pass.
	ID uuid.UUID

	// ChatID is the chat whose call produced the audio.
	ChatID string

	// Chunk is the captured audio in its source encoding.
	Chunk audio.AudioChunk

	// ReceivedAt is when the engine accepted the chunk.
	ReceivedAt time.Time
}

// NewJob returns a Job with a fresh ID.
func NewJob(chatID string, chunk audio.AudioChunk, receivedAt time.Time) Job {
	return Job{
		ID:         uuid.New(),
		ChatID:     chatID,
		Chunk:      chunk,
		ReceivedAt: receivedAt,
	}
}

// Stage names the step a pass ended at.
type Stage string

const (
	// StageDisabled means neither transcription nor proactive calls are
	// enabled for the chat.
	StageDisabled Stage = "disabled"

	// StageNotJoined means the chat was not in a call when the pass started
	// or left before the transcript was recorded.
	StageNotJoined Stage = "not_joined"

	// StageConvert means audio conversion failed.
	StageConvert Stage = "convert"

	// StageTranscribe means every transcription provider failed.
	StageTranscribe Stage = "transcribe"

	// StageSilence means the utterance transcribed to nothing.
	StageSilence Stage = "silence"

	// StageDice means the reply dice decided to stay quiet.
	StageDice Stage = "dice"

	// StageCooldown means a reply was wanted but the cooldown was running.
	StageCooldown Stage = "cooldown"

	// StageGenerate means response generation failed.
	StageGenerate Stage = "generate"

	// StageSkip means the model chose to stay silent.
	StageSkip Stage = "skip"

	// StageDelivered means a reply was produced. Delivery says how it got out.
	StageDelivered Stage = "delivered"
)

// Delivery is the channel a reply went out on.
type Delivery string

const (
	DeliveryNone         Delivery = "none"
	DeliveryVoice        Delivery = "voice"
	DeliveryVoiceMessage Delivery = "voice_message"
	DeliveryText         Delivery = "text"
)

// Outcome reports what one pass did.
type Outcome struct {
	// JobID echoes [Job.ID].
	JobID uuid.UUID

	// Stage is the step the pass ended at.
	Stage Stage

	// Transcript is the recognised text, empty for silence or early exits.
	Transcript string

	// Reply is the generated response, empty unless Stage is StageDelivered.
	Reply string

	// Delivery is how the reply reached the chat. DeliveryNone when every
	// channel failed or nothing was produced.
	Delivery Delivery

	// Notified is set when the pass sent the degraded-service notice.
	Notified bool

	// Err is the error that ended the pass or the last delivery error.
	Err error
}

// Replied reports whether the pass produced a non-skip response.
func (o Outcome) Replied() bool { return o.Stage == StageDelivered }
