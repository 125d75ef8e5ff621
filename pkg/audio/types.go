package audio

import "time"

// Encoding tags the byte layout of an [AudioChunk].
type Encoding string

const (
	// EncodingPCM16 is raw signed 16-bit little-endian interleaved PCM.
	EncodingPCM16 Encoding = "pcm_s16le"

	// EncodingOggOpus is an Ogg container carrying Opus packets (voice messages).
	EncodingOggOpus Encoding = "ogg_opus"

	// EncodingWebM is a WebM container, usually Opus inside.
	EncodingWebM Encoding = "webm"

	// EncodingMP3 is MPEG-1 layer III, the default output of most TTS services.
	EncodingMP3 Encoding = "mp3"

	// EncodingWAV is a RIFF/WAVE container.
	EncodingWAV Encoding = "wav"

	// EncodingM4A is AAC in an MPEG-4 container.
	EncodingM4A Encoding = "m4a"

	// EncodingFLAC is free lossless audio.
	EncodingFLAC Encoding = "flac"
)

// Canonical sample formats used across the engine.
var (
	// TranscriptionFormat is what every speech-to-text provider receives.
	TranscriptionFormat = Format{SampleRate: 16000, Channels: 1}

	// PlaybackFormat is what the voice transport accepts for live playback.
	PlaybackFormat = Format{SampleRate: 48000, Channels: 2}
)

// AudioFrame is one fixed-size slice of PCM flowing through a live voice
// connection, typically 20 ms of 48 kHz stereo.
type AudioFrame struct {
	// PCM audio data.
	Data []byte

	// SampleRate in Hz.
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// AudioChunk is an immutable, self-describing piece of audio: a whole
// utterance captured from a call, a synthesized reply, or a converted buffer.
// Consumers must not modify Data.
type AudioChunk struct {
	Data       []byte
	SampleRate int
	Channels   int
	Encoding   Encoding

	// SpeakerID is the platform user ID of the speaker, empty when unknown.
	SpeakerID string

	// Speaker is the display name of the speaker, empty when unknown.
	Speaker string

	// CapturedAt is the wall-clock time the first sample was captured.
	CapturedAt time.Time
}

// Format returns the chunk's sample format.
func (c AudioChunk) Format() Format {
	return Format{SampleRate: c.SampleRate, Channels: c.Channels}
}

// Duration reports the playback length of a PCM chunk. It returns zero for
// compressed encodings whose length cannot be derived from the byte count.
func (c AudioChunk) Duration() time.Duration {
	if c.Encoding != EncodingPCM16 || c.SampleRate <= 0 || c.Channels <= 0 {
		return 0
	}
	samples := len(c.Data) / (2 * c.Channels)
	return time.Duration(samples) * time.Second / time.Duration(c.SampleRate)
}

// IsPCM reports whether the chunk is raw 16-bit PCM.
func (c AudioChunk) IsPCM() bool { return c.Encoding == EncodingPCM16 }
