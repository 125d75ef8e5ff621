package audio

import (
	"sync"
	"time"
)

// Segmenter defaults.
const (
	DefaultSilenceThreshold = 300.0
	DefaultSilenceDuration  = 500 * time.Millisecond
	DefaultMaxUtterance     = 10 * time.Second
	DefaultMinUtterance     = 300 * time.Millisecond
)

// SegmenterOption is a functional option for [NewSegmenter].
type SegmenterOption func(*Segmenter)

// WithSilenceThreshold sets the RMS amplitude below which a frame counts as silence.
func WithSilenceThreshold(rms float64) SegmenterOption {
	return func(s *Segmenter) { s.threshold = rms }
}

// WithSilenceDuration sets how much trailing silence ends an utterance.
func WithSilenceDuration(d time.Duration) SegmenterOption {
	return func(s *Segmenter) { s.silence = d }
}

// WithMaxUtterance caps the length of a single utterance.
func WithMaxUtterance(d time.Duration) SegmenterOption {
	return func(s *Segmenter) { s.maxLen = d }
}

// WithMinUtterance drops utterances shorter than d (coughs, clicks).
func WithMinUtterance(d time.Duration) SegmenterOption {
	return func(s *Segmenter) { s.minLen = d }
}

// Segmenter groups a stream of PCM frames from one speaker into utterances.
// An utterance starts at the first voiced frame and ends after a run of
// silent frames or when the maximum length is reached. Each completed
// utterance is delivered to the emit callback as a PCM [AudioChunk].
//
// Segmenter is safe for concurrent use.
type Segmenter struct {
	threshold float64
	silence   time.Duration
	maxLen    time.Duration
	minLen    time.Duration
	now       func() time.Time
	emit      func(AudioChunk)

	mu        sync.Mutex
	speakerID string
	speaker   string
	format    Format
	buf       []byte
	voiced    time.Duration
	quiet     time.Duration
	startedAt time.Time
}

// NewSegmenter returns a Segmenter that reports utterances of speakerID to emit.
func NewSegmenter(speakerID string, emit func(AudioChunk), opts ...SegmenterOption) *Segmenter {
	s := &Segmenter{
		threshold: DefaultSilenceThreshold,
		silence:   DefaultSilenceDuration,
		maxLen:    DefaultMaxUtterance,
		minLen:    DefaultMinUtterance,
		now:       time.Now,
		emit:      emit,
		speakerID: speakerID,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetSpeaker updates the identity attached to emitted utterances, including
// the one currently being buffered.
func (s *Segmenter) SetSpeaker(id, name string) {
	s.mu.Lock()
	s.speakerID = id
	s.speaker = name
	s.mu.Unlock()
}

// Write feeds one frame into the segmenter.
func (s *Segmenter) Write(f AudioFrame) {
	format := Format{SampleRate: f.SampleRate, Channels: f.Channels}
	if !format.Valid() || len(f.Data) == 0 {
		return
	}
	frameLen := AudioChunk{Data: f.Data, SampleRate: f.SampleRate, Channels: f.Channels, Encoding: EncodingPCM16}.Duration()
	loud := RMS(f.Data) >= s.threshold

	var out *AudioChunk
	s.mu.Lock()
	if len(s.buf) > 0 && format != s.format {
		out = s.takeLocked()
	}
	switch {
	case len(s.buf) == 0 && !loud:
		// Leading silence is not buffered.
	case len(s.buf) == 0:
		s.format = format
		s.startedAt = s.now()
		s.buf = append(s.buf, f.Data...)
		s.voiced = frameLen
		s.quiet = 0
	default:
		s.buf = append(s.buf, f.Data...)
		s.voiced += frameLen
		if loud {
			s.quiet = 0
		} else {
			s.quiet += frameLen
		}
		if s.quiet >= s.silence || s.voiced >= s.maxLen {
			out = s.takeLocked()
		}
	}
	s.mu.Unlock()

	if out != nil && s.emit != nil {
		s.emit(*out)
	}
}

// Flush emits whatever is buffered, if it is long enough.
func (s *Segmenter) Flush() {
	s.mu.Lock()
	out := s.takeLocked()
	s.mu.Unlock()
	if out != nil && s.emit != nil {
		s.emit(*out)
	}
}

// Reset discards buffered audio without emitting it.
func (s *Segmenter) Reset() {
	s.mu.Lock()
	s.buf = nil
	s.voiced, s.quiet = 0, 0
	s.mu.Unlock()
}

func (s *Segmenter) takeLocked() *AudioChunk {
	if len(s.buf) == 0 {
		return nil
	}
	speech := s.voiced - s.quiet
	data := s.buf
	s.buf = nil
	s.voiced, s.quiet = 0, 0
	if speech < s.minLen {
		return nil
	}
	return &AudioChunk{
		Data:       data,
		SampleRate: s.format.SampleRate,
		Channels:   s.format.Channels,
		Encoding:   EncodingPCM16,
		SpeakerID:  s.speakerID,
		Speaker:    s.speaker,
		CapturedAt: s.startedAt,
	}
}
