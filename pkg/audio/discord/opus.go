package discord

import (
	"encoding/binary"
	"fmt"
	"time"

	"layeh.com/gopus"

	"github.com/MrWong99/huddle/pkg/audio"
)

// Discord voice carries 48 kHz stereo Opus in 20 ms frames.
const (
	opusSampleRate = 48000
	opusChannels   = 2
	opusFrameSize  = opusSampleRate / 50 // samples per channel in 20 ms
	opusFrameBytes = opusFrameSize * opusChannels * 2
)

// opusDecoder turns one speaker's packets into PCM frames. Opus decoding
// carries state between packets, so every SSRC gets its own decoder.
type opusDecoder struct {
	dec *gopus.Decoder
}

func newOpusDecoder() (*opusDecoder, error) {
	dec, err := gopus.NewDecoder(opusSampleRate, opusChannels)
	if err != nil {
		return nil, fmt.Errorf("discord: create opus decoder: %w", err)
	}
	return &opusDecoder{dec: dec}, nil
}

// frame decodes packet into a PCM frame stamped with its RTP timestamp.
func (d *opusDecoder) frame(packet []byte, rtpTimestamp uint32) (audio.AudioFrame, error) {
	samples, err := d.dec.Decode(packet, opusFrameSize, false)
	if err != nil {
		return audio.AudioFrame{}, fmt.Errorf("discord: opus decode: %w", err)
	}
	return audio.AudioFrame{
		Data:       samplesToPCM(samples),
		SampleRate: opusSampleRate,
		Channels:   opusChannels,
		Timestamp:  rtpTime(rtpTimestamp),
	}, nil
}

// opusEncoder encodes the outbound stream of one connection.
type opusEncoder struct {
	enc *gopus.Encoder
}

func newOpusEncoder() (*opusEncoder, error) {
	enc, err := gopus.NewEncoder(opusSampleRate, opusChannels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("discord: create opus encoder: %w", err)
	}
	return &opusEncoder{enc: enc}, nil
}

// encode turns one whole playback frame into an Opus packet.
func (e *opusEncoder) encode(frame []byte) ([]byte, error) {
	packet, err := e.enc.Encode(pcmToSamples(frame), opusFrameSize, opusFrameBytes)
	if err != nil {
		return nil, fmt.Errorf("discord: opus encode: %w", err)
	}
	return packet, nil
}

// playbackFrames splits 48 kHz stereo PCM into whole Opus frames. The last
// frame is padded with silence.
func playbackFrames(pcm []byte) [][]byte {
	frames := make([][]byte, 0, (len(pcm)+opusFrameBytes-1)/opusFrameBytes)
	for off := 0; off < len(pcm); off += opusFrameBytes {
		frame := pcm[off:min(off+opusFrameBytes, len(pcm))]
		if len(frame) < opusFrameBytes {
			padded := make([]byte, opusFrameBytes)
			copy(padded, frame)
			frame = padded
		}
		frames = append(frames, frame)
	}
	return frames
}

// rtpTime converts an RTP timestamp on the 48 kHz Opus clock to a duration.
func rtpTime(ts uint32) time.Duration {
	return time.Duration(ts) * time.Second / opusSampleRate
}

func samplesToPCM(samples []int16) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	return pcm
}

func pcmToSamples(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples
}
