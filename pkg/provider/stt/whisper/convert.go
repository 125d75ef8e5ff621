package whisper

import (
	"encoding/binary"
	"fmt"

	"github.com/MrWong99/huddle/pkg/audio"
)

// modelFormat is the PCM layout whisper.cpp models expect.
var modelFormat = audio.Format{SampleRate: defaultSampleRate, Channels: 1}

// modelInput converts pcm in format f to 16 kHz mono and scales it to
// float32 samples in [-1, 1). A trailing partial frame is dropped.
func modelInput(pcm []byte, f audio.Format) ([]float32, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("whisper: invalid input format %s", f)
	}
	pcm = pcm[:len(pcm)-len(pcm)%(2*f.Channels)]
	mono, err := audio.ConvertPCM(pcm, f, modelFormat)
	if err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}
	samples := make([]float32, len(mono)/2)
	for i := range samples {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(mono[2*i:]))) / 32768.0
	}
	return samples, nil
}
