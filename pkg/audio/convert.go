package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns e.g. "48000Hz stereo".
func (f Format) String() string {
	ch := "mono"
	switch {
	case f.Channels == 2:
		ch = "stereo"
	case f.Channels > 2:
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// Valid reports whether both fields are positive.
func (f Format) Valid() bool { return f.SampleRate > 0 && f.Channels > 0 }

// ConvertPCM converts 16-bit little-endian PCM from one format to another.
// Downmixing runs before resampling and upmixing after it, so the resampler
// always works on the fewest channels.
// Input whose length is not a whole number of frames is rejected.
func ConvertPCM(pcm []byte, from, to Format) ([]byte, error) {
	if !from.Valid() || !to.Valid() {
		return nil, fmt.Errorf("audio: invalid format %s -> %s", from, to)
	}
	if len(pcm)%(2*from.Channels) != 0 {
		return nil, fmt.Errorf("audio: %d bytes is not a whole number of %s frames", len(pcm), from)
	}
	if from == to {
		return pcm, nil
	}

	out := pcm
	channels := from.Channels
	if to.Channels < channels {
		out = downmix(out, channels, to.Channels)
		channels = to.Channels
	}
	if from.SampleRate != to.SampleRate {
		out = resample(out, channels, from.SampleRate, to.SampleRate)
	}
	if to.Channels > channels {
		out = upmix(out, channels, to.Channels)
	}
	return out, nil
}

// MonoToStereo duplicates each mono sample into an L+R pair.
func MonoToStereo(pcm []byte) []byte { return upmix(pcm, 1, 2) }

// StereoToMono averages each L+R pair into one mono sample.
func StereoToMono(pcm []byte) []byte { return downmix(pcm, 2, 1) }

// Resample16 resamples interleaved 16-bit PCM with linear interpolation.
// It returns pcm unchanged when the rates match or are not positive.
func Resample16(pcm []byte, channels, srcRate, dstRate int) []byte {
	return resample(pcm, channels, srcRate, dstRate)
}

// RMS returns the root-mean-square amplitude of 16-bit PCM samples.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		s := float64(sample(pcm, i))
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// Silence returns d worth of zeroed PCM in format f.
func Silence(f Format, d time.Duration) []byte {
	samples := int(int64(f.SampleRate) * int64(d) / int64(time.Second))
	return make([]byte, samples*f.Channels*2)
}

func sample(pcm []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(pcm[i*2:]))
}

func putSample(pcm []byte, i int, v int16) {
	binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
}

func clamp16(v int32) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// downmix averages groups of src channels into dst channels. Only the
// n→1 case averages everything; otherwise the first dst channels are kept.
func downmix(pcm []byte, src, dst int) []byte {
	frames := len(pcm) / (2 * src)
	out := make([]byte, frames*dst*2)
	for f := range frames {
		if dst == 1 {
			var sum int32
			for c := range src {
				sum += int32(sample(pcm, f*src+c))
			}
			putSample(out, f, clamp16(sum/int32(src)))
			continue
		}
		for c := range dst {
			putSample(out, f*dst+c, sample(pcm, f*src+c))
		}
	}
	return out
}

// upmix copies mono samples into every output channel, or pads extra
// channels with the last source channel.
func upmix(pcm []byte, src, dst int) []byte {
	frames := len(pcm) / (2 * src)
	out := make([]byte, frames*dst*2)
	for f := range frames {
		for c := range dst {
			sc := min(c, src-1)
			putSample(out, f*dst+c, sample(pcm, f*src+sc))
		}
	}
	return out
}

func resample(pcm []byte, channels, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || channels <= 0 {
		return pcm
	}
	srcFrames := len(pcm) / (2 * channels)
	if srcFrames == 0 {
		return pcm
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*channels*2)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		next := min(idx+1, srcFrames-1)
		for c := range channels {
			s0 := float64(sample(pcm, idx*channels+c))
			s1 := float64(sample(pcm, next*channels+c))
			putSample(out, i*channels+c, int16(s0*(1-frac)+s1*frac))
		}
	}
	return out
}
