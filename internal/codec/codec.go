// Package codec converts captured and synthesized audio between the formats
// the engine's collaborators need: 16 kHz mono PCM for transcription, 48 kHz
// stereo PCM for live playback and Ogg/Opus for voice messages.
//
// Raw PCM and plain WAV are converted in-process. Compressed containers are
// handed to an external ffmpeg binary through scratch files that are removed
// on every exit path.
package codec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/MrWong99/huddle/pkg/audio"
)

// Sentinel errors carried by [*Error].
var (
	// ErrUnsupportedFormat means the source encoding is not one the bridge
	// knows how to read.
	ErrUnsupportedFormat = errors.New("codec: unsupported format")

	// ErrConversionFailed means the conversion itself failed.
	ErrConversionFailed = errors.New("codec: conversion failed")
)

// Error describes a failed conversion. It matches [ErrUnsupportedFormat] or
// [ErrConversionFailed] with errors.Is.
type Error struct {
	// Op is the target of the conversion, e.g. "transcription".
	Op string

	// Encoding is the source encoding.
	Encoding audio.Encoding

	// Kind is ErrUnsupportedFormat or ErrConversionFailed.
	Kind error

	// Err is the underlying cause, may be nil.
	Err error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%v: %s from %q", e.Kind, e.Op, e.Encoding)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns both the kind and the cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// containerExt maps the encodings ffmpeg reads to scratch-file extensions.
var containerExt = map[audio.Encoding]string{
	audio.EncodingOggOpus: ".ogg",
	audio.EncodingWebM:    ".webm",
	audio.EncodingMP3:     ".mp3",
	audio.EncodingWAV:     ".wav",
	audio.EncodingM4A:     ".m4a",
	audio.EncodingFLAC:    ".flac",
}

// Supported reports whether enc can be converted.
func Supported(enc audio.Encoding) bool {
	if enc == audio.EncodingPCM16 {
		return true
	}
	_, ok := containerExt[enc]
	return ok
}

// Runner executes an external command and returns its standard error.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stderr []byte, err error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements [Runner].
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stderr.Bytes(), err
}

// maxStderr bounds how much ffmpeg output is kept in an error.
const maxStderr = 2 << 10

// Option is a functional option for [New].
type Option func(*Bridge)

// WithFFmpegPath sets the ffmpeg binary. Default "ffmpeg" on PATH.
func WithFFmpegPath(path string) Option {
	return func(b *Bridge) {
		if path != "" {
			b.ffmpeg = path
		}
	}
}

// WithRunner replaces the command runner. Tests use a fake.
func WithRunner(r Runner) Option {
	return func(b *Bridge) { b.runner = r }
}

// WithTempDir sets the parent directory of scratch files. Default os.TempDir().
func WithTempDir(dir string) Option {
	return func(b *Bridge) { b.tempDir = dir }
}

// WithLogger sets the logger. Default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) { b.log = l }
}

// Bridge converts audio. It holds no per-call state and is safe for
// concurrent use.
type Bridge struct {
	ffmpeg  string
	runner  Runner
	tempDir string
	log     *slog.Logger
}

// New returns a Bridge with the given options applied.
func New(opts ...Option) *Bridge {
	b := &Bridge{ffmpeg: "ffmpeg", runner: ExecRunner{}, log: slog.Default()}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Check verifies that the ffmpeg binary can be found.
func (b *Bridge) Check() error {
	if _, err := exec.LookPath(b.ffmpeg); err != nil {
		return fmt.Errorf("codec: ffmpeg %q: %w", b.ffmpeg, err)
	}
	return nil
}

// ToTranscriptionFormat converts chunk to 16 kHz mono PCM.
func (b *Bridge) ToTranscriptionFormat(ctx context.Context, chunk audio.AudioChunk) (audio.AudioChunk, error) {
	return b.toPCM(ctx, "transcription", chunk, audio.TranscriptionFormat)
}

// ToPlaybackFormat converts chunk to 48 kHz stereo PCM.
func (b *Bridge) ToPlaybackFormat(ctx context.Context, chunk audio.AudioChunk) (audio.AudioChunk, error) {
	return b.toPCM(ctx, "playback", chunk, audio.PlaybackFormat)
}

// ToVoiceMessage encodes chunk as a mono Ogg/Opus file suitable for a
// voice-message upload. Ogg/Opus input is returned unchanged.
func (b *Bridge) ToVoiceMessage(ctx context.Context, chunk audio.AudioChunk) (audio.AudioChunk, error) {
	const op = "voice message"
	if chunk.Encoding == audio.EncodingOggOpus {
		return chunk, nil
	}
	if err := b.precheck(op, chunk); err != nil {
		return audio.AudioChunk{}, err
	}

	inArgs, inData, ext := b.inputSpec(chunk)
	out, err := b.runFFmpeg(ctx, inArgs, ext, inData, ".ogg",
		"-ac", "1", "-c:a", "libopus", "-b:a", "32k", "-application", "voip", "-f", "ogg")
	if err != nil {
		return audio.AudioChunk{}, &Error{Op: op, Encoding: chunk.Encoding, Kind: ErrConversionFailed, Err: err}
	}
	return audio.AudioChunk{
		Data:       out,
		SampleRate: 48000,
		Channels:   1,
		Encoding:   audio.EncodingOggOpus,
		SpeakerID:  chunk.SpeakerID,
		Speaker:    chunk.Speaker,
		CapturedAt: chunk.CapturedAt,
	}, nil
}

func (b *Bridge) precheck(op string, chunk audio.AudioChunk) error {
	if !Supported(chunk.Encoding) {
		return &Error{Op: op, Encoding: chunk.Encoding, Kind: ErrUnsupportedFormat}
	}
	if len(chunk.Data) == 0 {
		return &Error{Op: op, Encoding: chunk.Encoding, Kind: ErrConversionFailed, Err: errors.New("empty input")}
	}
	if chunk.Encoding == audio.EncodingPCM16 && !chunk.Format().Valid() {
		return &Error{Op: op, Encoding: chunk.Encoding, Kind: ErrConversionFailed,
			Err: fmt.Errorf("pcm input without a valid format (%s)", chunk.Format())}
	}
	return nil
}

func (b *Bridge) toPCM(ctx context.Context, op string, chunk audio.AudioChunk, to audio.Format) (audio.AudioChunk, error) {
	if err := b.precheck(op, chunk); err != nil {
		return audio.AudioChunk{}, err
	}

	var (
		pcm []byte
		err error
	)
	switch chunk.Encoding {
	case audio.EncodingPCM16:
		pcm, err = audio.ConvertPCM(chunk.Data, chunk.Format(), to)
	case audio.EncodingWAV:
		pcm, err = b.wavToPCM(ctx, chunk, to)
	default:
		pcm, err = b.ffmpegToPCM(ctx, chunk, to)
	}
	if err != nil {
		return audio.AudioChunk{}, &Error{Op: op, Encoding: chunk.Encoding, Kind: ErrConversionFailed, Err: err}
	}
	return audio.AudioChunk{
		Data:       pcm,
		SampleRate: to.SampleRate,
		Channels:   to.Channels,
		Encoding:   audio.EncodingPCM16,
		SpeakerID:  chunk.SpeakerID,
		Speaker:    chunk.Speaker,
		CapturedAt: chunk.CapturedAt,
	}, nil
}

// wavToPCM decodes plain 16-bit WAV in-process and leaves anything else
// (float samples, ADPCM) to ffmpeg.
func (b *Bridge) wavToPCM(ctx context.Context, chunk audio.AudioChunk, to audio.Format) ([]byte, error) {
	pcm, from, err := audio.DecodeWAV(chunk.Data)
	if err == nil {
		return audio.ConvertPCM(pcm, from, to)
	}
	b.log.Debug("codec: wav not decodable in-process, using ffmpeg", "err", err)
	return b.ffmpegToPCM(ctx, chunk, to)
}

func (b *Bridge) ffmpegToPCM(ctx context.Context, chunk audio.AudioChunk, to audio.Format) ([]byte, error) {
	inArgs, inData, ext := b.inputSpec(chunk)
	return b.runFFmpeg(ctx, inArgs, ext, inData, ".pcm",
		"-f", "s16le", "-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(to.SampleRate), "-ac", strconv.Itoa(to.Channels))
}

// inputSpec returns the ffmpeg input options, payload and scratch-file
// extension for chunk.
func (b *Bridge) inputSpec(chunk audio.AudioChunk) (args []string, data []byte, ext string) {
	if chunk.Encoding == audio.EncodingPCM16 {
		return []string{
			"-f", "s16le",
			"-ar", strconv.Itoa(chunk.SampleRate),
			"-ac", strconv.Itoa(chunk.Channels),
		}, chunk.Data, ".pcm"
	}
	return nil, chunk.Data, containerExt[chunk.Encoding]
}

// runFFmpeg writes data to a scratch input file, runs ffmpeg with the given
// input and output options and returns the output file's contents. The
// scratch directory is removed before returning.
func (b *Bridge) runFFmpeg(ctx context.Context, inArgs []string, inExt string, data []byte, outExt string, outArgs ...string) ([]byte, error) {
	dir, cleanup, err := b.scratchDir()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	in := filepath.Join(dir, "in"+inExt)
	out := filepath.Join(dir, "out"+outExt)
	if err := os.WriteFile(in, data, 0o600); err != nil {
		return nil, fmt.Errorf("write input: %w", err)
	}

	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin", "-y"}
	args = append(args, inArgs...)
	args = append(args, "-i", in)
	args = append(args, outArgs...)
	args = append(args, out)

	stderr, err := b.runner.Run(ctx, b.ffmpeg, args...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		detail := strings.TrimSpace(string(stderr))
		if len(detail) > maxStderr {
			detail = strings.TrimSpace(detail[len(detail)-maxStderr:])
		}
		if detail == "" {
			return nil, fmt.Errorf("ffmpeg: %w", err)
		}
		return nil, fmt.Errorf("ffmpeg: %w: %s", err, detail)
	}

	result, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}
	if len(result) == 0 {
		return nil, errors.New("ffmpeg produced no output")
	}
	return result, nil
}

// scratchDir creates a private directory for one conversion and returns a
// function that removes it.
func (b *Bridge) scratchDir() (string, func(), error) {
	dir, err := os.MkdirTemp(b.tempDir, "huddle-codec-*")
	if err != nil {
		return "", func() {}, fmt.Errorf("create scratch dir: %w", err)
	}
	return dir, func() {
		if err := os.RemoveAll(dir); err != nil {
			b.log.Warn("codec: failed to remove scratch dir", "dir", dir, "err", err)
		}
	}, nil
}
