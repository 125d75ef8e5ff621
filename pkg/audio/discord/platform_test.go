package discord

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/huddle/pkg/audio"
	"github.com/bwmarrin/discordgo"
)

// ─── test helpers ─────────────────────────────────────────────────────────────

// newTestConnection creates a Connection suitable for unit testing without
// a real Discord voice connection. It wires up fake OpusSend/OpusRecv channels.
func newTestConnection(t *testing.T) *Connection {
	t.Helper()
	vc := &discordgo.VoiceConnection{
		OpusSend: make(chan []byte, 16),
		OpusRecv: make(chan *discordgo.Packet, 16),
	}
	enc, err := newOpusEncoder()
	if err != nil {
		t.Fatalf("newOpusEncoder: %v", err)
	}
	c := &Connection{
		vc:           vc,
		chatID:       "chat-test",
		names:        func(id string) string { return "name-" + id },
		silence:      audio.DefaultSilenceDuration,
		speakers:     make(map[uint32]*speaker),
		ssrcUser:     make(map[uint32]string),
		enc:          enc,
		done:         make(chan struct{}),
		disconnectVC: func() error { return nil },
	}
	c.start()
	t.Cleanup(func() { _ = c.Disconnect() })
	return c
}

func (c *Connection) speakerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.speakers)
}

// ─── Platform tests ──────────────────────────────────────────────────────────

func TestNewPlatform(t *testing.T) {
	t.Parallel()

	s := &discordgo.Session{}
	p := New(s, "guild-123", WithNameResolver(func(string) string { return "x" }))
	if p.session != s {
		t.Error("session not stored correctly")
	}
	if p.guildID != "guild-123" {
		t.Errorf("guildID = %q, want %q", p.guildID, "guild-123")
	}
	if got := p.names("u"); got != "x" {
		t.Errorf("names(u) = %q, want %q", got, "x")
	}
}

func TestPlatform_ConnectCancelledContext(t *testing.T) {
	t.Parallel()

	p := New(&discordgo.Session{}, "guild-1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Connect(ctx, "chan"); !errors.Is(err, context.Canceled) {
		t.Errorf("Connect err = %v, want context.Canceled", err)
	}
}

func TestPlatform_MemberNameWithoutState(t *testing.T) {
	t.Parallel()

	p := New(nil, "guild-1")
	if got := p.memberName("u1"); got != "" {
		t.Errorf("memberName = %q, want empty", got)
	}
}

// ─── Connection tests ─────────────────────────────────────────────────────────

func TestConnection_ChatID(t *testing.T) {
	t.Parallel()
	c := newTestConnection(t)
	if got := c.ChatID(); got != "chat-test" {
		t.Errorf("ChatID = %q, want %q", got, "chat-test")
	}
}

func TestConnection_DisconnectIdempotent(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)
	for i := range 3 {
		if err := c.Disconnect(); err != nil {
			t.Fatalf("Disconnect[%d]: unexpected error: %v", i, err)
		}
	}
}

func TestConnection_PushAfterDisconnect(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)
	_ = c.Disconnect()
	if err := c.Push(context.Background(), make([]byte, opusFrameBytes)); !errors.Is(err, audio.ErrClosed) {
		t.Errorf("Push err = %v, want ErrClosed", err)
	}
}

// TestConnection_PushEncodes verifies that pushed PCM is split into 20 ms
// frames, with a trailing partial frame padded to a full packet.
func TestConnection_PushEncodes(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)
	pcm := make([]byte, opusFrameBytes*2+100)
	if err := c.Push(context.Background(), pcm); err != nil {
		t.Fatalf("Push: %v", err)
	}

	for i := range 3 {
		select {
		case pkt := <-c.vc.OpusSend:
			if len(pkt) == 0 {
				t.Errorf("packet %d is empty", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for packet %d", i)
		}
	}
	select {
	case <-c.vc.OpusSend:
		t.Error("unexpected extra packet")
	default:
	}
}

func TestConnection_PushRespectsContext(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)
	// OpusSend buffers 16 packets; 32 frames will block on the 17th.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := c.Push(ctx, make([]byte, opusFrameBytes*32))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Push err = %v, want DeadlineExceeded", err)
	}
}

// TestConnection_RecvTracksSpeakers verifies that packets from distinct SSRCs
// get distinct receive state and that speaking updates attach identities.
func TestConnection_RecvTracksSpeakers(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)

	// Opus silence frame.
	silenceOpus := []byte{0xF8, 0xFF, 0xFE}
	c.vc.OpusRecv <- &discordgo.Packet{SSRC: 100, Opus: silenceOpus}
	c.vc.OpusRecv <- &discordgo.Packet{SSRC: 200, Opus: silenceOpus}

	deadline := time.Now().Add(time.Second)
	for c.speakerCount() != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("speakers = %d, want 2", c.speakerCount())
		}
		time.Sleep(10 * time.Millisecond)
	}

	c.handleSpeakingUpdate(nil, &discordgo.VoiceSpeakingUpdate{UserID: "u-100", SSRC: 100, Speaking: true})

	c.mu.Lock()
	got := c.ssrcUser[100]
	c.mu.Unlock()
	if got != "u-100" {
		t.Errorf("ssrcUser[100] = %q, want %q", got, "u-100")
	}
}

func TestConnection_EmitDeliversToCallback(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)
	got := make(chan audio.AudioChunk, 1)
	c.OnAudio(func(ch audio.AudioChunk) { got <- ch })

	c.emit(audio.AudioChunk{Speaker: "alice"})
	select {
	case ch := <-got:
		if ch.Speaker != "alice" {
			t.Errorf("Speaker = %q, want alice", ch.Speaker)
		}
	case <-time.After(time.Second):
		t.Fatal("callback not invoked")
	}
}

func TestConnection_DisplayNameFallsBackToID(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)
	c.names = func(string) string { return "" }
	if got := c.displayName("u9"); got != "u9" {
		t.Errorf("displayName = %q, want u9", got)
	}
}

// TestConnection_ConcurrentDisconnect exercises Disconnect from multiple
// goroutines to verify thread safety (run with -race).
func TestConnection_ConcurrentDisconnect(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)
	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			_ = c.Disconnect()
		})
	}
	wg.Wait()
}

// ─── opus framing ─────────────────────────────────────────────────────────────

func TestPlaybackFrames_PadsLastFrame(t *testing.T) {
	t.Parallel()

	pcm := make([]byte, opusFrameBytes*2+100)
	for i := range pcm {
		pcm[i] = 0x7f
	}
	frames := playbackFrames(pcm)
	if len(frames) != 3 {
		t.Fatalf("frames = %d, want 3", len(frames))
	}
	for i, f := range frames {
		if len(f) != opusFrameBytes {
			t.Errorf("frame %d: %d bytes, want %d", i, len(f), opusFrameBytes)
		}
	}
	last := frames[2]
	if last[99] != 0x7f || last[100] != 0 || last[opusFrameBytes-1] != 0 {
		t.Error("last frame is not padded with silence after the payload")
	}
	if got := playbackFrames(nil); len(got) != 0 {
		t.Errorf("empty input: %d frames, want 0", len(got))
	}
}

func TestRTPTime(t *testing.T) {
	t.Parallel()

	if got := rtpTime(opusFrameSize); got != 20*time.Millisecond {
		t.Errorf("rtpTime(one frame) = %v, want 20ms", got)
	}
	if got := rtpTime(opusSampleRate * 3); got != 3*time.Second {
		t.Errorf("rtpTime(3s) = %v, want 3s", got)
	}
}

func TestSamplesPCMRoundTrip(t *testing.T) {
	t.Parallel()

	samples := []int16{0, 1, -1, 32767, -32768}
	pcm := samplesToPCM(samples)
	if len(pcm) != 10 || pcm[2] != 0x01 || pcm[3] != 0x00 || pcm[4] != 0xff {
		t.Fatalf("pcm = %v, want little-endian samples", pcm)
	}
	back := pcmToSamples(pcm)
	for i := range samples {
		if back[i] != samples[i] {
			t.Errorf("sample %d = %d, want %d", i, back[i], samples[i])
		}
	}
}
