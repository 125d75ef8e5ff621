package discord

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/huddle/pkg/audio"
	"github.com/bwmarrin/discordgo"
)

// Compile-time interface assertion.
var _ audio.Connection = (*Connection)(nil)

// idleCheckInterval is how often speakers that stopped sending packets are
// flushed. Discord sends nothing while a user is silent, so trailing silence
// never reaches the segmenter as frames.
const idleCheckInterval = 100 * time.Millisecond

// speaker is the per-SSRC receive state.
type speaker struct {
	dec      *opusDecoder
	seg      *audio.Segmenter
	lastSeen time.Time
}

// Connection wraps a discordgo.VoiceConnection and adapts it to the
// [audio.Connection] interface. Incoming Opus packets are decoded per SSRC
// and grouped into utterances; outgoing PCM is encoded to Opus frames.
//
// Connection is safe for concurrent use.
type Connection struct {
	vc      *discordgo.VoiceConnection
	chatID  string
	names   func(userID string) string
	segOpts []audio.SegmenterOption
	silence time.Duration

	mu       sync.Mutex
	speakers map[uint32]*speaker
	ssrcUser map[uint32]string // SSRC -> userID, from speaking updates
	cb       func(audio.AudioChunk)

	sendMu sync.Mutex
	enc    *opusEncoder

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	// disconnectVC tears down the voice connection. Defaults to
	// vc.Disconnect; overridden in tests.
	disconnectVC func() error
}

// newConnection initialises a Connection for an already-joined voice channel
// and starts the receive loop.
func newConnection(vc *discordgo.VoiceConnection, chatID string, names func(string) string, segOpts []audio.SegmenterOption) (*Connection, error) {
	enc, err := newOpusEncoder()
	if err != nil {
		return nil, err
	}
	c := &Connection{
		vc:           vc,
		chatID:       chatID,
		names:        names,
		segOpts:      segOpts,
		silence:      audio.DefaultSilenceDuration,
		speakers:     make(map[uint32]*speaker),
		ssrcUser:     make(map[uint32]string),
		enc:          enc,
		done:         make(chan struct{}),
		disconnectVC: vc.Disconnect,
	}
	vc.AddHandler(c.handleSpeakingUpdate)
	c.start()
	return c, nil
}

func (c *Connection) start() {
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.recvLoop()
	}()
	go func() {
		defer c.wg.Done()
		c.idleLoop()
	}()
}

// ChatID returns the voice channel ID.
func (c *Connection) ChatID() string { return c.chatID }

// OnAudio registers the utterance callback, replacing any previous one.
func (c *Connection) OnAudio(cb func(audio.AudioChunk)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cb = cb
}

// Push encodes pcm (48 kHz stereo) into 20 ms Opus frames and sends them.
// Concurrent pushes are serialised. A trailing partial frame is padded with
// silence.
func (c *Connection) Push(ctx context.Context, pcm []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	select {
	case <-c.done:
		return audio.ErrClosed
	default:
	}

	c.setSpeaking(true)
	defer c.setSpeaking(false)

	for _, frame := range playbackFrames(pcm) {
		packet, err := c.enc.encode(frame)
		if err != nil {
			return err
		}
		select {
		case c.vc.OpusSend <- packet:
		case <-c.done:
			return audio.ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Disconnect leaves the voice channel, discards partially captured
// utterances and stops the background goroutines. It is safe to call more
// than once; later calls return nil.
func (c *Connection) Disconnect() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if c.disconnectVC != nil {
			err = c.disconnectVC()
		}
		c.wg.Wait()

		c.mu.Lock()
		for ssrc, sp := range c.speakers {
			sp.seg.Reset()
			delete(c.speakers, ssrc)
		}
		c.cb = nil
		c.mu.Unlock()
	})
	return err
}

// recvLoop decodes Opus packets per SSRC and feeds the PCM into that
// speaker's segmenter.
func (c *Connection) recvLoop() {
	for {
		select {
		case <-c.done:
			return
		case pkt, ok := <-c.vc.OpusRecv:
			if !ok {
				return
			}
			if pkt == nil {
				continue
			}
			sp := c.speakerFor(pkt.SSRC)
			if sp == nil {
				continue
			}
			frame, err := sp.dec.frame(pkt.Opus, pkt.Timestamp)
			if err != nil {
				slog.Warn("discord: opus decode error", "chat_id", c.chatID, "ssrc", pkt.SSRC, "err", err)
				continue
			}
			sp.seg.Write(frame)
		}
	}
}

// idleLoop flushes speakers that have gone quiet for longer than the
// segmenter's silence window.
func (c *Connection) idleLoop() {
	t := time.NewTicker(idleCheckInterval)
	defer t.Stop()
	for {
		select {
		case <-c.done:
			return
		case now := <-t.C:
			var idle []*audio.Segmenter
			c.mu.Lock()
			for _, sp := range c.speakers {
				if !sp.lastSeen.IsZero() && now.Sub(sp.lastSeen) >= c.silence {
					idle = append(idle, sp.seg)
					sp.lastSeen = time.Time{}
				}
			}
			c.mu.Unlock()
			for _, seg := range idle {
				seg.Flush()
			}
		}
	}
}

func (c *Connection) speakerFor(ssrc uint32) *speaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	sp, ok := c.speakers[ssrc]
	if !ok {
		dec, err := newOpusDecoder()
		if err != nil {
			slog.Error("discord: failed to create opus decoder", "chat_id", c.chatID, "ssrc", ssrc, "err", err)
			return nil
		}
		userID := c.ssrcUser[ssrc]
		sp = &speaker{dec: dec, seg: audio.NewSegmenter(userID, c.emit, c.segOpts...)}
		if userID != "" {
			sp.seg.SetSpeaker(userID, c.displayName(userID))
		}
		c.speakers[ssrc] = sp
	}
	sp.lastSeen = time.Now()
	return sp
}

func (c *Connection) emit(chunk audio.AudioChunk) {
	c.mu.Lock()
	cb := c.cb
	c.mu.Unlock()
	if cb != nil {
		cb(chunk)
	}
}

// handleSpeakingUpdate records which user owns an SSRC.
func (c *Connection) handleSpeakingUpdate(_ *discordgo.VoiceConnection, vs *discordgo.VoiceSpeakingUpdate) {
	if vs == nil || vs.UserID == "" {
		return
	}
	ssrc := uint32(vs.SSRC)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ssrcUser[ssrc] == vs.UserID {
		return
	}
	c.ssrcUser[ssrc] = vs.UserID
	if sp, ok := c.speakers[ssrc]; ok {
		sp.seg.SetSpeaker(vs.UserID, c.displayName(vs.UserID))
	}
}

func (c *Connection) displayName(userID string) string {
	if c.names == nil {
		return userID
	}
	if name := c.names(userID); name != "" {
		return name
	}
	return userID
}

// setSpeaking sends a speaking notification to Discord, logging any errors.
func (c *Connection) setSpeaking(b bool) {
	if err := c.vc.Speaking(b); err != nil {
		slog.Warn("discord: speaking notification error", "chat_id", c.chatID, "speaking", b, "err", err)
	}
}
