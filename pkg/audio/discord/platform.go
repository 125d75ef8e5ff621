// Package discord provides an [audio.Platform] implementation backed by
// Discord voice channels via the bwmarrin/discordgo library. A chat ID is a
// voice channel ID within the configured guild.
//
// The platform requires an active *discordgo.Session (owned by the bot layer).
// Each call to [Platform.Connect] joins the voice channel and returns a
// [Connection] that turns per-speaker Opus input into utterance chunks and
// encodes reply PCM back to Opus.
package discord

import (
	"context"
	"fmt"

	"github.com/MrWong99/huddle/pkg/audio"
	"github.com/bwmarrin/discordgo"
)

// Compile-time interface assertion.
var _ audio.Platform = (*Platform)(nil)

// Option is a functional option for [New].
type Option func(*Platform)

// WithSegmenterOptions tunes utterance detection for every connection.
func WithSegmenterOptions(opts ...audio.SegmenterOption) Option {
	return func(p *Platform) { p.segOpts = append(p.segOpts, opts...) }
}

// WithNameResolver overrides how user IDs are turned into display names.
func WithNameResolver(fn func(userID string) string) Option {
	return func(p *Platform) { p.names = fn }
}

// Platform implements [audio.Platform] using a discordgo voice connection.
//
// Platform is safe for concurrent use.
type Platform struct {
	session *discordgo.Session
	guildID string
	segOpts []audio.SegmenterOption
	names   func(userID string) string
}

// New creates a new Discord Platform for the given session and guild.
func New(session *discordgo.Session, guildID string, opts ...Option) *Platform {
	p := &Platform{
		session: session,
		guildID: guildID,
	}
	p.names = p.memberName
	for _, o := range opts {
		o(p)
	}
	return p
}

// Connect joins the voice channel identified by chatID. The supplied ctx
// governs the setup phase only.
func (p *Platform) Connect(ctx context.Context, chatID string) (audio.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// mute=false (we send audio), deaf=false (we receive audio).
	vc, err := p.session.ChannelVoiceJoin(p.guildID, chatID, false, false)
	if err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", chatID, err)
	}

	conn, err := newConnection(vc, chatID, p.names, p.segOpts)
	if err != nil {
		_ = vc.Disconnect()
		return nil, fmt.Errorf("discord: create connection: %w", err)
	}
	return conn, nil
}

// memberName resolves a guild nickname or username from the state cache.
func (p *Platform) memberName(userID string) string {
	if p.session == nil || p.session.State == nil {
		return ""
	}
	m, err := p.session.State.Member(p.guildID, userID)
	if err != nil || m == nil {
		return ""
	}
	if m.Nick != "" {
		return m.Nick
	}
	if m.User != nil {
		if m.User.GlobalName != "" {
			return m.User.GlobalName
		}
		return m.User.Username
	}
	return ""
}
