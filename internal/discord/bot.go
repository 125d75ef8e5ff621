// Package discord is the Discord surface of Huddle. It owns the
// discordgo.Session lifecycle, exposes the voice [audio.Platform] and the
// text-channel [Messenger], and reports how many people sit in each voice
// channel so the engine can decide when to join and leave.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/huddle/pkg/audio"
	discordaudio "github.com/MrWong99/huddle/pkg/audio/discord"
)

// Config holds Discord bot configuration.
type Config struct {
	// Token is the bot token without the "Bot " prefix.
	Token string `yaml:"token"`

	// GuildID is the guild whose voice channels the bot serves.
	GuildID string `yaml:"guild_id"`
}

// ParticipantObserver receives the number of humans currently in a voice
// channel whenever it may have changed.
type ParticipantObserver func(ctx context.Context, chatID string, count int) error

// Option configures a [Bot].
type Option func(*Bot)

// WithPlatformOptions forwards options to the voice platform.
func WithPlatformOptions(opts ...discordaudio.Option) Option {
	return func(b *Bot) { b.platformOpts = append(b.platformOpts, opts...) }
}

// Bot owns the Discord gateway connection.
type Bot struct {
	mu           sync.RWMutex
	session      *discordgo.Session
	platform     *discordaudio.Platform
	platformOpts []discordaudio.Option
	messenger    *Messenger
	guildID      string
	observer     ParticipantObserver
	ctx          context.Context
	closeOnce    sync.Once
}

// New creates a Bot and connects it to the Discord gateway.
func New(_ context.Context, cfg Config, opts ...Option) (*Bot, error) {
	if cfg.Token == "" {
		return nil, errors.New("discord: token is required")
	}
	if cfg.GuildID == "" {
		return nil, errors.New("discord: guild id is required")
	}

	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsMessageContent
	session.State.TrackVoice = true

	b := &Bot{
		session: session,
		guildID: cfg.GuildID,
		ctx:     context.Background(),
	}
	for _, o := range opts {
		o(b)
	}
	b.platform = discordaudio.New(session, cfg.GuildID, b.platformOpts...)
	b.messenger = NewMessenger(session, b.selfID)

	session.AddHandler(b.onVoiceStateUpdate)
	session.AddHandler(b.onGuildCreate)

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("discord: open session: %w", err)
	}
	return b, nil
}

// Platform returns the voice platform for joining channels.
func (b *Bot) Platform() audio.Platform {
	return b.platform
}

// Messenger returns the text-channel messenger. It also serves as the
// chat history source.
func (b *Bot) Messenger() *Messenger {
	return b.messenger
}

// GuildID returns the served guild ID.
func (b *Bot) GuildID() string {
	return b.guildID
}

// Name returns the bot account's username, or "" before the handshake.
func (b *Bot) Name() string {
	if b.session == nil || b.session.State == nil || b.session.State.User == nil {
		return ""
	}
	return b.session.State.User.Username
}

// Observe registers fn to receive participant counts. Counts already known
// from the gateway state are replayed once Run starts.
func (b *Bot) Observe(fn ParticipantObserver) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observer = fn
}

// Ready reports whether the gateway session has completed its handshake.
func (b *Bot) Ready(context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.session == nil || !b.session.DataReady {
		return errors.New("discord: gateway not ready")
	}
	return nil
}

// Run replays the current voice channel occupancy to the observer and
// blocks until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.mu.Lock()
	b.ctx = ctx
	b.mu.Unlock()

	if guild, err := b.session.State.Guild(b.guildID); err == nil {
		b.report(guild.VoiceStates, channelsOf(guild.VoiceStates)...)
	}

	<-ctx.Done()
	return ctx.Err()
}

// Close disconnects from Discord.
func (b *Bot) Close() error {
	var closeErr error
	b.closeOnce.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.session != nil {
			if err := b.session.Close(); err != nil {
				closeErr = fmt.Errorf("discord: close session: %w", err)
			}
		}
		slog.Info("discord bot closed")
	})
	return closeErr
}

// ── Gateway handlers ────────────────────────────────────────────────────────

func (b *Bot) onVoiceStateUpdate(s *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
	if vs == nil || vs.VoiceState == nil || vs.GuildID != b.guildID {
		return
	}
	var before string
	if vs.BeforeUpdate != nil {
		before = vs.BeforeUpdate.ChannelID
	}
	if before == vs.ChannelID {
		// Mute, deafen or stream toggles do not change occupancy.
		return
	}
	guild, err := s.State.Guild(b.guildID)
	if err != nil {
		slog.Debug("discord: guild not in state", "guild_id", b.guildID, "err", err)
		return
	}
	b.report(guild.VoiceStates, before, vs.ChannelID)
}

func (b *Bot) onGuildCreate(_ *discordgo.Session, g *discordgo.GuildCreate) {
	if g == nil || g.Guild == nil || g.ID != b.guildID {
		return
	}
	b.report(g.VoiceStates, channelsOf(g.VoiceStates)...)
}

// report recounts the given channels and forwards each count.
func (b *Bot) report(states []*discordgo.VoiceState, channels ...string) {
	b.mu.RLock()
	observer, ctx := b.observer, b.ctx
	b.mu.RUnlock()
	if observer == nil {
		return
	}

	counts := countHumans(states, b.isBot)
	seen := make(map[string]bool, len(channels))
	for _, ch := range channels {
		if ch == "" || seen[ch] {
			continue
		}
		seen[ch] = true
		if err := observer(ctx, ch, counts[ch]); err != nil {
			slog.Warn("discord: participant update failed", "chat_id", ch, "count", counts[ch], "err", err)
		}
	}
}

// isBot reports whether the voice state belongs to a bot account, falling
// back to the member cache when the state carries no member.
func (b *Bot) isBot(vs *discordgo.VoiceState) bool {
	if vs.Member != nil && vs.Member.User != nil {
		return vs.Member.User.Bot
	}
	if vs.UserID == b.selfID() {
		return true
	}
	if m, err := b.session.State.Member(b.guildID, vs.UserID); err == nil && m.User != nil {
		return m.User.Bot
	}
	return false
}

func (b *Bot) selfID() string {
	if b.session == nil || b.session.State == nil || b.session.State.User == nil {
		return ""
	}
	return b.session.State.User.ID
}

// countHumans returns the number of distinct non-bot users per voice channel.
func countHumans(states []*discordgo.VoiceState, isBot func(*discordgo.VoiceState) bool) map[string]int {
	counts := make(map[string]int)
	seen := make(map[string]bool, len(states))
	for _, vs := range states {
		if vs == nil || vs.ChannelID == "" || vs.UserID == "" || seen[vs.UserID] {
			continue
		}
		seen[vs.UserID] = true
		if isBot(vs) {
			continue
		}
		counts[vs.ChannelID]++
	}
	return counts
}

func channelsOf(states []*discordgo.VoiceState) []string {
	out := make([]string, 0, len(states))
	for _, vs := range states {
		if vs != nil && vs.ChannelID != "" {
			out = append(out, vs.ChannelID)
		}
	}
	return out
}
