package discord

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/huddle/internal/turn"
	"github.com/MrWong99/huddle/pkg/audio"
)

var (
	_ turn.Messenger = (*Messenger)(nil)
	_ turn.History   = (*Messenger)(nil)
)

// maxMessageLen is Discord's hard limit on message content.
const maxMessageLen = 2000

// maxHistoryFetch is the largest page ChannelMessages accepts.
const maxHistoryFetch = 100

// ChannelAPI is the subset of *discordgo.Session the messenger uses.
type ChannelAPI interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
}

// Messenger posts replies into a voice channel's text chat and reads its
// recent history. A chat ID is the voice channel ID.
type Messenger struct {
	api   ChannelAPI
	botID func() string
}

// NewMessenger wraps api. botID reports the bot's own user ID so its
// messages can be left out of the history; it may be nil.
func NewMessenger(api ChannelAPI, botID func() string) *Messenger {
	if botID == nil {
		botID = func() string { return "" }
	}
	return &Messenger{api: api, botID: botID}
}

// SendText implements [turn.Messenger].
func (m *Messenger) SendText(ctx context.Context, chatID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) > maxMessageLen {
		text = truncate(text, maxMessageLen)
	}
	if _, err := m.api.ChannelMessageSend(chatID, text, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: send text to %s: %w", chatID, err)
	}
	return nil
}

// SendVoice implements [turn.Messenger]. The chunk is uploaded as an
// attachment named after its encoding.
func (m *Messenger) SendVoice(ctx context.Context, chatID string, voice audio.AudioChunk) error {
	if len(voice.Data) == 0 {
		return fmt.Errorf("discord: send voice to %s: empty audio", chatID)
	}
	name, contentType := attachmentFor(voice.Encoding)
	msg := &discordgo.MessageSend{
		Files: []*discordgo.File{{
			Name:        name,
			ContentType: contentType,
			Reader:      bytes.NewReader(voice.Data),
		}},
	}
	if _, err := m.api.ChannelMessageSendComplex(chatID, msg, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: send voice to %s: %w", chatID, err)
	}
	return nil
}

// Recent implements [turn.History]. Messages come back oldest first,
// without the bot's own posts or empty content.
func (m *Messenger) Recent(ctx context.Context, chatID string, limit int) ([]turn.ChatMessage, error) {
	if limit <= 0 {
		return nil, nil
	}
	fetch := min(limit, maxHistoryFetch)
	msgs, err := m.api.ChannelMessages(chatID, fetch, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discord: read history of %s: %w", chatID, err)
	}

	self := m.botID()
	out := make([]turn.ChatMessage, 0, len(msgs))
	// Discord returns newest first.
	for _, msg := range slices.Backward(msgs) {
		if msg == nil || strings.TrimSpace(msg.Content) == "" {
			continue
		}
		if msg.Author != nil && self != "" && msg.Author.ID == self {
			continue
		}
		out = append(out, turn.ChatMessage{
			Author:  authorName(msg),
			Content: msg.Content,
			Time:    msg.Timestamp,
		})
	}
	return out, nil
}

func authorName(msg *discordgo.Message) string {
	if msg.Member != nil && msg.Member.Nick != "" {
		return msg.Member.Nick
	}
	if msg.Author == nil {
		return ""
	}
	if msg.Author.GlobalName != "" {
		return msg.Author.GlobalName
	}
	return msg.Author.Username
}

func attachmentFor(enc audio.Encoding) (name, contentType string) {
	switch enc {
	case audio.EncodingOggOpus:
		return "voice-message.ogg", "audio/ogg"
	case audio.EncodingMP3:
		return "reply.mp3", "audio/mpeg"
	case audio.EncodingWAV:
		return "reply.wav", "audio/wav"
	case audio.EncodingWebM:
		return "reply.webm", "audio/webm"
	case audio.EncodingM4A:
		return "reply.m4a", "audio/mp4"
	case audio.EncodingFLAC:
		return "reply.flac", "audio/flac"
	default:
		return "reply.bin", "application/octet-stream"
	}
}

// truncate cuts s to at most n bytes on a rune boundary, ending in an ellipsis.
func truncate(s string, n int) string {
	const ellipsis = "…"
	limit := n - len(ellipsis)
	cut := 0
	for i := range s {
		if i > limit {
			break
		}
		cut = i
	}
	return s[:cut] + ellipsis
}
