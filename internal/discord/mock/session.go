// Package mock provides test doubles for the Discord channel API.
package mock

import (
	"io"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// SentFile is an attachment captured from ChannelMessageSendComplex.
type SentFile struct {
	ChannelID   string
	Name        string
	ContentType string
	Data        []byte
}

// HistoryCall records one ChannelMessages call.
type HistoryCall struct {
	ChannelID string
	Limit     int
}

// ChannelAPI records message sends and serves canned history.
type ChannelAPI struct {
	mu sync.Mutex

	// Messages is returned by ChannelMessages, newest first like Discord.
	Messages []*discordgo.Message

	// SendErr is returned by ChannelMessageSend and ChannelMessageSendComplex.
	SendErr error

	// HistoryErr is returned by ChannelMessages.
	HistoryErr error

	// Texts records the content of every ChannelMessageSend call.
	Texts []string

	// Files records every attachment sent.
	Files []SentFile

	// HistoryCalls records every ChannelMessages call.
	HistoryCalls []HistoryCall

	// Options counts the request options passed per call, in call order.
	Options []int
}

// ChannelMessageSend records content and returns SendErr.
func (m *ChannelAPI) ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Options = append(m.Options, len(options))
	if m.SendErr != nil {
		return nil, m.SendErr
	}
	m.Texts = append(m.Texts, content)
	return &discordgo.Message{ChannelID: channelID, Content: content}, nil
}

// ChannelMessageSendComplex records the attached files and returns SendErr.
func (m *ChannelAPI) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Options = append(m.Options, len(options))
	if m.SendErr != nil {
		return nil, m.SendErr
	}
	for _, f := range data.Files {
		body, err := io.ReadAll(f.Reader)
		if err != nil {
			return nil, err
		}
		m.Files = append(m.Files, SentFile{
			ChannelID:   channelID,
			Name:        f.Name,
			ContentType: f.ContentType,
			Data:        body,
		})
	}
	return &discordgo.Message{ChannelID: channelID, Content: data.Content}, nil
}

// ChannelMessages returns up to limit entries of Messages.
func (m *ChannelAPI) ChannelMessages(channelID string, limit int, _, _, _ string, options ...discordgo.RequestOption) ([]*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Options = append(m.Options, len(options))
	m.HistoryCalls = append(m.HistoryCalls, HistoryCall{ChannelID: channelID, Limit: limit})
	if m.HistoryErr != nil {
		return nil, m.HistoryErr
	}
	msgs := m.Messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return append([]*discordgo.Message(nil), msgs...), nil
}
