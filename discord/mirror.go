// Package discord echoes final transcripts into a Discord text channel.
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/charmbracelet/log"

	"node.town/scribe/transcript"
)

// Sender is the slice of the Discord API the mirror posts through.
type Sender interface {
	ChannelMessageSend(
		channelID string,
		content string,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)
}

type Mirror struct {
	api       Sender
	channelID string
	logger    *log.Logger
	session   *discordgo.Session
}

// Open starts a bot session with token that posts to channelID.
func Open(token, channelID string, logger *log.Logger) (*Mirror, error) {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("error creating Discord session: %w", err)
	}

	if err := dg.Open(); err != nil {
		return nil, fmt.Errorf("error opening connection: %w", err)
	}

	logger.Info("discord mirror started", "username", dg.State.User.Username, "channel", channelID)

	m := NewMirror(dg, channelID, logger)
	m.session = dg
	return m, nil
}

func NewMirror(api Sender, channelID string, logger *log.Logger) *Mirror {
	return &Mirror{api: api, channelID: channelID, logger: logger}
}

func (m *Mirror) Name() string { return "discord" }

func (m *Mirror) Mirror(ctx context.Context, meetingID string, ev transcript.Event) error {
	if ev.Kind != transcript.Final {
		return nil
	}

	_, err := m.api.ChannelMessageSend(
		m.channelID,
		Format(ev),
		discordgo.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("send to channel %s: %w", m.channelID, err)
	}
	return nil
}

// Format renders ev as a chat quote.
func Format(ev transcript.Event) string {
	return fmt.Sprintf("> %s: %s", ev.Participant, ev.Text)
}

func (m *Mirror) Close() error {
	if m.session == nil {
		return nil
	}
	return m.session.Close()
}
