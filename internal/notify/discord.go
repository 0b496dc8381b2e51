package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// discordSession abstracts the discordgo methods we use, enabling test
// mocks.
type discordSession interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts room lifecycle events to a Discord channel.
type Discord struct {
	session   discordSession
	channelID string
}

// DiscordOpts holds parameters for creating a Discord notifier.
type DiscordOpts struct {
	Token     string // bot token
	ChannelID string
	// For testing: inject a mock session instead of the real Discord API.
	Session discordSession
}

// NewDiscord creates a Discord notifier.
func NewDiscord(opts DiscordOpts) (*Discord, error) {
	if opts.Session == nil && opts.Token == "" {
		return nil, fmt.Errorf("notify: discord: token is required")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("notify: discord: channel is required")
	}
	session := opts.Session
	if session == nil {
		s, err := discordgo.New("Bot " + opts.Token)
		if err != nil {
			return nil, fmt.Errorf("notify: discord: %w", err)
		}
		session = s
	}
	return &Discord{session: session, channelID: opts.ChannelID}, nil
}

// RoomCreated implements Notifier.
func (d *Discord) RoomCreated(ctx context.Context, ev Event) error {
	text := fmt.Sprintf("New project room %s for user %s (phase: %s, role: %s)",
		ev.RoomID, ev.UserID, ev.Phase, ev.TargetRole)
	return d.send(text)
}

// PhaseChanged implements Notifier.
func (d *Discord) PhaseChanged(ctx context.Context, ev Event) error {
	return d.send(fmt.Sprintf("Room %s moved to phase %s", ev.RoomID, ev.Phase))
}

func (d *Discord) send(text string) error {
	if _, err := d.session.ChannelMessageSend(d.channelID, text); err != nil {
		return fmt.Errorf("notify: discord send: %w", err)
	}
	return nil
}
