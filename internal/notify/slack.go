package notify

import (
	"context"
	"fmt"

	slackapi "github.com/slack-go/slack"
)

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Slack posts room lifecycle events to a Slack channel.
type Slack struct {
	client    slackClient
	channelID string
}

// SlackOpts holds parameters for creating a Slack notifier.
type SlackOpts struct {
	BotToken  string // xoxb-... Slack bot token
	ChannelID string
	// For testing: inject a mock client instead of the real Slack API.
	Client slackClient
}

// NewSlack creates a Slack notifier.
func NewSlack(opts SlackOpts) (*Slack, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("notify: slack: bot token is required")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("notify: slack: channel is required")
	}
	client := opts.Client
	if client == nil {
		client = slackapi.New(opts.BotToken)
	}
	return &Slack{client: client, channelID: opts.ChannelID}, nil
}

// RoomCreated implements Notifier.
func (s *Slack) RoomCreated(ctx context.Context, ev Event) error {
	text := fmt.Sprintf(":tada: New project room %s for user %s (phase: %s, role: %s)",
		ev.RoomID, ev.UserID, ev.Phase, ev.TargetRole)
	return s.post(ctx, text)
}

// PhaseChanged implements Notifier.
func (s *Slack) PhaseChanged(ctx context.Context, ev Event) error {
	text := fmt.Sprintf(":arrows_counterclockwise: Room %s moved to phase %s", ev.RoomID, ev.Phase)
	return s.post(ctx, text)
}

func (s *Slack) post(ctx context.Context, text string) error {
	_, _, err := s.client.PostMessageContext(ctx, s.channelID, slackapi.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("notify: slack post: %w", err)
	}
	return nil
}
