package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	slackapi "github.com/slack-go/slack"
)

type mockSlack struct {
	mu       sync.Mutex
	channels []string
	err      error
}

func (m *mockSlack) PostMessageContext(_ context.Context, channelID string, _ ...slackapi.MsgOption) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", "", m.err
	}
	m.channels = append(m.channels, channelID)
	return channelID, "ts", nil
}

type mockDiscord struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (m *mockDiscord) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.sent = append(m.sent, content)
	return &discordgo.Message{Content: content}, nil
}

var testEvent = Event{UserID: "u1", RoomID: "r1", Phase: "discovery", TargetRole: "Data Scientist"}

func TestNewSlack_Validation(t *testing.T) {
	if _, err := NewSlack(SlackOpts{ChannelID: "C1"}); err == nil {
		t.Error("expected error for missing token")
	}
	if _, err := NewSlack(SlackOpts{Client: &mockSlack{}}); err == nil {
		t.Error("expected error for missing channel")
	}
}

func TestSlack_RoomCreated(t *testing.T) {
	mock := &mockSlack{}
	s, err := NewSlack(SlackOpts{Client: mock, ChannelID: "C1"})
	if err != nil {
		t.Fatalf("NewSlack: %v", err)
	}
	if err := s.RoomCreated(context.Background(), testEvent); err != nil {
		t.Fatalf("RoomCreated: %v", err)
	}
	if len(mock.channels) != 1 || mock.channels[0] != "C1" {
		t.Errorf("posted to %v, want [C1]", mock.channels)
	}
}

func TestSlack_PostError(t *testing.T) {
	mock := &mockSlack{err: errors.New("rate limited")}
	s, _ := NewSlack(SlackOpts{Client: mock, ChannelID: "C1"})
	if err := s.PhaseChanged(context.Background(), testEvent); err == nil {
		t.Fatal("expected error from failed post")
	}
}

func TestNewDiscord_Validation(t *testing.T) {
	if _, err := NewDiscord(DiscordOpts{ChannelID: "ch"}); err == nil {
		t.Error("expected error for missing token")
	}
	if _, err := NewDiscord(DiscordOpts{Session: &mockDiscord{}}); err == nil {
		t.Error("expected error for missing channel")
	}
}

func TestDiscord_Events(t *testing.T) {
	mock := &mockDiscord{}
	d, err := NewDiscord(DiscordOpts{Session: mock, ChannelID: "ch"})
	if err != nil {
		t.Fatalf("NewDiscord: %v", err)
	}
	if err := d.RoomCreated(context.Background(), testEvent); err != nil {
		t.Fatalf("RoomCreated: %v", err)
	}
	if err := d.PhaseChanged(context.Background(), testEvent); err != nil {
		t.Fatalf("PhaseChanged: %v", err)
	}
	if len(mock.sent) != 2 {
		t.Fatalf("sent %d messages, want 2", len(mock.sent))
	}
	if !strings.Contains(mock.sent[0], "r1") || !strings.Contains(mock.sent[0], "Data Scientist") {
		t.Errorf("RoomCreated text = %q, want room and role mentioned", mock.sent[0])
	}
}

func TestMulti_FansOutAndCollectsFirstError(t *testing.T) {
	good := &mockDiscord{}
	bad := &mockSlack{err: errors.New("down")}

	d, _ := NewDiscord(DiscordOpts{Session: good, ChannelID: "ch"})
	s, _ := NewSlack(SlackOpts{Client: bad, ChannelID: "C1"})

	m := Multi{s, d}
	err := m.RoomCreated(context.Background(), testEvent)
	if err == nil {
		t.Fatal("expected first error surfaced")
	}
	if len(good.sent) != 1 {
		t.Errorf("healthy notifier got %d events, want 1 despite sibling failure", len(good.sent))
	}
}

func TestNoop(t *testing.T) {
	var n Noop
	if err := n.RoomCreated(context.Background(), testEvent); err != nil {
		t.Errorf("Noop.RoomCreated = %v, want nil", err)
	}
	if err := n.PhaseChanged(context.Background(), testEvent); err != nil {
		t.Errorf("Noop.PhaseChanged = %v, want nil", err)
	}
}
