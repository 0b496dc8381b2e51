// Package notify announces room lifecycle events to chat platforms
// (Slack, Discord). Notifications are best-effort: a delivery failure
// never fails the turn that produced the event.
package notify

import "context"

// Event describes a room lifecycle change.
type Event struct {
	UserID     string
	RoomID     string
	Phase      string
	TargetRole string
}

// Notifier is the interface platform adapters implement.
type Notifier interface {
	// RoomCreated announces that a conversation graduated from
	// onboarding into its own project room.
	RoomCreated(ctx context.Context, ev Event) error

	// PhaseChanged announces that a room moved to a new phase.
	PhaseChanged(ctx context.Context, ev Event) error
}

// Noop is a Notifier that does nothing. Used when no platform is
// configured.
type Noop struct{}

func (Noop) RoomCreated(context.Context, Event) error  { return nil }
func (Noop) PhaseChanged(context.Context, Event) error { return nil }

// Multi fans an event out to several notifiers, returning the first
// error after attempting all of them.
type Multi []Notifier

func (m Multi) RoomCreated(ctx context.Context, ev Event) error {
	var first error
	for _, n := range m {
		if err := n.RoomCreated(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m Multi) PhaseChanged(ctx context.Context, ev Event) error {
	var first error
	for _, n := range m {
		if err := n.PhaseChanged(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
