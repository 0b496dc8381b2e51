// Package orchestrator watches the phase reported by the AI backend for
// each onboarding conversation and materializes a project room the
// first time a conversation leaves the initial phase, replaying the
// buffered pre-room messages into the new room.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sapienshq/sapiens/internal/models"
	"github.com/sapienshq/sapiens/internal/notify"
	"github.com/sapienshq/sapiens/internal/room"
)

// State is the conversation's position in the two-state machine.
type State int

const (
	// StateOnboarding means no room exists yet; turns are buffered.
	StateOnboarding State = iota
	// StateActive means a room exists; only its phase mirrors further
	// backend-reported states. There is no transition back.
	StateActive
)

// DefaultInitialPhase is the backend's phase label for conversations
// that have not yet left onboarding.
const DefaultInitialPhase = "onboarding"

// DefaultBufferTTL is how long an idle onboarding buffer is kept before
// the sweeper drops it.
const DefaultBufferTTL = 2 * time.Hour

// BufferedMessage is one side of a pre-room exchange held in memory
// until a room exists to receive it.
type BufferedMessage struct {
	Role    string
	Content string
}

// Classifier extracts profile fields from the buffered conversation at
// room-creation time. Implementations may be arbitrarily smart; quality
// is their problem, not the orchestrator's.
type Classifier interface {
	Classify(buffer []BufferedMessage) room.ProjectData
}

// FirstMessageClassifier is the default heuristic: the first user
// message, taken verbatim, is the target role.
type FirstMessageClassifier struct{}

// Classify implements Classifier.
func (FirstMessageClassifier) Classify(buffer []BufferedMessage) room.ProjectData {
	var data room.ProjectData
	for _, m := range buffer {
		if m.Role == models.RoleUser {
			data.TargetRole = m.Content
			break
		}
	}
	return data
}

// Result reports what a turn observation did.
type Result struct {
	RoomID  string // set when the conversation has a room
	Created bool   // true only on the turn that created the room
}

// conversation is the per-user state machine instance.
type conversation struct {
	mu           sync.Mutex
	state        State
	roomID       string
	buffer       []BufferedMessage
	lastActivity time.Time
}

// Orchestrator tracks onboarding conversations by user id.
type Orchestrator struct {
	repo         *room.Repo
	classifier   Classifier
	notifier     notify.Notifier
	logger       *zap.Logger
	initialPhase string
	bufferTTL    time.Duration

	mu    sync.Mutex
	convs map[string]*conversation
}

// Opts holds parameters for creating an Orchestrator.
type Opts struct {
	Repo         *room.Repo
	Classifier   Classifier      // defaults to FirstMessageClassifier
	Notifier     notify.Notifier // defaults to notify.Noop
	Logger       *zap.Logger     // optional
	InitialPhase string          // defaults to DefaultInitialPhase
	BufferTTL    time.Duration   // defaults to DefaultBufferTTL
}

// New creates an Orchestrator.
func New(opts Opts) (*Orchestrator, error) {
	if opts.Repo == nil {
		return nil, fmt.Errorf("orchestrator: repo is required")
	}
	classifier := opts.Classifier
	if classifier == nil {
		classifier = FirstMessageClassifier{}
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.Noop{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	initialPhase := opts.InitialPhase
	if initialPhase == "" {
		initialPhase = DefaultInitialPhase
	}
	ttl := opts.BufferTTL
	if ttl <= 0 {
		ttl = DefaultBufferTTL
	}
	return &Orchestrator{
		repo:         opts.Repo,
		classifier:   classifier,
		notifier:     notifier,
		logger:       logger,
		initialPhase: initialPhase,
		bufferTTL:    ttl,
		convs:        make(map[string]*conversation),
	}, nil
}

// ObserveTurn records one free-standing turn and applies the transition
// rule: the first turn whose reported phase differs from the initial
// phase creates a room, replays the buffered messages in original order
// tagged with the initial phase, and appends the triggering assistant
// response under the new phase. The per-conversation lock makes the
// transition fire exactly once even when turns race past the boundary.
func (o *Orchestrator) ObserveTurn(ctx context.Context, userID, userText, response, reportedPhase string) (Result, error) {
	conv := o.conversationFor(userID)

	conv.mu.Lock()
	defer conv.mu.Unlock()
	conv.lastActivity = time.Now()

	if conv.state == StateActive {
		// Room already exists; nothing to orchestrate here. Phase
		// mirroring for in-room turns happens in the message pipeline.
		return Result{RoomID: conv.roomID}, nil
	}

	conv.buffer = append(conv.buffer, BufferedMessage{Role: models.RoleUser, Content: userText})

	if reportedPhase == o.initialPhase {
		conv.buffer = append(conv.buffer, BufferedMessage{Role: models.RoleAssistant, Content: response})
		return Result{}, nil
	}

	roomID, err := o.materialize(ctx, userID, conv.buffer, response, reportedPhase)
	if err != nil {
		// Drop the failed turn's user entry so a retry rebuilds the
		// same buffer instead of duplicating it.
		conv.buffer = conv.buffer[:len(conv.buffer)-1]
		return Result{}, err
	}

	conv.state = StateActive
	conv.roomID = roomID
	conv.buffer = nil
	return Result{RoomID: roomID, Created: true}, nil
}

// materialize creates the room and replays the buffer into it.
func (o *Orchestrator) materialize(ctx context.Context, userID string, buffer []BufferedMessage, response, phase string) (string, error) {
	data := o.classifier.Classify(buffer)
	data.Phase = phase

	rm, err := o.repo.CreateRoom(ctx, userID, data)
	if err != nil {
		return "", fmt.Errorf("orchestrator: create room for %s: %w", userID, err)
	}

	for _, m := range buffer {
		if _, err := o.repo.AppendMessage(ctx, rm.ID, m.Role, m.Content, o.initialPhase); err != nil {
			return "", fmt.Errorf("orchestrator: replay into %s: %w", rm.ID, err)
		}
	}
	if _, err := o.repo.AppendMessage(ctx, rm.ID, models.RoleAssistant, response, phase); err != nil {
		return "", fmt.Errorf("orchestrator: append response to %s: %w", rm.ID, err)
	}

	o.logger.Info("room materialized",
		zap.String("user_id", userID),
		zap.String("room_id", rm.ID),
		zap.String("phase", phase),
		zap.Int("replayed", len(buffer)))

	ev := notify.Event{UserID: userID, RoomID: rm.ID, Phase: phase, TargetRole: data.TargetRole}
	if err := o.notifier.RoomCreated(ctx, ev); err != nil {
		o.logger.Warn("room-created notification failed", zap.Error(err))
	}
	return rm.ID, nil
}

// conversationFor returns the per-user state, creating it on first use.
func (o *Orchestrator) conversationFor(userID string) *conversation {
	o.mu.Lock()
	defer o.mu.Unlock()
	conv, ok := o.convs[userID]
	if !ok {
		conv = &conversation{state: StateOnboarding, lastActivity: time.Now()}
		o.convs[userID] = conv
	}
	return conv
}

// Sweep drops conversations idle longer than the buffer TTL. Called
// periodically by the janitor; abandoned onboarding buffers would
// otherwise pin memory forever.
func (o *Orchestrator) Sweep(now time.Time) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	removed := 0
	for userID, conv := range o.convs {
		conv.mu.Lock()
		idle := now.Sub(conv.lastActivity)
		conv.mu.Unlock()
		if idle > o.bufferTTL {
			delete(o.convs, userID)
			removed++
		}
	}
	if removed > 0 {
		o.logger.Info("swept idle conversations", zap.Int("removed", removed))
	}
	return removed
}
