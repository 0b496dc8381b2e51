// Package pipeline orchestrates one conversational turn: persist the
// user message, call the AI backend under its time budget, persist the
// assistant message, and advance the room phase.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sapienshq/sapiens/internal/backend"
	"github.com/sapienshq/sapiens/internal/models"
	"github.com/sapienshq/sapiens/internal/notify"
	"github.com/sapienshq/sapiens/internal/room"
)

// Kind classifies a turn failure for callers that map errors onto an
// external surface.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindRoomNotFound
	KindTimeout
	KindUnavailable
	KindUpstream
	KindPersistence
)

// String returns the kind's wire-friendly name.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindRoomNotFound:
		return "room_not_found"
	case KindTimeout:
		return "upstream_timeout"
	case KindUnavailable:
		return "upstream_unavailable"
	case KindUpstream:
		return "upstream_error"
	case KindPersistence:
		return "persistence"
	default:
		return "unknown"
	}
}

// TurnError is a classified turn failure. Detail is safe to surface to
// callers; Err carries the underlying cause for logs.
type TurnError struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *TurnError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pipeline: %s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("pipeline: %s: %s", e.Kind, e.Detail)
}

func (e *TurnError) Unwrap() error { return e.Err }

// TurnResult is the outcome of a successful turn. UserMessage and
// AssistantMessage are set only for in-room turns; free-standing turns
// persist nothing.
type TurnResult struct {
	UserMessage      *models.Message
	AssistantMessage *models.Message
	Response         string
	Phase            string
}

// Backend is the slice of the AI client the pipeline needs.
type Backend interface {
	Chat(ctx context.Context, userID, message string) (*backend.ChatResult, error)
}

// Pipeline runs conversational turns. It performs no retries; a failed
// turn is resubmitted by the caller, producing a new distinct message.
type Pipeline struct {
	repo     *room.Repo
	backend  Backend
	notifier notify.Notifier
	logger   *zap.Logger
}

// Opts holds parameters for creating a Pipeline.
type Opts struct {
	Repo     *room.Repo
	Backend  Backend
	Notifier notify.Notifier // defaults to notify.Noop
	Logger   *zap.Logger     // optional
}

// New creates a Pipeline.
func New(opts Opts) (*Pipeline, error) {
	if opts.Repo == nil {
		return nil, fmt.Errorf("pipeline: repo is required")
	}
	if opts.Backend == nil {
		return nil, fmt.Errorf("pipeline: backend is required")
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.Noop{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{repo: opts.Repo, backend: opts.Backend, notifier: notifier, logger: logger}, nil
}

// SendTurn runs one turn. roomID may be empty for a free-standing turn,
// in which case nothing is persisted and only the backend exchange
// happens. For in-room turns the user message is persisted before the
// backend call, so a backend failure leaves it in the ledger with no
// assistant reply and the room phase untouched.
func (p *Pipeline) SendTurn(ctx context.Context, userID, roomID, text string) (*TurnResult, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, &TurnError{Kind: KindValidation, Detail: "Missing userId"}
	}
	if strings.TrimSpace(text) == "" {
		return nil, &TurnError{Kind: KindValidation, Detail: "Missing message"}
	}

	var userMsg *models.Message
	var rm *models.ProjectRoom
	if roomID != "" {
		var err error
		rm, err = p.repo.FindRoom(ctx, roomID)
		if err != nil {
			return nil, classifyRepoError(err, "Room not found")
		}
		userMsg, err = p.repo.AppendMessage(ctx, roomID, models.RoleUser, text, rm.Phase)
		if err != nil {
			return nil, classifyRepoError(err, "Failed to save message")
		}
	}

	result, err := p.backend.Chat(ctx, userID, text)
	if err != nil {
		return nil, classifyBackendError(err)
	}

	tr := &TurnResult{
		UserMessage: userMsg,
		Response:    result.Response,
		Phase:       result.CurrentState,
	}
	if roomID == "" {
		return tr, nil
	}

	assistantMsg, err := p.repo.AppendAssistantTurn(ctx, roomID, result.Response, result.CurrentState)
	if err != nil {
		p.logger.Error("assistant turn not persisted; user message retained",
			zap.String("room_id", roomID),
			zap.Error(err))
		return nil, classifyRepoError(err, "Failed to save AI response")
	}
	tr.AssistantMessage = assistantMsg

	if result.CurrentState != rm.Phase {
		ev := notify.Event{
			UserID:     userID,
			RoomID:     roomID,
			Phase:      result.CurrentState,
			TargetRole: rm.TargetRole,
		}
		if err := p.notifier.PhaseChanged(ctx, ev); err != nil {
			p.logger.Warn("phase-change notification failed",
				zap.String("room_id", roomID),
				zap.Error(err))
		}
	}
	return tr, nil
}

// classifyBackendError maps backend client failures into the turn
// taxonomy.
func classifyBackendError(err error) *TurnError {
	switch {
	case errors.Is(err, backend.ErrTimeout):
		return &TurnError{Kind: KindTimeout, Detail: "AI response timeout", Err: err}
	case errors.Is(err, backend.ErrUnavailable):
		return &TurnError{Kind: KindUnavailable, Detail: "AI backend unavailable", Err: err}
	}
	var uerr *backend.UpstreamError
	if errors.As(err, &uerr) {
		return &TurnError{
			Kind:   KindUpstream,
			Detail: fmt.Sprintf("AI backend returned %d: %s", uerr.Status, uerr.Body),
			Err:    err,
		}
	}
	return &TurnError{Kind: KindUpstream, Detail: "AI backend error", Err: err}
}

// classifyRepoError maps repository failures into the turn taxonomy.
func classifyRepoError(err error, detail string) *TurnError {
	if errors.Is(err, room.ErrRoomNotFound) {
		return &TurnError{Kind: KindRoomNotFound, Detail: "Room not found", Err: err}
	}
	return &TurnError{Kind: KindPersistence, Detail: detail, Err: err}
}
