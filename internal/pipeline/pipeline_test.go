package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/sapienshq/sapiens/internal/backend"
	"github.com/sapienshq/sapiens/internal/models"
	"github.com/sapienshq/sapiens/internal/notify"
	"github.com/sapienshq/sapiens/internal/room"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// mockBackend counts calls and returns a scripted result or error.
type mockBackend struct {
	mu     sync.Mutex
	calls  int
	result *backend.ChatResult
	err    error
}

func (m *mockBackend) Chat(_ context.Context, userID, message string) (*backend.ChatResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func (m *mockBackend) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func openTestRepo(t *testing.T) *room.Repo {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	err = db.AutoMigrate(&models.ProjectRoom{}, &models.Message{}, &models.Milestone{}, &models.Artifact{})
	if err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	repo, err := room.NewRepo(room.Opts{DB: db})
	if err != nil {
		t.Fatalf("NewRepo: %v", err)
	}
	return repo
}

func newTestPipeline(t *testing.T, be Backend) (*Pipeline, *room.Repo) {
	t.Helper()
	repo := openTestRepo(t)
	p, err := New(Opts{Repo: repo, Backend: be})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p, repo
}

func turnKind(t *testing.T, err error) Kind {
	t.Helper()
	var terr *TurnError
	if !errors.As(err, &terr) {
		t.Fatalf("err = %v, want *TurnError", err)
	}
	return terr.Kind
}

func TestNew_Validation(t *testing.T) {
	repo := openTestRepo(t)
	if _, err := New(Opts{Backend: &mockBackend{}}); err == nil {
		t.Error("expected error for nil repo")
	}
	if _, err := New(Opts{Repo: repo}); err == nil {
		t.Error("expected error for nil backend")
	}
}

func TestSendTurn_ValidationBeforeAnyIO(t *testing.T) {
	be := &mockBackend{result: &backend.ChatResult{Response: "hi", CurrentState: "onboarding"}}
	p, _ := newTestPipeline(t, be)

	cases := []struct {
		name           string
		userID, text   string
	}{
		{"missing user", "", "hello"},
		{"missing message", "u1", ""},
		{"blank message", "u1", "   "},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := p.SendTurn(context.Background(), tc.userID, "", tc.text)
			if turnKind(t, err) != KindValidation {
				t.Errorf("kind = %v, want KindValidation", turnKind(t, err))
			}
		})
	}
	if be.callCount() != 0 {
		t.Errorf("backend called %d times before validation, want 0", be.callCount())
	}
}

func TestSendTurn_FreeStanding(t *testing.T) {
	be := &mockBackend{result: &backend.ChatResult{Response: "welcome", CurrentState: "onboarding"}}
	p, repo := newTestPipeline(t, be)

	tr, err := p.SendTurn(context.Background(), "u1", "", "hello")
	if err != nil {
		t.Fatalf("SendTurn: %v", err)
	}
	if tr.UserMessage != nil || tr.AssistantMessage != nil {
		t.Error("free-standing turn persisted messages")
	}
	if tr.Response != "welcome" || tr.Phase != "onboarding" {
		t.Errorf("result = %+v, want backend response/state", tr)
	}

	// No rooms means nothing was written anywhere.
	if summaries, _ := repo.ListRooms(context.Background(), "u1"); len(summaries) != 0 {
		t.Errorf("rooms created = %d, want 0", len(summaries))
	}
}

func TestSendTurn_InRoomSuccess(t *testing.T) {
	be := &mockBackend{result: &backend.ChatResult{Response: "let's plan", CurrentState: "planning"}}
	p, repo := newTestPipeline(t, be)
	ctx := context.Background()

	rm, _ := repo.CreateRoom(ctx, "u1", room.ProjectData{Phase: "discovery"})

	tr, err := p.SendTurn(ctx, "u1", rm.ID, "what's next?")
	if err != nil {
		t.Fatalf("SendTurn: %v", err)
	}

	if tr.Phase != "planning" {
		t.Errorf("Phase = %q, want exactly what the backend reported", tr.Phase)
	}
	if tr.UserMessage == nil || tr.UserMessage.Phase != "discovery" {
		t.Errorf("UserMessage = %+v, want phase snapshot of the pre-turn room phase", tr.UserMessage)
	}
	if tr.AssistantMessage == nil || tr.AssistantMessage.Phase != "planning" {
		t.Errorf("AssistantMessage = %+v, want the new phase as snapshot", tr.AssistantMessage)
	}

	got, _ := repo.GetRoom(ctx, rm.ID)
	if got.Phase != "planning" {
		t.Errorf("room phase = %q, want planning", got.Phase)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("len(Messages) = %d, want exactly one user and one assistant message", len(got.Messages))
	}
	if got.Messages[0].Role != models.RoleUser || got.Messages[1].Role != models.RoleAssistant {
		t.Errorf("message order = %s,%s, want user,assistant", got.Messages[0].Role, got.Messages[1].Role)
	}
}

// recordingNotifier captures phase-change events for assertions.
type recordingNotifier struct {
	mu      sync.Mutex
	created []notify.Event
	changed []notify.Event
	err     error
}

func (r *recordingNotifier) RoomCreated(_ context.Context, ev notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, ev)
	return r.err
}

func (r *recordingNotifier) PhaseChanged(_ context.Context, ev notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changed = append(r.changed, ev)
	return r.err
}

func TestSendTurn_PhaseAdvanceNotifies(t *testing.T) {
	be := &mockBackend{result: &backend.ChatResult{Response: "on to planning", CurrentState: "planning"}}
	repo := openTestRepo(t)
	rec := &recordingNotifier{}
	p, err := New(Opts{Repo: repo, Backend: be, Notifier: rec})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	rm, _ := repo.CreateRoom(ctx, "u1", room.ProjectData{Phase: "discovery", TargetRole: "Data Scientist"})

	if _, err := p.SendTurn(ctx, "u1", rm.ID, "let's move on"); err != nil {
		t.Fatalf("SendTurn: %v", err)
	}

	if len(rec.changed) != 1 {
		t.Fatalf("PhaseChanged fired %d times, want 1", len(rec.changed))
	}
	ev := rec.changed[0]
	if ev.RoomID != rm.ID || ev.UserID != "u1" || ev.Phase != "planning" {
		t.Errorf("event = %+v, want room/user/new phase", ev)
	}
	if ev.TargetRole != "Data Scientist" {
		t.Errorf("TargetRole = %q, want carried from the room", ev.TargetRole)
	}
	if len(rec.created) != 0 {
		t.Errorf("RoomCreated fired %d times from the pipeline, want 0", len(rec.created))
	}
}

func TestSendTurn_SamePhaseDoesNotNotify(t *testing.T) {
	be := &mockBackend{result: &backend.ChatResult{Response: "still here", CurrentState: "discovery"}}
	repo := openTestRepo(t)
	rec := &recordingNotifier{}
	p, err := New(Opts{Repo: repo, Backend: be, Notifier: rec})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	rm, _ := repo.CreateRoom(ctx, "u1", room.ProjectData{Phase: "discovery"})

	if _, err := p.SendTurn(ctx, "u1", rm.ID, "still thinking"); err != nil {
		t.Fatalf("SendTurn: %v", err)
	}
	if len(rec.changed) != 0 {
		t.Errorf("PhaseChanged fired %d times for an unchanged phase, want 0", len(rec.changed))
	}
}

func TestSendTurn_NotifierFailureDoesNotFailTurn(t *testing.T) {
	be := &mockBackend{result: &backend.ChatResult{Response: "onward", CurrentState: "planning"}}
	repo := openTestRepo(t)
	rec := &recordingNotifier{err: errors.New("channel gone")}
	p, err := New(Opts{Repo: repo, Backend: be, Notifier: rec})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	rm, _ := repo.CreateRoom(ctx, "u1", room.ProjectData{Phase: "discovery"})

	tr, err := p.SendTurn(ctx, "u1", rm.ID, "go")
	if err != nil {
		t.Fatalf("SendTurn: %v, want delivery failure swallowed", err)
	}
	if tr.AssistantMessage == nil {
		t.Error("assistant message missing despite successful turn")
	}
}

func TestSendTurn_RoomNotFound(t *testing.T) {
	be := &mockBackend{result: &backend.ChatResult{Response: "x", CurrentState: "y"}}
	p, _ := newTestPipeline(t, be)

	_, err := p.SendTurn(context.Background(), "u1", "missing", "hello")
	if turnKind(t, err) != KindRoomNotFound {
		t.Fatalf("kind = %v, want KindRoomNotFound", turnKind(t, err))
	}
	if be.callCount() != 0 {
		t.Errorf("backend called %d times for a missing room, want 0", be.callCount())
	}
}

func TestSendTurn_TimeoutKeepsUserMessage(t *testing.T) {
	be := &mockBackend{err: backend.ErrTimeout}
	p, repo := newTestPipeline(t, be)
	ctx := context.Background()

	rm, _ := repo.CreateRoom(ctx, "u1", room.ProjectData{Phase: "discovery"})

	_, err := p.SendTurn(ctx, "u1", rm.ID, "are you there?")
	if turnKind(t, err) != KindTimeout {
		t.Fatalf("kind = %v, want KindTimeout", turnKind(t, err))
	}

	got, _ := repo.GetRoom(ctx, rm.ID)
	if got.Phase != "discovery" {
		t.Errorf("room phase = %q, want unchanged discovery", got.Phase)
	}
	if len(got.Messages) != 1 {
		t.Fatalf("len(Messages) = %d, want just the user message", len(got.Messages))
	}
	if got.Messages[0].Role != models.RoleUser {
		t.Errorf("surviving message role = %q, want user", got.Messages[0].Role)
	}
}

func TestSendTurn_UnavailableClassified(t *testing.T) {
	be := &mockBackend{err: backend.ErrUnavailable}
	p, repo := newTestPipeline(t, be)
	ctx := context.Background()
	rm, _ := repo.CreateRoom(ctx, "u1", room.ProjectData{Phase: "discovery"})

	_, err := p.SendTurn(ctx, "u1", rm.ID, "hello?")
	if turnKind(t, err) != KindUnavailable {
		t.Fatalf("kind = %v, want KindUnavailable", turnKind(t, err))
	}
}

func TestSendTurn_UpstreamErrorDetailPreserved(t *testing.T) {
	be := &mockBackend{err: &backend.UpstreamError{Status: 502, Body: "model overloaded"}}
	p, repo := newTestPipeline(t, be)
	ctx := context.Background()
	rm, _ := repo.CreateRoom(ctx, "u1", room.ProjectData{Phase: "discovery"})

	_, err := p.SendTurn(ctx, "u1", rm.ID, "hello?")
	var terr *TurnError
	if !errors.As(err, &terr) {
		t.Fatalf("err = %v, want *TurnError", err)
	}
	if terr.Kind != KindUpstream {
		t.Errorf("kind = %v, want KindUpstream", terr.Kind)
	}
	if !strings.Contains(terr.Detail, "model overloaded") {
		t.Errorf("Detail = %q, want the upstream body preserved", terr.Detail)
	}
}
