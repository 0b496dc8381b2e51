// Package room persists project rooms and their message ledgers,
// milestones, and artifacts, with fixed ordering guarantees: messages in
// send order, milestones by display order, artifacts newest first.
package room

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sapienshq/sapiens/internal/models"
	"gorm.io/gorm"
)

// Sentinel errors.
var (
	ErrRoomNotFound      = errors.New("room: not found")
	ErrMilestoneNotFound = errors.New("room: milestone not found")
	ErrFieldNotUpdatable = errors.New("room: field not updatable")
)

// ProjectData carries the optional profile fields captured at room
// creation time.
type ProjectData struct {
	Phase        string
	TargetRole   string
	TargetDomain string
	Background   string
	Interests    string
	ProjectID    string
}

// Summary is the list-view projection of a room: the latest message, up
// to three upcoming milestones, and child counts.
type Summary struct {
	Room           models.ProjectRoom `json:"room"`
	LastMessage    *models.Message    `json:"lastMessage,omitempty"`
	NextMilestones []models.Milestone `json:"nextMilestones"`
	MessageCount   int64              `json:"messageCount"`
	MilestoneCount int64              `json:"milestoneCount"`
	ArtifactCount  int64              `json:"artifactCount"`
}

// Repo is the gorm-backed room repository.
type Repo struct {
	db *gorm.DB
}

// Opts holds parameters for creating a Repo.
type Opts struct {
	DB *gorm.DB
}

// NewRepo creates a Repo.
func NewRepo(opts Opts) (*Repo, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("room: repo: db is required")
	}
	return &Repo{db: opts.DB}, nil
}

// CreateRoom creates a room for userID. An empty phase falls back to
// "onboarding" to match the room-creation API contract.
func (r *Repo) CreateRoom(ctx context.Context, userID string, data ProjectData) (*models.ProjectRoom, error) {
	phase := data.Phase
	if phase == "" {
		phase = "onboarding"
	}
	rm := models.ProjectRoom{
		UserID:       userID,
		Phase:        phase,
		Status:       models.RoomStatusActive,
		TargetRole:   data.TargetRole,
		TargetDomain: data.TargetDomain,
		Background:   data.Background,
		Interests:    data.Interests,
		ProjectID:    data.ProjectID,
	}
	if err := r.db.WithContext(ctx).Create(&rm).Error; err != nil {
		return nil, fmt.Errorf("room: create for user %s: %w", userID, err)
	}
	return &rm, nil
}

// FindRoom loads a room row without its children. Used on the turn hot
// path where only the current phase matters.
func (r *Repo) FindRoom(ctx context.Context, id string) (*models.ProjectRoom, error) {
	var rm models.ProjectRoom
	err := r.db.WithContext(ctx).First(&rm, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("room: find %s: %w", id, err)
	}
	return &rm, nil
}

// GetRoom loads a room with all children in their canonical order.
func (r *Repo) GetRoom(ctx context.Context, id string) (*models.ProjectRoom, error) {
	var rm models.ProjectRoom
	err := r.db.WithContext(ctx).
		Preload("Messages", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC, sequence ASC")
		}).
		Preload("Milestones", func(db *gorm.DB) *gorm.DB {
			return db.Order("display_order ASC")
		}).
		Preload("Artifacts", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at DESC")
		}).
		First(&rm, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("room: get %s: %w", id, err)
	}
	return &rm, nil
}

// ListRooms returns summaries of a user's rooms, most recently updated
// first.
func (r *Repo) ListRooms(ctx context.Context, userID string) ([]Summary, error) {
	var rooms []models.ProjectRoom
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&rooms).Error
	if err != nil {
		return nil, fmt.Errorf("room: list for user %s: %w", userID, err)
	}

	summaries := make([]Summary, 0, len(rooms))
	for _, rm := range rooms {
		s, err := r.summarize(ctx, rm)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}
	return summaries, nil
}

func (r *Repo) summarize(ctx context.Context, rm models.ProjectRoom) (Summary, error) {
	s := Summary{Room: rm, NextMilestones: []models.Milestone{}}
	db := r.db.WithContext(ctx)

	var last models.Message
	err := db.Where("room_id = ?", rm.ID).
		Order("created_at DESC, sequence DESC").
		First(&last).Error
	if err == nil {
		s.LastMessage = &last
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return s, fmt.Errorf("room: latest message for %s: %w", rm.ID, err)
	}

	err = db.Where("room_id = ? AND status <> ?", rm.ID, models.MilestoneStatusCompleted).
		Order("display_order ASC").
		Limit(3).
		Find(&s.NextMilestones).Error
	if err != nil {
		return s, fmt.Errorf("room: milestones for %s: %w", rm.ID, err)
	}

	counts := []struct {
		model interface{}
		dst   *int64
	}{
		{&models.Message{}, &s.MessageCount},
		{&models.Milestone{}, &s.MilestoneCount},
		{&models.Artifact{}, &s.ArtifactCount},
	}
	for _, c := range counts {
		if err := db.Model(c.model).Where("room_id = ?", rm.ID).Count(c.dst).Error; err != nil {
			return s, fmt.Errorf("room: counts for %s: %w", rm.ID, err)
		}
	}
	return s, nil
}

// AppendMessage appends one message to a room's ledger. The sequence
// number is assigned inside the transaction so ledger order equals
// append order even when timestamps collide.
func (r *Repo) AppendMessage(ctx context.Context, roomID, role, content, phase string) (*models.Message, error) {
	var msg *models.Message
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkRoomExists(tx, roomID); err != nil {
			return err
		}
		m, err := appendMessageTx(tx, roomID, role, content, phase)
		if err != nil {
			return err
		}
		msg = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// AppendAssistantTurn writes the assistant message and advances the
// room's phase as one transaction. If either write fails both are rolled
// back, so the room never keeps a phase without its assistant message.
func (r *Repo) AppendAssistantTurn(ctx context.Context, roomID, content, phase string) (*models.Message, error) {
	var msg *models.Message
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkRoomExists(tx, roomID); err != nil {
			return err
		}
		m, err := appendMessageTx(tx, roomID, models.RoleAssistant, content, phase)
		if err != nil {
			return err
		}
		if err := bumpRoomTx(tx, roomID, map[string]interface{}{"phase": phase}); err != nil {
			return err
		}
		msg = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// UpdatePhase sets the room's phase and bumps updatedAt.
func (r *Repo) UpdatePhase(ctx context.Context, roomID, phase string) (*models.ProjectRoom, error) {
	return r.Update(ctx, roomID, map[string]interface{}{"phase": phase})
}

// patchable lists the JSON field names accepted by Update, mapped to
// their columns. Identifier and timestamp columns are deliberately
// absent.
var patchable = map[string]string{
	"phase":        "phase",
	"status":       "status",
	"targetRole":   "target_role",
	"targetDomain": "target_domain",
	"background":   "background",
	"interests":    "interests",
	"projectId":    "project_id",
}

// Update applies a partial field patch to a room and bumps updatedAt.
// Unknown fields are rejected before any write.
func (r *Repo) Update(ctx context.Context, roomID string, fields map[string]interface{}) (*models.ProjectRoom, error) {
	updates := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		col, ok := patchable[k]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrFieldNotUpdatable, k)
		}
		updates[col] = v
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkRoomExists(tx, roomID); err != nil {
			return err
		}
		return bumpRoomTx(tx, roomID, updates)
	})
	if err != nil {
		return nil, err
	}

	var rm models.ProjectRoom
	if err := r.db.WithContext(ctx).First(&rm, "id = ?", roomID).Error; err != nil {
		return nil, fmt.Errorf("room: reload %s: %w", roomID, err)
	}
	return &rm, nil
}

// AddMilestone appends a planned step to a room's timeline.
func (r *Repo) AddMilestone(ctx context.Context, roomID, title, description string, order int) (*models.Milestone, error) {
	if err := checkRoomExists(r.db.WithContext(ctx), roomID); err != nil {
		return nil, err
	}
	m := models.Milestone{
		RoomID:      roomID,
		Title:       title,
		Description: description,
		Status:      models.MilestoneStatusPending,
		Order:       order,
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return nil, fmt.Errorf("room: add milestone to %s: %w", roomID, err)
	}
	return &m, nil
}

// UpdateMilestoneStatus progresses a milestone.
func (r *Repo) UpdateMilestoneStatus(ctx context.Context, milestoneID, status string) error {
	res := r.db.WithContext(ctx).
		Model(&models.Milestone{}).
		Where("id = ?", milestoneID).
		Update("status", status)
	if res.Error != nil {
		return fmt.Errorf("room: update milestone %s: %w", milestoneID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrMilestoneNotFound
	}
	return nil
}

// AddArtifact stores a durable document in a room's archive. Artifacts
// are append-only; there is no update path.
func (r *Repo) AddArtifact(ctx context.Context, roomID, title, content, artifactType string) (*models.Artifact, error) {
	if err := checkRoomExists(r.db.WithContext(ctx), roomID); err != nil {
		return nil, err
	}
	a := models.Artifact{
		RoomID:  roomID,
		Title:   title,
		Content: content,
		Type:    artifactType,
	}
	if err := r.db.WithContext(ctx).Create(&a).Error; err != nil {
		return nil, fmt.Errorf("room: add artifact to %s: %w", roomID, err)
	}
	return &a, nil
}

// checkRoomExists returns ErrRoomNotFound unless roomID exists.
func checkRoomExists(tx *gorm.DB, roomID string) error {
	var count int64
	if err := tx.Model(&models.ProjectRoom{}).Where("id = ?", roomID).Count(&count).Error; err != nil {
		return fmt.Errorf("room: check %s: %w", roomID, err)
	}
	if count == 0 {
		return ErrRoomNotFound
	}
	return nil
}

// appendMessageTx inserts a message with the next per-room sequence.
func appendMessageTx(tx *gorm.DB, roomID, role, content, phase string) (*models.Message, error) {
	var maxSeq int64
	err := tx.Model(&models.Message{}).
		Where("room_id = ?", roomID).
		Select("COALESCE(MAX(sequence), 0)").
		Scan(&maxSeq).Error
	if err != nil {
		return nil, fmt.Errorf("room: next sequence for %s: %w", roomID, err)
	}

	m := models.Message{
		RoomID:   roomID,
		Sequence: int(maxSeq) + 1,
		Role:     role,
		Content:  content,
		Phase:    phase,
	}
	if err := tx.Create(&m).Error; err != nil {
		return nil, fmt.Errorf("room: append message to %s: %w", roomID, err)
	}
	return &m, nil
}

// bumpRoomTx applies updates to a room row. gorm refreshes updated_at
// on every Updates call, so updatedAt advances on every room mutation.
func bumpRoomTx(tx *gorm.DB, roomID string, updates map[string]interface{}) error {
	if len(updates) == 0 {
		updates = map[string]interface{}{"updated_at": time.Now()}
	}
	if err := tx.Model(&models.ProjectRoom{}).Where("id = ?", roomID).Updates(updates).Error; err != nil {
		return fmt.Errorf("room: update %s: %w", roomID, err)
	}
	return nil
}
