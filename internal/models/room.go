// Package models defines the gorm schema for Sapiens coaching state.
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Room lifecycle statuses.
const (
	RoomStatusActive   = "active"
	RoomStatusArchived = "archived"
)

// Milestone progression statuses.
const (
	MilestoneStatusPending    = "pending"
	MilestoneStatusInProgress = "in_progress"
	MilestoneStatusCompleted  = "completed"
)

// ProjectRoom is the persistent container for one coaching conversation:
// its message ledger, milestones, and artifacts. Phase always mirrors the
// most recent current_state reported by the AI backend for this room.
type ProjectRoom struct {
	ID           string `gorm:"primaryKey;size:36" json:"id"`
	UserID       string `gorm:"size:64;not null;index" json:"userId"`
	Phase        string `gorm:"size:64;not null" json:"phase"`
	Status       string `gorm:"size:16;default:active" json:"status"`
	TargetRole   string `gorm:"size:256" json:"targetRole"`
	TargetDomain string `gorm:"size:256" json:"targetDomain"`
	Background   string `gorm:"type:text" json:"background"`
	Interests    string `gorm:"type:text" json:"interests"`
	ProjectID    string `gorm:"size:64" json:"projectId"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`

	Messages   []Message   `gorm:"foreignKey:RoomID" json:"messages,omitempty"`
	Milestones []Milestone `gorm:"foreignKey:RoomID" json:"milestones,omitempty"`
	Artifacts  []Artifact  `gorm:"foreignKey:RoomID" json:"artifacts,omitempty"`
}

// BeforeCreate assigns an opaque identifier when none was provided.
func (r *ProjectRoom) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// Milestone is a planned step in the user's project. Order defines the
// display sequence; status is progressed by external planning logic.
type Milestone struct {
	ID          string `gorm:"primaryKey;size:36" json:"id"`
	RoomID      string `gorm:"size:36;not null;index" json:"roomId"`
	Title       string `gorm:"size:256;not null" json:"title"`
	Description string `gorm:"type:text" json:"description"`
	Status      string `gorm:"size:16;default:pending" json:"status"`
	Order       int    `gorm:"column:display_order;not null" json:"order"`
	CreatedAt   time.Time `json:"createdAt"`
}

// BeforeCreate assigns an opaque identifier when none was provided.
func (m *Milestone) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// Artifact is a durable document produced during the conversation.
// Artifacts are append-only and never mutated once created.
type Artifact struct {
	ID        string `gorm:"primaryKey;size:36" json:"id"`
	RoomID    string `gorm:"size:36;not null;index" json:"roomId"`
	Title     string `gorm:"size:256;not null" json:"title"`
	Content   string `gorm:"type:text;not null" json:"content"`
	Type      string `gorm:"size:32;not null" json:"type"`
	CreatedAt time.Time `json:"createdAt"`
}

// BeforeCreate assigns an opaque identifier when none was provided.
func (a *Artifact) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
