package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry in a room's ordered ledger. Sequence is assigned
// per room at append time so that ledger order survives equal createdAt
// timestamps; ledger order always equals send order.
type Message struct {
	ID        string `gorm:"primaryKey;size:36" json:"id"`
	RoomID    string `gorm:"size:36;not null;index" json:"roomId"`
	Sequence  int    `gorm:"not null" json:"-"`
	Role      string `gorm:"size:16;not null" json:"role"`
	Content   string `gorm:"type:text;not null" json:"content"`
	Phase     string    `gorm:"size:64;not null" json:"phase"`
	CreatedAt time.Time `json:"createdAt"`
}

// BeforeCreate assigns an opaque identifier when none was provided.
func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// ValidRole reports whether role is one of the ledger roles.
func ValidRole(role string) bool {
	return role == RoleUser || role == RoleAssistant
}
