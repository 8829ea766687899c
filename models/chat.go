package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Chat struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Title     string         `gorm:"size:255;default:'New Chat'" json:"title"`
	Model     string         `gorm:"size:100" json:"model,omitempty"`
	Analysis  datatypes.JSON `json:"analysis,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`

	Messages []Message `gorm:"foreignKey:ChatID;constraint:OnDelete:CASCADE" json:"messages,omitempty"`
}

func (c *Chat) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// AppState is a single-row table holding the pointer to the current chat
// and the active display language. The pointer is a lookup, not ownership:
// deleting the chat it names must repoint or clear it.
type AppState struct {
	ID            int        `gorm:"primaryKey" json:"-"`
	CurrentChatID *uuid.UUID `gorm:"type:uuid" json:"current_chat_id"`
	Language      string     `gorm:"size:8;default:'en'" json:"language"`
	UpdatedAt     time.Time  `json:"updated_at"`
}
