package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Attachment is a file the user attached to a message. The payload is
// inline base64; nothing is ever uploaded to a separate object store.
type Attachment struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Kind string `json:"kind"` // image, document, text
	Data string `json:"data"`
	Size int64  `json:"size"`
}

type Message struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ChatID      uuid.UUID      `gorm:"type:uuid;not null;index" json:"chat_id"`
	Role        string         `gorm:"size:16;not null" json:"role"` // user, assistant, system
	Content     string         `gorm:"type:text" json:"content"`
	Model       string         `gorm:"size:100" json:"model,omitempty"`
	Attachments datatypes.JSON `json:"attachments,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
