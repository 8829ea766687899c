// Package store is the persistence layer for chat sessions. It is the single
// write path for chats, messages, analyses and the current-chat pointer;
// handlers and services receive it as a dependency instead of touching the
// database directly.
package store

import (
	"encoding/json"
	"errors"
	"log"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"fabot/models"
)

const appStateID = 1

var ErrChatNotFound = errors.New("chat not found")

type SessionStore struct {
	db *gorm.DB
}

func New(db *gorm.DB) *SessionStore {
	return &SessionStore{db: db}
}

// Snapshot is the full persisted session state as hydrated at startup.
type Snapshot struct {
	Chats         []models.Chat
	CurrentChatID *uuid.UUID
	Language      string
}

// Load hydrates the complete chat collection and the current-chat pointer.
// Corrupt or missing state degrades to an empty collection; it never fails.
func (s *SessionStore) Load() Snapshot {
	snap := Snapshot{Language: "en"}

	var chats []models.Chat
	if err := s.db.Order("updated_at DESC").Find(&chats).Error; err != nil {
		log.Printf("[Store] Failed to load chats, starting empty: %v", err)
		return snap
	}
	snap.Chats = chats

	state, err := s.appState()
	if err != nil {
		log.Printf("[Store] Failed to load app state: %v", err)
		return snap
	}
	snap.Language = state.Language

	// Drop a dangling pointer instead of handing it out.
	if state.CurrentChatID != nil {
		if _, err := s.GetChat(*state.CurrentChatID); err == nil {
			snap.CurrentChatID = state.CurrentChatID
		} else {
			log.Printf("[Store] Current chat %s no longer exists, clearing pointer", state.CurrentChatID)
			s.SetCurrentChat(nil)
		}
	}

	return snap
}

func (s *SessionStore) ListChats() ([]models.Chat, error) {
	var chats []models.Chat
	err := s.db.Order("updated_at DESC").Find(&chats).Error
	return chats, err
}

func (s *SessionStore) GetChat(id uuid.UUID) (*models.Chat, error) {
	var chat models.Chat
	if err := s.db.First(&chat, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, err
	}
	return &chat, nil
}

func (s *SessionStore) Messages(chatID uuid.UUID) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.Where("chat_id = ?", chatID).Order("created_at ASC").Find(&messages).Error
	return messages, err
}

// CreateChat creates a chat and makes it current.
func (s *SessionStore) CreateChat(title, model string) (*models.Chat, error) {
	if title == "" {
		title = "New Chat"
	}
	chat := models.Chat{Title: title, Model: model}
	if err := s.db.Create(&chat).Error; err != nil {
		return nil, err
	}
	if err := s.SetCurrentChat(&chat.ID); err != nil {
		return nil, err
	}
	return &chat, nil
}

func (s *SessionStore) RenameChat(id uuid.UUID, title string) error {
	result := s.db.Model(&models.Chat{}).Where("id = ?", id).Update("title", title)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrChatNotFound
	}
	return nil
}

// DeleteChat removes a chat and its messages. When the current chat is
// deleted, the most recently updated remaining chat becomes current; with
// nothing left the pointer is cleared. Returns the new current chat, or nil.
func (s *SessionStore) DeleteChat(id uuid.UUID) (*models.Chat, error) {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chat_id = ?", id).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ?", id).Delete(&models.Chat{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrChatNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	current := s.CurrentChatID()
	if current == nil || *current != id {
		if current == nil {
			return nil, nil
		}
		return s.GetChat(*current)
	}

	var next models.Chat
	if err := s.db.Order("updated_at DESC").First(&next).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, s.SetCurrentChat(nil)
		}
		return nil, err
	}
	if err := s.SetCurrentChat(&next.ID); err != nil {
		return nil, err
	}
	return &next, nil
}

// AppendMessage writes a message, bumps the chat's updated_at and, on the
// first user message of an untitled chat, derives the title from it.
func (s *SessionStore) AppendMessage(chatID uuid.UUID, msg *models.Message) error {
	chat, err := s.GetChat(chatID)
	if err != nil {
		return err
	}

	msg.ChatID = chatID
	return s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Message{}).Where("chat_id = ?", chatID).Count(&count).Error; err != nil {
			return err
		}
		if err := tx.Create(msg).Error; err != nil {
			return err
		}

		updates := map[string]any{"updated_at": msg.CreatedAt}
		if count == 0 && msg.Role == "user" && chat.Title == "New Chat" {
			updates["title"] = titleFrom(msg.Content)
		}
		return tx.Model(&models.Chat{}).Where("id = ?", chatID).Updates(updates).Error
	})
}

func (s *SessionStore) SaveAnalysis(chatID uuid.UUID, analysis models.ConversationAnalysis) error {
	data, err := json.Marshal(analysis)
	if err != nil {
		return err
	}
	result := s.db.Model(&models.Chat{}).Where("id = ?", chatID).
		Update("analysis", datatypes.JSON(data))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrChatNotFound
	}
	return nil
}

// Analysis returns the stored analysis for a chat; ok is false when none
// has been saved yet or the stored blob does not parse.
func (s *SessionStore) Analysis(chatID uuid.UUID) (models.ConversationAnalysis, bool) {
	var analysis models.ConversationAnalysis

	chat, err := s.GetChat(chatID)
	if err != nil || len(chat.Analysis) == 0 {
		return analysis, false
	}
	if err := json.Unmarshal(chat.Analysis, &analysis); err != nil {
		log.Printf("[Store] Corrupt analysis blob for chat %s: %v", chatID, err)
		return models.ConversationAnalysis{}, false
	}
	return analysis, true
}

// KeyPoints derives the per-message key point view from the stored analysis.
func (s *SessionStore) KeyPoints(chatID uuid.UUID) []models.KeyPoint {
	analysis, ok := s.Analysis(chatID)
	if !ok {
		return nil
	}
	messages, err := s.Messages(chatID)
	if err != nil {
		return nil
	}
	return models.DeriveKeyPoints(analysis, messages)
}

func (s *SessionStore) CurrentChatID() *uuid.UUID {
	state, err := s.appState()
	if err != nil {
		return nil
	}
	return state.CurrentChatID
}

func (s *SessionStore) SetCurrentChat(id *uuid.UUID) error {
	state, err := s.appState()
	if err != nil {
		return err
	}
	return s.db.Model(state).Update("current_chat_id", id).Error
}

func (s *SessionStore) Language() string {
	state, err := s.appState()
	if err != nil {
		return "en"
	}
	return state.Language
}

func (s *SessionStore) SetLanguage(lang string) error {
	state, err := s.appState()
	if err != nil {
		return err
	}
	return s.db.Model(state).Update("language", lang).Error
}

func (s *SessionStore) appState() (*models.AppState, error) {
	state := models.AppState{ID: appStateID, Language: "en"}
	if err := s.db.FirstOrCreate(&state, models.AppState{ID: appStateID}).Error; err != nil {
		return nil, err
	}
	return &state, nil
}

func titleFrom(content string) string {
	runes := []rune(content)
	if len(runes) > 50 {
		return string(runes[:50]) + "..."
	}
	return content
}
