package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"fabot/models"
	"fabot/services"
	"fabot/store"
)

// ChatsHandler is the session surface: listing, creating, switching,
// renaming and deleting chats, plus the message-send pipeline.
type ChatsHandler struct {
	sessions *store.SessionStore
	conv     *services.ConversationService
}

func NewChatsHandler(sessions *store.SessionStore, conv *services.ConversationService) *ChatsHandler {
	return &ChatsHandler{sessions: sessions, conv: conv}
}

type createChatRequest struct {
	Title string `json:"title"`
	Model string `json:"model"`
}

type updateChatRequest struct {
	Title   string `json:"title"`
	Current bool   `json:"current"`
}

type sendMessageRequest struct {
	Content     string              `json:"content"`
	Attachments []models.Attachment `json:"attachments"`
}

type setLanguageRequest struct {
	Language string `json:"language" binding:"required"`
}

// List returns every chat, newest activity first, plus the current pointer
// and active language.
func (h *ChatsHandler) List(c *gin.Context) {
	chats, err := h.sessions.ListChats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list chats"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"chats":           chats,
		"current_chat_id": h.sessions.CurrentChatID(),
		"language":        h.sessions.Language(),
	})
}

// Create makes a new chat and switches to it.
func (h *ChatsHandler) Create(c *gin.Context) {
	var req createChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	chat, err := h.conv.CreateChat(req.Title, req.Model)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create chat"})
		return
	}
	c.JSON(http.StatusCreated, chat)
}

// Update renames a chat and/or makes it current.
func (h *ChatsHandler) Update(c *gin.Context) {
	chatID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid chat id"})
		return
	}

	var req updateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if req.Title != "" {
		if err := h.sessions.RenameChat(chatID, req.Title); err != nil {
			respondStoreError(c, err, "Failed to rename chat")
			return
		}
	}
	if req.Current {
		if _, err := h.conv.SwitchChat(chatID); err != nil {
			respondStoreError(c, err, "Failed to switch chat")
			return
		}
	}

	chat, err := h.sessions.GetChat(chatID)
	if err != nil {
		respondStoreError(c, err, "Failed to load chat")
		return
	}
	c.JSON(http.StatusOK, chat)
}

// Delete removes a chat and reports the new current pointer.
func (h *ChatsHandler) Delete(c *gin.Context) {
	chatID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid chat id"})
		return
	}

	next, err := h.conv.DeleteChat(chatID)
	if err != nil {
		respondStoreError(c, err, "Failed to delete chat")
		return
	}

	resp := gin.H{"message": "Chat deleted", "current_chat_id": nil}
	if next != nil {
		resp["current_chat_id"] = next.ID
	}
	c.JSON(http.StatusOK, resp)
}

// Messages returns a chat's transcript together with the derived key point
// view and the latest stored analysis.
func (h *ChatsHandler) Messages(c *gin.Context) {
	chatID, ok := h.resolveChatID(c)
	if !ok {
		return
	}

	if chatID == uuid.Nil {
		current := h.sessions.CurrentChatID()
		if current == nil {
			c.JSON(http.StatusOK, gin.H{"messages": []models.Message{}, "key_points": nil})
			return
		}
		chatID = *current
	}

	if _, err := h.sessions.GetChat(chatID); err != nil {
		respondStoreError(c, err, "Failed to load chat")
		return
	}

	messages, err := h.sessions.Messages(chatID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load messages"})
		return
	}

	resp := gin.H{
		"messages":   messages,
		"key_points": h.sessions.KeyPoints(chatID),
	}
	if analysis, ok := h.sessions.Analysis(chatID); ok {
		resp["analysis"] = analysis
	}
	c.JSON(http.StatusOK, resp)
}

// Send runs the submit pipeline: append the user message, call the gateway,
// append the reply (or the error bubble) and re-trigger analysis.
func (h *ChatsHandler) Send(c *gin.Context) {
	chatID, ok := h.resolveChatID(c)
	if !ok {
		return
	}

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	result, err := h.conv.Submit(c.Request.Context(), chatID, req.Content, req.Attachments)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrEmptyMessage):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Message text is required"})
		case errors.Is(err, services.ErrSendInFlight):
			c.JSON(http.StatusConflict, gin.H{"error": "A message is already being processed for this chat"})
		case errors.Is(err, store.ErrChatNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Chat not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to send message"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"chat":      result.Chat,
		"message":   result.UserMsg,
		"assistant": result.Assistant,
	})
}

// SetLanguage switches the display language; analysis of the current chat
// is re-triggered so the guide regenerates in the new language.
func (h *ChatsHandler) SetLanguage(c *gin.Context) {
	var req setLanguageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if err := h.conv.SetLanguage(req.Language); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to set language"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"language": req.Language})
}

// resolveChatID maps the "current" path segment to uuid.Nil, which the
// conversation service resolves (and creates) lazily.
func (h *ChatsHandler) resolveChatID(c *gin.Context) (uuid.UUID, bool) {
	raw := c.Param("id")
	if raw == "current" {
		return uuid.Nil, true
	}
	chatID, err := uuid.Parse(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid chat id"})
		return uuid.Nil, false
	}
	return chatID, true
}

func respondStoreError(c *gin.Context, err error, fallback string) {
	if errors.Is(err, store.ErrChatNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Chat not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
}
