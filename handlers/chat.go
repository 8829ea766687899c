package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"fabot/config"
	"fabot/models"
	"fabot/services"
)

// ChatHandler exposes the two stateless proxy endpoints: /api/chat forwards
// a transcript to the completion gateway, /api/analyze derives the Visual
// Guide structure from one.
type ChatHandler struct {
	cfg        *config.Config
	completion *services.CompletionService
	analyzer   *services.AnalyzerService
}

func NewChatHandler(cfg *config.Config, completion *services.CompletionService, analyzer *services.AnalyzerService) *ChatHandler {
	return &ChatHandler{cfg: cfg, completion: completion, analyzer: analyzer}
}

type chatRequest struct {
	Messages []services.ChatMessage `json:"messages"`
	Model    string                 `json:"model"`
}

type analyzeRequest struct {
	Messages []services.ChatMessage `json:"messages"`
	Language string                 `json:"language"`
}

type analyzeResponse struct {
	models.ConversationAnalysis
	Degraded bool `json:"degraded,omitempty"`
}

// Chat proxies the transcript to the completion gateway. An empty message
// list is a client error and never reaches the gateway; gateway failures map
// to distinct statuses (401/402/429/500) with the classified error text.
func (h *ChatHandler) Chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if len(req.Messages) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No messages provided"})
		return
	}

	reply, usage, err := h.completion.Complete(c.Request.Context(), req.Messages, services.Options{Model: req.Model})
	if err != nil {
		var cerr *services.CompletionError
		if errors.As(err, &cerr) {
			c.JSON(cerr.Status, gin.H{"error": cerr.Message})
			return
		}
		log.Printf("[Chat] Completion failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to reach the completion provider"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": reply,
		"usage":   usage,
		"model":   h.completion.ModelFor(req.Model),
	})
}

// Analyze always answers 200 with an analysis-shaped body: a soft failure
// (model reply that is not valid JSON) degrades to the placeholder instead
// of an error. 500 is reserved for bad input and total gateway failure.
func (h *ChatHandler) Analyze(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to analyze the conversation"})
		return
	}

	language := req.Language
	if language == "" {
		language = h.cfg.DefaultLanguage
	}

	result, err := h.analyzer.Analyze(c.Request.Context(), req.Messages, language)
	if err != nil {
		log.Printf("[Analyze] Analysis failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to analyze the conversation"})
		return
	}

	c.JSON(http.StatusOK, analyzeResponse{
		ConversationAnalysis: result.Analysis,
		Degraded:             result.Degraded,
	})
}
