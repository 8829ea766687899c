package services

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"fabot/models"
	"fabot/store"
)

// ChatState is the per-chat in-flight state. Send and analysis can overlap,
// but each kind of operation runs at most once per chat at a time.
type ChatState int

const (
	StateIdle ChatState = iota
	StateSending
	StateAnalyzing
	StateSendingAndAnalyzing
)

var (
	ErrEmptyMessage = errors.New("message text is empty")
	ErrSendInFlight = errors.New("a send is already in flight for this chat")
)

const analysisTimeout = 90 * time.Second

type analyzeRequest struct {
	chatID   uuid.UUID
	language string
}

// SubmitResult carries everything a caller needs after a send: the chat (it
// may have been created by the call), the appended user message and the
// assistant reply. Err holds the gateway failure that produced a synthetic
// assistant message, if any.
type SubmitResult struct {
	Chat      *models.Chat
	UserMsg   *models.Message
	Assistant *models.Message
	Err       error
}

// ConversationService coordinates the whole message lifecycle: appending,
// calling the completion gateway, re-analyzing the transcript and writing
// everything back through the session store. Analysis runs on a single
// worker goroutine fed by a coalescing queue, so rapid successive triggers
// collapse into one pending job per chat.
type ConversationService struct {
	store      *store.SessionStore
	completion *CompletionService
	analyzer   *AnalyzerService
	events     EventPublisher

	mu     sync.Mutex
	states map[uuid.UUID]ChatState

	queue   chan uuid.UUID
	qmu     sync.Mutex
	pending map[uuid.UUID]string // chat id -> requested language

	done chan struct{}
	wg   sync.WaitGroup
}

func NewConversationService(
	sessions *store.SessionStore,
	completion *CompletionService,
	analyzer *AnalyzerService,
	events EventPublisher,
) *ConversationService {
	s := &ConversationService{
		store:      sessions,
		completion: completion,
		analyzer:   analyzer,
		events:     events,
		states:     make(map[uuid.UUID]ChatState),
		queue:      make(chan uuid.UUID, 64),
		pending:    make(map[uuid.UUID]string),
		done:       make(chan struct{}),
	}
	s.wg.Add(1)
	go s.analysisWorker()
	return s
}

// Close stops the analysis worker and waits for an in-flight job to finish.
func (s *ConversationService) Close() {
	close(s.done)
	s.wg.Wait()
}

// State reports the in-flight state for a chat.
func (s *ConversationService) State(chatID uuid.UUID) ChatState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[chatID]
}

// Submit appends the user's message, calls the completion gateway with the
// full transcript and appends the reply. A gateway failure is never hidden:
// it is appended as a synthetic assistant message carrying the error text,
// and reported in SubmitResult.Err. Every submit ends by enqueueing a fresh
// analysis of the chat.
func (s *ConversationService) Submit(ctx context.Context, chatID uuid.UUID, text string, attachments []models.Attachment) (*SubmitResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	chat, err := s.resolveChat(chatID)
	if err != nil {
		return nil, err
	}

	if err := s.beginSend(chat.ID); err != nil {
		return nil, err
	}
	defer s.endSend(chat.ID)

	userMsg := &models.Message{Role: "user", Content: text}
	if len(attachments) > 0 {
		data, err := json.Marshal(attachments)
		if err != nil {
			return nil, err
		}
		userMsg.Attachments = datatypes.JSON(data)
	}
	if err := s.store.AppendMessage(chat.ID, userMsg); err != nil {
		return nil, err
	}

	transcript, err := s.transcript(chat.ID)
	if err != nil {
		return nil, err
	}

	result := &SubmitResult{Chat: chat, UserMsg: userMsg}

	reply, _, err := s.completion.Complete(ctx, transcript, Options{Model: chat.Model})
	if err != nil {
		result.Err = err
		reply = errorReply(err)
	}

	assistant := &models.Message{
		Role:    "assistant",
		Content: reply,
		Model:   s.completion.ModelFor(chat.Model),
	}
	if err := s.store.AppendMessage(chat.ID, assistant); err != nil {
		return nil, err
	}
	result.Assistant = assistant

	s.events.Publish(Event{Type: "message_appended", ChatID: chat.ID.String()})
	s.EnqueueAnalysis(chat.ID, s.store.Language())

	// Re-read the chat: the first append may have retitled it.
	if updated, err := s.store.GetChat(chat.ID); err == nil {
		result.Chat = updated
	}
	return result, nil
}

// EnqueueAnalysis schedules an analysis pass for a chat. Requests for a chat
// that already has one pending are coalesced; the latest language wins.
func (s *ConversationService) EnqueueAnalysis(chatID uuid.UUID, language string) {
	s.qmu.Lock()
	if _, exists := s.pending[chatID]; exists {
		s.pending[chatID] = language
		s.qmu.Unlock()
		return
	}
	s.pending[chatID] = language
	s.qmu.Unlock()

	select {
	case s.queue <- chatID:
	default:
		// Queue full: drop this trigger; the next message will re-enqueue.
		log.Printf("[Analyze] Queue full, dropping trigger for chat %s", chatID)
		s.qmu.Lock()
		delete(s.pending, chatID)
		s.qmu.Unlock()
	}
}

// SetLanguage switches the display language and re-triggers analysis for the
// current chat so the guide regenerates in the new language.
func (s *ConversationService) SetLanguage(language string) error {
	if err := s.store.SetLanguage(language); err != nil {
		return err
	}
	if current := s.store.CurrentChatID(); current != nil {
		s.EnqueueAnalysis(*current, language)
	}
	return nil
}

func (s *ConversationService) CreateChat(title, model string) (*models.Chat, error) {
	chat, err := s.store.CreateChat(title, model)
	if err != nil {
		return nil, err
	}
	s.events.Publish(Event{Type: "chat_created", ChatID: chat.ID.String()})
	return chat, nil
}

func (s *ConversationService) SwitchChat(id uuid.UUID) (*models.Chat, error) {
	chat, err := s.store.GetChat(id)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetCurrentChat(&chat.ID); err != nil {
		return nil, err
	}
	return chat, nil
}

// DeleteChat removes a chat; the store repoints the current pointer to the
// most recently updated survivor, or clears it. Returns the new current
// chat, nil when none remain.
func (s *ConversationService) DeleteChat(id uuid.UUID) (*models.Chat, error) {
	next, err := s.store.DeleteChat(id)
	if err != nil {
		return nil, err
	}
	s.events.Publish(Event{Type: "chat_deleted", ChatID: id.String()})
	return next, nil
}

// resolveChat maps uuid.Nil to the current chat, creating one when no chat
// exists yet (implicit creation on first send).
func (s *ConversationService) resolveChat(chatID uuid.UUID) (*models.Chat, error) {
	if chatID != uuid.Nil {
		return s.store.GetChat(chatID)
	}
	if current := s.store.CurrentChatID(); current != nil {
		return s.store.GetChat(*current)
	}
	return s.CreateChat("", "")
}

func (s *ConversationService) transcript(chatID uuid.UUID) ([]ChatMessage, error) {
	messages, err := s.store.Messages(chatID)
	if err != nil {
		return nil, err
	}
	transcript := make([]ChatMessage, 0, len(messages))
	for _, msg := range messages {
		transcript = append(transcript, ChatMessage{Role: msg.Role, Content: msg.Content})
	}
	return transcript, nil
}

func (s *ConversationService) beginSend(chatID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.states[chatID] {
	case StateSending, StateSendingAndAnalyzing:
		return ErrSendInFlight
	case StateAnalyzing:
		s.states[chatID] = StateSendingAndAnalyzing
	default:
		s.states[chatID] = StateSending
	}
	return nil
}

func (s *ConversationService) endSend(chatID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.states[chatID] {
	case StateSendingAndAnalyzing:
		s.states[chatID] = StateAnalyzing
	default:
		delete(s.states, chatID)
	}
}

func (s *ConversationService) beginAnalysis(chatID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.states[chatID] {
	case StateSending:
		s.states[chatID] = StateSendingAndAnalyzing
	default:
		s.states[chatID] = StateAnalyzing
	}
}

func (s *ConversationService) endAnalysis(chatID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.states[chatID] {
	case StateSendingAndAnalyzing:
		s.states[chatID] = StateSending
	default:
		delete(s.states, chatID)
	}
}

func (s *ConversationService) analysisWorker() {
	defer s.wg.Done()
	for {
		select {
		case chatID := <-s.queue:
			s.qmu.Lock()
			language, ok := s.pending[chatID]
			delete(s.pending, chatID)
			s.qmu.Unlock()
			if !ok {
				continue
			}
			s.runAnalysis(analyzeRequest{chatID: chatID, language: language})
		case <-s.done:
			return
		}
	}
}

// runAnalysis snapshots the transcript, asks the analyzer for a fresh
// ConversationAnalysis and replaces the stored one wholesale. Failures
// degrade silently to "no update": the prior analysis stays visible.
func (s *ConversationService) runAnalysis(req analyzeRequest) {
	transcript, err := s.transcript(req.chatID)
	if err != nil || len(transcript) == 0 {
		return
	}

	s.beginAnalysis(req.chatID)
	defer s.endAnalysis(req.chatID)

	ctx, cancel := context.WithTimeout(context.Background(), analysisTimeout)
	defer cancel()

	result, err := s.analyzer.Analyze(ctx, transcript, req.language)
	if err != nil {
		log.Printf("[Analyze] Analysis for chat %s failed: %v", req.chatID, err)
		return
	}
	if result.Degraded {
		log.Printf("[Analyze] Degraded analysis for chat %s: %s", req.chatID, result.Reason)
	}

	if err := s.store.SaveAnalysis(req.chatID, result.Analysis); err != nil {
		log.Printf("[Analyze] Failed to save analysis for chat %s: %v", req.chatID, err)
		return
	}
	s.events.Publish(Event{Type: "analysis_updated", ChatID: req.chatID.String()})
}

// errorReply renders a classified gateway failure as the visible assistant
// bubble text.
func errorReply(err error) string {
	var cerr *CompletionError
	if errors.As(err, &cerr) {
		return cerr.Message
	}
	return "Sorry, something went wrong: " + err.Error()
}
