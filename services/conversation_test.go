package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"fabot/models"
	"fabot/store"
)

func newTestSessions(t *testing.T) *store.SessionStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Chat{}, &models.Message{}, &models.AppState{}))
	return store.New(db)
}

// chatGateway answers "Hi there" to chat calls and a fixed analysis JSON to
// analysis calls (recognized by their leading system message).
func chatGateway(t *testing.T) (*httptest.Server, *int) {
	t.Helper()
	analysisCalls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req completionRequest
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) > 0 && req.Messages[0].Role == "system" {
			analysisCalls++
			w.Write([]byte(completionBody(`{"keyPoints":["greeting"],"topics":[],"actionItems":[],"questions":[],"summary":"greeting","nextSteps":"ask more"}`)))
			return
		}
		w.Write([]byte(completionBody("Hi there")))
	}))
	t.Cleanup(srv.Close)
	return srv, &analysisCalls
}

func newTestConversation(t *testing.T, gatewayURL string) (*ConversationService, *store.SessionStore) {
	t.Helper()
	sessions := newTestSessions(t)
	completion := NewCompletionService(gatewayURL, "test-key", "llama-3.1-8b-instant")
	svc := NewConversationService(sessions, completion, NewAnalyzerService(completion), NewRedisPublisher(nil))
	t.Cleanup(svc.Close)
	return svc, sessions
}

func TestSubmitFirstMessageCreatesChat(t *testing.T) {
	srv, _ := chatGateway(t)
	svc, sessions := newTestConversation(t, srv.URL)

	result, err := svc.Submit(context.Background(), uuid.Nil, "Hello", nil)
	require.NoError(t, err)
	require.NoError(t, result.Err)

	assert.Equal(t, "Hello", result.Chat.Title)
	assert.Equal(t, "user", result.UserMsg.Role)
	assert.Equal(t, "Hello", result.UserMsg.Content)
	assert.Equal(t, "assistant", result.Assistant.Role)
	assert.Equal(t, "Hi there", result.Assistant.Content)
	assert.Equal(t, "llama-3.1-8b-instant", result.Assistant.Model)

	current := sessions.CurrentChatID()
	require.NotNil(t, current)
	assert.Equal(t, result.Chat.ID, *current)

	messages, err := sessions.Messages(result.Chat.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "Hello", messages[0].Content)
	assert.Equal(t, "Hi there", messages[1].Content)

	// The submit re-triggers analysis in the background.
	require.Eventually(t, func() bool {
		_, ok := sessions.Analysis(result.Chat.ID)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	analysis, _ := sessions.Analysis(result.Chat.ID)
	assert.Equal(t, []string{"greeting"}, analysis.KeyPoints)
}

func TestSubmitReusesCurrentChat(t *testing.T) {
	srv, _ := chatGateway(t)
	svc, sessions := newTestConversation(t, srv.URL)

	first, err := svc.Submit(context.Background(), uuid.Nil, "Hello", nil)
	require.NoError(t, err)
	second, err := svc.Submit(context.Background(), uuid.Nil, "And again", nil)
	require.NoError(t, err)

	assert.Equal(t, first.Chat.ID, second.Chat.ID)
	chats, err := sessions.ListChats()
	require.NoError(t, err)
	assert.Len(t, chats, 1)
}

func TestSubmitBlankTextRejected(t *testing.T) {
	srv, _ := chatGateway(t)
	svc, sessions := newTestConversation(t, srv.URL)

	_, err := svc.Submit(context.Background(), uuid.Nil, "   ", nil)
	assert.ErrorIs(t, err, ErrEmptyMessage)

	chats, err := sessions.ListChats()
	require.NoError(t, err)
	assert.Empty(t, chats)
}

func TestSubmitRateLimitBecomesAssistantBubble(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"slow down"}}`))
	}))
	t.Cleanup(srv.Close)
	svc, sessions := newTestConversation(t, srv.URL)

	result, err := svc.Submit(context.Background(), uuid.Nil, "Hello", nil)
	require.NoError(t, err)
	require.Error(t, result.Err)

	messages, err := sessions.Messages(result.Chat.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "assistant", messages[1].Role)
	assert.Contains(t, messages[1].Content, "rate limit")
}

func TestSubmitRejectedWhileSendInFlight(t *testing.T) {
	srv, _ := chatGateway(t)
	svc, _ := newTestConversation(t, srv.URL)

	chat, err := svc.CreateChat("", "")
	require.NoError(t, err)

	svc.mu.Lock()
	svc.states[chat.ID] = StateSending
	svc.mu.Unlock()

	_, err = svc.Submit(context.Background(), chat.ID, "Hello", nil)
	assert.ErrorIs(t, err, ErrSendInFlight)

	svc.mu.Lock()
	delete(svc.states, chat.ID)
	svc.mu.Unlock()
}

func TestSubmitUnknownChat(t *testing.T) {
	srv, _ := chatGateway(t)
	svc, _ := newTestConversation(t, srv.URL)

	_, err := svc.Submit(context.Background(), uuid.New(), "Hello", nil)
	assert.ErrorIs(t, err, store.ErrChatNotFound)
}

func TestSubmitStoresAttachments(t *testing.T) {
	srv, _ := chatGateway(t)
	svc, sessions := newTestConversation(t, srv.URL)

	attachments := []models.Attachment{{
		ID:   "a1",
		Name: "notes.txt",
		Kind: "text",
		Data: "aGVsbG8=",
		Size: 5,
	}}
	result, err := svc.Submit(context.Background(), uuid.Nil, "see attached", attachments)
	require.NoError(t, err)

	messages, err := sessions.Messages(result.Chat.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)

	var stored []models.Attachment
	require.NoError(t, json.Unmarshal(messages[0].Attachments, &stored))
	require.Len(t, stored, 1)
	assert.Equal(t, "notes.txt", stored[0].Name)
}

// Queue-level behavior is tested against a service whose worker is not
// running, so enqueue effects can be observed deterministically.
func newStoppedWorkerService(t *testing.T) (*ConversationService, *store.SessionStore) {
	t.Helper()
	sessions := newTestSessions(t)
	svc := &ConversationService{
		store:   sessions,
		events:  NewRedisPublisher(nil),
		states:  make(map[uuid.UUID]ChatState),
		queue:   make(chan uuid.UUID, 64),
		pending: make(map[uuid.UUID]string),
		done:    make(chan struct{}),
	}
	return svc, sessions
}

func TestEnqueueAnalysisCoalescesPerChat(t *testing.T) {
	svc, _ := newStoppedWorkerService(t)
	chatID := uuid.New()

	svc.EnqueueAnalysis(chatID, "en")
	svc.EnqueueAnalysis(chatID, "en")
	svc.EnqueueAnalysis(chatID, "pt")

	assert.Len(t, svc.queue, 1)

	svc.qmu.Lock()
	lang := svc.pending[chatID]
	svc.qmu.Unlock()
	// Coalesced duplicates collapse into one job carrying the latest language.
	assert.Equal(t, "pt", lang)

	other := uuid.New()
	svc.EnqueueAnalysis(other, "en")
	assert.Len(t, svc.queue, 2)
}

func TestSetLanguageRetriggersAnalysisForCurrentChat(t *testing.T) {
	svc, sessions := newStoppedWorkerService(t)

	chat, err := sessions.CreateChat("", "")
	require.NoError(t, err)
	require.NoError(t, sessions.AppendMessage(chat.ID, &models.Message{Role: "user", Content: "Hello"}))

	require.NoError(t, svc.SetLanguage("pt"))

	assert.Equal(t, "pt", sessions.Language())
	assert.Len(t, svc.queue, 1)
	svc.qmu.Lock()
	assert.Equal(t, "pt", svc.pending[chat.ID])
	svc.qmu.Unlock()
}

func TestRunAnalysisSavesResult(t *testing.T) {
	srv, analysisCalls := chatGateway(t)
	svc, sessions := newStoppedWorkerService(t)
	completion := NewCompletionService(srv.URL, "test-key", "m")
	svc.completion = completion
	svc.analyzer = NewAnalyzerService(completion)

	chat, err := sessions.CreateChat("", "")
	require.NoError(t, err)
	require.NoError(t, sessions.AppendMessage(chat.ID, &models.Message{Role: "user", Content: "Hello"}))

	svc.runAnalysis(analyzeRequest{chatID: chat.ID, language: "en"})

	assert.Equal(t, 1, *analysisCalls)
	analysis, ok := sessions.Analysis(chat.ID)
	require.True(t, ok)
	assert.Equal(t, []string{"greeting"}, analysis.KeyPoints)
	assert.Equal(t, StateIdle, svc.State(chat.ID))
}

func TestRunAnalysisGatewayFailureLeavesPriorAnalysis(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	svc, sessions := newStoppedWorkerService(t)
	completion := NewCompletionService(srv.URL, "test-key", "m")
	svc.completion = completion
	svc.analyzer = NewAnalyzerService(completion)

	chat, err := sessions.CreateChat("", "")
	require.NoError(t, err)
	require.NoError(t, sessions.AppendMessage(chat.ID, &models.Message{Role: "user", Content: "Hello"}))
	prior := models.ConversationAnalysis{KeyPoints: []string{"kept"}, Summary: "kept"}
	require.NoError(t, sessions.SaveAnalysis(chat.ID, prior))

	svc.runAnalysis(analyzeRequest{chatID: chat.ID, language: "en"})

	analysis, ok := sessions.Analysis(chat.ID)
	require.True(t, ok)
	assert.Equal(t, prior, analysis)
}

func TestDeleteChatThroughService(t *testing.T) {
	srv, _ := chatGateway(t)
	svc, sessions := newTestConversation(t, srv.URL)

	first, err := svc.CreateChat("first", "")
	require.NoError(t, err)
	second, err := svc.CreateChat("second", "")
	require.NoError(t, err)

	next, err := svc.DeleteChat(second.ID)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, first.ID, next.ID)

	next, err = svc.DeleteChat(first.ID)
	require.NoError(t, err)
	assert.Nil(t, next)
	assert.Nil(t, sessions.CurrentChatID())
}
