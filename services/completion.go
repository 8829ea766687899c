package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// apologyReply is returned when the gateway answers with empty content.
const apologyReply = "Sorry, I could not process your message. Please try again."

const (
	defaultTemperature = 0.7
	defaultMaxTokens   = 1000
)

// ChatMessage is one role-tagged entry of a transcript, in the shape the
// completion gateway expects.
type ChatMessage struct {
	Role    string `json:"role" binding:"required"`
	Content string `json:"content"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionError is a gateway failure classified by status:
// 401 bad credential, 402 billing, 429 rate limit, 500 everything else.
type CompletionError struct {
	Status  int
	Message string
}

func (e *CompletionError) Error() string {
	return fmt.Sprintf("completion gateway error %d: %s", e.Status, e.Message)
}

type completionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

type gatewayErrorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Options tune a single completion call. Zero values fall back to the
// service defaults.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// CompletionService talks to an OpenAI-compatible chat-completions endpoint.
// It is stateless; every call re-sends the full transcript.
type CompletionService struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

func NewCompletionService(baseURL, apiKey, model string) *CompletionService {
	return &CompletionService{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// ModelFor resolves the model tag a call will use.
func (s *CompletionService) ModelFor(override string) string {
	if override != "" {
		return override
	}
	return s.model
}

// Complete sends the transcript to the gateway and returns the assistant
// reply. Empty content from the gateway degrades to a canned apology rather
// than an error. Failures come back as *CompletionError; nothing is retried.
func (s *CompletionService) Complete(ctx context.Context, messages []ChatMessage, opts Options) (string, *Usage, error) {
	if s.apiKey == "" {
		return "", nil, &CompletionError{
			Status:  http.StatusUnauthorized,
			Message: "Completion API key is missing or not configured",
		}
	}

	temperature := opts.Temperature
	if temperature == 0 {
		temperature = defaultTemperature
	}
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	reqBody := completionRequest{
		Model:       s.ModelFor(opts.Model),
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal completion request: %w", err)
	}

	url := s.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", nil, fmt.Errorf("failed to create completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", nil, classifyGatewayError(resp)
	}

	var completion completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return "", nil, fmt.Errorf("failed to decode completion response: %w", err)
	}

	usage := completion.Usage
	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return apologyReply, &usage, nil
	}
	return completion.Choices[0].Message.Content, &usage, nil
}

func classifyGatewayError(resp *http.Response) *CompletionError {
	detail := gatewayErrorDetail(resp.Body)

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return &CompletionError{
			Status:  http.StatusUnauthorized,
			Message: "Completion API key is invalid or not configured",
		}
	case http.StatusPaymentRequired:
		return &CompletionError{
			Status:  http.StatusPaymentRequired,
			Message: "Completion provider reported a billing problem",
		}
	case http.StatusTooManyRequests:
		msg := "Completion provider rate limit exceeded"
		if detail != "" {
			msg += ": " + detail
		}
		return &CompletionError{Status: http.StatusTooManyRequests, Message: msg}
	default:
		msg := fmt.Sprintf("Completion provider error (status %d)", resp.StatusCode)
		if detail != "" {
			msg += ": " + detail
		}
		return &CompletionError{Status: http.StatusInternalServerError, Message: msg}
	}
}

func gatewayErrorDetail(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(body) == 0 {
		return ""
	}
	var parsed gatewayErrorBody
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return string(body)
}
