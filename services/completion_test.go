package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completionBody(content string) string {
	resp := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
		"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	}
	data, _ := json.Marshal(resp)
	return string(data)
}

func TestCompleteReturnsReplyAndUsage(t *testing.T) {
	var gotReq completionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.Write([]byte(completionBody("Hi there")))
	}))
	defer srv.Close()

	svc := NewCompletionService(srv.URL, "test-key", "llama-3.1-8b-instant")
	reply, usage, err := svc.Complete(context.Background(), []ChatMessage{{Role: "user", Content: "Hello"}}, Options{})

	require.NoError(t, err)
	assert.Equal(t, "Hi there", reply)
	require.NotNil(t, usage)
	assert.Equal(t, 15, usage.TotalTokens)

	assert.Equal(t, "llama-3.1-8b-instant", gotReq.Model)
	assert.Equal(t, defaultMaxTokens, gotReq.MaxTokens)
	assert.InDelta(t, defaultTemperature, gotReq.Temperature, 1e-9)
}

func TestCompleteModelOverride(t *testing.T) {
	var gotReq completionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.Write([]byte(completionBody("ok")))
	}))
	defer srv.Close()

	svc := NewCompletionService(srv.URL, "test-key", "default-model")
	_, _, err := svc.Complete(context.Background(), []ChatMessage{{Role: "user", Content: "x"}}, Options{Model: "other-model"})

	require.NoError(t, err)
	assert.Equal(t, "other-model", gotReq.Model)
}

func TestCompleteEmptyContentDegradesToApology(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(completionBody("")))
	}))
	defer srv.Close()

	svc := NewCompletionService(srv.URL, "test-key", "m")
	reply, _, err := svc.Complete(context.Background(), []ChatMessage{{Role: "user", Content: "x"}}, Options{})

	require.NoError(t, err)
	assert.Equal(t, apologyReply, reply)
}

func TestCompleteMissingKeySkipsGateway(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	svc := NewCompletionService(srv.URL, "", "m")
	_, _, err := svc.Complete(context.Background(), []ChatMessage{{Role: "user", Content: "x"}}, Options{})

	var cerr *CompletionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, http.StatusUnauthorized, cerr.Status)
	assert.Equal(t, 0, calls)
}

func TestCompleteClassifiesGatewayErrors(t *testing.T) {
	tests := []struct {
		name       string
		gateway    int
		wantStatus int
		contains   string
	}{
		{"auth", http.StatusUnauthorized, http.StatusUnauthorized, "invalid"},
		{"billing", http.StatusPaymentRequired, http.StatusPaymentRequired, "billing"},
		{"rate limit", http.StatusTooManyRequests, http.StatusTooManyRequests, "rate limit"},
		{"server error", http.StatusBadGateway, http.StatusInternalServerError, "status 502"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.gateway)
				w.Write([]byte(`{"error":{"message":"details from provider"}}`))
			}))
			defer srv.Close()

			svc := NewCompletionService(srv.URL, "test-key", "m")
			_, _, err := svc.Complete(context.Background(), []ChatMessage{{Role: "user", Content: "x"}}, Options{})

			var cerr *CompletionError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tt.wantStatus, cerr.Status)
			assert.Contains(t, cerr.Message, tt.contains)
		})
	}
}

func TestModelFor(t *testing.T) {
	svc := NewCompletionService("http://x", "k", "base")
	assert.Equal(t, "base", svc.ModelFor(""))
	assert.Equal(t, "override", svc.ModelFor("override"))
}
