package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatServer(t *testing.T, status int, content string, seen *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if seen != nil {
			_ = json.NewDecoder(r.Body).Decode(seen)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "cmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
			"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 7, "total_tokens": 19},
		})
	}))
}

func TestOpenAIClient_Complete(t *testing.T) {
	var body map[string]any
	srv := chatServer(t, http.StatusOK, "Deposit must be refunded [[cite:rent-act#12]].\nCONFIDENCE: 0.8", &body)
	defer srv.Close()

	c := NewOpenAIClient(Config{BaseURL: srv.URL + "/v1/", APIKey: "k", Model: "test-model", Temperature: 0.2, MaxTokens: 100})
	got, err := c.Complete(context.Background(), Prompt{System: "sys", User: "question"})
	require.NoError(t, err)
	assert.Contains(t, got.Text, "[[cite:rent-act#12]]")
	assert.Equal(t, 12, got.PromptTokens)
	assert.Equal(t, 7, got.CompletionTokens)

	assert.Equal(t, "test-model", body["model"])
	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "user", msgs[1].(map[string]any)["role"])
}

func TestOpenAIClient_ServerError(t *testing.T) {
	srv := chatServer(t, http.StatusInternalServerError, "", nil)
	defer srv.Close()
	c := NewOpenAIClient(Config{BaseURL: srv.URL + "/v1/", APIKey: "k", Model: "m"})
	_, err := c.Complete(context.Background(), Prompt{User: "q"})
	assert.Error(t, err)
}

func TestOpenAIClient_EmptyContent(t *testing.T) {
	srv := chatServer(t, http.StatusOK, "  ", nil)
	defer srv.Close()
	c := NewOpenAIClient(Config{BaseURL: srv.URL + "/v1/", APIKey: "k", Model: "m"})
	_, err := c.Complete(context.Background(), Prompt{User: "q"})
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestOpenAIClient_Ping(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/models"), r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(int(status.Load()))
		if status.Load() != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"error"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"object":"list","data":[{"id":"m","object":"model","created":1,"owned_by":"test"}]}`))
	}))
	defer srv.Close()
	c := NewOpenAIClient(Config{BaseURL: srv.URL + "/v1/", APIKey: "k", Model: "m"})

	assert.NoError(t, c.Ping(context.Background()))
	status.Store(http.StatusNotFound)
	assert.NoError(t, c.Ping(context.Background()), "gateways without a models endpoint are still up")
	status.Store(http.StatusBadGateway)
	assert.Error(t, c.Ping(context.Background()))
}

func TestTokenCounter_Fallback(t *testing.T) {
	tc, err := NewTokenCounter("no-such-encoding")
	assert.Error(t, err)
	require.NotNil(t, tc)
	assert.False(t, tc.Exact())
	assert.Equal(t, 4, tc.Count("one two three"))
	assert.Equal(t, 0, tc.Count("   "))
}

func TestCompleterFunc(t *testing.T) {
	f := CompleterFunc(func(_ context.Context, p Prompt) (Completion, error) {
		return Completion{Text: strings.ToUpper(p.User)}, nil
	})
	got, err := f.Complete(context.Background(), Prompt{User: "ok"})
	require.NoError(t, err)
	assert.Equal(t, "OK", got.Text)
}
