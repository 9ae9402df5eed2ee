package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnthropic_Complete(t *testing.T) {
	t.Run("successful completion", func(t *testing.T) {
		var body map[string]any
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "POST", r.Method)
			assert.Equal(t, "test-api-key", r.Header.Get("x-api-key"))
			raw, _ := io.ReadAll(r.Body)
			assert.NoError(t, json.Unmarshal(raw, &body))

			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, `{
				"id": "msg_123",
				"type": "message",
				"role": "assistant",
				"model": "claude-test",
				"content": [{"type": "text", "text": "[{\"verse\": 1}]"}],
				"stop_reason": "max_tokens",
				"usage": {"input_tokens": 120, "output_tokens": 40}
			}`)
		}))
		defer server.Close()

		client := NewAnthropic(AnthropicConfig{APIKey: "test-api-key", Model: "claude-test", BaseURL: server.URL})
		resp, err := client.Complete(context.Background(), Request{
			System:    "system prompt",
			Prompt:    "user prompt",
			MaxTokens: 512,
		})
		require.NoError(t, err)

		assert.Equal(t, `[{"verse": 1}]`, resp.Text)
		assert.Equal(t, "claude-test", resp.Model)
		assert.Equal(t, int64(120), resp.InputTokens)
		assert.Equal(t, int64(40), resp.OutputTokens)
		assert.True(t, resp.Truncated)

		assert.Equal(t, "claude-test", body["model"])
		assert.EqualValues(t, 512, body["max_tokens"])
	})

	t.Run("server errors are transient", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			io.WriteString(w, `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`)
		}))
		defer server.Close()

		client := NewAnthropic(AnthropicConfig{APIKey: "k", Model: "m", BaseURL: server.URL})
		_, err := client.Complete(context.Background(), Request{Prompt: "p"})
		require.Error(t, err)
		assert.True(t, IsTransient(err))
	})

	t.Run("auth errors are fatal", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
		}))
		defer server.Close()

		client := NewAnthropic(AnthropicConfig{APIKey: "bad", Model: "m", BaseURL: server.URL})
		_, err := client.Complete(context.Background(), Request{Prompt: "p"})
		require.Error(t, err)
		assert.True(t, IsFatal(err))
	})
}
