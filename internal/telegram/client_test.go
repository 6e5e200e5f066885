package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tempmailbot/backend/internal/config"
	"tempmailbot/backend/internal/domain"
)

func newTestClient(baseURL string) *Client {
	return NewClient(config.TelegramConfig{
		BotToken:    "123:token",
		APIBase:     baseURL,
		SendTimeout: time.Second,
	}, zap.NewNop())
}

func TestSendMessage(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/bot123:token/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer server.Close()

	err := newTestClient(server.URL).SendMessage(context.Background(), 42, "hello")
	require.NoError(t, err)
	assert.Equal(t, float64(42), got["chat_id"])
	assert.Equal(t, "hello", got["text"])
	assert.Equal(t, "Markdown", got["parse_mode"])
}

func TestSendMessageWithButtons(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer server.Close()

	err := newTestClient(server.URL).SendMessageWithButtons(context.Background(), 42, "mail", []domain.Button{
		{Label: "✅ Verify", URL: "https://x.test/verify?t=abc"},
	})
	require.NoError(t, err)

	markup := got["reply_markup"].(map[string]any)
	rows := markup["inline_keyboard"].([]any)
	require.Len(t, rows, 1)
	button := rows[0].([]any)[0].(map[string]any)
	assert.Equal(t, "✅ Verify", button["text"])
	assert.Equal(t, "https://x.test/verify?t=abc", button["url"])
}

func TestRateLimitedError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"ok":          false,
			"error_code":  429,
			"description": "Too Many Requests: retry after 7",
			"parameters":  map[string]any{"retry_after": 7},
		})
	}))
	defer server.Close()

	err := newTestClient(server.URL).SendMessage(context.Background(), 42, "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimited)

	var rateErr *RateLimitedError
	require.ErrorAs(t, err, &rateErr)
	assert.Equal(t, 7*time.Second, rateErr.RetryAfter)
}

func TestChatUnreachableOnForbidden(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"ok":          false,
			"error_code":  403,
			"description": "Forbidden: bot was blocked by the user",
		})
	}))
	defer server.Close()

	err := newTestClient(server.URL).SendMessage(context.Background(), 42, "x")
	assert.ErrorIs(t, err, ErrChatUnreachable)
}

func TestChatUnreachableOnChatNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"ok":          false,
			"error_code":  400,
			"description": "Bad Request: chat not found",
		})
	}))
	defer server.Close()

	err := newTestClient(server.URL).SendMessage(context.Background(), 42, "x")
	assert.ErrorIs(t, err, ErrChatUnreachable)
}

func TestGenericAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"ok":          false,
			"error_code":  400,
			"description": "Bad Request: message text is empty",
		})
	}))
	defer server.Close()

	err := newTestClient(server.URL).SendMessage(context.Background(), 42, "")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrChatUnreachable)
	assert.NotErrorIs(t, err, ErrRateLimited)
}
