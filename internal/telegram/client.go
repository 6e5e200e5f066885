package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"tempmailbot/backend/internal/config"
	"tempmailbot/backend/internal/domain"
)

var (
	// ErrChatUnreachable 聊天不可达（用户拉黑或聊天不存在），永久性错误
	ErrChatUnreachable = errors.New("chat unreachable")
	// ErrRateLimited Bot API 限流，可退避后重试
	ErrRateLimited = errors.New("rate limited by telegram")
)

// RateLimitedError 携带 Bot API 返回的建议等待时长。
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited by telegram, retry after %s", e.RetryAfter)
}

// Is 使 errors.Is(err, ErrRateLimited) 成立。
func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

// Client Telegram Bot API 客户端
type Client struct {
	apiBase    string
	token      string
	httpClient *http.Client
	log        *zap.Logger
}

// NewClient 创建 Telegram 客户端。
func NewClient(cfg config.TelegramConfig, log *zap.Logger) *Client {
	return &Client{
		apiBase:    cfg.APIBase,
		token:      cfg.BotToken,
		httpClient: &http.Client{Timeout: cfg.SendTimeout},
		log:        log,
	}
}

// ========== Bot API 响应结构 ==========

type apiResponse struct {
	OK          bool            `json:"ok"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  *responseParams `json:"parameters"`
}

type responseParams struct {
	RetryAfter int `json:"retry_after"`
}

// inlineKeyboardButton Bot API 的内联按钮编码
type inlineKeyboardButton struct {
	Text         string `json:"text"`
	URL          string `json:"url,omitempty"`
	CallbackData string `json:"callback_data,omitempty"`
}

// ========== 发送操作 ==========

// SendMessage 发送纯文本消息（Markdown 解析）。
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	return c.call(ctx, "sendMessage", map[string]any{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "Markdown",
	})
}

// SendMessageWithButtons 发送带内联键盘的消息，每行一枚按钮。
func (c *Client) SendMessageWithButtons(ctx context.Context, chatID int64, text string, buttons []domain.Button) error {
	if len(buttons) == 0 {
		return c.SendMessage(ctx, chatID, text)
	}

	keyboard := make([][]inlineKeyboardButton, 0, len(buttons))
	for _, b := range buttons {
		keyboard = append(keyboard, []inlineKeyboardButton{{
			Text:         b.Label,
			URL:          b.URL,
			CallbackData: b.CallbackData,
		}})
	}

	return c.call(ctx, "sendMessage", map[string]any{
		"chat_id":      chatID,
		"text":         text,
		"parse_mode":   "Markdown",
		"reply_markup": map[string]any{"inline_keyboard": keyboard},
	})
}

// AnswerCallback 响应内联按钮回调，可选弹出提示。
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string, showAlert bool) error {
	payload := map[string]any{"callback_query_id": callbackID}
	if text != "" {
		payload["text"] = text
		payload["show_alert"] = showAlert
	}
	return c.call(ctx, "answerCallbackQuery", payload)
}

// SetWebhook 注册 webhook 地址与秘密令牌。
func (c *Client) SetWebhook(ctx context.Context, url, secret string) error {
	payload := map[string]any{"url": url}
	if secret != "" {
		payload["secret_token"] = secret
	}
	return c.call(ctx, "setWebhook", payload)
}

// call 执行一次 Bot API 方法调用并归一化错误。
func (c *Client) call(ctx context.Context, method string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.apiBase, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("telegram response: %w", err)
	}

	var parsed apiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return fmt.Errorf("telegram response decode: %w", err)
	}
	if parsed.OK {
		return nil
	}

	return classifyError(&parsed)
}

// classifyError 将 Bot API 错误映射到类型化错误。
func classifyError(resp *apiResponse) error {
	switch resp.ErrorCode {
	case http.StatusTooManyRequests:
		retryAfter := time.Second
		if resp.Parameters != nil && resp.Parameters.RetryAfter > 0 {
			retryAfter = time.Duration(resp.Parameters.RetryAfter) * time.Second
		}
		return &RateLimitedError{RetryAfter: retryAfter}
	case http.StatusForbidden:
		// 用户拉黑了 bot
		return fmt.Errorf("%w: %s", ErrChatUnreachable, resp.Description)
	case http.StatusBadRequest:
		if strings.Contains(strings.ToLower(resp.Description), "chat not found") {
			return fmt.Errorf("%w: %s", ErrChatUnreachable, resp.Description)
		}
	}
	return fmt.Errorf("telegram api error %d: %s", resp.ErrorCode, resp.Description)
}
