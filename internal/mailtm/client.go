package mailtm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"tempmailbot/backend/internal/config"
	"tempmailbot/backend/internal/domain"
)

var (
	// ErrProviderUnavailable 提供方不可用（网络错误或 5xx），下个轮询周期重试
	ErrProviderUnavailable = errors.New("mail provider unavailable")
	// ErrAuthExpired 邮箱凭证失效，会话应转入 orphaned
	ErrAuthExpired = errors.New("mail provider auth expired")
	// ErrMessageNotFound 邮件在提供方已不存在
	ErrMessageNotFound = errors.New("message not found")
	// ErrNoDomains 提供方没有可用域名
	ErrNoDomains = errors.New("no domains available")
)

// requestDuration 按操作统计提供方请求耗时（含重试）
var requestDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "tmbot_provider_request_duration_seconds",
		Help:    "Mail.tm API 请求耗时",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"operation"},
)

// Account 表示一个新创建的 Mail.tm 账号。
type Account struct {
	Address   string
	AccountID string
	Token     string
}

// Client Mail.tm API 客户端
//
// 所有请求带有限次重试（5xx / 传输错误按退避序列重试），
// 响应在边界处归一化为强类型结构，上层不接触动态 JSON。
type Client struct {
	baseURL    string
	httpClient *http.Client
	attempts   int
	backoff    []time.Duration
	log        *zap.Logger
}

// NewClient 创建 Mail.tm 客户端。
func NewClient(cfg config.MailTMConfig, log *zap.Logger) *Client {
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		attempts:   cfg.RetryAttempts,
		backoff:    cfg.RetryBackoff,
		log:        log,
	}
}

// ========== 响应结构 ==========

type hydraList[T any] struct {
	Members []T `json:"hydra:member"`
}

type domainItem struct {
	Domain   string `json:"domain"`
	IsActive bool   `json:"isActive"`
}

type fromField struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

type messageItem struct {
	ID        string    `json:"id"`
	From      fromField `json:"from"`
	Subject   string    `json:"subject"`
	Intro     string    `json:"intro"`
	CreatedAt time.Time `json:"createdAt"`
}

type messageDetail struct {
	ID   string   `json:"id"`
	Text string   `json:"text"`
	HTML []string `json:"html"`
}

type accountResponse struct {
	ID      string `json:"id"`
	Address string `json:"address"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// ========== 公开操作 ==========

// GetDomains 获取可用域名列表。
func (c *Client) GetDomains(ctx context.Context) ([]string, error) {
	body, err := c.request(ctx, http.MethodGet, "/domains", nil, "")
	if err != nil {
		return nil, err
	}

	var list hydraList[domainItem]
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("decode domains: %w", err)
	}

	domains := make([]string, 0, len(list.Members))
	for _, d := range list.Members {
		if d.IsActive {
			domains = append(domains, d.Domain)
		}
	}
	return domains, nil
}

// CreateAccount 创建一个随机地址的新账号并换取访问令牌。
//
// 地址冲突（422）时换一个随机本地部分重试，最多三次。
func (c *Client) CreateAccount(ctx context.Context) (*Account, error) {
	domains, err := c.GetDomains(ctx)
	if err != nil {
		return nil, err
	}
	if len(domains) == 0 {
		return nil, ErrNoDomains
	}

	password := randomString(16)

	for attempt := 0; attempt < 3; attempt++ {
		address := fmt.Sprintf("%s@%s", randomLocalPart(), domains[rand.Intn(len(domains))])

		payload, _ := json.Marshal(map[string]string{
			"address":  address,
			"password": password,
		})
		body, err := c.request(ctx, http.MethodPost, "/accounts", payload, "")
		if err != nil {
			var conflict *unprocessableError
			if errors.As(err, &conflict) {
				// 地址被占用，换个本地部分再试
				continue
			}
			return nil, err
		}

		var account accountResponse
		if err := json.Unmarshal(body, &account); err != nil {
			return nil, fmt.Errorf("decode account: %w", err)
		}

		tokenPayload, _ := json.Marshal(map[string]string{
			"address":  address,
			"password": password,
		})
		tokenBody, err := c.request(ctx, http.MethodPost, "/token", tokenPayload, "")
		if err != nil {
			return nil, err
		}

		var token tokenResponse
		if err := json.Unmarshal(tokenBody, &token); err != nil {
			return nil, fmt.Errorf("decode token: %w", err)
		}

		return &Account{
			Address:   address,
			AccountID: account.ID,
			Token:     token.Token,
		}, nil
	}

	return nil, fmt.Errorf("%w: address collisions exhausted retries", ErrProviderUnavailable)
}

// ListMessages 拉取账号的邮件列表。返回顺序不保证按接收时间排列。
func (c *Client) ListMessages(ctx context.Context, token string) ([]domain.Message, error) {
	body, err := c.request(ctx, http.MethodGet, "/messages", nil, token)
	if err != nil {
		return nil, err
	}

	var list hydraList[messageItem]
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}

	messages := make([]domain.Message, 0, len(list.Members))
	for _, item := range list.Members {
		if item.ID == "" {
			// 丢弃缺失 ID 的残缺记录，避免污染去重集合
			continue
		}
		messages = append(messages, domain.Message{
			ID:         item.ID,
			From:       item.From.Address,
			Subject:    item.Subject,
			Intro:      item.Intro,
			ReceivedAt: item.CreatedAt,
		})
	}
	return messages, nil
}

// GetMessageBody 拉取单封邮件的完整正文。
func (c *Client) GetMessageBody(ctx context.Context, token, messageID string) (*domain.MessageBody, error) {
	body, err := c.request(ctx, http.MethodGet, "/messages/"+messageID, nil, token)
	if err != nil {
		return nil, err
	}

	var detail messageDetail
	if err := json.Unmarshal(body, &detail); err != nil {
		return nil, fmt.Errorf("decode message detail: %w", err)
	}

	return &domain.MessageBody{
		Text: detail.Text,
		HTML: detail.HTML,
	}, nil
}

// DeleteAccount 删除提供方账号（用户主动丢弃邮箱时尽力而为地清理）。
func (c *Client) DeleteAccount(ctx context.Context, token, accountID string) error {
	_, err := c.request(ctx, http.MethodDelete, "/accounts/"+accountID, nil, token)
	if errors.Is(err, ErrMessageNotFound) {
		// 账号已不存在，视为清理完成
		return nil
	}
	return err
}

// ========== 内部实现 ==========

// unprocessableError 422 响应（地址冲突）
type unprocessableError struct {
	body string
}

func (e *unprocessableError) Error() string {
	return fmt.Sprintf("unprocessable entity: %s", e.body)
}

// request 执行一次带重试的 API 请求并返回响应体。
//
// 重试条件: 传输错误或 5xx。4xx 立即失败并映射到类型化错误。
func (c *Client) request(ctx context.Context, method, path string, payload []byte, token string) ([]byte, error) {
	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues(operationLabel(path)).Observe(time.Since(start).Seconds())
	}()

	var lastErr error

	for attempt := 0; attempt < c.attempts; attempt++ {
		if attempt > 0 {
			delay := c.backoff[min(attempt-1, len(c.backoff)-1)]
			c.log.Warn("mail.tm request failed, retrying",
				zap.String("path", path),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		body, retryable, err := c.doOnce(ctx, method, path, payload, token)
		if err == nil {
			return body, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, lastErr)
}

// operationLabel 取路径首段作为指标标签，避免标签基数随消息 ID 增长。
func operationLabel(path string) string {
	trimmed := strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(trimmed, '/'); i >= 0 {
		return trimmed[:i]
	}
	return trimmed
}

// doOnce 执行单次请求。第二个返回值指明错误是否可重试。
func (c *Client) doOnce(ctx context.Context, method, path string, payload []byte, token string) ([]byte, bool, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, false, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, true, err
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("server error: %d", resp.StatusCode)
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, false, ErrAuthExpired
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, ErrMessageNotFound
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, false, &unprocessableError{body: string(body)}
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, true, fmt.Errorf("rate limited by provider")
	case resp.StatusCode >= 400:
		return nil, false, fmt.Errorf("%w: unexpected status %d", ErrProviderUnavailable, resp.StatusCode)
	}

	return body, false, nil
}

const localAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// randomString 生成小写字母数字随机串，用作账号密码。
// 顶层 rand 源可安全并发使用，客户端会被多个请求协程共享。
func randomString(length int) string {
	out := make([]byte, length)
	for i := range out {
		out[i] = localAlphabet[rand.Intn(len(localAlphabet))]
	}
	return string(out)
}

// randomLocalPart 生成地址本地部分，UUID 截断保证冲突概率足够低。
func randomLocalPart() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
