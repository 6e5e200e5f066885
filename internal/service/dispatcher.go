package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"tempmailbot/backend/internal/domain"
	"tempmailbot/backend/internal/monitoring"
	"tempmailbot/backend/internal/telegram"
)

// DeliveryChannel 定义出站通知所需的发送操作。
type DeliveryChannel interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendMessageWithButtons(ctx context.Context, chatID int64, text string, buttons []domain.Button) error
}

// Dispatcher 将轮询产出投递到所属聊天。
//
// 全局发送速率由令牌桶限制；单条通知失败时有限重试，
// 聊天不可达则将邮箱置为孤立并放弃剩余投递。
type Dispatcher struct {
	channel DeliveryChannel
	store   domain.Store
	limiter *rate.Limiter
	retries int
	backoff []time.Duration
	metrics *monitoring.Metrics
	logger  *zap.Logger
}

// NewDispatcher 创建投递调度器。metrics 可为 nil。
func NewDispatcher(channel DeliveryChannel, store domain.Store, sendRate float64, retries int, metrics *monitoring.Metrics, logger *zap.Logger) *Dispatcher {
	if retries <= 0 {
		retries = 3
	}
	return &Dispatcher{
		channel: channel,
		store:   store,
		limiter: rate.NewLimiter(rate.Limit(sendRate), int(sendRate)+1),
		retries: retries,
		backoff: []time.Duration{time.Second, 2 * time.Second, 4 * time.Second},
		metrics: metrics,
		logger:  logger,
	}
}

// Deliver 按正文顺序投递新邮件通知，过期提醒排在最后。
//
// 返回 telegram.ErrChatUnreachable 表示邮箱已被置为孤立，
// 调用方无需进一步处理该邮箱。
func (d *Dispatcher) Deliver(ctx context.Context, mailbox *domain.Mailbox, result *PollResult) error {
	for _, item := range result.Items {
		text := renderMessage(mailbox.Address, item)
		buttons := linkButtons(item.Fragments)

		if err := d.send(ctx, mailbox.ChatID, text, buttons); err != nil {
			if errors.Is(err, telegram.ErrChatUnreachable) {
				d.orphan(mailbox)
				return err
			}
			// 已登记为已读，这条通知丢弃
			if d.metrics != nil {
				d.metrics.DeliveryFailures.Inc()
			}
			d.logger.Error("notification dropped after retries",
				zap.String("address", mailbox.Address),
				zap.String("message_id", item.Message.ID),
				zap.Error(err))
			continue
		}

		if d.metrics != nil {
			d.metrics.MessagesDelivered.Inc()
		}
	}

	if result.ExpiryDue {
		if err := d.SendExpiryNotice(ctx, mailbox); err != nil {
			if errors.Is(err, telegram.ErrChatUnreachable) {
				d.orphan(mailbox)
				return err
			}
			d.logger.Error("expiry notice dropped",
				zap.String("address", mailbox.Address),
				zap.Error(err))
		}
		// 过期邮箱退出监控，后续轮询不再触及
		d.retire(mailbox)
	}

	return nil
}

// SendExpiryNotice 发送一次性的邮箱过期提醒。
func (d *Dispatcher) SendExpiryNotice(ctx context.Context, mailbox *domain.Mailbox) error {
	text := fmt.Sprintf("⏳ Your mailbox `%s` has expired.\nMessages are no longer monitored.", mailbox.Address)
	buttons := []domain.Button{{Label: "📮 New address", CallbackData: "create_mail"}}

	if err := d.send(ctx, mailbox.ChatID, text, buttons); err != nil {
		return err
	}
	if d.metrics != nil {
		d.metrics.ExpiryNoticesSent.Inc()
	}
	return nil
}

// SendNotice 发送一条无按钮的系统通知（如会话失效提示）。
func (d *Dispatcher) SendNotice(ctx context.Context, mailbox *domain.Mailbox, text string) error {
	return d.send(ctx, mailbox.ChatID, text, nil)
}

// Orphan 将邮箱置为孤立并记录指标。
func (d *Dispatcher) Orphan(mailbox *domain.Mailbox) {
	d.orphan(mailbox)
}

// retire 将过期邮箱软下线，邮箱自此退出活跃列表。
func (d *Dispatcher) retire(mailbox *domain.Mailbox) {
	if err := d.store.SetMailboxState(mailbox.Address, domain.MailboxRetired); err != nil {
		d.logger.Error("failed to retire expired mailbox",
			zap.String("address", mailbox.Address),
			zap.Error(err))
		return
	}
	mailbox.State = domain.MailboxRetired
	d.logger.Info("mailbox retired after expiry",
		zap.String("address", mailbox.Address),
		zap.Int64("chat_id", mailbox.ChatID))
}

func (d *Dispatcher) orphan(mailbox *domain.Mailbox) {
	if err := d.store.SetMailboxState(mailbox.Address, domain.MailboxOrphaned); err != nil {
		d.logger.Error("failed to orphan mailbox",
			zap.String("address", mailbox.Address),
			zap.Error(err))
		return
	}
	mailbox.State = domain.MailboxOrphaned
	if d.metrics != nil {
		d.metrics.MailboxesOrphaned.Inc()
	}
	d.logger.Info("mailbox orphaned",
		zap.String("address", mailbox.Address),
		zap.Int64("chat_id", mailbox.ChatID))
}

// send 带限速与有限重试地发送一条通知。
//
// 被限流时按服务端给出的 retry_after 等待后重试；
// 聊天不可达立即返回，不做重试。
func (d *Dispatcher) send(ctx context.Context, chatID int64, text string, buttons []domain.Button) error {
	var lastErr error

	for attempt := 0; attempt < d.retries; attempt++ {
		if attempt > 0 {
			if d.metrics != nil {
				d.metrics.DeliveryRetries.Inc()
			}
			if err := sleepCtx(ctx, d.retryDelay(attempt-1, lastErr)); err != nil {
				return err
			}
		}

		if err := d.limiter.Wait(ctx); err != nil {
			return err
		}

		var err error
		if len(buttons) > 0 {
			err = d.channel.SendMessageWithButtons(ctx, chatID, text, buttons)
		} else {
			err = d.channel.SendMessage(ctx, chatID, text)
		}
		if err == nil {
			return nil
		}
		if errors.Is(err, telegram.ErrChatUnreachable) {
			return err
		}
		lastErr = err
	}

	return lastErr
}

// retryDelay 计算下一次尝试前的等待时间。
func (d *Dispatcher) retryDelay(idx int, lastErr error) time.Duration {
	var rl *telegram.RateLimitedError
	if errors.As(lastErr, &rl) && rl.RetryAfter > 0 {
		return rl.RetryAfter
	}
	if idx < len(d.backoff) {
		return d.backoff[idx]
	}
	return d.backoff[len(d.backoff)-1]
}

func sleepCtx(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// renderMessage 将一封新邮件渲染为 Markdown 通知文本。
func renderMessage(address string, item PollItem) string {
	var b strings.Builder

	b.WriteString("📬 *New mail*\n")
	fmt.Fprintf(&b, "To: `%s`\n", address)
	if item.Message.From != "" {
		fmt.Fprintf(&b, "From: %s\n", escapeMarkdown(item.Message.From))
	}
	if item.Message.Subject != "" {
		fmt.Fprintf(&b, "Subject: %s\n", escapeMarkdown(item.Message.Subject))
	}

	if intro := strings.TrimSpace(item.Message.Intro); intro != "" {
		b.WriteString("\n")
		b.WriteString(escapeMarkdown(intro))
		b.WriteString("\n")
	}

	for _, f := range item.Fragments {
		switch {
		case f.Kind == domain.FragmentCode:
			fmt.Fprintf(&b, "\n🔑 Code: `%s`", f.Value)
		case f.Kind == domain.FragmentLink && !f.Actionable:
			fmt.Fprintf(&b, "\n🔗 %s", f.Value)
		}
	}

	return b.String()
}

// linkButtons 将激活/验证类链接转换为内联按钮。
func linkButtons(fragments []domain.Fragment) []domain.Button {
	var buttons []domain.Button
	for _, f := range fragments {
		if f.Kind != domain.FragmentLink || !f.Actionable {
			continue
		}
		label := f.Label
		if label == "" {
			label = "Open link"
		}
		buttons = append(buttons, domain.Button{Label: label, URL: f.Value})
	}
	return buttons
}

// escapeMarkdown 转义 Telegram Markdown 的特殊字符。
func escapeMarkdown(s string) string {
	replacer := strings.NewReplacer(
		"_", "\\_",
		"*", "\\*",
		"`", "\\`",
		"[", "\\[",
	)
	return replacer.Replace(s)
}
