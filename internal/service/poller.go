package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"tempmailbot/backend/internal/domain"
	"tempmailbot/backend/internal/extract"
	"tempmailbot/backend/internal/mailtm"
	"tempmailbot/backend/internal/monitoring"
)

// MailClient 定义轮询所需的提供方读取操作。
type MailClient interface {
	ListMessages(ctx context.Context, token string) ([]domain.Message, error)
	GetMessageBody(ctx context.Context, token, messageID string) (*domain.MessageBody, error)
}

// PollItem 是一封待投递的新邮件及其提取结果。
type PollItem struct {
	Message   domain.Message
	Fragments []domain.Fragment
}

// PollResult 是单个邮箱一次轮询周期的产出。
type PollResult struct {
	Items       []PollItem
	ExpiryDue   bool // 本轮需要发送过期提醒
	AuthExpired bool // 提供方令牌已失效，邮箱应转为孤立
}

// Poller 对单个邮箱执行一次完整的轮询周期。
//
// 周期语义：
//   - 列表拉取失败则整轮放弃，不改动任何已读状态；
//   - 单封正文拉取失败只跳过该封，其余照常处理；
//   - 已读登记必须先于投递成功，登记失败的邮件不进入产出。
type Poller struct {
	mail      MailClient
	tracker   *Tracker
	extractor *extract.Extractor
	ttl       time.Duration
	metrics   *monitoring.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewPoller 创建轮询器。metrics 可为 nil。
func NewPoller(mail MailClient, tracker *Tracker, extractor *extract.Extractor, ttl time.Duration, metrics *monitoring.Metrics, logger *zap.Logger) *Poller {
	return &Poller{
		mail:      mail,
		tracker:   tracker,
		extractor: extractor,
		ttl:       ttl,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// PollOnce 对一个活跃邮箱执行一次轮询。
//
// 返回 error 表示整轮失败（列表不可达），此时结果不可用；
// AuthExpired 的令牌失效不算错误，由调用方据此下线邮箱。
func (p *Poller) PollOnce(ctx context.Context, mailbox *domain.Mailbox) (*PollResult, error) {
	start := p.now()
	result := &PollResult{}

	messages, err := p.mail.ListMessages(ctx, mailbox.Token)
	if err != nil {
		if errors.Is(err, mailtm.ErrAuthExpired) {
			result.AuthExpired = true
			return result, nil
		}
		if p.metrics != nil {
			p.metrics.PollCyclesFailed.Inc()
		}
		return nil, err
	}

	for _, msg := range messages {
		if !p.tracker.IsNew(ctx, mailbox, msg.ID) {
			continue
		}

		body, err := p.mail.GetMessageBody(ctx, mailbox.Token, msg.ID)
		if err != nil {
			// 不登记已读，下一轮重试这封
			p.logger.Warn("message body fetch failed",
				zap.String("address", mailbox.Address),
				zap.String("message_id", msg.ID),
				zap.Error(err))
			continue
		}

		fragments := p.extractor.Extract(msg.ID, body)

		if err := p.tracker.MarkSeen(ctx, mailbox, msg.ID); err != nil {
			p.logger.Warn("seen mark failed, deferring delivery",
				zap.String("address", mailbox.Address),
				zap.String("message_id", msg.ID),
				zap.Error(err))
			continue
		}

		if p.metrics != nil {
			for _, f := range fragments {
				p.metrics.FragmentsExtracted.WithLabelValues(string(f.Kind)).Inc()
			}
		}

		result.Items = append(result.Items, PollItem{Message: msg, Fragments: fragments})
	}

	// 过期提醒在轮询时置位，投递由调度方排在新邮件之后
	if p.tracker.ShouldWarnExpiry(mailbox, p.ttl, p.now()) {
		if err := p.tracker.MarkWarned(mailbox); err != nil {
			p.logger.Warn("expiry mark failed",
				zap.String("address", mailbox.Address),
				zap.Error(err))
		} else {
			result.ExpiryDue = true
		}
	}

	if p.metrics != nil {
		p.metrics.PollCyclesTotal.Inc()
		p.metrics.PollDuration.Observe(p.now().Sub(start).Seconds())
	}

	return result, nil
}
