package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"tempmailbot/backend/internal/domain"
	"tempmailbot/backend/internal/storage/redis"
)

// Tracker 维护每个邮箱的已读集合与过期提醒标记。
//
// 已读集合单调增长，Redis 缓存只作为快速路径：
// 仅信任缓存的"已读"命中，未命中一律回查持久存储。
type Tracker struct {
	store   domain.Store
	cache   *redis.Cache // 可为 nil
	seenTTL time.Duration
	logger  *zap.Logger
}

// NewTracker 创建已读追踪器。cache 传 nil 表示不启用缓存。
func NewTracker(store domain.Store, cache *redis.Cache, seenTTL time.Duration, logger *zap.Logger) *Tracker {
	return &Tracker{
		store:   store,
		cache:   cache,
		seenTTL: seenTTL,
		logger:  logger,
	}
}

// IsNew 判断一封邮件对该邮箱是否未处理过。
//
// 存储查询失败时按"已处理"对待：宁可本轮跳过、下轮重试，
// 也不在存储不可用时冒重复通知的风险。
func (t *Tracker) IsNew(ctx context.Context, mailbox *domain.Mailbox, messageID string) bool {
	// 本轮快照命中，无需查询
	if mailbox.HasSeen(messageID) {
		return false
	}

	// 缓存命中"已读"可直接采信
	if t.cache != nil {
		if seen, ok := t.cache.IsMessageSeen(ctx, mailbox.Address, messageID); ok && seen {
			return false
		}
	}

	seen, err := t.store.IsMessageSeen(mailbox.Address, messageID)
	if err != nil {
		t.logger.Warn("seen lookup failed, skipping message this cycle",
			zap.String("address", mailbox.Address),
			zap.String("message_id", messageID),
			zap.Error(err))
		return false
	}

	return !seen
}

// MarkSeen 将邮件登记为已处理。
//
// 必须在投递之前调用：持久化失败时调用方跳过投递，
// 下一轮重新尝试，语义为至少一次通知。
func (t *Tracker) MarkSeen(ctx context.Context, mailbox *domain.Mailbox, messageID string) error {
	if err := t.store.MarkMessageSeen(mailbox.Address, messageID); err != nil {
		return err
	}

	// 更新本轮快照，避免同周期内重复处理
	if mailbox.SeenMessageIDs == nil {
		mailbox.SeenMessageIDs = make(map[string]struct{})
	}
	mailbox.SeenMessageIDs[messageID] = struct{}{}

	// 缓存写入尽力而为，失败不影响主流程
	if t.cache != nil {
		if err := t.cache.MarkMessageSeen(ctx, mailbox.Address, messageID, t.seenTTL); err != nil {
			t.logger.Debug("seen cache write failed",
				zap.String("address", mailbox.Address),
				zap.Error(err))
		}
	}

	return nil
}

// ShouldWarnExpiry 判断是否需要发送过期提醒。
//
// 每个邮箱至多提醒一次：已提醒或仍在有效期内均返回 false。
func (t *Tracker) ShouldWarnExpiry(mailbox *domain.Mailbox, ttl time.Duration, now time.Time) bool {
	if mailbox.ExpiryWarned {
		return false
	}
	return !now.Before(mailbox.ExpiresAt(ttl))
}

// MarkWarned 幂等置位过期提醒标记。
func (t *Tracker) MarkWarned(mailbox *domain.Mailbox) error {
	if err := t.store.MarkExpiryWarned(mailbox.Address); err != nil {
		return err
	}
	mailbox.ExpiryWarned = true
	return nil
}
