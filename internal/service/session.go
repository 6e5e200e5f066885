package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"tempmailbot/backend/internal/domain"
	"tempmailbot/backend/internal/mailtm"
	"tempmailbot/backend/internal/monitoring"
	"tempmailbot/backend/internal/storage"
	"tempmailbot/backend/internal/storage/redis"
)

// ErrNoMailbox 表示该聊天当前没有活跃邮箱。
var ErrNoMailbox = errors.New("no active mailbox for chat")

// mailboxCacheTTL 限定展示查询缓存件的新鲜度，
// 孤立等异步状态变化最多滞后一个周期。
const mailboxCacheTTL = time.Minute

// AccountClient 定义会话管理所需的提供方账号操作。
type AccountClient interface {
	CreateAccount(ctx context.Context) (*mailtm.Account, error)
	DeleteAccount(ctx context.Context, token, accountID string) error
}

// SessionService 管理聊天与临时邮箱的一对一会话。
type SessionService struct {
	accounts AccountClient
	store    domain.Store
	cache    *redis.Cache // 可为 nil
	ttl      time.Duration
	metrics  *monitoring.Metrics
	logger   *zap.Logger
}

// NewSessionService 创建会话服务。cache、metrics 可为 nil。
func NewSessionService(accounts AccountClient, store domain.Store, cache *redis.Cache, ttl time.Duration, metrics *monitoring.Metrics, logger *zap.Logger) *SessionService {
	return &SessionService{
		accounts: accounts,
		store:    store,
		cache:    cache,
		ttl:      ttl,
		metrics:  metrics,
		logger:   logger,
	}
}

// CreateMailbox 为聊天创建新邮箱，已有活跃邮箱时先将其下线。
func (s *SessionService) CreateMailbox(ctx context.Context, chatID int64) (*domain.Mailbox, error) {
	if existing, err := s.store.GetMailboxByChat(chatID); err == nil && existing.State == domain.MailboxActive {
		s.retire(ctx, existing)
	}

	account, err := s.accounts.CreateAccount(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	mailbox := &domain.Mailbox{
		Address:   account.Address,
		ChatID:    chatID,
		AccountID: account.AccountID,
		Token:     account.Token,
		State:     domain.MailboxActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.SaveMailbox(mailbox); err != nil {
		// 存储失败时回收提供方账号，避免悬挂
		if derr := s.accounts.DeleteAccount(ctx, account.Token, account.AccountID); derr != nil {
			s.logger.Warn("failed to clean up provider account",
				zap.String("address", account.Address),
				zap.Error(derr))
		}
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.CacheMailbox(ctx, mailbox, mailboxCacheTTL); err != nil {
			s.logger.Debug("mailbox cache write failed",
				zap.Int64("chat_id", chatID),
				zap.Error(err))
		}
	}

	if s.metrics != nil {
		s.metrics.MailboxesCreated.Inc()
	}
	s.logger.Info("mailbox created",
		zap.String("address", mailbox.Address),
		zap.Int64("chat_id", chatID))

	return mailbox, nil
}

// CurrentMailbox 返回聊天当前的活跃邮箱。
//
// 缓存件不含令牌，仅用于地址与剩余时间展示；
// 需要令牌的操作走存储（见 DiscardMailbox）。
func (s *SessionService) CurrentMailbox(ctx context.Context, chatID int64) (*domain.Mailbox, error) {
	if s.cache != nil {
		if cached, err := s.cache.GetCachedMailbox(ctx, chatID); err == nil && cached.State == domain.MailboxActive {
			return cached, nil
		}
	}

	mailbox, err := s.activeMailbox(chatID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.CacheMailbox(ctx, mailbox, mailboxCacheTTL); err != nil {
			s.logger.Debug("mailbox cache write failed",
				zap.Int64("chat_id", chatID),
				zap.Error(err))
		}
	}
	return mailbox, nil
}

// activeMailbox 从存储读取聊天的活跃邮箱。
func (s *SessionService) activeMailbox(chatID int64) (*domain.Mailbox, error) {
	mailbox, err := s.store.GetMailboxByChat(chatID)
	if err != nil {
		if errors.Is(err, storage.ErrMailboxNotFound) {
			return nil, ErrNoMailbox
		}
		return nil, err
	}
	if mailbox.State != domain.MailboxActive {
		return nil, ErrNoMailbox
	}
	return mailbox, nil
}

// RemainingTTL 返回邮箱剩余有效期。
func (s *SessionService) RemainingTTL(mailbox *domain.Mailbox) time.Duration {
	return mailbox.RemainingTTL(s.ttl, time.Now().UTC())
}

// DiscardMailbox 应用户要求下线当前邮箱。
func (s *SessionService) DiscardMailbox(ctx context.Context, chatID int64) error {
	// 绕过缓存，回收提供方账号需要令牌
	mailbox, err := s.activeMailbox(chatID)
	if err != nil {
		return err
	}

	s.retire(ctx, mailbox)

	if s.metrics != nil {
		s.metrics.MailboxesDeleted.Inc()
	}
	return nil
}

// retire 将邮箱下线并尽力回收提供方账号与缓存。
func (s *SessionService) retire(ctx context.Context, mailbox *domain.Mailbox) {
	if err := s.store.SetMailboxState(mailbox.Address, domain.MailboxRetired); err != nil {
		s.logger.Error("failed to retire mailbox",
			zap.String("address", mailbox.Address),
			zap.Error(err))
	}

	// 提供方账号删除失败不影响下线，账号随提供方过期回收
	if err := s.accounts.DeleteAccount(ctx, mailbox.Token, mailbox.AccountID); err != nil {
		s.logger.Warn("provider account deletion failed",
			zap.String("address", mailbox.Address),
			zap.Error(err))
	}

	if s.cache != nil {
		if err := s.cache.DropSeen(ctx, mailbox.Address); err != nil {
			s.logger.Debug("seen cache drop failed",
				zap.String("address", mailbox.Address),
				zap.Error(err))
		}
		if err := s.cache.DeleteCachedMailbox(ctx, mailbox.ChatID); err != nil {
			s.logger.Debug("mailbox cache drop failed",
				zap.Int64("chat_id", mailbox.ChatID),
				zap.Error(err))
		}
	}

	s.logger.Info("mailbox retired",
		zap.String("address", mailbox.Address),
		zap.Int64("chat_id", mailbox.ChatID))
}
