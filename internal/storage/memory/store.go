package memory

import (
	"sync"
	"time"

	"tempmailbot/backend/internal/domain"
	"tempmailbot/backend/internal/storage"
)

// Store 使用内存保存邮箱会话与已读记录，主要用于开发验证和测试。
type Store struct {
	mu        sync.RWMutex
	mailboxes map[string]*domain.Mailbox   // address -> mailbox
	byChat    map[int64]string             // chatID -> address
	seen      map[string]map[string]struct{} // address -> messageID 集合
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		mailboxes: make(map[string]*domain.Mailbox),
		byChat:    make(map[int64]string),
		seen:      make(map[string]map[string]struct{}),
	}
}

// SaveMailbox 保存邮箱会话。同一聊天再次创建时覆盖旧索引。
func (s *Store) SaveMailbox(mailbox *domain.Mailbox) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if mailbox.CreatedAt.IsZero() {
		mailbox.CreatedAt = time.Now()
	}
	mailbox.UpdatedAt = time.Now()
	if mailbox.State == "" {
		mailbox.State = domain.MailboxActive
	}

	clone := *mailbox
	s.mailboxes[mailbox.Address] = &clone
	s.byChat[mailbox.ChatID] = mailbox.Address
	if _, ok := s.seen[mailbox.Address]; !ok {
		s.seen[mailbox.Address] = make(map[string]struct{})
	}
	return nil
}

// GetMailbox 按地址查询邮箱会话。
func (s *Store) GetMailbox(address string) (*domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mailbox, ok := s.mailboxes[address]
	if !ok {
		return nil, storage.ErrMailboxNotFound
	}
	return s.cloneWithSeen(mailbox), nil
}

// GetMailboxByChat 按聊天 ID 查询邮箱会话。
func (s *Store) GetMailboxByChat(chatID int64) (*domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	address, ok := s.byChat[chatID]
	if !ok {
		return nil, storage.ErrMailboxNotFound
	}
	mailbox, ok := s.mailboxes[address]
	if !ok {
		return nil, storage.ErrMailboxNotFound
	}
	return s.cloneWithSeen(mailbox), nil
}

// ListActiveMailboxes 枚举全部 active 状态的邮箱。
func (s *Store) ListActiveMailboxes() []domain.Mailbox {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Mailbox, 0, len(s.mailboxes))
	for _, mailbox := range s.mailboxes {
		if mailbox.State != domain.MailboxActive {
			continue
		}
		out = append(out, *s.cloneWithSeen(mailbox))
	}
	return out
}

// SetMailboxState 更新邮箱状态。orphaned 为终态，不允许回退。
func (s *Store) SetMailboxState(address string, state domain.MailboxState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mailbox, ok := s.mailboxes[address]
	if !ok {
		return storage.ErrMailboxNotFound
	}
	if mailbox.State == domain.MailboxOrphaned {
		return nil
	}
	mailbox.State = state
	mailbox.UpdatedAt = time.Now()
	return nil
}

// DeleteMailbox 删除邮箱会话及其已读记录。
func (s *Store) DeleteMailbox(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mailbox, ok := s.mailboxes[address]
	if !ok {
		return storage.ErrMailboxNotFound
	}
	delete(s.mailboxes, address)
	delete(s.seen, address)
	if current, ok := s.byChat[mailbox.ChatID]; ok && current == address {
		delete(s.byChat, mailbox.ChatID)
	}
	return nil
}

// PurgeRetiredBefore 物理清除在 cutoff 之前退役/孤儿化的邮箱，返回清除数量。
func (s *Store) PurgeRetiredBefore(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for address, mailbox := range s.mailboxes {
		if mailbox.State == domain.MailboxActive {
			continue
		}
		if mailbox.UpdatedAt.After(cutoff) {
			continue
		}
		delete(s.mailboxes, address)
		delete(s.seen, address)
		if current, ok := s.byChat[mailbox.ChatID]; ok && current == address {
			delete(s.byChat, mailbox.ChatID)
		}
		count++
	}
	return count, nil
}

// IsMessageSeen 判断某封邮件是否已处理。
func (s *Store) IsMessageSeen(address, messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids, ok := s.seen[address]
	if !ok {
		return false, nil
	}
	_, seen := ids[messageID]
	return seen, nil
}

// MarkMessageSeen 幂等写入已处理记录。
func (s *Store) MarkMessageSeen(address, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.mailboxes[address]; !ok {
		return storage.ErrMailboxNotFound
	}
	ids, ok := s.seen[address]
	if !ok {
		ids = make(map[string]struct{})
		s.seen[address] = ids
	}
	ids[messageID] = struct{}{}
	return nil
}

// MarkExpiryWarned 幂等置位过期提醒标记。
func (s *Store) MarkExpiryWarned(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mailbox, ok := s.mailboxes[address]
	if !ok {
		return storage.ErrMailboxNotFound
	}
	mailbox.ExpiryWarned = true
	mailbox.UpdatedAt = time.Now()
	return nil
}

// Ping 内存存储永远可用。
func (s *Store) Ping() error {
	return nil
}

// cloneWithSeen 复制邮箱记录并快照其已读集合。调用方须持有读锁。
func (s *Store) cloneWithSeen(mailbox *domain.Mailbox) *domain.Mailbox {
	clone := *mailbox
	ids := s.seen[mailbox.Address]
	clone.SeenMessageIDs = make(map[string]struct{}, len(ids))
	for id := range ids {
		clone.SeenMessageIDs[id] = struct{}{}
	}
	return &clone
}
