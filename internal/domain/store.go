package domain

import "time"

// Store 聚合邮箱会话与已读记录的存储接口
type Store interface {
	// ========== Mailbox Repository ==========
	SaveMailbox(mailbox *Mailbox) error
	GetMailbox(address string) (*Mailbox, error)
	GetMailboxByChat(chatID int64) (*Mailbox, error)
	ListActiveMailboxes() []Mailbox
	SetMailboxState(address string, state MailboxState) error
	DeleteMailbox(address string) error
	PurgeRetiredBefore(cutoff time.Time) (int, error)

	// ========== Seen Repository ==========
	// IsMessageSeen 判断某封邮件是否已处理。
	IsMessageSeen(address, messageID string) (bool, error)
	// MarkMessageSeen 幂等写入已处理记录。
	MarkMessageSeen(address, messageID string) error
	// MarkExpiryWarned 幂等置位过期提醒标记。
	MarkExpiryWarned(address string) error

	// Ping 检查存储是否可用（健康检查用）。
	Ping() error
}
