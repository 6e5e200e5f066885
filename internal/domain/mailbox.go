package domain

import (
	"time"
)

// MailboxState 表示邮箱的轮询状态。
//
// 状态机: active → orphaned（终态，聊天不可达）或 active → retired（用户删除/过期下线）。
type MailboxState string

const (
	// MailboxActive 正常轮询中
	MailboxActive MailboxState = "active"
	// MailboxOrphaned 所属聊天不可达，停止轮询（终态）
	MailboxOrphaned MailboxState = "orphaned"
	// MailboxRetired 用户删除或过期下线，停止轮询
	MailboxRetired MailboxState = "retired"
)

// Mailbox 表示一个临时邮箱会话的业务实体。
//
// 以邮箱地址为主键；一个聊天同一时刻至多持有一个活跃邮箱。
type Mailbox struct {
	Address      string       `json:"address" gorm:"primaryKey;type:varchar(255)"`
	ChatID       int64        `json:"chatId" gorm:"index;not null"`
	AccountID    string       `json:"accountId" gorm:"type:varchar(64)"`
	Token        string       `json:"-" gorm:"type:varchar(1024)"` // 提供方访问令牌，不对外序列化
	State        MailboxState `json:"state" gorm:"type:varchar(16);index;default:active"`
	ExpiryWarned bool         `json:"expiryWarned" gorm:"default:false"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`

	// SeenMessageIDs 已处理的邮件 ID 集合，由存储层填充，单调增长。
	SeenMessageIDs map[string]struct{} `json:"-" gorm:"-"`
}

// HasSeen 判断某封邮件是否已处理。
func (m *Mailbox) HasSeen(messageID string) bool {
	_, ok := m.SeenMessageIDs[messageID]
	return ok
}

// ExpiresAt 返回过期提醒的触发时间点。
func (m *Mailbox) ExpiresAt(ttl time.Duration) time.Time {
	return m.CreatedAt.Add(ttl)
}

// RemainingTTL 返回距离过期提醒还剩的时间，已过期返回 0。
func (m *Mailbox) RemainingTTL(ttl time.Duration, now time.Time) time.Duration {
	remaining := m.ExpiresAt(ttl).Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// SeenMessage 是已处理邮件 ID 的持久化记录（仅 SQL 存储使用）。
type SeenMessage struct {
	MailboxAddress string    `gorm:"primaryKey;type:varchar(255)"`
	MessageID      string    `gorm:"primaryKey;type:varchar(64)"`
	CreatedAt      time.Time `gorm:""`
}
