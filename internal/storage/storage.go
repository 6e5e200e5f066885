package storage

import (
	"errors"

	"tempmailbot/backend/internal/domain"
)

var (
	// ErrMailboxNotFound 邮箱未找到错误
	ErrMailboxNotFound = errors.New("mailbox not found")
)

// Store 聚合全部存储能力，域层接口的别名聚合点。
type Store = domain.Store
