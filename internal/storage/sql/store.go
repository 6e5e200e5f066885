package sql

import (
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/lib/pq"              // PostgreSQL driver
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"tempmailbot/backend/internal/domain"
	"tempmailbot/backend/internal/storage"
)

// Store SQL 数据库存储实现（支持 MySQL 5.7+ 和 PostgreSQL）
type Store struct {
	db         *gorm.DB
	driverName string // "mysql" or "postgres"
}

// NewStore 创建 SQL 数据库存储，启动时自动迁移表结构。
func NewStore(
	driverName string,
	dsn string,
	maxOpenConns int,
	maxIdleConns int,
	connMaxLifetime time.Duration,
) (*Store, error) {
	if driverName != "mysql" && driverName != "postgres" {
		return nil, fmt.Errorf("unsupported database driver: %s (supported: mysql, postgres)", driverName)
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	var dialector gorm.Dialector
	if driverName == "mysql" {
		dialector = mysql.Open(dsn)
	} else {
		dialector = postgres.Open(dsn)
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 设置连接池参数
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{db: db, driverName: driverName}

	if err := store.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping 检查数据库健康状态
func (s *Store) Ping() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// migrate 执行数据库迁移（使用 GORM AutoMigrate）
func (s *Store) migrate() error {
	return s.db.AutoMigrate(
		&domain.Mailbox{},
		&domain.SeenMessage{},
	)
}

// SaveMailbox 保存或更新邮箱会话。
func (s *Store) SaveMailbox(mailbox *domain.Mailbox) error {
	if mailbox.State == "" {
		mailbox.State = domain.MailboxActive
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		UpdateAll: true,
	}).Create(mailbox).Error
}

// GetMailbox 按地址查询邮箱会话，并加载其已读集合。
func (s *Store) GetMailbox(address string) (*domain.Mailbox, error) {
	var mailbox domain.Mailbox
	if err := s.db.First(&mailbox, "address = ?", address).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrMailboxNotFound
		}
		return nil, err
	}
	if err := s.loadSeen(&mailbox); err != nil {
		return nil, err
	}
	return &mailbox, nil
}

// GetMailboxByChat 查询聊天当前持有的邮箱（取最近创建的一个）。
func (s *Store) GetMailboxByChat(chatID int64) (*domain.Mailbox, error) {
	var mailbox domain.Mailbox
	err := s.db.
		Where("chat_id = ? AND state <> ?", chatID, domain.MailboxRetired).
		Order("created_at DESC").
		First(&mailbox).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrMailboxNotFound
		}
		return nil, err
	}
	if err := s.loadSeen(&mailbox); err != nil {
		return nil, err
	}
	return &mailbox, nil
}

// ListActiveMailboxes 枚举全部 active 状态的邮箱。
func (s *Store) ListActiveMailboxes() []domain.Mailbox {
	var mailboxes []domain.Mailbox
	if err := s.db.Where("state = ?", domain.MailboxActive).Find(&mailboxes).Error; err != nil {
		return nil
	}
	for i := range mailboxes {
		_ = s.loadSeen(&mailboxes[i])
	}
	return mailboxes
}

// SetMailboxState 更新邮箱状态。orphaned 为终态，不允许回退。
func (s *Store) SetMailboxState(address string, state domain.MailboxState) error {
	result := s.db.Model(&domain.Mailbox{}).
		Where("address = ? AND state <> ?", address, domain.MailboxOrphaned).
		Update("state", state)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// 要么不存在，要么已是终态；区分后者以保持幂等语义
		var count int64
		s.db.Model(&domain.Mailbox{}).Where("address = ?", address).Count(&count)
		if count == 0 {
			return storage.ErrMailboxNotFound
		}
	}
	return nil
}

// DeleteMailbox 删除邮箱会话及其已读记录。
func (s *Store) DeleteMailbox(address string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Delete(&domain.Mailbox{}, "address = ?", address)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return storage.ErrMailboxNotFound
		}
		return tx.Delete(&domain.SeenMessage{}, "mailbox_address = ?", address).Error
	})
}

// PurgeRetiredBefore 物理清除在 cutoff 之前退役/孤儿化的邮箱，返回清除数量。
func (s *Store) PurgeRetiredBefore(cutoff time.Time) (int, error) {
	var addresses []string
	err := s.db.Model(&domain.Mailbox{}).
		Where("state <> ? AND updated_at <= ?", domain.MailboxActive, cutoff).
		Pluck("address", &addresses).Error
	if err != nil {
		return 0, err
	}
	if len(addresses) == 0 {
		return 0, nil
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&domain.Mailbox{}, "address IN ?", addresses).Error; err != nil {
			return err
		}
		return tx.Delete(&domain.SeenMessage{}, "mailbox_address IN ?", addresses).Error
	})
	if err != nil {
		return 0, err
	}
	return len(addresses), nil
}

// IsMessageSeen 判断某封邮件是否已处理。
func (s *Store) IsMessageSeen(address, messageID string) (bool, error) {
	var count int64
	err := s.db.Model(&domain.SeenMessage{}).
		Where("mailbox_address = ? AND message_id = ?", address, messageID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// MarkMessageSeen 幂等写入已处理记录（冲突时忽略）。
func (s *Store) MarkMessageSeen(address, messageID string) error {
	record := domain.SeenMessage{
		MailboxAddress: address,
		MessageID:      messageID,
		CreatedAt:      time.Now().UTC(),
	}
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&record).Error
}

// MarkExpiryWarned 幂等置位过期提醒标记。
func (s *Store) MarkExpiryWarned(address string) error {
	result := s.db.Model(&domain.Mailbox{}).
		Where("address = ?", address).
		Update("expiry_warned", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		s.db.Model(&domain.Mailbox{}).Where("address = ?", address).Count(&count)
		if count == 0 {
			return storage.ErrMailboxNotFound
		}
	}
	return nil
}

// loadSeen 将已读邮件 ID 集合装载到邮箱记录上。
func (s *Store) loadSeen(mailbox *domain.Mailbox) error {
	var ids []string
	err := s.db.Model(&domain.SeenMessage{}).
		Where("mailbox_address = ?", mailbox.Address).
		Pluck("message_id", &ids).Error
	if err != nil {
		return err
	}
	mailbox.SeenMessageIDs = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		mailbox.SeenMessageIDs[id] = struct{}{}
	}
	return nil
}
