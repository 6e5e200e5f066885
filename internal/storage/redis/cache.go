package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tempmailbot/backend/internal/domain"
)

// Cache Redis 已读记录与邮箱缓存实现
//
// 仅作为存储层前面的快速路径，不具备权威性：
// 缓存未命中或 Redis 不可用时，调用方退回到持久存储。
type Cache struct {
	client *redis.Client
}

// NewCache 创建 Redis 缓存实例并验证连接。
func NewCache(addr, password string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: 10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// Close 关闭 Redis 连接。
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping 检查 Redis 连接状态。
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// ========== 已读记录缓存 ==========

func seenKey(address string) string {
	return fmt.Sprintf("seen:%s", address)
}

// IsMessageSeen 检查已读集合缓存。第二个返回值指明缓存是否命中可信。
func (c *Cache) IsMessageSeen(ctx context.Context, address, messageID string) (seen bool, ok bool) {
	result, err := c.client.SIsMember(ctx, seenKey(address), messageID).Result()
	if err != nil {
		return false, false
	}
	// 集合中不存在不代表未读（缓存可能不完整），仅正向命中可信
	return result, result
}

// MarkMessageSeen 将邮件 ID 写入已读集合缓存。
func (c *Cache) MarkMessageSeen(ctx context.Context, address, messageID string, ttl time.Duration) error {
	key := seenKey(address)
	pipe := c.client.Pipeline()
	pipe.SAdd(ctx, key, messageID)
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// DropSeen 删除某个邮箱的已读集合缓存。
func (c *Cache) DropSeen(ctx context.Context, address string) error {
	return c.client.Del(ctx, seenKey(address)).Err()
}

// ========== 邮箱缓存 ==========

func mailboxKey(chatID int64) string {
	return fmt.Sprintf("mailbox:chat:%d", chatID)
}

// CacheMailbox 按聊天缓存邮箱会话信息。Token 不参与序列化，缓存件仅供展示查询。
func (c *Cache) CacheMailbox(ctx context.Context, mailbox *domain.Mailbox, ttl time.Duration) error {
	data, err := json.Marshal(mailbox)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, mailboxKey(mailbox.ChatID), data, ttl).Err()
}

// GetCachedMailbox 获取聊天的缓存邮箱会话信息。
func (c *Cache) GetCachedMailbox(ctx context.Context, chatID int64) (*domain.Mailbox, error) {
	data, err := c.client.Get(ctx, mailboxKey(chatID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("mailbox not found in cache")
		}
		return nil, err
	}

	var mailbox domain.Mailbox
	if err := json.Unmarshal([]byte(data), &mailbox); err != nil {
		return nil, err
	}
	return &mailbox, nil
}

// DeleteCachedMailbox 删除聊天的缓存邮箱会话信息。
func (c *Cache) DeleteCachedMailbox(ctx context.Context, chatID int64) error {
	return c.client.Del(ctx, mailboxKey(chatID)).Err()
}
