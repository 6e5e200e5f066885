package bot

import (
	"fmt"
	"sync"
	"time"
)

// 限流动作分类
const (
	ActionCreate  = "create"
	ActionGeneral = "general"
)

// LimitRule 定义一类动作的滑动窗口限额。
type LimitRule struct {
	Max    int           // 窗口内允许的最大次数
	Window time.Duration // 窗口长度
}

// Limiter 按聊天与动作类别做滑动窗口限流。
//
// 建邮箱这类昂贵动作窗口长、额度小，普通命令窗口短、额度大。
type Limiter struct {
	mu      sync.Mutex
	rules   map[string]LimitRule
	history map[string][]time.Time
	now     func() time.Time
}

// NewLimiter 创建命令限流器，使用默认限额。
func NewLimiter() *Limiter {
	return &Limiter{
		rules: map[string]LimitRule{
			ActionCreate:  {Max: 3, Window: time.Hour},
			ActionGeneral: {Max: 10, Window: time.Minute},
		},
		history: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Allow 检查动作是否放行，拒绝时返回需等待的时间。
func (l *Limiter) Allow(chatID int64, action string) (bool, time.Duration) {
	rule, ok := l.rules[action]
	if !ok {
		rule = l.rules[ActionGeneral]
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	key := fmt.Sprintf("%d:%s", chatID, action)

	// 剔除窗口外的记录
	cutoff := now.Add(-rule.Window)
	recent := l.history[key][:0]
	for _, ts := range l.history[key] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}
	l.history[key] = recent

	if len(recent) >= rule.Max {
		wait := recent[0].Add(rule.Window).Sub(now)
		if wait < 0 {
			wait = 0
		}
		return false, wait
	}

	l.history[key] = append(recent, now)
	return true, 0
}

// Prune 清除全部过期历史，由后台定期调用防止键泄漏。
func (l *Limiter) Prune() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	maxWindow := time.Duration(0)
	for _, rule := range l.rules {
		if rule.Window > maxWindow {
			maxWindow = rule.Window
		}
	}
	cutoff := now.Add(-maxWindow)

	for key, entries := range l.history {
		kept := entries[:0]
		for _, ts := range entries {
			if ts.After(cutoff) {
				kept = append(kept, ts)
			}
		}
		if len(kept) == 0 {
			delete(l.history, key)
		} else {
			l.history[key] = kept
		}
	}
}
