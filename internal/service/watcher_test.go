package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"tempmailbot/backend/internal/domain"
	"tempmailbot/backend/internal/mailtm"
	"tempmailbot/backend/internal/pool"
	"tempmailbot/backend/internal/storage/memory"
)

func newTestWatcher(store domain.Store, mail MailClient, channel DeliveryChannel, interval time.Duration) *Watcher {
	logger := zap.NewNop()
	poller := newTestPoller(mail, store, time.Hour)
	dispatcher := newTestDispatcher(channel, store)
	workerPool := pool.NewWorkerPool(4, 16, logger)
	return NewWatcher(store, poller, dispatcher, workerPool, interval, nil, logger)
}

func TestWatcher_EndToEnd(t *testing.T) {
	store := memory.NewStore()
	mail := newFakeMail()
	channel := &fakeChannel{}
	watcher := newTestWatcher(store, mail, channel, 20*time.Millisecond)

	mailbox := newTestMailbox("alice@temp.test", 100, time.Now().UTC())
	assert.NoError(t, store.SaveMailbox(mailbox))
	mail.addMessage("msg-1", "noreply@site.test", "Verify",
		"Your code is 482913. Confirm: https://site.test/verify?t=x")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		watcher.Run(ctx)
		close(done)
	}()

	// 新邮件在一个轮询间隔内触达聊天
	assert.Eventually(t, func() bool {
		return channel.sentCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	first := channel.note(0)
	assert.Equal(t, int64(100), first.chatID)
	assert.Contains(t, first.text, "`482913`")
	assert.NotEmpty(t, first.buttons)

	// 后续轮次不重复投递
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, channel.sentCount())

	// 新到邮件照常投递
	mail.addMessage("msg-2", "other@site.test", "Hello", "plain")
	assert.Eventually(t, func() bool {
		return channel.sentCount() == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop in time")
	}
}

func TestWatcher_AuthExpiredOrphansMailbox(t *testing.T) {
	store := memory.NewStore()
	mail := newFakeMail()
	channel := &fakeChannel{}
	watcher := newTestWatcher(store, mail, channel, 20*time.Millisecond)

	mailbox := newTestMailbox("bob@temp.test", 200, time.Now().UTC())
	assert.NoError(t, store.SaveMailbox(mailbox))
	mail.listErr = mailtm.ErrAuthExpired

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		watcher.Run(ctx)
		close(done)
	}()

	// 令牌失效：邮箱转孤立并收到一次性提示
	assert.Eventually(t, func() bool {
		stored, err := store.GetMailbox(mailbox.Address)
		return err == nil && stored.State == domain.MailboxOrphaned
	}, 2*time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		return channel.sentCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, channel.note(0).text, "expired")

	// 孤立邮箱退出活跃列表，不再轮询
	assert.Empty(t, store.ListActiveMailboxes())

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop in time")
	}
}

func TestWatcher_ExpiredMailboxRetiredAndUnwatched(t *testing.T) {
	store := memory.NewStore()
	mail := newFakeMail()
	channel := &fakeChannel{}
	watcher := newTestWatcher(store, mail, channel, 20*time.Millisecond)

	// 创建于两小时前，有效期一小时，已过期
	mailbox := newTestMailbox("carol@temp.test", 300, time.Now().UTC().Add(-2*time.Hour))
	assert.NoError(t, store.SaveMailbox(mailbox))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		watcher.Run(ctx)
		close(done)
	}()

	// 过期提醒送达一次，邮箱随即软下线
	assert.Eventually(t, func() bool {
		return channel.sentCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, channel.note(0).text, "no longer monitored")

	assert.Eventually(t, func() bool {
		return len(store.ListActiveMailboxes()) == 0
	}, 2*time.Second, 10*time.Millisecond)

	stored, err := store.GetMailbox(mailbox.Address)
	assert.NoError(t, err)
	assert.Equal(t, domain.MailboxRetired, stored.State)

	// 下线后到达的邮件不再投递
	mail.addMessage("msg-late", "late@site.test", "Late", "plain")
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, channel.sentCount())

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop in time")
	}
}

func TestWatcher_ClaimPreventsConcurrentCycles(t *testing.T) {
	watcher := newTestWatcher(memory.NewStore(), newFakeMail(), &fakeChannel{}, time.Minute)

	assert.True(t, watcher.claim("alice@temp.test"))
	assert.False(t, watcher.claim("alice@temp.test"))
	assert.True(t, watcher.claim("bob@temp.test"))

	watcher.release("alice@temp.test")
	assert.True(t, watcher.claim("alice@temp.test"))
}
