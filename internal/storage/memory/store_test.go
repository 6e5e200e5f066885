package memory

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempmailbot/backend/internal/domain"
	"tempmailbot/backend/internal/storage"
)

func newTestMailbox(address string, chatID int64) *domain.Mailbox {
	return &domain.Mailbox{
		Address:   address,
		ChatID:    chatID,
		AccountID: "acc-" + address,
		Token:     "token-" + address,
	}
}

func TestSaveAndGetMailbox(t *testing.T) {
	store := NewStore()

	err := store.SaveMailbox(newTestMailbox("a1@temp.example", 100))
	require.NoError(t, err)

	got, err := store.GetMailbox("a1@temp.example")
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.ChatID)
	assert.Equal(t, domain.MailboxActive, got.State)
	assert.False(t, got.CreatedAt.IsZero())

	byChat, err := store.GetMailboxByChat(100)
	require.NoError(t, err)
	assert.Equal(t, "a1@temp.example", byChat.Address)

	_, err = store.GetMailbox("missing@temp.example")
	assert.ErrorIs(t, err, storage.ErrMailboxNotFound)
}

func TestMarkMessageSeenIsIdempotentAndMonotone(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.SaveMailbox(newTestMailbox("a1@temp.example", 100)))

	seen, err := store.IsMessageSeen("a1@temp.example", "msg-1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, store.MarkMessageSeen("a1@temp.example", "msg-1"))
	require.NoError(t, store.MarkMessageSeen("a1@temp.example", "msg-1"))

	seen, err = store.IsMessageSeen("a1@temp.example", "msg-1")
	require.NoError(t, err)
	assert.True(t, seen)

	// 再保存邮箱不应清空已读集合
	box, err := store.GetMailbox("a1@temp.example")
	require.NoError(t, err)
	require.NoError(t, store.SaveMailbox(box))

	seen, err = store.IsMessageSeen("a1@temp.example", "msg-1")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestListActiveMailboxes(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.SaveMailbox(newTestMailbox("a1@temp.example", 1)))
	require.NoError(t, store.SaveMailbox(newTestMailbox("a2@temp.example", 2)))
	require.NoError(t, store.SaveMailbox(newTestMailbox("a3@temp.example", 3)))

	require.NoError(t, store.SetMailboxState("a2@temp.example", domain.MailboxOrphaned))
	require.NoError(t, store.SetMailboxState("a3@temp.example", domain.MailboxRetired))

	active := store.ListActiveMailboxes()
	require.Len(t, active, 1)
	assert.Equal(t, "a1@temp.example", active[0].Address)
}

func TestOrphanedIsTerminal(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.SaveMailbox(newTestMailbox("a1@temp.example", 1)))

	require.NoError(t, store.SetMailboxState("a1@temp.example", domain.MailboxOrphaned))
	require.NoError(t, store.SetMailboxState("a1@temp.example", domain.MailboxActive))

	got, err := store.GetMailbox("a1@temp.example")
	require.NoError(t, err)
	assert.Equal(t, domain.MailboxOrphaned, got.State)
}

func TestMarkExpiryWarned(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.SaveMailbox(newTestMailbox("a1@temp.example", 1)))

	require.NoError(t, store.MarkExpiryWarned("a1@temp.example"))
	require.NoError(t, store.MarkExpiryWarned("a1@temp.example"))

	got, err := store.GetMailbox("a1@temp.example")
	require.NoError(t, err)
	assert.True(t, got.ExpiryWarned)
}

func TestPurgeRetiredBefore(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.SaveMailbox(newTestMailbox("a1@temp.example", 1)))
	require.NoError(t, store.SaveMailbox(newTestMailbox("a2@temp.example", 2)))
	require.NoError(t, store.SetMailboxState("a2@temp.example", domain.MailboxRetired))

	count, err := store.PurgeRetiredBefore(time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = store.GetMailbox("a2@temp.example")
	assert.ErrorIs(t, err, storage.ErrMailboxNotFound)

	// active 邮箱不受清理影响
	_, err = store.GetMailbox("a1@temp.example")
	assert.NoError(t, err)
}

func TestConcurrentSeenDifferentMailboxes(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.SaveMailbox(newTestMailbox("a1@temp.example", 1)))
	require.NoError(t, store.SaveMailbox(newTestMailbox("a2@temp.example", 2)))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			_ = store.MarkMessageSeen("a1@temp.example", "m1")
		}(i)
		go func(n int) {
			defer wg.Done()
			_, _ = store.IsMessageSeen("a2@temp.example", "m2")
		}(i)
	}
	wg.Wait()

	seen, err := store.IsMessageSeen("a1@temp.example", "m1")
	require.NoError(t, err)
	assert.True(t, seen)
}
