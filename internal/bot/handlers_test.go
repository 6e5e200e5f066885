package bot

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"tempmailbot/backend/internal/domain"
	"tempmailbot/backend/internal/extract"
	"tempmailbot/backend/internal/mailtm"
	"tempmailbot/backend/internal/pool"
	"tempmailbot/backend/internal/service"
	"tempmailbot/backend/internal/storage/memory"
	"tempmailbot/backend/internal/telegram"
)

// fakeSender 记录出站消息的发送端替身。
type fakeSender struct {
	mu   sync.Mutex
	sent []fakeReply
	acks []string
}

type fakeReply struct {
	chatID  int64
	text    string
	buttons []domain.Button
}

func (f *fakeSender) SendMessage(ctx context.Context, chatID int64, text string) error {
	return f.SendMessageWithButtons(ctx, chatID, text, nil)
}

func (f *fakeSender) SendMessageWithButtons(ctx context.Context, chatID int64, text string, buttons []domain.Button) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, fakeReply{chatID: chatID, text: text, buttons: buttons})
	return nil
}

func (f *fakeSender) AnswerCallback(ctx context.Context, callbackID, text string, showAlert bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks = append(f.acks, callbackID)
	return nil
}

func (f *fakeSender) last() fakeReply {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// fakeProvider 是提供方账号客户端替身。
type fakeProvider struct {
	mu      sync.Mutex
	created int
}

func (f *fakeProvider) CreateAccount(ctx context.Context) (*mailtm.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	return &mailtm.Account{
		Address:   fmt.Sprintf("user%d@temp.test", f.created),
		AccountID: fmt.Sprintf("acc-%d", f.created),
		Token:     fmt.Sprintf("token-%d", f.created),
	}, nil
}

func (f *fakeProvider) DeleteAccount(ctx context.Context, token, accountID string) error {
	return nil
}

func (f *fakeProvider) ListMessages(ctx context.Context, token string) ([]domain.Message, error) {
	return nil, nil
}

func (f *fakeProvider) GetMessageBody(ctx context.Context, token, messageID string) (*domain.MessageBody, error) {
	return nil, mailtm.ErrMessageNotFound
}

func newTestHandler(t *testing.T) (*Handler, *fakeSender, *memory.Store) {
	t.Helper()

	logger := zap.NewNop()
	store := memory.NewStore()
	provider := &fakeProvider{}
	sender := &fakeSender{}

	sessions := service.NewSessionService(provider, store, nil, time.Hour, nil, logger)
	tracker := service.NewTracker(store, nil, time.Hour, logger)
	extractor := extract.NewExtractor(extract.DefaultRules())
	poller := service.NewPoller(provider, tracker, extractor, time.Hour, nil, logger)
	dispatcher := service.NewDispatcher(sender, store, 1000, 1, nil, logger)
	workerPool := pool.NewWorkerPool(2, 8, logger)
	watcher := service.NewWatcher(store, poller, dispatcher, workerPool, time.Minute, nil, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		watcher.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return NewHandler(sessions, watcher, sender, NewLimiter(), logger), sender, store
}

func commandUpdate(chatID int64, text string) *telegram.Update {
	return &telegram.Update{
		Message: &telegram.IncomingMessage{
			Chat: telegram.Chat{ID: chatID},
			Text: text,
		},
	}
}

func callbackUpdate(chatID int64, data string) *telegram.Update {
	return &telegram.Update{
		CallbackQuery: &telegram.CallbackQuery{
			ID:      "cb-1",
			Data:    data,
			Message: &telegram.IncomingMessage{Chat: telegram.Chat{ID: chatID}},
		},
	}
}

func TestHandler_StartAndHelp(t *testing.T) {
	handler, sender, _ := newTestHandler(t)
	ctx := context.Background()

	t.Run("start 返回欢迎语和入口按钮", func(t *testing.T) {
		handler.HandleUpdate(ctx, commandUpdate(100, "/start"))

		reply := sender.last()
		assert.Contains(t, reply.text, "Welcome")
		assert.Len(t, reply.buttons, 2)
	})

	t.Run("help 列出全部命令", func(t *testing.T) {
		handler.HandleUpdate(ctx, commandUpdate(100, "/help"))

		reply := sender.last()
		assert.Contains(t, reply.text, "/new")
		assert.Contains(t, reply.text, "/delete")
	})

	t.Run("未知命令给出提示", func(t *testing.T) {
		handler.HandleUpdate(ctx, commandUpdate(100, "/frobnicate"))
		assert.Contains(t, sender.last().text, "Unknown command")
	})

	t.Run("群聊命令带 bot 名后缀", func(t *testing.T) {
		handler.HandleUpdate(ctx, commandUpdate(100, "/help@tempmail_bot"))
		assert.Contains(t, sender.last().text, "/new")
	})
}

func TestHandler_MailboxLifecycle(t *testing.T) {
	handler, sender, store := newTestHandler(t)
	ctx := context.Background()

	t.Run("创建邮箱返回地址", func(t *testing.T) {
		handler.HandleUpdate(ctx, commandUpdate(100, "/new"))

		reply := sender.last()
		assert.Contains(t, reply.text, "user1@temp.test")
		assert.Len(t, reply.buttons, 2)

		mailbox, err := store.GetMailboxByChat(100)
		assert.NoError(t, err)
		assert.Equal(t, "user1@temp.test", mailbox.Address)
	})

	t.Run("查询当前邮箱", func(t *testing.T) {
		handler.HandleUpdate(ctx, commandUpdate(100, "/my"))

		reply := sender.last()
		assert.Contains(t, reply.text, "user1@temp.test")
		assert.Contains(t, reply.text, "Expires in")
	})

	t.Run("删除邮箱后查询为空", func(t *testing.T) {
		handler.HandleUpdate(ctx, commandUpdate(100, "/delete"))
		assert.Contains(t, sender.last().text, "deleted")

		handler.HandleUpdate(ctx, commandUpdate(100, "/my"))
		assert.Contains(t, sender.last().text, "no active address")
	})

	t.Run("重复删除给出提示", func(t *testing.T) {
		handler.HandleUpdate(ctx, commandUpdate(100, "/delete"))
		assert.Contains(t, sender.last().text, "no active address")
	})
}

func TestHandler_CreateRateLimited(t *testing.T) {
	handler, sender, _ := newTestHandler(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		handler.HandleUpdate(ctx, commandUpdate(100, "/new"))
	}
	handler.HandleUpdate(ctx, commandUpdate(100, "/new"))

	reply := sender.last()
	assert.Contains(t, reply.text, "Too many new addresses")
}

func TestHandler_Callbacks(t *testing.T) {
	handler, sender, _ := newTestHandler(t)
	ctx := context.Background()

	t.Run("create_mail 回调创建邮箱", func(t *testing.T) {
		handler.HandleUpdate(ctx, callbackUpdate(200, callbackCreateMail))

		assert.Contains(t, sender.acks, "cb-1")
		assert.Contains(t, sender.last().text, "@temp.test")
	})

	t.Run("refresh 回调触发即时轮询", func(t *testing.T) {
		handler.HandleUpdate(ctx, callbackUpdate(200, callbackRefresh))
		assert.Contains(t, sender.last().text, "Checking")
	})

	t.Run("delete_mail 回调下线邮箱", func(t *testing.T) {
		handler.HandleUpdate(ctx, callbackUpdate(200, callbackDeleteMail))
		assert.Contains(t, sender.last().text, "deleted")
	})
}

func TestHandler_PlainTextHint(t *testing.T) {
	handler, sender, _ := newTestHandler(t)

	handler.HandleUpdate(context.Background(), commandUpdate(300, "hello there"))
	assert.Contains(t, sender.last().text, "/help")
	assert.Equal(t, 1, sender.count())
}
