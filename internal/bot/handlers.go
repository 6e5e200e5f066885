package bot

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"tempmailbot/backend/internal/domain"
	"tempmailbot/backend/internal/service"
	"tempmailbot/backend/internal/telegram"
)

// 回调按钮数据
const (
	callbackCreateMail = "create_mail"
	callbackMyMail     = "my_mail"
	callbackRefresh    = "refresh"
	callbackDeleteMail = "delete_mail"
	callbackNewMail    = "new_mail"
)

// Sender 定义命令层所需的 Bot API 发送操作。
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendMessageWithButtons(ctx context.Context, chatID int64, text string, buttons []domain.Button) error
	AnswerCallback(ctx context.Context, callbackID, text string, showAlert bool) error
}

// Handler 处理用户的命令与按钮回调。
type Handler struct {
	sessions *service.SessionService
	watcher  *service.Watcher
	sender   Sender
	limiter  *Limiter
	logger   *zap.Logger
}

// NewHandler 创建命令处理器。
func NewHandler(sessions *service.SessionService, watcher *service.Watcher, sender Sender, limiter *Limiter, logger *zap.Logger) *Handler {
	return &Handler{
		sessions: sessions,
		watcher:  watcher,
		sender:   sender,
		limiter:  limiter,
		logger:   logger,
	}
}

// HandleUpdate 分发一次 webhook 更新。
//
// 处理失败只记录日志不向上返回错误：webhook 必须回 200，
// 否则 Bot API 会反复重推同一条更新。
func (h *Handler) HandleUpdate(ctx context.Context, update *telegram.Update) {
	switch {
	case update.CallbackQuery != nil:
		h.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && strings.HasPrefix(update.Message.Text, "/"):
		h.handleCommand(ctx, update.Message)
	case update.Message != nil:
		h.reply(ctx, update.Message.Chat.ID, "Use /help to see available commands.")
	}
}

// handleCommand 处理斜杠命令。
func (h *Handler) handleCommand(ctx context.Context, msg *telegram.IncomingMessage) {
	chatID := msg.Chat.ID
	command := strings.ToLower(strings.Fields(msg.Text)[0])
	// 去掉群聊中的 @botname 后缀
	if idx := strings.Index(command, "@"); idx > 0 {
		command = command[:idx]
	}

	switch command {
	case "/start":
		h.sendWelcome(ctx, chatID)
	case "/help":
		h.sendHelp(ctx, chatID)
	case "/new":
		h.createMailbox(ctx, chatID)
	case "/my":
		h.showMailbox(ctx, chatID)
	case "/refresh":
		h.refreshMailbox(ctx, chatID)
	case "/delete":
		h.deleteMailbox(ctx, chatID)
	default:
		h.reply(ctx, chatID, "Unknown command. Use /help to see available commands.")
	}
}

// handleCallback 处理内联按钮回调。
func (h *Handler) handleCallback(ctx context.Context, query *telegram.CallbackQuery) {
	if err := h.sender.AnswerCallback(ctx, query.ID, "", false); err != nil {
		h.logger.Debug("callback ack failed", zap.Error(err))
	}
	if query.Message == nil {
		return
	}
	chatID := query.Message.Chat.ID

	switch query.Data {
	case callbackCreateMail, callbackNewMail:
		h.createMailbox(ctx, chatID)
	case callbackMyMail:
		h.showMailbox(ctx, chatID)
	case callbackRefresh:
		h.refreshMailbox(ctx, chatID)
	case callbackDeleteMail:
		h.deleteMailbox(ctx, chatID)
	}
}

func (h *Handler) sendWelcome(ctx context.Context, chatID int64) {
	text := "👋 *Welcome!*\n" +
		"I create disposable email addresses and forward incoming mail here.\n" +
		"Verification codes and activation links arrive as soon as the mail does."
	buttons := []domain.Button{
		{Label: "📮 New address", CallbackData: callbackCreateMail},
		{Label: "📬 My address", CallbackData: callbackMyMail},
	}
	h.replyWithButtons(ctx, chatID, text, buttons)
}

func (h *Handler) sendHelp(ctx context.Context, chatID int64) {
	text := "*Commands*\n" +
		"/new — create a disposable address\n" +
		"/my — show your current address\n" +
		"/refresh — check for new mail now\n" +
		"/delete — discard your address\n\n" +
		"Addresses expire after one hour."
	h.reply(ctx, chatID, text)
}

func (h *Handler) createMailbox(ctx context.Context, chatID int64) {
	if ok, wait := h.limiter.Allow(chatID, ActionCreate); !ok {
		h.reply(ctx, chatID, fmt.Sprintf("⏳ Too many new addresses. Try again in %s.", formatWait(wait)))
		return
	}

	mailbox, err := h.sessions.CreateMailbox(ctx, chatID)
	if err != nil {
		h.logger.Error("mailbox creation failed",
			zap.Int64("chat_id", chatID),
			zap.Error(err))
		h.reply(ctx, chatID, "😔 The mail provider is unavailable right now. Please try again later.")
		return
	}

	text := fmt.Sprintf("✉️ Your temporary address:\n`%s`\n\nValid for %s. New mail is forwarded here automatically.",
		mailbox.Address, formatWait(h.sessions.RemainingTTL(mailbox)))
	h.replyWithButtons(ctx, chatID, text, mailboxButtons())
}

func (h *Handler) showMailbox(ctx context.Context, chatID int64) {
	if ok, wait := h.limiter.Allow(chatID, ActionGeneral); !ok {
		h.reply(ctx, chatID, fmt.Sprintf("⏳ Slow down. Try again in %s.", formatWait(wait)))
		return
	}

	mailbox, err := h.sessions.CurrentMailbox(ctx, chatID)
	if err != nil {
		if errors.Is(err, service.ErrNoMailbox) {
			h.replyWithButtons(ctx, chatID, "You have no active address.",
				[]domain.Button{{Label: "📮 New address", CallbackData: callbackCreateMail}})
			return
		}
		h.logger.Error("mailbox lookup failed",
			zap.Int64("chat_id", chatID),
			zap.Error(err))
		h.reply(ctx, chatID, "😔 Something went wrong. Please try again.")
		return
	}

	remaining := h.sessions.RemainingTTL(mailbox)
	text := fmt.Sprintf("📬 Your address:\n`%s`\n\nExpires in %s.", mailbox.Address, formatWait(remaining))
	if remaining == 0 {
		text = fmt.Sprintf("📬 Your address:\n`%s`\n\nThis address has expired.", mailbox.Address)
	}
	h.replyWithButtons(ctx, chatID, text, mailboxButtons())
}

func (h *Handler) refreshMailbox(ctx context.Context, chatID int64) {
	if ok, wait := h.limiter.Allow(chatID, ActionGeneral); !ok {
		h.reply(ctx, chatID, fmt.Sprintf("⏳ Slow down. Try again in %s.", formatWait(wait)))
		return
	}

	mailbox, err := h.sessions.CurrentMailbox(ctx, chatID)
	if err != nil {
		h.replyWithButtons(ctx, chatID, "You have no active address.",
			[]domain.Button{{Label: "📮 New address", CallbackData: callbackCreateMail}})
		return
	}

	if h.watcher.TriggerPoll(mailbox.Address) {
		h.reply(ctx, chatID, "🔄 Checking for new mail…")
	} else {
		h.reply(ctx, chatID, "🔄 Already checking, new mail arrives here automatically.")
	}
}

func (h *Handler) deleteMailbox(ctx context.Context, chatID int64) {
	err := h.sessions.DiscardMailbox(ctx, chatID)
	if err != nil {
		if errors.Is(err, service.ErrNoMailbox) {
			h.reply(ctx, chatID, "You have no active address to delete.")
			return
		}
		h.logger.Error("mailbox discard failed",
			zap.Int64("chat_id", chatID),
			zap.Error(err))
		h.reply(ctx, chatID, "😔 Something went wrong. Please try again.")
		return
	}

	h.replyWithButtons(ctx, chatID, "🗑 Address deleted.",
		[]domain.Button{{Label: "📮 New address", CallbackData: callbackCreateMail}})
}

func (h *Handler) reply(ctx context.Context, chatID int64, text string) {
	if err := h.sender.SendMessage(ctx, chatID, text); err != nil {
		h.logger.Warn("reply failed",
			zap.Int64("chat_id", chatID),
			zap.Error(err))
	}
}

func (h *Handler) replyWithButtons(ctx context.Context, chatID int64, text string, buttons []domain.Button) {
	if err := h.sender.SendMessageWithButtons(ctx, chatID, text, buttons); err != nil {
		h.logger.Warn("reply failed",
			zap.Int64("chat_id", chatID),
			zap.Error(err))
	}
}

// mailboxButtons 返回邮箱管理的常用按钮。
func mailboxButtons() []domain.Button {
	return []domain.Button{
		{Label: "🔄 Refresh", CallbackData: callbackRefresh},
		{Label: "🗑 Delete", CallbackData: callbackDeleteMail},
	}
}

// formatWait 将等待时间渲染为用户可读的文本。
func formatWait(wait time.Duration) string {
	if wait < time.Minute {
		secs := int(math.Ceil(wait.Seconds()))
		if secs < 1 {
			secs = 1
		}
		return fmt.Sprintf("%ds", secs)
	}
	mins := int(math.Ceil(wait.Minutes()))
	return fmt.Sprintf("%dm", mins)
}
