package telegram

// Update 是 Bot API webhook 推送的一次更新。
//
// 只声明命令层用到的字段，其余字段在解码时丢弃。
type Update struct {
	UpdateID      int64            `json:"update_id"`
	Message       *IncomingMessage `json:"message"`
	CallbackQuery *CallbackQuery   `json:"callback_query"`
}

// IncomingMessage 是用户发来的消息。
type IncomingMessage struct {
	MessageID int64  `json:"message_id"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text"`
}

// Chat 是消息所属的聊天。
type Chat struct {
	ID int64 `json:"id"`
}

// CallbackQuery 是内联按钮点击产生的回调。
type CallbackQuery struct {
	ID      string           `json:"id"`
	Data    string           `json:"data"`
	Message *IncomingMessage `json:"message"`
}

// ChatID 返回更新所属的聊天 ID，无法确定时返回 0。
func (u *Update) ChatID() int64 {
	if u.Message != nil {
		return u.Message.Chat.ID
	}
	if u.CallbackQuery != nil && u.CallbackQuery.Message != nil {
		return u.CallbackQuery.Message.Chat.ID
	}
	return 0
}
