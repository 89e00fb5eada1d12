// Package handler provides Telegram command, callback and message handlers.
// Handlers parse input, call the engines and render replies; every game or
// moderation transition commits inside an engine before anything is sent.
package handler

import (
	"fmt"
	"time"

	tele "gopkg.in/telebot.v3"

	"telegram-forum-bot/internal/model"
)

// Messenger is the outbound surface handlers render through.
type Messenger interface {
	SendToTopic(chatID, topicID int64, text string) (*tele.Message, error)
	EditMessage(msg *tele.Message, text string) (*tele.Message, error)
	EditWithKeyboard(msg *tele.Message, text string, markup *tele.ReplyMarkup) (*tele.Message, error)
	DeleteMessage(chatID int64, messageID int)
	Restrict(chatID, userID int64, kind model.RestrictionKind, until time.Time) error
	Unrestrict(chatID, userID int64, kind model.RestrictionKind) error
	IsChatAdmin(chatID, userID int64) bool
}

// mention renders an HTML user mention for replies addressed at a member.
func mention(user *tele.User) string {
	name := user.FirstName
	if name == "" {
		name = user.Username
	}
	if name == "" {
		name = fmt.Sprintf("%d", user.ID)
	}
	return fmt.Sprintf(`<a href="tg://user?id=%d">%s</a>`, user.ID, name)
}

// replyTarget extracts the user an admin command is aimed at: the sender of
// the message the command replies to.
func replyTarget(c tele.Context) (*tele.User, bool) {
	msg := c.Message()
	if msg == nil || msg.ReplyTo == nil || msg.ReplyTo.Sender == nil {
		return nil, false
	}
	return msg.ReplyTo.Sender, true
}
