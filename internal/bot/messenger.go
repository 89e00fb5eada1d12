package bot

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"telegram-forum-bot/internal/model"
)

// Messenger wraps the telebot API surface the handlers and scheduler use.
// Engines never touch it: sends and chat-member changes happen only after
// the engine transition has committed.
type Messenger struct {
	bot *tele.Bot
}

// NewMessenger creates a Messenger over the bot instance.
func NewMessenger(bot *tele.Bot) *Messenger {
	return &Messenger{bot: bot}
}

// SendToTopic posts a message into a forum topic. Topic 0 posts to the
// chat's general topic.
func (m *Messenger) SendToTopic(chatID, topicID int64, text string) (*tele.Message, error) {
	opts := &tele.SendOptions{ParseMode: tele.ModeHTML}
	if topicID != 0 {
		opts.ThreadID = int(topicID)
	}
	msg, err := m.bot.Send(tele.ChatID(chatID), text, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to send to topic %d: %w", topicID, err)
	}
	return msg, nil
}

// EditMessage replaces a previously sent message's text in place.
func (m *Messenger) EditMessage(msg *tele.Message, text string) (*tele.Message, error) {
	edited, err := m.bot.Edit(msg, text, &tele.SendOptions{ParseMode: tele.ModeHTML})
	if err != nil {
		return nil, fmt.Errorf("failed to edit message: %w", err)
	}
	return edited, nil
}

// EditWithKeyboard replaces a message's text and inline keyboard.
func (m *Messenger) EditWithKeyboard(msg *tele.Message, text string, markup *tele.ReplyMarkup) (*tele.Message, error) {
	edited, err := m.bot.Edit(msg, text, &tele.SendOptions{ParseMode: tele.ModeHTML}, markup)
	if err != nil {
		return nil, fmt.Errorf("failed to edit message: %w", err)
	}
	return edited, nil
}

// DeleteMessage removes a message from the chat. A failure is logged, not
// surfaced: the moderation verdict already applied.
func (m *Messenger) DeleteMessage(chatID int64, messageID int) {
	msg := &tele.Message{ID: messageID, Chat: &tele.Chat{ID: chatID}}
	if err := m.bot.Delete(msg); err != nil {
		log.Warn().Err(err).Int64("chat_id", chatID).Int("message_id", messageID).Msg("Failed to delete message")
	}
}

// Restrict applies a mute or ban to the chat member, mirroring the
// restriction already recorded by the moderation engine.
func (m *Messenger) Restrict(chatID, userID int64, kind model.RestrictionKind, until time.Time) error {
	chat := &tele.Chat{ID: chatID}
	member := &tele.ChatMember{
		User:            &tele.User{ID: userID},
		RestrictedUntil: until.Unix(),
	}

	switch kind {
	case model.RestrictionBan:
		if err := m.bot.Ban(chat, member); err != nil {
			return fmt.Errorf("failed to ban user %d: %w", userID, err)
		}
	case model.RestrictionMuted:
		member.Rights = tele.Rights{CanSendMessages: false}
		if err := m.bot.Restrict(chat, member); err != nil {
			return fmt.Errorf("failed to mute user %d: %w", userID, err)
		}
	}
	return nil
}

// Unrestrict lifts a mute or ban.
func (m *Messenger) Unrestrict(chatID, userID int64, kind model.RestrictionKind) error {
	chat := &tele.Chat{ID: chatID}
	user := &tele.User{ID: userID}

	if kind == model.RestrictionBan {
		if err := m.bot.Unban(chat, user); err != nil {
			return fmt.Errorf("failed to unban user %d: %w", userID, err)
		}
		return nil
	}

	member := &tele.ChatMember{
		User:   user,
		Rights: tele.NoRestrictions(),
	}
	if err := m.bot.Restrict(chat, member); err != nil {
		return fmt.Errorf("failed to unmute user %d: %w", userID, err)
	}
	return nil
}

// IsChatAdmin reports whether the user holds an admin role in the chat.
// Used to exempt forum admins from automatic moderation.
func (m *Messenger) IsChatAdmin(chatID, userID int64) bool {
	member, err := m.bot.ChatMemberOf(&tele.Chat{ID: chatID}, &tele.User{ID: userID})
	if err != nil {
		log.Warn().Err(err).Int64("user_id", userID).Msg("Failed to check chat membership")
		return false
	}
	return member.Role == tele.Administrator || member.Role == tele.Creator
}
