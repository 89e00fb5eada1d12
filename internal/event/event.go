// Package event normalizes raw transport updates into the small closed set
// of internal events that the engines consume.
package event

import (
	"time"

	tele "gopkg.in/telebot.v3"
)

// Kind identifies the event type. The set is closed: transport updates that
// do not map onto it are dropped at the boundary.
type Kind int

const (
	KindMessage Kind = iota
	KindEditedMessage
	KindCallback
	KindTick
)

func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindEditedMessage:
		return "edited_message"
	case KindCallback:
		return "callback"
	case KindTick:
		return "tick"
	default:
		return "unknown"
	}
}

// Event is the normalized form of an inbound update.
type Event struct {
	Kind         Kind
	ChatID       int64
	UserID       int64
	TopicID      int64
	Time         time.Time
	Text         string
	CallbackData string
}

// FromContext extracts a normalized event from a telebot update. The second
// return value is false when the update carries no message or callback, or
// has no identifiable sender.
func FromContext(c tele.Context) (Event, bool) {
	if cb := c.Callback(); cb != nil {
		msg := cb.Message
		if msg == nil || cb.Sender == nil {
			return Event{}, false
		}
		return Event{
			Kind:         KindCallback,
			ChatID:       msg.Chat.ID,
			UserID:       cb.Sender.ID,
			TopicID:      int64(msg.ThreadID),
			Time:         time.Now(),
			CallbackData: trimCallbackData(cb.Data),
		}, true
	}

	msg := c.Message()
	if msg == nil || msg.Sender == nil || msg.Chat == nil {
		return Event{}, false
	}

	kind := KindMessage
	if c.Update().EditedMessage != nil {
		kind = KindEditedMessage
	}

	return Event{
		Kind:    kind,
		ChatID:  msg.Chat.ID,
		UserID:  msg.Sender.ID,
		TopicID: int64(msg.ThreadID),
		Time:    msg.Time(),
		Text:    msg.Text,
	}, true
}

// trimCallbackData strips the \f prefix telebot v3 adds to callback data.
func trimCallbackData(data string) string {
	if len(data) > 0 && data[0] == '\f' {
		return data[1:]
	}
	return data
}
