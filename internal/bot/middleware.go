package bot

import (
	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"telegram-forum-bot/internal/config"
)

// ForumMiddleware drops every update that is not from the configured forum
// chat. The bot serves exactly one community.
func ForumMiddleware(cfg *config.Config) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			chat := c.Chat()
			if chat == nil || chat.ID != cfg.Bot.ForumChatID {
				return nil
			}
			return next(c)
		}
	}
}

// AdminMiddleware gates a handler group to configured admin IDs.
func AdminMiddleware(cfg *config.Config) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			sender := c.Sender()
			if sender == nil {
				return nil
			}
			if !cfg.IsAdmin(sender.ID) {
				log.Warn().
					Int64("user_id", sender.ID).
					Str("command", c.Text()).
					Msg("Non-admin attempted admin command")
				return c.Reply("Эта команда только для администраторов.")
			}
			return next(c)
		}
	}
}

// LoggingMiddleware logs every inbound update at debug level.
func LoggingMiddleware() tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			logEvent := log.Debug()
			if sender := c.Sender(); sender != nil {
				logEvent = logEvent.
					Int64("user_id", sender.ID).
					Str("username", sender.Username)
			}
			if chat := c.Chat(); chat != nil {
				logEvent = logEvent.Int64("chat_id", chat.ID)
			}
			logEvent.Str("text", c.Text()).Msg("Received update")
			return next(c)
		}
	}
}

// RecoveryMiddleware keeps a panicking handler from taking down the poller.
func RecoveryMiddleware() tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Interface("panic", r).
						Str("text", c.Text()).
						Msg("Recovered from panic in handler")
				}
			}()
			return next(c)
		}
	}
}
