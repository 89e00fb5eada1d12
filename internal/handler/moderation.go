package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"telegram-forum-bot/internal/config"
	"telegram-forum-bot/internal/event"
	"telegram-forum-bot/internal/flood"
	"telegram-forum-bot/internal/metrics"
	"telegram-forum-bot/internal/model"
	"telegram-forum-bot/internal/moderation"
	"telegram-forum-bot/internal/stats"
)

// FormFlows consumes messages that belong to an active questionnaire.
type FormFlows interface {
	Consume(ev event.Event, sender *tele.User) bool
}

// ModerationHandler runs every free-text message through the moderation
// pipeline: questionnaire flows first, then the content detector, the flood
// guard and the strike engine. Admins are exempt; their messages still count
// toward topic stats.
type ModerationHandler struct {
	cfg       *config.Config
	detector  *moderation.Detector
	guard     *flood.Guard
	engine    *moderation.Engine
	stats     *stats.Aggregator
	forms     FormFlows
	messenger Messenger
	metrics   *metrics.Metrics
}

// NewModerationHandler creates the message pipeline handler.
func NewModerationHandler(
	cfg *config.Config,
	detector *moderation.Detector,
	guard *flood.Guard,
	engine *moderation.Engine,
	aggregator *stats.Aggregator,
	forms FormFlows,
	messenger Messenger,
	m *metrics.Metrics,
) *ModerationHandler {
	return &ModerationHandler{
		cfg:       cfg,
		detector:  detector,
		guard:     guard,
		engine:    engine,
		stats:     aggregator,
		forms:     forms,
		messenger: messenger,
		metrics:   m,
	}
}

// HandleRules handles the /rules command.
func (h *ModerationHandler) HandleRules(c tele.Context) error {
	return c.Reply("Пожалуйста, прочитай правила в закрепленном сообщении.")
}

// HandleMessage is the catch-all text pipeline.
func (h *ModerationHandler) HandleMessage(c tele.Context) error {
	ctx := context.Background()

	ev, ok := event.FromContext(c)
	if !ok {
		return nil
	}
	h.metrics.MessagesSeen.Inc()

	// Edited messages are re-checked for content but do not count again
	// toward stats or the flood window.
	if ev.Kind == event.KindMessage && !strings.HasPrefix(ev.Text, "/") {
		h.stats.Record(ev.ChatID, ev.TopicID, ev.Text)
	}

	// An answer to an open questionnaire belongs to that flow, not to the
	// moderation pipeline.
	if h.forms != nil && h.forms.Consume(ev, c.Sender()) {
		return nil
	}

	if h.isAdmin(ev.ChatID, ev.UserID) {
		return nil
	}

	if v := h.detector.Check(ev.Text); v != nil {
		return h.handleViolation(ctx, c, ev, v)
	}

	if ev.Kind != event.KindMessage {
		return nil
	}
	return h.handleFlood(ctx, c, ev)
}

func (h *ModerationHandler) isAdmin(chatID, userID int64) bool {
	return h.cfg.IsAdmin(userID) || h.messenger.IsChatAdmin(chatID, userID)
}

func (h *ModerationHandler) handleViolation(ctx context.Context, c tele.Context, ev event.Event, v *moderation.Violation) error {
	if msg := c.Message(); msg != nil {
		h.messenger.DeleteMessage(ev.ChatID, msg.ID)
	}

	result, err := h.engine.ApplyStrike(ctx, ev.ChatID, ev.UserID, string(v.Type), 0)
	if err != nil {
		// A banned user's leftover message is deleted and nothing more.
		log.Warn().Err(err).Int64("user_id", ev.UserID).Msg("Strike not applied")
		return nil
	}
	h.metrics.StrikesIssued.WithLabelValues(string(v.Type)).Inc()

	var text string
	switch v.Type {
	case moderation.ViolationProfanity:
		text = "плохие слова тут запрещены. Это страйк. Прочти правила!"
	case moderation.ViolationLink:
		text = "ссылки разрешены только телеграм. Прочти правила!"
	}
	h.warn(c, ev, text)
	h.logToAdmins(ev.ChatID, fmt.Sprintf("Нарушение (%s): %d получил страйк (%d).", v.Type, ev.UserID, result.Count))

	return h.applyEscalation(c, ev, result)
}

func (h *ModerationHandler) handleFlood(ctx context.Context, c tele.Context, ev event.Event) error {
	verdict := h.guard.Observe(ev.ChatID, ev.UserID, ev.Time)
	h.metrics.FloodVerdicts.WithLabelValues(verdict.String()).Inc()

	switch verdict {
	case flood.VerdictWarn:
		h.warn(c, ev, "притормози, ещё немного и будет мут.")
		return nil
	case flood.VerdictFlood:
	default:
		return nil
	}

	repeat := h.guard.Repeat(ev.ChatID, ev.UserID, ev.Time, time.Hour)
	result, applied, err := h.engine.ApplyFloodVerdict(ctx, ev.ChatID, ev.UserID, flood.VerdictFlood, repeat)
	if err != nil {
		log.Error().Err(err).Int64("user_id", ev.UserID).Msg("Flood verdict not applied")
		return nil
	}
	if !applied {
		return nil
	}
	h.metrics.StrikesIssued.WithLabelValues("flood").Inc()

	if result.Escalation == moderation.EscalationMute {
		minutes := int(time.Until(result.MutedUntil).Round(time.Minute) / time.Minute)
		if minutes < 1 {
			minutes = 1
		}
		h.warn(c, ev, fmt.Sprintf("слишком часто пишешь. Мут на %d минут. Остынь!", minutes))
		h.logToAdmins(ev.ChatID, fmt.Sprintf("Антифлуд: %d мут на %d минут", ev.UserID, minutes))
	}
	return h.applyEscalation(c, ev, result)
}

// applyEscalation mirrors the engine's verdict onto the Telegram chat.
func (h *ModerationHandler) applyEscalation(c tele.Context, ev event.Event, result moderation.StrikeResult) error {
	switch result.Escalation {
	case moderation.EscalationMute:
		if err := h.messenger.Restrict(ev.ChatID, ev.UserID, model.RestrictionMuted, result.MutedUntil); err != nil {
			log.Error().Err(err).Int64("user_id", ev.UserID).Msg("Failed to mute chat member")
			return nil
		}
		h.metrics.Restrictions.WithLabelValues("mute").Inc()
		if result.Count >= h.cfg.Moderation.MuteThreshold {
			h.warn(c, ev, fmt.Sprintf("%d страйка = мут на 24 часа. Остынь.", result.Count))
		}
	case moderation.EscalationBan:
		if err := h.messenger.Restrict(ev.ChatID, ev.UserID, model.RestrictionBan, time.Time{}); err != nil {
			log.Error().Err(err).Int64("user_id", ev.UserID).Msg("Failed to ban chat member")
			return nil
		}
		h.metrics.Restrictions.WithLabelValues("ban").Inc()
		h.logToAdmins(ev.ChatID, fmt.Sprintf("Бан: %d набрал %d страйков.", ev.UserID, result.Count))
	}
	return nil
}

func (h *ModerationHandler) warn(c tele.Context, ev event.Event, text string) {
	sender := c.Sender()
	if sender == nil {
		return
	}
	if _, err := h.messenger.SendToTopic(ev.ChatID, ev.TopicID, mention(sender)+", "+text); err != nil {
		log.Warn().Err(err).Msg("Failed to send warning")
	}
}

// logToAdmins posts to the configured moderation log topic.
func (h *ModerationHandler) logToAdmins(chatID int64, text string) {
	if h.cfg.Bot.LogTopicID == 0 {
		return
	}
	if _, err := h.messenger.SendToTopic(chatID, h.cfg.Bot.LogTopicID, text); err != nil {
		log.Warn().Err(err).Msg("Failed to write admin log message")
	}
}
