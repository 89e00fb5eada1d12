package handler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"telegram-forum-bot/internal/config"
	"telegram-forum-bot/internal/metrics"
	"telegram-forum-bot/internal/model"
	"telegram-forum-bot/internal/moderation"
	"telegram-forum-bot/internal/repository"
	"telegram-forum-bot/internal/stats"
)

// AdminHandler implements the admin command surface. Every command targets
// the sender of the message it replies to.
type AdminHandler struct {
	cfg       *config.Config
	engine    *moderation.Engine
	users     *repository.UserRepository
	stats     *stats.Aggregator
	messenger Messenger
	metrics   *metrics.Metrics
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(
	cfg *config.Config,
	engine *moderation.Engine,
	users *repository.UserRepository,
	aggregator *stats.Aggregator,
	messenger Messenger,
	m *metrics.Metrics,
) *AdminHandler {
	return &AdminHandler{
		cfg:       cfg,
		engine:    engine,
		users:     users,
		stats:     aggregator,
		messenger: messenger,
		metrics:   m,
	}
}

// HandleStrike handles /strike, issued as a reply to the offender.
func (h *AdminHandler) HandleStrike(c tele.Context) error {
	ctx := context.Background()
	target, ok := replyTarget(c)
	if !ok {
		return c.Reply("Ответь этой командой на сообщение нарушителя.")
	}
	chatID := c.Chat().ID

	result, err := h.engine.ApplyStrike(ctx, chatID, target.ID, "admin", c.Sender().ID)
	if err != nil {
		if errors.Is(err, moderation.ErrBanned) {
			return c.Reply("Пользователь уже забанен.")
		}
		return c.Reply("Не получилось выдать страйк, попробуй ещё раз.")
	}
	h.metrics.StrikesIssued.WithLabelValues("admin").Inc()

	switch result.Escalation {
	case moderation.EscalationMute:
		if err := h.messenger.Restrict(chatID, target.ID, model.RestrictionMuted, result.MutedUntil); err != nil {
			log.Error().Err(err).Int64("user_id", target.ID).Msg("Failed to mute chat member")
		}
		h.metrics.Restrictions.WithLabelValues("mute").Inc()
		return c.Reply(fmt.Sprintf("Страйк выдан (%d). %s замучен до %s.",
			result.Count, mention(target), result.MutedUntil.Format("15:04 02.01")))
	case moderation.EscalationBan:
		if err := h.messenger.Restrict(chatID, target.ID, model.RestrictionBan, time.Time{}); err != nil {
			log.Error().Err(err).Int64("user_id", target.ID).Msg("Failed to ban chat member")
		}
		h.metrics.Restrictions.WithLabelValues("ban").Inc()
		return c.Reply(fmt.Sprintf("Страйк выдан (%d). %s забанен.", result.Count, mention(target)))
	default:
		return c.Reply(fmt.Sprintf("Страйк выдан. У %s теперь %d.", mention(target), result.Count))
	}
}

// HandleMute handles /mute [minutes], issued as a reply. Without an argument
// the configured mute duration applies.
func (h *AdminHandler) HandleMute(c tele.Context) error {
	ctx := context.Background()
	target, ok := replyTarget(c)
	if !ok {
		return c.Reply("Ответь этой командой на сообщение нарушителя.")
	}
	chatID := c.Chat().ID

	duration := h.cfg.Moderation.MuteDuration
	if args := c.Args(); len(args) > 0 {
		minutes, err := strconv.Atoi(args[0])
		if err != nil || minutes <= 0 {
			return c.Reply("Укажи длительность в минутах: /mute 30")
		}
		duration = time.Duration(minutes) * time.Minute
	}

	until, err := h.engine.Mute(ctx, chatID, target.ID, duration, c.Sender().ID)
	if err != nil {
		return c.Reply("Не получилось замутить, попробуй ещё раз.")
	}
	if err := h.messenger.Restrict(chatID, target.ID, model.RestrictionMuted, until); err != nil {
		log.Error().Err(err).Int64("user_id", target.ID).Msg("Failed to mute chat member")
	}
	h.metrics.Restrictions.WithLabelValues("mute").Inc()

	return c.Reply(fmt.Sprintf("%s замучен до %s.", mention(target), until.Format("15:04 02.01")))
}

// HandleBan handles /ban, issued as a reply.
func (h *AdminHandler) HandleBan(c tele.Context) error {
	ctx := context.Background()
	target, ok := replyTarget(c)
	if !ok {
		return c.Reply("Ответь этой командой на сообщение нарушителя.")
	}
	chatID := c.Chat().ID

	if err := h.engine.Ban(ctx, chatID, target.ID, c.Sender().ID); err != nil {
		return c.Reply("Не получилось забанить, попробуй ещё раз.")
	}
	if err := h.messenger.Restrict(chatID, target.ID, model.RestrictionBan, time.Time{}); err != nil {
		log.Error().Err(err).Int64("user_id", target.ID).Msg("Failed to ban chat member")
	}
	h.metrics.Restrictions.WithLabelValues("ban").Inc()

	return c.Reply(fmt.Sprintf("%s забанен.", mention(target)))
}

// HandleUnrestrict handles /unrestrict, issued as a reply. Lifts whichever
// restriction is active.
func (h *AdminHandler) HandleUnrestrict(c tele.Context) error {
	ctx := context.Background()
	target, ok := replyTarget(c)
	if !ok {
		return c.Reply("Ответь этой командой на сообщение пользователя.")
	}
	chatID := c.Chat().ID

	cleared, err := h.engine.ClearRestriction(ctx, chatID, target.ID, c.Sender().ID)
	if err != nil {
		return c.Reply("Не получилось снять ограничение, попробуй ещё раз.")
	}
	if cleared == model.RestrictionNone {
		return c.Reply("У пользователя нет активных ограничений.")
	}

	if err := h.messenger.Unrestrict(chatID, target.ID, cleared); err != nil {
		log.Error().Err(err).Int64("user_id", target.ID).Msg("Failed to lift chat restriction")
	}
	return c.Reply(fmt.Sprintf("Ограничение снято с %s.", mention(target)))
}

// HandleUnstrike handles /unstrike, issued as a reply. Wipes the target's
// strikes along with any active restriction.
func (h *AdminHandler) HandleUnstrike(c tele.Context) error {
	ctx := context.Background()
	target, ok := replyTarget(c)
	if !ok {
		return c.Reply("Ответь этой командой на сообщение пользователя.")
	}
	chatID := c.Chat().ID

	cleared, err := h.engine.ClearRestriction(ctx, chatID, target.ID, c.Sender().ID)
	if err != nil {
		return c.Reply("Не получилось сбросить страйки, попробуй ещё раз.")
	}
	if err := h.engine.ResetStrikes(ctx, chatID, target.ID, c.Sender().ID); err != nil {
		return c.Reply("Не получилось сбросить страйки, попробуй ещё раз.")
	}
	if cleared != model.RestrictionNone {
		if err := h.messenger.Unrestrict(chatID, target.ID, cleared); err != nil {
			log.Error().Err(err).Int64("user_id", target.ID).Msg("Failed to lift chat restriction")
		}
	}
	return c.Reply(fmt.Sprintf("Страйки %s сброшены.", mention(target)))
}

// HandleAddCoins handles /addcoins <n>, issued as a reply. Grants are capped
// per target per day.
func (h *AdminHandler) HandleAddCoins(c tele.Context) error {
	ctx := context.Background()
	target, ok := replyTarget(c)
	if !ok {
		return c.Reply("Ответь этой командой на сообщение игрока.")
	}
	args := c.Args()
	if len(args) == 0 {
		return c.Reply("Укажи сумму: /addcoins 10")
	}
	amount, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || amount <= 0 {
		return c.Reply("Сумма должна быть положительным числом.")
	}
	chatID := c.Chat().ID

	if _, err := h.users.GetOrCreate(ctx, chatID, target.ID, target.Username); err != nil {
		return c.Reply("Не получилось начислить монеты, попробуй ещё раз.")
	}
	user, err := h.users.Grant(ctx, chatID, target.ID, amount, h.cfg.Game.DailyGrantCap)
	if err != nil {
		if errors.Is(err, repository.ErrDailyCapReached) {
			return c.Reply(fmt.Sprintf("Дневной лимит начислений (%d) исчерпан.", h.cfg.Game.DailyGrantCap))
		}
		return c.Reply("Не получилось начислить монеты, попробуй ещё раз.")
	}

	log.Info().
		Int64("admin_id", c.Sender().ID).
		Int64("target_id", target.ID).
		Int64("amount", amount).
		Msg("Admin coin grant")

	return c.Reply(fmt.Sprintf("Начислено %d монет. Баланс %s: %d.", amount, mention(target), user.Balance))
}

// HandleResetStats handles /resetstats: wipes the chat's topic statistics.
func (h *AdminHandler) HandleResetStats(c tele.Context) error {
	ctx := context.Background()
	chatID := c.Chat().ID

	if err := h.stats.Reset(ctx, chatID); err != nil {
		return c.Reply("Не получилось сбросить статистику, попробуй ещё раз.")
	}
	log.Info().Int64("admin_id", c.Sender().ID).Int64("chat_id", chatID).Msg("Topic stats reset")
	return c.Reply("Статистика тем сброшена.")
}
