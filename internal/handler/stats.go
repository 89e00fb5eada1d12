package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"telegram-forum-bot/internal/config"
	"telegram-forum-bot/internal/model"
	"telegram-forum-bot/internal/stats"
)

// DailyStats reads persisted per-day topic counts.
type DailyStats interface {
	DailyTotals(ctx context.Context, chatID int64, dateKey string) ([]model.TopicStat, error)
}

// StatsHandler renders topic activity snapshots, on demand and as the
// scheduled daily digest.
type StatsHandler struct {
	cfg       *config.Config
	stats     *stats.Aggregator
	daily     DailyStats
	messenger Messenger
}

// NewStatsHandler creates a new StatsHandler.
func NewStatsHandler(cfg *config.Config, aggregator *stats.Aggregator, daily DailyStats, messenger Messenger) *StatsHandler {
	return &StatsHandler{cfg: cfg, stats: aggregator, daily: daily, messenger: messenger}
}

// HandleStats handles /stats: lifetime topic activity ranked by message
// count.
func (h *StatsHandler) HandleStats(c tele.Context) error {
	snapshot := h.stats.Snapshot(c.Chat().ID)
	if len(snapshot) == 0 {
		return c.Reply("Пока нет данных по активности тем.")
	}

	var b strings.Builder
	b.WriteString("<b>Активность тем</b>\n")
	for i, s := range snapshot {
		if i >= 10 {
			break
		}
		fmt.Fprintf(&b, "%d. Тема %d — %d сообщений", i+1, s.TopicID, s.Messages)
		if !s.LastActive.IsZero() {
			fmt.Fprintf(&b, ", активна %s", s.LastActive.Format("15:04 02.01"))
		}
		b.WriteString("\n")
	}
	return c.Reply(b.String())
}

// PublishDailySummary posts the day's activity digest to the summary topic.
// Part of the scheduler's SummaryPublisher contract.
func (h *StatsHandler) PublishDailySummary(ctx context.Context) {
	chatID := h.cfg.Bot.ForumChatID

	// Push pending counters out first so today's messages are included.
	if err := h.stats.Flush(ctx); err != nil {
		log.Warn().Err(err).Msg("Stats flush before daily summary failed")
	}

	dateKey := time.Now().Format("2006-01-02")
	daily, err := h.daily.DailyTotals(ctx, chatID, dateKey)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load daily topic totals")
		return
	}
	if len(daily) == 0 {
		return
	}

	var b strings.Builder
	b.WriteString("<b>Итоги дня: самые активные темы</b>\n")
	for i, s := range daily {
		if i >= 10 {
			break
		}
		fmt.Fprintf(&b, "%d. Тема %d — %d сообщений\n", i+1, s.TopicID, s.Messages)
	}
	if _, err := h.messenger.SendToTopic(chatID, h.cfg.Bot.SummaryTopicID, b.String()); err != nil {
		log.Warn().Err(err).Msg("Failed to post daily summary")
	}
}
