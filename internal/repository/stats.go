package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"telegram-forum-bot/internal/model"
)

// StatsRepository persists per-topic activity counters, partitioned by day.
type StatsRepository struct {
	pool *pgxpool.Pool
}

// NewStatsRepository creates a new StatsRepository instance.
func NewStatsRepository(pool *pgxpool.Pool) *StatsRepository {
	return &StatsRepository{pool: pool}
}

// AddTopicActivity adds a message-count delta to one topic's row for the
// given day key (YYYY-MM-DD).
func (r *StatsRepository) AddTopicActivity(ctx context.Context, chatID, topicID int64, dateKey string, messages int64, lastActive time.Time, lastMessage string) error {
	const query = `
		INSERT INTO topic_stats (chat_id, topic_id, date_key, messages_count, last_active_at, last_message)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (chat_id, topic_id, date_key)
		DO UPDATE SET
			messages_count = topic_stats.messages_count + EXCLUDED.messages_count,
			last_active_at = EXCLUDED.last_active_at,
			last_message = EXCLUDED.last_message
	`
	if _, err := r.pool.Exec(ctx, query, chatID, topicID, dateKey, messages, lastActive, lastMessage); err != nil {
		return fmt.Errorf("failed to add topic activity: %w", err)
	}
	return nil
}

// TopicTotals returns lifetime totals per topic for a chat, ordered by count
// descending, topic ID ascending on ties.
func (r *StatsRepository) TopicTotals(ctx context.Context, chatID int64) ([]model.TopicStat, error) {
	const query = `
		SELECT chat_id, topic_id, SUM(messages_count),
		       MAX(last_active_at),
		       (ARRAY_AGG(last_message ORDER BY last_active_at DESC))[1]
		FROM topic_stats
		WHERE chat_id = $1
		GROUP BY chat_id, topic_id
		ORDER BY SUM(messages_count) DESC, topic_id ASC
	`

	rows, err := r.pool.Query(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to get topic totals: %w", err)
	}
	defer rows.Close()

	var stats []model.TopicStat
	for rows.Next() {
		var s model.TopicStat
		if err := rows.Scan(&s.ChatID, &s.TopicID, &s.Messages, &s.LastActive, &s.LastMessage); err != nil {
			return nil, fmt.Errorf("failed to scan topic stat: %w", err)
		}
		stats = append(stats, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating topic stats: %w", err)
	}

	return stats, nil
}

// DailyTotals returns per-topic counts for one day key.
func (r *StatsRepository) DailyTotals(ctx context.Context, chatID int64, dateKey string) ([]model.TopicStat, error) {
	const query = `
		SELECT chat_id, topic_id, messages_count, last_active_at, last_message
		FROM topic_stats
		WHERE chat_id = $1 AND date_key = $2
		ORDER BY messages_count DESC, topic_id ASC
	`

	rows, err := r.pool.Query(ctx, query, chatID, dateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get daily totals: %w", err)
	}
	defer rows.Close()

	var stats []model.TopicStat
	for rows.Next() {
		var s model.TopicStat
		if err := rows.Scan(&s.ChatID, &s.TopicID, &s.Messages, &s.LastActive, &s.LastMessage); err != nil {
			return nil, fmt.Errorf("failed to scan topic stat: %w", err)
		}
		stats = append(stats, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating topic stats: %w", err)
	}

	return stats, nil
}

// ResetTopicStats removes all stored counters for a chat.
func (r *StatsRepository) ResetTopicStats(ctx context.Context, chatID int64) error {
	const query = `DELETE FROM topic_stats WHERE chat_id = $1`
	if _, err := r.pool.Exec(ctx, query, chatID); err != nil {
		return fmt.Errorf("failed to reset topic stats: %w", err)
	}
	return nil
}
