package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// migrations is the full schema, idempotent and applied in order on every
// startup.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		chat_id BIGINT NOT NULL,
		user_id BIGINT NOT NULL,
		username VARCHAR(255) NOT NULL DEFAULT '',
		balance BIGINT NOT NULL DEFAULT 0,
		games_played BIGINT NOT NULL DEFAULT 0,
		wins BIGINT NOT NULL DEFAULT 0,
		granted_today BIGINT NOT NULL DEFAULT 0,
		last_grant_at TIMESTAMPTZ NOT NULL DEFAULT 'epoch',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (chat_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS strikes (
		id BIGSERIAL PRIMARY KEY,
		chat_id BIGINT NOT NULL,
		user_id BIGINT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		issued_by BIGINT NOT NULL DEFAULT 0,
		issued_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS strikes_chat_user_idx
		ON strikes (chat_id, user_id, issued_at)`,
	`CREATE TABLE IF NOT EXISTS restrictions (
		chat_id BIGINT NOT NULL,
		user_id BIGINT NOT NULL,
		kind VARCHAR(16) NOT NULL,
		muted_until TIMESTAMPTZ NOT NULL DEFAULT 'epoch',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (chat_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS topic_stats (
		chat_id BIGINT NOT NULL,
		topic_id BIGINT NOT NULL,
		date_key VARCHAR(10) NOT NULL,
		messages_count BIGINT NOT NULL DEFAULT 0,
		last_active_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_message TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (chat_id, topic_id, date_key)
	)`,
	`CREATE TABLE IF NOT EXISTS settlements (
		id VARCHAR(36) PRIMARY KEY,
		chat_id BIGINT NOT NULL,
		total BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS escrow (
		chat_id BIGINT NOT NULL,
		user_id BIGINT NOT NULL,
		amount BIGINT NOT NULL,
		reserved_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (chat_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id BIGSERIAL PRIMARY KEY,
		settlement_id VARCHAR(36) REFERENCES settlements(id) ON DELETE CASCADE,
		chat_id BIGINT NOT NULL,
		user_id BIGINT NOT NULL,
		amount BIGINT NOT NULL,
		type VARCHAR(50) NOT NULL,
		description TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// Migrate applies the schema.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range migrations {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	log.Info().Int("statements", len(migrations)).Msg("Database schema up to date")
	return nil
}
