package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"telegram-forum-bot/internal/model"
)

// ModerationRepository persists strikes and restrictions. Strikes live as
// individual rows so aged ones can be pruned; the restriction is a single
// upserted row per (chat, user).
type ModerationRepository struct {
	pool *pgxpool.Pool
}

// NewModerationRepository creates a new ModerationRepository instance.
func NewModerationRepository(pool *pgxpool.Pool) *ModerationRepository {
	return &ModerationRepository{pool: pool}
}

// Record assembles the conduct record for one user. A user with no rows
// reads as a clean record.
func (r *ModerationRepository) Record(ctx context.Context, chatID, userID int64) (model.ModerationRecord, error) {
	record := model.ModerationRecord{
		ChatID:      chatID,
		UserID:      userID,
		Restriction: model.RestrictionNone,
	}

	const strikesQuery = `
		SELECT COUNT(*), COALESCE(MAX(issued_at), 'epoch'::timestamptz)
		FROM strikes
		WHERE chat_id = $1 AND user_id = $2
	`
	err := r.pool.QueryRow(ctx, strikesQuery, chatID, userID).Scan(&record.StrikeCount, &record.LastStrikeAt)
	if err != nil {
		return model.ModerationRecord{}, fmt.Errorf("failed to count strikes: %w", err)
	}

	const restrictionQuery = `
		SELECT kind, muted_until
		FROM restrictions
		WHERE chat_id = $1 AND user_id = $2
	`
	err = r.pool.QueryRow(ctx, restrictionQuery, chatID, userID).Scan(&record.Restriction, &record.MutedUntil)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return model.ModerationRecord{}, fmt.Errorf("failed to get restriction: %w", err)
	}

	return record, nil
}

// AddStrike prunes strikes issued before discardBefore, inserts a new one
// and returns the resulting count, all in one transaction so a concurrent
// reader never sees the strike without the prune.
func (r *ModerationRepository) AddStrike(ctx context.Context, chatID, userID int64, reason string, issuedBy int64, at, discardBefore time.Time) (int, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	const pruneQuery = `DELETE FROM strikes WHERE chat_id = $1 AND user_id = $2 AND issued_at < $3`
	if _, err := tx.Exec(ctx, pruneQuery, chatID, userID, discardBefore); err != nil {
		return 0, fmt.Errorf("failed to prune aged strikes: %w", err)
	}

	const insertQuery = `
		INSERT INTO strikes (chat_id, user_id, reason, issued_by, issued_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := tx.Exec(ctx, insertQuery, chatID, userID, reason, issuedBy, at); err != nil {
		return 0, fmt.Errorf("failed to insert strike: %w", err)
	}

	var count int
	const countQuery = `SELECT COUNT(*) FROM strikes WHERE chat_id = $1 AND user_id = $2`
	if err := tx.QueryRow(ctx, countQuery, chatID, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count strikes: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit strike: %w", err)
	}
	return count, nil
}

// ClearStrikes removes every strike for the user.
func (r *ModerationRepository) ClearStrikes(ctx context.Context, chatID, userID int64) error {
	const query = `DELETE FROM strikes WHERE chat_id = $1 AND user_id = $2`
	if _, err := r.pool.Exec(ctx, query, chatID, userID); err != nil {
		return fmt.Errorf("failed to clear strikes: %w", err)
	}
	return nil
}

// SetRestriction upserts the user's restriction row. RestrictionNone clears
// the row entirely.
func (r *ModerationRepository) SetRestriction(ctx context.Context, chatID, userID int64, kind model.RestrictionKind, until time.Time) error {
	if kind == model.RestrictionNone {
		const query = `DELETE FROM restrictions WHERE chat_id = $1 AND user_id = $2`
		if _, err := r.pool.Exec(ctx, query, chatID, userID); err != nil {
			return fmt.Errorf("failed to clear restriction: %w", err)
		}
		return nil
	}

	const query = `
		INSERT INTO restrictions (chat_id, user_id, kind, muted_until, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (chat_id, user_id)
		DO UPDATE SET kind = EXCLUDED.kind, muted_until = EXCLUDED.muted_until, updated_at = NOW()
	`
	if _, err := r.pool.Exec(ctx, query, chatID, userID, kind, until); err != nil {
		return fmt.Errorf("failed to set restriction: %w", err)
	}
	return nil
}
