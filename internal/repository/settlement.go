package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"telegram-forum-bot/internal/model"
)

// SettlementRepository commits game settlement batches. The batch identity
// row and every balance credit land in one transaction, so a crash between
// them is impossible and a replayed batch is detected by the primary key.
type SettlementRepository struct {
	pool *pgxpool.Pool
}

// NewSettlementRepository creates a new SettlementRepository instance.
func NewSettlementRepository(pool *pgxpool.Pool) *SettlementRepository {
	return &SettlementRepository{pool: pool}
}

// ApplyResolution applies all balance changes of a resolution atomically.
// Returns (false, nil) without touching any balance when the resolution ID
// was already committed.
func (r *SettlementRepository) ApplyResolution(ctx context.Context, res model.Resolution) (bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	const markQuery = `
		INSERT INTO settlements (id, chat_id, total, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (id) DO NOTHING
	`
	result, err := tx.Exec(ctx, markQuery, res.ID, res.ChatID, res.Total())
	if err != nil {
		return false, fmt.Errorf("failed to record settlement: %w", err)
	}
	if result.RowsAffected() == 0 {
		// Already committed, nothing to redo.
		return false, nil
	}

	const creditQuery = `
		UPDATE users
		SET balance = balance + $3, updated_at = NOW()
		WHERE chat_id = $1 AND user_id = $2
	`
	const ledgerQuery = `
		INSERT INTO transactions (settlement_id, chat_id, user_id, amount, type, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`
	for _, ch := range res.Changes {
		if _, err := tx.Exec(ctx, creditQuery, res.ChatID, ch.UserID, ch.Amount); err != nil {
			return false, fmt.Errorf("failed to apply balance change: %w", err)
		}
		if _, err := tx.Exec(ctx, ledgerQuery, res.ID, res.ChatID, ch.UserID, ch.Amount, ch.Type, ch.Description); err != nil {
			return false, fmt.Errorf("failed to record transaction: %w", err)
		}
	}

	// The chat runs one table at a time, so settling it releases every
	// escrow row the table's reserves created.
	if _, err := tx.Exec(ctx, `DELETE FROM escrow WHERE chat_id = $1`, res.ChatID); err != nil {
		return false, fmt.Errorf("failed to release escrow: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit settlement: %w", err)
	}
	return true, nil
}

// ReleaseAbandonedEscrow refunds every escrow row back to its owner. Run at
// startup: tables live in memory, so wagers reserved before a crash have no
// table left to settle them. Returns the number of refunded reservations.
func (r *SettlementRepository) ReleaseAbandonedEscrow(ctx context.Context) (int, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	const refundQuery = `
		UPDATE users
		SET balance = users.balance + escrow.amount, updated_at = NOW()
		FROM escrow
		WHERE users.chat_id = escrow.chat_id AND users.user_id = escrow.user_id
	`
	if _, err := tx.Exec(ctx, refundQuery); err != nil {
		return 0, fmt.Errorf("failed to refund escrow: %w", err)
	}

	const ledgerQuery = `
		INSERT INTO transactions (chat_id, user_id, amount, type, description, created_at)
		SELECT chat_id, user_id, amount, $1, 'возврат ставки после перезапуска', NOW()
		FROM escrow
	`
	if _, err := tx.Exec(ctx, ledgerQuery, model.TxTypeRefund); err != nil {
		return 0, fmt.Errorf("failed to record escrow refunds: %w", err)
	}

	result, err := tx.Exec(ctx, `DELETE FROM escrow`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear escrow: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit escrow release: %w", err)
	}
	return int(result.RowsAffected()), nil
}
