// Package repository provides data access layer implementations.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"telegram-forum-bot/internal/model"
)

// Common errors for repository operations.
var (
	ErrUserNotFound        = errors.New("user not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrDailyCapReached     = errors.New("daily grant cap reached")
)

const userColumns = `chat_id, user_id, username, balance, games_played, wins,
	granted_today, last_grant_at, created_at, updated_at`

// UserRepository handles game account persistence. Accounts are scoped per
// forum chat: the same person in two chats has two independent balances.
type UserRepository struct {
	pool         *pgxpool.Pool
	initialCoins int64
}

// NewUserRepository creates a new UserRepository instance. New accounts
// start with initialCoins on the balance.
func NewUserRepository(pool *pgxpool.Pool, initialCoins int64) *UserRepository {
	return &UserRepository{pool: pool, initialCoins: initialCoins}
}

func scanUser(row pgx.Row) (*model.User, error) {
	var user model.User
	err := row.Scan(
		&user.ChatID,
		&user.UserID,
		&user.Username,
		&user.Balance,
		&user.GamesPlayed,
		&user.Wins,
		&user.GrantedToday,
		&user.LastGrantAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Get retrieves an account. Returns ErrUserNotFound if it does not exist.
func (r *UserRepository) Get(ctx context.Context, chatID, userID int64) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE chat_id = $1 AND user_id = $2`

	user, err := scanUser(r.pool.QueryRow(ctx, query, chatID, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetOrCreate retrieves an account, creating one with the initial balance on
// first contact. The upsert also refreshes the stored username, so a rename
// is picked up on the user's next message.
func (r *UserRepository) GetOrCreate(ctx context.Context, chatID, userID int64, username string) (*model.User, error) {
	query := `
		INSERT INTO users (chat_id, user_id, username, balance, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (chat_id, user_id)
		DO UPDATE SET username = EXCLUDED.username, updated_at = NOW()
		RETURNING ` + userColumns

	user, err := scanUser(r.pool.QueryRow(ctx, query, chatID, userID, username, r.initialCoins))
	if err != nil {
		return nil, fmt.Errorf("failed to get or create user: %w", err)
	}
	return user, nil
}

// Reserve moves amount from the balance into escrow. The deduction is
// conditional in SQL, so two concurrent reserves can never overdraw the
// account, and the escrow row survives a restart so an unsettled wager can
// be refunded. Returns ErrInsufficientBalance when the balance does not
// cover the amount.
func (r *UserRepository) Reserve(ctx context.Context, chatID, userID, amount int64) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	const debitQuery = `
		UPDATE users
		SET balance = balance - $3, updated_at = NOW()
		WHERE chat_id = $1 AND user_id = $2 AND balance >= $3
	`
	result, err := tx.Exec(ctx, debitQuery, chatID, userID, amount)
	if err != nil {
		return fmt.Errorf("failed to reserve balance: %w", err)
	}
	if result.RowsAffected() == 0 {
		// Either the account is missing or the balance is short.
		if _, err := r.Get(ctx, chatID, userID); err != nil {
			return err
		}
		return ErrInsufficientBalance
	}

	// A double adds to the seat's existing reservation.
	const escrowQuery = `
		INSERT INTO escrow (chat_id, user_id, amount, reserved_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (chat_id, user_id)
		DO UPDATE SET amount = escrow.amount + EXCLUDED.amount, reserved_at = NOW()
	`
	if _, err := tx.Exec(ctx, escrowQuery, chatID, userID, amount); err != nil {
		return fmt.Errorf("failed to record escrow: %w", err)
	}

	const ledgerQuery = `
		INSERT INTO transactions (chat_id, user_id, amount, type, description, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`
	if _, err := tx.Exec(ctx, ledgerQuery, chatID, userID, -amount, model.TxTypeEscrow, "ставка за столом"); err != nil {
		return fmt.Errorf("failed to record escrow transaction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit reserve: %w", err)
	}
	return nil
}

// Grant credits coins from an admin, enforcing the per-day cap. The counter
// resets when the last grant was on an earlier calendar day. Every grant
// leaves a transactions ledger row.
func (r *UserRepository) Grant(ctx context.Context, chatID, userID, amount, dailyCap int64) (*model.User, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	const query = `
		UPDATE users
		SET balance = balance + $3,
		    granted_today = CASE
		        WHEN last_grant_at::date < CURRENT_DATE THEN $3
		        ELSE granted_today + $3
		    END,
		    last_grant_at = NOW(),
		    updated_at = NOW()
		WHERE chat_id = $1 AND user_id = $2
		  AND (last_grant_at::date < CURRENT_DATE OR granted_today + $3 <= $4)
		RETURNING ` + userColumns

	user, err := scanUser(tx.QueryRow(ctx, query, chatID, userID, amount, dailyCap))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, getErr := r.Get(ctx, chatID, userID); getErr != nil {
				return nil, getErr
			}
			return nil, ErrDailyCapReached
		}
		return nil, fmt.Errorf("failed to grant coins: %w", err)
	}

	const ledgerQuery = `
		INSERT INTO transactions (chat_id, user_id, amount, type, description, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`
	if _, err := tx.Exec(ctx, ledgerQuery, chatID, userID, amount, model.TxTypeAdminGrant, "начисление от администратора"); err != nil {
		return nil, fmt.Errorf("failed to record grant transaction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit grant: %w", err)
	}
	return user, nil
}

// RecordOutcome bumps the games-played counter, and the win counter when the
// hand was won.
func (r *UserRepository) RecordOutcome(ctx context.Context, chatID, userID int64, won bool) error {
	const query = `
		UPDATE users
		SET games_played = games_played + 1,
		    wins = wins + CASE WHEN $3 THEN 1 ELSE 0 END,
		    updated_at = NOW()
		WHERE chat_id = $1 AND user_id = $2
	`

	result, err := r.pool.Exec(ctx, query, chatID, userID, won)
	if err != nil {
		return fmt.Errorf("failed to record outcome: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// GetTopUsers retrieves the chat's top accounts by balance, wins as the
// tiebreak.
func (r *UserRepository) GetTopUsers(ctx context.Context, chatID int64, limit int) ([]*model.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE chat_id = $1
		ORDER BY balance DESC, wins DESC, user_id ASC
		LIMIT $2
	`
	return r.listTop(ctx, query, chatID, limit)
}

// GetTopUsersByGames retrieves the chat's most active players by hands
// played, wins as the tiebreak.
func (r *UserRepository) GetTopUsersByGames(ctx context.Context, chatID int64, limit int) ([]*model.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE chat_id = $1
		ORDER BY games_played DESC, wins DESC, user_id ASC
		LIMIT $2
	`
	return r.listTop(ctx, query, chatID, limit)
}

func (r *UserRepository) listTop(ctx context.Context, query string, chatID int64, limit int) ([]*model.User, error) {
	rows, err := r.pool.Query(ctx, query, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get top users: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}

	return users, nil
}
