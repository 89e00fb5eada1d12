// Package model defines the data models shared across the forum bot.
package model

import "time"

// UserKey identifies all per-user state inside a single forum chat.
type UserKey struct {
	ChatID int64
	UserID int64
}

// User represents a forum member's game account.
type User struct {
	ChatID       int64     `db:"chat_id"`
	UserID       int64     `db:"user_id"`
	Username     string    `db:"username"`
	Balance      int64     `db:"balance"`
	GamesPlayed  int64     `db:"games_played"`
	Wins         int64     `db:"wins"`
	GrantedToday int64     `db:"granted_today"`
	LastGrantAt  time.Time `db:"last_grant_at"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// RestrictionKind describes the active limitation on a user's posting rights.
type RestrictionKind string

const (
	RestrictionNone  RestrictionKind = "none"
	RestrictionMuted RestrictionKind = "muted"
	RestrictionBan   RestrictionKind = "banned"
)

// ModerationRecord is the durable conduct record for one (chat, user) pair.
// It is never deleted, only reset by an explicit admin command.
type ModerationRecord struct {
	ChatID       int64           `db:"chat_id"`
	UserID       int64           `db:"user_id"`
	StrikeCount  int             `db:"strike_count"`
	Restriction  RestrictionKind `db:"restriction"`
	MutedUntil   time.Time       `db:"muted_until"`
	LastStrikeAt time.Time       `db:"last_strike_at"`
}

// Restricted reports whether the record limits posting at the given instant.
// Mute expiry is lazy: an expired mute reads as unrestricted without any
// explicit expiry write.
func (r ModerationRecord) Restricted(now time.Time) bool {
	switch r.Restriction {
	case RestrictionBan:
		return true
	case RestrictionMuted:
		return now.Before(r.MutedUntil)
	default:
		return false
	}
}

// TopicStat holds activity counters for one forum topic.
type TopicStat struct {
	ChatID      int64     `db:"chat_id"`
	TopicID     int64     `db:"topic_id"`
	Messages    int64     `db:"messages_count"`
	LastActive  time.Time `db:"last_active_at"`
	LastMessage string    `db:"last_message"`
}

// BalanceChange is one balance adjustment inside a settlement batch.
type BalanceChange struct {
	UserID      int64
	Amount      int64
	Type        string
	Description string
}

// Resolution is the atomic settlement batch produced when a game table
// resolves or aborts. Applying the same resolution twice must be a no-op.
type Resolution struct {
	ID      string
	ChatID  int64
	Changes []BalanceChange
}

// Total returns the sum of all balance adjustments in the batch.
func (r Resolution) Total() int64 {
	var total int64
	for _, c := range r.Changes {
		total += c.Amount
	}
	return total
}

// Balance change types for categorizing adjustments.
const (
	TxTypeEscrow     = "bj_escrow"   // Wager reserved when joining a table
	TxTypeWin        = "bj_win"      // Winning hand payout
	TxTypePush       = "bj_push"     // Push, wager returned
	TxTypeRefund     = "bj_refund"   // Table aborted, wager returned
	TxTypeAdminGrant = "admin_grant" // Admin coin grant
)
