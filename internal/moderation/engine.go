// Package moderation implements the strike, mute and ban escalation state
// machine for forum members.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"telegram-forum-bot/internal/flood"
	"telegram-forum-bot/internal/model"
	"telegram-forum-bot/internal/pkg/keylock"
)

// Moderation errors.
var (
	// ErrBanned is returned when a strike is applied to an already banned user.
	ErrBanned = errors.New("user is banned")
)

// Escalation describes the restriction change caused by a strike.
type Escalation int

const (
	EscalationNone Escalation = iota
	EscalationMute
	EscalationBan
)

func (e Escalation) String() string {
	switch e {
	case EscalationMute:
		return "mute"
	case EscalationBan:
		return "ban"
	default:
		return "none"
	}
}

// StrikeResult reports the state after a strike was applied.
type StrikeResult struct {
	Count      int
	Escalation Escalation
	MutedUntil time.Time
}

// Store is the persistence boundary for moderation records. A missing record
// reads as a clean one; write failures surface to the caller so the admin is
// told the command did not apply.
type Store interface {
	Record(ctx context.Context, chatID, userID int64) (model.ModerationRecord, error)

	// AddStrike discards strikes older than discardBefore, records a new one
	// and returns the resulting count.
	AddStrike(ctx context.Context, chatID, userID int64, reason string, issuedBy int64, at, discardBefore time.Time) (int, error)

	ClearStrikes(ctx context.Context, chatID, userID int64) error
	SetRestriction(ctx context.Context, chatID, userID int64, kind model.RestrictionKind, until time.Time) error
}

// Config holds the escalation thresholds.
type Config struct {
	MuteThreshold   int
	BanThreshold    int
	MuteDuration    time.Duration
	StrikeTTL       time.Duration
	FloodMute       time.Duration
	FloodMuteRepeat time.Duration
}

// Engine owns all per-user moderation state. Every mutation goes through the
// per-key lock, so two strikes for the same user are strictly serialized
// while unrelated users proceed independently.
type Engine struct {
	store Store
	cfg   Config
	locks *keylock.Map[model.UserKey]
	now   func() time.Time
}

// NewEngine creates a moderation engine over the given store. The clock is
// injected so tests can control expiry.
func NewEngine(store Store, cfg Config, now func() time.Time) *Engine {
	return &Engine{
		store: store,
		cfg:   cfg,
		locks: keylock.New[model.UserKey](),
		now:   now,
	}
}

// ApplyStrike records one strike and escalates when a threshold is crossed.
// Banned users accrue no further strikes. Every call is a new strike by
// design; duplicate prevention belongs to the triggering event.
func (e *Engine) ApplyStrike(ctx context.Context, chatID, userID int64, reason string, issuedBy int64) (StrikeResult, error) {
	key := model.UserKey{ChatID: chatID, UserID: userID}
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	return e.applyStrikeLocked(ctx, chatID, userID, reason, issuedBy)
}

func (e *Engine) applyStrikeLocked(ctx context.Context, chatID, userID int64, reason string, issuedBy int64) (StrikeResult, error) {
	rec, err := e.store.Record(ctx, chatID, userID)
	if err != nil {
		return StrikeResult{}, fmt.Errorf("failed to load moderation record: %w", err)
	}
	if rec.Restriction == model.RestrictionBan {
		return StrikeResult{}, ErrBanned
	}

	now := e.now()
	count, err := e.store.AddStrike(ctx, chatID, userID, reason, issuedBy, now, now.Add(-e.cfg.StrikeTTL))
	if err != nil {
		return StrikeResult{}, fmt.Errorf("failed to record strike: %w", err)
	}

	result := StrikeResult{Count: count}
	switch {
	case count >= e.cfg.BanThreshold:
		if err := e.store.SetRestriction(ctx, chatID, userID, model.RestrictionBan, time.Time{}); err != nil {
			return StrikeResult{}, fmt.Errorf("failed to apply ban: %w", err)
		}
		result.Escalation = EscalationBan
	case count >= e.cfg.MuteThreshold:
		until := now.Add(e.cfg.MuteDuration)
		if err := e.store.SetRestriction(ctx, chatID, userID, model.RestrictionMuted, until); err != nil {
			return StrikeResult{}, fmt.Errorf("failed to apply mute: %w", err)
		}
		result.Escalation = EscalationMute
		result.MutedUntil = until
	}

	log.Info().
		Int64("chat_id", chatID).
		Int64("user_id", userID).
		Str("reason", reason).
		Int("strikes", count).
		Str("escalation", result.Escalation.String()).
		Msg("Strike applied")

	return result, nil
}

// ApplyFloodVerdict maps a flood verdict onto moderation state. A warn is
// logged only; a flood becomes a strike with a synthetic reason plus a short
// direct mute, longer when the user already flooded within the past hour.
// The applied return is false when no state changed.
func (e *Engine) ApplyFloodVerdict(ctx context.Context, chatID, userID int64, verdict flood.Verdict, repeat bool) (StrikeResult, bool, error) {
	switch verdict {
	case flood.VerdictWarn:
		log.Warn().
			Int64("chat_id", chatID).
			Int64("user_id", userID).
			Msg("User approaching flood threshold")
		return StrikeResult{}, false, nil
	case flood.VerdictFlood:
	default:
		return StrikeResult{}, false, nil
	}

	key := model.UserKey{ChatID: chatID, UserID: userID}
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	result, err := e.applyStrikeLocked(ctx, chatID, userID, "flood", 0)
	if err != nil {
		return StrikeResult{}, false, err
	}

	// Below the mute threshold the flood itself still earns a cool-down mute.
	if result.Escalation == EscalationNone {
		duration := e.cfg.FloodMute
		if repeat {
			duration = e.cfg.FloodMuteRepeat
		}
		until := e.now().Add(duration)
		if err := e.store.SetRestriction(ctx, chatID, userID, model.RestrictionMuted, until); err != nil {
			return StrikeResult{}, false, fmt.Errorf("failed to apply flood mute: %w", err)
		}
		result.Escalation = EscalationMute
		result.MutedUntil = until
	}

	return result, true, nil
}

// Mute applies or extends a mute. Re-muting an already muted user simply
// replaces the expiry.
func (e *Engine) Mute(ctx context.Context, chatID, userID int64, duration time.Duration, issuedBy int64) (time.Time, error) {
	key := model.UserKey{ChatID: chatID, UserID: userID}
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	until := e.now().Add(duration)
	if err := e.store.SetRestriction(ctx, chatID, userID, model.RestrictionMuted, until); err != nil {
		return time.Time{}, fmt.Errorf("failed to mute: %w", err)
	}

	log.Info().
		Int64("chat_id", chatID).
		Int64("user_id", userID).
		Int64("admin_id", issuedBy).
		Time("until", until).
		Msg("User muted")

	return until, nil
}

// Ban permanently restricts the user. Banning a banned user is a no-op.
func (e *Engine) Ban(ctx context.Context, chatID, userID, issuedBy int64) error {
	key := model.UserKey{ChatID: chatID, UserID: userID}
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	if err := e.store.SetRestriction(ctx, chatID, userID, model.RestrictionBan, time.Time{}); err != nil {
		return fmt.Errorf("failed to ban: %w", err)
	}

	log.Info().
		Int64("chat_id", chatID).
		Int64("user_id", userID).
		Int64("admin_id", issuedBy).
		Msg("User banned")

	return nil
}

// ClearRestriction lifts any active mute or ban, returning the kind that was
// cleared. RestrictionNone means the user was not restricted; that is a
// signal, not a failure.
func (e *Engine) ClearRestriction(ctx context.Context, chatID, userID, issuedBy int64) (model.RestrictionKind, error) {
	key := model.UserKey{ChatID: chatID, UserID: userID}
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	rec, err := e.store.Record(ctx, chatID, userID)
	if err != nil {
		return model.RestrictionNone, fmt.Errorf("failed to load moderation record: %w", err)
	}
	if !rec.Restricted(e.now()) {
		return model.RestrictionNone, nil
	}

	if err := e.store.SetRestriction(ctx, chatID, userID, model.RestrictionNone, time.Time{}); err != nil {
		return model.RestrictionNone, fmt.Errorf("failed to clear restriction: %w", err)
	}

	log.Info().
		Int64("chat_id", chatID).
		Int64("user_id", userID).
		Int64("admin_id", issuedBy).
		Str("kind", string(rec.Restriction)).
		Msg("Restriction cleared")

	return rec.Restriction, nil
}

// ResetStrikes wipes the strike count and any active restriction. Admin-only.
func (e *Engine) ResetStrikes(ctx context.Context, chatID, userID, issuedBy int64) error {
	key := model.UserKey{ChatID: chatID, UserID: userID}
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	if err := e.store.ClearStrikes(ctx, chatID, userID); err != nil {
		return fmt.Errorf("failed to clear strikes: %w", err)
	}
	if err := e.store.SetRestriction(ctx, chatID, userID, model.RestrictionNone, time.Time{}); err != nil {
		return fmt.Errorf("failed to clear restriction: %w", err)
	}

	log.Info().
		Int64("chat_id", chatID).
		Int64("user_id", userID).
		Int64("admin_id", issuedBy).
		Msg("Strikes reset")

	return nil
}

// IsRestricted is the single read path for enforcement. Mute expiry is lazy:
// an expired mute reads as unrestricted without any explicit expiry call.
func (e *Engine) IsRestricted(ctx context.Context, chatID, userID int64, now time.Time) (bool, error) {
	key := model.UserKey{ChatID: chatID, UserID: userID}
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	rec, err := e.store.Record(ctx, chatID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to load moderation record: %w", err)
	}
	return rec.Restricted(now), nil
}
