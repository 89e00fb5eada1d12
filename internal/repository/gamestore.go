package repository

import (
	"context"
	"errors"

	"telegram-forum-bot/internal/game/blackjack"
	"telegram-forum-bot/internal/model"
)

// GameStore adapts the user and settlement repositories to the game
// engine's persistence boundary, translating repository errors into the
// sentinels the engine matches on.
type GameStore struct {
	users       *UserRepository
	settlements *SettlementRepository
}

// NewGameStore creates the game engine's store over the repositories.
func NewGameStore(users *UserRepository, settlements *SettlementRepository) *GameStore {
	return &GameStore{users: users, settlements: settlements}
}

func (s *GameStore) Reserve(ctx context.Context, chatID, userID, amount int64) error {
	err := s.users.Reserve(ctx, chatID, userID, amount)
	if errors.Is(err, ErrInsufficientBalance) {
		return blackjack.ErrInsufficientFunds
	}
	return err
}

func (s *GameStore) ApplyResolution(ctx context.Context, res model.Resolution) (bool, error) {
	return s.settlements.ApplyResolution(ctx, res)
}

func (s *GameStore) RecordOutcome(ctx context.Context, chatID, userID int64, won bool) error {
	return s.users.RecordOutcome(ctx, chatID, userID, won)
}
