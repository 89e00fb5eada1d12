package handler

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"telegram-forum-bot/internal/config"
	"telegram-forum-bot/internal/game/blackjack"
	"telegram-forum-bot/internal/model"
)

func newTestHandler(minWager, maxWager int64) *GameHandler {
	cfg := &config.Config{}
	cfg.Game.MinWager = minWager
	cfg.Game.MaxWager = maxWager
	return NewGameHandler(cfg, nil, nil, nil, nil, nil)
}

func TestSplitCallback(t *testing.T) {
	action, arg := splitCallback("bj_join|25")
	assert.Equal(t, "bj_join", action)
	assert.Equal(t, "25", arg)

	action, arg = splitCallback("bj_hit")
	assert.Equal(t, "bj_hit", action)
	assert.Equal(t, "", arg)
}

func TestJoinWagers(t *testing.T) {
	h := newTestHandler(10, 50)
	assert.Equal(t, []int64{10, 30, 50}, h.joinWagers())

	// Degenerate range collapses duplicates.
	h = newTestHandler(5, 5)
	assert.Equal(t, []int64{5}, h.joinWagers())
}

func TestPayoutNote(t *testing.T) {
	assert.Equal(t, "-10 монет", payoutNote(blackjack.Outcome{Wager: 10, Payout: 0}))
	assert.Equal(t, "+10 монет", payoutNote(blackjack.Outcome{Wager: 10, Payout: 20}))
	assert.Equal(t, "+15 монет", payoutNote(blackjack.Outcome{Wager: 10, Payout: 25}))
	assert.Equal(t, "ставка возвращена", payoutNote(blackjack.Outcome{Wager: 10, Payout: 10}))
}

func TestRenderTableJoining(t *testing.T) {
	h := newTestHandler(10, 50)
	snap := blackjack.Snapshot{
		State:      blackjack.StateJoining,
		DeadlineAt: time.Date(2026, 1, 2, 12, 0, 45, 0, time.UTC),
		Seats: []blackjack.SeatView{
			{UserID: 1, Username: "alice", Wager: 10},
		},
	}
	out := h.renderTable(snap)
	assert.Contains(t, out, "alice — ставка 10")
	assert.Contains(t, out, "12:00:45")
}

func TestRenderTablePlayingHidesDealerHoleCard(t *testing.T) {
	h := newTestHandler(10, 50)
	snap := blackjack.Snapshot{
		State:      blackjack.StatePlaying,
		HideDealer: true,
		Dealer:     []blackjack.Card{{Rank: blackjack.King, Suit: blackjack.Spades}},
		TurnUserID: 2,
		DeadlineAt: time.Date(2026, 1, 2, 12, 2, 0, 0, time.UTC),
		Seats: []blackjack.SeatView{
			{UserID: 1, Username: "alice", Value: 18, Status: blackjack.SeatStood},
			{UserID: 2, Username: "bob", Value: 12, Status: blackjack.SeatActive},
		},
	}
	out := h.renderTable(snap)
	assert.Contains(t, out, "Дилер: "+snap.Dealer[0].String()+" ?")
	assert.Contains(t, out, "bob")
	assert.Contains(t, out, "← ход")
	assert.Contains(t, out, "хватит")
	// Only the current seat carries the turn marker.
	assert.Equal(t, 1, strings.Count(out, "← ход"))
}

func TestRenderLeaderboard(t *testing.T) {
	h := newTestHandler(10, 50)

	byCoins := []*model.User{
		{UserID: 1, Username: "alice", Balance: 150, Wins: 3, GamesPlayed: 4},
		{UserID: 2, Balance: 90, Wins: 1, GamesPlayed: 9},
	}
	byGames := []*model.User{
		{UserID: 2, Balance: 90, Wins: 1, GamesPlayed: 9},
		{UserID: 1, Username: "alice", Balance: 150, Wins: 3, GamesPlayed: 4},
	}
	out := h.renderLeaderboard(byCoins, byGames)
	assert.Contains(t, out, "По монетам:")
	assert.Contains(t, out, "1. alice — 150 монет (побед: 3)")
	assert.Contains(t, out, "2. 2 — 90 монет (побед: 1)")
	assert.Contains(t, out, "По сыгранным играм:")
	assert.Contains(t, out, "1. 2 — игр: 9 (побед: 1)")
	assert.Contains(t, out, "2. alice — игр: 4 (побед: 3)")
}
