package blackjack

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telegram-forum-bot/internal/model"
)

var errStoreDown = errors.New("store down")

// memStore is an in-memory Store with per-user balances and a record of
// every committed resolution.
type memStore struct {
	mu          sync.Mutex
	balances    map[int64]int64
	applied     map[string]model.Resolution
	games       map[int64]int
	wins        map[int64]int
	failApplies int
	applyCalls  int
}

func newMemStore(balances map[int64]int64) *memStore {
	return &memStore{
		balances: balances,
		applied:  make(map[string]model.Resolution),
		games:    make(map[int64]int),
		wins:     make(map[int64]int),
	}
}

func (m *memStore) Reserve(_ context.Context, _, userID, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.balances[userID] < amount {
		return ErrInsufficientFunds
	}
	m.balances[userID] -= amount
	return nil
}

func (m *memStore) ApplyResolution(_ context.Context, res model.Resolution) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyCalls++
	if m.failApplies > 0 {
		m.failApplies--
		return false, errStoreDown
	}
	if _, ok := m.applied[res.ID]; ok {
		return false, nil
	}
	for _, ch := range res.Changes {
		m.balances[ch.UserID] += ch.Amount
	}
	m.applied[res.ID] = res
	return true, nil
}

func (m *memStore) RecordOutcome(_ context.Context, _, userID int64, won bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.games[userID]++
	if won {
		m.wins[userID]++
	}
	return nil
}

func (m *memStore) balance(userID int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[userID]
}

func (m *memStore) resolutions() []model.Resolution {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Resolution, 0, len(m.applied))
	for _, res := range m.applied {
		out = append(out, res)
	}
	return out
}

func testEngine(store Store) (*Engine, time.Time) {
	base := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	eng := NewEngine(store, Config{
		JoinWindow:   45 * time.Second,
		TurnDeadline: 90 * time.Second,
		MinWager:     1,
		MaxWager:     50,
		Seed:         1,
	}, func() time.Time { return base })
	return eng, base
}

// stackDeck makes the engine deal the given cards in order, padded with a
// shuffled deck so draws never run dry.
func stackDeck(eng *Engine, cards ...Card) {
	eng.newDeck = func(*rand.Rand) []Card {
		deck := make([]Card, len(cards), len(cards)+52)
		copy(deck, cards)
		return append(deck, NewDeck(rand.New(rand.NewSource(99)))...)
	}
}

func card(r Rank) Card { return Card{Rank: r, Suit: Spades} }

func TestOpenAndJoinValidation(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(map[int64]int64{1: 100, 2: 3})
	eng, _ := testEngine(store)

	snap, err := eng.Open(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, StateJoining, snap.State)

	_, err = eng.Open(ctx, 10)
	assert.ErrorIs(t, err, ErrAlreadyActive)

	_, err = eng.Join(ctx, 10, 1, "alice", 0)
	assert.ErrorIs(t, err, ErrInvalidWager)
	_, err = eng.Join(ctx, 10, 1, "alice", 51)
	assert.ErrorIs(t, err, ErrInvalidWager)

	_, err = eng.Join(ctx, 99, 1, "alice", 10)
	assert.ErrorIs(t, err, ErrNoTable)

	snap, err = eng.Join(ctx, 10, 1, "alice", 10)
	require.NoError(t, err)
	require.Len(t, snap.Seats, 1)
	assert.Equal(t, int64(90), store.balance(1))

	_, err = eng.Join(ctx, 10, 1, "alice", 10)
	assert.ErrorIs(t, err, ErrAlreadySeated)
	assert.Equal(t, int64(90), store.balance(1), "failed join must not re-debit")

	_, err = eng.Join(ctx, 10, 2, "bob", 10)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, int64(3), store.balance(2))

	_, err = eng.Apply(ctx, 99, 1, ActionStand)
	assert.ErrorIs(t, err, ErrNoTable)
}

func TestBustedPlayersLoseEscrow(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(map[int64]int64{1: 100, 2: 100})
	eng, _ := testEngine(store)
	stackDeck(eng,
		card(Ten), card(Six), // alice 16
		card(Nine), card(Seven), // bob 16
		card(Ten), card(Seven), // dealer 17
		card(King), card(Queen), // both hits bust
	)

	_, err := eng.Open(ctx, 10)
	require.NoError(t, err)
	_, err = eng.Join(ctx, 10, 1, "alice", 10)
	require.NoError(t, err)
	_, err = eng.Join(ctx, 10, 2, "bob", 20)
	require.NoError(t, err)

	snap, err := eng.Deal(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, StatePlaying, snap.State)
	assert.Equal(t, int64(1), snap.TurnUserID)
	assert.True(t, snap.HideDealer)

	_, err = eng.Apply(ctx, 10, 1, ActionHit)
	require.NoError(t, err)

	snap, err = eng.Apply(ctx, 10, 2, ActionHit)
	require.NoError(t, err)
	require.Len(t, snap.Outcomes, 2)
	for _, o := range snap.Outcomes {
		assert.Equal(t, ResultLose, o.Result)
		assert.Zero(t, o.Payout)
	}

	assert.Equal(t, int64(90), store.balance(1))
	assert.Equal(t, int64(80), store.balance(2))

	resolutions := store.resolutions()
	require.Len(t, resolutions, 1)
	assert.Empty(t, resolutions[0].Changes, "lost escrow is simply not refunded")

	assert.Equal(t, StateIdle, eng.State(10))
	assert.Equal(t, 1, store.games[1])
	assert.Zero(t, store.wins[1])
}

func TestPushRefundsWager(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(map[int64]int64{1: 100})
	eng, _ := testEngine(store)
	stackDeck(eng,
		card(Ten), card(Eight), // player 18
		card(Ten), card(Eight), // dealer 18
	)

	_, err := eng.Open(ctx, 10)
	require.NoError(t, err)
	_, err = eng.Join(ctx, 10, 1, "alice", 10)
	require.NoError(t, err)
	_, err = eng.Deal(ctx, 10)
	require.NoError(t, err)

	snap, err := eng.Apply(ctx, 10, 1, ActionStand)
	require.NoError(t, err)
	require.Len(t, snap.Outcomes, 1)
	assert.Equal(t, ResultPush, snap.Outcomes[0].Result)
	assert.Equal(t, int64(10), snap.Outcomes[0].Payout)

	assert.Equal(t, int64(100), store.balance(1), "push must return exactly the wager")

	resolutions := store.resolutions()
	require.Len(t, resolutions, 1)
	require.Len(t, resolutions[0].Changes, 1)
	assert.Equal(t, model.TxTypePush, resolutions[0].Changes[0].Type)
	assert.Zero(t, store.wins[1])
}

func TestNaturalPaysThreeToTwo(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(map[int64]int64{1: 100})
	eng, _ := testEngine(store)
	stackDeck(eng,
		card(Ace), card(King), // player natural
		card(Nine), card(Eight), // dealer 17
	)

	_, err := eng.Open(ctx, 10)
	require.NoError(t, err)
	_, err = eng.Join(ctx, 10, 1, "alice", 10)
	require.NoError(t, err)

	snap, err := eng.Deal(ctx, 10)
	require.NoError(t, err)
	require.Len(t, snap.Outcomes, 1, "all-natural hand resolves without player turns")
	assert.Equal(t, ResultBlackjack, snap.Outcomes[0].Result)
	assert.Equal(t, int64(25), snap.Outcomes[0].Payout)

	assert.Equal(t, int64(115), store.balance(1))
	assert.Equal(t, 1, store.wins[1])
}

func TestDealerBustPaysDouble(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(map[int64]int64{1: 100})
	eng, _ := testEngine(store)
	stackDeck(eng,
		card(Ten), card(Seven), // player 17
		card(Ten), card(Six), // dealer 16, must hit
		card(King), // dealer busts at 26
	)

	_, err := eng.Open(ctx, 10)
	require.NoError(t, err)
	_, err = eng.Join(ctx, 10, 1, "alice", 10)
	require.NoError(t, err)
	_, err = eng.Deal(ctx, 10)
	require.NoError(t, err)

	snap, err := eng.Apply(ctx, 10, 1, ActionStand)
	require.NoError(t, err)
	require.Len(t, snap.Outcomes, 1)
	assert.Equal(t, ResultWin, snap.Outcomes[0].Result)
	assert.Greater(t, snap.DealerValue, 21)

	assert.Equal(t, int64(110), store.balance(1))
}

func TestDoubleDoublesWagerAndStands(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(map[int64]int64{1: 100})
	eng, _ := testEngine(store)
	stackDeck(eng,
		card(Five), card(Six), // player 11
		card(Ten), card(Seven), // dealer 17
		card(Nine), // double draw, player 20
	)

	_, err := eng.Open(ctx, 10)
	require.NoError(t, err)
	_, err = eng.Join(ctx, 10, 1, "alice", 10)
	require.NoError(t, err)
	_, err = eng.Deal(ctx, 10)
	require.NoError(t, err)

	snap, err := eng.Apply(ctx, 10, 1, ActionDouble)
	require.NoError(t, err)
	require.Len(t, snap.Outcomes, 1)
	assert.Equal(t, ResultWin, snap.Outcomes[0].Result)
	assert.Equal(t, int64(20), snap.Outcomes[0].Wager)
	assert.Equal(t, int64(40), snap.Outcomes[0].Payout)

	// 100 - 10 - 10 + 40.
	assert.Equal(t, int64(120), store.balance(1))
}

func TestDoubleOnlyAsFirstAction(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(map[int64]int64{1: 100})
	eng, _ := testEngine(store)
	stackDeck(eng,
		card(Five), card(Six), // player 11
		card(Ten), card(Seven), // dealer 17
		card(Two), // hit, player 13
	)

	_, err := eng.Open(ctx, 10)
	require.NoError(t, err)
	_, err = eng.Join(ctx, 10, 1, "alice", 10)
	require.NoError(t, err)
	_, err = eng.Deal(ctx, 10)
	require.NoError(t, err)

	_, err = eng.Apply(ctx, 10, 1, ActionHit)
	require.NoError(t, err)

	_, err = eng.Apply(ctx, 10, 1, ActionDouble)
	assert.ErrorIs(t, err, ErrDoubleUnavailable)
	assert.Equal(t, int64(90), store.balance(1), "rejected double must not debit")

	snap, err := eng.Apply(ctx, 10, 1, ActionStand)
	require.NoError(t, err)
	assert.Equal(t, ResultLose, snap.Outcomes[0].Result)
}

func TestDoubleInsufficientFundsKeepsTurn(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(map[int64]int64{1: 15})
	eng, _ := testEngine(store)
	stackDeck(eng,
		card(Five), card(Six),
		card(Ten), card(Seven),
	)

	_, err := eng.Open(ctx, 10)
	require.NoError(t, err)
	_, err = eng.Join(ctx, 10, 1, "alice", 10)
	require.NoError(t, err)
	_, err = eng.Deal(ctx, 10)
	require.NoError(t, err)

	_, err = eng.Apply(ctx, 10, 1, ActionDouble)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, int64(5), store.balance(1))

	// The turn is still the player's.
	snap, err := eng.Apply(ctx, 10, 1, ActionStand)
	require.NoError(t, err)
	assert.Equal(t, int64(10), snap.Outcomes[0].Wager)
}

func TestTurnOrderEnforced(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(map[int64]int64{1: 100, 2: 100})
	eng, _ := testEngine(store)
	stackDeck(eng,
		card(Ten), card(Eight),
		card(Ten), card(Seven),
		card(Ten), card(Nine),
	)

	_, err := eng.Open(ctx, 10)
	require.NoError(t, err)
	_, err = eng.Join(ctx, 10, 1, "alice", 10)
	require.NoError(t, err)
	_, err = eng.Join(ctx, 10, 2, "bob", 10)
	require.NoError(t, err)
	_, err = eng.Deal(ctx, 10)
	require.NoError(t, err)

	_, err = eng.Apply(ctx, 10, 2, ActionHit)
	assert.ErrorIs(t, err, ErrNotYourTurn)
	_, err = eng.Apply(ctx, 10, 3, ActionHit)
	assert.ErrorIs(t, err, ErrNotSeated)

	snap, err := eng.Apply(ctx, 10, 1, ActionStand)
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.TurnUserID)
}

func TestDeadlineAutoStands(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(map[int64]int64{1: 100})
	eng, base := testEngine(store)
	stackDeck(eng,
		card(Ten), card(Eight), // player 18
		card(Ten), card(Nine), // dealer 19
	)

	_, err := eng.Open(ctx, 10)
	require.NoError(t, err)
	_, err = eng.Join(ctx, 10, 1, "alice", 10)
	require.NoError(t, err)
	_, err = eng.Deal(ctx, 10)
	require.NoError(t, err)

	// Before the deadline nothing moves.
	assert.Empty(t, eng.Sweep(ctx, base.Add(30*time.Second)))

	changed := eng.Sweep(ctx, base.Add(91*time.Second))
	require.Len(t, changed, 1)
	require.Len(t, changed[0].Outcomes, 1)
	assert.Equal(t, ResultLose, changed[0].Outcomes[0].Result)

	// A stand racing the expired deadline lands on a settled table.
	_, err = eng.Apply(ctx, 10, 1, ActionStand)
	assert.ErrorIs(t, err, ErrNoTable)
	require.Len(t, store.resolutions(), 1)
}

func TestJoinWindowExpiry(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(map[int64]int64{1: 100})
	eng, base := testEngine(store)
	stackDeck(eng,
		card(Ten), card(Eight),
		card(Ten), card(Nine),
	)

	// Nobody joined: the table quietly goes away.
	_, err := eng.Open(ctx, 10)
	require.NoError(t, err)
	changed := eng.Sweep(ctx, base.Add(46*time.Second))
	require.Len(t, changed, 1)
	assert.Equal(t, StateIdle, changed[0].State)
	assert.Equal(t, StateIdle, eng.State(10))

	// With a player seated, expiry deals the hand.
	_, err = eng.Open(ctx, 10)
	require.NoError(t, err)
	_, err = eng.Join(ctx, 10, 1, "alice", 10)
	require.NoError(t, err)
	_, err = eng.Join(ctx, 10, 1, "alice", 10)
	assert.ErrorIs(t, err, ErrAlreadySeated)

	changed = eng.Sweep(ctx, base.Add(46*time.Second))
	require.Len(t, changed, 1)
	assert.Equal(t, StatePlaying, changed[0].State)

	_, err = eng.Join(ctx, 10, 2, "bob", 10)
	assert.ErrorIs(t, err, ErrJoinClosed)
}

func TestAbortRefundsEscrow(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(map[int64]int64{1: 100, 2: 100})
	eng, _ := testEngine(store)

	_, err := eng.Open(ctx, 10)
	require.NoError(t, err)
	_, err = eng.Join(ctx, 10, 1, "alice", 10)
	require.NoError(t, err)
	_, err = eng.Join(ctx, 10, 2, "bob", 20)
	require.NoError(t, err)

	_, err = eng.Abort(ctx, 10)
	require.NoError(t, err)

	assert.Equal(t, int64(100), store.balance(1))
	assert.Equal(t, int64(100), store.balance(2))
	assert.Equal(t, StateIdle, eng.State(10))

	resolutions := store.resolutions()
	require.Len(t, resolutions, 1)
	for _, ch := range resolutions[0].Changes {
		assert.Equal(t, model.TxTypeRefund, ch.Type)
	}
	assert.Zero(t, store.games[1], "aborted hands do not count as played")
}

func TestSettlementRetriesAndStaysIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(map[int64]int64{1: 100})
	eng, base := testEngine(store)
	stackDeck(eng,
		card(Ten), card(Eight), // player 18
		card(Ten), card(Eight), // dealer 18, push
	)

	_, err := eng.Open(ctx, 10)
	require.NoError(t, err)
	_, err = eng.Join(ctx, 10, 1, "alice", 10)
	require.NoError(t, err)
	_, err = eng.Deal(ctx, 10)
	require.NoError(t, err)

	// Every in-line attempt fails; the batch stays parked on the table.
	store.mu.Lock()
	store.failApplies = settleAttempts
	store.mu.Unlock()

	_, err = eng.Apply(ctx, 10, 1, ActionStand)
	require.NoError(t, err)
	assert.Equal(t, int64(90), store.balance(1), "escrow must not leak on failed settlement")
	assert.Equal(t, StateResolving, eng.State(10))

	// The next sweep replays the identical batch.
	changed := eng.Sweep(ctx, base)
	assert.Empty(t, changed)
	assert.Equal(t, int64(100), store.balance(1))
	assert.Equal(t, StateIdle, eng.State(10))

	resolutions := store.resolutions()
	require.Len(t, resolutions, 1)

	// Replaying a committed batch changes nothing.
	applied, err := store.ApplyResolution(ctx, resolutions[0])
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, int64(100), store.balance(1))
}

func TestConcurrentJoinDebitsOnce(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(map[int64]int64{7: 100})
	eng, _ := testEngine(store)

	_, err := eng.Open(ctx, 10)
	require.NoError(t, err)

	const attempts = 16
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := eng.Join(ctx, 10, 7, "carol", 10)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	joined := 0
	for err := range errs {
		if err == nil {
			joined++
		} else {
			assert.ErrorIs(t, err, ErrAlreadySeated)
		}
	}
	assert.Equal(t, 1, joined)
	assert.Equal(t, int64(90), store.balance(7))
}

func TestTablesIndependentAcrossChats(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(map[int64]int64{1: 100})
	eng, _ := testEngine(store)

	_, err := eng.Open(ctx, 10)
	require.NoError(t, err)
	_, err = eng.Open(ctx, 20)
	require.NoError(t, err)

	_, err = eng.Join(ctx, 10, 1, "alice", 10)
	require.NoError(t, err)
	_, err = eng.Abort(ctx, 20)
	require.NoError(t, err)

	assert.Equal(t, StateJoining, eng.State(10))
	assert.Equal(t, StateIdle, eng.State(20))
}
