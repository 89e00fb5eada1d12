// Package blackjack implements the per-chat blackjack table: a single
// state machine per chat with escrowed wagers and timeout-driven advancement.
package blackjack

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"telegram-forum-bot/internal/model"
)

// Game errors.
var (
	ErrAlreadyActive     = errors.New("a table is already active in this chat")
	ErrNoTable           = errors.New("no active table in this chat")
	ErrJoinClosed        = errors.New("the join window has closed")
	ErrAlreadySeated     = errors.New("player already seated at this table")
	ErrNotSeated         = errors.New("player is not seated at this table")
	ErrNotYourTurn       = errors.New("not this player's turn")
	ErrDoubleUnavailable = errors.New("double is only allowed as the first action")
	ErrInvalidWager      = errors.New("wager is outside the allowed range")
	ErrInsufficientFunds = errors.New("insufficient balance")
)

// Action is a player's in-game move.
type Action int

const (
	ActionHit Action = iota
	ActionStand
	ActionDouble
)

// Store is the persistence boundary for wagers and settlement.
type Store interface {
	// Reserve deducts amount from the player's balance, returning
	// ErrInsufficientFunds when the balance does not cover it.
	Reserve(ctx context.Context, chatID, userID, amount int64) error

	// ApplyResolution commits a settlement batch atomically. Replaying a
	// resolution that already committed returns (false, nil) and changes
	// nothing.
	ApplyResolution(ctx context.Context, res model.Resolution) (bool, error)

	// RecordOutcome bumps the player's games-played and win counters.
	RecordOutcome(ctx context.Context, chatID, userID int64, won bool) error
}

// Config holds the table parameters.
type Config struct {
	JoinWindow   time.Duration
	TurnDeadline time.Duration
	MinWager     int64
	MaxWager     int64

	// Seed fixes the deck shuffle order for reproducible play. Zero seeds
	// from the clock.
	Seed int64
}

const settleAttempts = 3

// Engine owns all blackjack tables, one per chat. Table state is mutated
// only under the table's own mutex; the engine mutex guards the table map
// and the shared shuffle source.
type Engine struct {
	store Store
	cfg   Config
	now   func() time.Time

	onRetry func()

	mu      sync.Mutex
	tables  map[int64]*table
	rng     *rand.Rand
	newDeck func(*rand.Rand) []Card
}

// SetRetryObserver registers a callback invoked after each failed
// settlement write, before the retry. Must be called before Open.
func (e *Engine) SetRetryObserver(fn func()) { e.onRetry = fn }

// NewEngine creates a game engine over the given store.
func NewEngine(store Store, cfg Config, now func() time.Time) *Engine {
	seed := cfg.Seed
	if seed == 0 {
		seed = now().UnixNano()
	}
	return &Engine{
		store:   store,
		cfg:     cfg,
		now:     now,
		tables:  make(map[int64]*table),
		rng:     rand.New(rand.NewSource(seed)),
		newDeck: NewDeck,
	}
}

// Open starts the join window for a new table. Fails when any table is
// already active in the chat.
func (e *Engine) Open(ctx context.Context, chatID int64) (Snapshot, error) {
	e.mu.Lock()
	if _, ok := e.tables[chatID]; ok {
		e.mu.Unlock()
		return Snapshot{}, ErrAlreadyActive
	}
	t := &table{
		chatID:     chatID,
		state:      StateJoining,
		deadlineAt: e.now().Add(e.cfg.JoinWindow),
	}
	e.tables[chatID] = t
	e.mu.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked(nil), nil
}

// Join seats a player with the given wager. The wager is deducted
// immediately and held in escrow on the table until resolution. Concurrent
// joins by the same player are serialized by the table lock: exactly one
// succeeds and the balance is debited exactly once.
func (e *Engine) Join(ctx context.Context, chatID, userID int64, username string, wager int64) (Snapshot, error) {
	if wager < e.cfg.MinWager || wager > e.cfg.MaxWager {
		return Snapshot{}, ErrInvalidWager
	}

	t, ok := e.table(chatID)
	if !ok {
		return Snapshot{}, ErrNoTable
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateJoining {
		return Snapshot{}, ErrJoinClosed
	}
	if t.seatOf(userID) != nil {
		return Snapshot{}, ErrAlreadySeated
	}

	if err := e.store.Reserve(ctx, chatID, userID, wager); err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			return Snapshot{}, ErrInsufficientFunds
		}
		return Snapshot{}, fmt.Errorf("failed to reserve wager: %w", err)
	}

	t.seats = append(t.seats, &seat{
		UserID:   userID,
		Username: username,
		Wager:    wager,
	})
	return t.snapshotLocked(nil), nil
}

// Deal closes the join window early and deals the hand. Fails when the
// table is not joining or nobody is seated.
func (e *Engine) Deal(ctx context.Context, chatID int64) (Snapshot, error) {
	t, ok := e.table(chatID)
	if !ok {
		return Snapshot{}, ErrNoTable
	}

	t.mu.Lock()
	if t.state != StateJoining {
		t.mu.Unlock()
		return Snapshot{}, ErrJoinClosed
	}
	if len(t.seats) == 0 {
		t.mu.Unlock()
		return Snapshot{}, ErrNotSeated
	}
	snap := e.dealLocked(t)
	pending := t.pending != nil
	t.mu.Unlock()

	if pending {
		e.settle(ctx, t)
	}
	return snap, nil
}

// Apply executes a player action on the chat's table. Actions are
// serialized per table; a deadline firing concurrently with an action
// results in exactly one transition.
func (e *Engine) Apply(ctx context.Context, chatID, userID int64, action Action) (Snapshot, error) {
	t, ok := e.table(chatID)
	if !ok {
		return Snapshot{}, ErrNoTable
	}

	t.mu.Lock()
	if t.state != StatePlaying {
		t.mu.Unlock()
		return Snapshot{}, ErrNoTable
	}
	s := t.seatOf(userID)
	if s == nil {
		t.mu.Unlock()
		return Snapshot{}, ErrNotSeated
	}
	if t.seats[t.turn] != s {
		t.mu.Unlock()
		return Snapshot{}, ErrNotYourTurn
	}

	var err error
	switch action {
	case ActionHit:
		e.hitLocked(t, s)
	case ActionDouble:
		err = e.doubleLocked(ctx, t, s)
	default:
		s.Status = SeatStood
		e.nextTurnLocked(t)
	}
	if err != nil {
		t.mu.Unlock()
		return Snapshot{}, err
	}

	snap := t.snapshotLocked(t.outcomes())
	pending := t.pending != nil
	t.mu.Unlock()

	if pending {
		e.settle(ctx, t)
	}
	return snap, nil
}

// hitLocked draws a card for the seat, busting or auto-standing at 21.
func (e *Engine) hitLocked(t *table, s *seat) {
	s.Hand = append(s.Hand, t.draw())
	s.Acted = true
	switch value := HandValue(s.Hand); {
	case value > 21:
		s.Status = SeatBusted
		e.nextTurnLocked(t)
	case value == 21:
		s.Status = SeatStood
		e.nextTurnLocked(t)
	default:
		t.deadlineAt = e.now().Add(e.cfg.TurnDeadline)
	}
}

// doubleLocked doubles the wager, draws exactly one card and stands. Only
// legal as the seat's first action, and requires balance for the second
// half of the wager.
func (e *Engine) doubleLocked(ctx context.Context, t *table, s *seat) error {
	if s.Acted {
		return ErrDoubleUnavailable
	}
	if err := e.store.Reserve(ctx, t.chatID, s.UserID, s.Wager); err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			return ErrInsufficientFunds
		}
		return fmt.Errorf("failed to reserve double wager: %w", err)
	}
	s.Wager *= 2
	s.Hand = append(s.Hand, t.draw())
	if HandValue(s.Hand) > 21 {
		s.Status = SeatBusted
	} else {
		s.Status = SeatStood
	}
	e.nextTurnLocked(t)
	return nil
}

// nextTurnLocked advances to the next active seat or resolves the hand.
func (e *Engine) nextTurnLocked(t *table) {
	if t.advanceTurn(t.turn) {
		t.deadlineAt = e.now().Add(e.cfg.TurnDeadline)
		return
	}
	e.resolveLocked(t)
}

// dealLocked shuffles a fresh deck and deals the opening hands.
func (e *Engine) dealLocked(t *table) Snapshot {
	e.mu.Lock()
	t.deck = e.newDeck(e.rng)
	e.mu.Unlock()

	for _, s := range t.seats {
		s.Hand = []Card{t.draw(), t.draw()}
	}
	t.dealer = []Card{t.draw(), t.draw()}

	for _, s := range t.seats {
		if IsNatural(s.Hand) {
			s.Status = SeatBlackjack
		}
	}

	t.state = StatePlaying
	if t.advanceTurn(0) {
		t.deadlineAt = e.now().Add(e.cfg.TurnDeadline)
	} else {
		// Everyone has a natural, straight to the dealer.
		e.resolveLocked(t)
	}
	return t.snapshotLocked(t.outcomes())
}

// resolveLocked plays out the dealer hand, computes every outcome and stages
// the settlement batch. Caller holds the table mutex; the commit itself
// happens outside the lock.
func (e *Engine) resolveLocked(t *table) {
	t.state = StateResolving

	for HandValue(t.dealer) < 17 {
		t.dealer = append(t.dealer, t.draw())
	}

	res := model.Resolution{
		ID:     uuid.NewString(),
		ChatID: t.chatID,
	}
	for _, s := range t.seats {
		result := compareHands(s.Hand, s.Status == SeatBusted, t.dealer)
		credit := payout(result, s.Wager)
		t.settled = append(t.settled, Outcome{
			UserID:   s.UserID,
			Username: s.Username,
			Result:   result,
			Wager:    s.Wager,
			Payout:   credit,
		})
		if credit > 0 {
			txType := model.TxTypeWin
			if result == ResultPush {
				txType = model.TxTypePush
			}
			res.Changes = append(res.Changes, model.BalanceChange{
				UserID:      s.UserID,
				Amount:      credit,
				Type:        txType,
				Description: fmt.Sprintf("blackjack %s, wager %d", result, s.Wager),
			})
		}
	}
	t.pending = &res
}

// Abort cancels the table and refunds every escrowed wager. Legal in any
// state before resolution.
func (e *Engine) Abort(ctx context.Context, chatID int64) (Snapshot, error) {
	t, ok := e.table(chatID)
	if !ok {
		return Snapshot{}, ErrNoTable
	}

	t.mu.Lock()
	if t.state == StateResolving {
		t.mu.Unlock()
		return Snapshot{}, ErrJoinClosed
	}

	t.state = StateResolving
	res := model.Resolution{
		ID:     uuid.NewString(),
		ChatID: chatID,
	}
	for _, s := range t.seats {
		res.Changes = append(res.Changes, model.BalanceChange{
			UserID:      s.UserID,
			Amount:      s.Wager,
			Type:        model.TxTypeRefund,
			Description: "table aborted",
		})
	}
	t.pending = &res
	t.aborted = true
	snap := t.snapshotLocked(nil)
	t.mu.Unlock()

	e.settle(ctx, t)
	return snap, nil
}

// Sweep advances tables whose deadline has passed and retries stuck
// settlements. Called periodically from the scheduler; it competes for the
// same per-table locks as user actions, so no transition is applied twice.
func (e *Engine) Sweep(ctx context.Context, now time.Time) []Snapshot {
	e.mu.Lock()
	tables := make([]*table, 0, len(e.tables))
	for _, t := range e.tables {
		tables = append(tables, t)
	}
	e.mu.Unlock()

	var changed []Snapshot
	for _, t := range tables {
		if snap, ok := e.sweepTable(ctx, t, now); ok {
			changed = append(changed, snap)
		}
	}
	return changed
}

func (e *Engine) sweepTable(ctx context.Context, t *table, now time.Time) (Snapshot, bool) {
	t.mu.Lock()

	switch t.state {
	case StateJoining:
		if now.Before(t.deadlineAt) {
			t.mu.Unlock()
			return Snapshot{}, false
		}
		if len(t.seats) == 0 {
			// Nobody joined, back to idle without dealing.
			t.state = StateIdle
			snap := t.snapshotLocked(nil)
			t.mu.Unlock()
			e.remove(t)
			return snap, true
		}
		snap := e.dealLocked(t)
		pending := t.pending != nil
		t.mu.Unlock()
		if pending {
			e.settle(ctx, t)
		}
		return snap, true

	case StatePlaying:
		if now.Before(t.deadlineAt) {
			t.mu.Unlock()
			return Snapshot{}, false
		}
		// The slow player is stood, not forfeited.
		t.seats[t.turn].Status = SeatStood
		e.nextTurnLocked(t)
		snap := t.snapshotLocked(t.outcomes())
		pending := t.pending != nil
		t.mu.Unlock()
		if pending {
			e.settle(ctx, t)
		}
		return snap, true

	case StateResolving:
		pending := t.pending != nil
		t.mu.Unlock()
		if pending {
			e.settle(ctx, t)
		}
		return Snapshot{}, false

	default:
		t.mu.Unlock()
		return Snapshot{}, false
	}
}

// State reports the table phase for a chat. Chats without a table are Idle.
func (e *Engine) State(chatID int64) State {
	t, ok := e.table(chatID)
	if !ok {
		return StateIdle
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// settle commits the staged settlement batch. The batch is idempotent by
// resolution ID, so retries and replays are safe. On persistent failure the
// table stays in Resolving with the batch attached and the next sweep tries
// again; escrow is never partially released.
func (e *Engine) settle(ctx context.Context, t *table) {
	t.mu.Lock()
	if t.pending == nil || t.settling {
		t.mu.Unlock()
		return
	}
	t.settling = true
	res := t.pending
	outcomes := t.settled
	aborted := t.aborted
	t.mu.Unlock()

	var err error
	for attempt := 1; attempt <= settleAttempts; attempt++ {
		if _, err = e.store.ApplyResolution(ctx, *res); err == nil {
			break
		}
		log.Warn().
			Err(err).
			Int64("chat_id", t.chatID).
			Str("resolution_id", res.ID).
			Int("attempt", attempt).
			Msg("Settlement write failed")
		if e.onRetry != nil {
			e.onRetry()
		}
		time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
	}
	if err != nil {
		t.mu.Lock()
		t.settling = false
		t.mu.Unlock()
		log.Error().
			Err(err).
			Int64("chat_id", t.chatID).
			Str("resolution_id", res.ID).
			Msg("Settlement could not be committed, will retry on next sweep")
		return
	}

	if !aborted {
		for _, o := range outcomes {
			won := o.Result == ResultWin || o.Result == ResultBlackjack
			if err := e.store.RecordOutcome(ctx, t.chatID, o.UserID, won); err != nil {
				log.Warn().Err(err).Int64("user_id", o.UserID).Msg("Failed to record game outcome")
			}
		}
	}

	t.mu.Lock()
	t.pending = nil
	t.state = StateIdle
	t.mu.Unlock()
	e.remove(t)

	log.Info().
		Int64("chat_id", t.chatID).
		Str("resolution_id", res.ID).
		Int("players", len(outcomes)).
		Bool("aborted", aborted).
		Msg("Table settled")
}

func (e *Engine) table(chatID int64) (*table, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tables[chatID]
	return t, ok
}

func (e *Engine) remove(t *table) {
	e.mu.Lock()
	if e.tables[t.chatID] == t {
		delete(e.tables, t.chatID)
	}
	e.mu.Unlock()
}
