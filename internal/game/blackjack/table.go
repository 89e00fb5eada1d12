package blackjack

import (
	"sync"
	"time"

	"telegram-forum-bot/internal/model"
)

// State is the table lifecycle phase. A chat with no table is Idle.
type State int

const (
	StateIdle State = iota
	StateJoining
	StatePlaying
	StateResolving
)

func (s State) String() string {
	switch s {
	case StateJoining:
		return "joining"
	case StatePlaying:
		return "playing"
	case StateResolving:
		return "resolving"
	default:
		return "idle"
	}
}

// SeatStatus tracks a seated player's standing within the hand.
type SeatStatus int

const (
	SeatActive SeatStatus = iota
	SeatStood
	SeatBusted
	SeatBlackjack
)

// seat is one player's position at the table.
type seat struct {
	UserID   int64
	Username string
	Wager    int64
	Hand     []Card
	Status   SeatStatus
	Acted    bool
}

// table is the per-chat game state. All access goes through the table mutex,
// so one chat's actions are strictly serialized while other chats proceed.
type table struct {
	mu sync.Mutex

	chatID     int64
	state      State
	seats      []*seat
	dealer     []Card
	deck       []Card
	turn       int
	deadlineAt time.Time

	// pending holds a computed settlement that has not committed yet, so a
	// sweep can replay it after a persistence failure.
	pending  *model.Resolution
	settled  []Outcome
	aborted  bool
	settling bool
}

// outcomes returns the settled results, or nil while the hand is still live.
func (t *table) outcomes() []Outcome {
	return t.settled
}

// draw takes the next card off the front of the deck.
func (t *table) draw() Card {
	c := t.deck[0]
	t.deck = t.deck[1:]
	return c
}

// seatOf returns the seat for userID, or nil.
func (t *table) seatOf(userID int64) *seat {
	for _, s := range t.seats {
		if s.UserID == userID {
			return s
		}
	}
	return nil
}

// advanceTurn moves the turn to the next active seat starting at from.
// Returns false when no active seat remains and the hand should resolve.
func (t *table) advanceTurn(from int) bool {
	for i := from; i < len(t.seats); i++ {
		if t.seats[i].Status == SeatActive {
			t.turn = i
			return true
		}
	}
	return false
}

// ResultKind classifies a player's outcome against the dealer.
type ResultKind int

const (
	ResultLose ResultKind = iota
	ResultWin
	ResultBlackjack
	ResultPush
)

func (r ResultKind) String() string {
	switch r {
	case ResultWin:
		return "win"
	case ResultBlackjack:
		return "blackjack"
	case ResultPush:
		return "push"
	default:
		return "lose"
	}
}

// compareHands computes the outcome of a player hand against the final
// dealer hand. Busts lose to any non-bust dealer result; a natural beats an
// ordinary 21; equal values push.
func compareHands(player []Card, playerBusted bool, dealer []Card) ResultKind {
	if playerBusted {
		return ResultLose
	}

	playerValue := HandValue(player)
	dealerValue := HandValue(dealer)
	playerNatural := IsNatural(player)
	dealerNatural := IsNatural(dealer)

	if dealerValue > 21 {
		if playerNatural {
			return ResultBlackjack
		}
		return ResultWin
	}

	switch {
	case playerNatural && dealerNatural:
		return ResultPush
	case playerNatural:
		return ResultBlackjack
	case dealerNatural:
		return ResultLose
	}

	switch {
	case playerValue > dealerValue:
		return ResultWin
	case playerValue < dealerValue:
		return ResultLose
	default:
		return ResultPush
	}
}

// payout returns the amount credited back to the player at settlement. The
// wager itself was already escrowed at join time, so a lost hand credits
// nothing and the escrow is simply not refunded.
func payout(result ResultKind, wager int64) int64 {
	switch result {
	case ResultBlackjack:
		return wager + wager*3/2
	case ResultWin:
		return 2 * wager
	case ResultPush:
		return wager
	default:
		return 0
	}
}

// SeatView is a read-only copy of one seat for rendering.
type SeatView struct {
	UserID   int64
	Username string
	Wager    int64
	Hand     []Card
	Value    int
	Status   SeatStatus
}

// Outcome is one player's settled result.
type Outcome struct {
	UserID   int64
	Username string
	Result   ResultKind
	Wager    int64
	Payout   int64
}

// Snapshot is an immutable view of the table computed under the table lock
// and rendered after the lock is released.
type Snapshot struct {
	ChatID      int64
	State       State
	Seats       []SeatView
	Dealer      []Card
	DealerValue int
	HideDealer  bool
	TurnUserID  int64
	DeadlineAt  time.Time
	Outcomes    []Outcome
}

// snapshotLocked builds a view of the table. Caller holds the table mutex.
func (t *table) snapshotLocked(outcomes []Outcome) Snapshot {
	snap := Snapshot{
		ChatID:     t.chatID,
		State:      t.state,
		DeadlineAt: t.deadlineAt,
		HideDealer: t.state == StatePlaying,
		Outcomes:   outcomes,
	}
	for _, s := range t.seats {
		hand := make([]Card, len(s.Hand))
		copy(hand, s.Hand)
		snap.Seats = append(snap.Seats, SeatView{
			UserID:   s.UserID,
			Username: s.Username,
			Wager:    s.Wager,
			Hand:     hand,
			Value:    HandValue(s.Hand),
			Status:   s.Status,
		})
	}
	snap.Dealer = make([]Card, len(t.dealer))
	copy(snap.Dealer, t.dealer)
	snap.DealerValue = HandValue(t.dealer)
	if t.state == StatePlaying && t.turn < len(t.seats) {
		snap.TurnUserID = t.seats[t.turn].UserID
	}
	return snap
}
