package blackjack

import "math/rand"

// Suit is one of the four card suits.
type Suit int

const (
	Spades Suit = iota
	Hearts
	Diamonds
	Clubs
)

var suitSymbols = [...]string{"♠", "♥", "♦", "♣"}

// Rank is the card rank, Ace through King.
type Rank int

const (
	Ace Rank = iota + 1
	Two
	Three
	Four
	Five
	Six
	Seven
	Eight
	Nine
	Ten
	Jack
	Queen
	King
)

var rankSymbols = [...]string{"", "A", "2", "3", "4", "5", "6", "7", "8", "9", "10", "J", "Q", "K"}

// Card is a single playing card.
type Card struct {
	Rank Rank
	Suit Suit
}

func (c Card) String() string {
	return rankSymbols[c.Rank] + suitSymbols[c.Suit]
}

// value returns the card's blackjack value with aces counted high.
func (c Card) value() int {
	switch {
	case c.Rank == Ace:
		return 11
	case c.Rank >= Ten:
		return 10
	default:
		return int(c.Rank)
	}
}

// NewDeck returns a full 52-card deck shuffled with the given source. Cards
// are drawn from the front and never reused within a hand.
func NewDeck(rng *rand.Rand) []Card {
	deck := make([]Card, 0, 52)
	for suit := Spades; suit <= Clubs; suit++ {
		for rank := Ace; rank <= King; rank++ {
			deck = append(deck, Card{Rank: rank, Suit: suit})
		}
	}
	rng.Shuffle(len(deck), func(i, j int) {
		deck[i], deck[j] = deck[j], deck[i]
	})
	return deck
}

// HandValue computes the hand total, downgrading aces from 11 to 1 while the
// total busts.
func HandValue(hand []Card) int {
	total := 0
	aces := 0
	for _, c := range hand {
		total += c.value()
		if c.Rank == Ace {
			aces++
		}
	}
	for total > 21 && aces > 0 {
		total -= 10
		aces--
	}
	return total
}

// IsNatural reports whether the hand is a natural blackjack: two cards
// totalling 21.
func IsNatural(hand []Card) bool {
	return len(hand) == 2 && HandValue(hand) == 21
}

// FormatHand renders a hand as space-separated card symbols.
func FormatHand(hand []Card) string {
	s := ""
	for i, c := range hand {
		if i > 0 {
			s += " "
		}
		s += c.String()
	}
	return s
}
