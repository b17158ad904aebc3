package tienlen

import (
	"fmt"
	"math/rand"
)

type Suit int

// Tiến Lên suit order: Spades lowest, Hearts highest.
const (
	Spades Suit = iota
	Clubs
	Diamonds
	Hearts
)

var suitString = map[Suit]string{
	Spades:   "Spades",
	Clubs:    "Clubs",
	Diamonds: "Diamonds",
	Hearts:   "Hearts",
}

func (s Suit) String() string {
	return suitString[s]
}

type Rank int

// Rank order: Three is lowest, Two is highest.
const (
	Three Rank = iota
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
	Ace
	Two
)

var rankString = map[Rank]string{
	Three: "Three",
	Four:  "Four",
	Five:  "Five",
	Six:   "Six",
	Seven: "Seven",
	Eight: "Eight",
	Nine:  "Nine",
	Ten:   "Ten",
	Jack:  "Jack",
	Queen: "Queen",
	King:  "King",
	Ace:   "Ace",
	Two:   "Two",
}

func (r Rank) String() string {
	return rankString[r]
}

type Card struct {
	Suit Suit `json:"suit"`
	Rank Rank `json:"rank"`
}

func (c Card) String() string {
	return fmt.Sprintf("%s of %s", c.Rank.String(), c.Suit.String())
}

// Order gives the total ordering used for all comparisons: rank first, suit
// breaks ties.
func (c Card) Order() int {
	return int(c.Rank)*4 + int(c.Suit)
}

func (c Card) Beats(other Card) bool {
	return c.Order() > other.Order()
}

type Deck struct {
	Cards []Card `json:"cards"`
}

func NewDeck() *Deck {
	cards := make([]Card, 0, 52)
	for suit := Spades; suit <= Hearts; suit++ {
		for rank := Three; rank <= Two; rank++ {
			cards = append(cards, Card{Suit: suit, Rank: rank})
		}
	}
	return &Deck{Cards: cards}
}

func (d *Deck) Shuffle(rng *rand.Rand) {
	rng.Shuffle(len(d.Cards), func(i, j int) {
		d.Cards[i], d.Cards[j] = d.Cards[j], d.Cards[i]
	})
}

// Draw removes and returns the top n cards.
func (d *Deck) Draw(n int) []Card {
	if n > len(d.Cards) {
		n = len(d.Cards)
	}
	drawn := d.Cards[:n]
	d.Cards = d.Cards[n:]
	return drawn
}

func sortCards(cards []Card) {
	for i := 1; i < len(cards); i++ {
		for j := i; j > 0 && cards[j].Order() < cards[j-1].Order(); j-- {
			cards[j], cards[j-1] = cards[j-1], cards[j]
		}
	}
}

// removeCards takes each card in toRemove out of hand. Returns false without
// modifying hand if any card is missing.
func removeCards(hand []Card, toRemove []Card) ([]Card, bool) {
	remaining := make([]Card, len(hand))
	copy(remaining, hand)

	for _, card := range toRemove {
		found := -1
		for i, held := range remaining {
			if held == card {
				found = i
				break
			}
		}
		if found == -1 {
			return nil, false
		}
		remaining = append(remaining[:found], remaining[found+1:]...)
	}

	return remaining, true
}
