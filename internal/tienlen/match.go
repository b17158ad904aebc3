package tienlen

import (
	"errors"
	"math/rand"
	"time"
)

// Match is the authoritative state of one hand of Tiến Lên. It carries no lock
// of its own: the owning room serializes every call.
type Phase string

const (
	PhaseDealerSelection Phase = "dealer_selection"
	PhaseCalling         Phase = "calling"
	PhasePlaying         Phase = "playing"
	PhaseFinished        Phase = "finished"
)

var (
	ErrWrongPhase  = errors.New("action not valid in current phase")
	ErrBadSeat     = errors.New("seat index out of range")
	ErrNotYourTurn = errors.New("not your turn")
	ErrInvalidPlay = errors.New("invalid play")
)

type Match struct {
	numSeats int
	rng      *rand.Rand

	phase Phase

	// Dealer selection: the shuffled deck is spread face down and each seat
	// flips exactly one card. Highest card deals.
	selection []Card
	flipped   []*Card
	taken     []bool

	dealer int
	call   int

	hands  [][]Card
	auto   []bool
	scores []int

	turn        int
	trickLead   []Card
	trickLeader int
	passed      []bool

	winner int
}

type MatchOption func(*Match)

// WithRand fixes the shuffle source, used by tests for deterministic deals.
func WithRand(rng *rand.Rand) MatchOption {
	return func(m *Match) {
		m.rng = rng
	}
}

func NewMatch(numSeats int, opts ...MatchOption) *Match {
	m := &Match{
		numSeats: numSeats,
		phase:    PhaseDealerSelection,
		dealer:   -1,
		winner:   -1,
		flipped:  make([]*Card, numSeats),
		auto:     make([]bool, numSeats),
		scores:   make([]int, numSeats),
		passed:   make([]bool, numSeats),
	}

	for _, opt := range opts {
		opt(m)
	}
	if m.rng == nil {
		m.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	deck := NewDeck()
	deck.Shuffle(m.rng)
	m.selection = deck.Cards
	m.taken = make([]bool, len(m.selection))

	return m
}

func (m *Match) NumSeats() int { return m.numSeats }
func (m *Match) Phase() Phase  { return m.phase }
func (m *Match) Dealer() int   { return m.dealer }
func (m *Match) Call() int     { return m.call }
func (m *Match) Turn() int     { return m.turn }
func (m *Match) Winner() int   { return m.winner }

func (m *Match) Finished() bool {
	return m.phase == PhaseFinished
}

func (m *Match) Scores() []int {
	out := make([]int, len(m.scores))
	copy(out, m.scores)
	return out
}

func (m *Match) Hand(seat int) []Card {
	if seat < 0 || seat >= m.numSeats || m.hands == nil {
		return nil
	}
	out := make([]Card, len(m.hands[seat]))
	copy(out, m.hands[seat])
	return out
}

func (m *Match) HandSize(seat int) int {
	if seat < 0 || seat >= m.numSeats || m.hands == nil {
		return 0
	}
	return len(m.hands[seat])
}

func (m *Match) Auto(seat int) bool {
	if seat < 0 || seat >= m.numSeats {
		return false
	}
	return m.auto[seat]
}

func (m *Match) SetAuto(seat int, on bool) error {
	if seat < 0 || seat >= m.numSeats {
		return ErrBadSeat
	}
	m.auto[seat] = on
	return nil
}

// SelectDealerCard flips the face-down card at index for seat. The returned
// bool reports whether every seat has now flipped, which moves the match to
// the calling phase.
func (m *Match) SelectDealerCard(seat, index int) (Card, bool, error) {
	if m.phase != PhaseDealerSelection {
		return Card{}, false, ErrWrongPhase
	}
	if seat < 0 || seat >= m.numSeats {
		return Card{}, false, ErrBadSeat
	}
	if m.flipped[seat] != nil {
		return Card{}, false, ErrInvalidPlay
	}
	if index < 0 || index >= len(m.selection) || m.taken[index] {
		return Card{}, false, ErrInvalidPlay
	}

	card := m.selection[index]
	m.taken[index] = true
	m.flipped[seat] = &card

	for _, f := range m.flipped {
		if f == nil {
			return card, false, nil
		}
	}

	// Everyone flipped: highest card deals.
	best := 0
	for s := 1; s < m.numSeats; s++ {
		if m.flipped[s].Beats(*m.flipped[best]) {
			best = s
		}
	}
	m.dealer = best
	m.phase = PhaseCalling

	return card, true, nil
}

// DealerCall records the dealer's point multiplier (1..4), deals the hands,
// and gives the dealer the lead.
func (m *Match) DealerCall(seat, call int) error {
	if m.phase != PhaseCalling {
		return ErrWrongPhase
	}
	if seat < 0 || seat >= m.numSeats {
		return ErrBadSeat
	}
	if seat != m.dealer {
		return ErrNotYourTurn
	}
	if call < 1 || call > 4 {
		return ErrInvalidPlay
	}

	m.call = call

	deck := NewDeck()
	deck.Shuffle(m.rng)

	perSeat := 13
	if m.numSeats > 4 {
		perSeat = len(deck.Cards) / m.numSeats
	}

	m.hands = make([][]Card, m.numSeats)
	for s := 0; s < m.numSeats; s++ {
		m.hands[s] = deck.Draw(perSeat)
		sortCards(m.hands[s])
	}

	m.phase = PhasePlaying
	m.turn = m.dealer
	m.trickLeader = m.dealer
	m.trickLead = nil
	m.clearPassed()

	return nil
}

// Play applies a play for seat. An empty cards slice is a pass. Plays are
// same-rank sets; a follow must match the lead's count and beat its top card.
func (m *Match) Play(seat int, cards []Card) error {
	if m.phase != PhasePlaying {
		return ErrWrongPhase
	}
	if seat < 0 || seat >= m.numSeats {
		return ErrBadSeat
	}
	if seat != m.turn {
		return ErrNotYourTurn
	}

	if len(cards) == 0 {
		return m.pass(seat)
	}

	if len(cards) > 1 {
		for _, c := range cards[1:] {
			if c.Rank != cards[0].Rank {
				return ErrInvalidPlay
			}
		}
	}

	if m.trickLead != nil {
		if len(cards) != len(m.trickLead) {
			return ErrInvalidPlay
		}
		if !highest(cards).Beats(highest(m.trickLead)) {
			return ErrInvalidPlay
		}
	}

	remaining, ok := removeCards(m.hands[seat], cards)
	if !ok {
		return ErrInvalidPlay
	}

	m.hands[seat] = remaining
	played := make([]Card, len(cards))
	copy(played, cards)
	sortCards(played)
	m.trickLead = played
	m.trickLeader = seat
	m.clearPassed()

	if len(remaining) == 0 {
		m.finish(seat)
		return nil
	}

	m.turn = m.nextActive(seat)
	return nil
}

func (m *Match) pass(seat int) error {
	if m.trickLead == nil {
		// The trick leader has to play something.
		return ErrInvalidPlay
	}

	m.passed[seat] = true
	next := m.nextActive(seat)
	if next == m.trickLeader {
		// Everyone else passed; leader opens a fresh trick.
		m.trickLead = nil
		m.clearPassed()
	}
	m.turn = next
	return nil
}

// AutoPlay performs the stand-in action for a disconnected or auto seat: the
// lowest legal same-rank set, otherwise a pass. Returns the cards played
// (nil for a pass).
func (m *Match) AutoPlay(seat int) ([]Card, error) {
	if m.phase != PhasePlaying {
		return nil, ErrWrongPhase
	}
	if seat != m.turn {
		return nil, ErrNotYourTurn
	}

	if play := m.lowestLegalPlay(seat); play != nil {
		return play, m.Play(seat, play)
	}
	return nil, m.Play(seat, nil)
}

func (m *Match) lowestLegalPlay(seat int) []Card {
	hand := m.hands[seat]

	if m.trickLead == nil {
		if len(hand) == 0 {
			return nil
		}
		return []Card{hand[0]} // hand is sorted, lowest single
	}

	want := len(m.trickLead)
	top := highest(m.trickLead)

	// Hands are kept sorted, so same-rank cards are adjacent.
	for i := 0; i+want <= len(hand); i++ {
		set := hand[i : i+want]
		sameRank := true
		for _, c := range set[1:] {
			if c.Rank != set[0].Rank {
				sameRank = false
				break
			}
		}
		if sameRank && highest(set).Beats(top) {
			out := make([]Card, want)
			copy(out, set)
			return out
		}
	}
	return nil
}

func (m *Match) finish(seat int) {
	m.phase = PhaseFinished
	m.winner = seat

	// Losers pay the dealer call per card left in hand; the pot goes to the
	// winner.
	pot := 0
	for s := 0; s < m.numSeats; s++ {
		if s == seat {
			continue
		}
		loss := len(m.hands[s]) * m.call
		m.scores[s] -= loss
		pot += loss
	}
	m.scores[seat] += pot
}

func (m *Match) nextActive(seat int) int {
	next := seat
	for i := 0; i < m.numSeats; i++ {
		next = (next + 1) % m.numSeats
		if !m.passed[next] {
			return next
		}
	}
	return seat
}

func (m *Match) clearPassed() {
	for i := range m.passed {
		m.passed[i] = false
	}
}

func highest(cards []Card) Card {
	best := cards[0]
	for _, c := range cards[1:] {
		if c.Beats(best) {
			best = c
		}
	}
	return best
}

// NeedsAction reports whether the match is waiting on this seat right now:
// an unflipped card during dealer selection, the call when the seat deals,
// or the turn during play.
func (m *Match) NeedsAction(seat int) bool {
	if seat < 0 || seat >= m.numSeats {
		return false
	}
	switch m.phase {
	case PhaseDealerSelection:
		return m.flipped[seat] == nil
	case PhaseCalling:
		return seat == m.dealer
	case PhasePlaying:
		return seat == m.turn
	default:
		return false
	}
}

// AutoAct performs the stand-in action for whatever the seat currently owes:
// flip the first untaken card, call the minimum, or make the lowest legal
// play.
func (m *Match) AutoAct(seat int) error {
	switch m.phase {
	case PhaseDealerSelection:
		for i, taken := range m.taken {
			if !taken {
				_, _, err := m.SelectDealerCard(seat, i)
				return err
			}
		}
		return ErrInvalidPlay
	case PhaseCalling:
		return m.DealerCall(seat, 1)
	case PhasePlaying:
		_, err := m.AutoPlay(seat)
		return err
	default:
		return ErrWrongPhase
	}
}

// Snapshot is the full per-seat view of the match: the seat's own hand plus
// everything public. Applied from blank state it reproduces what a client
// that stayed connected would be showing.
type Snapshot struct {
	Phase       string  `json:"phase"`
	Dealer      int     `json:"dealer"`
	Call        int     `json:"call"`
	Turn        int     `json:"turn"`
	Hand        []Card  `json:"hand"`
	CardCounts  []int   `json:"cardCounts"`
	Auto        []bool  `json:"auto"`
	TrickLead   []Card  `json:"trickLead,omitempty"`
	TrickLeader int     `json:"trickLeader"`
	Passed      []bool  `json:"passed"`
	Flipped     []*Card `json:"flipped,omitempty"`
	Winner      int     `json:"winner"`
	Scores      []int   `json:"scores"`
}

func (m *Match) Snapshot(seat int) Snapshot {
	snap := Snapshot{
		Phase:       string(m.phase),
		Dealer:      m.dealer,
		Call:        m.call,
		Turn:        m.turn,
		Hand:        m.Hand(seat),
		CardCounts:  make([]int, m.numSeats),
		Auto:        make([]bool, m.numSeats),
		TrickLeader: m.trickLeader,
		Passed:      make([]bool, m.numSeats),
		Winner:      m.winner,
		Scores:      m.Scores(),
	}

	for s := 0; s < m.numSeats; s++ {
		snap.CardCounts[s] = m.HandSize(s)
		snap.Auto[s] = m.auto[s]
		snap.Passed[s] = m.passed[s]
	}

	if m.trickLead != nil {
		snap.TrickLead = make([]Card, len(m.trickLead))
		copy(snap.TrickLead, m.trickLead)
	}

	if m.phase == PhaseDealerSelection || m.phase == PhaseCalling {
		snap.Flipped = make([]*Card, m.numSeats)
		copy(snap.Flipped, m.flipped)
	}

	return snap
}
