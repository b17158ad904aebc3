package tienlen

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMatch(t *testing.T, numSeats int, seed int64) *Match {
	t.Helper()
	return NewMatch(numSeats, WithRand(rand.New(rand.NewSource(seed))))
}

// advanceToPlaying flips a card for every seat and has the dealer call.
func advanceToPlaying(t *testing.T, m *Match, call int) {
	t.Helper()
	for seat := 0; seat < m.NumSeats(); seat++ {
		_, _, err := m.SelectDealerCard(seat, seat)
		require.NoError(t, err)
	}
	require.Equal(t, PhaseCalling, m.Phase())
	require.NoError(t, m.DealerCall(m.Dealer(), call))
	require.Equal(t, PhasePlaying, m.Phase())
}

func TestDealerSelection(t *testing.T) {
	m := newTestMatch(t, 4, 1)
	require.Equal(t, PhaseDealerSelection, m.Phase())

	var flipped []Card
	for seat := 0; seat < 4; seat++ {
		card, done, err := m.SelectDealerCard(seat, seat*3)
		require.NoError(t, err)
		flipped = append(flipped, card)
		assert.Equal(t, seat == 3, done)
	}

	// Highest flipped card deals.
	best := 0
	for s := 1; s < 4; s++ {
		if flipped[s].Beats(flipped[best]) {
			best = s
		}
	}
	assert.Equal(t, best, m.Dealer())
	assert.Equal(t, PhaseCalling, m.Phase())
}

func TestSelectDealerCardRejectsTakenIndex(t *testing.T) {
	m := newTestMatch(t, 4, 1)

	_, _, err := m.SelectDealerCard(0, 10)
	require.NoError(t, err)

	_, _, err = m.SelectDealerCard(1, 10)
	assert.ErrorIs(t, err, ErrInvalidPlay)
}

func TestSelectDealerCardRejectsSecondFlip(t *testing.T) {
	m := newTestMatch(t, 4, 1)

	_, _, err := m.SelectDealerCard(0, 0)
	require.NoError(t, err)

	_, _, err = m.SelectDealerCard(0, 1)
	assert.ErrorIs(t, err, ErrInvalidPlay)
}

func TestDealerCallValidation(t *testing.T) {
	m := newTestMatch(t, 4, 2)
	for seat := 0; seat < 4; seat++ {
		_, _, err := m.SelectDealerCard(seat, seat)
		require.NoError(t, err)
	}

	notDealer := (m.Dealer() + 1) % 4
	assert.ErrorIs(t, m.DealerCall(notDealer, 2), ErrNotYourTurn)
	assert.ErrorIs(t, m.DealerCall(m.Dealer(), 0), ErrInvalidPlay)
	assert.ErrorIs(t, m.DealerCall(m.Dealer(), 5), ErrInvalidPlay)

	require.NoError(t, m.DealerCall(m.Dealer(), 3))
	assert.Equal(t, 3, m.Call())
}

func TestDealGivesThirteenSortedCards(t *testing.T) {
	m := newTestMatch(t, 4, 3)
	advanceToPlaying(t, m, 1)

	for seat := 0; seat < 4; seat++ {
		hand := m.Hand(seat)
		require.Len(t, hand, 13)
		for i := 1; i < len(hand); i++ {
			assert.Less(t, hand[i-1].Order(), hand[i].Order())
		}
	}
	assert.Equal(t, m.Dealer(), m.Turn())
}

func TestPlaySingleAdvancesTurn(t *testing.T) {
	m := newTestMatch(t, 4, 4)
	advanceToPlaying(t, m, 1)

	leader := m.Turn()
	lowest := m.Hand(leader)[0]
	require.NoError(t, m.Play(leader, []Card{lowest}))

	assert.Len(t, m.Hand(leader), 12)
	assert.Equal(t, (leader+1)%4, m.Turn())
	assert.NotContains(t, m.Hand(leader), lowest)
}

func TestPlayOutOfTurn(t *testing.T) {
	m := newTestMatch(t, 4, 5)
	advanceToPlaying(t, m, 1)

	wrong := (m.Turn() + 1) % 4
	err := m.Play(wrong, []Card{m.Hand(wrong)[0]})
	assert.ErrorIs(t, err, ErrNotYourTurn)
}

func TestPlayCardNotInHand(t *testing.T) {
	m := newTestMatch(t, 4, 6)
	advanceToPlaying(t, m, 1)

	leader := m.Turn()
	other := (leader + 1) % 4
	err := m.Play(leader, []Card{m.Hand(other)[0]})
	assert.ErrorIs(t, err, ErrInvalidPlay)
}

func TestFollowMustBeatLead(t *testing.T) {
	m := newTestMatch(t, 4, 7)
	advanceToPlaying(t, m, 1)

	leader := m.Turn()
	hand := m.Hand(leader)
	top := hand[len(hand)-1]
	require.NoError(t, m.Play(leader, []Card{top}))

	next := m.Turn()
	weakest := m.Hand(next)[0]
	if !weakest.Beats(top) {
		assert.ErrorIs(t, m.Play(next, []Card{weakest}), ErrInvalidPlay)
	}
}

func TestFollowMustMatchCount(t *testing.T) {
	m := newTestMatch(t, 4, 8)
	advanceToPlaying(t, m, 1)

	leader := m.Turn()
	require.NoError(t, m.Play(leader, []Card{m.Hand(leader)[0]}))

	next := m.Turn()
	hand := m.Hand(next)
	pair := findPair(hand)
	if pair != nil {
		assert.ErrorIs(t, m.Play(next, pair), ErrInvalidPlay)
	}
}

func findPair(hand []Card) []Card {
	for i := 0; i+1 < len(hand); i++ {
		if hand[i].Rank == hand[i+1].Rank {
			return []Card{hand[i], hand[i+1]}
		}
	}
	return nil
}

func TestMixedRankSetRejected(t *testing.T) {
	m := newTestMatch(t, 4, 9)
	advanceToPlaying(t, m, 1)

	leader := m.Turn()
	hand := m.Hand(leader)
	mixed := []Card{hand[0], hand[len(hand)-1]}
	if mixed[0].Rank != mixed[1].Rank {
		assert.ErrorIs(t, m.Play(leader, mixed), ErrInvalidPlay)
	}
}

func TestLeaderCannotPass(t *testing.T) {
	m := newTestMatch(t, 4, 10)
	advanceToPlaying(t, m, 1)

	assert.ErrorIs(t, m.Play(m.Turn(), nil), ErrInvalidPlay)
}

func TestAllOthersPassingResetsTrick(t *testing.T) {
	m := newTestMatch(t, 4, 11)
	advanceToPlaying(t, m, 1)

	leader := m.Turn()
	require.NoError(t, m.Play(leader, []Card{m.Hand(leader)[0]}))

	for i := 0; i < 3; i++ {
		require.NoError(t, m.Play(m.Turn(), nil))
	}

	// Leader opens a fresh trick.
	assert.Equal(t, leader, m.Turn())
	snap := m.Snapshot(leader)
	assert.Empty(t, snap.TrickLead)
	for _, passed := range snap.Passed {
		assert.False(t, passed)
	}
}

func TestAutoPlayRunsMatchToCompletion(t *testing.T) {
	m := newTestMatch(t, 4, 12)
	advanceToPlaying(t, m, 2)

	for i := 0; i < 10000 && !m.Finished(); i++ {
		_, err := m.AutoPlay(m.Turn())
		require.NoError(t, err)
	}
	require.True(t, m.Finished())

	winner := m.Winner()
	require.GreaterOrEqual(t, winner, 0)
	assert.Empty(t, m.Hand(winner))

	// Zero-sum: losers pay the winner per card left, times the call.
	scores := m.Scores()
	sum := 0
	for seat, score := range scores {
		sum += score
		if seat != winner {
			assert.Equal(t, -len(m.Hand(seat))*m.Call(), score)
		}
	}
	assert.Zero(t, sum)
	assert.Greater(t, scores[winner], 0)
}

func TestAutoActCoversEveryPhase(t *testing.T) {
	m := newTestMatch(t, 3, 13)

	for seat := 0; seat < 3; seat++ {
		require.True(t, m.NeedsAction(seat))
		require.NoError(t, m.AutoAct(seat))
	}
	require.Equal(t, PhaseCalling, m.Phase())

	require.True(t, m.NeedsAction(m.Dealer()))
	require.NoError(t, m.AutoAct(m.Dealer()))
	require.Equal(t, PhasePlaying, m.Phase())
	assert.Equal(t, 1, m.Call())

	turn := m.Turn()
	require.True(t, m.NeedsAction(turn))
	before := len(m.Hand(turn))
	require.NoError(t, m.AutoAct(turn))
	assert.Equal(t, before-1, len(m.Hand(turn)))
}

func TestSnapshotHidesOtherHands(t *testing.T) {
	m := newTestMatch(t, 4, 14)
	advanceToPlaying(t, m, 1)

	snap := m.Snapshot(2)
	assert.Len(t, snap.Hand, 13)
	assert.Equal(t, []int{13, 13, 13, 13}, snap.CardCounts)

	public := m.Snapshot(-1)
	assert.Empty(t, public.Hand)
	assert.Equal(t, []int{13, 13, 13, 13}, public.CardCounts)
}

func TestSnapshotIncludesFlippedDuringSelection(t *testing.T) {
	m := newTestMatch(t, 4, 15)
	_, _, err := m.SelectDealerCard(1, 5)
	require.NoError(t, err)

	snap := m.Snapshot(0)
	require.Len(t, snap.Flipped, 4)
	assert.Nil(t, snap.Flipped[0])
	assert.NotNil(t, snap.Flipped[1])
}

func TestSetAutoBounds(t *testing.T) {
	m := newTestMatch(t, 4, 16)

	assert.ErrorIs(t, m.SetAuto(-1, true), ErrBadSeat)
	assert.ErrorIs(t, m.SetAuto(4, true), ErrBadSeat)
	require.NoError(t, m.SetAuto(2, true))
	assert.True(t, m.Auto(2))
}

func TestWrongPhaseErrors(t *testing.T) {
	m := newTestMatch(t, 4, 17)

	assert.ErrorIs(t, m.DealerCall(0, 1), ErrWrongPhase)
	assert.ErrorIs(t, m.Play(0, nil), ErrWrongPhase)

	advanceToPlaying(t, m, 1)
	_, _, err := m.SelectDealerCard(0, 0)
	assert.ErrorIs(t, err, ErrWrongPhase)
}
