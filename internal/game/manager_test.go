package game

import (
	"context"
	"testing"

	"andarbahar_service/internal/apperr"
	"andarbahar_service/internal/card"
	"andarbahar_service/internal/ledger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestOneActiveGamePerTable(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	first, err := f.mgr.CreateGame(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, PhaseIdle, first.Phase)

	_, err = f.mgr.CreateGame(ctx, "t1")
	assert.ErrorIs(t, err, apperr.ErrConflict)

	other, err := f.mgr.CreateGame(ctx, "t2")
	require.NoError(t, err)
	assert.NotEqual(t, first.GameID, other.GameID)

	c, err := f.mgr.Controller(first.GameID)
	require.NoError(t, err)
	_, err = c.ForceReset(ctx, "operator test")
	require.NoError(t, err)

	next, err := f.mgr.CreateGame(ctx, "t1")
	require.NoError(t, err)
	assert.NotEqual(t, first.GameID, next.GameID)

	_, err = f.mgr.Controller(first.GameID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	// the finished game is still readable from storage
	s, err := f.mgr.Snapshot(ctx, first.GameID)
	require.NoError(t, err)
	assert.Equal(t, PhaseCompleted, s.Phase)
	assert.True(t, s.Reset)
}

func TestCreateGameRequiresTable(t *testing.T) {
	f := newFixture(t, testConfig())
	_, err := f.mgr.CreateGame(context.Background(), "  ")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestSnapshotUnknownGame(t *testing.T) {
	f := newFixture(t, testConfig())
	_, err := f.mgr.Snapshot(context.Background(), uuid.NewString())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, "Game not found", err.Error())
}

func TestResyncMatchesControllerState(t *testing.T) {
	cfg := testConfig()
	cfg.CardsPerRound = 4
	f := newFixture(t, cfg)
	ctx := context.Background()
	c := f.start(t, "t1", "KH")

	_, err := c.AdmitBet(ctx, "u1", ledger.SideAndar, amt(1000), 1)
	require.NoError(t, err)
	_, err = c.AdmitBet(ctx, "u2", ledger.SideBahar, amt(500), 1)
	require.NoError(t, err)
	_, err = c.ForceAdvance(ctx, PhaseDealingR1)
	require.NoError(t, err)

	for _, d := range []struct {
		card string
		side ledger.Side
	}{{"2C", ledger.SideAndar}, {"10D", ledger.SideBahar}, {"QS", ledger.SideAndar}} {
		_, err := c.DealCard(ctx, card.MustParse(d.card), d.side, 0)
		require.NoError(t, err)
	}

	s, err := f.mgr.Snapshot(ctx, c.GameID())
	require.NoError(t, err)

	g, dealt, err := c.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, g.Phase, s.Phase)
	assert.Equal(t, PhaseDealingR1, s.Phase)
	assert.Equal(t, g.TimerSeconds, s.Timer)
	assert.Len(t, dealt, 3)
	assert.Equal(t, []card.Card{card.MustParse("2C"), card.MustParse("QS")}, s.AndarCards)
	assert.Equal(t, []card.Card{card.MustParse("10D")}, s.BaharCards)
	assert.Equal(t, "KH", s.OpeningCard.String())
	assert.Nil(t, s.Winner)
	assert.True(t, s.BettingStats.AndarBets.Equal(amt(1000)))
	assert.True(t, s.BettingStats.BaharBets.Equal(amt(500)))
	assert.True(t, s.BettingStats.TotalBets.Equal(amt(1500)))
}

func TestResumeReloadsLiveGames(t *testing.T) {
	log := zaptest.NewLogger(t)
	repo := NewMemoryRepository()
	bets := ledger.NewLedger(ledger.NewMemoryRepository(), log)
	ctx := context.Background()

	first := NewManager(testConfig(), repo, bets, nil, nil, log)
	g, err := first.StartGame(ctx, "t1", card.MustParse("5D"))
	require.NoError(t, err)
	c, err := first.Controller(g.GameID)
	require.NoError(t, err)
	_, err = c.ForceAdvance(ctx, "")
	require.NoError(t, err)
	_, err = c.DealCard(ctx, card.MustParse("9C"), ledger.SideAndar, 0)
	require.NoError(t, err)
	first.Close()

	settler := &stubSettler{calls: make(chan string, 1)}
	second := NewManager(testConfig(), repo, bets, nil, settler, log)
	t.Cleanup(second.Close)
	require.NoError(t, second.Resume(ctx))

	resumed, err := second.Controller(g.GameID)
	require.NoError(t, err)
	state, dealt, err := resumed.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, PhaseBettingR2, state.Phase)
	assert.Len(t, dealt, 1)

	_, err = second.CreateGame(ctx, "t1")
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = resumed.ForceAdvance(ctx, "")
	require.NoError(t, err)
	deal, err := resumed.DealCard(ctx, card.MustParse("5S"), ledger.SideBahar, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, deal.Card.Position)
	assert.Equal(t, g.GameID, <-settler.calls)
}
