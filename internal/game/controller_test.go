package game

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"andarbahar_service/internal/apperr"
	"andarbahar_service/internal/card"
	"andarbahar_service/internal/ledger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Publish(gameID string, ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.EventType())
	}
	return out
}

type stubSettler struct {
	calls chan string
}

func (s *stubSettler) SettleGame(ctx context.Context, gameID string) error {
	s.calls <- gameID
	return nil
}

type fixture struct {
	mgr     *Manager
	repo    *MemoryRepository
	ledger  *ledger.Ledger
	sink    *recordingSink
	settler *stubSettler
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.TickInterval = 0
	cfg.Round1Seconds = 3
	cfg.Round2Seconds = 2
	return cfg
}

func newFixture(t *testing.T, cfg Config) *fixture {
	log := zaptest.NewLogger(t)
	f := &fixture{
		repo:    NewMemoryRepository(),
		ledger:  ledger.NewLedger(ledger.NewMemoryRepository(), log),
		sink:    &recordingSink{},
		settler: &stubSettler{calls: make(chan string, 8)},
	}
	f.mgr = NewManager(cfg, f.repo, f.ledger, f.sink, f.settler, log)
	t.Cleanup(f.mgr.Close)
	return f
}

func (f *fixture) start(t *testing.T, table, opening string) *Controller {
	g, err := f.mgr.StartGame(context.Background(), table, card.MustParse(opening))
	require.NoError(t, err)
	c, err := f.mgr.Controller(g.GameID)
	require.NoError(t, err)
	return c
}

func amt(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func phaseOf(t *testing.T, c *Controller) Game {
	g, _, err := c.Snapshot(context.Background())
	require.NoError(t, err)
	return g
}

func TestSetOpeningCardOpensRound1(t *testing.T) {
	f := newFixture(t, testConfig())
	c := f.start(t, "t1", "7H")

	g := phaseOf(t, c)
	assert.Equal(t, PhaseBettingR1, g.Phase)
	assert.Equal(t, 1, g.Round)
	assert.Equal(t, 3, g.TimerSeconds)

	_, err := c.SetOpeningCard(context.Background(), card.MustParse("8H"))
	assert.ErrorIs(t, err, apperr.ErrPhase)
}

func TestRound1AndarWins(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()
	c := f.start(t, "t1", "7H")

	res, err := c.AdmitBet(ctx, "u1", ledger.SideAndar, amt(1000), 1)
	require.NoError(t, err)
	assert.True(t, res.Aggregate.Equal(amt(1000)))
	_, err = c.AdmitBet(ctx, "u2", ledger.SideBahar, amt(500), 1)
	require.NoError(t, err)

	_, err = c.SetTimer(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, PhaseDealingR1, phaseOf(t, c).Phase)

	deal, err := c.DealCard(ctx, card.MustParse("7S"), ledger.SideAndar, 0)
	require.NoError(t, err)
	assert.Equal(t, PhaseCompleted, deal.Phase)
	require.NotNil(t, deal.Winner)
	assert.Equal(t, ledger.SideAndar, *deal.Winner)
	assert.True(t, deal.Card.IsWinningCard)
	assert.Equal(t, 1, deal.Card.Position)

	select {
	case id := <-f.settler.calls:
		assert.Equal(t, c.GameID(), id)
	case <-time.After(2 * time.Second):
		t.Fatal("settlement was not triggered")
	}

	_, err = c.DealCard(ctx, card.MustParse("7D"), ledger.SideBahar, 0)
	assert.ErrorIs(t, err, apperr.ErrPhase)

	assert.Contains(t, f.sink.types(), "game_complete")
}

func TestNoMatchAdvancesThroughRounds(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()
	c := f.start(t, "t1", "10H")

	_, err := c.ForceAdvance(ctx, "")
	require.NoError(t, err)

	deal, err := c.DealCard(ctx, card.MustParse("2C"), ledger.SideAndar, 0)
	require.NoError(t, err)
	assert.Equal(t, PhaseBettingR2, deal.Phase)
	g := phaseOf(t, c)
	assert.Equal(t, 2, g.Round)
	assert.Equal(t, 2, g.TimerSeconds)

	_, err = c.AdmitBet(ctx, "u1", ledger.SideBahar, amt(300), 1)
	assert.ErrorIs(t, err, apperr.ErrPhase, "round 1 bets are closed in round 2")
	_, err = c.AdmitBet(ctx, "u1", ledger.SideBahar, amt(300), 2)
	require.NoError(t, err)

	require.NoError(t, c.Tick(ctx))
	require.NoError(t, c.Tick(ctx))
	assert.Equal(t, PhaseDealingR2, phaseOf(t, c).Phase)

	deal, err = c.DealCard(ctx, card.MustParse("QC"), ledger.SideBahar, 0)
	require.NoError(t, err)
	assert.Equal(t, PhaseFinalDraw, deal.Phase)
	assert.Equal(t, 3, deal.Round)

	_, err = c.AdmitBet(ctx, "u1", ledger.SideAndar, amt(100), 2)
	assert.ErrorIs(t, err, apperr.ErrPhase)

	deal, err = c.DealCard(ctx, card.MustParse("3D"), ledger.SideAndar, 0)
	require.NoError(t, err)
	assert.Equal(t, PhaseFinalDraw, deal.Phase)

	deal, err = c.DealCard(ctx, card.MustParse("10S"), ledger.SideBahar, 0)
	require.NoError(t, err)
	assert.Equal(t, PhaseCompleted, deal.Phase)
	assert.Equal(t, 3, deal.Round)
	assert.Equal(t, ledger.SideBahar, *deal.Winner)
	assert.Equal(t, 4, deal.Card.Position)
}

func TestBetRejectedOnceTimerReachesZero(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()
	c := f.start(t, "t1", "7H")

	for i := 0; i < 3; i++ {
		require.NoError(t, c.Tick(ctx))
	}
	g := phaseOf(t, c)
	assert.Equal(t, PhaseDealingR1, g.Phase)
	assert.Equal(t, 0, g.TimerSeconds)

	_, err := c.AdmitBet(ctx, "u1", ledger.SideAndar, amt(100), 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrPhase)
	assert.Equal(t, "Betting is closed", err.Error())
}

func TestAdmitBetValidation(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()
	c := f.start(t, "t1", "7H")

	tests := []struct {
		name   string
		side   ledger.Side
		amount decimal.Decimal
		round  int
		kind   error
		msg    string
	}{
		{"invalid side", ledger.Side("middle"), amt(100), 1, apperr.ErrValidation, "Invalid side"},
		{"below minimum", ledger.SideAndar, amt(5), 1, apperr.ErrValidation, "Invalid bet amount"},
		{"above maximum", ledger.SideAndar, amt(100001), 1, apperr.ErrValidation, "Invalid bet amount"},
		{"negative", ledger.SideBahar, amt(-10), 1, apperr.ErrValidation, "Invalid bet amount"},
		{"sub-cent amount", ledger.SideAndar, decimal.RequireFromString("10.005"), 1, apperr.ErrValidation, "Invalid bet amount"},
		{"wrong round", ledger.SideAndar, amt(100), 2, apperr.ErrPhase, "Betting is closed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.AdmitBet(ctx, "u1", tt.side, tt.amount, tt.round)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)
			assert.Equal(t, tt.msg, err.Error())
		})
	}

	totals, err := f.ledger.Aggregates(ctx, c.GameID())
	require.NoError(t, err)
	assert.True(t, totals.Total().IsZero())
}

func TestConcurrentAdmitBet(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()
	c := f.start(t, "t1", "7H")

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.AdmitBet(ctx, "u1", ledger.SideAndar, amt(100), 1); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("unexpected error: %v", err)
	}

	total, err := f.ledger.Aggregate(ctx, c.GameID(), 1, ledger.SideAndar)
	require.NoError(t, err)
	assert.True(t, total.Equal(amt(5000)), "got %s", total)
}

func TestDealPositions(t *testing.T) {
	cfg := testConfig()
	cfg.CardsPerRound = 3
	f := newFixture(t, cfg)
	ctx := context.Background()
	c := f.start(t, "t1", "7H")

	_, err := c.DealCard(ctx, card.MustParse("2C"), ledger.SideAndar, 0)
	assert.ErrorIs(t, err, apperr.ErrPhase, "no dealing while betting")

	_, err = c.ForceAdvance(ctx, PhaseDealingR1)
	require.NoError(t, err)

	_, err = c.DealCard(ctx, card.MustParse("2C"), ledger.SideAndar, 1)
	require.NoError(t, err)

	_, err = c.DealCard(ctx, card.MustParse("3C"), ledger.SideBahar, 1)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = c.DealCard(ctx, card.MustParse("3C"), ledger.SideBahar, 5)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = c.DealCard(ctx, card.MustParse("3C"), ledger.Side("x"), 0)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	deal, err := c.DealCard(ctx, card.MustParse("3C"), ledger.SideBahar, 2)
	require.NoError(t, err)
	assert.Equal(t, PhaseDealingR1, deal.Phase)

	dealt, err := f.repo.DealtCards(ctx, c.GameID())
	require.NoError(t, err)
	assert.Len(t, dealt, 2)
}

func TestSetTimerAndForceAdvance(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()
	c := f.start(t, "t1", "7H")

	g, err := c.SetTimer(ctx, 45)
	require.NoError(t, err)
	assert.Equal(t, 45, g.TimerSeconds)

	_, err = c.SetTimer(ctx, -1)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = c.ForceAdvance(ctx, PhaseBettingR2)
	assert.ErrorIs(t, err, apperr.ErrPhase)

	g, err = c.ForceAdvance(ctx, PhaseDealingR1)
	require.NoError(t, err)
	assert.Equal(t, PhaseDealingR1, g.Phase)

	_, err = c.ForceAdvance(ctx, PhaseDealingR1)
	assert.ErrorIs(t, err, apperr.ErrPhase)
	_, err = c.SetTimer(ctx, 10)
	assert.ErrorIs(t, err, apperr.ErrPhase)
}

func TestForceResetRefundsWithoutSettlement(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()
	c := f.start(t, "t1", "7H")

	_, err := c.AdmitBet(ctx, "u1", ledger.SideAndar, amt(1000), 1)
	require.NoError(t, err)
	_, err = c.AdmitBet(ctx, "u2", ledger.SideBahar, amt(500), 1)
	require.NoError(t, err)

	g, err := c.ForceReset(ctx, "wrong opening card")
	require.NoError(t, err)
	assert.Equal(t, PhaseCompleted, g.Phase)
	assert.True(t, g.IsReset())
	assert.Nil(t, g.Winner)

	totals, err := f.ledger.Aggregates(ctx, c.GameID())
	require.NoError(t, err)
	assert.True(t, totals.Total().IsZero())

	bets, err := f.ledger.BetsForGame(ctx, c.GameID())
	require.NoError(t, err)
	for _, b := range bets {
		assert.Equal(t, ledger.BetStatusRefunded, b.Status)
	}

	_, err = c.ForceReset(ctx, "again")
	assert.ErrorIs(t, err, apperr.ErrPhase)

	select {
	case id := <-f.settler.calls:
		t.Fatalf("reset game %s must not be settled", id)
	case <-time.After(100 * time.Millisecond):
	}
}

type flakyRepo struct {
	*MemoryRepository
	failSave atomic.Bool
}

func (r *flakyRepo) SaveGame(ctx context.Context, g *Game) error {
	if r.failSave.Load() {
		return errors.New("games table unavailable")
	}
	return r.MemoryRepository.SaveGame(ctx, g)
}

type flakyLedger struct {
	*ledger.Ledger
	failVoid atomic.Bool
}

func (l *flakyLedger) VoidGame(ctx context.Context, gameID string) (int, error) {
	if l.failVoid.Load() {
		return 0, errors.New("bets table unavailable")
	}
	return l.Ledger.VoidGame(ctx, gameID)
}

func TestForceResetKeepsBetsWhenGameSaveFails(t *testing.T) {
	log := zaptest.NewLogger(t)
	repo := &flakyRepo{MemoryRepository: NewMemoryRepository()}
	bets := &flakyLedger{Ledger: ledger.NewLedger(ledger.NewMemoryRepository(), log)}
	mgr := NewManager(testConfig(), repo, bets, &recordingSink{}, &stubSettler{calls: make(chan string, 8)}, log)
	t.Cleanup(mgr.Close)
	ctx := context.Background()

	g, err := mgr.StartGame(ctx, "t1", card.MustParse("7H"))
	require.NoError(t, err)
	c, err := mgr.Controller(g.GameID)
	require.NoError(t, err)
	_, err = c.AdmitBet(ctx, "u1", ledger.SideAndar, amt(1000), 1)
	require.NoError(t, err)

	repo.failSave.Store(true)
	_, err = c.ForceReset(ctx, "misdeal")
	require.Error(t, err)

	assert.Equal(t, PhaseBettingR1, phaseOf(t, c).Phase)
	placed, err := bets.BetsForGame(ctx, g.GameID)
	require.NoError(t, err)
	require.Len(t, placed, 1)
	assert.Equal(t, ledger.BetStatusActive, placed[0].Status)
	total, err := bets.Aggregate(ctx, g.GameID, 1, ledger.SideAndar)
	require.NoError(t, err)
	assert.True(t, total.Equal(amt(1000)))

	// the game carries on and a later reset still refunds the bet
	repo.failSave.Store(false)
	_, err = c.AdmitBet(ctx, "u2", ledger.SideBahar, amt(200), 1)
	require.NoError(t, err)
	_, err = c.ForceReset(ctx, "misdeal")
	require.NoError(t, err)
	placed, err = bets.BetsForGame(ctx, g.GameID)
	require.NoError(t, err)
	for _, b := range placed {
		assert.Equal(t, ledger.BetStatusRefunded, b.Status)
	}
}

func TestForceResetRetriesVoidAfterFailure(t *testing.T) {
	log := zaptest.NewLogger(t)
	bets := &flakyLedger{Ledger: ledger.NewLedger(ledger.NewMemoryRepository(), log)}
	mgr := NewManager(testConfig(), NewMemoryRepository(), bets, &recordingSink{}, &stubSettler{calls: make(chan string, 8)}, log)
	t.Cleanup(mgr.Close)
	ctx := context.Background()

	g, err := mgr.StartGame(ctx, "t1", card.MustParse("7H"))
	require.NoError(t, err)
	c, err := mgr.Controller(g.GameID)
	require.NoError(t, err)
	_, err = c.AdmitBet(ctx, "u1", ledger.SideAndar, amt(1000), 1)
	require.NoError(t, err)

	bets.failVoid.Store(true)
	_, err = c.ForceReset(ctx, "misdeal")
	require.Error(t, err)
	reset := phaseOf(t, c)
	assert.Equal(t, PhaseCompleted, reset.Phase)
	assert.True(t, reset.IsReset())

	_, err = c.AdmitBet(ctx, "u1", ledger.SideAndar, amt(100), 1)
	assert.ErrorIs(t, err, apperr.ErrPhase)

	bets.failVoid.Store(false)
	_, err = c.ForceReset(ctx, "misdeal")
	require.NoError(t, err)
	placed, err := bets.BetsForGame(ctx, g.GameID)
	require.NoError(t, err)
	require.Len(t, placed, 1)
	assert.Equal(t, ledger.BetStatusRefunded, placed[0].Status)

	_, err = c.ForceReset(ctx, "again")
	assert.ErrorIs(t, err, apperr.ErrPhase)
}

func TestTickerClosesBetting(t *testing.T) {
	cfg := testConfig()
	cfg.Round1Seconds = 2
	cfg.TickInterval = 10 * time.Millisecond
	f := newFixture(t, cfg)
	c := f.start(t, "t1", "7H")

	require.Eventually(t, func() bool {
		g, _, err := c.Snapshot(context.Background())
		return err == nil && g.Phase == PhaseDealingR1
	}, 2*time.Second, 5*time.Millisecond)

	_, err := c.AdmitBet(context.Background(), "u1", ledger.SideAndar, amt(100), 1)
	assert.ErrorIs(t, err, apperr.ErrPhase)
}
