package game

import (
	"context"
	"sync"
	"time"

	"andarbahar_service/internal/apperr"
	"andarbahar_service/internal/card"
	"andarbahar_service/internal/ledger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	MaxRetries = 3
	RetryDelay = 10 * time.Millisecond
)

type Config struct {
	Round1Seconds int
	Round2Seconds int
	// TickInterval is the timer cadence; zero disables the internal ticker.
	TickInterval  time.Duration
	CardsPerRound int
	MinBet        decimal.Decimal
	MaxBet        decimal.Decimal
}

func DefaultConfig() Config {
	return Config{
		Round1Seconds: 30,
		Round2Seconds: 20,
		TickInterval:  time.Second,
		CardsPerRound: 1,
		MinBet:        decimal.NewFromInt(10),
		MaxBet:        decimal.NewFromInt(100000),
	}
}

func (c Config) bettingSeconds(round int) int {
	if round == 1 {
		return c.Round1Seconds
	}
	return c.Round2Seconds
}

// BetRecorder is the slice of the betting ledger the controller needs.
type BetRecorder interface {
	RecordBet(ctx context.Context, req ledger.BetRequest) (*ledger.Bet, decimal.Decimal, error)
	Aggregates(ctx context.Context, gameID string) (ledger.RoundTotals, error)
	VoidGame(ctx context.Context, gameID string) (int, error)
}

type BetResult struct {
	Bet       *ledger.Bet     `json:"bet"`
	Aggregate decimal.Decimal `json:"aggregate"`
	Stats     BettingStats    `json:"bettingStats"`
}

type DealResult struct {
	Card   DealtCard    `json:"card"`
	Phase  Phase        `json:"phase"`
	Round  int          `json:"round"`
	Winner *ledger.Side `json:"winner"`
}

// Controller owns one game. Every operation runs on the controller's own
// goroutine, so operations on a game are applied strictly in arrival order
// and timer ticks cannot interleave with them.
type Controller struct {
	cfg        Config
	repo       Repository
	bets       BetRecorder
	sink       EventSink
	log        *zap.Logger
	onComplete func(Game)

	id    string
	game  Game
	dealt []DealtCard

	cmdCh    chan func()
	ticker   *time.Ticker
	tick     <-chan time.Time
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newController(cfg Config, g Game, dealt []DealtCard, repo Repository, bets BetRecorder, sink EventSink, log *zap.Logger, onComplete func(Game)) *Controller {
	if sink == nil {
		sink = NopSink{}
	}
	c := &Controller{
		cfg:        cfg,
		repo:       repo,
		bets:       bets,
		sink:       sink,
		log:        log.With(zap.String("game_id", g.GameID), zap.String("table_id", g.TableID)),
		onComplete: onComplete,
		id:         g.GameID,
		game:       g,
		dealt:      dealt,
		cmdCh:      make(chan func(), 64),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	if cfg.TickInterval > 0 && !g.Phase.Terminal() {
		c.ticker = time.NewTicker(cfg.TickInterval)
		c.tick = c.ticker.C
	}
	go c.run()
	return c
}

func (c *Controller) run() {
	defer close(c.done)
	for {
		select {
		case fn := <-c.cmdCh:
			fn()
		case <-c.tick:
			c.handleTick()
		case <-c.quit:
			c.stopTicker()
			return
		}
	}
}

func (c *Controller) stopTicker() {
	if c.ticker != nil {
		c.ticker.Stop()
		c.ticker = nil
		c.tick = nil
	}
}

// Stop ends the controller goroutine. Pending operations fail.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.quit) })
	<-c.done
}

func (c *Controller) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case c.cmdCh <- func() { defer close(finished); fn() }:
	case <-c.done:
		return apperr.Phase("Game is no longer live")
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-c.done:
		return apperr.Phase("Game is no longer live")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) GameID() string { return c.id }

// Snapshot returns copies of the authoritative game row and dealt cards.
func (c *Controller) Snapshot(ctx context.Context) (Game, []DealtCard, error) {
	var g Game
	var dealt []DealtCard
	err := c.do(ctx, func() {
		g = c.game
		dealt = append([]DealtCard{}, c.dealt...)
	})
	return g, dealt, err
}

func (c *Controller) save(ctx context.Context, g *Game) error {
	return apperr.Retry(ctx, MaxRetries, RetryDelay, func() error {
		return c.repo.SaveGame(ctx, g)
	})
}

// transition moves next forward to phase; phases never regress.
func transition(next *Game, to Phase) {
	if !next.Phase.Before(to) {
		panic("game: phase regression " + string(next.Phase) + " -> " + string(to))
	}
	next.Phase = to
}

func (c *Controller) SetOpeningCard(ctx context.Context, cd card.Card) (Game, error) {
	var out Game
	var opErr error
	err := c.do(ctx, func() {
		if c.game.Phase != PhaseIdle {
			opErr = apperr.Phase("Opening card already set")
			return
		}
		if cd.IsZero() {
			opErr = apperr.Validation("Invalid card")
			return
		}
		next := c.game
		next.OpeningCard = &cd
		transition(&next, PhaseBettingR1)
		next.Round = 1
		next.TimerSeconds = c.cfg.bettingSeconds(1)
		if opErr = c.save(ctx, &next); opErr != nil {
			return
		}
		c.game = next
		out = next
		c.log.Info("opening card set", zap.String("card", cd.String()))
		c.emitPhase()
		c.emitTimer()
		c.emitStats(ctx)
	})
	if err != nil {
		return Game{}, err
	}
	return out, opErr
}

// AdmitBet is evaluated against the phase and timer at the moment the
// controller processes it, not when the client sent it.
func (c *Controller) AdmitBet(ctx context.Context, userID string, side ledger.Side, amount decimal.Decimal, round int) (*BetResult, error) {
	var out *BetResult
	var opErr error
	err := c.do(ctx, func() {
		if !side.Valid() {
			opErr = apperr.Validation("Invalid side")
			return
		}
		// amounts are stored as numeric(20,2)
		if amount.LessThan(c.cfg.MinBet) || amount.GreaterThan(c.cfg.MaxBet) || !amount.Equal(amount.Round(2)) {
			opErr = apperr.Validation("Invalid bet amount")
			return
		}
		if c.game.Phase.BettingRound() == 0 || c.game.Phase.BettingRound() != round || c.game.TimerSeconds <= 0 {
			opErr = apperr.Phase("Betting is closed")
			return
		}
		bet, total, err := c.bets.RecordBet(ctx, ledger.BetRequest{
			GameID: c.game.GameID,
			UserID: userID,
			Round:  round,
			Side:   side,
			Amount: amount,
		})
		if err != nil {
			opErr = err
			return
		}
		out = &BetResult{Bet: bet, Aggregate: total, Stats: c.emitStats(ctx)}
	})
	if err != nil {
		return nil, err
	}
	return out, opErr
}

// DealCard records a card on side. position 0 takes the next position.
func (c *Controller) DealCard(ctx context.Context, cd card.Card, side ledger.Side, position int) (*DealResult, error) {
	var out *DealResult
	var opErr error
	var completed *Game
	err := c.do(ctx, func() {
		if c.game.Phase.Terminal() {
			opErr = apperr.Phase("Game is already complete")
			return
		}
		if !c.game.Phase.IsDealing() {
			opErr = apperr.Phase("Dealing is not open")
			return
		}
		if !side.Valid() {
			opErr = apperr.Validation("Invalid side")
			return
		}
		if cd.IsZero() {
			opErr = apperr.Validation("Invalid card")
			return
		}
		nextPos := len(c.dealt) + 1
		switch {
		case position == 0:
			position = nextPos
		case position < nextPos:
			opErr = apperr.Conflict("Position already dealt")
			return
		case position > nextPos:
			opErr = apperr.Validation("Position out of sequence")
			return
		}

		match := card.Matches(cd, *c.game.OpeningCard)
		now := time.Now()
		dc := DealtCard{
			DealtCardID:   uuid.New().String(),
			GameID:        c.game.GameID,
			Card:          cd,
			Side:          side,
			Position:      position,
			Round:         c.game.Round,
			IsWinningCard: match,
			CreatedAt:     now,
		}

		next := c.game
		if match {
			winner := side
			winning := cd
			transition(&next, PhaseCompleted)
			next.Winner = &winner
			next.WinningCard = &winning
			next.TimerSeconds = 0
			next.CompletedAt = &now
		} else {
			next.RoundCards++
			if next.RoundCards >= c.cfg.CardsPerRound {
				switch next.Phase {
				case PhaseDealingR1:
					transition(&next, PhaseBettingR2)
					next.Round = 2
					next.RoundCards = 0
					next.TimerSeconds = c.cfg.bettingSeconds(2)
				case PhaseDealingR2:
					transition(&next, PhaseFinalDraw)
					next.Round = 3
					next.RoundCards = 0
				}
			}
		}

		opErr = apperr.Retry(ctx, MaxRetries, RetryDelay, func() error {
			return c.repo.ApplyDeal(ctx, &dc, &next)
		})
		if opErr != nil {
			return
		}
		prevPhase := c.game.Phase
		c.game = next
		c.dealt = append(c.dealt, dc)
		out = &DealResult{Card: dc, Phase: next.Phase, Round: next.Round, Winner: next.Winner}

		c.sink.Publish(next.GameID, CardDealt{Card: dc.Card, Side: dc.Side, Position: dc.Position, IsWinningCard: match})
		if match {
			c.log.Info("match found",
				zap.String("card", cd.String()), zap.String("side", string(side)), zap.Int("round", next.Round))
			c.stopTicker()
			c.sink.Publish(next.GameID, GameComplete{Winner: next.Winner, WinningCard: next.WinningCard, TotalCards: len(c.dealt)})
			c.emitPhase()
			completed = &next
			return
		}
		if next.Phase != prevPhase {
			c.emitPhase()
			if next.Phase.BettingRound() > 0 {
				c.emitTimer()
			}
		}
	})
	if err != nil {
		return nil, err
	}
	if completed != nil && c.onComplete != nil {
		go c.onComplete(*completed)
	}
	return out, opErr
}

// Tick advances the betting timer by one step; the internal ticker calls
// it at the configured cadence.
func (c *Controller) Tick(ctx context.Context) error {
	return c.do(ctx, c.handleTick)
}

func (c *Controller) handleTick() {
	if c.game.Phase.BettingRound() == 0 || c.game.TimerSeconds <= 0 {
		return
	}
	c.game.TimerSeconds--
	if c.game.TimerSeconds == 0 {
		c.closeBetting(context.Background())
		return
	}
	c.emitTimer()
}

// closeBetting moves betting_rN to dealing_rN.
func (c *Controller) closeBetting(ctx context.Context) {
	next := c.game
	next.TimerSeconds = 0
	next.RoundCards = 0
	if next.Phase == PhaseBettingR1 {
		transition(&next, PhaseDealingR1)
	} else {
		transition(&next, PhaseDealingR2)
	}
	if err := c.save(ctx, &next); err != nil {
		// the in-memory state stays authoritative; the row catches up on the next save
		c.log.Error("persist betting close failed", zap.Error(err))
	}
	c.game = next
	c.log.Info("betting closed", zap.Int("round", next.Round))
	c.emitTimer()
	c.emitPhase()
}

// SetTimer starts or updates the betting countdown. Zero closes betting.
func (c *Controller) SetTimer(ctx context.Context, seconds int) (Game, error) {
	var out Game
	var opErr error
	err := c.do(ctx, func() {
		if seconds < 0 {
			opErr = apperr.Validation("Invalid timer")
			return
		}
		if c.game.Phase.BettingRound() == 0 {
			opErr = apperr.Phase("Timer can only be set while betting is open")
			return
		}
		if seconds == 0 {
			c.closeBetting(ctx)
			out = c.game
			return
		}
		next := c.game
		next.TimerSeconds = seconds
		if opErr = c.save(ctx, &next); opErr != nil {
			return
		}
		c.game = next
		out = next
		c.emitTimer()
	})
	if err != nil {
		return Game{}, err
	}
	return out, opErr
}

// ForceAdvance closes the open betting window ahead of the timer. to must
// be the matching dealing phase, or empty.
func (c *Controller) ForceAdvance(ctx context.Context, to Phase) (Game, error) {
	var out Game
	var opErr error
	err := c.do(ctx, func() {
		var want Phase
		switch c.game.Phase {
		case PhaseBettingR1:
			want = PhaseDealingR1
		case PhaseBettingR2:
			want = PhaseDealingR2
		default:
			opErr = apperr.Phase("Phase cannot be changed from " + string(c.game.Phase))
			return
		}
		if to != "" && to != want {
			opErr = apperr.Phase("Cannot change phase to " + string(to))
			return
		}
		c.log.Info("betting closed by operator", zap.String("phase", string(c.game.Phase)))
		c.closeBetting(ctx)
		out = c.game
	})
	if err != nil {
		return Game{}, err
	}
	return out, opErr
}

// ForceReset discards the game without settlement: the game is closed with
// no winner and its active bets are refunded. The game row is written
// before any bet is voided. If voiding fails the game stays reset and a
// repeated ForceReset voids the remaining bets.
func (c *Controller) ForceReset(ctx context.Context, reason string) (Game, error) {
	var out Game
	var opErr error
	var fresh bool
	err := c.do(ctx, func() {
		if c.game.Phase.Terminal() && !c.game.IsReset() {
			opErr = apperr.Phase("Game is already complete")
			return
		}
		if !c.game.IsReset() {
			now := time.Now()
			next := c.game
			transition(&next, PhaseCompleted)
			next.TimerSeconds = 0
			next.CompletedAt = &now
			next.ResetAt = &now
			if opErr = c.save(ctx, &next); opErr != nil {
				return
			}
			c.game = next
			c.stopTicker()
			fresh = true
			c.sink.Publish(next.GameID, GameComplete{TotalCards: len(c.dealt), Reset: true})
			c.sink.Publish(next.GameID, PhaseChange{Phase: next.Phase, Round: next.Round, Message: "Game reset by operator"})
		}
		out = c.game

		var voided int
		opErr = apperr.Retry(ctx, MaxRetries, RetryDelay, func() error {
			var err error
			voided, err = c.bets.VoidGame(ctx, c.game.GameID)
			return err
		})
		if opErr != nil {
			c.log.Error("void bets after reset failed", zap.String("reason", reason), zap.Error(opErr))
			return
		}
		if !fresh && voided == 0 {
			opErr = apperr.Phase("Game is already complete")
			return
		}
		c.log.Warn("game force reset",
			zap.String("reason", reason), zap.Int("voided_bets", voided), zap.Int("cards_dealt", len(c.dealt)))
		c.emitStats(ctx)
	})
	if err != nil {
		return Game{}, err
	}
	if fresh && c.onComplete != nil {
		go c.onComplete(out)
	}
	return out, opErr
}

func (c *Controller) emitPhase() {
	c.sink.Publish(c.game.GameID, PhaseChange{Phase: c.game.Phase, Round: c.game.Round, Message: phaseMessage(c.game.Phase)})
}

func (c *Controller) emitTimer() {
	c.sink.Publish(c.game.GameID, TimerUpdate{Timer: c.game.TimerSeconds, Phase: c.game.Phase})
}

func (c *Controller) emitStats(ctx context.Context) BettingStats {
	totals, err := c.bets.Aggregates(ctx, c.game.GameID)
	if err != nil {
		c.log.Warn("read aggregates failed", zap.Error(err))
		return BettingStats{}
	}
	stats := NewBettingStats(totals)
	c.sink.Publish(c.game.GameID, stats)
	return stats
}
