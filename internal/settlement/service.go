package settlement

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"andarbahar_service/internal/apperr"
	"andarbahar_service/internal/game"
	"andarbahar_service/internal/history"
	"andarbahar_service/internal/ledger"
	"andarbahar_service/internal/payout"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

const (
	creditAttempts = 3
	creditDelay    = 50 * time.Millisecond
	maxBackoff     = 5 * time.Minute
)

// AccountLedger is the external balance store. Credit must be idempotent
// per reference.
type AccountLedger interface {
	Credit(ctx context.Context, userID string, amount decimal.Decimal, reference string) error
}

type BetStore interface {
	BetsForGame(ctx context.Context, gameID string) ([]ledger.Bet, error)
	Aggregates(ctx context.Context, gameID string) (ledger.RoundTotals, error)
	SettleBet(ctx context.Context, betID string, status string, payout decimal.Decimal) error
}

type Options struct {
	Concurrency   int
	RetryInterval time.Duration
	MaxAttempts   int
}

func DefaultOptions() Options {
	return Options{Concurrency: 8, RetryInterval: 5 * time.Second, MaxAttempts: 10}
}

// Service is the only component that changes user balances.
type Service struct {
	games    game.Repository
	bets     BetStore
	calc     *payout.Calculator
	accounts AccountLedger
	credits  Repository
	history  history.Repository
	opts     Options
	log      *zap.Logger
	group    singleflight.Group
}

func NewService(games game.Repository, bets BetStore, calc *payout.Calculator, accounts AccountLedger, credits Repository, hist history.Repository, opts Options, log *zap.Logger) *Service {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	return &Service{
		games:    games,
		bets:     bets,
		calc:     calc,
		accounts: accounts,
		credits:  credits,
		history:  hist,
		opts:     opts,
		log:      log,
	}
}

// SettleGame satisfies game.Settler.
func (s *Service) SettleGame(ctx context.Context, gameID string) error {
	_, err := s.Settle(ctx, gameID)
	return err
}

// Settle pays out a completed game exactly once. Settling an already
// settled game returns the stored outcome without touching balances.
func (s *Service) Settle(ctx context.Context, gameID string) (*Report, error) {
	v, err, _ := s.group.Do(gameID, func() (interface{}, error) {
		return s.settle(ctx, gameID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Report), nil
}

func (s *Service) settle(ctx context.Context, gameID string) (*Report, error) {
	g, err := s.games.GetGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if g.Phase != game.PhaseCompleted {
		return nil, apperr.Phase("Game is not complete")
	}
	if g.IsReset() {
		return nil, apperr.Phase("Game was reset and is not settled")
	}
	if g.Winner == nil {
		return nil, apperr.Phase("Game has no winner")
	}
	if g.SettledAt != nil {
		return s.storedReport(ctx, g)
	}

	log := s.log.With(zap.String("game_id", gameID))
	winner := *g.Winner
	matchRound := g.Round

	bets, err := s.bets.BetsForGame(ctx, gameID)
	if err != nil {
		return nil, err
	}

	payouts := map[string]decimal.Decimal{}
	for _, b := range bets {
		if b.Status == ledger.BetStatusRefunded && b.SettledAt == nil {
			continue
		}
		status, amount := s.calc.BetOutcome(matchRound, winner, b)
		payouts[b.UserID] = payouts[b.UserID].Add(amount)
		if b.Status != ledger.BetStatusActive {
			continue
		}
		if err := s.bets.SettleBet(ctx, b.BetID, status, amount); err != nil {
			if errors.Is(err, apperr.ErrConflict) {
				continue
			}
			return nil, err
		}
	}

	users := make([]string, 0, len(payouts))
	for u := range payouts {
		users = append(users, u)
	}
	sort.Strings(users)

	report := &Report{GameID: gameID, Winner: string(winner), MatchRound: matchRound}
	results := make([]UserResult, len(users))
	sem := semaphore.NewWeighted(int64(s.opts.Concurrency))
	var wg sync.WaitGroup
	for i, u := range users {
		amount := payouts[u]
		results[i] = UserResult{UserID: u, Payout: amount}
		if !amount.IsPositive() {
			results[i].Status = ledger.BetStatusLost
			continue
		}
		c, err := s.credits.EnsureCredit(ctx, &Credit{
			CreditID:      uuid.New().String(),
			GameID:        gameID,
			UserID:        u,
			Amount:        amount,
			Reference:     creditReference(gameID, u),
			Status:        CreditPending,
			NextAttemptAt: time.Now(),
			CreatedAt:     time.Now(),
			UpdatedAt:     time.Now(),
		})
		if err != nil {
			results[i].Status = CreditPending
			results[i].Error = apperr.Message(err)
			log.Error("create credit failed", zap.String("user_id", u), zap.Error(err))
			continue
		}
		if c.Status != CreditPending {
			results[i].Status = c.Status
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i].Status = CreditPending
			results[i].Error = err.Error()
			continue
		}
		wg.Add(1)
		go func(i int, c *Credit) {
			defer wg.Done()
			defer sem.Release(1)
			results[i].Status, results[i].Error = s.attempt(ctx, c)
		}(i, c)
	}
	wg.Wait()
	report.Results = results

	if err := s.games.MarkSettled(ctx, gameID, time.Now()); err != nil && !errors.Is(err, apperr.ErrConflict) {
		return nil, err
	}

	if err := s.record(ctx, g, payouts); err != nil {
		log.Warn("history append failed", zap.Error(err))
	}

	log.Info("game settled",
		zap.String("winner", string(winner)),
		zap.Int("match_round", matchRound),
		zap.Int("users", len(users)),
		zap.Int("outstanding", len(report.Failed())))
	return report, nil
}

// attempt credits c once with a short bounded retry and records the outcome.
func (s *Service) attempt(ctx context.Context, c *Credit) (string, string) {
	err := apperr.Retry(ctx, creditAttempts, creditDelay, func() error {
		err := s.accounts.Credit(ctx, c.UserID, c.Amount, c.Reference)
		if err != nil && apperr.KindOf(err) == apperr.KindUnknown {
			// the account ledger is remote; unclassified failures are worth another try
			return apperr.Transient("credit failed", err)
		}
		return err
	})
	if err == nil {
		if markErr := s.credits.MarkCredited(ctx, c.CreditID, time.Now()); markErr != nil {
			s.log.Error("mark credited failed", zap.String("credit_id", c.CreditID), zap.Error(markErr))
		}
		return CreditCredited, ""
	}

	attempts := c.Attempts + 1
	final := attempts >= s.opts.MaxAttempts || apperr.KindOf(err) == apperr.KindValidation
	next := time.Now().Add(s.backoff(attempts))
	if markErr := s.credits.MarkAttempt(context.WithoutCancel(ctx), c.CreditID, err.Error(), next, final); markErr != nil {
		s.log.Error("record credit attempt failed", zap.String("credit_id", c.CreditID), zap.Error(markErr))
	}
	s.log.Warn("credit failed",
		zap.String("game_id", c.GameID),
		zap.String("user_id", c.UserID),
		zap.Int("attempts", attempts),
		zap.Bool("final", final),
		zap.Error(err))
	if final {
		return CreditFailed, err.Error()
	}
	return CreditPending, err.Error()
}

func (s *Service) backoff(attempts int) time.Duration {
	d := s.opts.RetryInterval
	for i := 1; i < attempts && d < maxBackoff; i++ {
		d *= 2
	}
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

func (s *Service) storedReport(ctx context.Context, g *game.Game) (*Report, error) {
	bets, err := s.bets.BetsForGame(ctx, g.GameID)
	if err != nil {
		return nil, err
	}
	payouts := map[string]decimal.Decimal{}
	for _, b := range bets {
		payouts[b.UserID] = payouts[b.UserID].Add(b.Payout)
	}
	credits, err := s.credits.CreditsForGame(ctx, g.GameID)
	if err != nil {
		return nil, err
	}
	byUser := make(map[string]Credit, len(credits))
	for _, c := range credits {
		byUser[c.UserID] = c
	}

	report := &Report{GameID: g.GameID, Winner: string(*g.Winner), MatchRound: g.Round, AlreadySettled: true}
	users := make([]string, 0, len(payouts))
	for u := range payouts {
		users = append(users, u)
	}
	sort.Strings(users)
	for _, u := range users {
		res := UserResult{UserID: u, Payout: payouts[u], Status: ledger.BetStatusLost}
		if c, ok := byUser[u]; ok {
			res.Status = c.Status
			res.Error = c.LastError
		}
		report.Results = append(report.Results, res)
	}
	return report, nil
}

func (s *Service) record(ctx context.Context, g *game.Game, payouts map[string]decimal.Decimal) error {
	if s.history == nil {
		return nil
	}
	dealt, err := s.games.DealtCards(ctx, g.GameID)
	if err != nil {
		return err
	}
	totals, err := s.bets.Aggregates(ctx, g.GameID)
	if err != nil {
		return err
	}
	total := decimal.Zero
	for _, p := range payouts {
		total = total.Add(p)
	}
	now := time.Now()
	completed := now
	if g.CompletedAt != nil {
		completed = *g.CompletedAt
	}
	e := &history.Entry{
		GameID:      g.GameID,
		TableID:     g.TableID,
		Winner:      string(*g.Winner),
		MatchRound:  g.Round,
		TotalCards:  len(dealt),
		TotalBets:   totals.Total(),
		TotalPayout: total,
		CompletedAt: completed,
		SettledAt:   now,
	}
	if g.OpeningCard != nil {
		e.OpeningCard = g.OpeningCard.String()
	}
	if g.WinningCard != nil {
		e.WinningCard = g.WinningCard.String()
	}
	if err := e.SetAggregates(totals); err != nil {
		return err
	}
	return s.history.Append(ctx, e)
}
