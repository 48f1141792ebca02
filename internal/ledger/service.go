package ledger

import (
	"context"
	"time"

	"andarbahar_service/internal/apperr"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	MaxRetries = 3
	RetryDelay = 10 * time.Millisecond
)

type BetRequest struct {
	GameID string
	UserID string
	Round  int
	Side   Side
	Amount decimal.Decimal
}

type Ledger struct {
	repo Repository
	log  *zap.Logger
}

func NewLedger(repo Repository, log *zap.Logger) *Ledger {
	return &Ledger{repo: repo, log: log}
}

// RecordBet appends a bet and returns the new aggregate for its round and
// side. Phase and limit checks belong to the caller.
func (l *Ledger) RecordBet(ctx context.Context, req BetRequest) (*Bet, decimal.Decimal, error) {
	if !req.Side.Valid() {
		return nil, decimal.Zero, apperr.Validation("Invalid side")
	}
	if !req.Amount.IsPositive() {
		return nil, decimal.Zero, apperr.Validation("Invalid bet amount")
	}
	if req.Round != 1 && req.Round != 2 {
		return nil, decimal.Zero, apperr.Validation("Invalid round")
	}
	if req.UserID == "" {
		return nil, decimal.Zero, apperr.Validation("Missing user")
	}

	bet := &Bet{
		BetID:     uuid.New().String(),
		GameID:    req.GameID,
		UserID:    req.UserID,
		Round:     req.Round,
		Side:      req.Side,
		Amount:    req.Amount,
		Status:    BetStatusActive,
		Payout:    decimal.Zero,
		CreatedAt: time.Now(),
	}

	var total decimal.Decimal
	err := apperr.Retry(ctx, MaxRetries, RetryDelay, func() error {
		var err error
		total, err = l.repo.InsertBet(ctx, bet)
		return err
	})
	if err != nil {
		l.log.Error("record bet failed",
			zap.String("game_id", req.GameID), zap.String("user_id", req.UserID), zap.Error(err))
		return nil, decimal.Zero, err
	}
	l.log.Debug("bet recorded",
		zap.String("game_id", bet.GameID),
		zap.String("bet_id", bet.BetID),
		zap.Int("round", bet.Round),
		zap.String("side", string(bet.Side)),
		zap.String("amount", bet.Amount.String()),
		zap.String("aggregate", total.String()))
	return bet, total, nil
}

func (l *Ledger) Aggregate(ctx context.Context, gameID string, round int, side Side) (decimal.Decimal, error) {
	return l.repo.Aggregate(ctx, gameID, round, side)
}

func (l *Ledger) Aggregates(ctx context.Context, gameID string) (RoundTotals, error) {
	return l.repo.Aggregates(ctx, gameID)
}

func (l *Ledger) BetsForUser(ctx context.Context, gameID string, userID string) ([]Bet, error) {
	return l.repo.BetsForUser(ctx, gameID, userID)
}

func (l *Ledger) BetsForGame(ctx context.Context, gameID string) ([]Bet, error) {
	return l.repo.BetsForGame(ctx, gameID)
}

// UserTotals folds a user's bets into per-round, per-side sums.
func (l *Ledger) UserTotals(ctx context.Context, gameID string, userID string) (UserBets, error) {
	bets, err := l.repo.BetsForUser(ctx, gameID, userID)
	if err != nil {
		return UserBets{}, err
	}
	return TotalsFromBets(bets), nil
}

func (l *Ledger) SettleBet(ctx context.Context, betID string, status string, payout decimal.Decimal) error {
	return apperr.Retry(ctx, MaxRetries, RetryDelay, func() error {
		return l.repo.SettleBet(ctx, betID, status, payout, time.Now())
	})
}

func (l *Ledger) VoidGame(ctx context.Context, gameID string) (int, error) {
	var n int
	err := apperr.Retry(ctx, MaxRetries, RetryDelay, func() error {
		var err error
		n, err = l.repo.VoidGame(ctx, gameID)
		return err
	})
	if err != nil {
		return 0, err
	}
	l.log.Info("bets voided", zap.String("game_id", gameID), zap.Int("count", n))
	return n, nil
}
