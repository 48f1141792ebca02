package ledger

import (
	"context"
	"time"

	"andarbahar_service/internal/apperr"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository interface {
	// InsertBet stores bet and atomically adds its amount to the
	// (game, round, side) aggregate, returning the new total.
	InsertBet(ctx context.Context, bet *Bet) (decimal.Decimal, error)
	Aggregate(ctx context.Context, gameID string, round int, side Side) (decimal.Decimal, error)
	Aggregates(ctx context.Context, gameID string) (RoundTotals, error)
	BetsForUser(ctx context.Context, gameID string, userID string) ([]Bet, error)
	BetsForGame(ctx context.Context, gameID string) ([]Bet, error)
	// SettleBet writes status and payout once; an already settled bet
	// yields a conflict.
	SettleBet(ctx context.Context, betID string, status string, payout decimal.Decimal, at time.Time) error
	// VoidGame refunds every active bet of the game and removes them from
	// the aggregates.
	VoidGame(ctx context.Context, gameID string) (int, error)
}

type RepositoryImpl struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *RepositoryImpl {
	return &RepositoryImpl{db: db}
}

func (r *RepositoryImpl) InsertBet(ctx context.Context, bet *Bet) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(bet).Error; err != nil {
			return err
		}
		agg := Aggregate{GameID: bet.GameID, Round: bet.Round, Side: bet.Side, Total: bet.Amount, UpdatedAt: time.Now()}
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "game_id"}, {Name: "round"}, {Name: "side"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"total":      gorm.Expr("betting_aggregates.total + ?", bet.Amount),
				"updated_at": gorm.Expr("NOW()"),
			}),
		}).Create(&agg).Error
		if err != nil {
			return err
		}
		var current Aggregate
		err = tx.Where("game_id = ? AND round = ? AND side = ?", bet.GameID, bet.Round, bet.Side).
			Take(&current).Error
		total = current.Total
		return err
	})
	if err != nil {
		return decimal.Zero, apperr.FromStorage("failed to record bet", err)
	}
	return total, nil
}

func (r *RepositoryImpl) Aggregate(ctx context.Context, gameID string, round int, side Side) (decimal.Decimal, error) {
	var aggs []Aggregate
	err := r.db.WithContext(ctx).
		Where("game_id = ? AND round = ? AND side = ?", gameID, round, side).
		Find(&aggs).Error
	if err != nil {
		return decimal.Zero, apperr.FromStorage("failed to read aggregate", err)
	}
	if len(aggs) == 0 {
		return decimal.Zero, nil
	}
	return aggs[0].Total, nil
}

func (r *RepositoryImpl) Aggregates(ctx context.Context, gameID string) (RoundTotals, error) {
	var aggs []Aggregate
	if err := r.db.WithContext(ctx).Where("game_id = ?", gameID).Find(&aggs).Error; err != nil {
		return RoundTotals{}, apperr.FromStorage("failed to read aggregates", err)
	}
	var out RoundTotals
	for _, a := range aggs {
		out.Add(a.Round, a.Side, a.Total)
	}
	return out, nil
}

func (r *RepositoryImpl) BetsForUser(ctx context.Context, gameID string, userID string) ([]Bet, error) {
	var bets []Bet
	err := r.db.WithContext(ctx).
		Where("game_id = ? AND user_id = ?", gameID, userID).
		Order("created_at ASC").
		Find(&bets).Error
	if err != nil {
		return nil, apperr.FromStorage("failed to list user bets", err)
	}
	return bets, nil
}

func (r *RepositoryImpl) BetsForGame(ctx context.Context, gameID string) ([]Bet, error) {
	var bets []Bet
	err := r.db.WithContext(ctx).
		Where("game_id = ?", gameID).
		Order("created_at ASC").
		Find(&bets).Error
	if err != nil {
		return nil, apperr.FromStorage("failed to list game bets", err)
	}
	return bets, nil
}

func (r *RepositoryImpl) SettleBet(ctx context.Context, betID string, status string, payout decimal.Decimal, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&Bet{}).
		Where("bet_id = ? AND status = ?", betID, BetStatusActive).
		Updates(map[string]interface{}{
			"status":     status,
			"payout":     payout,
			"settled_at": at,
		})
	if result.Error != nil {
		return apperr.FromStorage("failed to settle bet", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperr.Conflict("bet already settled")
	}
	return nil
}

func (r *RepositoryImpl) VoidGame(ctx context.Context, gameID string) (int, error) {
	var voided int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var bets []Bet
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("game_id = ? AND status = ?", gameID, BetStatusActive).
			Find(&bets).Error
		if err != nil {
			return err
		}
		totals := TotalsFromBets(bets)
		for _, round := range []int{1, 2} {
			for _, side := range []Side{SideAndar, SideBahar} {
				amt := totals.Round(round).Get(side)
				if amt.IsZero() {
					continue
				}
				err := tx.Model(&Aggregate{}).
					Where("game_id = ? AND round = ? AND side = ?", gameID, round, side).
					Updates(map[string]interface{}{
						"total":      gorm.Expr("total - ?", amt),
						"updated_at": gorm.Expr("NOW()"),
					}).Error
				if err != nil {
					return err
				}
			}
		}
		result := tx.Model(&Bet{}).
			Where("game_id = ? AND status = ?", gameID, BetStatusActive).
			Update("status", BetStatusRefunded)
		voided = int(result.RowsAffected)
		return result.Error
	})
	if err != nil {
		return 0, apperr.FromStorage("failed to void bets", err)
	}
	return voided, nil
}
