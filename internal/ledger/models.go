package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideAndar Side = "andar"
	SideBahar Side = "bahar"
)

func (s Side) Valid() bool { return s == SideAndar || s == SideBahar }

func ParseSide(s string) (Side, bool) {
	side := Side(s)
	return side, side.Valid()
}

const (
	BetStatusActive   = "active"
	BetStatusWon      = "won"
	BetStatusLost     = "lost"
	BetStatusRefunded = "refunded"
)

type Bet struct {
	BetID     string          `gorm:"column:bet_id;primaryKey;type:uuid" json:"bet_id"`
	GameID    string          `gorm:"column:game_id;type:uuid;not null;index:idx_bets_game_user" json:"game_id"`
	UserID    string          `gorm:"column:user_id;type:varchar(64);not null;index:idx_bets_game_user" json:"user_id"`
	Round     int             `gorm:"column:round;not null" json:"round"`
	Side      Side            `gorm:"column:side;type:varchar(8);not null" json:"side"`
	Amount    decimal.Decimal `gorm:"column:amount;type:numeric(20,2);not null" json:"amount"`
	Status    string          `gorm:"column:status;type:varchar(16);not null;default:'active'" json:"status"`
	Payout    decimal.Decimal `gorm:"column:payout;type:numeric(20,2);not null;default:0" json:"payout"`
	CreatedAt time.Time       `gorm:"column:created_at;not null;default:now()" json:"created_at"`
	SettledAt *time.Time      `gorm:"column:settled_at" json:"settled_at,omitempty"`
}

func (Bet) TableName() string { return "bets" }

// Aggregate is the running total for one (game, round, side) key.
type Aggregate struct {
	GameID    string          `gorm:"column:game_id;primaryKey;type:uuid"`
	Round     int             `gorm:"column:round;primaryKey"`
	Side      Side            `gorm:"column:side;primaryKey;type:varchar(8)"`
	Total     decimal.Decimal `gorm:"column:total;type:numeric(20,2);not null;default:0"`
	UpdatedAt time.Time       `gorm:"column:updated_at;not null;default:now()"`
}

func (Aggregate) TableName() string { return "betting_aggregates" }

type SideTotals struct {
	Andar decimal.Decimal `json:"andar"`
	Bahar decimal.Decimal `json:"bahar"`
}

func (t SideTotals) Get(side Side) decimal.Decimal {
	if side == SideAndar {
		return t.Andar
	}
	return t.Bahar
}

func (t *SideTotals) add(side Side, amount decimal.Decimal) {
	if side == SideAndar {
		t.Andar = t.Andar.Add(amount)
		return
	}
	t.Bahar = t.Bahar.Add(amount)
}

// RoundTotals holds per-side sums for betting rounds 1 and 2.
type RoundTotals struct {
	Round1 SideTotals `json:"round1"`
	Round2 SideTotals `json:"round2"`
}

func (r RoundTotals) Round(n int) SideTotals {
	if n == 1 {
		return r.Round1
	}
	return r.Round2
}

func (r *RoundTotals) Add(round int, side Side, amount decimal.Decimal) {
	switch round {
	case 1:
		r.Round1.add(side, amount)
	case 2:
		r.Round2.add(side, amount)
	}
}

func (r RoundTotals) Side(side Side) decimal.Decimal {
	return r.Round1.Get(side).Add(r.Round2.Get(side))
}

func (r RoundTotals) Total() decimal.Decimal {
	return r.Side(SideAndar).Add(r.Side(SideBahar))
}

// UserBets is one user's wager totals for a game, the payout input.
type UserBets = RoundTotals

func TotalsFromBets(bets []Bet) RoundTotals {
	var out RoundTotals
	for _, b := range bets {
		if b.Status == BetStatusRefunded && b.SettledAt == nil {
			continue
		}
		out.Add(b.Round, b.Side, b.Amount)
	}
	return out
}
