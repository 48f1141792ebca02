package payout

import (
	"encoding/json"
	"io"

	"andarbahar_service/internal/apperr"
	"andarbahar_service/internal/ledger"
	"github.com/shopspring/decimal"
)

// Multipliers apply to the winning side's stakes placed in each betting round.
type Multipliers struct {
	Round1 decimal.Decimal `json:"round1"`
	Round2 decimal.Decimal `json:"round2"`
}

// Rule is the settlement for a match found in one round, keyed by winner.
type Rule struct {
	Andar Multipliers `json:"andar"`
	Bahar Multipliers `json:"bahar"`
}

func (r Rule) For(side ledger.Side) Multipliers {
	if side == ledger.SideAndar {
		return r.Andar
	}
	return r.Bahar
}

type Rules struct {
	Round1    Rule `json:"round1"`
	Round2    Rule `json:"round2"`
	FinalDraw Rule `json:"final_draw"`
}

func m(r1, r2 int64) Multipliers {
	return Multipliers{Round1: decimal.NewFromInt(r1), Round2: decimal.NewFromInt(r2)}
}

// DefaultRules: round 1 bahar is a push, round 2 bahar pays 1:1 on round 1
// stakes and pushes round 2 stakes, the final draw pays 1:1 on everything.
func DefaultRules() Rules {
	return Rules{
		Round1:    Rule{Andar: m(2, 0), Bahar: m(1, 0)},
		Round2:    Rule{Andar: m(2, 2), Bahar: m(2, 1)},
		FinalDraw: Rule{Andar: m(2, 2), Bahar: m(2, 2)},
	}
}

func (r Rules) ForRound(matchRound int) Rule {
	switch {
	case matchRound <= 1:
		return r.Round1
	case matchRound == 2:
		return r.Round2
	default:
		return r.FinalDraw
	}
}

// Validate rejects tables that would confiscate a winning stake or pay on
// bets that cannot exist.
func (r Rules) Validate() error {
	one := decimal.NewFromInt(1)
	check := func(name string, rule Rule, roundsOpen int) error {
		for _, side := range []ledger.Side{ledger.SideAndar, ledger.SideBahar} {
			mm := rule.For(side)
			if mm.Round1.LessThan(one) {
				return apperr.FatalConfig("payout %s %s round1 multiplier %s below 1", name, side, mm.Round1)
			}
			if roundsOpen == 1 && !mm.Round2.IsZero() {
				return apperr.FatalConfig("payout %s %s round2 multiplier must be 0", name, side)
			}
			if roundsOpen == 2 && mm.Round2.LessThan(one) {
				return apperr.FatalConfig("payout %s %s round2 multiplier %s below 1", name, side, mm.Round2)
			}
		}
		return nil
	}
	if err := check("round1", r.Round1, 1); err != nil {
		return err
	}
	if err := check("round2", r.Round2, 2); err != nil {
		return err
	}
	return check("final_draw", r.FinalDraw, 2)
}

// LoadRules decodes a JSON rule table and validates it.
func LoadRules(rd io.Reader) (Rules, error) {
	var r Rules
	if err := json.NewDecoder(rd).Decode(&r); err != nil {
		return Rules{}, apperr.FatalConfig("invalid payout rules: %v", err)
	}
	if err := r.Validate(); err != nil {
		return Rules{}, err
	}
	return r, nil
}

type Calculator struct {
	rules Rules
}

func NewCalculator(rules Rules) (*Calculator, error) {
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return &Calculator{rules: rules}, nil
}

func (c *Calculator) Rules() Rules { return c.rules }

// Multiplier is the factor applied to one bet's amount.
func (c *Calculator) Multiplier(matchRound int, winner ledger.Side, betRound int, betSide ledger.Side) decimal.Decimal {
	if betSide != winner {
		return decimal.Zero
	}
	mm := c.rules.ForRound(matchRound).For(winner)
	switch betRound {
	case 1:
		return mm.Round1
	case 2:
		return mm.Round2
	default:
		return decimal.Zero
	}
}

// Payout is the amount credited to a user whose wagers are bets.
func (c *Calculator) Payout(matchRound int, winner ledger.Side, bets ledger.UserBets) decimal.Decimal {
	mm := c.rules.ForRound(matchRound).For(winner)
	return bets.Round1.Get(winner).Mul(mm.Round1).
		Add(bets.Round2.Get(winner).Mul(mm.Round2))
}

// BetOutcome returns the status and payout to write on a single bet.
func (c *Calculator) BetOutcome(matchRound int, winner ledger.Side, bet ledger.Bet) (string, decimal.Decimal) {
	mult := c.Multiplier(matchRound, winner, bet.Round, bet.Side)
	amount := bet.Amount.Mul(mult)
	switch {
	case mult.IsZero():
		return ledger.BetStatusLost, decimal.Zero
	case mult.Equal(decimal.NewFromInt(1)):
		return ledger.BetStatusRefunded, amount
	default:
		return ledger.BetStatusWon, amount
	}
}

var defaultCalculator = &Calculator{rules: DefaultRules()}

// Payout applies the default table.
func Payout(matchRound int, winner ledger.Side, bets ledger.UserBets) decimal.Decimal {
	return defaultCalculator.Payout(matchRound, winner, bets)
}
