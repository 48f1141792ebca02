package payout

import (
	"strings"
	"testing"

	"andarbahar_service/internal/apperr"
	"andarbahar_service/internal/ledger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func bets(r1a, r1b, r2a, r2b int64) ledger.UserBets {
	return ledger.UserBets{
		Round1: ledger.SideTotals{Andar: d(r1a), Bahar: d(r1b)},
		Round2: ledger.SideTotals{Andar: d(r2a), Bahar: d(r2b)},
	}
}

func TestPayoutTable(t *testing.T) {
	tests := []struct {
		name      string
		round     int
		winner    ledger.Side
		bets      ledger.UserBets
		wantAndar int64 // payout when holding only the andar part
		wantBahar int64
	}{
		{"round 1 andar", 1, ledger.SideAndar, bets(1000, 500, 0, 0), 2000, 0},
		{"round 1 bahar push", 1, ledger.SideBahar, bets(1000, 500, 0, 0), 0, 500},
		{"round 2 andar", 2, ledger.SideAndar, bets(1000, 500, 800, 300), 3600, 0},
		{"round 2 bahar", 2, ledger.SideBahar, bets(1000, 500, 800, 300), 0, 1300},
		{"final draw andar", 3, ledger.SideAndar, bets(1000, 500, 800, 300), 3600, 0},
		{"final draw bahar", 3, ledger.SideBahar, bets(1000, 500, 800, 300), 0, 1600},
		{"later final draw", 7, ledger.SideBahar, bets(10, 10, 10, 10), 0, 40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			andarOnly := ledger.UserBets{
				Round1: ledger.SideTotals{Andar: tt.bets.Round1.Andar},
				Round2: ledger.SideTotals{Andar: tt.bets.Round2.Andar},
			}
			baharOnly := ledger.UserBets{
				Round1: ledger.SideTotals{Bahar: tt.bets.Round1.Bahar},
				Round2: ledger.SideTotals{Bahar: tt.bets.Round2.Bahar},
			}
			got := Payout(tt.round, tt.winner, andarOnly)
			assert.True(t, got.Equal(d(tt.wantAndar)), "andar payout %s", got)
			got = Payout(tt.round, tt.winner, baharOnly)
			assert.True(t, got.Equal(d(tt.wantBahar)), "bahar payout %s", got)
			got = Payout(tt.round, tt.winner, tt.bets)
			assert.True(t, got.Equal(d(tt.wantAndar+tt.wantBahar)), "combined payout %s", got)
		})
	}
}

func TestBetOutcomeMatchesUserPayout(t *testing.T) {
	calc, err := NewCalculator(DefaultRules())
	require.NoError(t, err)

	userBets := []ledger.Bet{
		{Round: 1, Side: ledger.SideBahar, Amount: d(500)},
		{Round: 2, Side: ledger.SideBahar, Amount: d(300)},
		{Round: 1, Side: ledger.SideAndar, Amount: d(1000)},
		{Round: 2, Side: ledger.SideAndar, Amount: d(800)},
	}
	wantStatus := []string{ledger.BetStatusWon, ledger.BetStatusRefunded, ledger.BetStatusLost, ledger.BetStatusLost}

	sum := decimal.Zero
	for i, b := range userBets {
		status, amt := calc.BetOutcome(2, ledger.SideBahar, b)
		assert.Equal(t, wantStatus[i], status)
		sum = sum.Add(amt)
	}
	assert.True(t, sum.Equal(calc.Payout(2, ledger.SideBahar, ledger.TotalsFromBets(userBets))))
	assert.True(t, sum.Equal(d(1300)))
}

func TestValidateRejectsBadTables(t *testing.T) {
	r := DefaultRules()
	r.Round2.Bahar.Round2 = d(0)
	assert.ErrorIs(t, r.Validate(), apperr.ErrFatalConfig)

	r = DefaultRules()
	r.Round1.Andar.Round2 = d(2)
	assert.ErrorIs(t, r.Validate(), apperr.ErrFatalConfig)

	r = DefaultRules()
	r.FinalDraw.Andar.Round1 = decimal.NewFromFloat(0.5)
	_, err := NewCalculator(r)
	assert.ErrorIs(t, err, apperr.ErrFatalConfig)
}

func TestLoadRules(t *testing.T) {
	in := `{
		"round1":     {"andar": {"round1": "2", "round2": "0"}, "bahar": {"round1": "1", "round2": "0"}},
		"round2":     {"andar": {"round1": "2", "round2": "2"}, "bahar": {"round1": "2", "round2": "1"}},
		"final_draw": {"andar": {"round1": "2", "round2": "2"}, "bahar": {"round1": "2", "round2": "2"}}
	}`
	r, err := LoadRules(strings.NewReader(in))
	require.NoError(t, err)
	assert.True(t, r.Round2.Bahar.Round2.Equal(d(1)))

	_, err = LoadRules(strings.NewReader(`{"round1": `))
	assert.ErrorIs(t, err, apperr.ErrFatalConfig)

	_, err = LoadRules(strings.NewReader(`{}`))
	assert.ErrorIs(t, err, apperr.ErrFatalConfig)
}
