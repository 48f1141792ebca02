package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"andarbahar_service/internal/apperr"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "0123456789abcdef0123456789abcdef"

func env(vars map[string]string) func(string) string {
	return func(key string) string { return vars[key] }
}

func TestDefaults(t *testing.T) {
	cfg, err := FromEnv(env(map[string]string{"ADMIN_TOKEN_SECRET": secret}))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, defaultDSN, cfg.DBConnStr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.CORSOrigins)
	assert.Equal(t, "INR", cfg.Currency)
	assert.Equal(t, 30, cfg.Game.Round1Seconds)
	assert.Equal(t, 20, cfg.Game.Round2Seconds)
	assert.Equal(t, time.Second, cfg.Game.TickInterval)
	assert.Equal(t, 1, cfg.Game.CardsPerRound)
	assert.True(t, cfg.Game.MinBet.Equal(decimal.NewFromInt(10)))
	assert.True(t, cfg.Game.MaxBet.Equal(decimal.NewFromInt(100000)))
	assert.Equal(t, 8, cfg.Settlement.Concurrency)
	assert.Equal(t, 5*time.Second, cfg.Settlement.RetryInterval)
	assert.Equal(t, 10, cfg.Settlement.MaxAttempts)
}

func TestOverrides(t *testing.T) {
	cfg, err := FromEnv(env(map[string]string{
		"ADMIN_TOKEN_SECRET":      secret,
		"PORT":                    "9090",
		"CORS_ORIGINS":            "https://a.example, https://b.example,",
		"CURRENCY":                "usd",
		"ROUND1_SECONDS":          "45",
		"TICK_INTERVAL":           "250ms",
		"CARDS_PER_ROUND":         "2",
		"MIN_BET":                 "0.5",
		"SETTLEMENT_MAX_ATTEMPTS": "3",
	}))
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, "USD", cfg.Currency)
	assert.Equal(t, 45, cfg.Game.Round1Seconds)
	assert.Equal(t, 250*time.Millisecond, cfg.Game.TickInterval)
	assert.Equal(t, 2, cfg.Game.CardsPerRound)
	assert.True(t, cfg.Game.MinBet.Equal(decimal.RequireFromString("0.5")))
	assert.Equal(t, 3, cfg.Settlement.MaxAttempts)
}

func TestInvalidValuesAreFatal(t *testing.T) {
	tests := map[string]map[string]string{
		"missing secret":     {},
		"short secret":       {"ADMIN_TOKEN_SECRET": "short"},
		"bad integer":        {"ROUND1_SECONDS": "thirty"},
		"zero timer":         {"ROUND2_SECONDS": "0"},
		"bad duration":       {"TICK_INTERVAL": "1 second"},
		"bad number":         {"MIN_BET": "ten"},
		"max below min":      {"MIN_BET": "100", "MAX_BET": "50"},
		"negative min":       {"MIN_BET": "-1"},
		"no cards per round": {"CARDS_PER_ROUND": "0"},
		"bad currency":       {"CURRENCY": "RUPEE"},
		"no concurrency":     {"SETTLEMENT_CONCURRENCY": "0"},
		"missing rules file": {"PAYOUT_RULES_FILE": filepath.Join(t.TempDir(), "absent.json")},
	}
	for name, vars := range tests {
		t.Run(name, func(t *testing.T) {
			if name != "missing secret" && name != "short secret" {
				vars["ADMIN_TOKEN_SECRET"] = secret
			}
			_, err := FromEnv(env(vars))
			require.Error(t, err)
			assert.Equal(t, apperr.KindFatalConfig, apperr.KindOf(err))
		})
	}
}

func TestPayoutRulesFile(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "rules.json")
	require.NoError(t, os.WriteFile(good, []byte(`{
		"round1": {"andar": {"round1": 1.9, "round2": 0}, "bahar": {"round1": 1, "round2": 0}},
		"round2": {"andar": {"round1": 2, "round2": 2}, "bahar": {"round1": 2, "round2": 1}},
		"final_draw": {"andar": {"round1": 2, "round2": 2}, "bahar": {"round1": 2, "round2": 2}}
	}`), 0o600))

	cfg, err := FromEnv(env(map[string]string{"ADMIN_TOKEN_SECRET": secret, "PAYOUT_RULES_FILE": good}))
	require.NoError(t, err)
	assert.True(t, cfg.PayoutRules.Round1.Andar.Round1.Equal(decimal.RequireFromString("1.9")))

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"round1": {"andar": {"round1": 0.5}}}`), 0o600))
	_, err = FromEnv(env(map[string]string{"ADMIN_TOKEN_SECRET": secret, "PAYOUT_RULES_FILE": bad}))
	require.Error(t, err)
	assert.Equal(t, apperr.KindFatalConfig, apperr.KindOf(err))
}
