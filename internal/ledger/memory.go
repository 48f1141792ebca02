package ledger

import (
	"context"
	"sync"
	"time"

	"andarbahar_service/internal/apperr"
	"github.com/shopspring/decimal"
)

type aggKey struct {
	gameID string
	round  int
	side   Side
}

// MemoryRepository keeps bets and aggregates in process. Bet insert and
// aggregate increment happen under one lock.
type MemoryRepository struct {
	mu   sync.RWMutex
	bets map[string][]*Bet
	byID map[string]*Bet
	aggs map[aggKey]decimal.Decimal
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		bets: make(map[string][]*Bet),
		byID: make(map[string]*Bet),
		aggs: make(map[aggKey]decimal.Decimal),
	}
}

func (m *MemoryRepository) InsertBet(ctx context.Context, bet *Bet) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byID[bet.BetID]; ok {
		return decimal.Zero, apperr.Conflict("bet already recorded")
	}
	b := *bet
	m.byID[b.BetID] = &b
	m.bets[b.GameID] = append(m.bets[b.GameID], &b)

	k := aggKey{gameID: b.GameID, round: b.Round, side: b.Side}
	m.aggs[k] = m.aggs[k].Add(b.Amount)
	return m.aggs[k], nil
}

func (m *MemoryRepository) Aggregate(ctx context.Context, gameID string, round int, side Side) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.aggs[aggKey{gameID: gameID, round: round, side: side}], nil
}

func (m *MemoryRepository) Aggregates(ctx context.Context, gameID string) (RoundTotals, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out RoundTotals
	for k, v := range m.aggs {
		if k.gameID == gameID {
			out.Add(k.round, k.side, v)
		}
	}
	return out, nil
}

func (m *MemoryRepository) BetsForUser(ctx context.Context, gameID string, userID string) ([]Bet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Bet{}
	for _, b := range m.bets[gameID] {
		if b.UserID == userID {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (m *MemoryRepository) BetsForGame(ctx context.Context, gameID string) ([]Bet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Bet, 0, len(m.bets[gameID]))
	for _, b := range m.bets[gameID] {
		out = append(out, *b)
	}
	return out, nil
}

func (m *MemoryRepository) SettleBet(ctx context.Context, betID string, status string, payout decimal.Decimal, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.byID[betID]
	if !ok {
		return apperr.NotFound("bet not found")
	}
	if b.Status != BetStatusActive {
		return apperr.Conflict("bet already settled")
	}
	b.Status = status
	b.Payout = payout
	b.SettledAt = &at
	return nil
}

func (m *MemoryRepository) VoidGame(ctx context.Context, gameID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.bets[gameID] {
		if b.Status != BetStatusActive {
			continue
		}
		k := aggKey{gameID: gameID, round: b.Round, side: b.Side}
		m.aggs[k] = m.aggs[k].Sub(b.Amount)
		b.Status = BetStatusRefunded
		n++
	}
	return n, nil
}
