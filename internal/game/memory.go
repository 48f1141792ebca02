package game

import (
	"context"
	"sort"
	"sync"
	"time"

	"andarbahar_service/internal/apperr"
)

type MemoryRepository struct {
	mu    sync.RWMutex
	games map[string]Game
	dealt map[string][]DealtCard
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		games: make(map[string]Game),
		dealt: make(map[string][]DealtCard),
	}
}

func (m *MemoryRepository) CreateGame(ctx context.Context, g *Game) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.games[g.GameID]; ok {
		return apperr.Conflict("game already exists")
	}
	m.games[g.GameID] = *g
	return nil
}

func (m *MemoryRepository) SaveGame(ctx context.Context, g *Game) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g.UpdatedAt = time.Now()
	if prev, ok := m.games[g.GameID]; ok && prev.SettledAt != nil {
		g.SettledAt = prev.SettledAt
	}
	m.games[g.GameID] = *g
	return nil
}

func (m *MemoryRepository) GetGame(ctx context.Context, gameID string) (*Game, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.games[gameID]
	if !ok {
		return nil, apperr.NotFound("Game not found")
	}
	return &g, nil
}

func (m *MemoryRepository) list(keep func(Game) bool) []Game {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Game{}
	for _, g := range m.games {
		if keep(g) {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *MemoryRepository) ActiveGames(ctx context.Context) ([]Game, error) {
	return m.list(func(g Game) bool { return g.Phase != PhaseCompleted }), nil
}

func (m *MemoryRepository) UnsettledGames(ctx context.Context) ([]Game, error) {
	return m.list(func(g Game) bool {
		return g.Phase == PhaseCompleted && g.SettledAt == nil && g.ResetAt == nil
	}), nil
}

func (m *MemoryRepository) ApplyDeal(ctx context.Context, d *DealtCard, g *Game) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.dealt[d.GameID] {
		if existing.Position == d.Position {
			return apperr.Conflict("Position already dealt")
		}
	}
	m.dealt[d.GameID] = append(m.dealt[d.GameID], *d)
	g.UpdatedAt = time.Now()
	m.games[g.GameID] = *g
	return nil
}

func (m *MemoryRepository) DealtCards(ctx context.Context, gameID string) ([]DealtCard, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]DealtCard{}, m.dealt[gameID]...), nil
}

func (m *MemoryRepository) MarkSettled(ctx context.Context, gameID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[gameID]
	if !ok {
		return apperr.NotFound("Game not found")
	}
	if g.Phase != PhaseCompleted || g.SettledAt != nil {
		return apperr.Conflict("game already settled")
	}
	g.SettledAt = &at
	m.games[gameID] = g
	return nil
}
