package game

import (
	"context"
	"strings"
	"sync"
	"time"

	"andarbahar_service/internal/apperr"
	"andarbahar_service/internal/card"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	settleAttempts = 5
	settleDelay    = 500 * time.Millisecond
)

// Settler applies payouts for a completed game. Calling it again for the
// same game must be a no-op.
type Settler interface {
	SettleGame(ctx context.Context, gameID string) error
}

// Manager keeps one Controller per live game and enforces a single
// non-terminal game per table.
type Manager struct {
	cfg     Config
	repo    Repository
	bets    BetRecorder
	sink    EventSink
	settler Settler
	log     *zap.Logger

	mu     sync.RWMutex
	live   map[string]*Controller
	tables map[string]string
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(cfg Config, repo Repository, bets BetRecorder, sink EventSink, settler Settler, log *zap.Logger) *Manager {
	if sink == nil {
		sink = NopSink{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:     cfg,
		repo:    repo,
		bets:    bets,
		sink:    sink,
		settler: settler,
		log:     log,
		live:    make(map[string]*Controller),
		tables:  make(map[string]string),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (m *Manager) CreateGame(ctx context.Context, tableID string) (Game, error) {
	tableID = strings.TrimSpace(tableID)
	if tableID == "" {
		return Game{}, apperr.Validation("Invalid table")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if prevID, ok := m.tables[tableID]; ok {
		if prev, ok := m.live[prevID]; ok {
			g, _, err := prev.Snapshot(ctx)
			if err != nil {
				return Game{}, err
			}
			if !g.Phase.Terminal() {
				return Game{}, apperr.Conflict("Table already has an active game")
			}
			prev.Stop()
			delete(m.live, prevID)
		}
		delete(m.tables, tableID)
	}

	now := time.Now()
	g := Game{
		GameID:    uuid.New().String(),
		TableID:   tableID,
		Phase:     PhaseIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := apperr.Retry(ctx, MaxRetries, RetryDelay, func() error {
		return m.repo.CreateGame(ctx, &g)
	})
	if err != nil {
		return Game{}, err
	}
	m.live[g.GameID] = newController(m.cfg, g, nil, m.repo, m.bets, m.sink, m.log, m.handleComplete)
	m.tables[tableID] = g.GameID

	m.log.Info("game created", zap.String("game_id", g.GameID), zap.String("table_id", tableID))
	return g, nil
}

// StartGame creates a game on tableID and sets its opening card.
func (m *Manager) StartGame(ctx context.Context, tableID string, opening card.Card) (Game, error) {
	if opening.IsZero() {
		return Game{}, apperr.Validation("Invalid card")
	}
	g, err := m.CreateGame(ctx, tableID)
	if err != nil {
		return Game{}, err
	}
	c, err := m.Controller(g.GameID)
	if err != nil {
		return Game{}, err
	}
	return c.SetOpeningCard(ctx, opening)
}

func (m *Manager) Controller(gameID string) (*Controller, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.live[gameID]
	if !ok {
		return nil, apperr.NotFound("Game not found")
	}
	return c, nil
}

// Snapshot rebuilds the full game view from the controller (or the stored
// row once the game is no longer live), the ledger aggregates and the
// dealt cards.
func (m *Manager) Snapshot(ctx context.Context, gameID string) (*State, error) {
	var (
		g     Game
		dealt []DealtCard
	)
	if c, err := m.Controller(gameID); err == nil {
		if g, dealt, err = c.Snapshot(ctx); err != nil {
			return nil, err
		}
	} else {
		stored, err := m.repo.GetGame(ctx, gameID)
		if err != nil {
			return nil, err
		}
		g = *stored
		if dealt, err = m.repo.DealtCards(ctx, gameID); err != nil {
			return nil, err
		}
	}
	totals, err := m.bets.Aggregates(ctx, gameID)
	if err != nil {
		return nil, err
	}
	s := BuildState(g, dealt, totals)
	return &s, nil
}

// Resume reloads every unfinished game after a restart and settles games
// that completed without a settlement marker.
func (m *Manager) Resume(ctx context.Context) error {
	active, err := m.repo.ActiveGames(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	for _, g := range active {
		if _, ok := m.live[g.GameID]; ok {
			continue
		}
		if other, ok := m.tables[g.TableID]; ok && other != g.GameID {
			m.log.Warn("second active game on table, skipping",
				zap.String("game_id", g.GameID), zap.String("table_id", g.TableID))
			continue
		}
		dealt, err := m.repo.DealtCards(ctx, g.GameID)
		if err != nil {
			m.mu.Unlock()
			return err
		}
		m.live[g.GameID] = newController(m.cfg, g, dealt, m.repo, m.bets, m.sink, m.log, m.handleComplete)
		m.tables[g.TableID] = g.GameID
		m.log.Info("game resumed", zap.String("game_id", g.GameID), zap.String("phase", string(g.Phase)))
	}
	m.mu.Unlock()

	unsettled, err := m.repo.UnsettledGames(ctx)
	if err != nil {
		return err
	}
	for _, g := range unsettled {
		m.settle(g.GameID)
	}
	return nil
}

func (m *Manager) handleComplete(g Game) {
	if g.IsReset() {
		return
	}
	m.settle(g.GameID)
}

func (m *Manager) settle(gameID string) {
	if m.settler == nil {
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		err := apperr.Retry(m.ctx, settleAttempts, settleDelay, func() error {
			return m.settler.SettleGame(m.ctx, gameID)
		})
		if err != nil {
			m.log.Error("settlement failed", zap.String("game_id", gameID), zap.Error(err))
		}
	}()
}

// Close stops every controller and waits for in-flight settlements.
func (m *Manager) Close() {
	m.mu.Lock()
	for id, c := range m.live {
		c.Stop()
		delete(m.live, id)
	}
	m.tables = make(map[string]string)
	m.closed = true
	m.mu.Unlock()
	m.cancel()
	m.wg.Wait()
}
