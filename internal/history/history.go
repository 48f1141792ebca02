// Package history keeps the read-only record of completed and settled games.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"andarbahar_service/internal/apperr"
	"andarbahar_service/internal/ledger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Entry is written once per game.
type Entry struct {
	ID          string          `gorm:"column:id;primaryKey;type:uuid" json:"id"`
	GameID      string          `gorm:"column:game_id;type:uuid;not null;uniqueIndex" json:"gameId"`
	TableID     string          `gorm:"column:table_id;type:varchar(64);not null;index" json:"tableId"`
	OpeningCard string          `gorm:"column:opening_card;type:varchar(4);not null" json:"openingCard"`
	Winner      string          `gorm:"column:winner;type:varchar(8);not null" json:"winner"`
	WinningCard string          `gorm:"column:winning_card;type:varchar(4);not null" json:"winningCard"`
	MatchRound  int             `gorm:"column:match_round;not null" json:"matchRound"`
	TotalCards  int             `gorm:"column:total_cards;not null" json:"totalCards"`
	TotalBets   decimal.Decimal `gorm:"column:total_bets;type:numeric(20,2);not null" json:"totalBets"`
	TotalPayout decimal.Decimal `gorm:"column:total_payout;type:numeric(20,2);not null" json:"totalPayout"`
	Aggregates  datatypes.JSON  `gorm:"column:aggregates;type:jsonb;not null" json:"aggregates"`
	CompletedAt time.Time       `gorm:"column:completed_at;type:timestamptz;not null;index" json:"completedAt"`
	SettledAt   time.Time       `gorm:"column:settled_at;type:timestamptz;not null" json:"settledAt"`
	CreatedAt   time.Time       `gorm:"column:created_at;type:timestamptz;autoCreateTime" json:"-"`
}

func (Entry) TableName() string { return "game_history" }

func (e *Entry) SetAggregates(t ledger.RoundTotals) error {
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	e.Aggregates = datatypes.JSON(b)
	return nil
}

func (e Entry) RoundTotals() (ledger.RoundTotals, error) {
	var t ledger.RoundTotals
	if len(e.Aggregates) == 0 {
		return t, nil
	}
	err := json.Unmarshal(e.Aggregates, &t)
	return t, err
}

type Repository interface {
	// Append stores e unless an entry for the game already exists.
	Append(ctx context.Context, e *Entry) error
	Get(ctx context.Context, gameID string) (*Entry, error)
	// List returns the newest entries first; tableID may be empty.
	List(ctx context.Context, tableID string, limit int) ([]Entry, error)
}

type RepositoryImpl struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *RepositoryImpl {
	return &RepositoryImpl{db: db}
}

func (r *RepositoryImpl) Append(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "game_id"}}, DoNothing: true}).
		Create(e).Error
	if err != nil {
		return apperr.FromStorage("failed to append history", err)
	}
	return nil
}

func (r *RepositoryImpl) Get(ctx context.Context, gameID string) (*Entry, error) {
	var e Entry
	err := r.db.WithContext(ctx).Where("game_id = ?", gameID).First(&e).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("History not found")
		}
		return nil, apperr.FromStorage("failed to get history", err)
	}
	return &e, nil
}

func (r *RepositoryImpl) List(ctx context.Context, tableID string, limit int) ([]Entry, error) {
	q := r.db.WithContext(ctx).Order("completed_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if tableID != "" {
		q = q.Where("table_id = ?", tableID)
	}
	var out []Entry
	if err := q.Find(&out).Error; err != nil {
		return nil, apperr.FromStorage("failed to list history", err)
	}
	return out, nil
}

type MemoryRepository struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{entries: make(map[string]Entry)}
}

func (m *MemoryRepository) Append(ctx context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[e.GameID]; ok {
		return nil
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	e.CreatedAt = time.Now()
	m.entries[e.GameID] = *e
	return nil
}

func (m *MemoryRepository) Get(ctx context.Context, gameID string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[gameID]
	if !ok {
		return nil, apperr.NotFound("History not found")
	}
	return &e, nil
}

func (m *MemoryRepository) List(ctx context.Context, tableID string, limit int) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Entry{}
	for _, e := range m.entries {
		if tableID == "" || e.TableID == tableID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompletedAt.After(out[j].CompletedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
