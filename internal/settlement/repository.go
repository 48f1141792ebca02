package settlement

import (
	"context"
	"sort"
	"sync"
	"time"

	"andarbahar_service/internal/apperr"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository interface {
	// EnsureCredit inserts c unless a credit for (game, user) exists, and
	// returns the stored row.
	EnsureCredit(ctx context.Context, c *Credit) (*Credit, error)
	CreditsForGame(ctx context.Context, gameID string) ([]Credit, error)
	MarkCredited(ctx context.Context, creditID string, at time.Time) error
	// MarkAttempt records a failed attempt; final moves the credit to failed.
	MarkAttempt(ctx context.Context, creditID string, lastErr string, next time.Time, final bool) error
	// ClaimDue leases up to limit pending credits due at now by pushing
	// their next attempt to leaseUntil.
	ClaimDue(ctx context.Context, now time.Time, leaseUntil time.Time, limit int) ([]Credit, error)
}

type RepositoryImpl struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *RepositoryImpl {
	return &RepositoryImpl{db: db}
}

func (r *RepositoryImpl) EnsureCredit(ctx context.Context, c *Credit) (*Credit, error) {
	db := r.db.WithContext(ctx)
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "game_id"}, {Name: "user_id"}},
		DoNothing: true,
	}).Create(c).Error
	if err != nil {
		return nil, apperr.FromStorage("failed to create credit", err)
	}
	var stored Credit
	if err := db.Where("game_id = ? AND user_id = ?", c.GameID, c.UserID).Take(&stored).Error; err != nil {
		return nil, apperr.FromStorage("failed to read credit", err)
	}
	return &stored, nil
}

func (r *RepositoryImpl) CreditsForGame(ctx context.Context, gameID string) ([]Credit, error) {
	var out []Credit
	err := r.db.WithContext(ctx).Where("game_id = ?", gameID).Order("user_id ASC").Find(&out).Error
	if err != nil {
		return nil, apperr.FromStorage("failed to list credits", err)
	}
	return out, nil
}

func (r *RepositoryImpl) MarkCredited(ctx context.Context, creditID string, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&Credit{}).
		Where("credit_id = ? AND status <> ?", creditID, CreditCredited).
		Updates(map[string]interface{}{
			"status":      CreditCredited,
			"attempts":    gorm.Expr("attempts + 1"),
			"last_error":  "",
			"credited_at": at,
			"updated_at":  time.Now(),
		}).Error
	if err != nil {
		return apperr.FromStorage("failed to mark credit", err)
	}
	return nil
}

func (r *RepositoryImpl) MarkAttempt(ctx context.Context, creditID string, lastErr string, next time.Time, final bool) error {
	updates := map[string]interface{}{
		"attempts":        gorm.Expr("attempts + 1"),
		"last_error":      lastErr,
		"next_attempt_at": next,
		"updated_at":      time.Now(),
	}
	if final {
		updates["status"] = CreditFailed
	}
	err := r.db.WithContext(ctx).Model(&Credit{}).
		Where("credit_id = ? AND status = ?", creditID, CreditPending).
		Updates(updates).Error
	if err != nil {
		return apperr.FromStorage("failed to record credit attempt", err)
	}
	return nil
}

func (r *RepositoryImpl) ClaimDue(ctx context.Context, now time.Time, leaseUntil time.Time, limit int) ([]Credit, error) {
	var due []Credit
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND next_attempt_at <= ?", CreditPending, now).
			Order("next_attempt_at ASC").
			Limit(limit).
			Find(&due).Error
		if err != nil || len(due) == 0 {
			return err
		}
		ids := make([]string, 0, len(due))
		for _, c := range due {
			ids = append(ids, c.CreditID)
		}
		return tx.Model(&Credit{}).Where("credit_id IN ?", ids).
			Update("next_attempt_at", leaseUntil).Error
	})
	if err != nil {
		return nil, apperr.FromStorage("failed to claim credits", err)
	}
	return due, nil
}

type MemoryRepository struct {
	mu      sync.Mutex
	credits map[string]*Credit
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{credits: make(map[string]*Credit)}
}

func (m *MemoryRepository) EnsureCredit(ctx context.Context, c *Credit) (*Credit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.credits {
		if existing.GameID == c.GameID && existing.UserID == c.UserID {
			cp := *existing
			return &cp, nil
		}
	}
	stored := *c
	m.credits[c.CreditID] = &stored
	cp := stored
	return &cp, nil
}

func (m *MemoryRepository) CreditsForGame(ctx context.Context, gameID string) ([]Credit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Credit{}
	for _, c := range m.credits {
		if c.GameID == gameID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (m *MemoryRepository) MarkCredited(ctx context.Context, creditID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.credits[creditID]
	if !ok {
		return apperr.NotFound("credit not found")
	}
	if c.Status == CreditCredited {
		return nil
	}
	c.Status = CreditCredited
	c.Attempts++
	c.LastError = ""
	c.CreditedAt = &at
	c.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryRepository) MarkAttempt(ctx context.Context, creditID string, lastErr string, next time.Time, final bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.credits[creditID]
	if !ok {
		return apperr.NotFound("credit not found")
	}
	if c.Status != CreditPending {
		return nil
	}
	c.Attempts++
	c.LastError = lastErr
	c.NextAttemptAt = next
	c.UpdatedAt = time.Now()
	if final {
		c.Status = CreditFailed
	}
	return nil
}

func (m *MemoryRepository) ClaimDue(ctx context.Context, now time.Time, leaseUntil time.Time, limit int) ([]Credit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []*Credit
	for _, c := range m.credits {
		if c.Status == CreditPending && !c.NextAttemptAt.After(now) {
			due = append(due, c)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextAttemptAt.Before(due[j].NextAttemptAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	out := make([]Credit, 0, len(due))
	for _, c := range due {
		c.NextAttemptAt = leaseUntil
		out = append(out, *c)
	}
	return out, nil
}
