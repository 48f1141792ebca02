package game

import (
	"context"
	"time"

	"andarbahar_service/internal/apperr"
	"gorm.io/gorm"
)

type Repository interface {
	CreateGame(ctx context.Context, g *Game) error
	SaveGame(ctx context.Context, g *Game) error
	GetGame(ctx context.Context, gameID string) (*Game, error)
	// ActiveGames lists every game not yet completed.
	ActiveGames(ctx context.Context) ([]Game, error)
	// UnsettledGames lists completed, non-reset games without a settlement marker.
	UnsettledGames(ctx context.Context) ([]Game, error)
	// ApplyDeal stores the dealt card and the resulting game row together.
	ApplyDeal(ctx context.Context, d *DealtCard, g *Game) error
	DealtCards(ctx context.Context, gameID string) ([]DealtCard, error)
	// MarkSettled sets the settlement marker; a second call is a conflict.
	MarkSettled(ctx context.Context, gameID string, at time.Time) error
}

type RepositoryImpl struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *RepositoryImpl {
	return &RepositoryImpl{db: db}
}

func (r *RepositoryImpl) CreateGame(ctx context.Context, g *Game) error {
	if err := r.db.WithContext(ctx).Create(g).Error; err != nil {
		return apperr.FromStorage("failed to create game", err)
	}
	return nil
}

func (r *RepositoryImpl) SaveGame(ctx context.Context, g *Game) error {
	g.UpdatedAt = time.Now()
	if err := r.db.WithContext(ctx).Save(g).Error; err != nil {
		return apperr.FromStorage("failed to save game", err)
	}
	return nil
}

func (r *RepositoryImpl) GetGame(ctx context.Context, gameID string) (*Game, error) {
	var g Game
	err := r.db.WithContext(ctx).Where("game_id = ?", gameID).First(&g).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.NotFound("Game not found")
		}
		return nil, apperr.FromStorage("failed to get game", err)
	}
	return &g, nil
}

func (r *RepositoryImpl) ActiveGames(ctx context.Context) ([]Game, error) {
	var games []Game
	err := r.db.WithContext(ctx).
		Where("phase <> ?", PhaseCompleted).
		Order("created_at ASC").
		Find(&games).Error
	if err != nil {
		return nil, apperr.FromStorage("failed to list active games", err)
	}
	return games, nil
}

func (r *RepositoryImpl) UnsettledGames(ctx context.Context) ([]Game, error) {
	var games []Game
	err := r.db.WithContext(ctx).
		Where("phase = ? AND settled_at IS NULL AND reset_at IS NULL", PhaseCompleted).
		Order("completed_at ASC").
		Find(&games).Error
	if err != nil {
		return nil, apperr.FromStorage("failed to list unsettled games", err)
	}
	return games, nil
}

func (r *RepositoryImpl) ApplyDeal(ctx context.Context, d *DealtCard, g *Game) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(d).Error; err != nil {
			return err
		}
		g.UpdatedAt = time.Now()
		return tx.Save(g).Error
	})
	if err != nil {
		err = apperr.FromStorage("failed to record dealt card", err)
		if apperr.KindOf(err) == apperr.KindConflict {
			return apperr.Conflict("Position already dealt")
		}
		return err
	}
	return nil
}

func (r *RepositoryImpl) DealtCards(ctx context.Context, gameID string) ([]DealtCard, error) {
	var cards []DealtCard
	err := r.db.WithContext(ctx).
		Where("game_id = ?", gameID).
		Order("position ASC").
		Find(&cards).Error
	if err != nil {
		return nil, apperr.FromStorage("failed to list dealt cards", err)
	}
	return cards, nil
}

func (r *RepositoryImpl) MarkSettled(ctx context.Context, gameID string, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&Game{}).
		Where("game_id = ? AND phase = ? AND settled_at IS NULL", gameID, PhaseCompleted).
		Updates(map[string]interface{}{
			"settled_at": at,
			"updated_at": gorm.Expr("NOW()"),
		})
	if result.Error != nil {
		return apperr.FromStorage("failed to mark game settled", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperr.Conflict("game already settled")
	}
	return nil
}
