package game

import (
	"time"

	"andarbahar_service/internal/card"
	"andarbahar_service/internal/ledger"
)

type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseBettingR1 Phase = "betting_r1"
	PhaseDealingR1 Phase = "dealing_r1"
	PhaseBettingR2 Phase = "betting_r2"
	PhaseDealingR2 Phase = "dealing_r2"
	PhaseFinalDraw Phase = "final_draw"
	PhaseCompleted Phase = "completed"
)

var phaseOrder = map[Phase]int{
	PhaseIdle:      0,
	PhaseBettingR1: 1,
	PhaseDealingR1: 2,
	PhaseBettingR2: 3,
	PhaseDealingR2: 4,
	PhaseFinalDraw: 5,
	PhaseCompleted: 6,
}

func ParsePhase(s string) (Phase, bool) {
	p := Phase(s)
	_, ok := phaseOrder[p]
	return p, ok
}

// BettingRound is 1 or 2 for the betting phases and 0 otherwise.
func (p Phase) BettingRound() int {
	switch p {
	case PhaseBettingR1:
		return 1
	case PhaseBettingR2:
		return 2
	}
	return 0
}

func (p Phase) IsDealing() bool {
	return p == PhaseDealingR1 || p == PhaseDealingR2 || p == PhaseFinalDraw
}

func (p Phase) Terminal() bool { return p == PhaseCompleted }

// Before reports whether p comes strictly earlier than q in a game.
func (p Phase) Before(q Phase) bool { return phaseOrder[p] < phaseOrder[q] }

type Game struct {
	GameID       string       `gorm:"column:game_id;primaryKey;type:uuid" json:"game_id"`
	TableID      string       `gorm:"column:table_id;type:varchar(64);not null;index" json:"table_id"`
	OpeningCard  *card.Card   `gorm:"column:opening_card;type:varchar(4)" json:"opening_card"`
	Phase        Phase        `gorm:"column:phase;type:varchar(16);not null;index" json:"phase"`
	Round        int          `gorm:"column:round;not null;default:0" json:"round"`
	TimerSeconds int          `gorm:"column:timer_seconds;not null;default:0" json:"timer_seconds"`
	RoundCards   int          `gorm:"column:round_cards;not null;default:0" json:"-"`
	Winner       *ledger.Side `gorm:"column:winner;type:varchar(8)" json:"winner"`
	WinningCard  *card.Card   `gorm:"column:winning_card;type:varchar(4)" json:"winning_card"`
	CreatedAt    time.Time    `gorm:"column:created_at;not null;default:now()" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"column:updated_at;not null;default:now()" json:"updated_at"`
	CompletedAt  *time.Time   `gorm:"column:completed_at" json:"completed_at,omitempty"`
	SettledAt    *time.Time   `gorm:"column:settled_at" json:"settled_at,omitempty"`
	ResetAt      *time.Time   `gorm:"column:reset_at" json:"reset_at,omitempty"`
}

func (Game) TableName() string { return "games" }

func (g Game) IsReset() bool { return g.ResetAt != nil }

type DealtCard struct {
	DealtCardID   string      `gorm:"column:dealt_card_id;primaryKey;type:uuid" json:"-"`
	GameID        string      `gorm:"column:game_id;type:uuid;not null;uniqueIndex:idx_dealt_cards_position" json:"game_id"`
	Card          card.Card   `gorm:"column:card;type:varchar(4);not null" json:"card"`
	Side          ledger.Side `gorm:"column:side;type:varchar(8);not null" json:"side"`
	Position      int         `gorm:"column:position;not null;uniqueIndex:idx_dealt_cards_position" json:"position"`
	Round         int         `gorm:"column:round;not null" json:"round"`
	IsWinningCard bool        `gorm:"column:is_winning_card;not null;default:false" json:"isWinningCard"`
	CreatedAt     time.Time   `gorm:"column:created_at;not null;default:now()" json:"-"`
}

func (DealtCard) TableName() string { return "dealt_cards" }
