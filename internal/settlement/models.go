package settlement

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	CreditPending  = "pending"
	CreditCredited = "credited"
	CreditFailed   = "failed"
)

// Credit is one user's payout for one game. It is created once and moves
// from pending to credited, or to failed after the last attempt.
type Credit struct {
	CreditID      string          `gorm:"column:credit_id;primaryKey;type:uuid" json:"creditId"`
	GameID        string          `gorm:"column:game_id;type:uuid;not null;uniqueIndex:idx_settlement_credits_user" json:"gameId"`
	UserID        string          `gorm:"column:user_id;type:varchar(64);not null;uniqueIndex:idx_settlement_credits_user" json:"userId"`
	Amount        decimal.Decimal `gorm:"column:amount;type:numeric(20,2);not null" json:"amount"`
	Reference     string          `gorm:"column:reference;type:varchar(255);not null" json:"reference"`
	Status        string          `gorm:"column:status;type:varchar(16);not null;index:idx_settlement_credits_due" json:"status"`
	Attempts      int             `gorm:"column:attempts;not null;default:0" json:"attempts"`
	LastError     string          `gorm:"column:last_error;type:text" json:"lastError,omitempty"`
	NextAttemptAt time.Time       `gorm:"column:next_attempt_at;not null;index:idx_settlement_credits_due" json:"nextAttemptAt"`
	CreatedAt     time.Time       `gorm:"column:created_at;not null;default:now()" json:"createdAt"`
	UpdatedAt     time.Time       `gorm:"column:updated_at;not null;default:now()" json:"updatedAt"`
	CreditedAt    *time.Time      `gorm:"column:credited_at" json:"creditedAt,omitempty"`
}

func (Credit) TableName() string { return "settlement_credits" }

func creditReference(gameID, userID string) string {
	return "settle:" + gameID + ":" + userID
}

type UserResult struct {
	UserID string          `json:"userId"`
	Payout decimal.Decimal `json:"payout"`
	Status string          `json:"status"`
	Error  string          `json:"error,omitempty"`
}

// Report is the outcome of one settle call.
type Report struct {
	GameID         string       `json:"gameId"`
	Winner         string       `json:"winner"`
	MatchRound     int          `json:"matchRound"`
	AlreadySettled bool         `json:"alreadySettled"`
	Results        []UserResult `json:"results"`
}

// Failed lists users whose credit is still outstanding.
func (r *Report) Failed() []UserResult {
	var out []UserResult
	for _, res := range r.Results {
		if res.Status == CreditPending || res.Status == CreditFailed {
			out = append(out, res)
		}
	}
	return out
}
