package wallet

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TypeDeposit    = "deposit"
	TypeWithdrawal = "withdrawal"
	TypeBet        = "bet"
	TypeWin        = "win"

	StatusCompleted = "completed"

	MainWallet = "main"
)

type Wallet struct {
	WalletID   string          `gorm:"column:wallet_id;primaryKey;type:uuid;default:gen_random_uuid()" json:"wallet_id"`
	PlayerID   string          `gorm:"column:player_id;type:varchar(64);not null;uniqueIndex:idx_wallets_owner" json:"player_id"`
	WalletType string          `gorm:"column:wallet_type;type:varchar(20);not null;uniqueIndex:idx_wallets_owner" json:"wallet_type"`
	Currency   string          `gorm:"column:currency;type:varchar(3);not null;uniqueIndex:idx_wallets_owner" json:"currency"`
	Balance    decimal.Decimal `gorm:"column:balance;type:numeric(20,2);not null;default:0" json:"balance"`
	Version    int             `gorm:"column:version;not null;default:1" json:"-"`
	CreatedAt  time.Time       `gorm:"column:created_at;not null;default:now()" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"column:updated_at;not null;default:now()" json:"updated_at"`
}

type Transaction struct {
	TransactionID   string          `gorm:"column:transaction_id;primaryKey;type:uuid;default:gen_random_uuid()"`
	WalletID        string          `gorm:"column:wallet_id;type:uuid;not null;index"`
	PlayerID        string          `gorm:"column:player_id;type:varchar(64);not null"`
	TransactionType string          `gorm:"column:transaction_type;type:varchar(20);not null;uniqueIndex:idx_transactions_reference"`
	Amount          decimal.Decimal `gorm:"column:amount;type:numeric(20,2);not null"`
	BalanceBefore   decimal.Decimal `gorm:"column:balance_before;type:numeric(20,2);not null"`
	BalanceAfter    decimal.Decimal `gorm:"column:balance_after;type:numeric(20,2);not null"`
	// ReferenceID is the caller's idempotency key, e.g. settle:<gameId>:<userId>.
	ReferenceID string     `gorm:"column:reference_id;type:varchar(255);not null;uniqueIndex:idx_transactions_reference"`
	Status      string     `gorm:"column:status;type:varchar(20);not null"`
	CreatedAt   time.Time  `gorm:"column:created_at;not null;default:now()"`
	CompletedAt *time.Time `gorm:"column:completed_at"`
}

type TransactionRequest struct {
	PlayerID        string          `json:"player_id" binding:"required"`
	WalletType      string          `json:"wallet_type"`
	TransactionType string          `json:"transaction_type" binding:"required"`
	Amount          decimal.Decimal `json:"amount"`
	ReferenceID     string          `json:"reference_id" binding:"required"`
	Currency        string          `json:"currency"`
}

type TransactionResponse struct {
	TransactionID string          `json:"transaction_id"`
	Balance       decimal.Decimal `json:"balance"`
	Status        string          `json:"status"`
}
