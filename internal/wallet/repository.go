package wallet

import (
	"context"
	"errors"
	"time"

	"andarbahar_service/internal/apperr"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrWalletNotFound     = errors.New("wallet not found")
	ErrOptimisticLock     = errors.New("optimistic lock error")
	ErrDuplicateReference = errors.New("duplicate transaction reference")
)

type WalletRepository interface {
	GetBalance(ctx context.Context, playerId string, walletType string, currency string) (*Wallet, error)
	GetTransactionByReference(ctx context.Context, referenceId string, transactionType string) (*Transaction, error)
	CreateWallet(ctx context.Context, playerId string, walletType string, currency string) (*Wallet, error)
	Credit(ctx context.Context, transaction *Transaction) error
	Debit(ctx context.Context, transaction *Transaction) error
}

type WalletRepositoryImpl struct {
	db *gorm.DB
}

func NewWalletRepositoryImpl(db *gorm.DB) WalletRepository {
	return &WalletRepositoryImpl{db: db}
}

func (r *WalletRepositoryImpl) GetBalance(ctx context.Context, playerId string, walletType string, currency string) (*Wallet, error) {
	var w Wallet
	err := r.db.WithContext(ctx).Where("player_id = ? AND wallet_type = ? AND currency = ?", playerId, walletType, currency).First(&w).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, apperr.FromStorage("failed to get wallet", err)
	}
	return &w, nil
}

func (r *WalletRepositoryImpl) GetTransactionByReference(ctx context.Context, referenceId string, transactionType string) (*Transaction, error) {
	var t Transaction
	err := r.db.WithContext(ctx).Where("reference_id = ? AND transaction_type = ?", referenceId, transactionType).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, apperr.FromStorage("failed to get transaction", err)
	}
	return &t, nil
}

func (r *WalletRepositoryImpl) CreateWallet(ctx context.Context, playerId string, walletType string, currency string) (*Wallet, error) {
	w := Wallet{
		WalletID:   uuid.New().String(),
		PlayerID:   playerId,
		WalletType: walletType,
		Currency:   currency,
	}
	err := r.db.WithContext(ctx).Create(&w).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// lost a creation race; the other wallet wins
			return r.GetBalance(ctx, playerId, walletType, currency)
		}
		return nil, apperr.FromStorage("failed to create wallet", err)
	}
	return &w, nil
}

func (r *WalletRepositoryImpl) Debit(ctx context.Context, tx *Transaction) error {
	return r.apply(ctx, tx, func(w *Wallet) error {
		if w.Balance.LessThan(tx.Amount) {
			return ErrInsufficientFunds
		}
		tx.BalanceAfter = w.Balance.Sub(tx.Amount)
		return nil
	})
}

func (r *WalletRepositoryImpl) Credit(ctx context.Context, tx *Transaction) error {
	return r.apply(ctx, tx, func(w *Wallet) error {
		tx.BalanceAfter = w.Balance.Add(tx.Amount)
		return nil
	})
}

// apply runs one balance change under the wallet's version and records the
// transaction in the same database transaction.
func (r *WalletRepositoryImpl) apply(ctx context.Context, tx *Transaction, change func(*Wallet) error) error {
	err := r.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		var w Wallet
		if err := dbtx.Where("wallet_id = ?", tx.WalletID).First(&w).Error; err != nil {
			return err
		}
		if err := change(&w); err != nil {
			return err
		}

		result := dbtx.Model(&Wallet{}).Where("wallet_id = ? AND version = ?", w.WalletID, w.Version).
			Updates(map[string]interface{}{
				"balance":    tx.BalanceAfter,
				"version":    gorm.Expr("version + 1"),
				"updated_at": time.Now(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrOptimisticLock
		}

		tx.TransactionID = uuid.New().String()
		tx.BalanceBefore = w.Balance
		tx.Status = StatusCompleted
		now := time.Now()
		tx.CompletedAt = &now
		return dbtx.Create(tx).Error
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInsufficientFunds), errors.Is(err, ErrOptimisticLock):
		return err
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrWalletNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicateReference
	}
	return apperr.FromStorage("failed to apply transaction", err)
}
