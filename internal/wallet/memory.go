package wallet

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type MemoryRepository struct {
	mu      sync.Mutex
	wallets map[string]*Wallet
	txs     map[string]Transaction
	// FailCredit, when set, is consulted before every credit.
	FailCredit func(tx *Transaction) error
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		wallets: make(map[string]*Wallet),
		txs:     make(map[string]Transaction),
	}
}

func walletKey(playerId, walletType, currency string) string {
	return playerId + "|" + walletType + "|" + currency
}

func txKey(referenceId, transactionType string) string {
	return referenceId + "|" + transactionType
}

func (m *MemoryRepository) GetBalance(ctx context.Context, playerId string, walletType string, currency string) (*Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[walletKey(playerId, walletType, currency)]
	if !ok {
		return nil, ErrWalletNotFound
	}
	cp := *w
	return &cp, nil
}

func (m *MemoryRepository) GetTransactionByReference(ctx context.Context, referenceId string, transactionType string) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txs[txKey(referenceId, transactionType)]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (m *MemoryRepository) CreateWallet(ctx context.Context, playerId string, walletType string, currency string) (*Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := walletKey(playerId, walletType, currency)
	if w, ok := m.wallets[key]; ok {
		cp := *w
		return &cp, nil
	}
	now := time.Now()
	w := &Wallet{
		WalletID:   uuid.New().String(),
		PlayerID:   playerId,
		WalletType: walletType,
		Currency:   currency,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.wallets[key] = w
	cp := *w
	return &cp, nil
}

func (m *MemoryRepository) byID(walletID string) *Wallet {
	for _, w := range m.wallets {
		if w.WalletID == walletID {
			return w
		}
	}
	return nil
}

func (m *MemoryRepository) Credit(ctx context.Context, tx *Transaction) error {
	if m.FailCredit != nil {
		if err := m.FailCredit(tx); err != nil {
			return err
		}
	}
	return m.apply(tx, false)
}

func (m *MemoryRepository) Debit(ctx context.Context, tx *Transaction) error {
	return m.apply(tx, true)
}

func (m *MemoryRepository) apply(tx *Transaction, debit bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.byID(tx.WalletID)
	if w == nil {
		return ErrWalletNotFound
	}
	key := txKey(tx.ReferenceID, tx.TransactionType)
	if _, ok := m.txs[key]; ok {
		return ErrDuplicateReference
	}
	after := w.Balance.Add(tx.Amount)
	if debit {
		if w.Balance.LessThan(tx.Amount) {
			return ErrInsufficientFunds
		}
		after = w.Balance.Sub(tx.Amount)
	}
	now := time.Now()
	tx.TransactionID = uuid.New().String()
	tx.BalanceBefore = w.Balance
	tx.BalanceAfter = after
	tx.Status = StatusCompleted
	tx.CreatedAt = now
	tx.CompletedAt = &now

	w.Balance = after
	w.Version++
	w.UpdatedAt = now
	m.txs[key] = *tx
	return nil
}
