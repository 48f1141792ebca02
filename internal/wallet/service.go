package wallet

import (
	"context"
	"errors"
	"strings"
	"time"

	"andarbahar_service/internal/apperr"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	MaxRetries = 3
	RetryDelay = 10 * time.Millisecond
)

var ErrInvalidTransaction = errors.New("invalid transaction type")

type Service struct {
	repo     WalletRepository
	currency string
	log      *zap.Logger
}

func NewService(repo WalletRepository, currency string, log *zap.Logger) *Service {
	return &Service{repo: repo, currency: currency, log: log}
}

func (s *Service) GetBalance(ctx context.Context, playerId string, walletType string, currency string) (*Wallet, error) {
	if walletType == "" {
		walletType = MainWallet
	}
	if currency == "" {
		currency = s.currency
	}
	return s.repo.GetBalance(ctx, playerId, walletType, currency)
}

// Credit adds amount to the user's main wallet. reference makes the call
// idempotent: a repeated reference returns the original transaction.
func (s *Service) Credit(ctx context.Context, userID string, amount decimal.Decimal, reference string) (*TransactionResponse, error) {
	return s.ProcessTransaction(ctx, TransactionRequest{
		PlayerID:        userID,
		TransactionType: TypeWin,
		Amount:          amount,
		ReferenceID:     reference,
	})
}

func (s *Service) Debit(ctx context.Context, userID string, amount decimal.Decimal, reference string) (*TransactionResponse, error) {
	return s.ProcessTransaction(ctx, TransactionRequest{
		PlayerID:        userID,
		TransactionType: TypeBet,
		Amount:          amount,
		ReferenceID:     reference,
	})
}

func (s *Service) ProcessTransaction(ctx context.Context, req TransactionRequest) (*TransactionResponse, error) {
	if req.WalletType == "" {
		req.WalletType = MainWallet
	}
	if req.Currency == "" {
		req.Currency = s.currency
	}
	credit := req.TransactionType == TypeDeposit || req.TransactionType == TypeWin
	debit := req.TransactionType == TypeWithdrawal || req.TransactionType == TypeBet
	if !credit && !debit {
		return nil, ErrInvalidTransaction
	}
	if strings.TrimSpace(req.PlayerID) == "" || strings.TrimSpace(req.ReferenceID) == "" {
		return nil, apperr.Validation("player_id and reference_id are required")
	}
	if !req.Amount.IsPositive() {
		return nil, apperr.Validation("Invalid amount")
	}

	//idempotency check
	existingTx, err := s.repo.GetTransactionByReference(ctx, req.ReferenceID, req.TransactionType)
	if err != nil {
		return nil, err
	}
	if existingTx != nil {
		return responseFor(existingTx), nil
	}

	wallet, err := s.repo.GetBalance(ctx, req.PlayerID, req.WalletType, req.Currency)
	if err != nil {
		if !errors.Is(err, ErrWalletNotFound) {
			return nil, err
		}
		if debit {
			return nil, ErrInsufficientFunds
		}
		wallet, err = s.repo.CreateWallet(ctx, req.PlayerID, req.WalletType, req.Currency)
		if err != nil {
			return nil, err
		}
	}

	for i := 0; i < MaxRetries; i++ {
		tx := &Transaction{
			WalletID:        wallet.WalletID,
			PlayerID:        req.PlayerID,
			TransactionType: req.TransactionType,
			Amount:          req.Amount,
			ReferenceID:     req.ReferenceID,
		}
		if credit {
			err = s.repo.Credit(ctx, tx)
		} else {
			err = s.repo.Debit(ctx, tx)
		}
		if err == nil {
			s.log.Info("wallet transaction applied",
				zap.String("player_id", req.PlayerID),
				zap.String("type", req.TransactionType),
				zap.String("amount", req.Amount.String()),
				zap.String("reference_id", req.ReferenceID))
			return responseFor(tx), nil
		}
		if errors.Is(err, ErrDuplicateReference) {
			// a concurrent call with the same reference committed first
			existing, lookupErr := s.repo.GetTransactionByReference(ctx, req.ReferenceID, req.TransactionType)
			if lookupErr != nil {
				return nil, lookupErr
			}
			if existing != nil {
				return responseFor(existing), nil
			}
			return nil, err
		}
		if errors.Is(err, ErrOptimisticLock) {
			time.Sleep(RetryDelay)
			continue
		}
		return nil, err
	}
	s.log.Warn("wallet transaction gave up after retries",
		zap.String("player_id", req.PlayerID), zap.String("reference_id", req.ReferenceID))
	return nil, apperr.Transient("wallet busy", err)
}

func responseFor(tx *Transaction) *TransactionResponse {
	return &TransactionResponse{
		TransactionID: tx.TransactionID,
		Balance:       tx.BalanceAfter,
		Status:        tx.Status,
	}
}
