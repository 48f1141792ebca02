package settlement

import (
	"context"
	"sync"
	"time"

	"andarbahar_service/internal/wallet"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	retryBatch = 50
	leaseFor   = time.Minute
)

// Retrier re-attempts pending credits in the background until they succeed
// or run out of attempts.
type Retrier struct {
	svc      *Service
	interval time.Duration
	log      *zap.Logger
}

func NewRetrier(svc *Service, log *zap.Logger) *Retrier {
	interval := svc.opts.RetryInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Retrier{svc: svc, interval: interval, log: log}
}

// Run blocks until ctx is cancelled.
func (r *Retrier) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	r.log.Info("settlement retrier started", zap.Duration("interval", r.interval))
	for {
		select {
		case <-ctx.Done():
			r.log.Info("settlement retrier stopped")
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				r.log.Error("settlement retry pass failed", zap.Error(err))
			}
		}
	}
}

// RunOnce attempts every credit due now and returns how many succeeded.
func (r *Retrier) RunOnce(ctx context.Context) (int, error) {
	now := time.Now()
	due, err := r.svc.credits.ClaimDue(ctx, now, now.Add(leaseFor), retryBatch)
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		return 0, nil
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
		ok int
	)
	sem := semaphore.NewWeighted(int64(r.svc.opts.Concurrency))
	for i := range due {
		c := due[i]
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			status, _ := r.svc.attempt(ctx, &c)
			if status == CreditCredited {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	r.log.Info("settlement retry pass", zap.Int("due", len(due)), zap.Int("credited", ok))
	return ok, nil
}

// WalletLedger adapts the wallet service to AccountLedger.
type WalletLedger struct {
	Wallet *wallet.Service
}

func (w WalletLedger) Credit(ctx context.Context, userID string, amount decimal.Decimal, reference string) error {
	_, err := w.Wallet.Credit(ctx, userID, amount, reference)
	return err
}
