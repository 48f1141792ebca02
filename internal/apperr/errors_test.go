package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestKindMatching(t *testing.T) {
	err := fmt.Errorf("admit bet: %w", Phase("Betting is closed"))

	assert.True(t, errors.Is(err, ErrPhase))
	assert.False(t, errors.Is(err, ErrValidation))
	assert.Equal(t, KindPhase, KindOf(err))
	assert.Equal(t, "Betting is closed", Message(err))
}

func TestFromStorage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"record not found", gorm.ErrRecordNotFound, KindNotFound},
		{"duplicated key", gorm.ErrDuplicatedKey, KindConflict},
		{"unique violation", &pgconn.PgError{Code: "23505"}, KindConflict},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, KindTransient},
		{"connection exception", &pgconn.PgError{Code: "08006"}, KindTransient},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, KindTransient},
		{"check violation", &pgconn.PgError{Code: "23514"}, KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(FromStorage("op", tt.err)))
		})
	}
	assert.Nil(t, FromStorage("op", nil))
}

func TestRetryStopsOnNonTransient(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 5, time.Millisecond, func() error {
		calls++
		return Validation("Invalid bet amount")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryTransientThenSuccess(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return Transient("insert bet", errors.New("connection reset"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryGivesUp(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 2, time.Millisecond, func() error {
		calls++
		return Transient("insert bet", errors.New("connection reset"))
	})
	assert.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, 2, calls)
}
