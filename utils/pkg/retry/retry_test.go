package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type statusError struct {
	code int
}

func (e *statusError) Error() string       { return fmt.Sprintf("api error, status %d", e.code) }
func (e *statusError) HTTPStatusCode() int { return e.code }

func fastConfig() Config {
	return Config{MaxAttempts: 3, BaseBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func TestFloe_Retry_Do(t *testing.T) {
	t.Parallel()

	t.Run("succeeds first try", func(t *testing.T) {
		t.Parallel()
		calls := 0
		err := Do(context.Background(), fastConfig(), func() error {
			calls++
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, 1, calls)
	})

	t.Run("retries transient errors", func(t *testing.T) {
		t.Parallel()
		calls := 0
		err := Do(context.Background(), fastConfig(), func() error {
			calls++
			if calls < 3 {
				return errors.New("connection reset by peer")
			}
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, 3, calls)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		t.Parallel()
		calls := 0
		transient := &statusError{code: 503}
		err := Do(context.Background(), fastConfig(), func() error {
			calls++
			return transient
		})
		require.ErrorIs(t, err, transient)
		require.Contains(t, err.Error(), "failed after 3 attempts")
		require.Equal(t, 3, calls)
	})

	t.Run("does not retry permanent errors", func(t *testing.T) {
		t.Parallel()
		calls := 0
		permanent := errors.New("no such bucket")
		err := Do(context.Background(), fastConfig(), func() error {
			calls++
			return permanent
		})
		require.ErrorIs(t, err, permanent)
		require.Equal(t, 1, calls)
	})

	t.Run("stops when the context is cancelled", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := Do(ctx, Config{MaxAttempts: 5, BaseBackoff: time.Hour, MaxBackoff: time.Hour}, func() error {
			calls++
			cancel()
			return errors.New("timeout")
		})
		require.ErrorIs(t, err, context.Canceled)
		require.Equal(t, 1, calls)
	})
}

func TestFloe_Retry_IsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"context canceled", context.Canceled, false},
		{"context deadline", context.DeadlineExceeded, false},
		{"throttled status", &statusError{code: 429}, true},
		{"server error status", &statusError{code: 500}, true},
		{"client error status", &statusError{code: 404}, false},
		{"wrapped throttle", fmt.Errorf("put failed: %w", &statusError{code: 503}), true},
		{"minio slow down", errors.New("SlowDown: please reduce your request rate"), true},
		{"broken pipe", errors.New("write: broken pipe"), true},
		{"plain failure", errors.New("access denied"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}
