package core

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRetrier struct {
	calls atomic.Int32
	err   error
}

func (c *countingRetrier) RetryUnreported(_ context.Context, limit int) (int, error) {
	c.calls.Add(1)
	if c.err != nil {
		return 0, c.err
	}
	return limit, nil
}

func TestReportRetrier(t *testing.T) {
	logger := zerolog.New(zerolog.NewTestWriter(t))

	t.Run("runs at start and on every tick", func(t *testing.T) {
		retrier := &countingRetrier{}
		rr := NewReportRetrier(retrier, 20*time.Millisecond, logger)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		require.NoError(t, rr.Start(ctx))
		assert.Equal(t, int32(1), retrier.calls.Load())

		assert.Eventually(t, func() bool { return retrier.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
		rr.Stop()

		stopped := retrier.calls.Load()
		time.Sleep(60 * time.Millisecond)
		assert.LessOrEqual(t, retrier.calls.Load(), stopped+1)
	})

	t.Run("errors do not stop the loop", func(t *testing.T) {
		retrier := &countingRetrier{err: errors.New("database locked")}
		rr := NewReportRetrier(retrier, 10*time.Millisecond, logger)

		ctx, cancel := context.WithCancel(context.Background())
		require.NoError(t, rr.Start(ctx))
		assert.Eventually(t, func() bool { return retrier.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
		cancel()
	})
}
