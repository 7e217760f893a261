package isolate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCall(t *testing.T) {
	ctx := context.Background()

	t.Run("returns the result", func(t *testing.T) {
		got, err := Call(ctx, "fast", time.Second, func(context.Context) (int, error) {
			return 42, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 42, got)
	})

	t.Run("propagates the error", func(t *testing.T) {
		_, err := Call(ctx, "broken", time.Second, func(context.Context) (int, error) {
			return 0, errors.New("provider down")
		})
		assert.ErrorContains(t, err, "provider down")
	})

	t.Run("times out a hung call", func(t *testing.T) {
		start := time.Now()
		_, err := Call(ctx, "hung", 20*time.Millisecond, func(callCtx context.Context) (int, error) {
			<-callCtx.Done()
			return 0, callCtx.Err()
		})
		var te *TimeoutError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, "hung", te.Op)
		assert.Less(t, time.Since(start), 5*time.Second)
	})

	t.Run("canceled context wins over the timer", func(t *testing.T) {
		cancelCtx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := Call(cancelCtx, "canceled", time.Minute, func(callCtx context.Context) (int, error) {
			<-callCtx.Done()
			return 0, callCtx.Err()
		})
		require.Error(t, err)
		var te *TimeoutError
		assert.False(t, errors.As(err, &te))
	})
}

func TestExec(t *testing.T) {
	ctx := context.Background()

	t.Run("captures stdout", func(t *testing.T) {
		res, err := Exec(ctx, "echo", 5*time.Second, time.Second, "echo", "hello")
		require.NoError(t, err)
		assert.Equal(t, "hello\n", res.Stdout)
	})

	t.Run("nonzero exit is an error", func(t *testing.T) {
		_, err := Exec(ctx, "false", 5*time.Second, time.Second, "false")
		assert.Error(t, err)
	})

	t.Run("missing binary", func(t *testing.T) {
		_, err := Exec(ctx, "ghost", time.Second, time.Second, "/no/such/binary")
		assert.Error(t, err)
	})

	t.Run("kills a process that outlives the deadline", func(t *testing.T) {
		start := time.Now()
		_, err := Exec(ctx, "sleepy", 50*time.Millisecond, 50*time.Millisecond, "sleep", "30")
		var te *TimeoutError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, "sleepy", te.Op)
		assert.Less(t, time.Since(start), 10*time.Second)
	})
}
