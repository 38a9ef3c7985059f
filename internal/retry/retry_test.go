package retry

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	imagestack_errors "github.com/customeros/imagestack/internal/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func fastPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, MinBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, Factor: 2}
}

func TestDo_RetriesTransientUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return imagestack_errors.Transient("test", errors.New("connection reset"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnPermanent(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(5), func(ctx context.Context) error {
		calls++
		return imagestack_errors.Permanent("test", errors.New("404"))
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, imagestack_errors.IsPermanent(err))
}

func TestDo_ExhaustsBudget(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) error {
		calls++
		return imagestack_errors.Capacity("test", errors.New("throttled"))
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, imagestack_errors.IsTransient(err))
}

func TestDo_HonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 10, MinBackoff: time.Hour, MaxBackoff: time.Hour, Factor: 2}

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, p, func(ctx context.Context) error {
			calls++
			return imagestack_errors.Transient("test", errors.New("timeout"))
		})
	}()
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("retry did not stop after cancellation")
	}
	assert.Equal(t, 1, calls)
}

func TestDoValue_CallTimeout(t *testing.T) {
	p := fastPolicy(2).WithCallTimeout(10 * time.Millisecond)

	calls := 0
	_, err := DoValue(context.Background(), p, func(ctx context.Context) (int, error) {
		calls++
		<-ctx.Done()
		return 0, ctx.Err()
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 2, calls)
}
