package executor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestMapPreservesOrderAndBoundsConcurrency(t *testing.T) {
	pool := New(2)
	var inFlight int32
	var maxObserved int32

	items := []int{1, 2, 3, 4, 5, 6}
	results := Map(context.Background(), pool, items, func(ctx context.Context, item int) (int, error) {
		cur := atomic.AddInt32(&inFlight, 1)
		defer atomic.AddInt32(&inFlight, -1)
		for {
			observed := atomic.LoadInt32(&maxObserved)
			if cur <= observed || atomic.CompareAndSwapInt32(&maxObserved, observed, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return item * 10, nil
	})

	require.Len(t, results, 6)
	for i, r := range results {
		assert.NoError(t, r.Err)
		assert.Equal(t, items[i]*10, r.Value)
	}
	assert.LessOrEqual(t, maxObserved, int32(2))
}

func TestMapCarriesPerItemErrorsWithoutAbortingBatch(t *testing.T) {
	pool := New(3)
	items := []int{1, 2, 3}
	wantErr := errors.New("boom")

	results := Map(context.Background(), pool, items, func(ctx context.Context, item int) (int, error) {
		if item == 2 {
			return 0, wantErr
		}
		return item, nil
	})

	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, wantErr)
	assert.NoError(t, results[2].Err)
}

func TestPollUntilTerminalResolvesMixedOutcomes(t *testing.T) {
	rounds := map[int]int{}

	tasks := []PollableTask[int]{
		{Handle: 0, Poll: func(ctx context.Context, h int) (PollStatus, any, string, error) {
			rounds[h]++
			if rounds[h] < 2 {
				return StatusPending, nil, "", nil
			}
			return StatusReady, "clip-a", "", nil
		}},
		{Handle: 1, Poll: func(ctx context.Context, h int) (PollStatus, any, string, error) {
			return StatusFailed, nil, "provider rejected", nil
		}},
	}

	outcomes := PollUntilTerminal(context.Background(), tasks, BackoffPolicy{Initial: time.Millisecond, Multiplier: 1, Max: time.Millisecond})
	require.Len(t, outcomes, 2)
	assert.Equal(t, StatusReady, outcomes[0].Status)
	assert.Equal(t, "clip-a", outcomes[0].Result)
	assert.Equal(t, StatusFailed, outcomes[1].Status)
	assert.Equal(t, "provider rejected", outcomes[1].Reason)
}

func TestPollUntilTerminalRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tasks := []PollableTask[int]{
		{Handle: 0, Poll: func(ctx context.Context, h int) (PollStatus, any, string, error) {
			t.Fatal("poll should not be invoked after cancellation")
			return StatusPending, nil, "", nil
		}},
	}

	outcomes := PollUntilTerminal(ctx, tasks, DefaultBackoff)
	require.Len(t, outcomes, 1)
	assert.Equal(t, StatusFailed, outcomes[0].Status)
	assert.Equal(t, context.Canceled.Error(), outcomes[0].Reason)
}
