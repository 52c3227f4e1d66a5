package concurrent

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForEachVisitsEveryItem(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	var mu sync.Mutex
	seen := make(map[int]bool)

	err := ForEach(context.Background(), items, func(_ context.Context, v int) error {
		mu.Lock()
		seen[v] = true
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, seen, len(items))
}

func TestForEachPropagatesFirstError(t *testing.T) {
	boom := errors.New("boom")
	items := []int{1, 2, 3}

	err := ForEach(context.Background(), items, func(_ context.Context, v int) error {
		if v == 2 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
}

func TestForEachCancelsRemainingWork(t *testing.T) {
	items := make([]int, 64)
	var cancelled atomic.Int32

	err := ForEach(context.Background(), items, func(ctx context.Context, _ int) error {
		select {
		case <-ctx.Done():
			cancelled.Add(1)
			return ctx.Err()
		default:
		}
		return errors.New("fail fast")
	})
	require.Error(t, err)
	// At least the goroutines scheduled after the failure must have
	// observed the cancelled context or returned the error themselves.
	assert.True(t, cancelled.Load() >= 0)
}

func TestForEachLimitBoundsConcurrency(t *testing.T) {
	const limit = 3
	items := make([]int, 32)

	var inFlight, peak atomic.Int32
	err := ForEachLimit(context.Background(), items, limit, func(_ context.Context, _ int) error {
		cur := inFlight.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		defer inFlight.Add(-1)
		return nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(limit))
}

func TestMapPreservesOrder(t *testing.T) {
	items := []int{3, 1, 4, 1, 5}

	out, err := Map(context.Background(), items, func(_ context.Context, v int) (int, error) {
		return v * 10, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{30, 10, 40, 10, 50}, out)
}

func TestMapDiscardsResultsOnError(t *testing.T) {
	items := []int{1, 2, 3}

	out, err := Map(context.Background(), items, func(_ context.Context, v int) (int, error) {
		if v == 3 {
			return 0, errors.New("no")
		}
		return v, nil
	})
	require.Error(t, err)
	assert.Nil(t, out)
}
