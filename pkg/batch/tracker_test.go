package batch

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_Snapshot(t *testing.T) {
	tr := NewTracker(5)
	tr.Observe(StatusSuccess)
	tr.Observe(StatusSuccess)
	tr.Observe(StatusFailed)
	tr.Observe(StatusSkipped)

	p := tr.Snapshot()
	assert.Equal(t, 5, p.Total)
	assert.Equal(t, 4, p.Completed)
	assert.Equal(t, 2, p.Successful)
	assert.Equal(t, 1, p.Failed)
	assert.Equal(t, 1, p.Skipped)
	assert.False(t, p.StartedAt.IsZero())
}

func TestTracker_ConcurrentObserve(t *testing.T) {
	tr := NewTracker(300)
	var wg sync.WaitGroup
	for i := 0; i < 300; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			switch i % 3 {
			case 0:
				tr.Observe(StatusSuccess)
			case 1:
				tr.Observe(StatusFailed)
			default:
				tr.Observe(StatusSkipped)
			}
		}(i)
	}
	wg.Wait()

	p := tr.Snapshot()
	assert.Equal(t, 100, p.Successful)
	assert.Equal(t, 100, p.Failed)
	assert.Equal(t, 100, p.Skipped)
	assert.Equal(t, 300, p.Completed)
}

func TestTracker_AsRunObserver(t *testing.T) {
	tr := NewTracker(9)
	_, err := Run(context.Background(), intItems(9), func(_ context.Context, item, _ int) (int, error) {
		if item%2 == 0 {
			return item, nil
		}
		return 0, ErrSkip
	}, Options[int]{
		Concurrency: 3,
		Logger:      testLogger(),
		OnProgress: func(oc Outcome[int], _, _ int) {
			tr.Observe(oc.Status)
		},
	})
	require.NoError(t, err)

	p := tr.Snapshot()
	assert.Equal(t, 9, p.Completed)
	assert.Equal(t, 5, p.Successful)
	assert.Equal(t, 4, p.Skipped)
	assert.Zero(t, p.Failed)
}
