package batch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSleep counts pauses instead of waiting on real timers.
type recordingSleep struct {
	pauses []time.Duration
	err    error
}

func (s *recordingSleep) sleep(_ context.Context, d time.Duration) error {
	if s.err != nil {
		return s.err
	}
	s.pauses = append(s.pauses, d)
	return nil
}

func chunkOpts[T any](concurrency, batchSize int) ChunkOptions[T] {
	return ChunkOptions[T]{
		Options:   Options[T]{Concurrency: concurrency, Logger: testLogger()},
		BatchSize: batchSize,
		Delay:     50 * time.Millisecond,
	}
}

func TestRunChunked_ChunkBoundariesAndDelays(t *testing.T) {
	var done atomic.Int64
	var doneAtPause []int64

	sleeper := &recordingSleep{}
	sleep := func(ctx context.Context, d time.Duration) error {
		doneAtPause = append(doneAtPause, done.Load())
		return sleeper.sleep(ctx, d)
	}

	ocs, err := runChunked(context.Background(), intItems(25), func(_ context.Context, item, _ int) (int, error) {
		done.Add(1)
		return item, nil
	}, chunkOpts[int](4, 10), sleep)

	require.NoError(t, err)
	require.Len(t, ocs, 25)
	require.Len(t, sleeper.pauses, 2, "25 items in chunks of 10 pause exactly twice")
	assert.Equal(t, []int64{10, 20}, doneAtPause, "each pause happens only after its chunk fully finished")
	assert.Equal(t, 50*time.Millisecond, sleeper.pauses[0])
}

func TestRunChunked_NoDelayAfterFinalChunk(t *testing.T) {
	tests := []struct {
		name       string
		items      int
		wantPauses int
	}{
		{"exact_single_chunk", 10, 0},
		{"two_chunks", 20, 1},
		{"partial_final_chunk", 13, 1},
		{"single_item", 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sleeper := &recordingSleep{}
			_, err := runChunked(context.Background(), intItems(tt.items),
				func(_ context.Context, item, _ int) (int, error) { return item, nil },
				chunkOpts[int](2, 10), sleeper.sleep)

			require.NoError(t, err)
			assert.Len(t, sleeper.pauses, tt.wantPauses)
		})
	}
}

func TestRunChunked_GlobalIndexes(t *testing.T) {
	var maxIndex atomic.Int64

	ocs, err := runChunked(context.Background(), intItems(25), func(_ context.Context, item, index int) (int, error) {
		for {
			m := maxIndex.Load()
			if int64(index) <= m || maxIndex.CompareAndSwap(m, int64(index)) {
				break
			}
		}
		return item * 2, nil
	}, chunkOpts[int](3, 10), (&recordingSleep{}).sleep)

	require.NoError(t, err)
	for i, oc := range ocs {
		assert.Equal(t, i, oc.Index, "outcome indexes must be global, not per chunk")
		assert.Equal(t, i*2, oc.Value)
	}
	assert.Equal(t, int64(24), maxIndex.Load(), "callbacks must see global indexes too")
}

func TestRunChunked_ObserverSeesGlobalProgress(t *testing.T) {
	var completedSeq []int
	opts := chunkOpts[int](2, 4)
	opts.OnProgress = func(oc Outcome[int], completed, total int) {
		completedSeq = append(completedSeq, completed)
		assert.Equal(t, 10, total, "observer total must be run-wide")
	}

	_, err := runChunked(context.Background(), intItems(10),
		func(_ context.Context, item, _ int) (int, error) { return item, nil },
		opts, (&recordingSleep{}).sleep)

	require.NoError(t, err)
	require.Len(t, completedSeq, 10)
	for i, c := range completedSeq {
		assert.Equal(t, i+1, c)
	}
}

func TestRunChunked_DefaultsApplied(t *testing.T) {
	sleeper := &recordingSleep{}
	opts := ChunkOptions[int]{Options: Options[int]{Concurrency: 2, Logger: testLogger()}}

	ocs, err := runChunked(context.Background(), intItems(25),
		func(_ context.Context, item, _ int) (int, error) { return item, nil },
		opts, sleeper.sleep)

	require.NoError(t, err)
	require.Len(t, ocs, 25)
	require.Len(t, sleeper.pauses, 2, "default batch size must chunk 25 items into 10/10/5")
	assert.Equal(t, DefaultChunkDelay, sleeper.pauses[0])
}

func TestRunChunked_ConcurrencyClampedToBatchSize(t *testing.T) {
	var inFlight, peak atomic.Int64

	_, err := runChunked(context.Background(), intItems(20), func(_ context.Context, _, _ int) (struct{}, error) {
		cur := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		return struct{}{}, nil
	}, chunkOpts[struct{}](50, 5), (&recordingSleep{}).sleep)

	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int64(5), "concurrency must be clamped to the chunk size")
}

func TestRunChunked_ExitOnErrorSkipsRemainingChunks(t *testing.T) {
	var calls atomic.Int64
	seen := make(map[int]int)

	opts := chunkOpts[string](1, 2)
	opts.ExitOnError = true
	opts.OnProgress = func(oc Outcome[string], _, _ int) {
		seen[oc.Index]++
	}

	sleeper := &recordingSleep{}
	ocs, err := runChunked(context.Background(), intItems(6), func(_ context.Context, item, _ int) (string, error) {
		calls.Add(1)
		if item == 0 {
			return "", errors.New("fatal")
		}
		return "ok", nil
	}, opts, sleeper.sleep)

	require.NoError(t, err)
	require.Len(t, ocs, 6, "unreached chunks still yield outcomes")
	assert.Equal(t, StatusFailed, ocs[0].Status)
	for i := 1; i < 6; i++ {
		assert.Equal(t, StatusSkipped, ocs[i].Status)
	}
	assert.Equal(t, int64(1), calls.Load())
	assert.Empty(t, sleeper.pauses, "no pause once the run is aborted")
	require.Len(t, seen, 6, "observer still fires once per item across skipped chunks")
	for idx, n := range seen {
		assert.Equal(t, 1, n, "index %d observed %d times", idx, n)
	}
}

func TestRunChunked_CancelledDuringPause(t *testing.T) {
	sleeper := &recordingSleep{err: context.Canceled}

	ocs, err := runChunked(context.Background(), intItems(10),
		func(_ context.Context, item, _ int) (int, error) { return item, nil },
		chunkOpts[int](2, 5), sleeper.sleep)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, ocs, 10)
	for i := 0; i < 5; i++ {
		assert.Equal(t, StatusSuccess, ocs[i].Status)
	}
	for i := 5; i < 10; i++ {
		assert.Equal(t, StatusSkipped, ocs[i].Status)
	}
}

func TestRunChunked_EmptyInput(t *testing.T) {
	sleeper := &recordingSleep{}
	ocs, err := runChunked(context.Background(), []int{},
		func(_ context.Context, item, _ int) (int, error) { return item, nil },
		chunkOpts[int](2, 10), sleeper.sleep)

	require.NoError(t, err)
	assert.Empty(t, ocs)
	assert.Empty(t, sleeper.pauses)
}

func TestRunChunked_InvalidConcurrency(t *testing.T) {
	_, err := runChunked(context.Background(), intItems(3),
		func(_ context.Context, item, _ int) (int, error) { return item, nil },
		chunkOpts[int](0, 10), (&recordingSleep{}).sleep)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConcurrency)
}

func TestRunChunked_RealSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sleepBetween(ctx, time.Minute)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
