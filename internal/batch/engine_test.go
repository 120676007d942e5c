package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i + 1
	}
	return out
}

func TestFetchInBatchesChunksInOrder(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	e := NewEngine(logger)

	var chunks [][]int
	res := FetchInBatches(context.Background(), e, ids(25), 10, func(ctx context.Context, chunk []int) (Result[string], error) {
		chunks = append(chunks, append([]int(nil), chunk...))
		var r Result[string]
		for _, id := range chunk {
			r.Succeeded = append(r.Succeeded, fmt.Sprintf("m%d", id))
		}
		return r, nil
	})

	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 10)
	assert.Len(t, chunks[1], 10)
	assert.Len(t, chunks[2], 5)
	assert.Equal(t, 21, chunks[2][0])
	assert.Len(t, res.Succeeded, 25)
	assert.Equal(t, "m1", res.Succeeded[0])
	assert.Equal(t, "m25", res.Succeeded[24])
	assert.Empty(t, res.Failed)
}

func TestFetchInBatchesChunkFailureContinues(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	e := NewEngine(logger)

	res := FetchInBatches(context.Background(), e, ids(25), 10, func(ctx context.Context, chunk []int) (Result[int], error) {
		if chunk[0] == 11 {
			return Result[int]{}, errors.New("server hiccup")
		}
		return Result[int]{Succeeded: chunk}, nil
	})

	assert.Len(t, res.Succeeded, 15)
	for _, id := range res.Succeeded {
		assert.False(t, id >= 11 && id <= 20, "id %d from failed chunk leaked", id)
	}
	require.Len(t, res.Failed, 10)
	assert.Equal(t, "11", res.Failed[0].ID)
	assert.Equal(t, "server hiccup", res.Failed[0].Err)

	var warned bool
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel && entry.Message == "Batch chunk failed" {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestFetchInBatchesSequential(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	e := NewEngine(logger)

	var inFlight, peak int32
	FetchInBatches(context.Background(), e, ids(30), 5, func(ctx context.Context, chunk []int) (Result[int], error) {
		n := atomic.AddInt32(&inFlight, 1)
		if n > atomic.LoadInt32(&peak) {
			atomic.StoreInt32(&peak, n)
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return Result[int]{Succeeded: chunk}, nil
	})
	assert.Equal(t, int32(1), peak)
}

func TestFetchInBatchesEmptyAndDefaultSize(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	e := NewEngine(logger)

	calls := 0
	res := FetchInBatches(context.Background(), e, nil, 0, func(ctx context.Context, chunk []int) (Result[int], error) {
		calls++
		return Result[int]{}, nil
	})
	assert.Zero(t, calls)
	assert.Empty(t, res.Succeeded)

	FetchInBatches(context.Background(), e, ids(DefaultSize+1), 0, func(ctx context.Context, chunk []int) (Result[int], error) {
		calls++
		return Result[int]{}, nil
	})
	assert.Equal(t, 2, calls)
}

func TestFetchInBatchesCancelledContext(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	e := NewEngine(logger)
	ctx, cancel := context.WithCancel(context.Background())

	res := FetchInBatches(ctx, e, ids(20), 10, func(ctx context.Context, chunk []int) (Result[int], error) {
		cancel()
		return Result[int]{Succeeded: chunk}, nil
	})
	assert.Len(t, res.Succeeded, 10)
	assert.Len(t, res.Failed, 10)
}

func TestFanOutPartialFailureKeepsOrder(t *testing.T) {
	res := FanOut(context.Background(), []string{"a", "b", "c", "d"}, 2, func(ctx context.Context, id string) (string, error) {
		if id == "c" {
			return "", errors.New("gone")
		}
		return "msg-" + id, nil
	})

	assert.Equal(t, []string{"msg-a", "msg-b", "msg-d"}, res.Succeeded)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, Failure{ID: "c", Err: "gone"}, res.Failed[0])
}

func TestFanOutRespectsLimit(t *testing.T) {
	var (
		mu       sync.Mutex
		inFlight int
		peak     int
	)
	FanOut(context.Background(), ids(40), 4, func(ctx context.Context, id int) (int, error) {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()
		time.Sleep(2 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return id, nil
	})
	assert.LessOrEqual(t, peak, 4)
	assert.Greater(t, peak, 1)
}
