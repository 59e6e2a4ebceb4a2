package queue_test

import (
	"sync"
	"testing"
	"time"

	"github.com/odsyjr2/detection-supervisor/internal/model"
	"github.com/odsyjr2/detection-supervisor/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func task(priority model.Priority, at time.Time) model.AnalysisTask {
	return model.AnalysisTask{TaskID: "t", Priority: priority, CreatedAt: at}
}

func TestQueue_OrderingByPriorityThenFIFO(t *testing.T) {
	q := queue.New(10, nil, nil)
	base := time.Now()

	require.Equal(t, queue.Accepted, q.Push(task(model.PriorityNormal, base)))
	require.Equal(t, queue.Accepted, q.Push(task(model.PriorityUrgent, base.Add(time.Millisecond))))
	require.Equal(t, queue.Accepted, q.Push(task(model.PriorityNormal, base.Add(2*time.Millisecond))))
	require.Equal(t, queue.Accepted, q.Push(task(model.PriorityHigh, base.Add(3*time.Millisecond))))

	got, status := q.Pop(time.Now().Add(time.Second))
	require.Equal(t, queue.PopOK, status)
	assert.Equal(t, model.PriorityUrgent, got.Priority)

	got, _ = q.Pop(time.Now().Add(time.Second))
	assert.Equal(t, model.PriorityHigh, got.Priority)

	got, _ = q.Pop(time.Now().Add(time.Second))
	assert.True(t, got.CreatedAt.Equal(base), "FIFO within priority class")

	got, _ = q.Pop(time.Now().Add(time.Second))
	assert.True(t, got.CreatedAt.Equal(base.Add(2 * time.Millisecond)))
}

func TestQueue_EvictsOldestLowOnHigherPriorityAtCapacity(t *testing.T) {
	var dropped []model.AnalysisTask
	var mu sync.Mutex
	q := queue.New(3, func(tk model.AnalysisTask, reason string) {
		mu.Lock()
		defer mu.Unlock()
		dropped = append(dropped, tk)
	}, nil)

	base := time.Now()
	for i := 0; i < 3; i++ {
		require.Equal(t, queue.Accepted, q.Push(task(model.PriorityNormal, base.Add(time.Duration(i)*time.Millisecond))))
	}

	// Full of NORMAL: a new LOW is rejected.
	assert.Equal(t, queue.DroppedLow, q.Push(task(model.PriorityLow, base.Add(10*time.Millisecond))))

	// A new URGENT evicts the oldest NORMAL and is admitted.
	assert.Equal(t, queue.Accepted, q.Push(task(model.PriorityUrgent, base.Add(20*time.Millisecond))))
	assert.Equal(t, 3, q.Len())

	mu.Lock()
	require.Len(t, dropped, 2) // one rejected LOW, one evicted NORMAL
	mu.Unlock()

	got, _ := q.Pop(time.Now().Add(time.Second))
	assert.Equal(t, model.PriorityUrgent, got.Priority)
}

func TestQueue_PopTimeoutWhenEmpty(t *testing.T) {
	q := queue.New(1, nil, nil)
	_, status := q.Pop(time.Now().Add(20 * time.Millisecond))
	assert.Equal(t, queue.PopTimeout, status)
}

func TestQueue_CloseDrainsThenReportsClosed(t *testing.T) {
	q := queue.New(2, nil, nil)
	require.Equal(t, queue.Accepted, q.Push(task(model.PriorityNormal, time.Now())))
	q.Close()

	assert.Equal(t, queue.Closed, q.Push(task(model.PriorityNormal, time.Now())))

	_, status := q.Pop(time.Now().Add(time.Second))
	assert.Equal(t, queue.PopOK, status, "drains the one queued item first")

	_, status = q.Pop(time.Now().Add(time.Second))
	assert.Equal(t, queue.PopClosed, status)
}

func TestQueue_ConcurrentProducersConsumers(t *testing.T) {
	q := queue.New(50, nil, nil)
	const producers = 8
	const perProducer = 20

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(task(model.PriorityNormal, time.Now()))
			}
		}(p)
	}
	wg.Wait()

	count := 0
	for {
		_, status := q.Pop(time.Now().Add(50 * time.Millisecond))
		if status != queue.PopOK {
			break
		}
		count++
	}
	assert.LessOrEqual(t, count, 50)
	assert.Greater(t, count, 0)
}
