package health

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_RejectsBeyondCapacity(t *testing.T) {
	q := NewQueue(3)
	accepted := 0
	for i := 0; i < 5; i++ {
		if q.TryPush(Job{ServiceID: fmt.Sprint(i)}) {
			accepted++
		}
	}
	assert.Equal(t, 3, accepted)
	assert.Equal(t, 3, q.Len())
	assert.Equal(t, 3, q.Cap())
}

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue(0)
	assert.Equal(t, DefaultMaxQueueSize, q.Cap())

	require.True(t, q.TryPush(Job{ServiceID: "a"}))
	require.True(t, q.TryPush(Job{ServiceID: "b"}))

	job, ok := q.TryPop()
	require.True(t, ok)
	assert.Equal(t, "a", job.ServiceID)
	job, ok = q.TryPop()
	require.True(t, ok)
	assert.Equal(t, "b", job.ServiceID)

	_, ok = q.TryPop()
	assert.False(t, ok)
}

func TestPool_HandlesEachJobOnce(t *testing.T) {
	q := NewQueue(50)
	for i := 0; i < 50; i++ {
		require.True(t, q.TryPush(Job{ServiceID: fmt.Sprint(i)}))
	}

	var (
		mu   sync.Mutex
		seen = map[string]int{}
	)
	n := NewPool(4).Run(q, func(job Job) {
		mu.Lock()
		seen[job.ServiceID]++
		mu.Unlock()
	})

	assert.Equal(t, 50, n)
	assert.Len(t, seen, 50)
	for id, count := range seen {
		assert.Equal(t, 1, count, id)
	}
	assert.Zero(t, q.Len())
}

func TestPool_BoundsConcurrency(t *testing.T) {
	q := NewQueue(12)
	for i := 0; i < 12; i++ {
		q.TryPush(Job{ServiceID: fmt.Sprint(i)})
	}

	var inFlight, peak atomic.Int32
	NewPool(3).Run(q, func(Job) {
		cur := inFlight.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
	})

	assert.Equal(t, int32(3), peak.Load())
}

func TestPool_PanicDoesNotStopWorker(t *testing.T) {
	q := NewQueue(5)
	for i := 0; i < 5; i++ {
		q.TryPush(Job{ServiceID: fmt.Sprint(i)})
	}

	var handled atomic.Int32
	n := NewPool(1).Run(q, func(job Job) {
		if job.ServiceID == "2" {
			panic("boom")
		}
		handled.Add(1)
	})

	assert.Equal(t, int32(4), handled.Load())
	assert.Equal(t, 5, n)
	assert.Zero(t, q.Len())
}

func TestPool_EmptyQueueReturnsImmediately(t *testing.T) {
	n := NewPool(5).Run(NewQueue(1), func(Job) { t.Fatal("unexpected job") })
	assert.Zero(t, n)
	assert.Equal(t, 5, NewPool(0).Concurrency())
}
