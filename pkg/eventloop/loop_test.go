package eventloop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimersFireInDeadlineThenInsertionOrder(t *testing.T) {
	l := New(2, nil)
	var mu sync.Mutex
	var order []int

	now := time.Now()
	// Two timers share a deadline; insertion order must decide the tie.
	l.ScheduleTimer(now.Add(10*time.Millisecond), nil, func() {
		mu.Lock()
		order = append(order, 1)
		mu.Unlock()
	})
	l.ScheduleTimer(now.Add(10*time.Millisecond), nil, func() {
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
	})
	l.ScheduleTimer(now.Add(5*time.Millisecond), nil, func() {
		mu.Lock()
		order = append(order, 0)
		mu.Unlock()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	l.RunUntilIdle(ctx)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestClearTimerPreventsFiring(t *testing.T) {
	l := New(1, nil)
	fired := false
	id := l.ScheduleTimer(time.Now().Add(5*time.Millisecond), nil, func() { fired = true })
	l.ClearTimer(id)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	l.RunUntilIdle(ctx)

	assert.False(t, fired)
}

func TestSubmitBlockingDeliversOnScriptThread(t *testing.T) {
	l := New(2, nil)
	done := make(chan struct{})
	var result any
	var resultErr error

	l.KeepAlive()
	l.SubmitBlocking(context.Background(), func(ctx context.Context) (any, error) {
		return 42, nil
	}, func(v any, err error) {
		result, resultErr = v, err
		l.Release()
		close(done)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	l.RunUntilIdle(ctx)

	select {
	case <-done:
	default:
		t.Fatal("completion callback never ran")
	}
	require.NoError(t, resultErr)
	assert.Equal(t, 42, result)
}

func TestIntervalTimerRearms(t *testing.T) {
	l := New(1, nil)
	count := 0
	interval := 5 * time.Millisecond
	var id TimerID
	id = l.ScheduleTimer(time.Now().Add(interval), &interval, func() {
		count++
		if count >= 3 {
			l.ClearTimer(id)
		}
	})
	_ = id

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	l.RunUntilIdle(ctx)

	assert.GreaterOrEqual(t, count, 3)
}
