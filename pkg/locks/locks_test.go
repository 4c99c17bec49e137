package locks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExclusiveLockSerializesCallbacks(t *testing.T) {
	m := New()
	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup
	active, maxActive := 0, 0

	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			m.RequestLock(context.Background(), "res", "c", Options{Mode: Exclusive}, func(granted bool) error {
				require.True(t, granted)
				mu.Lock()
				active++
				if active > maxActive {
					maxActive = active
				}
				order = append(order, n)
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				active--
				mu.Unlock()
				return nil
			})
		}(i)
	}
	wg.Wait()
	assert.Len(t, order, 3)
	assert.Equal(t, 1, maxActive)
}

func TestSharedLocksCoalesce(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	concurrent := int32(0)
	var maxConcurrent int32
	var mu sync.Mutex

	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.RequestLock(context.Background(), "res", "c", Options{Mode: Shared}, func(granted bool) error {
				mu.Lock()
				concurrent++
				if concurrent > maxConcurrent {
					maxConcurrent = concurrent
				}
				mu.Unlock()
				time.Sleep(5 * time.Millisecond)
				mu.Lock()
				concurrent--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Greater(t, maxConcurrent, int32(1))
}

func TestIfAvailableInvokesWithFalseWhenContested(t *testing.T) {
	m := New()
	held := make(chan struct{})
	releaseNow := make(chan struct{})
	go m.RequestLock(context.Background(), "res", "holder", Options{Mode: Exclusive}, func(granted bool) error {
		close(held)
		<-releaseNow
		return nil
	})
	<-held

	grantedArg := true
	err := m.RequestLock(context.Background(), "res", "contender", Options{Mode: Exclusive, IfAvailable: true}, func(granted bool) error {
		grantedArg = granted
		return nil
	})
	require.NoError(t, err)
	assert.False(t, grantedArg)
	close(releaseNow)
}

func TestStealPreemptsCurrentHolder(t *testing.T) {
	m := New()
	held := make(chan struct{})
	holderErr := make(chan error, 1)
	go func() {
		holderErr <- m.RequestLock(context.Background(), "res", "holder", Options{Mode: Exclusive}, func(granted bool) error {
			close(held)
			time.Sleep(50 * time.Millisecond)
			return nil
		})
	}()
	<-held

	stole := false
	err := m.RequestLock(context.Background(), "res", "stealer", Options{Mode: Exclusive, Steal: true}, func(granted bool) error {
		stole = granted
		return nil
	})
	require.NoError(t, err)
	assert.True(t, stole)
	assert.Error(t, <-holderErr)
}

func TestContextCancellationDequeuesPending(t *testing.T) {
	m := New()
	held := make(chan struct{})
	release := make(chan struct{})
	go m.RequestLock(context.Background(), "res", "holder", Options{Mode: Exclusive}, func(granted bool) error {
		close(held)
		<-release
		return nil
	})
	<-held

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- m.RequestLock(ctx, "res", "waiter", Options{Mode: Exclusive}, func(granted bool) error {
			return nil
		})
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()
	err := <-done
	assert.Error(t, err)
	close(release)
}

func TestQueryReportsHeldAndPending(t *testing.T) {
	m := New()
	held := make(chan struct{})
	release := make(chan struct{})
	go m.RequestLock(context.Background(), "res", "holder", Options{Mode: Exclusive}, func(granted bool) error {
		close(held)
		<-release
		return nil
	})
	<-held
	go m.RequestLock(context.Background(), "res", "waiter", Options{Mode: Exclusive}, func(granted bool) error {
		return nil
	})
	time.Sleep(2 * time.Millisecond)

	heldSnaps, pendingSnaps := m.Query()
	assert.Len(t, heldSnaps, 1)
	assert.Equal(t, "holder", heldSnaps[0].ClientID)
	assert.Len(t, pendingSnaps, 1)
	assert.Equal(t, "waiter", pendingSnaps[0].ClientID)
	close(release)
}
