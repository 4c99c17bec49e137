package broadcast

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andromeda-rt/andromeda/internal/obslog"
	"github.com/andromeda-rt/andromeda/pkg/eventloop"
)

func runLoop(t *testing.T, loop *eventloop.Loop) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	loop.KeepAlive()
	go func() {
		for ctx.Err() == nil {
			loop.RunUntilIdle(ctx)
		}
	}()
	return cancel
}

func TestPostMessageDeliversToOtherEndpointsNotSelf(t *testing.T) {
	loop := eventloop.New(2, obslog.New(obslog.DefaultConfig()))
	cancel := runLoop(t, loop)
	defer cancel()

	hub := NewHub(loop)
	var mu sync.Mutex
	var receivedBySelf, receivedByOther bool

	a := hub.Open("chan", func(value any) { mu.Lock(); receivedBySelf = true; mu.Unlock() })
	hub.Open("chan", func(value any) { mu.Lock(); receivedByOther = true; mu.Unlock() })

	require.NoError(t, a.PostMessage("hello"))
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.False(t, receivedBySelf)
	assert.True(t, receivedByOther)
}

func TestCloseStopsDelivery(t *testing.T) {
	loop := eventloop.New(2, obslog.New(obslog.DefaultConfig()))
	cancel := runLoop(t, loop)
	defer cancel()

	hub := NewHub(loop)
	var mu sync.Mutex
	delivered := false
	b := hub.Open("chan", func(value any) { mu.Lock(); delivered = true; mu.Unlock() })
	b.Close()

	a := hub.Open("chan", func(value any) {})
	require.NoError(t, a.PostMessage("x"))
	time.Sleep(30 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.False(t, delivered)
}
