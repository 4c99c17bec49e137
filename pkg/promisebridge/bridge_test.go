package promisebridge

import (
	"context"
	"testing"
	"time"

	"github.com/andromeda-rt/andromeda/pkg/eventloop"
	"github.com/stretchr/testify/assert"
)

func TestSettleDeliversOnce(t *testing.T) {
	loop := eventloop.New(1, nil)
	bridge := New(loop)

	var outcomes []Outcome
	id := bridge.NewSlot(func(o Outcome) { outcomes = append(outcomes, o) })

	loop.KeepAlive()
	go func() {
		bridge.Settle(id, Outcome{Value: "first"})
		bridge.Settle(id, Outcome{Value: "late-arrival-discarded"})
		loop.Release()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	loop.RunUntilIdle(ctx)

	assert.Len(t, outcomes, 1)
	assert.Equal(t, "first", outcomes[0].Value)
	assert.Equal(t, 0, bridge.Pending())
}

func TestUnsettledSlotCountsAsPending(t *testing.T) {
	loop := eventloop.New(1, nil)
	bridge := New(loop)
	bridge.NewSlot(func(o Outcome) {})
	assert.Equal(t, 1, bridge.Pending())
}
