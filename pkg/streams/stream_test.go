package streams

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueReadOrder(t *testing.T) {
	s := New(KindDefault, 10, nil, nil)
	require.NoError(t, s.Enqueue(Chunk{Value: "a"}))
	require.NoError(t, s.Enqueue(Chunk{Value: "b"}))
	require.NoError(t, s.Enqueue(Chunk{Value: "c"}))
	assert.Equal(t, 3, s.ChunkCount())

	r, err := s.GetReader()
	require.NoError(t, err)

	var got []any
	for i := 0; i < 3; i++ {
		r.Read(func(chunk Chunk, done bool, err error) {
			require.NoError(t, err)
			require.False(t, done)
			got = append(got, chunk.Value)
		})
	}
	assert.Equal(t, []any{"a", "b", "c"}, got)
	assert.Equal(t, 0, s.ChunkCount())
}

func TestCloseResolvesDoneAfterDrain(t *testing.T) {
	s := New(KindDefault, 10, nil, nil)
	require.NoError(t, s.Enqueue(Chunk{Value: 1}))
	require.NoError(t, s.Close())

	r, _ := s.GetReader()
	var results []bool
	r.Read(func(chunk Chunk, done bool, err error) {
		require.NoError(t, err)
		results = append(results, done)
	})
	r.Read(func(chunk Chunk, done bool, err error) {
		require.NoError(t, err)
		results = append(results, done)
	})
	assert.Equal(t, []bool{false, true}, results)
}

func TestEnqueueAfterCloseFails(t *testing.T) {
	s := New(KindDefault, 10, nil, nil)
	require.NoError(t, s.Close())
	err := s.Enqueue(Chunk{Value: 1})
	assert.Error(t, err)
}

func TestErrorRejectsPendingAndFutureReads(t *testing.T) {
	s := New(KindDefault, 10, nil, nil)
	r, _ := s.GetReader()

	var pendingErr error
	r.Read(func(chunk Chunk, done bool, err error) { pendingErr = err })

	sentinel := errors.New("boom")
	require.NoError(t, s.Error(sentinel))
	assert.ErrorIs(t, pendingErr, sentinel)

	var futureErr error
	r.Read(func(chunk Chunk, done bool, err error) { futureErr = err })
	assert.ErrorIs(t, futureErr, sentinel)
}

func TestReadAwaitsRatherThanEarlyReturningDone(t *testing.T) {
	// Regression test: an empty but still-readable stream must NOT
	// resolve done=true; it must await.
	s := New(KindDefault, 10, nil, nil)
	r, _ := s.GetReader()

	resolved := false
	r.Read(func(chunk Chunk, done bool, err error) { resolved = true })
	assert.False(t, resolved, "read on an empty readable stream must await, not resolve done early")

	require.NoError(t, s.Enqueue(Chunk{Value: "x"}))
	assert.True(t, resolved)
}

func TestLockingRequiresReleaseBeforeNewReader(t *testing.T) {
	s := New(KindDefault, 10, nil, nil)
	r, err := s.GetReader()
	require.NoError(t, err)
	assert.True(t, s.Locked())

	_, err = s.GetReader()
	assert.Error(t, err)

	r.ReleaseLock()
	assert.False(t, s.Locked())
	_, err = s.GetReader()
	assert.NoError(t, err)
}

func TestTeeFairness(t *testing.T) {
	source := New(KindDefault, 10, nil, nil)
	require.NoError(t, source.Enqueue(Chunk{Value: "A"}))
	require.NoError(t, source.Enqueue(Chunk{Value: "B"}))
	require.NoError(t, source.Enqueue(Chunk{Value: "C"}))

	branch1, branch2 := Tee(source)

	r1, _ := branch1.GetReader()
	var got1 []any
	for i := 0; i < 3; i++ {
		r1.Read(func(c Chunk, done bool, err error) { got1 = append(got1, c.Value) })
	}
	assert.Equal(t, []any{"A", "B", "C"}, got1)

	// branch2 starts consuming later but still observes A,B,C in order.
	r2, _ := branch2.GetReader()
	var got2 []any
	for i := 0; i < 3; i++ {
		r2.Read(func(c Chunk, done bool, err error) { got2 = append(got2, c.Value) })
	}
	assert.Equal(t, []any{"A", "B", "C"}, got2)
}

func TestTeeBranchCancelDoesNotCancelOtherBranch(t *testing.T) {
	sourceCancelled := false
	source := New(KindDefault, 10, nil, func(reason error) { sourceCancelled = true })
	branch1, branch2 := Tee(source)

	require.NoError(t, branch1.Cancel(nil))
	assert.False(t, sourceCancelled, "cancelling one branch must not cancel the source")
	assert.Equal(t, Closed, branch1.State())
	assert.Equal(t, Readable, branch2.State())

	require.NoError(t, branch2.Cancel(nil))
	assert.True(t, sourceCancelled, "cancelling both branches cancels the source")
}

func TestBYOBPartialResponse(t *testing.T) {
	s := New(KindBytes, 16, nil, nil)
	r, err := s.GetReader()
	require.NoError(t, err)

	buf := make([]byte, 8)
	req := &PullIntoRequest{Buffer: buf, Offset: 0, Length: 8, ElementSize: 1}

	filled := -1
	r.PullInto(req, func(n int, done bool, err error) {
		require.NoError(t, err)
		filled = n
	})
	assert.Equal(t, -1, filled, "no data yet: pull-into must await")

	require.NoError(t, s.Enqueue(Chunk{Bytes: []byte{1, 2, 3}}))
	assert.Equal(t, 3, filled)
	assert.Equal(t, []byte{1, 2, 3}, buf[:3])
}

func TestRespondRejectsExceedingRemaining(t *testing.T) {
	s := New(KindBytes, 16, nil, nil)
	r, _ := s.GetReader()
	buf := make([]byte, 4)
	req := &PullIntoRequest{Buffer: buf, Offset: 0, Length: 4, ElementSize: 1}
	r.PullInto(req, func(n int, done bool, err error) {})

	err := r.Respond(req, 100)
	assert.Error(t, err)
}

func TestQueueArithmeticInvariant(t *testing.T) {
	// sum(enqueued sizes) - sum(read sizes) == current queue length
	// (byte count, for byte streams).
	s := New(KindBytes, 1024, nil, nil)
	total := 0
	for _, n := range []int{5, 3, 7} {
		data := make([]byte, n)
		require.NoError(t, s.Enqueue(Chunk{Bytes: data}))
		total += n
	}

	r, _ := s.GetReader()
	buf := make([]byte, total)
	req := &PullIntoRequest{Buffer: buf, Offset: 0, Length: total, ElementSize: 1}
	filled := 0
	r.PullInto(req, func(n int, done bool, err error) { filled = n })
	assert.Equal(t, total, filled)
	assert.Equal(t, 0, s.ChunkCount())
}
