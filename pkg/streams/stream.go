// Package streams implements the queue, backpressure, BYOB, tee, and
// locking state machines for readable streams.
//
// Generalized from a comparable pkg/core/streaming package: NoiseFS's
// StreamUpload/StreamDownload moved fixed-size file blocks from a reader to
// block storage with a ProgressReporter tracking bytes-so-far; a Stream
// here holds the same ordered queue of chunks with the same backpressure
// accounting (desiredSize), but generalized to the Web Streams readable
// contract (pull/cancel/tee/BYOB) instead of NoiseFS's fixed upload
// pipeline.
package streams

import (
	"sync"

	"github.com/andromeda-rt/andromeda/internal/errs"
)

// State is one of the three lifecycle states a Stream can be in.
type State int

const (
	Readable State = iota
	Closed
	Errored
)

func (s State) String() string {
	switch s {
	case Readable:
		return "readable"
	case Closed:
		return "closed"
	case Errored:
		return "errored"
	default:
		return "unknown"
	}
}

// Kind distinguishes a default (opaque chunk) stream from a byte stream
// supporting BYOB reads.
type Kind int

const (
	KindDefault Kind = iota
	KindBytes
)

// Chunk is one element enqueued onto a stream. For KindBytes streams,
// Bytes holds the raw payload; for KindDefault streams, Value holds an
// arbitrary script-visible value and Bytes is unused.
type Chunk struct {
	Bytes []byte
	Value any
}

func (c Chunk) size() int64 {
	if c.Bytes != nil {
		return int64(len(c.Bytes))
	}
	return 1
}

// PullIntoRequest models a BYOB read: the reader supplied a borrowed buffer
// view to be filled in place.
type PullIntoRequest struct {
	Buffer []byte
	Offset int
	Length int
	ElementSize int
	filled int
}

// pendingRead is a read() call blocked waiting for a chunk or terminal
// state.
type pendingRead struct {
	resolve func(chunk Chunk, done bool, err error)
}

// Stream is a readable stream: an ordered, lockable sequence of chunks with
// backpressure accounting.
type Stream struct {
	mu sync.Mutex

	kind Kind
	state State

	queue []Chunk
	desiredSize int64
	hwm int64

	locked bool
	reader *Reader

	byobPending []*PullIntoRequest
	pendingReads []pendingRead

	teeSiblingA *Stream
	teeSiblingB *Stream

	errorReason error

	onPull func()
	onCancel func(reason error)
}

// New constructs a Stream with the given kind and high-water mark. onPull
// is invoked whenever a read dequeues a chunk and leaves desiredSize above
// zero, and whenever a read or pull-into finds nothing queued and must
// wait; calls are not deduplicated. onCancel is invoked when a reader
// cancels the stream, notifying the underlying source.
func New(kind Kind, hwm uint32, onPull func(), onCancel func(reason error)) *Stream {
	if hwm == 0 {
		hwm = 1
	}
	return &Stream{
		kind: kind,
		state: Readable,
		desiredSize: int64(hwm),
		hwm: int64(hwm),
		onPull: onPull,
		onCancel: onCancel,
	}
}

// State returns the stream's current lifecycle state.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// DesiredSize returns the current backpressure signal: hwm minus queued
// chunk count (or byte count for byte streams). Negative once overfull.
func (s *Stream) DesiredSize() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Errored {
		return 0
	}
	return s.desiredSize
}

// ChunkCount reports the number of chunks currently queued.
func (s *Stream) ChunkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// SetDesiredSize overrides the backpressure signal directly, for a
// controller that wants to report a size other than hwm-minus-queued (e.g.
// a byte stream counting bytes rather than chunks).
func (s *Stream) SetDesiredSize(n int64) {
	s.mu.Lock()
	s.desiredSize = n
	s.mu.Unlock()
}

// Enqueue pushes chunk onto the queue. Only valid while Readable;
// enqueueing into any other state fails.
func (s *Stream) Enqueue(chunk Chunk) error {
	s.mu.Lock()
	if s.state != Readable {
		s.mu.Unlock()
		return errs.New(errs.InvalidInput, "enqueue on a stream that is not readable")
	}

	// Byte streams service outstanding BYOB pull-into requests directly,
	// copying into the borrowed buffer instead of queueing.
	if s.kind == KindBytes && len(s.byobPending) > 0 && chunk.Bytes != nil {
		req := s.byobPending[0]
		n := copy(req.Buffer[req.Offset+req.filled:req.Offset+req.Length], chunk.Bytes)
		req.filled += n
		s.desiredSize -= int64(n)
		remaining := chunk.Bytes[n:]
		s.mu.Unlock()
		if len(remaining) > 0 {
			return s.Enqueue(Chunk{Bytes: remaining})
		}
		return nil
	}

	if len(s.pendingReads) > 0 {
		pr := s.pendingReads[0]
		s.pendingReads = s.pendingReads[1:]
		s.desiredSize -= chunk.size()
		s.mu.Unlock()
		pr.resolve(chunk, false, nil)
		return nil
	}

	s.queue = append(s.queue, chunk)
	s.desiredSize -= chunk.size()
	siblings := s.teeSiblingsLocked()
	s.mu.Unlock()

	for _, sib := range siblings {
		_ = sib.Enqueue(chunk) // tee: replicate to both branches independently
	}
	return nil
}

func (s *Stream) teeSiblingsLocked() []*Stream {
	var out []*Stream
	if s.teeSiblingA != nil {
		out = append(out, s.teeSiblingA)
	}
	if s.teeSiblingB != nil {
		out = append(out, s.teeSiblingB)
	}
	return out
}

// Close transitions a Readable stream to Closed. Pending reads resolve
// with done=true once the queue drains; further enqueues fail.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.state != Readable {
		s.mu.Unlock()
		return errs.New(errs.InvalidInput, "close on a stream that is not readable")
	}
	s.state = Closed
	var toResolve []pendingRead
	if len(s.queue) == 0 {
		toResolve = s.pendingReads
		s.pendingReads = nil
	}
	s.mu.Unlock()

	for _, pr := range toResolve {
		pr.resolve(Chunk{}, true, nil)
	}
	return nil
}

// Error transitions the stream to Errored; all pending and future reads
// reject with reason.
func (s *Stream) Error(reason error) error {
	s.mu.Lock()
	if s.state == Errored || s.state == Closed {
		s.mu.Unlock()
		return errs.New(errs.InvalidInput, "error on a stream that is not readable")
	}
	s.state = Errored
	s.errorReason = reason
	pending := s.pendingReads
	s.pendingReads = nil
	s.queue = nil
	s.mu.Unlock()

	for _, pr := range pending {
		pr.resolve(Chunk{}, false, reason)
	}
	return nil
}

// Cancel moves the stream to Closed (or leaves it Errored if already
// errored) and notifies the underlying source via onCancel.
func (s *Stream) Cancel(reason error) error {
	s.mu.Lock()
	wasReadable := s.state == Readable
	if wasReadable {
		s.state = Closed
	}
	cb := s.onCancel
	s.mu.Unlock()
	if wasReadable && cb != nil {
		cb(reason)
	}
	return nil
}

// GetReader atomically locks the stream and returns a Reader. Fails if
// already locked.
func (s *Stream) GetReader() (*Reader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked {
		return nil, errs.New(errs.InvalidInput, "stream already has a reader")
	}
	s.locked = true
	r := &Reader{stream: s}
	s.reader = r
	return r, nil
}

// ReleaseLock clears the current reader, allowing a new GetReader call.
func (s *Stream) ReleaseLock() {
	s.mu.Lock()
	s.locked = false
	s.reader = nil
	s.mu.Unlock()
}

// Locked reports whether a reader currently owns the stream.
func (s *Stream) Locked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked
}

// read implements the core (non-BYOB) read algorithm shared by Reader.Read.
// resolve is invoked synchronously if data/terminal state is already
// available, or later (from Enqueue/Close/Error) if the caller must await.
func (s *Stream) read(resolve func(chunk Chunk, done bool, err error)) {
	s.mu.Lock()
	switch s.state {
	case Errored:
		err := s.errorReason
		s.mu.Unlock()
		resolve(Chunk{}, false, err)
		return
	case Closed:
		if len(s.queue) == 0 {
			s.mu.Unlock()
			resolve(Chunk{}, true, nil)
			return
		}
	}
	if len(s.queue) > 0 {
		chunk := s.queue[0]
		s.queue = s.queue[1:]
		s.desiredSize += chunk.size()
		triggerPull := s.desiredSize > 0 && s.onPull != nil
		cb := s.onPull
		s.mu.Unlock()
		if triggerPull {
			cb()
		}
		resolve(chunk, false, nil)
		return
	}
	// No data yet and still readable: a read must await rather than
	// early-return "done" — queue the read and trigger a pull.
	s.pendingReads = append(s.pendingReads, pendingRead{resolve: resolve})
	cb := s.onPull
	s.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// Reader is the single reader holding a Stream's lock.
type Reader struct {
	stream *Stream
}

// Read performs one read, delivering the result through resolve — either
// immediately, or later once a chunk is enqueued / the stream settles.
func (r *Reader) Read(resolve func(chunk Chunk, done bool, err error)) {
	r.stream.read(resolve)
}

// Cancel cancels the underlying stream on behalf of this reader.
func (r *Reader) Cancel(reason error) error {
	return r.stream.Cancel(reason)
}

// ReleaseLock releases this reader's lock on the stream.
func (r *Reader) ReleaseLock() {
	r.stream.ReleaseLock()
}

// PullInto services a BYOB read against req's borrowed buffer. If chunks
// are already queued they are copied in immediately (possibly only
// partially filling req, matching its "respond may signal
// partial fulfilment"); otherwise req is parked until Enqueue supplies
// bytes.
func (r *Reader) PullInto(req *PullIntoRequest, resolve func(bytesFilled int, done bool, err error)) {
	s := r.stream
	s.mu.Lock()
	if s.kind != KindBytes {
		s.mu.Unlock()
		resolve(0, false, errs.New(errs.TypeMismatch, "pullInto on a non-byte stream"))
		return
	}
	if s.state == Errored {
		err := s.errorReason
		s.mu.Unlock()
		resolve(0, false, err)
		return
	}
	for len(s.queue) > 0 && req.filled < req.Length {
		chunk := s.queue[0]
		n := copy(req.Buffer[req.Offset+req.filled:req.Offset+req.Length], chunk.Bytes)
		req.filled += n
		s.desiredSize += int64(n)
		if n < len(chunk.Bytes) {
			s.queue[0] = Chunk{Bytes: chunk.Bytes[n:]}
		} else {
			s.queue = s.queue[1:]
		}
	}
	if req.filled > 0 {
		filled := req.filled
		s.mu.Unlock()
		resolve(filled, false, nil)
		return
	}
	if s.state == Closed {
		s.mu.Unlock()
		resolve(0, true, nil)
		return
	}
	s.byobPending = append(s.byobPending, req)
	cb := s.onPull
	s.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// Respond signals that byteCount additional bytes have been written
// directly into the outstanding pull-into buffer by the caller (rather
// than via Enqueue). Valid only while a pull-into is outstanding and
// byteCount <= remaining capacity.
func (r *Reader) Respond(req *PullIntoRequest, byteCount int) error {
	s := r.stream
	s.mu.Lock()
	defer s.mu.Unlock()
	remaining := req.Length - req.filled
	if byteCount > remaining {
		return errs.New(errs.InvalidInput, "respond byteCount exceeds remaining pull-into capacity")
	}
	found := false
	for i, p := range s.byobPending {
		if p == req {
			s.byobPending = append(s.byobPending[:i], s.byobPending[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		return errs.New(errs.InvalidInput, "respond with no outstanding pull-into request")
	}
	req.filled += byteCount
	s.desiredSize += int64(byteCount)
	return nil
}

// Tee returns two fresh streams that each independently consume the
// source's chunks in enqueue order. Cancelling one branch does not cancel
// the source unless both branches are cancelled.
func Tee(s *Stream) (*Stream, *Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cancelledA, cancelledB bool
	var once sync.Once
	cancelSource := func() {
		once.Do(func() {
			if s.onCancel != nil {
				s.onCancel(nil)
			}
		})
	}

	a := New(s.kind, uint32(s.hwm), nil, func(reason error) {
		cancelledA = true
		if cancelledB {
			cancelSource()
		}
	})
	b := New(s.kind, uint32(s.hwm), nil, func(reason error) {
		cancelledB = true
		if cancelledA {
			cancelSource()
		}
	})
	s.teeSiblingA = a
	s.teeSiblingB = b

	// Replay any chunks already queued before the tee so both branches
	// observe every chunk the source has produced so far, in order.
	for _, c := range s.queue {
		_ = a.Enqueue(c)
		_ = b.Enqueue(c)
	}
	return a, b
}
