// Package locks implements the Web Locks surface:
// request(name, cb, {mode, ifAvailable, steal, signal}) schedules FIFO
// per name, coalescing shared grants; ifAvailable invokes the callback
// with null when contested; steal aborts current holders and preempts
// the queue; query() returns held and pending snapshots.
package locks

import (
	"context"
	"sync"

	"github.com/andromeda-rt/andromeda/internal/errs"
)

// Mode is the requested lock mode.
type Mode string

const (
	Exclusive Mode = "exclusive"
	Shared Mode = "shared"
)

// Request is one pending or held lock request.
type Request struct {
	Name string
	Mode Mode
	ClientID string
	release chan struct{}
	granted chan struct{}
	aborted chan struct{}
}

// Snapshot is one entry of query()'s held/pending lists.
type Snapshot struct {
	Name string
	Mode Mode
	ClientID string
}

type lockState struct {
	held []*Request // len 1 for exclusive, len >= 1 for shared
	pending []*Request
}

// Manager coordinates all lock names for one runtime.
type Manager struct {
	mu sync.Mutex
	locks map[string]*lockState
}

// New constructs an empty lock Manager.
func New() *Manager {
	return &Manager{locks: make(map[string]*lockState)}
}

// Options configures Request's grant behavior.
type Options struct {
	Mode Mode
	IfAvailable bool
	Steal bool
}

// RequestLock implements request(): it blocks until the lock is granted
// (or immediately returns nil-granted under IfAvailable, or preempts
// under Steal), runs callback while held, then releases. ctx cancellation
// corresponds to the AbortSignal path: a pending request is dequeued and
// callback is never invoked.
func (m *Manager) RequestLock(ctx context.Context, name, clientID string, opts Options, callback func(granted bool) error) error {
	if opts.Mode == "" {
		opts.Mode = Exclusive
	}
	req := &Request{
		Name: name, Mode: opts.Mode, ClientID: clientID,
		release: make(chan struct{}), granted: make(chan struct{}), aborted: make(chan struct{}),
	}

	m.mu.Lock()
	st, ok := m.locks[name]
	if !ok {
		st = &lockState{}
		m.locks[name] = st
	}

	if opts.Steal {
		aborted := st.held
		st.held = nil
		st.pending = append([]*Request{req}, st.pending...)
		m.mu.Unlock()
		for _, h := range aborted {
			close(h.aborted)
		}
		m.grant(name)
	} else if opts.IfAvailable {
		if canGrantLocked(st, opts.Mode) {
			st.held = append(st.held, req)
			m.mu.Unlock()
			close(req.granted)
		} else {
			m.mu.Unlock()
			return callback(false)
		}
	} else {
		st.pending = append(st.pending, req)
		m.mu.Unlock()
		m.grant(name)
	}

	select {
	case <-req.granted:
	case <-req.aborted:
		return errs.New(errs.Interrupted, "lock request preempted by steal")
	case <-ctx.Done():
		m.dequeuePending(name, req)
		return errs.New(errs.Interrupted, "lock request aborted")
	}

	err := callback(true)
	m.release(name, req)
	select {
	case <-req.aborted:
		return errs.New(errs.Interrupted, "lock request preempted by steal")
	default:
	}
	return err
}

// canGrantLocked reports whether a new request of mode could be granted
// immediately given st's current holders, without mutating state.
func canGrantLocked(st *lockState, mode Mode) bool {
	if len(st.held) == 0 {
		return true
	}
	if mode == Shared && st.held[0].Mode == Shared {
		return true
	}
	return false
}

// grant advances name's FIFO queue, coalescing consecutive shared
// requests at the head into one grant wave.
func (m *Manager) grant(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.locks[name]
	if st == nil || len(st.pending) == 0 {
		return
	}
	if len(st.held) > 0 {
		return
	}
	head := st.pending[0]
	if head.Mode == Exclusive {
		st.pending = st.pending[1:]
		st.held = []*Request{head}
		close(head.granted)
		return
	}
	// Shared: grant every consecutive shared request at the queue head.
	i := 0
	for i < len(st.pending) && st.pending[i].Mode == Shared {
		i++
	}
	grantees := st.pending[:i]
	st.pending = st.pending[i:]
	st.held = append(st.held, grantees...)
	for _, g := range grantees {
		close(g.granted)
	}
}

func (m *Manager) release(name string, req *Request) {
	m.mu.Lock()
	st := m.locks[name]
	if st != nil {
		for i, h := range st.held {
			if h == req {
				st.held = append(st.held[:i], st.held[i+1:]...)
				break
			}
		}
	}
	m.mu.Unlock()
	m.grant(name)
}

func (m *Manager) dequeuePending(name string, req *Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.locks[name]
	if st == nil {
		return
	}
	for i, p := range st.pending {
		if p == req {
			st.pending = append(st.pending[:i], st.pending[i+1:]...)
			break
		}
	}
}

// Query returns a snapshot of held and pending locks across every name.
func (m *Manager) Query() (held, pending []Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, st := range m.locks {
		for _, h := range st.held {
			held = append(held, Snapshot{Name: name, Mode: h.Mode, ClientID: h.ClientID})
		}
		for _, p := range st.pending {
			pending = append(pending, Snapshot{Name: name, Mode: p.Mode, ClientID: p.ClientID})
		}
	}
	return held, pending
}
