// Package resource implements the process-wide Resource Table: the single
// source of truth mapping opaque integer IDs to typed, host-owned resource
// records.
//
// Generalized from a comparable pkg/storage backend-lifecycle pattern
// (backend_lifecycle.go, backend_registry.go), which tracked named storage
// backend instances through connect/disconnect/health-check states; here
// the same "registry of live handles, closed exactly once" shape applies to
// every resource kind the host exposes, not just storage backends.
package resource

import (
	"fmt"
	"io"
	"sync"

	"github.com/andromeda-rt/andromeda/internal/errs"
)

// Kind identifies the type of a resource record.
type Kind int

const (
	KindTcpListener Kind = iota
	KindTcpConn
	KindFile
	KindReadableStream
	KindBlob
	KindFormData
	KindSqliteConn
	KindSqliteStmt
	KindFfiLib
	KindFfiCallback
	KindCacheName
	KindTimer
	KindBroadcastSub
	KindLockGrant
	KindCanvasCtx
	KindImageBitmap

	// KindCount is a sentinel equal to one past the last real Kind value,
	// letting callers iterate 0..KindCount without hardcoding the count.
	KindCount
)

func (k Kind) String() string {
	switch k {
	case KindTcpListener:
		return "TcpListener"
	case KindTcpConn:
		return "TcpConn"
	case KindFile:
		return "File"
	case KindReadableStream:
		return "ReadableStream"
	case KindBlob:
		return "Blob"
	case KindFormData:
		return "FormData"
	case KindSqliteConn:
		return "SqliteConn"
	case KindSqliteStmt:
		return "SqliteStmt"
	case KindFfiLib:
		return "FfiLib"
	case KindFfiCallback:
		return "FfiCallback"
	case KindCacheName:
		return "CacheName"
	case KindTimer:
		return "Timer"
	case KindBroadcastSub:
		return "BroadcastSub"
	case KindLockGrant:
		return "LockGrant"
	case KindCanvasCtx:
		return "CanvasCtx"
	case KindImageBitmap:
		return "ImageBitmap"
	default:
		return "Unknown"
	}
}

// ID is an opaque, monotonically allocated resource handle. IDs are never
// reused within a run.
type ID uint64

// entry is the internal bookkeeping record for one live resource.
type entry struct {
	kind Kind
	value any
}

// Table is the process-wide registry. The zero value is not usable; use
// New.
type Table struct {
	mu sync.Mutex
	nextID ID
	entries map[ID]*entry
}

// New constructs an empty Table.
func New() *Table {
	return &Table{
		entries: make(map[ID]*entry),
		nextID: 1,
	}
}

// Insert allocates a fresh ID for value under kind and returns it. value
// should be a *pointer* to the kind-specific record; Get returns it back
// verbatim so callers can type-assert.
func (t *Table) Insert(kind Kind, value any) ID {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	t.entries[id] = &entry{kind: kind, value: value}
	return id
}

// Get returns the record stored at id if it is live and of the expected
// kind. Any other outcome — missing, or a kind mismatch — is BadResource,
// matching its invariant that every operation on a handle whose
// entry was dropped (or never existed, or is the wrong kind) fails
// uniformly.
func (t *Table) Get(id ID, expectedKind Kind) (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return nil, errs.New(errs.BadResource, fmt.Sprintf("no resource with id %d", id))
	}
	if e.kind != expectedKind {
		return nil, errs.New(errs.BadResource, fmt.Sprintf("resource %d is %s, not %s", id, e.kind, expectedKind))
	}
	return e.value, nil
}

// Drop removes id from the table, closing its value if it implements
// io.Closer. Drop is idempotent: dropping an unknown or already-dropped ID
// is not an error.
func (t *Table) Drop(id ID) error {
	t.mu.Lock()
	e, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	t.mu.Unlock()

	if !ok {
		return nil
	}
	if closer, ok := e.value.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			return errs.Wrapf(errs.Internal, err, "closing resource %d (%s)", id, e.kind)
		}
	}
	return nil
}

// Iter calls fn for every live resource of the given kind, in unspecified
// order. fn must not call back into the Table (Insert/Drop) — Iter holds
// the table lock for its duration.
func (t *Table) Iter(kind Kind, fn func(id ID, value any)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, e := range t.entries {
		if e.kind == kind {
			fn(id, e.value)
		}
	}
}

// Len reports the total number of live resources across all kinds, used by
// the debug server's census view.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// CountByKind reports how many live resources exist for kind.
func (t *Table) CountByKind(kind Kind) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, e := range t.entries {
		if e.kind == kind {
			n++
		}
	}
	return n
}
