// Package kvstore implements the local/session key-value storage surface:
// two keyed stores per runtime, `persistent`
// (durable across runs, backed by a modernc.org/sqlite file so "durable"
// means one real on-disk format) and `ephemeral` (cleared on process
// exit, a plain in-memory ordered map). Keys and values are text; key
// iteration order is insertion order in both stores.
package kvstore

import (
	"context"
	"database/sql"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/andromeda-rt/andromeda/internal/errs"
)

// Store is the storage_* operation surface the HOST binding exposes for
// one keyed store (either persistent or ephemeral).
type Store interface {
	Length(ctx context.Context) (int, error)
	Key(ctx context.Context, index int) (string, bool, error)
	GetItem(ctx context.Context, key string) (string, bool, error)
	SetItem(ctx context.Context, key, value string) error
	RemoveItem(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	IterateKeys(ctx context.Context) ([]string, error)
}

// EphemeralStore is an in-memory Store cleared on process exit. Insertion
// order is tracked separately from the map so IterateKeys/Key(i) reflect
// first-write order even across overwrites.
type EphemeralStore struct {
	mu sync.RWMutex
	values map[string]string
	order []string
}

// NewEphemeral constructs an empty in-memory store.
func NewEphemeral() *EphemeralStore {
	return &EphemeralStore{values: make(map[string]string)}
}

func (s *EphemeralStore) Length(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order), nil
}

func (s *EphemeralStore) Key(ctx context.Context, index int) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index < 0 || index >= len(s.order) {
		return "", false, nil
	}
	return s.order[index], true, nil
}

func (s *EphemeralStore) GetItem(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *EphemeralStore) SetItem(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.values[key]; !exists {
		s.order = append(s.order, key)
	}
	s.values[key] = value
	return nil
}

func (s *EphemeralStore) RemoveItem(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.values[key]; !exists {
		return nil
	}
	delete(s.values, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *EphemeralStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = make(map[string]string)
	s.order = nil
	return nil
}

func (s *EphemeralStore) IterateKeys(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out, nil
}

// PersistentStore is a Store durable across process runs, backed by a
// SQLite table with an explicit insertion-sequence column so key order
// survives restarts the same way the in-memory store preserves it within
// a run.
type PersistentStore struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenPersistent opens (creating if absent) the SQLite-backed store at
// path, migrating its schema on first use.
func OpenPersistent(path string) (*PersistentStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "opening persistent storage database", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS kv_store (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			seq INTEGER NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, errs.Wrap(errs.Internal, "migrating persistent storage schema", err)
	}
	return &PersistentStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *PersistentStore) Close() error { return s.db.Close() }

func (s *PersistentStore) Length(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM kv_store`).Scan(&n)
	if err != nil {
		return 0, errs.Wrap(errs.Internal, "counting persistent storage rows", err)
	}
	return n, nil
}

func (s *PersistentStore) Key(ctx context.Context, index int) (string, bool, error) {
	var key string
	err := s.db.QueryRowContext(ctx,
		`SELECT key FROM kv_store ORDER BY seq ASC LIMIT 1 OFFSET ?`, index).Scan(&key)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errs.Wrap(errs.Internal, "reading persistent storage key by index", err)
	}
	return key, true, nil
}

func (s *PersistentStore) GetItem(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv_store WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errs.Wrap(errs.Internal, "reading persistent storage item", err)
	}
	return value, true, nil
}

func (s *PersistentStore) SetItem(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var maxSeq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM kv_store`).Scan(&maxSeq); err != nil {
		return errs.Wrap(errs.Internal, "reading max sequence", err)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_store (key, value, seq) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value, maxSeq.Int64+1)
	if err != nil {
		return errs.Wrap(errs.Internal, "writing persistent storage item", err)
	}
	return nil
}

func (s *PersistentStore) RemoveItem(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_store WHERE key = ?`, key); err != nil {
		return errs.Wrap(errs.Internal, "removing persistent storage item", err)
	}
	return nil
}

func (s *PersistentStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_store`); err != nil {
		return errs.Wrap(errs.Internal, "clearing persistent storage", err)
	}
	return nil
}

func (s *PersistentStore) IterateKeys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM kv_store ORDER BY seq ASC`)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "iterating persistent storage keys", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, errs.Wrap(errs.Internal, "scanning persistent storage key", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// Registry is the dispatch point for the host's storage bindings: it hands back the
// persistent or ephemeral Store for a runtime, each a process-wide
// singleton — two separate keyed stores per runtime.
type Registry struct {
	Persistent Store
	Ephemeral Store
}

// New constructs a Registry; persistentPath is a filesystem path (or
// ":memory:" for tests) for the durable store.
func New(persistentPath string) (*Registry, error) {
	persistent, err := OpenPersistent(persistentPath)
	if err != nil {
		return nil, err
	}
	return &Registry{Persistent: persistent, Ephemeral: NewEphemeral()}, nil
}

// For selects the store named by the persistent flag.
func (r *Registry) For(persistent bool) Store {
	if persistent {
		return r.Persistent
	}
	return r.Ephemeral
}
