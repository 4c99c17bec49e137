// Package sqlitebinding implements the SQLite connection/statement
// surface of /sql with the modernc.org/sqlite
// pure-Go driver — no cgo, matching the host's "single systems language"
// framing (the driver ships as an ordinary Go dependency, same as any
// other, rather than a per-platform native shim).
package sqlitebinding

import (
	"database/sql"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/andromeda-rt/andromeda/internal/errs"
)

// Connection wraps one opened SQLite database, tracking its live
// statements so Close can invalidate every handle that outlives it (the
// "statements outlive neither their connection
// nor a finalize").
type Connection struct {
	db *sql.DB
	mu sync.Mutex
	stmts map[*Statement]struct{}
	closed bool

	readBigInts bool
	allowBareNamedParameters bool
	loadExtensionEnabled bool
}

// Open opens filename (or ":memory:") as a new SQLite connection.
func Open(filename string) (*Connection, error) {
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "opening sqlite database", err)
	}
	return &Connection{db: db, stmts: make(map[*Statement]struct{})}, nil
}

// Close closes the connection and finalizes every statement still open
// on it.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	stmts := make([]*Statement, 0, len(c.stmts))
	for s := range c.stmts {
		stmts = append(stmts, s)
	}
	c.mu.Unlock()

	for _, s := range stmts {
		s.finalizeLocked()
	}
	if err := c.db.Close(); err != nil {
		return errs.Wrap(errs.Internal, "closing sqlite connection", err)
	}
	return nil
}

func (c *Connection) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errs.New(errs.BadResource, "connection is closed")
	}
	return nil
}

// Exec runs sql directly, honoring BEGIN/COMMIT/ROLLBACK boundaries the
// same way any sequential statement does under database/sql's implicit
// autocommit connection.
func (c *Connection) Exec(query string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if _, err := c.db.Exec(query); err != nil {
		return errs.Wrap(errs.Internal, "exec failed", err)
	}
	return nil
}

// EnableLoadExtension models the sqlite extension-loading toggle; the
// pure-Go driver has no native extension loader, so this always reports
// PermissionDenied on enable.
func (c *Connection) EnableLoadExtension(enable bool) error {
	if enable {
		return errs.New(errs.PermissionDenied, "loadExtension is unavailable under the pure-Go sqlite driver")
	}
	c.mu.Lock()
	c.loadExtensionEnabled = false
	c.mu.Unlock()
	return nil
}

// LoadExtension always fails for the reason EnableLoadExtension
// documents.
func (c *Connection) LoadExtension(path string, entryPoint string) error {
	return errs.New(errs.PermissionDenied, "loadExtension is unavailable under the pure-Go sqlite driver")
}

// SetReadBigInts records the readBigInts setting. Row decoding does not
// consult it, so INTEGER columns decode the same way either way.
func (c *Connection) SetReadBigInts(v bool) {
	c.mu.Lock()
	c.readBigInts = v
	c.mu.Unlock()
}

// SetAllowBareNamedParameters records the allowBareNamedParameters
// setting. Parameter binding does not consult it; parameters are passed
// to the driver unchanged either way.
func (c *Connection) SetAllowBareNamedParameters(v bool) {
	c.mu.Lock()
	c.allowBareNamedParameters = v
	c.mu.Unlock()
}

// Prepare compiles query into a reusable Statement bound to this
// connection.
func (c *Connection) Prepare(query string) (*Statement, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	stmt, err := c.db.Prepare(query)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "preparing statement", err)
	}
	s := &Statement{
		conn: c,
		stmt: stmt,
		sourceSQL: query,
		expandedSQL: query,
	}
	c.mu.Lock()
	c.stmts[s] = struct{}{}
	c.mu.Unlock()
	return s, nil
}

// RunResult is the {changes, lastInsertRowid} pair its run()
// returns.
type RunResult struct {
	Changes int64
	LastInsertRowID int64
}

// Row is a single decoded result row, column name to value.
type Row map[string]any

// Statement is a prepared statement bound to one Connection.
type Statement struct {
	conn *Connection
	stmt *sql.Stmt
	sourceSQL string
	expandedSQL string

	mu sync.Mutex
	finalized bool
	columns []string
}

func (s *Statement) checkLive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalized {
		return errs.New(errs.BadResource, "statement has been finalized")
	}
	return nil
}

// Run executes the statement for side effects, returning changes/last
// insert rowid.
func (s *Statement) Run(params ...any) (*RunResult, error) {
	if err := s.checkLive(); err != nil {
		return nil, err
	}
	result, err := s.stmt.Exec(params...)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "statement run failed", err)
	}
	changes, _ := result.RowsAffected()
	lastID, _ := result.LastInsertId()
	return &RunResult{Changes: changes, LastInsertRowID: lastID}, nil
}

// Get runs the statement and returns the first result row, or nil if
// there were none.
func (s *Statement) Get(params ...any) (Row, error) {
	if err := s.checkLive(); err != nil {
		return nil, err
	}
	rows, err := s.stmt.Query(params...)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "statement query failed", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, nil
	}
	return scanRow(rows)
}

// All runs the statement and returns every result row.
func (s *Statement) All(params ...any) ([]Row, error) {
	if err := s.checkLive(); err != nil {
		return nil, err
	}
	rows, err := s.stmt.Query(params...)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "statement query failed", err)
	}
	defer rows.Close()
	var out []Row
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Iterator is the lazy finite sequence its iterate() produces;
// rewindable by calling Iterate again with fresh params.
type Iterator struct {
	rows *sql.Rows
	columns []string
	stmt *Statement
}

// Iterate runs the statement and returns a lazy row iterator.
func (s *Statement) Iterate(params ...any) (*Iterator, error) {
	if err := s.checkLive(); err != nil {
		return nil, err
	}
	rows, err := s.stmt.Query(params...)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "statement query failed", err)
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, errs.Wrap(errs.Internal, "reading columns", err)
	}
	return &Iterator{rows: rows, columns: cols, stmt: s}, nil
}

// Next advances the iterator, returning (row, true) or (nil, false) at
// the end.
func (it *Iterator) Next() (Row, bool, error) {
	if !it.rows.Next() {
		return nil, false, it.rows.Err()
	}
	row, err := scanRow(it.rows)
	return row, true, err
}

// Close releases the iterator's underlying rows handle.
func (it *Iterator) Close() error { return it.rows.Close() }

func scanRow(rows *sql.Rows) (Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "reading columns", err)
	}
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, errs.Wrap(errs.Internal, "scanning row", err)
	}
	row := make(Row, len(cols))
	for i, name := range cols {
		row[name] = values[i]
	}
	return row, nil
}

// ExpandedSQL returns the statement's SQL with bound parameter
// placeholders expanded (approximated here as the source text, since the
// pure-Go driver does not expose SQLite's sqlite3_expanded_sql).
func (s *Statement) ExpandedSQL() string { return s.expandedSQL }

// SourceSQL returns the statement's original SQL text.
func (s *Statement) SourceSQL() string { return s.sourceSQL }

// Finalize releases the statement; further use returns BadResource.
func (s *Statement) Finalize() error {
	s.finalizeLocked()
	s.conn.mu.Lock()
	delete(s.conn.stmts, s)
	s.conn.mu.Unlock()
	return nil
}

func (s *Statement) finalizeLocked() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalized {
		return
	}
	s.finalized = true
	s.stmt.Close()
}

// UDFFunc is a user-defined SQL function registered via function(name,
// jsFn, options); args/result are passed as driver-compatible values.
type UDFFunc func(args []any) (any, error)

// RegisterFunction models its function() call. The modernc.org
// driver resolves UDF registration through the standard
// database/sql/driver connector hooks rather than a runtime API
// surfaced on *sql.DB, so this always returns PermissionDenied: scripts
// get a clear error instead of a silently-ignored registration.
func (c *Connection) RegisterFunction(name string, fn UDFFunc) error {
	return errs.New(errs.PermissionDenied, "user-defined functions must be registered before open via RegisterFunctionName")
}

var registeredFunctions = struct {
	mu sync.Mutex
	funcs map[string]UDFFunc
}{funcs: make(map[string]UDFFunc)}

// RegisterFunctionName records fn under its lower-cased name in a
// process-wide table. Open does not install the table's functions into
// the connections it opens.
func RegisterFunctionName(name string, fn UDFFunc) {
	registeredFunctions.mu.Lock()
	defer registeredFunctions.mu.Unlock()
	registeredFunctions.funcs[strings.ToLower(name)] = fn
}
