package sqlitebinding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestConn(t *testing.T) *Connection {
	t.Helper()
	conn, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestExecCreateAndInsert(t *testing.T) {
	conn := openTestConn(t)
	require.NoError(t, conn.Exec(`CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)`))

	stmt, err := conn.Prepare(`INSERT INTO items (name) VALUES (?)`)
	require.NoError(t, err)
	defer stmt.Finalize()

	result, err := stmt.Run("widget")
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Changes)
	assert.Equal(t, int64(1), result.LastInsertRowID)
}

func TestGetAndAll(t *testing.T) {
	conn := openTestConn(t)
	conn.Exec(`CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)`)
	insert, _ := conn.Prepare(`INSERT INTO items (name) VALUES (?)`)
	insert.Run("a")
	insert.Run("b")
	insert.Finalize()

	getStmt, err := conn.Prepare(`SELECT name FROM items WHERE id = ?`)
	require.NoError(t, err)
	defer getStmt.Finalize()
	row, err := getStmt.Get(1)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "a", row["name"])

	allStmt, err := conn.Prepare(`SELECT name FROM items ORDER BY id`)
	require.NoError(t, err)
	defer allStmt.Finalize()
	rows, err := allStmt.All()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "b", rows[1]["name"])
}

func TestIterateIsLazy(t *testing.T) {
	conn := openTestConn(t)
	conn.Exec(`CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)`)
	insert, _ := conn.Prepare(`INSERT INTO items (name) VALUES (?)`)
	insert.Run("a")
	insert.Run("b")
	insert.Finalize()

	stmt, err := conn.Prepare(`SELECT name FROM items ORDER BY id`)
	require.NoError(t, err)
	defer stmt.Finalize()

	it, err := stmt.Iterate()
	require.NoError(t, err)
	defer it.Close()

	row, ok, err := it.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", row["name"])

	_, ok, err = it.Next()
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = it.Next()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFinalizedStatementIsBadResource(t *testing.T) {
	conn := openTestConn(t)
	conn.Exec(`CREATE TABLE items (id INTEGER PRIMARY KEY)`)
	stmt, err := conn.Prepare(`SELECT id FROM items`)
	require.NoError(t, err)

	require.NoError(t, stmt.Finalize())
	_, err = stmt.Get()
	assert.Error(t, err)
}

func TestConnectionCloseFinalizesOutstandingStatements(t *testing.T) {
	conn, err := Open(":memory:")
	require.NoError(t, err)
	conn.Exec(`CREATE TABLE items (id INTEGER PRIMARY KEY)`)
	stmt, err := conn.Prepare(`SELECT id FROM items`)
	require.NoError(t, err)

	require.NoError(t, conn.Close())
	_, err = stmt.Get()
	assert.Error(t, err)
}

func TestLoadExtensionAlwaysRejected(t *testing.T) {
	conn := openTestConn(t)
	err := conn.EnableLoadExtension(true)
	assert.Error(t, err)
}
