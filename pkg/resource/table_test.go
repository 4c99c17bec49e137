package resource

import (
	"errors"
	"testing"

	"github.com/andromeda-rt/andromeda/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCloser struct{ closed bool }

func (f *fakeCloser) Close() error {
	f.closed = true
	return nil
}

func TestInsertGetDrop(t *testing.T) {
	tbl := New()
	rec := &fakeCloser{}
	id := tbl.Insert(KindFile, rec)

	got, err := tbl.Get(id, KindFile)
	require.NoError(t, err)
	assert.Same(t, rec, got)

	require.NoError(t, tbl.Drop(id))
	assert.True(t, rec.closed)

	_, err = tbl.Get(id, KindFile)
	var he *errs.HostError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, errs.BadResource, he.Kind)
}

func TestGetWrongKindIsBadResource(t *testing.T) {
	tbl := New()
	id := tbl.Insert(KindFile, &fakeCloser{})
	_, err := tbl.Get(id, KindBlob)
	assert.Equal(t, errs.BadResource, errs.KindOf(err))
}

func TestDropIsIdempotent(t *testing.T) {
	tbl := New()
	id := tbl.Insert(KindTimer, struct{}{})
	require.NoError(t, tbl.Drop(id))
	require.NoError(t, tbl.Drop(id)) // second drop: no-op, not an error
}

func TestIDsNeverReused(t *testing.T) {
	tbl := New()
	id1 := tbl.Insert(KindTimer, 1)
	require.NoError(t, tbl.Drop(id1))
	id2 := tbl.Insert(KindTimer, 2)
	assert.NotEqual(t, id1, id2)
}

func TestIterAndCount(t *testing.T) {
	tbl := New()
	tbl.Insert(KindBlob, 1)
	tbl.Insert(KindBlob, 2)
	tbl.Insert(KindFile, 3)

	assert.Equal(t, 2, tbl.CountByKind(KindBlob))
	assert.Equal(t, 3, tbl.Len())

	seen := 0
	tbl.Iter(KindBlob, func(id ID, value any) { seen++ })
	assert.Equal(t, 2, seen)
}
