package cachestorage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenIsIdempotentByName(t *testing.T) {
	s := New(0)
	a := s.Open("v1")
	b := s.Open("v1")
	assert.Same(t, a, b)
	assert.True(t, s.Has("v1"))
}

func TestPutMatchRoundTrip(t *testing.T) {
	s := New(0)
	c := s.Open("v1")
	key := RequestKey{Method: "GET", URL: "https://api.test/data"}
	c.Put(key, 200, nil, []byte("payload"))

	e := c.Match(key, QueryOptions{})
	require.NotNil(t, e)
	assert.Equal(t, "payload", string(e.Body))
}

func TestMatchIgnoreSearch(t *testing.T) {
	s := New(0)
	c := s.Open("v1")
	stored := RequestKey{Method: "GET", URL: "https://api.test/data?x=1"}
	c.Put(stored, 200, nil, []byte("payload"))

	query := RequestKey{Method: "GET", URL: "https://api.test/data?y=2"}
	assert.Nil(t, c.Match(query, QueryOptions{}))
	e := c.Match(query, QueryOptions{IgnoreSearch: true})
	require.NotNil(t, e)
}

func TestDeleteRemovesEntryAndKey(t *testing.T) {
	s := New(0)
	c := s.Open("v1")
	key := RequestKey{Method: "GET", URL: "https://api.test/data"}
	c.Put(key, 200, nil, []byte("x"))

	assert.True(t, c.Delete(key, QueryOptions{}))
	assert.Nil(t, c.Match(key, QueryOptions{}))
	assert.Empty(t, c.Keys())
}

func TestStorageDeleteAndKeys(t *testing.T) {
	s := New(0)
	s.Open("a")
	s.Open("b")
	assert.Equal(t, []string{"a", "b"}, s.Keys())
	assert.True(t, s.Delete("a"))
	assert.Equal(t, []string{"b"}, s.Keys())
}

func TestEvictionUnderByteBudget(t *testing.T) {
	c := newCache("bounded", 10)
	c.Put(RequestKey{Method: "GET", URL: "/a"}, 200, nil, []byte("0123456789"))
	c.Put(RequestKey{Method: "GET", URL: "/b"}, 200, nil, []byte("abcdefghij"))

	// Total would be 20 bytes against a 10-byte budget: the older entry
	// must have been evicted.
	assert.Nil(t, c.Match(RequestKey{Method: "GET", URL: "/a"}, QueryOptions{}))
	assert.NotNil(t, c.Match(RequestKey{Method: "GET", URL: "/b"}, QueryOptions{}))
}

func TestKeysInsertionOrder(t *testing.T) {
	c := newCache("x", 0)
	c.Put(RequestKey{Method: "GET", URL: "/z"}, 200, nil, nil)
	c.Put(RequestKey{Method: "GET", URL: "/a"}, 200, nil, nil)
	keys := c.Keys()
	assert.Equal(t, "/z", keys[0].URL)
	assert.Equal(t, "/a", keys[1].URL)
}
