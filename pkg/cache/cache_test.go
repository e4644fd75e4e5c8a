package cache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type closer struct {
	closed atomic.Int32
	err    error
}

func (c *closer) Close() error {
	c.closed.Add(1)
	return c.err
}

func TestKeysIncludeType(t *testing.T) {
	c := New()
	Put(c, NewKey[int]("x"), 42)
	Put(c, NewKey[string]("x"), "forty-two")

	i, ok := Get(c, NewKey[int]("x"))
	require.True(t, ok)
	assert.Equal(t, 42, i)

	s, ok := Get(c, NewKey[string]("x"))
	require.True(t, ok)
	assert.Equal(t, "forty-two", s)

	_, ok = Get(c, NewKey[float64]("x"))
	assert.False(t, ok)
}

func TestComputeIfAbsentRunsOnce(t *testing.T) {
	c := New()
	key := NewKey[*closer]("client")
	var calls atomic.Int32

	var wg sync.WaitGroup
	results := make([]*closer, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = ComputeIfAbsent(c, key, func() *closer {
				calls.Add(1)
				return &closer{}
			})
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
	for _, r := range results {
		assert.Same(t, results[0], r)
	}
}

func TestCloseClosesOwnedValuesExactlyOnce(t *testing.T) {
	c := New()
	owned := ComputeIfAbsent(c, NewKey[*closer]("owned"), func() *closer { return &closer{} })
	injected := &closer{}
	PutUnowned(c, NewKey[*closer]("injected"), injected)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.EqualValues(t, 1, owned.closed.Load())
	assert.EqualValues(t, 0, injected.closed.Load())
}

func TestCloseJoinsErrors(t *testing.T) {
	c := New()
	boom := errors.New("boom")
	Put(c, NewKey[*closer]("a"), &closer{err: boom})
	Put(c, NewKey[*closer]("b"), &closer{})

	err := c.Close()
	assert.ErrorIs(t, err, boom)
}
