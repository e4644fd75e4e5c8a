package concurrency

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripedMutexSerializesSameKey(t *testing.T) {
	s := NewStripedMutex(8)
	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.WithLock(context.Background(), "same/path", func() error {
				n := inside.Add(1)
				for {
					m := maxInside.Load()
					if n <= m || maxInside.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				inside.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, maxInside.Load())
}

func TestStripedMutexHonorsCancellation(t *testing.T) {
	s := NewStripedMutex(1)
	unlock, err := s.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Lock(ctx, "b")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLimiterBoundsParallelism(t *testing.T) {
	l := NewLimiter(3)
	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Do(context.Background(), func() error {
				n := inside.Add(1)
				for {
					m := maxInside.Load()
					if n <= m || maxInside.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				inside.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, maxInside.Load(), int32(3))
}

func TestLockFileWaitsForRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.lock")
	unlock, err := LockFile(context.Background(), path)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		u, err := LockFile(context.Background(), path)
		if assert.NoError(t, err) {
			u()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while first is held")
	case <-time.After(30 * time.Millisecond):
	}
	unlock()
	select {
	case <-acquired:
	case <-time.After(3 * time.Second):
		t.Fatal("second lock never acquired")
	}
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestProduceFileProducesOnce(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "out", "lib-commonMain-1.0.klib")
	var writes atomic.Int32
	write := func(temp string) (bool, error) {
		writes.Add(1)
		return true, os.WriteFile(temp, []byte("content"), 0o644)
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := ProduceFile(context.Background(), target, dir, write)
			assert.NoError(t, err)
			assert.True(t, ok)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, writes.Load())
	content, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "content", string(content))
	assert.FileExists(t, target+".sha1")

	// corrupting the product forces a rebuild
	require.NoError(t, os.WriteFile(target, []byte("corrupted"), 0o644))
	ok, err := ProduceFile(context.Background(), target, dir, write)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.EqualValues(t, 2, writes.Load())
}

func TestProduceFileReportsFailure(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "never")
	ok, err := ProduceFile(context.Background(), target, dir, func(string) (bool, error) { return false, nil })
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoFileExists(t, target)
}
