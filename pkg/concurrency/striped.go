// Package concurrency holds the locking primitives shared by resolution and file acquisition.
package concurrency

import (
	"context"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/semaphore"
)

const DefaultStripes = 512

// StripedMutex maps arbitrary string keys onto a fixed set of locks. Keys hashing to the same
// stripe serialize; unrelated keys almost never contend. Acquisition honors context cancellation.
type StripedMutex struct {
	stripes []*semaphore.Weighted
}

func NewStripedMutex(stripes int) *StripedMutex {
	if stripes <= 0 {
		stripes = DefaultStripes
	}
	s := &StripedMutex{stripes: make([]*semaphore.Weighted, stripes)}
	for i := range s.stripes {
		s.stripes[i] = semaphore.NewWeighted(1)
	}
	return s
}

func (s *StripedMutex) stripe(key string) *semaphore.Weighted {
	return s.stripes[xxhash.Sum64String(key)%uint64(len(s.stripes))]
}

// Lock blocks until the stripe of key is held or ctx is done.
func (s *StripedMutex) Lock(ctx context.Context, key string) (unlock func(), err error) {
	sem := s.stripe(key)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { sem.Release(1) }, nil
}

// WithLock runs fn while holding the stripe of key.
func (s *StripedMutex) WithLock(ctx context.Context, key string, fn func() error) error {
	unlock, err := s.Lock(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}

// Limiter bounds how many operations run at once.
type Limiter struct {
	sem *semaphore.Weighted
}

const DefaultParallelDownloads = 10

func NewLimiter(n int) *Limiter {
	if n <= 0 {
		n = DefaultParallelDownloads
	}
	return &Limiter{sem: semaphore.NewWeighted(int64(n))}
}

func (l *Limiter) Do(ctx context.Context, fn func() error) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer l.sem.Release(1)
	return fn()
}
