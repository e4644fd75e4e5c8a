package cache

import (
	"errors"
	"io"
	"reflect"
	"sync"
)

// Key is a typed cache key. Two keys are equal only if both the name and the value type match,
// so Key[int]("x") and Key[string]("x") address different entries.
type Key[T any] struct {
	Name string
}

func NewKey[T any](name string) Key[T] {
	return Key[T]{Name: name}
}

func (k Key[T]) id() entryID {
	return entryID{name: k.Name, typ: reflect.TypeOf((*T)(nil)).Elem()}
}

type entryID struct {
	name string
	typ  reflect.Type
}

type entry struct {
	once  sync.Once
	value interface{}
	owned bool
}

// Cache is a heterogeneous, type-safe map. Values implementing io.Closer that were created
// through the cache are closed exactly once by Close.
type Cache struct {
	mu      sync.Mutex
	entries map[entryID]*entry
	order   []entryID
	closed  bool
}

func New() *Cache {
	return &Cache{entries: make(map[entryID]*entry)}
}

func (c *Cache) slot(id entryID, owned bool) (*entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[id]; ok {
		return e, false
	}
	e := &entry{owned: owned}
	c.entries[id] = e
	c.order = append(c.order, id)
	return e, true
}

// ComputeIfAbsent returns the cached value for key, creating it with fn on first access.
// Concurrent callers for the same key observe the same value and fn runs once.
func ComputeIfAbsent[T any](c *Cache, key Key[T], fn func() T) T {
	e, _ := c.slot(key.id(), true)
	e.once.Do(func() {
		e.value = fn()
	})
	return e.value.(T)
}

// Get returns the value stored under key, if any.
func Get[T any](c *Cache, key Key[T]) (T, bool) {
	c.mu.Lock()
	e, ok := c.entries[key.id()]
	c.mu.Unlock()
	var zero T
	if !ok {
		return zero, false
	}
	// waits for a concurrent ComputeIfAbsent to finish
	e.once.Do(func() {})
	if v, isT := e.value.(T); isT {
		return v, true
	}
	return zero, false
}

// Put stores a value the cache owns: it is closed by Close when it is an io.Closer.
func Put[T any](c *Cache, key Key[T], value T) {
	put(c, key, value, true)
}

// PutUnowned stores a value whose lifecycle stays with the caller; Close never closes it.
func PutUnowned[T any](c *Cache, key Key[T], value T) {
	put(c, key, value, false)
}

func put[T any](c *Cache, key Key[T], value T, owned bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := key.id()
	e := &entry{value: value, owned: owned}
	e.once.Do(func() {})
	if _, exists := c.entries[id]; !exists {
		c.order = append(c.order, id)
	}
	c.entries[id] = e
}

// Close closes owned io.Closer values in creation order. Subsequent calls do nothing.
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	var closers []io.Closer
	for _, id := range c.order {
		e := c.entries[id]
		if !e.owned {
			continue
		}
		if closer, ok := e.value.(io.Closer); ok {
			closers = append(closers, closer)
		}
	}
	c.mu.Unlock()

	var errs []error
	for _, closer := range closers {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
