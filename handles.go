package dav1d

import (
	"sync"
	"sync/atomic"
)

// handleTable maps integer cookies handed to native code back to Go
// values. Cookies are never reused, so a stale cookie fails the lookup
// instead of aliasing a newer value.
type handleTable[T any] struct {
	next  atomic.Uintptr
	count atomic.Int64
	m     sync.Map
}

func (t *handleTable[T]) register(v T) uintptr {
	id := t.next.Add(1)
	t.m.Store(id, v)
	t.count.Add(1)
	return id
}

func (t *handleTable[T]) load(id uintptr) (T, bool) {
	v, ok := t.m.Load(id)
	if !ok {
		var zero T
		return zero, false
	}
	return v.(T), true
}

func (t *handleTable[T]) unregister(id uintptr) (T, bool) {
	v, ok := t.m.LoadAndDelete(id)
	if !ok {
		var zero T
		return zero, false
	}
	t.count.Add(-1)
	return v.(T), true
}

func (t *handleTable[T]) len() int {
	return int(t.count.Load())
}
