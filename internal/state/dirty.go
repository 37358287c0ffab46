// Package state implements the shared state hub between the dataflow worker
// threads and the UI poll loop. Each sub-state is independently lockable and
// wraps its payload in a dirty-tracking container, so the 50 ms UI timer
// drains only what actually changed.
package state

import (
	"sync"
	"sync/atomic"
)

// Dirty is a thread-safe single value with dirty tracking. Producers call
// [Dirty.Set] from worker threads; the UI calls [Dirty.ReadIfDirty], which
// returns the value exactly once per mutation.
type Dirty[T any] struct {
	mu    sync.RWMutex
	value T
	dirty atomic.Bool
}

// NewDirty creates a container holding initial, not marked dirty.
func NewDirty[T any](initial T) *Dirty[T] {
	d := &Dirty[T]{}
	d.value = initial
	return d
}

// Set stores value and marks the container dirty.
func (d *Dirty[T]) Set(value T) {
	d.mu.Lock()
	d.value = value
	d.mu.Unlock()
	d.dirty.Store(true)
}

// ReadIfDirty returns the value and true when the container was written
// since the last ReadIfDirty, clearing the dirty flag. The dirty check is a
// single atomic swap, so an un-dirty poll takes no lock.
func (d *Dirty[T]) ReadIfDirty() (T, bool) {
	if !d.dirty.Swap(false) {
		var zero T
		return zero, false
	}
	d.mu.RLock()
	v := d.value
	d.mu.RUnlock()
	return v, true
}

// Read returns the value unconditionally without clearing the dirty flag.
func (d *Dirty[T]) Read() T {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.value
}

// IsDirty reports whether the container has unread changes.
func (d *Dirty[T]) IsDirty() bool { return d.dirty.Load() }

// DirtyList is a thread-safe bounded list with dirty tracking. When the list
// exceeds its maximum size the oldest entries are removed.
type DirtyList[T any] struct {
	mu      sync.RWMutex
	items   []T
	dirty   atomic.Bool
	maxSize int
}

// NewDirtyList creates a list retaining at most maxSize entries.
func NewDirtyList[T any](maxSize int) *DirtyList[T] {
	return &DirtyList[T]{maxSize: maxSize}
}

// Push appends item, evicts the oldest entries past maxSize, and marks the
// list dirty.
func (l *DirtyList[T]) Push(item T) {
	l.mu.Lock()
	l.items = append(l.items, item)
	if len(l.items) > l.maxSize {
		// Copy to a fresh backing array so evicted entries can be collected.
		fresh := make([]T, len(l.items)-1, l.maxSize)
		copy(fresh, l.items[1:])
		l.items = fresh
	}
	l.mu.Unlock()
	l.dirty.Store(true)
}

// ReadIfDirty returns a snapshot of all entries and true when the list was
// written since the last ReadIfDirty, clearing the dirty flag.
func (l *DirtyList[T]) ReadIfDirty() ([]T, bool) {
	if !l.dirty.Swap(false) {
		return nil, false
	}
	return l.snapshot(), true
}

// ReadAll returns a snapshot of all entries unconditionally.
func (l *DirtyList[T]) ReadAll() []T {
	return l.snapshot()
}

func (l *DirtyList[T]) snapshot() []T {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]T, len(l.items))
	copy(out, l.items)
	return out
}

// Len returns the current entry count.
func (l *DirtyList[T]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// Clear removes all entries and marks the list dirty so the UI repaints the
// empty state.
func (l *DirtyList[T]) Clear() {
	l.mu.Lock()
	l.items = nil
	l.mu.Unlock()
	l.dirty.Store(true)
}
