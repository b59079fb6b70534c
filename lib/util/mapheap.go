// Package util
//
// This file provides a keyed min-heap used to schedule the reclamation of idle
// connections.
//
// The heap is ordered by an int64 priority (for the connection manager: the
// unix nano timestamp at which an idle connection expires), while a map gives
// direct access to an entry by its key. This allows to
//   - collect the expired keys in priority order in O(k log n)
//   - reschedule a key when it is used again in O(log n)
//   - drop a key in O(log n) when it is released or closed by other means
//
// MapHeap is not thread-safe, the owner has to synchronize access.
//
// Example usage:
//
//	h := NewMapHeap[string]()
//	h.Set("a.example.org:1094", deadline.UnixNano())
//	for _, key := range h.PopUntil(time.Now().UnixNano()) {
//	    // key is expired
//	}
package util

import (
	"container/heap"
	"fmt"
)

// entry is a single element of the heap
type entry[K comparable] struct {
	Key      K
	Priority int64
	index    int // index in the heap slice, maintained by the heap.Interface methods
}

func (e *entry[K]) String() string {
	return fmt.Sprintf("{Key: %v, Priority: %d}", e.Key, e.Priority)
}

// entries implements heap.Interface, the map is kept in sync by Push and Pop
type entries[K comparable] struct {
	items []*entry[K]
	byKey map[K]*entry[K]
}

func (e *entries[K]) Len() int { return len(e.items) }

func (e *entries[K]) Less(i, j int) bool {
	return e.items[i].Priority < e.items[j].Priority
}

func (e *entries[K]) Swap(i, j int) {
	e.items[i], e.items[j] = e.items[j], e.items[i]
	e.items[i].index = i
	e.items[j].index = j
}

func (e *entries[K]) Push(x any) {
	it := x.(*entry[K])
	it.index = len(e.items)
	e.items = append(e.items, it)
	e.byKey[it.Key] = it
}

func (e *entries[K]) Pop() any {
	old := e.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil // avoid memory leak
	it.index = -1
	e.items = old[:n-1]
	delete(e.byKey, it.Key)
	return it
}

// MapHeap is a min-heap by priority with key based access
type MapHeap[K comparable] struct {
	h *entries[K]
}

// NewMapHeap creates an empty heap
func NewMapHeap[K comparable]() *MapHeap[K] {
	return &MapHeap[K]{h: &entries[K]{byKey: make(map[K]*entry[K])}}
}

// Len returns the number of keys in the heap
func (m *MapHeap[K]) Len() int { return m.h.Len() }

// Set adds the key or updates its priority
func (m *MapHeap[K]) Set(key K, priority int64) {
	if it, ok := m.h.byKey[key]; ok {
		it.Priority = priority
		heap.Fix(m.h, it.index)
		return
	}
	heap.Push(m.h, &entry[K]{Key: key, Priority: priority})
}

// Remove drops a key and returns its priority
func (m *MapHeap[K]) Remove(key K) (int64, bool) {
	it, ok := m.h.byKey[key]
	if !ok {
		return 0, false
	}
	heap.Remove(m.h, it.index)
	return it.Priority, true
}

// PopUntil removes and returns (in priority order) all keys with a priority <= limit
func (m *MapHeap[K]) PopUntil(limit int64) []K {
	var keys []K
	for len(m.h.items) > 0 && m.h.items[0].Priority <= limit {
		it := heap.Pop(m.h).(*entry[K])
		keys = append(keys, it.Key)
	}
	return keys
}

// Get returns the priority of a key
func (m *MapHeap[K]) Get(key K) (int64, bool) {
	it, ok := m.h.byKey[key]
	if !ok {
		return 0, false
	}
	return it.Priority, true
}
