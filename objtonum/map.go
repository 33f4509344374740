// Copyright (c) 2024 The ipcmd authors.
// SPDX-License-Identifier: Apache-2.0

// Package objtonum allocates small, dense integer numbers to keys and
// tracks when each assignment was made and last touched. It is used
// everywhere this daemon needs a process-wide monotonic counter with
// exclusivity semantics: IPCP ids, transaction ids, port ids.
//
// This Map never persists its content across restarts -- durable state
// survival across daemon restarts is not a goal here.
package objtonum

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// ObjKey identifies an object that numbers get assigned to.
type ObjKey interface {
	// Key returns a string uniquely identifying the object within a Map.
	Key() string
}

type entry struct {
	key          ObjKey
	number       int
	reservedOnly bool
	createdAt    time.Time
	lastUpdated  time.Time
}

// Map assigns and tracks numbers for a set of keys. Safe for concurrent use.
type Map struct {
	mu      sync.RWMutex
	entries map[string]*entry
	used    map[int]string // number -> key string, for quick collision checks
}

// NewMap creates an empty Map.
func NewMap() *Map {
	return &Map{
		entries: make(map[string]*entry),
		used:    make(map[int]string),
	}
}

// Assign associates number with key. If exclusive is true, Assign fails
// when the key is already present or when the number is already in use
// by a different key. If exclusive is false, re-assigning the same
// key to the same or a different number is allowed (refreshes LastUpdatedAt).
func (m *Map) Assign(key ObjKey, number int, exclusive bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key.Key()
	if existing, ok := m.entries[k]; ok {
		if exclusive {
			return fmt.Errorf("objtonum: key %q already assigned to number %d", k, existing.number)
		}
		if existing.number != number {
			delete(m.used, existing.number)
			m.used[number] = k
			existing.number = number
		}
		existing.reservedOnly = false
		existing.lastUpdated = time.Now()
		return nil
	}
	if owner, ok := m.used[number]; ok && owner != k {
		return fmt.Errorf("objtonum: number %d already in use by key %q", number, owner)
	}
	now := time.Now()
	m.entries[k] = &entry{
		key:         key,
		number:      number,
		createdAt:   now,
		lastUpdated: now,
	}
	m.used[number] = k
	return nil
}

// Get returns the number assigned to key and whether it is reserved-only.
func (m *Map) Get(key ObjKey) (number int, reservedOnly bool, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key.Key()]
	if !ok {
		return 0, false, fmt.Errorf("objtonum: key %q not found", key.Key())
	}
	return e.number, e.reservedOnly, nil
}

// Delete removes key's assignment. If reservedOnly is true the entry is
// kept but marked reserved (its number cannot be handed to a new key via
// a non-exclusive Assign race, but the key itself is considered gone).
func (m *Map) Delete(key ObjKey, reservedOnly bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key.Key()
	e, ok := m.entries[k]
	if !ok {
		return fmt.Errorf("objtonum: key %q not found", k)
	}
	if reservedOnly {
		e.reservedOnly = true
		e.lastUpdated = time.Now()
		return nil
	}
	delete(m.entries, k)
	delete(m.used, e.number)
	return nil
}

// Iterate calls fn for every entry in ascending order of key string.
// Iteration stops early if fn returns true.
func (m *Map) Iterate(fn func(key ObjKey, number int, reservedOnly bool, createdAt, lastUpdatedAt time.Time) (stop bool)) {
	m.mu.RLock()
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	snap := make([]*entry, 0, len(keys))
	for _, k := range keys {
		snap = append(snap, m.entries[k])
	}
	m.mu.RUnlock()
	for _, e := range snap {
		if fn(e.key, e.number, e.reservedOnly, e.createdAt, e.lastUpdated) {
			return
		}
	}
}

// Len returns the number of entries currently tracked.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// MonotonicCounter is a process-wide counter guarded by a single lock,
// used to draw transaction ids and port ids. Numbers are never reused
// until the counter wraps (it is backed by a uint64, so in practice it
// does not).
type MonotonicCounter struct {
	mu   sync.Mutex
	next uint64
}

// NewMonotonicCounter creates a counter that starts at start.
func NewMonotonicCounter(start uint64) *MonotonicCounter {
	return &MonotonicCounter{next: start}
}

// Next draws and returns the next value, then advances the counter.
func (c *MonotonicCounter) Next() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.next
	c.next++
	return v
}
