package utils

import (
	"sort"
	"sync"
)

// KeyedMutex hands out one mutex per key. Entries are reference counted and
// removed once nobody holds or waits for them.
type KeyedMutex[K comparable] struct {
	mu    sync.Mutex
	locks map[K]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedMutex[K comparable]() *KeyedMutex[K] {
	return &KeyedMutex[K]{locks: make(map[K]*keyedEntry)}
}

func (k *KeyedMutex[K]) Lock(key K) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
}

func (k *KeyedMutex[K]) Unlock(key K) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		k.mu.Unlock()
		panic("utils: unlock of unlocked key")
	}
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()

	e.mu.Unlock()
}

// LockAll locks every key in ascending order and returns the matching unlock.
func LockAll(k *KeyedMutex[uint], keys []uint) func() {
	ordered := SortedUnique(keys)
	for _, key := range ordered {
		k.Lock(key)
	}
	return func() {
		for i := len(ordered) - 1; i >= 0; i-- {
			k.Unlock(ordered[i])
		}
	}
}

func SortedUnique(keys []uint) []uint {
	out := make([]uint, 0, len(keys))
	seen := make(map[uint]struct{}, len(keys))
	for _, key := range keys {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len reports how many keys are currently tracked.
func (k *KeyedMutex[K]) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
