package engine

import (
	"bytes"
	"sort"
	"sync"

	"credchain/internal/address"
)

// keyedMutex serializes operations per address. Entries are reference
// counted and dropped once no goroutine holds or waits on them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[address.Address]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[address.Address]*keyedEntry)}
}

// Lock acquires every address in a fixed order and returns the release func.
// A nil receiver locks nothing.
func (k *keyedMutex) Lock(addrs ...address.Address) func() {
	if k == nil || len(addrs) == 0 {
		return func() {}
	}
	keys := dedupSorted(addrs)
	held := make([]*keyedEntry, 0, len(keys))
	for _, a := range keys {
		k.mu.Lock()
		ent, ok := k.locks[a]
		if !ok {
			ent = &keyedEntry{}
			k.locks[a] = ent
		}
		ent.refs++
		k.mu.Unlock()
		ent.mu.Lock()
		held = append(held, ent)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
			k.mu.Lock()
			held[i].refs--
			if held[i].refs == 0 {
				delete(k.locks, keys[i])
			}
			k.mu.Unlock()
		}
	}
}

func dedupSorted(addrs []address.Address) []address.Address {
	out := append([]address.Address(nil), addrs...)
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	n := 0
	for i, a := range out {
		if i > 0 && a == out[n-1] {
			continue
		}
		out[n] = a
		n++
	}
	return out[:n]
}
