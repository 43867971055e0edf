package pkg

import (
	"context"
	"slices"
	"sync"

	"github.com/cespare/xxhash/v2"
)

type HasLocker interface{ GetLocker() *sync.RWMutex }

func LockWrap(i HasLocker, f func()) {
	i.GetLocker().Lock()
	defer i.GetLocker().Unlock()
	f()
}

func RLockWrap(i HasLocker, f func()) {
	i.GetLocker().RLock()
	defer i.GetLocker().RUnlock()
	f()
}

const keyed_mutex_shards = 64

type keyedEntry struct {
	ch   chan struct{}
	refs int
}

type keyedShard struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
}

// KeyedMutex hands out one mutex per string key. Holding the lock for one
// key never blocks callers working on a different key. Entries are dropped
// once nobody holds or waits for them.
type KeyedMutex struct {
	shards [keyed_mutex_shards]keyedShard
}

func NewKeyedMutex() *KeyedMutex {
	m := &KeyedMutex{}
	for i := range m.shards {
		m.shards[i].entries = map[string]*keyedEntry{}
	}
	return m
}

func (m *KeyedMutex) shard(key string) *keyedShard {
	return &m.shards[xxhash.Sum64String(key)%keyed_mutex_shards]
}

func (s *keyedShard) acquire(key string) *keyedEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		e = &keyedEntry{ch: make(chan struct{}, 1)}
		s.entries[key] = e
	}
	e.refs++
	return e
}

func (s *keyedShard) release(key string, e *keyedEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(s.entries, key)
	}
}

// Lock blocks until key is free or ctx is done. The returned func releases
// the lock and must be called exactly once.
func (m *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	s := m.shard(key)
	e := s.acquire(key)

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		s.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			s.release(key, e)
		})
	}, nil
}

// LockAll locks every distinct key in sorted order, so two callers locking
// overlapping key sets cannot deadlock.
func (m *KeyedMutex) LockAll(ctx context.Context, keys []string) (func(), error) {
	sorted := slices.Clone(keys)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	unlocks := make([]func(), 0, len(sorted))
	unlockAll := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}

	for _, key := range sorted {
		unlock, err := m.Lock(ctx, key)
		if err != nil {
			unlockAll()
			return nil, err
		}
		unlocks = append(unlocks, unlock)
	}
	return unlockAll, nil
}

// Len reports how many keys are currently held or waited on.
func (m *KeyedMutex) Len() int {
	n := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}
