// Package keylock provides per-key mutual exclusion.
//
// Lock objects are created on first use and dropped as soon as nobody holds
// or waits for them, so the number of live locks tracks the number of keys
// currently in contention, not the number of keys ever seen.
package keylock

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// numShards spreads the lock table so unrelated keys rarely share a map mutex.
const numShards = 32

// Locker hands out one mutex per key. The zero value is not usable; use New.
type Locker struct {
	shards [numShards]shard
}

type shard struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// New returns an empty Locker.
func New() *Locker {
	l := &Locker{}
	for i := range l.shards {
		l.shards[i].locks = make(map[string]*entry)
	}
	return l
}

func (l *Locker) shardFor(key string) *shard {
	return &l.shards[xxhash.Sum64String(key)%numShards]
}

// Lock blocks until the lock for key is held and returns the function that
// releases it. The returned function must be called exactly once.
func (l *Locker) Lock(key string) (unlock func()) {
	s := l.shardFor(key)
	s.mu.Lock()
	e, ok := s.locks[key]
	if !ok {
		e = &entry{}
		s.locks[key] = e
	}
	e.refs++
	s.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		s.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

// Len returns the number of keys that currently have a lock object.
func (l *Locker) Len() int {
	n := 0
	for i := range l.shards {
		s := &l.shards[i]
		s.mu.Lock()
		n += len(s.locks)
		s.mu.Unlock()
	}
	return n
}
