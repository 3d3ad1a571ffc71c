/*
lock.go - Per-key mutual exclusion

PURPOSE:
  Stock for one item and balance for one customer are shared mutable state.
  Every operation touching them serializes on the same key, while operations
  on different keys proceed independently.

KEYS:
  item:<id>, customer:<id>, order:<id>, purchase:<id>

DEADLOCK FREEDOM:
  lockAll deduplicates and sorts the key set before acquiring, so two
  operations always take overlapping keys in the same order.

IMPLEMENTATIONS:
  - LocalLocker: in-process, one channel per live key
  - lock/redislock: shared across processes

SEE ALSO:
  - engine.go: run() plans keys, locks, then opens the store transaction
*/
package engine

import (
	"context"
	"sort"
	"sync"
)

// KeyLocker grants exclusive access to a key until unlock is called.
// Lock must return ctx.Err() if the context ends while waiting.
type KeyLocker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

func itemKey(id string) string     { return "item:" + id }
func customerKey(id string) string { return "customer:" + id }
func orderKey(id string) string    { return "order:" + id }
func purchaseKey(id string) string { return "purchase:" + id }

// =============================================================================
// LOCAL LOCKER
// =============================================================================

type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*keyLock)}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-kl.ch
				l.release(key, kl)
			})
		}, nil
	case <-ctx.Done():
		l.release(key, kl)
		return nil, ctx.Err()
	}
}

func (l *LocalLocker) release(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

// size is the number of keys currently held or waited on.
func (l *LocalLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// =============================================================================
// KEY SETS
// =============================================================================

type keySet map[string]struct{}

func newKeySet(keys ...string) keySet {
	ks := make(keySet, len(keys))
	ks.add(keys...)
	return ks
}

func (ks keySet) add(keys ...string) {
	for _, k := range keys {
		ks[k] = struct{}{}
	}
}

func (ks keySet) has(key string) bool {
	_, ok := ks[key]
	return ok
}

func (ks keySet) sorted() []string {
	out := make([]string, 0, len(ks))
	for k := range ks {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// lockAll acquires every key in sorted order. On failure, already held keys
// are released before returning.
func lockAll(ctx context.Context, locker KeyLocker, keys keySet) (func(), error) {
	var unlocks []func()
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	for _, k := range keys.sorted() {
		unlock, err := locker.Lock(ctx, k)
		if err != nil {
			release()
			return nil, err
		}
		unlocks = append(unlocks, unlock)
	}
	return release, nil
}
