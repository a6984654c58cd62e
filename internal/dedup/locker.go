package dedup

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
)

// MatchKey is the serialization key for candidate retrieval and write.
func MatchKey(companyKey, country string) string {
	return companyKey + "|" + country
}

type keyEntry struct {
	sem  chan struct{}
	refs int
}

// KeyLocker serializes work per key. Disjoint keys proceed in parallel and
// idle keys are released.
type KeyLocker struct {
	mu   sync.Mutex
	keys map[string]*keyEntry
}

// NewKeyLocker creates an empty locker.
func NewKeyLocker() *KeyLocker {
	return &KeyLocker{keys: make(map[string]*keyEntry)}
}

// Lock blocks until key is free or ctx is done. The returned func releases
// the key and must be called exactly once.
func (l *KeyLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.keys[key]
	if !ok {
		e = &keyEntry{sem: make(chan struct{}, 1)}
		l.keys[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-e.sem
				l.release(key, e)
			})
		}, nil
	case <-ctx.Done():
		l.release(key, e)
		return nil, eris.Wrapf(ctx.Err(), "dedup: lock %s", key)
	}
}

func (l *KeyLocker) release(key string, e *keyEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.keys, key)
	}
}

// Len returns the number of keys currently held or awaited.
func (l *KeyLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}
