// Package keylock serializes work per key within one process.
package keylock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/apperrors"
)

// KeyLock hands out one exclusive holder per key. Entries are reference
// counted and dropped once no holder or waiter remains.
type KeyLock struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	sem  chan struct{}
	refs int
}

func New() *KeyLock {
	return &KeyLock{entries: make(map[string]*entry)}
}

func (l *KeyLock) ref(key string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	return e
}

func (l *KeyLock) unref(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

// Acquire blocks until key is free, ctx is done or timeout elapses. A zero
// timeout waits on ctx alone. The returned release is safe to call twice.
func (l *KeyLock) Acquire(ctx context.Context, key string, timeout time.Duration) (func(), error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	e := l.ref(key)
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		l.unref(key, e)
		return nil, fmt.Errorf("%w: acquire lock for %s: %w", apperrors.ErrTimeout, key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			l.unref(key, e)
		})
	}, nil
}

// Len reports how many keys are held or awaited.
func (l *KeyLock) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
