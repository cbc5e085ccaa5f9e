// Package userlock serializes writers per user. Different users never
// contend with each other.
package userlock

import (
	"context"
	"strings"
	"sync"
)

type entry struct {
	ch   chan struct{}
	refs int
}

// Locker hands out one mutex per user key and frees it when unused.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*entry
}

func New() *Locker {
	return &Locker{locks: make(map[string]*entry)}
}

// Lock blocks until the user's lock is held or ctx is done. The returned
// function releases the lock.
func (l *Locker) Lock(ctx context.Context, userID string) (func(), error) {
	key := strings.TrimSpace(userID)

	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
		return func() { l.release(key, e) }, nil
	case <-ctx.Done():
		l.drop(key, e)
		return nil, ctx.Err()
	}
}

// Do runs fn while holding the user's lock.
func (l *Locker) Do(ctx context.Context, userID string, fn func(ctx context.Context) error) error {
	unlock, err := l.Lock(ctx, userID)
	if err != nil {
		return err
	}
	defer unlock()
	return fn(ctx)
}

func (l *Locker) release(key string, e *entry) {
	<-e.ch
	l.drop(key, e)
}

func (l *Locker) drop(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}

// size is the number of live user entries.
func (l *Locker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
