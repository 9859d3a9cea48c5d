// Package lock serializes work per conversation, inside one process and
// across worker replicas.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrLockTimeout = errors.New("lock wait exceeded")

// Release gives a held lock back. Calling it more than once is a no-op.
type Release func(ctx context.Context) error

// Locker grants exclusive access to a key until the returned Release runs.
type Locker interface {
	Acquire(ctx context.Context, key string) (Release, error)
}

// ConversationKey is the lock key for one chat conversation.
func ConversationKey(conversationID string) string {
	return "conversation:" + conversationID
}

func timeoutError(key string, cause error) error {
	return fmt.Errorf("%w: %s: %v", ErrLockTimeout, key, cause)
}

func withWait(ctx context.Context, wait time.Duration) (context.Context, context.CancelFunc) {
	if wait <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, wait)
}

// KeyedMutex is an in-process Locker. Waiters on the same key are served in
// arrival order and idle keys are dropped.
type KeyedMutex struct {
	mu   sync.Mutex
	keys map[string]*keyEntry
	wait time.Duration
}

type keyEntry struct {
	sem  chan struct{}
	refs int
}

// NewKeyedMutex returns a mutex that gives up after wait. Zero waits until
// the caller's context ends.
func NewKeyedMutex(wait time.Duration) *KeyedMutex {
	return &KeyedMutex{keys: make(map[string]*keyEntry), wait: wait}
}

func (m *KeyedMutex) Acquire(ctx context.Context, key string) (Release, error) {
	m.mu.Lock()
	e, ok := m.keys[key]
	if !ok {
		e = &keyEntry{sem: make(chan struct{}, 1)}
		m.keys[key] = e
	}
	e.refs++
	m.mu.Unlock()

	wctx, cancel := withWait(ctx, m.wait)
	defer cancel()

	select {
	case e.sem <- struct{}{}:
	case <-wctx.Done():
		m.unref(key, e)
		return nil, timeoutError(key, wctx.Err())
	}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			<-e.sem
			m.unref(key, e)
		})
		return nil
	}, nil
}

func (m *KeyedMutex) unref(key string, e *keyEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(m.keys, key)
	}
}

// Len reports how many keys are held or waited on.
func (m *KeyedMutex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.keys)
}

// Chain acquires each locker in order and releases them in reverse.
type Chain []Locker

func (c Chain) Acquire(ctx context.Context, key string) (Release, error) {
	held := make([]Release, 0, len(c))
	releaseAll := func(rctx context.Context) error {
		var errs []error
		for i := len(held) - 1; i >= 0; i-- {
			if err := held[i](rctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	for _, l := range c {
		rel, err := l.Acquire(ctx, key)
		if err != nil {
			_ = releaseAll(context.WithoutCancel(ctx))
			return nil, err
		}
		held = append(held, rel)
	}

	var once sync.Once
	var relErr error
	return func(rctx context.Context) error {
		once.Do(func() { relErr = releaseAll(rctx) })
		return relErr
	}, nil
}
