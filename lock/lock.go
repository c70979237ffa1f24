/*
Package lock provides per-employee mutual exclusion for the
read-compute-persist reconciliation cycle.

Without it, a leave approved while a reconciliation is between "load events"
and "write periods" would be silently dropped from that run's totals.

IMPLEMENTATIONS:
  KeyedMutex:  In-process, one channel semaphore per key (single instance)
  RedisLocker: SET NX token lock with compare-and-delete release (multi instance)

USAGE:
  release, err := locker.Lock(ctx, lock.EmployeeKey(empID))
  if err != nil {
      return err // wraps generic.ErrLockUnavailable
  }
  defer release()
*/
package lock

import (
	"context"
	"fmt"
	"sync"

	"github.com/warp/accrual-engine/generic"
)

// Locker acquires an exclusive lock on key, blocking until it is free or ctx
// is done. The returned release func is safe to call more than once.
type Locker interface {
	Lock(ctx context.Context, key string) (release func(), err error)
}

// EmployeeKey is the lock key guarding one employee's periods and events.
func EmployeeKey(id generic.EmployeeID) string {
	return "accrual:employee:" + string(id)
}

func unavailable(key string, cause error) error {
	return fmt.Errorf("%w: %s: %v", generic.ErrLockUnavailable, key, cause)
}

// =============================================================================
// KEYED MUTEX - In-process
// =============================================================================

type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	sem  chan struct{}
	refs int // holders plus waiters; entry is dropped at zero
}

var _ Locker = (*KeyedMutex)(nil)

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedEntry)}
}

func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{sem: make(chan struct{}, 1)}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-e.sem
				k.unref(key, e)
			})
		}, nil
	case <-ctx.Done():
		k.unref(key, e)
		return nil, unavailable(key, ctx.Err())
	}
}

func (k *KeyedMutex) unref(key string, e *keyedEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
}

// Len returns the number of keys currently held or waited on.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
