package memory

import (
	"context"
	"sync"
	"time"

	"github.com/NIvanov17/AppointmentSystem/internal/store"
)

// lockTable hands out exclusive, non-reentrant locks by key. A waiter gives
// up when its context ends or the wait exceeds the timeout.
type lockTable struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

func newLockTable() *lockTable {
	return &lockTable{held: make(map[string]chan struct{})}
}

func (l *lockTable) acquire(ctx context.Context, key string, timeout time.Duration) error {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		l.mu.Lock()
		released, busy := l.held[key]
		if !busy {
			l.held[key] = make(chan struct{})
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		select {
		case <-released:
		case <-ctx.Done():
			return ctx.Err()
		case <-expired:
			return store.ErrConflict
		}
	}
}

func (l *lockTable) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ch, ok := l.held[key]; ok {
		delete(l.held, key)
		close(ch)
	}
}
