package ps

import (
	"context"
	"fmt"
	"time"

	"github.com/nickyhof/BranchDB/core"
	"golang.org/x/sync/semaphore"
)

// maxShared bounds the number of concurrent shared holders. The exclusive
// side acquires the whole weight.
const maxShared = 1 << 30

// rwLock is a timed read/write lock. Waiters are served in FIFO order, so a
// pending exclusive acquisition blocks shared acquisitions that arrive after
// it. Reentrant shared holds are tracked by readHold, not here.
type rwLock struct {
	sem     *semaphore.Weighted
	timeout time.Duration
}

func newRWLock(timeout time.Duration) *rwLock {
	return &rwLock{sem: semaphore.NewWeighted(maxShared), timeout: timeout}
}

func (l *rwLock) RLock(ctx context.Context) error {
	return l.acquire(ctx, 1)
}

func (l *rwLock) RUnlock() {
	l.sem.Release(1)
}

func (l *rwLock) Lock(ctx context.Context) error {
	return l.acquire(ctx, maxShared)
}

func (l *rwLock) Unlock() {
	l.sem.Release(maxShared)
}

func (l *rwLock) acquire(ctx context.Context, n int64) error {
	if l.sem.TryAcquire(n) {
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	if err := l.sem.Acquire(waitCtx, n); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w after %s", core.ErrLockTimeout, l.timeout)
	}
	return nil
}
