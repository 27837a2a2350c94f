package gateway

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// limiter bounds concurrent calls per adapter.
// The map is built once and only read afterwards.
type limiter struct {
	semaphores map[string]*semaphore.Weighted
}

func newLimiter(policy Policy, ids []string) *limiter {
	l := &limiter{semaphores: make(map[string]*semaphore.Weighted, len(ids))}
	for _, id := range ids {
		l.semaphores[id] = semaphore.NewWeighted(int64(policy.GetMaxInFlight(id)))
	}
	return l
}

// Acquire blocks until a slot for the adapter is free or ctx is done.
func (l *limiter) Acquire(ctx context.Context, id string) error {
	sem, ok := l.semaphores[id]
	if !ok {
		return nil
	}
	return sem.Acquire(ctx, 1)
}

// Release returns a slot taken by Acquire.
func (l *limiter) Release(id string) {
	if sem, ok := l.semaphores[id]; ok {
		sem.Release(1)
	}
}
