package pool

import (
	"context"
	"time"
)

type refState int

const (
	refLeased refState = iota
	refIdle
	refDestroyed
)

// Metadata describes the history of a pooled resource.
type Metadata struct {
	// AcquireCount is the number of times the resource has been leased
	AcquireCount int
	// IdleTime is the time since the resource was last released, or since
	// creation if it was never released
	IdleTime time.Duration
	// LifeTime is the time since the resource was allocated
	LifeTime time.Duration
}

// Ref is a lease on a pooled resource. Its state is guarded by the owning
// pool's lock.
type Ref[T any] struct {
	pool         *Pool[T]
	value        T
	createdAt    time.Time
	releasedAt   time.Time
	acquireCount int
	state        refState
}

// Poolable returns the pooled resource.
func (r *Ref[T]) Poolable() T {
	return r.value
}

// Metadata returns the resource history as of now.
func (r *Ref[T]) Metadata() Metadata {
	r.pool.mu.Lock()
	defer r.pool.mu.Unlock()
	return r.metadataLocked(r.pool.cfg.Clock())
}

func (r *Ref[T]) metadataLocked(now time.Time) Metadata {
	return Metadata{
		AcquireCount: r.acquireCount,
		IdleTime:     now.Sub(r.releasedAt),
		LifeTime:     now.Sub(r.createdAt),
	}
}

// Release returns the resource to the pool, or destroys it when the eviction
// predicate says so or the pool is disposed. Releasing twice is a no-op.
func (r *Ref[T]) Release(ctx context.Context) {
	r.pool.release(ctx, r)
}

// Invalidate removes the resource from the pool and destroys it.
func (r *Ref[T]) Invalidate(ctx context.Context) {
	r.pool.invalidate(ctx, r)
}
