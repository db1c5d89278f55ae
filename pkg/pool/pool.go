// Package pool provides a generic bounded resource pool.
//
// A Pool[T] lazily allocates up to MaxSize resources, hands them out as
// *Ref[T] leases and takes them back on Release. When the pool is saturated,
// acquirers queue in FIFO order up to MaxPending and are served as capacity
// frees up. Idle resources are checked against an eviction predicate when
// they are released, when they are about to be leased again and, optionally,
// on a background interval.
//
// Example usage:
//
//	p := pool.New(pool.Config[net.Conn]{
//	    Allocator: func(ctx context.Context) (net.Conn, error) {
//	        return dialer.DialContext(ctx, "tcp", addr)
//	    },
//	    Destroy:  func(_ context.Context, c net.Conn) error { return c.Close() },
//	    MaxSize:  8,
//	    Strategy: pool.LIFO,
//	})
//	ref, err := p.Acquire(ctx, 5*time.Second)
//	if err != nil {
//	    return err
//	}
//	defer ref.Release(ctx)
package pool

import (
	"container/list"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	poolerrors "github.com/ajitpratap0/netpool/pkg/errors"
	"github.com/ajitpratap0/netpool/pkg/logger"
)

// Strategy selects which idle resource is leased next.
type Strategy int

const (
	// FIFO leases the resource that has been idle the longest
	FIFO Strategy = iota
	// LIFO leases the most recently released resource
	LIFO
)

// String implements fmt.Stringer.
func (s Strategy) String() string {
	if s == LIFO {
		return "lifo"
	}
	return "fifo"
}

// ParseStrategy maps "fifo" and "lifo" to a Strategy. Anything else is FIFO.
func ParseStrategy(s string) Strategy {
	if s == "lifo" {
		return LIFO
	}
	return FIFO
}

// Unbounded disables the pending acquire cap.
const Unbounded = -1

// Config describes how a pool creates, checks and destroys its resources.
type Config[T any] struct {
	// Name identifies the pool in logs
	Name string
	// Allocator creates a new resource. It receives the pool context, which
	// is cancelled on Dispose.
	Allocator func(ctx context.Context) (T, error)
	// Destroy releases a resource. Errors are logged and swallowed.
	Destroy func(ctx context.Context, v T) error
	// Evict reports whether a resource must be destroyed instead of reused.
	Evict func(v T, md Metadata) bool
	// MaxSize bounds idle + leased + allocating resources
	MaxSize int
	// MaxPending bounds queued acquires; Unbounded (or any negative value)
	// disables the bound
	MaxPending int
	// Strategy picks the next idle resource
	Strategy Strategy
	// EvictionInterval runs a background eviction sweep when positive
	EvictionInterval time.Duration
	// Clock returns the current time; time.Now when nil
	Clock func() time.Time
	// Logger receives pool diagnostics; the global logger when nil
	Logger *zap.Logger
}

// Stats is a point in time snapshot of a pool.
type Stats struct {
	Acquired   int `json:"acquired"`
	Idle       int `json:"idle"`
	Pending    int `json:"pending"`
	Allocated  int `json:"allocated"`
	MaxSize    int `json:"max_size"`
	MaxPending int `json:"max_pending"`
}

type result[T any] struct {
	ref *Ref[T]
	err error
}

// waiter is one queued acquire. done flips exactly once, under the pool
// lock, when the waiter leaves the pending queue.
type waiter[T any] struct {
	ch    chan result[T]
	elem  *list.Element
	timer *time.Timer
	done  bool
}

// Pool is a bounded pool of T. It is safe for concurrent use.
type Pool[T any] struct {
	cfg    Config[T]
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	idle       []*Ref[T]
	leased     map[*Ref[T]]struct{}
	pending    *list.List
	allocating int
	closed     bool
}

// New creates a pool. No resource is allocated until the first Acquire.
func New[T any](cfg Config[T]) *Pool[T] {
	if cfg.MaxSize < 1 {
		cfg.MaxSize = 1
	}
	if cfg.MaxPending < 0 {
		cfg.MaxPending = Unbounded
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool[T]{
		cfg:     cfg,
		log:     logger.OrGlobal(cfg.Logger).With(zap.String("component", "pool"), zap.String("pool", cfg.Name)),
		ctx:     ctx,
		cancel:  cancel,
		leased:  make(map[*Ref[T]]struct{}),
		pending: list.New(),
	}

	if cfg.EvictionInterval > 0 {
		go p.evictLoop()
	}
	return p
}

// Acquire leases a resource, allocating one if the pool has room and queuing
// otherwise. pendingTimeout bounds the time spent queued; zero waits until
// ctx ends.
func (p *Pool[T]) Acquire(ctx context.Context, pendingTimeout time.Duration) (*Ref[T], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w := &waiter[T]{ch: make(chan result[T], 1)}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, p.closedErr()
	}
	w.elem = p.pending.PushBack(w)
	evicted := p.drainLocked()

	if !w.done {
		if p.cfg.MaxPending != Unbounded && p.pending.Len() > p.cfg.MaxPending {
			p.removeWaiterLocked(w)
			p.mu.Unlock()
			p.destroyAsync(evicted)
			return nil, poolerrors.Newf(poolerrors.ErrorTypePendingAcquireOverflow,
				"pending acquire queue has reached its maximum size of %d", p.cfg.MaxPending)
		}
		if pendingTimeout > 0 {
			w.timer = time.AfterFunc(pendingTimeout, func() { p.expire(w, pendingTimeout) })
		}
		p.log.Debug("acquire pending", zap.Int("pending", p.pending.Len()))
	}
	p.mu.Unlock()
	p.destroyAsync(evicted)

	select {
	case r := <-w.ch:
		return r.ref, r.err
	case <-ctx.Done():
	}

	p.mu.Lock()
	if !w.done {
		p.removeWaiterLocked(w)
		p.mu.Unlock()
		return nil, ctx.Err()
	}
	p.mu.Unlock()

	// Served concurrently with the cancellation; hand the lease back.
	go func() {
		if r := <-w.ch; r.ref != nil {
			r.ref.Release(context.Background())
		}
	}()
	return nil, ctx.Err()
}

func (p *Pool[T]) expire(w *waiter[T], timeout time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w.done {
		return
	}
	p.removeWaiterLocked(w)
	w.ch <- result[T]{err: poolerrors.Newf(poolerrors.ErrorTypePendingAcquireTimeout,
		"pool could not serve an acquire within %s", timeout)}
}

// drainLocked serves pending waiters in FIFO order while idle resources or
// free capacity remain. It returns idle resources found evictable on the way;
// the caller destroys them after unlocking.
func (p *Pool[T]) drainLocked() []*Ref[T] {
	var evicted []*Ref[T]
	for p.pending.Len() > 0 {
		w := p.pending.Front().Value.(*waiter[T])

		ref, ev := p.popIdleLocked()
		evicted = append(evicted, ev...)
		if ref != nil {
			p.removeWaiterLocked(w)
			p.leaseLocked(ref)
			w.ch <- result[T]{ref: ref}
			continue
		}

		if p.sizeLocked() < p.cfg.MaxSize {
			p.removeWaiterLocked(w)
			p.allocating++
			go p.allocate(w)
			continue
		}
		break
	}
	return evicted
}

func (p *Pool[T]) allocate(w *waiter[T]) {
	v, err := p.cfg.Allocator(p.ctx)

	p.mu.Lock()
	p.allocating--
	if err != nil {
		if p.closed {
			p.mu.Unlock()
			w.ch <- result[T]{err: p.closedErr()}
			return
		}
		evicted := p.drainLocked()
		p.mu.Unlock()
		p.destroyAsync(evicted)

		if !poolerrors.IsType(err, poolerrors.ErrorTypeAllocation) {
			err = poolerrors.Wrap(err, poolerrors.ErrorTypeAllocation, "failed to allocate a pooled resource")
		}
		p.log.Debug("allocation failed", zap.Error(err))
		w.ch <- result[T]{err: err}
		return
	}

	if p.closed {
		p.mu.Unlock()
		p.destroy(context.Background(), v)
		w.ch <- result[T]{err: p.closedErr()}
		return
	}

	now := p.cfg.Clock()
	ref := &Ref[T]{pool: p, value: v, createdAt: now, releasedAt: now}
	p.leaseLocked(ref)
	p.log.Debug("allocated",
		zap.Int("acquired", len(p.leased)),
		zap.Int("idle", len(p.idle)),
		zap.Int("allocating", p.allocating))
	p.mu.Unlock()

	w.ch <- result[T]{ref: ref}
}

// popIdleLocked takes the next idle resource according to the strategy,
// skipping and collecting evictable ones.
func (p *Pool[T]) popIdleLocked() (*Ref[T], []*Ref[T]) {
	var evicted []*Ref[T]
	for len(p.idle) > 0 {
		var ref *Ref[T]
		if p.cfg.Strategy == LIFO {
			ref = p.idle[len(p.idle)-1]
			p.idle[len(p.idle)-1] = nil
			p.idle = p.idle[:len(p.idle)-1]
		} else {
			ref = p.idle[0]
			p.idle[0] = nil
			p.idle = p.idle[1:]
		}

		if p.evictLocked(ref) {
			ref.state = refDestroyed
			evicted = append(evicted, ref)
			continue
		}
		return ref, evicted
	}
	return nil, evicted
}

func (p *Pool[T]) leaseLocked(ref *Ref[T]) {
	ref.state = refLeased
	ref.acquireCount++
	p.leased[ref] = struct{}{}
}

func (p *Pool[T]) removeWaiterLocked(w *waiter[T]) {
	w.done = true
	p.pending.Remove(w.elem)
	if w.timer != nil {
		w.timer.Stop()
	}
}

func (p *Pool[T]) sizeLocked() int {
	return len(p.idle) + len(p.leased) + p.allocating
}

func (p *Pool[T]) evictLocked(ref *Ref[T]) bool {
	if p.cfg.Evict == nil {
		return false
	}
	return p.cfg.Evict(ref.value, ref.metadataLocked(p.cfg.Clock()))
}

func (p *Pool[T]) release(ctx context.Context, ref *Ref[T]) {
	p.mu.Lock()
	if ref.state != refLeased {
		p.mu.Unlock()
		return
	}
	delete(p.leased, ref)
	ref.releasedAt = p.cfg.Clock()

	if closed := p.closed; closed || p.evictLocked(ref) {
		ref.state = refDestroyed
		evicted := p.drainLocked()
		p.mu.Unlock()
		p.log.Debug("destroying released resource", zap.Bool("closed", closed))
		p.destroyRefs(ctx, append(evicted, ref))
		return
	}

	ref.state = refIdle
	p.idle = append(p.idle, ref)
	evicted := p.drainLocked()
	p.mu.Unlock()
	p.destroyAsync(evicted)
}

func (p *Pool[T]) invalidate(ctx context.Context, ref *Ref[T]) {
	p.mu.Lock()
	switch ref.state {
	case refLeased:
		delete(p.leased, ref)
	case refIdle:
		for i, r := range p.idle {
			if r == ref {
				p.idle = append(p.idle[:i], p.idle[i+1:]...)
				break
			}
		}
	default:
		p.mu.Unlock()
		return
	}
	ref.state = refDestroyed
	evicted := p.drainLocked()
	p.mu.Unlock()

	p.destroyRefs(ctx, append(evicted, ref))
}

// Dispose closes the pool. Pending acquires fail with a pool closed error,
// idle resources are destroyed concurrently and leased ones are destroyed
// when they come back. Dispose is idempotent.
func (p *Pool[T]) Dispose(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for p.pending.Len() > 0 {
		w := p.pending.Front().Value.(*waiter[T])
		p.removeWaiterLocked(w)
		w.ch <- result[T]{err: p.closedErr()}
	}
	idle := p.idle
	p.idle = nil
	for _, r := range idle {
		r.state = refDestroyed
	}
	p.mu.Unlock()

	p.cancel()
	p.log.Debug("disposing pool", zap.Int("idle", len(idle)))

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range idle {
		r := r
		g.Go(func() error {
			p.destroy(gctx, r.value)
			return nil
		})
	}
	return g.Wait()
}

// IsDisposed reports whether Dispose has been called.
func (p *Pool[T]) IsDisposed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Name returns the configured pool name.
func (p *Pool[T]) Name() string {
	return p.cfg.Name
}

func (p *Pool[T]) destroyAsync(refs []*Ref[T]) {
	if len(refs) == 0 {
		return
	}
	go p.destroyRefs(context.Background(), refs)
}

func (p *Pool[T]) destroyRefs(ctx context.Context, refs []*Ref[T]) {
	for _, r := range refs {
		p.destroy(ctx, r.value)
	}
}

func (p *Pool[T]) destroy(ctx context.Context, v T) {
	if p.cfg.Destroy == nil {
		return
	}
	if err := p.cfg.Destroy(ctx, v); err != nil {
		p.log.Warn("failed to destroy pooled resource", zap.Error(err))
	}
}

func (p *Pool[T]) closedErr() error {
	return poolerrors.New(poolerrors.ErrorTypePoolClosed, "pool has been disposed").
		WithDetail("pool", p.cfg.Name)
}

// evictLoop periodically removes idle resources that fail the eviction
// predicate.
func (p *Pool[T]) evictLoop() {
	ticker := time.NewTicker(p.cfg.EvictionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.EvictIdle()
		case <-p.ctx.Done():
			return
		}
	}
}

// EvictIdle runs one eviction sweep over the idle resources and returns the
// number destroyed.
func (p *Pool[T]) EvictIdle() int {
	p.mu.Lock()
	remaining := p.idle[:0]
	var evicted []*Ref[T]
	for _, r := range p.idle {
		if p.evictLocked(r) {
			r.state = refDestroyed
			evicted = append(evicted, r)
			continue
		}
		remaining = append(remaining, r)
	}
	for i := len(remaining); i < len(p.idle); i++ {
		p.idle[i] = nil
	}
	p.idle = remaining
	evicted = append(evicted, p.drainLocked()...)
	p.mu.Unlock()

	if len(evicted) > 0 {
		p.log.Debug("idle resources cleaned", zap.Int("cleaned", len(evicted)), zap.Int("idle", len(remaining)))
		p.destroyRefs(context.Background(), evicted)
	}
	return len(evicted)
}

// AcquiredSize returns the number of leased resources.
func (p *Pool[T]) AcquiredSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.leased)
}

// IdleSize returns the number of idle resources.
func (p *Pool[T]) IdleSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// PendingSize returns the number of queued acquires.
func (p *Pool[T]) PendingSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending.Len()
}

// AllocatedSize returns idle + leased + in-flight allocations.
func (p *Pool[T]) AllocatedSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sizeLocked()
}

// MaxAllocatedSize returns the configured size bound.
func (p *Pool[T]) MaxAllocatedSize() int {
	return p.cfg.MaxSize
}

// MaxPendingSize returns the pending bound, Unbounded when disabled.
func (p *Pool[T]) MaxPendingSize() int {
	return p.cfg.MaxPending
}

// Stats returns a consistent snapshot of the pool sizes.
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Acquired:   len(p.leased),
		Idle:       len(p.idle),
		Pending:    p.pending.Len(),
		Allocated:  p.sizeLocked(),
		MaxSize:    p.cfg.MaxSize,
		MaxPending: p.cfg.MaxPending,
	}
}
