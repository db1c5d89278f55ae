package provider

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/netpool/pkg/config"
	"github.com/ajitpratap0/netpool/pkg/pool"
)

// unbounded marks an absent idle or life time bound.
const unbounded time.Duration = -1

// PoolFactory is an immutable snapshot of a pool specification.
type PoolFactory struct {
	maxConnections         int
	pendingAcquireMaxCount int
	pendingAcquireTimeout  time.Duration
	maxIdleTime            time.Duration
	maxLifeTime            time.Duration
	metricsEnabled         bool
	strategy               pool.Strategy
	evictionInterval       time.Duration
}

// NewPoolFactory snapshots spec. Absent idle and life times become unbounded.
func NewPoolFactory(spec config.PoolSpec) *PoolFactory {
	f := &PoolFactory{
		maxConnections:         spec.MaxConnections,
		pendingAcquireMaxCount: spec.PendingAcquireMax(),
		pendingAcquireTimeout:  spec.PendingAcquireTimeout,
		maxIdleTime:            unbounded,
		maxLifeTime:            unbounded,
		metricsEnabled:         spec.MetricsEnabled,
		strategy:               pool.ParseStrategy(spec.LeasingStrategy),
		evictionInterval:       spec.EvictionInterval,
	}
	if spec.MaxIdleTime != nil {
		f.maxIdleTime = *spec.MaxIdleTime
	}
	if spec.MaxLifeTime != nil {
		f.maxLifeTime = *spec.MaxLifeTime
	}
	return f
}

// MaxConnections returns the pool size bound.
func (f *PoolFactory) MaxConnections() int { return f.maxConnections }

// PendingAcquireMaxCount returns the pending bound, -1 when unbounded.
func (f *PoolFactory) PendingAcquireMaxCount() int { return f.pendingAcquireMaxCount }

// PendingAcquireTimeout returns the per-acquire pending timeout.
func (f *PoolFactory) PendingAcquireTimeout() time.Duration { return f.pendingAcquireTimeout }

// MaxIdleTime returns the idle bound, -1 when unbounded.
func (f *PoolFactory) MaxIdleTime() time.Duration { return f.maxIdleTime }

// MaxLifeTime returns the life bound, -1 when unbounded.
func (f *PoolFactory) MaxLifeTime() time.Duration { return f.maxLifeTime }

// MetricsEnabled reports whether pools register metrics.
func (f *PoolFactory) MetricsEnabled() bool { return f.metricsEnabled }

// Strategy returns the leasing strategy.
func (f *PoolFactory) Strategy() pool.Strategy { return f.strategy }

// String implements fmt.Stringer.
func (f *PoolFactory) String() string {
	return fmt.Sprintf("PoolFactory{evictionInterval=%s, leasingStrategy=%s, maxConnections=%d, "+
		"maxIdleTime=%s, maxLifeTime=%s, metricsEnabled=%t, pendingAcquireMaxCount=%d, pendingAcquireTimeout=%s}",
		f.evictionInterval, f.strategy, f.maxConnections, f.maxIdleTime, f.maxLifeTime,
		f.metricsEnabled, f.pendingAcquireMaxCount, f.pendingAcquireTimeout)
}

// evict reports whether a connection must not be reused.
func (f *PoolFactory) evict(pc *PooledConnection, md pool.Metadata) bool {
	return !pc.ch.Active() || !pc.IsPersistent() || f.expired(md)
}

func (f *PoolFactory) expired(md pool.Metadata) bool {
	return (f.maxIdleTime >= 0 && md.IdleTime >= f.maxIdleTime) ||
		(f.maxLifeTime >= 0 && md.LifeTime >= f.maxLifeTime)
}

func (f *PoolFactory) newPool(name string, alloc func(context.Context) (*PooledConnection, error),
	destroy func(context.Context, *PooledConnection) error, log *zap.Logger) *pool.Pool[*PooledConnection] {
	return pool.New(pool.Config[*PooledConnection]{
		Name:             name,
		Allocator:        alloc,
		Destroy:          destroy,
		Evict:            f.evict,
		MaxSize:          f.maxConnections,
		MaxPending:       f.pendingAcquireMaxCount,
		Strategy:         f.strategy,
		EvictionInterval: f.evictionInterval,
		Logger:           log,
	})
}

// destroyConnection closes the channel and waits for the close to complete.
func destroyConnection(ctx context.Context, pc *PooledConnection) error {
	ch := pc.ch
	if !ch.Active() {
		return nil
	}
	if err := ch.Close(); err != nil {
		return err
	}
	select {
	case <-ch.CloseFuture():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
