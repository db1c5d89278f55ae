package provider

import (
	"context"
	"net"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/netpool/pkg/config"
	poolerrors "github.com/ajitpratap0/netpool/pkg/errors"
	"github.com/ajitpratap0/netpool/pkg/logger"
	"github.com/ajitpratap0/netpool/pkg/metrics"
	"github.com/ajitpratap0/netpool/pkg/observability"
	"github.com/ajitpratap0/netpool/pkg/pool"
	"github.com/ajitpratap0/netpool/pkg/transport"
)

// Provider hands out pooled connections, one pool per destination and
// pipeline.
type Provider struct {
	name           string
	connector      transport.Connector
	defaultFactory *PoolFactory
	hostFactories  map[string]*PoolFactory
	registrar      metrics.Registrar
	log            *zap.Logger

	mu    sync.RWMutex
	pools map[PoolKey]*poolEntry
}

type poolEntry struct {
	key        PoolKey
	holder     net.Addr
	remote     string
	factory    *PoolFactory
	pool       *pool.Pool[*PooledConnection]
	registered bool
}

// PoolStats is a point in time view of one pool.
type PoolStats struct {
	Key    string `json:"key"`
	Remote string `json:"remote"`
	pool.Stats
}

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the provider logger. The global logger is used otherwise.
func WithLogger(l *zap.Logger) Option {
	return func(p *Provider) { p.log = l }
}

// WithRegistrar sets where pool gauges are registered. Defaults to the
// process wide Prometheus registrar.
func WithRegistrar(r metrics.Registrar) Option {
	return func(p *Provider) { p.registrar = r }
}

// New creates a provider from cfg. cfg is defaulted and validated.
func New(cfg *config.ProviderConfig, connector transport.Connector, opts ...Option) (*Provider, error) {
	if cfg == nil {
		return nil, poolerrors.New(poolerrors.ErrorTypeValidation, "provider config is nil")
	}
	if connector == nil {
		return nil, poolerrors.New(poolerrors.ErrorTypeValidation, "connector is nil")
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Provider{
		name:           cfg.Name,
		connector:      connector,
		defaultFactory: NewPoolFactory(cfg.Pool),
		hostFactories:  make(map[string]*PoolFactory, len(cfg.Hosts)),
		pools:          make(map[PoolKey]*poolEntry),
	}
	for host, spec := range cfg.Hosts {
		p.hostFactories[host] = NewPoolFactory(spec)
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = logger.OrGlobal(p.log).With(zap.String("provider", p.name))
	if p.registrar == nil {
		p.registrar = metrics.DefaultRegistrar()
	}
	return p, nil
}

// Name returns the provider name.
func (p *Provider) Name() string { return p.name }

// Acquire leases a connection to the address returned by remote, set up
// according to cfg. Lifecycle events of the lease are reported to obs.
func (p *Provider) Acquire(ctx context.Context, cfg *transport.Config, obs transport.ConnectionObserver,
	remote func() net.Addr, resolver transport.Resolver) (conn transport.Connection, err error) {
	if cfg == nil {
		return nil, poolerrors.New(poolerrors.ErrorTypeValidation, "transport config is nil")
	}
	if remote == nil {
		return nil, poolerrors.New(poolerrors.ErrorTypeValidation, "remote address supplier is nil")
	}
	if resolver == nil {
		return nil, poolerrors.New(poolerrors.ErrorTypeValidation, "resolver is nil")
	}
	holder := remote()
	if holder == nil {
		return nil, poolerrors.New(poolerrors.ErrorTypeValidation, "remote address supplier returned nil")
	}
	if obs == nil {
		obs = transport.EmptyListener()
	}

	entry := p.poolFor(cfg, holder, resolver)

	timer := metrics.NewTimer("acquire")
	ctx, span := observability.StartAcquire(ctx, p.name, entry.remote, entry.key.Hash())
	defer func() {
		d := timer.Stop()
		metrics.ObserveAcquire(p.name, d, err)
		observability.RecordAcquire(ctx, p.name, metrics.Outcome(err), d)
		span.Finish(err)
	}()

	sink := newAcquireSink()
	task := &acquireTask{
		pool:           entry.pool,
		cfg:            cfg,
		obs:            obs,
		sink:           sink,
		pendingTimeout: entry.factory.PendingAcquireTimeout(),
		span:           span,
		log:            p.log.With(zap.String("pool", entry.key.String())),
	}
	go task.run(ctx)

	select {
	case <-sink.done:
	case <-ctx.Done():
		if sink.fail(ctx.Err()) {
			return nil, ctx.Err()
		}
	}
	return sink.result()
}

func (p *Provider) poolFor(cfg *transport.Config, holder net.Addr, resolver transport.Resolver) *poolEntry {
	key := NewPoolKey(holder, cfg.PipelineHash())

	p.mu.RLock()
	entry, ok := p.pools[key]
	p.mu.RUnlock()
	if ok {
		return entry
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if entry, ok := p.pools[key]; ok {
		return entry
	}

	factory := p.factoryFor(holder)
	entry = &poolEntry{
		key:     key,
		holder:  holder,
		remote:  transport.FormatAddr(holder),
		factory: factory,
	}
	log := p.log.With(zap.String("pool", key.String()))
	alloc := newAllocator(p.name, cfg, p.connector, holder, resolver, factory, key.String(), log)
	entry.pool = alloc.pool

	log.Debug("creating a new pool", zap.Stringer("factory", factory))
	if cfg.MetricsEnabled || factory.MetricsEnabled() {
		p.registrar.Register(p.name, key.Hash(), entry.remote, entry.pool)
		entry.registered = true
	}
	p.pools[key] = entry
	return entry
}

func (p *Provider) factoryFor(holder net.Addr) *PoolFactory {
	if f, ok := p.hostFactories[transport.FormatAddr(holder)]; ok {
		return f
	}
	if f, ok := p.hostFactories[holder.String()]; ok {
		return f
	}
	return p.defaultFactory
}

// DisposeWhen disposes every pool whose destination is equivalent to addr.
func (p *Provider) DisposeWhen(addr net.Addr) {
	if addr == nil {
		return
	}

	var removed []*poolEntry
	p.mu.Lock()
	for key, entry := range p.pools {
		if sameDestination(entry.holder, addr) {
			delete(p.pools, key)
			removed = append(removed, entry)
		}
	}
	p.mu.Unlock()

	for _, entry := range removed {
		p.log.Debug("disposing pool", zap.String("pool", entry.key.String()))
		if err := p.disposeEntry(context.Background(), entry); err != nil {
			p.log.Warn("failed to dispose pool", zap.String("pool", entry.key.String()), zap.Error(err))
		}
	}
}

// Dispose drains the registry and disposes every pool concurrently. It
// returns once all pools are disposed. Calling it again is a no-op.
func (p *Provider) Dispose(ctx context.Context) error {
	p.mu.Lock()
	pools := p.pools
	p.pools = make(map[PoolKey]*poolEntry)
	p.mu.Unlock()

	if len(pools) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, entry := range pools {
		entry := entry
		g.Go(func() error { return p.disposeEntry(gctx, entry) })
	}
	err := g.Wait()
	p.log.Info("provider disposed", zap.Int("pools", len(pools)), zap.Error(err))
	return err
}

func (p *Provider) disposeEntry(ctx context.Context, entry *poolEntry) error {
	if entry.registered {
		p.registrar.Deregister(p.name, entry.key.Hash(), entry.remote)
	}
	return entry.pool.Dispose(ctx)
}

// IsDisposed reports whether the registry is empty or every pool in it is
// disposed.
func (p *Provider) IsDisposed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, entry := range p.pools {
		if !entry.pool.IsDisposed() {
			return false
		}
	}
	return true
}

// Stats returns a snapshot of every registered pool.
func (p *Provider) Stats() []PoolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	stats := make([]PoolStats, 0, len(p.pools))
	for _, entry := range p.pools {
		stats = append(stats, PoolStats{
			Key:    entry.key.String(),
			Remote: entry.remote,
			Stats:  entry.pool.Stats(),
		})
	}
	return stats
}
