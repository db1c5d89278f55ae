package provider

import (
	"context"
	"net"

	"go.uber.org/zap"

	poolerrors "github.com/ajitpratap0/netpool/pkg/errors"
	"github.com/ajitpratap0/netpool/pkg/metrics"
	"github.com/ajitpratap0/netpool/pkg/pool"
	"github.com/ajitpratap0/netpool/pkg/transport"
)

// pooledInitializerName is the pipeline name of the transport config's
// initializer installed on pooled channels.
const pooledInitializerName = "netpool.pooled"

// allocator opens the channels of one pool.
type allocator struct {
	providerName string
	cfg          *transport.Config
	connector    transport.Connector
	remote       net.Addr
	resolver     transport.Resolver
	log          *zap.Logger

	pool *pool.Pool[*PooledConnection]
}

func newAllocator(providerName string, cfg *transport.Config, connector transport.Connector,
	remote net.Addr, resolver transport.Resolver, factory *PoolFactory, name string, log *zap.Logger) *allocator {
	a := &allocator{
		providerName: providerName,
		cfg:          cfg,
		connector:    connector,
		remote:       remote,
		resolver:     resolver,
		log:          log,
	}
	a.pool = factory.newPool(name, a.connectChannel, a.destroy, log)
	return a
}

// connectChannel opens one channel and returns its PooledConnection.
func (a *allocator) connectChannel(ctx context.Context) (*PooledConnection, error) {
	initializer := &pooledConnectionInitializer{a: a}
	if _, err := a.connector.Connect(ctx, a.cfg, a.remote, a.resolver, initializer); err != nil {
		return nil, poolerrors.Wrap(err, poolerrors.ErrorTypeAllocation, "failed to open a pooled channel").
			WithDetail("remote", transport.FormatAddr(a.remote))
	}
	metrics.ConnectionsCreated.WithLabelValues(a.providerName).Inc()
	return initializer.pc, nil
}

func (a *allocator) destroy(ctx context.Context, pc *PooledConnection) error {
	metrics.ConnectionsClosed.WithLabelValues(a.providerName).Inc()
	return destroyConnection(ctx, pc)
}

// pooledConnectionInitializer runs once per new channel on its event loop.
// It binds a PooledConnection to the channel and installs the transport
// config's pipeline in front of itself.
type pooledConnectionInitializer struct {
	a  *allocator
	pc *PooledConnection
}

func (i *pooledConnectionInitializer) InitChannel(ch *transport.Channel) error {
	a := i.a
	a.log.Debug("created a new pooled channel",
		zap.String("channel", ch.String()),
		zap.Int("active", a.pool.AcquiredSize()),
		zap.Int("inactive", a.pool.IdleSize()))

	pc := newPooledConnection(ch, a.pool, a.log)
	i.pc = pc
	pc.bind()

	return ch.Pipeline().AddFirst(pooledInitializerName, a.cfg.ChannelInitializer(pc, a.remote))
}
