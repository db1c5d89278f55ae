package transport

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/proxy"

	poolerrors "github.com/ajitpratap0/netpool/pkg/errors"
	"github.com/ajitpratap0/netpool/pkg/logger"
)

// InitializerName is the pipeline name under which Connect installs the
// caller's initializer.
const InitializerName = "netpool.initializer"

// Connector opens channels.
type Connector interface {
	// Connect dials remote, resolving it first when needed, binds the new
	// channel to an event loop and runs init on it. The returned channel is
	// registered and active.
	Connect(ctx context.Context, cfg *Config, remote net.Addr, resolver Resolver, init ChannelInitializer) (*Channel, error)
}

// Dialer opens raw connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// ConnectorOption configures a TCPConnector.
type ConnectorOption func(*TCPConnector) error

// WithDialer replaces the default net.Dialer.
func WithDialer(d Dialer) ConnectorOption {
	return func(c *TCPConnector) error {
		c.dialer = d
		return nil
	}
}

// WithSOCKS5 routes connections through the SOCKS5 proxy at addr. auth may
// be nil. Apply it after WithDialer to proxy through a custom dialer.
func WithSOCKS5(addr string, auth *proxy.Auth) ConnectorOption {
	return func(c *TCPConnector) error {
		d, err := proxy.SOCKS5("tcp", addr, auth, forwardDialer{c.dialer})
		if err != nil {
			return poolerrors.Wrap(err, poolerrors.ErrorTypeConfig, "invalid SOCKS5 proxy").WithDetail("proxy", addr)
		}
		cd, ok := d.(proxy.ContextDialer)
		if !ok {
			return poolerrors.New(poolerrors.ErrorTypeConfig, "SOCKS5 dialer does not support contexts")
		}
		c.dialer = cd
		c.proxy = addr
		return nil
	}
}

// WithConnectorLogger sets the logger.
func WithConnectorLogger(l *zap.Logger) ConnectorOption {
	return func(c *TCPConnector) error {
		c.log = l
		return nil
	}
}

// forwardDialer lets a Dialer serve as the proxy's upstream.
type forwardDialer struct{ Dialer }

func (f forwardDialer) Dial(network, address string) (net.Conn, error) {
	return f.DialContext(context.Background(), network, address)
}

// TCPConnector dials TCP connections and binds them to loops of a group.
type TCPConnector struct {
	group  *EventLoopGroup
	dialer Dialer
	proxy  string
	log    *zap.Logger
}

// NewTCPConnector creates a connector over group.
func NewTCPConnector(group *EventLoopGroup, opts ...ConnectorOption) (*TCPConnector, error) {
	c := &TCPConnector{
		group:  group,
		dialer: &net.Dialer{KeepAlive: 30 * time.Second},
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	c.log = logger.OrGlobal(c.log).With(zap.String("component", "connector"))
	return c, nil
}

// Group returns the event loop group channels are bound to.
func (c *TCPConnector) Group() *EventLoopGroup {
	return c.group
}

// Connect implements Connector.
func (c *TCPConnector) Connect(ctx context.Context, cfg *Config, remote net.Addr, resolver Resolver, init ChannelInitializer) (*Channel, error) {
	if cfg != nil && cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	target := remote
	// A proxy resolves names itself.
	if resolver != nil && c.proxy == "" {
		resolved, err := resolver.Resolve(ctx, remote)
		if err != nil {
			return nil, err
		}
		target = resolved
	}

	conn, err := c.dialer.DialContext(ctx, target.Network(), target.String())
	if err != nil {
		return nil, poolerrors.Wrap(err, poolerrors.ErrorTypeConnection, "failed to connect").
			WithDetail("remote", FormatAddr(remote))
	}

	inbound := 0
	if cfg != nil {
		inbound = cfg.InboundBuffer
	}
	ch := NewChannel(conn, c.group.Next(), remote, inbound, c.log)
	if init != nil {
		if err := ch.Pipeline().AddLast(InitializerName, init); err != nil {
			_ = ch.Close()
			return nil, err
		}
	}

	errc := make(chan error, 1)
	ch.EventLoop().Execute(func() { errc <- ch.register() })
	select {
	case err = <-errc:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		_ = ch.Close()
		return nil, err
	}

	ch.startReading()
	c.log.Debug("channel connected",
		zap.String("channel_id", ch.ID().String()),
		zap.String("remote", FormatAddr(remote)),
		zap.Int("event_loop", ch.EventLoop().ID()))
	return ch, nil
}
