package provider

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/ajitpratap0/netpool/pkg/config"
	poolerrors "github.com/ajitpratap0/netpool/pkg/errors"
	"github.com/ajitpratap0/netpool/pkg/metrics"
	"github.com/ajitpratap0/netpool/pkg/testutil"
	"github.com/ajitpratap0/netpool/pkg/transport"
)

var (
	remoteA = &net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 8080}
	remoteB = &net.TCPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 8080}
)

func supply(addr net.Addr) func() net.Addr {
	return func() net.Addr { return addr }
}

type recordingObserver struct {
	mu     sync.Mutex
	events []string
}

func (o *recordingObserver) OnStateChange(_ transport.Connection, state transport.ConnectionState) {
	o.mu.Lock()
	o.events = append(o.events, state.String())
	o.mu.Unlock()
}

func (o *recordingObserver) OnUncaughtException(_ transport.Connection, err error) {
	o.mu.Lock()
	o.events = append(o.events, "error:"+err.Error())
	o.mu.Unlock()
}

func (o *recordingObserver) Events() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.events...)
}

func (o *recordingObserver) Reset() {
	o.mu.Lock()
	o.events = nil
	o.mu.Unlock()
}

// trackingConnector remembers every channel it opens so teardown can close
// them and wait for their close listeners.
type trackingConnector struct {
	transport.Connector

	mu       sync.Mutex
	channels []*transport.Channel
	// closeFresh closes each new channel before it is handed to the pool.
	closeFresh bool
}

func (c *trackingConnector) Connect(ctx context.Context, cfg *transport.Config, remote net.Addr,
	resolver transport.Resolver, init transport.ChannelInitializer) (*transport.Channel, error) {
	ch, err := c.Connector.Connect(ctx, cfg, remote, resolver, init)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.channels = append(c.channels, ch)
	closeFresh := c.closeFresh
	c.mu.Unlock()
	if closeFresh {
		_ = ch.Close()
	}
	return ch, nil
}

func (c *trackingConnector) CloseAll(ctx context.Context) error {
	c.mu.Lock()
	channels := append([]*transport.Channel(nil), c.channels...)
	c.mu.Unlock()
	for _, ch := range channels {
		_ = ch.Close()
		select {
		case <-ch.CloseFuture():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

type ProviderSuite struct {
	suite.Suite

	ctx       context.Context
	dialer    *testutil.PipeDialer
	group     *transport.EventLoopGroup
	connector *trackingConnector
	registrar *metrics.PrometheusRegistrar
	resolver  transport.Resolver
	cfg       *transport.Config
	providers []*Provider
}

func TestProviderSuite(t *testing.T) {
	suite.Run(t, new(ProviderSuite))
}

func (s *ProviderSuite) SetupTest() {
	t := s.T()
	s.ctx = testutil.TestContext(t)
	s.dialer = testutil.NewPipeDialer(testutil.EchoHandler)
	s.group = transport.NewEventLoopGroup(1, testutil.TestLogger(t))
	connector, err := transport.NewTCPConnector(s.group,
		transport.WithDialer(s.dialer),
		transport.WithConnectorLogger(testutil.TestLogger(t)))
	s.Require().NoError(err)
	s.connector = &trackingConnector{Connector: connector}
	s.registrar = metrics.NewPrometheusRegistrar(nil)
	s.resolver = transport.NewDefaultResolver()
	s.cfg = &transport.Config{}
	s.providers = nil
}

func (s *ProviderSuite) TearDownTest() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, p := range s.providers {
		_ = p.Dispose(ctx)
	}
	// Close listeners log through the test logger, so every channel must
	// finish closing on a live loop before the group shuts down.
	s.Require().NoError(s.connector.CloseAll(ctx))
	s.dialer.CloseAll()
	s.Require().NoError(s.group.Shutdown(ctx))
}

func (s *ProviderSuite) newProvider(mutate func(*config.ProviderConfig)) *Provider {
	cfg := config.DefaultProviderConfig("test")
	cfg.Pool.MaxConnections = 1
	cfg.Pool.PendingAcquireTimeout = 5 * time.Second
	if mutate != nil {
		mutate(cfg)
	}
	p, err := New(cfg, s.connector,
		WithLogger(testutil.TestLogger(s.T())),
		WithRegistrar(s.registrar))
	s.Require().NoError(err)
	s.providers = append(s.providers, p)
	return p
}

func (s *ProviderSuite) acquire(p *Provider, cfg *transport.Config, obs transport.ConnectionObserver, addr net.Addr) transport.Connection {
	conn, err := p.Acquire(s.ctx, cfg, obs, supply(addr), s.resolver)
	s.Require().NoError(err)
	s.Require().NotNil(conn)
	return conn
}

func (s *ProviderSuite) statsFor(p *Provider, addr net.Addr) PoolStats {
	for _, st := range p.Stats() {
		if st.Remote == transport.FormatAddr(addr) {
			return st
		}
	}
	s.FailNow("no pool for " + addr.String())
	return PoolStats{}
}

func (s *ProviderSuite) eventually(cond func() bool, msg string) {
	testutil.AssertEventually(s.T(), cond, 2*time.Second, msg)
}

func (s *ProviderSuite) releaseAndWait(p *Provider, conn transport.Connection, addr net.Addr, idle int) {
	conn.Release()
	s.eventually(func() bool { return s.statsFor(p, addr).Idle == idle }, "connection back in the pool")
}

func (s *ProviderSuite) TestReleasedConnectionIsReused() {
	p := s.newProvider(nil)
	obs := &recordingObserver{}

	first := s.acquire(p, s.cfg, obs, remoteA)
	s.Equal([]string{"[connected]"}, obs.Events())
	ch := first.Channel()

	s.releaseAndWait(p, first, remoteA, 1)
	s.eventually(func() bool {
		events := obs.Events()
		return len(events) == 2 && events[1] == "[released]"
	}, "release reported to the observer")

	obs.Reset()
	second := s.acquire(p, s.cfg, obs, remoteA)
	s.Same(ch, second.Channel())
	s.Equal(1, s.dialer.Dials())
	s.Equal([]string{"[acquired]"}, obs.Events())
}

func (s *ProviderSuite) TestOnTerminateFiresOnce() {
	p := s.newProvider(nil)
	conn := s.acquire(p, s.cfg, nil, remoteA)
	pc, ok := conn.(*PooledConnection)
	s.Require().True(ok)

	s.releaseAndWait(p, conn, remoteA, 1)
	select {
	case <-pc.OnTerminate():
	case <-time.After(time.Second):
		s.FailNow("terminate not signalled on release")
	}

	s.NotPanics(func() {
		_ = pc.Channel().Close()
		<-pc.Channel().CloseFuture()
	})
}

func (s *ProviderSuite) TestNonPersistentConnectionIsClosed() {
	p := s.newProvider(nil)
	conn := s.acquire(p, s.cfg, nil, remoteA)
	ch := conn.Channel()

	conn.MarkPersistent(false)
	conn.Release()
	<-ch.CloseFuture()
	s.eventually(func() bool { return s.statsFor(p, remoteA).Allocated == 0 }, "closed connection leaves the pool")

	next := s.acquire(p, s.cfg, nil, remoteA)
	s.NotSame(ch, next.Channel())
	s.Equal(2, s.dialer.Dials())
}

func (s *ProviderSuite) TestOperationsAreBoundPerLease() {
	p := s.newProvider(nil)
	cfg := &transport.Config{OnSetup: transport.DefaultOnSetup()}
	obs := &recordingObserver{}

	conn := s.acquire(p, cfg, obs, remoteA)
	ops, ok := conn.(*transport.Operations)
	s.Require().True(ok, "expected operations, got %T", conn)
	s.Equal([]string{"[connected]", "[configured]"}, obs.Events())

	s.Require().NoError(ops.Send("ping"))
	msg, err := ops.Receive(s.ctx)
	s.Require().NoError(err)
	s.Equal([]byte("ping"), msg)

	s.releaseAndWait(p, ops, remoteA, 1)

	obs.Reset()
	again := s.acquire(p, cfg, obs, remoteA)
	s.IsType(&transport.Operations{}, again)
	s.NotSame(ops, again)
	s.Same(ops.Channel(), again.Channel())
	s.Equal([]string{"[acquired]", "[configured]"}, obs.Events())
}

func (s *ProviderSuite) TestLeasingStrategy() {
	for _, strategy := range []string{config.LeasingFIFO, config.LeasingLIFO} {
		s.Run(strategy, func() {
			p := s.newProvider(func(c *config.ProviderConfig) {
				c.Pool.MaxConnections = 2
				c.Pool.LeasingStrategy = strategy
			})
			a := s.acquire(p, s.cfg, nil, remoteA)
			b := s.acquire(p, s.cfg, nil, remoteA)
			aCh, bCh := a.Channel(), b.Channel()

			s.releaseAndWait(p, a, remoteA, 1)
			s.releaseAndWait(p, b, remoteA, 2)

			next := s.acquire(p, s.cfg, nil, remoteA)
			if strategy == config.LeasingFIFO {
				s.Same(aCh, next.Channel())
			} else {
				s.Same(bCh, next.Channel())
			}
			s.Require().NoError(p.Dispose(s.ctx))
		})
	}
}

func (s *ProviderSuite) TestPendingAcquireOverflow() {
	p := s.newProvider(func(c *config.ProviderConfig) {
		c.Pool = c.Pool.WithPendingAcquireMaxCount(1)
	})
	held := s.acquire(p, s.cfg, nil, remoteA)

	waited := make(chan transport.Connection, 1)
	go func() {
		conn, err := p.Acquire(s.ctx, s.cfg, nil, supply(remoteA), s.resolver)
		if err == nil {
			waited <- conn
		}
	}()
	s.eventually(func() bool { return s.statsFor(p, remoteA).Pending == 1 }, "second acquire pending")

	_, err := p.Acquire(s.ctx, s.cfg, nil, supply(remoteA), s.resolver)
	s.Require().Error(err)
	s.True(errors.Is(err, poolerrors.ErrPendingAcquireOverflow))

	held.Release()
	select {
	case conn := <-waited:
		s.Same(held.Channel(), conn.Channel())
	case <-time.After(2 * time.Second):
		s.FailNow("pending acquire was not served")
	}
}

func (s *ProviderSuite) TestPendingAcquireTimeout() {
	p := s.newProvider(func(c *config.ProviderConfig) {
		c.Pool.PendingAcquireTimeout = 50 * time.Millisecond
	})
	s.acquire(p, s.cfg, nil, remoteA)

	start := time.Now()
	_, err := p.Acquire(s.ctx, s.cfg, nil, supply(remoteA), s.resolver)
	s.Require().Error(err)
	s.True(errors.Is(err, poolerrors.ErrPendingAcquireTimeout))
	s.GreaterOrEqual(time.Since(start), 50*time.Millisecond)
	s.Equal(0, s.statsFor(p, remoteA).Pending)
}

func (s *ProviderSuite) TestCancelledAcquireLeavesQueue() {
	p := s.newProvider(nil)
	s.acquire(p, s.cfg, nil, remoteA)

	ctx, cancel := context.WithTimeout(s.ctx, 50*time.Millisecond)
	defer cancel()
	_, err := p.Acquire(ctx, s.cfg, nil, supply(remoteA), s.resolver)
	s.ErrorIs(err, context.DeadlineExceeded)
	s.eventually(func() bool { return s.statsFor(p, remoteA).Pending == 0 }, "cancelled waiter removed")
}

func (s *ProviderSuite) TestStaleChannelIsRetriedOnce() {
	p := s.newProvider(nil)
	first := s.acquire(p, s.cfg, nil, remoteA)
	stale := first.Channel()
	s.releaseAndWait(p, first, remoteA, 1)

	// Hold the event loop so the lease is handed over only after the
	// channel has gone inactive.
	gate := make(chan struct{})
	stale.EventLoop().Execute(func() { <-gate })

	result := make(chan transport.Connection, 1)
	errc := make(chan error, 1)
	go func() {
		conn, err := p.Acquire(s.ctx, s.cfg, nil, supply(remoteA), s.resolver)
		if err != nil {
			errc <- err
			return
		}
		result <- conn
	}()
	s.eventually(func() bool { return s.statsFor(p, remoteA).Acquired == 1 }, "idle channel leased")

	s.Require().NoError(stale.Close())
	close(gate)

	select {
	case conn := <-result:
		s.NotSame(stale, conn.Channel())
		s.True(conn.Channel().Active())
	case err := <-errc:
		s.FailNow("acquire failed: " + err.Error())
	case <-time.After(3 * time.Second):
		s.FailNow("acquire did not complete")
	}
	s.Equal(2, s.dialer.Dials())
}

func (s *ProviderSuite) TestStaleRetryIsNotRepeated() {
	p := s.newProvider(nil)
	s.connector.mu.Lock()
	s.connector.closeFresh = true
	s.connector.mu.Unlock()

	_, err := p.Acquire(s.ctx, s.cfg, nil, supply(remoteA), s.resolver)
	s.Require().Error(err)
	s.True(errors.Is(err, poolerrors.ErrAcquireFailed), err.Error())
	s.Contains(err.Error(), "error while acquiring from")
	s.Equal(2, s.dialer.Dials(), "one dial for the lease and one for the retry")
	s.eventually(func() bool { return s.statsFor(p, remoteA).Allocated == 0 }, "stale channels invalidated")
}

func (s *ProviderSuite) TestErrorBeforeOwnerFailsAcquire() {
	p := s.newProvider(nil)
	boom := errors.New("boom")
	cfg := &transport.Config{
		OnSetup: transport.DefaultOnSetup(),
		Handlers: []transport.NamedHandler{{
			Name: "failing",
			New: func() transport.Handler {
				return transport.ChannelInitializerFunc(func(ch *transport.Channel) error {
					ch.Pipeline().FireExceptionCaught(boom)
					return nil
				})
			},
		}},
	}
	obs := &recordingObserver{}

	_, err := p.Acquire(s.ctx, cfg, obs, supply(remoteA), s.resolver)
	s.Require().Error(err)
	s.ErrorIs(err, boom)
	s.True(errors.Is(err, poolerrors.ErrChannel))

	s.eventually(func() bool { return len(obs.Events()) >= 3 }, "buffered events replayed")
	s.Equal([]string{"error:boom", "[connected]", "[configured]"}, obs.Events()[:3])

	// the undelivered channel is not reused
	s.eventually(func() bool { return s.statsFor(p, remoteA).Allocated == 0 }, "poisoned channel closed")
}

func (s *ProviderSuite) TestAllocationFailure() {
	p := s.newProvider(nil)
	s.dialer.FailNext(errors.New("connection refused"))

	_, err := p.Acquire(s.ctx, s.cfg, nil, supply(remoteA), s.resolver)
	s.Require().Error(err)
	s.True(errors.Is(err, poolerrors.ErrAllocationFailed))

	conn := s.acquire(p, s.cfg, nil, remoteA)
	s.True(conn.Channel().Active())
}

func (s *ProviderSuite) TestDisposeFailsPendingAcquires() {
	p := s.newProvider(func(c *config.ProviderConfig) {
		c.Pool = c.Pool.WithPendingAcquireMaxCount(config.PendingAcquireMaxCountUnbounded)
	})
	held := s.acquire(p, s.cfg, nil, remoteA)

	const waiters = 5
	errc := make(chan error, waiters)
	for i := 0; i < waiters; i++ {
		go func() {
			_, err := p.Acquire(s.ctx, s.cfg, nil, supply(remoteA), s.resolver)
			errc <- err
		}()
	}
	s.eventually(func() bool { return s.statsFor(p, remoteA).Pending == waiters }, "waiters queued")

	s.Require().NoError(p.Dispose(s.ctx))
	for i := 0; i < waiters; i++ {
		err := <-errc
		s.True(errors.Is(err, poolerrors.ErrPoolClosed), "got %v", err)
	}
	s.True(p.IsDisposed())

	held.Release()
	select {
	case <-held.Channel().CloseFuture():
	case <-time.After(2 * time.Second):
		s.FailNow("leased channel not destroyed after dispose")
	}
}

func (s *ProviderSuite) TestDisposeIsIdempotent() {
	p := s.newProvider(nil)
	conn := s.acquire(p, s.cfg, nil, remoteA)
	s.releaseAndWait(p, conn, remoteA, 1)
	s.False(p.IsDisposed())

	s.Require().NoError(p.Dispose(s.ctx))
	<-conn.Channel().CloseFuture()
	s.True(p.IsDisposed())
	s.Require().NoError(p.Dispose(s.ctx))
	s.Empty(p.Stats())
}

func (s *ProviderSuite) TestDisposeWhen() {
	p := s.newProvider(nil)
	for _, addr := range []net.Addr{remoteA, remoteB} {
		conn := s.acquire(p, s.cfg, nil, addr)
		s.releaseAndWait(p, conn, addr, 1)
	}
	s.Len(p.Stats(), 2)

	p.DisposeWhen(&net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 9090})
	s.Len(p.Stats(), 2, "different port keeps the pools")

	p.DisposeWhen(transport.UnresolvedAddr{Host: "10.0.0.1", Port: 8080})
	s.Require().Len(p.Stats(), 1)
	s.Equal(transport.FormatAddr(remoteB), p.Stats()[0].Remote)

	p.DisposeWhen(&net.TCPAddr{IP: net.IPv4zero, Port: 8080})
	s.Empty(p.Stats())
	s.True(p.IsDisposed())
}

func (s *ProviderSuite) TestMetricsRegistration() {
	p := s.newProvider(nil)
	s.acquire(p, s.cfg, nil, remoteA)
	s.Equal(0, s.registrar.Len())

	cfg := &transport.Config{MetricsEnabled: true, Handlers: []transport.NamedHandler{{
		Name: "noop",
		New:  func() transport.Handler { return struct{}{} },
	}}}
	s.acquire(p, cfg, nil, remoteA)
	s.Equal(1, s.registrar.Len())

	s.Require().NoError(p.Dispose(s.ctx))
	s.Equal(0, s.registrar.Len())
}

func (s *ProviderSuite) TestHostFactory() {
	p := s.newProvider(func(c *config.ProviderConfig) {
		c.Pool.MaxConnections = 4
		c.Hosts = map[string]config.PoolSpec{
			"10.0.0.2:8080": {MaxConnections: 2},
		}
	})
	s.acquire(p, s.cfg, nil, remoteA)
	s.acquire(p, s.cfg, nil, remoteB)

	s.Equal(4, s.statsFor(p, remoteA).MaxSize)
	s.Equal(2, s.statsFor(p, remoteB).MaxSize)
	s.Equal(4, s.statsFor(p, remoteB).MaxPending)
}

func (s *ProviderSuite) TestInvalidArguments() {
	p := s.newProvider(nil)
	cases := map[string]func() error{
		"nil config": func() error {
			_, err := p.Acquire(s.ctx, nil, nil, supply(remoteA), s.resolver)
			return err
		},
		"nil supplier": func() error {
			_, err := p.Acquire(s.ctx, s.cfg, nil, nil, s.resolver)
			return err
		},
		"nil resolver": func() error {
			_, err := p.Acquire(s.ctx, s.cfg, nil, supply(remoteA), nil)
			return err
		},
		"nil address": func() error {
			_, err := p.Acquire(s.ctx, s.cfg, nil, func() net.Addr { return nil }, s.resolver)
			return err
		},
	}
	for name, fn := range cases {
		s.Run(name, func() {
			err := fn()
			s.True(errors.Is(err, poolerrors.ErrInvalidArgument), "got %v", err)
		})
	}
	s.Empty(p.Stats())
}

func TestNewValidatesConfig(t *testing.T) {
	group := transport.NewEventLoopGroup(1, testutil.TestLogger(t))
	t.Cleanup(func() { _ = group.Shutdown(context.Background()) })
	connector, err := transport.NewTCPConnector(group)
	require.NoError(t, err)

	_, err = New(nil, connector)
	assert.True(t, errors.Is(err, poolerrors.ErrInvalidArgument))

	_, err = New(config.DefaultProviderConfig("x"), nil)
	assert.True(t, errors.Is(err, poolerrors.ErrInvalidArgument))

	bad := config.DefaultProviderConfig("x")
	bad.Pool.LeasingStrategy = "random"
	_, err = New(bad, connector)
	assert.True(t, poolerrors.IsType(err, poolerrors.ErrorTypeConfig))

	p, err := New(config.DefaultProviderConfig("x"), connector, WithRegistrar(metrics.NewPrometheusRegistrar(nil)))
	require.NoError(t, err)
	assert.Equal(t, "x", p.Name())
	assert.True(t, p.IsDisposed())
}
