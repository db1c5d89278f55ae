// Package netpool keeps pools of reusable TCP connections, one pool per
// destination and channel pipeline.
//
// A caller asks a Provider for a connection to an address. The provider
// leases an idle channel from the matching pool, opens a new one when the
// pool has room, or queues the caller until a channel comes back. Released
// channels return to their pool unless they were marked non-persistent,
// closed, or exceeded their idle or life time.
//
// # Architecture
//
// The module is organized in layers:
//
// 1. Transport: event loops, channels over net.Conn, named handler
// pipelines and a TCP connector with optional SOCKS5 dialing.
//
// 2. Pool: a generic bounded pool with FIFO or LIFO leasing, a FIFO queue of
// pending acquires with per-acquire timeouts, eviction and disposal.
//
// 3. Provider: the registry of pools keyed by destination and pipeline, the
// per-lease ownership of channels and the delivery of connections to callers.
//
// # Quick Start
//
//	group := transport.NewEventLoopGroup(4, logger.Get())
//	connector, _ := transport.NewTCPConnector(group)
//	p, _ := provider.New(config.DefaultProviderConfig("api"), connector)
//
//	remote := transport.UnresolvedAddr{Host: "api.internal", Port: 7000}
//	conn, err := p.Acquire(ctx, &transport.Config{OnSetup: transport.DefaultOnSetup()},
//	    nil, func() net.Addr { return remote }, transport.NewDefaultResolver())
//	if err != nil {
//	    return err
//	}
//	defer conn.Release()
//
// # Key Packages
//
//	pkg/provider      - Connection provider and pooled connections
//	pkg/pool          - Generic bounded resource pool
//	pkg/transport     - Event loops, channels, pipelines and connectors
//	pkg/config        - Provider configuration and YAML loading
//	pkg/errors        - Structured error handling
//	pkg/logger        - Structured logging
//	pkg/metrics       - Prometheus pool gauges and acquire counters
//	pkg/observability - Acquire tracing
//
// # Configuration
//
// Providers are configured with a default pool specification and optional
// per-host overrides:
//
//	name: api
//	pool:
//	  max_connections: 32
//	  pending_acquire_timeout: 45s
//	  max_idle_time: 30s
//	  leasing_strategy: lifo
//	hosts:
//	  "10.0.0.5:7000":
//	    max_connections: 4
//
// Environment variables are supported with ${VAR_NAME} syntax.
//
// # Command line
//
//	netpool echo --listen 127.0.0.1:7000
//	netpool probe --addr 127.0.0.1:7000 --concurrency 32 --iterations 1000 --json
package netpool
