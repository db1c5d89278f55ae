// Package config provides the configuration model for netpool providers.
// A ProviderConfig holds a default PoolSpec, optional per-destination
// overrides and the transport settings used to open channels.
//
// Example usage:
//
//	cfg := config.DefaultProviderConfig("http-client")
//	cfg.Pool.MaxConnections = 50
//	cfg.Pool.LeasingStrategy = config.LeasingLIFO
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"runtime"
	"time"

	poolerrors "github.com/ajitpratap0/netpool/pkg/errors"
)

const (
	// LeasingFIFO serves the oldest idle connection first
	LeasingFIFO = "fifo"
	// LeasingLIFO serves the most recently released connection first
	LeasingLIFO = "lifo"

	// PendingAcquireMaxCountUnbounded disables the pending acquire cap
	PendingAcquireMaxCountUnbounded = -1

	// DefaultPendingAcquireTimeout bounds how long an acquire may wait for capacity
	DefaultPendingAcquireTimeout = 45 * time.Second
	// DefaultConnectTimeout bounds how long the connector may take to dial
	DefaultConnectTimeout = 30 * time.Second
	// DefaultInboundBuffer is the per channel inbound message queue length
	DefaultInboundBuffer = 64
)

// ProviderConfig is the top level configuration of a connection provider.
type ProviderConfig struct {
	// Name identifies the provider in logs and metrics
	Name string `yaml:"name" json:"name"`
	// Pool is the default pool specification
	Pool PoolSpec `yaml:"pool" json:"pool"`
	// Hosts overrides the pool specification per remote address ("host:port")
	Hosts map[string]PoolSpec `yaml:"hosts" json:"hosts"`
	// Transport configures how new channels are opened
	Transport TransportSpec `yaml:"transport" json:"transport"`
}

// PoolSpec holds the sizing and lifecycle bounds of one pool.
type PoolSpec struct {
	// MaxConnections is the maximum number of connections per pool key
	MaxConnections int `yaml:"max_connections" json:"max_connections"`
	// PendingAcquireMaxCount caps queued acquires. Absent means 2*MaxConnections,
	// -1 means unbounded.
	PendingAcquireMaxCount *int `yaml:"pending_acquire_max_count" json:"pending_acquire_max_count,omitempty"`
	// PendingAcquireTimeout is how long a queued acquire may wait. Zero waits
	// until the caller's context ends.
	PendingAcquireTimeout time.Duration `yaml:"pending_acquire_timeout" json:"pending_acquire_timeout"`
	// MaxIdleTime evicts connections idle for at least this long. Absent means
	// unbounded, zero evicts on every release.
	MaxIdleTime *time.Duration `yaml:"max_idle_time" json:"max_idle_time,omitempty"`
	// MaxLifeTime evicts connections at least this old. Absent means unbounded.
	MaxLifeTime *time.Duration `yaml:"max_life_time" json:"max_life_time,omitempty"`
	// EvictionInterval enables periodic background eviction of idle connections
	EvictionInterval time.Duration `yaml:"eviction_interval" json:"eviction_interval"`
	// MetricsEnabled registers per pool gauges
	MetricsEnabled bool `yaml:"metrics_enabled" json:"metrics_enabled"`
	// LeasingStrategy is "fifo" or "lifo"
	LeasingStrategy string `yaml:"leasing_strategy" json:"leasing_strategy"`
}

// TransportSpec configures the TCP connector.
type TransportSpec struct {
	// ConnectTimeout bounds dialing a new connection
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
	// EventLoops is the number of I/O executors shared by all channels
	EventLoops int `yaml:"event_loops" json:"event_loops"`
	// InboundBuffer is the per channel queue of decoded inbound messages
	InboundBuffer int `yaml:"inbound_buffer" json:"inbound_buffer"`
	// ProxyAddress routes connections through a SOCKS5 proxy when set
	ProxyAddress string `yaml:"proxy_address" json:"proxy_address"`
	// ProxyUsername and ProxyPassword authenticate against the proxy
	ProxyUsername string `yaml:"proxy_username" json:"proxy_username"`
	ProxyPassword string `yaml:"proxy_password" json:"-"`
}

// DefaultMaxConnections mirrors the usual sizing rule: twice the available
// processors, never fewer than 16.
func DefaultMaxConnections() int {
	n := 2 * runtime.GOMAXPROCS(0)
	if n < 16 {
		n = 16
	}
	return n
}

// DefaultPoolSpec returns a PoolSpec with production defaults.
func DefaultPoolSpec() PoolSpec {
	return PoolSpec{
		MaxConnections:        DefaultMaxConnections(),
		PendingAcquireTimeout: DefaultPendingAcquireTimeout,
		LeasingStrategy:       LeasingFIFO,
	}
}

// DefaultTransportSpec returns the default connector settings.
func DefaultTransportSpec() TransportSpec {
	return TransportSpec{
		ConnectTimeout: DefaultConnectTimeout,
		EventLoops:     runtime.GOMAXPROCS(0),
		InboundBuffer:  DefaultInboundBuffer,
	}
}

// DefaultProviderConfig creates a ProviderConfig with sensible defaults.
func DefaultProviderConfig(name string) *ProviderConfig {
	return &ProviderConfig{
		Name:      name,
		Pool:      DefaultPoolSpec(),
		Hosts:     make(map[string]PoolSpec),
		Transport: DefaultTransportSpec(),
	}
}

// ApplyDefaults fills zero values left by a partial YAML document.
func (c *ProviderConfig) ApplyDefaults() {
	c.Pool.applyDefaults()
	for host, spec := range c.Hosts {
		spec.applyDefaults()
		c.Hosts[host] = spec
	}
	if c.Transport.ConnectTimeout == 0 {
		c.Transport.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Transport.EventLoops <= 0 {
		c.Transport.EventLoops = runtime.GOMAXPROCS(0)
	}
	if c.Transport.InboundBuffer <= 0 {
		c.Transport.InboundBuffer = DefaultInboundBuffer
	}
}

func (s *PoolSpec) applyDefaults() {
	if s.MaxConnections == 0 {
		s.MaxConnections = DefaultMaxConnections()
	}
	if s.LeasingStrategy == "" {
		s.LeasingStrategy = LeasingFIFO
	}
}

// Validate validates the configuration for correctness.
func (c *ProviderConfig) Validate() error {
	if c.Name == "" {
		return poolerrors.New(poolerrors.ErrorTypeConfig, "name is required")
	}
	if err := c.Pool.Validate(); err != nil {
		return poolerrors.Wrap(err, poolerrors.ErrorTypeConfig, "invalid default pool")
	}
	for host, spec := range c.Hosts {
		if err := spec.Validate(); err != nil {
			return poolerrors.Wrap(err, poolerrors.ErrorTypeConfig, "invalid pool for host").
				WithDetail("host", host)
		}
	}
	if c.Transport.ConnectTimeout < 0 {
		return poolerrors.New(poolerrors.ErrorTypeConfig, "connect_timeout cannot be negative")
	}
	return nil
}

// Validate checks the pool bounds.
func (s *PoolSpec) Validate() error {
	if s.MaxConnections < 1 {
		return poolerrors.New(poolerrors.ErrorTypeConfig, "max_connections must be at least 1").
			WithDetail("value", s.MaxConnections)
	}
	if s.PendingAcquireMaxCount != nil && *s.PendingAcquireMaxCount < PendingAcquireMaxCountUnbounded {
		return poolerrors.New(poolerrors.ErrorTypeConfig, "pending_acquire_max_count must be -1 or greater").
			WithDetail("value", *s.PendingAcquireMaxCount)
	}
	if s.PendingAcquireTimeout < 0 {
		return poolerrors.New(poolerrors.ErrorTypeConfig, "pending_acquire_timeout cannot be negative")
	}
	if negative(s.MaxIdleTime) || negative(s.MaxLifeTime) || s.EvictionInterval < 0 {
		return poolerrors.New(poolerrors.ErrorTypeConfig, "durations cannot be negative")
	}
	switch s.LeasingStrategy {
	case LeasingFIFO, LeasingLIFO:
	default:
		return poolerrors.New(poolerrors.ErrorTypeConfig, "leasing_strategy must be fifo or lifo").
			WithDetail("value", s.LeasingStrategy)
	}
	return nil
}

// PendingAcquireMax resolves the effective pending acquire cap.
func (s PoolSpec) PendingAcquireMax() int {
	if s.PendingAcquireMaxCount == nil {
		return 2 * s.MaxConnections
	}
	return *s.PendingAcquireMaxCount
}

// WithPendingAcquireMaxCount sets an explicit pending acquire cap.
func (s PoolSpec) WithPendingAcquireMaxCount(n int) PoolSpec {
	s.PendingAcquireMaxCount = &n
	return s
}

// WithMaxIdleTime sets an explicit idle time bound.
func (s PoolSpec) WithMaxIdleTime(d time.Duration) PoolSpec {
	s.MaxIdleTime = &d
	return s
}

// WithMaxLifeTime sets an explicit life time bound.
func (s PoolSpec) WithMaxLifeTime(d time.Duration) PoolSpec {
	s.MaxLifeTime = &d
	return s
}

func negative(d *time.Duration) bool {
	return d != nil && *d < 0
}
