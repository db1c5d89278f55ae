// Package metrics provides Prometheus instrumentation for netpool.
//
// # Overview
//
// The metrics package provides:
//   - A Registrar that exposes per pool gauges keyed by provider, pool id and remote address
//   - Acquire outcome counters and a latency histogram
//   - A Timer helper for measuring operation durations
//
// # Basic Usage
//
//	reg := metrics.NewPrometheusRegistrar(prometheus.DefaultRegisterer)
//	reg.Register("backend", key.Hash(), "10.0.0.1:5432", pool)
//	defer reg.Deregister("backend", key.Hash(), "10.0.0.1:5432")
//
//	timer := metrics.NewTimer("acquire")
//	conn, err := provider.Acquire(ctx, cfg, obs, remote, resolver)
//	metrics.ObserveAcquire("backend", timer.Stop(), err)
package metrics

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	poolerrors "github.com/ajitpratap0/netpool/pkg/errors"
)

// PoolMetrics is the read side of a pool exposed to a Registrar.
type PoolMetrics interface {
	AcquiredSize() int
	IdleSize() int
	PendingSize() int
	AllocatedSize() int
	MaxAllocatedSize() int
	MaxPendingSize() int
}

// Registrar receives pool metrics when a pool is created and drops them when
// it is disposed.
type Registrar interface {
	Register(providerName string, id uint32, remote string, m PoolMetrics)
	Deregister(providerName string, id uint32, remote string)
}

type poolLabels struct {
	provider string
	id       uint32
	remote   string
}

var poolLabelNames = []string{"provider", "id", "remote"}

// PrometheusRegistrar is a prometheus.Collector reporting every registered
// pool. It is registered once; pools come and go through Register and
// Deregister.
type PrometheusRegistrar struct {
	mu    sync.RWMutex
	pools map[poolLabels]PoolMetrics

	acquired  *prometheus.Desc
	idle      *prometheus.Desc
	pending   *prometheus.Desc
	allocated *prometheus.Desc
	maxConns  *prometheus.Desc
	maxPend   *prometheus.Desc
}

// NewPrometheusRegistrar creates a registrar and registers it with reg. A nil
// reg leaves registration to the caller.
func NewPrometheusRegistrar(reg prometheus.Registerer) *PrometheusRegistrar {
	r := &PrometheusRegistrar{
		pools: make(map[poolLabels]PoolMetrics),
		acquired: prometheus.NewDesc("netpool_pool_acquired_connections",
			"Number of connections currently leased from the pool", poolLabelNames, nil),
		idle: prometheus.NewDesc("netpool_pool_idle_connections",
			"Number of idle connections held by the pool", poolLabelNames, nil),
		pending: prometheus.NewDesc("netpool_pool_pending_acquires",
			"Number of acquires waiting for a connection", poolLabelNames, nil),
		allocated: prometheus.NewDesc("netpool_pool_allocated_connections",
			"Number of connections allocated by the pool, including in-flight allocations", poolLabelNames, nil),
		maxConns: prometheus.NewDesc("netpool_pool_max_connections",
			"Maximum number of connections the pool may allocate", poolLabelNames, nil),
		maxPend: prometheus.NewDesc("netpool_pool_max_pending_acquires",
			"Maximum number of pending acquires, -1 when unbounded", poolLabelNames, nil),
	}
	if reg != nil {
		reg.MustRegister(r)
	}
	return r
}

var (
	defaultRegistrar     *PrometheusRegistrar
	defaultRegistrarOnce sync.Once
)

// DefaultRegistrar returns a process-wide registrar registered with
// prometheus.DefaultRegisterer on first use.
func DefaultRegistrar() *PrometheusRegistrar {
	defaultRegistrarOnce.Do(func() {
		defaultRegistrar = NewPrometheusRegistrar(prometheus.DefaultRegisterer)
	})
	return defaultRegistrar
}

// Register implements Registrar. Registering the same labels twice replaces
// the earlier source.
func (r *PrometheusRegistrar) Register(providerName string, id uint32, remote string, m PoolMetrics) {
	r.mu.Lock()
	r.pools[poolLabels{providerName, id, remote}] = m
	r.mu.Unlock()
}

// Deregister implements Registrar.
func (r *PrometheusRegistrar) Deregister(providerName string, id uint32, remote string) {
	r.mu.Lock()
	delete(r.pools, poolLabels{providerName, id, remote})
	r.mu.Unlock()
}

// Len returns the number of registered pools.
func (r *PrometheusRegistrar) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pools)
}

// Describe implements prometheus.Collector.
func (r *PrometheusRegistrar) Describe(ch chan<- *prometheus.Desc) {
	ch <- r.acquired
	ch <- r.idle
	ch <- r.pending
	ch <- r.allocated
	ch <- r.maxConns
	ch <- r.maxPend
}

// Collect implements prometheus.Collector.
func (r *PrometheusRegistrar) Collect(ch chan<- prometheus.Metric) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for l, m := range r.pools {
		labels := []string{l.provider, strconv.FormatUint(uint64(l.id), 10), l.remote}
		gauge := func(d *prometheus.Desc, v int) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, float64(v), labels...)
		}
		gauge(r.acquired, m.AcquiredSize())
		gauge(r.idle, m.IdleSize())
		gauge(r.pending, m.PendingSize())
		gauge(r.allocated, m.AllocatedSize())
		gauge(r.maxConns, m.MaxAllocatedSize())
		gauge(r.maxPend, m.MaxPendingSize())
	}
}

var (
	// AcquireTotal counts acquire attempts per provider and outcome.
	// Labels: provider, outcome (success or an error type such as pending_acquire_timeout)
	AcquireTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netpool_acquire_total",
			Help: "Total number of connection acquires by outcome",
		},
		[]string{"provider", "outcome"},
	)

	// AcquireLatency tracks the time from Acquire to delivery or failure, in seconds.
	AcquireLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "netpool_acquire_duration_seconds",
			Help: "Connection acquire latency in seconds",
			Buckets: []float64{
				0.0001, // 100μs - idle reuse
				0.001,  // 1ms
				0.01,   // 10ms - local connect
				0.1,    // 100ms - remote connect
				1,      // 1s
				10,     // 10s - saturated pool
				60,     // pending timeout territory
			},
		},
		[]string{"provider"},
	)

	// ConnectionsCreated counts channels opened by the allocator.
	ConnectionsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netpool_connections_created_total",
			Help: "Total number of pooled channels opened",
		},
		[]string{"provider"},
	)

	// ConnectionsClosed counts channels destroyed by pools.
	ConnectionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netpool_connections_closed_total",
			Help: "Total number of pooled channels destroyed",
		},
		[]string{"provider"},
	)
)

// Outcome maps an acquire result to the outcome label.
func Outcome(err error) string {
	if err == nil {
		return "success"
	}
	var e *poolerrors.Error
	if errors.As(err, &e) {
		return string(e.Type)
	}
	return "error"
}

// ObserveAcquire records one acquire in AcquireTotal and AcquireLatency.
func ObserveAcquire(provider string, d time.Duration, err error) {
	AcquireTotal.WithLabelValues(provider, Outcome(err)).Inc()
	AcquireLatency.WithLabelValues(provider).Observe(d.Seconds())
}

// Timer provides a simple timing mechanism for measuring operation durations.
// It captures the start time on creation and calculates elapsed time on stop.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Name returns the timer name.
func (t *Timer) Name() string {
	return t.name
}

// Stop returns the elapsed duration since creation. It may be called more
// than once.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}
