package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/net/proxy"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/netpool/pkg/config"
	poolerrors "github.com/ajitpratap0/netpool/pkg/errors"
	"github.com/ajitpratap0/netpool/pkg/logger"
	"github.com/ajitpratap0/netpool/pkg/observability"
	"github.com/ajitpratap0/netpool/pkg/provider"
	"github.com/ajitpratap0/netpool/pkg/transport"
)

// probeOptions are the probe command flags.
type probeOptions struct {
	Addr        string
	Concurrency int
	Iterations  int
	Payload     string
	ConfigFile  string
	MetricsAddr string
	Trace       bool
	JSON        bool
}

// probeReport summarizes one probe run.
type probeReport struct {
	Address           string               `json:"address"`
	Requests          int64                `json:"requests"`
	Failures          int64                `json:"failures"`
	Retryable         int64                `json:"retryable_failures"`
	Duration          time.Duration        `json:"duration_ns"`
	RequestsPerSecond float64              `json:"requests_per_second"`
	Pools             []provider.PoolStats `json:"pools"`
}

func newProbeCommand() *cobra.Command {
	opts := probeOptions{}
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Send echo requests through a connection pool",
		Long: `Send echo requests to a server through a pooled provider and report
pool statistics.

Example:
  netpool probe --addr 127.0.0.1:7000 --concurrency 32 --iterations 1000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if opts.Trace {
				tcfg := observability.DefaultTracingConfig()
				tcfg.ServiceName = "netpool-probe"
				tcfg.ServiceVersion = version
				tcfg.Writer = os.Stderr
				shutdown, err := observability.InitTracing(tcfg)
				if err != nil {
					return err
				}
				defer func() { _ = shutdown(context.Background()) }()
			}
			if opts.MetricsAddr != "" {
				stop := serveMetrics(opts.MetricsAddr, logger.Get())
				defer stop()
			}

			report, err := runProbe(ctx, opts, logger.With(zap.String("component", "probe")))
			if err != nil {
				return err
			}
			return writeReport(cmd.OutOrStdout(), report, opts.JSON)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Addr, "addr", envOr("NETPOOL_ADDR", "127.0.0.1:7000"), "Echo server address (host:port)")
	f.IntVar(&opts.Concurrency, "concurrency", 8, "Number of concurrent callers")
	f.IntVar(&opts.Iterations, "iterations", 100, "Requests per caller")
	f.StringVar(&opts.Payload, "payload", "ping", "Payload sent on every request")
	f.StringVar(&opts.ConfigFile, "config", "", "Provider configuration YAML file")
	f.StringVar(&opts.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while probing")
	f.BoolVar(&opts.Trace, "trace", false, "Print acquire spans to stderr")
	f.BoolVar(&opts.JSON, "json", false, "Print the report as JSON")
	return cmd
}

func loadProviderConfig(path string) (*config.ProviderConfig, error) {
	if path == "" {
		return config.DefaultProviderConfig("probe"), nil
	}
	return config.LoadProvider(path)
}

func newConnector(spec config.TransportSpec, group *transport.EventLoopGroup, log *zap.Logger) (*transport.TCPConnector, error) {
	opts := []transport.ConnectorOption{transport.WithConnectorLogger(log)}
	if spec.ProxyAddress != "" {
		var auth *proxy.Auth
		if spec.ProxyUsername != "" {
			auth = &proxy.Auth{User: spec.ProxyUsername, Password: spec.ProxyPassword}
		}
		opts = append(opts, transport.WithSOCKS5(spec.ProxyAddress, auth))
	}
	return transport.NewTCPConnector(group, opts...)
}

func parseRemote(addr string) (net.Addr, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port in %q: %w", addr, err)
	}
	return transport.UnresolvedAddr{Host: host, Port: port}, nil
}

// runProbe drives opts.Concurrency callers, each doing opts.Iterations
// acquire, echo, release rounds against opts.Addr.
func runProbe(ctx context.Context, opts probeOptions, log *zap.Logger) (*probeReport, error) {
	if opts.Concurrency < 1 || opts.Iterations < 1 {
		return nil, errors.New("concurrency and iterations must be at least 1")
	}
	if opts.Payload == "" {
		return nil, errors.New("payload cannot be empty")
	}
	remote, err := parseRemote(opts.Addr)
	if err != nil {
		return nil, err
	}
	cfg, err := loadProviderConfig(opts.ConfigFile)
	if err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()

	group := transport.NewEventLoopGroup(cfg.Transport.EventLoops, log)
	defer func() { _ = group.Shutdown(context.Background()) }()

	connector, err := newConnector(cfg.Transport, group, log)
	if err != nil {
		return nil, err
	}
	p, err := provider.New(cfg, connector, provider.WithLogger(log))
	if err != nil {
		return nil, err
	}

	tcfg := &transport.Config{
		OnSetup:        transport.DefaultOnSetup(),
		MetricsEnabled: opts.MetricsAddr != "",
		ConnectTimeout: cfg.Transport.ConnectTimeout,
		InboundBuffer:  cfg.Transport.InboundBuffer,
	}
	resolver := transport.NewDefaultResolver()
	supplier := func() net.Addr { return remote }

	var requests, failures, retryable atomic.Int64
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < opts.Concurrency; i++ {
		g.Go(func() error {
			for n := 0; n < opts.Iterations; n++ {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				reqCtx := context.WithValue(gctx, logger.RequestIDKey, uuid.NewString())
				requests.Add(1)
				if err := echoOnce(reqCtx, p, tcfg, supplier, resolver, []byte(opts.Payload)); err != nil {
					failures.Add(1)
					if poolerrors.IsRetryable(err) {
						retryable.Add(1)
					}
					logger.WithContext(reqCtx).Warn("request failed", zap.Error(err))
				}
			}
			return nil
		})
	}
	waitErr := g.Wait()
	elapsed := time.Since(start)

	report := &probeReport{
		Address:   opts.Addr,
		Requests:  requests.Load(),
		Failures:  failures.Load(),
		Retryable: retryable.Load(),
		Duration:  elapsed,
		Pools:     p.Stats(),
	}
	if elapsed > 0 {
		report.RequestsPerSecond = float64(report.Requests) / elapsed.Seconds()
	}

	if err := p.Dispose(context.Background()); err != nil {
		log.Warn("failed to dispose provider", zap.Error(err))
	}
	if waitErr != nil {
		return report, waitErr
	}
	return report, nil
}

// echoOnce leases a connection, sends payload and reads until the same
// number of bytes came back.
func echoOnce(ctx context.Context, p *provider.Provider, cfg *transport.Config,
	remote func() net.Addr, resolver transport.Resolver, payload []byte) error {
	conn, err := p.Acquire(ctx, cfg, nil, remote, resolver)
	if err != nil {
		return err
	}
	ops, ok := conn.(*transport.Operations)
	if !ok {
		conn.Release()
		return fmt.Errorf("unexpected connection type %T", conn)
	}

	if err := ops.Send(payload); err != nil {
		ops.MarkPersistent(false)
		ops.Release()
		return err
	}
	received := 0
	for received < len(payload) {
		msg, err := ops.Receive(ctx)
		if err != nil {
			ops.MarkPersistent(false)
			ops.Release()
			return err
		}
		b, _ := msg.([]byte)
		received += len(b)
	}
	ops.Release()
	return nil
}

func serveMetrics(addr string, log *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()
	log.Info("serving metrics", zap.String("addr", addr))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func writeReport(w io.Writer, r *probeReport, asJSON bool) error {
	if asJSON {
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	fmt.Fprintf(w, "address:      %s\n", r.Address)
	fmt.Fprintf(w, "requests:     %d\n", r.Requests)
	fmt.Fprintf(w, "failures:     %d (%d retryable)\n", r.Failures, r.Retryable)
	fmt.Fprintf(w, "duration:     %s\n", r.Duration)
	fmt.Fprintf(w, "requests/sec: %.1f\n", r.RequestsPerSecond)
	for _, st := range r.Pools {
		fmt.Fprintf(w, "pool %s: acquired=%d idle=%d pending=%d allocated=%d max=%d\n",
			st.Key, st.Acquired, st.Idle, st.Pending, st.Allocated, st.MaxSize)
	}
	return nil
}
