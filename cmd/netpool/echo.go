package main

import (
	"context"
	"errors"
	"io"
	"net"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/netpool/pkg/logger"
)

func newEchoCommand() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "echo",
		Short: "Run a TCP echo server",
		Long: `Run a TCP echo server that writes back everything it receives.

Example:
  netpool echo --listen 127.0.0.1:7000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			ln, err := net.Listen("tcp", listen)
			if err != nil {
				return err
			}
			return serveEcho(ctx, ln, logger.With(zap.String("component", "echo")))
		},
	}
	cmd.Flags().StringVar(&listen, "listen", envOr("NETPOOL_LISTEN", "127.0.0.1:7000"), "Address to listen on")
	return cmd
}

// serveEcho accepts connections on ln until ctx ends, then closes the
// listener and every open connection.
func serveEcho(ctx context.Context, ln net.Listener, log *zap.Logger) error {
	log.Info("echo server listening", zap.String("addr", ln.Addr().String()))

	var (
		mu    sync.Mutex
		conns = make(map[net.Conn]struct{})
		wg    sync.WaitGroup
	)
	go func() {
		<-ctx.Done()
		_ = ln.Close()
		mu.Lock()
		for c := range conns {
			_ = c.Close()
		}
		mu.Unlock()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			wg.Wait()
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				log.Info("echo server stopped")
				return nil
			}
			return err
		}
		mu.Lock()
		conns[conn] = struct{}{}
		mu.Unlock()

		log.Debug("accepted connection", zap.String("remote", conn.RemoteAddr().String()))
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, _ := io.Copy(conn, conn)
			_ = conn.Close()
			mu.Lock()
			delete(conns, conn)
			mu.Unlock()
			log.Debug("connection closed", zap.String("remote", conn.RemoteAddr().String()), zap.Int64("bytes", n))
		}()
	}
}
