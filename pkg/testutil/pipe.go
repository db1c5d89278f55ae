package testutil

import (
	"context"
	"io"
	"net"
	"sync"
)

// PipeDialer dials in-memory connections built with net.Pipe. The server end
// of each dial is passed to the handler on its own goroutine.
type PipeDialer struct {
	mu       sync.Mutex
	handler  func(server net.Conn)
	servers  []net.Conn
	addrs    []string
	failNext []error
}

// NewPipeDialer creates a dialer. A nil handler discards everything written
// to the server end.
func NewPipeDialer(handler func(server net.Conn)) *PipeDialer {
	if handler == nil {
		handler = DiscardHandler
	}
	return &PipeDialer{handler: handler}
}

// DiscardHandler reads and drops everything until the connection closes.
func DiscardHandler(server net.Conn) {
	_, _ = io.Copy(io.Discard, server)
}

// EchoHandler writes back everything it reads.
func EchoHandler(server net.Conn) {
	_, _ = io.Copy(server, server)
}

// DialContext implements the transport dialer contract.
func (d *PipeDialer) DialContext(ctx context.Context, _ string, address string) (net.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	if len(d.failNext) > 0 {
		err := d.failNext[0]
		d.failNext = d.failNext[1:]
		d.mu.Unlock()
		return nil, err
	}
	client, server := net.Pipe()
	d.servers = append(d.servers, server)
	d.addrs = append(d.addrs, address)
	handler := d.handler
	d.mu.Unlock()

	go handler(server)
	return client, nil
}

// FailNext makes the next dial fail with err. Calls queue up.
func (d *PipeDialer) FailNext(err error) {
	d.mu.Lock()
	d.failNext = append(d.failNext, err)
	d.mu.Unlock()
}

// Dials returns the number of successful dials.
func (d *PipeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.servers)
}

// Addresses returns the dialed addresses in order.
func (d *PipeDialer) Addresses() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.addrs...)
}

// Server returns the server end of the i-th dial.
func (d *PipeDialer) Server(i int) net.Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.servers[i]
}

// CloseAll closes the server end of every dial.
func (d *PipeDialer) CloseAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.servers {
		_ = s.Close()
	}
}
