package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	poolerrors "github.com/ajitpratap0/netpool/pkg/errors"
	"github.com/ajitpratap0/netpool/pkg/logger"
)

const readBufferSize = 32 * 1024

// ErrChannelClosed is returned by Write and Receive on a closed channel.
var ErrChannelClosed = poolerrors.New(poolerrors.ErrorTypeChannel, "channel closed")

// Channel is a net.Conn bound to an event loop with a handler pipeline and
// typed attributes.
type Channel struct {
	id       uuid.UUID
	conn     net.Conn
	loop     *EventLoop
	pipeline *Pipeline
	remote   net.Addr
	log      *zap.Logger

	active atomic.Bool
	attrs  sync.Map

	inbound chan any
	writeMu sync.Mutex

	closeOnce      sync.Once
	closed         chan struct{}
	closeMu        sync.Mutex
	closeDone      bool
	closeListeners []func()
}

// NewChannel wraps an open connection. remote is the address the channel was
// opened for; it falls back to conn.RemoteAddr() when nil. The channel is
// active until Close.
func NewChannel(conn net.Conn, loop *EventLoop, remote net.Addr, inboundBuffer int, log *zap.Logger) *Channel {
	if remote == nil {
		remote = conn.RemoteAddr()
	}
	if inboundBuffer <= 0 {
		inboundBuffer = 64
	}
	ch := &Channel{
		id:      uuid.New(),
		conn:    conn,
		loop:    loop,
		remote:  remote,
		inbound: make(chan any, inboundBuffer),
		closed:  make(chan struct{}),
	}
	ch.log = logger.OrGlobal(log).With(zap.String("channel_id", ch.id.String()))
	ch.pipeline = newPipeline(ch)
	ch.active.Store(true)
	return ch
}

// ID returns the channel's unique id.
func (c *Channel) ID() uuid.UUID { return c.id }

// Active reports whether the channel is open.
func (c *Channel) Active() bool { return c.active.Load() }

// EventLoop returns the loop the channel is bound to.
func (c *Channel) EventLoop() *EventLoop { return c.loop }

// Pipeline returns the channel's handler pipeline.
func (c *Channel) Pipeline() *Pipeline { return c.pipeline }

// RemoteAddr returns the address the channel was opened for.
func (c *Channel) RemoteAddr() net.Addr { return c.remote }

// LocalAddr returns the local end of the connection.
func (c *Channel) LocalAddr() net.Addr { return c.conn.LocalAddr() }

// String implements fmt.Stringer.
func (c *Channel) String() string {
	return "[id: " + c.id.String()[:8] + ", remote: " + FormatAddr(c.remote) + "]"
}

// Close closes the connection. The close future completes and OnClose
// listeners run on the event loop afterwards. Close is idempotent.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.active.Store(false)
		err = c.conn.Close()
		c.loop.Execute(c.completeClose)
	})
	return err
}

func (c *Channel) completeClose() {
	c.closeMu.Lock()
	c.closeDone = true
	listeners := c.closeListeners
	c.closeListeners = nil
	c.closeMu.Unlock()

	close(c.closed)
	for _, fn := range listeners {
		fn()
	}
}

// CloseFuture is closed once the channel has fully closed.
func (c *Channel) CloseFuture() <-chan struct{} { return c.closed }

// OnClose registers fn to run on the event loop when the channel closes. If
// it already has, fn is scheduled immediately.
func (c *Channel) OnClose(fn func()) {
	c.closeMu.Lock()
	if c.closeDone {
		c.closeMu.Unlock()
		c.loop.Execute(fn)
		return
	}
	c.closeListeners = append(c.closeListeners, fn)
	c.closeMu.Unlock()
}

// FireExceptionCaught schedules err through the pipeline's exception handlers.
func (c *Channel) FireExceptionCaught(err error) {
	c.loop.Execute(func() { c.pipeline.FireExceptionCaught(err) })
}

// Write passes msg through the outbound handlers and writes the result.
func (c *Channel) Write(msg any) error {
	if !c.Active() {
		return ErrChannelClosed
	}
	out, err := c.pipeline.processOutbound(msg)
	if err != nil {
		return poolerrors.Wrap(err, poolerrors.ErrorTypeChannel, "outbound handler failed")
	}

	var b []byte
	switch v := out.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return poolerrors.Newf(poolerrors.ErrorTypeChannel, "cannot write message of type %T", out)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.conn.Write(b); err != nil {
		return poolerrors.Wrap(err, poolerrors.ErrorTypeChannel, "write failed")
	}
	return nil
}

// Receive returns the next inbound message produced by the pipeline.
func (c *Channel) Receive(ctx context.Context) (any, error) {
	select {
	case msg := <-c.inbound:
		return msg, nil
	default:
	}
	select {
	case msg := <-c.inbound:
		return msg, nil
	case <-c.closed:
		return nil, ErrChannelClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// register runs the pipeline's initializers and fires activation. It must
// run on the channel's event loop.
func (c *Channel) register() error {
	if err := c.pipeline.register(); err != nil {
		return err
	}
	c.pipeline.fireChannelActive()
	return nil
}

// startReading feeds inbound bytes through the pipeline on the event loop.
// Back-pressure from a full inbound queue lands on the read goroutine.
func (c *Channel) startReading() {
	go func() {
		buf := make([]byte, readBufferSize)
		for {
			n, err := c.conn.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				if !c.deliver(data) {
					return
				}
			}
			if err != nil {
				if c.Active() && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) && !errors.Is(err, net.ErrClosed) {
					c.FireExceptionCaught(poolerrors.Wrap(err, poolerrors.ErrorTypeChannel, "read failed"))
				}
				_ = c.Close()
				return
			}
		}
	}()
}

func (c *Channel) deliver(data []byte) bool {
	type result struct {
		msg any
		err error
	}
	res := make(chan result, 1)
	c.loop.Execute(func() {
		msg, err := c.pipeline.processInbound(data)
		if err != nil {
			c.pipeline.FireExceptionCaught(err)
		}
		res <- result{msg, err}
	})

	var r result
	select {
	case r = <-res:
	case <-c.closed:
		return false
	}
	if r.msg == nil {
		return true
	}
	select {
	case c.inbound <- r.msg:
		return true
	case <-c.closed:
		return false
	}
}
