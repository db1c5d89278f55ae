package provider

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ajitpratap0/netpool/pkg/pool"
	"github.com/ajitpratap0/netpool/pkg/transport"
)

// ownerKey is the owner slot of a pooled channel. It holds nil, a
// *pendingObserver, the *acquireTask currently leasing the channel, or
// transport.EmptyListener() once the lease has been released.
var ownerKey = transport.NewAttributeKey[transport.ConnectionObserver]("netpool.owner")

// PooledConnection is a channel held by a pool. It is both the connection
// handed to users and the observer installed on the channel's pipeline.
type PooledConnection struct {
	ch   *transport.Channel
	pool *pool.Pool[*PooledConnection]
	log  *zap.Logger

	ref           atomic.Pointer[pool.Ref[*PooledConnection]]
	notPersistent atomic.Bool

	terminated    chan struct{}
	terminateOnce sync.Once
}

func newPooledConnection(ch *transport.Channel, p *pool.Pool[*PooledConnection], log *zap.Logger) *PooledConnection {
	pc := &PooledConnection{
		ch:         ch,
		pool:       p,
		log:        log.With(zap.String("channel_id", ch.ID().String())),
		terminated: make(chan struct{}),
	}
	ch.OnClose(pc.terminate)
	return pc
}

// bind makes pc the connection bound to its channel.
func (pc *PooledConnection) bind() {
	transport.BindConnection(pc)
}

// owner returns the owner slot value, installing a pending observer when the
// slot is empty.
func (pc *PooledConnection) owner() transport.ConnectionObserver {
	attr := transport.Attr(pc.ch, ownerKey)
	for {
		if obs := attr.Get(); obs != nil {
			return obs
		}
		pending := newPendingObserver()
		if attr.CompareAndSet(nil, pending) {
			return pending
		}
	}
}

func (pc *PooledConnection) terminate() {
	pc.terminateOnce.Do(func() { close(pc.terminated) })
}

// OnTerminate is closed the first time the connection is released to its
// pool or its channel closes.
func (pc *PooledConnection) OnTerminate() <-chan struct{} {
	return pc.terminated
}

// Channel implements transport.Connection.
func (pc *PooledConnection) Channel() *transport.Channel { return pc.ch }

// Release hands the connection back to its pool from the event loop.
func (pc *PooledConnection) Release() {
	pc.ch.EventLoop().Execute(func() {
		pc.OnStateChange(pc, transport.StateDisconnecting)
	})
}

// Dispose implements transport.Connection.
func (pc *PooledConnection) Dispose() { _ = pc.ch.Close() }

// IsDisposed implements transport.Connection.
func (pc *PooledConnection) IsDisposed() bool { return !pc.ch.Active() }

// MarkPersistent implements transport.Connection. A non-persistent
// connection is closed instead of returned to the pool.
func (pc *PooledConnection) MarkPersistent(persistent bool) { pc.notPersistent.Store(!persistent) }

// IsPersistent implements transport.Connection.
func (pc *PooledConnection) IsPersistent() bool { return !pc.notPersistent.Load() }

// String implements fmt.Stringer.
func (pc *PooledConnection) String() string {
	return "PooledConnection{channel=" + pc.ch.String() + "}"
}

// OnUncaughtException implements transport.ConnectionObserver.
func (pc *PooledConnection) OnUncaughtException(conn transport.Connection, err error) {
	pc.owner().OnUncaughtException(conn, err)
}

// OnStateChange implements transport.ConnectionObserver. It runs on the
// channel's event loop.
func (pc *PooledConnection) OnStateChange(conn transport.Connection, state transport.ConnectionState) {
	pc.log.Debug("state change", zap.Stringer("state", state))

	if state != transport.StateDisconnecting {
		pc.owner().OnStateChange(conn, state)
		return
	}

	if !pc.IsPersistent() && pc.ch.Active() {
		// the close listener releases it
		_ = pc.ch.Close()
		pc.owner().OnStateChange(conn, transport.StateDisconnecting)
		return
	}

	if !pc.ch.Active() {
		pc.owner().OnStateChange(conn, transport.StateDisconnecting)
		return
	}

	pc.log.Debug("releasing channel")
	prev := transport.Attr(pc.ch, ownerKey).GetAndSet(transport.EmptyListener())
	if prev == nil {
		prev = transport.EmptyListener()
	}

	ref := pc.ref.Load()
	if ref == nil {
		return
	}

	go func() {
		ref.Release(context.Background())
		pc.log.Debug("channel cleaned",
			zap.Int("active", pc.pool.AcquiredSize()),
			zap.Int("inactive", pc.pool.IdleSize()))
		pc.terminate()
		prev.OnStateChange(conn, transport.StateReleased)
	}()
}

type pendingEvent struct {
	conn     transport.Connection
	err      error
	state    transport.ConnectionState
	hasState bool
}

// pendingObserver buffers events that arrive before a channel has an owner.
type pendingObserver struct {
	mu     sync.Mutex
	events []pendingEvent
}

func newPendingObserver() *pendingObserver {
	return &pendingObserver{}
}

func (p *pendingObserver) OnStateChange(conn transport.Connection, state transport.ConnectionState) {
	p.mu.Lock()
	p.events = append(p.events, pendingEvent{conn: conn, state: state, hasState: true})
	p.mu.Unlock()
}

func (p *pendingObserver) OnUncaughtException(conn transport.Connection, err error) {
	p.mu.Lock()
	p.events = append(p.events, pendingEvent{conn: conn, err: err})
	p.mu.Unlock()
}

// drain returns the buffered events in arrival order and empties the buffer.
func (p *pendingObserver) drain() []pendingEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	events := p.events
	p.events = nil
	return events
}
