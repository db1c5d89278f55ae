package transport

import (
	"context"
)

// Operations is the per-lease view of a connection handed to users when an
// OnSetup is configured. It wraps the bound connection, forwards lifecycle
// decisions to its listener and exposes message I/O.
type Operations struct {
	conn     Connection
	listener ConnectionObserver
}

// NewOperations creates operations over conn reporting to listener.
func NewOperations(conn Connection, listener ConnectionObserver) *Operations {
	return &Operations{conn: conn, listener: listener}
}

// Bind makes the operations the connection bound to the channel.
func (o *Operations) Bind() *Operations {
	BindConnection(o)
	return o
}

// Connection returns the wrapped connection.
func (o *Operations) Connection() Connection { return o.conn }

// Listener returns the observer the operations report to.
func (o *Operations) Listener() ConnectionObserver { return o.listener }

// Channel implements Connection.
func (o *Operations) Channel() *Channel { return o.conn.Channel() }

// Release rebinds the wrapped connection and reports Disconnecting to the
// listener on the event loop.
func (o *Operations) Release() {
	ch := o.Channel()
	ch.EventLoop().Execute(func() {
		Attr(ch, ConnectionKey).CompareAndSet(o, o.conn)
		o.listener.OnStateChange(o, StateDisconnecting)
	})
}

// Dispose implements Connection.
func (o *Operations) Dispose() { o.conn.Dispose() }

// IsDisposed implements Connection.
func (o *Operations) IsDisposed() bool { return o.conn.IsDisposed() }

// MarkPersistent implements Connection.
func (o *Operations) MarkPersistent(persistent bool) { o.conn.MarkPersistent(persistent) }

// IsPersistent implements Connection.
func (o *Operations) IsPersistent() bool { return o.conn.IsPersistent() }

// Send writes msg through the channel pipeline.
func (o *Operations) Send(msg any) error {
	return o.Channel().Write(msg)
}

// Receive returns the next inbound message.
func (o *Operations) Receive(ctx context.Context) (any, error) {
	return o.Channel().Receive(ctx)
}

// OnSetup creates the operations bound to a freshly configured connection.
// Returning nil leaves the connection unwrapped.
type OnSetup interface {
	Create(conn Connection, listener ConnectionObserver) *Operations
}

// OnSetupFunc adapts a function to OnSetup.
type OnSetupFunc func(conn Connection, listener ConnectionObserver) *Operations

// Create implements OnSetup.
func (f OnSetupFunc) Create(conn Connection, listener ConnectionObserver) *Operations {
	return f(conn, listener)
}

type emptySetup struct{}

func (emptySetup) Create(Connection, ConnectionObserver) *Operations { return nil }

// EmptySetup returns the OnSetup that creates no operations.
func EmptySetup() OnSetup { return emptySetup{} }

// IsEmptySetup reports whether s is nil or EmptySetup.
func IsEmptySetup(s OnSetup) bool {
	if s == nil {
		return true
	}
	_, ok := s.(emptySetup)
	return ok
}

// DefaultOnSetup wraps every connection in plain Operations.
func DefaultOnSetup() OnSetup {
	return OnSetupFunc(NewOperations)
}
