package transport

import (
	"sync/atomic"
)

// ConnectionState is a lifecycle event reported to a ConnectionObserver.
type ConnectionState int

const (
	// StateConnected is reported once when a new channel becomes active
	StateConnected ConnectionState = iota
	// StateAcquired is reported when a pooled channel is leased again
	StateAcquired
	// StateConfigured is reported when operations have been bound to the channel
	StateConfigured
	// StateDisconnecting is reported when the user is done with the connection
	StateDisconnecting
	// StateReleased is reported when the connection went back to its pool
	StateReleased
)

// String implements fmt.Stringer.
func (s ConnectionState) String() string {
	switch s {
	case StateConnected:
		return "[connected]"
	case StateAcquired:
		return "[acquired]"
	case StateConfigured:
		return "[configured]"
	case StateDisconnecting:
		return "[disconnecting]"
	case StateReleased:
		return "[released]"
	default:
		return "[unknown]"
	}
}

// Connection is a leased view of a channel.
type Connection interface {
	// Channel returns the underlying channel
	Channel() *Channel
	// Release hands the connection back to whoever owns it
	Release()
	// Dispose closes the underlying channel
	Dispose()
	// IsDisposed reports whether the channel is closed
	IsDisposed() bool
	// MarkPersistent controls whether the channel may be reused after release
	MarkPersistent(persistent bool)
	// IsPersistent reports the value set by MarkPersistent, true by default
	IsPersistent() bool
}

// ConnectionObserver receives connection lifecycle events.
type ConnectionObserver interface {
	OnStateChange(conn Connection, state ConnectionState)
	OnUncaughtException(conn Connection, err error)
}

// ObserverFuncs adapts two functions to a ConnectionObserver. Nil functions
// ignore the event.
type ObserverFuncs struct {
	State     func(conn Connection, state ConnectionState)
	Exception func(conn Connection, err error)
}

// OnStateChange implements ConnectionObserver.
func (o *ObserverFuncs) OnStateChange(conn Connection, state ConnectionState) {
	if o.State != nil {
		o.State(conn, state)
	}
}

// OnUncaughtException implements ConnectionObserver.
func (o *ObserverFuncs) OnUncaughtException(conn Connection, err error) {
	if o.Exception != nil {
		o.Exception(conn, err)
	}
}

type emptyListener struct{ _ byte }

func (*emptyListener) OnStateChange(Connection, ConnectionState) {}
func (*emptyListener) OnUncaughtException(Connection, error)     {}

var theEmptyListener ConnectionObserver = &emptyListener{}

// EmptyListener returns the observer that ignores every event. It is a
// singleton and may be compared with ==.
func EmptyListener() ConnectionObserver {
	return theEmptyListener
}

// ConnectionKey holds the Connection currently bound to a channel.
var ConnectionKey = NewAttributeKey[Connection]("connection")

// BindConnection makes conn the connection bound to its channel.
func BindConnection(conn Connection) {
	Attr(conn.Channel(), ConnectionKey).Set(conn)
}

// ConnectionFrom returns the connection bound to ch, or a plain connection
// over ch when none is bound.
func ConnectionFrom(ch *Channel) Connection {
	if conn := Attr(ch, ConnectionKey).Get(); conn != nil {
		return conn
	}
	return &simpleConnection{ch: ch}
}

type simpleConnection struct {
	ch            *Channel
	notPersistent atomic.Bool
}

func (c *simpleConnection) Channel() *Channel { return c.ch }
func (c *simpleConnection) Release()          { _ = c.ch.Close() }
func (c *simpleConnection) Dispose()          { _ = c.ch.Close() }
func (c *simpleConnection) IsDisposed() bool  { return !c.ch.Active() }
func (c *simpleConnection) MarkPersistent(persistent bool) {
	c.notPersistent.Store(!persistent)
}
func (c *simpleConnection) IsPersistent() bool { return !c.notPersistent.Load() }
