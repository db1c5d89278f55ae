// Package transport is the channel layer underneath the connection pool.
//
// A Channel wraps a net.Conn and is bound to one EventLoop for its whole
// life. The loop is a single goroutine running submitted tasks in order, so
// anything touched only from a channel's loop needs no further locking.
// Channels carry typed attributes (see Attr) and a Pipeline of named
// handlers:
//
//   - ChannelInitializer runs once when the pipeline is registered and then
//     removes itself
//   - InboundHandler transforms bytes read from the connection
//   - OutboundHandler transforms messages passed to Write
//   - ActiveHandler is told when the channel becomes active
//   - ExceptionHandler receives errors raised by handlers or I/O
//
// Config describes a client's pipeline. Its ChannelInitializer installs the
// handlers plus an operations handler that reports Connected and Configured
// to a ConnectionObserver. TCPConnector dials, optionally through a SOCKS5
// proxy, and hands back registered channels.
package transport
