package transport_test

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/netpool/pkg/testutil"
	"github.com/ajitpratap0/netpool/pkg/transport"
)

var testRemote = &net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 8080}

func newConnector(t *testing.T, dialer transport.Dialer) *transport.TCPConnector {
	t.Helper()
	group := transport.NewEventLoopGroup(1, testutil.TestLogger(t))
	t.Cleanup(func() { _ = group.Shutdown(context.Background()) })
	c, err := transport.NewTCPConnector(group,
		transport.WithDialer(dialer),
		transport.WithConnectorLogger(testutil.TestLogger(t)))
	require.NoError(t, err)
	return c
}

// newPipeChannel connects a registered channel over an in-memory pipe.
func newPipeChannel(t *testing.T) (*transport.Channel, *testutil.PipeDialer) {
	t.Helper()
	dialer := testutil.NewPipeDialer(testutil.EchoHandler)
	c := newConnector(t, dialer)
	ch, err := c.Connect(testutil.TestContext(t), &transport.Config{}, testRemote, transport.NewDefaultResolver(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ch.Close() })
	return ch, dialer
}

type recordingObserver struct {
	events chan string
	conns  chan transport.Connection
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{events: make(chan string, 16), conns: make(chan transport.Connection, 16)}
}

func (o *recordingObserver) OnStateChange(conn transport.Connection, state transport.ConnectionState) {
	o.conns <- conn
	o.events <- state.String()
}

func (o *recordingObserver) OnUncaughtException(conn transport.Connection, err error) {
	o.conns <- conn
	o.events <- "error:" + err.Error()
}
