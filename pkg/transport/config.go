package transport

import (
	"net"
	"time"

	"github.com/cespare/xxhash/v2"
)

// OperationsHandlerName is the pipeline name of the handler that reports
// activation and exceptions to the connection listener.
const OperationsHandlerName = "netpool.operations"

// NamedHandler is a pipeline entry template. New is called once per channel.
type NamedHandler struct {
	Name string
	New  func() Handler
}

// Config describes how channels are set up for one kind of client.
// Two configs with the same handler names share pools.
type Config struct {
	// Handlers are installed in order on every new channel
	Handlers []NamedHandler
	// OnSetup creates the operations bound on configuration; nil behaves
	// like EmptySetup
	OnSetup OnSetup
	// MetricsEnabled registers pool metrics for pools created for this config
	MetricsEnabled bool
	// ConnectTimeout bounds dialing; zero leaves it to the context
	ConnectTimeout time.Duration
	// InboundBuffer is the per channel inbound queue length
	InboundBuffer int
}

// PipelineHash hashes the ordered handler names.
func (c *Config) PipelineHash() uint32 {
	d := xxhash.New()
	for _, h := range c.Handlers {
		_, _ = d.WriteString(h.Name)
		_, _ = d.Write([]byte{0})
	}
	sum := d.Sum64()
	return uint32(sum ^ (sum >> 32))
}

// ChannelInitializer returns the initializer that installs the configured
// handlers plus the operations handler reporting to listener.
func (c *Config) ChannelInitializer(listener ConnectionObserver, remote net.Addr) ChannelInitializer {
	return ChannelInitializerFunc(func(ch *Channel) error {
		p := ch.Pipeline()
		if err := p.AddLast(OperationsHandlerName, &operationsHandler{cfg: c, listener: listener}); err != nil {
			return err
		}
		for _, nh := range c.Handlers {
			if err := p.AddBefore(OperationsHandlerName, nh.Name, nh.New()); err != nil {
				return err
			}
		}
		return nil
	})
}

// operationsHandler sits last in the pipeline. On activation it reports
// Connected and, when operations are configured, binds them and reports
// Configured. Exceptions that reach it go to the listener.
type operationsHandler struct {
	cfg      *Config
	listener ConnectionObserver
}

func (h *operationsHandler) ChannelActive(ch *Channel) {
	conn := ConnectionFrom(ch)
	h.listener.OnStateChange(conn, StateConnected)

	if IsEmptySetup(h.cfg.OnSetup) {
		return
	}
	if ops := h.cfg.OnSetup.Create(conn, h.listener); ops != nil {
		ops.Bind()
		h.listener.OnStateChange(ops, StateConfigured)
	}
}

func (h *operationsHandler) ExceptionCaught(ch *Channel, err error) error {
	h.listener.OnUncaughtException(ConnectionFrom(ch), err)
	return nil
}
