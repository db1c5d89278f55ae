package transport

import (
	"sync"

	"go.uber.org/zap"

	poolerrors "github.com/ajitpratap0/netpool/pkg/errors"
)

// Handler is any value placed in a pipeline. What it does is decided by the
// optional interfaces below that it implements.
type Handler interface{}

// ChannelInitializer configures a channel's pipeline. It runs once, on the
// channel's event loop, as soon as it is part of a registered pipeline, and is
// removed from the pipeline afterwards.
type ChannelInitializer interface {
	InitChannel(ch *Channel) error
}

// ChannelInitializerFunc adapts a function to ChannelInitializer.
type ChannelInitializerFunc func(ch *Channel) error

// InitChannel implements ChannelInitializer.
func (f ChannelInitializerFunc) InitChannel(ch *Channel) error {
	return f(ch)
}

// InboundHandler transforms inbound messages in pipeline order. Returning a
// nil message consumes it.
type InboundHandler interface {
	ChannelRead(ch *Channel, msg any) (any, error)
}

// OutboundHandler transforms outbound messages in reverse pipeline order.
// The last transformation must produce []byte or string.
type OutboundHandler interface {
	Write(ch *Channel, msg any) (any, error)
}

// ActiveHandler is notified, in pipeline order, when the channel becomes
// active after registration.
type ActiveHandler interface {
	ChannelActive(ch *Channel)
}

// ExceptionHandler receives exceptions in pipeline order. Returning nil stops
// propagation; returning an error passes it to the next handler.
type ExceptionHandler interface {
	ExceptionCaught(ch *Channel, err error) error
}

type pipelineEntry struct {
	name    string
	handler Handler
}

// Pipeline is the ordered, named handler chain of a channel.
type Pipeline struct {
	ch *Channel

	mu         sync.Mutex
	entries    []*pipelineEntry
	registered bool
}

func newPipeline(ch *Channel) *Pipeline {
	return &Pipeline{ch: ch}
}

// AddFirst inserts h at the head of the pipeline.
func (p *Pipeline) AddFirst(name string, h Handler) error {
	return p.add(name, h, func() int { return 0 })
}

// AddLast appends h to the pipeline.
func (p *Pipeline) AddLast(name string, h Handler) error {
	return p.add(name, h, func() int { return len(p.entries) })
}

// AddBefore inserts h right before the handler named base.
func (p *Pipeline) AddBefore(base, name string, h Handler) error {
	idx := -1
	err := p.add(name, h, func() int {
		idx = p.indexLocked(base)
		return idx
	})
	if err == nil && idx < 0 {
		return poolerrors.New(poolerrors.ErrorTypeValidation, "no such handler").WithDetail("name", base)
	}
	return err
}

func (p *Pipeline) add(name string, h Handler, at func() int) error {
	if h == nil {
		return poolerrors.New(poolerrors.ErrorTypeValidation, "handler is nil").WithDetail("name", name)
	}

	p.mu.Lock()
	if p.indexLocked(name) >= 0 {
		p.mu.Unlock()
		return poolerrors.New(poolerrors.ErrorTypeValidation, "duplicate handler name").WithDetail("name", name)
	}
	i := at()
	if i < 0 {
		p.mu.Unlock()
		return nil
	}
	e := &pipelineEntry{name: name, handler: h}
	p.entries = append(p.entries, nil)
	copy(p.entries[i+1:], p.entries[i:])
	p.entries[i] = e
	registered := p.registered
	p.mu.Unlock()

	if registered {
		if init, ok := h.(ChannelInitializer); ok {
			return p.runInitializer(e, init)
		}
	}
	return nil
}

// Remove removes the named handler and returns it, or nil if absent.
func (p *Pipeline) Remove(name string) Handler {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.indexLocked(name)
	if i < 0 {
		return nil
	}
	h := p.entries[i].handler
	p.entries = append(p.entries[:i], p.entries[i+1:]...)
	return h
}

// Get returns the named handler, or nil.
func (p *Pipeline) Get(name string) Handler {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i := p.indexLocked(name); i >= 0 {
		return p.entries[i].handler
	}
	return nil
}

// Names returns the handler names in pipeline order.
func (p *Pipeline) Names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, len(p.entries))
	for i, e := range p.entries {
		names[i] = e.name
	}
	return names
}

// FireExceptionCaught passes err through the exception handlers on the
// calling goroutine. Handlers call it from within the event loop.
func (p *Pipeline) FireExceptionCaught(err error) {
	for _, h := range p.snapshot() {
		eh, ok := h.(ExceptionHandler)
		if !ok {
			continue
		}
		if err = eh.ExceptionCaught(p.ch, err); err == nil {
			return
		}
	}
	p.ch.log.Warn("unhandled exception reached the end of the pipeline", zap.Error(err))
}

func (p *Pipeline) indexLocked(name string) int {
	for i, e := range p.entries {
		if e.name == name {
			return i
		}
	}
	return -1
}

func (p *Pipeline) snapshot() []Handler {
	p.mu.Lock()
	defer p.mu.Unlock()
	hs := make([]Handler, len(p.entries))
	for i, e := range p.entries {
		hs[i] = e.handler
	}
	return hs
}

// register runs the initializers added before registration, in order.
func (p *Pipeline) register() error {
	p.mu.Lock()
	p.registered = true
	var pending []*pipelineEntry
	for _, e := range p.entries {
		if _, ok := e.handler.(ChannelInitializer); ok {
			pending = append(pending, e)
		}
	}
	p.mu.Unlock()

	for _, e := range pending {
		if err := p.runInitializer(e, e.handler.(ChannelInitializer)); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) runInitializer(e *pipelineEntry, init ChannelInitializer) error {
	err := init.InitChannel(p.ch)

	p.mu.Lock()
	for i, cur := range p.entries {
		if cur == e {
			p.entries = append(p.entries[:i], p.entries[i+1:]...)
			break
		}
	}
	p.mu.Unlock()
	return err
}

func (p *Pipeline) fireChannelActive() {
	for _, h := range p.snapshot() {
		if ah, ok := h.(ActiveHandler); ok {
			ah.ChannelActive(p.ch)
		}
	}
}

func (p *Pipeline) processInbound(msg any) (any, error) {
	for _, h := range p.snapshot() {
		ih, ok := h.(InboundHandler)
		if !ok {
			continue
		}
		var err error
		if msg, err = ih.ChannelRead(p.ch, msg); err != nil || msg == nil {
			return nil, err
		}
	}
	return msg, nil
}

func (p *Pipeline) processOutbound(msg any) (any, error) {
	hs := p.snapshot()
	for i := len(hs) - 1; i >= 0; i-- {
		oh, ok := hs[i].(OutboundHandler)
		if !ok {
			continue
		}
		var err error
		if msg, err = oh.Write(p.ch, msg); err != nil {
			return nil, err
		}
	}
	return msg, nil
}
