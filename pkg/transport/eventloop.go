package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ajitpratap0/netpool/pkg/logger"
)

// EventLoop runs submitted tasks one at a time, in submission order, on a
// single goroutine. Every channel is bound to one loop, and all state changes
// of that channel's owner happen inside its tasks.
type EventLoop struct {
	id  int
	log *zap.Logger

	mu     sync.Mutex
	tasks  []func()
	closed bool

	wake chan struct{}
	done chan struct{}
}

func newEventLoop(id int, log *zap.Logger) *EventLoop {
	l := &EventLoop{
		id:   id,
		log:  log.With(zap.Int("event_loop", id)),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go l.run()
	return l
}

// ID returns the loop index within its group.
func (l *EventLoop) ID() int {
	return l.id
}

// Execute schedules task. It never blocks. Tasks submitted after the loop
// shut down run on their own goroutine.
func (l *EventLoop) Execute(task func()) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		go l.runTask(task)
		return
	}
	l.tasks = append(l.tasks, task)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Barrier waits until every task submitted before it has run.
func (l *EventLoop) Barrier(ctx context.Context) error {
	done := make(chan struct{})
	l.Execute(func() { close(done) })
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *EventLoop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		tasks := l.tasks
		l.tasks = nil
		closed := l.closed
		l.mu.Unlock()

		for _, task := range tasks {
			l.runTask(task)
		}
		if len(tasks) > 0 {
			continue
		}
		if closed {
			return
		}
		<-l.wake
	}
}

func (l *EventLoop) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("event loop task panicked", zap.String("panic", fmt.Sprint(r)), zap.Stack("stack"))
		}
	}()
	task()
}

func (l *EventLoop) shutdown(ctx context.Context) error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}

	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EventLoopGroup is a fixed set of event loops handed out round-robin.
type EventLoopGroup struct {
	loops []*EventLoop
	next  atomic.Uint64
}

// NewEventLoopGroup starts n loops. n < 1 starts one.
func NewEventLoopGroup(n int, log *zap.Logger) *EventLoopGroup {
	if n < 1 {
		n = 1
	}
	log = logger.OrGlobal(log).With(zap.String("component", "event_loop"))
	g := &EventLoopGroup{loops: make([]*EventLoop, n)}
	for i := range g.loops {
		g.loops[i] = newEventLoop(i, log)
	}
	return g
}

// Next returns the next loop in round-robin order.
func (g *EventLoopGroup) Next() *EventLoop {
	i := g.next.Add(1) - 1
	return g.loops[i%uint64(len(g.loops))]
}

// Len returns the number of loops.
func (g *EventLoopGroup) Len() int {
	return len(g.loops)
}

// Shutdown drains every loop's queue and stops its goroutine.
func (g *EventLoopGroup) Shutdown(ctx context.Context) error {
	var firstErr error
	for _, l := range g.loops {
		if err := l.shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
