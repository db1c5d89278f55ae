package provider

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	poolerrors "github.com/ajitpratap0/netpool/pkg/errors"
	"github.com/ajitpratap0/netpool/pkg/observability"
	"github.com/ajitpratap0/netpool/pkg/pool"
	"github.com/ajitpratap0/netpool/pkg/transport"
)

// acquireSink completes an acquire exactly once.
type acquireSink struct {
	once sync.Once
	done chan struct{}
	conn transport.Connection
	err  error

	// poisoned is set when a channel error failed the acquire
	poisoned atomic.Bool
}

func newAcquireSink() *acquireSink {
	return &acquireSink{done: make(chan struct{})}
}

func (s *acquireSink) success(conn transport.Connection) bool {
	won := false
	s.once.Do(func() {
		s.conn = conn
		won = true
		close(s.done)
	})
	return won
}

func (s *acquireSink) fail(err error) bool {
	won := false
	s.once.Do(func() {
		s.err = err
		won = true
		close(s.done)
	})
	return won
}

func (s *acquireSink) result() (transport.Connection, error) {
	<-s.done
	return s.conn, s.err
}

// acquireTask leases one connection from a pool and delivers it to a sink.
// While it leases a channel it is that channel's owner and forwards
// lifecycle events to the caller's observer.
type acquireTask struct {
	pool           *pool.Pool[*PooledConnection]
	cfg            *transport.Config
	obs            transport.ConnectionObserver
	sink           *acquireSink
	pendingTimeout time.Duration
	retried        bool
	span           *observability.Span
	log            *zap.Logger
}

func (t *acquireTask) run(ctx context.Context) {
	ref, err := t.pool.Acquire(ctx, t.pendingTimeout)
	if err != nil {
		t.sink.fail(err)
		return
	}
	pc := ref.Poolable()
	pc.ref.Store(ref)
	pc.ch.EventLoop().Execute(func() { t.onAcquired(ctx, ref, pc) })
}

// onAcquired runs on the channel's event loop.
func (t *acquireTask) onAcquired(ctx context.Context, ref *pool.Ref[*PooledConnection], pc *PooledConnection) {
	ch := pc.ch
	if !ch.Active() {
		go ref.Invalidate(context.Background())
		if !t.retried {
			t.log.Debug("immediately aborted pooled channel, re-acquiring a new channel",
				zap.String("channel", ch.String()))
			if t.span != nil {
				t.span.AddEvent("netpool.stale_channel", attribute.String("netpool.channel", ch.String()))
			}
			retry := *t
			retry.retried = true
			go retry.run(ctx)
			return
		}
		t.sink.fail(poolerrors.New(poolerrors.ErrorTypeAcquire, "error while acquiring from "+t.pool.Name()))
		return
	}

	prev := transport.Attr(ch, ownerKey).GetAndSet(t)

	configured := false
	switch current := prev.(type) {
	case *pendingObserver:
		t.registerClose(ref, pc)
		for _, ev := range current.drain() {
			if ev.hasState {
				configured = configured || ev.state == transport.StateConfigured
				t.OnStateChange(ev.conn, ev.state)
			} else {
				t.OnUncaughtException(ev.conn, ev.err)
			}
		}
	case nil:
		t.registerClose(ref, pc)
	default:
		t.log.Debug("channel acquired",
			zap.String("channel", ch.String()),
			zap.Int("active", t.pool.AcquiredSize()),
			zap.Int("inactive", t.pool.IdleSize()))
		t.obs.OnStateChange(pc, transport.StateAcquired)

		if setup := t.cfg.OnSetup; !transport.IsEmptySetup(setup) {
			if ops := setup.Create(pc, pc); ops != nil {
				ops.Bind()
				t.OnStateChange(ops, transport.StateConfigured)
				return
			}
		}
		t.deliver(pc)
		return
	}

	// A fresh channel. A replayed Configured event has delivered the
	// operations already.
	if !configured {
		t.deliver(transport.ConnectionFrom(ch))
	}
}

// registerClose invalidates the lease when the channel closes while an
// acquire task still owns it.
func (t *acquireTask) registerClose(ref *pool.Ref[*PooledConnection], pc *PooledConnection) {
	log := t.log
	pc.ch.OnClose(func() {
		if _, owned := transport.Attr(pc.ch, ownerKey).Get().(*acquireTask); !owned {
			return
		}
		log.Debug("channel closed, invalidating",
			zap.String("channel", pc.ch.String()),
			zap.Int("active", t.pool.AcquiredSize()),
			zap.Int("inactive", t.pool.IdleSize()))
		go ref.Invalidate(context.Background())
	})
}

func (t *acquireTask) deliver(conn transport.Connection) {
	if t.sink.success(conn) {
		return
	}
	t.releaseUndelivered(conn)
}

// releaseUndelivered gives back a connection nobody will receive. A channel
// that reported an error is not reused.
func (t *acquireTask) releaseUndelivered(conn transport.Connection) {
	if t.sink.poisoned.Load() {
		conn.MarkPersistent(false)
	}
	t.log.Debug("releasing undelivered connection", zap.String("channel", conn.Channel().String()))
	conn.Release()
}

// OnStateChange implements transport.ConnectionObserver.
func (t *acquireTask) OnStateChange(conn transport.Connection, state transport.ConnectionState) {
	if state == transport.StateConfigured {
		t.deliver(conn)
	}
	t.obs.OnStateChange(conn, state)
}

// OnUncaughtException implements transport.ConnectionObserver.
func (t *acquireTask) OnUncaughtException(conn transport.Connection, err error) {
	failure := poolerrors.New(poolerrors.ErrorTypeChannel, "channel failed while acquiring")
	if err != nil {
		failure = poolerrors.Wrap(err, poolerrors.ErrorTypeChannel, "channel failed while acquiring")
	}
	if t.sink.fail(failure) {
		t.sink.poisoned.Store(true)
	}
	t.obs.OnUncaughtException(conn, err)
}
