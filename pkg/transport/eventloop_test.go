package transport_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/netpool/pkg/testutil"
	"github.com/ajitpratap0/netpool/pkg/transport"
)

func TestEventLoopRunsTasksInOrder(t *testing.T) {
	group := transport.NewEventLoopGroup(1, testutil.TestLogger(t))
	defer func() { _ = group.Shutdown(context.Background()) }()
	loop := group.Next()

	var mu sync.Mutex
	var got []int
	for i := 0; i < 100; i++ {
		i := i
		loop.Execute(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}
	require.NoError(t, loop.Barrier(testutil.TestContext(t)))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestEventLoopTasksScheduledFromTasksRunLater(t *testing.T) {
	group := transport.NewEventLoopGroup(1, testutil.TestLogger(t))
	defer func() { _ = group.Shutdown(context.Background()) }()
	loop := group.Next()

	var order []string
	loop.Execute(func() {
		loop.Execute(func() { order = append(order, "nested") })
		order = append(order, "outer")
	})
	require.NoError(t, loop.Barrier(testutil.TestContext(t)))
	require.NoError(t, loop.Barrier(testutil.TestContext(t)))
	assert.Equal(t, []string{"outer", "nested"}, order)
}

func TestEventLoopRecoversPanics(t *testing.T) {
	group := transport.NewEventLoopGroup(1, testutil.TestLogger(t))
	defer func() { _ = group.Shutdown(context.Background()) }()
	loop := group.Next()

	loop.Execute(func() { panic("boom") })
	ran := make(chan struct{})
	loop.Execute(func() { close(ran) })

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("loop stopped after a panicking task")
	}
}

func TestEventLoopGroupRoundRobin(t *testing.T) {
	group := transport.NewEventLoopGroup(3, testutil.TestLogger(t))
	defer func() { _ = group.Shutdown(context.Background()) }()

	assert.Equal(t, 3, group.Len())
	ids := []int{group.Next().ID(), group.Next().ID(), group.Next().ID(), group.Next().ID()}
	assert.Equal(t, []int{0, 1, 2, 0}, ids)
}

func TestExecuteAfterShutdownStillRuns(t *testing.T) {
	group := transport.NewEventLoopGroup(0, testutil.TestLogger(t))
	loop := group.Next()

	drained := make(chan struct{})
	loop.Execute(func() { close(drained) })
	require.NoError(t, group.Shutdown(testutil.TestContext(t)))
	<-drained

	ran := make(chan struct{})
	loop.Execute(func() { close(ran) })
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("task submitted after shutdown never ran")
	}
}

func TestAttribute(t *testing.T) {
	ch, _ := newPipeChannel(t)
	key := transport.NewAttributeKey[string]("name")
	assert.Equal(t, "name", key.Name())

	attr := transport.Attr(ch, key)
	assert.Same(t, attr, transport.Attr(ch, key))
	assert.Equal(t, "", attr.Get())

	assert.True(t, attr.CompareAndSet("", "a"))
	assert.False(t, attr.CompareAndSet("", "b"))
	assert.Equal(t, "a", attr.GetAndSet("c"))
	attr.Set("d")
	assert.Equal(t, "d", attr.Get())

	other := transport.NewAttributeKey[string]("name")
	assert.Equal(t, "", transport.Attr(ch, other).Get(), "keys compare by identity")
}
