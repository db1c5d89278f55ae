// Package pool implements the bounded, lazily allocated pool that backs every
// netpool destination.
//
// # Bookkeeping
//
// Each resource is in exactly one of three places: the idle list, the leased
// set, or gone (destroyed). In-flight allocations reserve a slot, so
//
//	idle + leased + allocating <= MaxSize
//
// holds at all times. All bookkeeping happens under one mutex; allocation and
// destruction run outside it.
//
// # Leasing order
//
// Released resources are appended to the idle list. FIFO leases from the
// front (longest idle first), LIFO from the back (most recently released
// first). Queued acquires are always served in arrival order regardless of
// the strategy.
//
// # Pending acquires
//
// When the pool is saturated, Acquire queues. The queue is bounded by
// MaxPending (Unbounded disables the bound); an acquire that would exceed it
// fails immediately with a pending_acquire_overflow error. A queued acquire
// fails with pending_acquire_timeout when its timeout expires, with the
// context error when the caller gives up, and with pool_closed when the pool
// is disposed. Each waiter leaves the queue exactly once.
//
// # Eviction
//
// The Evict predicate is consulted on release, before an idle resource is
// leased again and, when EvictionInterval is set, by a background sweep.
// Evicted resources are destroyed through the Destroy callback; destroy
// errors are logged and swallowed.
package pool
