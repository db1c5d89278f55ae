// Package provider pools transport channels per destination.
//
// A Provider keeps one pool per PoolKey, that is per remote address and
// pipeline. Acquire leases an idle channel or opens a new one, up to the
// configured bound, and queues the caller otherwise. Each lease is owned by
// an acquire task that receives the channel's lifecycle events and forwards
// them to the caller's observer. Releasing a connection returns the channel
// to its pool unless it was marked non-persistent or has closed.
//
//	p, err := provider.New(config.DefaultProviderConfig("api"), connector)
//	conn, err := p.Acquire(ctx, cfg, nil, func() net.Addr { return addr }, transport.NewDefaultResolver())
//	defer conn.Release()
package provider
