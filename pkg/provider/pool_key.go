package provider

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/cespare/xxhash/v2"

	"github.com/ajitpratap0/netpool/pkg/transport"
)

// PoolKey identifies one pool: a destination address plus the pipeline it is
// set up with. Keys are comparable values.
type PoolKey struct {
	network      string
	address      string
	pipelineHash uint32
	fqdn         string
}

// NewPoolKey builds the key for holder and a transport.Config pipeline hash.
func NewPoolKey(holder net.Addr, pipelineHash uint32) PoolKey {
	fqdn := "null"
	if _, _, ok := transport.HostPort(holder); ok {
		fqdn = transport.FormatAddr(holder)
	}
	return PoolKey{
		network:      holder.Network(),
		address:      holder.String(),
		pipelineHash: pipelineHash,
		fqdn:         fqdn,
	}
}

// FQDN returns the formatted address for IP socket addresses and "null"
// otherwise.
func (k PoolKey) FQDN() string { return k.fqdn }

// PipelineHash returns the pipeline component of the key.
func (k PoolKey) PipelineHash() uint32 { return k.pipelineHash }

// Hash returns a stable 32-bit hash of the key, used as the pool metrics id.
func (k PoolKey) Hash() uint32 {
	d := xxhash.New()
	_, _ = d.WriteString(k.network)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(k.address)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(k.fqdn)
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], k.pipelineHash)
	_, _ = d.Write(b[:])
	sum := d.Sum64()
	return uint32(sum ^ (sum >> 32))
}

// String implements fmt.Stringer.
func (k PoolKey) String() string {
	return fmt.Sprintf("%s/%s#%08x", k.network, k.address, k.pipelineHash)
}

// sameDestination reports whether a pool created for origin should be
// disposed when target is disposed: equal addresses, or IP socket addresses
// on the same port where target is a wildcard or both host strings match.
// Host strings are compared as written, never resolved.
func sameDestination(origin, target net.Addr) bool {
	if origin.Network() == target.Network() && origin.String() == target.String() {
		return true
	}
	oh, op, ok1 := transport.HostPort(origin)
	th, tp, ok2 := transport.HostPort(target)
	if !ok1 || !ok2 || op != tp {
		return false
	}
	return transport.IsWildcard(target) || oh == th
}
