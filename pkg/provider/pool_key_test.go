package provider

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ajitpratap0/netpool/pkg/transport"
)

func TestPoolKey(t *testing.T) {
	a := NewPoolKey(&net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 80}, 7)
	b := NewPoolKey(&net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 80}, 7)
	c := NewPoolKey(&net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 80}, 8)

	assert.Equal(t, a, b)
	assert.Equal(t, a.Hash(), b.Hash())
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a.Hash(), c.Hash())
	assert.Equal(t, "10.0.0.1:80", a.FQDN())
	assert.Equal(t, uint32(7), a.PipelineHash())

	m := map[PoolKey]int{a: 1}
	assert.Equal(t, 1, m[b])
}

func TestPoolKeyNonIPAddress(t *testing.T) {
	k := NewPoolKey(&net.UnixAddr{Name: "/tmp/app.sock", Net: "unix"}, 1)
	assert.Equal(t, "null", k.FQDN())
	assert.Contains(t, k.String(), "/tmp/app.sock")
}

func TestSameDestination(t *testing.T) {
	origin := &net.TCPAddr{IP: net.IPv4(192, 168, 1, 10), Port: 443}
	tests := []struct {
		name   string
		target net.Addr
		want   bool
	}{
		{"equal", &net.TCPAddr{IP: net.IPv4(192, 168, 1, 10), Port: 443}, true},
		{"wildcard same port", &net.TCPAddr{IP: net.IPv4zero, Port: 443}, true},
		{"ipv6 wildcard same port", &net.TCPAddr{IP: net.IPv6unspecified, Port: 443}, true},
		{"wildcard other port", &net.TCPAddr{IP: net.IPv4zero, Port: 80}, false},
		{"same host string unresolved", transport.UnresolvedAddr{Host: "192.168.1.10", Port: 443}, true},
		{"hostname is not resolved", transport.UnresolvedAddr{Host: "db.internal", Port: 443}, false},
		{"other host", &net.TCPAddr{IP: net.IPv4(192, 168, 1, 11), Port: 443}, false},
		{"non ip address", &net.UnixAddr{Name: "/tmp/x.sock", Net: "unix"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sameDestination(origin, tt.target))
		})
	}

	sock := &net.UnixAddr{Name: "/tmp/x.sock", Net: "unix"}
	assert.True(t, sameDestination(sock, &net.UnixAddr{Name: "/tmp/x.sock", Net: "unix"}))
}
