package transport

import (
	"context"
	"net"
	"strconv"

	poolerrors "github.com/ajitpratap0/netpool/pkg/errors"
)

// UnresolvedAddr is a host name and port that still needs resolving.
type UnresolvedAddr struct {
	Host string
	Port int
}

// Network implements net.Addr.
func (a UnresolvedAddr) Network() string { return "tcp" }

// String implements net.Addr.
func (a UnresolvedAddr) String() string { return net.JoinHostPort(a.Host, strconv.Itoa(a.Port)) }

// HostPort returns the host string and port of IP socket addresses
// (*net.TCPAddr, *net.UDPAddr, UnresolvedAddr). ok is false otherwise.
func HostPort(addr net.Addr) (host string, port int, ok bool) {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return hostString(a.IP, a.Zone), a.Port, true
	case *net.UDPAddr:
		return hostString(a.IP, a.Zone), a.Port, true
	case UnresolvedAddr:
		return a.Host, a.Port, true
	case *UnresolvedAddr:
		return a.Host, a.Port, true
	default:
		return "", 0, false
	}
}

func hostString(ip net.IP, zone string) string {
	if ip == nil {
		return ""
	}
	if zone != "" {
		return ip.String() + "%" + zone
	}
	return ip.String()
}

// IsWildcard reports whether addr is an IP socket address bound to the
// unspecified address.
func IsWildcard(addr net.Addr) bool {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.IP == nil || a.IP.IsUnspecified()
	case *net.UDPAddr:
		return a.IP == nil || a.IP.IsUnspecified()
	default:
		host, _, ok := HostPort(addr)
		if !ok {
			return false
		}
		ip := net.ParseIP(host)
		return ip != nil && ip.IsUnspecified()
	}
}

// FormatAddr renders addr as host:port for IP socket addresses and as its
// String form otherwise.
func FormatAddr(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	if host, port, ok := HostPort(addr); ok {
		return net.JoinHostPort(host, strconv.Itoa(port))
	}
	return addr.String()
}

// Resolver turns an address into a dialable one.
type Resolver interface {
	Resolve(ctx context.Context, addr net.Addr) (net.Addr, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, addr net.Addr) (net.Addr, error)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(ctx context.Context, addr net.Addr) (net.Addr, error) {
	return f(ctx, addr)
}

// DefaultResolver resolves UnresolvedAddr through a net.Resolver and returns
// every other address unchanged.
type DefaultResolver struct {
	Resolver *net.Resolver
}

// NewDefaultResolver returns a resolver backed by net.DefaultResolver.
func NewDefaultResolver() *DefaultResolver {
	return &DefaultResolver{Resolver: net.DefaultResolver}
}

// Resolve implements Resolver.
func (r *DefaultResolver) Resolve(ctx context.Context, addr net.Addr) (net.Addr, error) {
	var ua UnresolvedAddr
	switch a := addr.(type) {
	case UnresolvedAddr:
		ua = a
	case *UnresolvedAddr:
		ua = *a
	default:
		return addr, nil
	}

	res := r.Resolver
	if res == nil {
		res = net.DefaultResolver
	}
	ips, err := res.LookupIPAddr(ctx, ua.Host)
	if err != nil {
		return nil, poolerrors.Wrap(err, poolerrors.ErrorTypeConnection, "failed to resolve address").
			WithDetail("host", ua.Host)
	}
	if len(ips) == 0 {
		return nil, poolerrors.New(poolerrors.ErrorTypeConnection, "no addresses found").
			WithDetail("host", ua.Host)
	}
	return &net.TCPAddr{IP: ips[0].IP, Port: ua.Port, Zone: ips[0].Zone}, nil
}
