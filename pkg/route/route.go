// Package route turns a parsed connection expression into a live,
// owned transport to an nREPL server. Resolution expands the
// expression into an ordered candidate list, dials candidates in
// order, and for tunneled expressions supervises the SSH hop for the
// lifetime of the connection.
package route

import (
	"context"
	"fmt"
	"net"

	"github.com/nrsh-go/nrsh/pkg/connexpr"
)

// LookupIPFunc resolves a domain name to its addresses. The default is
// the system resolver; tests substitute a fixture.
type LookupIPFunc func(ctx context.Context, host string) ([]net.IP, error)

func systemLookup(ctx context.Context, host string) ([]net.IP, error) {
	return net.DefaultResolver.LookupIP(ctx, "ip", host)
}

// Candidate is one concrete way to reach a server: either a resolved
// TCP address to dial directly, or a destination to reach through an
// SSH hop.
type Candidate struct {
	// TCPAddr is set for direct candidates.
	TCPAddr *net.TCPAddr

	// Tunnel, Host and Port are set for tunneled candidates. Host is
	// the destination as written, unbracketed; it is resolved on the
	// hop, never locally.
	Tunnel *connexpr.TunnelExpr
	Host   string
	Port   connexpr.Port
}

func (c Candidate) String() string {
	if c.Tunnel != nil {
		return fmt.Sprintf("%s:%s:%d", c.Tunnel, c.Host, c.Port)
	}
	return c.TCPAddr.String()
}

// Candidates expands a non-alias connection expression into the
// ordered list of dial attempts. Destination ports iterate in listed
// order as the outer loop; for each port, resolved addresses iterate
// with IPv4 before IPv6. The expansion is deterministic for a given
// lookup result.
func Candidates(ctx context.Context, e connexpr.ConnExpr, lookup LookupIPFunc) ([]Candidate, error) {
	if lookup == nil {
		lookup = systemLookup
	}
	switch e.Kind {
	case connexpr.KindLocal:
		var out []Candidate
		for _, port := range e.Ports {
			out = append(out, Candidate{
				TCPAddr: &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: int(port)},
			})
		}
		return out, nil

	case connexpr.KindRemote:
		ips, err := resolveAddr(ctx, *e.Addr, lookup)
		if err != nil {
			return nil, err
		}
		var out []Candidate
		for _, port := range e.Ports {
			for _, ip := range ips {
				out = append(out, Candidate{
					TCPAddr: &net.TCPAddr{IP: ip, Port: int(port)},
				})
			}
		}
		return out, nil

	case connexpr.KindTunneled:
		var out []Candidate
		for _, port := range e.Ports {
			out = append(out, Candidate{
				Tunnel: e.Tunnel,
				Host:   e.Addr.String(),
				Port:   port,
			})
		}
		return out, nil

	case connexpr.KindAlias:
		return nil, fmt.Errorf("route: alias %q must be resolved before candidate expansion", e.Alias)

	default:
		return nil, fmt.Errorf("route: unknown expression kind %v", e.Kind)
	}
}

func resolveAddr(ctx context.Context, a connexpr.Addr, lookup LookupIPFunc) ([]net.IP, error) {
	if a.IsIP() {
		return []net.IP{a.IP}, nil
	}
	ips, err := lookup(ctx, a.Domain)
	if err != nil {
		return nil, fmt.Errorf("route: cannot resolve %q: %w", a.Domain, err)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("route: %q resolved to no addresses", a.Domain)
	}
	return orderIPs(ips), nil
}

// orderIPs moves IPv4 addresses ahead of IPv6 ones, keeping the
// resolver's order within each family.
func orderIPs(ips []net.IP) []net.IP {
	out := make([]net.IP, 0, len(ips))
	for _, ip := range ips {
		if ip.To4() != nil {
			out = append(out, ip)
		}
	}
	for _, ip := range ips {
		if ip.To4() == nil {
			out = append(out, ip)
		}
	}
	return out
}
