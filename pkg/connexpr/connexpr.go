// Package connexpr parses connection expressions: the compact address
// grammar describing where an nREPL server lives and how to reach it,
// optionally through an SSH hop.
//
// Surface forms, tried in this order (ordered choice, longest match):
//
//	tunneled   [user@]tunnel-addr[:tunnel-port]:addr:port-set
//	remote     addr:port-set
//	local      port-set
//	alias      identifier starting with a letter
//
// A port-set is a comma list of ports and inclusive low-high ranges,
// order preserved, duplicates collapsed. Parsing fails closed: input
// that is not wholly consumed by one of the forms is an error.
//
// The ordered choice is what disambiguates "1.2.3.4:5678" (remote) from
// tunneled forms: the tunneled alternative must match a complete inner
// remote expression, so it fails on a bare trailing port-set and the
// remote alternative wins.
package connexpr

import (
	"fmt"
	"net"
	"strings"
)

// Kind discriminates the parsed forms of a ConnExpr.
type Kind int

const (
	// KindLocal is a bare port-set; the host is the local machine.
	KindLocal Kind = iota
	// KindRemote is addr:port-set.
	KindRemote
	// KindTunneled is an SSH hop wrapped around a remote form.
	KindTunneled
	// KindAlias is a bare identifier resolved externally to one of the
	// other kinds.
	KindAlias
)

func (k Kind) String() string {
	switch k {
	case KindLocal:
		return "local"
	case KindRemote:
		return "remote"
	case KindTunneled:
		return "tunneled"
	case KindAlias:
		return "alias"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// TunnelExpr describes the SSH hop of a tunneled expression.
type TunnelExpr struct {
	// User is the login name on the hop, empty when not given.
	User string
	Addr Addr
	// Port is the hop's SSH port; 0 means not given (client default).
	Port Port
}

func (t TunnelExpr) String() string {
	out := ""
	if t.User != "" {
		out = t.User + "@"
	}
	out += t.Addr.DialHost()
	if t.Port != 0 {
		out += fmt.Sprintf(":%d", t.Port)
	}
	return out
}

// ConnExpr is a parsed, unresolved connection expression. It is a value
// type; resolution never mutates it.
type ConnExpr struct {
	Kind Kind

	// Alias is set for KindAlias.
	Alias string
	// Tunnel is set for KindTunneled.
	Tunnel *TunnelExpr
	// Addr is set for KindRemote and KindTunneled.
	Addr *Addr
	// Ports is set for every kind except KindAlias.
	Ports PortSet
}

func (e ConnExpr) String() string {
	switch e.Kind {
	case KindAlias:
		return e.Alias
	case KindLocal:
		return e.Ports.String()
	case KindRemote:
		return e.Addr.DialHost() + ":" + e.Ports.String()
	case KindTunneled:
		return e.Tunnel.String() + ":" + e.Addr.DialHost() + ":" + e.Ports.String()
	default:
		return e.Kind.String()
	}
}

// Parse parses a connection expression, failing closed on any trailing
// unconsumed input.
func Parse(s string) (ConnExpr, error) {
	if e, ok := parseTunneled(s); ok {
		return e, nil
	}
	if e, ok := parseRemote(s); ok {
		return e, nil
	}
	if e, ok := parseLocal(s); ok {
		return e, nil
	}
	if e, ok := parseAlias(s); ok {
		return e, nil
	}
	return ConnExpr{}, fmt.Errorf("connexpr: cannot parse connection expression %q", s)
}

func parseTunneled(s string) (ConnExpr, bool) {
	p := &parser{input: s}

	user := ""
	mark := p.pos
	if u, ok := p.userName(); ok && p.eat('@') {
		user = u
	} else {
		p.pos = mark
	}

	tunnelAddr, ok := p.addr()
	if !ok {
		return ConnExpr{}, false
	}

	// With an explicit hop port first: addr ":" port ":" remote.
	mark = p.pos
	if p.eat(':') {
		if port, ok := p.port(); ok && p.eat(':') {
			if addr, ports, ok := p.remote(); ok && p.atEnd() {
				return ConnExpr{
					Kind:   KindTunneled,
					Tunnel: &TunnelExpr{User: user, Addr: tunnelAddr, Port: port},
					Addr:   &addr,
					Ports:  ports,
				}, true
			}
		}
	}
	p.pos = mark

	// Without a hop port: addr ":" remote.
	if p.eat(':') {
		if addr, ports, ok := p.remote(); ok && p.atEnd() {
			return ConnExpr{
				Kind:   KindTunneled,
				Tunnel: &TunnelExpr{User: user, Addr: tunnelAddr},
				Addr:   &addr,
				Ports:  ports,
			}, true
		}
	}
	return ConnExpr{}, false
}

func parseRemote(s string) (ConnExpr, bool) {
	p := &parser{input: s}
	addr, ports, ok := p.remote()
	if !ok || !p.atEnd() {
		return ConnExpr{}, false
	}
	return ConnExpr{Kind: KindRemote, Addr: &addr, Ports: ports}, true
}

func parseLocal(s string) (ConnExpr, bool) {
	p := &parser{input: s}
	ports, ok := p.portSet()
	if !ok || !p.atEnd() {
		return ConnExpr{}, false
	}
	return ConnExpr{Kind: KindLocal, Ports: ports}, true
}

func parseAlias(s string) (ConnExpr, bool) {
	if s == "" || !isLetter(s[0]) {
		return ConnExpr{}, false
	}
	for i := 1; i < len(s); i++ {
		c := s[i]
		if !isLetter(c) && !isDigit(c) && c != '_' && c != '-' {
			return ConnExpr{}, false
		}
	}
	return ConnExpr{Kind: KindAlias, Alias: s}, true
}

// parser is a cursor over the input; alternatives backtrack by saving
// and restoring pos.
type parser struct {
	input string
	pos   int
}

func (p *parser) atEnd() bool {
	return p.pos >= len(p.input)
}

func (p *parser) eat(c byte) bool {
	if p.pos < len(p.input) && p.input[p.pos] == c {
		p.pos++
		return true
	}
	return false
}

// remote parses addr ":" port-set.
func (p *parser) remote() (Addr, PortSet, bool) {
	mark := p.pos
	addr, ok := p.addr()
	if !ok || !p.eat(':') {
		p.pos = mark
		return Addr{}, nil, false
	}
	ports, ok := p.portSet()
	if !ok {
		p.pos = mark
		return Addr{}, nil, false
	}
	return addr, ports, true
}

func (p *parser) addr() (Addr, bool) {
	if p.pos < len(p.input) && p.input[p.pos] == '[' {
		return p.bracketedIPv6()
	}
	mark := p.pos
	s := p.run(func(c byte) bool {
		return isLetter(c) || isDigit(c) || c == '.' || c == '-'
	})
	if s == "" {
		return Addr{}, false
	}
	if validIPv4(s) {
		return Addr{IP: net.ParseIP(s)}, true
	}
	if validDomain(s) {
		return Addr{Domain: s}, true
	}
	p.pos = mark
	return Addr{}, false
}

func (p *parser) bracketedIPv6() (Addr, bool) {
	mark := p.pos
	p.pos++ // consume '['
	end := strings.IndexByte(p.input[p.pos:], ']')
	if end < 0 {
		p.pos = mark
		return Addr{}, false
	}
	inner := p.input[p.pos : p.pos+end]
	ip := net.ParseIP(inner)
	if ip == nil || !strings.Contains(inner, ":") {
		p.pos = mark
		return Addr{}, false
	}
	p.pos += end + 1
	return Addr{IP: ip}, true
}

func (p *parser) port() (Port, bool) {
	digits := p.run(isDigit)
	if digits == "" {
		return 0, false
	}
	n := 0
	for i := 0; i < len(digits); i++ {
		n = n*10 + int(digits[i]-'0')
		if n > 65535 {
			p.pos -= len(digits)
			return 0, false
		}
	}
	return Port(n), true
}

func (p *parser) portSet() (PortSet, bool) {
	mark := p.pos
	var ports []Port
	for {
		low, ok := p.port()
		if !ok {
			p.pos = mark
			return nil, false
		}
		if p.eat('-') {
			high, ok := p.port()
			// Ranges must ascend; a reversed range is a parse error, not
			// a reversed expansion.
			if !ok || low > high {
				p.pos = mark
				return nil, false
			}
			for port := int(low); port <= int(high); port++ {
				ports = appendPort(ports, Port(port))
			}
		} else {
			ports = appendPort(ports, low)
		}
		if !p.eat(',') {
			return PortSet(ports), true
		}
	}
}

func (p *parser) userName() (string, bool) {
	s := p.run(func(c byte) bool {
		return isLetter(c) || isDigit(c) || c == '.' || c == '_' || c == '-'
	})
	return s, s != ""
}

// run consumes the maximal prefix whose bytes satisfy pred.
func (p *parser) run(pred func(byte) bool) string {
	start := p.pos
	for p.pos < len(p.input) && pred(p.input[p.pos]) {
		p.pos++
	}
	return p.input[start:p.pos]
}
