package connexpr

import (
	"fmt"
	"net"
	"strings"
)

// Addr is a host address: either a domain name kept as written, or an
// IPv4/IPv6 literal. Domain names are not resolved at parse time.
type Addr struct {
	Domain string
	IP     net.IP
}

// IsIP reports whether the address is an IP literal.
func (a Addr) IsIP() bool {
	return a.IP != nil
}

func (a Addr) String() string {
	if a.IP != nil {
		return a.IP.String()
	}
	return a.Domain
}

// DialHost renders the address the way net.Dial and ssh expect it,
// bracketing IPv6 literals.
func (a Addr) DialHost() string {
	if a.IP != nil && a.IP.To4() == nil {
		return "[" + a.IP.String() + "]"
	}
	return a.String()
}

// ParseAddr parses a whole string as a single address. Trailing input
// is a parse error.
func ParseAddr(s string) (Addr, error) {
	p := &parser{input: s}
	addr, ok := p.addr()
	if !ok || !p.atEnd() {
		return Addr{}, fmt.Errorf("connexpr: invalid address %q", s)
	}
	return addr, nil
}

const (
	maxDomainLen = 253
	maxLabelLen  = 63
)

// validDomain checks the written form of a domain name: dot-separated
// labels, each starting with a letter, continuing with letters, digits,
// and hyphens, not ending with a hyphen. A single trailing dot is
// allowed (fully-qualified form).
func validDomain(s string) bool {
	if s == "" || len(s) > maxDomainLen {
		return false
	}
	trimmed := strings.TrimSuffix(s, ".")
	if trimmed == "" {
		return false
	}
	for _, label := range strings.Split(trimmed, ".") {
		if !validLabel(label) {
			return false
		}
	}
	return true
}

func validLabel(label string) bool {
	if label == "" || len(label) > maxLabelLen {
		return false
	}
	if !isLetter(label[0]) {
		return false
	}
	if label[len(label)-1] == '-' {
		return false
	}
	for i := 1; i < len(label); i++ {
		c := label[i]
		if !isLetter(c) && !isDigit(c) && c != '-' {
			return false
		}
	}
	return true
}

// validIPv4 accepts exactly four dot-separated decimal octets, each
// 0-255 with no leading zeros.
func validIPv4(s string) bool {
	octets := strings.Split(s, ".")
	if len(octets) != 4 {
		return false
	}
	for _, o := range octets {
		if o == "" || len(o) > 3 {
			return false
		}
		if len(o) > 1 && o[0] == '0' {
			return false
		}
		n := 0
		for i := 0; i < len(o); i++ {
			if !isDigit(o[i]) {
				return false
			}
			n = n*10 + int(o[i]-'0')
		}
		if n > 255 {
			return false
		}
	}
	return true
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
