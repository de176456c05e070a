package connexpr

import "fmt"

// Port is a TCP port number.
type Port = uint16

// PortSet is a non-empty ordered set of ports. Order is preserved as
// written; duplicates collapse to the first occurrence.
type PortSet []Port

// ParsePortSet parses "entry(,entry)*" where entry is "port" or
// "low-high" (inclusive, low ≤ high). Trailing input is a parse error.
func ParsePortSet(s string) (PortSet, error) {
	p := &parser{input: s}
	ports, ok := p.portSet()
	if !ok || !p.atEnd() {
		return nil, fmt.Errorf("connexpr: invalid port set %q", s)
	}
	return ports, nil
}

func (ps PortSet) String() string {
	out := ""
	for i, port := range ps {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf("%d", port)
	}
	return out
}

// appendPort adds port unless it is already present.
func appendPort(ports []Port, port Port) []Port {
	for _, p := range ports {
		if p == port {
			return ports
		}
	}
	return append(ports, port)
}
