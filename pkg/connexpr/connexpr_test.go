package connexpr

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dom(s string) Addr { return Addr{Domain: s} }

func ip(s string) Addr { return Addr{IP: net.ParseIP(s)} }

func TestParsePortSet(t *testing.T) {
	cases := map[string]PortSet{
		"1":         {1},
		"65535":     {65535},
		"1,2":       {1, 2},
		"1-3":       {1, 2, 3},
		"1,1-2,5,2-4": {1, 2, 5, 3, 4},
		"8000,9000-9002": {8000, 9000, 9001, 9002},
	}
	for input, want := range cases {
		got, err := ParsePortSet(input)
		require.NoError(t, err, "input %q", input)
		assert.Equal(t, want, got, "input %q", input)
	}

	bad := []string{
		"", " 1", "1 ", ",", ",1", "1,", "-1", "1-", "1,,2", "1--2",
		"1-2-3", "65536",
		// Ranges must ascend.
		"3-1",
	}
	for _, input := range bad {
		_, err := ParsePortSet(input)
		assert.Error(t, err, "input %q", input)
	}
}

func TestParseAddrDomain(t *testing.T) {
	for _, s := range []string{"localhost", "localhost.", "a.b.c.d", "a1.b-2.c--3.d---4"} {
		got, err := ParseAddr(s)
		require.NoError(t, err, "input %q", s)
		assert.Equal(t, dom(s), got)
	}
}

func TestParseAddrIPv4(t *testing.T) {
	for _, s := range []string{"0.0.0.0", "1.2.3.4", "255.255.255.255"} {
		got, err := ParseAddr(s)
		require.NoError(t, err, "input %q", s)
		require.True(t, got.IsIP())
		assert.Equal(t, s, got.String())
	}
}

func TestParseAddrIPv6(t *testing.T) {
	cases := map[string]string{
		"[::]":                     "::",
		"[::1]":                    "::1",
		"[1::]":                    "1::",
		"[DEAD::BEEF]":             "dead::beef",
		"[dead::beef]":             "dead::beef",
		"[1:23:456:789a::127.0.0.1]": "1:23:456:789a::7f00:1",
	}
	for input, want := range cases {
		got, err := ParseAddr(input)
		require.NoError(t, err, "input %q", input)
		require.True(t, got.IsIP())
		assert.Equal(t, want, got.IP.String(), "input %q", input)
	}
}

func TestParseAddrRejectsJunk(t *testing.T) {
	bad := []string{
		" 1.2.3.4", "", ".", "01.2.3.4", "1. 2.3.4", "1.2.3.04",
		"1.2.3.256", "1.2.3.4 ", "1.2.3.4.com", "1.com", "[ ::]",
		"[:: ]", "[]", "dash-.com", "tyre.8bar.com",
		// Legal IPs elsewhere, but not in this grammar.
		"1", "1.2", "1.2.3",
	}
	for _, input := range bad {
		_, err := ParseAddr(input)
		assert.Error(t, err, "input %q", input)
	}
}

func TestParseLocal(t *testing.T) {
	cases := map[string]PortSet{
		"1":     {1},
		"1,2":   {1, 2},
		"1-3":   {1, 2, 3},
		"1,3,1-3": {1, 3, 2},
	}
	for input, ports := range cases {
		got, err := Parse(input)
		require.NoError(t, err, "input %q", input)
		assert.Equal(t, ConnExpr{Kind: KindLocal, Ports: ports}, got, "input %q", input)
	}
}

func TestParseRemote(t *testing.T) {
	mk := func(addr Addr, ports PortSet) ConnExpr {
		return ConnExpr{Kind: KindRemote, Addr: &addr, Ports: ports}
	}
	cases := map[string]ConnExpr{
		"1.2.3.4:1,2-3":        mk(ip("1.2.3.4"), PortSet{1, 2, 3}),
		"[0:dead::beef:0]:1,2-3": mk(ip("0:dead::beef:0"), PortSet{1, 2, 3}),
		"localhost:1,2-3":      mk(dom("localhost"), PortSet{1, 2, 3}),
	}
	for input, want := range cases {
		got, err := Parse(input)
		require.NoError(t, err, "input %q", input)
		assert.Equal(t, want, got, "input %q", input)
	}
}

func TestParseTunneled(t *testing.T) {
	mk := func(user string, tunnelAddr Addr, tunnelPort Port, addr Addr, ports PortSet) ConnExpr {
		return ConnExpr{
			Kind:   KindTunneled,
			Tunnel: &TunnelExpr{User: user, Addr: tunnelAddr, Port: tunnelPort},
			Addr:   &addr,
			Ports:  ports,
		}
	}
	cases := map[string]ConnExpr{
		"1.2.3.4:5.6.7.8:9":    mk("", ip("1.2.3.4"), 0, ip("5.6.7.8"), PortSet{9}),
		"1.2.3.4:5:6.7.8.9:10": mk("", ip("1.2.3.4"), 5, ip("6.7.8.9"), PortSet{10}),
		"a@1.2.3.4:5.6.7.8:9":  mk("a", ip("1.2.3.4"), 0, ip("5.6.7.8"), PortSet{9}),
		"a@1.2.3.4:5:6.7.8.9:10": mk("a", ip("1.2.3.4"), 5, ip("6.7.8.9"), PortSet{10}),
		"[::]:[::]:1":          mk("", ip("::"), 0, ip("::"), PortSet{1}),
		"[::]:1:[::]:1":        mk("", ip("::"), 1, ip("::"), PortSet{1}),
		"a@[1:2:3:4:5:6:7:8]:9:[10:11:12:13:14:15:16:17]:18": mk(
			"a", ip("1:2:3:4:5:6:7:8"), 9, ip("10:11:12:13:14:15:16:17"), PortSet{18}),
		"a@b.c.d:e.f.g:1":      mk("a", dom("b.c.d"), 0, dom("e.f.g"), PortSet{1}),
		"a@b.c.d.:1:e.f.g.:2":  mk("a", dom("b.c.d."), 1, dom("e.f.g."), PortSet{2}),
		"deploy@bastion:2222:internal:7888-7890": mk(
			"deploy", dom("bastion"), 2222, dom("internal"), PortSet{7888, 7889, 7890}),
	}
	for input, want := range cases {
		got, err := Parse(input)
		require.NoError(t, err, "input %q", input)
		assert.Equal(t, want, got, "input %q", input)
	}
}

func TestParseAlias(t *testing.T) {
	for _, input := range []string{"x", "my_prod_host_1", "staging-repl"} {
		got, err := Parse(input)
		require.NoError(t, err, "input %q", input)
		assert.Equal(t, ConnExpr{Kind: KindAlias, Alias: input}, got, "input %q", input)
	}
}

// A bare addr:port must parse as remote even though its first octet
// could be misread as the start of a tunneled form.
func TestParseOrderedChoice(t *testing.T) {
	got, err := Parse("1.2.3.4:5678")
	require.NoError(t, err)
	assert.Equal(t, KindRemote, got.Kind)

	got, err = Parse("localhost:8000,8001")
	require.NoError(t, err)
	assert.Equal(t, KindRemote, got.Kind)

	got, err = Parse("bastion:internal:8000")
	require.NoError(t, err)
	assert.Equal(t, KindTunneled, got.Kind)
}

func TestParseFailsClosed(t *testing.T) {
	bad := []string{
		"",
		" 1",
		"1 ",
		"localhost:",
		":8000",
		"a@:8000",
		"a@@b:1",
		"host:3-1",
		"host:1:extra:stuff:1:more",
		"1.2.3.4:5678garbage",
		"host:1,2,",
	}
	for _, input := range bad {
		_, err := Parse(input)
		assert.Error(t, err, "input %q", input)
	}
}

func TestConnExprString(t *testing.T) {
	for _, input := range []string{
		"7888",
		"localhost:7888",
		"a@bastion:2222:internal:7888",
		"my-host",
	} {
		e, err := Parse(input)
		require.NoError(t, err)
		assert.Equal(t, input, e.String(), "round trip of %q", input)
	}
}
