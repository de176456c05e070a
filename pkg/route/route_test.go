package route

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/sammck-go/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nrsh-go/nrsh/pkg/connexpr"
	"github.com/nrsh-go/nrsh/pkg/nrepl"
)

func mustParse(t *testing.T, s string) connexpr.ConnExpr {
	t.Helper()
	e, err := connexpr.Parse(s)
	require.NoError(t, err)
	return e
}

func candidateAddrs(cs []Candidate) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.String())
	}
	return out
}

func TestCandidatesLocal(t *testing.T) {
	cs, err := Candidates(context.Background(), mustParse(t, "8000,9000-9002"), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"127.0.0.1:8000",
		"127.0.0.1:9000",
		"127.0.0.1:9001",
		"127.0.0.1:9002",
	}, candidateAddrs(cs))
}

func TestCandidatesRemoteIPLiteral(t *testing.T) {
	// IP literals never hit the resolver.
	lookup := func(ctx context.Context, host string) ([]net.IP, error) {
		t.Fatalf("unexpected lookup of %q", host)
		return nil, nil
	}
	cs, err := Candidates(context.Background(), mustParse(t, "10.1.2.3:7888,7889"), lookup)
	require.NoError(t, err)
	assert.Equal(t, []string{"10.1.2.3:7888", "10.1.2.3:7889"}, candidateAddrs(cs))
}

func TestCandidatesRemoteDomainPortMajorIPv4First(t *testing.T) {
	lookup := func(ctx context.Context, host string) ([]net.IP, error) {
		assert.Equal(t, "svc.example", host)
		return []net.IP{
			net.ParseIP("2001:db8::1"),
			net.ParseIP("10.0.0.1"),
			net.ParseIP("10.0.0.2"),
		}, nil
	}
	cs, err := Candidates(context.Background(), mustParse(t, "svc.example:8000,9000"), lookup)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"10.0.0.1:8000",
		"10.0.0.2:8000",
		"[2001:db8::1]:8000",
		"10.0.0.1:9000",
		"10.0.0.2:9000",
		"[2001:db8::1]:9000",
	}, candidateAddrs(cs))
}

func TestCandidatesRemoteEmptyLookup(t *testing.T) {
	lookup := func(ctx context.Context, host string) ([]net.IP, error) {
		return nil, nil
	}
	_, err := Candidates(context.Background(), mustParse(t, "svc.example:8000"), lookup)
	assert.Error(t, err)
}

func TestCandidatesTunneled(t *testing.T) {
	cs, err := Candidates(context.Background(), mustParse(t, "deploy@bastion:2222:internal:7888,7889"), nil)
	require.NoError(t, err)
	require.Len(t, cs, 2)
	for i, c := range cs {
		require.NotNil(t, c.Tunnel, "candidate %d", i)
		assert.Equal(t, "deploy", c.Tunnel.User)
		assert.Equal(t, "bastion", c.Tunnel.Addr.String())
		assert.Equal(t, connexpr.Port(2222), c.Tunnel.Port)
		assert.Equal(t, "internal", c.Host)
	}
	assert.Equal(t, connexpr.Port(7888), cs[0].Port)
	assert.Equal(t, connexpr.Port(7889), cs[1].Port)
}

func TestCandidatesRejectUnresolvedAlias(t *testing.T) {
	_, err := Candidates(context.Background(), mustParse(t, "my-host"), nil)
	assert.Error(t, err)
}

func TestResolveThroughAlias(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	go func() {
		conn, err := l.Accept()
		if err == nil {
			conn.Close()
		}
	}()
	port := l.Addr().(*net.TCPAddr).Port

	r := &Resolver{
		Logger: logger.NilLogger,
		Aliases: func(alias string) (string, error) {
			switch alias {
			case "dev":
				return "dev-direct", nil
			case "dev-direct":
				return fmt.Sprintf("%d", port), nil
			}
			return "", fmt.Errorf("no such alias %q", alias)
		},
	}
	conn, err := r.Resolve(context.Background(), "dev")
	require.NoError(t, err)
	assert.NoError(t, conn.Close())
}

func TestResolveAliasCycle(t *testing.T) {
	r := &Resolver{
		Logger: logger.NilLogger,
		Aliases: func(alias string) (string, error) {
			return alias, nil
		},
	}
	_, err := r.Resolve(context.Background(), "loopy")
	var cerr *nrepl.ConnectionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "loopy", cerr.Expr)
}

func TestResolveUnknownAliasWithoutResolver(t *testing.T) {
	r := &Resolver{Logger: logger.NilLogger}
	_, err := r.Resolve(context.Background(), "no-such-host")
	var cerr *nrepl.ConnectionError
	assert.ErrorAs(t, err, &cerr)
}

func TestResolveExhaustsCandidates(t *testing.T) {
	// Grab a port that is free, then close it so every dial is refused.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	r := &Resolver{Logger: logger.NilLogger, DialTimeout: time.Second}
	_, err = r.Resolve(context.Background(), fmt.Sprintf("%d", port))
	var cerr *nrepl.ConnectionError
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, cerr.Error(), "all candidates failed")
	assert.Equal(t, 1, nrepl.ExitCode(err))
}

type countingCloser struct {
	closes int
}

func (c *countingCloser) Close() error {
	c.closes++
	return nil
}

func TestConnectionReleasesTunnelOnce(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()
	tunnel := &countingCloser{}
	conn := NewConnection(logger.NilLogger, Candidate{Host: "internal", Port: 7888}, local, tunnel)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	assert.Equal(t, 1, tunnel.closes)

	_, err := conn.Write([]byte("x"))
	assert.Error(t, err)
}

func TestOrderIPs(t *testing.T) {
	got := orderIPs([]net.IP{
		net.ParseIP("::1"),
		net.ParseIP("192.0.2.1"),
		net.ParseIP("2001:db8::2"),
		net.ParseIP("192.0.2.2"),
	})
	want := []string{"192.0.2.1", "192.0.2.2", "::1", "2001:db8::2"}
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i], got[i].String())
	}
}

func TestResolveTunneledNeedsSSHClient(t *testing.T) {
	t.Setenv("PATH", "")
	r := &Resolver{Logger: logger.NilLogger}
	_, err := r.Resolve(context.Background(), "deploy@bastion:internal:7888,7889")
	var cerr *nrepl.ConnectionError
	require.ErrorAs(t, err, &cerr)
	// One crisp capability failure, not one per candidate.
	assert.Contains(t, cerr.Error(), "ssh client")
	assert.NotContains(t, cerr.Error(), "all candidates failed")
}

func TestReserveLoopbackPort(t *testing.T) {
	port, err := reserveLoopbackPort()
	require.NoError(t, err)
	assert.NotZero(t, port)
}

func TestBracketHost(t *testing.T) {
	assert.Equal(t, "internal", bracketHost("internal"))
	assert.Equal(t, "10.0.0.1", bracketHost("10.0.0.1"))
	assert.Equal(t, "[2001:db8::1]", bracketHost("2001:db8::1"))
}
