package route

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/sammck-go/logger"

	"github.com/nrsh-go/nrsh/pkg/connexpr"
	"github.com/nrsh-go/nrsh/pkg/nrepl"
)

// maxAliasDepth bounds alias-to-alias chains so a cyclic hosts file
// cannot loop resolution forever.
const maxAliasDepth = 10

// AliasResolver maps an alias to the connection expression it stands
// for. A nil resolver rejects every alias.
type AliasResolver func(alias string) (string, error)

// TunnelMode selects how tunneled routes reach their hop.
type TunnelMode int

const (
	// TunnelExec spawns the system OpenSSH client as a child process.
	// It picks up the user's full ssh configuration for free.
	TunnelExec TunnelMode = iota
	// TunnelNative uses an in-process SSH client authenticated via the
	// ssh agent. No external binary needed.
	TunnelNative
)

// Resolver expands connection expressions and dials candidates until
// one accepts. The zero value is usable with NilLogger and defaults.
type Resolver struct {
	Logger logger.Logger

	// DialTimeout bounds each direct dial attempt.
	DialTimeout time.Duration

	// Mode selects the tunnel implementation for tunneled routes.
	Mode TunnelMode

	// SSHConnectTimeout bounds the hop's own connect.
	SSHConnectTimeout time.Duration

	// ReadyFloor, ReadyCeiling and ReadyDeadline shape the backoff
	// loop that waits for a forwarded port to come up.
	ReadyFloor    time.Duration
	ReadyCeiling  time.Duration
	ReadyDeadline time.Duration

	// Aliases resolves alias expressions; nil rejects them.
	Aliases AliasResolver

	// Lookup resolves domain names; nil uses the system resolver.
	Lookup LookupIPFunc
}

const defaultDialTimeout = 5 * time.Second

func (r *Resolver) log() logger.Logger {
	if r.Logger == nil {
		return logger.NilLogger
	}
	return r.Logger
}

func (r *Resolver) dialTimeout() time.Duration {
	if r.DialTimeout <= 0 {
		return defaultDialTimeout
	}
	return r.DialTimeout
}

// Resolve parses exprStr, follows aliases, expands candidates, and
// dials them in order. The first accepting candidate wins; if all
// fail, the error is a *nrepl.ConnectionError enumerating every
// attempt.
func (r *Resolver) Resolve(ctx context.Context, exprStr string) (*Connection, error) {
	log := r.log().ForkLogStr("resolver")

	expr, err := r.expand(exprStr)
	if err != nil {
		return nil, &nrepl.ConnectionError{Expr: exprStr, Err: err}
	}

	// A tunneled route in exec mode is hopeless without an ssh binary;
	// fail once up front instead of once per candidate.
	if expr.Kind == connexpr.KindTunneled && r.Mode != TunnelNative {
		if _, err := CheckSSHClient(); err != nil {
			return nil, &nrepl.ConnectionError{Expr: exprStr, Err: err}
		}
	}

	candidates, err := Candidates(ctx, expr, r.Lookup)
	if err != nil {
		return nil, &nrepl.ConnectionError{Expr: exprStr, Err: err}
	}

	var attempts []string
	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, &nrepl.ConnectionError{Expr: exprStr, Err: err}
		}
		log.DLogf("Trying candidate %v", candidate)
		conn, err := r.dialCandidate(ctx, log, candidate)
		if err == nil {
			log.DLogf("Connected to %v", candidate)
			return conn, nil
		}
		log.DLogf("Candidate %v failed: %s", candidate, err)
		attempts = append(attempts, fmt.Sprintf("%v: %s", candidate, err))
	}
	return nil, &nrepl.ConnectionError{
		Expr: exprStr,
		Err:  fmt.Errorf("all candidates failed: %s", strings.Join(attempts, "; ")),
	}
}

// expand parses the expression and follows alias indirection until a
// concrete route form comes out.
func (r *Resolver) expand(exprStr string) (connexpr.ConnExpr, error) {
	seen := make(map[string]bool)
	for depth := 0; depth < maxAliasDepth; depth++ {
		expr, err := connexpr.Parse(exprStr)
		if err != nil {
			return connexpr.ConnExpr{}, err
		}
		if expr.Kind != connexpr.KindAlias {
			return expr, nil
		}
		if r.Aliases == nil {
			return connexpr.ConnExpr{}, fmt.Errorf("route: unknown host alias %q", expr.Alias)
		}
		if seen[expr.Alias] {
			return connexpr.ConnExpr{}, fmt.Errorf("route: alias cycle at %q", expr.Alias)
		}
		seen[expr.Alias] = true
		next, err := r.Aliases(expr.Alias)
		if err != nil {
			return connexpr.ConnExpr{}, err
		}
		exprStr = next
	}
	return connexpr.ConnExpr{}, fmt.Errorf("route: alias chain longer than %d", maxAliasDepth)
}

func (r *Resolver) dialCandidate(ctx context.Context, log logger.Logger, c Candidate) (*Connection, error) {
	if c.Tunnel == nil {
		d := net.Dialer{Timeout: r.dialTimeout()}
		conn, err := d.DialContext(ctx, "tcp", c.TCPAddr.String())
		if err != nil {
			return nil, err
		}
		return NewConnection(r.log(), c, conn, nil), nil
	}

	switch r.Mode {
	case TunnelNative:
		conn, tunnel, err := dialNativeTunnel(log, c.Tunnel, c.Host, c.Port, r.SSHConnectTimeout)
		if err != nil {
			return nil, err
		}
		return NewConnection(r.log(), c, conn, tunnel), nil

	default:
		tunnel, err := startExecTunnel(r.log(), c.Tunnel, c.Host, c.Port, r.SSHConnectTimeout)
		if err != nil {
			return nil, err
		}
		conn, err := tunnel.awaitReady(ctx, r.ReadyDeadline, r.ReadyFloor, r.ReadyCeiling)
		if err != nil {
			tunnel.Close()
			return nil, err
		}
		return NewConnection(r.log(), c, conn, tunnel), nil
	}
}
