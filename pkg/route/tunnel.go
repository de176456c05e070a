package route

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/jpillora/backoff"
	"github.com/pkg/errors"
	"github.com/sammck-go/logger"

	"github.com/nrsh-go/nrsh/pkg/connexpr"
)

const (
	// defaultSSHConnectTimeout bounds the hop's own TCP connect.
	defaultSSHConnectTimeout = 10 * time.Second

	// termGrace is how long a tunnel child gets to exit on SIGTERM
	// before it is killed.
	termGrace = 3 * time.Second
)

// CheckSSHClient verifies that an OpenSSH client binary is reachable
// on PATH and returns its path.
func CheckSSHClient() (string, error) {
	path, err := exec.LookPath("ssh")
	if err != nil {
		return "", errors.Wrap(err, "route: no usable ssh client on PATH")
	}
	return path, nil
}

// ExecTunnel is a port-forwarding ssh child process. It forwards a
// reserved loopback port to the destination through the hop and lives
// until Close.
type ExecTunnel struct {
	logger.Logger

	// LocalPort is the loopback port the destination is forwarded to.
	LocalPort connexpr.Port

	cmd    *exec.Cmd
	stderr bytes.Buffer

	exited  chan struct{}
	exitErr error

	closeOnce sync.Once
}

// startExecTunnel reserves a loopback port, spawns the ssh child that
// forwards it, and returns without waiting for the forward to come up.
// Readiness is the caller's concern (see awaitReady).
func startExecTunnel(
	log logger.Logger,
	tun *connexpr.TunnelExpr,
	destHost string,
	destPort connexpr.Port,
	connectTimeout time.Duration,
) (*ExecTunnel, error) {
	sshPath, err := CheckSSHClient()
	if err != nil {
		return nil, err
	}
	localPort, err := reserveLoopbackPort()
	if err != nil {
		return nil, err
	}
	if connectTimeout <= 0 {
		connectTimeout = defaultSSHConnectTimeout
	}

	forward := fmt.Sprintf("127.0.0.1:%d:%s:%d", localPort, bracketHost(destHost), destPort)
	args := []string{
		"-x", "-N", "-T",
		"-o", "ExitOnForwardFailure=yes",
		"-o", "ClearAllForwardings=yes",
		"-o", "BatchMode=yes",
		"-o", fmt.Sprintf("ConnectTimeout=%d", int(connectTimeout.Seconds())),
		"-L", forward,
	}
	if tun.Port != 0 {
		args = append(args, "-p", fmt.Sprintf("%d", tun.Port))
	}
	if tun.User != "" {
		args = append(args, "-l", tun.User)
	}
	args = append(args, tun.Addr.DialHost())

	t := &ExecTunnel{
		Logger:    log.ForkLogStr(fmt.Sprintf("tunnel %v", tun)),
		LocalPort: localPort,
		cmd:       exec.Command(sshPath, args...),
		exited:    make(chan struct{}),
	}
	t.cmd.Stderr = &t.stderr
	t.DLogf("Spawning %s %s", sshPath, strings.Join(args, " "))
	if err := t.cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "route: cannot start ssh tunnel")
	}
	go func() {
		t.exitErr = t.cmd.Wait()
		close(t.exited)
	}()
	return t, nil
}

// awaitReady dials the forwarded loopback port under backoff until it
// accepts, the child dies, the overall deadline passes, or ctx is
// done. On success the returned conn goes through the tunnel.
func (t *ExecTunnel) awaitReady(ctx context.Context, deadline, floor, ceiling time.Duration) (net.Conn, error) {
	if floor <= 0 {
		floor = 100 * time.Millisecond
	}
	if ceiling <= 0 {
		ceiling = time.Second
	}
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	b := &backoff.Backoff{Min: floor, Max: ceiling}
	giveUp := time.NewTimer(deadline)
	defer giveUp.Stop()

	addr := fmt.Sprintf("127.0.0.1:%d", t.LocalPort)
	for {
		select {
		case <-t.exited:
			return nil, t.exitFailure()
		default:
		}
		conn, err := net.DialTimeout("tcp", addr, ceiling)
		if err == nil {
			t.DLogf("Forwarded port %s is up", addr)
			return conn, nil
		}
		d := b.Duration()
		t.DLogf("Forwarded port not ready (%s); retrying in %s", err, d)
		select {
		case <-t.exited:
			return nil, t.exitFailure()
		case <-giveUp.C:
			return nil, errors.Errorf("route: tunnel forward %s not ready within %s", addr, deadline)
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d):
		}
	}
}

// exitFailure renders the child's premature death, folding in whatever
// it said on stderr.
func (t *ExecTunnel) exitFailure() error {
	msg := strings.TrimSpace(t.stderr.String())
	if msg != "" {
		return errors.Errorf("route: ssh tunnel exited: %v: %s", t.exitErr, msg)
	}
	return errors.Errorf("route: ssh tunnel exited: %v", t.exitErr)
}

// Close terminates the child, exactly once: SIGTERM, a grace period,
// then SIGKILL, then reap. Safe to call after the child already died.
func (t *ExecTunnel) Close() error {
	t.closeOnce.Do(func() {
		select {
		case <-t.exited:
			t.DLogf("Tunnel child already exited: %v", t.exitErr)
			return
		default:
		}
		t.DLogf("Sending SIGTERM to tunnel child")
		_ = t.cmd.Process.Signal(syscall.SIGTERM)
		select {
		case <-t.exited:
		case <-time.After(termGrace):
			t.WLogf("Tunnel child ignored SIGTERM; killing")
			_ = t.cmd.Process.Kill()
			<-t.exited
		}
	})
	return nil
}

// reserveLoopbackPort asks the kernel for a free loopback port. The
// port is released before ssh binds it, so a racing process could
// steal it; the readiness wait surfaces that as a failed candidate
// rather than a hang.
func reserveLoopbackPort() (connexpr.Port, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, errors.Wrap(err, "route: cannot reserve local port")
	}
	port := l.Addr().(*net.TCPAddr).Port
	if err := l.Close(); err != nil {
		return 0, err
	}
	return connexpr.Port(port), nil
}

// bracketHost brackets IPv6 literals for ssh -L forward specs.
func bracketHost(host string) string {
	if strings.Contains(host, ":") {
		return "[" + host + "]"
	}
	return host
}
