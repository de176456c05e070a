package route

import (
	"fmt"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sammck-go/logger"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/nrsh-go/nrsh/pkg/connexpr"
)

const defaultSSHPort = 22

// nativeTunnel holds the in-process SSH client behind a tunneled
// connection, plus its agent socket.
type nativeTunnel struct {
	client    *ssh.Client
	agentConn net.Conn
}

func (t *nativeTunnel) Close() error {
	err := t.client.Close()
	if t.agentConn != nil {
		if aerr := t.agentConn.Close(); err == nil {
			err = aerr
		}
	}
	return err
}

// dialNativeTunnel reaches destHost:destPort through an in-process SSH
// client instead of an external ssh child. Authentication comes from
// the running SSH agent and host keys are checked against the user's
// known_hosts file.
func dialNativeTunnel(
	log logger.Logger,
	tun *connexpr.TunnelExpr,
	destHost string,
	destPort connexpr.Port,
	connectTimeout time.Duration,
) (net.Conn, *nativeTunnel, error) {
	if connectTimeout <= 0 {
		connectTimeout = defaultSSHConnectTimeout
	}

	agentConn, signers, err := agentAuth()
	if err != nil {
		return nil, nil, err
	}

	hostKeys, err := knownHostsCallback()
	if err != nil {
		agentConn.Close()
		return nil, nil, err
	}

	userName := tun.User
	if userName == "" {
		u, err := user.Current()
		if err != nil {
			agentConn.Close()
			return nil, nil, errors.Wrap(err, "route: cannot determine ssh user")
		}
		userName = u.Username
	}

	hopPort := int(tun.Port)
	if hopPort == 0 {
		hopPort = defaultSSHPort
	}
	hopAddr := net.JoinHostPort(tun.Addr.String(), fmt.Sprintf("%d", hopPort))

	config := &ssh.ClientConfig{
		User:            userName,
		Auth:            []ssh.AuthMethod{ssh.PublicKeysCallback(signers)},
		HostKeyCallback: hostKeys,
		Timeout:         connectTimeout,
	}
	log.DLogf("Dialing ssh hop %s as %s", hopAddr, userName)
	client, err := ssh.Dial("tcp", hopAddr, config)
	if err != nil {
		agentConn.Close()
		return nil, nil, errors.Wrapf(err, "route: ssh hop %s", hopAddr)
	}

	destAddr := net.JoinHostPort(destHost, fmt.Sprintf("%d", destPort))
	conn, err := client.Dial("tcp", destAddr)
	if err != nil {
		client.Close()
		agentConn.Close()
		return nil, nil, errors.Wrapf(err, "route: forward to %s through %s", destAddr, hopAddr)
	}
	return conn, &nativeTunnel{client: client, agentConn: agentConn}, nil
}

// agentAuth connects to the running SSH agent and returns its signer
// source.
func agentAuth() (net.Conn, func() ([]ssh.Signer, error), error) {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil, nil, errors.New("route: SSH_AUTH_SOCK is not set; no ssh agent available")
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, nil, errors.Wrap(err, "route: cannot reach ssh agent")
	}
	return conn, agent.NewClient(conn).Signers, nil
}

func knownHostsCallback() (ssh.HostKeyCallback, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.Wrap(err, "route: cannot locate home directory")
	}
	path := filepath.Join(home, ".ssh", "known_hosts")
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, errors.Wrapf(err, "route: cannot load %s", path)
	}
	return cb, nil
}
