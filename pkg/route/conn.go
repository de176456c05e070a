package route

import (
	"fmt"
	"io"
	"net"

	"github.com/sammck-go/asyncobj"
	"github.com/sammck-go/logger"
)

// Connection is an established transport to an nREPL server. It owns
// the underlying net.Conn and, for tunneled routes, the SSH hop; both
// are released together, exactly once, on Close or shutdown.
type Connection struct {
	*asyncobj.Helper

	candidate Candidate
	conn      net.Conn

	// tunnel is nil for direct routes.
	tunnel io.Closer
}

// NewConnection wraps an established conn, taking ownership of it and
// of tunnel when one is given.
func NewConnection(log logger.Logger, candidate Candidate, conn net.Conn, tunnel io.Closer) *Connection {
	c := &Connection{
		candidate: candidate,
		conn:      conn,
		tunnel:    tunnel,
	}
	c.Helper = asyncobj.NewHelper(log.ForkLogStr(fmt.Sprintf("conn %v", candidate)), c)
	c.SetIsActivated()
	return c
}

// Candidate returns the candidate this connection was dialed from.
func (c *Connection) Candidate() Candidate {
	return c.candidate
}

func (c *Connection) String() string {
	return fmt.Sprintf("connection to %v", c.candidate)
}

func (c *Connection) Read(p []byte) (int, error) {
	return c.conn.Read(p)
}

func (c *Connection) Write(p []byte) (int, error) {
	return c.conn.Write(p)
}

// Close shuts the connection down and waits for the tunnel, if any, to
// be torn down. Safe to call more than once.
func (c *Connection) Close() error {
	c.StartShutdown(nil)
	return c.WaitShutdown()
}

// HandleOnceShutdown is called exactly once by the shutdown helper. It
// closes the transport first so in-flight reads fail fast, then tears
// down the tunnel.
func (c *Connection) HandleOnceShutdown(completionErr error) error {
	err := c.conn.Close()
	if c.tunnel != nil {
		c.DLogf("Tearing down tunnel")
		terr := c.tunnel.Close()
		if err == nil {
			err = terr
		}
	}
	if completionErr != nil {
		return completionErr
	}
	return err
}
