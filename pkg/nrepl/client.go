package nrepl

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sammck-go/asyncobj"
	"github.com/sammck-go/logger"

	"github.com/nrsh-go/nrsh/pkg/bencode"
)

const (
	// readBufferSize is the transport read chunk size.
	readBufferSize = 4096

	// pendingBacklog is how many undelivered responses one operation
	// may queue before further ones are dropped with a warning. Eval
	// waits consume continuously, so hitting this means the peer is
	// flooding an id nobody is reading.
	pendingBacklog = 64

	// closeGrace is how long a best-effort session close waits for an
	// acknowledgement before giving up silently.
	closeGrace = time.Second
)

// Options configures a Client.
type Options struct {
	Logger logger.Logger

	// Timeout bounds the whole run. Zero means no limit. When it
	// expires, every in-flight and future wait returns *TimeoutError;
	// best-effort cleanup still runs.
	Timeout time.Duration
}

// Client multiplexes nREPL operations over one transport. It owns the
// transport and closes it on shutdown.
type Client struct {
	*asyncobj.Helper

	conn    io.ReadWriteCloser
	timeout time.Duration

	writeMu sync.Mutex

	mu       sync.Mutex
	pending  map[string]chan *Message
	fatalErr error

	// failed closes when the reader dies; fatalErr is set first.
	failed chan struct{}
	// timedOut closes when the run timeout expires.
	timedOut chan struct{}
	// readerDone closes when the reader goroutine returns.
	readerDone chan struct{}
}

// NewClient takes ownership of conn and starts the reader. The caller
// must Close the client to release the transport.
func NewClient(conn io.ReadWriteCloser, opts Options) *Client {
	log := opts.Logger
	if log == nil {
		log = logger.NilLogger
	}
	c := &Client{
		conn:       conn,
		timeout:    opts.Timeout,
		pending:    make(map[string]chan *Message),
		failed:     make(chan struct{}),
		timedOut:   make(chan struct{}),
		readerDone: make(chan struct{}),
	}
	c.Helper = asyncobj.NewHelper(log.ForkLogStr("nrepl"), c)
	c.SetIsActivated()

	if c.timeout > 0 {
		timer := time.NewTimer(c.timeout)
		go func() {
			select {
			case <-timer.C:
				c.DLogf("Run timeout of %s expired", c.timeout)
				close(c.timedOut)
			case <-c.readerDone:
				timer.Stop()
			}
		}()
	}
	go c.readLoop()
	return c
}

// Close releases the transport and stops the reader. Safe to call more
// than once.
func (c *Client) Close() error {
	c.StartShutdown(nil)
	return c.WaitShutdown()
}

// HandleOnceShutdown closes the transport, which unblocks the reader,
// then waits for it to drain.
func (c *Client) HandleOnceShutdown(completionErr error) error {
	err := c.conn.Close()
	<-c.readerDone
	if completionErr != nil {
		return completionErr
	}
	return err
}

// Open clones a fresh session on the server.
func (c *Client) Open(ctx context.Context) (*Session, error) {
	id := uuid.NewString()
	ch := c.register(id)
	defer c.unregister(id)

	req := bencode.NewDict().
		Set("op", "clone").
		Set("id", id)
	if err := c.send(req); err != nil {
		return nil, err
	}
	for {
		m, err := c.await(ctx, "clone", ch)
		if err != nil {
			return nil, err
		}
		if sid := m.NewSession(); sid != "" {
			c.DLogf("Opened session %s", sid)
			return &Session{client: c, id: sid}, nil
		}
		if m.HasStatus("done") {
			return nil, &ProtocolError{Reason: "clone reply carried no new-session"}
		}
	}
}

// send encodes and writes one request. Write failures after the reader
// already died report the reader's error, which is the root cause.
func (c *Client) send(req *bencode.Dict) error {
	encoded, err := bencode.Encode(req)
	if err != nil {
		return &ProtocolError{Reason: "cannot encode request", Err: err}
	}
	c.writeMu.Lock()
	_, err = c.conn.Write(encoded)
	c.writeMu.Unlock()
	if err != nil {
		if ferr := c.fatalError(); ferr != nil {
			return ferr
		}
		return &DisconnectionError{Err: err}
	}
	return nil
}

// await blocks for the next response routed to ch. Buffered responses
// win over failure so messages that raced the disconnect still get
// delivered.
func (c *Client) await(ctx context.Context, op string, ch <-chan *Message) (*Message, error) {
	select {
	case m := <-ch:
		return m, nil
	default:
	}
	select {
	case m := <-ch:
		return m, nil
	case <-c.failed:
		return nil, c.fatalError()
	case <-c.timedOut:
		return nil, &TimeoutError{Op: op, Limit: c.timeout}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) register(id string) chan *Message {
	ch := make(chan *Message, pendingBacklog)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	return ch
}

func (c *Client) unregister(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) fatalError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fatalErr
}

// fail records the reader's terminal error exactly once and wakes
// every waiter.
func (c *Client) fail(err error) {
	c.mu.Lock()
	if c.fatalErr == nil {
		c.fatalErr = err
	}
	c.mu.Unlock()
	close(c.failed)
}

// readLoop is the single reader: transport bytes in, decoded messages
// routed out. It exits on transport error or malformed input, failing
// all waiters.
func (c *Client) readLoop() {
	defer close(c.readerDone)
	var dec bencode.Decoder
	buf := make([]byte, readBufferSize)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n])
			if ferr := c.drain(&dec); ferr != nil {
				c.fail(ferr)
				return
			}
		}
		if err != nil {
			if err == io.EOF && !c.IsStartedShutdown() {
				c.DLogf("Peer closed the connection")
			}
			c.fail(&DisconnectionError{Err: err})
			return
		}
	}
}

// drain decodes every complete message currently buffered and routes
// each one.
func (c *Client) drain(dec *bencode.Decoder) error {
	for {
		v, err := dec.Next()
		if err == bencode.ErrIncomplete {
			return nil
		}
		if err != nil {
			return &ProtocolError{Reason: "malformed response", Err: err}
		}
		raw, ok := v.(map[string]interface{})
		if !ok {
			return &ProtocolError{Reason: "response is not a dict"}
		}
		c.dispatch(newMessage(raw))
	}
}

// dispatch routes a message to its operation by id. Messages for
// unknown ids are logged and discarded; they must never stall or kill
// the reader.
func (c *Client) dispatch(m *Message) {
	id := m.ID()
	c.mu.Lock()
	ch := c.pending[id]
	c.mu.Unlock()
	if ch == nil {
		c.WLogf("Discarding message for unknown id %q (session %q, status %v)", id, m.Session(), m.Status())
		return
	}
	select {
	case ch <- m:
	default:
		c.WLogf("Backlog full for id %q; discarding message", id)
	}
}
