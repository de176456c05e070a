package nrepl

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nrsh-go/nrsh/pkg/bencode"
)

// Session is one cloned server session. Evaluations on a session run
// in order; output interleaved with them is forwarded as it arrives.
type Session struct {
	client *Client
	id     string
}

// ID returns the server-assigned session id.
func (s *Session) ID() string {
	return s.id
}

// EvalSink receives the output of one evaluation. Out and Err are
// forwarded as fragments arrive; Value is called once per result,
// after the evaluation reached a terminal state.
type EvalSink interface {
	Out(s string)
	Err(s string)
	Value(s string)
}

// EvalOptions carries the optional source coordinates of an
// evaluation.
type EvalOptions struct {
	// Ns is the namespace to evaluate in, when not the session default.
	Ns string

	File   string
	Line   int
	Column int
}

// Eval submits code and drives the operation to a terminal state.
// Stdout and stderr fragments go to sink immediately; result values
// are buffered and flushed to sink once the operation ends, so partial
// results never masquerade as complete ones. A server-side throw
// returns *EvaluationError after the flush; the session stays usable.
func (s *Session) Eval(ctx context.Context, code string, opts EvalOptions, sink EvalSink) error {
	c := s.client
	id := uuid.NewString()
	ch := c.register(id)
	defer c.unregister(id)

	req := bencode.NewDict().
		Set("op", "eval").
		Set("id", id).
		Set("session", s.id).
		Set("code", code)
	if opts.Ns != "" {
		req.Set("ns", opts.Ns)
	}
	if opts.File != "" {
		req.Set("file", opts.File)
	}
	if opts.Line > 0 {
		req.Set("line", opts.Line)
	}
	if opts.Column > 0 {
		req.Set("column", opts.Column)
	}
	if err := c.send(req); err != nil {
		return err
	}

	var values []string
	var evalErr *EvaluationError
	for {
		m, err := c.await(ctx, "eval", ch)
		if err != nil {
			return err
		}
		if out, ok := m.Out(); ok {
			sink.Out(out)
		}
		if errOut, ok := m.ErrOutput(); ok {
			sink.Err(errOut)
		}
		if v, ok := m.Value(); ok {
			values = append(values, v)
		}
		if m.HasStatus("eval-error") || m.Ex() != "" {
			if evalErr == nil {
				evalErr = &EvaluationError{}
			}
			if ex := m.Ex(); ex != "" {
				evalErr.Ex = ex
			}
			if root := m.RootEx(); root != "" {
				evalErr.RootEx = root
			}
		}
		if m.HasStatus("done") {
			for _, v := range values {
				sink.Value(v)
			}
			if evalErr != nil {
				if evalErr.Ex == "" {
					evalErr.Ex = "unknown error"
				}
				return evalErr
			}
			return nil
		}
	}
}

// Close releases the server-side session, best effort: the request is
// sent, an acknowledgement is awaited briefly, and nothing that goes
// wrong here escalates. The transport may already be gone.
func (s *Session) Close() {
	c := s.client
	id := uuid.NewString()
	ch := c.register(id)
	defer c.unregister(id)

	req := bencode.NewDict().
		Set("op", "close").
		Set("id", id).
		Set("session", s.id)
	if err := c.send(req); err != nil {
		c.DLogf("Session %s close not sent: %s", s.id, err)
		return
	}
	grace := time.NewTimer(closeGrace)
	defer grace.Stop()
	for {
		select {
		case m := <-ch:
			if m.HasStatus("session-closed") || m.HasStatus("done") {
				c.DLogf("Session %s closed", s.id)
				return
			}
		case <-c.failed:
			return
		case <-c.timedOut:
			return
		case <-grace.C:
			c.DLogf("Session %s close unacknowledged", s.id)
			return
		}
	}
}
