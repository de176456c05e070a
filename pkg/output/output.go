// Package output routes the three result streams of an evaluation run
// to their configured destinations. A sink failure is a local problem:
// it is logged and remembered, and the protocol keeps running.
package output

import (
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/sammck-go/logger"
)

// Sink spec strings understood by Open.
const (
	SpecStdout  = "-"
	SpecStderr  = "="
	SpecDiscard = "none"
)

// Router fans evaluation output to three independent sinks: a stdout
// mirror, a stderr mirror, and result values one per line. A nil
// writer discards its stream. Router implements nrepl.EvalSink.
type Router struct {
	logger.Logger

	out     io.Writer
	err     io.Writer
	results io.Writer

	mu      sync.Mutex
	sinkErr error
	broken  map[io.Writer]bool
}

// NewRouter builds a router over the given writers; any of them may be
// nil to discard that stream.
func NewRouter(log logger.Logger, out, err, results io.Writer) *Router {
	if log == nil {
		log = logger.NilLogger
	}
	return &Router{
		Logger:  log.ForkLogStr("output"),
		out:     out,
		err:     err,
		results: results,
		broken:  make(map[io.Writer]bool),
	}
}

// Out mirrors a stdout fragment, verbatim.
func (r *Router) Out(s string) {
	r.write("out", r.out, s)
}

// Err mirrors a stderr fragment, verbatim.
func (r *Router) Err(s string) {
	r.write("err", r.err, s)
}

// Value emits one result value on its own line.
func (r *Router) Value(s string) {
	r.write("results", r.results, s+"\n")
}

// SinkErr returns the first sink write failure, if any occurred.
func (r *Router) SinkErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sinkErr
}

// write sends s to w. A sink that failed once is skipped from then on;
// the failure is remembered but never propagated to the caller.
func (r *Router) write(name string, w io.Writer, s string) {
	if w == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.broken[w] {
		return
	}
	if _, err := io.WriteString(w, s); err != nil {
		r.WLogf("Sink %s failed; dropping its stream: %s", name, err)
		r.broken[w] = true
		if r.sinkErr == nil {
			r.sinkErr = errors.Wrapf(err, "output: sink %s", name)
		}
	}
}

// Open resolves three sink specs and builds a router over them. A spec
// is "-" for stdout, "=" for stderr, "none" to discard, anything else
// a file path. Two specs naming the same path share one file handle so
// their streams interleave instead of clobbering each other. The
// returned closer releases any opened files.
func Open(log logger.Logger, outSpec, errSpec, resultsSpec string) (*Router, io.Closer, error) {
	files := newFileSet()
	writers := make([]io.Writer, 3)
	for i, spec := range []string{outSpec, errSpec, resultsSpec} {
		w, err := files.open(spec)
		if err != nil {
			files.Close()
			return nil, nil, err
		}
		writers[i] = w
	}
	return NewRouter(log, writers[0], writers[1], writers[2]), files, nil
}

// fileSet opens sink files, deduplicating by path.
type fileSet struct {
	byPath map[string]*os.File
}

func newFileSet() *fileSet {
	return &fileSet{byPath: make(map[string]*os.File)}
}

func (fs *fileSet) open(spec string) (io.Writer, error) {
	switch spec {
	case SpecStdout:
		return os.Stdout, nil
	case SpecStderr:
		return os.Stderr, nil
	case SpecDiscard, "":
		return nil, nil
	}
	if f, ok := fs.byPath[spec]; ok {
		return f, nil
	}
	f, err := os.OpenFile(spec, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "output: cannot open sink %q", spec)
	}
	fs.byPath[spec] = f
	return f, nil
}

func (fs *fileSet) Close() error {
	var first error
	for _, f := range fs.byPath {
		if err := f.Close(); first == nil {
			first = err
		}
	}
	return first
}
