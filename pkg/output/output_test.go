package output

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/sammck-go/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouterRoutesStreams(t *testing.T) {
	var out, errBuf, results bytes.Buffer
	r := NewRouter(logger.NilLogger, &out, &errBuf, &results)

	r.Out("Hello, ")
	r.Out("world!\n")
	r.Err("warning\n")
	r.Value("42")
	r.Value(`"two"`)

	assert.Equal(t, "Hello, world!\n", out.String())
	assert.Equal(t, "warning\n", errBuf.String())
	assert.Equal(t, "42\n\"two\"\n", results.String())
	assert.NoError(t, r.SinkErr())
}

func TestRouterDiscardsNilSinks(t *testing.T) {
	var results bytes.Buffer
	r := NewRouter(logger.NilLogger, nil, nil, &results)
	r.Out("dropped")
	r.Err("dropped")
	r.Value("kept")
	assert.Equal(t, "kept\n", results.String())
}

type failingWriter struct {
	writes int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	w.writes++
	return 0, fmt.Errorf("disk full")
}

func TestRouterRemembersSinkFailure(t *testing.T) {
	w := &failingWriter{}
	var results bytes.Buffer
	r := NewRouter(logger.NilLogger, w, nil, &results)

	r.Out("first")
	r.Out("second")
	r.Value("still works")

	// The failed sink is written once, then skipped.
	assert.Equal(t, 1, w.writes)
	assert.Error(t, r.SinkErr())
	assert.Equal(t, "still works\n", results.String())
}

func TestOpenSharedFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "both.log")
	r, closer, err := Open(logger.NilLogger, path, path, SpecDiscard)
	require.NoError(t, err)

	r.Out("out line\n")
	r.Err("err line\n")
	r.Value("dropped")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	// One shared handle, so the streams interleave in write order.
	assert.Equal(t, "out line\nerr line\n", string(data))
}

func TestOpenStandardSpecs(t *testing.T) {
	r, closer, err := Open(logger.NilLogger, SpecStdout, SpecStderr, SpecDiscard)
	require.NoError(t, err)
	defer closer.Close()
	r.Value("discarded without error")
	assert.NoError(t, r.SinkErr())
}

func TestOpenBadPath(t *testing.T) {
	_, _, err := Open(logger.NilLogger, filepath.Join(t.TempDir(), "no", "such", "dir", "f"), SpecDiscard, SpecDiscard)
	assert.Error(t, err)
}
