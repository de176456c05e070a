package route

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sammck-go/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nrsh-go/nrsh/pkg/connexpr"
)

func TestFindPortFileWalksAncestry(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "src", "app")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	path := filepath.Join(root, PortFileName)
	require.NoError(t, os.WriteFile(path, []byte("7888\n"), 0o644))

	found, err := FindPortFile(nested)
	require.NoError(t, err)
	assert.Equal(t, path, found)

	port, err := ReadPortFile(found)
	require.NoError(t, err)
	assert.Equal(t, connexpr.Port(7888), port)
}

func TestFindPortFileMissing(t *testing.T) {
	_, err := FindPortFile(t.TempDir())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestReadPortFileRejectsJunk(t *testing.T) {
	dir := t.TempDir()
	for name, content := range map[string]string{
		"empty": "",
		"zero":  "0",
		"big":   "65536",
		"text":  "soon",
	} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		_, err := ReadPortFile(path)
		assert.Error(t, err, "content %q", content)
	}
}

func TestAwaitPortFileAlreadyPresent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, PortFileName)
	require.NoError(t, os.WriteFile(path, []byte("9000"), 0o644))

	port, err := AwaitPortFile(context.Background(), logger.NilLogger, path)
	require.NoError(t, err)
	assert.Equal(t, connexpr.Port(9000), port)
}

func TestAwaitPortFileAppearsLater(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, PortFileName)
	go func() {
		time.Sleep(100 * time.Millisecond)
		os.WriteFile(path, []byte("9001\n"), 0o644)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	port, err := AwaitPortFile(ctx, logger.NilLogger, path)
	require.NoError(t, err)
	assert.Equal(t, connexpr.Port(9001), port)
}

func TestAwaitPortFileHonorsContext(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := AwaitPortFile(ctx, logger.NilLogger, filepath.Join(dir, PortFileName))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
