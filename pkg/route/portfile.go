package route

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/sammck-go/logger"

	"github.com/nrsh-go/nrsh/pkg/connexpr"
)

// PortFileName is the conventional file an nREPL server writes its
// listening port to, in the project directory it was started from.
const PortFileName = ".nrepl-port"

// FindPortFile walks from startDir up through its ancestors and
// returns the first port file found. Returns an error wrapping
// os.ErrNotExist when no ancestor has one.
func FindPortFile(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}
	for {
		path := filepath.Join(dir, PortFileName)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.Wrapf(os.ErrNotExist, "route: no %s at or above %s", PortFileName, startDir)
		}
		dir = parent
	}
}

// ReadPortFile reads and validates a port file: decimal port,
// surrounding whitespace tolerated, zero rejected.
func ReadPortFile(path string) (connexpr.Port, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	text := strings.TrimSpace(string(data))
	n, err := strconv.ParseUint(text, 10, 16)
	if err != nil || n == 0 {
		return 0, errors.Errorf("route: %s does not contain a port: %q", path, text)
	}
	return connexpr.Port(n), nil
}

// AwaitPortFile waits for a readable port file to appear at path,
// watching the parent directory rather than polling. A file that
// exists but does not yet parse (a server mid-write) keeps the wait
// alive. Cancellation of ctx ends the wait with ctx.Err().
func AwaitPortFile(ctx context.Context, log logger.Logger, path string) (connexpr.Port, error) {
	if log == nil {
		log = logger.NilLogger
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return 0, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return 0, errors.Wrap(err, "route: cannot watch for port file")
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return 0, errors.Wrapf(err, "route: cannot watch %s", filepath.Dir(abs))
	}

	// The file may already be there, or may land between Stat and the
	// watch starting; check once after the watch is armed.
	if port, err := ReadPortFile(abs); err == nil {
		return port, nil
	}

	for {
		select {
		case ev := <-watcher.Events:
			if ev.Name != abs || ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			port, err := ReadPortFile(abs)
			if err != nil {
				log.DLogf("Port file touched but not yet readable: %s", err)
				continue
			}
			return port, nil
		case err := <-watcher.Errors:
			return 0, errors.Wrap(err, "route: port file watch failed")
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}
