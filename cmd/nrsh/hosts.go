package main

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// defaultHostsPath returns the conventional alias file location,
// ~/.config/nrsh/hosts.
func defaultHostsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "nrsh", "hosts")
}

// loadHosts reads an alias file of "alias = connection-expression"
// lines. Blank lines and #-comments are skipped; anything else that is
// not a key=value pair is an error, so a typo cannot silently drop an
// alias.
func loadHosts(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	hosts := make(map[string]string)
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eq := strings.IndexByte(line, '=')
		if eq < 0 {
			return nil, errors.Errorf("%s:%d: expected alias=expression, got %q", path, lineNo, line)
		}
		alias := strings.TrimSpace(line[:eq])
		expr := strings.TrimSpace(line[eq+1:])
		if alias == "" || expr == "" {
			return nil, errors.Errorf("%s:%d: expected alias=expression, got %q", path, lineNo, line)
		}
		hosts[alias] = expr
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return hosts, nil
}
