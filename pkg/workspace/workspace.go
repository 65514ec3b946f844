// Package workspace implements hub discovery: the .relay marker directory,
// the server.json descriptor, and the ensure-server spawn protocol that
// guarantees at most one hub per workspace.
package workspace

import (
	"errors"
	"os"
	"path/filepath"
)

const (
	// MarkerDir is the workspace marker directory name.
	MarkerDir = ".relay"
	// DBFile is the store file inside the marker directory.
	DBFile = "relay.db"
	// DescriptorFile is the running-server descriptor inside the marker
	// directory.
	DescriptorFile = "server.json"
)

// ErrNotFound is returned by Find when no marker directory exists between
// the start directory and the filesystem root.
var ErrNotFound = errors.New("no workspace found")

// Find walks up from startDir looking for a .relay marker directory and
// returns the workspace root containing it.
func Find(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}
	for {
		info, err := os.Stat(filepath.Join(dir, MarkerDir))
		if err == nil && info.IsDir() {
			return dir, nil
		}
		if err != nil && !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrNotFound
		}
		dir = parent
	}
}

// Init creates the marker directory under root, idempotently.
func Init(root string) error {
	return os.MkdirAll(filepath.Join(root, MarkerDir), 0o755)
}

// DBPath returns the store path for a workspace root.
func DBPath(root string) string {
	return filepath.Join(root, MarkerDir, DBFile)
}

// DescriptorPath returns the server.json path for a workspace root.
func DescriptorPath(root string) string {
	return filepath.Join(root, MarkerDir, DescriptorFile)
}
