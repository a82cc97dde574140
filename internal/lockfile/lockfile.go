// Package lockfile provides the single-instance guard that keeps two
// supervisor processes from watching the same script concurrently and
// racing to run the same tasks.
package lockfile

import (
	"crypto/sha1"
	"fmt"
	"os"
	"path/filepath"
)

// Lockfile is an exclusively-created marker file in the OS temp directory,
// named after a hash of the watched script's canonical path so that two
// different scripts never collide and the same script always maps to the
// same lock path across invocations.
type Lockfile struct {
	path string
}

// ErrAlreadyRunning is returned by Acquire when another supervisor already
// holds the lock for this script. Path is the lockfile that would need to
// be removed to override the check.
type ErrAlreadyRunning struct {
	Path string
}

func (e *ErrAlreadyRunning) Error() string {
	return fmt.Sprintf("lockfile already exists at %s", e.Path)
}

// Acquire canonicalizes scriptPath and attempts to exclusively create its
// lockfile. Returns *ErrAlreadyRunning if another process holds it.
func Acquire(scriptPath string) (*Lockfile, error) {
	canonical, err := filepath.Abs(scriptPath)
	if err != nil {
		return nil, fmt.Errorf("resolve script path: %w", err)
	}
	canonical, err = filepath.EvalSymlinks(canonical)
	if err != nil {
		// The script may not exist yet on a first-time reload race; fall
		// back to the absolute (non-symlink-resolved) path rather than
		// failing lock acquisition outright.
		canonical, _ = filepath.Abs(scriptPath)
	}

	sum := sha1.Sum([]byte(canonical))
	path := filepath.Join(os.TempDir(), fmt.Sprintf("%x.lock", sum))

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, &ErrAlreadyRunning{Path: path}
		}
		return nil, fmt.Errorf("create lockfile: %w", err)
	}
	_ = f.Close()

	return &Lockfile{path: path}, nil
}

// Release removes the lockfile. Safe to call once; removal errors are
// swallowed since there is nothing further to do on shutdown.
func (l *Lockfile) Release() {
	_ = os.Remove(l.path)
}
