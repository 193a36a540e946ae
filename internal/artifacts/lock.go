package artifacts

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Lock is an advisory lease on a shared artifact, held by creating the lock
// file exclusively. It protects phase-1 files from two pipelines writing the
// same potSize at once.
type Lock struct {
	path string
}

// AcquireLock creates path exclusively. An existing lock is reported as a
// ConfigError naming the file so the operator can remove a stale one.
func AcquireLock(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return nil, &ConfigError{
			Field:  "tau_dir",
			Reason: fmt.Sprintf("held by another pipeline (remove %s if stale)", path),
			Err:    err,
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", path, err)
	}
	if err := writeOwner(path, f); err != nil {
		return nil, err
	}
	return &Lock{path: path}, nil
}

// writeOwner records the holding pid and closes f. A lock that cannot be
// written is removed again so it never blocks the next run.
func writeOwner(path string, f io.WriteCloser) error {
	_, werr := fmt.Fprintf(f, "%d\n", os.Getpid())
	cerr := f.Close()
	err := errors.Join(werr, cerr)
	if err == nil {
		return nil
	}
	if rerr := os.Remove(path); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) {
		err = errors.Join(err, rerr)
	}
	return fmt.Errorf("failed to write lock %s: %w", path, err)
}

// Release removes the lock file.
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to release lock %s: %w", l.path, err)
	}
	return nil
}
