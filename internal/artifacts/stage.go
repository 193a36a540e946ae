package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const stagingPrefix = ".staging-"

// StagingPath returns a hidden sibling of target that keeps target's file
// name as suffix, so tools that look at extensions still behave. A staged
// file never satisfies the Gate because it lives under a different name.
func StagingPath(target string) string {
	dir, base := filepath.Split(target)
	return filepath.Join(dir, stagingPrefix+uuid.NewString()[:8]+"-"+base)
}

// IsStaging reports whether name is a staging leftover.
func IsStaging(name string) bool {
	return strings.HasPrefix(filepath.Base(name), stagingPrefix)
}

// Commit atomically moves a fully written staging file or directory onto
// target. An existing target directory is replaced.
func Commit(staging, target string) error {
	info, err := os.Stat(staging)
	if err != nil {
		return fmt.Errorf("staged output missing for %s: %w", target, err)
	}
	if info.IsDir() {
		if err := os.RemoveAll(target); err != nil {
			return fmt.Errorf("failed to clear %s: %w", target, err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(target), err)
	}
	if err := os.Rename(staging, target); err != nil {
		return fmt.Errorf("failed to commit %s: %w", target, err)
	}
	return nil
}

// Discard removes a staging path, ignoring a missing one.
func Discard(staging string) {
	_ = os.RemoveAll(staging)
}

// WriteFile writes data to path through a staging file.
func WriteFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	staging := StagingPath(path)
	if err := os.WriteFile(staging, data, 0o644); err != nil {
		Discard(staging)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := Commit(staging, path); err != nil {
		Discard(staging)
		return err
	}
	return nil
}

// Produce runs fn against a staging path next to target and commits the
// result only when fn succeeds.
func Produce(target string, fn func(staging string) error) error {
	staging := StagingPath(target)
	if err := fn(staging); err != nil {
		Discard(staging)
		return err
	}
	if err := Commit(staging, target); err != nil {
		Discard(staging)
		return err
	}
	return nil
}
