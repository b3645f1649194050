package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
)

// Staging is a scoped temporary directory used to assemble an install
// root or composed NAK before atomically promoting it. Cleanup removes
// the whole tree on any exit path; after a successful Promote it is a
// no-op.
type Staging struct {
	dir      string
	promoted bool
}

// NewStaging creates a staging directory next to the eventual target so
// the final rename stays on one filesystem.
func NewStaging(nearPath, prefix string) (*Staging, error) {
	parent := filepath.Dir(nearPath)
	if err := os.MkdirAll(parent, 0755); err != nil {
		return nil, fmt.Errorf("creating staging parent: %w", err)
	}
	dir, err := os.MkdirTemp(parent, "."+prefix+"-stage-")
	if err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}
	return &Staging{dir: dir}, nil
}

// Dir returns the staging directory path.
func (s *Staging) Dir() string {
	return s.dir
}

// Promote renames the staged tree to target. The target must not exist
// unless replace is set, in which case it is moved aside and removed
// after the rename succeeds.
func (s *Staging) Promote(target string, replace bool) error {
	if _, err := os.Stat(target); err == nil {
		if !replace {
			return fmt.Errorf("target already exists: %s", target)
		}
		old := target + ".old"
		os.RemoveAll(old)
		if err := os.Rename(target, old); err != nil {
			return fmt.Errorf("moving aside %s: %w", target, err)
		}
		if err := os.Rename(s.dir, target); err != nil {
			// Best effort restore of the previous tree.
			os.Rename(old, target)
			return fmt.Errorf("promoting staged directory: %w", err)
		}
		os.RemoveAll(old)
		s.promoted = true
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("creating target parent: %w", err)
	}
	if err := os.Rename(s.dir, target); err != nil {
		return fmt.Errorf("promoting staged directory: %w", err)
	}
	s.promoted = true
	return nil
}

// Cleanup removes the staging tree unless it was promoted. Safe to call
// multiple times and from defer.
func (s *Staging) Cleanup() {
	if s.promoted {
		return
	}
	os.RemoveAll(s.dir)
}
