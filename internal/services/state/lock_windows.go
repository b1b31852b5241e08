//go:build windows

package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Lock approximates an exclusive lock by creating path+".lock" exclusively.
// The returned func removes it.
func Lock(path string) (func(), error) {
	lockPath := path + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, lockPath)
		}
		return nil, fmt.Errorf("failed to lock %s: %w", lockPath, err)
	}

	unlocked := false
	return func() {
		if unlocked {
			return
		}
		_ = f.Close()
		_ = os.Remove(lockPath)
		unlocked = true
	}, nil
}
