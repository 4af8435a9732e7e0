// download/lock.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package download

import (
	"fmt"

	"github.com/gofrs/flock"
)

// LockPath returns the path of the advisory lock file that guards path.
// Anyone reading or replacing a downloaded file should hold it.
func LockPath(path string) string {
	return path + ".lock"
}

// WithFileLock runs fn while holding the lock file for path.
func WithFileLock(path string, fn func() error) error {
	fl := flock.New(LockPath(path))
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("%s: %w", LockPath(path), err)
	}
	defer fl.Unlock()

	return fn()
}
