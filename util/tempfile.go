// util/tempfile.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package util

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/mmp/enroute/log"
)

// TempFileRegistry tracks temporary files (e.g., partially downloaded
// data) so that they can be removed individually when they are committed
// or abandoned, and all at once when the program exits.
type TempFileRegistry struct {
	mu    sync.Mutex
	paths map[string]struct{}
	lg    *log.Logger
}

func MakeTempFileRegistry(lg *log.Logger) *TempFileRegistry {
	return &TempFileRegistry{
		paths: make(map[string]struct{}),
		lg:    lg,
	}
}

// CreateTemp creates a new temporary file in dir (which is created if
// necessary) and registers its path.
func (t *TempFileRegistry) CreateTemp(dir, pattern string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, err
	}
	t.RegisterPath(f.Name())
	return f, nil
}

func (t *TempFileRegistry) RegisterPath(path string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.paths[filepath.Clean(path)] = struct{}{}
	t.mu.Unlock()
}

// Forget stops tracking the path without removing the file; it is used
// once a temporary file has been renamed into place.
func (t *TempFileRegistry) Forget(path string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	delete(t.paths, filepath.Clean(path))
	t.mu.Unlock()
}

// Remove removes the file and stops tracking it.
func (t *TempFileRegistry) Remove(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		t.logger().Warnf("%s: unable to remove temporary file: %v", path, err)
	}
	t.Forget(path)
}

func (t *TempFileRegistry) RemoveAll() {
	if t == nil {
		return
	}
	t.mu.Lock()
	for path := range t.paths {
		os.Remove(path) // ignore errors
	}
	clear(t.paths)
	t.mu.Unlock()
}

func (t *TempFileRegistry) Len() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.paths)
}

func (t *TempFileRegistry) logger() *log.Logger {
	if t == nil {
		return nil
	}
	return t.lg
}
