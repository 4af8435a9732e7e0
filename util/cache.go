// util/cache.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package util

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/atomic"
	"github.com/vmihailenco/msgpack/v5"
)

// Small objects that should survive between runs, such as the time of the
// last maps index update, are kept as zstd-compressed msgpack files in
// the Enroute directory under os.UserCacheDir(). Keys are slash-separated
// relative paths.

func cachePath(key string) (string, error) {
	if !filepath.IsLocal(filepath.FromSlash(key)) {
		return "", fmt.Errorf("%s: invalid cache key", key)
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "Enroute", filepath.FromSlash(key)), nil
}

// CacheStoreObject replaces the object stored under key with obj.
func CacheStoreObject(key string, obj any) error {
	path, err := cachePath(key)
	if err != nil {
		return err
	}
	b, err := msgpack.Marshal(obj)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return atomic.WriteFile(path, bytes.NewReader(CompressZstd(b)))
}

// CacheRetrieveObject decodes the object stored under key into obj and
// returns the time it was stored.
func CacheRetrieveObject(key string, obj any) (time.Time, error) {
	path, err := cachePath(key)
	if err != nil {
		return time.Time{}, err
	}
	fi, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	z, err := os.ReadFile(path)
	if err != nil {
		return time.Time{}, err
	}

	b, err := DecompressZstd(z)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", key, err)
	}
	if err := msgpack.Unmarshal(b, obj); err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", key, err)
	}
	return fi.ModTime(), nil
}

// CacheRemoveObject removes the object stored under key, if any.
func CacheRemoveObject(key string) error {
	path, err := cachePath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
