// util/compress.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package util

import (
	"io"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

var (
	// EncodeAll and DecodeAll may be used concurrently.
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
)

func CompressZstd(b []byte) []byte {
	return zstdEncoder.EncodeAll(b, nil)
}

func DecompressZstd(b []byte) ([]byte, error) {
	return zstdDecoder.DecodeAll(b, nil)
}

// zstdReadCloser adapts a zstd.Decoder, whose Close method doesn't return
// an error, to io.ReadCloser; closing it also closes the underlying
// reader.
type zstdReadCloser struct {
	*zstd.Decoder
	r io.ReadCloser
}

func (z *zstdReadCloser) Close() error {
	z.Decoder.Close()
	return z.r.Close()
}

// NewZstdReadCloser returns a reader that decompresses the zstd stream
// provided by r.
func NewZstdReadCloser(r io.ReadCloser) (io.ReadCloser, error) {
	zr, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(0))
	if err != nil {
		return nil, err
	}
	return &zstdReadCloser{Decoder: zr, r: r}, nil
}

// IsZstdPath returns true if the path has a .zst extension.
func IsZstdPath(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".zst")
}

// MaybeDecompress returns r unchanged unless remote names a zstd-compressed
// object and local does not, in which case the returned reader
// decompresses it.
func MaybeDecompress(remote, local string, r io.ReadCloser) (io.ReadCloser, error) {
	if IsZstdPath(remote) && !IsZstdPath(local) {
		return NewZstdReadCloser(r)
	}
	return r, nil
}
