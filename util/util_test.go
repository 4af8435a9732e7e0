// util/util_test.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package util

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
)

func TestSignal(t *testing.T) {
	var s Signal[int]
	var got []int

	id := s.Connect(func(v int) { got = append(got, v) })
	s.Connect(func(v int) { got = append(got, 10*v) })
	s.Emit(1)

	s.Disconnect(id)
	s.Emit(2)

	if want := []int{1, 10, 20}; !slices.Equal(got, want) {
		t.Errorf("got %v, expected %v", got, want)
	}
	if s.NumConnections() != 1 {
		t.Errorf("expected 1 connection, got %d", s.NumConnections())
	}

	// A callback may disconnect itself while the signal is being emitted.
	var n Notifier
	count := 0
	var self ConnectionID
	self = n.Connect(func() {
		count++
		n.Disconnect(self)
	})
	n.Notify()
	n.Notify()
	if count != 1 {
		t.Errorf("expected self-disconnecting callback to run once, ran %d times", count)
	}
}


func TestErrorLogger(t *testing.T) {
	var e ErrorLogger
	if e.HaveErrors() || e.Err() != nil {
		t.Errorf("fresh ErrorLogger reports errors")
	}

	e.Push("maps")
	e.Push("[3]")
	e.ErrorString("missing %q", "path")
	e.Pop()
	e.Pop()
	e.ErrorString("top level")

	if !e.HaveErrors() {
		t.Errorf("expected errors")
	}
	if s := e.String(); s != "maps / [3]: missing \"path\"\ntop level" {
		t.Errorf("unexpected errors %q", s)
	}
	var perr *PathError
	if errs := e.Errors(); len(errs) != 2 || !errors.As(errs[0], &perr) || perr.Path != "maps / [3]" {
		t.Errorf("unexpected error values %v", errs)
	}

	e.Push("url")
	e.Error(os.ErrNotExist)
	e.Pop()
	if !errors.Is(e.Err(), os.ErrNotExist) {
		t.Errorf("wrapped error lost: %v", e.Err())
	}
}

func TestUnmarshalJSONBytes(t *testing.T) {
	type item struct {
		Name string `json:"name"`
		Size int64  `json:"size"`
	}

	var it item
	if err := UnmarshalJSONBytes([]byte(`{"name": "a", "size": 12}`), &it); err != nil || it.Name != "a" || it.Size != 12 {
		t.Errorf("unexpected result %+v, %v", it, err)
	}

	err := UnmarshalJSONBytes([]byte("{\n  \"name\": \"a\",\n  \"size\": \"big\"\n}"), &it)
	if err == nil || !strings.Contains(err.Error(), "line 3") {
		t.Errorf("expected error on line 3, got %v", err)
	}
	if err := UnmarshalJSONBytes([]byte("{\n\"name\" \"a\"}"), &it); err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Errorf("expected syntax error on line 2, got %v", err)
	}
}

func TestCheckJSON(t *testing.T) {
	type entry struct {
		Path string `json:"path"`
		Size int64  `json:"size"`
	}
	type index struct {
		URL  string  `json:"url"`
		Maps []entry `json:"maps"`
	}

	var e ErrorLogger
	CheckJSON[index]([]byte(`{"url": "https://x", "maps": [{"path": "a", "size": 1}]}`), &e)
	if e.HaveErrors() {
		t.Errorf("unexpected errors: %s", e.String())
	}

	e = ErrorLogger{}
	CheckJSON[index]([]byte(`{"url": "https://x", "maps": [{"path": 1, "sise": 1}]}`), &e)
	if !e.HaveErrors() {
		t.Errorf("expected errors for mistyped and misspelled entries")
	}
}

func TestTempFileRegistry(t *testing.T) {
	dir := t.TempDir()
	r := MakeTempFileRegistry(nil)

	f1, err := r.CreateTemp(filepath.Join(dir, "sub"), "a-*.part")
	if err != nil {
		t.Fatal(err)
	}
	f1.Close()
	f2, err := r.CreateTemp(dir, "b-*.part")
	if err != nil {
		t.Fatal(err)
	}
	f2.Close()

	if r.Len() != 2 {
		t.Errorf("expected 2 registered files, got %d", r.Len())
	}

	r.Remove(f1.Name())
	if _, err := os.Stat(f1.Name()); !os.IsNotExist(err) {
		t.Errorf("expected %s to be removed", f1.Name())
	}

	r.RemoveAll()
	if _, err := os.Stat(f2.Name()); !os.IsNotExist(err) {
		t.Errorf("expected %s to be removed", f2.Name())
	}
	if r.Len() != 0 {
		t.Errorf("expected empty registry, got %d", r.Len())
	}
}

func TestMaybeDecompress(t *testing.T) {
	orig := []byte(strings.Repeat("enroute ", 1000))

	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	zw.Write(orig)
	zw.Close()
	compressed := buf.Bytes()

	r, err := MaybeDecompress("maps/base.mbtiles.zst", "maps/base.mbtiles", io.NopCloser(bytes.NewReader(compressed)))
	if err != nil {
		t.Fatal(err)
	}
	b, err := io.ReadAll(r)
	r.Close()
	if err != nil || !bytes.Equal(b, orig) {
		t.Errorf("decompression failed: %v", err)
	}

	r, _ = MaybeDecompress("a.zst", "a.zst", io.NopCloser(bytes.NewReader(compressed)))
	if b, _ := io.ReadAll(r); !bytes.Equal(b, compressed) {
		t.Errorf("expected passthrough when local name keeps .zst")
	}
}

func TestCache(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	type info struct {
		URL  string
		Size int64
	}
	in := map[string]info{"a": {URL: "https://x/a", Size: 12}}
	if err := CacheStoreObject("test/info.msgpack", in); err != nil {
		t.Fatal(err)
	}

	var out map[string]info
	if _, err := CacheRetrieveObject("test/info.msgpack", &out); err != nil {
		t.Fatal(err)
	}
	if out["a"] != in["a"] {
		t.Errorf("got %+v, expected %+v", out, in)
	}

	if err := CacheRemoveObject("test/info.msgpack"); err != nil {
		t.Fatal(err)
	}
	if _, err := CacheRetrieveObject("test/info.msgpack", &out); !os.IsNotExist(err) {
		t.Errorf("expected removed object to be gone, got %v", err)
	}
	if err := CacheRemoveObject("test/info.msgpack"); err != nil {
		t.Errorf("removing a missing object: %v", err)
	}
	if err := CacheStoreObject("../escape", in); err == nil {
		t.Errorf("key outside the cache accepted")
	}
}
