// download/download_test.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package download

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mmp/enroute/util"

	"github.com/klauspost/compress/zstd"
)

var modTime = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

func serveFiles(t *testing.T, files map[string][]byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		http.ServeContent(w, r, filepath.Base(r.URL.Path), modTime, bytes.NewReader(b))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// downloadDone returns a channel that receives once per finished (or
// failed, or stopped) download of d.
func downloadDone(d *Downloadable) <-chan struct{} {
	ch := make(chan struct{}, 16)
	d.DownloadingChanged.Connect(func() {
		if !d.Downloading() {
			ch <- struct{}{}
		}
	})
	return ch
}

func wait(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for download")
	}
}

func TestDownloadLifecycle(t *testing.T) {
	content := []byte(`{"type": "FeatureCollection", "features": []}`)
	srv := serveFiles(t, map[string][]byte{"/maps/Germany.geojson": content})

	dir := t.TempDir()
	fn := filepath.Join(dir, "Aviation Maps", "Europe", "Germany.geojson")
	temps := util.MakeTempFileRegistry(nil)
	d := New(srv.URL+"/maps/Germany.geojson", fn, Options{TempFiles: temps})
	defer d.Close()

	if d.HasFile() {
		t.Fatalf("HasFile true before download")
	}
	if got := d.InfoText(); got != "not installed • file size unknown" {
		t.Errorf("InfoText = %q", got)
	}

	var contentChanged, hasFileChanged, aboutToChange atomic.Int32
	d.FileContentChanged.Connect(func() { contentChanged.Add(1) })
	d.HasFileChanged.Connect(func() { hasFileChanged.Add(1) })
	d.AboutToChangeFile.Connect(func(string) { aboutToChange.Add(1) })
	var errs atomic.Int32
	d.ErrorOccurred.Connect(func(ErrorReport) { errs.Add(1) })

	done := downloadDone(d)
	d.StartFileDownload()
	d.StartFileDownload() // no-op while downloading
	wait(t, done)

	if !d.HasFile() {
		t.Fatalf("HasFile false after download")
	}
	if n := contentChanged.Load(); n != 1 {
		t.Errorf("FileContentChanged fired %d times, expected 1", n)
	}
	if n := hasFileChanged.Load(); n != 1 {
		t.Errorf("HasFileChanged fired %d times, expected 1", n)
	}
	if n := aboutToChange.Load(); n != 1 {
		t.Errorf("AboutToChangeFile fired %d times, expected 1", n)
	}
	if n := errs.Load(); n != 0 {
		t.Errorf("unexpected error reports: %d", n)
	}
	if p := d.DownloadProgress(); p != 100 {
		t.Errorf("progress %d after download, expected 100", p)
	}
	if b, err := d.FileContent(); err != nil || !bytes.Equal(b, content) {
		t.Errorf("FileContent = %q, %v", b, err)
	}
	if temps.Len() != 0 {
		t.Errorf("%d staging files still registered", temps.Len())
	}
	if !strings.HasPrefix(d.InfoText(), "installed • ") {
		t.Errorf("InfoText = %q", d.InfoText())
	}

	// No stray staging files next to the destination.
	entries, _ := os.ReadDir(filepath.Dir(fn))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".part") {
			t.Errorf("staging file %s left behind", e.Name())
		}
	}

	if err := d.DeleteFile(); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	if d.HasFile() {
		t.Errorf("HasFile true after DeleteFile")
	}
	if _, err := os.Stat(LockPath(fn)); err != nil {
		t.Errorf("lock file removed by DeleteFile: %v", err)
	}
	if n := contentChanged.Load(); n != 2 {
		t.Errorf("FileContentChanged fired %d times after delete, expected 2", n)
	}
	// Deleting again does nothing.
	if err := d.DeleteFile(); err != nil {
		t.Errorf("second DeleteFile: %v", err)
	}
	if n := hasFileChanged.Load(); n != 2 {
		t.Errorf("HasFileChanged fired %d times, expected 2", n)
	}
}

func TestDownloadFailureLeavesFileUntouched(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100000")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("partial data"))
		w.(http.Flusher).Flush()
		panic(http.ErrAbortHandler)
	}))
	defer srv.Close()

	for _, existing := range []bool{false, true} {
		dir := t.TempDir()
		fn := filepath.Join(dir, "map.geojson")
		old := []byte("old content")
		if existing {
			if err := os.WriteFile(fn, old, 0o644); err != nil {
				t.Fatal(err)
			}
		}

		d := New(srv.URL+"/map.geojson", fn, Options{})
		reports := make(chan ErrorReport, 1)
		d.ErrorOccurred.Connect(func(r ErrorReport) { reports <- r })
		done := downloadDone(d)

		d.StartFileDownload()
		wait(t, done)

		select {
		case r := <-reports:
			if r.ObjectName != "map.geojson" || r.Message == "" {
				t.Errorf("unexpected error report %+v", r)
			}
		case <-time.After(5 * time.Second):
			t.Errorf("no error reported")
		}

		if existing {
			if b, err := os.ReadFile(fn); err != nil || !bytes.Equal(b, old) {
				t.Errorf("destination changed: %q, %v", b, err)
			}
		} else if d.HasFile() {
			t.Errorf("destination created by failed download")
		}
		entries, _ := os.ReadDir(dir)
		if len(entries) != util.Select(existing, 1, 0) {
			t.Errorf("unexpected files left in %s: %d entries", dir, len(entries))
		}
		d.Close()
	}
}

func TestSynchronousDownload(t *testing.T) {
	srv := serveFiles(t, map[string][]byte{"/maps.json": []byte(`{"maps": []}`)})
	dir := t.TempDir()

	d := New(srv.URL+"/maps.json", filepath.Join(dir, "maps.json"), Options{})
	defer d.Close()
	if err := d.Download(context.Background()); err != nil {
		t.Fatalf("Download: %v", err)
	}
	if !d.HasFile() || d.Downloading() {
		t.Errorf("after Download: HasFile %v Downloading %v", d.HasFile(), d.Downloading())
	}

	missing := New(srv.URL+"/missing.json", filepath.Join(dir, "missing.json"), Options{})
	defer missing.Close()
	err := missing.Download(context.Background())
	var derr *Error
	if !errors.As(err, &derr) || derr.Kind != ContentNotFound {
		t.Errorf("Download of missing file: %v", err)
	}
	if missing.HasFile() {
		t.Errorf("failed Download created the file")
	}
}

func TestStopFileDownload(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100000")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("some data"))
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	fn := filepath.Join(t.TempDir(), "map.geojson")
	d := New(srv.URL+"/map.geojson", fn, Options{})
	defer d.Close()

	var errs atomic.Int32
	d.ErrorOccurred.Connect(func(ErrorReport) { errs.Add(1) })

	d.StopFileDownload() // not downloading: no-op
	d.StartFileDownload()
	if !d.Downloading() {
		t.Fatalf("not downloading after StartFileDownload")
	}
	d.StopFileDownload()
	if d.Downloading() {
		t.Errorf("still downloading after StopFileDownload")
	}

	time.Sleep(100 * time.Millisecond)
	if errs.Load() != 0 {
		t.Errorf("stopping a download reported an error")
	}
	if d.HasFile() {
		t.Errorf("stopped download created the file")
	}
}

func TestStaleness(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "map.geojson")
	d := New("https://example.com/map.geojson", fn, Options{})
	defer d.Close()

	if d.Updatable() {
		t.Errorf("updatable without a local file")
	}

	if err := os.WriteFile(fn, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	local := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := os.Chtimes(fn, local, local); err != nil {
		t.Fatal(err)
	}

	if d.Updatable() {
		t.Errorf("updatable with unknown remote date")
	}

	var changes atomic.Int32
	d.UpdatableChanged.Connect(func() { changes.Add(1) })

	d.SetRemoteFileDate(local.Add(time.Hour))
	if !d.Updatable() {
		t.Errorf("not updatable with a newer remote file")
	}
	d.SetRemoteFileDate(local.Add(time.Hour)) // unchanged
	d.SetRemoteFileDate(local)
	if d.Updatable() {
		t.Errorf("updatable with equal dates")
	}
	d.SetRemoteFileDate(local.Add(-time.Hour))
	if d.Updatable() {
		t.Errorf("updatable with an older remote file")
	}
	if n := changes.Load(); n != 2 {
		t.Errorf("UpdatableChanged fired %d times, expected 2", n)
	}

	d.SetRemoteFileSize(1500000)
	d.SetRemoteFileDate(local.Add(time.Hour))
	if got := d.InfoText(); got != "installed • 1 bytes • update available" {
		t.Errorf("InfoText = %q", got)
	}
}

func TestFetchInfo(t *testing.T) {
	content := bytes.Repeat([]byte("a"), 1234)
	srv := serveFiles(t, map[string][]byte{"/map.geojson": content})

	d := New(srv.URL+"/map.geojson", filepath.Join(t.TempDir(), "map.geojson"), Options{})
	defer d.Close()

	var dateChanged, sizeChanged atomic.Int32
	d.RemoteFileDateChanged.Connect(func() { dateChanged.Add(1) })
	d.RemoteFileSizeChanged.Connect(func() { sizeChanged.Add(1) })

	if err := d.FetchInfo(context.Background()); err != nil {
		t.Fatalf("FetchInfo: %v", err)
	}
	if d.RemoteFileSize() != 1234 {
		t.Errorf("remote size %d, expected 1234", d.RemoteFileSize())
	}
	if !d.RemoteFileDate().Equal(modTime) {
		t.Errorf("remote date %s, expected %s", d.RemoteFileDate(), modTime)
	}

	// Same answer again: no notifications.
	if err := d.FetchInfo(context.Background()); err != nil {
		t.Fatalf("FetchInfo: %v", err)
	}
	if dateChanged.Load() != 1 || sizeChanged.Load() != 1 {
		t.Errorf("notifications: date %d size %d, expected 1 each", dateChanged.Load(), sizeChanged.Load())
	}
	if got := d.InfoText(); got != "not installed • 1.2 kB" {
		t.Errorf("InfoText = %q", got)
	}

	missing := New(srv.URL+"/nope.geojson", filepath.Join(t.TempDir(), "nope.geojson"), Options{})
	defer missing.Close()
	err := missing.FetchInfo(context.Background())
	if Classify(err) != ContentNotFound {
		t.Errorf("missing file: got %v, expected ContentNotFound", err)
	}
}

func TestZstdDownload(t *testing.T) {
	content := []byte(strings.Repeat("compressible ", 1000))
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	zw.Write(content)
	zw.Close()

	srv := serveFiles(t, map[string][]byte{"/map.geojson.zst": buf.Bytes()})

	fn := filepath.Join(t.TempDir(), "map.geojson")
	d := New(srv.URL+"/map.geojson.zst", fn, Options{})
	defer d.Close()

	done := downloadDone(d)
	d.StartFileDownload()
	wait(t, done)

	if b, err := os.ReadFile(fn); err != nil || !bytes.Equal(b, content) {
		t.Errorf("decompressed content mismatch (%d bytes, %v)", len(b), err)
	}
}

func TestStatusKind(t *testing.T) {
	for _, tc := range []struct {
		code int
		kind ErrorKind
		ok   bool
	}{
		{200, 0, false},
		{304, 0, false},
		{401, AuthenticationRequired, true},
		{403, ContentAccessDenied, true},
		{404, ContentNotFound, true},
		{409, ContentConflict, true},
		{410, ContentGone, true},
		{418, UnknownContentError, true},
		{500, InternalServerError, true},
		{501, OperationNotImplemented, true},
		{503, ServiceUnavailable, true},
		{504, UnknownServerError, true},
	} {
		kind, ok := StatusKind(tc.code)
		if ok != tc.ok || (ok && kind != tc.kind) {
			t.Errorf("StatusKind(%d) = %s, %v; expected %s, %v", tc.code, kind, ok, tc.kind, tc.ok)
		}
	}
}

func TestClassify(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	closedURL := srv.URL
	srv.Close()

	c := NewClient(false, nil)
	_, err := c.Stat(context.Background(), closedURL+"/file")
	if k := Classify(err); k != ConnectionRefused {
		t.Errorf("closed server: got %s (%v), expected ConnectionRefused", k, err)
	}

	_, err = c.Stat(context.Background(), "ftp://example.com/file")
	if k := Classify(err); k != ProtocolUnknown {
		t.Errorf("ftp: got %s, expected ProtocolUnknown", k)
	}

	if k := Classify(context.Canceled); k != OperationCanceled {
		t.Errorf("context.Canceled: got %s", k)
	}
	if k := Classify(errors.New("something else")); k != UnknownNetworkError {
		t.Errorf("plain error: got %s", k)
	}

	for k := ErrorKind(0); k < NumErrorKinds; k++ {
		if k.Message() == "" || k.String() == "" {
			t.Errorf("ErrorKind %d lacks a message or name", k)
		}
	}
}

func TestFileLock(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "map.geojson")
	ran := false
	if err := WithFileLock(fn, func() error { ran = true; return nil }); err != nil || !ran {
		t.Errorf("WithFileLock: ran %v, err %v", ran, err)
	}
	if _, err := os.Stat(LockPath(fn)); err != nil {
		t.Errorf("lock file not created: %v", err)
	}
	sentinel := errors.New("fail")
	if err := WithFileLock(fn, func() error { return sentinel }); !errors.Is(err, sentinel) {
		t.Errorf("WithFileLock error = %v", err)
	}
}
