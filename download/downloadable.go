// download/downloadable.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mmp/enroute/log"
	"github.com/mmp/enroute/math"
	"github.com/mmp/enroute/units"
	"github.com/mmp/enroute/util"

	"github.com/natefinch/atomic"
)

// ErrorReport is delivered to Downloadable.ErrorOccurred listeners.
type ErrorReport struct {
	ObjectName string
	Message    string
	Kind       ErrorKind
}

type Options struct {
	Client    *Client
	TempFiles *util.TempFileRegistry
	Events    *util.EventStream
	Logger    *log.Logger
}

// Downloadable is a remote file together with its local copy. It keeps
// track of the remote metadata, downloads the file on request and
// replaces the local copy atomically once the download is complete.
//
// At most one file download and one info request run at a time. All
// listeners are called without the Downloadable's lock held, from the
// goroutine that caused the change.
type Downloadable struct {
	url      string
	fileName string

	client *Client
	temps  *util.TempFileRegistry
	events *util.EventStream
	lg     *log.Logger

	// closeCtx is canceled by Close and bounds info requests.
	closeCtx    context.Context
	closeCancel context.CancelFunc

	mu          sync.Mutex
	objectName  string
	section     string
	remoteDate  time.Time
	remoteSize  int64
	progress    int
	downloading bool
	// cancel is non-nil while the download may still be stopped; it is
	// cleared once the download is being committed.
	cancel      context.CancelFunc
	generation  int
	infoRunning bool
	closed      bool

	AboutToChangeFile       util.Signal[string]
	FileContentChanged      util.Notifier
	HasFileChanged          util.Notifier
	DownloadingChanged      util.Notifier
	DownloadProgressChanged util.Signal[int]
	UpdatableChanged        util.Notifier
	RemoteFileDateChanged   util.Notifier
	RemoteFileSizeChanged   util.Notifier
	SectionChanged          util.Notifier
	ErrorOccurred           util.Signal[ErrorReport]
	Closed                  util.Notifier
}

// New returns a Downloadable for the given remote URL and local file. An
// empty URL marks a local file that is no longer offered remotely.
func New(rawURL, fileName string, opts Options) *Downloadable {
	if opts.Client == nil {
		opts.Client = NewClient(false, opts.Logger)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Downloadable{
		url:         rawURL,
		fileName:    filepath.Clean(fileName),
		client:      opts.Client,
		temps:       opts.TempFiles,
		events:      opts.Events,
		lg:          opts.Logger,
		closeCtx:    ctx,
		closeCancel: cancel,
		objectName:  filepath.Base(fileName),
		remoteSize:  -1,
	}
}

func (d *Downloadable) URL() string { return d.url }

// HasValidURL reports whether the file is still offered remotely.
func (d *Downloadable) HasValidURL() bool {
	if d.url == "" {
		return false
	}
	u, err := url.Parse(d.url)
	return err == nil && u.Scheme != "" && u.Host != ""
}

func (d *Downloadable) FileName() string { return d.fileName }

func (d *Downloadable) ObjectName() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.objectName
}

func (d *Downloadable) SetObjectName(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.objectName = name
}

func (d *Downloadable) Section() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.section
}

func (d *Downloadable) SetSection(section string) {
	d.mu.Lock()
	if section == d.section {
		d.mu.Unlock()
		return
	}
	d.section = section
	d.mu.Unlock()

	d.SectionChanged.Notify()
}

func (d *Downloadable) HasFile() bool {
	_, err := os.Stat(d.fileName)
	return err == nil
}

// LocalFileDate returns the modification time of the local file, or the
// zero time if there is none.
func (d *Downloadable) LocalFileDate() time.Time {
	if fi, err := os.Stat(d.fileName); err == nil {
		return fi.ModTime()
	}
	return time.Time{}
}

func (d *Downloadable) localFileSize() int64 {
	if fi, err := os.Stat(d.fileName); err == nil {
		return fi.Size()
	}
	return -1
}

func (d *Downloadable) RemoteFileDate() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.remoteDate
}

// RemoteFileSize returns the size of the remote file in bytes or -1 if
// it is unknown.
func (d *Downloadable) RemoteFileSize() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.remoteSize
}

func (d *Downloadable) Downloading() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.downloading
}

// DownloadProgress returns the progress of the running download in
// percent.
func (d *Downloadable) DownloadProgress() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.progress
}

// Updatable reports whether a newer version of the local file is
// available remotely.
func (d *Downloadable) Updatable() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.updatableLocked()
}

func (d *Downloadable) updatableLocked() bool {
	if d.downloading {
		return false
	}
	fi, err := os.Stat(d.fileName)
	if err != nil {
		return false
	}
	return !d.remoteDate.IsZero() && fi.ModTime().Before(d.remoteDate)
}

// InfoText returns a one-line description of the state of the file,
// e.g. "installed • 1.2 MB • update available".
func (d *Downloadable) InfoText() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.downloading {
		return fmt.Sprintf("downloading … %d%% complete", d.progress)
	}

	if size := d.localFileSize(); size >= 0 {
		text := "installed • " + units.FormatDataSize(size)
		if d.updatableLocked() {
			text += " • update available"
		}
		if !d.HasValidURL() {
			text += " • no longer supported"
		}
		return text
	}

	if d.remoteSize >= 0 {
		return "not installed • " + units.FormatDataSize(d.remoteSize)
	}
	return "not installed • file size unknown"
}

// FileContent returns the contents of the local file, read while holding
// its lock file. A missing file gives nil and no error.
func (d *Downloadable) FileContent() ([]byte, error) {
	if !d.HasFile() {
		return nil, nil
	}

	var b []byte
	err := WithFileLock(d.fileName, func() error {
		var err error
		b, err = os.ReadFile(d.fileName)
		if errors.Is(err, os.ErrNotExist) {
			err = nil
		}
		return err
	})
	return b, err
}

func (d *Downloadable) SetRemoteFileDate(t time.Time) {
	d.mu.Lock()
	if t.Equal(d.remoteDate) {
		d.mu.Unlock()
		return
	}
	oldUpdatable := d.updatableLocked()
	d.remoteDate = t
	updatableChanged := oldUpdatable != d.updatableLocked()
	d.mu.Unlock()

	if updatableChanged {
		d.UpdatableChanged.Notify()
	}
	d.RemoteFileDateChanged.Notify()
}

func (d *Downloadable) SetRemoteFileSize(size int64) {
	size = max(size, -1)

	d.mu.Lock()
	if size == d.remoteSize {
		d.mu.Unlock()
		return
	}
	oldUpdatable := d.updatableLocked()
	d.remoteSize = size
	updatableChanged := oldUpdatable != d.updatableLocked()
	d.mu.Unlock()

	if updatableChanged {
		d.UpdatableChanged.Notify()
	}
	d.RemoteFileSizeChanged.Notify()
}

// StartInfoDownload requests the remote file's metadata in the
// background. It does nothing while a request is outstanding. Failures
// are logged but not reported.
func (d *Downloadable) StartInfoDownload() {
	d.mu.Lock()
	if d.infoRunning || d.closed {
		d.mu.Unlock()
		return
	}
	d.infoRunning = true
	d.mu.Unlock()

	go func() {
		defer func() {
			d.mu.Lock()
			d.infoRunning = false
			d.mu.Unlock()
		}()

		if err := d.fetchInfo(d.closeCtx); err != nil {
			d.lg.Warn("remote file info", slog.String("url", d.url), slog.Any("error", err))
		}
	}()
}

// FetchInfo is the synchronous version of StartInfoDownload. If another
// request is outstanding, it returns immediately.
func (d *Downloadable) FetchInfo(ctx context.Context) error {
	d.mu.Lock()
	if d.infoRunning || d.closed {
		d.mu.Unlock()
		return nil
	}
	d.infoRunning = true
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.infoRunning = false
		d.mu.Unlock()
	}()

	return d.fetchInfo(ctx)
}

func (d *Downloadable) fetchInfo(ctx context.Context) error {
	if !d.HasValidURL() {
		return &Error{Kind: ProtocolUnknown, URL: d.url}
	}

	info, err := d.client.Stat(ctx, d.url)
	if err != nil {
		return err
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	oldUpdatable := d.updatableLocked()
	dateChanged := !info.LastModified.Equal(d.remoteDate)
	sizeChanged := info.Size != d.remoteSize
	d.remoteDate, d.remoteSize = info.LastModified, info.Size
	updatableChanged := oldUpdatable != d.updatableLocked()
	d.mu.Unlock()

	if dateChanged {
		d.RemoteFileDateChanged.Notify()
	}
	if sizeChanged {
		d.RemoteFileSizeChanged.Notify()
	}
	if updatableChanged {
		d.UpdatableChanged.Notify()
	}
	return nil
}

// StartFileDownload downloads the remote file in the background and
// replaces the local file when it is complete. It does nothing if a
// download is already running.
func (d *Downloadable) StartFileDownload() {
	if ctx, gen, ok := d.beginDownload(d.closeCtx); ok {
		go func() { _ = d.download(ctx, gen) }()
	}
}

// Download is the synchronous version of StartFileDownload. It returns
// ErrDownloadRunning if another download is in progress and nil if the
// download was stopped.
func (d *Downloadable) Download(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(d.closeCtx, cancel)
	defer stop()

	dctx, gen, ok := d.beginDownload(ctx)
	if !ok {
		return ErrDownloadRunning
	}
	return d.download(dctx, gen)
}

func (d *Downloadable) beginDownload(parent context.Context) (context.Context, int, bool) {
	d.mu.Lock()
	if d.downloading || d.closed {
		d.mu.Unlock()
		return nil, 0, false
	}

	oldUpdatable := d.updatableLocked()
	oldProgress := d.progress

	ctx, cancel := context.WithCancel(parent)
	d.downloading = true
	d.cancel = cancel
	d.generation++
	gen := d.generation
	d.progress = 0

	updatableChanged := oldUpdatable != d.updatableLocked()
	d.mu.Unlock()

	d.lg.Info("starting download", slog.String("url", d.url), slog.String("file", d.fileName))

	if updatableChanged {
		d.UpdatableChanged.Notify()
	}
	if oldProgress != 0 {
		d.DownloadProgressChanged.Emit(0)
	}
	d.DownloadingChanged.Notify()

	return ctx, gen, true
}

// StopFileDownload cancels the running download and discards the data
// received so far. No error is reported.
func (d *Downloadable) StopFileDownload() {
	d.mu.Lock()
	if !d.downloading || d.cancel == nil {
		d.mu.Unlock()
		return
	}
	d.stopLocked()
	updatable := d.updatableLocked()
	d.mu.Unlock()

	d.lg.Info("download stopped", slog.String("url", d.url))

	if updatable {
		d.UpdatableChanged.Notify()
	}
	d.DownloadingChanged.Notify()
}

// stopLocked cancels the download; the download goroutine notices the
// generation change and removes the staging file.
func (d *Downloadable) stopLocked() {
	d.cancel()
	d.cancel = nil
	d.downloading = false
	d.generation++
}

// progressReader counts the bytes received from the remote source,
// before any decompression.
type progressReader struct {
	r        io.Reader
	received int64
	total    int64
	report   func(received, total int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.received += int64(n)
	if n > 0 {
		p.report(p.received, p.total)
	}
	return n, err
}

func (d *Downloadable) download(ctx context.Context, gen int) error {
	staging, err := d.fetchToStaging(ctx, gen)
	if err != nil {
		if staging != "" {
			d.temps.Remove(staging)
		}
		return d.downloadFailed(gen, err)
	}
	return d.commit(gen, staging)
}

// fetchToStaging streams the remote file into a temporary file next to
// the destination and returns its path. The path is returned with the
// error too if the staging file was already created.
func (d *Downloadable) fetchToStaging(ctx context.Context, gen int) (string, error) {
	if !d.HasValidURL() {
		return "", &Error{Kind: ProtocolUnknown, URL: d.url, Err: errors.New("no download location")}
	}

	f, err := d.createStaging()
	if err != nil {
		return "", err
	}
	staging := f.Name()
	defer f.Close()

	rc, size, err := d.client.Open(ctx, d.url)
	if err != nil {
		return staging, err
	}
	defer rc.Close()

	pr := &progressReader{r: rc, total: size, report: func(received, total int64) {
		d.reportProgress(gen, received, total)
	}}
	r, err := util.MaybeDecompress(d.url, d.fileName, io.NopCloser(pr))
	if err != nil {
		return staging, err
	}
	defer r.Close()

	if _, err := io.Copy(f, r); err != nil {
		return staging, newError(d.url, err)
	}
	if err := f.Sync(); err != nil {
		return staging, err
	}
	return staging, f.Close()
}

func (d *Downloadable) createStaging() (*os.File, error) {
	dir, base := filepath.Split(d.fileName)
	pattern := "." + base + ".*.part"
	if d.temps != nil {
		return d.temps.CreateTemp(dir, pattern)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return os.CreateTemp(dir, pattern)
}

func (d *Downloadable) reportProgress(gen int, received, total int64) {
	d.mu.Lock()
	if gen != d.generation {
		d.mu.Unlock()
		return
	}

	// Compressed transfers don't report their size; the remote file size
	// is the best estimate then.
	if total < 0 && d.remoteSize > 0 {
		total = d.remoteSize
	}
	progress := 0
	if total > 0 {
		progress = int(100*float64(received)/float64(total) + 0.5)
	}
	progress = math.Clamp(progress, 0, 100)

	changed := progress != d.progress
	d.progress = progress
	d.mu.Unlock()

	if changed {
		d.DownloadProgressChanged.Emit(progress)
	}
}

// downloadFailed reports err and returns it, unless the download was
// stopped in the meantime.
func (d *Downloadable) downloadFailed(gen int, err error) error {
	d.mu.Lock()
	if gen != d.generation {
		// Stopped or closed; that's not an error.
		d.mu.Unlock()
		return nil
	}
	d.downloading = false
	d.cancel = nil
	d.generation++
	updatable := d.updatableLocked()
	name := d.objectName
	d.mu.Unlock()

	kind := Classify(err)
	if derr := (*Error)(nil); !errors.As(err, &derr) {
		err = &Error{Kind: kind, URL: d.url, Err: err}
	}
	d.lg.Warn("download failed", slog.String("url", d.url), slog.String("kind", kind.String()),
		slog.Any("error", err))

	if updatable {
		d.UpdatableChanged.Notify()
	}
	d.DownloadingChanged.Notify()

	if kind == SSLHandshakeFailed && d.client.IgnoreSSLProblems {
		return err
	}
	d.reportError(name, kind, kind.Message())
	return err
}

func (d *Downloadable) reportError(name string, kind ErrorKind, msg string) {
	d.ErrorOccurred.Emit(ErrorReport{ObjectName: name, Message: msg, Kind: kind})
	d.events.Post(util.Event{Type: util.DownloadErrorEvent, Source: name, Message: msg})
}

// commit replaces the local file with the staged download.
func (d *Downloadable) commit(gen int, staging string) error {
	d.mu.Lock()
	if gen != d.generation {
		d.mu.Unlock()
		d.temps.Remove(staging)
		return nil
	}
	d.cancel = nil
	progressChanged := d.progress != 100
	d.progress = 100
	oldUpdatable := d.updatableLocked()
	oldHasFile := d.HasFile()
	name := d.objectName
	d.mu.Unlock()

	if progressChanged {
		d.DownloadProgressChanged.Emit(100)
	}

	d.AboutToChangeFile.Emit(d.fileName)
	err := WithFileLock(d.fileName, func() error {
		return atomic.ReplaceFile(staging, d.fileName)
	})

	d.mu.Lock()
	d.downloading = false
	d.generation++
	newUpdatable := d.updatableLocked()
	d.mu.Unlock()

	if err != nil {
		d.temps.Remove(staging)
		d.lg.Error("unable to install downloaded file", slog.String("file", d.fileName), slog.Any("error", err))
		if oldUpdatable != newUpdatable {
			d.UpdatableChanged.Notify()
		}
		d.DownloadingChanged.Notify()
		d.reportError(name, UnknownContentError, fmt.Sprintf("unable to write file %s: %v", d.fileName, err))
		return &Error{Kind: UnknownContentError, URL: d.url, Err: err}
	}
	d.temps.Forget(staging)

	d.lg.Info("download finished", slog.String("file", d.fileName))

	d.FileContentChanged.Notify()
	if oldUpdatable != newUpdatable {
		d.UpdatableChanged.Notify()
	}
	if oldHasFile != d.HasFile() {
		d.HasFileChanged.Notify()
	}
	d.DownloadingChanged.Notify()
	d.events.Post(util.Event{Type: util.DownloadFinishedEvent, Source: name})
	return nil
}

// DeleteFile removes the local file, holding its lock file.
func (d *Downloadable) DeleteFile() error {
	if !d.HasFile() {
		return nil
	}

	oldUpdatable := d.Updatable()

	d.AboutToChangeFile.Emit(d.fileName)
	err := WithFileLock(d.fileName, func() error {
		err := os.Remove(d.fileName)
		if errors.Is(err, os.ErrNotExist) {
			err = nil
		}
		return err
	})
	if err != nil {
		return err
	}
	// The lock file stays: another process may be waiting on it. The data
	// manager removes orphaned lock files when it closes.

	d.HasFileChanged.Notify()
	d.FileContentChanged.Notify()
	if oldUpdatable != d.Updatable() {
		d.UpdatableChanged.Notify()
	}
	d.events.Post(util.Event{Type: util.FileDeletedEvent, Source: d.ObjectName()})
	return nil
}

// IsClosed reports whether Close has been called.
func (d *Downloadable) IsClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Close cancels all network activity and discards partial downloads; the
// local file is left alone. Closed listeners are notified, after which
// no further notifications are sent.
func (d *Downloadable) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	if d.downloading && d.cancel != nil {
		d.stopLocked()
	}
	d.closeCancel()
	d.mu.Unlock()

	d.AboutToChangeFile.DisconnectAll()
	d.FileContentChanged.DisconnectAll()
	d.HasFileChanged.DisconnectAll()
	d.DownloadingChanged.DisconnectAll()
	d.DownloadProgressChanged.DisconnectAll()
	d.UpdatableChanged.DisconnectAll()
	d.RemoteFileDateChanged.DisconnectAll()
	d.RemoteFileSizeChanged.DisconnectAll()
	d.SectionChanged.DisconnectAll()
	d.ErrorOccurred.DisconnectAll()

	d.Closed.Notify()
	d.Closed.DisconnectAll()
}

func (d *Downloadable) String() string {
	return d.fileName
}

func (d *Downloadable) LogValue() slog.Value {
	d.mu.Lock()
	defer d.mu.Unlock()

	return slog.GroupValue(
		slog.String("url", d.url),
		slog.String("file", d.fileName),
		slog.String("section", d.section),
		slog.Bool("downloading", d.downloading),
		slog.Int("progress", d.progress),
		slog.Time("remote_date", d.remoteDate),
		slog.Int64("remote_size", d.remoteSize))
}

// Compare orders Downloadables by section, then file name.
func Compare(a, b *Downloadable) int {
	if c := strings.Compare(a.Section(), b.Section()); c != 0 {
		return c
	}
	return strings.Compare(a.fileName, b.fileName)
}
