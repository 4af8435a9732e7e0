// datamanager/manager.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

// Package datamanager keeps the locally installed maps in sync with the
// maps index published on the download server.
package datamanager

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mmp/enroute/download"
	"github.com/mmp/enroute/log"
	"github.com/mmp/enroute/util"

	"github.com/natefinch/atomic"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultIndexURL = "https://cplx.vm.uni-freiburg.de/storage/enroute-GeoJSONv002/maps.json"

	IndexFileName      = "maps.json"
	MapsDirName        = "aviation_maps"
	UnsupportedSection = "Unsupported Maps"

	// AutoUpdateAge is the age of the index beyond which it is refreshed
	// automatically.
	AutoUpdateAge = 6 * 24 * time.Hour

	lastUpdateCacheKey = "datamanager/index-update.msgpack"
	maxInfoRequests    = 8
)

type Options struct {
	// DataDir holds maps.json and the maps directory.
	DataDir string
	// IndexURL is the location of maps.json, or a gs:// or s3:// prefix
	// whose listing is used instead. DefaultIndexURL if empty.
	IndexURL string
	// AutoUpdate makes Start refresh the index when it is older than
	// AutoUpdateAge and check again periodically.
	AutoUpdate bool

	Client    *download.Client
	TempFiles *util.TempFileRegistry
	Events    *util.EventStream
	Logger    *log.Logger
}

// Manager owns the maps index and one Downloadable per map. The maps are
// available through three groups: GeoMaps holds all of them,
// AviationMaps the GeoJSON maps and BaseMaps the MBTiles maps.
type Manager struct {
	lg       *log.Logger
	events   *util.EventStream
	client   *download.Client
	dlOpts   download.Options
	indexURL string
	mapsDir  string

	autoUpdateEnabled bool

	index *download.Downloadable

	GeoMaps      *download.Group
	AviationMaps *download.Group
	BaseMaps     *download.Group

	// readMu serializes index processing.
	readMu    sync.Mutex
	indexRead bool

	timerMu sync.Mutex
	timer   *time.Timer
	closed  bool

	closeCtx    context.Context
	closeCancel context.CancelFunc

	// ErrorOccurred forwards the error reports of the index and of all
	// maps.
	ErrorOccurred util.Signal[download.ErrorReport]
}

// New sets up the manager; it does no network activity until Start or
// UpdateIndex is called.
func New(opts Options) (*Manager, error) {
	if opts.IndexURL == "" {
		opts.IndexURL = DefaultIndexURL
	}
	if opts.Client == nil {
		opts.Client = download.NewClient(false, opts.Logger)
	}

	mapsDir := filepath.Join(opts.DataDir, MapsDirName)
	if err := os.MkdirAll(mapsDir, 0o755); err != nil {
		return nil, fmt.Errorf("%s: %w", mapsDir, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		lg:       opts.Logger,
		events:   opts.Events,
		client:   opts.Client,
		indexURL: opts.IndexURL,
		mapsDir:  mapsDir,

		autoUpdateEnabled: opts.AutoUpdate,

		GeoMaps:      download.NewGroup("geo maps", opts.Logger),
		AviationMaps: download.NewGroup("aviation maps", opts.Logger),
		BaseMaps:     download.NewGroup("base maps", opts.Logger),
		closeCtx:     ctx,
		closeCancel:  cancel,
		dlOpts: download.Options{
			Client:    opts.Client,
			TempFiles: opts.TempFiles,
			Events:    opts.Events,
			Logger:    opts.Logger,
		},
	}

	m.fixDoubledExtensions()

	indexSrc := opts.IndexURL
	if IsBucketListing(indexSrc) {
		// Never downloaded; the listing is written to the file instead.
		indexSrc = ""
	}
	m.index = download.New(indexSrc, filepath.Join(opts.DataDir, IndexFileName), m.dlOpts)
	m.index.SetObjectName("maps index")
	m.index.FileContentChanged.Connect(func() {
		m.readIndex()
		m.setTimeOfLastUpdateToNow()
	})
	m.index.ErrorOccurred.Connect(m.ErrorOccurred.Emit)

	m.GeoMaps.FilesChanged.Connect(func([]string) { m.dropVanishedUnsupportedMaps() })
	m.GeoMaps.UpdatableChanged.Connect(func(updatable bool) {
		if updatable {
			m.events.Post(util.Event{Type: util.UpdatesAvailableEvent, Source: "DataManager",
				Message: "updates available: " + m.GeoMaps.UpdateSize()})
		}
	})

	return m, nil
}

// Start reads the installed index, or fetches it in the background if
// there is none, and starts the automatic update timer if enabled.
func (m *Manager) Start() {
	if m.index.HasFile() {
		m.readIndex()
	} else {
		m.UpdateRemoteDataInfo()
	}
	if m.autoUpdateEnabled {
		m.autoUpdate()
	}
}

func (m *Manager) MapsDir() string { return m.mapsDir }

func (m *Manager) IndexURL() string { return m.indexURL }

// Index returns the Downloadable of maps.json.
func (m *Manager) Index() *download.Downloadable { return m.index }

// UpdateRemoteDataInfo fetches the index in the background.
func (m *Manager) UpdateRemoteDataInfo() {
	go func() {
		if err := m.UpdateIndex(m.closeCtx); err != nil && !errors.Is(err, download.ErrDownloadRunning) {
			m.lg.Warn("maps index update failed", slog.Any("error", err))
		}
	}()
}

// UpdateIndex fetches the index and updates the maps accordingly.
func (m *Manager) UpdateIndex(ctx context.Context) error {
	if !IsBucketListing(m.indexURL) {
		// On success the index's FileContentChanged listener does the rest.
		return m.index.Download(ctx)
	}

	objs, err := m.client.List(ctx, m.indexURL)
	if err != nil {
		m.events.Post(util.Event{Type: util.DownloadErrorEvent, Source: m.index.ObjectName(),
			Message: download.Classify(err).Message()})
		return err
	}
	b, err := IndexFromListing(m.indexURL, objs).Encode()
	if err != nil {
		return err
	}

	fn := m.index.FileName()
	if err := download.WithFileLock(fn, func() error {
		return atomic.WriteFile(fn, bytes.NewReader(b))
	}); err != nil {
		return err
	}
	m.readIndex()
	m.setTimeOfLastUpdateToNow()
	return nil
}

// CheckRemoteInfo refreshes the remote date and size of all maps that
// are still offered for download.
func (m *Manager) CheckRemoteInfo(ctx context.Context) error {
	var eg errgroup.Group
	eg.SetLimit(maxInfoRequests)
	for _, d := range m.GeoMaps.Downloadables() {
		if d.HasValidURL() {
			eg.Go(func() error { return d.FetchInfo(ctx) })
		}
	}
	return eg.Wait()
}

// readIndex brings the maps in line with the installed index.
func (m *Manager) readIndex() {
	m.readMu.Lock()
	defer m.readMu.Unlock()

	b, err := m.index.FileContent()
	if err != nil {
		m.lg.Error("unable to read maps index", slog.Any("error", err))
		return
	}
	if b == nil {
		return
	}

	var e util.ErrorLogger
	idx, err := ParseIndex(b, &e)
	if err != nil {
		m.lg.Error("unable to parse maps index", slog.String("file", m.index.FileName()), slog.Any("error", err))
		m.events.Post(util.Event{Type: util.StatusMessageEvent, Source: "DataManager",
			Message: "The list of maps could not be read."})
		return
	}
	if e.HaveErrors() {
		m.lg.Warn("problems in maps index", slog.String("errors", e.String()))
	}

	old := m.GeoMaps.DownloadablesByFileName()
	for _, entry := range idx.Maps {
		fn := filepath.Join(m.mapsDir, entry.LocalPath())
		rawURL := download.JoinURL(idx.URL, entry.Path)

		if d, ok := old[fn]; ok {
			delete(old, fn)
			if d.URL() == rawURL {
				d.SetRemoteFileDate(entry.Date())
				d.SetRemoteFileSize(entry.Size)
				continue
			}
			// The download location changed, e.g. for a formerly
			// unsupported map; the Downloadable's URL is fixed.
			d.Close()
		}

		d := m.newMap(rawURL, fn, entry.Name(), entry.Section())
		d.SetRemoteFileDate(entry.Date())
		d.SetRemoteFileSize(entry.Size)
		m.GeoMaps.AddToGroup(d)
		if entry.isAviationMap() {
			m.AviationMaps.AddToGroup(d)
		}
		if entry.isBaseMap() {
			m.BaseMaps.AddToGroup(d)
		}
	}

	// Maps that are no longer listed: without a local file they go away,
	// otherwise they stay as unsupported maps.
	for fn, d := range old {
		if !d.HasValidURL() {
			continue
		}
		name, section := d.ObjectName(), d.Section()
		d.Close()
		if d.HasFile() {
			m.GeoMaps.AddToGroup(m.newMap("", fn, name, section))
		}
	}

	for _, path := range m.unattachedFiles() {
		rel, _ := filepath.Rel(m.mapsDir, path)
		name, _, _ := strings.Cut(filepath.ToSlash(rel), ".")
		m.GeoMaps.AddToGroup(m.newMap("", path, name, UnsupportedSection))
	}

	m.indexRead = true
	m.lg.Info("maps index read", slog.Int("maps", len(idx.Maps)),
		slog.Int("installed", len(m.GeoMaps.DownloadablesWithFile())))
	m.events.Post(util.Event{Type: util.MapsIndexUpdatedEvent, Source: "DataManager"})
}

func (m *Manager) newMap(rawURL, fn, name, section string) *download.Downloadable {
	d := download.New(rawURL, fn, m.dlOpts)
	d.SetObjectName(name)
	d.SetSection(section)
	d.ErrorOccurred.Connect(m.ErrorOccurred.Emit)
	return d
}

// dropVanishedUnsupportedMaps closes unsupported maps whose local file is
// gone; there is nothing left to offer for them.
func (m *Manager) dropVanishedUnsupportedMaps() {
	for _, d := range m.GeoMaps.Downloadables() {
		if !d.HasValidURL() && !d.HasFile() {
			m.lg.Info("dropping unsupported map", slog.String("file", d.FileName()))
			d.Close()
		}
	}
}

func isAuxiliaryFile(name string) bool {
	return strings.HasSuffix(name, ".lock") ||
		(strings.HasPrefix(name, ".") && strings.HasSuffix(name, ".part"))
}

// unattachedFiles returns the files in the maps directory that belong to
// no map.
func (m *Manager) unattachedFiles() []string {
	attached := m.GeoMaps.DownloadablesByFileName()

	var files []string
	filepath.WalkDir(m.mapsDir, func(path string, de fs.DirEntry, err error) error {
		if err != nil || de.IsDir() || isAuxiliaryFile(de.Name()) {
			return nil
		}
		if _, ok := attached[filepath.Clean(path)]; !ok {
			files = append(files, path)
		}
		return nil
	})
	return files
}

// fixDoubledExtensions renames map files that were stored with their
// extension repeated, e.g. "Germany.geojson.geojson".
func (m *Manager) fixDoubledExtensions() {
	var offending []string
	filepath.WalkDir(m.mapsDir, func(path string, de fs.DirEntry, err error) error {
		if err == nil && !de.IsDir() &&
			(strings.HasSuffix(path, ".geojson.geojson") || strings.HasSuffix(path, ".mbtiles.mbtiles")) {
			offending = append(offending, path)
		}
		return nil
	})
	for _, path := range offending {
		fixed := strings.TrimSuffix(path, filepath.Ext(path))
		if err := os.Rename(path, fixed); err != nil {
			m.lg.Warn("unable to rename map file", slog.String("file", path), slog.Any("error", err))
		}
	}
}

// cleanup removes stray files, lock files without a map file and empty
// directories below the maps directory. Stray files are only known once
// the index has been read.
func (m *Manager) cleanup() {
	if m.indexRead {
		for _, path := range m.unattachedFiles() {
			os.Remove(path)
		}
	}

	var dirs []string
	filepath.WalkDir(m.mapsDir, func(path string, de fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if de.IsDir() {
			if path != m.mapsDir {
				dirs = append(dirs, path)
			}
		} else if lock, ok := strings.CutSuffix(path, ".lock"); ok {
			if _, err := os.Stat(lock); errors.Is(err, os.ErrNotExist) {
				os.Remove(path)
			}
		}
		return nil
	})

	// Deepest first, so that directories that only contain empty
	// directories go too. Removing a non-empty directory fails.
	slices.SortFunc(dirs, func(a, b string) int { return len(b) - len(a) })
	for _, dir := range dirs {
		os.Remove(dir)
	}
}

///////////////////////////////////////////////////////////////////////////
// Automatic updates

// LastUpdate returns the time of the last successful index update, or
// the zero time if there was none.
func (m *Manager) LastUpdate() time.Time {
	var t time.Time
	if _, err := util.CacheRetrieveObject(lastUpdateCacheKey, &t); err != nil {
		return time.Time{}
	}
	return t
}

func (m *Manager) updateDue(now time.Time) bool {
	last := m.LastUpdate()
	return last.IsZero() || now.Sub(last) > AutoUpdateAge
}

func (m *Manager) setTimeOfLastUpdateToNow() {
	if err := util.CacheStoreObject(lastUpdateCacheKey, time.Now().UTC()); err != nil {
		m.lg.Warn("unable to store time of index update", slog.Any("error", err))
	}
	if m.autoUpdateEnabled {
		// The next check is due in a day.
		m.schedule(24 * time.Hour)
	}
}

// autoUpdate refreshes the index if it is due, checking again in an hour
// whether that worked; otherwise it checks again in a day.
func (m *Manager) autoUpdate() {
	if m.updateDue(time.Now()) {
		m.schedule(time.Hour)
		m.UpdateRemoteDataInfo()
		return
	}
	m.schedule(24 * time.Hour)
}

func (m *Manager) schedule(d time.Duration) {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()

	if m.closed {
		return
	}
	if m.timer == nil {
		m.timer = time.AfterFunc(d, m.autoUpdate)
	} else {
		m.timer.Reset(d)
	}
}

// Close stops all network activity, closes all maps and tidies up the
// maps directory. Local map files are kept.
func (m *Manager) Close() {
	m.timerMu.Lock()
	if m.closed {
		m.timerMu.Unlock()
		return
	}
	m.closed = true
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timerMu.Unlock()

	m.closeCancel()
	m.index.Close()

	m.readMu.Lock()
	defer m.readMu.Unlock()

	m.cleanup()
	for _, d := range m.GeoMaps.Downloadables() {
		d.Close()
	}
	m.GeoMaps.Close()
	m.AviationMaps.Close()
	m.BaseMaps.Close()
}

func (m *Manager) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("index_url", m.indexURL),
		slog.String("maps_dir", m.mapsDir),
		slog.Any("geo_maps", m.GeoMaps),
		slog.Time("last_update", m.LastUpdate()))
}
