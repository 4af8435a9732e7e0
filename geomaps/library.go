// geomaps/library.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package geomaps

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mmp/enroute/download"
	"github.com/mmp/enroute/log"
	"github.com/mmp/enroute/math"
	"github.com/mmp/enroute/util"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"
)

// WaypointLibrary indexes the airfields, navaids and reporting points of
// the installed aviation maps so that the closest known waypoint to a
// location can be found quickly.
type WaypointLibrary struct {
	lg     *log.Logger
	events *util.EventStream
	group  *download.Group
	conn   util.ConnectionID

	// Parsed map files, keyed by path and modification time.
	cache *expirable.LRU[string, []Waypoint]

	mu        sync.Mutex
	waypoints []Waypoint
	tree      *math.KDNode

	Rebuilt util.Notifier
}

// NewWaypointLibrary returns a library over the map files of group; it is
// rebuilt whenever the group's files have settled after a change. A nil
// group gives an empty library to which waypoints can be added with
// SetWaypoints.
func NewWaypointLibrary(group *download.Group, events *util.EventStream, lg *log.Logger) *WaypointLibrary {
	l := &WaypointLibrary{
		lg:     lg,
		events: events,
		group:  group,
		cache:  expirable.NewLRU[string, []Waypoint](64, nil, 4*time.Hour),
	}
	if group != nil {
		l.conn = group.LocalFileContentChangedDelayed.Connect(func() {
			if err := l.Rebuild(context.Background()); err != nil {
				lg.Errorf("waypoint library: %v", err)
			}
		})
	}
	return l
}

func (l *WaypointLibrary) Close() {
	if l.group != nil {
		l.group.LocalFileContentChangedDelayed.Disconnect(l.conn)
	}
}

// Rebuild re-reads all map files of the group. Files that fail to parse
// are logged and skipped.
func (l *WaypointLibrary) Rebuild(ctx context.Context) error {
	if l.group == nil {
		return nil
	}

	start := time.Now()
	ds := l.group.DownloadablesWithFile()
	perFile := make([][]Waypoint, len(ds))

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(4)
	for i, d := range ds {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			wps, err := l.readMapFile(d)
			if err != nil {
				l.lg.Warn("unable to read map file", slog.String("file", d.FileName()), slog.Any("error", err))
				return nil
			}
			perFile[i] = wps
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	l.SetWaypoints(slices.Concat(perFile...))

	l.lg.Info("waypoint library rebuilt", slog.Int("files", len(ds)), slog.Int("waypoints", l.Len()),
		slog.Duration("elapsed", time.Since(start)))
	l.events.Post(util.Event{Type: util.WaypointLibraryRebuiltEvent, Source: "WaypointLibrary",
		Message: fmt.Sprintf("%d waypoints", l.Len())})
	return nil
}

func (l *WaypointLibrary) readMapFile(d *download.Downloadable) ([]Waypoint, error) {
	fi, err := os.Stat(d.FileName())
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("%s@%d", d.FileName(), fi.ModTime().UnixNano())
	if wps, ok := l.cache.Get(key); ok {
		return wps, nil
	}

	b, err := d.FileContent()
	if err != nil {
		return nil, err
	}
	wps, err := WaypointsFromMap(b)
	if err != nil {
		return nil, err
	}
	l.cache.Add(key, wps)
	return wps, nil
}

// WaypointsFromMap returns the valid point features of an aviation map
// file. Airspaces and other non-point features are ignored.
func WaypointsFromMap(b []byte) ([]Waypoint, error) {
	var fc FeatureCollection
	if err := json.Unmarshal(b, &fc); err != nil {
		return nil, err
	}

	var wps []Waypoint
	for _, f := range fc.Features {
		if f.Geometry == nil || f.Geometry.Type != "Point" {
			continue
		}
		if _, ok := f.Properties["TYP"]; !ok {
			continue
		}
		if w, err := WaypointFromFeature(f); err == nil && w.IsValid() {
			wps = append(wps, w)
		}
	}
	return wps, nil
}

// SetWaypoints replaces the contents of the library.
func (l *WaypointLibrary) SetWaypoints(wps []Waypoint) {
	wps = slices.Clone(wps)
	tree := math.BuildKDTree(util.MapSlice(wps, func(w Waypoint) math.Point2LL { return w.location }))

	l.mu.Lock()
	l.waypoints, l.tree = wps, tree
	l.mu.Unlock()

	l.Rebuilt.Notify()
}

func (l *WaypointLibrary) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.waypoints)
}

// Waypoints returns copies of all waypoints in the library.
func (l *WaypointLibrary) Waypoints() []Waypoint {
	l.mu.Lock()
	defer l.mu.Unlock()
	return util.MapSlice(l.waypoints, Waypoint.Copy)
}

// ClosestWaypoint returns the library waypoint closest to near, provided
// that it is no farther from near than distant is.
func (l *WaypointLibrary) ClosestWaypoint(near, distant math.Point2LL) (Waypoint, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx, dist := l.tree.Nearest(near)
	if idx < 0 || dist > math.DistanceMeters(near, distant) {
		return InvalidWaypoint(), false
	}
	return l.waypoints[idx].Copy(), true
}

// Filter returns the waypoints whose name or ICAO code contains text,
// ignoring case, sorted by name.
func (l *WaypointLibrary) Filter(text string) []Waypoint {
	text = strings.ToLower(strings.TrimSpace(text))

	l.mu.Lock()
	result := util.FilterSlice(l.waypoints, func(w Waypoint) bool {
		return strings.Contains(strings.ToLower(w.Name()), text) ||
			strings.Contains(strings.ToLower(w.ICAOCode()), text)
	})
	result = util.MapSlice(result, Waypoint.Copy)
	l.mu.Unlock()

	slices.SortFunc(result, func(a, b Waypoint) int { return strings.Compare(a.Name(), b.Name()) })
	return result
}
