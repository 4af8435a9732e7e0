// navigation/routefile.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package navigation

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mmp/enroute/geomaps"
	"github.com/mmp/enroute/math"
	"github.com/mmp/enroute/util"

	"github.com/natefinch/atomic"
)

const (
	// StdFileName is the name of the file in the data directory that
	// holds the current route.
	StdFileName = "flight route.geojson"

	// MaxWaypoints is the largest route that Load accepts.
	MaxWaypoints = 100

	// ResolveRadius is the latitude offset in degrees of the reference
	// point passed to a WaypointResolver; about 1.1 km.
	ResolveRadius = 0.01
)

var (
	ErrNoRoute          = errors.New("no valid route found")
	ErrTooManyWaypoints = errors.New("too many waypoints")
)

// FileError is returned by the functions that read and write route
// files. Its message is meant to be shown to the user as is.
type FileError struct {
	Message string
	Err     error
}

func (e *FileError) Error() string { return e.Message }
func (e *FileError) Unwrap() error { return e.Err }

func fileError(err error, format string, args ...any) error {
	return &FileError{Message: fmt.Sprintf(format, args...), Err: err}
}

// WaypointResolver finds the known waypoint closest to near, provided it
// is not farther from near than distant is.
type WaypointResolver interface {
	ClosestWaypoint(near, distant math.Point2LL) (geomaps.Waypoint, bool)
}

// StdFilePath returns the path of the route file in dataDir.
func StdFilePath(dataDir string) string {
	return filepath.Join(dataDir, StdFileName)
}

// resolve replaces wp with a known airfield, navaid or reporting point at
// the same place, keeping wp if there is none.
func resolve(wp geomaps.Waypoint, resolver WaypointResolver) geomaps.Waypoint {
	if resolver == nil || !wp.Location().IsValid() {
		return wp
	}
	p := wp.Location()
	known, ok := resolver.ClosestWaypoint(p, math.Point2LL{p[0], p[1] + ResolveRadius})
	if !ok || !known.IsValid() || known.Category() == "WP" {
		return wp
	}
	return known
}

// LoadFromGeoJSON replaces the route with the waypoints of a GeoJSON
// FeatureCollection. A single malformed feature fails the whole load and
// leaves the route unchanged.
func (r *FlightRoute) LoadFromGeoJSON(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fileError(err, "Cannot open file '%s' for reading.", path)
	}
	if len(b) == 0 {
		return fileError(nil, "Cannot read data from file '%s'.", path)
	}

	var fc geomaps.FeatureCollection
	if err := util.UnmarshalJSONBytes(b, &fc); err != nil {
		return fileError(err, "Cannot parse file '%s'. Reason: %s.", path, err)
	}

	wps := make([]geomaps.Waypoint, 0, len(fc.Features))
	for _, f := range fc.Features {
		wp, err := geomaps.WaypointFromFeature(f)
		if err == nil && !wp.IsValid() {
			err = geomaps.ErrInvalidFeature
		}
		if err != nil {
			return fileError(err, "Cannot parse content of file '%s'.", path)
		}
		wps = append(wps, wp)
	}

	r.setWaypoints("load", wps)
	return nil
}

// LoadFromGPX replaces the route with the points of a GPX document:
// route points if there are any, else track points, else loose
// waypoints. If resolver is not nil, points that lie at a known
// airfield, navaid or reporting point are replaced by it.
func (r *FlightRoute) LoadFromGPX(rd io.Reader, resolver WaypointResolver) error {
	pts, err := geomaps.ReadGPX(rd)
	if err != nil {
		if errors.Is(err, geomaps.ErrNoGPXPoints) {
			return fileError(ErrNoRoute, "No valid route found.")
		}
		return fileError(err, "Cannot parse GPX data. Reason: %s.", err)
	}

	wps := pts.Preferred()
	if len(wps) > MaxWaypoints {
		return fileError(ErrTooManyWaypoints, "The GPX data contains too many waypoints. Flight routes with more than %d waypoints are not supported.", MaxWaypoints)
	}
	r.setWaypoints("load GPX", util.MapSlice(wps, func(wp geomaps.Waypoint) geomaps.Waypoint {
		return resolve(wp, resolver)
	}))
	return nil
}

// Load reads a route from a GPX or GeoJSON file, trying GPX first. A
// leading "file://" is ignored. Invalid waypoints are dropped and the
// others are resolved as in LoadFromGPX.
func (r *FlightRoute) Load(path string, resolver WaypointResolver) error {
	path = strings.TrimPrefix(path, "file://")

	var wps []geomaps.Waypoint
	if b, err := os.ReadFile(path); err == nil {
		if pts, err := geomaps.ReadGPX(bytes.NewReader(b)); err == nil {
			wps = pts.Preferred()
		} else if parsed, err := geomaps.ParseFeatureCollection(b); err == nil {
			wps = parsed
		}
	}
	wps = util.FilterSlice(wps, geomaps.Waypoint.IsValid)

	if len(wps) == 0 {
		return fileError(ErrNoRoute, "Error reading file '%s'", path)
	}
	if len(wps) > MaxWaypoints {
		return fileError(ErrTooManyWaypoints, "The file '%s' contains too many waypoints. Flight routes with more than %d waypoints are not supported.", path, MaxWaypoints)
	}

	r.setWaypoints("load", util.MapSlice(wps, func(wp geomaps.Waypoint) geomaps.Waypoint {
		return resolve(wp, resolver)
	}))
	return nil
}

// ToGeoJSON returns the route as an indented GeoJSON FeatureCollection
// with one point feature per waypoint.
func (r *FlightRoute) ToGeoJSON() ([]byte, error) {
	return geomaps.MarshalFeatureCollection(r.Waypoints())
}

// Save writes the route as GeoJSON. The file is replaced atomically, so
// that a failed write leaves no partial file behind.
func (r *FlightRoute) Save(path string) error {
	b, err := r.ToGeoJSON()
	if err == nil {
		if err = os.MkdirAll(filepath.Dir(path), 0o755); err == nil {
			err = atomic.WriteFile(path, bytes.NewReader(b))
		}
	}
	if err != nil {
		return fileError(err, "Unable to write to file '%s'.", path)
	}
	return nil
}

// PersistTo saves the route to path after every change. Failures are
// logged and posted to the event stream.
func (r *FlightRoute) PersistTo(path string) {
	if r.persisting {
		r.WaypointsChanged.Disconnect(r.persistConn)
	}
	r.persisting = true
	r.persistConn = r.WaypointsChanged.Connect(func() {
		if err := r.Save(path); err != nil {
			r.lg.Error("unable to save flight route", slog.String("path", path), slog.Any("error", err))
			r.events.Post(util.Event{Type: util.StatusMessageEvent, Source: "FlightRoute", Message: err.Error()})
		}
	})
}

// ToGPX returns the route as a GPX 1.1 document holding the waypoints
// both as wpt elements and as a rte.
func (r *FlightRoute) ToGPX() []byte {
	return r.toGPX(time.Now())
}

func (r *FlightRoute) toGPX(now time.Time) []byte {
	stamp := now.UTC().Format("2006-01-02 15:04:05Z")

	r.mu.Lock()
	wps := util.MapSlice(r.waypoints, geomaps.Waypoint.Copy)
	bounds := r.boundsLocked()
	r.mu.Unlock()

	var b bytes.Buffer
	b.WriteString("<?xml version='1.0' encoding='UTF-8'?>\n" +
		"<gpx version='1.1' creator='enroute'\n" +
		"     xmlns='http://www.topografix.com/GPX/1/1'\n" +
		"     xmlns:xsi='http://www.w3.org/2001/XMLSchema-instance'>\n" +
		"  <metadata>\n" +
		"    <name>Enroute " + stamp + "</name>\n" +
		"    <time>" + stamp + "</time>\n")
	if !bounds.IsEmpty() {
		fmt.Fprintf(&b, "    <bounds minlat='%.8f' minlon='%.8f' maxlat='%.8f' maxlon='%.8f'/>\n",
			bounds.P0[1], bounds.P0[0], bounds.P1[1], bounds.P1[0])
	}
	b.WriteString("  </metadata>\n")

	for _, wp := range wps {
		wp.WriteGPX(&b, "  ", "wpt", true)
	}

	b.WriteString("  <rte>\n" +
		"    <name>Enroute " + stamp + "</name>\n")
	for _, wp := range wps {
		wp.WriteGPX(&b, "    ", "rtept", true)
	}
	b.WriteString("  </rte>\n" +
		"</gpx>\n")

	return b.Bytes()
}
