// navigation/flightroute_test.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package navigation

import (
	"errors"
	"fmt"
	gomath "math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mmp/enroute/geomaps"
	"github.com/mmp/enroute/math"
	"github.com/mmp/enroute/units"
)

func checkLegs(t *testing.T, r *FlightRoute) {
	t.Helper()
	wps, legs := r.Waypoints(), r.Legs()
	if len(legs) != max(0, len(wps)-1) {
		t.Fatalf("%d waypoints but %d legs", len(wps), len(legs))
	}
	for i, leg := range legs {
		if !leg.Start().Equal(wps[i]) || !leg.End().Equal(wps[i+1]) {
			t.Errorf("leg %d does not connect waypoints %d and %d", i, i, i+1)
		}
	}
}

func names(r *FlightRoute) string {
	var n []string
	for _, wp := range r.Waypoints() {
		n = append(n, wp.Name())
	}
	return strings.Join(n, ",")
}

func TestRouteLegInvariant(t *testing.T) {
	r := NewFlightRoute(nil, nil, nil, nil)
	checkLegs(t, r)

	for i, name := range []string{"A", "B", "C", "D"} {
		r.Append(geomaps.NewWaypoint(math.Point2LL{7 + float64(i), 48}, name))
		checkLegs(t, r)
	}

	ops := []struct {
		name   string
		op     func()
		expect string
	}{
		{"move up first", func() { r.MoveUp(0) }, "A,B,C,D"},
		{"move down last", func() { r.MoveDown(3) }, "A,B,C,D"},
		{"move up", func() { r.MoveUp(2) }, "A,C,B,D"},
		{"move down", func() { r.MoveDown(0) }, "C,A,B,D"},
		{"move out of range", func() { r.MoveDown(17) }, "C,A,B,D"},
		{"reverse", func() { r.Reverse() }, "D,B,A,C"},
		{"rename", func() { r.RenameWaypoint(1, "Bee") }, "D,Bee,A,C"},
		{"remove", func() { r.RemoveWaypoint(0, r.Waypoints()[0]) }, "Bee,A,C"},
		{"remove stale index", func() { r.RemoveWaypoint(0, r.Waypoints()[2]) }, "Bee,A"},
		{"remove absent", func() { r.RemoveWaypoint(0, geomaps.NewWaypoint(math.Point2LL{1, 1}, "X")) }, "Bee,A"},
		{"clear", func() { r.Clear() }, ""},
	}
	for _, o := range ops {
		o.op()
		if got := names(r); got != o.expect {
			t.Errorf("%s: route %q, expected %q", o.name, got, o.expect)
		}
		checkLegs(t, r)
	}
	if !r.IsEmpty() || len(r.Legs()) != 0 {
		t.Errorf("cleared route not empty")
	}
}

func TestRouteNotifications(t *testing.T) {
	aircraft := NewAircraft(AircraftSettings{})
	r := NewFlightRoute(aircraft, nil, nil, nil)
	defer r.Close()

	changed, summary := 0, 0
	r.WaypointsChanged.Connect(func() { changed++ })
	r.SummaryChanged.Connect(func() { summary++ })

	r.AppendCoordinate(math.Point2LL{8, 48})
	r.MoveUp(0) // no-op
	r.RemoveWaypoint(5, geomaps.NewWaypoint(math.Point2LL{1, 1}, "X"))
	if changed != 1 || summary != 1 {
		t.Errorf("changed %d summary %d, expected 1 and 1", changed, summary)
	}

	aircraft.SetCruiseSpeed(units.SpeedFromKnots(90))
	if changed != 1 || summary != 2 {
		t.Errorf("aircraft change: changed %d summary %d", changed, summary)
	}

	r.Close()
	aircraft.SetCruiseSpeed(units.SpeedFromKnots(95))
	if summary != 2 {
		t.Errorf("closed route still listens to the aircraft")
	}
}

func TestCanAppend(t *testing.T) {
	r := NewFlightRoute(nil, nil, nil, nil)
	a := geomaps.NewWaypoint(math.Point2LL{8, 48}, "A")
	if !r.CanAppend(a) {
		t.Errorf("cannot append to empty route")
	}
	r.Append(a)

	near := geomaps.NewWaypoint(math.Destination(a.Location(), 123, 1500), "near")
	far := geomaps.NewWaypoint(math.Destination(a.Location(), 123, 2500), "far")
	if r.CanAppend(near) {
		t.Errorf("can append waypoint 1500 m from the last one")
	}
	if !r.CanAppend(far) {
		t.Errorf("cannot append waypoint 2500 m from the last one")
	}
	if !r.Contains(near) || r.Contains(far) || r.LastIndexOf(near) != 0 {
		t.Errorf("Contains/LastIndexOf wrong")
	}
}

func TestAppendAndPersist(t *testing.T) {
	path := StdFilePath(t.TempDir())
	r := NewFlightRoute(nil, nil, nil, nil)
	r.PersistTo(path)

	a, b := math.Point2LL{7.8336, 48.0225}, math.Point2LL{8.5, 47.6}
	r.AppendCoordinate(a)
	r.AppendCoordinate(b)

	legs := r.Legs()
	if len(legs) != 1 {
		t.Fatalf("%d legs, expected 1", len(legs))
	}
	if d := legs[0].Distance().ToMeters(); d != math.DistanceMeters(a, b) {
		t.Errorf("leg distance %f, expected %f", d, math.DistanceMeters(a, b))
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	wps, err := geomaps.ParseFeatureCollection(contents)
	if err != nil {
		t.Fatal(err)
	}
	if len(wps) != 2 || wps[0].Location() != a || wps[1].Location() != b {
		t.Errorf("persisted route %v", wps)
	}

	// And it loads back.
	r2 := NewFlightRoute(nil, nil, nil, nil)
	if err := r2.LoadFromGeoJSON(path); err != nil {
		t.Fatal(err)
	}
	if r2.Size() != 2 || !r2.Waypoints()[1].Equal(r.Waypoints()[1]) {
		t.Errorf("loaded route %v", r2.Waypoints())
	}
}

func TestLoadFromGeoJSONErrors(t *testing.T) {
	dir := t.TempDir()
	write := func(name, contents string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
			t.Fatal(err)
		}
		return path
	}

	good := `{"type": "Feature", "geometry": {"type": "Point", "coordinates": [8, 48]}, "properties": {"CAT": "WP", "TYP": "WP", "NAM": "A"}}`
	bad := `{"type": "Feature", "geometry": {"type": "Point", "coordinates": [8]}, "properties": {"CAT": "WP", "TYP": "WP", "NAM": "B"}}`

	missing := filepath.Join(dir, "missing.geojson")
	empty := write("empty.geojson", "")
	garbage := write("garbage.geojson", "{ nope")
	malformed := write("malformed.geojson", `{"type": "FeatureCollection", "features": [`+good+`, `+bad+`]}`)

	r := NewFlightRoute(nil, nil, nil, nil)
	r.AppendCoordinate(math.Point2LL{9, 49})
	r.AppendCoordinate(math.Point2LL{10, 49})

	for _, test := range []struct {
		path, prefix string
	}{
		{missing, fmt.Sprintf("Cannot open file '%s' for reading.", missing)},
		{empty, fmt.Sprintf("Cannot read data from file '%s'.", empty)},
		{garbage, fmt.Sprintf("Cannot parse file '%s'. Reason: ", garbage)},
		{malformed, fmt.Sprintf("Cannot parse content of file '%s'.", malformed)},
	} {
		err := r.LoadFromGeoJSON(test.path)
		var ferr *FileError
		if !errors.As(err, &ferr) || !strings.HasPrefix(err.Error(), test.prefix) {
			t.Errorf("%s: got %v, expected %q", filepath.Base(test.path), err, test.prefix)
		}
		if r.Size() != 2 {
			t.Errorf("%s: failed load modified the route", filepath.Base(test.path))
		}
	}
}

type testResolver []geomaps.Waypoint

func (tr testResolver) ClosestWaypoint(near, distant math.Point2LL) (geomaps.Waypoint, bool) {
	limit := math.DistanceMeters(near, distant)
	for _, wp := range tr {
		if math.DistanceMeters(near, wp.Location()) <= limit {
			return wp, true
		}
	}
	return geomaps.InvalidWaypoint(), false
}

const trackAndWaypointsGPX = `<?xml version="1.0"?>
<gpx version="1.1" creator="test">
  <wpt lat="50" lon="10"><name>Ignored</name></wpt>
  <trk><trkseg>
    <trkpt lat="48.0225" lon="7.8336"><name>Freiburg</name></trkpt>
    <trkpt lat="48.3" lon="8.0"><desc>Kinzigtal</desc></trkpt>
    <trkpt lat="47.9103" lon="7.7036"><name>FRI</name></trkpt>
  </trkseg></trk>
</gpx>`

func TestLoadFromGPX(t *testing.T) {
	edtf := geomaps.NewWaypointWithProperties(math.Point2LL{7.8340, 48.0220}, map[string]any{
		"CAT": "AD", "TYP": "AD", "NAM": "Freiburg", "COD": "EDTF", "ELE": 234.0})
	generic := geomaps.NewWaypoint(math.Point2LL{7.7036, 47.9105}, "Somewhere")

	r := NewFlightRoute(nil, nil, nil, nil)
	if err := r.LoadFromGPX(strings.NewReader(trackAndWaypointsGPX), testResolver{edtf, generic}); err != nil {
		t.Fatal(err)
	}

	wps := r.Waypoints()
	if len(wps) != 3 {
		t.Fatalf("loaded %d waypoints, expected the 3 track points", len(wps))
	}
	if !wps[0].Equal(edtf) {
		t.Errorf("first point not resolved to the airfield: %s", wps[0])
	}
	if wps[1].Name() != "Kinzigtal" {
		t.Errorf("second point named %q", wps[1].Name())
	}
	if wps[2].Name() != "FRI" || wps[2].Location() != (math.Point2LL{7.7036, 47.9103}) {
		t.Errorf("generic resolution replaced the GPX point: %s", wps[2])
	}
	checkLegs(t, r)

	// Errors leave the route alone.
	if err := r.LoadFromGPX(strings.NewReader(`<gpx></gpx>`), nil); !errors.Is(err, ErrNoRoute) {
		t.Errorf("empty GPX: %v", err)
	}
	var b strings.Builder
	b.WriteString("<gpx><rte>")
	for i := range MaxWaypoints + 1 {
		fmt.Fprintf(&b, `<rtept lat="48" lon="%f"/>`, 7+float64(i)*0.01)
	}
	b.WriteString("</rte></gpx>")
	if err := r.LoadFromGPX(strings.NewReader(b.String()), nil); !errors.Is(err, ErrTooManyWaypoints) {
		t.Errorf("oversized GPX: %v", err)
	}
	if r.Size() != 3 {
		t.Errorf("failed loads changed the route")
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	gpx := filepath.Join(dir, "route.gpx")
	os.WriteFile(gpx, []byte(trackAndWaypointsGPX), 0o644)

	r := NewFlightRoute(nil, nil, nil, nil)
	if err := r.Load("file://"+gpx, nil); err != nil {
		t.Fatal(err)
	}
	if names(r) != "Freiburg,Kinzigtal,FRI" {
		t.Errorf("loaded %q", names(r))
	}

	geojson := filepath.Join(dir, "route.geojson")
	if err := r.Save(geojson); err != nil {
		t.Fatal(err)
	}
	r2 := NewFlightRoute(nil, nil, nil, nil)
	if err := r2.Load(geojson, nil); err != nil {
		t.Fatal(err)
	}
	if names(r2) != "Freiburg,Kinzigtal,FRI" {
		t.Errorf("loaded %q from GeoJSON", names(r2))
	}

	nothing := filepath.Join(dir, "nothing.txt")
	os.WriteFile(nothing, []byte("hello"), 0o644)
	if err := r2.Load(nothing, nil); err == nil || err.Error() != fmt.Sprintf("Error reading file '%s'", nothing) {
		t.Errorf("Load of text file: %v", err)
	}
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	os.WriteFile(blocker, nil, 0o644)

	r := NewFlightRoute(nil, nil, nil, nil)
	r.AppendCoordinate(math.Point2LL{8, 48})
	path := filepath.Join(blocker, "route.geojson")
	if err := r.Save(path); err == nil || err.Error() != fmt.Sprintf("Unable to write to file '%s'.", path) {
		t.Errorf("Save below a file: %v", err)
	}
}

func TestSummary(t *testing.T) {
	aircraft := NewAircraft(AircraftSettings{CruiseSpeedKnots: 100, FuelConsumptionLPH: 40})
	wind := NewWind(WindSettings{SpeedKnots: 20, DirectionDegrees: 0})
	r := NewFlightRoute(aircraft, wind, nil, nil)

	if r.Summary() != "" {
		t.Errorf("empty route has summary %q", r.Summary())
	}

	a := math.Point2LL{8, 48}
	b := math.Destination(a, 0, 10*units.MetersPerNauticalMile)
	c := math.Destination(b, 0, 10*units.MetersPerNauticalMile)
	r.AppendCoordinate(a)
	r.AppendCoordinate(b)
	r.AppendCoordinate(c)

	if s := r.Summary(); s != "Total: 20.0 nm • 0:15 h • 10 l" {
		t.Errorf("summary %q", s)
	}
	if s := r.SummaryMetric(); s != "Total: 37.0 km • 0:15 h • 10 l" {
		t.Errorf("metric summary %q", s)
	}

	aircraft.SetFuelConsumption(units.VolumeFlowFromLPH(-1))
	wind.SetDirection(units.Angle(gomath.NaN()))
	want := "Total: 20.0 nm<p><font color='red'>Computation incomplete. Fuel consumption not specified. Wind direction not specified.</font></p>"
	if s := r.Summary(); s != want {
		t.Errorf("summary %q, expected %q", s, want)
	}
}

func TestRouteQueries(t *testing.T) {
	r := NewFlightRoute(nil, nil, nil, nil)
	if r.SuggestedFilename() != "Flight Route" || r.GeoPath() != nil || !r.BoundingRectangle().IsEmpty() {
		t.Errorf("empty route queries")
	}

	lahr := geomaps.NewWaypointWithProperties(math.Point2LL{7.8283, 48.3694}, map[string]any{
		"CAT": "AD", "TYP": "AD", "NAM": "Lahr (Schwarzwald)", "COD": "EDTL", "ELE": 155.0})
	r.Append(lahr)
	r.AppendCoordinate(math.Point2LL{8.1, 48.2})
	r.Append(geomaps.NewWaypoint(math.Point2LL{7.6, 47.95}, "Field/Wood"))

	if s := r.SuggestedFilename(); s != "EDTL (Lahr Schwa_) - Field-Wood" {
		t.Errorf("SuggestedFilename %q", s)
	}
	if mf := r.MidFieldWaypoints(); len(mf) != 2 {
		t.Errorf("%d mid-field waypoints, expected 2", len(mf))
	}
	if p := r.GeoPath(); len(p) != 3 || p[1] != (math.Point2LL{8.1, 48.2}) {
		t.Errorf("GeoPath %v", p)
	}
	e := r.BoundingRectangle()
	if e.P0 != (math.Point2LL{7.6, 47.95}) || e.P1 != (math.Point2LL{8.1, 48.3694}) {
		t.Errorf("bounds %v", e)
	}

	// Small moves are ignored.
	r.RelocateWaypoint(1, math.Destination(math.Point2LL{8.1, 48.2}, 0, 5))
	if r.Waypoints()[1].Location() != (math.Point2LL{8.1, 48.2}) {
		t.Errorf("5 m relocation applied")
	}
	r.RelocateWaypoint(1, math.Point2LL{8.2, 48.2})
	if r.Waypoints()[1].Location() != (math.Point2LL{8.2, 48.2}) {
		t.Errorf("relocation not applied")
	}
	checkLegs(t, r)
}

func TestToGPX(t *testing.T) {
	r := NewFlightRoute(nil, nil, nil, nil)
	r.AppendCoordinate(math.Point2LL{8, 48})
	r.Append(geomaps.NewWaypointWithProperties(math.Point2LL{7.7036, 47.9103}, map[string]any{
		"CAT": "VOR-DME", "TYP": "NAV", "NAM": "Freiburg", "COD": "FRI", "NAV": "115.25", "MOR": "..-. .-. .."}))

	gpx := string(r.toGPX(time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)))
	for _, want := range []string{
		"<?xml version='1.0' encoding='UTF-8'?>\n<gpx version='1.1'",
		"    <name>Enroute 2025-06-01 12:30:00Z</name>\n    <time>2025-06-01 12:30:00Z</time>\n",
		"    <bounds minlat='47.91030000' minlon='7.70360000' maxlat='48.00000000' maxlon='8.00000000'/>\n",
		"  <wpt lat='48.00000000' lon='8.00000000'>\n    <name>Waypoint</name>\n",
		"  <wpt lat='47.91030000' lon='7.70360000'>\n    <name>FRI</name>\n    <cmt>Freiburg (VOR-DME)</cmt>\n",
		"  <rte>\n    <name>Enroute 2025-06-01 12:30:00Z</name>\n    <rtept lat='48.00000000' lon='8.00000000'>\n",
		"      <desc>Freiburg (VOR-DME)</desc>\n    </rtept>\n  </rte>\n</gpx>\n",
	} {
		if !strings.Contains(gpx, want) {
			t.Errorf("GPX lacks %q:\n%s", want, gpx)
		}
	}

	// The export reads back in route order.
	r2 := NewFlightRoute(nil, nil, nil, nil)
	if err := r2.LoadFromGPX(strings.NewReader(gpx), nil); err != nil {
		t.Fatal(err)
	}
	if names(r2) != "Waypoint,FRI" {
		t.Errorf("read back %q", names(r2))
	}
}
