// navigation/flightroute.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

// Package navigation holds the flight route model: waypoints in order,
// the legs between them and the quantities derived from aircraft
// performance and wind.
package navigation

import (
	"fmt"
	"log/slog"
	gomath "math"
	"slices"
	"strings"
	"sync"

	"github.com/mmp/enroute/geomaps"
	"github.com/mmp/enroute/log"
	"github.com/mmp/enroute/math"
	"github.com/mmp/enroute/units"
	"github.com/mmp/enroute/util"
)

// RelocateThreshold is the distance in metres below which RelocateWaypoint
// ignores a move.
const RelocateThreshold = 10

// FlightRoute is an ordered list of waypoints together with the legs that
// connect them. Every structural change regenerates all legs and then
// notifies WaypointsChanged; SummaryChanged is also notified when the
// aircraft or the wind changes. Listeners run after the route's lock has
// been released, so they may call back into the route.
type FlightRoute struct {
	lg       *log.Logger
	events   *util.EventStream
	aircraft *Aircraft
	wind     *Wind

	aircraftConn, windConn, persistConn util.ConnectionID
	persisting                          bool

	mu        sync.Mutex
	waypoints []geomaps.Waypoint
	legs      []Leg
	perf      Performance
	windNow   WindConditions

	WaypointsChanged util.Notifier
	SummaryChanged   util.Notifier
}

// NewFlightRoute returns an empty route. The aircraft and the wind may be
// nil, in which case all wind triangle quantities are unknown.
func NewFlightRoute(aircraft *Aircraft, wind *Wind, events *util.EventStream, lg *log.Logger) *FlightRoute {
	r := &FlightRoute{
		lg:       lg,
		events:   events,
		aircraft: aircraft,
		wind:     wind,
		perf:     UnknownPerformance(),
		windNow:  UnknownWind(),
	}
	if aircraft != nil {
		r.aircraftConn = aircraft.Changed.Connect(r.parametersChanged)
	}
	if wind != nil {
		r.windConn = wind.Changed.Connect(r.parametersChanged)
	}

	r.mu.Lock()
	r.updateLegsLocked()
	r.mu.Unlock()
	return r
}

// Close disconnects the route from the aircraft, the wind and its
// persistence file.
func (r *FlightRoute) Close() {
	if r.aircraft != nil {
		r.aircraft.Changed.Disconnect(r.aircraftConn)
	}
	if r.wind != nil {
		r.wind.Changed.Disconnect(r.windConn)
	}
	if r.persisting {
		r.WaypointsChanged.Disconnect(r.persistConn)
		r.persisting = false
	}
}

// updateLegsLocked rebuilds the legs from scratch with the current
// aircraft and wind.
func (r *FlightRoute) updateLegsLocked() {
	if r.aircraft != nil {
		r.perf = r.aircraft.Performance()
	}
	if r.wind != nil {
		r.windNow = r.wind.Conditions()
	}

	r.legs = r.legs[:0]
	for i := 0; i+1 < len(r.waypoints); i++ {
		r.legs = append(r.legs, NewLeg(r.waypoints[i], r.waypoints[i+1], r.perf, r.windNow))
	}
}

func (r *FlightRoute) parametersChanged() {
	r.mu.Lock()
	r.updateLegsLocked()
	r.mu.Unlock()

	r.SummaryChanged.Notify()
}

// mutate applies fn to the waypoint list under the lock. If fn reports a
// change, the legs are regenerated and the listeners notified.
func (r *FlightRoute) mutate(what string, fn func() bool) {
	r.mu.Lock()
	if !fn() {
		r.mu.Unlock()
		return
	}
	r.updateLegsLocked()
	n := len(r.waypoints)
	r.mu.Unlock()

	r.lg.Debug("flight route changed", slog.String("operation", what), slog.Int("waypoints", n))
	r.WaypointsChanged.Notify()
	r.SummaryChanged.Notify()
	r.events.Post(util.Event{Type: util.RouteChangedEvent, Source: "FlightRoute", Message: what})
}

// Append adds a copy of wp at the end of the route.
func (r *FlightRoute) Append(wp geomaps.Waypoint) {
	r.mutate("append", func() bool {
		r.waypoints = append(r.waypoints, wp.Copy())
		return true
	})
}

// AppendCoordinate appends a generic waypoint at p.
func (r *FlightRoute) AppendCoordinate(p math.Point2LL) {
	r.Append(geomaps.NewWaypoint(p, ""))
}

// CanAppend reports whether wp can be appended without creating a
// degenerate leg, i.e. whether the route is empty or wp is not near its
// last waypoint.
func (r *FlightRoute) CanAppend(wp geomaps.Waypoint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.waypoints) == 0 {
		return true
	}
	return !r.waypoints[len(r.waypoints)-1].IsNear(wp)
}

// MoveUp swaps the waypoint at idx with its predecessor. It does nothing
// for the first waypoint or an out-of-range index.
func (r *FlightRoute) MoveUp(idx int) {
	r.mutate("move up", func() bool {
		if idx < 1 || idx >= len(r.waypoints) {
			return false
		}
		r.waypoints[idx-1], r.waypoints[idx] = r.waypoints[idx], r.waypoints[idx-1]
		return true
	})
}

// MoveDown swaps the waypoint at idx with its successor. It does nothing
// for the last waypoint or an out-of-range index.
func (r *FlightRoute) MoveDown(idx int) {
	r.mutate("move down", func() bool {
		if idx < 0 || idx > len(r.waypoints)-2 {
			return false
		}
		r.waypoints[idx], r.waypoints[idx+1] = r.waypoints[idx+1], r.waypoints[idx]
		return true
	})
}

// RemoveWaypoint removes the waypoint at idx if it equals wp. Otherwise,
// as happens when idx refers to an older version of the route, the first
// waypoint equal to wp is removed. If there is none, nothing happens.
func (r *FlightRoute) RemoveWaypoint(idx int, wp geomaps.Waypoint) {
	r.mutate("remove", func() bool {
		if idx < 0 || idx >= len(r.waypoints) || !r.waypoints[idx].Equal(wp) {
			idx = slices.IndexFunc(r.waypoints, wp.Equal)
		}
		if idx < 0 {
			return false
		}
		r.waypoints = slices.Delete(r.waypoints, idx, idx+1)
		return true
	})
}

// RelocateWaypoint moves the waypoint at idx to p. Invalid coordinates
// and moves shorter than RelocateThreshold are ignored.
func (r *FlightRoute) RelocateWaypoint(idx int, p math.Point2LL) {
	r.mutate("relocate", func() bool {
		if idx < 0 || idx >= len(r.waypoints) || !p.IsValid() {
			return false
		}
		old := r.waypoints[idx].Location()
		if old.IsValid() && math.DistanceMeters(old, p) < RelocateThreshold {
			return false
		}
		r.waypoints[idx] = r.waypoints[idx].Relocated(p)
		return true
	})
}

func (r *FlightRoute) RenameWaypoint(idx int, name string) {
	r.mutate("rename", func() bool {
		if idx < 0 || idx >= len(r.waypoints) || r.waypoints[idx].Name() == name {
			return false
		}
		r.waypoints[idx] = r.waypoints[idx].Renamed(name)
		return true
	})
}

func (r *FlightRoute) Reverse() {
	r.mutate("reverse", func() bool {
		slices.Reverse(r.waypoints)
		return true
	})
}

func (r *FlightRoute) Clear() {
	r.mutate("clear", func() bool {
		r.waypoints = nil
		return true
	})
}

// setWaypoints replaces the whole route.
func (r *FlightRoute) setWaypoints(what string, wps []geomaps.Waypoint) {
	r.mutate(what, func() bool {
		r.waypoints = util.MapSlice(wps, geomaps.Waypoint.Copy)
		return true
	})
}

///////////////////////////////////////////////////////////////////////////
// Queries

// Waypoints returns copies of the waypoints.
func (r *FlightRoute) Waypoints() []geomaps.Waypoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return util.MapSlice(r.waypoints, geomaps.Waypoint.Copy)
}

// Legs returns the current legs; legs[i] connects waypoint i and i+1.
func (r *FlightRoute) Legs() []Leg {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.legs)
}

func (r *FlightRoute) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waypoints)
}

func (r *FlightRoute) IsEmpty() bool { return r.Size() == 0 }

// Contains reports whether some valid waypoint of the route is near wp.
func (r *FlightRoute) Contains(wp geomaps.Waypoint) bool {
	return r.LastIndexOf(wp) >= 0
}

// LastIndexOf returns the index of the last valid waypoint near wp, or -1.
func (r *FlightRoute) LastIndexOf(wp geomaps.Waypoint) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(r.waypoints) - 1; i >= 0; i-- {
		if r.waypoints[i].IsValid() && r.waypoints[i].IsNear(wp) {
			return i
		}
	}
	return -1
}

// BoundingRectangle returns the extent of the valid waypoints; it is
// empty if there are none.
func (r *FlightRoute) BoundingRectangle() math.Extent2D {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.boundsLocked()
}

func (r *FlightRoute) boundsLocked() math.Extent2D {
	e := math.EmptyExtent2D()
	for _, wp := range r.waypoints {
		if wp.IsValid() {
			e = math.Union(e, wp.Location())
		}
	}
	return e
}

// GeoPath returns the coordinates of the route for drawing. It is nil
// unless there are at least two waypoints and all of them are valid.
func (r *FlightRoute) GeoPath() []math.Point2LL {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.waypoints) < 2 {
		return nil
	}
	path := make([]math.Point2LL, 0, len(r.waypoints))
	for _, wp := range r.waypoints {
		if !wp.IsValid() {
			return nil
		}
		path = append(path, wp.Location())
	}
	return path
}

// MidFieldWaypoints returns the generic waypoints of the route, those
// that are not airfields, navaids or reporting points.
func (r *FlightRoute) MidFieldWaypoints() []geomaps.Waypoint {
	return util.FilterSlice(r.Waypoints(), func(wp geomaps.Waypoint) bool { return wp.Category() == "WP" })
}

// SuggestedFilename proposes a file name of the form
// "EDTL (Lahr) - EDTG (Bremgarten)".
func (r *FlightRoute) SuggestedFilename() string {
	const fallback = "Flight Route"

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.waypoints) < 2 {
		return fallback
	}

	describe := func(wp geomaps.Waypoint) string {
		s := wp.ICAOCode()
		name := strings.NewReplacer("(", "", ")", "").Replace(wp.Name())
		if rn := []rune(name); len(rn) > 11 {
			name = string(rn[:10]) + "_"
		}
		if name != "" {
			if s == "" {
				s = name
			} else {
				s += " (" + name + ")"
			}
		}
		return strings.ReplaceAll(s, "/", "-")
	}

	start, end := describe(r.waypoints[0]), describe(r.waypoints[len(r.waypoints)-1])
	switch {
	case start == "" && end == "":
		return fallback
	case start == "":
		return end
	case end == "":
		return start
	default:
		return start + " - " + end
	}
}

///////////////////////////////////////////////////////////////////////////
// Summary

// Summary returns the route totals in the aircraft's distance unit.
func (r *FlightRoute) Summary() string {
	r.mu.Lock()
	unit := r.perf.DistanceUnit
	r.mu.Unlock()
	return r.SummaryIn(unit)
}

// SummaryMetric returns the route totals with distances in kilometres.
func (r *FlightRoute) SummaryMetric() string {
	return r.SummaryIn(units.Kilometer)
}

// SummaryIn returns e.g. "Total: 43.1 nm • 0:26 h • 13 l". Time and fuel
// only start to accumulate once the route is longer than MinLegLength.
// When inputs are missing, a red warning that lists them is appended.
// The route must have at least one leg; otherwise the result is empty.
func (r *FlightRoute) SummaryIn(unit units.DistanceUnit) string {
	r.mu.Lock()
	legs := slices.Clone(r.legs)
	perf, wind := r.perf, r.windNow
	r.mu.Unlock()

	if len(legs) == 0 {
		return ""
	}

	var dist units.Distance
	var ete units.Time
	var fuel units.Volume
	for _, leg := range legs {
		dist += leg.Distance()
		if dist.ToMeters() > MinLegLength {
			ete += leg.ETE()
			fuel += leg.Fuel()
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Total: %.1f %s", dist.In(unit), unit)
	if ete.IsFinite() {
		fmt.Fprintf(&b, " • %s h", ete.HoursAndMinutes())
	}
	if fuel.IsFinite() {
		fmt.Fprintf(&b, " • %d l", int(gomath.Round(fuel.ToLiters())))
	}

	var complaints []string
	if !perf.CruiseSpeed.IsFinite() {
		complaints = append(complaints, "Cruise speed not specified.")
	}
	if !perf.FuelConsumption.IsFinite() {
		complaints = append(complaints, "Fuel consumption not specified.")
	}
	if !wind.Speed.IsFinite() {
		complaints = append(complaints, "Wind speed not specified.")
	}
	if !wind.Direction.IsFinite() {
		complaints = append(complaints, "Wind direction not specified.")
	}
	if len(complaints) > 0 {
		fmt.Fprintf(&b, "<p><font color='red'>Computation incomplete. %s</font></p>", strings.Join(complaints, " "))
	}

	return b.String()
}

func (r *FlightRoute) LogValue() slog.Value {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slog.GroupValue(
		slog.Int("waypoints", len(r.waypoints)),
		slog.Int("legs", len(r.legs)),
		slog.Any("aircraft", r.perf),
		slog.String("wind", r.windNow.String()))
}
