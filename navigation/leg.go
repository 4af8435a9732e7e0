// navigation/leg.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package navigation

import (
	"fmt"
	"log/slog"
	gomath "math"
	"strings"

	"github.com/mmp/enroute/geomaps"
	"github.com/mmp/enroute/math"
	"github.com/mmp/enroute/units"
)

const (
	// MinLegLength is the leg length below which the true course is
	// undefined.
	MinLegLength = 100 // metres

	// MaxWindRatio bounds the wind speed relative to the cruise speed
	// for which the wind triangle is solved.
	MaxWindRatio = 0.75
)

// Leg is one hop of a flight route. It holds snapshots of its endpoints
// and of the aircraft and wind at the time it was made; all quantities
// are computed on demand and are NaN when they cannot be computed.
type Leg struct {
	start, end geomaps.Waypoint
	perf       Performance
	wind       WindConditions
}

func NewLeg(start, end geomaps.Waypoint, perf Performance, wind WindConditions) Leg {
	return Leg{start: start.Copy(), end: end.Copy(), perf: perf, wind: wind}
}

func (l Leg) Start() geomaps.Waypoint { return l.start }
func (l Leg) End() geomaps.Waypoint { return l.end }

// IsValid reports whether both endpoints have valid coordinates.
func (l Leg) IsValid() bool {
	return l.start.Location().IsValid() && l.end.Location().IsValid()
}

func (l Leg) Distance() units.Distance {
	if !l.IsValid() {
		return units.Distance(gomath.NaN())
	}
	return units.DistanceFromMeters(math.DistanceMeters(l.start.Location(), l.end.Location()))
}

// TC returns the true course, the initial bearing from start to end. It
// is NaN for legs shorter than MinLegLength.
func (l Leg) TC() units.Angle {
	if !l.IsValid() || l.Distance().ToMeters() < MinLegLength {
		return units.Angle(gomath.NaN())
	}
	return units.AngleFromDegrees(math.InitialBearing(l.start.Location(), l.end.Location()))
}

// HasDataForWindTriangle reports whether cruise speed and wind are known
// and the wind is weak enough for the wind triangle to be meaningful.
func (l Leg) HasDataForWindTriangle() bool {
	tas, ws := l.perf.CruiseSpeed, l.wind.Speed
	if !tas.IsFinite() || !ws.IsFinite() || !l.wind.Direction.IsFinite() {
		return false
	}
	return ws.ToKnots() <= MaxWindRatio*tas.ToKnots()
}

// WCA returns the wind correction angle.
func (l Leg) WCA() units.Angle {
	if !l.HasDataForWindTriangle() {
		return units.Angle(gomath.NaN())
	}
	tas, ws := l.perf.CruiseSpeed.ToKnots(), l.wind.Speed.ToKnots()
	return units.ASin(-(l.TC() - l.wind.Direction).Sin() * ws / tas)
}

// TH returns the true heading, TC corrected for the wind.
func (l Leg) TH() units.Angle {
	if !l.HasDataForWindTriangle() {
		return units.Angle(gomath.NaN())
	}
	return l.TC() + l.WCA()
}

// GS returns the ground speed.
func (l Leg) GS() units.Speed {
	if !l.HasDataForWindTriangle() {
		return units.Speed(gomath.NaN())
	}
	tas, ws := l.perf.CruiseSpeed.ToKnots(), l.wind.Speed.ToKnots()
	gs := gomath.Sqrt(tas*tas + ws*ws - 2*tas*ws*(l.wind.Direction-l.TH()).Cos())
	return units.SpeedFromKnots(gs)
}

// ETE returns the estimated time en route.
func (l Leg) ETE() units.Time {
	if !l.HasDataForWindTriangle() {
		return units.Time(gomath.NaN())
	}
	return units.TimeFor(l.Distance(), l.GS())
}

// Fuel returns the fuel needed for the leg.
func (l Leg) Fuel() units.Volume {
	if !l.HasDataForWindTriangle() {
		return units.Volume(gomath.NaN())
	}
	return l.perf.FuelConsumption.Times(l.ETE())
}

// Description returns a one-line summary such as
// "12.3 nm • 0:14 h • TC 123° • TH 118°"; terms that cannot be computed
// are left out. Invalid legs give an empty string.
func (l Leg) Description(unit units.DistanceUnit) string {
	if !l.IsValid() {
		return ""
	}

	terms := []string{fmt.Sprintf("%.1f %s", l.Distance().In(unit), unit)}
	if ete := l.ETE(); ete.IsFinite() {
		terms = append(terms, ete.HoursAndMinutes()+" h")
	}
	if tc := l.TC(); tc.IsFinite() {
		terms = append(terms, "TC "+tc.String())
	}
	if th := l.TH(); th.IsFinite() {
		terms = append(terms, "TH "+th.String())
	}
	return strings.Join(terms, " • ")
}

// IsFollowing reports whether this leg starts where other ends.
func (l Leg) IsFollowing(other Leg) bool {
	return l.start.Equal(other.end)
}

// Contains reports whether wp is one of the endpoints.
func (l Leg) Contains(wp geomaps.Waypoint) bool {
	return l.start.Equal(wp) || l.end.Equal(wp)
}

func (l Leg) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Any("start", l.start),
		slog.Any("end", l.end),
		slog.Float64("distance_nm", l.Distance().ToNM()),
		slog.Float64("tc", l.TC().ToDegrees()),
		slog.Float64("th", l.TH().ToDegrees()))
}
