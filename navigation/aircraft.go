// navigation/aircraft.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package navigation

import (
	"log/slog"
	gomath "math"
	"sync"

	"github.com/mmp/enroute/units"
	"github.com/mmp/enroute/util"
)

// Plausible ranges for aircraft performance values; values outside them
// are treated as unknown.
const (
	MinAircraftSpeedKnots = 10
	MaxAircraftSpeedKnots = 400
	MinFuelConsumptionLPH = 0
	MaxFuelConsumptionLPH = 300
)

// Performance is a snapshot of the aircraft parameters that the leg
// computations use. Unknown values are NaN.
type Performance struct {
	Name            string
	CruiseSpeed     units.Speed
	DescentSpeed    units.Speed
	MinimumSpeed    units.Speed
	FuelConsumption units.VolumeFlow
	DistanceUnit    units.DistanceUnit
}

func UnknownPerformance() Performance {
	return Performance{
		CruiseSpeed:     units.Speed(gomath.NaN()),
		DescentSpeed:    units.Speed(gomath.NaN()),
		MinimumSpeed:    units.Speed(gomath.NaN()),
		FuelConsumption: units.VolumeFlow(gomath.NaN()),
	}
}

func (p Performance) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("name", p.Name),
		slog.Float64("cruise_kt", p.CruiseSpeed.ToKnots()),
		slog.Float64("descent_kt", p.DescentSpeed.ToKnots()),
		slog.Float64("minimum_kt", p.MinimumSpeed.ToKnots()),
		slog.Float64("fuel_lph", p.FuelConsumption.ToLPH()),
		slog.String("unit", p.DistanceUnit.String()))
}

// AircraftSettings is the persisted form of the aircraft parameters. A
// zero speed or a negative fuel consumption means "not specified".
type AircraftSettings struct {
	Name                   string             `json:"name,omitempty"`
	CruiseSpeedKnots       float64            `json:"cruise_speed_kt"`
	DescentSpeedKnots      float64            `json:"descent_speed_kt"`
	MinimumSpeedKnots      float64            `json:"minimum_speed_kt"`
	FuelConsumptionLPH     float64            `json:"fuel_consumption_lph"`
	HorizontalDistanceUnit units.DistanceUnit `json:"horizontal_distance_unit"`
}

// Aircraft holds the performance parameters of the aircraft being
// flown. It is safe for concurrent use; Changed is notified after any
// value that affects route computations changes.
type Aircraft struct {
	mu   sync.Mutex
	perf Performance

	Changed util.Notifier
}

func NewAircraft(s AircraftSettings) *Aircraft {
	a := &Aircraft{perf: UnknownPerformance()}
	a.perf.Name = s.Name
	a.perf.CruiseSpeed = checkedSpeed(units.SpeedFromKnots(s.CruiseSpeedKnots))
	a.perf.DescentSpeed = checkedSpeed(units.SpeedFromKnots(s.DescentSpeedKnots))
	a.perf.MinimumSpeed = checkedSpeed(units.SpeedFromKnots(s.MinimumSpeedKnots))
	a.perf.FuelConsumption = checkedFuelConsumption(units.VolumeFlowFromLPH(s.FuelConsumptionLPH))
	a.perf.DistanceUnit = s.HorizontalDistanceUnit
	return a
}

func checkedSpeed(s units.Speed) units.Speed {
	if kt := s.ToKnots(); !(kt >= MinAircraftSpeedKnots && kt <= MaxAircraftSpeedKnots) {
		return units.Speed(gomath.NaN())
	}
	return s
}

func checkedFuelConsumption(f units.VolumeFlow) units.VolumeFlow {
	if lph := f.ToLPH(); !(lph >= MinFuelConsumptionLPH && lph <= MaxFuelConsumptionLPH) {
		return units.VolumeFlow(gomath.NaN())
	}
	return f
}

// sameFloat treats two NaNs as equal so that setting an unknown value
// twice does not notify.
func sameFloat(a, b float64) bool {
	return a == b || (gomath.IsNaN(a) && gomath.IsNaN(b))
}

// Settings returns the persisted form of the current values.
func (a *Aircraft) Settings() AircraftSettings {
	p := a.Performance()
	or := func(v, unknown float64) float64 {
		if gomath.IsNaN(v) || gomath.IsInf(v, 0) {
			return unknown
		}
		return v
	}
	return AircraftSettings{
		Name:                   p.Name,
		CruiseSpeedKnots:       or(p.CruiseSpeed.ToKnots(), 0),
		DescentSpeedKnots:      or(p.DescentSpeed.ToKnots(), 0),
		MinimumSpeedKnots:      or(p.MinimumSpeed.ToKnots(), 0),
		FuelConsumptionLPH:     or(p.FuelConsumption.ToLPH(), -1),
		HorizontalDistanceUnit: p.DistanceUnit,
	}
}

func (a *Aircraft) Performance() Performance {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.perf
}

// update applies fn to the performance values and notifies Changed if
// anything differs afterward.
func (a *Aircraft) update(fn func(p *Performance)) {
	a.mu.Lock()
	old := a.perf
	fn(&a.perf)
	p := a.perf
	a.mu.Unlock()

	if old.Name != p.Name || old.DistanceUnit != p.DistanceUnit ||
		!sameFloat(float64(old.CruiseSpeed), float64(p.CruiseSpeed)) ||
		!sameFloat(float64(old.DescentSpeed), float64(p.DescentSpeed)) ||
		!sameFloat(float64(old.MinimumSpeed), float64(p.MinimumSpeed)) ||
		!sameFloat(float64(old.FuelConsumption), float64(p.FuelConsumption)) {
		a.Changed.Notify()
	}
}

// SetCruiseSpeed sets the cruise speed; speeds outside the plausible
// range make it unknown.
func (a *Aircraft) SetCruiseSpeed(s units.Speed) {
	a.update(func(p *Performance) { p.CruiseSpeed = checkedSpeed(s) })
}

func (a *Aircraft) SetDescentSpeed(s units.Speed) {
	a.update(func(p *Performance) { p.DescentSpeed = checkedSpeed(s) })
}

func (a *Aircraft) SetMinimumSpeed(s units.Speed) {
	a.update(func(p *Performance) { p.MinimumSpeed = checkedSpeed(s) })
}

func (a *Aircraft) SetFuelConsumption(f units.VolumeFlow) {
	a.update(func(p *Performance) { p.FuelConsumption = checkedFuelConsumption(f) })
}

func (a *Aircraft) SetName(name string) {
	a.update(func(p *Performance) { p.Name = name })
}

func (a *Aircraft) SetDistanceUnit(u units.DistanceUnit) {
	a.update(func(p *Performance) { p.DistanceUnit = u })
}

func (a *Aircraft) LogValue() slog.Value {
	return a.Performance().LogValue()
}
