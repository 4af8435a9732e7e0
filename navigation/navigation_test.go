// navigation/navigation_test.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package navigation

import (
	gomath "math"
	"testing"

	"github.com/mmp/enroute/geomaps"
	"github.com/mmp/enroute/math"
	"github.com/mmp/enroute/units"
)

func approxEqual(a, b, eps float64) bool {
	return gomath.Abs(a-b) <= eps
}

// northLeg returns a leg that runs due north for the given number of
// nautical miles, so that its true course is exactly zero.
func northLeg(nm float64, perf Performance, wind WindConditions) Leg {
	start := math.Point2LL{8, 48}
	end := math.Destination(start, 0, nm*units.MetersPerNauticalMile)
	return NewLeg(geomaps.NewWaypoint(start, "A"), geomaps.NewWaypoint(end, "B"), perf, wind)
}

func cruise(kt, lph float64) Performance {
	p := UnknownPerformance()
	p.CruiseSpeed = units.SpeedFromKnots(kt)
	p.FuelConsumption = units.VolumeFlowFromLPH(lph)
	return p
}

func windFrom(deg, kt float64) WindConditions {
	return WindConditions{Speed: units.SpeedFromKnots(kt), Direction: units.AngleFromDegrees(deg)}
}

func TestLegTC(t *testing.T) {
	start := math.Point2LL{7.8, 48}
	for _, test := range []struct {
		dist   float64 // metres
		finite bool
	}{
		{0, false}, {50, false}, {99, false}, {101, true}, {1000, true}, {500000, true},
	} {
		end := math.Destination(start, 42, test.dist)
		leg := NewLeg(geomaps.NewWaypoint(start, "A"), geomaps.NewWaypoint(end, "B"), UnknownPerformance(), UnknownWind())
		tc := leg.TC()
		if tc.IsFinite() != test.finite {
			t.Errorf("%f m: TC %v, expected finite %v", test.dist, tc.ToDegrees(), test.finite)
		}
		if test.finite && !approxEqual(tc.ToDegrees(), math.InitialBearing(start, end), 1e-9) {
			t.Errorf("%f m: TC %f, initial bearing %f", test.dist, tc.ToDegrees(), math.InitialBearing(start, end))
		}
		if !approxEqual(leg.Distance().ToMeters(), test.dist, 1e-2) {
			t.Errorf("distance %f, expected %f", leg.Distance().ToMeters(), test.dist)
		}
	}

	invalid := NewLeg(geomaps.NewWaypoint(start, "A"), geomaps.InvalidWaypoint(), UnknownPerformance(), UnknownWind())
	if invalid.IsValid() || invalid.Distance().IsFinite() || invalid.TC().IsFinite() {
		t.Errorf("leg to invalid waypoint: valid %v distance %v", invalid.IsValid(), invalid.Distance())
	}
	if invalid.Description(units.NauticalMile) != "" {
		t.Errorf("invalid leg has description %q", invalid.Description(units.NauticalMile))
	}
}

func TestWindTriangle(t *testing.T) {
	// Headwind
	leg := northLeg(20, cruise(100, 40), windFrom(0, 20))
	if !leg.HasDataForWindTriangle() {
		t.Fatalf("no data for wind triangle")
	}
	if !approxEqual(leg.WCA().ToDegrees(), 0, 1e-9) || !approxEqual(leg.GS().ToKnots(), 80, 1e-6) {
		t.Errorf("headwind: WCA %f GS %f", leg.WCA().ToDegrees(), leg.GS().ToKnots())
	}
	if !approxEqual(leg.ETE().ToMinutes(), 15, 1e-3) {
		t.Errorf("ETE %f min, expected 15", leg.ETE().ToMinutes())
	}
	if !approxEqual(leg.Fuel().ToLiters(), 10, 1e-3) {
		t.Errorf("fuel %f l, expected 10", leg.Fuel().ToLiters())
	}

	// Crosswind from the right
	leg = northLeg(20, cruise(100, 40), windFrom(90, 20))
	wca := gomath.Asin(0.2) * 180 / gomath.Pi
	if !approxEqual(leg.WCA().ToDegrees(), wca, 1e-6) || !approxEqual(leg.TH().NormalizedDegrees(), wca, 1e-6) {
		t.Errorf("crosswind: WCA %f TH %f, expected %f", leg.WCA().ToDegrees(), leg.TH().ToDegrees(), wca)
	}
	if !approxEqual(leg.GS().ToKnots(), gomath.Sqrt(9600), 1e-6) {
		t.Errorf("crosswind: GS %f", leg.GS().ToKnots())
	}

	// Unknown fuel consumption only affects fuel.
	leg = northLeg(20, cruise(100, gomath.NaN()), windFrom(0, 20))
	if leg.Fuel().IsFinite() || !leg.ETE().IsFinite() {
		t.Errorf("unknown fuel consumption: fuel %v ETE %v", leg.Fuel(), leg.ETE())
	}
}

func TestWindTriangleGate(t *testing.T) {
	for _, test := range []struct {
		name string
		perf Performance
		wind WindConditions
		ok   bool
	}{
		{"calm", cruise(100, 30), windFrom(0, 0), true},
		{"below limit", cruise(100, 30), windFrom(180, 74.99), true},
		{"above limit", cruise(100, 30), windFrom(180, 75.01), false},
		{"no cruise speed", UnknownPerformance(), windFrom(0, 10), false},
		{"no wind speed", cruise(100, 30), WindConditions{Speed: units.Speed(gomath.NaN()), Direction: 0}, false},
		{"no wind direction", cruise(100, 30), WindConditions{Speed: units.SpeedFromKnots(10), Direction: units.Angle(gomath.NaN())}, false},
	} {
		leg := northLeg(20, test.perf, test.wind)
		if leg.HasDataForWindTriangle() != test.ok {
			t.Errorf("%s: HasDataForWindTriangle %v", test.name, leg.HasDataForWindTriangle())
		}
		finite := []bool{leg.WCA().IsFinite(), leg.TH().IsFinite(), leg.GS().IsFinite(), leg.ETE().IsFinite()}
		for i, f := range finite {
			if f != test.ok {
				t.Errorf("%s: quantity %d finite %v, expected %v", test.name, i, f, test.ok)
			}
		}
		if !test.ok && leg.Fuel().IsFinite() {
			t.Errorf("%s: finite fuel", test.name)
		}
	}
}

func TestLegDescription(t *testing.T) {
	leg := northLeg(20, cruise(100, 40), windFrom(0, 20))
	if d := leg.Description(units.NauticalMile); d != "20.0 nm • 0:15 h • TC 0° • TH 0°" {
		t.Errorf("description %q", d)
	}

	leg = northLeg(20, UnknownPerformance(), UnknownWind())
	if d := leg.Description(units.NauticalMile); d != "20.0 nm • TC 0°" {
		t.Errorf("description without wind %q", d)
	}
	if d := leg.Description(units.Kilometer); d != "37.0 km • TC 0°" {
		t.Errorf("metric description %q", d)
	}

	short := northLeg(0.02, UnknownPerformance(), UnknownWind())
	if d := short.Description(units.NauticalMile); d != "0.0 nm" {
		t.Errorf("short leg description %q", d)
	}
}

func TestLegRelations(t *testing.T) {
	a := geomaps.NewWaypoint(math.Point2LL{7, 48}, "A")
	b := geomaps.NewWaypoint(math.Point2LL{8, 48}, "B")
	c := geomaps.NewWaypoint(math.Point2LL{9, 48}, "C")
	ab := NewLeg(a, b, UnknownPerformance(), UnknownWind())
	bc := NewLeg(b, c, UnknownPerformance(), UnknownWind())

	if !bc.IsFollowing(ab) || ab.IsFollowing(bc) {
		t.Errorf("IsFollowing wrong")
	}
	if !ab.Contains(a) || !ab.Contains(b) || ab.Contains(c) {
		t.Errorf("Contains wrong")
	}
}

func TestAircraft(t *testing.T) {
	a := NewAircraft(AircraftSettings{CruiseSpeedKnots: 500, FuelConsumptionLPH: 30})
	if p := a.Performance(); p.CruiseSpeed.IsFinite() || !approxEqual(p.FuelConsumption.ToLPH(), 30, 1e-9) {
		t.Errorf("out of range cruise speed kept: %v", p)
	}

	n := 0
	a.Changed.Connect(func() { n++ })
	a.SetCruiseSpeed(units.SpeedFromKnots(100))
	a.SetCruiseSpeed(units.SpeedFromKnots(100))
	if n != 1 {
		t.Errorf("%d notifications for one change", n)
	}
	a.SetFuelConsumption(units.VolumeFlowFromLPH(301))
	a.SetFuelConsumption(units.VolumeFlowFromLPH(-5))
	if n != 2 || a.Performance().FuelConsumption.IsFinite() {
		t.Errorf("%d notifications, fuel %v", n, a.Performance().FuelConsumption)
	}

	s := a.Settings()
	if !approxEqual(s.CruiseSpeedKnots, 100, 1e-9) || s.FuelConsumptionLPH != -1 || s.DescentSpeedKnots != 0 {
		t.Errorf("settings %+v", s)
	}
	b := NewAircraft(s)
	if !approxEqual(b.Performance().CruiseSpeed.ToKnots(), 100, 1e-9) || b.Performance().FuelConsumption.IsFinite() {
		t.Errorf("settings round trip gave %v", b.Performance())
	}
}

func TestWind(t *testing.T) {
	w := NewWind(WindSettings{SpeedKnots: -1, DirectionDegrees: 270})
	if c := w.Conditions(); c.Speed.IsFinite() || !approxEqual(c.Direction.ToDegrees(), 270, 1e-9) {
		t.Errorf("conditions %v", c)
	}

	n := 0
	w.Changed.Connect(func() { n++ })
	w.SetSpeed(units.SpeedFromKnots(101))
	if n != 0 {
		t.Errorf("setting unknown speed again notified")
	}
	w.SetSpeed(units.SpeedFromKnots(15))
	w.SetDirection(units.AngleFromDegrees(270))
	w.SetDirection(units.AngleFromDegrees(250))
	if n != 2 {
		t.Errorf("%d notifications, expected 2", n)
	}
	if s := w.Settings(); !approxEqual(s.SpeedKnots, 15, 1e-9) || !approxEqual(s.DirectionDegrees, 250, 1e-9) {
		t.Errorf("settings %+v", s)
	}
	if s := w.Conditions().String(); s != "250°/15 kt" {
		t.Errorf("String %q", s)
	}
}
