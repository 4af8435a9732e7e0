// units/units.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

// Package units provides typed scalars for the quantities used in route
// computations. All of them are float64 in a fixed base unit; NaN is used
// throughout to represent a value that is unknown or invalid.
package units

import (
	"fmt"
	gomath "math"

	"github.com/mmp/enroute/math"
)

const (
	MetersPerFoot         = 0.3048
	MetersPerNauticalMile = 1852
	MetersPerStatuteMile  = 1609.344
	KnotsPerMPS           = 1.943844
	KMHPerMPS             = 3.6
	MPSPerMPH             = 0.44704
	FPMPerMPS             = 196.850393701
	LitersPerGallon       = 4.54609
)

///////////////////////////////////////////////////////////////////////////
// Angle

// Angle is an angle in radians.
type Angle float64

func AngleFromRadians(r float64) Angle { return Angle(r) }
func AngleFromDegrees(d float64) Angle { return Angle(d * gomath.Pi / 180) }

// ASin returns the arcsine of x; the result is NaN for |x| > 1.
func ASin(x float64) Angle { return Angle(gomath.Asin(x)) }

func (a Angle) ToRadians() float64 { return float64(a) }
func (a Angle) ToDegrees() float64 { return float64(a) * 180 / gomath.Pi }
func (a Angle) Sin() float64 { return gomath.Sin(float64(a)) }
func (a Angle) Cos() float64 { return gomath.Cos(float64(a)) }
func (a Angle) IsFinite() bool { return math.IsFinite(float64(a)) }

// NormalizedDegrees returns the angle in degrees, reduced to [0,360).
func (a Angle) NormalizedDegrees() float64 {
	d := gomath.Mod(a.ToDegrees(), 360)
	if d < 0 {
		d += 360
	}
	if d >= 360 {
		d = 0
	}
	return d
}

// String returns the angle as rounded whole degrees in [0,360), e.g.
// "123°". Non-finite angles give an empty string.
func (a Angle) String() string {
	if !a.IsFinite() {
		return ""
	}
	return fmt.Sprintf("%d°", int(gomath.Round(a.NormalizedDegrees()))%360)
}

///////////////////////////////////////////////////////////////////////////
// Distance

// Distance is a distance in metres.
type Distance float64

func DistanceFromMeters(m float64) Distance { return Distance(m) }
func DistanceFromNM(nm float64) Distance { return Distance(nm * MetersPerNauticalMile) }
func DistanceFromKM(km float64) Distance { return Distance(km * 1000) }
func DistanceFromFeet(ft float64) Distance { return Distance(ft * MetersPerFoot) }
func DistanceFromStatuteMiles(mi float64) Distance { return Distance(mi * MetersPerStatuteMile) }

func (d Distance) ToMeters() float64 { return float64(d) }
func (d Distance) ToNM() float64 { return float64(d) / MetersPerNauticalMile }
func (d Distance) ToKM() float64 { return float64(d) / 1000 }
func (d Distance) ToFeet() float64 { return float64(d) / MetersPerFoot }
func (d Distance) ToStatuteMiles() float64 { return float64(d) / MetersPerStatuteMile }
func (d Distance) IsFinite() bool { return math.IsFinite(float64(d)) }

// DistanceUnit selects how horizontal distances are presented.
type DistanceUnit int

const (
	NauticalMile DistanceUnit = iota
	Kilometer
	StatuteMile
)

func (u DistanceUnit) String() string {
	return [...]string{"nm", "km", "mil"}[u]
}

// ParseDistanceUnit accepts the strings produced by DistanceUnit.String.
func ParseDistanceUnit(s string) (DistanceUnit, error) {
	switch s {
	case "nm", "NM":
		return NauticalMile, nil
	case "km":
		return Kilometer, nil
	case "mil", "mi":
		return StatuteMile, nil
	default:
		return NauticalMile, fmt.Errorf("%s: unknown distance unit", s)
	}
}

func (u DistanceUnit) MarshalText() ([]byte, error) { return []byte(u.String()), nil }

func (u *DistanceUnit) UnmarshalText(b []byte) error {
	var err error
	*u, err = ParseDistanceUnit(string(b))
	return err
}

// In returns the distance expressed in the given unit.
func (d Distance) In(u DistanceUnit) float64 {
	switch u {
	case Kilometer:
		return d.ToKM()
	case StatuteMile:
		return d.ToStatuteMiles()
	default:
		return d.ToNM()
	}
}

///////////////////////////////////////////////////////////////////////////
// Speed

// Speed is a speed in metres per second.
type Speed float64

func SpeedFromMPS(mps float64) Speed { return Speed(mps) }
func SpeedFromKnots(kt float64) Speed { return Speed(kt / KnotsPerMPS) }
func SpeedFromKMH(kmh float64) Speed { return Speed(kmh / KMHPerMPS) }
func SpeedFromMPH(mph float64) Speed { return Speed(mph * MPSPerMPH) }
func SpeedFromFPM(fpm float64) Speed { return Speed(fpm / FPMPerMPS) }

func (s Speed) ToMPS() float64 { return float64(s) }
func (s Speed) ToKnots() float64 { return float64(s) * KnotsPerMPS }
func (s Speed) ToKMH() float64 { return float64(s) * KMHPerMPS }
func (s Speed) ToMPH() float64 { return float64(s) / MPSPerMPH }
func (s Speed) ToFPM() float64 { return float64(s) * FPMPerMPS }
func (s Speed) IsFinite() bool { return math.IsFinite(float64(s)) }

///////////////////////////////////////////////////////////////////////////
// Time

// Time is a time span in seconds.
type Time float64

func TimeFromSeconds(s float64) Time { return Time(s) }
func TimeFromMinutes(m float64) Time { return Time(m * 60) }
func TimeFromHours(h float64) Time { return Time(h * 3600) }

func (t Time) ToSeconds() float64 { return float64(t) }
func (t Time) ToMinutes() float64 { return float64(t) / 60 }
func (t Time) ToHours() float64 { return float64(t) / 3600 }
func (t Time) IsFinite() bool { return math.IsFinite(float64(t)) }

// HoursAndMinutes returns e.g. "1:05", rounding to the nearest minute;
// non-finite times give "-:--".
func (t Time) HoursAndMinutes() string {
	if !t.IsFinite() {
		return "-:--"
	}

	minutes := int(gomath.Round(gomath.Abs(t.ToMinutes())))
	sign := ""
	if t < 0 {
		sign = "-"
	}
	return fmt.Sprintf("%s%d:%02d", sign, minutes/60, minutes%60)
}

// TimeFor returns the time needed to cover d at speed s.
func TimeFor(d Distance, s Speed) Time {
	return Time(float64(d) / float64(s))
}

///////////////////////////////////////////////////////////////////////////
// Volume, VolumeFlow

// Volume is a volume in litres.
type Volume float64

func VolumeFromLiters(l float64) Volume { return Volume(l) }
func VolumeFromGallons(g float64) Volume { return Volume(g * LitersPerGallon) }

func (v Volume) ToLiters() float64 { return float64(v) }
func (v Volume) ToGallons() float64 { return float64(v) / LitersPerGallon }
func (v Volume) IsFinite() bool { return math.IsFinite(float64(v)) }

// VolumeFlow is a flow rate in litres per hour.
type VolumeFlow float64

func VolumeFlowFromLPH(lph float64) VolumeFlow { return VolumeFlow(lph) }
func VolumeFlowFromGPH(gph float64) VolumeFlow { return VolumeFlow(gph * LitersPerGallon) }

func (f VolumeFlow) ToLPH() float64 { return float64(f) }
func (f VolumeFlow) ToGPH() float64 { return float64(f) / LitersPerGallon }
func (f VolumeFlow) IsFinite() bool { return math.IsFinite(float64(f)) }

// Times returns the volume consumed over the time span t.
func (f VolumeFlow) Times(t Time) Volume {
	return Volume(float64(f) * t.ToHours())
}
