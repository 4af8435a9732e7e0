// math/latlong.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package math

import (
	"fmt"
	gomath "math"
	"regexp"
	"strconv"
	"strings"
)

// EarthRadius is the mean radius of the Earth in metres.
const EarthRadius = 6371000

const MetersPerNauticalMile = 1852

///////////////////////////////////////////////////////////////////////////
// Point2LL

// Point2LL represents a 2D point on the Earth in latitude-longitude.
// Important: 0 (x) is longitude, 1 (y) is latitude
type Point2LL [2]float64

// InvalidPoint2LL is returned where no meaningful location exists.
var InvalidPoint2LL = Point2LL{gomath.NaN(), gomath.NaN()}

func (p Point2LL) Longitude() float64 {
	return p[0]
}

func (p Point2LL) Latitude() float64 {
	return p[1]
}

// IsValid returns true if both components are finite and within the
// usual latitude and longitude ranges.
func (p Point2LL) IsValid() bool {
	return IsFinite(p[0]) && IsFinite(p[1]) &&
		p[0] >= -180 && p[0] <= 180 && p[1] >= -90 && p[1] <= 90
}

// DDString returns the position in decimal degrees, e.g.:
// (39.860901, -75.274864)
func (p Point2LL) DDString() string {
	return fmt.Sprintf("(%f, %f)", p[1], p[0]) // latitude, longitude
}

// DMSString returns the position in degrees minutes, seconds, e.g.
// N039.51.39.243,W075.16.29.511
func (p Point2LL) DMSString() string {
	format := func(v float64) string {
		s := fmt.Sprintf("%03d", int(v))
		v -= gomath.Floor(v)
		v *= 60
		s += fmt.Sprintf(".%02d", int(v))
		v -= gomath.Floor(v)
		v *= 60
		s += fmt.Sprintf(".%02d", int(v))
		v -= gomath.Floor(v)
		v *= 1000
		s += fmt.Sprintf(".%03d", int(v))
		return s
	}

	var s string
	if p[1] > 0 {
		s = "N"
	} else {
		s = "S"
	}
	s += format(Abs(p[1]))

	if p[0] > 0 {
		s += ",E"
	} else {
		s += ",W"
	}
	s += format(Abs(p[0]))

	return s
}

var (
	// pair of floats (no exponents), latitude first
	reLatLongFloat = regexp.MustCompile(`^(\-?[0-9]+(?:\.[0-9]+)?) *[, ] *(\-?[0-9]+(?:\.[0-9]+)?)$`)
	// e.g. N40.37.58.400,W073.46.17.000
	reLatLongDotted = regexp.MustCompile(`^([NS])([0-9]+)\.([0-9]+)\.([0-9]+)\.([0-9]+), *([EW])([0-9]+)\.([0-9]+)\.([0-9]+)\.([0-9]+)$`)
	// https://en.wikipedia.org/wiki/ISO_6709#String_expression_(Annex_H)
	// e.g. +403527.580-0734452.955
	reISO6709H = regexp.MustCompile(`^([-+][0-9][0-9])([0-9][0-9])([0-9][0-9])\.([0-9][0-9][0-9])([-+][0-9][0-9][0-9])([0-9][0-9])([0-9][0-9])\.([0-9][0-9][0-9])$`)
)

// ParseLatLong parses a location given as a pair of decimal degrees
// ("47.98, 7.83"; latitude first), in dotted DMS form
// ("N47.58.48.000,E007.49.48.000") or as an ISO 6709 Annex H string.
func ParseLatLong(llstr string) (Point2LL, error) {
	llstr = strings.TrimSpace(llstr)

	var p Point2LL
	if strs := reLatLongFloat.FindStringSubmatch(llstr); len(strs) == 3 {
		lat, err := strconv.ParseFloat(strs[1], 64)
		if err != nil {
			return Point2LL{}, err
		}
		lon, err := strconv.ParseFloat(strs[2], 64)
		if err != nil {
			return Point2LL{}, err
		}
		p = Point2LL{lon, lat}
	} else if strs := reLatLongDotted.FindStringSubmatch(llstr); len(strs) == 11 {
		parse := func(deg, min, sec, frac string) float64 {
			d, _ := strconv.Atoi(deg)
			m, _ := strconv.Atoi(min)
			s, _ := strconv.Atoi(sec)
			f, _ := strconv.Atoi(frac)
			return float64(d) + float64(m)/60 + float64(s)/3600 + float64(f)/3600000
		}
		p[1] = parse(strs[2], strs[3], strs[4], strs[5])
		if strs[1] == "S" {
			p[1] = -p[1]
		}
		p[0] = parse(strs[7], strs[8], strs[9], strs[10])
		if strs[6] == "W" {
			p[0] = -p[0]
		}
	} else if strs := reISO6709H.FindStringSubmatch(llstr); len(strs) == 9 {
		parse := func(deg, min, sec, frac string) (float64, error) {
			d, err := strconv.Atoi(deg)
			if err != nil {
				return 0, err
			}
			m, err := strconv.Atoi(min)
			if err != nil {
				return 0, err
			}
			s, err := strconv.Atoi(sec)
			if err != nil {
				return 0, err
			}
			f, err := strconv.Atoi(frac)
			if err != nil {
				return 0, err
			}
			// The sign comes from the text; d is 0 for "-00".
			sgn := 1.
			if deg[0] == '-' {
				sgn = -1
			}
			d = Abs(d)
			return sgn * (float64(d) + float64(m)/60 + float64(s)/3600 + float64(f)/3600000), nil
		}

		var err error
		if p[1], err = parse(strs[1], strs[2], strs[3], strs[4]); err != nil {
			return Point2LL{}, err
		}
		if p[0], err = parse(strs[5], strs[6], strs[7], strs[8]); err != nil {
			return Point2LL{}, err
		}
	} else {
		return Point2LL{}, fmt.Errorf("%s: invalid latlong string", llstr)
	}

	if !p.IsValid() {
		return Point2LL{}, fmt.Errorf("%s: latitude or longitude out of range", llstr)
	}
	return p, nil
}

// DistanceMeters returns the great-circle distance in metres between two
// provided lat-long coordinates. The result is NaN if either is invalid.
func DistanceMeters(a Point2LL, b Point2LL) float64 {
	if !a.IsValid() || !b.IsValid() {
		return gomath.NaN()
	}

	// https://www.movable-type.co.uk/scripts/latlong.html
	lat1, lon1 := Radians(a[1]), Radians(a[0])
	lat2, lon2 := Radians(b[1]), Radians(b[0])
	dlat, dlon := lat2-lat1, lon2-lon1

	x := Sqr(gomath.Sin(dlat/2)) + gomath.Cos(lat1)*gomath.Cos(lat2)*Sqr(gomath.Sin(dlon/2))
	c := 2 * gomath.Atan2(gomath.Sqrt(x), gomath.Sqrt(1-x))
	return EarthRadius * c
}

// NMDistance2LL returns the distance in nautical miles between two
// provided lat-long coordinates.
func NMDistance2LL(a Point2LL, b Point2LL) float64 {
	return DistanceMeters(a, b) / MetersPerNauticalMile
}

// Destination returns the point reached by travelling dist metres from
// p along the great circle with the given initial bearing (degrees).
func Destination(p Point2LL, bearing float64, dist float64) Point2LL {
	if !p.IsValid() {
		return InvalidPoint2LL
	}

	lat1, lon1 := Radians(p[1]), Radians(p[0])
	brg := Radians(bearing)
	d := dist / EarthRadius

	lat2 := SafeASin(gomath.Sin(lat1)*gomath.Cos(d) + gomath.Cos(lat1)*gomath.Sin(d)*gomath.Cos(brg))
	lon2 := lon1 + gomath.Atan2(gomath.Sin(brg)*gomath.Sin(d)*gomath.Cos(lat1),
		gomath.Cos(d)-gomath.Sin(lat1)*gomath.Sin(lat2))

	lon := Degrees(lon2)
	// Normalize to [-180,180]
	lon = gomath.Mod(lon+540, 360) - 180
	return Point2LL{lon, Degrees(lat2)}
}

///////////////////////////////////////////////////////////////////////////
// Extent2D

// Extent2D represents a lat-long bounding box with the two vertices at
// its opposite minimum and maximum corners.
type Extent2D struct {
	P0, P1 Point2LL
}

// EmptyExtent2D returns an Extent2D representing an empty bounding box.
func EmptyExtent2D() Extent2D {
	// Degenerate bounds
	return Extent2D{P0: Point2LL{1e30, 1e30}, P1: Point2LL{-1e30, -1e30}}
}

// Extent2DFromP2LLs returns an Extent2D that bounds all of the provided
// points.
func Extent2DFromP2LLs(pts []Point2LL) Extent2D {
	e := EmptyExtent2D()
	for _, p := range pts {
		e = Union(e, p)
	}
	return e
}

func (e Extent2D) IsEmpty() bool {
	return e.P0[0] > e.P1[0] || e.P0[1] > e.P1[1]
}

func (e Extent2D) Inside(p Point2LL) bool {
	return p[0] >= e.P0[0] && p[0] <= e.P1[0] && p[1] >= e.P0[1] && p[1] <= e.P1[1]
}

func Union(e Extent2D, p Point2LL) Extent2D {
	e.P0[0] = min(e.P0[0], p[0])
	e.P0[1] = min(e.P0[1], p[1])
	e.P1[0] = max(e.P1[0], p[0])
	e.P1[1] = max(e.P1[1], p[1])
	return e
}
