// geomaps/waypoint.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package geomaps

import (
	"fmt"
	"log/slog"
	gomath "math"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/mmp/enroute/math"
	"github.com/mmp/enroute/units"

	"github.com/brunoga/deep"
)

// NearDistance is the distance in metres below which two waypoints are
// considered to be at the same place.
const NearDistance = 2000

var (
	airfieldCategories = []string{"AD", "AD-GRASS", "AD-PAVED", "AD-INOP", "AD-GLD", "AD-MIL",
		"AD-MIL-GRASS", "AD-MIL-PAVED", "AD-UL", "AD-WATER"}
	navaidCategories   = []string{"NDB", "VOR", "VOR-DME", "VORTAC", "DVOR", "DVOR-DME", "DVORTAC"}
	waypointCategories = []string{"MRP", "RP", "WP"}
)

// Waypoint is a navigational point: an airfield (TYP=AD), a navaid
// (TYP=NAV) or a reporting or generic point (TYP=WP). Besides its
// location, it carries an open property map with the keys used in the
// aviation map GeoJSON files (CAT, NAM, COD, TYP, ELE, ...). ELE holds the
// elevation in metres.
//
// Waypoint is a value type; the methods that return a modified waypoint
// leave the receiver untouched. Since the property map is shared between
// plain struct copies, use Copy when an independent copy is needed.
type Waypoint struct {
	location   math.Point2LL
	elevation  float64 // metres; NaN if unknown
	properties map[string]any
}

// NewWaypoint returns a generic waypoint at the given location; an empty
// name gives the default name "Waypoint".
func NewWaypoint(p math.Point2LL, name string) Waypoint {
	if name == "" {
		name = "Waypoint"
	}
	return Waypoint{
		location:   p,
		elevation:  gomath.NaN(),
		properties: map[string]any{"CAT": "WP", "NAM": name, "TYP": "WP"},
	}
}

// NewWaypointWithProperties returns a waypoint at the given location with
// a copy of the given properties. If ELE is present and numeric, it sets
// the elevation.
func NewWaypointWithProperties(p math.Point2LL, props map[string]any) Waypoint {
	w := Waypoint{
		location:   p,
		elevation:  gomath.NaN(),
		properties: deep.MustCopy(props),
	}
	if w.properties == nil {
		w.properties = make(map[string]any)
	}
	if ele, ok := numericProperty(w.properties, "ELE"); ok {
		w.elevation = ele
	}
	return w
}

// InvalidWaypoint returns a waypoint without location or properties.
func InvalidWaypoint() Waypoint {
	return Waypoint{location: math.InvalidPoint2LL, elevation: gomath.NaN()}
}

func (w Waypoint) Location() math.Point2LL { return w.location }

// Elevation returns the elevation and whether it is known.
func (w Waypoint) Elevation() (units.Distance, bool) {
	if gomath.IsNaN(w.elevation) {
		return units.Distance(gomath.NaN()), false
	}
	return units.DistanceFromMeters(w.elevation), true
}

// WithElevation returns a copy of the waypoint with the given elevation
// in metres; the ELE property is left untouched.
func (w Waypoint) WithElevation(m float64) Waypoint {
	c := w.Copy()
	c.elevation = m
	return c
}

// Property returns the value of the given property, if present.
func (w Waypoint) Property(key string) (any, bool) {
	v, ok := w.properties[key]
	return v, ok
}

// Properties returns a copy of the property map.
func (w Waypoint) Properties() map[string]any {
	return deep.MustCopy(w.properties)
}

func (w Waypoint) stringProperty(key string) string {
	switch v := w.properties[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func (w Waypoint) Category() string { return w.stringProperty("CAT") }
func (w Waypoint) Name() string { return w.stringProperty("NAM") }
func (w Waypoint) Type() string { return w.stringProperty("TYP") }
func (w Waypoint) ICAOCode() string { return w.stringProperty("COD") }

// ExtendedName returns "NAM (CAT)" for navaids, e.g. "Freiburg (VOR-DME)",
// and the plain name otherwise.
func (w Waypoint) ExtendedName() string {
	if w.Type() == "NAV" {
		return fmt.Sprintf("%s (%s)", w.Name(), w.Category())
	}
	return w.Name()
}

// IsValid reports whether the waypoint has a valid location and the
// properties required for its type.
func (w Waypoint) IsValid() bool {
	if !w.location.IsValid() {
		return false
	}

	has := func(keys ...string) bool {
		for _, k := range keys {
			if _, ok := w.properties[k]; !ok {
				return false
			}
		}
		return true
	}

	cat := w.Category()
	switch w.Type() {
	case "AD":
		if !slices.Contains(airfieldCategories, cat) {
			return false
		}
		if _, ok := numericProperty(w.properties, "ELE"); !ok {
			return false
		}
		return has("NAM")

	case "NAV":
		return slices.Contains(navaidCategories, cat) && has("COD", "NAM", "NAV", "MOR")

	case "WP":
		if !slices.Contains(waypointCategories, cat) || !has("NAM") {
			return false
		}
		if cat == "MRP" || cat == "RP" {
			return has("COD", "SCO")
		}
		return true

	default:
		return false
	}
}

// IsNear returns true if both waypoints are valid and closer than
// NearDistance.
func (w Waypoint) IsNear(other Waypoint) bool {
	if !w.IsValid() || !other.IsValid() {
		return false
	}
	return math.DistanceMeters(w.location, other.location) < NearDistance
}

// DistanceTo returns the great-circle distance to other.
func (w Waypoint) DistanceTo(other Waypoint) units.Distance {
	return units.DistanceFromMeters(math.DistanceMeters(w.location, other.location))
}

// Copy returns a waypoint that shares no state with w.
func (w Waypoint) Copy() Waypoint {
	return Waypoint{
		location:   w.location,
		elevation:  w.elevation,
		properties: deep.MustCopy(w.properties),
	}
}

// Renamed returns a copy of the waypoint with NAM replaced.
func (w Waypoint) Renamed(name string) Waypoint {
	c := w.Copy()
	if c.properties == nil {
		c.properties = make(map[string]any)
	}
	c.properties["NAM"] = name
	return c
}

// Relocated returns a copy of the waypoint at a new location.
func (w Waypoint) Relocated(p math.Point2LL) Waypoint {
	c := w.Copy()
	c.location = p
	return c
}

// Equal compares location, elevation and all properties. Numeric property
// values compare by value regardless of their Go type, so that waypoints
// survive a trip through JSON.
func (w Waypoint) Equal(other Waypoint) bool {
	sameFloat := func(a, b float64) bool {
		return a == b || (gomath.IsNaN(a) && gomath.IsNaN(b))
	}
	if !sameFloat(w.location[0], other.location[0]) || !sameFloat(w.location[1], other.location[1]) ||
		!sameFloat(w.elevation, other.elevation) {
		return false
	}

	if len(w.properties) != len(other.properties) {
		return false
	}
	for k, v := range w.properties {
		ov, ok := other.properties[k]
		if !ok || !reflect.DeepEqual(normalizeValue(v), normalizeValue(ov)) {
			return false
		}
	}
	return true
}

// TabularDescription returns short "KEY value" lines that summarize the
// waypoint, e.g. "ID  EDTF" and "ELEV 797 ft AMSL".
func (w Waypoint) TabularDescription() []string {
	var result []string

	elev := func() string {
		ele, _ := numericProperty(w.properties, "ELE")
		return fmt.Sprintf("ELEV %d ft AMSL", int(gomath.Round(units.DistanceFromMeters(ele).ToFeet())))
	}
	multiline := func(key string) {
		if _, ok := w.properties[key]; ok {
			result = append(result, fmt.Sprintf("%-3s %s", key,
				strings.ReplaceAll(w.stringProperty(key), "\n", "; ")))
		}
	}

	switch w.Type() {
	case "NAV":
		result = append(result, "ID  "+w.ICAOCode()+" "+w.stringProperty("MOR"))
		result = append(result, "NAV "+w.stringProperty("NAV"))
		if _, ok := w.properties["ELE"]; ok {
			result = append(result, elev())
		}

	case "AD":
		if _, ok := w.properties["COD"]; ok {
			result = append(result, "ID  "+w.ICAOCode())
		}
		for _, key := range []string{"INF", "COM", "NAV", "OTH", "RWY"} {
			multiline(key)
		}
		result = append(result, elev())

	case "WP":
		if _, ok := w.properties["COD"]; ok {
			result = append(result, "ID  "+w.ICAOCode())
		}
		multiline("COM")
	}

	return result
}

func (w Waypoint) String() string {
	if !w.location.IsValid() {
		return w.ExtendedName() + " (no location)"
	}
	return fmt.Sprintf("%s %s", w.ExtendedName(), w.location.DDString())
}

func (w Waypoint) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("name", w.ExtendedName()),
		slog.String("type", w.Type()),
		slog.Float64("latitude", w.location[1]),
		slog.Float64("longitude", w.location[0]))
}

// numericProperty returns the value of a property that holds a number,
// either as a JSON number or as a numeric string.
func numericProperty(props map[string]any, key string) (float64, bool) {
	switch v := props[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func normalizeValue(v any) any {
	switch v := v.(type) {
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case float32:
		return float64(v)
	case []any:
		n := make([]any, len(v))
		for i := range v {
			n[i] = normalizeValue(v[i])
		}
		return n
	case map[string]any:
		n := make(map[string]any, len(v))
		for k, e := range v {
			n[k] = normalizeValue(e)
		}
		return n
	default:
		return v
	}
}
