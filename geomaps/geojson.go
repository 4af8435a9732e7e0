// geomaps/geojson.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package geomaps

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mmp/enroute/math"
)

var ErrInvalidFeature = errors.New("invalid GeoJSON feature")

type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

type Feature struct {
	Type       string         `json:"type"`
	Geometry   *Geometry      `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

type Geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// point returns the coordinate of a Point geometry; anything but a
// two-element [lon, lat] array is rejected.
func (g *Geometry) point() (math.Point2LL, error) {
	if g == nil {
		return math.InvalidPoint2LL, fmt.Errorf("%w: no geometry", ErrInvalidFeature)
	}
	if g.Type != "Point" {
		return math.InvalidPoint2LL, fmt.Errorf("%w: geometry type %q is not \"Point\"", ErrInvalidFeature, g.Type)
	}

	var coords []float64
	if err := json.Unmarshal(g.Coordinates, &coords); err != nil {
		return math.InvalidPoint2LL, fmt.Errorf("%w: coordinates: %v", ErrInvalidFeature, err)
	}
	if len(coords) != 2 {
		return math.InvalidPoint2LL, fmt.Errorf("%w: expected 2 coordinates, got %d", ErrInvalidFeature, len(coords))
	}
	return math.Point2LL{coords[0], coords[1]}, nil
}

// WaypointFromFeature converts a GeoJSON point feature to a Waypoint. The
// properties are taken verbatim; if TYP is missing, the feature comes from
// a foreign file and is turned into a generic waypoint that keeps its
// name. On error, the returned waypoint is invalid.
func WaypointFromFeature(f Feature) (Waypoint, error) {
	if f.Type != "Feature" {
		return InvalidWaypoint(), fmt.Errorf("%w: type %q is not \"Feature\"", ErrInvalidFeature, f.Type)
	}
	if f.Properties == nil {
		return InvalidWaypoint(), fmt.Errorf("%w: no properties", ErrInvalidFeature)
	}
	p, err := f.Geometry.point()
	if err != nil {
		return InvalidWaypoint(), err
	}

	w := NewWaypointWithProperties(p, f.Properties)
	if _, ok := w.properties["TYP"]; !ok {
		name := w.stringProperty("NAM")
		if name == "" {
			name = w.stringProperty("name")
		}
		if name == "" {
			name = "Waypoint"
		}
		w.properties["TYP"] = "WP"
		w.properties["CAT"] = "WP"
		w.properties["NAM"] = name
	}
	return w, nil
}

// WaypointFromJSON parses a single GeoJSON feature object.
func WaypointFromJSON(b []byte) (Waypoint, error) {
	var f Feature
	if err := json.Unmarshal(b, &f); err != nil {
		return InvalidWaypoint(), fmt.Errorf("%w: %v", ErrInvalidFeature, err)
	}
	return WaypointFromFeature(f)
}

// ToFeature returns the waypoint as a GeoJSON point feature with a copy
// of its properties. GeoJSON has no elevation field of its own, so only
// an ELE property carries elevation.
func (w Waypoint) ToFeature() Feature {
	props := w.Properties()
	if props == nil {
		props = make(map[string]any)
	}

	coords, _ := json.Marshal([2]float64{w.location[0], w.location[1]})
	return Feature{
		Type:       "Feature",
		Geometry:   &Geometry{Type: "Point", Coordinates: coords},
		Properties: props,
	}
}

func (w Waypoint) ToJSON() ([]byte, error) {
	if !w.location.IsValid() {
		return nil, fmt.Errorf("%w: waypoint has no valid location", ErrInvalidFeature)
	}
	return json.Marshal(w.ToFeature())
}

// ParseFeatureCollection parses a GeoJSON FeatureCollection of point
// features. It is all or nothing: the first malformed feature fails the
// whole collection.
func ParseFeatureCollection(b []byte) ([]Waypoint, error) {
	var fc FeatureCollection
	if err := json.Unmarshal(b, &fc); err != nil {
		return nil, err
	}
	if fc.Type != "FeatureCollection" {
		return nil, fmt.Errorf("%w: type %q is not \"FeatureCollection\"", ErrInvalidFeature, fc.Type)
	}

	wps := make([]Waypoint, 0, len(fc.Features))
	for i, f := range fc.Features {
		w, err := WaypointFromFeature(f)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}
		wps = append(wps, w)
	}
	return wps, nil
}

// MarshalFeatureCollection returns the waypoints as an indented GeoJSON
// FeatureCollection.
func MarshalFeatureCollection(wps []Waypoint) ([]byte, error) {
	fc := FeatureCollection{Type: "FeatureCollection", Features: make([]Feature, 0, len(wps))}
	for _, w := range wps {
		fc.Features = append(fc.Features, w.ToFeature())
	}
	return json.MarshalIndent(fc, "", "    ")
}
