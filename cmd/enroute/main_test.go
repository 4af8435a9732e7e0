// cmd/enroute/main_test.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/mmp/enroute/datamanager"
	"github.com/mmp/enroute/geomaps"
	"github.com/mmp/enroute/math"
	"github.com/mmp/enroute/units"
)

func TestParseCoordinate(t *testing.T) {
	for _, test := range []struct {
		s   string
		p   math.Point2LL
		err bool
	}{
		{s: "48.0225,7.8336", p: math.Point2LL{7.8336, 48.0225}},
		{s: " -33.9, 151.2 ", p: math.Point2LL{151.2, -33.9}},
		{s: "48.0", err: true},
		{s: "north,7", err: true},
		{s: "95,7", err: true},
		{s: "48,200", err: true},
	} {
		p, err := parseCoordinate(test.s)
		if (err != nil) != test.err {
			t.Errorf("%q: error %v", test.s, err)
		} else if !test.err && p != test.p {
			t.Errorf("%q: got %v, expected %v", test.s, p, test.p)
		}
	}
}

func TestParseIndexAndWind(t *testing.T) {
	if i, err := parseIndex("3", 3); err != nil || i != 2 {
		t.Errorf("parseIndex(3) = %d, %v", i, err)
	}
	for _, s := range []string{"0", "4", "x"} {
		if _, err := parseIndex(s, 3); err == nil {
			t.Errorf("parseIndex(%q) accepted", s)
		}
	}

	if dir, kt, err := parseWind("270/15kt"); err != nil || dir != 270 || kt != 15 {
		t.Errorf("parseWind = %f, %f, %v", dir, kt, err)
	}
	for _, s := range []string{"270", "x/15", "270/y"} {
		if _, _, err := parseWind(s); err == nil {
			t.Errorf("parseWind(%q) accepted", s)
		}
	}
}

func TestFindWaypoint(t *testing.T) {
	lib := geomaps.NewWaypointLibrary(nil, nil, nil)
	lib.SetWaypoints([]geomaps.Waypoint{
		geomaps.NewWaypointWithProperties(math.Point2LL{7.8336, 48.0225}, map[string]any{
			"CAT": "AD", "TYP": "AD", "NAM": "Freiburg", "COD": "EDTF", "ELE": 234.0,
		}),
		geomaps.NewWaypointWithProperties(math.Point2LL{7.7036, 47.9103}, map[string]any{
			"CAT": "VOR-DME", "TYP": "NAV", "NAM": "Freiburg", "COD": "FRI",
			"NAV": "115.25", "MOR": "..-. .-. ..",
		}),
		geomaps.NewWaypointWithProperties(math.Point2LL{7.8278, 48.3694}, map[string]any{
			"CAT": "AD", "TYP": "AD", "NAM": "Lahr", "COD": "EDTL", "ELE": 155.0,
		}),
	})

	for _, test := range []struct {
		text, code string
		err        bool
	}{
		{text: "edtf", code: "EDTF"},
		{text: "FRI", code: "FRI"},
		{text: "lahr", code: "EDTL"},
		{text: "freiburg", err: true}, // airfield and VOR
		{text: "Basel", err: true},
	} {
		wp, err := findWaypoint(lib, test.text)
		if (err != nil) != test.err {
			t.Errorf("%q: error %v", test.text, err)
		} else if !test.err && wp.ICAOCode() != test.code {
			t.Errorf("%q: found %s, expected %s", test.text, wp.ICAOCode(), test.code)
		}
	}
}

func TestParseConfig(t *testing.T) {
	config, err := parseConfig([]byte(`{"Version": 1, "Aircraft": {"cruise_speed_kt": 95, "horizontal_distance_unit": "km"}}`), nil)
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	if config.Aircraft.CruiseSpeedKnots != 95 || config.Aircraft.HorizontalDistanceUnit != units.Kilometer {
		t.Errorf("aircraft %+v", config.Aircraft)
	}
	// Missing fields keep their defaults.
	if config.Aircraft.FuelConsumptionLPH != -1 || config.Wind.SpeedKnots != -1 ||
		config.MapsIndexURL != datamanager.DefaultIndexURL {
		t.Errorf("defaults lost: %+v", config)
	}

	var b bytes.Buffer
	if err := config.Encode(&b); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(b.String(), "\n    \"Aircraft\": {") {
		t.Errorf("unexpected encoding %s", b.String())
	}
	again, err := parseConfig(b.Bytes(), nil)
	if err != nil || *again != *config {
		t.Errorf("round trip gave %+v, %v", again, err)
	}

	for _, bad := range []string{`{"Version": 1,`, `{"Version": 99}`, `{"Aircraft": {"horizontal_distance_unit": "parsec"}}`} {
		if c, err := parseConfig([]byte(bad), nil); err == nil {
			t.Errorf("%s: accepted", bad)
		} else if *c != *getDefaultConfig() {
			t.Errorf("%s: got %+v instead of the default config", bad, c)
		}
	}
}

func TestSummaryMarkup(t *testing.T) {
	s := summaryMarkup.Replace("Total: 20.0 nm<p><font color='red'>Computation incomplete. Wind speed not specified.</font></p>")
	if s != "Total: 20.0 nm\nComputation incomplete. Wind speed not specified." {
		t.Errorf("got %q", s)
	}
}
