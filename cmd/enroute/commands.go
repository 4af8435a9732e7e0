// cmd/enroute/commands.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mmp/enroute/download"
	"github.com/mmp/enroute/geomaps"
	"github.com/mmp/enroute/math"
	"github.com/mmp/enroute/units"
	"github.com/mmp/enroute/util"
)

type command struct {
	name, args, help string
	minArgs, maxArgs int // maxArgs < 0: unlimited
	// network commands run with the -timeout limit.
	network bool
	run     func(a *app, ctx context.Context, args []string) error
}

var commands []command

func init() {
	// Assigned here since the help command refers to the table.
	commands = []command{
		{name: "show", help: "show the flight route", run: (*app).show},
		{name: "add", args: "ICAO|name|lat,lon", help: "append a waypoint", minArgs: 1, maxArgs: -1, network: true, run: (*app).add},
		{name: "remove", args: "N", help: "remove the N-th waypoint", minArgs: 1, maxArgs: 1, run: (*app).remove},
		{name: "up", args: "N", help: "move the N-th waypoint up", minArgs: 1, maxArgs: 1, run: (*app).moveUp},
		{name: "down", args: "N", help: "move the N-th waypoint down", minArgs: 1, maxArgs: 1, run: (*app).moveDown},
		{name: "rename", args: "N name", help: "rename the N-th waypoint", minArgs: 2, maxArgs: -1, run: (*app).rename},
		{name: "relocate", args: "N lat,lon", help: "move the N-th waypoint", minArgs: 2, maxArgs: 2, run: (*app).relocate},
		{name: "reverse", help: "reverse the flight route", run: (*app).reverse},
		{name: "clear", help: "remove all waypoints", run: (*app).clear},
		{name: "import", args: "file", help: "read the flight route from a GPX or GeoJSON file", minArgs: 1, maxArgs: 1, network: true, run: (*app).importRoute},
		{name: "export", args: "file", help: "write the flight route as GPX (.gpx) or GeoJSON", minArgs: 1, maxArgs: 1, run: (*app).exportRoute},
		{name: "search", args: "text", help: "search airfields, navaids and reporting points", minArgs: 1, maxArgs: -1, network: true, run: (*app).search},
		{name: "aircraft", args: "[key=value ...]", help: "show or set cruise, descent, minspeed (kt), fuel (l/h), unit, name", maxArgs: -1, run: (*app).setAircraft},
		{name: "wind", args: "[DIR/KT]", help: "show or set the wind", maxArgs: 1, run: (*app).setWind},
		{name: "maps", help: "list the available maps", network: true, run: (*app).listMaps},
		{name: "update", help: "update the list of maps and check for newer maps", network: true, run: (*app).update},
		{name: "download", args: "map ...|updates", help: "download maps", minArgs: 1, maxArgs: -1, network: true, run: (*app).download},
		{name: "delete", args: "map ...", help: "delete installed maps", minArgs: 1, maxArgs: -1, run: (*app).deleteMaps},
		{name: "watch", help: "keep the maps index current until interrupted", run: (*app).watch},
		{name: "help", help: "show this message", run: func(*app, context.Context, []string) error { usage(); return nil }},
	}
}

func lookupCommand(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

///////////////////////////////////////////////////////////////////////////
// Argument parsing

// parseCoordinate parses "lat,lon" in decimal degrees.
func parseCoordinate(s string) (math.Point2LL, error) {
	latStr, lonStr, ok := strings.Cut(s, ",")
	if !ok {
		return math.Point2LL{}, fmt.Errorf("%s: expected lat,lon", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return math.Point2LL{}, fmt.Errorf("%s: invalid latitude", latStr)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
	if err != nil {
		return math.Point2LL{}, fmt.Errorf("%s: invalid longitude", lonStr)
	}
	p := math.Point2LL{lon, lat}
	if !p.IsValid() {
		return math.Point2LL{}, fmt.Errorf("%s: coordinate out of range", s)
	}
	return p, nil
}

// parseIndex converts a 1-based waypoint number to an index.
func parseIndex(s string, n int) (int, error) {
	i, err := strconv.Atoi(s)
	if err != nil || i < 1 || i > n {
		return 0, fmt.Errorf("%s: expected a waypoint number between 1 and %d", s, n)
	}
	return i - 1, nil
}

// parseWind parses "DIR/KT", e.g. "270/15".
func parseWind(s string) (dir, kt float64, err error) {
	dirStr, ktStr, ok := strings.Cut(s, "/")
	if !ok {
		return 0, 0, fmt.Errorf("%s: expected direction/speed, e.g. 270/15", s)
	}
	if dir, err = strconv.ParseFloat(dirStr, 64); err != nil {
		return 0, 0, fmt.Errorf("%s: invalid wind direction", dirStr)
	}
	if kt, err = strconv.ParseFloat(strings.TrimSuffix(ktStr, "kt"), 64); err != nil {
		return 0, 0, fmt.Errorf("%s: invalid wind speed", ktStr)
	}
	return dir, kt, nil
}

// findWaypoint looks up text in the library. An exact match of the ICAO
// code or the name wins; otherwise the match has to be unique.
func findWaypoint(lib *geomaps.WaypointLibrary, text string) (geomaps.Waypoint, error) {
	matches := lib.Filter(text)
	for _, wp := range matches {
		if strings.EqualFold(wp.ICAOCode(), text) {
			return wp, nil
		}
	}
	exact := util.FilterSlice(matches, func(wp geomaps.Waypoint) bool { return strings.EqualFold(wp.Name(), text) })
	if len(exact) == 1 {
		return exact[0], nil
	}

	switch len(matches) {
	case 0:
		return geomaps.InvalidWaypoint(), fmt.Errorf("%s: no such waypoint", text)
	case 1:
		return matches[0], nil
	default:
		names := util.MapSlice(matches[:min(len(matches), 5)], geomaps.Waypoint.ExtendedName)
		return geomaps.InvalidWaypoint(), fmt.Errorf("%s: ambiguous (%s%s)", text, strings.Join(names, ", "),
			util.Select(len(matches) > 5, ", ...", ""))
	}
}

///////////////////////////////////////////////////////////////////////////
// Flight route

func formatLocation(p math.Point2LL) string {
	ns, ew := util.Select(p[1] >= 0, "N", "S"), util.Select(p[0] >= 0, "E", "W")
	return fmt.Sprintf("%s%.4f %s%.4f", ns, math.Abs(p[1]), ew, math.Abs(p[0]))
}

func (a *app) show(ctx context.Context, args []string) error {
	wps := a.route.Waypoints()
	if len(wps) == 0 {
		fmt.Println("The flight route is empty.")
		return nil
	}

	unit := a.aircraft.Performance().DistanceUnit
	legs := a.route.Legs()
	for i, wp := range wps {
		fmt.Printf("%3d  %-40s %s\n", i+1, wp.ExtendedName(), formatLocation(wp.Location()))
		if i < len(legs) {
			fmt.Printf("       %s\n", legs[i].Description(unit))
		}
	}
	if summary := a.route.Summary(); summary != "" {
		fmt.Println()
		fmt.Println(summaryMarkup.Replace(summary))
	}
	return nil
}

// summaryMarkup turns the rich-text warning of route summaries into a
// line of its own.
var summaryMarkup = strings.NewReplacer("<p><font color='red'>", "\n", "</font></p>", "")

func (a *app) add(ctx context.Context, args []string) error {
	text := strings.Join(args, " ")

	var wp geomaps.Waypoint
	if p, err := parseCoordinate(text); err == nil {
		wp = geomaps.NewWaypoint(p, "")
	} else if strings.Contains(text, ",") {
		return err
	} else {
		if err := a.loadMaps(ctx); err != nil {
			return err
		}
		if wp, err = findWaypoint(a.library, text); err != nil {
			return err
		}
	}

	if !a.route.CanAppend(wp) {
		return fmt.Errorf("%s: waypoint is already the last one of the route", wp.ExtendedName())
	}
	a.route.Append(wp)
	return a.show(ctx, nil)
}

func (a *app) remove(ctx context.Context, args []string) error {
	idx, err := parseIndex(args[0], a.route.Size())
	if err != nil {
		return err
	}
	a.route.RemoveWaypoint(idx, a.route.Waypoints()[idx])
	return a.show(ctx, nil)
}

func (a *app) moveUp(ctx context.Context, args []string) error {
	idx, err := parseIndex(args[0], a.route.Size())
	if err != nil {
		return err
	}
	a.route.MoveUp(idx)
	return a.show(ctx, nil)
}

func (a *app) moveDown(ctx context.Context, args []string) error {
	idx, err := parseIndex(args[0], a.route.Size())
	if err != nil {
		return err
	}
	a.route.MoveDown(idx)
	return a.show(ctx, nil)
}

func (a *app) rename(ctx context.Context, args []string) error {
	idx, err := parseIndex(args[0], a.route.Size())
	if err != nil {
		return err
	}
	a.route.RenameWaypoint(idx, strings.Join(args[1:], " "))
	return a.show(ctx, nil)
}

func (a *app) relocate(ctx context.Context, args []string) error {
	idx, err := parseIndex(args[0], a.route.Size())
	if err != nil {
		return err
	}
	p, err := parseCoordinate(args[1])
	if err != nil {
		return err
	}
	a.route.RelocateWaypoint(idx, p)
	return a.show(ctx, nil)
}

func (a *app) reverse(ctx context.Context, args []string) error {
	a.route.Reverse()
	return a.show(ctx, nil)
}

func (a *app) clear(ctx context.Context, args []string) error {
	a.route.Clear()
	return nil
}

func (a *app) importRoute(ctx context.Context, args []string) error {
	// Without maps, points are imported as they are.
	if err := a.loadMaps(ctx); err != nil {
		a.lg.Warnf("importing without waypoint library: %v", err)
	}
	if err := a.route.Load(args[0], a.library); err != nil {
		return err
	}
	return a.show(ctx, nil)
}

func (a *app) exportRoute(ctx context.Context, args []string) error {
	fn := args[0]
	if !strings.EqualFold(filepath.Ext(fn), ".gpx") {
		return a.route.Save(fn)
	}
	if err := os.WriteFile(fn, a.route.ToGPX(), 0o644); err != nil {
		return fmt.Errorf("unable to write to file '%s': %w", fn, err)
	}
	return nil
}

///////////////////////////////////////////////////////////////////////////
// Waypoints

func (a *app) search(ctx context.Context, args []string) error {
	if err := a.loadMaps(ctx); err != nil {
		return err
	}
	if a.library.Len() == 0 {
		return errors.New("no aviation maps installed; use the download command to install some")
	}

	for i, wp := range a.library.Filter(strings.Join(args, " ")) {
		if i > 0 {
			fmt.Println()
		}
		fmt.Printf("%s  %s\n", wp.ExtendedName(), formatLocation(wp.Location()))
		for _, line := range wp.TabularDescription() {
			fmt.Printf("    %s\n", line)
		}
	}
	return nil
}

///////////////////////////////////////////////////////////////////////////
// Aircraft and wind

func (a *app) setAircraft(ctx context.Context, args []string) error {
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return fmt.Errorf("%s: expected key=value", arg)
		}

		if key == "name" {
			a.aircraft.SetName(value)
			continue
		}
		if key == "unit" {
			u, err := units.ParseDistanceUnit(value)
			if err != nil {
				return err
			}
			a.aircraft.SetDistanceUnit(u)
			continue
		}

		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%s: invalid number", value)
		}
		switch key {
		case "cruise":
			a.aircraft.SetCruiseSpeed(units.SpeedFromKnots(v))
		case "descent":
			a.aircraft.SetDescentSpeed(units.SpeedFromKnots(v))
		case "minspeed":
			a.aircraft.SetMinimumSpeed(units.SpeedFromKnots(v))
		case "fuel":
			a.aircraft.SetFuelConsumption(units.VolumeFlowFromLPH(v))
		default:
			return fmt.Errorf("%s: unknown aircraft parameter", key)
		}
	}

	p := a.aircraft.Performance()
	known := func(v float64, format string) string {
		return util.Select(math.IsFinite(v), fmt.Sprintf(format, v), "not specified")
	}
	fmt.Printf("Name:             %s\n", util.Select(p.Name != "", p.Name, "not specified"))
	fmt.Printf("Cruise speed:     %s\n", known(p.CruiseSpeed.ToKnots(), "%.0f kt"))
	fmt.Printf("Descent speed:    %s\n", known(p.DescentSpeed.ToKnots(), "%.0f kt"))
	fmt.Printf("Minimum speed:    %s\n", known(p.MinimumSpeed.ToKnots(), "%.0f kt"))
	fmt.Printf("Fuel consumption: %s\n", known(p.FuelConsumption.ToLPH(), "%.1f l/h"))
	fmt.Printf("Distance unit:    %s\n", p.DistanceUnit)
	return nil
}

func (a *app) setWind(ctx context.Context, args []string) error {
	if len(args) == 1 {
		dir, kt, err := parseWind(args[0])
		if err != nil {
			return err
		}
		a.wind.SetDirection(units.AngleFromDegrees(dir))
		a.wind.SetSpeed(units.SpeedFromKnots(kt))
	}
	fmt.Println(a.wind.Conditions())
	return nil
}

///////////////////////////////////////////////////////////////////////////
// Maps

func (a *app) listMaps(ctx context.Context, args []string) error {
	if err := a.loadMaps(ctx); err != nil {
		return err
	}

	var section string
	for i, d := range a.maps.GeoMaps.Downloadables() {
		if s := d.Section(); i == 0 || s != section {
			section = s
			fmt.Printf("\n%s\n", util.Select(s != "", s, "Maps"))
		}
		fmt.Printf("  %-32s %s\n", d.ObjectName(), d.InfoText())
	}
	if up := a.maps.GeoMaps.UpdateSize(); a.maps.GeoMaps.Updatable() {
		fmt.Printf("\nUpdates available: %s\n", up)
	}
	return nil
}

func (a *app) update(ctx context.Context, args []string) error {
	if err := a.maps.UpdateIndex(ctx); err != nil {
		return err
	}
	if err := a.maps.CheckRemoteInfo(ctx); err != nil {
		a.lg.Warnf("checking for map updates: %v", err)
	}

	n := len(util.FilterSlice(a.maps.GeoMaps.Downloadables(), (*download.Downloadable).Updatable))
	if n == 0 {
		fmt.Println("All installed maps are current.")
	} else {
		fmt.Printf("%d map(s) can be updated (%s).\n", n, a.maps.GeoMaps.UpdateSize())
	}
	return nil
}

// findMaps returns the maps named by args: either the map name or
// "section/name", ignoring case.
func (a *app) findMaps(args []string) ([]*download.Downloadable, error) {
	all := a.maps.GeoMaps.Downloadables()
	var result []*download.Downloadable
	for _, arg := range args {
		found := false
		for _, d := range all {
			if strings.EqualFold(d.ObjectName(), arg) || strings.EqualFold(d.Section()+"/"+d.ObjectName(), arg) {
				result = append(result, d)
				found = true
			}
		}
		if !found {
			return nil, fmt.Errorf("%s: no such map", arg)
		}
	}
	return result, nil
}

func (a *app) download(ctx context.Context, args []string) error {
	if err := a.loadMaps(ctx); err != nil {
		return err
	}

	var maps []*download.Downloadable
	if len(args) == 1 && args[0] == "updates" {
		maps = util.FilterSlice(a.maps.GeoMaps.Downloadables(), (*download.Downloadable).Updatable)
	} else {
		var err error
		if maps, err = a.findMaps(args); err != nil {
			return err
		}
	}

	var errs []error
	for _, d := range maps {
		if !d.HasValidURL() {
			errs = append(errs, fmt.Errorf("%s: map is no longer supported", d.ObjectName()))
			continue
		}

		start := time.Now()
		progress := d.DownloadProgressChanged.Connect(func(p int) {
			fmt.Printf("\r%-32s %3d%%", d.ObjectName(), p)
		})
		err := d.Download(ctx)
		d.DownloadProgressChanged.Disconnect(progress)

		if err != nil {
			fmt.Printf("\r%-32s failed\n", d.ObjectName())
			errs = append(errs, fmt.Errorf("%s: %w", d.ObjectName(), err))
		} else {
			fmt.Printf("\r%-32s done (%s)\n", d.ObjectName(), time.Since(start).Round(time.Second/10))
		}
		if ctx.Err() != nil {
			break
		}
	}
	return errors.Join(errs...)
}

func (a *app) deleteMaps(ctx context.Context, args []string) error {
	if !a.maps.Index().HasFile() {
		return errors.New("no maps installed")
	}
	a.maps.Start()
	maps, err := a.findMaps(args)
	if err != nil {
		return err
	}
	for _, d := range maps {
		if err := d.DeleteFile(); err != nil {
			return fmt.Errorf("%s: %w", d.ObjectName(), err)
		}
		fmt.Printf("%s deleted\n", d.ObjectName())
	}
	return nil
}

func (a *app) watch(ctx context.Context, args []string) error {
	a.maps.Start()
	if err := a.library.Rebuild(ctx); err != nil {
		return err
	}
	fmt.Printf("Watching maps index %s; last update %s\n", a.maps.IndexURL(),
		util.Select(a.maps.LastUpdate().IsZero(), "never", a.maps.LastUpdate().Local().Format(time.DateTime)))

	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			for _, e := range a.sub.Get() {
				fmt.Printf("%s  %s\n", time.Now().Format(time.TimeOnly), e)
			}
		}
	}
}
