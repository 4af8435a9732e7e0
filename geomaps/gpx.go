// geomaps/gpx.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package geomaps

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	gomath "math"
	"strconv"
	"strings"

	"github.com/mmp/enroute/math"
)

var ErrNoGPXPoints = errors.New("no route points, track points or waypoints found")

// GPXPoints holds the points of a GPX document by element kind.
type GPXPoints struct {
	RoutePoints []Waypoint // rte/rtept
	TrackPoints []Waypoint // trk/trkseg/trkpt
	Waypoints   []Waypoint // wpt
}

// Preferred returns route points if there are any, else track points,
// else the loose waypoints.
func (g GPXPoints) Preferred() []Waypoint {
	if len(g.RoutePoints) > 0 {
		return g.RoutePoints
	}
	if len(g.TrackPoints) > 0 {
		return g.TrackPoints
	}
	return g.Waypoints
}

type gpxPoint struct {
	Lat  string `xml:"lat,attr"`
	Lon  string `xml:"lon,attr"`
	Ele  string `xml:"ele"`
	Name string `xml:"name"`
	Desc string `xml:"desc"`
	Cmt  string `xml:"cmt"`
}

func (pt gpxPoint) waypoint() (Waypoint, error) {
	lat, err := strconv.ParseFloat(strings.TrimSpace(pt.Lat), 64)
	if err != nil {
		return InvalidWaypoint(), fmt.Errorf("lat: %w", err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(pt.Lon), 64)
	if err != nil {
		return InvalidWaypoint(), fmt.Errorf("lon: %w", err)
	}
	p := math.Point2LL{lon, lat}
	if !p.IsValid() {
		return InvalidWaypoint(), fmt.Errorf("%s,%s: location out of range", pt.Lat, pt.Lon)
	}

	name := pt.Name
	if name == "" {
		name = pt.Desc
	}
	if name == "" {
		name = pt.Cmt
	}

	w := NewWaypoint(p, name)
	if ele := strings.TrimSpace(pt.Ele); ele != "" {
		e, err := strconv.ParseFloat(ele, 64)
		if err != nil {
			return InvalidWaypoint(), fmt.Errorf("ele: %w", err)
		}
		w.elevation = e
	}
	return w, nil
}

// ReadGPX collects the rtept, trkpt and wpt elements of a GPX document.
// A single malformed point fails the whole document.
func ReadGPX(r io.Reader) (GPXPoints, error) {
	var result GPXPoints
	d := xml.NewDecoder(r)
	for {
		tok, err := d.Token()
		if err == io.EOF {
			break
		} else if err != nil {
			return GPXPoints{}, err
		}

		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		var list *[]Waypoint
		switch se.Name.Local {
		case "rtept":
			list = &result.RoutePoints
		case "trkpt":
			list = &result.TrackPoints
		case "wpt":
			list = &result.Waypoints
		default:
			continue
		}

		var pt gpxPoint
		if err := d.DecodeElement(&pt, &se); err != nil {
			return GPXPoints{}, err
		}
		w, err := pt.waypoint()
		if err != nil {
			return GPXPoints{}, fmt.Errorf("%s: %w", se.Name.Local, err)
		}
		*list = append(*list, w)
	}

	if len(result.RoutePoints)+len(result.TrackPoints)+len(result.Waypoints) == 0 {
		return GPXPoints{}, ErrNoGPXPoints
	}
	return result, nil
}

// WriteGPX writes the waypoint as a GPX element with the given tag (wpt,
// rtept, ...), each line prefixed with indent. Invalid waypoints are
// skipped. Unless full is set, only the extended name is written;
// otherwise name is the ICAO code (when there is one) and the extended
// name goes to cmt and desc.
func (w Waypoint) WriteGPX(wr io.Writer, indent, tag string, full bool) error {
	if !w.IsValid() {
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s<%s lat='%.8f' lon='%.8f'>\n", indent, tag, w.location[1], w.location[0])
	if !gomath.IsNaN(w.elevation) {
		fmt.Fprintf(&b, "%s  <ele>%.2f</ele>\n", indent, w.elevation)
	}

	text := func(elt, s string) {
		b.WriteString(indent + "  <" + elt + ">")
		_ = xml.EscapeText(&b, []byte(s))
		b.WriteString("</" + elt + ">\n")
	}
	name := w.ExtendedName()
	if full {
		code := w.ICAOCode()
		if code == "" {
			code = name
		}
		text("name", code)
		text("cmt", name)
		text("desc", name)
	} else {
		text("name", name)
	}
	fmt.Fprintf(&b, "%s</%s>\n", indent, tag)

	_, err := io.WriteString(wr, b.String())
	return err
}
