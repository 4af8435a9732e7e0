// navigation/wind.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package navigation

import (
	"fmt"
	"log/slog"
	gomath "math"
	"sync"

	"github.com/mmp/enroute/units"
	"github.com/mmp/enroute/util"
)

const (
	MinWindSpeedKnots = 0
	MaxWindSpeedKnots = 100
)

// WindConditions is a snapshot of the wind used for the wind triangle.
// Direction is the direction the wind blows from, relative to true north.
type WindConditions struct {
	Speed     units.Speed
	Direction units.Angle
}

func UnknownWind() WindConditions {
	return WindConditions{Speed: units.Speed(gomath.NaN()), Direction: units.Angle(gomath.NaN())}
}

func (w WindConditions) String() string {
	if !w.Speed.IsFinite() || !w.Direction.IsFinite() {
		return "wind unknown"
	}
	return fmt.Sprintf("%03.0f°/%.0f kt", w.Direction.NormalizedDegrees(), w.Speed.ToKnots())
}

// WindSettings is the persisted form of the wind; a negative speed means
// unknown.
type WindSettings struct {
	SpeedKnots       float64 `json:"speed_kt"`
	DirectionDegrees float64 `json:"direction_deg"`
}

// Wind holds the current wind. Changed is notified after speed or
// direction changes.
type Wind struct {
	mu sync.Mutex
	w  WindConditions

	Changed util.Notifier
}

func NewWind(s WindSettings) *Wind {
	return &Wind{w: WindConditions{
		Speed:     checkedWindSpeed(units.SpeedFromKnots(s.SpeedKnots)),
		Direction: units.AngleFromDegrees(s.DirectionDegrees),
	}}
}

func checkedWindSpeed(s units.Speed) units.Speed {
	if kt := s.ToKnots(); !(kt >= MinWindSpeedKnots && kt <= MaxWindSpeedKnots) {
		return units.Speed(gomath.NaN())
	}
	return s
}

func (w *Wind) Conditions() WindConditions {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w
}

func (w *Wind) Settings() WindSettings {
	c := w.Conditions()
	s := WindSettings{SpeedKnots: -1, DirectionDegrees: 0}
	if c.Speed.IsFinite() {
		s.SpeedKnots = c.Speed.ToKnots()
	}
	if c.Direction.IsFinite() {
		s.DirectionDegrees = c.Direction.ToDegrees()
	}
	return s
}

// SetSpeed sets the wind speed; speeds outside the plausible range make
// it unknown.
func (w *Wind) SetSpeed(s units.Speed) {
	s = checkedWindSpeed(s)

	w.mu.Lock()
	changed := !sameFloat(float64(w.w.Speed), float64(s))
	w.w.Speed = s
	w.mu.Unlock()

	if changed {
		w.Changed.Notify()
	}
}

func (w *Wind) SetDirection(a units.Angle) {
	w.mu.Lock()
	changed := !sameFloat(float64(w.w.Direction), float64(a))
	w.w.Direction = a
	w.mu.Unlock()

	if changed {
		w.Changed.Notify()
	}
}

func (w *Wind) LogValue() slog.Value {
	c := w.Conditions()
	return slog.GroupValue(
		slog.Float64("speed_kt", c.Speed.ToKnots()),
		slog.Float64("direction_deg", c.Direction.ToDegrees()))
}
