// SPDX-FileCopyrightText: The courier-guide authors
//
// SPDX-License-Identifier: MIT

package posbus

import (
	"math"
	"time"
)

// Source identifies which ranked provider produced a position sample.
type Source string

const (
	SourcePrimaryIndoor     Source = "indoor"
	SourceFallbackSatellite Source = "satellite"
)

// Sample is a single position fix. Samples are immutable values; a new sample
// logically supersedes the previous one, consumers keep only the latest.
type Sample struct {
	Lat            float64
	Lon            float64
	Alt            *float64
	FloorLevel     *int
	AccuracyMeters float64
	HeadingDegrees *float64
	CapturedAt     time.Time
	Source         Source
}

// Valid reports whether the sample carries a usable fix. Transient bad samples
// are expected from hardware, so invalid samples are dropped, never surfaced.
func (s Sample) Valid() bool {
	if !isFinite(s.Lat) || !isFinite(s.Lon) || !isFinite(s.AccuracyMeters) {
		return false
	}
	if s.Lat < -90 || s.Lat > 90 || s.Lon < -180 || s.Lon > 180 {
		return false
	}
	if s.AccuracyMeters <= 0 {
		return false
	}
	if s.Alt != nil && !isFinite(*s.Alt) {
		return false
	}
	return true
}

// Target is the static point a navigation session guides towards. It is
// supplied once per session and immutable for the session's lifetime.
type Target struct {
	Lat        float64
	Lon        float64
	Alt        *float64
	FloorLevel *int
}

// Valid reports whether the target holds usable coordinates.
func (t Target) Valid() bool {
	if !isFinite(t.Lat) || !isFinite(t.Lon) {
		return false
	}
	return t.Lat >= -90 && t.Lat <= 90 && t.Lon >= -180 && t.Lon <= 180
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Float is a convenience helper for building optional float fields.
func Float(f float64) *float64 { return &f }

// Int is a convenience helper for building optional integer fields.
func Int(i int) *int { return &i }
