// SPDX-FileCopyrightText: The courier-guide authors
//
// SPDX-License-Identifier: MIT

// Package navvec computes the navigation vector between a position sample and
// a target point. All functions are pure and deterministic.
package navvec

import (
	"math"

	"github.com/venueops/courier-guide/internal/posbus"
)

// EarthRadius is the mean earth radius in meters.
const EarthRadius = 6371000.0

// DefaultFloorHeightMeters is the assumed height of one building floor when no
// altitude data is available. Building-specific, not physically measured.
const DefaultFloorHeightMeters = 4.0

// Vector describes the direct path from a position sample to a target.
type Vector struct {
	HorizontalDistanceMeters float64
	// Compass bearing to the target, normalized to [0, 360), 0 = North
	BearingDegrees      float64
	VerticalDeltaMeters float64
	FloorDelta          *int
	// Accuracy of the originating sample, carried along for plausibility checks
	AccuracyMeters float64
}

// Compute derives the navigation vector from the current sample to the
// target. It performs no I/O and never fails for finite numeric input; a
// zero-distance pair yields a bearing of 0.
func Compute(sample posbus.Sample, target posbus.Target, floorHeightMeters float64) Vector {
	if floorHeightMeters <= 0 {
		floorHeightMeters = DefaultFloorHeightMeters
	}

	v := Vector{
		HorizontalDistanceMeters: haversineMeters(sample.Lat, sample.Lon, target.Lat, target.Lon),
		BearingDegrees:           bearingDegrees(sample.Lat, sample.Lon, target.Lat, target.Lon),
		AccuracyMeters:           sample.AccuracyMeters,
	}

	if sample.FloorLevel != nil && target.FloorLevel != nil {
		delta := *target.FloorLevel - *sample.FloorLevel
		v.FloorDelta = &delta
	}

	switch {
	case sample.Alt != nil && target.Alt != nil:
		v.VerticalDeltaMeters = *target.Alt - *sample.Alt
	case v.FloorDelta != nil:
		v.VerticalDeltaMeters = float64(*v.FloorDelta) * floorHeightMeters
	}

	return v
}

// haversineMeters calculates the great-circle distance between two points on
// the earth sphere. Accurate to centimeters at ranges under 1 km.
func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := radians(lat2 - lat1)
	dLon := radians(lon2 - lon1)
	rLat1 := radians(lat1)
	rLat2 := radians(lat2)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadius * math.Asin(math.Sqrt(h))
}

// bearingDegrees calculates the forward azimuth from the first point to the
// second, normalized to [0, 360).
func bearingDegrees(lat1, lon1, lat2, lon2 float64) float64 {
	dLon := radians(lon2 - lon1)
	rLat1 := radians(lat1)
	rLat2 := radians(lat2)

	y := math.Sin(dLon) * math.Cos(rLat2)
	x := math.Cos(rLat1)*math.Sin(rLat2) - math.Sin(rLat1)*math.Cos(rLat2)*math.Cos(dLon)
	return normalizeDegrees(degrees(math.Atan2(y, x)))
}

// normalizeDegrees maps any angle into [0, 360).
func normalizeDegrees(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

func degrees(rad float64) float64 { return rad * 180 / math.Pi }
