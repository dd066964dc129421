// SPDX-FileCopyrightText: The courier-guide authors
//
// SPDX-License-Identifier: MIT

// Package indicator maps a navigation vector and the device's own heading
// onto the presentation transform of the directional indicator. All functions
// are pure and safe to call on every incoming vector.
package indicator

import (
	"math"

	"github.com/venueops/courier-guide/internal/arrival"
	"github.com/venueops/courier-guide/internal/navvec"
)

const (
	// DefaultMinScale and DefaultMaxScale bound the depth-cue scaling.
	DefaultMinScale = 0.3
	DefaultMaxScale = 1.5

	// MaxTiltDegrees caps the vertical tilt of the indicator.
	MaxTiltDegrees = 45.0

	// Rotation offsets within this margin count as facing the target.
	alignedMarginDegrees = 15.0

	// Distance guard against division blow-up in the tilt calculation.
	epsilonMeters = 0.01

	// Distance at which the scale curve reaches half of its range.
	scaleHalfDistanceMeters = 10.0
)

// Color selects the indicator's color class.
type Color string

const (
	ColorDefault             Color = "default"
	ColorAlignedOnFloor      Color = "aligned"
	ColorFloorChangeRequired Color = "floor-change"
	ColorArrived             Color = "arrived"
)

// Transform is the presentation transform consumed by the rendering layer.
// It is a pure derived value, recomputed per update and never persisted.
type Transform struct {
	// Turn this many degrees from the current facing, normalized to (-180, 180]
	RotationDegrees float64
	// Tilt up (positive) or down (negative), clamped to ±45
	VerticalTiltDegrees float64
	ScaleFactor         float64
	Color               Color
}

// Options bound the scale factor.
type Options struct {
	MinScale float64
	MaxScale float64
}

// Compute derives the indicator transform for the given vector, device
// heading and arrival state.
func Compute(v navvec.Vector, deviceHeadingDegrees float64, state arrival.State, opts Options) Transform {
	if opts.MinScale <= 0 {
		opts.MinScale = DefaultMinScale
	}
	if opts.MaxScale < opts.MinScale {
		opts.MaxScale = DefaultMaxScale
	}

	rotation := relativeRotation(v.BearingDegrees, deviceHeadingDegrees)
	transform := Transform{
		RotationDegrees:     rotation,
		VerticalTiltDegrees: verticalTilt(v),
		ScaleFactor:         scaleForDistance(v.HorizontalDistanceMeters, opts),
		Color:               colorFor(v, rotation, state),
	}
	return transform
}

// relativeRotation normalizes "bearing minus heading" into (-180, 180],
// representing how far the courier has to turn from the current facing.
func relativeRotation(bearingDegrees, headingDegrees float64) float64 {
	rotation := math.Mod(bearingDegrees-headingDegrees, 360)
	if rotation > 180 {
		rotation -= 360
	}
	if rotation <= -180 {
		rotation += 360
	}
	return rotation
}

// verticalTilt is 0 on the same floor, otherwise the elevation angle towards
// the target, capped at ±45 degrees.
func verticalTilt(v navvec.Vector) float64 {
	if v.FloorDelta == nil || *v.FloorDelta == 0 {
		return 0
	}
	distance := math.Max(v.HorizontalDistanceMeters, epsilonMeters)
	tilt := math.Atan(math.Abs(v.VerticalDeltaMeters)/distance) * 180 / math.Pi
	if tilt > MaxTiltDegrees {
		tilt = MaxTiltDegrees
	}
	if v.VerticalDeltaMeters < 0 {
		return -tilt
	}
	return tilt
}

// scaleForDistance decreases monotonically with distance and clamps at the
// configured bounds. Used purely for presentation depth cues.
func scaleForDistance(distanceMeters float64, opts Options) float64 {
	if distanceMeters < 0 {
		distanceMeters = 0
	}
	scale := opts.MaxScale / (1 + distanceMeters/scaleHalfDistanceMeters)
	if scale < opts.MinScale {
		return opts.MinScale
	}
	if scale > opts.MaxScale {
		return opts.MaxScale
	}
	return scale
}

func colorFor(v navvec.Vector, rotationDegrees float64, state arrival.State) Color {
	switch {
	case state.Phase == arrival.PhaseArrived:
		return ColorArrived
	case v.FloorDelta != nil && *v.FloorDelta != 0:
		return ColorFloorChangeRequired
	case math.Abs(rotationDegrees) <= alignedMarginDegrees:
		return ColorAlignedOnFloor
	}
	return ColorDefault
}
