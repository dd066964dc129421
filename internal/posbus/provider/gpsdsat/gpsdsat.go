// SPDX-FileCopyrightText: The courier-guide authors
//
// SPDX-License-Identifier: MIT

// Package gpsdsat implements the satellite fallback position provider on top
// of a local gpsd daemon. Samples never carry floor information and are
// coarser than indoor fixes, but the provider works anywhere with sky view.
package gpsdsat

import (
	"context"
	"fmt"
	"math"
	"net"

	"github.com/stratoberry/go-gpsd"

	"github.com/venueops/courier-guide/internal/posbus"
)

const (
	name = "gpsd"

	fallbackAccuracy3DFix = 10  // ~10 m typical consumer GPS in open sky
	fallbackAccuracy2DFix = 25  // worse than 3D, but still accurate enough
	fallbackAccuracyNoFix = 1e6 // effectively unusable
)

// Provider streams satellite fixes from gpsd.
type Provider struct {
	name   string
	addr   string
	dialFn func(addr string) (session, error)
}

// session is the subset of the gpsd session used by the provider, split out
// so tests can run without a live daemon.
type session interface {
	AddFilter(class string, filter gpsd.Filter)
	Watch() chan bool
}

// New returns a gpsd-backed provider for the given daemon host and port.
func New(host, port string) *Provider {
	return &Provider{
		name: name,
		addr: net.JoinHostPort(host, port),
		dialFn: func(addr string) (session, error) {
			return gpsd.Dial(addr)
		},
	}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return p.name
}

// GetOnce connects to gpsd and returns the first usable fix.
func (p *Provider) GetOnce(ctx context.Context) (posbus.Sample, error) {
	ch, err := p.Watch(ctx)
	if err != nil {
		return posbus.Sample{}, err
	}
	select {
	case <-ctx.Done():
		return posbus.Sample{}, ctx.Err()
	case sample, ok := <-ch:
		if !ok {
			return posbus.Sample{}, fmt.Errorf("gpsd stream ended before a fix was received")
		}
		return sample, nil
	}
}

// Watch connects to gpsd and streams TPV reports with at least a 2D fix.
func (p *Provider) Watch(ctx context.Context) (<-chan posbus.Sample, error) {
	sess, err := p.dialFn(p.addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to gpsd at %q: %w", p.addr, err)
	}

	out := make(chan posbus.Sample)
	sess.AddFilter("TPV", func(r interface{}) {
		tpv, ok := r.(*gpsd.TPVReport)
		if !ok {
			return
		}
		if tpv.Mode < gpsd.Mode2D {
			return
		}

		sample := sampleFromTPV(tpv)
		select {
		case <-ctx.Done():
		case out <- sample:
		}
	})

	done := sess.Watch()
	go func() {
		defer close(out)
		select {
		case <-ctx.Done():
			// The gpsd session has no teardown beyond process exit; stop
			// forwarding and let the filter drop further reports.
		case <-done:
		}
	}()

	return out, nil
}

func sampleFromTPV(tpv *gpsd.TPVReport) posbus.Sample {
	sample := posbus.Sample{
		Lat:            tpv.Lat,
		Lon:            tpv.Lon,
		AccuracyMeters: horizontalAccuracyMeters(tpv),
		CapturedAt:     tpv.Time,
		Source:         posbus.SourceFallbackSatellite,
	}
	if tpv.Mode >= gpsd.Mode3D {
		sample.Alt = posbus.Float(tpv.Alt)
	}
	if tpv.Track > 0 {
		sample.HeadingDegrees = posbus.Float(tpv.Track)
	}
	return sample
}

func horizontalAccuracyMeters(tpv *gpsd.TPVReport) float64 {
	if tpv.Epx > 0 && tpv.Epy > 0 {
		// sqrt(epx² + epy²)
		return math.Hypot(tpv.Epx, tpv.Epy)
	}
	switch tpv.Mode {
	case gpsd.Mode3D:
		return fallbackAccuracy3DFix
	case gpsd.Mode2D:
		return fallbackAccuracy2DFix
	default:
		return fallbackAccuracyNoFix
	}
}
