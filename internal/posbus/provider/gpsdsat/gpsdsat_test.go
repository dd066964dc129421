// SPDX-FileCopyrightText: The courier-guide authors
//
// SPDX-License-Identifier: MIT

package gpsdsat

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stratoberry/go-gpsd"

	"github.com/venueops/courier-guide/internal/posbus"
)

type fakeSession struct {
	filters map[string]gpsd.Filter
	done    chan bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{filters: make(map[string]gpsd.Filter), done: make(chan bool)}
}

func (s *fakeSession) AddFilter(class string, filter gpsd.Filter) {
	s.filters[class] = filter
}

func (s *fakeSession) Watch() chan bool {
	return s.done
}

func (s *fakeSession) report(tpv *gpsd.TPVReport) {
	if filter, ok := s.filters["TPV"]; ok {
		go filter(tpv)
	}
}

func testProvider(sess session, dialErr error) *Provider {
	p := New("localhost", "2947")
	p.dialFn = func(string) (session, error) {
		if dialErr != nil {
			return nil, dialErr
		}
		return sess, nil
	}
	return p
}

func TestNew(t *testing.T) {
	p := New("localhost", "2947")
	if p == nil {
		t.Fatal("expected provider to be non-nil")
	}
	if p.addr != "localhost:2947" {
		t.Errorf("expected provider address to be localhost:2947, got %s", p.addr)
	}
}

func TestProvider_Watch(t *testing.T) {
	t.Run("watch converts 3D TPV reports into satellite samples", func(t *testing.T) {
		sess := newFakeSession()
		ch, err := testProvider(sess, nil).Watch(t.Context())
		if err != nil {
			t.Fatalf("failed to start watch: %v", err)
		}

		now := time.Now()
		sess.report(&gpsd.TPVReport{Mode: gpsd.Mode3D, Lat: 51, Lon: 7, Alt: 75,
			Epx: 8.1, Epy: 11.4, Track: 332.7, Time: now})

		select {
		case sample := <-ch:
			if sample.Lat != 51 || sample.Lon != 7 {
				t.Errorf("unexpected coordinates: %f, %f", sample.Lat, sample.Lon)
			}
			if sample.AccuracyMeters != math.Hypot(8.1, 11.4) {
				t.Errorf("expected accuracy %f, got %f", math.Hypot(8.1, 11.4), sample.AccuracyMeters)
			}
			if sample.Alt == nil || *sample.Alt != 75 {
				t.Errorf("expected altitude 75, got %v", sample.Alt)
			}
			if sample.HeadingDegrees == nil || *sample.HeadingDegrees != 332.7 {
				t.Errorf("expected heading 332.7, got %v", sample.HeadingDegrees)
			}
			if sample.FloorLevel != nil {
				t.Error("satellite samples must not carry a floor level")
			}
			if sample.Source != posbus.SourceFallbackSatellite {
				t.Errorf("expected source %q, got %q", posbus.SourceFallbackSatellite, sample.Source)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for a sample")
		}
	})
	t.Run("watch drops reports without a 2D fix", func(t *testing.T) {
		sess := newFakeSession()
		ch, err := testProvider(sess, nil).Watch(t.Context())
		if err != nil {
			t.Fatalf("failed to start watch: %v", err)
		}

		sess.report(&gpsd.TPVReport{Mode: gpsd.NoFix, Lat: 1, Lon: 1})
		sess.report(&gpsd.TPVReport{Mode: gpsd.Mode2D, Lat: 2, Lon: 2})

		select {
		case sample := <-ch:
			if sample.Lat != 2 {
				t.Errorf("expected the 2D fix to be delivered, got lat %f", sample.Lat)
			}
			if sample.AccuracyMeters != fallbackAccuracy2DFix {
				t.Errorf("expected 2D fallback accuracy, got %f", sample.AccuracyMeters)
			}
			if sample.Alt != nil {
				t.Error("2D fixes must not carry an altitude")
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for a sample")
		}
	})
	t.Run("watch channel closes when the gpsd connection ends", func(t *testing.T) {
		sess := newFakeSession()
		ch, err := testProvider(sess, nil).Watch(t.Context())
		if err != nil {
			t.Fatalf("failed to start watch: %v", err)
		}

		close(sess.done)
		select {
		case _, ok := <-ch:
			if ok {
				t.Error("expected watch channel to close")
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for watch channel to close")
		}
	})
	t.Run("watch fails when gpsd is unreachable", func(t *testing.T) {
		if _, err := testProvider(nil, errors.New("connection refused")).Watch(t.Context()); err == nil {
			t.Error("expected watch to fail when gpsd is unreachable")
		}
	})
}

func TestProvider_GetOnce(t *testing.T) {
	t.Run("get once returns the first usable fix", func(t *testing.T) {
		sess := newFakeSession()
		provider := testProvider(sess, nil)

		go func() {
			time.Sleep(time.Millisecond * 10)
			sess.report(&gpsd.TPVReport{Mode: gpsd.Mode3D, Lat: 51, Lon: 7, Alt: 75})
		}()

		sample, err := provider.GetOnce(t.Context())
		if err != nil {
			t.Fatalf("failed to get a fix: %v", err)
		}
		if sample.Lat != 51 {
			t.Errorf("unexpected sample latitude: %f", sample.Lat)
		}
	})
}

func TestHorizontalAccuracyMeters(t *testing.T) {
	tests := []struct {
		name string
		tpv  *gpsd.TPVReport
		want float64
	}{
		{"epx and epy present", &gpsd.TPVReport{Mode: gpsd.Mode3D, Epx: 3, Epy: 4}, 5},
		{"3D fix without error estimates", &gpsd.TPVReport{Mode: gpsd.Mode3D}, fallbackAccuracy3DFix},
		{"2D fix without error estimates", &gpsd.TPVReport{Mode: gpsd.Mode2D}, fallbackAccuracy2DFix},
		{"no fix", &gpsd.TPVReport{Mode: gpsd.NoFix}, fallbackAccuracyNoFix},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := horizontalAccuracyMeters(tc.tpv); got != tc.want {
				t.Errorf("expected accuracy %f, got %f", tc.want, got)
			}
		})
	}
}
