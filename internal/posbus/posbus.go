// SPDX-FileCopyrightText: The courier-guide authors
//
// SPDX-License-Identifier: MIT

// Package posbus normalizes heterogeneous position providers into one typed
// stream of position samples, falling back from the primary (indoor) provider
// to the fallback (satellite) provider when the primary cannot initialize.
package posbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/venueops/courier-guide/internal/logger"
)

const (
	// DefaultInitTimeout bounds provider initialization. A provider that never
	// resolves must not hang the stream.
	DefaultInitTimeout = time.Second * 5
	// DefaultMinInterval caps the emission rate at 10 Hz. Samples arriving
	// faster supersede each other, only the latest cadence-aligned one is
	// delivered.
	DefaultMinInterval = time.Millisecond * 100
)

// ErrNoProvider indicates that neither the primary nor the fallback provider
// could be initialized. It is terminal for the stream.
var ErrNoProvider = errors.New("no position provider available")

// Provider supplies raw position fixes. Watch returns an error when the
// provider cannot initialize; the returned channel closes when the provider
// dies or the context is cancelled.
type Provider interface {
	Name() string
	GetOnce(ctx context.Context) (Sample, error)
	Watch(ctx context.Context) (<-chan Sample, error)
}

// Stream produces a single logical sequence of samples for a consumer,
// regardless of which underlying provider is supplying data. At most one
// underlying provider subscription is active at a time, and fallback is
// sticky for the lifetime of a subscription.
type Stream struct {
	InitTimeout time.Duration
	MinInterval time.Duration

	primary  Provider
	fallback Provider
	logger   *logger.Logger
}

// New returns a Stream ranking the given primary provider over the fallback
// provider. A nil primary is allowed and skips straight to the fallback.
func New(primary, fallback Provider, log *logger.Logger) *Stream {
	return &Stream{
		InitTimeout: DefaultInitTimeout,
		MinInterval: DefaultMinInterval,
		primary:     primary,
		fallback:    fallback,
		logger:      log,
	}
}

// Subscribe registers for continuous position updates. The primary provider is
// attempted first; if it fails or times out during initialization, the
// fallback provider takes over transparently, visible to the caller only as a
// differing Source on the samples. If neither provider is available, onError
// fires exactly once with an error wrapping ErrNoProvider.
//
// The returned stop function is synchronous and complete: once it returns, all
// provider subscriptions are torn down and no further callbacks fire.
func (s *Stream) Subscribe(ctx context.Context, onSample func(Sample), onError func(error)) (stop func()) {
	runCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.pump(runCtx, onSample, onError)
	}()

	return func() {
		cancel()
		wg.Wait()
	}
}

// Snapshot performs a one-shot position read with the same fallback policy as
// Subscribe. It is used for the initial fix of a session.
func (s *Stream) Snapshot(ctx context.Context) (Sample, error) {
	if s.primary != nil {
		onceCtx, cancel := context.WithTimeout(ctx, s.InitTimeout)
		sample, err := s.primary.GetOnce(onceCtx)
		cancel()
		if err == nil && sample.Valid() {
			sample.Source = SourcePrimaryIndoor
			return sample, nil
		}
		if err != nil {
			s.logger.Warn("primary position provider failed, falling back",
				slog.String("provider", s.primary.Name()), logger.Err(err))
		}
	}
	if s.fallback == nil {
		return Sample{}, fmt.Errorf("snapshot: %w", ErrNoProvider)
	}

	onceCtx, cancel := context.WithTimeout(ctx, s.InitTimeout)
	defer cancel()
	sample, err := s.fallback.GetOnce(onceCtx)
	if err != nil {
		return Sample{}, fmt.Errorf("snapshot from fallback provider %q: %w: %w",
			s.fallback.Name(), ErrNoProvider, err)
	}
	if !sample.Valid() {
		return Sample{}, fmt.Errorf("snapshot from fallback provider %q: %w: invalid sample",
			s.fallback.Name(), ErrNoProvider)
	}
	sample.Source = SourceFallbackSatellite
	return sample, nil
}

// pump runs the provider fan-in until the context ends or both providers are
// exhausted. Fallback is sticky: once the stream hops to the fallback
// provider it never switches back within the subscription.
func (s *Stream) pump(ctx context.Context, onSample func(Sample), onError func(error)) {
	ch, src, err := s.openPrimary(ctx)
	if err != nil {
		ch, err = s.openWatch(ctx, s.fallback)
		if err != nil {
			onError(fmt.Errorf("subscribe: %w: %w", ErrNoProvider, err))
			return
		}
		src = SourceFallbackSatellite
	}

	var lastEmit time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case sample, ok := <-ch:
			if !ok {
				if src == SourcePrimaryIndoor {
					// Primary died mid-session, hop to the fallback once.
					s.logger.Warn("primary position provider stream ended, falling back",
						slog.String("provider", s.primary.Name()))
					ch, err = s.openWatch(ctx, s.fallback)
					if err != nil {
						onError(fmt.Errorf("subscribe: %w: %w", ErrNoProvider, err))
						return
					}
					src = SourceFallbackSatellite
					continue
				}
				onError(fmt.Errorf("subscribe: fallback provider stream ended: %w", ErrNoProvider))
				return
			}
			if !sample.Valid() {
				s.logger.Debug("dropping invalid position sample",
					slog.Float64("lat", sample.Lat), slog.Float64("lon", sample.Lon),
					slog.Float64("accuracy", sample.AccuracyMeters))
				continue
			}
			if !lastEmit.IsZero() && time.Since(lastEmit) < s.MinInterval {
				continue
			}
			lastEmit = time.Now()
			sample.Source = src
			if sample.CapturedAt.IsZero() {
				sample.CapturedAt = lastEmit
			}
			onSample(sample)
		}
	}
}

func (s *Stream) openPrimary(ctx context.Context) (<-chan Sample, Source, error) {
	if s.primary == nil {
		return nil, "", fmt.Errorf("no primary provider configured")
	}
	ch, err := s.openWatch(ctx, s.primary)
	if err != nil {
		s.logger.Warn("primary position provider failed to initialize, falling back",
			slog.String("provider", s.primary.Name()), logger.Err(err))
		return nil, "", err
	}
	return ch, SourcePrimaryIndoor, nil
}

// openWatch starts a provider watch, bounding initialization with the
// configured timeout so a hanging provider cannot stall the stream.
func (s *Stream) openWatch(ctx context.Context, p Provider) (<-chan Sample, error) {
	if p == nil {
		return nil, fmt.Errorf("provider not configured")
	}

	type watchResult struct {
		ch  <-chan Sample
		err error
	}
	resultChan := make(chan watchResult, 1)
	go func() {
		ch, err := p.Watch(ctx)
		resultChan <- watchResult{ch, err}
	}()

	timer := time.NewTimer(s.InitTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("provider %q timed out during initialization", p.Name())
	case res := <-resultChan:
		if res.err != nil {
			return nil, fmt.Errorf("provider %q failed to initialize: %w", p.Name(), res.err)
		}
		return res.ch, nil
	}
}
