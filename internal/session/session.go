// SPDX-FileCopyrightText: The courier-guide authors
//
// SPDX-License-Identifier: MIT

// Package session wires the positioning fusion core into a navigation
// session: position stream → navigation vector → arrival state machine and
// indicator transform. A session is an explicitly constructed, caller-owned
// object; there is no ambient global positioning state.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/venueops/courier-guide/internal/arrival"
	"github.com/venueops/courier-guide/internal/indicator"
	"github.com/venueops/courier-guide/internal/logger"
	"github.com/venueops/courier-guide/internal/metrics"
	"github.com/venueops/courier-guide/internal/navvec"
	"github.com/venueops/courier-guide/internal/posbus"
)

// PositionStream is the upstream sample source of a session. Satisfied by
// posbus.Stream.
type PositionStream interface {
	Subscribe(ctx context.Context, onSample func(posbus.Sample), onError func(error)) (stop func())
	Snapshot(ctx context.Context) (posbus.Sample, error)
}

// Config holds the per-session tunables. Zero values fall back to defaults.
type Config struct {
	ArrivalThresholdMeters float64
	ConfirmationWindow     time.Duration
	FloorHeightMeters      float64
	MinScale               float64
	MaxScale               float64
}

// VectorFunc receives every recomputed navigation vector together with the
// indicator transform derived from it.
type VectorFunc func(navvec.Vector, indicator.Transform)

// StateFunc receives arrival state changes.
type StateFunc func(arrival.State)

// ErrorFunc receives the terminal stream error, at most once.
type ErrorFunc func(error)

// Option configures a session before it starts.
type Option func(*Session)

// WithConfig sets the session tunables.
func WithConfig(config Config) Option {
	return func(s *Session) { s.config = config }
}

// WithClock replaces the wall clock, used by tests to control the
// confirmation window.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Session) { s.clock = clock }
}

// WithLogger sets the session logger.
func WithLogger(log *logger.Logger) Option {
	return func(s *Session) { s.logger = log }
}

// WithVectorFunc registers the vector/transform callback.
func WithVectorFunc(fn VectorFunc) Option {
	return func(s *Session) { s.onVector = fn }
}

// WithStateFunc registers the arrival state change callback.
func WithStateFunc(fn StateFunc) Option {
	return func(s *Session) { s.onState = fn }
}

// WithErrorFunc registers the terminal error callback.
func WithErrorFunc(fn ErrorFunc) Option {
	return func(s *Session) { s.onError = fn }
}

// Session is one navigation run towards a single static target.
type Session struct {
	ID     uuid.UUID
	Target posbus.Target

	config   Config
	clock    clockwork.Clock
	logger   *logger.Logger
	onVector VectorFunc
	onState  StateFunc
	onError  ErrorFunc

	machine *arrival.Machine
	unsub   func()
	stopped sync.Once

	mu            sync.RWMutex
	lastSample    *posbus.Sample
	lastVector    *navvec.Vector
	lastTransform *indicator.Transform
	lastHeading   float64
	fellBack      bool
	notifiedPhase arrival.Phase
}

// Start begins a navigation session towards the given target. The session
// subscribes to the stream immediately; each sample fans out synchronously
// through the vector calculator into the state machine and the transform
// calculator before the next sample is processed.
func Start(ctx context.Context, stream PositionStream, target posbus.Target, opts ...Option) (*Session, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("target coordinates are invalid: %f, %f", target.Lat, target.Lon)
	}

	s := &Session{
		ID:     uuid.New(),
		Target: target,
		clock:  clockwork.NewRealClock(),
		logger: logger.New(slog.LevelInfo),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.applyConfigDefaults()

	s.machine = arrival.New(arrival.Config{
		ThresholdMeters: s.config.ArrivalThresholdMeters,
		Window:          s.config.ConfirmationWindow,
	}, s.clock, s.arrived)

	s.unsub = stream.Subscribe(ctx, s.handleSample, s.handleStreamError)
	metrics.ActiveSessions.Inc()
	s.logger.Info("navigation session started", slog.String("session", s.ID.String()),
		slog.Float64("target_lat", target.Lat), slog.Float64("target_lon", target.Lon))
	return s, nil
}

// Stop tears the session down. It synchronously stops the position stream
// subscription and cancels the confirmation window; no vector, state or
// arrival callback fires after Stop returns.
func (s *Session) Stop() {
	s.stopped.Do(func() {
		s.unsub()
		s.machine.Cancel()
		metrics.ActiveSessions.Dec()
		s.logger.Info("navigation session stopped", slog.String("session", s.ID.String()))
	})
}

// State returns the current arrival state.
func (s *Session) State() arrival.State {
	return s.machine.State()
}

// Latest returns the most recent sample, vector and transform, each nil
// until the first sample arrived.
func (s *Session) Latest() (*posbus.Sample, *navvec.Vector, *indicator.Transform) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSample, s.lastVector, s.lastTransform
}

func (s *Session) applyConfigDefaults() {
	if s.config.ArrivalThresholdMeters <= 0 {
		s.config.ArrivalThresholdMeters = arrival.DefaultThresholdMeters
	}
	if s.config.ConfirmationWindow <= 0 {
		s.config.ConfirmationWindow = arrival.DefaultWindow
	}
	if s.config.FloorHeightMeters <= 0 {
		s.config.FloorHeightMeters = navvec.DefaultFloorHeightMeters
	}
	if s.config.MinScale <= 0 {
		s.config.MinScale = indicator.DefaultMinScale
	}
	if s.config.MaxScale < s.config.MinScale {
		s.config.MaxScale = indicator.DefaultMaxScale
	}
}

// handleSample fans one sample through the full pipeline.
func (s *Session) handleSample(sample posbus.Sample) {
	metrics.SamplesTotal.WithLabelValues(string(sample.Source)).Inc()

	vector := navvec.Compute(sample, s.Target, s.config.FloorHeightMeters)
	state := s.machine.Observe(vector)

	heading := s.updateLatest(sample, vector)
	transform := indicator.Compute(vector, heading, state, indicator.Options{
		MinScale: s.config.MinScale,
		MaxScale: s.config.MaxScale,
	})

	s.mu.Lock()
	s.lastTransform = &transform
	s.mu.Unlock()

	if s.onVector != nil {
		s.onVector(vector, transform)
	}
	s.notifyState(state)
}

// notifyState forwards a state change at most once per phase transition, so
// the sample-driven and timer-driven arrival paths cannot double-report.
func (s *Session) notifyState(state arrival.State) {
	s.mu.Lock()
	if s.notifiedPhase == state.Phase {
		s.mu.Unlock()
		return
	}
	s.notifiedPhase = state.Phase
	s.mu.Unlock()

	if s.onState != nil {
		s.onState(state)
	}
}

// updateLatest stores the newest sample and vector and resolves the device
// heading: the sample's own heading when present, otherwise the last known
// one, otherwise north.
func (s *Session) updateLatest(sample posbus.Sample, vector navvec.Vector) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.fellBack && s.lastSample != nil &&
		s.lastSample.Source == posbus.SourcePrimaryIndoor &&
		sample.Source == posbus.SourceFallbackSatellite {
		s.fellBack = true
		metrics.FallbacksTotal.Inc()
	}

	s.lastSample = &sample
	s.lastVector = &vector
	if sample.HeadingDegrees != nil {
		s.lastHeading = *sample.HeadingDegrees
	}
	return s.lastHeading
}

func (s *Session) handleStreamError(err error) {
	s.logger.Error("position stream failed", slog.String("session", s.ID.String()), logger.Err(err))
	if s.onError != nil {
		s.onError(err)
	}
}

// arrived is the one-shot arrival hook of the state machine.
func (s *Session) arrived() {
	metrics.ArrivalsTotal.Inc()
	s.logger.Info("courier arrived at target", slog.String("session", s.ID.String()))
	s.notifyState(arrival.State{Phase: arrival.PhaseArrived})
}
