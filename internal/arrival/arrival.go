// SPDX-FileCopyrightText: The courier-guide authors
//
// SPDX-License-Identifier: MIT

// Package arrival decides when a navigation session may declare arrival. A
// distance threshold paired with a confirmation window suppresses transient
// false positives from noisy position samples.
package arrival

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/venueops/courier-guide/internal/navvec"
)

const (
	// DefaultThresholdMeters is the horizontal distance below which a courier
	// counts as at the target.
	DefaultThresholdMeters = 3.0
	// DefaultWindow is the continuous dwell time inside the threshold required
	// before arrival is declared.
	DefaultWindow = time.Second * 2

	// A distance this tight paired with poor accuracy indicates a fused or
	// erroneous reading, not true proximity.
	implausibleDistanceMeters = 0.1
	implausibleAccuracyMeters = 10.0
)

// Phase is the coarse position of the machine in its lifecycle.
type Phase int

const (
	PhaseNavigating Phase = iota
	PhaseConfirming
	PhaseArrived
)

// String returns a human-readable phase name.
func (p Phase) String() string {
	switch p {
	case PhaseNavigating:
		return "navigating"
	case PhaseConfirming:
		return "confirming"
	case PhaseArrived:
		return "arrived"
	}
	return "unknown"
}

// State is the machine's externally visible state. StartedAt is only set
// while confirming.
type State struct {
	Phase     Phase
	StartedAt time.Time
}

// Config holds the machine's tunables.
type Config struct {
	ThresholdMeters float64
	Window          time.Duration
}

// Machine consumes navigation vectors and walks Navigating → Confirming →
// Arrived. Arrived is terminal for the session; the arrival callback fires
// exactly once. The confirmation window is an explicit, cancellable timer
// tied to the machine, so teardown can guarantee no late arrival events.
type Machine struct {
	config    Config
	clock     clockwork.Clock
	onArrived func()

	mu           sync.Mutex
	state        State
	timer        clockwork.Timer
	canceled     bool
	arrivedFired bool
}

// New returns a machine in the Navigating phase. Zero config values are
// replaced with the defaults. onArrived may be nil.
func New(config Config, clock clockwork.Clock, onArrived func()) *Machine {
	if config.ThresholdMeters <= 0 {
		config.ThresholdMeters = DefaultThresholdMeters
	}
	if config.Window <= 0 {
		config.Window = DefaultWindow
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Machine{
		config:    config,
		clock:     clock,
		onArrived: onArrived,
		state:     State{Phase: PhaseNavigating},
	}
}

// State returns the current machine state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Observe feeds the next navigation vector into the machine and returns the
// resulting state. After Arrived, input is ignored.
func (m *Machine) Observe(v navvec.Vector) State {
	m.mu.Lock()

	var fire bool
	switch m.state.Phase {
	case PhaseArrived:
		// terminal, further vectors are a no-op
	case PhaseNavigating:
		if m.qualifies(v) {
			m.state = State{Phase: PhaseConfirming, StartedAt: m.clock.Now()}
			m.timer = m.clock.AfterFunc(m.config.Window, m.windowElapsed)
		}
	case PhaseConfirming:
		switch {
		case !m.qualifies(v):
			// Out of threshold, floor mismatch or implausible reading: the
			// confirmation timer is canceled, not paused.
			m.stopTimerLocked()
			m.state = State{Phase: PhaseNavigating}
		case m.clock.Since(m.state.StartedAt) >= m.config.Window:
			fire = m.promoteLocked()
		}
	}

	state := m.state
	m.mu.Unlock()

	if fire && m.onArrived != nil {
		m.onArrived()
	}
	return state
}

// Cancel tears the machine down. It synchronously stops the confirmation
// timer; no arrival event fires after Cancel returns.
func (m *Machine) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.canceled = true
	m.stopTimerLocked()
}

// qualifies reports whether the vector counts as a plausible in-threshold fix
// on the target floor.
func (m *Machine) qualifies(v navvec.Vector) bool {
	if v.HorizontalDistanceMeters <= 0 {
		return false
	}
	if v.HorizontalDistanceMeters > m.config.ThresholdMeters {
		return false
	}
	if v.HorizontalDistanceMeters < implausibleDistanceMeters &&
		v.AccuracyMeters > implausibleAccuracyMeters {
		return false
	}
	if v.FloorDelta != nil && *v.FloorDelta != 0 {
		return false
	}
	return true
}

// windowElapsed is the confirmation timer callback.
func (m *Machine) windowElapsed() {
	m.mu.Lock()
	fire := false
	if !m.canceled && m.state.Phase == PhaseConfirming {
		fire = m.promoteLocked()
	}
	m.mu.Unlock()

	if fire && m.onArrived != nil {
		m.onArrived()
	}
}

func (m *Machine) promoteLocked() bool {
	m.stopTimerLocked()
	m.state = State{Phase: PhaseArrived}
	if m.arrivedFired || m.canceled {
		return false
	}
	m.arrivedFired = true
	return true
}

func (m *Machine) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}
