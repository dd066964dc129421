// SPDX-FileCopyrightText: The courier-guide authors
//
// SPDX-License-Identifier: MIT

package service

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/venueops/courier-guide/internal/logger"
	"github.com/venueops/courier-guide/internal/posbus"
	"github.com/venueops/courier-guide/internal/presenter"
	"github.com/venueops/courier-guide/internal/session"
)

type createSessionRequest struct {
	Lat        float64  `json:"lat"`
	Lon        float64  `json:"lon"`
	Alt        *float64 `json:"alt,omitempty"`
	FloorLevel *int     `json:"floor_level,omitempty"`
}

type sampleBody struct {
	Lat            float64   `json:"lat"`
	Lon            float64   `json:"lon"`
	Alt            *float64  `json:"alt,omitempty"`
	FloorLevel     *int      `json:"floor_level,omitempty"`
	AccuracyMeters float64   `json:"accuracy_m"`
	HeadingDegrees *float64  `json:"heading_deg,omitempty"`
	CapturedAt     time.Time `json:"captured_at"`
	Source         string    `json:"source"`
}

type vectorBody struct {
	DistanceMeters      float64 `json:"distance_m"`
	BearingDegrees      float64 `json:"bearing_deg"`
	VerticalDeltaMeters float64 `json:"vertical_delta_m"`
	FloorDelta          *int    `json:"floor_delta,omitempty"`
}

type transformBody struct {
	RotationDegrees     float64 `json:"rotation_deg"`
	VerticalTiltDegrees float64 `json:"tilt_deg"`
	ScaleFactor         float64 `json:"scale"`
	Color               string  `json:"color"`
}

type sessionBody struct {
	ID        string          `json:"id"`
	Phase     string          `json:"phase"`
	Sample    *sampleBody     `json:"sample,omitempty"`
	Vector    *vectorBody     `json:"vector,omitempty"`
	Transform *transformBody  `json:"transform,omitempty"`
	View      *presenter.View `json:"view,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Service) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid session request body", err)
		return
	}

	target := posbus.Target{Lat: req.Lat, Lon: req.Lon, Alt: req.Alt, FloorLevel: req.FloorLevel}
	sess, err := session.Start(s.runCtx, s.stream, target,
		session.WithConfig(session.Config{
			ArrivalThresholdMeters: s.config.Navigation.ArrivalThresholdMeters,
			ConfirmationWindow:     s.config.Navigation.ConfirmationWindow,
			FloorHeightMeters:      s.config.Navigation.FloorHeightMeters,
			MinScale:               s.config.Navigation.MinScale,
			MaxScale:               s.config.Navigation.MaxScale,
		}),
		session.WithLogger(s.logger),
		session.WithErrorFunc(func(err error) {
			s.logger.Error("position stream failed", logger.Err(err))
		}),
	)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to start session", err)
		return
	}

	s.sessionLock.Lock()
	s.sessions[sess.ID] = sess
	s.sessionLock.Unlock()
	s.logger.Info("navigation session started", slog.String("session", sess.ID.String()))

	s.writeJSON(w, http.StatusCreated, sessionBody{ID: sess.ID.String(), Phase: sess.State().Phase.String()})
}

func (s *Service) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	body := sessionBody{ID: sess.ID.String(), Phase: sess.State().Phase.String()}
	sample, vector, transform := sess.Latest()
	if sample != nil && vector != nil && transform != nil {
		body.Sample = &sampleBody{
			Lat: sample.Lat, Lon: sample.Lon, Alt: sample.Alt, FloorLevel: sample.FloorLevel,
			AccuracyMeters: sample.AccuracyMeters, HeadingDegrees: sample.HeadingDegrees,
			CapturedAt: sample.CapturedAt, Source: string(sample.Source),
		}
		body.Vector = &vectorBody{
			DistanceMeters:      vector.HorizontalDistanceMeters,
			BearingDegrees:      vector.BearingDegrees,
			VerticalDeltaMeters: vector.VerticalDeltaMeters,
			FloorDelta:          vector.FloorDelta,
		}
		body.Transform = &transformBody{
			RotationDegrees:     transform.RotationDegrees,
			VerticalTiltDegrees: transform.VerticalTiltDegrees,
			ScaleFactor:         transform.ScaleFactor,
			Color:               string(transform.Color),
		}
		view := s.presenter.Build(*sample, *vector, *transform, sess.State(), time.Now())
		body.View = &view
	}

	s.writeJSON(w, http.StatusOK, body)
}

func (s *Service) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	sess.Stop()
	s.sessionLock.Lock()
	delete(s.sessions, sess.ID)
	s.sessionLock.Unlock()
	s.logger.Info("navigation session stopped", slog.String("session", sess.ID.String()))

	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) lookupSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid session id", err)
		return nil, false
	}

	s.sessionLock.RLock()
	sess, ok := s.sessions[id]
	s.sessionLock.RUnlock()
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown session id", nil)
		return nil, false
	}
	return sess, true
}

func (s *Service) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to encode response body", logger.Err(err))
	}
}

func (s *Service) writeError(w http.ResponseWriter, status int, msg string, err error) {
	if err != nil {
		s.logger.Error(msg, logger.Err(err))
	}
	s.writeJSON(w, status, errorBody{Error: msg})
}
