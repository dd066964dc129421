// SPDX-FileCopyrightText: The courier-guide authors
//
// SPDX-License-Identifier: MIT

// Package service runs the courier-guide daemon: it owns the position
// stream, the navigation session registry and the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/vorlif/spreak"
	"golang.org/x/text/language"

	"github.com/venueops/courier-guide/internal/config"
	"github.com/venueops/courier-guide/internal/logger"
	"github.com/venueops/courier-guide/internal/metrics"
	"github.com/venueops/courier-guide/internal/presenter"
	"github.com/venueops/courier-guide/internal/session"
)

var (
	// WatchdogInterval is how often sessions are checked for stale fixes.
	WatchdogInterval = time.Second * 10
	// StatusInterval is how often the session registry is logged.
	StatusInterval = time.Minute
	// ShutdownGrace bounds the HTTP server drain on shutdown.
	ShutdownGrace = time.Second * 5
)

type Service struct {
	config    *config.Config
	logger    *logger.Logger
	localizer *spreak.Localizer
	presenter *presenter.Presenter
	scheduler gocron.Scheduler
	stream    session.PositionStream

	runCtx context.Context

	sessionLock sync.RWMutex
	sessions    map[uuid.UUID]*session.Session
}

func New(conf *config.Config, log *logger.Logger, localizer *spreak.Localizer) (*Service, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	humanizer := presenter.NewHumanizer(language.Make(conf.Locale))

	service := &Service{
		config:    conf,
		logger:    log,
		localizer: localizer,
		presenter: presenter.New(localizer, humanizer),
		scheduler: scheduler,
		sessions:  make(map[uuid.UUID]*session.Session),
	}

	stream, err := service.createStream()
	if err != nil {
		return nil, err
	}
	service.stream = stream

	return service, nil
}

func (s *Service) Run(ctx context.Context) error {
	s.runCtx = ctx

	// Start scheduled jobs
	if err := s.createScheduledJob(ctx, WatchdogInterval, s.staleFixWatchdog,
		"stale_fix_watchdog_job"); err != nil {
		return err
	}
	if err := s.createScheduledJob(ctx, StatusInterval, s.logStatus,
		"session_status_job"); err != nil {
		return err
	}
	s.scheduler.Start()

	server := &http.Server{
		Addr:              s.config.ListenAddr,
		Handler:           s.router(),
		ReadHeaderTimeout: time.Second * 5,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()
	s.logger.Info("listening for session requests", slog.String("addr", s.config.ListenAddr))

	select {
	case err := <-serveErr:
		return fmt.Errorf("failed to serve session API: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("failed to drain session API server", logger.Err(err))
	}

	s.stopAllSessions()
	return s.scheduler.Shutdown()
}

func (s *Service) router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/v1/sessions", s.handleCreateSession).Methods(http.MethodPost)
	router.HandleFunc("/v1/sessions/{id}", s.handleGetSession).Methods(http.MethodGet)
	router.HandleFunc("/v1/sessions/{id}", s.handleDeleteSession).Methods(http.MethodDelete)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	return router
}

func (s *Service) createScheduledJob(ctx context.Context, interval time.Duration, task func(context.Context),
	jobName string,
) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(task),
		gocron.WithContext(ctx),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName(jobName),
	)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", jobName, err)
	}
	return nil
}

// staleFixWatchdog warns about sessions whose latest position fix is older
// than the configured staleness bound.
func (s *Service) staleFixWatchdog(context.Context) {
	staleAfter := s.config.Navigation.StaleFixAfter
	now := time.Now()

	s.sessionLock.RLock()
	defer s.sessionLock.RUnlock()
	for id, sess := range s.sessions {
		sample, _, _ := sess.Latest()
		if sample == nil {
			continue
		}
		if age := now.Sub(sample.CapturedAt); age > staleAfter {
			s.logger.Warn("session position fix is stale",
				slog.String("session", id.String()),
				slog.Duration("age", age.Truncate(time.Second)),
				slog.String("source", string(sample.Source)))
		}
	}
}

func (s *Service) logStatus(context.Context) {
	s.sessionLock.RLock()
	count := len(s.sessions)
	s.sessionLock.RUnlock()
	s.logger.Info("session registry status", slog.Int("active_sessions", count))
}

func (s *Service) stopAllSessions() {
	s.sessionLock.Lock()
	defer s.sessionLock.Unlock()
	for id, sess := range s.sessions {
		sess.Stop()
		delete(s.sessions, id)
	}
}
