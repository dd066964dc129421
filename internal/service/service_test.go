// SPDX-FileCopyrightText: The courier-guide authors
//
// SPDX-License-Identifier: MIT

package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/vorlif/spreak"
	"golang.org/x/text/language"

	"github.com/venueops/courier-guide/internal/config"
	"github.com/venueops/courier-guide/internal/i18n"
	"github.com/venueops/courier-guide/internal/logger"
	"github.com/venueops/courier-guide/internal/posbus"
	"github.com/venueops/courier-guide/internal/presenter"
	"github.com/venueops/courier-guide/internal/session"
)

// fakeStream is a controllable PositionStream for handler tests.
type fakeStream struct {
	mu        sync.Mutex
	listeners map[int]func(posbus.Sample)
	nextID    int
}

func newFakeStream() *fakeStream {
	return &fakeStream{listeners: make(map[int]func(posbus.Sample))}
}

func (f *fakeStream) Subscribe(_ context.Context, onSample func(posbus.Sample), _ func(error)) func() {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = onSample
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

func (f *fakeStream) Snapshot(context.Context) (posbus.Sample, error) {
	return posbus.Sample{Lat: 52.52, Lon: 13.40, AccuracyMeters: 4}, nil
}

func (f *fakeStream) emit(sample posbus.Sample) {
	f.mu.Lock()
	listeners := make([]func(posbus.Sample), 0, len(f.listeners))
	for _, fn := range f.listeners {
		listeners = append(listeners, fn)
	}
	f.mu.Unlock()
	for _, fn := range listeners {
		fn(sample)
	}
}

func TestNew(t *testing.T) {
	t.Run("new service succeeds with default config", func(t *testing.T) {
		conf, localizer := testConfLang(t)
		if _, err := New(conf, logger.New(conf.LogLevel), localizer); err != nil {
			t.Fatalf("failed to create service: %s", err)
		}
	})
	t.Run("new service fails on unsupported fallback provider", func(t *testing.T) {
		conf, localizer := testConfLang(t)
		conf.Positioning.Fallback = "carrier-pigeon"
		if _, err := New(conf, logger.New(conf.LogLevel), localizer); err == nil {
			t.Error("expected service creation to fail")
		}
	})
}

func TestService_selectFallbackProvider(t *testing.T) {
	tests := []struct {
		fallback string
		wantName string
		wantFail bool
	}{
		{"gpsd", "gpsd", false},
		{"GPSD", "gpsd", false},
		{"geoclue", "geoclue", false},
		{"carrier-pigeon", "", true},
	}
	for _, tc := range tests {
		t.Run(fmt.Sprintf("fallback provider %s", tc.fallback), func(t *testing.T) {
			svc, _ := testService(t, newFakeStream())
			svc.config.Positioning.Fallback = tc.fallback

			provider, err := svc.selectFallbackProvider()
			if tc.wantFail {
				if err == nil {
					t.Error("expected provider selection to fail")
				}
				return
			}
			if err != nil {
				t.Fatalf("failed to select fallback provider: %s", err)
			}
			if provider.Name() != tc.wantName {
				t.Errorf("expected provider %q, got %q", tc.wantName, provider.Name())
			}
		})
	}
}

func TestService_Handlers(t *testing.T) {
	t.Run("create session returns an id", func(t *testing.T) {
		svc, _ := testService(t, newFakeStream())
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/v1/sessions",
			strings.NewReader(`{"lat": 52.5201, "lon": 13.4049, "floor_level": 3}`))

		svc.router().ServeHTTP(rec, req)
		if rec.Code != 201 {
			t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
		}
		var body sessionBody
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode response body: %s", err)
		}
		if body.ID == "" {
			t.Error("expected a session id")
		}
		if body.Phase != "navigating" {
			t.Errorf("expected a navigating session, got %q", body.Phase)
		}
	})
	t.Run("create session rejects invalid coordinates", func(t *testing.T) {
		svc, _ := testService(t, newFakeStream())
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/v1/sessions", strings.NewReader(`{"lat": 91, "lon": 0}`))

		svc.router().ServeHTTP(rec, req)
		if rec.Code != 400 {
			t.Errorf("expected status 400, got %d", rec.Code)
		}
	})
	t.Run("create session rejects a malformed body", func(t *testing.T) {
		svc, _ := testService(t, newFakeStream())
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/v1/sessions", strings.NewReader(`{"lat": `))

		svc.router().ServeHTTP(rec, req)
		if rec.Code != 400 {
			t.Errorf("expected status 400, got %d", rec.Code)
		}
	})
	t.Run("get session reflects delivered samples", func(t *testing.T) {
		stream := newFakeStream()
		svc, _ := testService(t, stream)
		id := createTestSession(t, svc, 52.5201, 13.4049)

		stream.emit(posbus.Sample{Lat: 52.5190, Lon: 13.4049, AccuracyMeters: 3,
			CapturedAt: time.Now(), Source: posbus.SourcePrimaryIndoor})

		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/v1/sessions/"+id, nil)
		svc.router().ServeHTTP(rec, req)
		if rec.Code != 200 {
			t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var body sessionBody
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode response body: %s", err)
		}
		if body.Vector == nil || body.Transform == nil || body.View == nil {
			t.Fatal("expected vector, transform and view in response")
		}
		if body.Vector.DistanceMeters < 100 || body.Vector.DistanceMeters > 150 {
			t.Errorf("unexpected distance: %f", body.Vector.DistanceMeters)
		}
		if body.Sample.Source != "indoor" {
			t.Errorf("unexpected sample source: %q", body.Sample.Source)
		}
	})
	t.Run("get session with unknown id returns 404", func(t *testing.T) {
		svc, _ := testService(t, newFakeStream())
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/v1/sessions/00000000-0000-0000-0000-000000000001", nil)

		svc.router().ServeHTTP(rec, req)
		if rec.Code != 404 {
			t.Errorf("expected status 404, got %d", rec.Code)
		}
	})
	t.Run("get session with malformed id returns 400", func(t *testing.T) {
		svc, _ := testService(t, newFakeStream())
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/v1/sessions/not-a-uuid", nil)

		svc.router().ServeHTTP(rec, req)
		if rec.Code != 400 {
			t.Errorf("expected status 400, got %d", rec.Code)
		}
	})
	t.Run("delete session removes it from the registry", func(t *testing.T) {
		svc, _ := testService(t, newFakeStream())
		id := createTestSession(t, svc, 52.5201, 13.4049)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest("DELETE", "/v1/sessions/"+id, nil)
		svc.router().ServeHTTP(rec, req)
		if rec.Code != 204 {
			t.Fatalf("expected status 204, got %d", rec.Code)
		}

		rec = httptest.NewRecorder()
		req = httptest.NewRequest("GET", "/v1/sessions/"+id, nil)
		svc.router().ServeHTTP(rec, req)
		if rec.Code != 404 {
			t.Errorf("expected status 404 after deletion, got %d", rec.Code)
		}
	})
	t.Run("metrics endpoint serves the registry", func(t *testing.T) {
		svc, _ := testService(t, newFakeStream())
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/metrics", nil)

		svc.router().ServeHTTP(rec, req)
		if rec.Code != 200 {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "courierguide") {
			t.Error("expected courierguide metrics in response")
		}
	})
}

func TestService_staleFixWatchdog(t *testing.T) {
	t.Run("stale fix is logged", func(t *testing.T) {
		stream := newFakeStream()
		svc, logBuf := testService(t, stream)
		createTestSession(t, svc, 52.5201, 13.4049)

		stream.emit(posbus.Sample{Lat: 52.52, Lon: 13.40, AccuracyMeters: 3,
			CapturedAt: time.Now().Add(-time.Minute), Source: posbus.SourceFallbackSatellite})

		svc.staleFixWatchdog(t.Context())
		if !strings.Contains(logBuf.String(), "stale") {
			t.Error("expected a staleness warning in the log output")
		}
	})
	t.Run("fresh fix stays quiet", func(t *testing.T) {
		stream := newFakeStream()
		svc, logBuf := testService(t, stream)
		createTestSession(t, svc, 52.5201, 13.4049)

		stream.emit(posbus.Sample{Lat: 52.52, Lon: 13.40, AccuracyMeters: 3,
			CapturedAt: time.Now(), Source: posbus.SourcePrimaryIndoor})

		svc.staleFixWatchdog(t.Context())
		if strings.Contains(logBuf.String(), "stale") {
			t.Error("expected no staleness warning in the log output")
		}
	})
}

func TestService_stopAllSessions(t *testing.T) {
	t.Run("shutdown stops every session", func(t *testing.T) {
		stream := newFakeStream()
		svc, _ := testService(t, stream)
		createTestSession(t, svc, 52.5201, 13.4049)
		createTestSession(t, svc, 52.5000, 13.4000)

		svc.stopAllSessions()
		svc.sessionLock.RLock()
		defer svc.sessionLock.RUnlock()
		if len(svc.sessions) != 0 {
			t.Errorf("expected empty session registry, got %d entries", len(svc.sessions))
		}
		stream.mu.Lock()
		defer stream.mu.Unlock()
		if len(stream.listeners) != 0 {
			t.Errorf("expected all stream subscriptions to be gone, got %d", len(stream.listeners))
		}
	})
}

func testConfLang(t *testing.T) (*config.Config, *spreak.Localizer) {
	t.Helper()
	conf, err := config.New()
	if err != nil {
		t.Fatalf("failed to create config: %s", err)
	}
	localizer, err := i18n.New("en")
	if err != nil {
		t.Fatalf("failed to create i18n provider: %s", err)
	}
	return conf, localizer
}

func testService(t *testing.T, stream session.PositionStream) (*Service, *bytes.Buffer) {
	t.Helper()
	conf, localizer := testConfLang(t)
	logBuf := bytes.NewBuffer(nil)
	svc := &Service{
		config:    conf,
		logger:    logger.NewLogger(conf.LogLevel, logBuf),
		localizer: localizer,
		presenter: presenter.New(localizer, presenter.NewHumanizer(language.English)),
		stream:    stream,
		runCtx:    t.Context(),
		sessions:  make(map[uuid.UUID]*session.Session),
	}
	return svc, logBuf
}

func createTestSession(t *testing.T, svc *Service, lat, lon float64) string {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/sessions",
		strings.NewReader(fmt.Sprintf(`{"lat": %f, "lon": %f}`, lat, lon)))
	svc.router().ServeHTTP(rec, req)
	if rec.Code != 201 {
		t.Fatalf("failed to create test session: status %d: %s", rec.Code, rec.Body.String())
	}
	var body sessionBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode session response: %s", err)
	}
	t.Cleanup(func() {
		id := uuid.MustParse(body.ID)
		svc.sessionLock.Lock()
		if sess, ok := svc.sessions[id]; ok {
			sess.Stop()
			delete(svc.sessions, id)
		}
		svc.sessionLock.Unlock()
	})
	return body.ID
}
