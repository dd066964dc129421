// SPDX-FileCopyrightText: The courier-guide authors
//
// SPDX-License-Identifier: MIT

// Package wifipos implements the primary indoor position provider. It scans
// nearby wifi access points and resolves them against the venue positioning
// API, which knows the building's access point layout and returns a fix with
// floor information.
package wifipos

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mdlayher/wifi"

	"github.com/venueops/courier-guide/internal/http"
	"github.com/venueops/courier-guide/internal/posbus"
)

const (
	name          = "wifipos"
	lookupTimeout = time.Second * 5
	wifiScanTime  = time.Second * 10
	lookupPeriod  = time.Second * 2
)

// Provider resolves wifi fingerprints into indoor position samples.
type Provider struct {
	name     string
	endpoint string
	apiKey   string
	http     *http.Client
	wlan     *wifi.Client
	period   time.Duration
	locateFn func(ctx context.Context) (posbus.Sample, error)
	scanFn   func() error

	apLock sync.RWMutex
	aps    []WirelessNetwork
}

// APIResult matches the venue positioning API response.
type APIResult struct {
	Location struct {
		Latitude  float64 `json:"lat"`
		Longitude float64 `json:"lng"`
	} `json:"location"`
	Accuracy   float64  `json:"accuracy"`
	FloorLevel *int     `json:"floorLevel"`
	Altitude   *float64 `json:"altitude"`
	CapturedAt int64    `json:"capturedAtMillis"`
}

// WirelessNetwork is a single scanned access point in the geolocate request.
type WirelessNetwork struct {
	LastSeen       int64  `json:"age"`
	MACAddress     string `json:"macAddress"`
	SignalStrength int32  `json:"signalStrength"`
}

// New creates the indoor provider. It fails when the venue API endpoint is
// unset or no wifi hardware is available, which triggers the satellite
// fallback in the position stream.
func New(httpClient *http.Client, endpoint, apiKey string) (*Provider, error) {
	if httpClient == nil {
		return nil, fmt.Errorf("http client is required")
	}
	if endpoint == "" {
		return nil, fmt.Errorf("venue API endpoint is not configured")
	}
	wlan, err := wifi.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create wifi client: %w", err)
	}

	provider := &Provider{
		name:     name,
		endpoint: endpoint,
		apiKey:   apiKey,
		http:     httpClient,
		wlan:     wlan,
		period:   lookupPeriod,
	}
	provider.locateFn = provider.locate
	provider.scanFn = provider.scan
	return provider, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return p.name
}

// GetOnce scans and resolves a single indoor fix.
func (p *Provider) GetOnce(ctx context.Context) (posbus.Sample, error) {
	if err := p.scanFn(); err != nil {
		return posbus.Sample{}, fmt.Errorf("failed to scan wifi access points: %w", err)
	}
	return p.locateFn(ctx)
}

// Watch streams indoor fixes until the context ends. The initial scan happens
// before the channel is returned, so unusable hardware or a dead venue API
// surface as an initialization error rather than a silent empty stream.
func (p *Provider) Watch(ctx context.Context) (<-chan posbus.Sample, error) {
	if err := p.scanFn(); err != nil {
		return nil, fmt.Errorf("failed to scan wifi access points: %w", err)
	}
	if _, err := p.locateFn(ctx); err != nil {
		return nil, fmt.Errorf("venue positioning API is not reachable: %w", err)
	}

	out := make(chan posbus.Sample)
	go p.monitorAccessPoints(ctx)
	go func() {
		defer close(out)
		firstRun := true
		for {
			if !firstRun {
				select {
				case <-ctx.Done():
					return
				case <-time.After(p.period):
				}
			}
			firstRun = false

			sample, err := p.locateFn(ctx)
			if err != nil {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case out <- sample:
			}
		}
	}()
	return out, nil
}

// monitorAccessPoints refreshes the scanned access point list in the
// background while a watch is active.
func (p *Provider) monitorAccessPoints(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(wifiScanTime):
		}
		_ = p.scanFn()
	}
}

func (p *Provider) scan() error {
	list, err := p.wifiAccessPoints()
	if err != nil {
		return err
	}
	if len(list) == 0 {
		return fmt.Errorf("no wifi access points visible")
	}
	p.apLock.Lock()
	p.aps = list
	p.apLock.Unlock()
	return nil
}

func (p *Provider) wifiAccessPoints() ([]WirelessNetwork, error) {
	var checkIfaces []*wifi.Interface
	var list []WirelessNetwork

	if p.wlan == nil {
		return nil, fmt.Errorf("no wifi client available")
	}
	ifaces, err := p.wlan.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if iface.Type != wifi.InterfaceTypeStation {
			continue
		}
		checkIfaces = append(checkIfaces, iface)
	}
	if len(checkIfaces) == 0 {
		return nil, fmt.Errorf("no wifi station interface found")
	}

	for _, iface := range checkIfaces {
		aps, err := p.wlan.AccessPoints(iface)
		if err != nil {
			continue
		}
		for _, ap := range aps {
			if ap.SSID == "" || ap.SSID[0] == '\x00' || strings.HasSuffix(ap.SSID, "_nomap") {
				continue
			}
			list = append(list, WirelessNetwork{
				SignalStrength: int32(ap.Signal / 100),
				MACAddress:     ap.BSSID.String(),
				LastSeen:       ap.LastSeen.Milliseconds(),
			})
		}
	}

	return list, nil
}

func (p *Provider) locate(ctx context.Context) (posbus.Sample, error) {
	p.apLock.RLock()
	wifiList := p.aps
	p.apLock.RUnlock()

	type request struct {
		Accesspoints []WirelessNetwork `json:"wifiAccessPoints"`
	}
	bodyBuffer := bytes.NewBuffer(nil)
	if err := json.NewEncoder(bodyBuffer).Encode(request{Accesspoints: wifiList}); err != nil {
		return posbus.Sample{}, fmt.Errorf("failed to encode wifi list to JSON: %w", err)
	}

	headers := map[string]string{"Content-Type": "application/json"}
	if p.apiKey != "" {
		headers["Authorization"] = "Bearer " + p.apiKey
	}

	ctxHTTP, cancelHTTP := context.WithTimeout(ctx, lookupTimeout)
	defer cancelHTTP()
	result := new(APIResult)
	if _, err := p.http.Post(ctxHTTP, p.endpoint, result, bodyBuffer, headers); err != nil {
		return posbus.Sample{}, fmt.Errorf("failed to get position data from venue API: %w", err)
	}

	capturedAt := time.Now()
	if result.CapturedAt > 0 {
		capturedAt = time.UnixMilli(result.CapturedAt)
	}
	return posbus.Sample{
		Lat:            result.Location.Latitude,
		Lon:            result.Location.Longitude,
		Alt:            result.Altitude,
		FloorLevel:     result.FloorLevel,
		AccuracyMeters: result.Accuracy,
		CapturedAt:     capturedAt,
		Source:         posbus.SourcePrimaryIndoor,
	}, nil
}
