// SPDX-FileCopyrightText: The courier-guide authors
//
// SPDX-License-Identifier: MIT

// Package geoclue implements a fallback position provider backed by the
// GeoClue2 system service. It is meant for bench and depot setups where no
// GPS receiver is attached but the host has a location service.
package geoclue

import (
	"context"
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/venueops/courier-guide/internal/posbus"
)

const (
	name = "geoclue"

	geoclueService = "org.freedesktop.GeoClue2"
	managerPath    = "/org/freedesktop/GeoClue2/Manager"
	managerIface   = "org.freedesktop.GeoClue2.Manager"
	clientIface    = "org.freedesktop.GeoClue2.Client"
	locationIface  = "org.freedesktop.GeoClue2.Location"
	updatedMember  = "LocationUpdated"

	desktopID     = "courier-guide"
	accuracyExact = uint32(8)

	signalBufferSize = 8

	// GeoClue reports this sentinel (min double) when no altitude is known.
	unknownAltitude = -1e300
)

// Provider streams position fixes from GeoClue2 over the system bus.
type Provider struct {
	name string
}

// New returns a GeoClue2-backed provider.
func New() *Provider {
	return &Provider{name: name}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return p.name
}

// GetOnce starts a GeoClue client and returns the first delivered fix.
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
			return posbus.Sample{}, fmt.Errorf("geoclue stream ended before a fix was received")
		}
		return sample, nil
	}
}

// Watch registers a GeoClue client on the system bus and streams location
// updates until the context ends.
func (p *Provider) Watch(ctx context.Context) (<-chan posbus.Sample, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}

	clientPath, err := p.startClient(conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	if err = conn.AddMatchSignal(
		dbus.WithMatchInterface(clientIface),
		dbus.WithMatchMember(updatedMember),
	); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to subscribe to location updates: %w", err)
	}

	sigCh := make(chan *dbus.Signal, signalBufferSize)
	conn.Signal(sigCh)

	out := make(chan posbus.Sample)
	go func() {
		defer close(out)
		defer func() {
			conn.RemoveSignal(sigCh)
			_ = conn.Object(geoclueService, clientPath).Call(clientIface+".Stop", 0).Err
			_ = conn.Close()
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case sgn, ok := <-sigCh:
				if !ok {
					return
				}
				sample, err := p.sampleFromSignal(conn, sgn)
				if err != nil {
					continue
				}
				select {
				case <-ctx.Done():
					return
				case out <- sample:
				}
			}
		}
	}()

	return out, nil
}

func (p *Provider) startClient(conn *dbus.Conn) (dbus.ObjectPath, error) {
	var clientPath dbus.ObjectPath
	manager := conn.Object(geoclueService, managerPath)
	if err := manager.Call(managerIface+".GetClient", 0).Store(&clientPath); err != nil {
		return "", fmt.Errorf("failed to get geoclue client: %w", err)
	}

	client := conn.Object(geoclueService, clientPath)
	if err := client.SetProperty(clientIface+".DesktopId", dbus.MakeVariant(desktopID)); err != nil {
		return "", fmt.Errorf("failed to set desktop id: %w", err)
	}
	if err := client.SetProperty(clientIface+".RequestedAccuracyLevel",
		dbus.MakeVariant(accuracyExact)); err != nil {
		return "", fmt.Errorf("failed to set requested accuracy level: %w", err)
	}
	if err := client.Call(clientIface+".Start", 0).Err; err != nil {
		return "", fmt.Errorf("failed to start geoclue client: %w", err)
	}

	return clientPath, nil
}

func (p *Provider) sampleFromSignal(conn *dbus.Conn, sgn *dbus.Signal) (posbus.Sample, error) {
	if sgn.Name != clientIface+"."+updatedMember || len(sgn.Body) != 2 {
		return posbus.Sample{}, fmt.Errorf("unexpected signal: %s", sgn.Name)
	}
	locationPath, ok := sgn.Body[1].(dbus.ObjectPath)
	if !ok {
		return posbus.Sample{}, fmt.Errorf("signal body does not carry a location path")
	}

	location := conn.Object(geoclueService, locationPath)
	lat, err := floatProperty(location, "Latitude")
	if err != nil {
		return posbus.Sample{}, err
	}
	lon, err := floatProperty(location, "Longitude")
	if err != nil {
		return posbus.Sample{}, err
	}
	acc, err := floatProperty(location, "Accuracy")
	if err != nil {
		return posbus.Sample{}, err
	}

	sample := posbus.Sample{
		Lat:            lat,
		Lon:            lon,
		AccuracyMeters: acc,
		CapturedAt:     time.Now(),
		Source:         posbus.SourceFallbackSatellite,
	}
	if alt, err := floatProperty(location, "Altitude"); err == nil && alt > unknownAltitude {
		sample.Alt = posbus.Float(alt)
	}
	if heading, err := floatProperty(location, "Heading"); err == nil && heading >= 0 {
		sample.HeadingDegrees = posbus.Float(heading)
	}
	return sample, nil
}

func floatProperty(obj dbus.BusObject, property string) (float64, error) {
	variant, err := obj.GetProperty(locationIface + "." + property)
	if err != nil {
		return 0, fmt.Errorf("failed to get location property %s: %w", property, err)
	}
	value, ok := variant.Value().(float64)
	if !ok {
		return 0, fmt.Errorf("location property %s is not a float", property)
	}
	return value, nil
}
