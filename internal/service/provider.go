// SPDX-FileCopyrightText: The courier-guide authors
//
// SPDX-License-Identifier: MIT

package service

import (
	"fmt"
	"strings"

	"github.com/venueops/courier-guide/internal/http"
	"github.com/venueops/courier-guide/internal/logger"
	"github.com/venueops/courier-guide/internal/posbus"
	"github.com/venueops/courier-guide/internal/posbus/provider/geoclue"
	"github.com/venueops/courier-guide/internal/posbus/provider/gpsdsat"
	"github.com/venueops/courier-guide/internal/posbus/provider/wifipos"
)

// createStream assembles the ranked position stream from the configured
// providers. A failing indoor provider degrades to fallback-only instead of
// refusing to start, the fallback provider is mandatory.
func (s *Service) createStream() (*posbus.Stream, error) {
	var primary posbus.Provider

	if !s.config.Positioning.DisableIndoor {
		indoor, err := wifipos.New(http.New(s.logger), s.config.Positioning.VenueAPIEndpoint,
			s.config.Positioning.VenueAPIKey)
		if err != nil {
			s.logger.Error("failed to create indoor positioning provider", logger.Err(err))
		} else {
			primary = indoor
		}
	}

	fallback, err := s.selectFallbackProvider()
	if err != nil {
		return nil, err
	}

	stream := posbus.New(primary, fallback, s.logger)
	stream.InitTimeout = s.config.Navigation.ProviderTimeout
	stream.MinInterval = s.config.Navigation.MinSampleInterval
	return stream, nil
}

func (s *Service) selectFallbackProvider() (posbus.Provider, error) {
	switch strings.ToLower(s.config.Positioning.Fallback) {
	case "gpsd":
		return gpsdsat.New(s.config.Positioning.GPSDHost, s.config.Positioning.GPSDPort), nil
	case "geoclue":
		return geoclue.New(), nil
	default:
		return nil, fmt.Errorf("unsupported fallback provider: %s", s.config.Positioning.Fallback)
	}
}
