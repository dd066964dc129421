// SPDX-FileCopyrightText: The courier-guide authors
//
// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kkyr/fig"
)

const configEnv = "COURIERGUIDE"

// Config represents the application's configuration structure.
type Config struct {
	Locale     string     `fig:"locale"`
	LogLevel   slog.Level `fig:"loglevel" default:"0"`
	ListenAddr string     `fig:"listen_addr" default:":8425"`

	Navigation struct {
		// Horizontal distance below which a courier counts as at the target
		ArrivalThresholdMeters float64 `fig:"arrival_threshold_m" default:"3.0"`
		// Continuous dwell time inside the threshold before arrival is declared
		ConfirmationWindow time.Duration `fig:"confirmation_window" default:"2s"`
		// Assumed height of one building floor, used when no altitude data exists
		FloorHeightMeters float64       `fig:"floor_height_m" default:"4.0"`
		MinScale          float64       `fig:"min_scale" default:"0.3"`
		MaxScale          float64       `fig:"max_scale" default:"1.5"`
		MinSampleInterval time.Duration `fig:"min_sample_interval" default:"100ms"`
		ProviderTimeout   time.Duration `fig:"provider_init_timeout" default:"5s"`
		StaleFixAfter     time.Duration `fig:"stale_fix_after" default:"30s"`
	} `fig:"navigation"`

	Positioning struct {
		VenueAPIEndpoint string `fig:"venue_api_endpoint"`
		VenueAPIKey      string `fig:"venue_api_key"`
		GPSDHost         string `fig:"gpsd_host" default:"localhost"`
		GPSDPort         string `fig:"gpsd_port" default:"2947"`
		// Allowed values: gpsd, geoclue
		Fallback      string `fig:"fallback" default:"gpsd"`
		DisableIndoor bool   `fig:"disable_indoor"`
	} `fig:"positioning"`
}

// NewFromFile loads the configuration from the given directory and file name.
func NewFromFile(path, file string) (*Config, error) {
	conf := new(Config)
	_, err := os.Stat(filepath.Join(path, file))
	if err != nil {
		return conf, fmt.Errorf("failed to read Config: %w", err)
	}
	if err = fig.Load(conf, fig.Dirs(path), fig.File(file), fig.UseEnv(configEnv)); err != nil {
		return conf, fmt.Errorf("failed to load Config: %w", err)
	}

	return conf, conf.Validate()
}

// New loads the configuration from the environment only.
func New() (*Config, error) {
	conf := new(Config)
	if err := fig.Load(conf, fig.AllowNoFile(), fig.UseEnv(configEnv)); err != nil {
		return conf, fmt.Errorf("failed to load Config: %w", err)
	}

	return conf, conf.Validate()
}

// Validate checks configured values for consistency and fills derived defaults.
func (c *Config) Validate() error {
	if c.Navigation.ArrivalThresholdMeters <= 0 {
		return fmt.Errorf("invalid arrival threshold: %f", c.Navigation.ArrivalThresholdMeters)
	}
	if c.Navigation.ConfirmationWindow <= 0 {
		return fmt.Errorf("invalid confirmation window: %s", c.Navigation.ConfirmationWindow)
	}
	if c.Navigation.FloorHeightMeters <= 0 {
		return fmt.Errorf("invalid floor height: %f", c.Navigation.FloorHeightMeters)
	}
	if c.Navigation.MinScale <= 0 || c.Navigation.MaxScale < c.Navigation.MinScale {
		return fmt.Errorf("invalid scale bounds: [%f, %f]", c.Navigation.MinScale, c.Navigation.MaxScale)
	}
	switch c.Positioning.Fallback {
	case "gpsd", "geoclue":
	default:
		return fmt.Errorf("invalid fallback provider: %s", c.Positioning.Fallback)
	}
	if c.Locale == "" {
		c.Locale = getLocale()
	}

	return nil
}

func getLocale() string {
	locale := os.Getenv("LC_MESSAGES")
	if idx := strings.Index(locale, "."); idx != -1 {
		lang := locale[:idx]
		return strings.ReplaceAll(lang, "_", "-")
	}
	return locale
}
