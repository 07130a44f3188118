// Package config holds the agentlink server configuration: defaults, a TOML
// or YAML file, AGENTLINK_* environment variables and command line flags,
// in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/raskyld/agentlink"
	"github.com/raskyld/agentlink/pkg/framesync"
)

const DefaultVersion = "1.0"

var ErrInvalid = errors.New("config: invalid")

// Config of an agentlink server.
type Config struct {
	ListenAddr string
	BasePort   int
	Agents     int
	Network    string
	TLSCert    string
	TLSKey     string

	Sync          bool
	TimeStep      time.Duration
	ImageInterval time.Duration
	SyncTimeout   time.Duration
	LazyConnect   bool

	ImageWidth  int
	ImageHeight int

	SendGridPosition   bool
	SendEyePosition    bool
	SendHeadMotion     bool
	SendObjectPosition bool
	SendImages         bool

	MovementSpeed float64
	FOVHorizontal float64
	FOVVertical   float64

	Version     string
	LogLevel    string
	LogFormat   string
	Metrics     bool
	MonitorAddr string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	obs := framesync.DefaultObservations()
	return Config{
		ListenAddr: "0.0.0.0",
		BasePort:   agentlink.DefaultPort,
		Agents:     1,
		Network:    agentlink.NetworkTCP.String(),

		TimeStep:      framesync.DefaultTimeStep,
		ImageInterval: framesync.DefaultImageInterval,
		SyncTimeout:   framesync.DefaultSyncTimeout,

		ImageWidth:  128,
		ImageHeight: 128,

		SendGridPosition:   obs.GridPosition,
		SendEyePosition:    obs.EyePosition,
		SendHeadMotion:     obs.HeadMotion,
		SendObjectPosition: obs.ObjectPosition,
		SendImages:         obs.Images,

		MovementSpeed: 10,
		FOVHorizontal: 120,
		FOVVertical:   90,

		Version:   DefaultVersion,
		LogLevel:  "info",
		LogFormat: "console",
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.BasePort >= 0 && c.BasePort+c.Agents <= 65535, "base port %d out of range for %d agents", c.BasePort, c.Agents)
	check(c.Agents >= 0, "agent count must not be negative")

	network, err := agentlink.ParseNetwork(c.Network)
	if err != nil {
		errs = append(errs, err)
	}
	if network == agentlink.NetworkQUIC {
		check(c.TLSCert != "" && c.TLSKey != "", "quic requires tls-cert and tls-key")
	}

	check(c.TimeStep > 0, "time step must be positive")
	check(c.ImageInterval > 0, "image interval must be positive")
	check(c.SyncTimeout > 0, "sync timeout must be positive")
	check(c.ImageWidth > 0 && c.ImageHeight > 0, "image size must be positive")
	check(c.MovementSpeed > 0, "movement speed must be positive")
	check(c.FOVHorizontal > 0 && c.FOVHorizontal < 180, "horizontal field of view must be within (0, 180)")
	check(c.FOVVertical > 0 && c.FOVVertical < 180, "vertical field of view must be within (0, 180)")

	switch strings.ToLower(c.LogFormat) {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// NetworkKind returns the parsed network, TCP when unknown.
func (c *Config) NetworkKind() agentlink.Network {
	n, _ := agentlink.ParseNetwork(c.Network)
	return n
}

func (c *Config) Observations() framesync.Observations {
	return framesync.Observations{
		GridPosition:   c.SendGridPosition,
		EyePosition:    c.SendEyePosition,
		HeadMotion:     c.SendHeadMotion,
		ObjectPosition: c.SendObjectPosition,
		Images:         c.SendImages,
	}
}

// Tuning is the subset of the configuration applied on reload.
func (c *Config) Tuning() framesync.Tuning {
	return framesync.Tuning{
		ImageInterval: c.ImageInterval,
		SyncTimeout:   c.SyncTimeout,
		Observations:  c.Observations(),
	}
}

// configSetter applies values unless the matching flag was set explicitly.
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

func (s *configSetter) setInt(flag string, value *int, dst *int) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

func (s *configSetter) setFloat(flag string, value float64, dst *float64) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// The FromString variants parse environment variables.

func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = i
	return nil
}

func (s *configSetter) setFloatFromString(flag, value string, dst *float64) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	s.setFloat(flag, f, dst)
	return nil
}

// setBoolFromString accepts "true" and "1" as true, anything else as false.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}
