package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// FileConfig mirrors Config with durations as strings. Unset keys keep the
// value they had.
type FileConfig struct {
	ListenAddr string `toml:"listen_addr" yaml:"listen_addr"`
	BasePort   *int   `toml:"base_port" yaml:"base_port"`
	Agents     *int   `toml:"agents" yaml:"agents"`
	Network    string `toml:"network" yaml:"network"`
	TLSCert    string `toml:"tls_cert" yaml:"tls_cert"`
	TLSKey     string `toml:"tls_key" yaml:"tls_key"`

	Sync          *bool  `toml:"sync" yaml:"sync"`
	TimeStep      string `toml:"time_step" yaml:"time_step"`
	ImageInterval string `toml:"image_interval" yaml:"image_interval"`
	SyncTimeout   string `toml:"sync_timeout" yaml:"sync_timeout"`
	LazyConnect   *bool  `toml:"lazy_disconnect" yaml:"lazy_disconnect"`

	ImageWidth  *int `toml:"image_width" yaml:"image_width"`
	ImageHeight *int `toml:"image_height" yaml:"image_height"`

	Send struct {
		GridPosition   *bool `toml:"grid_position" yaml:"grid_position"`
		EyePosition    *bool `toml:"eye_position" yaml:"eye_position"`
		HeadMotion     *bool `toml:"head_motion" yaml:"head_motion"`
		ObjectPosition *bool `toml:"object_position" yaml:"object_position"`
		Images         *bool `toml:"images" yaml:"images"`
	} `toml:"send" yaml:"send"`

	MovementSpeed float64 `toml:"movement_speed" yaml:"movement_speed"`
	FOVHorizontal float64 `toml:"fov_horizontal" yaml:"fov_horizontal"`
	FOVVertical   float64 `toml:"fov_vertical" yaml:"fov_vertical"`

	Version     string `toml:"version" yaml:"version"`
	LogLevel    string `toml:"log_level" yaml:"log_level"`
	LogFormat   string `toml:"log_format" yaml:"log_format"`
	Metrics     *bool  `toml:"metrics" yaml:"metrics"`
	MonitorAddr string `toml:"monitor_addr" yaml:"monitor_addr"`
}

// LoadFileConfig reads a TOML (.toml) or YAML (.yaml, .yml) file.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		err = toml.Unmarshal(b, &fc)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &fc)
	default:
		return fc, fmt.Errorf("unsupported config file extension %q", ext)
	}
	if err != nil {
		return fc, fmt.Errorf("parse %s: %w", path, err)
	}
	return fc, nil
}

// DefaultConfigPath returns ~/.agentlink/config.toml, or "" without a home
// directory.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".agentlink", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies fc to cfg, skipping the flags in changed.
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("listen", fc.ListenAddr, &cfg.ListenAddr)
	s.setInt("port", fc.BasePort, &cfg.BasePort)
	s.setInt("agents", fc.Agents, &cfg.Agents)
	s.setString("network", fc.Network, &cfg.Network)
	s.setString("tls-cert", fc.TLSCert, &cfg.TLSCert)
	s.setString("tls-key", fc.TLSKey, &cfg.TLSKey)

	s.setBool("sync", fc.Sync, &cfg.Sync)
	if err := s.setDuration("time-step", fc.TimeStep, &cfg.TimeStep); err != nil {
		return err
	}
	if err := s.setDuration("image-interval", fc.ImageInterval, &cfg.ImageInterval); err != nil {
		return err
	}
	if err := s.setDuration("sync-timeout", fc.SyncTimeout, &cfg.SyncTimeout); err != nil {
		return err
	}
	s.setBool("lazy-disconnect", fc.LazyConnect, &cfg.LazyConnect)

	s.setInt("image-width", fc.ImageWidth, &cfg.ImageWidth)
	s.setInt("image-height", fc.ImageHeight, &cfg.ImageHeight)

	s.setBool("send-grid-position", fc.Send.GridPosition, &cfg.SendGridPosition)
	s.setBool("send-eye-position", fc.Send.EyePosition, &cfg.SendEyePosition)
	s.setBool("send-head-motion", fc.Send.HeadMotion, &cfg.SendHeadMotion)
	s.setBool("send-object-position", fc.Send.ObjectPosition, &cfg.SendObjectPosition)
	s.setBool("send-images", fc.Send.Images, &cfg.SendImages)

	s.setFloat("movement-speed", fc.MovementSpeed, &cfg.MovementSpeed)
	s.setFloat("fov-horizontal", fc.FOVHorizontal, &cfg.FOVHorizontal)
	s.setFloat("fov-vertical", fc.FOVVertical, &cfg.FOVVertical)

	s.setString("agent-version", fc.Version, &cfg.Version)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setString("log-format", fc.LogFormat, &cfg.LogFormat)
	s.setBool("metrics", fc.Metrics, &cfg.Metrics)
	s.setString("monitor", fc.MonitorAddr, &cfg.MonitorAddr)

	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
