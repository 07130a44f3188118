package config

import "os"

// ApplyEnvConfig applies the AGENTLINK_* environment variables to cfg,
// skipping the flags in changed.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("listen", os.Getenv("AGENTLINK_LISTEN"), &cfg.ListenAddr)
	if err := s.setIntFromString("port", os.Getenv("AGENTLINK_PORT"), &cfg.BasePort); err != nil {
		return err
	}
	if err := s.setIntFromString("agents", os.Getenv("AGENTLINK_AGENTS"), &cfg.Agents); err != nil {
		return err
	}
	s.setString("network", os.Getenv("AGENTLINK_NETWORK"), &cfg.Network)
	s.setString("tls-cert", os.Getenv("AGENTLINK_TLS_CERT"), &cfg.TLSCert)
	s.setString("tls-key", os.Getenv("AGENTLINK_TLS_KEY"), &cfg.TLSKey)

	s.setBoolFromString("sync", os.Getenv("AGENTLINK_SYNC"), &cfg.Sync)
	if err := s.setDuration("time-step", os.Getenv("AGENTLINK_TIME_STEP"), &cfg.TimeStep); err != nil {
		return err
	}
	if err := s.setDuration("image-interval", os.Getenv("AGENTLINK_IMAGE_INTERVAL"), &cfg.ImageInterval); err != nil {
		return err
	}
	if err := s.setDuration("sync-timeout", os.Getenv("AGENTLINK_SYNC_TIMEOUT"), &cfg.SyncTimeout); err != nil {
		return err
	}
	s.setBoolFromString("lazy-disconnect", os.Getenv("AGENTLINK_LAZY_DISCONNECT"), &cfg.LazyConnect)

	if err := s.setIntFromString("image-width", os.Getenv("AGENTLINK_IMAGE_WIDTH"), &cfg.ImageWidth); err != nil {
		return err
	}
	if err := s.setIntFromString("image-height", os.Getenv("AGENTLINK_IMAGE_HEIGHT"), &cfg.ImageHeight); err != nil {
		return err
	}

	s.setBoolFromString("send-grid-position", os.Getenv("AGENTLINK_SEND_GRID_POSITION"), &cfg.SendGridPosition)
	s.setBoolFromString("send-eye-position", os.Getenv("AGENTLINK_SEND_EYE_POSITION"), &cfg.SendEyePosition)
	s.setBoolFromString("send-head-motion", os.Getenv("AGENTLINK_SEND_HEAD_MOTION"), &cfg.SendHeadMotion)
	s.setBoolFromString("send-object-position", os.Getenv("AGENTLINK_SEND_OBJECT_POSITION"), &cfg.SendObjectPosition)
	s.setBoolFromString("send-images", os.Getenv("AGENTLINK_SEND_IMAGES"), &cfg.SendImages)

	if err := s.setFloatFromString("movement-speed", os.Getenv("AGENTLINK_MOVEMENT_SPEED"), &cfg.MovementSpeed); err != nil {
		return err
	}
	if err := s.setFloatFromString("fov-horizontal", os.Getenv("AGENTLINK_FOV_HORIZONTAL"), &cfg.FOVHorizontal); err != nil {
		return err
	}
	if err := s.setFloatFromString("fov-vertical", os.Getenv("AGENTLINK_FOV_VERTICAL"), &cfg.FOVVertical); err != nil {
		return err
	}

	s.setString("agent-version", os.Getenv("AGENTLINK_VERSION"), &cfg.Version)
	s.setString("log-level", os.Getenv("AGENTLINK_LOG_LEVEL"), &cfg.LogLevel)
	s.setString("log-format", os.Getenv("AGENTLINK_LOG_FORMAT"), &cfg.LogFormat)
	s.setBoolFromString("metrics", os.Getenv("AGENTLINK_METRICS"), &cfg.Metrics)
	s.setString("monitor", os.Getenv("AGENTLINK_MONITOR"), &cfg.MonitorAddr)

	return nil
}
