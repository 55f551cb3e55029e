// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2024-2026 Canonical Ltd
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 3 as
 * published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package overlord

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/devhostd/devhostd/osutil"
	"github.com/devhostd/devhostd/ports"
)

// Config is the optional daemon configuration read from config.yaml in
// the data directory. Everything has a working default.
type Config struct {
	// Ranges overrides the per-class port ranges, e.g.
	//   ranges:
	//     node: {lo: 3100, hi: 3200}
	Ranges map[string]ConfigRange `yaml:"ranges,omitempty"`

	// Images overrides the per-class container images.
	Images map[string]string `yaml:"images,omitempty"`

	ReadyGraceMs       int `yaml:"ready_grace_ms,omitempty"`
	ShutdownDeadlineMs int `yaml:"shutdown_deadline_ms,omitempty"`

	LogRingCapacity int `yaml:"log_ring_capacity,omitempty"`
	LogRingMaxBytes int `yaml:"log_ring_max_bytes,omitempty"`

	RetentionGraceMin int `yaml:"retention_grace_min,omitempty"`
	RecordTTLMin      int `yaml:"record_ttl_min,omitempty"`
}

// ConfigRange is one inclusive port range in the configuration file.
type ConfigRange struct {
	Lo int `yaml:"lo"`
	Hi int `yaml:"hi"`
}

// ReadConfig loads the configuration file; a missing file yields the
// zero configuration.
func ReadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Config{}, nil
	}
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse %s: %v", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %v", path, err)
	}
	return &cfg, nil
}

func (cfg *Config) validate() error {
	for class, rng := range cfg.Ranges {
		if _, err := ports.ParseRuntimeClass(class); err != nil {
			return err
		}
		if rng.Lo < 1024 || rng.Hi > 65535 || rng.Lo > rng.Hi {
			return fmt.Errorf("bad range %d-%d for class %q", rng.Lo, rng.Hi, class)
		}
		if rng.Lo <= ports.SystemReservedHi && rng.Hi >= ports.SystemReservedLo {
			return fmt.Errorf("range %d-%d for class %q overlaps the system-reserved range", rng.Lo, rng.Hi, class)
		}
	}
	return nil
}

// portRanges merges the configured overrides over the defaults.
func (cfg *Config) portRanges() map[ports.RuntimeClass]ports.Range {
	ranges := ports.DefaultRanges()
	for class, rng := range cfg.Ranges {
		c, err := ports.ParseRuntimeClass(class)
		if err != nil {
			continue
		}
		ranges[c] = ports.Range{Lo: rng.Lo, Hi: rng.Hi}
	}
	return ranges
}

// managerOptions folds the configuration into manager options.
func (cfg *Config) managerOptions() ManagerOptions {
	opts := ManagerOptions{
		RingCapacity: cfg.LogRingCapacity,
		RingMaxBytes: cfg.LogRingMaxBytes,
		Images:       cfg.Images,
	}
	if cfg.ReadyGraceMs > 0 {
		opts.ReadyGrace = time.Duration(cfg.ReadyGraceMs) * time.Millisecond
	}
	if cfg.ShutdownDeadlineMs > 0 {
		opts.ShutdownDeadline = time.Duration(cfg.ShutdownDeadlineMs) * time.Millisecond
	}
	if cfg.RetentionGraceMin > 0 {
		opts.RetentionGrace = time.Duration(cfg.RetentionGraceMin) * time.Minute
	}
	if cfg.RecordTTLMin > 0 {
		opts.RecordTTL = time.Duration(cfg.RecordTTLMin) * time.Minute
	}
	return opts
}

// envManagerOptions overlays the operational environment variables on
// top of the file-derived options; the environment wins.
func envManagerOptions(opts ManagerOptions) ManagerOptions {
	opts.ShutdownDeadline = osutil.GetenvDuration("DEVHOSTD_SHUTDOWN_DEADLINE", opts.ShutdownDeadline)
	opts.RetentionGrace = osutil.GetenvDuration("DEVHOSTD_RETENTION_GRACE", opts.RetentionGrace)
	if n := osutil.GetenvInt64("DEVHOSTD_RING_CAPACITY"); n > 0 {
		opts.RingCapacity = int(n)
	}
	return opts
}
