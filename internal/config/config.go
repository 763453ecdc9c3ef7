// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package config carries the tunables of a provisioning run: transport
// timeouts, the virtual slot allocation policy and the HMC REST endpoint
// settings. Values not set in a config file keep their defaults.
package config

import (
	"os"
	"time"

	"github.com/juju/errors"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultRESTPort is the HMC REST API port.
	DefaultRESTPort = 12443

	// DefaultClientSlotFloor is the lowest virtual slot considered for
	// client adapters. Slots 0 and 1 are reserved by the firmware.
	DefaultClientSlotFloor = 2

	// DefaultServerSlotOffset is added to the client partition ID to pick
	// the preferred server adapter slot on the VIOS.
	DefaultServerSlotOffset = 10
)

// Config holds every tunable of a provisioning operation.
type Config struct {
	// ConnectTimeout bounds establishing and authenticating one command
	// channel or REST connection.
	ConnectTimeout time.Duration `yaml:"connect-timeout"`
	// CommandTimeout bounds a single remote command execution.
	CommandTimeout time.Duration `yaml:"command-timeout"`
	// OperationTimeout bounds one whole provisioning operation. An
	// in-flight remote command is allowed to finish before the deadline
	// is acted on.
	OperationTimeout time.Duration `yaml:"operation-timeout"`
	// SettleDelay is how long the VIOS is given to surface a freshly
	// added server adapter before the vhost lookup.
	SettleDelay time.Duration `yaml:"settle-delay"`

	// DialAttempts is how often a command-channel dial is attempted
	// before giving up. Authentication rejections are never retried.
	DialAttempts int `yaml:"dial-attempts"`

	// RESTPort is the HMC session API port.
	RESTPort int `yaml:"rest-port"`
	// SkipTLSVerify disables certificate verification against the HMC
	// REST endpoint. Required for the self-signed certificates most HMCs
	// present; verification is never bypassed unless this is set.
	SkipTLSVerify bool `yaml:"skip-tls-verify"`
	// SessionLifetime is how long an HMC API session token is trusted
	// before re-authenticating.
	SessionLifetime time.Duration `yaml:"session-lifetime"`

	// ClientSlotFloor is the lowest client adapter slot the allocator
	// will pick.
	ClientSlotFloor int `yaml:"client-slot-floor"`
	// ServerSlotOffset is added to the partition ID for the preferred
	// server adapter slot.
	ServerSlotOffset int `yaml:"server-slot-offset"`
}

// Default returns the configuration used when the caller supplies nothing.
func Default() Config {
	return Config{
		ConnectTimeout:   30 * time.Second,
		CommandTimeout:   5 * time.Minute,
		OperationTimeout: 30 * time.Minute,
		SettleDelay:      5 * time.Second,
		DialAttempts:     3,
		RESTPort:         DefaultRESTPort,
		SessionLifetime:  15 * time.Minute,
		ClientSlotFloor:  DefaultClientSlotFloor,
		ServerSlotOffset: DefaultServerSlotOffset,
	}
}

// ReadFile loads a YAML config file over the defaults.
func ReadFile(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Annotatef(err, "reading config %q", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Annotatef(err, "parsing config %q", path)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Annotatef(err, "config %q", path)
	}
	return cfg, nil
}

// Validate reports the first nonsensical setting found.
func (c Config) Validate() error {
	if c.ConnectTimeout <= 0 {
		return errors.NotValidf("connect timeout %v", c.ConnectTimeout)
	}
	if c.CommandTimeout <= 0 {
		return errors.NotValidf("command timeout %v", c.CommandTimeout)
	}
	if c.OperationTimeout <= 0 {
		return errors.NotValidf("operation timeout %v", c.OperationTimeout)
	}
	if c.SettleDelay < 0 {
		return errors.NotValidf("settle delay %v", c.SettleDelay)
	}
	if c.DialAttempts < 1 {
		return errors.NotValidf("dial attempts %d", c.DialAttempts)
	}
	if c.RESTPort < 1 || c.RESTPort > 65535 {
		return errors.NotValidf("REST port %d", c.RESTPort)
	}
	if c.SessionLifetime <= 0 {
		return errors.NotValidf("session lifetime %v", c.SessionLifetime)
	}
	if c.ClientSlotFloor < 2 {
		// Slots 0 and 1 hold the firmware's serial adapters.
		return errors.NotValidf("client slot floor %d", c.ClientSlotFloor)
	}
	if c.ServerSlotOffset < 1 {
		return errors.NotValidf("server slot offset %d", c.ServerSlotOffset)
	}
	return nil
}
