// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package config_test

import (
	"os"
	"path/filepath"
	"time"

	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/powervm/internal/config"
)

type configSuite struct{}

var _ = gc.Suite(&configSuite{})

func (s *configSuite) TestDefaultValid(c *gc.C) {
	cfg := config.Default()
	c.Assert(cfg.Validate(), jc.ErrorIsNil)
	c.Check(cfg.RESTPort, gc.Equals, config.DefaultRESTPort)
	c.Check(cfg.ClientSlotFloor, gc.Equals, 2)
	c.Check(cfg.ServerSlotOffset, gc.Equals, 10)
	c.Check(cfg.OperationTimeout, gc.Equals, 30*time.Minute)
	c.Check(cfg.SkipTLSVerify, jc.IsFalse)
}

func (s *configSuite) TestReadFileOverridesDefaults(c *gc.C) {
	path := filepath.Join(c.MkDir(), "powervm.yaml")
	err := os.WriteFile(path, []byte(`
command-timeout: 90s
rest-port: 443
skip-tls-verify: true
server-slot-offset: 20
`), 0600)
	c.Assert(err, jc.ErrorIsNil)

	cfg, err := config.ReadFile(path)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(cfg.CommandTimeout, gc.Equals, 90*time.Second)
	c.Check(cfg.RESTPort, gc.Equals, 443)
	c.Check(cfg.SkipTLSVerify, jc.IsTrue)
	c.Check(cfg.ServerSlotOffset, gc.Equals, 20)
	// Untouched settings keep their defaults.
	c.Check(cfg.ConnectTimeout, gc.Equals, 30*time.Second)
	c.Check(cfg.ClientSlotFloor, gc.Equals, 2)
}

func (s *configSuite) TestReadFileMissing(c *gc.C) {
	_, err := config.ReadFile(filepath.Join(c.MkDir(), "absent.yaml"))
	c.Assert(err, gc.ErrorMatches, `reading config ".*absent.yaml": .*`)
}

func (s *configSuite) TestReadFileBadYAML(c *gc.C) {
	path := filepath.Join(c.MkDir(), "powervm.yaml")
	err := os.WriteFile(path, []byte("{nope"), 0600)
	c.Assert(err, jc.ErrorIsNil)

	_, err = config.ReadFile(path)
	c.Assert(err, gc.ErrorMatches, `parsing config ".*": .*`)
}

func (s *configSuite) TestReadFileInvalidSetting(c *gc.C) {
	path := filepath.Join(c.MkDir(), "powervm.yaml")
	err := os.WriteFile(path, []byte("client-slot-floor: 0\n"), 0600)
	c.Assert(err, jc.ErrorIsNil)

	_, err = config.ReadFile(path)
	c.Assert(err, gc.ErrorMatches, `config ".*": client slot floor 0 not valid`)
}

func (s *configSuite) TestValidate(c *gc.C) {
	for _, test := range []struct {
		mutate func(*config.Config)
		match  string
	}{{
		mutate: func(cfg *config.Config) { cfg.ConnectTimeout = 0 },
		match:  "connect timeout 0s not valid",
	}, {
		mutate: func(cfg *config.Config) { cfg.CommandTimeout = -time.Second },
		match:  "command timeout -1s not valid",
	}, {
		mutate: func(cfg *config.Config) { cfg.OperationTimeout = 0 },
		match:  "operation timeout 0s not valid",
	}, {
		mutate: func(cfg *config.Config) { cfg.SettleDelay = -time.Second },
		match:  "settle delay -1s not valid",
	}, {
		mutate: func(cfg *config.Config) { cfg.DialAttempts = 0 },
		match:  "dial attempts 0 not valid",
	}, {
		mutate: func(cfg *config.Config) { cfg.RESTPort = 70000 },
		match:  "REST port 70000 not valid",
	}, {
		mutate: func(cfg *config.Config) { cfg.SessionLifetime = 0 },
		match:  "session lifetime 0s not valid",
	}, {
		mutate: func(cfg *config.Config) { cfg.ClientSlotFloor = 1 },
		match:  "client slot floor 1 not valid",
	}, {
		mutate: func(cfg *config.Config) { cfg.ServerSlotOffset = 0 },
		match:  "server slot offset 0 not valid",
	}} {
		cfg := config.Default()
		test.mutate(&cfg)
		c.Check(cfg.Validate(), gc.ErrorMatches, test.match)
	}
}

func (s *configSuite) TestSettleDelayZeroAllowed(c *gc.C) {
	cfg := config.Default()
	cfg.SettleDelay = 0
	c.Assert(cfg.Validate(), jc.ErrorIsNil)
}
