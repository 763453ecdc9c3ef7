// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package provisioner sequences the creation of a logical volume on a VIOS
// and its mapping to a client partition: adapter pair, volume, virtual
// target device, verification. Every completed mutation is recorded so that
// a failure at any later point rolls the earlier ones back in reverse
// order. One provisioning run is strictly sequential; callers wanting
// parallelism run operations against different partitions.
package provisioner

import (
	"context"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/juju/powervm/core/powervm"
	"github.com/juju/powervm/internal/allocator"
	"github.com/juju/powervm/internal/config"
	"github.com/juju/powervm/internal/hmccmd"
	"github.com/juju/powervm/internal/hmcrest"
	"github.com/juju/powervm/internal/inventory"
	"github.com/juju/powervm/internal/sshexec"
	"github.com/juju/powervm/internal/vios"
)

var logger = loggo.GetLogger("powervm.provisioner")

// Provisioner drives one or more provisioning operations against a single
// target. The inventory backend and the command channels are fixed at
// construction.
type Provisioner struct {
	cfg    config.Config
	reader inventory.Reader
	exec   sshexec.Executor
	vios   vios.Runner
	clock  clock.Clock

	closeFn func(context.Context)
}

// New assembles a Provisioner from its parts. Most callers want
// NewCommandChannel or NewSessionAPI instead.
func New(cfg config.Config, reader inventory.Reader, exec sshexec.Executor, viosRunner vios.Runner, clk clock.Clock) (*Provisioner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if reader == nil {
		return nil, errors.NotValidf("nil inventory reader")
	}
	if exec == nil {
		return nil, errors.NotValidf("nil executor")
	}
	if viosRunner == nil {
		return nil, errors.NotValidf("nil VIOS runner")
	}
	if clk == nil {
		return nil, errors.NotValidf("nil clock")
	}
	return &Provisioner{
		cfg:    cfg,
		reader: reader,
		exec:   exec,
		vios:   viosRunner,
		clock:  clk,
	}, nil
}

// NewCommandChannel builds a Provisioner for the target with every query
// and mutation travelling over the command channel.
func NewCommandChannel(cfg config.Config, target powervm.Target) (*Provisioner, error) {
	if err := target.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	console, viosRunner, err := channelsFor(cfg, target)
	if err != nil {
		return nil, errors.Trace(err)
	}
	reader := inventory.NewCLIReader(console, viosRunner)
	return New(cfg, reader, console, viosRunner, clock.WallClock)
}

// NewSessionAPI builds a Provisioner for the target that resolves
// identities through the HMC session API. Mutations still travel over the
// command channel; the session API exposes none of the reconfiguration
// operations. Close logs the session off.
func NewSessionAPI(cfg config.Config, target powervm.Target) (*Provisioner, error) {
	if err := target.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	console, viosRunner, err := channelsFor(cfg, target)
	if err != nil {
		return nil, errors.Trace(err)
	}
	session, err := hmcrest.NewSession(hmcrest.SessionConfig{
		Host:          target.ConsoleHost,
		Port:          cfg.RESTPort,
		Credentials:   target.ConsoleCredentials,
		SkipTLSVerify: cfg.SkipTLSVerify,
		Lifetime:      cfg.SessionLifetime,
		Clock:         clock.WallClock,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	reader := inventory.NewHybridReader(session, console, viosRunner)
	p, err := New(cfg, reader, console, viosRunner, clock.WallClock)
	if err != nil {
		return nil, errors.Trace(err)
	}
	p.closeFn = session.Logoff
	return p, nil
}

// channelsFor opens the console command channel and picks the VIOS command
// route: direct when the target carries a VIOS address, otherwise through
// the console's viosvrcmd passthrough.
func channelsFor(cfg config.Config, target powervm.Target) (sshexec.Executor, vios.Runner, error) {
	console, err := sshexec.NewClient(sshexec.ClientConfig{
		Host:           target.ConsoleHost,
		Username:       target.ConsoleCredentials.Username,
		Password:       target.ConsoleCredentials.Password,
		ConnectTimeout: cfg.ConnectTimeout,
		CommandTimeout: cfg.CommandTimeout,
		DialAttempts:   cfg.DialAttempts,
		Clock:          clock.WallClock,
	})
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	if target.VIOSHost == "" {
		return console, vios.ConsoleRunner{
			Console:       console,
			ManagedSystem: target.ManagedSystem,
			VIOS:          target.VIOS,
		}, nil
	}
	viosClient, err := sshexec.NewClient(sshexec.ClientConfig{
		Host:           target.VIOSHost,
		Username:       target.VIOSCredentials.Username,
		Password:       target.VIOSCredentials.Password,
		ConnectTimeout: cfg.ConnectTimeout,
		CommandTimeout: cfg.CommandTimeout,
		DialAttempts:   cfg.DialAttempts,
		Clock:          clock.WallClock,
	})
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	return console, vios.DirectRunner{VIOS: viosClient}, nil
}

// Close releases whatever the backend holds open, e.g. the API session.
func (p *Provisioner) Close(ctx context.Context) {
	if p.closeFn != nil {
		p.closeFn(ctx)
	}
}

// Provision creates the logical volume and maps it to the partition. It is
// idempotent: when the mapping already exists the existing identifiers come
// back with Changed=false and nothing is touched. On a step failure, every
// completed step is rolled back and the returned error (*Error) reports the
// failing stage and the rollback results.
func (p *Provisioner) Provision(ctx context.Context, target powervm.Target, overrides powervm.Overrides) (*powervm.Outcome, error) {
	if err := target.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	opID := uuid.NewString()
	logger.Infof("provisioning %q (%dGB in %s) for partition %q via VIOS %q, operation %s",
		target.VolumeName, target.SizeGB, target.VolumeGroup, target.Partition, target.VIOS, opID)

	ctx, cancel := context.WithTimeout(ctx, p.cfg.OperationTimeout)
	defer cancel()

	snap, err := p.reader.Read(ctx, target)
	if err != nil {
		return nil, errors.Trace(err)
	}

	if outcome, ok := p.existingOutcome(ctx, target, snap); ok {
		logger.Infof("volume %q already mapped to partition %q as %q, nothing to do",
			target.VolumeName, target.Partition, outcome.DeviceName)
		return outcome, nil
	}

	plan, err := allocator.Plan(snap, target, overrides, allocator.Policy{
		ClientSlotFloor:  p.cfg.ClientSlotFloor,
		ServerSlotOffset: p.cfg.ServerSlotOffset,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	logger.Debugf("operation %s plan: client slot %d, server slot %d, device %q",
		opID, plan.ClientSlot, plan.ServerSlot, plan.DeviceName)

	tx := &transaction{}
	outcome, stage, err := p.execute(ctx, target, snap, plan, tx)
	if err != nil {
		// Roll back on a fresh context: the operation deadline may
		// be what got us here, and cleanup must still run.
		rollbackCtx, rollbackCancel := context.WithTimeout(context.Background(), p.cfg.OperationTimeout)
		defer rollbackCancel()
		provErr := &Error{
			Stage:    stage,
			Cause:    err,
			Rollback: tx.rollback(rollbackCtx),
		}
		logger.Errorf("operation %s: %v", opID, provErr)
		return nil, provErr
	}
	logger.Infof("operation %s complete: %q mapped to %q as %q on %s",
		opID, target.VolumeName, target.Partition, outcome.DeviceName, outcome.VHost)
	return outcome, nil
}

// existingOutcome implements the idempotency precheck: a virtual target
// device already backing the requested volume on an adapter of the target
// partition short-circuits the whole operation.
func (p *Provisioner) existingOutcome(ctx context.Context, target powervm.Target, snap *powervm.Snapshot) (*powervm.Outcome, bool) {
	mapping, ok := snap.MappingFor(snap.PartitionID)
	if !ok {
		return nil, false
	}
	device, ok := mapping.DeviceBackedBy(target.VolumeName)
	if !ok {
		return nil, false
	}
	outcome := &powervm.Outcome{
		Changed:     false,
		Partition:   target.Partition,
		VIOS:        target.VIOS,
		VolumeName:  target.VolumeName,
		VolumeGroup: target.VolumeGroup,
		DeviceName:  device.Name,
		VHost:       mapping.Adapter,
	}
	if slot, ok := mapping.ServerSlot(); ok {
		outcome.ServerSlot = slot
		if client, err := p.clientSlotFor(ctx, target, slot); err == nil {
			outcome.ClientSlot = client
		} else {
			logger.Warningf("resolving client slot paired with server slot %d: %v", slot, err)
		}
	}
	// Best effort: the verbatim mapping listing is informational.
	if text, err := p.readMapping(ctx, mapping.Adapter); err == nil {
		outcome.Mapping = text
	} else {
		logger.Warningf("reading existing mapping of %s: %v", mapping.Adapter, err)
	}
	return outcome, true
}

// clientSlotFor finds the partition's client adapter slot paired with the
// given server slot on the VIOS.
func (p *Provisioner) clientSlotFor(ctx context.Context, target powervm.Target, serverSlot int) (int, error) {
	resp, err := p.exec.Run(ctx, hmccmd.ClientSCSIAdapters(target.ManagedSystem, target.Partition))
	if err != nil {
		return 0, errors.Trace(err)
	}
	client, ok := inventory.ParseSlotPairs(resp.Stdout)[serverSlot]
	if !ok {
		return 0, errors.NotFoundf("client adapter paired with server slot %d", serverSlot)
	}
	return client, nil
}
