// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package inventory reads the live virtual SCSI and storage state of a
// partition and its VIOS into a normalized snapshot. Two backends share the
// hardware listings: the CLI reader resolves identities over the command
// channel as well, while the hybrid reader asks the HMC session API for
// them. The provisioner only ever sees the Reader interface and the
// snapshot, never raw command output.
package inventory

import (
	"context"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/juju/powervm/core/powervm"
	"github.com/juju/powervm/internal/hmccmd"
	"github.com/juju/powervm/internal/hmcrest"
	"github.com/juju/powervm/internal/sshexec"
	"github.com/juju/powervm/internal/vios"
)

var logger = loggo.GetLogger("powervm.inventory")

// Reader produces a fresh inventory snapshot for a target. Implementations
// must treat partitions and VIOS without any adapters or volumes as valid,
// empty state.
type Reader interface {
	Read(ctx context.Context, target powervm.Target) (*powervm.Snapshot, error)
}

// hardware reads the listings every backend takes from the command channel:
// slot usage, the partition profile, volume group contents and device
// mappings.
type hardware struct {
	exec sshexec.Executor
	vios vios.Runner
}

func (h hardware) partitionID(ctx context.Context, managedSystem, name string) (powervm.PartitionID, error) {
	resp, err := h.exec.Run(ctx, hmccmd.PartitionID(managedSystem, name))
	if err != nil {
		if isExitError(err) {
			return 0, errors.NewNotFound(err, "partition "+name+" on "+managedSystem)
		}
		return 0, errors.Trace(err)
	}
	id, err := parsePartitionID(resp.Stdout)
	if err != nil {
		return 0, errors.NewNotFound(err, "partition "+name+" on "+managedSystem)
	}
	return id, nil
}

func (h hardware) profileName(ctx context.Context, managedSystem, partition string) (string, error) {
	resp, err := h.exec.Run(ctx, hmccmd.ProfileName(managedSystem, partition))
	if err != nil {
		if isExitError(err) {
			return "", errors.NewNotFound(err, "profile of partition "+partition)
		}
		return "", errors.Trace(err)
	}
	name := parseFirstField(resp.Stdout)
	if name == "" {
		return "", errors.NotFoundf("profile of partition %q", partition)
	}
	return name, nil
}

func (h hardware) slotNumbers(ctx context.Context, managedSystem, partition string) (set.Ints, error) {
	resp, err := h.exec.Run(ctx, hmccmd.SlotNumbers(managedSystem, partition))
	if err != nil {
		if isExitError(err) {
			// A partition without virtual adapters is valid state,
			// and some HMC versions report it with a non-zero exit.
			logger.Debugf("no slot listing for %q on %s: %v", partition, managedSystem, err)
			return set.NewInts(), nil
		}
		return set.Ints{}, errors.Trace(err)
	}
	return parseSlotNumbers(resp.Stdout), nil
}

func (h hardware) volumes(ctx context.Context, target powervm.Target) (set.Strings, error) {
	resp, err := h.vios.RunVIOS(ctx, hmccmd.LsvgVolumes(target.VolumeGroup))
	if err != nil {
		if isExitError(err) {
			return set.Strings{}, errors.NewNotFound(err, "volume group "+target.VolumeGroup+" on "+target.VIOS)
		}
		return set.Strings{}, errors.Trace(err)
	}
	return parseVolumeNames(resp.Stdout), nil
}

func (h hardware) mappings(ctx context.Context, target powervm.Target) ([]powervm.AdapterMapping, error) {
	resp, err := h.vios.RunVIOS(ctx, hmccmd.LsmapAll())
	if err != nil {
		return nil, errors.Trace(err)
	}
	mappings, err := ParseMappings(resp.Stdout)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return mappings, nil
}

// listings fills the parts of the snapshot every backend reads the same
// way. Identity fields (partition ids) must already be resolved.
func (h hardware) listings(ctx context.Context, target powervm.Target, snap *powervm.Snapshot) error {
	var err error
	if snap.ProfileName, err = h.profileName(ctx, target.ManagedSystem, target.Partition); err != nil {
		return errors.Trace(err)
	}
	if snap.ClientSlots, err = h.slotNumbers(ctx, target.ManagedSystem, target.Partition); err != nil {
		return errors.Trace(err)
	}
	if snap.ServerSlots, err = h.slotNumbers(ctx, target.ManagedSystem, target.VIOS); err != nil {
		return errors.Trace(err)
	}
	if snap.Volumes, err = h.volumes(ctx, target); err != nil {
		return errors.Trace(err)
	}
	if snap.Mappings, err = h.mappings(ctx, target); err != nil {
		return errors.Trace(err)
	}
	return nil
}

func isExitError(err error) bool {
	var exitErr *sshexec.ExitError
	return errors.As(err, &exitErr)
}

// CLIReader resolves everything over the command channel.
type CLIReader struct {
	hw hardware
}

// NewCLIReader returns a Reader backed solely by the command channel.
func NewCLIReader(exec sshexec.Executor, viosRunner vios.Runner) *CLIReader {
	return &CLIReader{hw: hardware{exec: exec, vios: viosRunner}}
}

// Read implements Reader.
func (r *CLIReader) Read(ctx context.Context, target powervm.Target) (*powervm.Snapshot, error) {
	snap := &powervm.Snapshot{}
	var err error
	if snap.PartitionID, err = r.hw.partitionID(ctx, target.ManagedSystem, target.Partition); err != nil {
		return nil, errors.Trace(err)
	}
	if snap.VIOSID, err = r.hw.partitionID(ctx, target.ManagedSystem, target.VIOS); err != nil {
		return nil, errors.Trace(err)
	}
	if err := r.hw.listings(ctx, target, snap); err != nil {
		return nil, errors.Trace(err)
	}
	logger.Debugf("inventory for %q: partition id %d, vios id %d, %d client slots, %d server slots, %d volumes, %d mappings",
		target.Partition, snap.PartitionID, snap.VIOSID,
		snap.ClientSlots.Size(), snap.ServerSlots.Size(), snap.Volumes.Size(), len(snap.Mappings))
	return snap, nil
}

// HybridReader resolves partition identities through the HMC session API and
// reads hardware listings over the command channel. The session API may omit
// the numeric partition id on some HMC versions; the reader then falls back
// to the command channel for that one value.
type HybridReader struct {
	session *hmcrest.Session
	hw      hardware
}

// NewHybridReader returns a Reader backed by the session API and the command
// channel.
func NewHybridReader(session *hmcrest.Session, exec sshexec.Executor, viosRunner vios.Runner) *HybridReader {
	return &HybridReader{session: session, hw: hardware{exec: exec, vios: viosRunner}}
}

// Read implements Reader.
func (r *HybridReader) Read(ctx context.Context, target powervm.Target) (*powervm.Snapshot, error) {
	systemUUID, err := r.session.ManagedSystemUUID(ctx, target.ManagedSystem)
	if err != nil {
		return nil, errors.Trace(err)
	}
	partition, err := r.session.Partition(ctx, systemUUID, target.Partition)
	if err != nil {
		return nil, errors.Trace(err)
	}
	vios, err := r.session.VIOS(ctx, systemUUID, target.VIOS)
	if err != nil {
		return nil, errors.Trace(err)
	}

	snap := &powervm.Snapshot{}
	if snap.PartitionID, err = r.numericID(ctx, target, partition, target.Partition); err != nil {
		return nil, errors.Trace(err)
	}
	if snap.VIOSID, err = r.numericID(ctx, target, vios, target.VIOS); err != nil {
		return nil, errors.Trace(err)
	}
	if err := r.hw.listings(ctx, target, snap); err != nil {
		return nil, errors.Trace(err)
	}
	logger.Debugf("inventory for %q via session API: partition %s id %d, vios %s id %d",
		target.Partition, partition.UUID, snap.PartitionID, vios.UUID, snap.VIOSID)
	return snap, nil
}

func (r *HybridReader) numericID(ctx context.Context, target powervm.Target, rec hmcrest.PartitionRecord, name string) (powervm.PartitionID, error) {
	if rec.HasID {
		return rec.ID, nil
	}
	logger.Debugf("session API returned no numeric id for %q, resolving via command channel", name)
	id, err := r.hw.partitionID(ctx, target.ManagedSystem, name)
	if err != nil {
		return 0, errors.Trace(err)
	}
	return id, nil
}
