// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package provisioner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/juju/errors"

	"github.com/juju/powervm/core/powervm"
	"github.com/juju/powervm/internal/hmccmd"
	"github.com/juju/powervm/internal/inventory"
	"github.com/juju/powervm/internal/sshexec"
)

// vhostLookupAttempts is how often the vhost lookup is repeated while the
// VIOS surfaces a freshly added adapter.
const vhostLookupAttempts = 3

// execute runs the forward sequence. On error it reports the stage that
// failed; the caller owns the rollback.
func (p *Provisioner) execute(ctx context.Context, target powervm.Target, snap *powervm.Snapshot, plan powervm.Plan, tx *transaction) (*powervm.Outcome, Stage, error) {
	if err := p.adapterPair(ctx, target, snap, plan, tx); err != nil {
		return nil, StageAdapterPair, errors.Trace(err)
	}
	if err := interrupted(ctx); err != nil {
		return nil, StageVolume, err
	}
	if err := p.createVolume(ctx, target, tx); err != nil {
		return nil, StageVolume, errors.Trace(err)
	}
	if err := interrupted(ctx); err != nil {
		return nil, StageMapping, err
	}
	vhost, err := p.createMapping(ctx, target, snap, plan, tx)
	if err != nil {
		return nil, StageMapping, errors.Trace(err)
	}
	if err := interrupted(ctx); err != nil {
		return nil, StageVerify, err
	}
	mappingText, err := p.verifyMapping(ctx, target, vhost)
	if err != nil {
		return nil, StageVerify, errors.Trace(err)
	}
	return &powervm.Outcome{
		Changed:     tx.changed(),
		Partition:   target.Partition,
		VIOS:        target.VIOS,
		VolumeName:  target.VolumeName,
		VolumeGroup: target.VolumeGroup,
		DeviceName:  plan.DeviceName,
		VHost:       vhost,
		Mapping:     mappingText,
		ClientSlot:  plan.ClientSlot,
		ServerSlot:  plan.ServerSlot,
	}, 0, nil
}

// interrupted is the cooperative cancellation point between steps. A
// command already in flight always runs to completion.
func interrupted(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errors.Annotate(err, "operation aborted between steps")
	}
	return nil
}

// adapterPair adds the virtual SCSI server adapter on the VIOS and the
// matching client adapter in the partition profile, then rescans the VIOS
// device tree so the new vhost can surface. The HMC tooling has no paired
// request, so the two adapters are two ordered reconfigurations.
func (p *Provisioner) adapterPair(ctx context.Context, target powervm.Target, snap *powervm.Snapshot, plan powervm.Plan, tx *transaction) error {
	_, err := p.exec.Run(ctx, hmccmd.AddServerAdapter(
		target.ManagedSystem, target.VIOS, plan.ServerSlot, target.Partition, plan.ClientSlot))
	created, err := tolerateExisting(err, "already exists")
	if err != nil {
		return errors.Annotate(err, "adding server adapter")
	}
	if created {
		tx.completed("remove server adapter",
			fmt.Sprintf("vscsi server slot %d on %s", plan.ServerSlot, target.VIOS),
			func(ctx context.Context) error {
				_, err := p.exec.Run(ctx, hmccmd.RemoveServerAdapter(
					target.ManagedSystem, target.VIOS, plan.ServerSlot))
				return errors.Trace(err)
			})
	}

	_, err = p.exec.Run(ctx, hmccmd.AddClientAdapter(
		target.ManagedSystem, snap.ProfileName, target.Partition,
		plan.ClientSlot, int(snap.VIOSID), target.VIOS, plan.ServerSlot))
	created, err = tolerateExisting(err, "virtual adapter has been specified")
	if err != nil {
		return errors.Annotate(err, "adding client adapter")
	}
	if created {
		tx.completed("remove client adapter",
			fmt.Sprintf("vscsi client slot %d in profile %s of %s", plan.ClientSlot, snap.ProfileName, target.Partition),
			func(ctx context.Context) error {
				_, err := p.exec.Run(ctx, hmccmd.RemoveClientAdapter(
					target.ManagedSystem, snap.ProfileName, target.Partition,
					plan.ClientSlot, int(snap.VIOSID), target.VIOS, plan.ServerSlot))
				return errors.Trace(err)
			})
	}

	// Without the rescan the vhost may take minutes to appear. Failure
	// only delays the lookup below, so it is not fatal.
	if _, err := p.vios.RunVIOS(ctx, hmccmd.Cfgdev("vio0")); err != nil {
		logger.Warningf("cfgdev on %s: %v", target.VIOS, err)
	}
	p.sleep(ctx, p.cfg.SettleDelay)
	return nil
}

// createVolume creates the logical volume in the target volume group. A
// volume name the VIOS reports as already used is reused, not recreated.
func (p *Provisioner) createVolume(ctx context.Context, target powervm.Target, tx *transaction) error {
	_, err := p.vios.RunVIOS(ctx, hmccmd.Mklv(target.VolumeName, target.VolumeGroup, target.SizeMB()))
	created, err := tolerateExisting(err, "already used")
	if err != nil {
		return errors.Annotatef(err, "creating volume %q", target.VolumeName)
	}
	if created {
		tx.completed("remove logical volume",
			fmt.Sprintf("%s in %s on %s", target.VolumeName, target.VolumeGroup, target.VIOS),
			func(ctx context.Context) error {
				_, err := p.vios.RunVIOS(ctx, hmccmd.Rmlv(target.VolumeName))
				return errors.Trace(err)
			})
	}
	return nil
}

// createMapping locates the vhost serving the partition and binds the
// volume to it as the planned virtual target device.
func (p *Provisioner) createMapping(ctx context.Context, target powervm.Target, snap *powervm.Snapshot, plan powervm.Plan, tx *transaction) (string, error) {
	vhost, err := p.findVhost(ctx, snap.PartitionID)
	if err != nil {
		return "", errors.Trace(err)
	}
	_, err = p.vios.RunVIOS(ctx, hmccmd.Mkvdev(target.VolumeName, vhost, plan.DeviceName))
	created, err := tolerateExisting(err, "already exists")
	if err != nil {
		return "", errors.Annotatef(err, "mapping %q to %s", target.VolumeName, vhost)
	}
	if created {
		tx.completed("remove virtual target device",
			fmt.Sprintf("%s on %s", plan.DeviceName, target.VIOS),
			func(ctx context.Context) error {
				_, err := p.vios.RunVIOS(ctx, hmccmd.Rmvdev(plan.DeviceName))
				return errors.Trace(err)
			})
	}
	return vhost, nil
}

// findVhost resolves the VIOS-side adapter device serving the given client
// partition. A freshly added adapter takes a moment to surface, so the
// lookup is repeated a few times with the settle delay in between.
func (p *Provisioner) findVhost(ctx context.Context, clientID powervm.PartitionID) (string, error) {
	for attempt := 1; ; attempt++ {
		resp, err := p.vios.RunVIOS(ctx, hmccmd.LsmapAll())
		if err != nil {
			return "", errors.Trace(err)
		}
		mappings, err := inventory.ParseMappings(resp.Stdout)
		if err != nil {
			return "", errors.Trace(err)
		}
		for _, m := range mappings {
			if m.ClientID == clientID {
				return m.Adapter, nil
			}
		}
		if attempt >= vhostLookupAttempts || ctx.Err() != nil {
			return "", errors.NotFoundf("vhost adapter for client partition %s", clientID.Hex())
		}
		logger.Debugf("no vhost for client %s yet, attempt %d", clientID.Hex(), attempt)
		p.sleep(ctx, p.cfg.SettleDelay)
	}
}

// verifyMapping re-reads the adapter's mapping and confirms the volume is
// attached, returning the listing verbatim.
func (p *Provisioner) verifyMapping(ctx context.Context, target powervm.Target, vhost string) (string, error) {
	text, err := p.readMapping(ctx, vhost)
	if err != nil {
		return "", errors.Trace(err)
	}
	mappings, err := inventory.ParseMappings(text)
	if err != nil {
		return "", errors.Trace(err)
	}
	for _, m := range mappings {
		if _, ok := m.DeviceBackedBy(target.VolumeName); ok {
			return strings.TrimSpace(text), nil
		}
	}
	return "", errors.Errorf("volume %q not attached to %s after mapping", target.VolumeName, vhost)
}

func (p *Provisioner) readMapping(ctx context.Context, vhost string) (string, error) {
	resp, err := p.vios.RunVIOS(ctx, hmccmd.LsmapAdapter(vhost))
	if err != nil {
		return "", errors.Trace(err)
	}
	return resp.Stdout, nil
}

// tolerateExisting downgrades a remote failure whose output matches one of
// the given fragments to "nothing created". The HMC and VIOS tooling report
// an already-present resource this way rather than with a distinct exit
// status.
func tolerateExisting(err error, fragments ...string) (created bool, _ error) {
	if err == nil {
		return true, nil
	}
	var exitErr *sshexec.ExitError
	if errors.As(err, &exitErr) {
		combined := exitErr.Response.Stdout + exitErr.Response.Stderr
		for _, fragment := range fragments {
			if strings.Contains(combined, fragment) {
				logger.Debugf("treating failure as already-existing resource: %v", err)
				return false, nil
			}
		}
	}
	return false, errors.Trace(err)
}

// sleep waits for the given duration or until the operation is cancelled.
func (p *Provisioner) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-p.clock.After(d):
	case <-ctx.Done():
	}
}
