// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package allocator picks the virtual slot numbers and the target device
// name for one provisioning operation. Allocation is pure computation over
// the inventory snapshot: deterministic for identical inputs and guaranteed
// not to collide with anything the snapshot says exists.
package allocator

import (
	"strconv"
	"strings"

	"github.com/juju/collections/set"
	"github.com/juju/errors"

	"github.com/juju/powervm/core/powervm"
)

const (
	// ErrSlotInUse is returned when a caller-supplied slot is already
	// occupied.
	ErrSlotInUse = errors.ConstError("requested slot already in use")

	// ErrNameCollision is returned when no unique device name can be
	// derived.
	ErrNameCollision = errors.ConstError("cannot derive unique device name")
)

// maxNameSuffix bounds the disambiguating suffix search.
const maxNameSuffix = 9999

// Policy holds the allocation tunables.
type Policy struct {
	// ClientSlotFloor is the lowest client slot considered; slots below
	// it are firmware-reserved.
	ClientSlotFloor int
	// ServerSlotOffset is added to the client partition id to compute
	// the preferred server slot.
	ServerSlotOffset int
}

// Plan computes the allocation for one operation. Caller overrides are
// honoured after validation against the occupied sets; everything else is
// chosen from the snapshot.
func Plan(snap *powervm.Snapshot, target powervm.Target, overrides powervm.Overrides, policy Policy) (powervm.Plan, error) {
	clientSlot, err := chooseSlot(snap.ClientSlots, overrides.ClientSlot, policy.ClientSlotFloor)
	if err != nil {
		return powervm.Plan{}, errors.Annotatef(err, "client slot on partition %q", target.Partition)
	}
	serverSlot, err := chooseSlot(snap.ServerSlots, overrides.ServerSlot, int(snap.PartitionID)+policy.ServerSlotOffset)
	if err != nil {
		return powervm.Plan{}, errors.Annotatef(err, "server slot on VIOS %q", target.VIOS)
	}
	name, err := deviceName(target, overrides, snap.DeviceNames())
	if err != nil {
		return powervm.Plan{}, errors.Trace(err)
	}
	return powervm.Plan{
		ClientSlot: clientSlot,
		ServerSlot: serverSlot,
		DeviceName: name,
	}, nil
}

// chooseSlot validates an override against the occupied set, or picks the
// smallest free slot at or above the floor.
func chooseSlot(occupied set.Ints, override, floor int) (int, error) {
	if override != 0 {
		if occupied.Contains(override) {
			return 0, errors.WithType(errors.Errorf("slot %d already in use", override), ErrSlotInUse)
		}
		return override, nil
	}
	slot := floor
	for occupied.Contains(slot) {
		slot++
	}
	return slot, nil
}

// deviceName derives the virtual target device name. The base is the
// caller's override, else the volume name, else the partition name with a
// "_vtd" suffix; it is stripped to the VIOS device alphabet, truncated to
// the transport limit and disambiguated with a numeric suffix until it is
// unique among the existing device names.
func deviceName(target powervm.Target, overrides powervm.Overrides, existing set.Strings) (string, error) {
	base := overrides.DeviceName
	if base == "" {
		base = target.VolumeName
	}
	if base == "" {
		base = target.Partition + "_vtd"
	}
	base = asDeviceName(sanitizeName(base), powervm.MaxDeviceNameLength)
	if !existing.Contains(base) {
		return base, nil
	}
	for i := 1; i <= maxNameSuffix; i++ {
		suffix := strconv.Itoa(i)
		candidate := asDeviceName(base, powervm.MaxDeviceNameLength-len(suffix)) + suffix
		if !existing.Contains(candidate) {
			return candidate, nil
		}
	}
	return "", errors.WithType(errors.Errorf("no unique device name derivable from %q", base), ErrNameCollision)
}

// sanitizeName strips everything outside the device name alphabet.
func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// asDeviceName fits the name into the given length and makes sure what is
// left is neither empty nor purely numeric. The check runs on the truncated
// form: cutting a name at the limit can strip the very characters that made
// it non-numeric.
func asDeviceName(name string, limit int) string {
	name = truncateName(name, limit)
	if name == "" || isNumeric(name) {
		name = truncateName("vtd"+name, limit)
	}
	return name
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func truncateName(name string, limit int) string {
	if len(name) > limit {
		return name[:limit]
	}
	return name
}
