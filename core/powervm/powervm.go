// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package powervm holds the domain types shared by the inventory readers,
// the slot allocator and the provisioner: what we are provisioning for
// (Target), what the managed system currently looks like (Snapshot), what we
// intend to create (Plan) and what we ended up with (Outcome).
package powervm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
)

// MaxDeviceNameLength is the longest virtual target device name the VIOS
// command line accepts.
const MaxDeviceNameLength = 15

// Credentials identify an administrative user on the HMC or on the VIOS
// restricted shell.
type Credentials struct {
	Username string
	Password string
}

// Validate returns an error if the credentials are unusable.
func (c Credentials) Validate() error {
	if c.Username == "" {
		return errors.NotValidf("empty username")
	}
	return nil
}

// Target describes the subject of one provisioning operation. It is supplied
// in full by the caller and never mutated.
type Target struct {
	// ConsoleHost is the HMC hostname or address.
	ConsoleHost string
	// ConsoleCredentials authenticate against both the HMC command shell
	// and, in the hybrid backend, its REST endpoint.
	ConsoleCredentials Credentials

	// ManagedSystem is the name of the physical server hosting the
	// partition and the VIOS.
	ManagedSystem string
	// Partition is the client LPAR name.
	Partition string
	// VIOS is the virtual I/O server partition name.
	VIOS string
	// VIOSHost optionally addresses the VIOS directly. When set, VIOS
	// commands run over their own command channel instead of the HMC's
	// viosvrcmd passthrough.
	VIOSHost string
	// VIOSCredentials authenticate the VIOS restricted shell when
	// VIOSHost is set.
	VIOSCredentials Credentials

	// VolumeName is the logical volume to create on the VIOS.
	VolumeName string
	// VolumeGroup is the VIOS volume group backing the volume.
	VolumeGroup string
	// SizeGB is the requested volume size in gigabytes.
	SizeGB int
}

// Validate checks that every field needed to provision is present.
func (t Target) Validate() error {
	if t.ConsoleHost == "" {
		return errors.NotValidf("missing console host")
	}
	if err := t.ConsoleCredentials.Validate(); err != nil {
		return errors.Annotate(err, "console credentials")
	}
	if t.ManagedSystem == "" {
		return errors.NotValidf("missing managed system name")
	}
	if t.Partition == "" {
		return errors.NotValidf("missing partition name")
	}
	if t.VIOS == "" {
		return errors.NotValidf("missing VIOS partition name")
	}
	if t.VIOSHost != "" {
		if err := t.VIOSCredentials.Validate(); err != nil {
			return errors.Annotate(err, "VIOS credentials")
		}
	}
	if t.VolumeName == "" {
		return errors.NotValidf("missing volume name")
	}
	if t.VolumeGroup == "" {
		return errors.NotValidf("missing volume group name")
	}
	if t.SizeGB <= 0 {
		return errors.NotValidf("volume size %dGB", t.SizeGB)
	}
	return nil
}

// SizeMB reports the requested volume size in the VIOS's native megabyte
// unit.
func (t Target) SizeMB() int {
	return t.SizeGB * 1024
}

// PartitionID is the numeric partition identifier assigned by the managed
// system. It is distinct from the REST resource UUID.
type PartitionID int

// Hex renders the identifier the way lsmap reports client partition IDs.
func (id PartitionID) Hex() string {
	return fmt.Sprintf("0x%08x", int(id))
}

// VTD is one virtual target device attached to a server adapter.
type VTD struct {
	// Name is the device name, unique per VIOS.
	Name string
	// Backing is the logical or physical volume the device exposes.
	Backing string
}

// AdapterMapping is the device mapping of one virtual SCSI server adapter as
// reported by the VIOS.
type AdapterMapping struct {
	// Adapter is the vhost device name on the VIOS.
	Adapter string
	// Physloc is the adapter's physical location code.
	Physloc string
	// ClientID is the partition ID of the client LPAR the adapter serves.
	ClientID PartitionID
	// Devices are the virtual target devices bound to the adapter.
	Devices []VTD
}

// ServerSlot extracts the adapter's virtual slot number from its physical
// location code (the trailing -C<slot> element). It returns false when the
// location code does not carry one.
func (m AdapterMapping) ServerSlot() (int, bool) {
	i := strings.LastIndex(m.Physloc, "-C")
	if i < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(m.Physloc[i+2:])
	if err != nil {
		return 0, false
	}
	return n, true
}

// DeviceNamed returns the named virtual target device, if present.
func (m AdapterMapping) DeviceNamed(name string) (VTD, bool) {
	for _, d := range m.Devices {
		if d.Name == name {
			return d, true
		}
	}
	return VTD{}, false
}

// DeviceBackedBy returns the first virtual target device backed by the named
// volume, if any.
func (m AdapterMapping) DeviceBackedBy(volume string) (VTD, bool) {
	for _, d := range m.Devices {
		if d.Backing == volume {
			return d, true
		}
	}
	return VTD{}, false
}

// Snapshot is the live resource state read at the start of an operation. It
// is never cached across invocations.
type Snapshot struct {
	// PartitionID is the client LPAR's numeric identifier.
	PartitionID PartitionID
	// VIOSID is the VIOS partition's numeric identifier.
	VIOSID PartitionID
	// ProfileName is the client LPAR's current profile, which owns the
	// virtual adapter definitions.
	ProfileName string

	// ClientSlots are the virtual slot numbers in use on the partition.
	ClientSlots set.Ints
	// ServerSlots are the virtual slot numbers in use on the VIOS.
	ServerSlots set.Ints

	// Volumes are the logical volume names present in the target volume
	// group.
	Volumes set.Strings
	// Mappings are the VIOS's current virtual SCSI device mappings.
	Mappings []AdapterMapping
}

// DeviceNames returns every virtual target device name on the VIOS.
func (s Snapshot) DeviceNames() set.Strings {
	names := set.NewStrings()
	for _, m := range s.Mappings {
		for _, d := range m.Devices {
			names.Add(d.Name)
		}
	}
	return names
}

// MappingFor returns the device mapping of the adapter serving the given
// client partition, if one exists.
func (s Snapshot) MappingFor(id PartitionID) (AdapterMapping, bool) {
	for _, m := range s.Mappings {
		if m.ClientID == id {
			return m, true
		}
	}
	return AdapterMapping{}, false
}

// Overrides are the caller's optional choices, taking precedence over the
// allocator's own selection. Zero values mean "allocate for me".
type Overrides struct {
	ClientSlot int
	ServerSlot int
	DeviceName string
}

// Plan is the allocator's decision for one operation: where the adapter pair
// goes and what the virtual target device will be called.
type Plan struct {
	ClientSlot int
	ServerSlot int
	DeviceName string
}

// Outcome is the reported result of a provisioning operation.
type Outcome struct {
	// Changed is false when the requested mapping already existed and no
	// remote state was modified.
	Changed bool

	Partition   string
	VIOS        string
	VolumeName  string
	VolumeGroup string

	// DeviceName is the virtual target device name used for the mapping.
	DeviceName string
	// VHost is the server adapter device name on the VIOS.
	VHost string
	// Mapping is the VIOS's own description of the final mapping, kept
	// verbatim for operator inspection.
	Mapping string

	ClientSlot int
	ServerSlot int
}
