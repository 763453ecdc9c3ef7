// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package hmccmd assembles the HMC command lines the provisioner and the
// inventory readers execute over the command channel. Keeping the assembly
// here means names and filter values are quoted in exactly one place.
package hmccmd

import (
	"fmt"

	"github.com/kballard/go-shellquote"
)

// PartitionID lists the numeric partition ID of a named LPAR.
func PartitionID(managedSystem, partition string) string {
	return shellquote.Join(
		"lssyscfg", "-r", "lpar", "-m", managedSystem,
		"-F", "lpar_id", "--filter", "lpar_names="+partition,
	)
}

// ProfileName lists the name of a partition's profile.
func ProfileName(managedSystem, partition string) string {
	return shellquote.Join(
		"lssyscfg", "-r", "prof", "-m", managedSystem,
		"--filter", "lpar_names="+partition, "-F", "name",
	)
}

// SlotNumbers lists the virtual slot numbers currently in use on a
// partition, one per line.
func SlotNumbers(managedSystem, partition string) string {
	return shellquote.Join(
		"lshwres", "-r", "virtualio", "--rsubtype", "slot", "--level", "slot",
		"-m", managedSystem,
		"--filter", "lpar_names="+partition,
		"-F", "slot_num",
	)
}

// ClientSCSIAdapters lists the client SCSI adapters of a partition as
// slot_num,remote_slot_num pairs, one per line. The remote slot is the
// paired server adapter's slot on the VIOS.
func ClientSCSIAdapters(managedSystem, partition string) string {
	return shellquote.Join(
		"lshwres", "-r", "virtualio", "--rsubtype", "scsi", "-m", managedSystem,
		"--filter", "lpar_names="+partition,
		"-F", "slot_num,remote_slot_num",
	)
}

// AddServerAdapter adds a virtual SCSI server adapter on the VIOS via
// dynamic reconfiguration, paired with the given client slot.
func AddServerAdapter(managedSystem, vios string, serverSlot int, partition string, clientSlot int) string {
	return shellquote.Join(
		"chhwres", "-r", "virtualio", "--rsubtype", "scsi", "-m", managedSystem,
		"-o", "a", "-p", vios, "-s", fmt.Sprint(serverSlot),
		"-a", fmt.Sprintf("adapter_type=server,remote_lpar_name=%s,remote_slot_num=%d", partition, clientSlot),
	)
}

// RemoveServerAdapter removes the virtual SCSI server adapter at the given
// slot on the VIOS.
func RemoveServerAdapter(managedSystem, vios string, serverSlot int) string {
	return shellquote.Join(
		"chhwres", "-r", "virtualio", "--rsubtype", "scsi", "-m", managedSystem,
		"-o", "r", "-p", vios, "-s", fmt.Sprint(serverSlot),
	)
}

// clientAdapterSpec is the virtual_scsi_adapters profile attribute value:
// slot/client/remote-id/remote-name/remote-slot/required.
func clientAdapterSpec(clientSlot int, viosID int, vios string, serverSlot int) string {
	return fmt.Sprintf("%d/client/%d/%s/%d/0", clientSlot, viosID, vios, serverSlot)
}

// AddClientAdapter adds a virtual SCSI client adapter to the partition's
// profile, pointing at the VIOS server adapter.
func AddClientAdapter(managedSystem, profile, partition string, clientSlot, viosID int, vios string, serverSlot int) string {
	attr := fmt.Sprintf("name=%s,lpar_name=%s,virtual_scsi_adapters+=%s",
		profile, partition, clientAdapterSpec(clientSlot, viosID, vios, serverSlot))
	return shellquote.Join(
		"chsyscfg", "-r", "prof", "-m", managedSystem, "--force", "-i", attr,
	)
}

// RemoveClientAdapter removes the client adapter added by AddClientAdapter
// from the partition's profile.
func RemoveClientAdapter(managedSystem, profile, partition string, clientSlot, viosID int, vios string, serverSlot int) string {
	attr := fmt.Sprintf("name=%s,lpar_name=%s,virtual_scsi_adapters-=%s",
		profile, partition, clientAdapterSpec(clientSlot, viosID, vios, serverSlot))
	return shellquote.Join(
		"chsyscfg", "-r", "prof", "-m", managedSystem, "--force", "-i", attr,
	)
}

// Viosvrcmd wraps a VIOS restricted-shell command for execution through the
// HMC. The inner command is quoted as a single -c argument.
func Viosvrcmd(managedSystem, vios, command string) string {
	return shellquote.Join(
		"viosvrcmd", "-m", managedSystem, "-p", vios, "-c", command,
	)
}

// Cfgdev rescans the given VIOS device tree so freshly added adapters
// surface as vhost devices.
func Cfgdev(device string) string {
	return shellquote.Join("cfgdev", "-dev", device)
}

// Mklv creates a logical volume in a VIOS volume group. Size is in
// megabytes, the VIOS's native unit.
func Mklv(volume, volumeGroup string, sizeMB int) string {
	return shellquote.Join("mklv", "-lv", volume, volumeGroup, fmt.Sprintf("%dM", sizeMB))
}

// Rmlv removes a logical volume without prompting.
func Rmlv(volume string) string {
	return shellquote.Join("rmlv", "-f", volume)
}

// LsvgVolumes lists the logical volumes of a VIOS volume group.
func LsvgVolumes(volumeGroup string) string {
	return shellquote.Join("lsvg", "-lv", volumeGroup)
}

// Mkvdev binds a backing volume to a server adapter as a named virtual
// target device.
func Mkvdev(volume, vhost, device string) string {
	return shellquote.Join("mkvdev", "-vdev", volume, "-vadapter", vhost, "-dev", device)
}

// Rmvdev removes a virtual target device.
func Rmvdev(device string) string {
	return shellquote.Join("rmvdev", "-vtd", device)
}

// LsmapAll lists every virtual SCSI mapping on the VIOS in colon-separated
// form.
func LsmapAll() string {
	return shellquote.Join("lsmap", "-all", "-fmt", ":")
}

// LsmapAdapter lists the mapping of a single server adapter.
func LsmapAdapter(vhost string) string {
	return shellquote.Join("lsmap", "-vadapter", vhost, "-fmt", ":")
}
