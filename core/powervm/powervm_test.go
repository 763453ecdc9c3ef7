// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package powervm

import (
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"
)

type targetSuite struct{}

var _ = gc.Suite(&targetSuite{})

func validTarget() Target {
	return Target{
		ConsoleHost:        "hmc.example.com",
		ConsoleCredentials: Credentials{Username: "hscroot", Password: "abc123"},
		ManagedSystem:      "Server-8286-42A",
		Partition:          "p1",
		VIOS:               "vios1",
		VolumeName:         "p1_boot",
		VolumeGroup:        "rootvg",
		SizeGB:             20,
	}
}

func (s *targetSuite) TestValidateOK(c *gc.C) {
	c.Assert(validTarget().Validate(), jc.ErrorIsNil)
}

func (s *targetSuite) TestValidateMissingFields(c *gc.C) {
	for i, mutate := range []func(*Target){
		func(t *Target) { t.ConsoleHost = "" },
		func(t *Target) { t.ConsoleCredentials.Username = "" },
		func(t *Target) { t.ManagedSystem = "" },
		func(t *Target) { t.Partition = "" },
		func(t *Target) { t.VIOS = "" },
		func(t *Target) { t.VolumeName = "" },
		func(t *Target) { t.VolumeGroup = "" },
		func(t *Target) { t.SizeGB = 0 },
		func(t *Target) { t.SizeGB = -4 },
	} {
		t := validTarget()
		mutate(&t)
		c.Check(t.Validate(), gc.NotNil, gc.Commentf("case %d", i))
	}
}

func (s *targetSuite) TestValidateVIOSCredentialsOnlyWhenDirect(c *gc.C) {
	t := validTarget()
	c.Assert(t.Validate(), jc.ErrorIsNil)

	t.VIOSHost = "vios1.example.com"
	c.Assert(t.Validate(), gc.ErrorMatches, "VIOS credentials: .*")

	t.VIOSCredentials = Credentials{Username: "padmin", Password: "abc123"}
	c.Assert(t.Validate(), jc.ErrorIsNil)
}

func (s *targetSuite) TestSizeMB(c *gc.C) {
	t := validTarget()
	t.SizeGB = 20
	c.Assert(t.SizeMB(), gc.Equals, 20480)
}

type mappingSuite struct{}

var _ = gc.Suite(&mappingSuite{})

func (s *mappingSuite) TestPartitionIDHex(c *gc.C) {
	c.Check(PartitionID(5).Hex(), gc.Equals, "0x00000005")
	c.Check(PartitionID(31).Hex(), gc.Equals, "0x0000001f")
}

func (s *mappingSuite) TestServerSlot(c *gc.C) {
	m := AdapterMapping{Physloc: "U8286.42A.21576CV-V1-C15"}
	slot, ok := m.ServerSlot()
	c.Assert(ok, jc.IsTrue)
	c.Assert(slot, gc.Equals, 15)
}

func (s *mappingSuite) TestServerSlotMissing(c *gc.C) {
	for _, physloc := range []string{"", "U8286.42A.21576CV", "U8286.42A-V1-Cxy"} {
		m := AdapterMapping{Physloc: physloc}
		_, ok := m.ServerSlot()
		c.Check(ok, jc.IsFalse, gc.Commentf("physloc %q", physloc))
	}
}

func (s *mappingSuite) TestDeviceLookups(c *gc.C) {
	m := AdapterMapping{
		Adapter: "vhost0",
		Devices: []VTD{
			{Name: "vtscsi0", Backing: "other_lv"},
			{Name: "p1_boot", Backing: "p1_boot"},
		},
	}
	d, ok := m.DeviceNamed("p1_boot")
	c.Assert(ok, jc.IsTrue)
	c.Assert(d.Backing, gc.Equals, "p1_boot")

	d, ok = m.DeviceBackedBy("other_lv")
	c.Assert(ok, jc.IsTrue)
	c.Assert(d.Name, gc.Equals, "vtscsi0")

	_, ok = m.DeviceNamed("absent")
	c.Assert(ok, jc.IsFalse)
	_, ok = m.DeviceBackedBy("absent")
	c.Assert(ok, jc.IsFalse)
}

type snapshotSuite struct{}

var _ = gc.Suite(&snapshotSuite{})

func (s *snapshotSuite) TestDeviceNames(c *gc.C) {
	snap := Snapshot{
		Mappings: []AdapterMapping{
			{Adapter: "vhost0", Devices: []VTD{{Name: "vtscsi0"}, {Name: "p1_boot"}}},
			{Adapter: "vhost1", Devices: []VTD{{Name: "vtscsi1"}}},
		},
	}
	c.Assert(snap.DeviceNames().SortedValues(), gc.DeepEquals, []string{"p1_boot", "vtscsi0", "vtscsi1"})
}

func (s *snapshotSuite) TestMappingFor(c *gc.C) {
	snap := Snapshot{
		Mappings: []AdapterMapping{
			{Adapter: "vhost0", ClientID: 3},
			{Adapter: "vhost1", ClientID: 5},
		},
	}
	m, ok := snap.MappingFor(5)
	c.Assert(ok, jc.IsTrue)
	c.Assert(m.Adapter, gc.Equals, "vhost1")

	_, ok = snap.MappingFor(9)
	c.Assert(ok, jc.IsFalse)
}
