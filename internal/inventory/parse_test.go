// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package inventory

import (
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/powervm/core/powervm"
)

type parseSuite struct{}

var _ = gc.Suite(&parseSuite{})

func (s *parseSuite) TestParseSlotNumbers(c *gc.C) {
	slots := parseSlotNumbers("0\n1\n5\n11\n")
	c.Assert(slots.SortedValues(), gc.DeepEquals, []int{0, 1, 5, 11})
}

func (s *parseSuite) TestParseSlotNumbersIgnoresNoise(c *gc.C) {
	slots := parseSlotNumbers("No results were found.\n")
	c.Assert(slots.IsEmpty(), jc.IsTrue)

	slots = parseSlotNumbers(" 2 \n\nwarning: something\n7")
	c.Assert(slots.SortedValues(), gc.DeepEquals, []int{2, 7})
}

func (s *parseSuite) TestParseSlotPairs(c *gc.C) {
	pairs := ParseSlotPairs("0,0\n2,15\n7,40\n")
	c.Assert(pairs, gc.DeepEquals, map[int]int{0: 0, 15: 2, 40: 7})
}

func (s *parseSuite) TestParseSlotPairsIgnoresNoise(c *gc.C) {
	pairs := ParseSlotPairs("No results were found.\n")
	c.Assert(pairs, gc.HasLen, 0)

	pairs = ParseSlotPairs(" 2 , 15 \n\n3,none\n")
	c.Assert(pairs, gc.DeepEquals, map[int]int{15: 2})
}

func (s *parseSuite) TestParsePartitionID(c *gc.C) {
	id, err := parsePartitionID("5\n")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(id, gc.Equals, powervm.PartitionID(5))
}

func (s *parseSuite) TestParsePartitionIDBad(c *gc.C) {
	_, err := parsePartitionID("")
	c.Assert(err, gc.ErrorMatches, "no partition id in output")

	_, err = parsePartitionID("not-a-number\n")
	c.Assert(err, gc.ErrorMatches, `partition id "not-a-number": .*`)
}

func (s *parseSuite) TestParseVolumeNames(c *gc.C) {
	output := `rootvg:
LV NAME             TYPE       LPs     PPs     PVs  LV STATE      MOUNT POINT
hd5                 boot       1       1       1    closed/syncd  N/A
hd6                 paging     4       4       1    open/syncd    N/A
p1_boot             jfs        160     160     1    closed/syncd  N/A
`
	volumes := parseVolumeNames(output)
	c.Assert(volumes.SortedValues(), gc.DeepEquals, []string{"hd5", "hd6", "p1_boot"})
}

func (s *parseSuite) TestParseVolumeNamesEmpty(c *gc.C) {
	c.Assert(parseVolumeNames("rootvg:\nLV NAME TYPE\n").IsEmpty(), jc.IsTrue)
	c.Assert(parseVolumeNames("").IsEmpty(), jc.IsTrue)
}

func (s *parseSuite) TestParseMappings(c *gc.C) {
	output := "vhost0:U8286.42A.21576CV-V1-C15:0x00000005:p1_boot:Available:0x8100000000000000:p1_boot\n" +
		"vhost1:U8286.42A.21576CV-V1-C16:0x00000007\n"
	mappings, err := ParseMappings(output)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(mappings, gc.DeepEquals, []powervm.AdapterMapping{{
		Adapter:  "vhost0",
		Physloc:  "U8286.42A.21576CV-V1-C15",
		ClientID: 5,
		Devices:  []powervm.VTD{{Name: "p1_boot", Backing: "p1_boot"}},
	}, {
		Adapter:  "vhost1",
		Physloc:  "U8286.42A.21576CV-V1-C16",
		ClientID: 7,
	}})
}

func (s *parseSuite) TestParseMappingsMultipleDevices(c *gc.C) {
	output := "vhost0:U8286.42A.21576CV-V1-C15:0x00000005:" +
		"vtscsi0:Available:0x8100000000000000:lv_data:" +
		"p1_boot:Available:0x8200000000000000:p1_boot\n"
	mappings, err := ParseMappings(output)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(mappings, gc.HasLen, 1)
	c.Assert(mappings[0].Devices, gc.DeepEquals, []powervm.VTD{
		{Name: "vtscsi0", Backing: "lv_data"},
		{Name: "p1_boot", Backing: "p1_boot"},
	})
}

func (s *parseSuite) TestParseMappingsBadClientID(c *gc.C) {
	_, err := ParseMappings("vhost0:U8286.42A-V1-C15:bogus\n")
	c.Assert(err, gc.ErrorMatches, `mapping line .*: client partition id "bogus": .*`)
}

func (s *parseSuite) TestParseMappingsSkipsShortLines(c *gc.C) {
	mappings, err := ParseMappings("\nvhost0\n")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(mappings, gc.HasLen, 0)
}
