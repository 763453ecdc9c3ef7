// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package inventory

import (
	"strconv"
	"strings"

	"github.com/juju/collections/set"
	"github.com/juju/errors"

	"github.com/juju/powervm/core/powervm"
)

// parseSlotNumbers turns `lshwres ... -F slot_num` output into the set of
// occupied virtual slots. The HMC prints informational text ("No results
// were found.") on partitions without adapters; anything non-numeric is
// ignored.
func parseSlotNumbers(output string) set.Ints {
	slots := set.NewInts()
	for _, line := range strings.Split(output, "\n") {
		n, err := strconv.Atoi(strings.TrimSpace(line))
		if err != nil {
			continue
		}
		slots.Add(n)
	}
	return slots
}

// ParseSlotPairs turns `lshwres ... -F slot_num,remote_slot_num` output
// into a map from the remote (server) slot to the local client slot. Lines
// without two numeric fields are ignored, the same way parseSlotNumbers
// skips the HMC's informational text.
func ParseSlotPairs(output string) map[int]int {
	pairs := make(map[int]int)
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Split(strings.TrimSpace(line), ",")
		if len(fields) != 2 {
			continue
		}
		client, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil {
			continue
		}
		remote, err := strconv.Atoi(strings.TrimSpace(fields[1]))
		if err != nil {
			continue
		}
		pairs[remote] = client
	}
	return pairs
}

// parseFirstField returns the first non-empty output line, trimmed. HMC
// single-field queries (-F lpar_id, -F name) answer one value per line.
func parseFirstField(output string) string {
	for _, line := range strings.Split(output, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

// parsePartitionID reads a numeric partition identifier from single-field
// lssyscfg output.
func parsePartitionID(output string) (powervm.PartitionID, error) {
	field := parseFirstField(output)
	if field == "" {
		return 0, errors.Errorf("no partition id in output")
	}
	n, err := strconv.Atoi(field)
	if err != nil {
		return 0, errors.Annotatef(err, "partition id %q", field)
	}
	return powervm.PartitionID(n), nil
}

// parseVolumeNames extracts logical volume names from `lsvg -lv` table
// output: a "<vg>:" title line, a column header, then one volume per line
// with the name in the first column.
func parseVolumeNames(output string) set.Strings {
	volumes := set.NewStrings()
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasSuffix(line, ":") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 || fields[0] == "LV" {
			continue
		}
		volumes.Add(fields[0])
	}
	return volumes
}

// ParseMappings turns `lsmap -all -fmt :` output into adapter mappings. Each
// line is one server adapter: the vhost name, its physical location code and
// the client partition id in hex, followed by groups of four fields (device
// name, status, LUN, backing volume) for every virtual target device bound
// to the adapter. An adapter with no devices stops after the third field.
func ParseMappings(output string) ([]powervm.AdapterMapping, error) {
	var mappings []powervm.AdapterMapping
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) < 3 {
			continue
		}
		clientID, err := parseClientID(fields[2])
		if err != nil {
			return nil, errors.Annotatef(err, "mapping line %q", line)
		}
		m := powervm.AdapterMapping{
			Adapter:  strings.TrimSpace(fields[0]),
			Physloc:  strings.TrimSpace(fields[1]),
			ClientID: clientID,
		}
		for rest := fields[3:]; len(rest) >= 4; rest = rest[4:] {
			name := strings.TrimSpace(rest[0])
			if name == "" {
				break
			}
			m.Devices = append(m.Devices, powervm.VTD{
				Name:    name,
				Backing: strings.TrimSpace(rest[3]),
			})
		}
		mappings = append(mappings, m)
	}
	return mappings, nil
}

func parseClientID(field string) (powervm.PartitionID, error) {
	field = strings.TrimSpace(strings.ToLower(field))
	n, err := strconv.ParseInt(strings.TrimPrefix(field, "0x"), 16, 32)
	if err != nil {
		return 0, errors.Annotatef(err, "client partition id %q", field)
	}
	return powervm.PartitionID(n), nil
}
