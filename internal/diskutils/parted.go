// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package diskutils

import (
	"fmt"
	"strings"

	"github.com/oracle/oci-utils-sub001/internal/shell"
)

// PartedInfo is the disk summary reported by parted.
type PartedInfo struct {
	// Model is the disk's hardware model string.
	Model string
	// Disk is the disk's size summary. e.g. 42.9GB
	Disk string
	// PartitionTable is the partition table type. e.g. msdos, gpt
	PartitionTable string
}

// GetPartedInfo returns parted's summary of a disk.
func GetPartedInfo(diskDevPath string) (PartedInfo, error) {
	stdout, _, err := shell.Execute("parted", diskDevPath, "print")
	if err != nil {
		return PartedInfo{}, fmt.Errorf("failed to print partition table of disk (%s):\n%w", diskDevPath,
			err)
	}

	return ParsePartedOutput(stdout), nil
}

// ParsePartedOutput extracts the summary fields from 'parted print' output.
// Output looks like:
//
//	Model: Loopback device (loopback)
//	Disk /dev/loop0: 42.9GB
//	Sector size (logical/physical): 512B/512B
//	Partition Table: msdos
func ParsePartedOutput(output string) PartedInfo {
	info := PartedInfo{}
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Model:"):
			info.Model = valueAfterColon(line)

		case strings.HasPrefix(line, "Partition Table:"):
			info.PartitionTable = valueAfterColon(line)

		case strings.HasPrefix(line, "Disk Flags:"):
			// Not part of the summary.

		case strings.HasPrefix(line, "Disk"):
			info.Disk = valueAfterColon(line)
		}
	}

	return info
}

func valueAfterColon(line string) string {
	_, value, found := strings.Cut(line, ":")
	if !found {
		return ""
	}

	return strings.TrimSpace(value)
}
