// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package diskutils

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/oracle/oci-utils-sub001/internal/shell"
)

// SfdiskEntry is one partition row of an sfdisk dump.
type SfdiskEntry struct {
	// Path is the partition's device path. e.g. /dev/loop0p1
	Path string
	// Start is the partition's first sector.
	Start uint64
	// Size is the partition's size in sectors.
	Size uint64
	// Id is the partition's type tag. e.g. 83
	Id string
	// Bootable is whether the partition's boot flag is set.
	Bootable bool
}

// GetSfdiskEntries dumps a disk's partition table with sfdisk and parses the
// per-partition rows.
func GetSfdiskEntries(diskDevPath string) ([]SfdiskEntry, error) {
	stdout, _, err := shell.Execute("sfdisk", "-d", diskDevPath)
	if err != nil {
		return nil, fmt.Errorf("failed to dump partition table of disk (%s):\n%w", diskDevPath, err)
	}

	entries, err := ParseSfdiskDump(diskDevPath, stdout)
	if err != nil {
		return nil, fmt.Errorf("failed to parse sfdisk dump of disk (%s):\n%w", diskDevPath, err)
	}

	return entries, nil
}

// ParseSfdiskDump extracts the per-partition rows from 'sfdisk -d' output.
// Rows begin with the disk's device path and look like:
//
//	/dev/loop0p1 : start=        2048, size=      409600, Id=83, bootable
//
// Newer sfdisk versions emit 'type=' in place of 'Id='. Both are accepted.
func ParseSfdiskDump(diskDevPath string, dump string) ([]SfdiskEntry, error) {
	var entries []SfdiskEntry
	for _, line := range strings.Split(dump, "\n") {
		if !strings.HasPrefix(line, diskDevPath) {
			continue
		}

		entry, err := parseSfdiskLine(line)
		if err != nil {
			return nil, err
		}

		entries = append(entries, entry)
	}

	return entries, nil
}

func parseSfdiskLine(line string) (SfdiskEntry, error) {
	path, fieldsText, found := strings.Cut(line, ":")
	if !found {
		return SfdiskEntry{}, fmt.Errorf("invalid sfdisk dump row (%s)", line)
	}

	entry := SfdiskEntry{
		Path: strings.TrimSpace(path),
	}

	for _, field := range strings.Split(fieldsText, ",") {
		field = strings.TrimSpace(field)

		name, value, found := strings.Cut(field, "=")
		if !found {
			if field == "bootable" {
				entry.Bootable = true
			}
			continue
		}

		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)

		var err error
		switch name {
		case "start":
			entry.Start, err = strconv.ParseUint(value, 10, 64)
			if err != nil {
				return SfdiskEntry{}, fmt.Errorf("invalid start sector in sfdisk dump row (%s):\n%w", line, err)
			}

		case "size":
			entry.Size, err = strconv.ParseUint(value, 10, 64)
			if err != nil {
				return SfdiskEntry{}, fmt.Errorf("invalid size in sfdisk dump row (%s):\n%w", line, err)
			}

		case "Id", "type":
			entry.Id = value
		}
	}

	return entry, nil
}

// String formats the entry as an sfdisk dump row.
func (e SfdiskEntry) String() string {
	line := fmt.Sprintf("%s : start=%d, size=%d, Id=%s", e.Path, e.Start, e.Size, e.Id)
	if e.Bootable {
		line += ", bootable"
	}

	return line
}
