// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package diskutils

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/oracle/oci-utils-sub001/internal/file"
	"github.com/oracle/oci-utils-sub001/internal/logger"
	"golang.org/x/sys/unix"
)

// MountFlags is a bitmask of mount syscall flags. e.g. unix.MS_RDONLY
type MountFlags uintptr

// FstabEntry is a single row of an fstab file.
type FstabEntry struct {
	// Source is the device to mount. e.g. /dev/sda1, UUID=..., LABEL=...
	Source string
	// Target is the path to mount the device at.
	Target string
	// FsType is the filesystem type. e.g. ext4
	FsType string
	// Options is the raw options field.
	Options string
	// Freq is the dump frequency field.
	Freq int
	// PassNo is the fsck pass number field.
	PassNo int
	// VfsOptions is the mount flags portion of the options field.
	VfsOptions MountFlags
	// FsOptions is the filesystem specific portion of the options field.
	FsOptions string
}

// Mount options that map directly to a mount syscall flag. Options mapping to
// 0 are recognized but carry no flag.
var vfsOptionFlags = map[string]MountFlags{
	"defaults":    0,
	"rw":          0,
	"suid":        0,
	"dev":         0,
	"exec":        0,
	"async":       0,
	"atime":       0,
	"diratime":    0,
	"ro":          unix.MS_RDONLY,
	"nosuid":      unix.MS_NOSUID,
	"nodev":       unix.MS_NODEV,
	"noexec":      unix.MS_NOEXEC,
	"sync":        unix.MS_SYNCHRONOUS,
	"dirsync":     unix.MS_DIRSYNC,
	"noatime":     unix.MS_NOATIME,
	"nodiratime":  unix.MS_NODIRATIME,
	"relatime":    unix.MS_RELATIME,
	"strictatime": unix.MS_STRICTATIME,
	"lazytime":    unix.MS_LAZYTIME,
	"silent":      unix.MS_SILENT,
	"mand":        unix.MS_MANDLOCK,
	"bind":        unix.MS_BIND,
}

// ReadFstabFile reads and parses an fstab file.
func ReadFstabFile(fstabPath string) ([]FstabEntry, error) {
	lines, err := file.ReadLines(fstabPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read fstab file (%s):\n%w", fstabPath, err)
	}

	entries, err := ParseFstabLines(lines)
	if err != nil {
		return nil, fmt.Errorf("failed to parse fstab file (%s):\n%w", fstabPath, err)
	}

	return entries, nil
}

// ParseFstabLines parses the rows of an fstab file. Comment lines and rows
// with fewer than 6 fields are skipped.
func ParseFstabLines(lines []string) ([]FstabEntry, error) {
	var entries []FstabEntry
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		fields := strings.Fields(trimmed)
		if len(fields) < 6 {
			logger.Log.Debugf("Skipping fstab row with too few fields (%s)", trimmed)
			continue
		}

		freq, err := strconv.Atoi(fields[4])
		if err != nil {
			return nil, fmt.Errorf("failed to parse fstab row's dump frequency field (%s):\n%w", trimmed, err)
		}

		passNo, err := strconv.Atoi(fields[5])
		if err != nil {
			return nil, fmt.Errorf("failed to parse fstab row's fsck pass field (%s):\n%w", trimmed, err)
		}

		vfsOptions, fsOptions := parseMountOptions(fields[3])

		entry := FstabEntry{
			Source:     fields[0],
			Target:     fields[1],
			FsType:     fields[2],
			Options:    fields[3],
			Freq:       freq,
			PassNo:     passNo,
			VfsOptions: vfsOptions,
			FsOptions:  fsOptions,
		}

		entries = append(entries, entry)
	}

	return entries, nil
}

// parseMountOptions splits a comma separated mount options string into the
// mount syscall flags and the filesystem specific options.
func parseMountOptions(options string) (MountFlags, string) {
	var flags MountFlags
	var fsOptions []string

	for _, option := range strings.Split(options, ",") {
		flag, known := vfsOptionFlags[option]
		if known {
			flags |= flag
			continue
		}

		fsOptions = append(fsOptions, option)
	}

	return flags, strings.Join(fsOptions, ",")
}
