// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package imagemigratelib

import (
	"cmp"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/oracle/oci-utils-sub001/internal/diskutils"
	"github.com/oracle/oci-utils-sub001/internal/logger"
	"github.com/oracle/oci-utils-sub001/internal/safechroot"
	"github.com/oracle/oci-utils-sub001/internal/sliceutils"
	"golang.org/x/sys/unix"
)

var trailingNumberRegex = regexp.MustCompile(`(\d+)$`)

// Extended partition container types in the sfdisk dump.
var extendedPartitionTypeIds = []string{"5", "f"}

// analyzePartitions populates the descriptor's partition map from the
// attached device: lsblk for the device topology, blkid for filesystem tags,
// and the sfdisk dump for partition slot data.
//
// Must be called after any LVM volume groups on the image have been
// activated, so that the logical volumes show up in the device tree.
func analyzePartitions(descriptor *ImageDescriptor) error {
	diskPartitions, err := diskutils.GetDiskPartitions(descriptor.DevicePath)
	if err != nil {
		return NewImageMigrateErrorWithCause(PartitionAnalysisError,
			"failed to enumerate the image's partitions", err)
	}

	sfdiskEntries := map[string]diskutils.SfdiskEntry{}
	for _, entry := range descriptor.SfdiskEntries {
		sfdiskEntries[entry.Path] = entry
	}

	for _, diskPartition := range diskPartitions {
		if diskPartition.Type != "part" && diskPartition.Type != "lvm" {
			continue
		}

		record := &PartitionRecord{
			Path:           diskPartition.Path,
			FileSystemType: diskPartition.FileSystemType,
			Uuid:           diskPartition.Uuid,
			Label:          diskPartition.Label,
			PartUuid:       diskPartition.PartUuid,
			PartLabel:      diskPartition.PartLabel,
		}

		enrichRecordFromUdev(record)

		if record.Label == "" {
			// blkid skips labels it cannot decode; lsblk is more forgiving.
			label, err := diskutils.GetDeviceLabel(diskPartition.Path)
			if err == nil {
				record.Label = label
			}
		}

		if sfdiskEntry, ok := sfdiskEntries[diskPartition.Path]; ok {
			record.StartSector = sfdiskEntry.Start
			record.SizeInSectors = sfdiskEntry.Size
			record.TypeId = sfdiskEntry.Id
			record.Bootable = sfdiskEntry.Bootable
		}

		usage, err := classifyPartitionUsage(record.FileSystemType)
		if err != nil {
			return NewImageMigrateErrorWithCause(PartitionAnalysisError,
				fmt.Sprintf("failed to analyze partition (%s)", diskPartition.Path), err)
		}
		record.Usage = usage

		if record.FileSystemType == "" {
			if sliceutils.ContainsValue(extendedPartitionTypeIds, record.TypeId) {
				logger.Log.Debugf("Partition (%s) is an extended partition container", diskPartition.Path)
			} else {
				logger.Log.Warnf("Skipping partition (%s): no filesystem type detected", diskPartition.Path)
			}
		}

		descriptor.Partitions[diskPartition.Path] = record
	}

	return nil
}

// enrichRecordFromUdev fills in filesystem details that lsblk left blank
// using blkid's udev output. blkid fails on partitions without a filesystem,
// which is not an error here.
func enrichRecordFromUdev(record *PartitionRecord) {
	properties, err := diskutils.GetUdevProperties(record.Path)
	if err != nil {
		logger.Log.Debugf("No udev properties for partition (%s): %s", record.Path, err)
		return
	}

	if record.FileSystemType == "" {
		record.FileSystemType = properties["ID_FS_TYPE"]
	}
	if record.Uuid == "" {
		record.Uuid = properties["ID_FS_UUID"]
	}
	if record.Label == "" {
		record.Label = properties["ID_FS_LABEL"]
	}
	if record.PartUuid == "" {
		record.PartUuid = properties["ID_PART_ENTRY_UUID"]
	}
	if record.PartLabel == "" {
		record.PartLabel = properties["ID_PART_ENTRY_NAME"]
	}
}

// loadFstabEntries parses the guest's fstab file into the descriptor. All
// rows are kept, including pseudo filesystems and swap, since the
// prerequisite checks inspect the full table.
func loadFstabEntries(descriptor *ImageDescriptor, fstabPath string) error {
	fstabEntries, err := diskutils.ReadFstabFile(fstabPath)
	if err != nil {
		return NewImageMigrateErrorWithCause(PartitionAnalysisError,
			fmt.Sprintf("failed to read guest fstab file (%s)", fstabPath), err)
	}

	descriptor.FstabEntries = fstabEntries
	return nil
}

// resolveFstabSource maps an fstab source spec onto a discovered partition
// record. Recognized forms are UUID=, LABEL=, PARTUUID=, PARTLABEL=,
// /dev/mapper paths, and plain /dev device paths. The second return value
// reports whether the source names a block device at all; pseudo filesystem
// sources (proc, tmpfs, none, ...) return false.
func resolveFstabSource(descriptor *ImageDescriptor, source string) (*PartitionRecord, bool) {
	switch {
	case strings.HasPrefix(source, "UUID="):
		uuid := strings.TrimPrefix(source, "UUID=")
		return findPartitionRecord(descriptor, func(r *PartitionRecord) bool { return r.Uuid == uuid }), true

	case strings.HasPrefix(source, "LABEL="):
		label := strings.TrimPrefix(source, "LABEL=")
		return findPartitionRecord(descriptor, func(r *PartitionRecord) bool { return r.Label == label }), true

	case strings.HasPrefix(source, "PARTUUID="):
		partUuid := strings.TrimPrefix(source, "PARTUUID=")
		return findPartitionRecord(descriptor, func(r *PartitionRecord) bool { return r.PartUuid == partUuid }), true

	case strings.HasPrefix(source, "PARTLABEL="):
		partLabel := strings.TrimPrefix(source, "PARTLABEL=")
		return findPartitionRecord(descriptor, func(r *PartitionRecord) bool { return r.PartLabel == partLabel }), true

	case strings.HasPrefix(source, "/dev/mapper/"):
		if record, ok := descriptor.Partitions[source]; ok {
			return record, true
		}

		// Device mapper names may be aliased (e.g. /dev/vg/lv links). Fall
		// back to matching the mapper name against the discovered paths.
		name := strings.TrimPrefix(source, "/dev/mapper/")
		return findPartitionRecord(descriptor, func(r *PartitionRecord) bool {
			return strings.Contains(r.Path, name)
		}), true

	case strings.HasPrefix(source, "/dev/"):
		return findPartitionByNumber(descriptor, source), true

	default:
		return nil, false
	}
}

func findPartitionRecord(descriptor *ImageDescriptor, match func(*PartitionRecord) bool) *PartitionRecord {
	record, _ := sliceutils.FindValueFunc(sortedPartitionRecords(descriptor), match)
	return record
}

// findPartitionByNumber maps a guest device name (e.g. /dev/sda3) onto the
// attached device's partition with the same partition number. The guest's
// own device naming has no meaning on the host, so only the trailing number
// is used.
func findPartitionByNumber(descriptor *ImageDescriptor, source string) *PartitionRecord {
	number := trailingNumberRegex.FindString(source)
	if number == "" {
		return nil
	}

	return findPartitionRecord(descriptor, func(r *PartitionRecord) bool {
		return strings.HasPrefix(r.Path, descriptor.DevicePath) &&
			trailingNumberRegex.FindString(r.Path) == number
	})
}

// resolveRootAndBoot resolves the / and /boot rows of the guest's fstab onto
// partition records and marks their usage. A missing or unresolvable / row
// fails the analysis. A missing /boot row is fine: the boot files then live
// on the root partition.
func resolveRootAndBoot(descriptor *ImageDescriptor) error {
	rootEntry, found := findFstabEntryByTarget(descriptor, "/")
	if !found {
		return RootPartitionNotFoundError
	}

	rootRecord, isDevice := resolveFstabSource(descriptor, rootEntry.Source)
	if !isDevice || rootRecord == nil {
		return fmt.Errorf("failed to resolve root partition from fstab source (%s):\n%w", rootEntry.Source,
			RootPartitionNotFoundError)
	}

	rootRecord.Usage = PartitionUsageRoot
	descriptor.RootPartitionPath = rootRecord.Path
	descriptor.RootMountPath = rootRecord.MountPath

	bootEntry, found := findFstabEntryByTarget(descriptor, "/boot")
	if found {
		bootRecord, _ := resolveFstabSource(descriptor, bootEntry.Source)
		if bootRecord != nil {
			bootRecord.Usage = PartitionUsageBoot
			descriptor.BootPartitionPath = bootRecord.Path
			descriptor.BootMountPath = bootRecord.MountPath
		} else {
			logger.Log.Warnf("Could not resolve /boot partition from fstab source (%s)", bootEntry.Source)
		}
	}

	return nil
}

func findFstabEntryByTarget(descriptor *ImageDescriptor, target string) (diskutils.FstabEntry, bool) {
	return sliceutils.FindValueFunc(descriptor.FstabEntries, func(entry diskutils.FstabEntry) bool {
		return entry.Target == target
	})
}

// buildChrootBindMounts returns bind mounts that reproduce the guest's fstab
// layout inside the chroot. The / row is skipped since the chroot sits
// directly on the root partition's mount point, and so are rows that did not
// resolve to a mounted partition. Mounts are ordered parents before
// children.
func buildChrootBindMounts(descriptor *ImageDescriptor) []*safechroot.MountPoint {
	bindEntries := sliceutils.FindMatches(descriptor.FstabEntries, func(entry diskutils.FstabEntry) bool {
		return entry.Target != "/" && entry.FsType != "swap" && !isSpecialFstabEntry(entry)
	})

	slices.SortStableFunc(bindEntries, func(a, b diskutils.FstabEntry) int {
		return cmp.Or(
			cmp.Compare(strings.Count(a.Target, "/"), strings.Count(b.Target, "/")),
			cmp.Compare(a.Target, b.Target))
	})

	mountPoints := []*safechroot.MountPoint(nil)
	for _, entry := range bindEntries {
		record, _ := resolveFstabSource(descriptor, entry.Source)
		if record == nil || record.MountPath == "" {
			logger.Log.Debugf("Not binding fstab row (%s -> %s) into the chroot", entry.Source, entry.Target)
			continue
		}

		mountPoints = append(mountPoints,
			safechroot.NewMountPoint(record.MountPath, entry.Target, "", unix.MS_BIND, ""))
	}

	return mountPoints
}

// isSpecialFstabEntry reports whether the entry mounts a pseudo filesystem
// rather than a partition.
func isSpecialFstabEntry(entry diskutils.FstabEntry) bool {
	switch entry.FsType {
	case "devtmpfs", "proc", "sysfs", "devpts", "tmpfs":
		return true

	default:
		return false
	}
}
