// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package imagemigratelib

import (
	"fmt"
	"slices"

	"github.com/oracle/oci-utils-sub001/internal/diskutils"
	"github.com/oracle/oci-utils-sub001/internal/lvmutils"
	"github.com/oracle/oci-utils-sub001/internal/sliceutils"
)

// PartitionUsage describes how a guest partition participates in the
// migration.
type PartitionUsage string

const (
	// PartitionUsageRoot is the partition holding the guest's / filesystem.
	PartitionUsageRoot PartitionUsage = "root"
	// PartitionUsageBoot is the partition mounted at the guest's /boot.
	PartitionUsageBoot PartitionUsage = "boot"
	// PartitionUsageStandard is a mountable data partition.
	PartitionUsageStandard PartitionUsage = "standard"
	// PartitionUsageNa is a partition the migration deliberately ignores
	// (swap, extended containers, and similar).
	PartitionUsageNa PartitionUsage = "na"
)

// BootType describes how the guest's firmware finds its bootloader.
type BootType string

const (
	BootTypeUnknown BootType = ""
	BootTypeBios    BootType = "BIOS"
	BootTypeUefi    BootType = "UEFI"
)

// Filesystems the migration knows how to mount and inspect.
var supportedFileSystems = []string{"ext2", "ext3", "ext4", "xfs", "btrfs", "vfat"}

// Filesystem tags that are recognized but carry no mountable data.
var ignoredFileSystems = []string{"swap", "linux_raid_member", "crypto_LUKS"}

const lvmPhysicalVolumeTag = "LVM2_member"

// PartitionRecord holds everything the migration learned about a single
// guest partition or logical volume.
type PartitionRecord struct {
	// Path is the host device path (e.g. /dev/loop0p2, /dev/mapper/vg-lv).
	Path string
	// FileSystemType is the filesystem tag reported by blkid, if any.
	FileSystemType string
	Uuid           string
	Label          string
	PartUuid       string
	PartLabel      string
	Usage          PartitionUsage
	// Bootable reports whether the MBR slot for this partition carries the
	// boot flag.
	Bootable bool
	// StartSector and SizeInSectors come from the sfdisk dump. Both are 0
	// for logical volumes.
	StartSector   uint64
	SizeInSectors uint64
	// TypeId is the MBR partition type from sfdisk (e.g. "83"). Empty for
	// logical volumes.
	TypeId string
	// MountPath is where the partition is currently mounted on the host.
	// Empty while unmounted.
	MountPath string
}

// BootEntry is a single bootloader menu entry, kept as an opaque ordered
// list of configuration lines. The lines are consumed later only for
// boot-UUID validation and default-kernel lookup.
type BootEntry struct {
	Title string
	Lines []string
}

// ValidationResult is the outcome of the import prerequisite checks.
type ValidationResult struct {
	Pass    bool     `yaml:"pass" json:"pass"`
	Reasons []string `yaml:"reasons" json:"reasons"`
}

// ImageDescriptor accumulates everything a single migration run learns about
// the image. It starts almost empty and is filled in as the inspection
// stages run.
type ImageDescriptor struct {
	// ImageFilePath is the (decompressed) image file that was attached.
	ImageFilePath string
	ImageFormat   string
	// DevicePath is the host block device the image is attached to.
	DevicePath string

	Mbr diskutils.Mbr
	// MbrRead reports whether the boot sector could be read at all.
	MbrRead bool

	PartedInfo    diskutils.PartedInfo
	SfdiskEntries []diskutils.SfdiskEntry

	// Partitions maps host device paths to their records. Logical volumes
	// appear under their /dev/mapper path.
	Partitions map[string]*PartitionRecord

	VolumeGroups []lvmutils.VolumeGroup

	FstabEntries []diskutils.FstabEntry
	// FstabPath is the host-side path of the guest's fstab file.
	FstabPath string

	RootPartitionPath string
	RootMountPath     string
	BootPartitionPath string
	BootMountPath     string

	OsRelease map[string]string

	BootType             BootType
	GrubVersion          int
	BootConfigPath       string
	BootEntries          []BootEntry
	DefaultKernelVersion string

	// HardcodedMacInterfaces lists guest interface config files that pin a
	// MAC address.
	HardcodedMacInterfaces []string

	// VirtioDrivers lists the virtio kernel modules found in the guest's
	// default initrd.
	VirtioDrivers []string

	Validation *ValidationResult
}

// NewImageDescriptor returns a descriptor for the given image file.
func NewImageDescriptor(imageFilePath string, imageFormat string) *ImageDescriptor {
	return &ImageDescriptor{
		ImageFilePath: imageFilePath,
		ImageFormat:   imageFormat,
		Partitions:    map[string]*PartitionRecord{},
	}
}

// OsName returns the guest's os-release NAME value, if known.
func (d *ImageDescriptor) OsName() string {
	return d.OsRelease["NAME"]
}

// OsId returns the guest's os-release ID value, if known.
func (d *ImageDescriptor) OsId() string {
	return d.OsRelease["ID"]
}

// OsVersionId returns the guest's os-release VERSION_ID value, if known.
func (d *ImageDescriptor) OsVersionId() string {
	return d.OsRelease["VERSION_ID"]
}

// classifyPartitionUsage decides how the migration treats a partition based
// on its filesystem tag.
//
// Partitions with a supported filesystem are mounted and inspected. LVM
// physical volumes are resolved into logical volumes, which are classified
// on their own. Known dataless tags are skipped. Any other non-empty tag
// fails the analysis.
func classifyPartitionUsage(fileSystemType string) (PartitionUsage, error) {
	switch {
	case fileSystemType == "":
		return PartitionUsageNa, nil

	case sliceutils.ContainsValue(supportedFileSystems, fileSystemType):
		return PartitionUsageStandard, nil

	case fileSystemType == lvmPhysicalVolumeTag:
		return PartitionUsageStandard, nil

	case sliceutils.ContainsValue(ignoredFileSystems, fileSystemType):
		return PartitionUsageNa, nil

	default:
		return PartitionUsageNa, fmt.Errorf("unsupported partition type (%s)", fileSystemType)
	}
}

// isLvmPhysicalVolume reports whether the record is an LVM physical volume
// rather than a directly mountable filesystem.
func (r *PartitionRecord) isLvmPhysicalVolume() bool {
	return r.FileSystemType == lvmPhysicalVolumeTag
}

// sortedPartitionRecords returns the descriptor's partition records ordered
// by device path, so that walks over the partition map are deterministic.
func sortedPartitionRecords(d *ImageDescriptor) []*PartitionRecord {
	paths := sliceutils.MapToSlice(d.Partitions)
	slices.Sort(paths)

	records := make([]*PartitionRecord, 0, len(paths))
	for _, path := range paths {
		records = append(records, d.Partitions[path])
	}
	return records
}

// isMountable reports whether the migration can mount this record's
// filesystem directly.
func (r *PartitionRecord) isMountable() bool {
	return sliceutils.ContainsValue(supportedFileSystems, r.FileSystemType)
}
