// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package imagemigratelib

import (
	"strings"
	"testing"

	"github.com/oracle/oci-utils-sub001/internal/diskutils"
	"github.com/stretchr/testify/assert"
)

// newPassingDescriptor builds a descriptor that satisfies every import
// prerequisite.
func newPassingDescriptor() *ImageDescriptor {
	descriptor := newTestDescriptor()

	descriptor.BootType = BootTypeBios
	descriptor.MbrRead = true
	descriptor.Mbr.Signature = diskutils.MbrSignature
	descriptor.Mbr.Partitions[0].Status = 0x80

	descriptor.FstabEntries = []diskutils.FstabEntry{
		{Source: "UUID=1111-2222", Target: "/", FsType: "ext4", Options: "defaults"},
		{Source: "UUID=3333-4444", Target: "/boot", FsType: "vfat", Options: "defaults"},
		{Source: "tmpfs", Target: "/dev/shm", FsType: "tmpfs", Options: "defaults"},
	}

	descriptor.GrubVersion = 2
	descriptor.BootEntries = []BootEntry{
		{
			Title: "Oracle Linux Server 7.9",
			Lines: []string{
				"menuentry 'Oracle Linux Server 7.9' {",
				"\tsearch --no-floppy --fs-uuid --set=root 1111-2222",
				"\tlinux16 /vmlinuz-4.14.35-1902.3.2.el7uek.x86_64 root=UUID=1111-2222 ro",
				"}",
			},
		},
	}

	descriptor.OsRelease = map[string]string{
		"NAME":       "Oracle Linux Server",
		"ID":         "ol",
		"VERSION_ID": "7.9",
	}

	return descriptor
}

func assertHasReasonContaining(t *testing.T, result *ValidationResult, substring string) {
	for _, reason := range result.Reasons {
		if strings.Contains(reason, substring) {
			return
		}
	}
	assert.Failf(t, "missing validation reason", "no reason contains (%s) in %v", substring, result.Reasons)
}

func TestValidatePassingImage(t *testing.T) {
	descriptor := newPassingDescriptor()

	result := validateImportPrerequisites(descriptor)
	assert.True(t, result.Pass)
	assert.Empty(t, result.Reasons)
}

func TestValidateRawDevicePathFstabFails(t *testing.T) {
	descriptor := newPassingDescriptor()
	descriptor.FstabEntries[0].Source = "/dev/sda1"

	result := validateImportPrerequisites(descriptor)
	assert.False(t, result.Pass)
	assert.Len(t, result.Reasons, 1)
	assertHasReasonContaining(t, result, "raw device path (/dev/sda1)")
}

func TestValidateMapperFstabSourcePasses(t *testing.T) {
	descriptor := newPassingDescriptor()
	descriptor.FstabEntries[0].Source = "/dev/mapper/vg01-lv_data"

	result := validateImportPrerequisites(descriptor)
	assert.True(t, result.Pass)
}

func TestValidateUnknownFstabUuidFails(t *testing.T) {
	descriptor := newPassingDescriptor()
	descriptor.FstabEntries[1].Source = "UUID=dead-beef"

	result := validateImportPrerequisites(descriptor)
	assert.False(t, result.Pass)
	assertHasReasonContaining(t, result, "does not match any discovered partition")
}

// All checks run even when an early one fails, so a single validation reports
// every problem at once.
func TestValidateCollectsAllFailures(t *testing.T) {
	descriptor := newPassingDescriptor()
	descriptor.BootType = BootTypeUnknown
	descriptor.MbrRead = false
	descriptor.FstabEntries[0].Source = "/dev/sda1"
	descriptor.OsRelease["NAME"] = "TempleOS"
	descriptor.HardcodedMacInterfaces = []string{"etc/sysconfig/network-scripts/ifcfg-eth0"}

	result := validateImportPrerequisites(descriptor)
	assert.False(t, result.Pass)
	assert.GreaterOrEqual(t, len(result.Reasons), 5)

	assertHasReasonContaining(t, result, "boot type could not be determined")
	assertHasReasonContaining(t, result, "boot sector could not be read")
	assertHasReasonContaining(t, result, "raw device path (/dev/sda1)")
	assertHasReasonContaining(t, result, "(TempleOS) is not supported")
	assertHasReasonContaining(t, result, "hard-codes a MAC address")
}

func TestValidateMbrFindings(t *testing.T) {
	descriptor := newPassingDescriptor()
	descriptor.Mbr.Signature = 0x1234
	descriptor.Mbr.Partitions[0].Status = 0

	result := validateImportPrerequisites(descriptor)
	assert.False(t, result.Pass)
	assert.Len(t, result.Reasons, 2)
	assertHasReasonContaining(t, result, "invalid MBR signature (0x1234)")
	assertHasReasonContaining(t, result, "no partition has the boot flag set")
}

func TestValidateNoBootEntries(t *testing.T) {
	descriptor := newPassingDescriptor()
	descriptor.BootEntries = nil

	result := validateImportPrerequisites(descriptor)
	assert.False(t, result.Pass)
	assertHasReasonContaining(t, result, "no menu entries")
}

func TestValidateGrub2EntryWithoutSearch(t *testing.T) {
	descriptor := newPassingDescriptor()
	descriptor.BootEntries[0].Lines = []string{
		"menuentry 'Oracle Linux Server 7.9' {",
		"\tlinux16 /vmlinuz-4.14.35-1902.3.2.el7uek.x86_64 root=UUID=1111-2222 ro",
		"}",
	}

	result := validateImportPrerequisites(descriptor)
	assert.False(t, result.Pass)
	assertHasReasonContaining(t, result, "has no search command")
}

func TestValidateGrub2EntryRootDevicePath(t *testing.T) {
	descriptor := newPassingDescriptor()
	descriptor.BootEntries[0].Lines = []string{
		"menuentry 'Oracle Linux Server 7.9' {",
		"\tsearch --no-floppy --fs-uuid --set=root 1111-2222",
		"\tlinux16 /vmlinuz-4.14.35-1902.3.2.el7uek.x86_64 root=/dev/sda1 ro",
		"}",
	}

	result := validateImportPrerequisites(descriptor)
	assert.False(t, result.Pass)
	assertHasReasonContaining(t, result, "passes a fixed root device path")
}

func TestValidateLegacyGrubEntries(t *testing.T) {
	tests := []struct {
		name       string
		kernelLine string
		problem    string
	}{
		{
			name:       "uuid-root",
			kernelLine: "\tkernel /vmlinuz-2.6.32-754.el6.x86_64 ro root=UUID=1111-2222",
			problem:    "",
		},
		{
			name:       "mapper-root",
			kernelLine: "\tkernel /vmlinuz-2.6.32-754.el6.x86_64 ro root=/dev/mapper/vg00-lv_root",
			problem:    "",
		},
		{
			name:       "raw-device-root",
			kernelLine: "\tkernel /vmlinuz-2.6.32-754.el6.x86_64 ro root=/dev/hda1",
			problem:    "boots from (root=/dev/hda1)",
		},
		{
			name:       "no-kernel-line",
			kernelLine: "\troot (hd0,0)",
			problem:    "has no kernel line",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			descriptor := newPassingDescriptor()
			descriptor.GrubVersion = 1
			descriptor.BootEntries = []BootEntry{
				{
					Title: "Oracle Linux Server",
					Lines: []string{tt.kernelLine},
				},
			}

			result := validateImportPrerequisites(descriptor)
			if tt.problem == "" {
				assert.True(t, result.Pass)
			} else {
				assert.False(t, result.Pass)
				assertHasReasonContaining(t, result, tt.problem)
			}
		})
	}
}

func TestValidateUnidentifiedOs(t *testing.T) {
	descriptor := newPassingDescriptor()
	descriptor.OsRelease = nil

	result := validateImportPrerequisites(descriptor)
	assert.False(t, result.Pass)
	assertHasReasonContaining(t, result, "guest OS could not be identified")
}
