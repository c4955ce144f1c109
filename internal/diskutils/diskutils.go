// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package diskutils reads disk, partition, and filesystem metadata from block
// devices and disk image files.
package diskutils

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/oracle/oci-utils-sub001/internal/logger"
	"github.com/oracle/oci-utils-sub001/internal/shell"
	"golang.org/x/sys/unix"
)

// Byte size multiples.
const (
	KiB = 1024
	MiB = 1024 * KiB
	GiB = 1024 * MiB
	TiB = 1024 * GiB
)

const (
	// Partition type UUID of an EFI System Partition on a GPT disk.
	EfiSystemPartitionTypeUuid = "c12a7328-f81f-11d2-ba4b-00a0c93ec93b"

	// Partition type UUID of a BIOS boot partition on a GPT disk.
	BiosBootPartitionTypeUuid = "21686148-6449-6e6f-744e-656564454649"
)

// PartitionInfo describes a block device reported by lsblk.
type PartitionInfo struct {
	Name              string `json:"name"`
	Path              string `json:"path"`
	Type              string `json:"type"`
	FileSystemType    string `json:"fstype"`
	Uuid              string `json:"uuid"`
	PartUuid          string `json:"partuuid"`
	PartLabel         string `json:"partlabel"`
	PartitionTypeUuid string `json:"parttype"`
	Label             string `json:"label"`
	SizeInBytes       uint64 `json:"size"`
	MountPath         string `json:"mountpoint"`
}

type lsblkOutput struct {
	BlockDevices []lsblkDevice `json:"blockdevices"`
}

type lsblkDevice struct {
	PartitionInfo
	Children []lsblkDevice `json:"children"`
}

// GetDiskPartitions returns metadata for a disk device and all of its
// partitions, including partitions nested under device-mapper nodes.
func GetDiskPartitions(diskDevPath string) ([]PartitionInfo, error) {
	jsonText, _, err := shell.Execute("lsblk", "--json", "--bytes", "--output",
		"NAME,PATH,TYPE,FSTYPE,UUID,PARTUUID,PARTLABEL,PARTTYPE,LABEL,SIZE,MOUNTPOINT", diskDevPath)
	if err != nil {
		return nil, fmt.Errorf("failed to list partitions of disk (%s):\n%w", diskDevPath, err)
	}

	var output lsblkOutput
	err = json.Unmarshal([]byte(jsonText), &output)
	if err != nil {
		return nil, fmt.Errorf("failed to parse lsblk output:\n%w", err)
	}

	var partitions []PartitionInfo
	for i := range output.BlockDevices {
		collectBlockDevices(&output.BlockDevices[i], &partitions)
	}

	return partitions, nil
}

func collectBlockDevices(device *lsblkDevice, partitions *[]PartitionInfo) {
	*partitions = append(*partitions, device.PartitionInfo)
	for i := range device.Children {
		collectBlockDevices(&device.Children[i], partitions)
	}
}

// GetDeviceLabel returns the filesystem label of a partition. The label may be
// empty.
func GetDeviceLabel(partitionPath string) (string, error) {
	stdout, _, err := shell.Execute("lsblk", "-n", "-o", "LABEL", partitionPath)
	if err != nil {
		return "", fmt.Errorf("failed to read label of partition (%s):\n%w", partitionPath, err)
	}

	return strings.TrimSpace(stdout), nil
}

// GetUdevProperties probes a partition with blkid and returns its udev-style
// properties. e.g. ID_FS_UUID, ID_FS_TYPE
func GetUdevProperties(partitionPath string) (map[string]string, error) {
	stdout, _, err := shell.Execute("blkid", "-po", "udev", partitionPath)
	if err != nil {
		return nil, fmt.Errorf("failed to probe partition (%s):\n%w", partitionPath, err)
	}

	return ParseUdevProperties(stdout), nil
}

// ParseUdevProperties parses KEY=VALUE lines, such as those printed by
// 'blkid -po udev'.
func ParseUdevProperties(output string) map[string]string {
	properties := make(map[string]string)
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}

		properties[key] = value
	}

	return properties
}

// WaitForDevicesToSettle waits for udev to finish processing device events, so
// that recently created partition device nodes exist.
func WaitForDevicesToSettle() error {
	logger.Log.Debugf("Waiting for devices to settle")

	_, _, err := shell.Execute("udevadm", "settle")
	if err != nil {
		return fmt.Errorf("failed to wait for devices to settle:\n%w", err)
	}

	return nil
}

// RefreshPartitions asks the kernel to re-read a disk's partition table.
func RefreshPartitions(diskDevPath string) error {
	logger.Log.Debugf("Refreshing partition table of disk (%s)", diskDevPath)

	diskFile, err := os.OpenFile(diskDevPath, os.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("failed to open disk (%s):\n%w", diskDevPath, err)
	}
	defer diskFile.Close()

	_, err = unix.IoctlRetInt(int(diskFile.Fd()), unix.BLKRRPART)
	if err != nil {
		return fmt.Errorf("failed to re-read partition table of disk (%s):\n%w", diskDevPath, err)
	}

	return nil
}
