// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package lvmutils discovers and activates LVM2 volume groups inside an
// attached disk image without disturbing the host's own volume groups.
package lvmutils

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/oracle/oci-utils-sub001/internal/logger"
	"github.com/oracle/oci-utils-sub001/internal/shell"
)

var (
	// ErrVolumeGroupNameCollision reports a volume group name that exists on
	// both the host and the attached image. Activating either one by name
	// would be ambiguous, so the run is aborted instead.
	ErrVolumeGroupNameCollision = errors.New("volume group name exists on both the host and the attached image")

	// Example: Found volume group "vg02" using metadata type lvm2
	vgscanVolumeGroupRegex = regexp.MustCompile(`Found volume group "([^"]+)"`)

	// Example: inactive          '/dev/vg02/lv_data' [5.00 GiB] inherit
	lvscanInactiveRegex = regexp.MustCompile(`(?m)^\s*inactive\s+'/dev/([^/']+)/([^/']+)'`)
)

// LogicalVolume is a logical volume discovered inside the attached image.
type LogicalVolume struct {
	// Name is the logical volume's name within its volume group.
	Name string
	// MapperName is the volume's device-mapper name. e.g. vg02-lv_data
	MapperName string
}

// VolumeGroup is a volume group discovered inside the attached image, with
// its logical volumes in discovery order.
type VolumeGroup struct {
	Name           string
	LogicalVolumes []LogicalVolume
}

// MapperName returns the device-mapper name for a logical volume. Dashes in
// the volume group and logical volume names are doubled before joining with a
// single dash. e.g. vg-data/lv-a maps to vg--data-lv--a
func MapperName(vgName string, lvName string) string {
	return strings.ReplaceAll(vgName, "-", "--") + "-" + strings.ReplaceAll(lvName, "-", "--")
}

// MapperPath returns the device path of a logical volume's device-mapper
// node.
func MapperPath(vgName string, lvName string) string {
	return "/dev/mapper/" + MapperName(vgName, lvName)
}

// ListVolumeGroups returns the names of all volume groups currently visible
// to the host, in the order vgscan reports them.
func ListVolumeGroups() ([]string, error) {
	stdout, stderr, err := shell.Execute("vgscan", "--verbose")
	if err != nil {
		return nil, fmt.Errorf("failed to scan volume groups:\n%w", err)
	}

	return parseVgscanOutput(stdout + stderr), nil
}

func parseVgscanOutput(output string) []string {
	var names []string
	for _, match := range vgscanVolumeGroupRegex.FindAllStringSubmatch(output, -1) {
		names = append(names, match[1])
	}

	return names
}

// RescanImageVolumeGroups rescans LVM state after a disk image has been
// attached and returns the volume groups that came from the image.
// hostVolumeGroups is the snapshot taken by ListVolumeGroups before the image
// was attached; groups in it are excluded.
func RescanImageVolumeGroups(devicePath string, hostVolumeGroups []string) ([]VolumeGroup, error) {
	// Prime the physical volume cache with the attached device.
	_, _, err := shell.Execute("pvscan", "--cache", devicePath)
	if err != nil {
		return nil, fmt.Errorf("failed to rescan physical volumes on device (%s):\n%w", devicePath, err)
	}

	currentVolumeGroups, err := ListVolumeGroups()
	if err != nil {
		return nil, err
	}

	imageVolumeGroupNames, err := classifyVolumeGroups(hostVolumeGroups, currentVolumeGroups)
	if err != nil {
		return nil, err
	}

	if len(imageVolumeGroupNames) == 0 {
		return nil, nil
	}

	stdout, stderr, err := shell.Execute("lvscan", "--verbose")
	if err != nil {
		return nil, fmt.Errorf("failed to scan logical volumes:\n%w", err)
	}

	volumeGroups := ParseLvscanOutput(stdout + stderr)

	// Keep only the image's volume groups.
	var imageVolumeGroups []VolumeGroup
	for _, volumeGroup := range volumeGroups {
		for _, name := range imageVolumeGroupNames {
			if volumeGroup.Name == name {
				imageVolumeGroups = append(imageVolumeGroups, volumeGroup)
				break
			}
		}
	}

	return imageVolumeGroups, nil
}

// classifyVolumeGroups splits the volume group names visible after attaching
// the image into host groups and image groups. A name that is duplicated, or
// that was already present on the host, cannot be attributed safely and fails
// the run.
func classifyVolumeGroups(hostNames []string, currentNames []string) ([]string, error) {
	hostCounts := make(map[string]int)
	for _, name := range hostNames {
		hostCounts[name]++
	}

	currentCounts := make(map[string]int)
	for _, name := range currentNames {
		currentCounts[name]++
	}

	var imageNames []string
	for _, name := range currentNames {
		if currentCounts[name] > 1 {
			return nil, fmt.Errorf("volume group (%s) is listed more than once:\n%w", name,
				ErrVolumeGroupNameCollision)
		}

		if hostCounts[name] > 0 {
			// Belongs to the host.
			continue
		}

		imageNames = append(imageNames, name)
	}

	return imageNames, nil
}

// ParseLvscanOutput extracts the inactive logical volumes from
// 'lvscan --verbose' output, grouped by volume group in first-seen order.
// Active volumes already belong to the host and are excluded.
func ParseLvscanOutput(output string) []VolumeGroup {
	var volumeGroups []VolumeGroup
	groupIndex := make(map[string]int)

	for _, match := range lvscanInactiveRegex.FindAllStringSubmatch(output, -1) {
		vgName := match[1]
		lvName := match[2]

		index, exists := groupIndex[vgName]
		if !exists {
			index = len(volumeGroups)
			groupIndex[vgName] = index
			volumeGroups = append(volumeGroups, VolumeGroup{Name: vgName})
		}

		volumeGroups[index].LogicalVolumes = append(volumeGroups[index].LogicalVolumes, LogicalVolume{
			Name:       lvName,
			MapperName: MapperName(vgName, lvName),
		})
	}

	return volumeGroups
}

// ActivateVolumeGroups activates the given volume groups so that their
// logical volumes appear under /dev/mapper. Activation of each group is
// confirmed against vgchange's output.
func ActivateVolumeGroups(volumeGroups []VolumeGroup) error {
	for _, volumeGroup := range volumeGroups {
		logger.Log.Debugf("Activating volume group (%s)", volumeGroup.Name)

		stdout, stderr, err := shell.Execute("vgchange", "--activate", "y", volumeGroup.Name)
		if err != nil {
			return fmt.Errorf("failed to activate volume group (%s):\n%w", volumeGroup.Name, err)
		}

		if !strings.Contains(stdout, volumeGroup.Name) && !strings.Contains(stderr, volumeGroup.Name) {
			return fmt.Errorf("activation of volume group (%s) was not confirmed by vgchange",
				volumeGroup.Name)
		}
	}

	return nil
}

// DeactivateVolumeGroups deactivates the given volume groups and drops the
// physical volume cache. Failures are logged, not returned, so that the rest
// of the teardown still runs.
func DeactivateVolumeGroups(volumeGroups []VolumeGroup) {
	for _, volumeGroup := range volumeGroups {
		logger.Log.Debugf("Deactivating volume group (%s)", volumeGroup.Name)

		_, _, err := shell.Execute("vgchange", "--activate", "n", volumeGroup.Name)
		if err != nil {
			logger.Log.Errorf("Failed to deactivate volume group (%s): %v", volumeGroup.Name, err)
		}
	}

	if len(volumeGroups) > 0 {
		err := ClearPhysicalVolumeCache()
		if err != nil {
			logger.Log.Errorf("%v", err)
		}
	}
}

// ClearPhysicalVolumeCache rescans the physical volume cache so that metadata
// for devices that no longer exist, such as a just-detached disk image, is
// dropped.
func ClearPhysicalVolumeCache() error {
	_, _, err := shell.Execute("pvscan", "--cache")
	if err != nil {
		return fmt.Errorf("failed to clear the physical volume cache:\n%w", err)
	}

	return nil
}
