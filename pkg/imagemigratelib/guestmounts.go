// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package imagemigratelib

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/oracle/oci-utils-sub001/internal/file"
	"github.com/oracle/oci-utils-sub001/internal/logger"
	"github.com/oracle/oci-utils-sub001/internal/safemount"
)

// guestMount is the subset of safemount.Mount the mount set relies on.
type guestMount interface {
	Target() string
	Close()
	CleanClose() error
}

// MountSet tracks every guest filesystem mounted during an inspection, in
// creation order, and unwinds them in reverse order.
type MountSet struct {
	mounts []guestMount
}

// NewMountSet returns an empty mount set.
func NewMountSet() *MountSet {
	return &MountSet{}
}

// Append adds a mount to the set. The mount must already be established.
func (s *MountSet) Append(mount guestMount) {
	s.mounts = append(s.mounts, mount)
}

// Targets returns the mount targets in creation order.
func (s *MountSet) Targets() []string {
	targets := []string(nil)
	for _, mount := range s.mounts {
		targets = append(targets, mount.Target())
	}
	return targets
}

// CleanClose unmounts every mount in reverse creation order. All mounts are
// attempted even if one fails. Returns the first error encountered.
func (s *MountSet) CleanClose() error {
	var firstErr error
	for i := len(s.mounts) - 1; i >= 0; i-- {
		err := s.mounts[i].CleanClose()
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.mounts = nil
	return firstErr
}

// Close unmounts every mount in reverse creation order, logging any errors.
func (s *MountSet) Close() {
	for i := len(s.mounts) - 1; i >= 0; i-- {
		s.mounts[i].Close()
	}
	s.mounts = nil
}

// mountPartitionForInspection mounts a partition under the mounts directory,
// at a subdirectory named after the device (e.g. /dev/mapper/vg-lv is
// mounted at <mountsDir>/vg-lv). The mount is appended to the set.
func mountPartitionForInspection(mountSet *MountSet, mountsDir string, record *PartitionRecord,
) (*safemount.Mount, error) {
	targetDir := filepath.Join(mountsDir, filepath.Base(record.Path))

	mount, err := safemount.NewMount(record.Path, targetDir, record.FileSystemType, 0, "", true)
	if err != nil {
		return nil, fmt.Errorf("failed to mount partition (%s) at (%s):\n%w", record.Path, targetDir, err)
	}

	mountSet.Append(mount)
	record.MountPath = targetDir
	return mount, nil
}

// mountAllStandardPartitions mounts every mountable partition record under
// the mounts directory. Partitions that fail to mount are logged and left
// unmounted.
func mountAllStandardPartitions(descriptor *ImageDescriptor, mountSet *MountSet, mountsDir string) error {
	err := os.MkdirAll(mountsDir, os.ModePerm)
	if err != nil {
		return fmt.Errorf("failed to create mounts directory (%s):\n%w", mountsDir, err)
	}

	for _, record := range sortedPartitionRecords(descriptor) {
		if record.Usage != PartitionUsageStandard || !record.isMountable() {
			continue
		}

		_, err := mountPartitionForInspection(mountSet, mountsDir, record)
		if err != nil {
			logger.Log.Warnf("Skipping unmountable partition (%s): %s", record.Path, err)
		}
	}

	return nil
}

// locateFstabFile finds the first mounted tree containing an etc/fstab file
// and returns that tree's partition record.
func locateFstabFile(descriptor *ImageDescriptor) (*PartitionRecord, string, error) {
	for _, record := range sortedPartitionRecords(descriptor) {
		if record.MountPath == "" {
			continue
		}

		fstabPath := filepath.Join(record.MountPath, "etc/fstab")
		exists, err := file.PathExists(fstabPath)
		if err != nil {
			return nil, "", fmt.Errorf("failed to check for fstab file (%s):\n%w", fstabPath, err)
		}
		if exists {
			logger.Log.Debugf("Found fstab file (%s)", fstabPath)
			return record, fstabPath, nil
		}
	}

	return nil, "", FstabNotFoundError
}
