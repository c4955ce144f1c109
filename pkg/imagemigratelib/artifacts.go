// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package imagemigratelib

import (
	"fmt"
	"path/filepath"

	"github.com/oracle/oci-utils-sub001/internal/file"
	"github.com/oracle/oci-utils-sub001/internal/logger"
	"github.com/oracle/oci-utils-sub001/internal/tarutils"
)

const guestConfigsDirName = "guest-configs"

// configSnapshot names a guest file to copy into the artifacts archive. An
// empty name keeps the source file's base name.
type configSnapshot struct {
	sourcePath string
	name       string
}

// collectGuestConfigSnapshots copies the guest config files the inspection
// read into snapshotDir, so they can be archived for troubleshooting after
// the image is detached. A file the inspection never found is skipped.
func collectGuestConfigSnapshots(descriptor *ImageDescriptor, snapshotDir string) error {
	snapshots := []configSnapshot{
		{descriptor.FstabPath, "fstab"},
		{descriptor.BootConfigPath, ""},
	}

	if descriptor.RootMountPath != "" {
		// Walked in reverse so that when the guest carries both os-release
		// locations, the preferred one is copied last and wins.
		for i := len(osReleasePaths) - 1; i >= 0; i-- {
			snapshots = append(snapshots, configSnapshot{
				sourcePath: filepath.Join(descriptor.RootMountPath, osReleasePaths[i]),
				name:       "os-release",
			})
		}
	}

	for _, snapshot := range snapshots {
		if snapshot.sourcePath == "" {
			continue
		}

		exists, err := file.IsFile(snapshot.sourcePath)
		if err != nil {
			return err
		}
		if !exists {
			continue
		}

		name := snapshot.name
		if name == "" {
			name = filepath.Base(snapshot.sourcePath)
		}

		err = file.Copy(snapshot.sourcePath, filepath.Join(snapshotDir, name))
		if err != nil {
			return fmt.Errorf("failed to snapshot guest config (%s):\n%w", snapshot.sourcePath, err)
		}

		logger.Log.Debugf("Snapshotted guest config (%s)", snapshot.sourcePath)
	}

	return nil
}

// writeArtifactsArchive bundles the collected guest config snapshots into a
// tar.gz archive at archivePath. Nothing is written when no snapshots were
// collected.
func writeArtifactsArchive(snapshotDir string, archivePath string) error {
	exists, err := file.DirExists(snapshotDir)
	if err != nil {
		return err
	}
	if !exists {
		logger.Log.Debugf("No guest config snapshots were collected; skipping artifacts archive")
		return nil
	}

	err = tarutils.CreateTarGzArchive(snapshotDir, archivePath)
	if err != nil {
		return fmt.Errorf("failed to write artifacts archive (%s):\n%w", archivePath, err)
	}

	logger.Log.Infof("Wrote artifacts archive (%s)", archivePath)
	return nil
}
