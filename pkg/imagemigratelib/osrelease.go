// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package imagemigratelib

import (
	"fmt"
	"path/filepath"

	"github.com/oracle/oci-utils-sub001/internal/envfile"
	"github.com/oracle/oci-utils-sub001/internal/file"
	"github.com/oracle/oci-utils-sub001/internal/logger"
)

// os-release file locations, in lookup order.
var osReleasePaths = []string{"etc/os-release", "usr/lib/os-release"}

// detectGuestOs reads the guest's os-release file from the mounted root tree
// into the descriptor.
func detectGuestOs(descriptor *ImageDescriptor) error {
	for _, relativePath := range osReleasePaths {
		osReleasePath := filepath.Join(descriptor.RootMountPath, relativePath)

		exists, err := file.PathExists(osReleasePath)
		if err != nil {
			return fmt.Errorf("failed to check for os-release file (%s):\n%w", osReleasePath, err)
		}
		if !exists {
			continue
		}

		osRelease, err := envfile.ParseEnvFile(osReleasePath)
		if err != nil {
			return fmt.Errorf("failed to parse os-release file (%s):\n%w", osReleasePath, err)
		}

		descriptor.OsRelease = osRelease
		logger.Log.Infof("Detected guest OS (%s %s)", descriptor.OsName(), descriptor.OsVersionId())
		return nil
	}

	return fmt.Errorf("guest has no os-release file under (%s)", descriptor.RootMountPath)
}
