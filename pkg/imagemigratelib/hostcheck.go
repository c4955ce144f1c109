// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package imagemigratelib

import (
	"fmt"
	"os"
	"strings"

	"github.com/oracle/oci-utils-sub001/internal/file"
	"github.com/oracle/oci-utils-sub001/internal/kernelversion"
	"github.com/oracle/oci-utils-sub001/internal/logger"
	"github.com/oracle/oci-utils-sub001/internal/osinfo"
	"github.com/oracle/oci-utils-sub001/internal/version"
)

// Tools the migration shells out to.
var requiredTools = []string{
	"losetup",
	"qemu-img",
	"qemu-nbd",
	"modprobe",
	"parted",
	"sfdisk",
	"blkid",
	"lsblk",
	"mount",
	"umount",
	"udevadm",
	"pvscan",
	"vgscan",
	"lvscan",
	"vgchange",
	"lsof",
}

// Oldest host kernel with the loop partition and nbd features the migration
// relies on.
var minimumKernelVersion = version.Version{2, 6, 32}

// checkHostRequirements verifies the host can run a migration: the tool must
// run as root, the external tools must be installed, and the kernel must be
// recent enough.
func checkHostRequirements() error {
	if os.Geteuid() != 0 {
		return ToolMustRunAsRootError
	}

	distro, distroVersion := osinfo.GetDistroAndVersion()
	logger.Log.Debugf("Host OS: %s %s", distro, distroVersion)

	missingTools := []string(nil)
	for _, tool := range requiredTools {
		exists, err := file.CommandExists(tool)
		if err != nil {
			return fmt.Errorf("failed to look up tool (%s):\n%w", tool, err)
		}
		if !exists {
			missingTools = append(missingTools, tool)
		}
	}
	if len(missingTools) > 0 {
		return fmt.Errorf("host is missing required tools (%s)", strings.Join(missingTools, ", "))
	}

	kernelVersion, err := kernelversion.GetBuildHostKernelVersion()
	if err != nil {
		return fmt.Errorf("failed to read the host kernel version:\n%w", err)
	}
	if kernelVersion.Lt(minimumKernelVersion) {
		return fmt.Errorf("host kernel (%s) is older than the minimum supported version (%s)",
			kernelVersion, minimumKernelVersion)
	}

	return nil
}
