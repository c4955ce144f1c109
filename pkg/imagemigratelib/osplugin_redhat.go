// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package imagemigratelib

import (
	"fmt"
	"os/exec"

	"github.com/oracle/oci-utils-sub001/internal/logger"
	"github.com/oracle/oci-utils-sub001/internal/safechroot"
	"github.com/oracle/oci-utils-sub001/internal/shell"
)

// redHatFamilyPlugin handles Oracle Linux and the other Red Hat derived
// distributions.
type redHatFamilyPlugin struct{}

func (p *redHatFamilyPlugin) Name() string {
	return "redhat-family"
}

func (p *redHatFamilyPlugin) SupportedOsIds() []string {
	return []string{"ol", "rhel", "centos", "almalinux", "rocky"}
}

func (p *redHatFamilyPlugin) UpdateNetworkConfig(imageChroot safechroot.ChrootInterface) bool {
	err := updateIfcfgFiles(imageChroot.RootDir(), redHatNetworkScriptsDir)
	if err != nil {
		logger.Log.Errorf("Failed to update network configuration: %s", err)
		return false
	}
	return true
}

func (p *redHatFamilyPlugin) InstallCloudInit(imageChroot safechroot.ChrootInterface, version string) bool {
	packageSpec := "cloud-init"
	if version != "" {
		packageSpec = fmt.Sprintf("cloud-init-%s", version)
	}

	err := imageChroot.Run(func() error {
		packageManager, err := findRpmPackageManager()
		if err != nil {
			return err
		}

		err = shell.ExecuteLiveWithErr(1, packageManager, "install", "-y", packageSpec)
		if err != nil {
			return fmt.Errorf("failed to install (%s) with %s:\n%w", packageSpec, packageManager, err)
		}

		// Older guests manage services with chkconfig instead of systemd.
		err = shell.ExecuteLiveWithErr(1, "systemctl", "enable", "cloud-init.service")
		if err != nil {
			err = shell.ExecuteLiveWithErr(1, "chkconfig", "cloud-init", "on")
		}
		if err != nil {
			logger.Log.Warnf("Could not enable the cloud-init service: %s", err)
		}

		return nil
	})
	if err != nil {
		logger.Log.Errorf("Failed to install cloud-init: %s", err)
		return false
	}
	return true
}

// findRpmPackageManager picks the package manager available inside the
// chroot. Must be called from within the jail.
func findRpmPackageManager() (string, error) {
	for _, packageManager := range []string{"dnf", "yum"} {
		_, err := exec.LookPath(packageManager)
		if err == nil {
			return packageManager, nil
		}
	}

	return "", fmt.Errorf("guest has neither dnf nor yum installed")
}
