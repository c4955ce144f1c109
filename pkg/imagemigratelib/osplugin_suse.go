// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package imagemigratelib

import (
	"fmt"

	"github.com/oracle/oci-utils-sub001/internal/logger"
	"github.com/oracle/oci-utils-sub001/internal/safechroot"
	"github.com/oracle/oci-utils-sub001/internal/shell"
)

// suseFamilyPlugin handles SLES and openSUSE guests.
type suseFamilyPlugin struct{}

func (p *suseFamilyPlugin) Name() string {
	return "suse-family"
}

func (p *suseFamilyPlugin) SupportedOsIds() []string {
	return []string{"sles", "opensuse", "opensuse-leap"}
}

func (p *suseFamilyPlugin) UpdateNetworkConfig(imageChroot safechroot.ChrootInterface) bool {
	err := updateIfcfgFiles(imageChroot.RootDir(), suseNetworkConfigDir)
	if err != nil {
		logger.Log.Errorf("Failed to update network configuration: %s", err)
		return false
	}
	return true
}

func (p *suseFamilyPlugin) InstallCloudInit(imageChroot safechroot.ChrootInterface, version string) bool {
	packageSpec := "cloud-init"
	if version != "" {
		packageSpec = fmt.Sprintf("cloud-init-%s", version)
	}

	err := imageChroot.Run(func() error {
		err := shell.ExecuteLiveWithErr(1, "zypper", "--non-interactive", "install", packageSpec)
		if err != nil {
			return fmt.Errorf("failed to install (%s):\n%w", packageSpec, err)
		}

		err = shell.ExecuteLiveWithErr(1, "systemctl", "enable", "cloud-init.service")
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
