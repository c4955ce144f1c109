// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package imagemigratelib

import (
	"fmt"

	"github.com/oracle/oci-utils-sub001/internal/safechroot"
	"github.com/oracle/oci-utils-sub001/internal/sliceutils"
)

// OsPlugin adapts one OS family's guest configuration for the target cloud.
// Plugins operate on the guest through its chroot jail. Both operations
// report success through their return value; a failure is recorded in the
// migration result but does not abort the migration.
type OsPlugin interface {
	// Name identifies the plugin in logs and reports.
	Name() string

	// SupportedOsIds returns the os-release ID values the plugin handles.
	SupportedOsIds() []string

	// UpdateNetworkConfig rewrites the guest's network configuration so the
	// primary interface comes up with DHCP on new virtual hardware.
	UpdateNetworkConfig(imageChroot safechroot.ChrootInterface) bool

	// InstallCloudInit installs cloud-init into the guest. version may pin a
	// package version; empty installs the distro's latest.
	InstallCloudInit(imageChroot safechroot.ChrootInterface, version string) bool
}

var osPlugins = []OsPlugin{
	&redHatFamilyPlugin{},
	&debianFamilyPlugin{},
	&suseFamilyPlugin{},
}

// SelectOsPlugin returns the plugin that handles the given os-release ID.
func SelectOsPlugin(osId string) (OsPlugin, error) {
	for _, plugin := range osPlugins {
		if sliceutils.ContainsValue(plugin.SupportedOsIds(), osId) {
			return plugin, nil
		}
	}

	return nil, fmt.Errorf("failed to find a plugin for OS id (%s):\n%w", osId, UnsupportedOsError)
}
