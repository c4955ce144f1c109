// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package imagemigratelib

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/oracle/oci-utils-sub001/internal/file"
	"github.com/oracle/oci-utils-sub001/internal/logger"
	"github.com/oracle/oci-utils-sub001/internal/safechroot"
	"github.com/oracle/oci-utils-sub001/internal/shell"
	"gopkg.in/yaml.v3"
)

const netplanOverrideFileName = "99-dhcp-all.yaml"

// netplanConfig is the subset of the netplan schema the migration writes.
type netplanConfig struct {
	Network netplanNetwork `yaml:"network"`
}

type netplanNetwork struct {
	Version   int                        `yaml:"version"`
	Ethernets map[string]netplanEthernet `yaml:"ethernets"`
}

type netplanEthernet struct {
	Match *netplanMatch `yaml:"match,omitempty"`
	Dhcp4 bool          `yaml:"dhcp4"`
}

type netplanMatch struct {
	Name string `yaml:"name"`
}

// debianFamilyPlugin handles Ubuntu and Debian guests.
type debianFamilyPlugin struct{}

func (p *debianFamilyPlugin) Name() string {
	return "debian-family"
}

func (p *debianFamilyPlugin) SupportedOsIds() []string {
	return []string{"ubuntu", "debian"}
}

func (p *debianFamilyPlugin) UpdateNetworkConfig(imageChroot safechroot.ChrootInterface) bool {
	rootDir := imageChroot.RootDir()

	netplanDir := filepath.Join(rootDir, netplanConfigDir)
	netplanExists, err := file.DirExists(netplanDir)
	if err != nil {
		logger.Log.Errorf("Failed to check netplan directory: %s", err)
		return false
	}

	if netplanExists {
		err = writeNetplanDhcpOverride(netplanDir)
	} else {
		err = rewriteDebianInterfacesFile(rootDir)
	}
	if err != nil {
		logger.Log.Errorf("Failed to update network configuration: %s", err)
		return false
	}
	return true
}

func (p *debianFamilyPlugin) InstallCloudInit(imageChroot safechroot.ChrootInterface, version string) bool {
	packageSpec := "cloud-init"
	if version != "" {
		packageSpec = fmt.Sprintf("cloud-init=%s", version)
	}

	err := imageChroot.Run(func() error {
		err := shell.ExecuteLiveWithErr(1, "apt-get", "update")
		if err != nil {
			logger.Log.Warnf("apt-get update failed: %s", err)
		}

		err = shell.ExecuteLiveWithErr(1, "apt-get", "install", "-y", packageSpec)
		if err != nil {
			return fmt.Errorf("failed to install (%s):\n%w", packageSpec, err)
		}
		return nil
	})
	if err != nil {
		logger.Log.Errorf("Failed to install cloud-init: %s", err)
		return false
	}
	return true
}

// writeNetplanDhcpOverride drops a netplan override that brings every
// ethernet interface up with DHCP, overriding any MAC-matched configs left
// over from the source machine.
func writeNetplanDhcpOverride(netplanDir string) error {
	override := netplanConfig{
		Network: netplanNetwork{
			Version: 2,
			Ethernets: map[string]netplanEthernet{
				"all-ethernets": {
					Match: &netplanMatch{Name: "e*"},
					Dhcp4: true,
				},
			},
		},
	}

	content, err := yaml.Marshal(override)
	if err != nil {
		return fmt.Errorf("failed to serialize netplan override:\n%w", err)
	}

	overridePath := filepath.Join(netplanDir, netplanOverrideFileName)
	err = file.Write(string(content), overridePath)
	if err != nil {
		return fmt.Errorf("failed to write netplan override (%s):\n%w", overridePath, err)
	}

	logger.Log.Debugf("Wrote netplan override (%s)", overridePath)
	return nil
}

// rewriteDebianInterfacesFile strips MAC pins from /etc/network/interfaces
// and makes sure the primary interface uses DHCP.
func rewriteDebianInterfacesFile(rootDir string) error {
	interfacesPath := filepath.Join(rootDir, debianInterfacesFile)

	exists, err := file.IsFile(interfacesPath)
	if err != nil {
		return err
	}
	if !exists {
		logger.Log.Debugf("Guest has no (%s) file", debianInterfacesFile)
		return nil
	}

	err = file.Copy(interfacesPath, interfacesPath+networkConfigBackupSuffix)
	if err != nil {
		return fmt.Errorf("failed to back up (%s):\n%w", interfacesPath, err)
	}

	lines, err := file.ReadLines(interfacesPath)
	if err != nil {
		return err
	}

	filtered := []string(nil)
	hasDhcp := false
	for _, line := range lines {
		if strings.Contains(line, "hwaddress") {
			continue
		}
		if strings.Contains(line, "inet dhcp") {
			hasDhcp = true
		}
		filtered = append(filtered, line)
	}

	if !hasDhcp {
		filtered = append(filtered, "auto eth0", "iface eth0 inet dhcp")
	}

	err = file.WriteLines(filtered, interfacesPath)
	if err != nil {
		return fmt.Errorf("failed to rewrite (%s):\n%w", interfacesPath, err)
	}

	return nil
}
