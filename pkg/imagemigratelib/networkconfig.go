// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package imagemigratelib

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oracle/oci-utils-sub001/internal/file"
	"github.com/oracle/oci-utils-sub001/internal/logger"
	"gopkg.in/ini.v1"
)

const (
	redHatNetworkScriptsDir = "etc/sysconfig/network-scripts"
	suseNetworkConfigDir    = "etc/sysconfig/network"
	netplanConfigDir        = "etc/netplan"
	debianInterfacesFile    = "etc/network/interfaces"

	networkConfigBackupSuffix = ".premigrate"
)

func init() {
	// ifcfg files are sourced as shell scripts and need KEY=value with no
	// spaces around the '='.
	ini.PrettyFormat = false
}

// findHardcodedMacInterfaces scans the guest's interface configuration for
// files that pin a MAC address. Returns the offending paths, relative to the
// guest's root.
func findHardcodedMacInterfaces(rootDir string) ([]string, error) {
	hardcoded := []string(nil)

	for _, configDir := range []string{redHatNetworkScriptsDir, suseNetworkConfigDir} {
		ifcfgPaths, err := listIfcfgFiles(filepath.Join(rootDir, configDir))
		if err != nil {
			return nil, err
		}

		for _, ifcfgPath := range ifcfgPaths {
			pinsMac, err := ifcfgFilePinsMac(ifcfgPath)
			if err != nil {
				return nil, err
			}
			if pinsMac {
				relPath, _ := filepath.Rel(rootDir, ifcfgPath)
				hardcoded = append(hardcoded, relPath)
			}
		}
	}

	netplanPaths, err := filepath.Glob(filepath.Join(rootDir, netplanConfigDir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to list netplan configs:\n%w", err)
	}
	for _, netplanPath := range netplanPaths {
		content, err := file.Read(netplanPath)
		if err != nil {
			return nil, err
		}
		if strings.Contains(content, "macaddress:") {
			relPath, _ := filepath.Rel(rootDir, netplanPath)
			hardcoded = append(hardcoded, relPath)
		}
	}

	interfacesPath := filepath.Join(rootDir, debianInterfacesFile)
	exists, err := file.IsFile(interfacesPath)
	if err != nil {
		return nil, err
	}
	if exists {
		content, err := file.Read(interfacesPath)
		if err != nil {
			return nil, err
		}
		if strings.Contains(content, "hwaddress") {
			hardcoded = append(hardcoded, debianInterfacesFile)
		}
	}

	return hardcoded, nil
}

// listIfcfgFiles returns the interface config files in the directory,
// excluding the loopback config.
func listIfcfgFiles(configDir string) ([]string, error) {
	exists, err := file.DirExists(configDir)
	if err != nil || !exists {
		return nil, err
	}

	ifcfgPaths, err := filepath.Glob(filepath.Join(configDir, "ifcfg-*"))
	if err != nil {
		return nil, fmt.Errorf("failed to list interface configs in (%s):\n%w", configDir, err)
	}

	filtered := []string(nil)
	for _, ifcfgPath := range ifcfgPaths {
		if filepath.Base(ifcfgPath) == "ifcfg-lo" {
			continue
		}
		filtered = append(filtered, ifcfgPath)
	}
	return filtered, nil
}

func ifcfgFilePinsMac(ifcfgPath string) (bool, error) {
	config, err := ini.Load(ifcfgPath)
	if err != nil {
		return false, fmt.Errorf("failed to parse interface config (%s):\n%w", ifcfgPath, err)
	}

	return config.Section("").HasKey("HWADDR"), nil
}

// updateIfcfgFiles rewrites the guest's interface configs for a new virtual
// machine: the MAC pin and interface UUID are dropped and the boot protocol
// switches to DHCP. The original directory is kept next to the rewritten one
// with a backup suffix.
func updateIfcfgFiles(rootDir string, networkConfigRelDir string) error {
	configDir := filepath.Join(rootDir, networkConfigRelDir)

	ifcfgPaths, err := listIfcfgFiles(configDir)
	if err != nil {
		return err
	}
	if len(ifcfgPaths) == 0 {
		logger.Log.Debugf("No interface configs found under (%s)", configDir)
		return nil
	}

	backupDir := configDir + networkConfigBackupSuffix
	err = file.CopyDir(configDir, backupDir, os.ModePerm, os.ModePerm, nil)
	if err != nil {
		return fmt.Errorf("failed to back up network configs to (%s):\n%w", backupDir, err)
	}

	for _, ifcfgPath := range ifcfgPaths {
		err = rewriteIfcfgFile(ifcfgPath)
		if err != nil {
			return err
		}
	}

	return nil
}

func rewriteIfcfgFile(ifcfgPath string) error {
	config, err := ini.Load(ifcfgPath)
	if err != nil {
		return fmt.Errorf("failed to parse interface config (%s):\n%w", ifcfgPath, err)
	}

	section := config.Section("")
	section.DeleteKey("HWADDR")
	section.DeleteKey("UUID")
	section.Key("BOOTPROTO").SetValue("dhcp")
	section.Key("ONBOOT").SetValue("yes")

	err = config.SaveTo(ifcfgPath)
	if err != nil {
		return fmt.Errorf("failed to write interface config (%s):\n%w", ifcfgPath, err)
	}

	logger.Log.Debugf("Rewrote interface config (%s) for DHCP", ifcfgPath)
	return nil
}
