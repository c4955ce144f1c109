// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package imagemigratelib

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/oracle/oci-utils-sub001/internal/file"
	"github.com/stretchr/testify/assert"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

const testIfcfgEth0 = `DEVICE=eth0
TYPE=Ethernet
HWADDR=08:00:27:aa:bb:cc
UUID=f22ad9f6-8433-40eb-bbf6-0badbeefcafe
BOOTPROTO=static
ONBOOT=no
IPADDR=192.168.1.10
NETMASK=255.255.255.0
`

const testIfcfgEth1 = `DEVICE=eth1
TYPE=Ethernet
BOOTPROTO=dhcp
ONBOOT=yes
`

func writeTestFile(t *testing.T, path string, content string) bool {
	err := os.MkdirAll(filepath.Dir(path), os.ModePerm)
	if !assert.NoError(t, err) {
		return false
	}
	err = os.WriteFile(path, []byte(content), 0o644)
	return assert.NoError(t, err)
}

func TestFindHardcodedMacInterfaces(t *testing.T) {
	rootDir := filepath.Join(testsTempDir, "TestFindHardcodedMacInterfaces")

	ok := writeTestFile(t, filepath.Join(rootDir, redHatNetworkScriptsDir, "ifcfg-eth0"), testIfcfgEth0)
	ok = ok && writeTestFile(t, filepath.Join(rootDir, redHatNetworkScriptsDir, "ifcfg-eth1"), testIfcfgEth1)
	ok = ok && writeTestFile(t, filepath.Join(rootDir, redHatNetworkScriptsDir, "ifcfg-lo"),
		"DEVICE=lo\nHWADDR=00:00:00:00:00:00\n")
	ok = ok && writeTestFile(t, filepath.Join(rootDir, netplanConfigDir, "01-netcfg.yaml"),
		"network:\n  ethernets:\n    enp0s3:\n      match:\n        macaddress: 08:00:27:aa:bb:cc\n")
	ok = ok && writeTestFile(t, filepath.Join(rootDir, debianInterfacesFile),
		"auto eth0\niface eth0 inet static\n\thwaddress ether 08:00:27:aa:bb:cc\n")
	if !ok {
		return
	}

	hardcoded, err := findHardcodedMacInterfaces(rootDir)
	if !assert.NoError(t, err) {
		return
	}

	// ifcfg-eth1 has no MAC pin and ifcfg-lo is always skipped.
	assert.ElementsMatch(t, []string{
		"etc/sysconfig/network-scripts/ifcfg-eth0",
		"etc/netplan/01-netcfg.yaml",
		"etc/network/interfaces",
	}, hardcoded)
}

func TestFindHardcodedMacInterfacesCleanGuest(t *testing.T) {
	rootDir := filepath.Join(testsTempDir, "TestFindHardcodedMacInterfacesCleanGuest")

	if !writeTestFile(t, filepath.Join(rootDir, redHatNetworkScriptsDir, "ifcfg-eth0"), testIfcfgEth1) {
		return
	}

	hardcoded, err := findHardcodedMacInterfaces(rootDir)
	assert.NoError(t, err)
	assert.Empty(t, hardcoded)
}

func TestUpdateIfcfgFiles(t *testing.T) {
	rootDir := filepath.Join(testsTempDir, "TestUpdateIfcfgFiles")
	ifcfgPath := filepath.Join(rootDir, redHatNetworkScriptsDir, "ifcfg-eth0")

	if !writeTestFile(t, ifcfgPath, testIfcfgEth0) {
		return
	}

	err := updateIfcfgFiles(rootDir, redHatNetworkScriptsDir)
	if !assert.NoError(t, err) {
		return
	}

	config, err := ini.Load(ifcfgPath)
	if !assert.NoError(t, err) {
		return
	}

	section := config.Section("")
	assert.False(t, section.HasKey("HWADDR"))
	assert.False(t, section.HasKey("UUID"))
	assert.Equal(t, "dhcp", section.Key("BOOTPROTO").String())
	assert.Equal(t, "yes", section.Key("ONBOOT").String())

	// Settings unrelated to the move stay in place.
	assert.Equal(t, "eth0", section.Key("DEVICE").String())

	// The original config survives in the backup directory.
	backupPath := filepath.Join(rootDir, redHatNetworkScriptsDir+networkConfigBackupSuffix, "ifcfg-eth0")
	backupContent, err := file.Read(backupPath)
	if assert.NoError(t, err) {
		assert.Contains(t, backupContent, "HWADDR=08:00:27:aa:bb:cc")
	}
}

func TestUpdateIfcfgFilesNoConfigs(t *testing.T) {
	rootDir := filepath.Join(testsTempDir, "TestUpdateIfcfgFilesNoConfigs")
	err := os.MkdirAll(rootDir, os.ModePerm)
	if !assert.NoError(t, err) {
		return
	}

	err = updateIfcfgFiles(rootDir, redHatNetworkScriptsDir)
	assert.NoError(t, err)
}

func TestRewriteDebianInterfacesFile(t *testing.T) {
	rootDir := filepath.Join(testsTempDir, "TestRewriteDebianInterfacesFile")
	interfacesPath := filepath.Join(rootDir, debianInterfacesFile)

	content := "auto lo\niface lo inet loopback\n\nauto eth0\niface eth0 inet static\n" +
		"\thwaddress ether 08:00:27:aa:bb:cc\n\taddress 192.168.1.10\n"
	if !writeTestFile(t, interfacesPath, content) {
		return
	}

	err := rewriteDebianInterfacesFile(rootDir)
	if !assert.NoError(t, err) {
		return
	}

	rewritten, err := file.Read(interfacesPath)
	if !assert.NoError(t, err) {
		return
	}

	assert.NotContains(t, rewritten, "hwaddress")
	assert.Contains(t, rewritten, "iface eth0 inet dhcp")

	backupContent, err := file.Read(interfacesPath + networkConfigBackupSuffix)
	if assert.NoError(t, err) {
		assert.Contains(t, backupContent, "hwaddress ether 08:00:27:aa:bb:cc")
	}
}

func TestRewriteDebianInterfacesKeepsExistingDhcp(t *testing.T) {
	rootDir := filepath.Join(testsTempDir, "TestRewriteDebianInterfacesKeepsExistingDhcp")
	interfacesPath := filepath.Join(rootDir, debianInterfacesFile)

	content := "auto eth0\niface eth0 inet dhcp\n\thwaddress ether 08:00:27:aa:bb:cc\n"
	if !writeTestFile(t, interfacesPath, content) {
		return
	}

	err := rewriteDebianInterfacesFile(rootDir)
	if !assert.NoError(t, err) {
		return
	}

	rewritten, err := file.Read(interfacesPath)
	if !assert.NoError(t, err) {
		return
	}

	assert.NotContains(t, rewritten, "hwaddress")
	assert.Equal(t, 1, strings.Count(rewritten, "inet dhcp"))
}

func TestWriteNetplanDhcpOverride(t *testing.T) {
	netplanDir := filepath.Join(testsTempDir, "TestWriteNetplanDhcpOverride", netplanConfigDir)
	err := os.MkdirAll(netplanDir, os.ModePerm)
	if !assert.NoError(t, err) {
		return
	}

	err = writeNetplanDhcpOverride(netplanDir)
	if !assert.NoError(t, err) {
		return
	}

	content, err := os.ReadFile(filepath.Join(netplanDir, netplanOverrideFileName))
	if !assert.NoError(t, err) {
		return
	}

	var override netplanConfig
	err = yaml.Unmarshal(content, &override)
	if !assert.NoError(t, err) {
		return
	}

	assert.Equal(t, 2, override.Network.Version)
	ethernet, exists := override.Network.Ethernets["all-ethernets"]
	if assert.True(t, exists) {
		assert.True(t, ethernet.Dhcp4)
		if assert.NotNil(t, ethernet.Match) {
			assert.Equal(t, "e*", ethernet.Match.Name)
		}
	}
}
