// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package imagemigratelib

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

const testGrub2Config = `set default="0"
set timeout=5

menuentry 'Oracle Linux Server 7.9, with Linux 4.14.35-1902.3.2.el7uek.x86_64' --class oracle {
	insmod gzio
	insmod part_msdos
	insmod xfs
	search --no-floppy --fs-uuid --set=root 1111-2222
	linux16 /vmlinuz-4.14.35-1902.3.2.el7uek.x86_64 root=UUID=aaaa-bbbb ro crashkernel=auto
	initrd16 /initramfs-4.14.35-1902.3.2.el7uek.x86_64.img
}
menuentry 'Oracle Linux Server 7.9, with Linux 3.10.0-1160.el7.x86_64' --class oracle {
	search --no-floppy --fs-uuid --set=root 1111-2222
	linux16 /vmlinuz-3.10.0-1160.el7.x86_64 root=UUID=aaaa-bbbb ro
	initrd16 /initramfs-3.10.0-1160.el7.x86_64.img
}
`

const testLegacyGrubConfig = `default=1
timeout=5
splashimage=(hd0,0)/grub/splash.xpm.gz
hiddenmenu
title Oracle Linux Server (2.6.32-754.el6.x86_64)
	root (hd0,0)
	kernel /vmlinuz-2.6.32-754.el6.x86_64 ro root=UUID=aaaa-bbbb rhgb quiet
	initrd /initramfs-2.6.32-754.el6.x86_64.img
title Oracle Linux Server (2.6.32-696.el6.x86_64)
	root (hd0,0)
	kernel /vmlinuz-2.6.32-696.el6.x86_64 ro root=UUID=aaaa-bbbb
	initrd /initramfs-2.6.32-696.el6.x86_64.img
`

func TestParseBootConfigGrub2(t *testing.T) {
	descriptor := NewImageDescriptor("/fake/image.raw", "raw")

	err := parseBootConfig(descriptor, testGrub2Config)
	assert.NoError(t, err)

	assert.Equal(t, 2, descriptor.GrubVersion)
	assert.Equal(t, "4.14.35-1902.3.2.el7uek.x86_64", descriptor.DefaultKernelVersion)

	if assert.Len(t, descriptor.BootEntries, 2) {
		assert.Equal(t, "Oracle Linux Server 7.9, with Linux 4.14.35-1902.3.2.el7uek.x86_64",
			descriptor.BootEntries[0].Title)
		assert.Equal(t, "Oracle Linux Server 7.9, with Linux 3.10.0-1160.el7.x86_64",
			descriptor.BootEntries[1].Title)

		// Each entry keeps its own lines, including the search command the
		// prerequisite checks look at.
		assert.Contains(t, descriptor.BootEntries[1].Lines,
			"	search --no-floppy --fs-uuid --set=root 1111-2222")
		assert.NotContains(t, descriptor.BootEntries[0].Lines,
			"	linux16 /vmlinuz-3.10.0-1160.el7.x86_64 root=UUID=aaaa-bbbb ro")
	}
}

func TestParseBootConfigLegacyGrub(t *testing.T) {
	descriptor := NewImageDescriptor("/fake/image.raw", "raw")

	err := parseBootConfig(descriptor, testLegacyGrubConfig)
	assert.NoError(t, err)

	assert.Equal(t, 1, descriptor.GrubVersion)

	if assert.Len(t, descriptor.BootEntries, 2) {
		assert.Equal(t, "Oracle Linux Server (2.6.32-754.el6.x86_64)", descriptor.BootEntries[0].Title)
		assert.Equal(t, "Oracle Linux Server (2.6.32-696.el6.x86_64)", descriptor.BootEntries[1].Title)
	}

	// default=1 selects the second entry.
	assert.Equal(t, "2.6.32-696.el6.x86_64", descriptor.DefaultKernelVersion)
}

func TestFindBootConfigFileBios(t *testing.T) {
	rootDir := filepath.Join(testsTempDir, "TestFindBootConfigFileBios")

	grubCfgPath := filepath.Join(rootDir, "boot/grub2/grub.cfg")
	err := os.MkdirAll(filepath.Dir(grubCfgPath), os.ModePerm)
	if !assert.NoError(t, err) {
		return
	}
	err = os.WriteFile(grubCfgPath, []byte(testGrub2Config), 0o644)
	if !assert.NoError(t, err) {
		return
	}

	descriptor := NewImageDescriptor("/fake/image.raw", "raw")
	descriptor.RootMountPath = rootDir

	configPath, bootType, err := findBootConfigFile(descriptor)
	assert.NoError(t, err)
	assert.Equal(t, grubCfgPath, configPath)
	assert.Equal(t, BootTypeBios, bootType)
}

func TestFindBootConfigFilePrefersEfi(t *testing.T) {
	rootDir := filepath.Join(testsTempDir, "TestFindBootConfigFilePrefersEfi")

	biosCfgPath := filepath.Join(rootDir, "boot/grub2/grub.cfg")
	efiCfgPath := filepath.Join(rootDir, "boot/efi/EFI/redhat/grub.cfg")
	for _, path := range []string{biosCfgPath, efiCfgPath} {
		err := os.MkdirAll(filepath.Dir(path), os.ModePerm)
		if !assert.NoError(t, err) {
			return
		}
		err = os.WriteFile(path, []byte(testGrub2Config), 0o644)
		if !assert.NoError(t, err) {
			return
		}
	}

	descriptor := NewImageDescriptor("/fake/image.raw", "raw")
	descriptor.RootMountPath = rootDir

	configPath, bootType, err := findBootConfigFile(descriptor)
	assert.NoError(t, err)
	assert.Equal(t, efiCfgPath, configPath)
	assert.Equal(t, BootTypeUefi, bootType)
}

func TestFindBootConfigFileNotFound(t *testing.T) {
	rootDir := filepath.Join(testsTempDir, "TestFindBootConfigFileNotFound")
	err := os.MkdirAll(filepath.Join(rootDir, "boot"), os.ModePerm)
	if !assert.NoError(t, err) {
		return
	}

	descriptor := NewImageDescriptor("/fake/image.raw", "raw")
	descriptor.RootMountPath = rootDir

	_, _, err = findBootConfigFile(descriptor)
	assert.ErrorIs(t, err, BootConfigNotFoundError)
}

func TestIsEfiPath(t *testing.T) {
	assert.True(t, isEfiPath("/mnt/boot", "/mnt/boot/efi/EFI/redhat/grub.cfg"))
	assert.True(t, isEfiPath("/mnt/p1", "/mnt/p1/EFI/BOOT/grub.cfg"))
	assert.False(t, isEfiPath("/mnt/boot", "/mnt/boot/grub2/grub.cfg"))
}
