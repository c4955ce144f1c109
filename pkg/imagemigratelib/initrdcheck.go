// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package imagemigratelib

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cavaliercoder/go-cpio"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/oracle/oci-utils-sub001/internal/file"
	"github.com/oracle/oci-utils-sub001/internal/logger"
)

// Initrd file name patterns, by distro convention.
var initrdNamePatterns = []string{"initramfs-%s.img", "initrd.img-%s", "initrd-%s"}

// checkInitrdVirtioDrivers looks for virtio kernel modules in the default
// kernel's initrd and records the findings in the descriptor. The target
// cloud paravirtualizes disk and network, so a guest without virtio support
// in its initrd will not come up.
//
// This check is informational: a missing or unreadable initrd is logged,
// not failed on.
func checkInitrdVirtioDrivers(descriptor *ImageDescriptor) error {
	initrdPath, err := findDefaultInitrd(descriptor)
	if err != nil {
		logger.Log.Warnf("Could not locate the guest's initrd: %s", err)
		return nil
	}

	drivers, err := scanInitrdForVirtioDrivers(initrdPath)
	if err != nil {
		logger.Log.Warnf("Could not scan initrd (%s): %s", initrdPath, err)
		return nil
	}

	descriptor.VirtioDrivers = drivers
	if len(drivers) == 0 {
		logger.Log.Warnf("No virtio drivers found in initrd (%s); the guest may not boot on "+
			"paravirtualized hardware", initrdPath)
	} else {
		logger.Log.Debugf("Found virtio drivers %v in initrd (%s)", drivers, initrdPath)
	}

	return nil
}

// findDefaultInitrd locates the initrd image belonging to the default boot
// entry's kernel.
func findDefaultInitrd(descriptor *ImageDescriptor) (string, error) {
	if descriptor.DefaultKernelVersion == "" {
		return "", fmt.Errorf("no default kernel version known")
	}

	bootDirs := []string(nil)
	if descriptor.BootMountPath != "" {
		bootDirs = append(bootDirs, descriptor.BootMountPath)
	}
	if descriptor.RootMountPath != "" {
		bootDirs = append(bootDirs, filepath.Join(descriptor.RootMountPath, "boot"))
	}

	for _, bootDir := range bootDirs {
		for _, namePattern := range initrdNamePatterns {
			initrdPath := filepath.Join(bootDir, fmt.Sprintf(namePattern, descriptor.DefaultKernelVersion))

			exists, err := file.IsFile(initrdPath)
			if err != nil {
				return "", err
			}
			if exists {
				return initrdPath, nil
			}
		}
	}

	return "", fmt.Errorf("no initrd found for kernel (%s)", descriptor.DefaultKernelVersion)
}

// scanInitrdForVirtioDrivers walks the initrd's cpio archives and returns
// the names of the virtio kernel modules found inside.
//
// An initrd may carry several concatenated segments: an uncompressed early
// microcode cpio archive, zero padding, and finally the compressed main
// archive. Each segment is probed by its magic bytes.
func scanInitrdForVirtioDrivers(initrdPath string) ([]string, error) {
	initrdFile, err := os.Open(initrdPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open initrd (%s):\n%w", initrdPath, err)
	}
	defer initrdFile.Close()

	reader := bufio.NewReader(initrdFile)
	drivers := []string(nil)

	for {
		magic, err := reader.Peek(6)
		if err != nil {
			// End of file, possibly inside the trailing padding.
			return drivers, nil
		}

		switch {
		case bytes.HasPrefix(magic, []byte("070701")) || bytes.HasPrefix(magic, []byte("070702")):
			found, err := collectVirtioModules(cpio.NewReader(reader))
			if err != nil {
				return nil, err
			}
			drivers = append(drivers, found...)

		case bytes.HasPrefix(magic, []byte{0x1f, 0x8b}):
			pgzipReader, err := pgzip.NewReader(reader)
			if err != nil {
				return nil, fmt.Errorf("failed to create a pgzip reader for (%s):\n%w", initrdPath, err)
			}
			defer pgzipReader.Close()

			found, err := collectVirtioModules(cpio.NewReader(pgzipReader))
			if err != nil {
				return nil, err
			}
			return append(drivers, found...), nil

		case bytes.HasPrefix(magic, []byte{0x28, 0xb5, 0x2f, 0xfd}):
			zstdReader, err := zstd.NewReader(reader)
			if err != nil {
				return nil, fmt.Errorf("failed to create a zstd reader for (%s):\n%w", initrdPath, err)
			}
			defer zstdReader.Close()

			found, err := collectVirtioModules(cpio.NewReader(zstdReader))
			if err != nil {
				return nil, err
			}
			return append(drivers, found...), nil

		case magic[0] == 0:
			// Zero padding between cpio segments.
			_, err = reader.ReadByte()
			if err != nil {
				return drivers, nil
			}

		default:
			logger.Log.Warnf("Unrecognized segment in initrd (%s); not scanning further", initrdPath)
			return drivers, nil
		}
	}
}

// collectVirtioModules walks one cpio archive and collects the virtio
// kernel module names it contains.
func collectVirtioModules(cpioReader *cpio.Reader) ([]string, error) {
	modules := []string(nil)
	for {
		cpioHeader, err := cpioReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read cpio header from initrd:\n%w", err)
		}

		name := filepath.Base(cpioHeader.Name)
		extensionIndex := strings.Index(name, ".ko")
		if extensionIndex > 0 && strings.Contains(name, "virtio") {
			modules = append(modules, name[:extensionIndex])
		}
	}

	return modules, nil
}
