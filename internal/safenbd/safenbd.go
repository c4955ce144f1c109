// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package safenbd attaches disk image files to network block devices using
// qemu-nbd and ensures they are disconnected again. Unlike loopback devices,
// nbd devices can expose the contents of non-raw image formats such as qcow2,
// vhd, and vhdx.
package safenbd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oracle/oci-utils-sub001/internal/file"
	"github.com/oracle/oci-utils-sub001/internal/logger"
	"github.com/oracle/oci-utils-sub001/internal/lvmutils"
	"github.com/oracle/oci-utils-sub001/internal/retry"
	"github.com/oracle/oci-utils-sub001/internal/shell"
)

var (
	// ErrNoFreeDevice reports that every nbd device already has an image
	// connected to it.
	ErrNoFreeDevice = errors.New("no free nbd device found")

	// ErrDeviceConnect reports that qemu-nbd could not connect the image.
	ErrDeviceConnect = errors.New("failed to connect disk to nbd device")
)

// The sysfs directory the device scan reads sizes from. A variable so tests
// can point the scan at a fixture tree.
var sysBlockDir = "/sys/class/block"

const (
	nbdModuleName = "nbd"

	// Upper bound on partition device nodes per nbd device (nbdXpY).
	maxPartitionsPerDevice = 16

	// Number of nbd devices the kernel module creates by default.
	maxDevices = 16

	connectCheckAttempts = 10
	connectCheckSleep    = 300 * time.Millisecond

	// qemu-nbd and modprobe occasionally fail transiently when another process
	// holds the device or the module briefly.
	commandAttempts = 3
	commandSleep    = 1 * time.Second
)

// Nbd represents a disk image file connected to a network block device.
type Nbd struct {
	devicePath   string
	diskFilePath string
	imageFormat  string
	isConnected  bool
}

// NewNbd connects a disk image file to a free nbd device.
// imageFormat is passed to qemu-nbd. e.g. qcow2, vpc, vhdx, raw
func NewNbd(diskFilePath string, imageFormat string) (*Nbd, error) {
	nbd := &Nbd{
		diskFilePath: diskFilePath,
		imageFormat:  imageFormat,
	}

	err := nbd.create()
	if err != nil {
		nbd.Close()
		return nil, err
	}

	return nbd, nil
}

func (n *Nbd) create() error {
	err := ensureNbdModule()
	if err != nil {
		return err
	}

	devicePath, err := findFreeDevice()
	if err != nil {
		return err
	}

	err = retry.Run(func() error {
		_, _, err := shell.Execute("qemu-nbd", "--connect="+devicePath, "--format="+n.imageFormat,
			n.diskFilePath)
		return err
	}, commandAttempts, commandSleep)
	if err != nil {
		return fmt.Errorf("%w (%s) as (%s):\n%w", ErrDeviceConnect, n.diskFilePath, devicePath, err)
	}

	n.devicePath = devicePath
	n.isConnected = true

	logger.Log.Debugf("Connected (%s) to nbd device (%s)", n.diskFilePath, n.devicePath)

	// qemu-nbd returns before the kernel has picked up the device's size.
	err = retry.Run(func() error {
		size, err := readDeviceSize(devicePath)
		if err != nil {
			return err
		}

		if size == 0 {
			return fmt.Errorf("nbd device (%s) has not been initialized yet", devicePath)
		}

		return nil
	}, connectCheckAttempts, connectCheckSleep)
	if err != nil {
		return fmt.Errorf("failed to wait for nbd device (%s) to initialize:\n%w", devicePath, err)
	}

	// Wait for the partition device nodes to show up.
	_, _, err = shell.Execute("udevadm", "settle")
	if err != nil {
		return fmt.Errorf("failed to wait for devices to settle:\n%w", err)
	}

	return nil
}

// DevicePath returns the path of the nbd device. e.g. /dev/nbd0
func (n *Nbd) DevicePath() string {
	return n.devicePath
}

// DiskFilePath returns the path of the connected disk image file.
func (n *Nbd) DiskFilePath() string {
	return n.diskFilePath
}

// Close disconnects the nbd device, logging any errors.
// Can be called multiple times, including after CleanClose.
func (n *Nbd) Close() {
	err := n.close()
	if err != nil {
		logger.Log.Warnf("%v", err)
	}
}

// CleanClose disconnects the nbd device and reports any errors that occur.
func (n *Nbd) CleanClose() error {
	return n.close()
}

func (n *Nbd) close() error {
	if !n.isConnected {
		return nil
	}

	logger.Log.Debugf("Disconnecting nbd device (%s)", n.devicePath)

	err := retry.Run(func() error {
		_, _, err := shell.Execute("qemu-nbd", "--disconnect", n.devicePath)
		return err
	}, commandAttempts, commandSleep)
	if err != nil {
		return fmt.Errorf("failed to disconnect nbd device (%s):\n%w", n.devicePath, err)
	}

	// qemu-nbd can return before the kernel has finished the disconnect.
	err = retry.Run(func() error {
		size, err := readDeviceSize(n.devicePath)
		if err != nil {
			return err
		}

		if size != 0 {
			return fmt.Errorf("nbd device (%s) is still connected", n.devicePath)
		}

		return nil
	}, connectCheckAttempts, connectCheckSleep)
	if err != nil {
		return fmt.Errorf("failed to wait for nbd device (%s) to disconnect:\n%w", n.devicePath, err)
	}

	n.isConnected = false

	// The LVM cache may still hold metadata read from the now-detached device.
	// The device itself is gone either way, so a failed rescan is not escalated.
	err = lvmutils.ClearPhysicalVolumeCache()
	if err != nil {
		logger.Log.Errorf("%v", err)
	}

	// Unloading the module is best effort. Other nbd devices may still be in use.
	_, _, err = shell.Execute("rmmod", nbdModuleName)
	if err != nil {
		logger.Log.Debugf("Did not unload nbd module: %v", err)
	}

	return nil
}

func ensureNbdModule() error {
	// modprobe is a no-op when the module is already loaded. max_part caps the
	// number of partition device nodes per device.
	err := retry.Run(func() error {
		_, _, err := shell.Execute("modprobe", nbdModuleName,
			fmt.Sprintf("max_part=%d", maxPartitionsPerDevice))
		return err
	}, commandAttempts, commandSleep)
	if err != nil {
		return fmt.Errorf("failed to load nbd kernel module:\n%w", err)
	}

	return nil
}

// findFreeDevice returns the first nbd device without a connected image.
// A device with a zero size has nothing connected to it.
func findFreeDevice() (string, error) {
	for i := 0; i < maxDevices; i++ {
		deviceName := fmt.Sprintf("nbd%d", i)

		sizePath := filepath.Join(sysBlockDir, deviceName, "size")
		exists, err := file.PathExists(sizePath)
		if err != nil {
			return "", err
		}
		if !exists {
			break
		}

		size, err := readDeviceSize(filepath.Join("/dev", deviceName))
		if err != nil {
			return "", err
		}

		if size == 0 {
			return filepath.Join("/dev", deviceName), nil
		}
	}

	return "", ErrNoFreeDevice
}

func readDeviceSize(devicePath string) (int64, error) {
	deviceName := filepath.Base(devicePath)
	sizePath := filepath.Join(sysBlockDir, deviceName, "size")

	sizeBytes, err := os.ReadFile(sizePath)
	if err != nil {
		return 0, fmt.Errorf("failed to read device size (%s):\n%w", sizePath, err)
	}

	var size int64
	_, err = fmt.Sscanf(strings.TrimSpace(string(sizeBytes)), "%d", &size)
	if err != nil {
		return 0, fmt.Errorf("failed to parse device size (%s):\n%w", sizePath, err)
	}

	return size, nil
}
