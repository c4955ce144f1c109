// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package safeloopback attaches disk image files to loopback devices and ensures
// they are detached again.
package safeloopback

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/oracle/oci-utils-sub001/internal/logger"
	"github.com/oracle/oci-utils-sub001/internal/lvmutils"
	"github.com/oracle/oci-utils-sub001/internal/retry"
	"github.com/oracle/oci-utils-sub001/internal/shell"
)

const (
	detachCheckAttempts = 10
	detachCheckSleep    = 100 * time.Millisecond
)

// Loopback represents a disk image file attached to a loopback device.
type Loopback struct {
	devicePath   string
	diskFilePath string
	isAttached   bool
}

// NewLoopback attaches a disk image file to a free loopback device.
func NewLoopback(diskFilePath string) (*Loopback, error) {
	loopback := &Loopback{
		diskFilePath: diskFilePath,
	}

	err := loopback.create()
	if err != nil {
		loopback.Close()
		return nil, err
	}

	return loopback, nil
}

func (l *Loopback) create() error {
	// --partscan asks the kernel to create device nodes for the image's partitions.
	devicePath, _, err := shell.Execute("losetup", "--show", "--find", "--partscan", l.diskFilePath)
	if err != nil {
		return fmt.Errorf("failed to attach loopback device for (%s):\n%w", l.diskFilePath, err)
	}

	l.devicePath = strings.TrimSpace(devicePath)
	l.isAttached = true

	logger.Log.Debugf("Attached (%s) as loopback device (%s)", l.diskFilePath, l.devicePath)

	// Wait for the partition device nodes to show up.
	_, _, err = shell.Execute("udevadm", "settle")
	if err != nil {
		return fmt.Errorf("failed to wait for devices to settle:\n%w", err)
	}

	return nil
}

// DevicePath returns the path of the loopback device. e.g. /dev/loop0
func (l *Loopback) DevicePath() string {
	return l.devicePath
}

// DiskFilePath returns the path of the attached disk image file.
func (l *Loopback) DiskFilePath() string {
	return l.diskFilePath
}

// Close detaches the loopback device, logging any errors.
// Can be called multiple times, including after CleanClose.
func (l *Loopback) Close() {
	err := l.close()
	if err != nil {
		logger.Log.Warnf("%v", err)
	}
}

// CleanClose detaches the loopback device and reports any errors that occur.
func (l *Loopback) CleanClose() error {
	return l.close()
}

func (l *Loopback) close() error {
	if !l.isAttached {
		return nil
	}

	logger.Log.Debugf("Detaching loopback device (%s)", l.devicePath)

	_, _, err := shell.Execute("losetup", "--detach", l.devicePath)
	if err != nil {
		return fmt.Errorf("failed to detach loopback device (%s):\n%w", l.devicePath, err)
	}

	// losetup can return before the kernel has finished the detach.
	err = l.waitForDetach()
	if err != nil {
		return err
	}

	l.isAttached = false

	// The LVM cache may still hold metadata read from the now-detached device.
	// The device itself is gone either way, so a failed rescan is not escalated.
	err = lvmutils.ClearPhysicalVolumeCache()
	if err != nil {
		logger.Log.Errorf("%v", err)
	}

	return nil
}

func (l *Loopback) waitForDetach() error {
	err := retry.Run(func() error {
		attached, err := l.isDeviceAttached()
		if err != nil {
			return err
		}

		if attached {
			return fmt.Errorf("loopback device (%s) is still attached to (%s)", l.devicePath, l.diskFilePath)
		}

		return nil
	}, detachCheckAttempts, detachCheckSleep)
	if err != nil {
		return fmt.Errorf("failed to wait for loopback device (%s) to detach:\n%w", l.devicePath, err)
	}

	return nil
}

type loopbackListOutput struct {
	LoopDevices []loopbackListDevice `json:"loopdevices"`
}

type loopbackListDevice struct {
	Name     string `json:"name"`
	BackFile string `json:"back-file"`
}

func (l *Loopback) isDeviceAttached() (bool, error) {
	stdout, _, err := shell.Execute("losetup", "--list", "--json")
	if err != nil {
		return false, fmt.Errorf("failed to list loopback devices:\n%w", err)
	}

	// losetup prints nothing at all when there are no attached devices.
	if strings.TrimSpace(stdout) == "" {
		return false, nil
	}

	var listOutput loopbackListOutput
	err = json.Unmarshal([]byte(stdout), &listOutput)
	if err != nil {
		return false, fmt.Errorf("failed to parse losetup list output:\n%w", err)
	}

	for _, device := range listOutput.LoopDevices {
		// The kernel may hand the device name out again after the detach. The
		// device only counts as still attached if it still references our file.
		if device.Name == l.devicePath && strings.HasPrefix(device.BackFile, l.diskFilePath) {
			return true, nil
		}
	}

	return false, nil
}
