// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package imageconnection ties together a disk image's block device
// attachment and the chroot built on top of it, so that both are torn down in
// the right order: chroot (and its mounts) first, device last.
package imageconnection

import (
	"fmt"

	"github.com/oracle/oci-utils-sub001/internal/diskutils"
	"github.com/oracle/oci-utils-sub001/internal/logger"
	"github.com/oracle/oci-utils-sub001/internal/safechroot"
	"github.com/oracle/oci-utils-sub001/internal/safeloopback"
	"github.com/oracle/oci-utils-sub001/internal/safenbd"
)

// guestChroot is the part of safechroot.Chroot the connection manages.
type guestChroot interface {
	safechroot.ChrootInterface
	Close(leaveOnDisk bool) error
}

type ImageConnection struct {
	loopback            *safeloopback.Loopback
	nbd                 *safenbd.Nbd
	chroot              guestChroot
	chrootIsExistingDir bool
}

func NewImageConnection() *ImageConnection {
	return &ImageConnection{}
}

// ConnectDevice attaches the image file as a block device, picking the
// backend by image format: raw images use a loopback device, everything else
// goes through qemu-nbd.
func (c *ImageConnection) ConnectDevice(diskFilePath string, imageFormat string) error {
	if imageFormat == diskutils.ImageFormatRaw {
		return c.ConnectLoopback(diskFilePath)
	}

	return c.ConnectNbd(diskFilePath, imageFormat)
}

func (c *ImageConnection) ConnectLoopback(diskFilePath string) error {
	if c.loopback != nil || c.nbd != nil {
		return fmt.Errorf("device already connected")
	}

	loopback, err := safeloopback.NewLoopback(diskFilePath)
	if err != nil {
		return fmt.Errorf("failed to attach disk (%s) as a loopback device:\n%w", diskFilePath, err)
	}
	c.loopback = loopback
	return nil
}

func (c *ImageConnection) ConnectNbd(diskFilePath string, imageFormat string) error {
	if c.loopback != nil || c.nbd != nil {
		return fmt.Errorf("device already connected")
	}

	nbd, err := safenbd.NewNbd(diskFilePath, imageFormat)
	if err != nil {
		return fmt.Errorf("failed to attach disk (%s) as an nbd device:\n%w", diskFilePath, err)
	}
	c.nbd = nbd
	return nil
}

func (c *ImageConnection) ConnectChroot(rootDir string, isExistingDir bool, extraDirectories []string,
	extraMountPoints []*safechroot.MountPoint, includeDefaultMounts bool,
) error {
	if c.chroot != nil {
		return fmt.Errorf("chroot already connected")
	}

	chroot := safechroot.NewChroot(rootDir, isExistingDir)
	err := chroot.Initialize("", extraDirectories, extraMountPoints, includeDefaultMounts)
	if err != nil {
		return err
	}
	c.chroot = chroot
	c.chrootIsExistingDir = isExistingDir

	return nil
}

func (c *ImageConnection) Chroot() safechroot.ChrootInterface {
	return c.chroot
}

// CloseChroot tears down just the chroot, leaving the block device attached.
// Used when other mounts must be released between the chroot teardown and
// the device detach.
func (c *ImageConnection) CloseChroot(leaveOnDisk bool) error {
	if c.chroot == nil {
		return nil
	}

	err := c.chroot.Close(leaveOnDisk)
	if err != nil {
		return err
	}
	c.chroot = nil

	return nil
}

// DevicePath returns the path of the attached block device, or "" if no
// device is connected.
func (c *ImageConnection) DevicePath() string {
	switch {
	case c.loopback != nil:
		return c.loopback.DevicePath()

	case c.nbd != nil:
		return c.nbd.DevicePath()

	default:
		return ""
	}
}

// Close tears the connection down, logging any errors.
// Can be called multiple times, including after CleanClose.
func (c *ImageConnection) Close() {
	if c.chroot != nil {
		err := c.chroot.Close(c.chrootIsExistingDir)
		if err != nil {
			logger.Log.Warnf("Failed to close chroot (%s): %s", c.chroot.RootDir(), err)
		}
		c.chroot = nil
	}

	if c.loopback != nil {
		c.loopback.Close()
	}

	if c.nbd != nil {
		c.nbd.Close()
	}
}

// CleanClose tears the connection down and reports any errors that occur.
func (c *ImageConnection) CleanClose() error {
	if c.chroot != nil {
		err := c.chroot.Close(c.chrootIsExistingDir)
		if err != nil {
			return err
		}
		c.chroot = nil
	}

	if c.loopback != nil {
		err := c.loopback.CleanClose()
		if err != nil {
			return err
		}
	}

	if c.nbd != nil {
		err := c.nbd.CleanClose()
		if err != nil {
			return err
		}
	}

	return nil
}
