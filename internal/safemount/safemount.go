// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package safemount manages system mounts and ensures they are cleanly removed.
package safemount

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/moby/sys/mountinfo"
	"github.com/oracle/oci-utils-sub001/internal/logger"
	"github.com/oracle/oci-utils-sub001/internal/retry"
	"golang.org/x/sys/unix"
)

const (
	mountAttempts = 3
	mountSleep    = 1 * time.Second

	unmountAttempts = 3
	unmountSleep    = 2 * time.Second
)

// Mount represents a system mount.
type Mount struct {
	target     string
	isMounted  bool
	dirCreated bool
}

// NewMount creates a new system mount.
// If makeAndDeleteDir is set, the target directory is created before mounting and
// deleted again when the mount is closed.
func NewMount(source, target, fstype string, flags uintptr, data string, makeAndDeleteDir bool,
) (*Mount, error) {
	mount := &Mount{
		target: target,
	}

	err := mount.initialize(source, target, fstype, flags, data, makeAndDeleteDir)
	if err != nil {
		mount.Close()
		return nil, err
	}

	return mount, nil
}

func (m *Mount) initialize(source, target, fstype string, flags uintptr, data string,
	makeAndDeleteDir bool,
) error {
	logger.Log.Debugf("Mounting: source: (%s), target: (%s), fstype: (%s), flags: (%#x), data: (%s)",
		source, target, fstype, flags, data)

	if makeAndDeleteDir {
		err := os.MkdirAll(target, os.ModePerm)
		if err != nil {
			return fmt.Errorf("failed to create mount directory (%s):\n%w", target, err)
		}

		m.dirCreated = true
	}

	// Mounts can fail transiently while udev is still probing the device.
	err := retry.Run(func() error {
		return unix.Mount(source, target, fstype, flags, data)
	}, mountAttempts, mountSleep)
	if err != nil {
		return fmt.Errorf("failed to mount (%s) to (%s):\n%w", source, target, err)
	}

	m.isMounted = true
	return nil
}

// Target returns the mount's target directory.
func (m *Mount) Target() string {
	return m.target
}

// IsMounted queries the kernel's mount table for the mount's target.
func (m *Mount) IsMounted() (bool, error) {
	isMounted, err := mountinfo.Mounted(m.target)
	if err != nil {
		return false, fmt.Errorf("failed to query mount state of (%s):\n%w", m.target, err)
	}

	return isMounted, nil
}

// Close removes the mount, logging any errors.
// Can be called multiple times, including after CleanClose.
func (m *Mount) Close() {
	err := m.close()
	if err != nil {
		logger.Log.Warnf("%v", err)
	}
}

// CleanClose removes the mount and reports any errors that occur.
func (m *Mount) CleanClose() error {
	return m.close()
}

func (m *Mount) close() error {
	if m.isMounted {
		logger.Log.Debugf("Unmounting (%s)", m.target)

		// The mount may have already been removed, either externally or by a
		// recursive unmount. umount reports EINVAL for a target that isn't mounted,
		// so check the mount table first to keep close idempotent.
		isMounted, err := mountinfo.Mounted(m.target)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to query mount state of (%s):\n%w", m.target, err)
		}

		if isMounted {
			// Transient EBUSY errors are common when a process is still winding down.
			err = retry.Run(func() error {
				err := unix.Unmount(m.target, 0)
				if err != nil {
					logger.Log.Warnf("Failed to unmount (%s). Retrying", m.target)
					return err
				}

				return nil
			}, unmountAttempts, unmountSleep)
			if err != nil {
				return fmt.Errorf("failed to unmount (%s):\n%w", m.target, err)
			}
		}

		m.isMounted = false
	}

	if m.dirCreated {
		err := os.Remove(m.target)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to delete mount directory (%s):\n%w", m.target, err)
		}

		m.dirCreated = false
	}

	return nil
}
