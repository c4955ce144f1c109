// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package safechroot manages chroot jails and ensures the system is restored to a
// sane state when the jail is torn down.
package safechroot

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/moby/sys/mountinfo"
	"github.com/oracle/oci-utils-sub001/internal/file"
	"github.com/oracle/oci-utils-sub001/internal/logger"
	"github.com/oracle/oci-utils-sub001/internal/processes"
	"github.com/oracle/oci-utils-sub001/internal/retry"
	"github.com/oracle/oci-utils-sub001/internal/tarutils"
	"golang.org/x/sys/unix"
)

const (
	// The PATH value set while commands run inside the jail. Guest images cannot be
	// trusted to export a usable PATH, so a fixed one is used instead.
	chrootPathEnv = "/bin:/usr/bin:/usr/sbin:/usr/local/sbin:/sbin"

	unmountAttempts      = 3
	unmountRetryDuration = time.Second
)

var (
	// chroot(2) changes the root of the whole process, not just the calling
	// goroutine. So, only a single chroot may be entered at any given time.
	inChrootMutex sync.Mutex

	// /dev and /sys are bind mounts of the host's; proc is mounted fresh so it
	// reflects the jail's own processes. A plain bind of /dev does not carry
	// the host's devpts submount, so a fresh devpts is mounted on top.
	defaultMountPoints = []*MountPoint{
		{source: "/dev", target: "/dev", flags: unix.MS_BIND},
		{target: "/proc", fstype: "proc"},
		{source: "/sys", target: "/sys", flags: unix.MS_BIND},
		{target: "/run", fstype: "tmpfs"},
		{target: "/dev/pts", fstype: "devpts", data: "gid=5,mode=620"},
	}
)

// FileToCopy holds a file to copy into a chroot via AddFiles.
// Dest is relative to the chroot's root directory.
// If Content is set, it is written to Dest instead of copying Src.
type FileToCopy struct {
	Src           string
	Content       *string
	Dest          string
	Permissions   *fs.FileMode
	NoDereference bool
}

// DirToCopy holds a directory to copy into a chroot via AddDirs.
// Dest is relative to the chroot's root directory.
type DirToCopy struct {
	Src                  string
	Dest                 string
	NewDirPermissions    fs.FileMode
	ChildFilePermissions fs.FileMode
	MergedDirPermissions *fs.FileMode
}

// MountPoint is a system mount to create inside a chroot.
// The target path is relative to the chroot's root directory.
type MountPoint struct {
	source string
	target string
	fstype string
	flags  uintptr
	data   string

	isMounted           bool
	mountBeforeDefaults bool
}

// NewMountPoint creates a new MountPoint to be mounted by a Chroot after the
// default mount points.
func NewMountPoint(source, target, fstype string, flags uintptr, data string) *MountPoint {
	return &MountPoint{
		source: source,
		target: target,
		fstype: fstype,
		flags:  flags,
		data:   data,
	}
}

// NewPreDefaultsMountPoint creates a new MountPoint to be mounted by a Chroot
// before the default mount points. The root directory mount must use this, since
// the default mount points live under it.
func NewPreDefaultsMountPoint(source, target, fstype string, flags uintptr, data string) *MountPoint {
	return &MountPoint{
		source:              source,
		target:              target,
		fstype:              fstype,
		flags:               flags,
		data:                data,
		mountBeforeDefaults: true,
	}
}

func (m *MountPoint) GetSource() string {
	return m.source
}

func (m *MountPoint) GetTarget() string {
	return m.target
}

func (m *MountPoint) GetFSType() string {
	return m.fstype
}

// ChrootInterface is the set of chroot operations used by code that only needs to
// run commands and place files inside a jail.
type ChrootInterface interface {
	RootDir() string
	AddFiles(filesToCopy ...FileToCopy) error
	Run(toRun func() error) error
	UnsafeRun(toRun func() error) error
}

// Chroot represents a Linux chroot jail.
type Chroot struct {
	rootDir       string
	isExistingDir bool
	mountPoints   []*MountPoint
}

// NewChroot creates a new Chroot struct.
func NewChroot(rootDir string, isExistingDir bool) *Chroot {
	chrootDir, err := filepath.Abs(rootDir)
	if err != nil {
		logger.Log.Warnf("Could not get absolute path for chroot dir (%s): %s", rootDir, err)
		return nil
	}

	c := &Chroot{
		rootDir:       chrootDir,
		isExistingDir: isExistingDir,
	}
	return c
}

// Initialize prepares the chroot directory and creates its mount points.
//   - tarPath: optional root filesystem tarball to expand into the chroot directory.
//   - extraDirectories: directories to create inside the chroot.
//   - extraMountPoints: mounts to create inside the chroot. Mounts created with
//     NewPreDefaultsMountPoint are mounted before the default mount points, the
//     rest after.
//   - includeDefaultMounts: whether to mount the default pseudo filesystems
//     (/dev, /proc, /sys, /run, /dev/pts).
func (c *Chroot) Initialize(tarPath string, extraDirectories []string,
	extraMountPoints []*MountPoint, includeDefaultMounts bool,
) (err error) {
	if c.isExistingDir {
		exists, err := file.DirExists(c.rootDir)
		if err != nil {
			return fmt.Errorf("failed to check chroot dir (%s):\n%w", c.rootDir, err)
		}
		if !exists {
			return fmt.Errorf("chroot dir (%s) does not exist", c.rootDir)
		}
	} else {
		exists, err := file.PathExists(c.rootDir)
		if err != nil {
			return fmt.Errorf("failed to check chroot dir (%s):\n%w", c.rootDir, err)
		}
		if exists {
			return fmt.Errorf("chroot dir (%s) already exists", c.rootDir)
		}

		err = os.MkdirAll(c.rootDir, os.ModePerm)
		if err != nil {
			return fmt.Errorf("failed to create chroot dir (%s):\n%w", c.rootDir, err)
		}

		defer func() {
			if err != nil {
				removeErr := os.RemoveAll(c.rootDir)
				if removeErr != nil {
					logger.Log.Warnf("Failed to remove chroot dir (%s): %s", c.rootDir, removeErr)
				}
			}
		}()
	}

	if tarPath != "" {
		err = tarutils.ExpandTarGzArchive(tarPath, c.rootDir)
		if err != nil {
			return fmt.Errorf("failed to expand rootfs archive (%s):\n%w", tarPath, err)
		}
	}

	for _, dir := range extraDirectories {
		dirPath := filepath.Join(c.rootDir, dir)
		err = os.MkdirAll(dirPath, os.ModePerm)
		if err != nil {
			return fmt.Errorf("failed to create chroot directory (%s):\n%w", dirPath, err)
		}
	}

	// Assemble the full mount list. The root's own mount (if any) must come first,
	// then the pseudo filesystems, then everything else.
	allMountPoints := []*MountPoint(nil)

	for _, mountPoint := range extraMountPoints {
		if mountPoint.mountBeforeDefaults {
			allMountPoints = append(allMountPoints, mountPoint)
		}
	}

	if includeDefaultMounts {
		allMountPoints = append(allMountPoints, defaultMountPoints...)
	}

	for _, mountPoint := range extraMountPoints {
		if !mountPoint.mountBeforeDefaults {
			allMountPoints = append(allMountPoints, mountPoint)
		}
	}

	defer func() {
		if err != nil {
			unmountErr := c.unmountAndRemove(true /*ignoreErrors*/, true /*lazyUnmount*/)
			if unmountErr != nil {
				logger.Log.Warnf("Failed to unmount chroot (%s): %s", c.rootDir, unmountErr)
			}
		}
	}()

	for _, mountPoint := range allMountPoints {
		err = c.createAndMount(mountPoint)
		if err != nil {
			return err
		}

		c.mountPoints = append(c.mountPoints, mountPoint)
	}

	return nil
}

// RootDir returns the chroot's root directory on the host.
func (c *Chroot) RootDir() string {
	return c.rootDir
}

// GetMountPoints returns the chroot's mount points, in mount order.
func (c *Chroot) GetMountPoints() []*MountPoint {
	return c.mountPoints
}

// AddFiles copies each file into the chroot.
func (c *Chroot) AddFiles(filesToCopy ...FileToCopy) error {
	return AddFilesToDestination(c.rootDir, filesToCopy...)
}

// AddFilesToDestination copies each file under the given destination directory.
func AddFilesToDestination(destDir string, filesToCopy ...FileToCopy) error {
	for _, f := range filesToCopy {
		dest := filepath.Join(destDir, f.Dest)

		if f.Content != nil {
			err := file.CreateDestinationDir(dest, os.ModePerm)
			if err != nil {
				return fmt.Errorf("failed to create destination directory for (%s):\n%w", dest, err)
			}

			err = file.Write(*f.Content, dest)
			if err != nil {
				return fmt.Errorf("failed to write file (%s):\n%w", dest, err)
			}

			if f.Permissions != nil {
				err = os.Chmod(dest, os.FileMode(*f.Permissions))
				if err != nil {
					return fmt.Errorf("failed to set file permissions (%s):\n%w", dest, err)
				}
			}

			continue
		}

		builder := file.NewFileCopyBuilder(f.Src, dest)
		if f.Permissions != nil {
			builder = builder.SetFileMode(os.FileMode(*f.Permissions))
		}
		if f.NoDereference {
			builder = builder.SetNoDereference()
		}

		err := builder.Run()
		if err != nil {
			return fmt.Errorf("failed to copy (%s) into chroot:\n%w", f.Src, err)
		}
	}

	return nil
}

// AddDirs copies each directory into the chroot.
func (c *Chroot) AddDirs(dirsToCopy ...DirToCopy) error {
	return AddDirsToDestination(c.rootDir, dirsToCopy...)
}

// AddDirsToDestination copies each directory under the given destination directory.
func AddDirsToDestination(destDir string, dirsToCopy ...DirToCopy) error {
	for _, d := range dirsToCopy {
		builder := file.NewDirCopyBuilder(d.Src, filepath.Join(destDir, d.Dest))
		if d.NewDirPermissions != 0 {
			newDirPermissions := d.NewDirPermissions
			builder.NewDirPermissions = &newDirPermissions
		}
		if d.ChildFilePermissions != 0 {
			childFilePermissions := d.ChildFilePermissions
			builder.ChildFilePermissions = &childFilePermissions
		}
		builder.MergedDirPermissions = d.MergedDirPermissions

		err := builder.Run()
		if err != nil {
			return fmt.Errorf("failed to copy directory (%s) into chroot:\n%w", d.Src, err)
		}
	}

	return nil
}

// Run runs the given function inside the chroot jail.
func (c *Chroot) Run(toRun func() error) error {
	inChrootMutex.Lock()
	defer inChrootMutex.Unlock()

	return c.UnsafeRun(toRun)
}

// UnsafeRun runs the given function inside the chroot jail without acquiring the
// chroot mutex. The caller must already hold it, typically by being inside a
// Run callback.
func (c *Chroot) UnsafeRun(toRun func() error) (err error) {
	const fsRoot = "/"

	originalRoot, err := os.Open(fsRoot)
	if err != nil {
		return fmt.Errorf("failed to open current root directory:\n%w", err)
	}
	defer originalRoot.Close()

	originalWd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current working directory:\n%w", err)
	}

	originalPath := os.Getenv("PATH")

	logger.Log.Debugf("Entering chroot (%s)", c.rootDir)

	err = unix.Chroot(c.rootDir)
	if err != nil {
		return fmt.Errorf("failed to chroot into (%s):\n%w", c.rootDir, err)
	}

	defer func() {
		leaveErr := leaveChroot(originalRoot, originalWd, originalPath)
		if leaveErr != nil {
			if err == nil {
				err = leaveErr
			} else {
				// An earlier error is already in flight and must not be masked.
				logger.Log.Errorf("Failed to leave chroot (%s): %s", c.rootDir, leaveErr)
			}
		}
	}()

	err = os.Chdir(fsRoot)
	if err != nil {
		return fmt.Errorf("failed to change directory to chroot root:\n%w", err)
	}

	err = os.Setenv("PATH", chrootPathEnv)
	if err != nil {
		return fmt.Errorf("failed to set chroot PATH:\n%w", err)
	}

	err = toRun()
	return
}

// leaveChroot restores the original root, working directory, and PATH.
func leaveChroot(originalRoot *os.File, originalWd string, originalPath string) error {
	err := originalRoot.Chdir()
	if err != nil {
		return fmt.Errorf("failed to change directory to original root:\n%w", err)
	}

	err = unix.Chroot(".")
	if err != nil {
		return fmt.Errorf("failed to chroot into original root:\n%w", err)
	}

	err = os.Chdir(originalWd)
	if err != nil {
		return fmt.Errorf("failed to change directory to (%s):\n%w", originalWd, err)
	}

	err = os.Setenv("PATH", originalPath)
	if err != nil {
		return fmt.Errorf("failed to restore PATH:\n%w", err)
	}

	return nil
}

// Close tears down the chroot's mount points.
// If leaveOnDisk is set, the chroot directory is preserved. Otherwise, it is
// deleted.
func (c *Chroot) Close(leaveOnDisk bool) (err error) {
	err = c.stopActiveProcesses()
	if err != nil {
		return err
	}

	err = c.unmountAndRemove(false /*ignoreErrors*/, false /*lazyUnmount*/)
	if err != nil {
		logger.Log.Warnf("Retrying chroot cleanup with lazy unmount (%s)", c.rootDir)
		err = c.unmountAndRemove(false /*ignoreErrors*/, true /*lazyUnmount*/)
	}
	if err != nil {
		return err
	}

	if !leaveOnDisk {
		err = os.RemoveAll(c.rootDir)
		if err != nil {
			return fmt.Errorf("failed to remove chroot dir (%s):\n%w", c.rootDir, err)
		}
	}

	return nil
}

// stopActiveProcesses stops processes still running inside the chroot, so that
// they do not hold the mount points busy.
func (c *Chroot) stopActiveProcesses() error {
	procs, err := processes.GetProcessesUsingPath(c.rootDir)
	if err != nil {
		return fmt.Errorf("failed to list processes using chroot (%s):\n%w", c.rootDir, err)
	}

	for _, proc := range procs {
		if proc.ProcessRoot != c.rootDir {
			// The process has a file open under the chroot directory but isn't
			// jailed inside it. Killing it isn't this chroot's call to make.
			logger.Log.Warnf("Process (%d:%s) is using the chroot directory (%s)", proc.ProcessId,
				proc.ProcessName, c.rootDir)
			continue
		}

		logger.Log.Debugf("Stopping process running inside chroot (%d:%s)", proc.ProcessId, proc.ProcessName)

		err = processes.StopProcessById(proc.ProcessId)
		if err != nil {
			return fmt.Errorf("failed to stop process (%d:%s) running inside chroot:\n%w", proc.ProcessId,
				proc.ProcessName, err)
		}
	}

	return nil
}

// unmountAndRemove unmounts the chroot's mount points in the reverse order in
// which they were mounted.
func (c *Chroot) unmountAndRemove(ignoreErrors bool, lazyUnmount bool) error {
	unmountFlags := 0
	if lazyUnmount {
		unmountFlags = unix.MNT_DETACH
	}

	for i := len(c.mountPoints) - 1; i >= 0; i-- {
		mountPoint := c.mountPoints[i]
		if !mountPoint.isMounted {
			continue
		}

		fullPath := filepath.Join(c.rootDir, mountPoint.target)

		// The mount may already be gone, either removed externally or detached by a
		// previous lazy unmount.
		isMounted, err := mountinfo.Mounted(fullPath)
		if err != nil {
			if !ignoreErrors {
				return fmt.Errorf("failed to query mount state of (%s):\n%w", fullPath, err)
			}

			logger.Log.Warnf("Failed to query mount state of (%s): %s", fullPath, err)
			continue
		}

		if !isMounted {
			mountPoint.isMounted = false
			continue
		}

		logger.Log.Debugf("Unmounting (%s)", fullPath)

		err = retry.Run(func() error {
			err := unix.Unmount(fullPath, unmountFlags)
			if err != nil {
				logger.Log.Warnf("Failed to unmount (%s). Retrying", fullPath)
				return err
			}

			return nil
		}, unmountAttempts, unmountRetryDuration)
		if err != nil {
			if !ignoreErrors {
				return fmt.Errorf("failed to unmount (%s):\n%w", fullPath, err)
			}

			logger.Log.Warnf("Failed to unmount (%s): %s", fullPath, err)
			continue
		}

		mountPoint.isMounted = false
	}

	return nil
}

func (c *Chroot) createAndMount(mountPoint *MountPoint) error {
	fullPath := filepath.Join(c.rootDir, mountPoint.target)

	logger.Log.Debugf("Mounting: source: (%s), target: (%s), fstype: (%s), flags: (%#x), data: (%s)",
		mountPoint.source, fullPath, mountPoint.fstype, mountPoint.flags, mountPoint.data)

	err := os.MkdirAll(fullPath, os.ModePerm)
	if err != nil {
		return fmt.Errorf("failed to create mount directory (%s):\n%w", fullPath, err)
	}

	err = unix.Mount(mountPoint.source, fullPath, mountPoint.fstype, mountPoint.flags, mountPoint.data)
	if err != nil {
		return fmt.Errorf("failed to mount (%s) to (%s):\n%w", mountPoint.source, fullPath, err)
	}

	mountPoint.isMounted = true
	return nil
}

// DummyChroot implements ChrootInterface against the host's root directory,
// without any jailing.
type DummyChroot struct {
}

func (d DummyChroot) RootDir() string {
	return "/"
}

func (d DummyChroot) AddFiles(filesToCopy ...FileToCopy) error {
	return AddFilesToDestination("/", filesToCopy...)
}

func (d DummyChroot) Run(toRun func() error) error {
	return toRun()
}

func (d DummyChroot) UnsafeRun(toRun func() error) error {
	return toRun()
}
