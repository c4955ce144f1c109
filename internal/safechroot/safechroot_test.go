// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package safechroot

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/oracle/oci-utils-sub001/internal/tarutils"
	"github.com/stretchr/testify/assert"
)

func TestRunRestoresEnvironment(t *testing.T) {
	if os.Geteuid() != 0 {
		t.Skip("Test must be run as root because it uses chroot")
	}

	chrootDir := filepath.Join(testsTempDir, "TestRunRestoresEnvironment")
	err := os.MkdirAll(chrootDir, os.ModePerm)
	if !assert.NoError(t, err) {
		return
	}

	originalWd, err := os.Getwd()
	if !assert.NoError(t, err) {
		return
	}

	originalPath := os.Getenv("PATH")

	chroot := NewChroot(chrootDir, true /*isExistingDir*/)
	if !assert.NotNil(t, chroot) {
		return
	}

	err = chroot.Initialize("", nil, nil, false /*includeDefaultMounts*/)
	if !assert.NoError(t, err) {
		return
	}
	defer chroot.Close(true /*leaveOnDisk*/)

	err = chroot.Run(func() error {
		// Inside the jail, the working directory is the new root and PATH points at
		// the guest's binary directories.
		wd, err := os.Getwd()
		assert.NoError(t, err)
		assert.Equal(t, "/", wd)
		assert.Equal(t, chrootPathEnv, os.Getenv("PATH"))
		return nil
	})
	assert.NoError(t, err)

	// The environment must be fully restored after leaving the jail.
	wd, err := os.Getwd()
	assert.NoError(t, err)
	assert.Equal(t, originalWd, wd)
	assert.Equal(t, originalPath, os.Getenv("PATH"))

	err = chroot.Close(true /*leaveOnDisk*/)
	assert.NoError(t, err)
}

func TestInitializeFromRootfsArchive(t *testing.T) {
	if os.Geteuid() != 0 {
		t.Skip("Test must be run as root because it uses chroot")
	}

	testDir := filepath.Join(testsTempDir, "TestInitializeFromRootfsArchive")
	seedDir := filepath.Join(testDir, "seed")
	chrootDir := filepath.Join(testDir, "chroot")
	archivePath := filepath.Join(testDir, "rootfs.tar.gz")

	err := os.MkdirAll(filepath.Join(seedDir, "etc"), os.ModePerm)
	if !assert.NoError(t, err) {
		return
	}

	err = os.WriteFile(filepath.Join(seedDir, "etc", "os-release"), []byte("ID=debian\n"), 0o644)
	if !assert.NoError(t, err) {
		return
	}

	err = os.Symlink("os-release", filepath.Join(seedDir, "etc", "os-release-link"))
	if !assert.NoError(t, err) {
		return
	}

	err = tarutils.CreateTarGzArchive(seedDir, archivePath)
	if !assert.NoError(t, err) {
		return
	}

	chroot := NewChroot(chrootDir, false /*isExistingDir*/)
	if !assert.NotNil(t, chroot) {
		return
	}

	err = chroot.Initialize(archivePath, nil, nil, false /*includeDefaultMounts*/)
	if !assert.NoError(t, err) {
		return
	}
	defer chroot.Close(false /*leaveOnDisk*/)

	content, err := os.ReadFile(filepath.Join(chrootDir, "etc", "os-release"))
	assert.NoError(t, err)
	assert.Equal(t, "ID=debian\n", string(content))

	linkTarget, err := os.Readlink(filepath.Join(chrootDir, "etc", "os-release-link"))
	assert.NoError(t, err)
	assert.Equal(t, "os-release", linkTarget)

	err = chroot.Close(false /*leaveOnDisk*/)
	assert.NoError(t, err)
}

func TestInitializeExistingDirMissing(t *testing.T) {
	chroot := NewChroot(filepath.Join(testsTempDir, "does-not-exist"), true /*isExistingDir*/)
	if !assert.NotNil(t, chroot) {
		return
	}

	err := chroot.Initialize("", nil, nil, false)
	assert.Error(t, err)
}

func TestAddFilesToDestination(t *testing.T) {
	destDir := filepath.Join(testsTempDir, "TestAddFilesToDestination")

	srcPath := filepath.Join(testsTempDir, "addfiles-src.txt")
	err := os.WriteFile(srcPath, []byte("copied contents"), 0o644)
	if !assert.NoError(t, err) {
		return
	}

	content := "inline contents"
	permissions := fs.FileMode(0o600)

	err = AddFilesToDestination(destDir,
		FileToCopy{Src: srcPath, Dest: "etc/copied.txt"},
		FileToCopy{Content: &content, Dest: "etc/inline.txt", Permissions: &permissions})
	if !assert.NoError(t, err) {
		return
	}

	copied, err := os.ReadFile(filepath.Join(destDir, "etc/copied.txt"))
	assert.NoError(t, err)
	assert.Equal(t, "copied contents", string(copied))

	inline, err := os.ReadFile(filepath.Join(destDir, "etc/inline.txt"))
	assert.NoError(t, err)
	assert.Equal(t, "inline contents", string(inline))

	inlineInfo, err := os.Stat(filepath.Join(destDir, "etc/inline.txt"))
	assert.NoError(t, err)
	assert.Equal(t, permissions, inlineInfo.Mode().Perm())
}

func TestAddDirsToDestination(t *testing.T) {
	testTempDir := filepath.Join(testsTempDir, "TestAddDirsToDestination")

	srcDir := filepath.Join(testTempDir, "src")
	err := os.MkdirAll(filepath.Join(srcDir, "nested"), os.ModePerm)
	if !assert.NoError(t, err) {
		return
	}

	err = os.WriteFile(filepath.Join(srcDir, "nested", "a.txt"), []byte("a"), 0o644)
	if !assert.NoError(t, err) {
		return
	}

	destDir := filepath.Join(testTempDir, "dest")

	err = AddDirsToDestination(destDir, DirToCopy{
		Src:                  srcDir,
		Dest:                 "etc/backup",
		NewDirPermissions:    0o755,
		ChildFilePermissions: 0o644,
	})
	if !assert.NoError(t, err) {
		return
	}

	copied, err := os.ReadFile(filepath.Join(destDir, "etc/backup/nested/a.txt"))
	assert.NoError(t, err)
	assert.Equal(t, "a", string(copied))
}

func TestMountPointAccessors(t *testing.T) {
	mountPoint := NewMountPoint("/dev/sda1", "/boot", "ext4", 0, "")
	assert.Equal(t, "/dev/sda1", mountPoint.GetSource())
	assert.Equal(t, "/boot", mountPoint.GetTarget())
	assert.Equal(t, "ext4", mountPoint.GetFSType())

	rootMountPoint := NewPreDefaultsMountPoint("/dev/sda2", "/", "xfs", 0, "")
	assert.True(t, rootMountPoint.mountBeforeDefaults)
}
