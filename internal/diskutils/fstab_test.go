// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package diskutils

import (
	"path/filepath"
	"testing"

	"github.com/oracle/oci-utils-sub001/internal/file"
	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestParseFstabLines(t *testing.T) {
	lines := []string{
		"# /etc/fstab",
		"",
		"UUID=1111-2222 /      ext4 defaults             0 1",
		"UUID=3333-4444 /boot  ext4 ro,noatime,data=ordered 0 2",
		"proc           /proc  proc defaults             0 0",
		"broken-row-with-too-few-fields /mnt ext4",
	}

	entries, err := ParseFstabLines(lines)
	if !assert.NoError(t, err) {
		return
	}

	if !assert.Len(t, entries, 3) {
		return
	}

	root := entries[0]
	assert.Equal(t, "UUID=1111-2222", root.Source)
	assert.Equal(t, "/", root.Target)
	assert.Equal(t, "ext4", root.FsType)
	assert.Equal(t, "defaults", root.Options)
	assert.Equal(t, MountFlags(0), root.VfsOptions)
	assert.Equal(t, "", root.FsOptions)
	assert.Equal(t, 0, root.Freq)
	assert.Equal(t, 1, root.PassNo)

	boot := entries[1]
	assert.Equal(t, "/boot", boot.Target)
	assert.Equal(t, MountFlags(unix.MS_RDONLY|unix.MS_NOATIME), boot.VfsOptions)
	assert.Equal(t, "data=ordered", boot.FsOptions)
	assert.Equal(t, 2, boot.PassNo)

	proc := entries[2]
	assert.Equal(t, "proc", proc.FsType)
}

func TestParseFstabLinesBadPassNo(t *testing.T) {
	lines := []string{
		"UUID=1111-2222 / ext4 defaults 0 x",
	}

	_, err := ParseFstabLines(lines)
	assert.Error(t, err)
}

func TestReadFstabFile(t *testing.T) {
	fstabPath := filepath.Join(testsTempDir, "fstab")

	err := file.WriteLines([]string{
		"# guest fstab",
		"UUID=1111-2222 / ext4 defaults 0 1",
	}, fstabPath)
	if !assert.NoError(t, err) {
		return
	}

	entries, err := ReadFstabFile(fstabPath)
	if !assert.NoError(t, err) {
		return
	}

	if !assert.Len(t, entries, 1) {
		return
	}

	assert.Equal(t, "UUID=1111-2222", entries[0].Source)
	assert.Equal(t, "/", entries[0].Target)
}

func TestReadFstabFileMissing(t *testing.T) {
	_, err := ReadFstabFile(filepath.Join(testsTempDir, "no-such-fstab"))
	assert.Error(t, err)
}
