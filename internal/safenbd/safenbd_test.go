// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package safenbd

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/oracle/oci-utils-sub001/internal/file"
	"github.com/oracle/oci-utils-sub001/internal/logger"
	"github.com/stretchr/testify/assert"
)

var (
	testsTempDir string
)

func TestMain(m *testing.M) {
	var err error

	logger.InitStderrLog()
	flag.Parse()

	workingDir, err := os.Getwd()
	if err != nil {
		logger.Log.Panicf("Failed to get working directory, error: %s", err)
	}

	testsTempDir = filepath.Join(workingDir, "_tmp")

	err = os.MkdirAll(testsTempDir, os.ModePerm)
	if err != nil {
		logger.Log.Panicf("Failed to create tests temp directory, error: %s", err)
	}

	retVal := m.Run()

	err = os.RemoveAll(testsTempDir)
	if err != nil {
		logger.Log.Warnf("Failed to cleanup tests temp directory (%s). Error: %s", testsTempDir, err)
	}

	os.Exit(retVal)
}

func writeFakeDeviceSize(t *testing.T, sysDir string, deviceName string, size string) bool {
	deviceDir := filepath.Join(sysDir, deviceName)
	err := os.MkdirAll(deviceDir, os.ModePerm)
	if !assert.NoError(t, err) {
		return false
	}
	err = os.WriteFile(filepath.Join(deviceDir, "size"), []byte(size+"\n"), 0o644)
	return assert.NoError(t, err)
}

func TestFindFreeDevice(t *testing.T) {
	sysDir := filepath.Join(testsTempDir, "TestFindFreeDevice")

	// nbd0 has an image connected, nbd1 is free.
	if !writeFakeDeviceSize(t, sysDir, "nbd0", "8192") {
		return
	}
	if !writeFakeDeviceSize(t, sysDir, "nbd1", "0") {
		return
	}

	origSysBlockDir := sysBlockDir
	sysBlockDir = sysDir
	defer func() {
		sysBlockDir = origSysBlockDir
	}()

	devicePath, err := findFreeDevice()
	assert.NoError(t, err)
	assert.Equal(t, "/dev/nbd1", devicePath)
}

func TestFindFreeDeviceNoneFree(t *testing.T) {
	sysDir := filepath.Join(testsTempDir, "TestFindFreeDeviceNoneFree")

	for i := 0; i < maxDevices; i++ {
		if !writeFakeDeviceSize(t, sysDir, fmt.Sprintf("nbd%d", i), "8192") {
			return
		}
	}

	origSysBlockDir := sysBlockDir
	sysBlockDir = sysDir
	defer func() {
		sysBlockDir = origSysBlockDir
	}()

	_, err := findFreeDevice()
	assert.ErrorIs(t, err, ErrNoFreeDevice)
}

func TestNbdConnectDisconnect(t *testing.T) {
	if os.Geteuid() != 0 {
		t.Skip("Test must be run as root because it connects nbd devices")
	}

	qemuNbdExists, err := file.CommandExists("qemu-nbd")
	if !assert.NoError(t, err) {
		return
	}
	if !qemuNbdExists {
		t.Skip("Test requires qemu-nbd")
	}

	diskFilePath := filepath.Join(testsTempDir, "nbddisk.raw")

	diskFile, err := os.Create(diskFilePath)
	if !assert.NoError(t, err) {
		return
	}

	err = diskFile.Truncate(4 * 1024 * 1024)
	diskFile.Close()
	if !assert.NoError(t, err) {
		return
	}

	nbd, err := NewNbd(diskFilePath, "raw")
	if !assert.NoError(t, err) {
		return
	}

	assert.True(t, strings.HasPrefix(nbd.DevicePath(), "/dev/nbd"))
	assert.Equal(t, diskFilePath, nbd.DiskFilePath())

	size, err := readDeviceSize(nbd.DevicePath())
	assert.NoError(t, err)
	assert.NotZero(t, size)

	err = nbd.CleanClose()
	assert.NoError(t, err)

	// Closing again is a no-op.
	nbd.Close()
}

func TestNbdMissingFile(t *testing.T) {
	if os.Geteuid() != 0 {
		t.Skip("Test must be run as root because it connects nbd devices")
	}

	qemuNbdExists, err := file.CommandExists("qemu-nbd")
	if !assert.NoError(t, err) {
		return
	}
	if !qemuNbdExists {
		t.Skip("Test requires qemu-nbd")
	}

	_, err = NewNbd(filepath.Join(testsTempDir, "does-not-exist.raw"), "raw")
	assert.ErrorIs(t, err, ErrDeviceConnect)
}
