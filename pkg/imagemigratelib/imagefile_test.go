// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package imagemigratelib

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/oracle/oci-utils-sub001/imagemigrateapi"
	"github.com/stretchr/testify/assert"
)

func TestDecompressedFileName(t *testing.T) {
	tests := []struct {
		imageFilePath string
		decompressed  string
	}{
		{"/images/disk.raw.gz", "disk.raw"},
		{"/images/disk.qcow2.zst", "disk.qcow2"},
		{"/images/disk.img.gzip", "disk.img"},
		{"/images/disk.zstd", "disk"},
		{"/images/archive", "archive.raw"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.decompressed, decompressedFileName(tt.imageFilePath))
	}
}

func TestPrepareImageFileUncompressedRaw(t *testing.T) {
	buildDir := filepath.Join(testsTempDir, "TestPrepareImageFileUncompressedRaw")
	imagePath := filepath.Join(buildDir, "disk.raw")

	if !writeTestFile(t, imagePath, string(make([]byte, 4096))) {
		return
	}

	preparedPath, format, err := prepareImageFile(imagePath, buildDir, imagemigrateapi.ImageFormatTypeNone)
	assert.NoError(t, err)
	assert.Equal(t, imagePath, preparedPath)
	assert.Equal(t, "raw", format)
}

func TestPrepareImageFileGzip(t *testing.T) {
	buildDir := filepath.Join(testsTempDir, "TestPrepareImageFileGzip")
	err := os.MkdirAll(buildDir, os.ModePerm)
	if !assert.NoError(t, err) {
		return
	}

	diskContent := bytes.Repeat([]byte{0xa5}, 4096)
	compressed := gzipCompress(t, diskContent)
	if compressed == nil {
		return
	}

	imagePath := filepath.Join(buildDir, "disk.raw.gz")
	err = os.WriteFile(imagePath, compressed, 0o644)
	if !assert.NoError(t, err) {
		return
	}

	preparedPath, format, err := prepareImageFile(imagePath, buildDir, imagemigrateapi.ImageFormatTypeNone)
	if !assert.NoError(t, err) {
		return
	}

	assert.Equal(t, filepath.Join(buildDir, "disk.raw"), preparedPath)
	assert.Equal(t, "raw", format)

	decompressed, err := os.ReadFile(preparedPath)
	assert.NoError(t, err)
	assert.Equal(t, diskContent, decompressed)
}

func TestPrepareImageFileXzRejected(t *testing.T) {
	buildDir := filepath.Join(testsTempDir, "TestPrepareImageFileXzRejected")
	imagePath := filepath.Join(buildDir, "disk.raw.xz")

	xzHeader := string([]byte{0xfd, '7', 'z', 'X', 'Z', 0x00, 0x00, 0x00})
	if !writeTestFile(t, imagePath, xzHeader) {
		return
	}

	_, _, err := prepareImageFile(imagePath, buildDir, imagemigrateapi.ImageFormatTypeNone)
	assert.ErrorContains(t, err, "unsupported compression (xz)")
}

func TestPrepareImageFileFormatOverride(t *testing.T) {
	buildDir := filepath.Join(testsTempDir, "TestPrepareImageFileFormatOverride")
	imagePath := filepath.Join(buildDir, "disk.img")

	if !writeTestFile(t, imagePath, string(make([]byte, 4096))) {
		return
	}

	// The override skips format detection entirely.
	_, format, err := prepareImageFile(imagePath, buildDir, imagemigrateapi.ImageFormatTypeVmdk)
	assert.NoError(t, err)
	assert.Equal(t, "vmdk", format)

	// vhd is known to qemu as vpc.
	_, format, err = prepareImageFile(imagePath, buildDir, imagemigrateapi.ImageFormatTypeVhd)
	assert.NoError(t, err)
	assert.Equal(t, "vpc", format)
}
