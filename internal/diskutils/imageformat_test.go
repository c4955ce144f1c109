// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package diskutils

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func writeTestImage(t *testing.T, name string, data []byte) string {
	imageFilePath := filepath.Join(testsTempDir, name)

	err := os.WriteFile(imageFilePath, data, 0o644)
	assert.NoError(t, err)

	return imageFilePath
}

func TestDetectImageFormatQcow2(t *testing.T) {
	data := make([]byte, 512)
	copy(data, []byte{'Q', 'F', 'I', 0xfb})

	imageFilePath := writeTestImage(t, "image.qcow2", data)

	format, err := DetectImageFormat(imageFilePath)
	assert.NoError(t, err)
	assert.Equal(t, ImageFormatQcow2, format)
}

func TestDetectImageFormatVhdx(t *testing.T) {
	data := make([]byte, 512)
	copy(data, []byte("vhdxfile"))

	imageFilePath := writeTestImage(t, "image.vhdx", data)

	format, err := DetectImageFormat(imageFilePath)
	assert.NoError(t, err)
	assert.Equal(t, ImageFormatVhdx, format)
}

func TestDetectImageFormatVhd(t *testing.T) {
	// A VHD file ends with a 512 byte footer starting with the 'conectix'
	// cookie and the file format version.
	footer := make([]byte, 512)
	copy(footer, []byte("conectix"))
	binary.BigEndian.PutUint32(footer[12:], 0x00010000)
	copy(footer[28:], []byte("qem2"))

	imageFilePath := writeTestImage(t, "image.vhd", footer)

	format, err := DetectImageFormat(imageFilePath)
	assert.NoError(t, err)
	assert.Equal(t, ImageFormatVhd, format)
}

func TestDetectImageFormatRaw(t *testing.T) {
	imageFilePath := writeTestImage(t, "image.raw", make([]byte, 1024))

	format, err := DetectImageFormat(imageFilePath)
	assert.NoError(t, err)
	assert.Equal(t, ImageFormatRaw, format)
}

func TestDetectCompression(t *testing.T) {
	gzipPath := writeTestImage(t, "image.raw.gz", []byte{0x1f, 0x8b, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00})
	zstdPath := writeTestImage(t, "image.raw.zst", []byte{0x28, 0xb5, 0x2f, 0xfd, 0x00, 0x00, 0x00, 0x00})
	xzPath := writeTestImage(t, "image.raw.xz", []byte{0xfd, '7', 'z', 'X', 'Z', 0x00, 0x00, 0x00})
	rawPath := writeTestImage(t, "image-plain.raw", make([]byte, 512))

	compression, err := DetectCompression(gzipPath)
	assert.NoError(t, err)
	assert.Equal(t, CompressionGzip, compression)

	compression, err = DetectCompression(zstdPath)
	assert.NoError(t, err)
	assert.Equal(t, CompressionZstd, compression)

	compression, err = DetectCompression(xzPath)
	assert.NoError(t, err)
	assert.Equal(t, CompressionXz, compression)

	compression, err = DetectCompression(rawPath)
	assert.NoError(t, err)
	assert.Equal(t, CompressionNone, compression)
}
