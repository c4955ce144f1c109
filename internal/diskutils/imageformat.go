// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package diskutils

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/oracle/oci-utils-sub001/internal/vhdutils"
)

// Qemu names of the disk image formats the tool recognizes.
const (
	ImageFormatRaw   = "raw"
	ImageFormatQcow2 = "qcow2"
	ImageFormatVhd   = "vpc"
	ImageFormatVhdx  = "vhdx"
	ImageFormatVmdk  = "vmdk"
)

// Compression formats recognized on image files.
const (
	CompressionNone = ""
	CompressionGzip = "gzip"
	CompressionZstd = "zstd"
	CompressionXz   = "xz"
)

const imageHeaderSize = 8

var imageFormatMagics = []struct {
	format string
	magic  []byte
}{
	{ImageFormatQcow2, []byte{'Q', 'F', 'I', 0xfb}},
	{ImageFormatVhdx, []byte("vhdxfile")},
	{ImageFormatVmdk, []byte("KDMV")},
}

var compressionMagics = []struct {
	compression string
	magic       []byte
}{
	{CompressionGzip, []byte{0x1f, 0x8b}},
	{CompressionZstd, []byte{0x28, 0xb5, 0x2f, 0xfd}},
	{CompressionXz, []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}},
}

// DetectImageFormat identifies a disk image file's format from its magic
// bytes and returns the format's qemu name. Files without a recognized magic
// are treated as raw images.
func DetectImageFormat(imageFilePath string) (string, error) {
	header, err := readFileHeader(imageFilePath)
	if err != nil {
		return "", err
	}

	for _, candidate := range imageFormatMagics {
		if bytes.HasPrefix(header, candidate.magic) {
			return candidate.format, nil
		}
	}

	// VHD files are identified by their footer, not a header magic.
	vhdType, err := vhdutils.GetVhdFileType(imageFilePath)
	if err != nil {
		return "", fmt.Errorf("failed to check for VHD footer (%s):\n%w", imageFilePath, err)
	}
	if vhdType != vhdutils.VhdFileTypeNone {
		return ImageFormatVhd, nil
	}

	return ImageFormatRaw, nil
}

// DetectCompression identifies the compression applied to an image file from
// its magic bytes. Returns CompressionNone for uncompressed files.
func DetectCompression(imageFilePath string) (string, error) {
	header, err := readFileHeader(imageFilePath)
	if err != nil {
		return "", err
	}

	for _, candidate := range compressionMagics {
		if bytes.HasPrefix(header, candidate.magic) {
			return candidate.compression, nil
		}
	}

	return CompressionNone, nil
}

func readFileHeader(filePath string) ([]byte, error) {
	imageFile, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open image file (%s):\n%w", filePath, err)
	}
	defer imageFile.Close()

	header := make([]byte, imageHeaderSize)
	headerSize, err := io.ReadFull(imageFile, header)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("failed to read image file header (%s):\n%w", filePath, err)
	}

	return header[:headerSize], nil
}
