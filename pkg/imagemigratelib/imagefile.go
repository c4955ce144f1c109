// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package imagemigratelib

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/oracle/oci-utils-sub001/imagemigrateapi"
	"github.com/oracle/oci-utils-sub001/internal/diskutils"
	"github.com/oracle/oci-utils-sub001/internal/logger"
)

var compressedFileExtensions = []string{".gz", ".gzip", ".zst", ".zstd", ".xz"}

// prepareImageFile makes the image file attachable: if the file is
// compressed, it is decompressed into the build directory first. Returns the
// path of the file to attach and its detected disk format.
func prepareImageFile(imageFilePath string, buildDir string, formatOverride imagemigrateapi.ImageFormatType,
) (string, string, error) {
	compression, err := diskutils.DetectCompression(imageFilePath)
	if err != nil {
		return "", "", fmt.Errorf("failed to probe image file (%s):\n%w", imageFilePath, err)
	}

	if compression != diskutils.CompressionNone {
		logger.Log.Infof("Decompressing image file (%s)", compression)

		imageFilePath, err = decompressImageFile(imageFilePath, buildDir, compression)
		if err != nil {
			return "", "", err
		}
	}

	imageFormat := formatOverride.QemuFormat()
	if formatOverride == imagemigrateapi.ImageFormatTypeNone {
		imageFormat, err = diskutils.DetectImageFormat(imageFilePath)
		if err != nil {
			return "", "", fmt.Errorf("failed to detect format of image file (%s):\n%w", imageFilePath, err)
		}

		logger.Log.Debugf("Detected image format (%s)", imageFormat)
	}

	return imageFilePath, imageFormat, nil
}

// decompressImageFile streams the compressed image into a new file in the
// build directory and returns the new file's path.
func decompressImageFile(imageFilePath string, buildDir string, compression string) (string, error) {
	sourceFile, err := os.Open(imageFilePath)
	if err != nil {
		return "", fmt.Errorf("failed to open image file (%s):\n%w", imageFilePath, err)
	}
	defer sourceFile.Close()

	var reader io.Reader
	switch compression {
	case diskutils.CompressionGzip:
		pgzipReader, err := pgzip.NewReader(sourceFile)
		if err != nil {
			return "", fmt.Errorf("failed to create a pgzip reader for (%s):\n%w", imageFilePath, err)
		}
		defer pgzipReader.Close()

		reader = pgzipReader

	case diskutils.CompressionZstd:
		zstdReader, err := zstd.NewReader(sourceFile)
		if err != nil {
			return "", fmt.Errorf("failed to create a zstd reader for (%s):\n%w", imageFilePath, err)
		}
		defer zstdReader.Close()

		reader = zstdReader

	default:
		return "", fmt.Errorf("cannot decompress image file (%s): unsupported compression (%s)", imageFilePath,
			compression)
	}

	decompressedPath := filepath.Join(buildDir, decompressedFileName(imageFilePath))

	decompressedFile, err := os.Create(decompressedPath)
	if err != nil {
		return "", fmt.Errorf("failed to create decompressed image file (%s):\n%w", decompressedPath, err)
	}
	defer decompressedFile.Close()

	_, err = io.Copy(decompressedFile, reader)
	if err != nil {
		return "", fmt.Errorf("failed to decompress image file (%s):\n%w", imageFilePath, err)
	}

	err = decompressedFile.Close()
	if err != nil {
		return "", fmt.Errorf("failed to close decompressed image file (%s):\n%w", decompressedPath, err)
	}

	return decompressedPath, nil
}

// decompressedFileName strips a recognized compression extension from the
// image file's name.
func decompressedFileName(imageFilePath string) string {
	name := filepath.Base(imageFilePath)
	for _, extension := range compressedFileExtensions {
		if strings.HasSuffix(name, extension) {
			return strings.TrimSuffix(name, extension)
		}
	}
	return name + ".raw"
}
