// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package imagemigratelib

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/cavaliercoder/go-cpio"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
)

// buildCpioArchive builds an uncompressed newc cpio archive holding the named
// files.
func buildCpioArchive(t *testing.T, fileNames []string) []byte {
	buffer := &bytes.Buffer{}
	cpioWriter := cpio.NewWriter(buffer)

	for _, fileName := range fileNames {
		content := []byte("not a real kernel module")
		header := &cpio.Header{
			Name: fileName,
			Mode: cpio.ModeRegular | 0o644,
			Size: int64(len(content)),
		}

		err := cpioWriter.WriteHeader(header)
		if !assert.NoError(t, err) {
			return nil
		}
		_, err = cpioWriter.Write(content)
		if !assert.NoError(t, err) {
			return nil
		}
	}

	err := cpioWriter.Close()
	if !assert.NoError(t, err) {
		return nil
	}
	return buffer.Bytes()
}

func gzipCompress(t *testing.T, data []byte) []byte {
	buffer := &bytes.Buffer{}
	gzipWriter := pgzip.NewWriter(buffer)

	_, err := gzipWriter.Write(data)
	if !assert.NoError(t, err) {
		return nil
	}
	err = gzipWriter.Close()
	if !assert.NoError(t, err) {
		return nil
	}
	return buffer.Bytes()
}

func writeInitrdFile(t *testing.T, name string, segments ...[]byte) string {
	initrdPath := filepath.Join(testsTempDir, name)

	initrdFile, err := os.Create(initrdPath)
	if !assert.NoError(t, err) {
		return ""
	}
	defer initrdFile.Close()

	for _, segment := range segments {
		_, err = initrdFile.Write(segment)
		if !assert.NoError(t, err) {
			return ""
		}
	}
	return initrdPath
}

func TestScanInitrdForVirtioDriversGzip(t *testing.T) {
	archive := buildCpioArchive(t, []string{
		"usr/lib/modules/4.14.35/kernel/drivers/block/virtio_blk.ko.xz",
		"usr/lib/modules/4.14.35/kernel/drivers/net/virtio_net.ko",
		"usr/lib/modules/4.14.35/kernel/fs/ext4/ext4.ko",
	})
	if archive == nil {
		return
	}

	initrdPath := writeInitrdFile(t, "virtio-gzip.img", gzipCompress(t, archive))
	if initrdPath == "" {
		return
	}

	drivers, err := scanInitrdForVirtioDrivers(initrdPath)
	assert.NoError(t, err)
	assert.ElementsMatch(t, []string{"virtio_blk", "virtio_net"}, drivers)
}

func TestScanInitrdForVirtioDriversZstd(t *testing.T) {
	archive := buildCpioArchive(t, []string{
		"usr/lib/modules/5.15.0/kernel/drivers/scsi/virtio_scsi.ko",
	})
	if archive == nil {
		return
	}

	buffer := &bytes.Buffer{}
	zstdWriter, err := zstd.NewWriter(buffer)
	if !assert.NoError(t, err) {
		return
	}
	_, err = io.Copy(zstdWriter, bytes.NewReader(archive))
	if !assert.NoError(t, err) {
		return
	}
	err = zstdWriter.Close()
	if !assert.NoError(t, err) {
		return
	}

	initrdPath := writeInitrdFile(t, "virtio-zstd.img", buffer.Bytes())
	if initrdPath == "" {
		return
	}

	drivers, err := scanInitrdForVirtioDrivers(initrdPath)
	assert.NoError(t, err)
	assert.Equal(t, []string{"virtio_scsi"}, drivers)
}

// An initrd with an early microcode segment carries an uncompressed cpio
// archive and zero padding in front of the compressed main archive.
func TestScanInitrdSkipsEarlyMicrocodeSegment(t *testing.T) {
	microcodeArchive := buildCpioArchive(t, []string{
		"kernel/x86/microcode/GenuineIntel.bin",
	})
	mainArchive := buildCpioArchive(t, []string{
		"usr/lib/modules/4.14.35/kernel/drivers/block/virtio_blk.ko",
	})
	if microcodeArchive == nil || mainArchive == nil {
		return
	}

	initrdPath := writeInitrdFile(t, "virtio-microcode.img",
		microcodeArchive, make([]byte, 512), gzipCompress(t, mainArchive))
	if initrdPath == "" {
		return
	}

	drivers, err := scanInitrdForVirtioDrivers(initrdPath)
	assert.NoError(t, err)
	assert.Equal(t, []string{"virtio_blk"}, drivers)
}

func TestScanInitrdUnrecognizedSegment(t *testing.T) {
	initrdPath := writeInitrdFile(t, "unknown-format.img", []byte("not an initrd at all"))
	if initrdPath == "" {
		return
	}

	// An unscannable initrd is reported as having no drivers, not as an
	// error.
	drivers, err := scanInitrdForVirtioDrivers(initrdPath)
	assert.NoError(t, err)
	assert.Empty(t, drivers)
}

func TestFindDefaultInitrd(t *testing.T) {
	rootDir := filepath.Join(testsTempDir, "TestFindDefaultInitrd")

	initrdPath := filepath.Join(rootDir, "boot/initramfs-4.14.35-1902.3.2.el7uek.x86_64.img")
	if !writeTestFile(t, initrdPath, "fake initrd") {
		return
	}

	descriptor := NewImageDescriptor("/fake/image.raw", "raw")
	descriptor.RootMountPath = rootDir
	descriptor.DefaultKernelVersion = "4.14.35-1902.3.2.el7uek.x86_64"

	foundPath, err := findDefaultInitrd(descriptor)
	assert.NoError(t, err)
	assert.Equal(t, initrdPath, foundPath)
}

// A separate boot partition mount is searched before the root tree's boot
// directory.
func TestFindDefaultInitrdPrefersBootMount(t *testing.T) {
	rootDir := filepath.Join(testsTempDir, "TestFindDefaultInitrdPrefersBootMount/root")
	bootDir := filepath.Join(testsTempDir, "TestFindDefaultInitrdPrefersBootMount/boot")

	bootInitrdPath := filepath.Join(bootDir, "initrd.img-5.15.0-generic")
	ok := writeTestFile(t, bootInitrdPath, "boot partition initrd")
	ok = ok && writeTestFile(t, filepath.Join(rootDir, "boot/initrd.img-5.15.0-generic"), "root tree initrd")
	if !ok {
		return
	}

	descriptor := NewImageDescriptor("/fake/image.raw", "raw")
	descriptor.RootMountPath = rootDir
	descriptor.BootMountPath = bootDir
	descriptor.DefaultKernelVersion = "5.15.0-generic"

	foundPath, err := findDefaultInitrd(descriptor)
	assert.NoError(t, err)
	assert.Equal(t, bootInitrdPath, foundPath)
}

func TestFindDefaultInitrdUnknownKernel(t *testing.T) {
	descriptor := NewImageDescriptor("/fake/image.raw", "raw")
	descriptor.RootMountPath = filepath.Join(testsTempDir, "TestFindDefaultInitrdUnknownKernel")

	_, err := findDefaultInitrd(descriptor)
	assert.ErrorContains(t, err, "no default kernel version")
}

func TestCheckInitrdVirtioDriversToleratesMissingInitrd(t *testing.T) {
	descriptor := NewImageDescriptor("/fake/image.raw", "raw")
	descriptor.RootMountPath = filepath.Join(testsTempDir, "TestCheckInitrdVirtioDriversToleratesMissingInitrd")
	descriptor.DefaultKernelVersion = "4.14.35-1902.3.2.el7uek.x86_64"

	err := checkInitrdVirtioDrivers(descriptor)
	assert.NoError(t, err)
	assert.Empty(t, descriptor.VirtioDrivers)
}
