// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package vhdutils reads the fixed-size footer that identifies VHD disk
// images. VHD files carry no header magic, so format detection has to look at
// the last 512 bytes of the file.
package vhdutils

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
)

const (
	VhdFooterSize    = 512
	VhdFileSignature = "conectix"
	VhdFileVersion   = 0x00010000
)

var (
	ErrVhdFileTooSmall       = errors.New("file is too small to hold a VHD footer")
	ErrVhdWrongFileSignature = errors.New("footer does not carry the VHD cookie")
	ErrVhdWrongFileVersion   = errors.New("VHD footer has an unsupported file format version")
)

// VhdFooter is the on-disk layout of the footer, in big-endian byte order.
type VhdFooter struct {
	Cookie             [8]byte
	Features           uint32
	FileFormatVersion  uint32
	DataOffset         uint64
	TimeStamp          uint32
	CreatorApplication [4]byte
	CreatorVersion     [4]byte
	CreatorHostOS      [4]byte
	OriginalSize       uint64
	CurrentSize        uint64
	Cylinder           uint16
	Heads              uint8
	SectorsPerCylinder uint8
	DiskType           uint32
	Checksum           [4]byte
	UniqueId           [16]byte
	SavedState         uint8
	Reserved           [427]byte
}

type VhdFileType int

const (
	// VhdFileTypeNone means the file is not a VHD.
	VhdFileTypeNone VhdFileType = iota

	// VhdFileTypeCurrentSize means the disk size comes from the footer's
	// 'Current Size' field.
	VhdFileTypeCurrentSize

	// VhdFileTypeDiskGeometry means the disk size comes from the footer's
	// cylinder, heads, and sectors per cylinder fields.
	VhdFileTypeDiskGeometry
)

// GetVhdFileType reports whether a file is a VHD and, if so, which of the two
// disk size encodings it uses.
//
// Virtual PC era VHDs encode the disk size as CHS geometry, which rounds the
// size down and caps it at about 127 GiB. Hyper-V era VHDs ignore the geometry
// and use the 'Current Size' field instead. The footer does not flag which
// convention applies, but the creators that still emit geometry-sized disks
// are known: Virtual PC ("vpc "), Virtual Server ("vs  "), and qemu-img
// without 'force_size=on' ("qemu"; with it, qemu-img writes "qem2"). Any
// other creator is assumed to mean 'Current Size'.
func GetVhdFileType(filename string) (VhdFileType, error) {
	footer, err := ReadVhdFooter(filename)
	if errors.Is(err, ErrVhdFileTooSmall) || errors.Is(err, ErrVhdWrongFileSignature) {
		return VhdFileTypeNone, nil
	}
	if err != nil {
		return VhdFileTypeNone, err
	}

	switch string(footer.CreatorApplication[:]) {
	case "vpc ", "vs  ", "qemu":
		return VhdFileTypeDiskGeometry, nil

	default:
		return VhdFileTypeCurrentSize, nil
	}
}

// ReadVhdFooter reads and validates the footer at the end of a file.
func ReadVhdFooter(filename string) (VhdFooter, error) {
	fd, err := os.Open(filename)
	if err != nil {
		return VhdFooter{}, err
	}
	defer fd.Close()

	stat, err := fd.Stat()
	if err != nil {
		return VhdFooter{}, err
	}

	if stat.Size() < VhdFooterSize {
		return VhdFooter{}, ErrVhdFileTooSmall
	}

	footerBytes := [VhdFooterSize]byte{}
	_, err = fd.ReadAt(footerBytes[:], stat.Size()-VhdFooterSize)
	if err != nil {
		return VhdFooter{}, fmt.Errorf("failed to read footer bytes:\n%w", err)
	}

	var footer VhdFooter
	err = binary.Read(bytes.NewReader(footerBytes[:]), binary.BigEndian, &footer)
	if err != nil {
		return VhdFooter{}, err
	}

	if string(footer.Cookie[:]) != VhdFileSignature {
		return VhdFooter{}, ErrVhdWrongFileSignature
	}

	if footer.FileFormatVersion != VhdFileVersion {
		return VhdFooter{}, ErrVhdWrongFileVersion
	}

	return footer, nil
}
