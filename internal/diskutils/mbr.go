// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package diskutils

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

const (
	MbrSize           = 512
	MbrPartitionCount = 4

	// Value of the MBR's signature field when the 2 signature bytes 0x55 0xAA
	// are read as a little-endian uint16.
	MbrSignature = 0xaa55

	mbrBootableFlag = 0x80
)

var (
	ErrMbrTooSmall = errors.New("buffer is too small to hold an MBR")
)

// Names of the well known MBR partition type bytes.
var mbrPartitionTypeNames = map[uint8]string{
	0x00: "Empty",
	0x01: "FAT12",
	0x04: "FAT16 <32M",
	0x05: "Extended",
	0x06: "FAT16",
	0x07: "HPFS/NTFS/exFAT",
	0x0b: "W95 FAT32",
	0x0c: "W95 FAT32 (LBA)",
	0x0e: "W95 FAT16 (LBA)",
	0x0f: "W95 Ext'd (LBA)",
	0x82: "Linux swap",
	0x83: "Linux",
	0x8e: "Linux LVM",
	0xa5: "FreeBSD",
	0xee: "GPT",
	0xef: "EFI (FAT-12/16/32)",
	0xfd: "Linux raid autodetect",
}

// MbrPartitionEntry is one of the 4 fixed partition slots of an MBR, as laid
// out on disk.
type MbrPartitionEntry struct {
	Status      uint8
	FirstChs    [3]byte
	Type        uint8
	LastChs     [3]byte
	FirstLba    uint32
	SectorCount uint32
}

// Mbr is the first sector of a disk, as laid out on disk.
type Mbr struct {
	BootstrapCode [446]byte
	Partitions    [MbrPartitionCount]MbrPartitionEntry
	Signature     uint16
}

// ReadMbr reads and parses the first sector of a disk device or disk image
// file.
func ReadMbr(devicePath string) (Mbr, error) {
	device, err := os.Open(devicePath)
	if err != nil {
		return Mbr{}, fmt.Errorf("failed to open device (%s):\n%w", devicePath, err)
	}
	defer device.Close()

	sector := [MbrSize]byte{}
	_, err = io.ReadFull(device, sector[:])
	if err != nil {
		return Mbr{}, fmt.Errorf("failed to read MBR of device (%s):\n%w", devicePath, err)
	}

	return ParseMbr(sector[:])
}

// ParseMbr parses a raw MBR sector. An MBR with a bad signature parses
// successfully but reports itself as invalid, so that callers can report the
// bad signature as a finding instead of a failure.
func ParseMbr(data []byte) (Mbr, error) {
	if len(data) < MbrSize {
		return Mbr{}, ErrMbrTooSmall
	}

	var mbr Mbr
	err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &mbr)
	if err != nil {
		return Mbr{}, err
	}

	return mbr, nil
}

// IsValid reports whether the MBR's signature bytes are 0x55 0xAA.
func (m *Mbr) IsValid() bool {
	return m.Signature == MbrSignature
}

// HasBootablePartition reports whether any partition slot has the boot flag
// set.
func (m *Mbr) HasBootablePartition() bool {
	for i := range m.Partitions {
		if m.Partitions[i].IsBootable() {
			return true
		}
	}

	return false
}

// IsBootable reports whether the partition's boot flag is set.
func (e *MbrPartitionEntry) IsBootable() bool {
	return e.Status == mbrBootableFlag
}

// IsEmpty reports whether the partition slot is unused.
func (e *MbrPartitionEntry) IsEmpty() bool {
	return e.Type == 0 && e.SectorCount == 0
}

// TypeName returns the well known name of the partition's type byte.
// e.g. 0x83 is "Linux"
func (e *MbrPartitionEntry) TypeName() string {
	name, known := mbrPartitionTypeNames[e.Type]
	if !known {
		return "unknown"
	}

	return name
}
