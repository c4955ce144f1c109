// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package diskutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSfdiskDump(t *testing.T) {
	dump := `# partition table of /dev/loop0
unit: sectors

/dev/loop0p1 : start=        2048, size=      409600, Id=83, bootable
/dev/loop0p2 : start=      411648, size=    20560896, Id=8e
`

	entries, err := ParseSfdiskDump("/dev/loop0", dump)
	if !assert.NoError(t, err) {
		return
	}

	if !assert.Len(t, entries, 2) {
		return
	}

	assert.Equal(t, SfdiskEntry{
		Path:     "/dev/loop0p1",
		Start:    2048,
		Size:     409600,
		Id:       "83",
		Bootable: true,
	}, entries[0])

	assert.Equal(t, SfdiskEntry{
		Path:     "/dev/loop0p2",
		Start:    411648,
		Size:     20560896,
		Id:       "8e",
		Bootable: false,
	}, entries[1])
}

func TestParseSfdiskDumpTypeKeyword(t *testing.T) {
	// Newer sfdisk emits 'type=' instead of 'Id='.
	dump := `label: dos
device: /dev/loop1

/dev/loop1p1 : start=2048, size=409600, type=83, bootable
`

	entries, err := ParseSfdiskDump("/dev/loop1", dump)
	if !assert.NoError(t, err) {
		return
	}

	if !assert.Len(t, entries, 1) {
		return
	}

	assert.Equal(t, "83", entries[0].Id)
	assert.True(t, entries[0].Bootable)
}

func TestSfdiskEntryRoundTrip(t *testing.T) {
	originals := []SfdiskEntry{
		{Path: "/dev/sda1", Start: 2048, Size: 409600, Id: "83", Bootable: true},
		{Path: "/dev/sda2", Start: 411648, Size: 8388608, Id: "8e", Bootable: false},
	}

	for _, original := range originals {
		entries, err := ParseSfdiskDump("/dev/sda", original.String())
		if !assert.NoError(t, err) {
			return
		}

		if !assert.Len(t, entries, 1) {
			return
		}

		assert.Equal(t, original, entries[0])
	}
}

func TestParseSfdiskDumpBadStart(t *testing.T) {
	dump := "/dev/loop0p1 : start=abc, size=409600, Id=83\n"

	_, err := ParseSfdiskDump("/dev/loop0", dump)
	assert.Error(t, err)
}
