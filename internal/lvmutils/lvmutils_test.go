// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package lvmutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLvscanOutputExcludesActiveVolumes(t *testing.T) {
	output := `    Finding all logical volumes
  ACTIVE            '/dev/vg01/lv_root' [10.00 GiB] inherit
  inactive          '/dev/vg02/lv_data' [5.00 GiB] inherit
`

	volumeGroups := ParseLvscanOutput(output)

	if !assert.Len(t, volumeGroups, 1) {
		return
	}

	assert.Equal(t, "vg02", volumeGroups[0].Name)
	assert.Equal(t, []LogicalVolume{
		{Name: "lv_data", MapperName: "vg02-lv_data"},
	}, volumeGroups[0].LogicalVolumes)
}

func TestParseLvscanOutputGroupsAndOrders(t *testing.T) {
	output := `  inactive          '/dev/vg02/lv_root' [8.00 GiB] inherit
  inactive          '/dev/vg03/lv_swap' [1.00 GiB] inherit
  inactive          '/dev/vg02/lv_home' [4.00 GiB] inherit
`

	volumeGroups := ParseLvscanOutput(output)

	if !assert.Len(t, volumeGroups, 2) {
		return
	}

	assert.Equal(t, "vg02", volumeGroups[0].Name)
	assert.Equal(t, []LogicalVolume{
		{Name: "lv_root", MapperName: "vg02-lv_root"},
		{Name: "lv_home", MapperName: "vg02-lv_home"},
	}, volumeGroups[0].LogicalVolumes)

	assert.Equal(t, "vg03", volumeGroups[1].Name)
}

func TestParseLvscanOutputEmpty(t *testing.T) {
	volumeGroups := ParseLvscanOutput("    Finding all logical volumes\n")
	assert.Empty(t, volumeGroups)
}

func TestMapperNameEscapesDashes(t *testing.T) {
	assert.Equal(t, "vg02-lv_data", MapperName("vg02", "lv_data"))
	assert.Equal(t, "vg--data-lv--a", MapperName("vg-data", "lv-a"))
	assert.Equal(t, "/dev/mapper/ol-root", MapperPath("ol", "root"))
	assert.Equal(t, "/dev/mapper/ol--vg-lv--root", MapperPath("ol-vg", "lv-root"))
}

func TestParseVgscanOutput(t *testing.T) {
	output := `    Reading volume groups from cache.
  Found volume group "ol" using metadata type lvm2
  Found volume group "vg02" using metadata type lvm2
`

	names := parseVgscanOutput(output)
	assert.Equal(t, []string{"ol", "vg02"}, names)
}

func TestClassifyVolumeGroups(t *testing.T) {
	imageNames, err := classifyVolumeGroups([]string{"ol"}, []string{"ol", "vg02"})
	if !assert.NoError(t, err) {
		return
	}

	assert.Equal(t, []string{"vg02"}, imageNames)
}

func TestClassifyVolumeGroupsNoImageGroups(t *testing.T) {
	imageNames, err := classifyVolumeGroups([]string{"ol"}, []string{"ol"})
	if !assert.NoError(t, err) {
		return
	}

	assert.Empty(t, imageNames)
}

func TestClassifyVolumeGroupsCollision(t *testing.T) {
	// The image carries a volume group with the same name as a host group, so
	// vgscan lists the name twice.
	_, err := classifyVolumeGroups([]string{"ol"}, []string{"ol", "ol"})
	assert.ErrorIs(t, err, ErrVolumeGroupNameCollision)
}
