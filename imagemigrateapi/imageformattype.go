// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package imagemigrateapi

import (
	"fmt"
	"slices"
)

type ImageFormatType string

const (
	ImageFormatTypeNone  ImageFormatType = ""
	ImageFormatTypeRaw   ImageFormatType = "raw"
	ImageFormatTypeQcow2 ImageFormatType = "qcow2"
	ImageFormatTypeVhd   ImageFormatType = "vhd"
	ImageFormatTypeVhdx  ImageFormatType = "vhdx"
	ImageFormatTypeVmdk  ImageFormatType = "vmdk"
)

// supportedImageFormatTypes is a list of all non-empty image format types
// defined above.
var supportedImageFormatTypes = []string{
	string(ImageFormatTypeRaw),
	string(ImageFormatTypeQcow2),
	string(ImageFormatTypeVhd),
	string(ImageFormatTypeVhdx),
	string(ImageFormatTypeVmdk),
}

func (ft *ImageFormatType) IsValid() error {
	if *ft != ImageFormatTypeNone && !slices.Contains(SupportedImageFormatTypes(), string(*ft)) {
		return fmt.Errorf("invalid image format type (%s)", *ft)
	}

	return nil
}

// SupportedImageFormatTypes returns all valid image format types.
func SupportedImageFormatTypes() []string {
	return supportedImageFormatTypes
}

// QemuFormat returns the format name qemu tools use for the type.
// e.g. vhd is known to qemu as vpc
func (ft ImageFormatType) QemuFormat() string {
	if ft == ImageFormatTypeVhd {
		return "vpc"
	}

	return string(ft)
}
