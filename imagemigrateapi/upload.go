// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package imagemigrateapi

import (
	"fmt"

	"github.com/asaskevich/govalidator"
	"github.com/oracle/oci-utils-sub001/internal/sliceutils"
)

// Image formats the compute image import API accepts.
var supportedUploadFormatTypes = []ImageFormatType{
	ImageFormatTypeQcow2,
	ImageFormatTypeVmdk,
}

// Upload describes where the prepared image is uploaded and imported.
type Upload struct {
	// Bucket is the object storage bucket the image file is uploaded to.
	Bucket string `yaml:"bucket" json:"bucket"`
	// Namespace is the object storage namespace. Discovered from the tenancy
	// when empty.
	Namespace string `yaml:"namespace" json:"namespace,omitempty"`
	// CompartmentId is the OCID of the compartment the compute image is
	// created in.
	CompartmentId string `yaml:"compartmentId" json:"compartmentId"`
	// ImageName is the display name of the compute image. Derived from the
	// image file name when empty.
	ImageName string `yaml:"imageName" json:"imageName,omitempty"`
	// Format is the format the prepared image is converted to before upload.
	// Defaults to qcow2.
	Format ImageFormatType `yaml:"format" json:"format,omitempty"`
	// Profile is the OCI config file profile the upload authenticates with.
	// Empty selects the DEFAULT profile.
	Profile string `yaml:"profile" json:"profile,omitempty"`
}

func (u *Upload) IsValid() error {
	if u.Bucket == "" {
		return fmt.Errorf("'bucket' may not be empty")
	}

	if u.CompartmentId == "" {
		return fmt.Errorf("'compartmentId' may not be empty")
	}

	// Image display names become instance hostnames, so hold them to hostname
	// rules.
	if u.ImageName != "" && !govalidator.IsDNSName(u.ImageName) {
		return fmt.Errorf("invalid 'imageName' field: (%s) is not a valid name", u.ImageName)
	}

	if u.Format != ImageFormatTypeNone && !sliceutils.ContainsValue(supportedUploadFormatTypes, u.Format) {
		return fmt.Errorf("invalid 'format' field: (%s) cannot be imported as a compute image", u.Format)
	}

	return nil
}
