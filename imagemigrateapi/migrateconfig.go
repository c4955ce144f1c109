// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package imagemigrateapi defines the configuration file format of the image
// migrate tool.
package imagemigrateapi

import (
	"fmt"
)

// MigrateConfig is the top level of the migration configuration file.
type MigrateConfig struct {
	// Image is the source disk image to migrate.
	Image Image `yaml:"image" json:"image"`
	// Upload describes the upload and import of the prepared image. When
	// omitted, the image is analyzed and prepared but not uploaded.
	Upload *Upload `yaml:"upload" json:"upload,omitempty"`
	// CloudInitVersion is the cloud-init package version the OS plugin
	// installs inside the guest. Empty selects the distro's default version.
	CloudInitVersion string `yaml:"cloudInitVersion" json:"cloudInitVersion,omitempty"`
}

func (c *MigrateConfig) IsValid() error {
	err := c.Image.IsValid()
	if err != nil {
		return fmt.Errorf("invalid 'image' field:\n%w", err)
	}

	if c.Upload != nil {
		err = c.Upload.IsValid()
		if err != nil {
			return fmt.Errorf("invalid 'upload' field:\n%w", err)
		}
	}

	return nil
}
