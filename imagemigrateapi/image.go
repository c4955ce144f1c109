// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package imagemigrateapi

import (
	"fmt"
)

// Image identifies the source disk image to migrate.
type Image struct {
	// Path is the path of the disk image file. The file may be gzip or zstd
	// compressed. May be empty when the image file is passed on the command
	// line instead.
	Path string `yaml:"path" json:"path"`
	// Format overrides the image format detection. Usually left empty.
	Format ImageFormatType `yaml:"format" json:"format,omitempty"`
}

func (i *Image) IsValid() error {
	err := i.Format.IsValid()
	if err != nil {
		return fmt.Errorf("invalid 'format' field:\n%w", err)
	}

	return nil
}
