// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package imagemigratelib

import (
	"errors"
	"fmt"
)

// Global error types for categorization
var (
	ConfigValidationError  = errors.New("config-validation")
	ImageAttachError       = errors.New("image-attach")
	PartitionAnalysisError = errors.New("partition-analysis")
	GuestMountError        = errors.New("guest-mount")
	GuestConfigError       = errors.New("guest-config")
	ImageUploadError       = errors.New("image-upload")
	InternalSystemError    = errors.New("internal-system")
)

// Static error messages as global variables
var (
	ImageFileRequiredError     = errors.New("image file must be specified, either via the command line option '--image-file' or in the config file property 'image.path'")
	ToolMustRunAsRootError     = errors.New("tool should be run as root (e.g. by using sudo)")
	RootPartitionNotFoundError = errors.New("no fstab row mounts '/' from a discovered partition")
	FstabNotFoundError         = errors.New("no mounted partition contains an /etc/fstab file")
	BootConfigNotFoundError    = errors.New("no grub.cfg or grub.conf file found in the guest")
	UnsupportedOsError         = errors.New("no migration plugin supports the detected guest OS")
)

// ImageMigrateError struct for dynamic content
type ImageMigrateError struct {
	Type    error
	Message string
	Cause   error
}

func (e *ImageMigrateError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s:\n%v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ImageMigrateError) Unwrap() error {
	return e.Cause
}

func (e *ImageMigrateError) Is(target error) bool {
	return errors.Is(e.Type, target)
}

// Helper functions for creating ImageMigrateError instances
func NewImageMigrateError(errorType error, message string) *ImageMigrateError {
	return &ImageMigrateError{
		Type:    errorType,
		Message: message,
		Cause:   nil,
	}
}

func NewImageMigrateErrorWithCause(errorType error, message string, cause error) *ImageMigrateError {
	return &ImageMigrateError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}
