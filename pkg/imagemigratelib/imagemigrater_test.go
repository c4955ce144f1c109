// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package imagemigratelib

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/oracle/oci-utils-sub001/imagemigrateapi"
	"github.com/stretchr/testify/assert"
)

func TestMigrateImageWithConfigFileMissingConfig(t *testing.T) {
	configFile := filepath.Join(testsTempDir, "TestMigrateImageWithConfigFileMissingConfig.yaml")

	_, err := MigrateImageWithConfigFile(context.Background(), configFile, MigrateOptions{})
	assert.ErrorIs(t, err, ConfigValidationError)
}

func TestMigrateImageWithConfigFileInvalidConfig(t *testing.T) {
	configFile := filepath.Join(testsTempDir, "TestMigrateImageWithConfigFileInvalidConfig.yaml")

	err := os.WriteFile(configFile, []byte("image:\n  format: not-a-format\n"), 0o644)
	if !assert.NoError(t, err) {
		return
	}

	_, err = MigrateImageWithConfigFile(context.Background(), configFile, MigrateOptions{})
	assert.ErrorIs(t, err, ConfigValidationError)
}

func TestMigrateImageRequiresRoot(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("Test must be run as non-root")
	}

	_, err := MigrateImage(context.Background(), testsTempDir, &imagemigrateapi.MigrateConfig{},
		MigrateOptions{BuildDir: filepath.Join(testsTempDir, "TestMigrateImageRequiresRoot")})
	assert.ErrorIs(t, err, ToolMustRunAsRootError)
}

func TestMigrateImageRequiresImageFile(t *testing.T) {
	if os.Geteuid() != 0 {
		t.Skip("Test must be run as root")
	}

	_, err := MigrateImage(context.Background(), testsTempDir, &imagemigrateapi.MigrateConfig{},
		MigrateOptions{BuildDir: filepath.Join(testsTempDir, "TestMigrateImageRequiresImageFile")})
	assert.ErrorIs(t, err, ImageFileRequiredError)
}
