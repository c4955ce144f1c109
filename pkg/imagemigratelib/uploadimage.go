// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package imagemigratelib

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/oracle/oci-utils-sub001/imagemigrateapi"
	"github.com/oracle/oci-utils-sub001/internal/logger"
	"github.com/oracle/oci-utils-sub001/internal/ociupload"
	"github.com/oracle/oci-utils-sub001/internal/randomization"
	"github.com/oracle/oci-utils-sub001/internal/shell"
)

// prepareUploadArtifact converts the migrated image file into the configured
// upload format. The conversion runs after the image has been detached, so
// the source file is quiescent.
func prepareUploadArtifact(descriptor *ImageDescriptor, buildDir string, upload *imagemigrateapi.Upload,
) (string, string, error) {
	uploadFormat := upload.Format
	if uploadFormat == imagemigrateapi.ImageFormatTypeNone {
		uploadFormat = imagemigrateapi.ImageFormatTypeQcow2
	}

	baseName := strings.TrimSuffix(filepath.Base(descriptor.ImageFilePath),
		filepath.Ext(descriptor.ImageFilePath))
	artifactPath := filepath.Join(buildDir, fmt.Sprintf("%s.%s", baseName, uploadFormat))

	logger.Log.Infof("Converting image to (%s) for upload", uploadFormat)

	err := shell.ExecuteLiveWithErr(1, "qemu-img", "convert",
		"-f", descriptor.ImageFormat,
		"-O", uploadFormat.QemuFormat(),
		descriptor.ImageFilePath, artifactPath)
	if err != nil {
		return "", "", NewImageMigrateErrorWithCause(ImageUploadError,
			fmt.Sprintf("failed to convert image to (%s)", uploadFormat), err)
	}

	return artifactPath, string(uploadFormat), nil
}

// uploadAndImportImage pushes the artifact into the configured object
// storage bucket and registers it as a custom compute image. Returns the
// imported image's id.
func uploadAndImportImage(ctx context.Context, upload *imagemigrateapi.Upload, artifactPath string,
	uploadFormat string,
) (string, error) {
	client, err := ociupload.NewClient(upload.Profile, nil)
	if err != nil {
		return "", NewImageMigrateErrorWithCause(ImageUploadError, "failed to create upload client", err)
	}

	namespace := upload.Namespace
	if namespace == "" {
		namespace, err = client.GetNamespace(ctx)
		if err != nil {
			return "", NewImageMigrateErrorWithCause(ImageUploadError,
				"failed to discover the object storage namespace", err)
		}
	}

	// A random suffix keeps concurrent migrations from clobbering each
	// other's staged objects.
	uploadId, err := randomization.CreateUuid()
	if err != nil {
		return "", err
	}
	objectName := fmt.Sprintf("%s-%s", filepath.Base(artifactPath), uploadId)

	logger.Log.Infof("Uploading (%s) to bucket (%s) as (%s)", artifactPath, upload.Bucket, objectName)

	err = client.UploadImage(ctx, objectName, upload.Bucket, namespace, artifactPath)
	if err != nil {
		return "", NewImageMigrateErrorWithCause(ImageUploadError,
			fmt.Sprintf("failed to upload image object (%s)", objectName), err)
	}

	imageName := upload.ImageName
	if imageName == "" {
		imageName = strings.TrimSuffix(filepath.Base(artifactPath), filepath.Ext(artifactPath))
	}

	logger.Log.Infof("Importing image (%s)", imageName)

	imageId, err := client.ImportImage(ctx, objectName, upload.Bucket, namespace, upload.CompartmentId,
		imageName, uploadFormat)
	if err != nil {
		return "", NewImageMigrateErrorWithCause(ImageUploadError,
			fmt.Sprintf("failed to import image (%s)", imageName), err)
	}

	logger.Log.Infof("Imported image id (%s)", imageId)
	return imageId, nil
}
