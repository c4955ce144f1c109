// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package ociupload uploads prepared disk images to OCI object storage and
// registers them as custom compute images.
package ociupload

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/oracle/oci-go-sdk/v54/common"
	"github.com/oracle/oci-go-sdk/v54/core"
	"github.com/oracle/oci-go-sdk/v54/objectstorage"
	"github.com/oracle/oci-go-sdk/v54/objectstorage/transfer"
	"github.com/oracle/oci-go-sdk/v54/workrequests"
	"github.com/oracle/oci-utils-sub001/internal/logger"
)

const workRequestPollInterval = 10 * time.Second

// Image source types accepted by the OCI image import API.
var importSourceTypes = map[string]core.ImageSourceDetailsSourceImageTypeEnum{
	"qcow2": core.ImageSourceDetailsSourceImageTypeQcow2,
	"vmdk":  core.ImageSourceDetailsSourceImageTypeVmdk,
}

// ClientParams is an explicit API signing configuration. Leave it nil to use
// the standard config file locations instead. e.g. ~/.oci/config
type ClientParams struct {
	User        string
	Region      string
	Tenancy     string
	PrivateKey  string
	Fingerprint string
}

type Client struct {
	storageClient      objectstorage.ObjectStorageClient
	computeClient      core.ComputeClient
	workRequestsClient workrequests.WorkRequestClient
}

// NewClient creates an OCI API client. Credentials come from clientParams
// when given, otherwise from the named profile of the standard config file
// locations (e.g. ~/.oci/config). An empty profile means DEFAULT.
func NewClient(profile string, clientParams *ClientParams) (*Client, error) {
	var configProvider common.ConfigurationProvider
	switch {
	case clientParams != nil:
		configProvider = common.NewRawConfigurationProvider(clientParams.Tenancy, clientParams.User,
			clientParams.Region, clientParams.Fingerprint, clientParams.PrivateKey, nil)

	case profile != "":
		configProvider = common.CustomProfileConfigProvider("", profile)

	default:
		configProvider = common.DefaultConfigProvider()
	}

	storageClient, err := objectstorage.NewObjectStorageClientWithConfigurationProvider(configProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client:\n%w", err)
	}

	// Disable the default 60 second timeout. Image uploads are large.
	storageClient.HTTPClient = &http.Client{}

	computeClient, err := core.NewComputeClientWithConfigurationProvider(configProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create compute client:\n%w", err)
	}

	workRequestsClient, err := workrequests.NewWorkRequestClientWithConfigurationProvider(configProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create work requests client:\n%w", err)
	}

	client := &Client{
		storageClient:      storageClient,
		computeClient:      computeClient,
		workRequestsClient: workRequestsClient,
	}
	return client, nil
}

// GetNamespace returns the tenancy's object storage namespace.
func (c *Client) GetNamespace(ctx context.Context) (string, error) {
	response, err := c.storageClient.GetNamespace(ctx, objectstorage.GetNamespaceRequest{})
	if err != nil {
		return "", fmt.Errorf("failed to look up object storage namespace:\n%w", err)
	}

	return *response.Value, nil
}

// UploadImage uploads an image file to a bucket using the multipart upload
// manager, resuming once if the upload is interrupted partway.
func (c *Client) UploadImage(ctx context.Context, objectName string, bucketName string, namespace string,
	imageFilePath string,
) error {
	logger.Log.Infof("Uploading image file (%s) to bucket (%s) as object (%s)", imageFilePath, bucketName,
		objectName)

	request := transfer.UploadFileRequest{
		UploadRequest: transfer.UploadRequest{
			NamespaceName: common.String(namespace),
			BucketName:    common.String(bucketName),
			ObjectName:    common.String(objectName),
			CallBack: func(part transfer.MultiPartUploadPart) {
				if part.Err != nil {
					logger.Log.Warnf("Upload part %d of %d failed: %v", part.PartNum, part.TotalParts, part.Err)
					return
				}
				logger.Log.Debugf("Uploaded part %d of %d", part.PartNum, part.TotalParts)
			},
			ObjectStorageClient: &c.storageClient,
		},
		FilePath: imageFilePath,
	}

	uploadManager := transfer.NewUploadManager()
	response, err := uploadManager.UploadFile(ctx, request)
	if err != nil {
		// IsResumable dereferences MultipartUploadResponse, so check it first.
		if response.MultipartUploadResponse == nil || !response.IsResumable() {
			return fmt.Errorf("failed to upload object (%s):\n%w", objectName, err)
		}

		logger.Log.Warnf("Upload of object (%s) was interrupted. Resuming.", objectName)
		_, err = uploadManager.ResumeUploadFile(ctx, *response.MultipartUploadResponse.UploadID)
		if err != nil {
			return fmt.Errorf("failed to resume upload of object (%s):\n%w", objectName, err)
		}
	}

	return nil
}

// ImportImage registers an uploaded storage object as a custom compute image
// and waits for the import to finish. The storage object is deleted
// afterwards, whether or not the import succeeded. Returns the new image's
// OCID.
func (c *Client) ImportImage(ctx context.Context, objectName string, bucketName string, namespace string,
	compartmentId string, imageName string, imageFormat string,
) (imageId string, err error) {
	sourceType, supported := importSourceTypes[imageFormat]
	if !supported {
		return "", fmt.Errorf("image format (%s) cannot be imported as a compute image", imageFormat)
	}

	defer func() {
		deleteErr := c.DeleteObject(ctx, objectName, bucketName, namespace)
		if deleteErr != nil {
			logger.Log.Warnf("Failed to delete uploaded object (%s) from bucket (%s): %v", objectName,
				bucketName, deleteErr)
		}
	}()

	logger.Log.Infof("Importing object (%s) as compute image (%s)", objectName, imageName)

	request := core.CreateImageRequest{
		CreateImageDetails: core.CreateImageDetails{
			DisplayName:   common.String(imageName),
			CompartmentId: common.String(compartmentId),
			LaunchMode:    core.CreateImageDetailsLaunchModeParavirtualized,
			FreeformTags: map[string]string{
				"UploadedBy": "imagemigrate",
			},
			ImageSourceDetails: core.ImageSourceViaObjectStorageTupleDetails{
				BucketName:      common.String(bucketName),
				NamespaceName:   common.String(namespace),
				ObjectName:      common.String(objectName),
				SourceImageType: sourceType,
			},
		},
	}

	response, err := c.computeClient.CreateImage(ctx, request)
	if err != nil {
		return "", fmt.Errorf("failed to create compute image from object (%s):\n%w", objectName, err)
	}

	err = c.waitForWorkRequest(ctx, response.OpcWorkRequestId, response.OpcRequestId)
	if err != nil {
		return "", fmt.Errorf("failed to import compute image (%s):\n%w", imageName, err)
	}

	return *response.Id, nil
}

// DeleteObject deletes an object from a bucket.
func (c *Client) DeleteObject(ctx context.Context, objectName string, bucketName string, namespace string,
) error {
	_, err := c.storageClient.DeleteObject(ctx, objectstorage.DeleteObjectRequest{
		NamespaceName: common.String(namespace),
		BucketName:    common.String(bucketName),
		ObjectName:    common.String(objectName),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object (%s) from bucket (%s):\n%w", objectName, bucketName, err)
	}

	return nil
}

// waitForWorkRequest polls a work request until it succeeds, failing on
// cancellation or a terminal failure status. Image imports routinely take
// several minutes.
func (c *Client) waitForWorkRequest(ctx context.Context, workRequestId *string, requestId *string) error {
	logger.Log.Infof("Waiting for work request to complete. This may take a while.")

	for {
		response, err := c.workRequestsClient.GetWorkRequest(ctx, workrequests.GetWorkRequestRequest{
			WorkRequestId: workRequestId,
			OpcRequestId:  requestId,
		})
		if err != nil {
			return fmt.Errorf("failed to fetch work request:\n%w", err)
		}

		switch response.Status {
		case workrequests.WorkRequestStatusSucceeded:
			return nil

		case workrequests.WorkRequestStatusFailed, workrequests.WorkRequestStatusCanceled:
			return fmt.Errorf("work request finished with status (%s)", response.Status)
		}

		if response.PercentComplete != nil {
			logger.Log.Debugf("Work request %.0f%% complete", *response.PercentComplete)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(workRequestPollInterval):
		}
	}
}
