// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package imagemigratelib inspects on-prem virtual machine disk images,
// prepares their guest OS for the target cloud, and validates that the
// image meets the import prerequisites.
package imagemigratelib

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/oracle/oci-utils-sub001/imagemigrateapi"
	"github.com/oracle/oci-utils-sub001/internal/diskutils"
	"github.com/oracle/oci-utils-sub001/internal/file"
	"github.com/oracle/oci-utils-sub001/internal/imageconnection"
	"github.com/oracle/oci-utils-sub001/internal/logger"
	"github.com/oracle/oci-utils-sub001/internal/lvmutils"
	"github.com/oracle/oci-utils-sub001/internal/network"
)

// MigrateOptions adjusts a migration run.
type MigrateOptions struct {
	// BuildDir holds the run's scratch files: the decompressed image,
	// partition mount points, and upload artifacts.
	BuildDir string

	// ImageFile overrides the config's image.path.
	ImageFile string

	// ValidateOnly inspects and validates the image without modifying the
	// guest or uploading.
	ValidateOnly bool

	// ReportFile, when set, receives the migration report as YAML.
	ReportFile string

	// ArtifactsFile, when set, receives a tar.gz archive of the guest config
	// files the inspection read (fstab, bootloader config, os-release).
	ArtifactsFile string
}

// MigrateResult summarizes a migration run.
type MigrateResult struct {
	ImageFile            string           `yaml:"imageFile" json:"imageFile"`
	ImageFormat          string           `yaml:"imageFormat" json:"imageFormat"`
	OsName               string           `yaml:"osName" json:"osName"`
	OsVersion            string           `yaml:"osVersion" json:"osVersion"`
	BootType             BootType         `yaml:"bootType" json:"bootType"`
	DefaultKernelVersion string           `yaml:"defaultKernelVersion" json:"defaultKernelVersion"`
	Validation           ValidationResult `yaml:"validation" json:"validation"`
	NetworkConfigUpdated *bool            `yaml:"networkConfigUpdated,omitempty" json:"networkConfigUpdated,omitempty"`
	CloudInitInstalled   *bool            `yaml:"cloudInitInstalled,omitempty" json:"cloudInitInstalled,omitempty"`
	UploadedImageId      string           `yaml:"uploadedImageId,omitempty" json:"uploadedImageId,omitempty"`
}

// imageMigrater carries the state of one migration run.
type imageMigrater struct {
	config     *imagemigrateapi.MigrateConfig
	options    MigrateOptions
	buildDir   string
	descriptor *ImageDescriptor

	connection   *imageconnection.ImageConnection
	mountSet     *MountSet
	volumeGroups []lvmutils.VolumeGroup

	networkConfigUpdated *bool
	cloudInitInstalled   *bool
}

// MigrateImageWithConfigFile runs a migration described by a YAML config
// file. Paths in the config are resolved relative to the config file's
// directory.
func MigrateImageWithConfigFile(ctx context.Context, configFile string, options MigrateOptions,
) (*MigrateResult, error) {
	var config imagemigrateapi.MigrateConfig
	err := imagemigrateapi.UnmarshalAndValidateYamlFile(configFile, &config)
	if err != nil {
		return nil, NewImageMigrateErrorWithCause(ConfigValidationError,
			fmt.Sprintf("invalid migration config file (%s)", configFile), err)
	}

	baseConfigPath, _ := filepath.Split(configFile)

	absBaseConfigPath, err := filepath.Abs(baseConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config directory (%s):\n%w", baseConfigPath, err)
	}

	return MigrateImage(ctx, absBaseConfigPath, &config, options)
}

// MigrateImage runs a migration: it attaches the image, inspects and
// classifies its partitions, adapts the guest OS, validates the import
// prerequisites, and, when the image passes, uploads and imports it.
//
// A failed prerequisite validation is not an error: the result carries the
// failure reasons and the upload is skipped.
func MigrateImage(ctx context.Context, baseConfigPath string, config *imagemigrateapi.MigrateConfig,
	options MigrateOptions,
) (*MigrateResult, error) {
	err := checkHostRequirements()
	if err != nil {
		return nil, err
	}

	imageFilePath := options.ImageFile
	if imageFilePath == "" && config.Image.Path != "" {
		imageFilePath = file.GetAbsPathWithBase(baseConfigPath, config.Image.Path)
	}
	if imageFilePath == "" {
		return nil, ImageFileRequiredError
	}

	buildDir := options.BuildDir
	if buildDir == "" {
		buildDir = "build"
	}
	buildDir, err = filepath.Abs(buildDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve build directory (%s):\n%w", options.BuildDir, err)
	}
	err = os.MkdirAll(buildDir, os.ModePerm)
	if err != nil {
		return nil, fmt.Errorf("failed to create build directory (%s):\n%w", buildDir, err)
	}

	m := &imageMigrater{
		config:     config,
		options:    options,
		buildDir:   buildDir,
		connection: imageconnection.NewImageConnection(),
		mountSet:   NewMountSet(),
	}

	err = m.prepareImage(imageFilePath)
	if err != nil {
		return nil, err
	}

	err = m.inspectAndAdaptGuest()
	result := m.newResult()
	if err != nil {
		return result, err
	}

	// A failed upload must not stop the report: the local migration outcome
	// is complete at this point.
	var uploadErr error
	if m.shouldUpload() {
		uploadErr = m.uploadImage(ctx, result)
	}

	artifactsErr := m.writeArtifacts()

	err = m.writeReport(result)
	if uploadErr != nil {
		return result, uploadErr
	}
	if err != nil {
		return result, err
	}
	if artifactsErr != nil {
		return result, artifactsErr
	}

	return result, nil
}

// prepareImage decompresses the image file if needed and resolves its disk
// format.
func (m *imageMigrater) prepareImage(imageFilePath string) error {
	exists, err := file.IsFile(imageFilePath)
	if err != nil {
		return err
	}
	if !exists {
		return NewImageMigrateError(ConfigValidationError,
			fmt.Sprintf("image file (%s) does not exist", imageFilePath))
	}

	stopProgress := startProgressTicker("Still preparing the image file...")
	defer stopProgress()

	attachPath, imageFormat, err := prepareImageFile(imageFilePath, m.buildDir, m.config.Image.Format)
	if err != nil {
		return NewImageMigrateErrorWithCause(ImageAttachError, "failed to prepare the image file", err)
	}

	m.descriptor = NewImageDescriptor(attachPath, imageFormat)
	return nil
}

// inspectAndAdaptGuest runs everything that needs the image attached. The
// teardown is deferred so that a failure at any stage still unwinds in the
// required order: chroot first, then the partition mounts in reverse mount
// order, then the volume groups, and the block device last.
func (m *imageMigrater) inspectAndAdaptGuest() (err error) {
	// The host's volume groups must be listed before the image's device is
	// attached, so the image's groups can be told apart from them.
	hostVolumeGroups, err := lvmutils.ListVolumeGroups()
	if err != nil {
		return err
	}

	defer func() {
		teardownErr := m.teardown()
		if teardownErr != nil {
			if err != nil {
				err = fmt.Errorf("%w:\nfailed to tear down image attachment:\n%w", err, teardownErr)
			} else {
				err = fmt.Errorf("failed to tear down image attachment:\n%w", teardownErr)
			}
		}
	}()

	err = m.attachImage()
	if err != nil {
		return err
	}

	err = m.readDiskMetadata()
	if err != nil {
		return err
	}

	err = m.activateImageVolumeGroups(hostVolumeGroups)
	if err != nil {
		return err
	}

	err = m.mountAndResolvePartitions()
	if err != nil {
		return err
	}

	err = m.inspectGuest()
	if err != nil {
		return err
	}

	if m.options.ArtifactsFile != "" {
		snapshotErr := collectGuestConfigSnapshots(m.descriptor, filepath.Join(m.buildDir, guestConfigsDirName))
		if snapshotErr != nil {
			logger.Log.Warnf("Could not snapshot guest configs: %s", snapshotErr)
		}
	}

	m.descriptor.Validation = validateImportPrerequisites(m.descriptor)
	logValidationResult(m.descriptor.Validation)

	if m.descriptor.Validation.Pass && !m.options.ValidateOnly {
		err = m.adaptGuest()
		if err != nil {
			return err
		}
	}

	return nil
}

func (m *imageMigrater) attachImage() error {
	logger.Log.Infof("Attaching image file (%s)", m.descriptor.ImageFilePath)

	err := m.connection.ConnectDevice(m.descriptor.ImageFilePath, m.descriptor.ImageFormat)
	if err != nil {
		return NewImageMigrateErrorWithCause(ImageAttachError, "failed to attach image file", err)
	}
	m.descriptor.DevicePath = m.connection.DevicePath()

	// The kernel's own partition scan can race the attach on older kernels.
	err = diskutils.RefreshPartitions(m.descriptor.DevicePath)
	if err != nil {
		logger.Log.Debugf("Partition table re-read failed: %s", err)
	}

	err = diskutils.WaitForDevicesToSettle()
	if err != nil {
		return err
	}

	return nil
}

// readDiskMetadata collects the disk level facts: the boot sector, the
// parted summary, and the sfdisk dump. The boot sector and parted output
// feed the report even when unreadable, so failures here only log.
func (m *imageMigrater) readDiskMetadata() error {
	mbr, err := diskutils.ReadMbr(m.descriptor.DevicePath)
	if err != nil {
		logger.Log.Warnf("Could not read the image's boot sector: %s", err)
	} else {
		m.descriptor.Mbr = mbr
		m.descriptor.MbrRead = true
	}

	partedInfo, err := diskutils.GetPartedInfo(m.descriptor.DevicePath)
	if err != nil {
		logger.Log.Warnf("Could not read parted info: %s", err)
	} else {
		m.descriptor.PartedInfo = partedInfo
		logger.Log.Debugf("Disk: %s, partition table: %s", partedInfo.Disk, partedInfo.PartitionTable)
	}

	sfdiskEntries, err := diskutils.GetSfdiskEntries(m.descriptor.DevicePath)
	if err != nil {
		logger.Log.Warnf("Could not read the sfdisk dump: %s", err)
	} else {
		m.descriptor.SfdiskEntries = sfdiskEntries
	}

	return nil
}

func (m *imageMigrater) activateImageVolumeGroups(hostVolumeGroups []string) error {
	volumeGroups, err := lvmutils.RescanImageVolumeGroups(m.descriptor.DevicePath, hostVolumeGroups)
	if err != nil {
		return NewImageMigrateErrorWithCause(PartitionAnalysisError,
			"failed to scan the image for volume groups", err)
	}
	if len(volumeGroups) == 0 {
		return nil
	}

	err = lvmutils.ActivateVolumeGroups(volumeGroups)
	if err != nil {
		return NewImageMigrateErrorWithCause(PartitionAnalysisError,
			"failed to activate the image's volume groups", err)
	}
	m.volumeGroups = volumeGroups
	m.descriptor.VolumeGroups = volumeGroups

	err = diskutils.WaitForDevicesToSettle()
	if err != nil {
		return err
	}

	return nil
}

func (m *imageMigrater) mountAndResolvePartitions() error {
	err := analyzePartitions(m.descriptor)
	if err != nil {
		return err
	}

	mountsDir := filepath.Join(m.buildDir, "mounts")
	err = mountAllStandardPartitions(m.descriptor, m.mountSet, mountsDir)
	if err != nil {
		return NewImageMigrateErrorWithCause(GuestMountError, "failed to mount the image's partitions", err)
	}

	_, fstabPath, err := locateFstabFile(m.descriptor)
	if err != nil {
		return NewImageMigrateErrorWithCause(PartitionAnalysisError, "failed to locate the guest's fstab", err)
	}

	err = loadFstabEntries(m.descriptor, fstabPath)
	if err != nil {
		return err
	}
	m.descriptor.FstabPath = fstabPath

	err = resolveRootAndBoot(m.descriptor)
	if err != nil {
		return NewImageMigrateErrorWithCause(PartitionAnalysisError, "failed to resolve the guest's root "+
			"partition", err)
	}

	logger.Log.Infof("Guest root partition (%s)", m.descriptor.RootPartitionPath)
	return nil
}

// inspectGuest gathers everything the prerequisite checks need from the
// mounted guest tree.
func (m *imageMigrater) inspectGuest() error {
	err := detectGuestOs(m.descriptor)
	if err != nil {
		return NewImageMigrateErrorWithCause(GuestConfigError, "failed to detect the guest OS", err)
	}

	err = detectBootConfiguration(m.descriptor)
	if err != nil {
		return NewImageMigrateErrorWithCause(GuestConfigError, "failed to read the guest's bootloader "+
			"configuration", err)
	}

	hardcodedMacs, err := findHardcodedMacInterfaces(m.descriptor.RootMountPath)
	if err != nil {
		return NewImageMigrateErrorWithCause(GuestConfigError, "failed to scan the guest's network "+
			"configuration", err)
	}
	m.descriptor.HardcodedMacInterfaces = hardcodedMacs

	err = checkInitrdVirtioDrivers(m.descriptor)
	if err != nil {
		return err
	}

	return nil
}

// adaptGuest enters the guest through a chroot jail and runs the OS
// plugin's two operations, each exactly once.
func (m *imageMigrater) adaptGuest() error {
	plugin, err := SelectOsPlugin(m.descriptor.OsId())
	if err != nil {
		return err
	}
	logger.Log.Infof("Using OS plugin (%s)", plugin.Name())

	err = m.connection.ConnectChroot(m.descriptor.RootMountPath, true, nil,
		buildChrootBindMounts(m.descriptor), true)
	if err != nil {
		return NewImageMigrateErrorWithCause(GuestConfigError, "failed to enter the guest", err)
	}

	networkOk := plugin.UpdateNetworkConfig(m.connection.Chroot())
	m.networkConfigUpdated = &networkOk

	stopProgress := startProgressTicker("Still installing cloud-init...")
	cloudInitOk := plugin.InstallCloudInit(m.connection.Chroot(), m.config.CloudInitVersion)
	stopProgress()
	m.cloudInitInstalled = &cloudInitOk

	err = m.connection.CloseChroot(true)
	if err != nil {
		return NewImageMigrateErrorWithCause(GuestConfigError, "failed to leave the guest", err)
	}

	return nil
}

// teardown unwinds the image attachment. The order is fixed: the chroot's
// pseudo filesystem mounts come down first, then the partition and logical
// volume mounts in reverse mount order, then the image's volume groups are
// deactivated, and the block device is detached last. Every stage runs even
// if an earlier one fails; the first error is returned.
func (m *imageMigrater) teardown() error {
	var firstErr error

	err := m.connection.CloseChroot(true)
	if err != nil {
		logger.Log.Errorf("Failed to close the guest chroot: %s", err)
		firstErr = err
	}

	err = m.mountSet.CleanClose()
	if err != nil {
		logger.Log.Errorf("Failed to unmount the guest's partitions: %s", err)
		if firstErr == nil {
			firstErr = err
		}
	}

	if len(m.volumeGroups) > 0 {
		lvmutils.DeactivateVolumeGroups(m.volumeGroups)
		m.volumeGroups = nil
	}

	err = m.connection.CleanClose()
	if err != nil {
		logger.Log.Errorf("Failed to detach the image: %s", err)
		if firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

func (m *imageMigrater) shouldUpload() bool {
	return m.config.Upload != nil && !m.options.ValidateOnly && m.descriptor.Validation != nil &&
		m.descriptor.Validation.Pass
}

func (m *imageMigrater) uploadImage(ctx context.Context, result *MigrateResult) error {
	hasNetworkAccess, err := network.CheckNetworkAccess()
	if err != nil {
		return NewImageMigrateErrorWithCause(ImageUploadError, "failed to check for network access", err)
	}
	if !hasNetworkAccess {
		return NewImageMigrateError(ImageUploadError,
			"host has no network access; cannot reach the object storage endpoint")
	}

	stopProgress := startProgressTicker("Still uploading the image...")
	defer stopProgress()

	artifactPath, uploadFormat, err := prepareUploadArtifact(m.descriptor, m.buildDir, m.config.Upload)
	if err != nil {
		return err
	}

	imageId, err := uploadAndImportImage(ctx, m.config.Upload, artifactPath, uploadFormat)
	if err != nil {
		return err
	}

	result.UploadedImageId = imageId
	return nil
}

func (m *imageMigrater) newResult() *MigrateResult {
	result := &MigrateResult{
		ImageFile:            m.descriptor.ImageFilePath,
		ImageFormat:          m.descriptor.ImageFormat,
		OsName:               m.descriptor.OsName(),
		OsVersion:            m.descriptor.OsVersionId(),
		BootType:             m.descriptor.BootType,
		DefaultKernelVersion: m.descriptor.DefaultKernelVersion,
		NetworkConfigUpdated: m.networkConfigUpdated,
		CloudInitInstalled:   m.cloudInitInstalled,
	}
	if m.descriptor.Validation != nil {
		result.Validation = *m.descriptor.Validation
	}
	return result
}

func (m *imageMigrater) writeReport(result *MigrateResult) error {
	if m.options.ReportFile == "" {
		return nil
	}

	err := imagemigrateapi.MarshalYamlFile(m.options.ReportFile, result)
	if err != nil {
		return fmt.Errorf("failed to write migration report (%s):\n%w", m.options.ReportFile, err)
	}

	logger.Log.Infof("Wrote migration report (%s)", m.options.ReportFile)
	return nil
}

func (m *imageMigrater) writeArtifacts() error {
	if m.options.ArtifactsFile == "" {
		return nil
	}

	return writeArtifactsArchive(filepath.Join(m.buildDir, guestConfigsDirName), m.options.ArtifactsFile)
}

func logValidationResult(validation *ValidationResult) {
	if validation.Pass {
		logger.Log.Infof("Image passed all import prerequisite checks")
		return
	}

	logger.Log.Warnf("Image failed %d import prerequisite check(s):", len(validation.Reasons))
	for _, reason := range validation.Reasons {
		logger.Log.Warnf("  - %s", reason)
	}
}
