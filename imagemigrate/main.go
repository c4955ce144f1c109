// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Tool to prepare and validate on-prem virtual machine images for cloud import

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/oracle/oci-utils-sub001/internal/exe"
	"github.com/oracle/oci-utils-sub001/internal/logger"
	"github.com/oracle/oci-utils-sub001/internal/shell"
	"github.com/oracle/oci-utils-sub001/pkg/imagemigratelib"
	"golang.org/x/sys/unix"
	"gopkg.in/alecthomas/kingpin.v2"
)

var (
	app = kingpin.New("imagemigrate", "Prepares an on-prem virtual machine image for import into the cloud")

	configFile    = app.Flag("config-file", "Path of the migration config file.").Required().String()
	imageFile     = app.Flag("image-file", "Path of the disk image to migrate. Overrides the config's image.path.").String()
	buildDir      = app.Flag("build-dir", "Directory to run the migration out of.").String()
	validateOnly  = app.Flag("validate-only", "Inspect and validate the image without modifying it.").Bool()
	reportFile    = app.Flag("report-file", "Path to write the migration report to, as YAML.").String()
	artifactsFile = app.Flag("artifacts-file", "Path to write a tar.gz archive of the guest's inspected config files to.").String()
	logFlags      = exe.SetupLogFlags(app)
)

func main() {
	app.Version(exe.ToolkitVersion)
	kingpin.MustParse(app.Parse(os.Args[1:]))

	logger.InitBestEffort(logFlags)

	// The migration holds loop devices and mounts; on interrupt, stop the
	// child processes so the teardown paths are not blocked by them.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, unix.SIGINT, unix.SIGTERM)
	go func() {
		sig := <-signals
		logger.Log.Errorf("Received signal (%v)", sig)
		shell.PermanentlyStopAllChildProcesses(unix.SIGKILL)
		os.Exit(1)
	}()

	err := migrateImage()
	if err != nil {
		log.Fatalf("image migration failed:\n%v", err)
	}
}

func migrateImage() error {
	options := imagemigratelib.MigrateOptions{
		BuildDir:      *buildDir,
		ImageFile:     *imageFile,
		ValidateOnly:  *validateOnly,
		ReportFile:    *reportFile,
		ArtifactsFile: *artifactsFile,
	}

	result, err := imagemigratelib.MigrateImageWithConfigFile(context.Background(), *configFile, options)
	if err != nil {
		return err
	}

	if !result.Validation.Pass {
		return fmt.Errorf("image failed %d import prerequisite check(s)", len(result.Validation.Reasons))
	}

	return nil
}
