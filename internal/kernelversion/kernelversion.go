// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package kernelversion

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"

	"github.com/oracle/oci-utils-sub001/internal/version"
	"golang.org/x/sys/unix"
)

var (
	// Parses the kernel version from "uname -r" or subdirectories of /lib/modules.
	//
	// Examples:
	//   OS               Version
	//   Oracle Linux 7   3.10.0-1160.el7.x86_64
	//   Oracle Linux 8   5.4.17-2136.330.7.1.el8uek.x86_64
	//   Ubuntu 22.04     6.8.0-48-generic
	//   Fedora 40        6.11.6-200.fc40.x86_64
	kernelVersionRegex = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)([.\-][a-zA-Z0-9_.\-]*)?$`)
)

func GetBuildHostKernelVersion() (version.Version, error) {
	utsName := unix.Utsname{}
	err := unix.Uname(&utsName)
	if err != nil {
		return nil, fmt.Errorf("failed to query uname:\n%w", err)
	}

	versionBuf := utsName.Release[:]
	versionStringLen := bytes.IndexByte(versionBuf, 0)
	versionString := string(versionBuf[:versionStringLen])

	version, err := parseKernelVersion(versionString)
	if err != nil {
		return nil, err
	}

	return version, nil
}

func parseKernelVersion(versionString string) (version.Version, error) {
	match := kernelVersionRegex.FindStringSubmatch(versionString)
	if match == nil {
		return nil, fmt.Errorf("failed to parse kernel version (%s)", versionString)
	}

	major, _ := strconv.Atoi(match[1])
	minor, _ := strconv.Atoi(match[2])
	patch, _ := strconv.Atoi(match[3])

	version := version.Version{major, minor, patch}
	return version, nil
}
