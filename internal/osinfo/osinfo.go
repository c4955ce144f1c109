// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package osinfo

import (
	"github.com/oracle/oci-utils-sub001/internal/envfile"
)

const (
	unknownDistro  = "Unknown Distro"
	unknownVersion = "Unknown Version"
)

// GetDistroAndVersion reports the host's distribution name and version from
// /etc/os-release. Both values fall back to placeholders when the file is
// missing or incomplete, so the result is only suitable for logging.
func GetDistroAndVersion() (string, string) {
	fields, err := envfile.ParseEnvFile("/etc/os-release")
	if err != nil {
		return unknownDistro, unknownVersion
	}

	distro := unknownDistro
	if name, ok := fields["NAME"]; ok {
		distro = name
	}

	version := unknownVersion
	if versionValue, ok := fields["VERSION"]; ok {
		version = versionValue
	}

	return distro, version
}
