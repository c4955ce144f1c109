// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package imagemigratelib

import (
	"fmt"
	"strings"

	"github.com/oracle/oci-utils-sub001/internal/sliceutils"
)

// Guest OS names eligible for import, as reported in os-release NAME.
var supportedOsNames = []string{
	"Oracle Linux Server",
	"Red Hat Enterprise Linux",
	"Red Hat Enterprise Linux Server",
	"CentOS Linux",
	"CentOS Stream",
	"AlmaLinux",
	"Rocky Linux",
	"Ubuntu",
	"Debian GNU/Linux",
	"SLES",
	"openSUSE Leap",
}

// validateImportPrerequisites runs the import prerequisite checks over
// everything the inspection collected. The function only reads the
// descriptor. Every check runs regardless of earlier failures, so the
// result lists all problems at once.
func validateImportPrerequisites(descriptor *ImageDescriptor) *ValidationResult {
	reasons := []string(nil)
	reasons = append(reasons, checkBootType(descriptor)...)
	reasons = append(reasons, checkMbr(descriptor)...)
	reasons = append(reasons, checkFstabSources(descriptor)...)
	reasons = append(reasons, checkBootEntries(descriptor)...)
	reasons = append(reasons, checkOsSupported(descriptor)...)
	reasons = append(reasons, checkNetworkMacs(descriptor)...)

	return &ValidationResult{
		Pass:    len(reasons) == 0,
		Reasons: reasons,
	}
}

func checkBootType(descriptor *ImageDescriptor) []string {
	switch descriptor.BootType {
	case BootTypeBios, BootTypeUefi:
		return nil

	default:
		return []string{"boot type could not be determined"}
	}
}

func checkMbr(descriptor *ImageDescriptor) []string {
	if !descriptor.MbrRead {
		return []string{"boot sector could not be read"}
	}

	reasons := []string(nil)
	if !descriptor.Mbr.IsValid() {
		reasons = append(reasons, fmt.Sprintf("boot sector has an invalid MBR signature (0x%04x)",
			descriptor.Mbr.Signature))
	}
	if !descriptor.Mbr.HasBootablePartition() {
		reasons = append(reasons, "no partition has the boot flag set")
	}

	return reasons
}

// checkFstabSources verifies that every block device the fstab references
// can be matched to a discovered partition. Raw device paths always fail:
// the guest's device names will not survive the move to new virtual
// hardware.
func checkFstabSources(descriptor *ImageDescriptor) []string {
	reasons := []string(nil)
	for _, entry := range descriptor.FstabEntries {
		if isSpecialFstabEntry(entry) {
			continue
		}

		if strings.HasPrefix(entry.Source, "/dev/") && !strings.HasPrefix(entry.Source, "/dev/mapper/") {
			reasons = append(reasons, fmt.Sprintf(
				"fstab mounts (%s) from raw device path (%s); only UUID=, LABEL= or device mapper "+
					"sources are stable across an import", entry.Target, entry.Source))
			continue
		}

		record, isDevice := resolveFstabSource(descriptor, entry.Source)
		if !isDevice {
			continue
		}
		if record == nil {
			reasons = append(reasons, fmt.Sprintf("fstab source (%s) for (%s) does not match any "+
				"discovered partition", entry.Source, entry.Target))
		}
	}

	return reasons
}

// checkBootEntries verifies that the bootloader finds its boot device by
// filesystem UUID rather than by a fixed device name.
func checkBootEntries(descriptor *ImageDescriptor) []string {
	if len(descriptor.BootEntries) == 0 {
		return []string{"bootloader configuration has no menu entries"}
	}

	reasons := []string(nil)
	for i, entry := range descriptor.BootEntries {
		var problem string
		if descriptor.GrubVersion == 2 {
			problem = checkGrub2Entry(entry)
		} else {
			problem = checkLegacyGrubEntry(entry)
		}

		if problem != "" {
			reasons = append(reasons, fmt.Sprintf("boot entry %d (%s) %s", i, entry.Title, problem))
		}
	}

	return reasons
}

func checkGrub2Entry(entry BootEntry) string {
	sawSearch := false
	for _, line := range entry.Lines {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "search":
			sawSearch = true
			if !sliceutils.ContainsValue(fields, "--fs-uuid") && !sliceutils.ContainsValue(fields, "-u") {
				return "locates its boot device without search --fs-uuid"
			}

		case "linux", "linux16", "linuxefi":
			if rootArgumentUsesDevicePath(fields) {
				return "passes a fixed root device path to the kernel"
			}
		}
	}

	if !sawSearch {
		return "has no search command to locate its boot device"
	}
	return ""
}

func checkLegacyGrubEntry(entry BootEntry) string {
	for _, line := range entry.Lines {
		fields := strings.Fields(line)
		if len(fields) == 0 || fields[0] != "kernel" {
			continue
		}

		for _, field := range fields[1:] {
			value, found := strings.CutPrefix(field, "root=")
			if !found {
				continue
			}
			// Device mapper names survive an import; raw device names do not.
			if strings.HasPrefix(value, "UUID=") || strings.HasPrefix(value, "/dev/mapper/") {
				return ""
			}
			return fmt.Sprintf("boots from (root=%s) instead of a filesystem UUID", value)
		}
	}

	return "has no kernel line with a root=UUID= argument"
}

func rootArgumentUsesDevicePath(fields []string) bool {
	for _, field := range fields {
		value, found := strings.CutPrefix(field, "root=")
		if found && strings.HasPrefix(value, "/dev/") && !strings.HasPrefix(value, "/dev/mapper/") {
			return true
		}
	}
	return false
}

func checkOsSupported(descriptor *ImageDescriptor) []string {
	osName := descriptor.OsName()
	if osName == "" {
		return []string{"guest OS could not be identified"}
	}
	if !sliceutils.ContainsValue(supportedOsNames, osName) {
		return []string{fmt.Sprintf("guest OS (%s) is not supported for import", osName)}
	}
	return nil
}

func checkNetworkMacs(descriptor *ImageDescriptor) []string {
	reasons := []string(nil)
	for _, configPath := range descriptor.HardcodedMacInterfaces {
		reasons = append(reasons, fmt.Sprintf("interface config (%s) hard-codes a MAC address", configPath))
	}
	return reasons
}
