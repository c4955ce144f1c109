// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package imagemigratelib

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/oracle/oci-utils-sub001/internal/file"
	"github.com/oracle/oci-utils-sub001/internal/grub"
	"github.com/oracle/oci-utils-sub001/internal/logger"
	"github.com/oracle/oci-utils-sub001/internal/sliceutils"
)

// File names the bootloader configuration can live under.
var bootConfigFileNames = []string{"grub.cfg", "grub.conf"}

// Commands that load a kernel in a grub2 menu entry.
var grub2KernelCommands = []string{"linux", "linux16", "linuxefi"}

// detectBootConfiguration locates the guest's bootloader configuration,
// derives the boot type from where it was found, and parses the menu
// entries.
func detectBootConfiguration(descriptor *ImageDescriptor) error {
	configPath, bootType, err := findBootConfigFile(descriptor)
	if err != nil {
		return err
	}

	content, err := file.Read(configPath)
	if err != nil {
		return fmt.Errorf("failed to read bootloader config (%s):\n%w", configPath, err)
	}

	descriptor.BootConfigPath = configPath
	descriptor.BootType = bootType

	err = parseBootConfig(descriptor, content)
	if err != nil {
		return fmt.Errorf("failed to parse bootloader config (%s):\n%w", configPath, err)
	}

	logger.Log.Debugf("Bootloader: type=(%s), grub=(%d), entries=(%d), default kernel=(%s)",
		descriptor.BootType, descriptor.GrubVersion, len(descriptor.BootEntries), descriptor.DefaultKernelVersion)
	return nil
}

// findBootConfigFile searches the guest's boot directories for a grub.cfg or
// grub.conf file. A config found under an EFI directory marks the image as
// UEFI booting and wins over any BIOS-path config, since it is the one the
// firmware actually loads.
func findBootConfigFile(descriptor *ImageDescriptor) (string, BootType, error) {
	biosConfigPath := ""
	efiConfigPath := ""

	for _, baseDir := range bootConfigSearchBases(descriptor) {
		err := filepath.WalkDir(baseDir, func(path string, entry fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if entry.IsDir() || !sliceutils.ContainsValue(bootConfigFileNames, entry.Name()) {
				return nil
			}

			if isEfiPath(baseDir, path) {
				if efiConfigPath == "" {
					efiConfigPath = path
				}
			} else {
				if biosConfigPath == "" {
					biosConfigPath = path
				}
			}
			return nil
		})
		if err != nil {
			return "", BootTypeUnknown, fmt.Errorf("failed to search for bootloader config under (%s):\n%w",
				baseDir, err)
		}
	}

	switch {
	case efiConfigPath != "":
		return efiConfigPath, BootTypeUefi, nil

	case biosConfigPath != "":
		return biosConfigPath, BootTypeBios, nil

	default:
		return "", BootTypeUnknown, BootConfigNotFoundError
	}
}

// bootConfigSearchBases returns the host directories that may hold the
// guest's bootloader configuration: the boot, grub and grub2 directories of
// the root tree, plus the mounts of any partitions the fstab places under
// /boot.
func bootConfigSearchBases(descriptor *ImageDescriptor) []string {
	candidates := []string(nil)
	if descriptor.RootMountPath != "" {
		candidates = append(candidates,
			filepath.Join(descriptor.RootMountPath, "boot"),
			filepath.Join(descriptor.RootMountPath, "grub"),
			filepath.Join(descriptor.RootMountPath, "grub2"))
	}

	for _, entry := range descriptor.FstabEntries {
		if entry.Target != "/boot" && !strings.HasPrefix(entry.Target, "/boot/") {
			continue
		}

		record, _ := resolveFstabSource(descriptor, entry.Source)
		if record != nil && record.MountPath != "" {
			candidates = append(candidates, record.MountPath)
		}
	}

	baseDirs := []string(nil)
	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err != nil || !info.IsDir() {
			continue
		}
		if !sliceutils.ContainsValue(baseDirs, candidate) {
			baseDirs = append(baseDirs, candidate)
		}
	}

	return baseDirs
}

// isEfiPath reports whether the config path passes through an EFI directory
// below the search base.
func isEfiPath(baseDir string, path string) bool {
	relPath, err := filepath.Rel(baseDir, path)
	if err != nil {
		return false
	}

	for _, element := range strings.Split(relPath, string(filepath.Separator)) {
		if strings.EqualFold(element, "EFI") {
			return true
		}
	}
	return false
}

// parseBootConfig splits the bootloader config into menu entries. A config
// containing menuentry commands is grub2; anything else is parsed as a
// legacy (grub 0.97) config.
func parseBootConfig(descriptor *ImageDescriptor, content string) error {
	tokens, err := grub.TokenizeConfig(content)
	if err != nil {
		return err
	}
	lines := grub.SplitTokensIntoLines(tokens)

	menuEntryLines := grub.FindCommandAll(lines, "menuentry")
	if len(menuEntryLines) > 0 {
		descriptor.GrubVersion = 2
		descriptor.BootEntries = splitGrub2Entries(content, menuEntryLines)
		descriptor.DefaultKernelVersion = grub2DefaultKernelVersion(lines, descriptor.BootEntries)
		return nil
	}

	descriptor.GrubVersion = 1
	descriptor.BootEntries = splitLegacyGrubEntries(content)
	descriptor.DefaultKernelVersion = legacyGrubDefaultKernelVersion(content, descriptor.BootEntries)
	return nil
}

// splitGrub2Entries groups the config's raw lines into one entry per
// menuentry command. Each entry runs until the next menuentry or the end of
// the file.
func splitGrub2Entries(content string, menuEntryLines []grub.Line) []BootEntry {
	rawLines := strings.Split(content, "\n")

	entries := []BootEntry(nil)
	for i, menuEntryLine := range menuEntryLines {
		startLine := menuEntryLine.Tokens[0].Loc.Start.Line
		endLine := len(rawLines) + 1
		if i+1 < len(menuEntryLines) {
			endLine = menuEntryLines[i+1].Tokens[0].Loc.Start.Line
		}

		entry := BootEntry{
			Title: grub2EntryTitle(menuEntryLine),
			Lines: rawLines[startLine-1 : endLine-1],
		}
		entries = append(entries, entry)
	}

	return entries
}

// grub2EntryTitle extracts the menu entry's display title. Titles containing
// variable expansions cannot be evaluated and come back empty.
func grub2EntryTitle(menuEntryLine grub.Line) string {
	if len(menuEntryLine.Tokens) < 2 {
		return ""
	}

	title, err := grub.WordLiteralValue(menuEntryLine.Tokens[1])
	if err != nil {
		logger.Log.Debugf("Cannot evaluate menu entry title: %s", err)
		return ""
	}
	return title
}

// splitLegacyGrubEntries groups a legacy grub config's raw lines into one
// entry per title command.
func splitLegacyGrubEntries(content string) []BootEntry {
	rawLines := strings.Split(content, "\n")

	entries := []BootEntry(nil)
	for _, rawLine := range rawLines {
		trimmed := strings.TrimSpace(rawLine)

		titleText, isTitle := strings.CutPrefix(trimmed, "title")
		if isTitle && (titleText == "" || titleText[0] == ' ' || titleText[0] == '\t') {
			entries = append(entries, BootEntry{
				Title: strings.TrimSpace(titleText),
			})
			continue
		}

		if len(entries) > 0 && trimmed != "" && !strings.HasPrefix(trimmed, "#") {
			entries[len(entries)-1].Lines = append(entries[len(entries)-1].Lines, rawLine)
		}
	}

	return entries
}

// grub2DefaultKernelVersion finds the kernel version of the default menu
// entry. A non-numeric default (e.g. ${saved_entry}) falls back to the first
// entry.
func grub2DefaultKernelVersion(lines []grub.Line, entries []BootEntry) string {
	defaultIndex := 0
	for _, setLine := range grub.FindCommandAll(lines, "set") {
		if len(setLine.Tokens) < 2 {
			continue
		}

		assignment, err := grub.WordLiteralValue(setLine.Tokens[1])
		if err != nil {
			continue
		}

		value, found := strings.CutPrefix(assignment, "default=")
		if !found {
			continue
		}

		index, err := strconv.Atoi(value)
		if err == nil && index >= 0 {
			defaultIndex = index
		}
	}

	if defaultIndex >= len(entries) {
		defaultIndex = 0
	}
	if len(entries) == 0 {
		return ""
	}

	return kernelVersionFromEntry(entries[defaultIndex], grub2KernelCommands)
}

// legacyGrubDefaultKernelVersion finds the kernel version of the entry the
// config's default= row points at.
func legacyGrubDefaultKernelVersion(content string, entries []BootEntry) string {
	defaultIndex := 0
	for _, rawLine := range strings.Split(content, "\n") {
		value, found := strings.CutPrefix(strings.TrimSpace(rawLine), "default=")
		if !found {
			continue
		}

		index, err := strconv.Atoi(strings.TrimSpace(value))
		if err == nil && index >= 0 {
			defaultIndex = index
		}
	}

	if defaultIndex >= len(entries) {
		defaultIndex = 0
	}
	if len(entries) == 0 {
		return ""
	}

	return kernelVersionFromEntry(entries[defaultIndex], []string{"kernel"})
}

// kernelVersionFromEntry pulls the kernel version out of the entry's kernel
// load line (e.g. "linux /boot/vmlinuz-4.14.35-1902.3.2.el7uek.x86_64 ...").
func kernelVersionFromEntry(entry BootEntry, kernelCommands []string) string {
	for _, rawLine := range entry.Lines {
		fields := strings.Fields(rawLine)
		if len(fields) < 2 || !sliceutils.ContainsValue(kernelCommands, fields[0]) {
			continue
		}

		version, found := strings.CutPrefix(filepath.Base(fields[1]), "vmlinuz-")
		if found {
			return version
		}
	}

	return ""
}
