// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package file

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/oracle/oci-utils-sub001/internal/logger"
)

type FileCopyUpdateMode int

const (
	// Overwrite any existing file.
	FileCopyUpdateModeOverwriteAll FileCopyUpdateMode = iota
	// Fail if there is a conflicting existing file.
	FileCopyUpdateModeFailExisting
	// Skip (leave alone) any conflicting existing files.
	FileCopyUpdateModeSkipExisting
)

type DirCopyBuilder struct {
	// Source directory
	Src string
	// Destination directory
	Dst string
	// How existing files should be handled.
	UpdateMode FileCopyUpdateMode
	//
	NewDirPermissions    *fs.FileMode
	ChildFilePermissions *fs.FileMode
	MergedDirPermissions *fs.FileMode
}

func NewDirCopyBuilder(src string, dst string) DirCopyBuilder {
	return DirCopyBuilder{
		Src: src,
		Dst: dst,
	}
}

func (b DirCopyBuilder) SetUpdateMode(updateMode FileCopyUpdateMode) DirCopyBuilder {
	b.UpdateMode = updateMode
	return b
}

func (b DirCopyBuilder) Run() (err error) {
	logger.Log.Debugf("Copying directory (%s) to (%s)", b.Src, b.Dst)

	srcInfo, err := os.Stat(b.Src)
	if err != nil {
		return fmt.Errorf("failed to read source directory info:\n%w", err)
	}

	if !srcInfo.IsDir() {
		return fmt.Errorf("source (%s) is not a directory", b.Src)
	}

	err = filepath.WalkDir(b.Src, func(path string, dirEntry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(b.Src, path)
		if err != nil {
			return err
		}

		dstPath := filepath.Join(b.Dst, relPath)

		if dirEntry.IsDir() {
			return b.copyDir(path, dstPath)
		}

		return b.copyFile(path, dstPath, dirEntry)
	})
	if err != nil {
		return fmt.Errorf("failed to copy directory (%s) to (%s):\n%w", b.Src, b.Dst, err)
	}

	return nil
}

func (b DirCopyBuilder) copyDir(srcPath string, dstPath string) (err error) {
	exists, err := DirExists(dstPath)
	if err != nil {
		return err
	}

	if exists {
		// Directory is being merged into an existing one.
		if b.MergedDirPermissions != nil {
			err = os.Chmod(dstPath, *b.MergedDirPermissions)
			if err != nil {
				return fmt.Errorf("failed to set directory (%s) permissions:\n%w", dstPath, err)
			}
		}

		return nil
	}

	var newDirPermissions fs.FileMode
	if b.NewDirPermissions != nil {
		newDirPermissions = *b.NewDirPermissions
	} else {
		srcInfo, err := os.Stat(srcPath)
		if err != nil {
			return fmt.Errorf("failed to read source directory info:\n%w", err)
		}

		newDirPermissions = srcInfo.Mode().Perm()
	}

	err = os.Mkdir(dstPath, newDirPermissions)
	if err != nil {
		return fmt.Errorf("failed to create directory (%s):\n%w", dstPath, err)
	}

	// Mkdir's permissions are subject to umask.
	err = os.Chmod(dstPath, newDirPermissions)
	if err != nil {
		return fmt.Errorf("failed to set directory (%s) permissions:\n%w", dstPath, err)
	}

	return nil
}

func (b DirCopyBuilder) copyFile(srcPath string, dstPath string, dirEntry fs.DirEntry) (err error) {
	exists, err := PathExists(dstPath)
	if err != nil {
		return err
	}

	if exists {
		switch b.UpdateMode {
		case FileCopyUpdateModeSkipExisting:
			return nil

		case FileCopyUpdateModeFailExisting:
			return fmt.Errorf("file (%s) already exists", dstPath)
		}
	}

	fileCopyBuilder := NewFileCopyBuilder(srcPath, dstPath)

	isSymlink := dirEntry.Type() == os.ModeSymlink
	if isSymlink {
		fileCopyBuilder = fileCopyBuilder.SetNoDereference()
	} else if b.ChildFilePermissions != nil {
		fileCopyBuilder = fileCopyBuilder.SetFileMode(*b.ChildFilePermissions)
	}

	return fileCopyBuilder.Run()
}
