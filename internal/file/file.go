// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package file

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/oracle/oci-utils-sub001/internal/logger"
)

// Read returns the entire contents of the file at filePath as a string.
func Read(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file (%s):\n%w", filePath, err)
	}

	return string(data), nil
}

// ReadLines reads the file at filePath and splits its contents into individual lines.
func ReadLines(filePath string) (lines []string, err error) {
	srcFile, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file (%s):\n%w", filePath, err)
	}
	defer srcFile.Close()

	scanner := bufio.NewScanner(srcFile)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	err = scanner.Err()
	if err != nil {
		return nil, fmt.Errorf("failed to read lines from file (%s):\n%w", filePath, err)
	}

	return lines, nil
}

// Write writes a string to the file at filePath, replacing any existing contents.
func Write(data string, filePath string) (err error) {
	logger.Log.Debugf("Writing to (%s)", filePath)

	err = os.WriteFile(filePath, []byte(data), 0o644)
	if err != nil {
		return fmt.Errorf("failed to write file (%s):\n%w", filePath, err)
	}

	return nil
}

// WriteLines writes each string in lines to the file at filePath, separated by newlines.
// The final line is also newline terminated.
func WriteLines(lines []string, filePath string) (err error) {
	logger.Log.Debugf("Writing to (%s)", filePath)

	dstFile, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create file (%s):\n%w", filePath, err)
	}
	defer func() {
		if dstFile != nil {
			dstFile.Close()
		}
	}()

	for _, line := range lines {
		_, err = fmt.Fprintln(dstFile, line)
		if err != nil {
			return fmt.Errorf("failed to write line to file (%s):\n%w", filePath, err)
		}
	}

	err = dstFile.Close()
	dstFile = nil
	if err != nil {
		return fmt.Errorf("failed to finalize file (%s):\n%w", filePath, err)
	}

	return nil
}

// Append appends data to the end of the file at filePath, creating it if needed.
func Append(data string, filePath string) (err error) {
	logger.Log.Debugf("Appending to (%s)", filePath)

	dstFile, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open file (%s) for append:\n%w", filePath, err)
	}
	defer func() {
		if dstFile != nil {
			dstFile.Close()
		}
	}()

	_, err = dstFile.WriteString(data)
	if err != nil {
		return fmt.Errorf("failed to append to file (%s):\n%w", filePath, err)
	}

	err = dstFile.Close()
	dstFile = nil
	if err != nil {
		return fmt.Errorf("failed to finalize file (%s):\n%w", filePath, err)
	}

	return nil
}

// Create creates an empty file at filePath with the provided permissions.
func Create(filePath string, perm os.FileMode) (err error) {
	logger.Log.Debugf("Creating (%s)", filePath)

	newFile, err := os.OpenFile(filePath, os.O_RDONLY|os.O_CREATE, perm)
	if err != nil {
		return fmt.Errorf("failed to create file (%s):\n%w", filePath, err)
	}

	return newFile.Close()
}

// Copy copies the file at src to dst, creating the destination's directory if needed.
// The copy preserves the source file's permissions.
func Copy(src, dst string) (err error) {
	return NewFileCopyBuilder(src, dst).Run()
}

// CopyAndChangeMode copies the file at src to dst, creating the destination's directory
// with dirmode if needed and setting the destination file's permissions to filemode.
func CopyAndChangeMode(src string, dst string, dirmode os.FileMode, filemode os.FileMode) (err error) {
	return NewFileCopyBuilder(src, dst).
		SetDirFileMode(dirmode).
		SetFileMode(filemode).
		Run()
}

// CopyDir recursively copies the directory at srcDir to dstDir.
// New directories are created with newDirPermissions and copied files with
// childFilePermissions. If mergedDirPermissions is non-nil, directories that already
// exist under dstDir have their permissions reset to it.
func CopyDir(srcDir string, dstDir string, newDirPermissions os.FileMode,
	childFilePermissions os.FileMode, mergedDirPermissions *fs.FileMode,
) error {
	builder := NewDirCopyBuilder(srcDir, dstDir)
	builder.NewDirPermissions = &newDirPermissions
	builder.ChildFilePermissions = &childFilePermissions
	builder.MergedDirPermissions = mergedDirPermissions
	return builder.Run()
}

// Move moves the file at src to dst, preserving permissions.
// Falls back to copy and delete when src and dst are on different filesystems.
func Move(src, dst string) (err error) {
	logger.Log.Debugf("Moving (%s) to (%s)", src, dst)

	err = os.Rename(src, dst)
	if err != nil {
		var linkErr *os.LinkError
		crossDevice := errors.As(err, &linkErr)
		if !crossDevice {
			return fmt.Errorf("failed to move (%s) to (%s):\n%w", src, dst, err)
		}

		err = Copy(src, dst)
		if err != nil {
			return fmt.Errorf("failed to move (%s) to (%s):\n%w", src, dst, err)
		}

		err = os.Remove(src)
		if err != nil {
			return fmt.Errorf("failed to remove (%s) after move:\n%w", src, err)
		}
	}

	return nil
}

// PathExists reports whether a file or directory exists at path.
func PathExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}

		return false, fmt.Errorf("failed to stat (%s):\n%w", path, err)
	}

	return true, nil
}

// DirExists reports whether path exists and is a directory.
func DirExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}

		return false, fmt.Errorf("failed to stat (%s):\n%w", path, err)
	}

	return info.IsDir(), nil
}

// IsFile reports whether path exists and is a regular file.
func IsFile(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}

		return false, fmt.Errorf("failed to stat (%s):\n%w", path, err)
	}

	return info.Mode().IsRegular(), nil
}

// IsDir reports whether path is a directory.
// Unlike DirExists, a missing path is reported as an error.
func IsDir(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, fmt.Errorf("failed to stat (%s):\n%w", path, err)
	}

	return info.IsDir(), nil
}

// CommandExists reports whether command can be found in the PATH.
func CommandExists(command string) (bool, error) {
	_, err := exec.LookPath(command)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return false, nil
		}

		return false, fmt.Errorf("failed to look up command (%s):\n%w", command, err)
	}

	return true, nil
}

// RemoveFileIfExists removes the file at filePath if it exists.
func RemoveFileIfExists(filePath string) (err error) {
	err = os.Remove(filePath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove file (%s):\n%w", filePath, err)
	}

	return nil
}

// GetAbsPathWithBase returns inputPath if it is already absolute. Otherwise, it
// returns inputPath joined to baseDirPath.
func GetAbsPathWithBase(baseDirPath string, inputPath string) string {
	if filepath.IsAbs(inputPath) {
		return inputPath
	}

	return filepath.Join(baseDirPath, inputPath)
}

// EnumerateDirFiles returns the paths of all regular files under dirPath, recursively.
func EnumerateDirFiles(dirPath string) ([]string, error) {
	var filePaths []string
	err := filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.Type().IsRegular() {
			filePaths = append(filePaths, path)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate files under (%s):\n%w", dirPath, err)
	}

	return filePaths, nil
}

// CreateDestinationDir ensures the parent directory of filePath exists, creating it
// with dirFileMode if needed.
func CreateDestinationDir(filePath string, dirFileMode os.FileMode) (err error) {
	dstDir := filepath.Dir(filePath)

	err = os.MkdirAll(dstDir, dirFileMode)
	if err != nil {
		return fmt.Errorf("failed to create directory (%s):\n%w", dstDir, err)
	}

	return nil
}
