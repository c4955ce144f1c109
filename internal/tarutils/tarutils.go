// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package tarutils creates and expands the gzip'ed tarballs the migration
// uses for rootfs seeds and collected guest config archives.
package tarutils

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/pgzip"
	"github.com/oracle/oci-utils-sub001/internal/logger"
)

// CreateTarGzArchive writes the contents of sourceDir into a new tar.gz
// archive at outputArchivePath. Entry names are relative to sourceDir, so
// expanding the archive recreates the directory's contents, not the
// directory itself. Symlinks are archived as links, not followed.
func CreateTarGzArchive(sourceDir string, outputArchivePath string) (err error) {
	logger.Log.Debugf("Archiving (%s) to (%s)", sourceDir, outputArchivePath)

	outputFile, err := os.Create(outputArchivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive file (%s):\n%w", outputArchivePath, err)
	}
	defer func() {
		closeErr := outputFile.Close()
		if err == nil && closeErr != nil {
			err = fmt.Errorf("failed to finalize archive file (%s):\n%w", outputArchivePath, closeErr)
		}
	}()

	gzipWriter := pgzip.NewWriter(outputFile)
	tarWriter := tar.NewWriter(gzipWriter)

	err = filepath.WalkDir(sourceDir, func(path string, dirEntry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}
		if relPath == "." {
			return nil
		}

		return writeArchiveEntry(tarWriter, path, filepath.ToSlash(relPath), dirEntry)
	})
	if err != nil {
		return fmt.Errorf("failed to archive (%s):\n%w", sourceDir, err)
	}

	err = tarWriter.Close()
	if err != nil {
		return fmt.Errorf("failed to finalize archive:\n%w", err)
	}

	err = gzipWriter.Close()
	if err != nil {
		return fmt.Errorf("failed to finalize archive compression:\n%w", err)
	}

	return nil
}

func writeArchiveEntry(tarWriter *tar.Writer, path string, entryName string, dirEntry fs.DirEntry) error {
	info, err := dirEntry.Info()
	if err != nil {
		return err
	}

	linkTarget := ""
	if info.Mode().Type() == os.ModeSymlink {
		linkTarget, err = os.Readlink(path)
		if err != nil {
			return fmt.Errorf("failed to read symlink (%s):\n%w", path, err)
		}
	}

	header, err := tar.FileInfoHeader(info, linkTarget)
	if err != nil {
		return err
	}
	header.Name = entryName

	err = tarWriter.WriteHeader(header)
	if err != nil {
		return err
	}

	if !info.Mode().IsRegular() {
		return nil
	}

	entryFile, err := os.Open(path)
	if err != nil {
		return err
	}
	defer entryFile.Close()

	_, err = io.Copy(tarWriter, entryFile)
	return err
}

// ExpandTarGzArchive expands a tar.gz archive into outputDir. Regular files,
// directories, and symlinks are supported; entries that would escape
// outputDir are rejected.
func ExpandTarGzArchive(sourceArchivePath string, outputDir string) error {
	logger.Log.Debugf("Expanding archive (%s) to (%s)", sourceArchivePath, outputDir)

	archiveFile, err := os.Open(sourceArchivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive (%s):\n%w", sourceArchivePath, err)
	}
	defer archiveFile.Close()

	gzipReader, err := pgzip.NewReader(archiveFile)
	if err != nil {
		return fmt.Errorf("failed to create a gzip reader for (%s):\n%w", sourceArchivePath, err)
	}
	defer gzipReader.Close()

	tarReader := tar.NewReader(gzipReader)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read archive header:\n%w", err)
		}

		// Reject names that resolve outside the expansion root.
		cleanName := filepath.Clean(header.Name)
		if strings.HasPrefix(cleanName, "..") || filepath.IsAbs(cleanName) {
			return fmt.Errorf("archive entry (%s) references a path outside the expansion root (%s)",
				header.Name, outputDir)
		}

		target := filepath.Join(outputDir, cleanName)

		err = expandArchiveEntry(tarReader, header, target)
		if err != nil {
			return err
		}
	}

	return nil
}

func expandArchiveEntry(tarReader *tar.Reader, header *tar.Header, target string) error {
	switch header.Typeflag {
	case tar.TypeDir:
		err := os.MkdirAll(target, os.FileMode(header.Mode))
		if err != nil {
			return fmt.Errorf("failed to create directory (%s):\n%w", target, err)
		}

	case tar.TypeSymlink:
		err := os.MkdirAll(filepath.Dir(target), os.ModePerm)
		if err != nil {
			return fmt.Errorf("failed to create parent directory for (%s):\n%w", target, err)
		}

		err = os.Symlink(header.Linkname, target)
		if err != nil {
			return fmt.Errorf("failed to create symlink (%s):\n%w", target, err)
		}

	case tar.TypeReg:
		err := os.MkdirAll(filepath.Dir(target), os.ModePerm)
		if err != nil {
			return fmt.Errorf("failed to create parent directory for (%s):\n%w", target, err)
		}

		targetFile, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(header.Mode))
		if err != nil {
			return fmt.Errorf("failed to create file (%s):\n%w", target, err)
		}
		defer targetFile.Close()

		_, err = io.Copy(targetFile, tarReader)
		if err != nil {
			return fmt.Errorf("failed to expand (%s) from archive:\n%w", target, err)
		}

		err = targetFile.Close()
		if err != nil {
			return fmt.Errorf("failed to finalize (%s):\n%w", target, err)
		}

		// OpenFile's permissions are subject to umask.
		err = os.Chmod(target, os.FileMode(header.Mode))
		if err != nil {
			return fmt.Errorf("failed to set permissions on (%s):\n%w", target, err)
		}

	default:
		return fmt.Errorf("archive entry (%s) has an unsupported type (%v)", target, header.Typeflag)
	}

	return nil
}
