package validation

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	apperrors "kpicompare/internal/errors"
)

// FileValidator checks command-line inputs and outputs before a run starts
type FileValidator struct {
	logger *slog.Logger
}

// NewFileValidator creates a new file validator
func NewFileValidator(logger *slog.Logger) *FileValidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileValidator{
		logger: logger.With(slog.String("component", "file_validator")),
	}
}

// ValidateSnapshotDirectory checks that dir is a directory and counts the
// node logs with extension ext directly inside it. A directory without logs
// is not an error; its families simply come out empty.
func (v *FileValidator) ValidateSnapshotDirectory(dir, ext string) (int, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return 0, apperrors.NewAppValidationError(fmt.Sprintf("snapshot directory %q does not exist", dir))
	}
	if err != nil {
		return 0, apperrors.NewStorageError("failed to stat snapshot directory", err).WithContext("dir", dir)
	}
	if !info.IsDir() {
		return 0, apperrors.NewAppValidationError(fmt.Sprintf("%q is not a directory", dir))
	}

	n, err := v.CountFiles(dir, ext)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		v.logger.Warn("No node logs found",
			slog.String("directory", dir),
			slog.String("extension", ext))
		return 0, nil
	}

	v.logger.Info("Snapshot directory validated",
		slog.String("directory", dir),
		slog.Int("files_found", n))
	return n, nil
}

// CountFiles counts regular files in dir whose extension matches ext,
// case-insensitively
func (v *FileValidator) CountFiles(dir, ext string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, apperrors.NewStorageError("failed to read directory", err).WithContext("dir", dir)
	}
	n := 0
	for _, e := range entries {
		if e.Type().IsRegular() && strings.EqualFold(filepath.Ext(e.Name()), ext) {
			n++
		}
	}
	return n, nil
}

// ValidateArchive checks that path is a readable, non-empty .zip file
func (v *FileValidator) ValidateArchive(path string) error {
	if !strings.EqualFold(filepath.Ext(path), ".zip") {
		return apperrors.NewAppValidationError(fmt.Sprintf("%q is not a .zip archive", path))
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return apperrors.NewAppValidationError(fmt.Sprintf("archive %q does not exist", path))
	}
	if err != nil {
		return apperrors.NewStorageError("failed to stat archive", err).WithContext("path", path)
	}
	if info.IsDir() {
		return apperrors.NewAppValidationError(fmt.Sprintf("%q is a directory, not an archive", path))
	}
	if info.Size() == 0 {
		return apperrors.NewAppValidationError(fmt.Sprintf("archive %q is empty", path))
	}

	f, err := os.Open(path)
	if err != nil {
		return apperrors.NewStorageError("archive is not readable", err).WithContext("path", path)
	}
	f.Close()

	v.logger.Debug("Archive validated",
		slog.String("path", path),
		slog.Int64("size", info.Size()))
	return nil
}

// ValidateOutputDirectory ensures dir exists and is writable
func (v *FileValidator) ValidateOutputDirectory(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return apperrors.NewStorageError("failed to create output directory", err).WithContext("dir", dir)
	}

	probe, err := os.CreateTemp(dir, ".write_test-*")
	if err != nil {
		return apperrors.NewStorageError("output directory is not writable", err).WithContext("dir", dir)
	}
	probe.Close()
	os.Remove(probe.Name())

	v.logger.Debug("Output directory validated", slog.String("directory", dir))
	return nil
}
