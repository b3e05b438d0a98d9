package files

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	apperrors "kpicompare/internal/errors"
)

// Snapshot directory names expected at the root of an uploaded archive
const (
	BeforeDirName = "Before"
	AfterDirName  = "After"
)

// Manager owns the scratch workspaces archives are extracted into
type Manager struct {
	baseDir          string
	maxExtractedSize int64
	logger           *slog.Logger
}

// NewManager creates a new file manager instance. An empty baseDir uses the
// system temp directory; maxExtractedSize <= 0 disables the size guard.
func NewManager(baseDir string, maxExtractedSize int64, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		baseDir:          baseDir,
		maxExtractedSize: maxExtractedSize,
		logger:           logger.With(slog.String("component", "files.manager")),
	}
}

// CreateWorkspace creates a fresh scratch directory
func (m *Manager) CreateWorkspace(prefix string) (string, error) {
	if m.baseDir != "" {
		if err := os.MkdirAll(m.baseDir, 0755); err != nil {
			return "", apperrors.NewStorageError("failed to create workspace root", err)
		}
	}
	dir, err := os.MkdirTemp(m.baseDir, prefix+"-*")
	if err != nil {
		return "", apperrors.NewStorageError("failed to create workspace", err)
	}
	return dir, nil
}

// RemoveWorkspace deletes a scratch directory and everything below it
func (m *Manager) RemoveWorkspace(dir string) {
	if dir == "" {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		m.logger.Warn("failed to remove workspace",
			slog.String("dir", dir),
			slog.String("error", err.Error()))
	}
}

// ExtractZipFile extracts the archive at path into dest
func (m *Manager) ExtractZipFile(ctx context.Context, path, dest string) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return apperrors.NewParsingError("failed to open archive", err).WithContext("path", path)
	}
	defer zr.Close()
	return m.extract(ctx, &zr.Reader, dest)
}

// ExtractZip extracts an in-memory or on-disk archive of the given size into dest
func (m *Manager) ExtractZip(ctx context.Context, r io.ReaderAt, size int64, dest string) error {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return apperrors.NewParsingError("failed to read archive", err)
	}
	return m.extract(ctx, zr, dest)
}

func (m *Manager) extract(ctx context.Context, zr *zip.Reader, dest string) error {
	root, err := filepath.Abs(dest)
	if err != nil {
		return apperrors.NewStorageError("failed to resolve extraction directory", err)
	}

	var written int64
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}

		target := filepath.Join(root, filepath.FromSlash(f.Name))
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return apperrors.NewAppValidationError(fmt.Sprintf("archive entry escapes extraction directory: %s", f.Name))
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return apperrors.NewStorageError("failed to create directory", err).WithContext("entry", f.Name)
			}
			continue
		}

		n, err := m.extractFile(f, target)
		if err != nil {
			return err
		}
		written += n
		if m.maxExtractedSize > 0 && written > m.maxExtractedSize {
			return apperrors.NewAppValidationError(fmt.Sprintf("archive expands beyond %d bytes", m.maxExtractedSize))
		}
	}

	m.logger.InfoContext(ctx, "archive extracted",
		slog.String("dest", root),
		slog.Int("entries", len(zr.File)),
		slog.Int64("bytes", written))

	return nil
}

func (m *Manager) extractFile(f *zip.File, target string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return 0, apperrors.NewStorageError("failed to create directory", err).WithContext("entry", f.Name)
	}

	src, err := f.Open()
	if err != nil {
		return 0, apperrors.NewParsingError("failed to open archive entry", err).WithContext("entry", f.Name)
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return 0, apperrors.NewStorageError("failed to create file", err).WithContext("entry", f.Name)
	}
	defer dst.Close()

	var r io.Reader = src
	if m.maxExtractedSize > 0 {
		r = io.LimitReader(src, m.maxExtractedSize+1)
	}
	n, err := io.Copy(dst, r)
	if err != nil {
		return n, apperrors.NewStorageError("failed to write archive entry", err).WithContext("entry", f.Name)
	}
	return n, nil
}

// SnapshotDirs locates the Before and After directories below root. Names
// match case-insensitively; an archive wrapping both in a single top-level
// folder is accepted too.
func (m *Manager) SnapshotDirs(root string) (before, after string, err error) {
	discovery := NewDiscovery("")

	dirs, err := discovery.ListDirectories(root)
	if err != nil {
		return "", "", apperrors.NewStorageError("failed to list workspace", err)
	}
	if len(dirs) == 1 && !strings.EqualFold(dirs[0].Name, BeforeDirName) && !strings.EqualFold(dirs[0].Name, AfterDirName) {
		root = dirs[0].Path
	}

	for _, want := range []struct {
		name string
		dst  *string
	}{{BeforeDirName, &before}, {AfterDirName, &after}} {
		dir, ok, err := discovery.FindDirectory(root, want.name)
		if err != nil {
			return "", "", apperrors.NewStorageError("failed to list workspace", err)
		}
		if !ok {
			return "", "", apperrors.NewAppValidationError(fmt.Sprintf("'%s' folder does not exist in the archive", want.name))
		}
		*want.dst = dir.Path
	}

	return before, after, nil
}
