package files

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "kpicompare/internal/errors"
)

func newTestManager(t *testing.T, maxSize int64) *Manager {
	t.Helper()
	return NewManager(t.TempDir(), maxSize, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func buildZip(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestWorkspaceLifecycle(t *testing.T) {
	m := newTestManager(t, 0)

	dir, err := m.CreateWorkspace("run")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filepath.Base(dir), "run-"))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	m.RemoveWorkspace(dir)
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))

	m.RemoveWorkspace("")
}

func TestExtractZip(t *testing.T) {
	m := newTestManager(t, 0)
	data := buildZip(t, map[string]string{
		"Before/NodeA.log": "GREP_KPI_LTE; Object; Counter; 2024-01-01 00:00\n",
		"After/NodeA.log":  "GREP_KPI_LTE; Object; Counter; 2024-01-01 01:00\n",
		"After/empty/":     "",
	})

	dest := t.TempDir()
	require.NoError(t, m.ExtractZip(context.Background(), bytes.NewReader(data), int64(len(data)), dest))

	content, err := os.ReadFile(filepath.Join(dest, "Before", "NodeA.log"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "2024-01-01 00:00")

	info, err := os.Stat(filepath.Join(dest, "After", "empty"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestExtractZipFile(t *testing.T) {
	m := newTestManager(t, 0)
	path := filepath.Join(t.TempDir(), "upload.zip")
	require.NoError(t, os.WriteFile(path, buildZip(t, map[string]string{"Before/a.log": "x"}), 0644))

	dest := t.TempDir()
	require.NoError(t, m.ExtractZipFile(context.Background(), path, dest))
	assert.FileExists(t, filepath.Join(dest, "Before", "a.log"))

	err := m.ExtractZipFile(context.Background(), filepath.Join(t.TempDir(), "missing.zip"), dest)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeParsing))
}

func TestExtractZip_Rejects(t *testing.T) {
	tests := []struct {
		name     string
		entries  map[string]string
		maxSize  int64
		wantType apperrors.ErrorType
	}{
		{"zip slip", map[string]string{"../evil.log": "x"}, 0, apperrors.ErrTypeValidation},
		{"nested zip slip", map[string]string{"Before/../../evil.log": "x"}, 0, apperrors.ErrTypeValidation},
		{"too large", map[string]string{"Before/a.log": strings.Repeat("x", 100)}, 10, apperrors.ErrTypeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(t, tt.maxSize)
			data := buildZip(t, tt.entries)
			dest := t.TempDir()

			err := m.ExtractZip(context.Background(), bytes.NewReader(data), int64(len(data)), dest)
			require.Error(t, err)
			assert.Equal(t, tt.wantType, apperrors.TypeOf(err))
			assert.NoFileExists(t, filepath.Join(filepath.Dir(dest), "evil.log"))
		})
	}

	m := newTestManager(t, 0)
	err := m.ExtractZip(context.Background(), bytes.NewReader([]byte("not a zip")), 9, t.TempDir())
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeParsing))
}

func TestExtractZip_Canceled(t *testing.T) {
	m := newTestManager(t, 0)
	data := buildZip(t, map[string]string{"Before/a.log": "x"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.ExtractZip(ctx, bytes.NewReader(data), int64(len(data)), t.TempDir())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSnapshotDirs(t *testing.T) {
	m := newTestManager(t, 0)

	t.Run("at root", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(root, "before"), 0755))
		require.NoError(t, os.MkdirAll(filepath.Join(root, "After"), 0755))

		before, after, err := m.SnapshotDirs(root)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(root, "before"), before)
		assert.Equal(t, filepath.Join(root, "After"), after)
	})

	t.Run("wrapped in one folder", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(root, "export", "Before"), 0755))
		require.NoError(t, os.MkdirAll(filepath.Join(root, "export", "After"), 0755))

		before, after, err := m.SnapshotDirs(root)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(root, "export", "Before"), before)
		assert.Equal(t, filepath.Join(root, "export", "After"), after)
	})

	t.Run("missing after", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(root, "Before"), 0755))

		_, _, err := m.SnapshotDirs(root)
		require.Error(t, err)
		assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))
		assert.Contains(t, err.Error(), "'After' folder does not exist")
	})

	t.Run("missing root", func(t *testing.T) {
		_, _, err := m.SnapshotDirs(filepath.Join(t.TempDir(), "gone"))
		assert.True(t, apperrors.IsType(err, apperrors.ErrTypeStorage))
	})
}
