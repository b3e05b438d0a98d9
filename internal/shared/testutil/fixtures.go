package testutil

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// LogLines renders one family block of a node log: a header line with the
// datetimes followed by one line per row ("Object; Counter; v1; v2").
func LogLines(prefix string, datetimes []string, rows ...string) string {
	var b strings.Builder
	b.WriteString(prefix + "; Object; Counter; " + strings.Join(datetimes, "; ") + ";\n")
	for _, row := range rows {
		b.WriteString(prefix + "; " + row + ";\n")
	}
	return b.String()
}

// Snapshots is a small BEFORE/AFTER tree: two 5G nodes before, one after
func Snapshots() map[string]string {
	before := []string{"2024-01-01 00:00", "2024-01-01 00:15"}
	return map[string]string{
		"Before/NodeA.log": LogLines("GREP_KPI_5G", before, "Cell=1; pmA; 1; 2"),
		"Before/NodeB.log": LogLines("GREP_KPI_5G", before, "Cell=1; pmA; 3; 4"),
		"After/NodeA.log":  LogLines("GREP_KPI_5G", []string{"2024-01-02 00:00"}, "Cell=1; pmA; 7"),
	}
}

// WriteTree writes entries (slash-separated relative paths) below root
func WriteTree(t testing.TB, root string, entries map[string]string) {
	t.Helper()
	for name, content := range entries {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
}

// ZipTree builds a zip archive of entries, each placed under prefix
func ZipTree(t testing.TB, prefix string, entries map[string]string) []byte {
	t.Helper()

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		w, err := zw.Create(prefix + name)
		require.NoError(t, err)
		_, err = w.Write([]byte(entries[name]))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}
