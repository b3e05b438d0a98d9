// Package shared holds helpers used across packages that belong to no
// single layer.
//
// testutil provides an in-memory slog handler for asserting on logs and
// builders for BEFORE/AFTER node log fixtures, on disk or zipped. It is
// imported only from _test.go files.
package shared
