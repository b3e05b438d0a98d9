// Package files locates counter log files and manages the scratch
// workspaces uploaded archives are extracted into.
//
// Discovery lists the log files of a snapshot directory smallest first, the
// order in which the assembler reads them. Manager extracts a zip archive
// holding Before/ and After/ directories, rejecting entries that would land
// outside the workspace or expand past the configured size.
//
//	m := files.NewManager(workDir, maxBytes, logger)
//	ws, _ := m.CreateWorkspace("run")
//	defer m.RemoveWorkspace(ws)
//	_ = m.ExtractZipFile(ctx, "upload.zip", ws)
//	before, after, err := m.SnapshotDirs(ws)
package files
