// Package exporter writes comparison results to files.
//
// WriteTable and CSVWriter write a single table as CSV, optionally with a
// UTF-8 BOM for Excel and with the three-row header of a comparison table.
//
// WorkbookExporter writes a whole run as an xlsx workbook: a Summary sheet,
// KPI_<FAMILY>_BEFORE and KPI_<FAMILY>_AFTER snapshot sheets, and a
// Compare_<FAMILY> sheet for every family whose snapshots were merged.
//
// Example usage:
//
//	exp := exporter.NewWorkbookExporter(logger)
//	if err := exp.Save(paths.GetRunReportPath(run.ID, time.Now()), run); err != nil {
//		return err
//	}
package exporter
