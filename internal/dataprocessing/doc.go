// Package dataprocessing turns per-node counter logs into comparison tables.
//
// # Architecture
//
// The package is organized into five components:
//
// 1. Parser: classifies prefixed log lines into header and data records
// 2. Node tables: aligns the values of one file to its declared datetimes
// 3. Assembler: unions the node tables of a snapshot directory, applying the
// start bound and the return-of-period cap
// 4. Merger: pivots a BEFORE and an AFTER snapshot into one wide table
// 5. Aggregation: reduces snapshot tables per group, with ranking and chart
// helpers built on top
//
// # Usage
//
//	assembler := dataprocessing.NewAssembler(dataprocessing.DefaultAssemblerConfig(), logger)
//	start, err := dataprocessing.ParseStartBound("2024-01-01 00:10")
//	if err != nil {
//	    return err
//	}
//	before, err := assembler.Assemble(ctx, "Before", "GREP_KPI_5G", start, nil)
//	...
//	comparison, ok := dataprocessing.Merge(before.Table, after.Table)
//	if !ok {
//	    // no counters on either side
//	}
//
// # Data Flow
//
//	log dir → ParseRecords → BuildNodeTable → Assemble → Merge → comparison table
//	snapshot table → Aggregate → Rank / BuildChartSeries
//
// # Missing Values
//
// Every table uses domain.NotAvailable ("N/A") for missing cells. Aggregation
// treats it, and any other non-numeric cell, as absent.
//
// # Alignment
//
// Values are matched to datetimes by position inside a file, never by label.
// Files whose data lines carry a different number of values than their
// headers declare, or whose header lines disagree, are reported through
// Diagnostics and logged, but produce the same tables.
package dataprocessing
