// Package http implements the HTTP handlers of the comparison API. Handlers
// stay thin: they parse and validate the request, call a service and render
// the result, leaving business rules to internal/services.
//
// # Routes
//
//	POST   /api/v1/runs                                    submit a zip archive (multipart "archive")
//	GET    /api/v1/runs                                    list runs (?status=&limit=)
//	GET    /api/v1/runs/{runID}                            run summary
//	DELETE /api/v1/runs/{runID}                            delete a finished run
//	GET    /api/v1/runs/{runID}/progress                   websocket progress stream
//	GET    /api/v1/runs/{runID}/export.xlsx                workbook of every family
//	GET    /api/v1/runs/{runID}/families/{family}          datetimes, counters, nodes
//	GET    /api/v1/runs/{runID}/families/{family}/table    filtered or aggregated table
//	GET    /api/v1/runs/{runID}/families/{family}/table.csv
//	GET    /api/v1/runs/{runID}/families/{family}/chart    per-row series of one counter
//	GET    /api/v1/runs/{runID}/families/{family}/rank     lowest and highest nodes
//
// Table queries take phase (BEFORE, AFTER or COMPARE), counter, nodes
// (repeated or comma-separated), from and to (datetime column indexes),
// mode (ALL, NODENAME, OBJECT) and method (AVERAGE, MAX, MIN, SUM). Enum
// values are case-insensitive.
//
// # Errors
//
// Every failure is answered through errors.ErrorHandler as an RFC 7807
// problem document carrying the request's trace_id.
package http
