// Package app wires the comparison server together and manages its lifecycle.
//
// # Initialization Flow
//
//  1. Load configuration (defaults, then YAML, then KPI_* environment variables)
//  2. Initialize the global slog logger and OpenTelemetry providers
//  3. Resolve and create the data, work, reports and logs directories
//  4. Create the run store, workspace manager and websocket hub
//  5. Create the comparison and health services
//  6. Build the chi router and the HTTP server
//
// # Usage
//
//	application, err := app.NewApplication(configFile)
//	if err != nil {
//	    return err
//	}
//	return application.Run(ctx)
//
// # Graceful Shutdown
//
// Run returns on SIGINT, SIGTERM or when ctx is done. Stop drains the HTTP
// server, cancels comparisons still running, closes websocket clients,
// flushes telemetry and closes the log file, in that order.
//
// Initialization errors are returned to the caller; the package never calls
// os.Exit.
package app
