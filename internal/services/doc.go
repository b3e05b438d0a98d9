// Package services implements the business logic between the HTTP handlers
// and the snapshot pipeline.
//
// ComparisonService owns comparison runs. A run assembles the BEFORE and
// AFTER snapshot of every configured counter family concurrently, merges
// each pair into a comparison table and keeps the results in a RunStore.
// Progress is reported through a websocket Publisher while the run is in
// flight. Finished runs can be filtered, aggregated, ranked, charted and
// exported as CSV or xlsx.
//
// HealthService reports liveness, readiness and runtime statistics.
//
// Errors returned by services are *errors.AppError values whose Type drives
// the HTTP status; the sentinels in errors.go are their causes and can be
// matched with errors.Is.
package services
