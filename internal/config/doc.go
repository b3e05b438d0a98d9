// Package config provides centralized configuration management for the KPI
// comparison service and CLI.
//
// # Configuration Sources
//
// Configuration is assembled from the following sources, later ones winning:
//
//  1. Built-in defaults (Default)
//  2. A YAML file: $KPI_CONFIG_FILE, config.yaml or configs/config.yaml
//  3. Environment variables
//
// # Environment Variables
//
// All environment variables follow the pattern KPI_<SECTION>_<FIELD>:
//
//	KPI_SERVER_PORT=8080
//	KPI_LOGGING_LEVEL=debug
//	KPI_PIPELINE_FAMILIES=5G=GREP_KPI_5G,LTE=GREP_KPI_LTE
//	KPI_PIPELINE_BEFORE_START="2024-01-01 00:00"
//	KPI_PIPELINE_MAX_ROP=68
//
// # Path Management
//
// Directories are resolved once through ResolvePaths, relative to
// paths.base_dir or the executable location:
//
//	paths, err := config.ResolvePaths(cfg.Paths)
//	report := paths.GetRunReportPath(runID, time.Now())
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Testing
//
// Use config.Default() for a valid configuration that needs no environment,
// or config.LoadFrom with a temporary YAML file.
package config
