package config

import (
	"time"

	"kpicompare/pkg/contracts"
)

// Application constants
const (
	// Application Info
	AppName    = "kpicompare"
	AppVersion = contracts.Version

	// Rate Limiting
	DefaultRateLimitRPS = 20 // requests per second
	DefaultBurstSize    = 40

	// Upload and extraction limits
	DefaultMaxUploadBytes    = 512 << 20 // 512MB
	DefaultMaxExtractedBytes = 4 << 30   // 4GB

	// Pipeline defaults
	DefaultLogExtension = ".log"
	DefaultRankSize     = 10
	DefaultMaxRuns      = 20
	DefaultRunTimeout   = 30 * time.Minute

	// WebSocket
	WebSocketPingPeriod = 30 * time.Second
	WebSocketPongWait   = 60 * time.Second

	// File Paths (relative to the base directory)
	DefaultDataDir    = "data"
	DefaultWorkDir    = "data/work"
	DefaultReportsDir = "data/reports"
	DefaultLogsDir    = "logs"

	// Report files
	ReportFilePrefix = "KPI_Report"
)

// API Endpoints
const (
	APIBasePath     = "/api/v1"
	RunsEndpoint    = "/api/v1/runs"
	HealthEndpoint  = "/health"
	MetricsEndpoint = "/metrics"
)
