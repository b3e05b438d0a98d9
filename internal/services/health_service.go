package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"kpicompare/internal/config"
	"kpicompare/pkg/contracts"
)

// RunStats reports run counts by status
type RunStats interface {
	Stats() map[string]int
}

// HubStats reports websocket hub counters
type HubStats interface {
	ClientCount() int
	Stats() map[string]interface{}
}

// HealthService provides health check functionality
type HealthService struct {
	version   string
	buildTime string
	paths     *config.Paths
	runs      RunStats
	hub       HubStats
	startTime time.Time
	logger    *slog.Logger
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Runtime   map[string]interface{} `json:"runtime,omitempty"`
	Services  map[string]interface{} `json:"services,omitempty"`
}

// ServiceHealth represents individual service health
type ServiceHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Uptime  string `json:"uptime,omitempty"`
}

// SystemStats represents system statistics
type SystemStats struct {
	UptimeSeconds    float64        `json:"uptime_seconds"`
	Runs             map[string]int `json:"runs"`
	WebSocketClients int            `json:"websocket_clients"`
	Goroutines       int            `json:"goroutines"`
	HeapAllocBytes   uint64         `json:"heap_alloc_bytes"`
	GoVersion        string         `json:"go_version"`
	OS               string         `json:"os"`
	Arch             string         `json:"arch"`
}

// NewHealthService creates a new health service. runs and hub may be nil.
func NewHealthService(version, buildTime string, paths *config.Paths, runs RunStats, hub HubStats, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("HealthService initialized",
		slog.String("version", version),
		slog.String("build_time", buildTime))

	return &HealthService{
		version:   version,
		buildTime: buildTime,
		paths:     paths,
		runs:      runs,
		hub:       hub,
		startTime: time.Now(),
		logger:    logger.With(slog.String("component", "health_service")),
	}
}

// HealthCheck returns overall health status
func (hs *HealthService) HealthCheck(ctx context.Context) HealthStatus {
	hs.logger.DebugContext(ctx, "health check",
		slog.String("uptime", time.Since(hs.startTime).String()))

	return HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   hs.version,
	}
}

// ReadinessCheck reports whether the run store, the hub and the working
// directories are usable
func (hs *HealthService) ReadinessCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:    "ready",
		Timestamp: time.Now(),
		Version:   hs.version,
		Services: map[string]interface{}{
			"runs":      hs.checkRunStore(),
			"websocket": hs.checkWebSocket(),
			"storage":   hs.checkStorage(),
		},
	}

	for _, service := range status.Services {
		if sh, ok := service.(ServiceHealth); ok && sh.Status != "ready" {
			status.Status = "not_ready"
			break
		}
	}
	return status
}

// LivenessCheck returns liveness status
func (hs *HealthService) LivenessCheck(ctx context.Context) HealthStatus {
	return HealthStatus{
		Status:    "alive",
		Timestamp: time.Now(),
		Version:   hs.version,
		Runtime: map[string]interface{}{
			"uptime":     time.Since(hs.startTime).Seconds(),
			"go_version": runtime.Version(),
			"goroutines": runtime.NumGoroutine(),
		},
	}
}

// Version returns version information
func (hs *HealthService) Version() map[string]interface{} {
	build := contracts.GetVersionInfo()
	result := map[string]interface{}{
		"version":      hs.version,
		"git_commit":   build.GitCommit,
		"api_version":  build.APIVersion,
		"data_format":  build.DataFormat,
		"go_version":   build.GoVersion,
		"os":           build.OS,
		"arch":         build.Architecture,
		"uptime":       time.Since(hs.startTime).Seconds(),
		"start_time":   hs.startTime.Format(time.RFC3339),
		"current_time": time.Now().Format(time.RFC3339),
	}
	if hs.buildTime != "" {
		result["build_time"] = hs.buildTime
	}
	return result
}

// SystemStats returns system statistics
func (hs *HealthService) SystemStats(ctx context.Context) SystemStats {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	stats := SystemStats{
		UptimeSeconds:  time.Since(hs.startTime).Seconds(),
		Runs:           map[string]int{},
		Goroutines:     runtime.NumGoroutine(),
		HeapAllocBytes: mem.HeapAlloc,
		GoVersion:      runtime.Version(),
		OS:             runtime.GOOS,
		Arch:           runtime.GOARCH,
	}
	if hs.runs != nil {
		stats.Runs = hs.runs.Stats()
	}
	if hs.hub != nil {
		stats.WebSocketClients = hs.hub.ClientCount()
	}
	return stats
}

func (hs *HealthService) checkRunStore() ServiceHealth {
	if hs.runs == nil {
		return ServiceHealth{Status: "not_ready", Message: "run store not initialized"}
	}
	return ServiceHealth{Status: "ready", Message: "run store is healthy"}
}

func (hs *HealthService) checkWebSocket() ServiceHealth {
	if hs.hub == nil {
		return ServiceHealth{Status: "not_ready", Message: "websocket hub not initialized"}
	}
	return ServiceHealth{
		Status:  "ready",
		Message: fmt.Sprintf("%d clients connected", hs.hub.ClientCount()),
		Uptime:  time.Since(hs.startTime).String(),
	}
}

// checkStorage verifies the work and reports directories are writable
func (hs *HealthService) checkStorage() ServiceHealth {
	if hs.paths == nil {
		return ServiceHealth{Status: "not_ready", Message: "paths not configured"}
	}

	for _, dir := range []string{hs.paths.WorkDir, hs.paths.ReportsDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return ServiceHealth{Status: "not_ready", Message: fmt.Sprintf("cannot create %s: %v", dir, err)}
		}
		probe, err := os.CreateTemp(dir, ".health-*")
		if err != nil {
			return ServiceHealth{Status: "not_ready", Message: fmt.Sprintf("cannot write to %s: %v", dir, err)}
		}
		probe.Close()
		os.Remove(probe.Name())
	}

	return ServiceHealth{Status: "ready", Message: "storage is writable"}
}

// GetDetailedHealth returns comprehensive health information
func (hs *HealthService) GetDetailedHealth(ctx context.Context) map[string]interface{} {
	details := map[string]interface{}{
		"health":    hs.HealthCheck(ctx),
		"readiness": hs.ReadinessCheck(ctx),
		"liveness":  hs.LivenessCheck(ctx),
		"stats":     hs.SystemStats(ctx),
	}
	if hs.hub != nil {
		details["websocket"] = hs.hub.Stats()
	}
	return details
}
