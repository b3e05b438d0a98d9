package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	"kpicompare/pkg/contracts/domain"
)

// EnvPrefix namespaces every environment variable (KPI_SERVER_PORT, ...)
const EnvPrefix = "KPI"

// ConfigFileEnv names the variable pointing at an explicit YAML config file
const ConfigFileEnv = "KPI_CONFIG_FILE"

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Security  SecurityConfig  `yaml:"security" envconfig:"SECURITY"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Paths     PathsConfig     `yaml:"paths" envconfig:"PATHS"`
	Pipeline  PipelineConfig  `yaml:"pipeline" envconfig:"PIPELINE"`
	WebSocket WebSocketConfig `yaml:"websocket" envconfig:"WEBSOCKET"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes" envconfig:"MAX_UPLOAD_BYTES"`
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	AllowedOrigins []string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	EnableCORS     bool            `yaml:"enable_cors" envconfig:"ENABLE_CORS"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS"`
	Burst   int     `yaml:"burst" envconfig:"BURST"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`
	Format   string `yaml:"format" envconfig:"FORMAT"`
	Output   string `yaml:"output" envconfig:"OUTPUT"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// PathsConfig contains file system paths configuration.
// Relative directories resolve against BaseDir, or the executable directory
// when BaseDir is empty.
type PathsConfig struct {
	BaseDir    string `yaml:"base_dir" envconfig:"BASE_DIR"`
	DataDir    string `yaml:"data_dir" envconfig:"DATA_DIR"`
	WorkDir    string `yaml:"work_dir" envconfig:"WORK_DIR"`
	ReportsDir string `yaml:"reports_dir" envconfig:"REPORTS_DIR"`
	LogsDir    string `yaml:"logs_dir" envconfig:"LOGS_DIR"`
}

// PipelineConfig controls snapshot assembly and comparison runs
type PipelineConfig struct {
	Families          FamilyList    `yaml:"families" envconfig:"FAMILIES"`
	MaxROP            int           `yaml:"max_rop" envconfig:"MAX_ROP"`
	LogExtension      string        `yaml:"log_extension" envconfig:"LOG_EXTENSION"`
	BeforeStart       string        `yaml:"before_start" envconfig:"BEFORE_START"`
	AfterStart        string        `yaml:"after_start" envconfig:"AFTER_START"`
	RankSize          int           `yaml:"rank_size" envconfig:"RANK_SIZE"`
	MaxExtractedBytes int64         `yaml:"max_extracted_bytes" envconfig:"MAX_EXTRACTED_BYTES"`
	MaxRuns           int           `yaml:"max_runs" envconfig:"MAX_RUNS"`
	RunTimeout        time.Duration `yaml:"run_timeout" envconfig:"RUN_TIMEOUT"`
}

// WebSocketConfig contains WebSocket configuration
type WebSocketConfig struct {
	ReadBufferSize  int           `yaml:"read_buffer_size" envconfig:"READ_BUFFER_SIZE"`
	WriteBufferSize int           `yaml:"write_buffer_size" envconfig:"WRITE_BUFFER_SIZE"`
	PingPeriod      time.Duration `yaml:"ping_period" envconfig:"PING_PERIOD"`
	PongWait        time.Duration `yaml:"pong_wait" envconfig:"PONG_WAIT"`
}

// TelemetryConfig contains OpenTelemetry configuration
type TelemetryConfig struct {
	ServiceName   string `yaml:"service_name" envconfig:"SERVICE_NAME"`
	Environment   string `yaml:"environment" envconfig:"ENVIRONMENT"`
	EnableTracing bool   `yaml:"enable_tracing" envconfig:"ENABLE_TRACING"`
	EnableMetrics bool   `yaml:"enable_metrics" envconfig:"ENABLE_METRICS"`
	TraceToStdout bool   `yaml:"trace_to_stdout" envconfig:"TRACE_TO_STDOUT"`
}

// FamilyList is the ordered set of counter families a run compares.
// From the environment it reads as "5G=GREP_KPI_5G,LTE=GREP_KPI_LTE".
type FamilyList []domain.Family

// Decode implements envconfig.Decoder
func (f *FamilyList) Decode(value string) error {
	var out FamilyList
	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		name, prefix, ok := strings.Cut(item, "=")
		name, prefix = strings.TrimSpace(name), strings.TrimSpace(prefix)
		if !ok || name == "" || prefix == "" {
			return fmt.Errorf("invalid family %q: expected NAME=PREFIX", item)
		}
		out = append(out, domain.Family{Name: name, Prefix: prefix})
	}
	*f = out
	return nil
}

// Names returns the family names in configuration order
func (f FamilyList) Names() []string {
	names := make([]string, len(f))
	for i, fam := range f {
		names[i] = fam.Name
	}
	return names
}

// Lookup finds a family by name (case-insensitive)
func (f FamilyList) Lookup(name string) (domain.Family, bool) {
	for _, fam := range f {
		if strings.EqualFold(fam.Name, name) {
			return fam, true
		}
	}
	return domain.Family{}, false
}

// Load builds the configuration from defaults, then the YAML config file if
// one exists, then environment variables. Later sources win.
func Load() (*Config, error) {
	return LoadFrom(getConfigFilePath())
}

// LoadFrom is Load with an explicit config file; an empty path skips the file
func LoadFrom(configFile string) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// fields without a matching variable keep their current value
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays the YAML file onto cfg
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// validate validates the configuration and normalizes fixed settings
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}

	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("max upload size must be positive")
	}

	if c.Security.EnableCORS && len(c.Security.AllowedOrigins) == 0 {
		return fmt.Errorf("at least one allowed origin must be specified")
	}

	if c.Security.RateLimit.Enabled && (c.Security.RateLimit.RPS <= 0 || c.Security.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate limit rps and burst must be positive")
	}

	if err := c.Pipeline.validate(); err != nil {
		return err
	}

	// logs are always structured JSON
	c.Logging.Format = "json"

	switch c.Logging.Output {
	case "console", "file", "both":
	default:
		return fmt.Errorf("invalid logging output: %q", c.Logging.Output)
	}

	if c.Logging.Output != "console" && c.Logging.FilePath == "" {
		c.Logging.FilePath = "logs/app.log"
	}

	return nil
}

func (p *PipelineConfig) validate() error {
	if len(p.Families) == 0 {
		return fmt.Errorf("at least one counter family must be configured")
	}

	seen := make(map[string]bool, len(p.Families))
	for _, fam := range p.Families {
		key := strings.ToUpper(fam.Name)
		if seen[key] {
			return fmt.Errorf("duplicate counter family %q", fam.Name)
		}
		seen[key] = true
		if fam.Prefix == "" {
			return fmt.Errorf("counter family %q has no line prefix", fam.Name)
		}
	}

	if p.MaxROP <= 0 {
		return fmt.Errorf("max_rop must be positive")
	}

	if !strings.HasPrefix(p.LogExtension, ".") {
		return fmt.Errorf("log extension must start with '.': %q", p.LogExtension)
	}

	for name, start := range map[string]string{"before_start": p.BeforeStart, "after_start": p.AfterStart} {
		if start == domain.NoStart || start == "" {
			continue
		}
		if _, err := time.Parse(domain.DatetimeLayout, start); err != nil {
			return fmt.Errorf("invalid %s %q: expected %s or YYYY-MM-DD HH:MM", name, start, domain.NoStart)
		}
	}

	if p.RankSize <= 0 {
		return fmt.Errorf("rank_size must be positive")
	}

	return nil
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	if explicit := os.Getenv(ConfigFileEnv); explicit != "" {
		return explicit
	}

	// Check for config file in common locations
	locations := []string{
		"config.yaml",
		"configs/config.yaml",
		"../configs/config.yaml",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return "" // No config file found, use env vars only
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    5 * time.Minute,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20, // 1MB
			ShutdownTimeout: 30 * time.Second,
			MaxUploadBytes:  DefaultMaxUploadBytes,
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"http://localhost:8080"},
			EnableCORS:     true,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     DefaultRateLimitRPS,
				Burst:   DefaultBurstSize,
			},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "console",
			FilePath: "logs/app.log",
		},
		Paths: PathsConfig{
			DataDir:    DefaultDataDir,
			WorkDir:    DefaultWorkDir,
			ReportsDir: DefaultReportsDir,
			LogsDir:    DefaultLogsDir,
		},
		Pipeline: PipelineConfig{
			Families:          FamilyList(domain.DefaultFamilies()),
			MaxROP:            domain.MaxROP,
			LogExtension:      DefaultLogExtension,
			BeforeStart:       domain.NoStart,
			AfterStart:        domain.NoStart,
			RankSize:          DefaultRankSize,
			MaxExtractedBytes: DefaultMaxExtractedBytes,
			MaxRuns:           DefaultMaxRuns,
			RunTimeout:        DefaultRunTimeout,
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			PingPeriod:      WebSocketPingPeriod,
			PongWait:        WebSocketPongWait,
		},
		Telemetry: TelemetryConfig{
			ServiceName:   AppName,
			Environment:   "development",
			EnableTracing: true,
			EnableMetrics: true,
		},
	}
}

