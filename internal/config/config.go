package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Cluster  ClusterConfig  `yaml:"cluster" json:"cluster"`
	Timeouts TimeoutConfig  `yaml:"timeouts" json:"timeouts"`
	DataLoss DataLossConfig `yaml:"data_loss" json:"data_loss"`
	Journal  JournalConfig  `yaml:"journal" json:"journal"`
	Lock     LockConfig     `yaml:"lock" json:"lock"`
	API      APIConfig      `yaml:"api" json:"api"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics" json:"metrics"`
	Tracing  TracingConfig  `yaml:"tracing" json:"tracing"`
}

type ClusterConfig struct {
	Endpoint    string        `yaml:"endpoint" json:"endpoint"`
	DialTimeout time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
	// Simulated runs the engine against an in-process cluster instead of Endpoint.
	Simulated    bool `yaml:"simulated" json:"simulated"`
	SimNodeCount int  `yaml:"sim_node_count" json:"sim_node_count"`
	Seed         int64 `yaml:"seed" json:"seed"`
}

type TimeoutConfig struct {
	Request         time.Duration `yaml:"request" json:"request"`                   // per remote call
	Action          time.Duration `yaml:"action" json:"action"`                     // whole action
	RetryBackoff    time.Duration `yaml:"retry_backoff" json:"retry_backoff"`       // between retried calls
	PollInterval    time.Duration `yaml:"poll_interval" json:"poll_interval"`       // postcondition and stability polls
	RulePropagation time.Duration `yaml:"rule_propagation" json:"rule_propagation"` // wait after installing a fault rule
}

type DataLossConfig struct {
	PollAttempts int           `yaml:"poll_attempts" json:"poll_attempts"`
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
	MaxAttempts  int           `yaml:"max_attempts" json:"max_attempts"` // 0 = bounded by the action deadline only
}

type JournalConfig struct {
	Path     string `yaml:"path" json:"path"`
	InMemory bool   `yaml:"in_memory" json:"in_memory"`
}

type LockConfig struct {
	Backend       string        `yaml:"backend" json:"backend"` // local, redis
	RedisAddr     string        `yaml:"redis_addr" json:"redis_addr"`
	RedisPassword string        `yaml:"redis_password" json:"redis_password"`
	RedisDB       int           `yaml:"redis_db" json:"redis_db"`
	KeyPrefix     string        `yaml:"key_prefix" json:"key_prefix"`
	TTL           time.Duration `yaml:"ttl" json:"ttl"`
}

type APIConfig struct {
	Host         string        `yaml:"host" json:"host"`
	Port         int           `yaml:"port" json:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

type TracingConfig struct {
	Enabled        bool              `yaml:"enabled" json:"enabled"`
	ServiceName    string            `yaml:"service_name" json:"service_name"`
	ServiceVersion string            `yaml:"service_version" json:"service_version"`
	Environment    string            `yaml:"environment" json:"environment"`
	ExporterType   string            `yaml:"exporter_type" json:"exporter_type"`
	OTLPEndpoint   string            `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	OTLPHeaders    map[string]string `yaml:"otlp_headers" json:"otlp_headers"`
	SamplingRatio  float64           `yaml:"sampling_ratio" json:"sampling_ratio"`
}

func Load(configPath string) (*Config, error) {
	config := DefaultConfig()

	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	loadFromEnvironment(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func DefaultConfig() *Config {
	return &Config{
		Cluster: ClusterConfig{
			Endpoint:     "localhost:19000",
			DialTimeout:  10 * time.Second,
			Simulated:    false,
			SimNodeCount: 5,
			Seed:         0,
		},
		Timeouts: TimeoutConfig{
			Request:         30 * time.Second,
			Action:          10 * time.Minute,
			RetryBackoff:    5 * time.Second,
			PollInterval:    5 * time.Second,
			RulePropagation: 10 * time.Second,
		},
		DataLoss: DataLossConfig{
			PollAttempts: 30,
			PollInterval: 2 * time.Second,
			MaxAttempts:  0,
		},
		Journal: JournalConfig{
			Path:     "./data/journal",
			InMemory: false,
		},
		Lock: LockConfig{
			Backend:   "local",
			RedisAddr: "localhost:6379",
			KeyPrefix: "chaos:",
			TTL:       15 * time.Minute,
		},
		API: APIConfig{
			Host:         "localhost",
			Port:         8088,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled:        false,
			ServiceName:    "cluster-chaos",
			ServiceVersion: "1.0.0",
			Environment:    "development",
			ExporterType:   "console",
			OTLPEndpoint:   "localhost:4318",
			OTLPHeaders:    make(map[string]string),
			SamplingRatio:  1.0,
		},
	}
}

func loadFromFile(config *Config, configPath string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(configPath))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to unmarshal YAML config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}

	return nil
}

func loadFromEnvironment(config *Config) {
	// Cluster configuration
	if endpoint := os.Getenv("CHAOS_CLUSTER_ENDPOINT"); endpoint != "" {
		config.Cluster.Endpoint = endpoint
	}
	if simulated := os.Getenv("CHAOS_CLUSTER_SIMULATED"); simulated != "" {
		if b, err := strconv.ParseBool(simulated); err == nil {
			config.Cluster.Simulated = b
		}
	}

	// Timeouts
	if d, ok := durationEnv("CHAOS_REQUEST_TIMEOUT"); ok {
		config.Timeouts.Request = d
	}
	if d, ok := durationEnv("CHAOS_ACTION_TIMEOUT"); ok {
		config.Timeouts.Action = d
	}
	if d, ok := durationEnv("CHAOS_RETRY_BACKOFF"); ok {
		config.Timeouts.RetryBackoff = d
	}

	// Journal
	if path := os.Getenv("CHAOS_JOURNAL_PATH"); path != "" {
		config.Journal.Path = path
	}
	if inMemory := os.Getenv("CHAOS_JOURNAL_IN_MEMORY"); inMemory != "" {
		if b, err := strconv.ParseBool(inMemory); err == nil {
			config.Journal.InMemory = b
		}
	}

	// Lock
	if backend := os.Getenv("CHAOS_LOCK_BACKEND"); backend != "" {
		config.Lock.Backend = backend
	}
	if addr := os.Getenv("CHAOS_REDIS_ADDR"); addr != "" {
		config.Lock.RedisAddr = addr
	}
	if password := os.Getenv("CHAOS_REDIS_PASSWORD"); password != "" {
		config.Lock.RedisPassword = password
	}

	// API
	if port := os.Getenv("CHAOS_API_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.API.Port = p
		}
	}

	// Logging configuration
	if level := os.Getenv("CHAOS_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("CHAOS_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}

	// Metrics configuration
	if enabled := os.Getenv("CHAOS_METRICS_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			config.Metrics.Enabled = b
		}
	}
}

func durationEnv(key string) (time.Duration, bool) {
	value := os.Getenv(key)
	if value == "" {
		return 0, false
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, false
	}
	return d, true
}

func (c *Config) Validate() error {
	// Cluster validation
	if !c.Cluster.Simulated && c.Cluster.Endpoint == "" {
		return fmt.Errorf("cluster endpoint cannot be empty unless simulated")
	}
	if c.Cluster.Simulated && c.Cluster.SimNodeCount <= 0 {
		return fmt.Errorf("simulated cluster needs at least one node")
	}

	// Timeout validation
	if c.Timeouts.Request <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}
	if c.Timeouts.Action <= c.Timeouts.Request {
		return fmt.Errorf("action timeout must be greater than request timeout")
	}
	if c.Timeouts.RetryBackoff <= 0 {
		return fmt.Errorf("retry backoff must be positive")
	}
	if c.Timeouts.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.Timeouts.RulePropagation < 0 {
		return fmt.Errorf("rule propagation wait cannot be negative")
	}

	// Data loss validation
	if c.DataLoss.PollAttempts <= 0 {
		return fmt.Errorf("data loss poll attempts must be positive")
	}
	if c.DataLoss.PollInterval <= 0 {
		return fmt.Errorf("data loss poll interval must be positive")
	}
	if c.DataLoss.MaxAttempts < 0 {
		return fmt.Errorf("data loss max attempts cannot be negative")
	}

	// Journal validation
	if !c.Journal.InMemory && c.Journal.Path == "" {
		return fmt.Errorf("journal path cannot be empty when not using in-memory journal")
	}

	// Lock validation
	switch strings.ToLower(c.Lock.Backend) {
	case "local":
	case "redis":
		if c.Lock.RedisAddr == "" {
			return fmt.Errorf("redis address cannot be empty when lock backend is redis")
		}
	default:
		return fmt.Errorf("invalid lock backend: %s", c.Lock.Backend)
	}
	if c.Lock.TTL <= 0 {
		return fmt.Errorf("lock TTL must be positive")
	}

	// API validation
	if c.API.Port < 0 || c.API.Port > 65535 {
		return fmt.Errorf("invalid api port: %d", c.API.Port)
	}

	// Logging validation
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	validFormats := map[string]bool{
		"json": true, "text": true, "console": true,
	}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	// Metrics validation
	if c.Metrics.Enabled && c.Metrics.Path == "" {
		return fmt.Errorf("metrics path cannot be empty when metrics are enabled")
	}

	// Tracing validation
	if c.Tracing.Enabled {
		switch c.Tracing.ExporterType {
		case "otlp", "console":
		default:
			return fmt.Errorf("unsupported tracing exporter: %s", c.Tracing.ExporterType)
		}
	}

	return nil
}

func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}
