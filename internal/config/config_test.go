package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Timeouts.RetryBackoff != 5*time.Second {
		t.Errorf("Expected default retry backoff to be 5s, got %v", config.Timeouts.RetryBackoff)
	}

	if config.Lock.Backend != "local" {
		t.Errorf("Expected default lock backend to be local, got %s", config.Lock.Backend)
	}

	if config.DataLoss.MaxAttempts != 0 {
		t.Errorf("Expected data loss to be deadline-bounded by default, got cap %d", config.DataLoss.MaxAttempts)
	}

	if err := config.Validate(); err != nil {
		t.Errorf("Expected default config to be valid, got %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "chaos.yaml")

	configContent := `
cluster:
  endpoint: "10.0.0.4:19000"
  dial_timeout: 3s

timeouts:
  request: 15s
  action: 5m
  retry_backoff: 1s
  poll_interval: 2s
  rule_propagation: 0s

data_loss:
  poll_attempts: 10
  poll_interval: 500ms
  max_attempts: 3

journal:
  in_memory: true

lock:
  backend: "redis"
  redis_addr: "redis:6379"
  ttl: 1m

logging:
  level: "debug"
  format: "text"
`

	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write test config file: %v", err)
	}

	config, err := Load(configFile)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if config.Cluster.Endpoint != "10.0.0.4:19000" {
		t.Errorf("Expected endpoint to be 10.0.0.4:19000, got %s", config.Cluster.Endpoint)
	}

	if config.Timeouts.Request != 15*time.Second {
		t.Errorf("Expected request timeout to be 15s, got %v", config.Timeouts.Request)
	}

	if config.Timeouts.RulePropagation != 0 {
		t.Errorf("Expected rule propagation to be 0, got %v", config.Timeouts.RulePropagation)
	}

	if config.DataLoss.MaxAttempts != 3 {
		t.Errorf("Expected data loss cap to be 3, got %d", config.DataLoss.MaxAttempts)
	}

	if config.Lock.Backend != "redis" || config.Lock.RedisAddr != "redis:6379" {
		t.Errorf("Expected redis lock at redis:6379, got %s at %s", config.Lock.Backend, config.Lock.RedisAddr)
	}

	if !config.Journal.InMemory {
		t.Error("Expected in-memory journal")
	}

	if config.Logging.Level != "debug" {
		t.Errorf("Expected log level to be debug, got %s", config.Logging.Level)
	}
}

func TestLoadUnsupportedFormat(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "chaos.toml")
	if err := os.WriteFile(configFile, []byte("x = 1"), 0644); err != nil {
		t.Fatalf("Failed to write test config file: %v", err)
	}

	if _, err := Load(configFile); err == nil {
		t.Error("Expected error for unsupported config format")
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("CHAOS_CLUSTER_ENDPOINT", "env-host:19000")
	t.Setenv("CHAOS_REQUEST_TIMEOUT", "12s")
	t.Setenv("CHAOS_ACTION_TIMEOUT", "2m")
	t.Setenv("CHAOS_LOCK_BACKEND", "redis")
	t.Setenv("CHAOS_REDIS_ADDR", "cache:6380")
	t.Setenv("CHAOS_LOG_LEVEL", "error")

	config, err := Load("")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if config.Cluster.Endpoint != "env-host:19000" {
		t.Errorf("Expected endpoint to be env-host:19000, got %s", config.Cluster.Endpoint)
	}

	if config.Timeouts.Request != 12*time.Second {
		t.Errorf("Expected request timeout to be 12s, got %v", config.Timeouts.Request)
	}

	if config.Timeouts.Action != 2*time.Minute {
		t.Errorf("Expected action timeout to be 2m, got %v", config.Timeouts.Action)
	}

	if config.Lock.RedisAddr != "cache:6380" {
		t.Errorf("Expected redis addr to be cache:6380, got %s", config.Lock.RedisAddr)
	}

	if config.Logging.Level != "error" {
		t.Errorf("Expected log level to be error, got %s", config.Logging.Level)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		configFunc  func() *Config
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid config",
			configFunc: func() *Config {
				return DefaultConfig()
			},
			expectError: false,
		},
		{
			name: "empty endpoint",
			configFunc: func() *Config {
				config := DefaultConfig()
				config.Cluster.Endpoint = ""
				return config
			},
			expectError: true,
			errorMsg:    "cluster endpoint cannot be empty",
		},
		{
			name: "simulated cluster needs no endpoint",
			configFunc: func() *Config {
				config := DefaultConfig()
				config.Cluster.Endpoint = ""
				config.Cluster.Simulated = true
				return config
			},
			expectError: false,
		},
		{
			name: "action timeout not above request timeout",
			configFunc: func() *Config {
				config := DefaultConfig()
				config.Timeouts.Action = config.Timeouts.Request
				return config
			},
			expectError: true,
			errorMsg:    "action timeout must be greater than request timeout",
		},
		{
			name: "negative data loss cap",
			configFunc: func() *Config {
				config := DefaultConfig()
				config.DataLoss.MaxAttempts = -1
				return config
			},
			expectError: true,
			errorMsg:    "data loss max attempts cannot be negative",
		},
		{
			name: "unknown lock backend",
			configFunc: func() *Config {
				config := DefaultConfig()
				config.Lock.Backend = "etcd"
				return config
			},
			expectError: true,
			errorMsg:    "invalid lock backend",
		},
		{
			name: "invalid log level",
			configFunc: func() *Config {
				config := DefaultConfig()
				config.Logging.Level = "invalid"
				return config
			},
			expectError: true,
			errorMsg:    "invalid log level",
		},
		{
			name: "unsupported tracing exporter",
			configFunc: func() *Config {
				config := DefaultConfig()
				config.Tracing.Enabled = true
				config.Tracing.ExporterType = "jaeger"
				return config
			},
			expectError: true,
			errorMsg:    "unsupported tracing exporter",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := tt.configFunc()
			err := config.Validate()

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected validation error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error containing %q, got %q", tt.errorMsg, err.Error())
				}
			} else {
				if err != nil {
					t.Errorf("Expected no validation error but got: %v", err)
				}
			}
		})
	}
}

func TestConfigString(t *testing.T) {
	configStr := DefaultConfig().String()

	if configStr == "" {
		t.Error("Config string should not be empty")
	}

	if !strings.Contains(configStr, "timeouts:") {
		t.Error("Config string should contain timeouts section")
	}

	if !strings.Contains(configStr, "data_loss:") {
		t.Error("Config string should contain data_loss section")
	}
}
