// Package testutil holds fixtures shared by the engine's tests.
package testutil

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"cluster-chaos/internal/cluster"
	"cluster-chaos/internal/cluster/sim"
	"cluster-chaos/internal/config"
	"cluster-chaos/internal/logging"
	"cluster-chaos/internal/storage"
)

// Demo cluster names, as laid out by sim.NewDemo
const (
	DemoApp   = "fabric:/demo"
	DemoStore = "fabric:/demo/store"
	DemoCache = "fabric:/demo/cache"
	DemoWeb   = "fabric:/demo/web"
)

// TestStorageEngine creates an in-memory journal store closed at cleanup
func TestStorageEngine(t *testing.T) *storage.Engine {
	t.Helper()

	engine, err := storage.NewEngine(storage.Config{InMemory: true})
	if err != nil {
		t.Fatalf("Failed to create test storage engine: %v", err)
	}

	t.Cleanup(func() {
		engine.Close()
	})

	return engine
}

// TestConfig is a valid config for a simulated cluster with millisecond
// pacing and an in-memory journal.
func TestConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Cluster.Simulated = true
	cfg.Cluster.Seed = 3
	cfg.Journal.InMemory = true
	cfg.API.Port = 0
	cfg.Timeouts.Request = time.Second
	cfg.Timeouts.Action = 5 * time.Second
	cfg.Timeouts.RetryBackoff = time.Millisecond
	cfg.Timeouts.PollInterval = 5 * time.Millisecond
	cfg.Timeouts.RulePropagation = 0
	cfg.DataLoss.PollAttempts = 3
	cfg.DataLoss.PollInterval = time.Millisecond
	cfg.Logging = logging.TestLoggingConfig()
	return cfg
}

// TestLogger creates a test logger with minimal configuration
func TestLogger() *logging.Logger {
	testLogConfig := logging.TestLoggingConfig()
	return logging.NewLogger(&testLogConfig)
}

// DemoCluster is a five node simulated cluster with a fixed placement
func DemoCluster(t *testing.T) *sim.Cluster {
	t.Helper()
	return sim.NewDemo(5, 3)
}

// FirstPartition returns the first partition of service
func FirstPartition(t *testing.T, c cluster.QueryClient, service string) string {
	t.Helper()

	ps, err := c.GetPartitionList(context.Background(), service, time.Second)
	if err != nil {
		t.Fatalf("Failed to list partitions of %s: %v", service, err)
	}
	if len(ps) == 0 {
		t.Fatalf("Service %s has no partitions", service)
	}
	return ps[0].ID
}

// AssertHTTPStatus verifies that the HTTP response has the expected status code
func AssertHTTPStatus(t *testing.T, recorder *httptest.ResponseRecorder, expectedStatus int) {
	t.Helper()

	if recorder.Code != expectedStatus {
		t.Errorf("Expected HTTP status %d, got %d: %s", expectedStatus, recorder.Code, recorder.Body.String())
	}
}

// AssertHTTPHeader verifies that the HTTP response has the expected header value
func AssertHTTPHeader(t *testing.T, recorder *httptest.ResponseRecorder, header, expectedValue string) {
	t.Helper()

	actualValue := recorder.Header().Get(header)
	if actualValue != expectedValue {
		t.Errorf("Expected header %s to be %s, got %s", header, expectedValue, actualValue)
	}
}

// WaitForCondition polls condition until it holds or timeout passes
func WaitForCondition(t *testing.T, condition func() bool, timeout time.Duration, checkInterval time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(checkInterval)
	}

	t.Fatalf("Condition was not met within %v", timeout)
}
