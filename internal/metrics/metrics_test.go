package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"cluster-chaos/internal/retry"
)

func TestRetryAttempts(t *testing.T) {
	m := New()

	m.ObserveAttempt("MovePrimary", retry.Retryable)
	m.ObserveAttempt("MovePrimary", retry.Retryable)
	m.ObserveAttempt("MovePrimary", retry.RetrySuccess)

	if got := testutil.ToFloat64(m.RetryAttempts.WithLabelValues("MovePrimary", "retryable")); got != 2 {
		t.Errorf("retryable attempts = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.RetryAttempts.WithLabelValues("MovePrimary", "retry_success")); got != 1 {
		t.Errorf("retry_success attempts = %v, want 1", got)
	}
}

func TestFaultRulesGauge(t *testing.T) {
	m := New()

	m.RuleInstalled()
	m.RuleInstalled()
	m.RuleRemoved()

	if got := testutil.ToFloat64(m.FaultRulesActive); got != 1 {
		t.Errorf("fault_rules_active = %v, want 1", got)
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.ActionFinished("InduceQuorumLoss", "succeeded", 3*time.Second)
	m.ValidationPoll("stability", false)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	body := w.Body.String()
	for _, want := range []string{
		`chaos_actions_total{kind="InduceQuorumLoss",outcome="succeeded"} 1`,
		`chaos_action_duration_seconds_count{kind="InduceQuorumLoss"} 1`,
		`chaos_validation_polls_total{check="stability",result="fail"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("Expected metrics output to contain %q", want)
		}
	}
}
