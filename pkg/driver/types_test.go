package driver

import (
	"errors"
	"testing"
	"time"
)

func TestHealthMetricsUpdate(t *testing.T) {
	var h HealthMetrics

	h.Update(10*time.Millisecond, nil)
	if h.HealthScore != 100 || h.SuccessRate != 1 || h.LastSuccessTime == nil {
		t.Fatalf("unexpected metrics after success: %+v", h)
	}

	h.Update(20*time.Millisecond, errors.New("timeout"))
	if h.TotalOperations != 2 || h.ErrorCount != 1 || h.HealthScore != 50 {
		t.Fatalf("unexpected metrics after failure: %+v", h)
	}
	if h.LastError != "timeout" || h.LastErrorTime == nil {
		t.Fatalf("expected last error to be recorded: %+v", h)
	}

	h.Update(6*time.Second, nil)
	if h.HealthScore != 56 {
		t.Fatalf("expected slow response penalty, got score %d", h.HealthScore)
	}
}
