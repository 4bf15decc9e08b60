// pkg/driver/types.go
package driver

import (
	"time"

	"scope-service/internal/model"
)

// InstrumentInfo is the identity reported by the instrument
type InstrumentInfo struct {
	Manufacturer    string               `json:"manufacturer"`
	Model           string               `json:"model"`
	FirmwareVersion string               `json:"firmware_version,omitempty"`
	Fields          map[string]string    `json:"fields,omitempty"`
	ConnectionType  model.ConnectionType `json:"connection_type"`
	Raw             string               `json:"raw"`
}

// HealthMetrics contains instrument health information
type HealthMetrics struct {
	HealthScore     int           `json:"health_score"` // 0-100
	ResponseTime    time.Duration `json:"response_time"`
	SuccessRate     float64       `json:"success_rate"` // 0.0-1.0
	ErrorCount      int64         `json:"error_count"`
	TotalOperations int64         `json:"total_operations"`
	LastErrorTime   *time.Time    `json:"last_error_time,omitempty"`
	LastSuccessTime *time.Time    `json:"last_success_time,omitempty"`
	LastError       string        `json:"last_error,omitempty"`
}

// Update folds one operation outcome into the metrics
func (h *HealthMetrics) Update(responseTime time.Duration, err error) {
	now := time.Now()
	h.TotalOperations++
	h.ResponseTime = responseTime

	if err != nil {
		h.ErrorCount++
		h.LastErrorTime = &now
		h.LastError = err.Error()
	} else {
		h.LastSuccessTime = &now
	}

	h.SuccessRate = float64(h.TotalOperations-h.ErrorCount) / float64(h.TotalOperations)
	h.HealthScore = int(h.SuccessRate * 100)
	if responseTime > 5*time.Second {
		h.HealthScore -= 10
	}
	if h.HealthScore < 0 {
		h.HealthScore = 0
	}
}
