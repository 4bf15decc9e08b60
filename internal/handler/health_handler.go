// internal/handler/health_handler.go
package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"scope-service/internal/config"
	"scope-service/internal/service"
	"scope-service/internal/utils"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	instrumentService *service.InstrumentService
	config            *config.Config
	startedAt         time.Time
	logger            *utils.ServiceLogger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(instrumentService *service.InstrumentService, config *config.Config, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		instrumentService: instrumentService,
		config:            config,
		startedAt:         time.Now(),
		logger:            utils.NewServiceLogger(logger, "health-handler"),
	}
}

// RegisterRoutes registers health check routes
func (h *HealthHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/health", h.HealthCheck)
	router.GET("/ready", h.ReadinessCheck)
	router.GET("/live", h.LivenessCheck)
}

// HealthCheck performs general health check. A disconnected instrument makes
// the service degraded, not unhealthy.
// @Summary Health check
// @Description Get overall service health including the instrument session
// @Tags Health
// @Produce json
// @Success 200 {object} HealthResponse "Service is up"
// @Router /health [get]
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	health := &HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Service:   h.config.App.Name,
		Version:   h.config.App.Version,
		Uptime:    time.Since(h.startedAt).Round(time.Second).String(),
		Checks:    make(map[string]CheckResult),
	}

	status := h.instrumentService.Status()
	instrument := CheckResult{
		Status: "healthy",
		Data: map[string]interface{}{
			"connection_type": status.ConnectionType,
			"address":         status.Address,
		},
	}
	if status.Connected {
		instrument.Message = "Instrument connected"
		if status.Health != nil {
			instrument.Data["health_score"] = status.Health.HealthScore
			instrument.Data["error_count"] = status.Health.ErrorCount
		}
	} else {
		health.Status = "degraded"
		instrument.Status = "disconnected"
		instrument.Message = "Instrument not connected"
	}
	health.Checks["instrument"] = instrument

	journal := h.instrumentService.Journal()
	health.Checks["journal"] = CheckResult{
		Status: "healthy",
		Data: map[string]interface{}{
			"entries":     journal.Len(),
			"last_seq":    journal.LastSeq(),
			"subscribers": journal.SubscriberCount(),
		},
	}

	c.JSON(http.StatusOK, health)
}

// ReadinessCheck reports ready once the instrument session is open
// @Summary Readiness check
// @Tags Health
// @Produce json
// @Success 200 {object} object{status=string,timestamp=string} "Service is ready"
// @Failure 503 {object} object{status=string,reason=string} "Service is not ready"
// @Router /ready [get]
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	if !h.instrumentService.IsConnected() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"reason": "instrument not connected",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"timestamp": time.Now(),
	})
}

// LivenessCheck for Kubernetes liveness probe
// @Summary Liveness check
// @Tags Health
// @Produce json
// @Success 200 {object} object{status=string,timestamp=string} "Service is alive"
// @Router /live [get]
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now(),
	})
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks"`
}

// CheckResult represents individual check result
type CheckResult struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}
