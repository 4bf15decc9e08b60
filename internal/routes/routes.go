// internal/routes/routes.go
package routes

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"scope-service/internal/config"
	"scope-service/internal/handler"
	"scope-service/internal/middleware"
	"scope-service/internal/monitor"
	"scope-service/internal/service"
	"scope-service/internal/utils"
)

// Router holds all dependencies for routing
type Router struct {
	config            *config.Config
	logger            *zap.Logger
	metrics           *monitor.Metrics
	instrumentService *service.InstrumentService
}

// NewRouter creates a new router instance
func NewRouter(
	config *config.Config,
	logger *zap.Logger,
	metrics *monitor.Metrics,
	instrumentService *service.InstrumentService,
) *Router {
	return &Router{
		config:            config,
		logger:            logger,
		metrics:           metrics,
		instrumentService: instrumentService,
	}
}

// SetupRouter creates and configures the Gin router
func (r *Router) SetupRouter() *gin.Engine {
	switch {
	case r.config.IsProduction():
		gin.SetMode(gin.ReleaseMode)
	case r.config.App.Environment == "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()

	r.addMiddleware(router)
	r.addRoutes(router)

	return router
}

// addMiddleware adds middleware to the router
func (r *Router) addMiddleware(router *gin.Engine) {
	router.Use(middleware.RecoveryMiddleware(r.logger))
	router.Use(middleware.RequestIDMiddleware())

	serviceLogger := utils.NewServiceLogger(r.logger, "http-server")
	router.Use(middleware.LoggingMiddleware(serviceLogger, r.metrics))

	router.Use(middleware.CORSMiddleware(&r.config.Security))

	r.logger.Info("Middleware configured")
}

// addRoutes sets up all application routes
func (r *Router) addRoutes(router *gin.Engine) {
	wsHandler := handler.NewWebSocketHandler(r.instrumentService.Journal(), &r.config.Security, r.logger)
	events := handler.NewInstrumentEventHandler(wsHandler, r.logger)

	healthHandler := handler.NewHealthHandler(r.instrumentService, r.config, r.logger)
	instrumentHandler := handler.NewInstrumentHandler(r.instrumentService, events, r.logger)
	acquisitionHandler := handler.NewAcquisitionHandler(r.instrumentService, events, r.logger)

	// Health check routes
	healthHandler.RegisterRoutes(&router.RouterGroup)

	// Prometheus scrape endpoint
	if r.metrics != nil {
		router.GET("/metrics", gin.WrapH(r.metrics.Handler()))
	}

	// API v1 routes
	apiV1 := router.Group("/api/v1")
	instrumentHandler.RegisterRoutes(apiV1)
	acquisitionHandler.RegisterRoutes(apiV1)

	// WebSocket routes
	wsHandler.RegisterRoutes(router.Group("/ws"))

	r.logger.Info("All routes configured successfully")
}
