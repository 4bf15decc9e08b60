// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"scope-service/internal/config"
	"scope-service/internal/eventlog"
	"scope-service/internal/monitor"
	"scope-service/internal/repository"
	"scope-service/internal/routes"
	"scope-service/internal/service"
	"scope-service/internal/utils"
)

// Application represents the main application
type Application struct {
	config  *config.Config
	logger  *zap.Logger
	server  *http.Server
	metrics *monitor.Metrics
	journal *eventlog.Journal

	// Services
	instrumentService *service.InstrumentService

	// Repositories
	acquisitionRepo repository.AcquisitionRepository

	// stops background goroutines
	cancel context.CancelFunc
}

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	flag.Parse()

	app, err := NewApplication(*configPath)
	if err != nil {
		fmt.Printf("Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	if err := app.Start(); err != nil {
		app.logger.Fatal("Failed to start application", zap.Error(err))
	}
}

// NewApplication creates a new application instance
func NewApplication(configPath string) (*Application, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	serviceLogger := utils.NewServiceLogger(logger, "scope-service")
	serviceLogger.LogServiceStart(cfg.App.Version, cfg)

	app := &Application{
		config: cfg,
		logger: logger,
	}

	app.initializeRepositories()
	app.initializeServices()
	app.initializeServer()

	return app, nil
}

// initializeRepositories creates repository instances
func (app *Application) initializeRepositories() {
	app.acquisitionRepo = repository.NewAcquisitionRepository(app.logger)
	app.journal = eventlog.NewJournal(app.config.EventLog.Capacity, app.logger)

	app.logger.Info("Repositories initialized successfully",
		zap.Int("journal_capacity", app.config.EventLog.Capacity),
	)
}

// initializeServices creates service instances
func (app *Application) initializeServices() {
	app.metrics = monitor.NewMetrics(app.logger)

	app.instrumentService = service.NewInstrumentService(
		app.acquisitionRepo,
		app.journal,
		app.metrics,
		app.config,
		app.logger,
	)

	app.logger.Info("Services initialized successfully")
}

// initializeServer sets up HTTP server and routes
func (app *Application) initializeServer() {
	routerManager := routes.NewRouter(
		app.config,
		app.logger,
		app.metrics,
		app.instrumentService,
	)

	router := routerManager.SetupRouter()

	app.server = &http.Server{
		Addr:         app.config.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  app.config.Server.ReadTimeout,
		WriteTimeout: app.config.Server.WriteTimeout,
		IdleTimeout:  app.config.Server.IdleTimeout,
	}

	app.logger.Info("HTTP server initialized",
		zap.String("address", app.config.GetServerAddr()),
	)
}

// startBackgroundServices starts background services
func (app *Application) startBackgroundServices(ctx context.Context) {
	app.metrics.StartRuntimeMonitor(ctx, 15*time.Second)

	if app.config.Instrument.ConnectOnStart {
		go app.connectInstrument(ctx)
	}

	app.logger.Info("Background services started")
}

// connectInstrument opens the session once at startup. A failure is logged
// and left for the operator to retry through the API.
func (app *Application) connectInstrument(ctx context.Context) {
	connectCtx, cancel := context.WithTimeout(ctx, app.config.Instrument.ReadTimeout+app.config.Instrument.TCP.ConnectTimeout)
	defer cancel()

	status, err := app.instrumentService.Connect(connectCtx)
	if err != nil {
		app.logger.Warn("Instrument not connected at startup",
			zap.String("connection_type", app.config.Instrument.ConnectionType),
			zap.Error(err),
		)
		return
	}

	app.logger.Info("Instrument connected at startup",
		zap.String("address", status.Address),
		zap.Any("instrument", status.Instrument),
	)
}

// waitForShutdown waits for shutdown signal and performs graceful shutdown
func (app *Application) waitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	app.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	app.shutdown()
}

// shutdown performs graceful shutdown
func (app *Application) shutdown() {
	serviceLogger := utils.NewServiceLogger(app.logger, "scope-service")
	serviceLogger.LogServiceStop("shutdown signal received")

	if app.cancel != nil {
		app.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		app.logger.Info("HTTP server stopped")
	}

	// waits for a running operation to finish
	if err := app.instrumentService.Close(); err != nil {
		app.logger.Error("Instrument close error", zap.Error(err))
	} else {
		app.logger.Info("Instrument connection closed")
	}

	app.logger.Info("Application shutdown completed")

	if err := utils.CloseLogger(app.logger); err != nil {
		fmt.Printf("Logger close error: %v\n", err)
	}
}

// Start serves HTTP until a shutdown signal arrives
func (app *Application) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	app.cancel = cancel

	go func() {
		app.logger.Info("Starting HTTP server",
			zap.String("address", app.server.Addr),
		)

		if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	app.startBackgroundServices(ctx)

	app.waitForShutdown()

	return nil
}
