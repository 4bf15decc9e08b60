// internal/service/instrument_service.go
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"scope-service/internal/config"
	"scope-service/internal/driver/tektronix"
	"scope-service/internal/eventlog"
	"scope-service/internal/model"
	"scope-service/internal/monitor"
	"scope-service/internal/protocol"
	"scope-service/internal/repository"
	"scope-service/internal/transport"
	"scope-service/internal/utils"
	"scope-service/pkg/driver"
)

// InstrumentService owns the single instrument session and the acquisitions
// captured through it
type InstrumentService struct {
	config          *config.Config
	acquisitionRepo repository.AcquisitionRepository
	journal         *eventlog.Journal
	metrics         *monitor.Metrics
	logger          *utils.ServiceLogger

	// mutex guards session. Operations hold the read lock for their whole
	// duration so Disconnect waits for them to finish.
	mutex   sync.RWMutex
	session *session
}

type session struct {
	connection  protocol.Connection
	transport   *transport.Transport
	scope       driver.Oscilloscope
	info        *driver.InstrumentInfo
	connectedAt time.Time
	logger      *utils.InstrumentLogger
}

// InstrumentStatus describes the current session
type InstrumentStatus struct {
	Connected      bool                    `json:"connected"`
	ConnectionType model.ConnectionType    `json:"connection_type"`
	Address        string                  `json:"address,omitempty"`
	Instrument     *driver.InstrumentInfo  `json:"instrument,omitempty"`
	ConnectedAt    *time.Time              `json:"connected_at,omitempty"`
	Stats          *protocol.ProtocolStats `json:"stats,omitempty"`
	Health         *driver.HealthMetrics   `json:"health,omitempty"`
	LastLogSeq     uint64                  `json:"last_log_seq"`
}

// NewInstrumentService creates a new instrument service instance
func NewInstrumentService(
	acquisitionRepo repository.AcquisitionRepository,
	journal *eventlog.Journal,
	metrics *monitor.Metrics,
	config *config.Config,
	logger *zap.Logger,
) *InstrumentService {
	return &InstrumentService{
		config:          config,
		acquisitionRepo: acquisitionRepo,
		journal:         journal,
		metrics:         metrics,
		logger:          utils.NewServiceLogger(logger, "instrument-service"),
	}
}

// Connect opens the configured connection and identifies the instrument.
// Connecting while connected returns the current status.
func (s *InstrumentService) Connect(ctx context.Context) (*InstrumentStatus, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.session != nil {
		return s.statusLocked(), nil
	}

	connection, err := protocol.CreateConnection(&s.config.Instrument, s.logger.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection: %w", err)
	}

	instrumentLogger := utils.NewInstrumentLogger(s.logger.Logger, string(connection.GetProtocolType()), connection.Address())

	if err := connection.Open(ctx); err != nil {
		instrumentLogger.LogConnection("open", false, err)
		return nil, fmt.Errorf("%w: %w", model.ErrTransport, err)
	}

	tr := transport.New(connection, s.journal, transport.Options{
		ReadTimeout:   s.config.Instrument.ReadTimeout,
		MaxLineLength: s.config.Instrument.MaxLineLength,
	}, s.logger.Logger, s.metrics)

	scope := tektronix.NewScope(tr, tektronix.Config{
		CurveReadTimeout: s.config.Instrument.CurveReadTimeout,
	}, s.logger.Logger, s.metrics)

	id, err := scope.Identify(ctx)
	if err != nil {
		instrumentLogger.LogConnection("identify", false, err)
		connection.Close()
		return nil, fmt.Errorf("instrument did not identify: %w", err)
	}

	info, err := tektronix.ParseIdentity(id)
	if err != nil {
		// an unusual ID string is not fatal
		instrumentLogger.Warn("Unrecognised identity", zap.String("id", id), zap.Error(err))
		info = &driver.InstrumentInfo{Raw: id}
	}
	info.ConnectionType = connection.GetProtocolType()

	s.session = &session{
		connection:  connection,
		transport:   tr,
		scope:       scope,
		info:        info,
		connectedAt: time.Now(),
		logger:      instrumentLogger,
	}
	s.metrics.SetConnected(true)
	instrumentLogger.LogConnection("connect", true, nil)
	instrumentLogger.Info("Instrument identified", zap.String("id", id))

	return s.statusLocked(), nil
}

// Disconnect closes the session. Disconnecting while disconnected is a no-op.
func (s *InstrumentService) Disconnect(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.session == nil {
		return nil
	}

	current := s.session
	s.session = nil
	s.metrics.SetConnected(false)

	if err := current.connection.Close(); err != nil {
		current.logger.LogConnection("disconnect", false, err)
		return fmt.Errorf("%w: %w", model.ErrTransport, err)
	}
	current.logger.LogConnection("disconnect", true, nil)
	return nil
}

// Close disconnects on shutdown
func (s *InstrumentService) Close() error {
	return s.Disconnect(context.Background())
}

// Status reports the session state
func (s *InstrumentService) Status() *InstrumentStatus {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.statusLocked()
}

func (s *InstrumentService) statusLocked() *InstrumentStatus {
	status := &InstrumentStatus{
		ConnectionType: s.config.GetConnectionType(),
		LastLogSeq:     s.journal.LastSeq(),
	}
	if s.session == nil {
		return status
	}

	stats := s.session.transport.Stats()
	health := s.session.scope.GetHealthMetrics()
	connectedAt := s.session.connectedAt

	status.Connected = true
	status.ConnectionType = s.session.connection.GetProtocolType()
	status.Address = s.session.connection.Address()
	status.Instrument = s.session.info
	status.ConnectedAt = &connectedAt
	status.Stats = &stats
	status.Health = &health
	return status
}

// IsConnected reports whether a session is open
func (s *InstrumentService) IsConnected() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.session != nil
}

// withScope runs fn against the connected scope while holding the read lock
func (s *InstrumentService) withScope(fn func(scope driver.Oscilloscope) error) error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if s.session == nil {
		return model.ErrNotConnected
	}
	return fn(s.session.scope)
}

// Identify returns the instrument identification string
func (s *InstrumentService) Identify(ctx context.Context) (string, error) {
	var id string
	err := s.withScope(func(scope driver.Oscilloscope) error {
		var err error
		id, err = scope.Identify(ctx)
		return err
	})
	return id, err
}

// ReadEventQueue returns the raw event queue reply
func (s *InstrumentService) ReadEventQueue(ctx context.Context) (string, error) {
	var reply string
	err := s.withScope(func(scope driver.Oscilloscope) error {
		var err error
		reply, err = scope.ReadEventQueue(ctx)
		return err
	})
	return reply, err
}

// ReadEvents returns the event queue split into entries
func (s *InstrumentService) ReadEvents(ctx context.Context) ([]model.EventEntry, error) {
	var entries []model.EventEntry
	err := s.withScope(func(scope driver.Oscilloscope) error {
		var err error
		entries, err = scope.ReadEvents(ctx)
		return err
	})
	return entries, err
}

// Measure runs one immediate measurement
func (s *InstrumentService) Measure(ctx context.Context, channel model.Channel, measurement model.MeasurementType) (*model.Measurement, error) {
	var result *model.Measurement
	err := s.withScope(func(scope driver.Oscilloscope) error {
		var err error
		result, err = scope.MeasureImmediate(ctx, channel, measurement)
		return err
	})
	return result, err
}

// Execute sends an operator command and returns the reply of a query
func (s *InstrumentService) Execute(ctx context.Context, command string) (string, error) {
	var reply string
	err := s.withScope(func(scope driver.Oscilloscope) error {
		var err error
		reply, err = scope.Execute(ctx, command)
		return err
	})
	return reply, err
}

// Journal returns the exchange journal
func (s *InstrumentService) Journal() *eventlog.Journal {
	return s.journal
}
