// internal/driver/tektronix/scope.go
package tektronix

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"scope-service/internal/model"
	"scope-service/internal/monitor"
	"scope-service/internal/utils"
	"scope-service/pkg/driver"
)

// Exchanger is the command/response channel the scope talks through
type Exchanger interface {
	Send(ctx context.Context, command string) error
	SendAndReceive(ctx context.Context, command string) (string, error)
	SendAndReceiveWithin(ctx context.Context, command string, timeout time.Duration) (string, error)
}

// Config tunes the scope driver
type Config struct {
	CurveReadTimeout time.Duration
}

// Scope implements driver.Oscilloscope for TDS-series instruments. The mutex
// is held across every operation so that the selection commands of one
// operation are never interleaved with another.
type Scope struct {
	exchanger     Exchanger
	config        Config
	logger        *zap.Logger
	metrics       *monitor.Metrics
	mutex         sync.Mutex
	healthMutex   sync.RWMutex
	healthMetrics driver.HealthMetrics
}

var _ driver.Oscilloscope = (*Scope)(nil)

// NewScope creates a scope driver. metrics may be nil.
func NewScope(exchanger Exchanger, config Config, logger *zap.Logger, metrics *monitor.Metrics) *Scope {
	if config.CurveReadTimeout <= 0 {
		config.CurveReadTimeout = 60 * time.Second
	}
	return &Scope{
		exchanger: exchanger,
		config:    config,
		logger:    logger.With(zap.String("driver", "tektronix")),
		metrics:   metrics,
	}
}

// Identify returns the ID? reply verbatim
func (s *Scope) Identify(ctx context.Context) (string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	op := s.begin("identify")
	reply, err := s.exchanger.SendAndReceive(ctx, COMMANDS.IDENTIFY)
	s.finish(op, "identify", err, zap.String("id", reply))
	return reply, err
}

// ReadEventQueue returns the ALLE? reply verbatim
func (s *Scope) ReadEventQueue(ctx context.Context) (string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	op := s.begin("read_event_queue")
	reply, err := s.exchanger.SendAndReceive(ctx, COMMANDS.EVENT_QUEUE)
	s.finish(op, "read_event_queue", err)
	return reply, err
}

// ReadEvents reads the event queue and splits it into entries
func (s *Scope) ReadEvents(ctx context.Context) ([]model.EventEntry, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	op := s.begin("read_events")
	entries, err := s.readEvents(ctx)
	s.finish(op, "read_events", err, zap.Int("entries", len(entries)))
	return entries, err
}

func (s *Scope) readEvents(ctx context.Context) ([]model.EventEntry, error) {
	reply, err := s.exchanger.SendAndReceive(ctx, COMMANDS.EVENT_QUEUE)
	if err != nil {
		return nil, err
	}
	return ParseEvents(reply)
}

// MeasureImmediate selects source and type, then reads value and unit
func (s *Scope) MeasureImmediate(ctx context.Context, channel model.Channel, measurement model.MeasurementType) (*model.Measurement, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	op := s.begin("measure_immediate",
		zap.String("channel", string(channel)),
		zap.String("type", string(measurement)),
	)
	result, err := s.measureImmediate(ctx, channel, measurement)
	if err != nil {
		s.finish(op, "measure_immediate", err)
		return nil, err
	}
	s.finish(op, "measure_immediate", nil,
		zap.Float64("value", result.Value),
		zap.String("unit", result.Unit),
	)
	return result, nil
}

func (s *Scope) measureImmediate(ctx context.Context, channel model.Channel, measurement model.MeasurementType) (*model.Measurement, error) {
	if _, err := model.ParseChannel(string(channel)); err != nil {
		return nil, err
	}
	if _, err := model.ParseMeasurementType(string(measurement)); err != nil {
		return nil, err
	}

	if err := s.exchanger.Send(ctx, COMMANDS.MEASURE_SOURCE+string(channel)); err != nil {
		return nil, err
	}
	if err := s.exchanger.Send(ctx, COMMANDS.MEASURE_TYPE+string(measurement)); err != nil {
		return nil, err
	}

	valueReply, err := s.exchanger.SendAndReceive(ctx, COMMANDS.MEASURE_VALUE)
	if err != nil {
		return nil, err
	}
	value, err := ParseMeasurementValue(valueReply)
	if err != nil {
		return nil, err
	}

	unit, err := s.exchanger.SendAndReceive(ctx, COMMANDS.MEASURE_UNITS)
	if err != nil {
		return nil, err
	}

	return &model.Measurement{
		Channel:    channel,
		Type:       measurement,
		Value:      value,
		Unit:       unit,
		MeasuredAt: time.Now(),
	}, nil
}

// AcquireCurve transfers one ASCII curve and scales it with the preamble
// read right after it
func (s *Scope) AcquireCurve(ctx context.Context, channel model.Channel) (*model.Waveform, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	op := s.begin("acquire_curve", zap.String("channel", string(channel)))
	waveform, err := s.acquireCurve(ctx, channel)
	if err != nil {
		s.finish(op, "acquire_curve", err)
		return nil, err
	}
	s.finish(op, "acquire_curve", nil,
		zap.Int("points", waveform.Len()),
		zap.Float64("volts_per_division", waveform.Scaling.VoltsPerDivision),
		zap.Float64("seconds_per_division", waveform.Scaling.SecondsPerDivision),
	)
	return waveform, nil
}

func (s *Scope) acquireCurve(ctx context.Context, channel model.Channel) (*model.Waveform, error) {
	if _, err := model.ParseChannel(string(channel)); err != nil {
		return nil, err
	}

	setup := []string{
		COMMANDS.DATA_ENCODING,
		COMMANDS.DATA_SOURCE + string(channel),
		COMMANDS.DATA_START,
		COMMANDS.DATA_STOP,
		COMMANDS.DATA_WIDTH,
	}
	for _, command := range setup {
		if err := s.exchanger.Send(ctx, command); err != nil {
			return nil, err
		}
	}

	curveReply, err := s.exchanger.SendAndReceiveWithin(ctx, COMMANDS.CURVE, s.config.CurveReadTimeout)
	if err != nil {
		return nil, err
	}
	raw, err := ParseCurve(curveReply, RecordLength)
	if err != nil {
		return nil, err
	}

	preamble, err := s.exchanger.SendAndReceive(ctx, COMMANDS.PREAMBLE)
	if err != nil {
		return nil, err
	}
	scaling, err := ParsePreamble(preamble)
	if err != nil {
		return nil, err
	}

	return &model.Waveform{
		Channel:    channel,
		Time:       TimeAxis(len(raw), scaling),
		Raw:        raw,
		Voltage:    Voltages(raw, scaling),
		Scaling:    scaling,
		AcquiredAt: time.Now(),
	}, nil
}

// Execute sends an operator command. Commands ending in '?' are queries and
// return the reply line; anything else returns an empty string.
func (s *Scope) Execute(ctx context.Context, command string) (string, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return "", fmt.Errorf("%w: empty command", model.ErrParse)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	op := s.begin("execute", zap.String("command", command))
	var reply string
	var err error
	if strings.HasSuffix(command, "?") {
		reply, err = s.exchanger.SendAndReceive(ctx, command)
	} else {
		err = s.exchanger.Send(ctx, command)
	}
	s.finish(op, "execute", err)
	return reply, err
}

// GetHealthMetrics returns a copy of the driver health metrics
func (s *Scope) GetHealthMetrics() driver.HealthMetrics {
	s.healthMutex.RLock()
	defer s.healthMutex.RUnlock()
	return s.healthMetrics
}

func (s *Scope) begin(operation string, fields ...zap.Field) *utils.OperationLogger {
	op := utils.NewOperationLogger(s.logger, operation, uuid.New().String())
	op.Start(fields...)
	return op
}

func (s *Scope) finish(op *utils.OperationLogger, operation string, err error, fields ...zap.Field) {
	elapsed := op.Elapsed()

	s.healthMutex.Lock()
	s.healthMetrics.Update(elapsed, err)
	s.healthMutex.Unlock()

	s.metrics.ObserveOperation(operation, elapsed, err)

	if err != nil {
		op.Error(err)
		return
	}
	op.Success(fields...)
}
