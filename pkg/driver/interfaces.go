// pkg/driver/interfaces.go
package driver

import (
	"context"

	"scope-service/internal/model"
)

// Oscilloscope is the operation catalog a scope driver implements. Each call
// runs to completion before the next one starts.
type Oscilloscope interface {
	// Identification and status
	Identify(ctx context.Context) (string, error)
	ReadEventQueue(ctx context.Context) (string, error)
	ReadEvents(ctx context.Context) ([]model.EventEntry, error)

	// Measurements and acquisition
	MeasureImmediate(ctx context.Context, channel model.Channel, measurement model.MeasurementType) (*model.Measurement, error)
	AcquireCurve(ctx context.Context, channel model.Channel) (*model.Waveform, error)

	// Operator console
	Execute(ctx context.Context, command string) (string, error)

	// Health and monitoring
	GetHealthMetrics() HealthMetrics
}
