// internal/model/waveform.go
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Measurement is the result of one immediate measurement
type Measurement struct {
	Channel    Channel         `json:"channel"`
	Type       MeasurementType `json:"type"`
	Value      float64         `json:"value"`
	Unit       string          `json:"unit"`
	MeasuredAt time.Time       `json:"measured_at"`
}

// Scaling holds the per-acquisition conversion parameters read from the
// waveform preamble.
type Scaling struct {
	VoltsPerDivision   float64 `json:"volts_per_division"`
	SecondsPerDivision float64 `json:"seconds_per_division"`
}

// Waveform is one curve acquisition on one channel. Time, Raw and Voltage
// always have the same length.
type Waveform struct {
	Channel    Channel   `json:"channel"`
	Time       []float64 `json:"time"`
	Raw        []int     `json:"raw"`
	Voltage    []float64 `json:"voltage"`
	Scaling    Scaling   `json:"scaling"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Len returns the number of samples
func (w *Waveform) Len() int {
	return len(w.Raw)
}

// CurveType selects which sample series is plotted against time
type CurveType string

const (
	CurveTypeRaw     CurveType = "RAW"
	CurveTypeVoltage CurveType = "VOLTAGE"
)

// ParseCurveType validates external text as a CurveType
func ParseCurveType(s string) (CurveType, error) {
	switch CurveType(strings.ToUpper(strings.TrimSpace(s))) {
	case CurveTypeRaw:
		return CurveTypeRaw, nil
	case CurveTypeVoltage:
		return CurveTypeVoltage, nil
	default:
		return "", fmt.Errorf("unknown curve type %q: %w", s, ErrParse)
	}
}

// Series is a labelled (x, y) curve ready for plotting
type Series struct {
	Label  string    `json:"label"`
	XLabel string    `json:"x_label"`
	YLabel string    `json:"y_label"`
	X      []float64 `json:"x"`
	Y      []float64 `json:"y"`
}

// Series returns the waveform as a plot series of the given type
func (w *Waveform) Series(curve CurveType) Series {
	s := Series{
		Label:  string(w.Channel),
		XLabel: "Time [s]",
		X:      w.Time,
	}
	if curve == CurveTypeVoltage {
		s.YLabel = "Voltage [V]"
		s.Y = w.Voltage
		return s
	}
	s.YLabel = "Read"
	s.Y = make([]float64, len(w.Raw))
	for i, r := range w.Raw {
		s.Y[i] = float64(r)
	}
	return s
}

// Acquisition groups the latest waveform captured on each channel
type Acquisition struct {
	ID        uuid.UUID             `json:"id"`
	Waveforms map[Channel]*Waveform `json:"waveforms"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// EventEntry is one record from the instrument event/error queue
type EventEntry struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
