// internal/model/instrument.go
package model

import (
	"fmt"
	"strings"
)

// Channel selects an analog input of the oscilloscope
type Channel string

const (
	ChannelCH1 Channel = "CH1"
	ChannelCH2 Channel = "CH2"
)

// Channels lists every channel in display order
var Channels = []Channel{ChannelCH1, ChannelCH2}

// ParseChannel validates external text as a Channel
func ParseChannel(s string) (Channel, error) {
	switch Channel(strings.ToUpper(strings.TrimSpace(s))) {
	case ChannelCH1:
		return ChannelCH1, nil
	case ChannelCH2:
		return ChannelCH2, nil
	default:
		return "", fmt.Errorf("unknown channel %q: %w", s, ErrParse)
	}
}

// MeasurementType selects the kind of immediate measurement. The value is the
// instrument-side mnemonic.
type MeasurementType string

const (
	MeasurementPeakToPeak MeasurementType = "PK2PK"
	MeasurementFrequency  MeasurementType = "FREQ"
	MeasurementPeriod     MeasurementType = "PERI"
	MeasurementMaximum    MeasurementType = "MAXI"
	MeasurementMinimum    MeasurementType = "MINI"
)

// MeasurementTypes lists every supported measurement kind
var MeasurementTypes = []MeasurementType{
	MeasurementPeakToPeak,
	MeasurementFrequency,
	MeasurementPeriod,
	MeasurementMaximum,
	MeasurementMinimum,
}

// ParseMeasurementType validates external text as a MeasurementType
func ParseMeasurementType(s string) (MeasurementType, error) {
	candidate := MeasurementType(strings.ToUpper(strings.TrimSpace(s)))
	for _, t := range MeasurementTypes {
		if t == candidate {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown measurement type %q: %w", s, ErrParse)
}

// ConnectionType represents how the instrument is attached
type ConnectionType string

const (
	ConnectionTypeSerial    ConnectionType = "SERIAL"
	ConnectionTypeUSBTMC    ConnectionType = "USBTMC"
	ConnectionTypeTCP       ConnectionType = "TCP"
	ConnectionTypeSimulated ConnectionType = "SIMULATED"
)

// ParseConnectionType validates a configured connection type
func ParseConnectionType(s string) (ConnectionType, error) {
	switch ConnectionType(strings.ToUpper(strings.TrimSpace(s))) {
	case ConnectionTypeSerial:
		return ConnectionTypeSerial, nil
	case ConnectionTypeUSBTMC:
		return ConnectionTypeUSBTMC, nil
	case ConnectionTypeTCP:
		return ConnectionTypeTCP, nil
	case ConnectionTypeSimulated:
		return ConnectionTypeSimulated, nil
	default:
		return "", fmt.Errorf("unknown connection type %q: %w", s, ErrParse)
	}
}
