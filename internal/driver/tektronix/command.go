// internal/driver/tektronix/command.go
package tektronix

// Curve transfer and scaling constants for the TDS record format
const (
	RecordLength       = 2500
	HorizontalDivision = 10.0
	VerticalDivision   = 10.0
	FullScaleCount     = 32768.0
)

// COMMANDS contains the command mnemonics used by the driver. Entries ending
// in a space take one argument.
var COMMANDS = struct {
	// Identification and status
	IDENTIFY    string
	EVENT_QUEUE string

	// Immediate measurement
	MEASURE_SOURCE string
	MEASURE_TYPE   string
	MEASURE_VALUE  string
	MEASURE_UNITS  string

	// Waveform transfer
	DATA_ENCODING string
	DATA_SOURCE   string
	DATA_START    string
	DATA_STOP     string
	DATA_WIDTH    string
	CURVE         string
	PREAMBLE      string
}{
	// Identification and status
	IDENTIFY:    "ID?",
	EVENT_QUEUE: "ALLE?",

	// Immediate measurement
	MEASURE_SOURCE: "MEASU:IMM:SOU ",
	MEASURE_TYPE:   "MEASU:IMM:TYPE ",
	MEASURE_VALUE:  "MEASU:IMM:VAL?",
	MEASURE_UNITS:  "MEASU:IMM:UNI?",

	// Waveform transfer
	DATA_ENCODING: "DAT:ENC ASCII",
	DATA_SOURCE:   "DAT:SOU ",
	DATA_START:    "DAT:START 1",
	DATA_STOP:     "DAT:STOP 2500",
	DATA_WIDTH:    "DAT:WID 2",
	CURVE:         "CURV?",
	PREAMBLE:      "WFMP:WFI?",
}
