// internal/protocol/simulated_connection.go
package protocol

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"scope-service/internal/model"
)

const (
	simulatedID           = "TEK/TDS340,CF:91.1CT,FV:v1.00"
	simulatedRecordLength = 2500
	simulatedEmptyQueue   = `0,"No events to report - queue empty"`
)

// SimulatedConnection is an in-process oscilloscope answering the command
// subset the driver uses. Replies are queued per query and drained by Read.
type SimulatedConnection struct {
	config *SimulatedConfig
	logger *zap.Logger
	stats  statsRecorder

	mutex    sync.Mutex
	isOpen   bool
	rng      *rand.Rand
	partial  []byte
	pending  []byte
	notify   chan struct{}
	commands []string
	events   []string

	// instrument state
	measSource string
	measType   string
	encoding   string
	dataSource string
	dataStart  int
	dataStop   int
	dataWidth  int
}

// NewSimulatedConnection creates a simulated instrument
func NewSimulatedConnection(config *SimulatedConfig, logger *zap.Logger) *SimulatedConnection {
	return &SimulatedConnection{
		config: config,
		logger: logger.With(zap.String("protocol", "simulated")),
		rng:    rand.New(rand.NewSource(config.Seed)),
		notify: make(chan struct{}, 1),
	}
}

// Open resets the instrument state and seeds the event queue
func (sc *SimulatedConnection) Open(ctx context.Context) error {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	if sc.isOpen {
		return nil
	}

	sc.isOpen = true
	sc.partial = nil
	sc.pending = nil
	sc.measSource = string(model.ChannelCH1)
	sc.measType = string(model.MeasurementPeakToPeak)
	sc.encoding = "RPB"
	sc.dataSource = string(model.ChannelCH1)
	sc.dataStart = 1
	sc.dataStop = simulatedRecordLength
	sc.dataWidth = 1
	sc.events = []string{
		`2225,"MEASUREMENT ERROR, NO WAVEFORM TO MEASURE; "`,
		`420,"QUERY UNTERMINATED; "`,
	}
	sc.stats.connected(true)

	sc.logger.Info("Simulated instrument ready", zap.Int64("seed", sc.config.Seed))
	return nil
}

// Close closes the simulated instrument
func (sc *SimulatedConnection) Close() error {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	if !sc.isOpen {
		return nil
	}

	sc.isOpen = false
	sc.pending = nil
	sc.stats.connected(false)

	sc.logger.Info("Simulated instrument closed")
	return nil
}

// IsOpen returns whether the connection is open
func (sc *SimulatedConnection) IsOpen() bool {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	return sc.isOpen
}

// Write feeds bytes to the command parser; each complete line is executed
func (sc *SimulatedConnection) Write(ctx context.Context, data []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	startTime := time.Now()

	sc.mutex.Lock()
	if !sc.isOpen {
		sc.mutex.Unlock()
		return fmt.Errorf("simulated instrument not open")
	}

	sc.partial = append(sc.partial, data...)
	var replies []string
	for {
		idx := strings.IndexByte(string(sc.partial), '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimRight(string(sc.partial[:idx]), "\r")
		sc.partial = sc.partial[idx+1:]
		sc.commands = append(sc.commands, line)
		if reply, ok := sc.execute(line); ok {
			replies = append(replies, reply)
		}
	}
	sc.mutex.Unlock()

	sc.stats.wrote(len(data), time.Since(startTime))

	for _, reply := range replies {
		if sc.config.Delay > 0 {
			time.AfterFunc(sc.config.Delay, func() { sc.deliver(reply) })
		} else {
			sc.deliver(reply)
		}
	}
	return nil
}

// Read returns queued reply bytes, waiting until some are available
func (sc *SimulatedConnection) Read(ctx context.Context, maxBytes int) ([]byte, error) {
	for {
		sc.mutex.Lock()
		if !sc.isOpen {
			sc.mutex.Unlock()
			return nil, fmt.Errorf("simulated instrument not open")
		}
		if len(sc.pending) > 0 {
			n := len(sc.pending)
			if n > maxBytes {
				n = maxBytes
			}
			data := make([]byte, n)
			copy(data, sc.pending[:n])
			sc.pending = sc.pending[n:]
			sc.mutex.Unlock()

			sc.stats.read(n)
			return data, nil
		}
		sc.mutex.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-sc.notify:
		}
	}
}

// GetProtocolType returns the protocol type
func (sc *SimulatedConnection) GetProtocolType() model.ConnectionType {
	return model.ConnectionTypeSimulated
}

// Address returns a fixed pseudo address
func (sc *SimulatedConnection) Address() string {
	return "simulated"
}

// Stats returns a copy of the connection statistics
func (sc *SimulatedConnection) Stats() ProtocolStats {
	return sc.stats.snapshot()
}

// Commands returns every command line received so far
func (sc *SimulatedConnection) Commands() []string {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	return append([]string(nil), sc.commands...)
}

func (sc *SimulatedConnection) deliver(reply string) {
	sc.mutex.Lock()
	if !sc.isOpen {
		sc.mutex.Unlock()
		return
	}
	sc.pending = append(sc.pending, reply...)
	sc.pending = append(sc.pending, '\n')
	sc.mutex.Unlock()

	select {
	case sc.notify <- struct{}{}:
	default:
	}
}

// execute applies one command line; the mutex must be held
func (sc *SimulatedConnection) execute(line string) (string, bool) {
	header, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	header = strings.ToUpper(header)
	arg = strings.ToUpper(strings.TrimSpace(arg))

	switch header {
	case "ID?":
		return simulatedID, true
	case "ALLE?", "ALLEV?":
		return sc.drainEvents(), true
	case "MEASU:IMM:SOU":
		sc.measSource = arg
	case "MEASU:IMM:TYPE":
		sc.measType = arg
	case "MEASU:IMM:VAL?":
		return sc.measurementValue(), true
	case "MEASU:IMM:UNI?":
		return sc.measurementUnit(), true
	case "DAT:ENC":
		sc.encoding = arg
	case "DAT:SOU":
		sc.dataSource = arg
	case "DAT:START":
		return sc.setDataRange(&sc.dataStart, arg, line)
	case "DAT:STOP":
		return sc.setDataRange(&sc.dataStop, arg, line)
	case "DAT:WID":
		if width, err := strconv.Atoi(arg); err == nil && (width == 1 || width == 2) {
			sc.dataWidth = width
		} else {
			sc.pushEvent(222, "Data out of range; "+line)
		}
	case "CURV?":
		return sc.curve(), true
	case "WFMP:WFI?":
		return sc.preamble(), true
	default:
		sc.pushEvent(113, "Undefined header; Command not found; "+line)
	}
	return "", false
}

func (sc *SimulatedConnection) setDataRange(target *int, arg, line string) (string, bool) {
	value, err := strconv.Atoi(arg)
	if err != nil || value < 1 || value > simulatedRecordLength {
		sc.pushEvent(222, "Data out of range; "+line)
		return "", false
	}
	*target = value
	return "", false
}

func (sc *SimulatedConnection) pushEvent(code int, message string) {
	sc.events = append(sc.events, fmt.Sprintf("%d,%q", code, message))
}

func (sc *SimulatedConnection) drainEvents() string {
	if len(sc.events) == 0 {
		return simulatedEmptyQueue
	}
	reply := strings.Join(sc.events, ",")
	sc.events = nil
	return reply
}

// signal parameters are drawn per query like a free-running input
func (sc *SimulatedConnection) measurementValue() string {
	amplitude := (sc.rng.Float64()*1000 + 2000) / 32768 * 10
	frequency := sc.rng.Float64() * 50e3

	switch model.MeasurementType(sc.measType) {
	case model.MeasurementPeakToPeak:
		return strconv.FormatFloat(2*amplitude, 'E', 3, 64)
	case model.MeasurementFrequency:
		return fmt.Sprintf("%vE3", frequency/1e3)
	case model.MeasurementPeriod:
		return strconv.FormatFloat(1/frequency, 'E', 3, 64)
	case model.MeasurementMaximum:
		return strconv.FormatFloat(amplitude, 'E', 3, 64)
	case model.MeasurementMinimum:
		return strconv.FormatFloat(-amplitude, 'E', 3, 64)
	default:
		sc.pushEvent(2225, "MEASUREMENT ERROR, NO WAVEFORM TO MEASURE; ")
		return "9.9E37"
	}
}

func (sc *SimulatedConnection) measurementUnit() string {
	switch model.MeasurementType(sc.measType) {
	case model.MeasurementFrequency:
		return "Hz"
	case model.MeasurementPeriod:
		return "s"
	default:
		return "V"
	}
}

func (sc *SimulatedConnection) pointCount() int {
	if sc.dataStop < sc.dataStart {
		return 0
	}
	return sc.dataStop - sc.dataStart + 1
}

func (sc *SimulatedConnection) curve() string {
	phase := sc.rng.Float64() * 100
	amplitude := sc.rng.Float64()*1000 + 2000

	n := sc.pointCount()
	samples := make([]string, n)
	for i := 0; i < n; i++ {
		x := float64(sc.dataStart - 1 + i)
		samples[i] = strconv.Itoa(int(math.Sin(x/500+phase) * amplitude))
	}
	return strings.Join(samples, ",")
}

func (sc *SimulatedConnection) preamble() string {
	name := "Ch" + strings.TrimPrefix(sc.dataSource, "CH")
	return fmt.Sprintf("%s, DC coupling, 1.0E0 V/div, 5.0E-4 s/div, %d points, Sample mode",
		name, sc.pointCount())
}
