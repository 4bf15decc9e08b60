// internal/transport/transport.go
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"scope-service/internal/model"
	"scope-service/internal/monitor"
	"scope-service/internal/protocol"
	"scope-service/internal/utils"
)

const (
	// Terminator ends every command and every reply line
	Terminator = '\n'

	defaultReadTimeout   = 10 * time.Second
	defaultMaxLineLength = 65536
	defaultReadChunk     = 4096
)

// LogSink receives every line crossing the channel
type LogSink interface {
	Record(direction model.Direction, text string) model.LogEvent
}

// Options bound an exchange
type Options struct {
	ReadTimeout   time.Duration
	MaxLineLength int
	ReadChunk     int
}

// Transport performs line-oriented command/response exchanges over a
// Connection. Exchanges are serialized; bytes following a reply terminator
// are kept for the next read.
type Transport struct {
	conn    protocol.Connection
	sink    LogSink
	metrics *monitor.Metrics
	logger  *utils.InstrumentLogger
	options Options

	mutex  sync.Mutex
	buffer []byte
}

// New creates a transport over an open connection. metrics may be nil.
func New(conn protocol.Connection, sink LogSink, options Options, logger *zap.Logger, metrics *monitor.Metrics) *Transport {
	if options.ReadTimeout <= 0 {
		options.ReadTimeout = defaultReadTimeout
	}
	if options.MaxLineLength <= 0 {
		options.MaxLineLength = defaultMaxLineLength
	}
	if options.ReadChunk <= 0 {
		options.ReadChunk = defaultReadChunk
	}

	return &Transport{
		conn:    conn,
		sink:    sink,
		metrics: metrics,
		logger:  utils.NewInstrumentLogger(logger, string(conn.GetProtocolType()), conn.Address()),
		options: options,
	}
}

// Send writes command followed by the terminator. The command is journaled
// before the write is attempted.
func (t *Transport) Send(ctx context.Context, command string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()

	startTime := time.Now()
	err := t.send(command)
	t.metrics.ObserveExchange("command", len(command)+1, 0, time.Since(startTime), err)
	return err
}

// SendAndReceive sends a query and returns its reply line without terminator
func (t *Transport) SendAndReceive(ctx context.Context, command string) (string, error) {
	return t.SendAndReceiveWithin(ctx, command, t.options.ReadTimeout)
}

// SendAndReceiveWithin is SendAndReceive with an explicit read bound, used for
// long replies such as curve transfers. The caller context only decides
// whether the exchange starts; once started it runs until a reply line
// arrives or the bound expires.
func (t *Transport) SendAndReceiveWithin(ctx context.Context, command string, timeout time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()

	startTime := time.Now()
	if err := t.send(command); err != nil {
		t.metrics.ObserveExchange("query", len(command)+1, 0, time.Since(startTime), err)
		return "", err
	}

	reply, received, err := t.receive(timeout)
	t.metrics.ObserveExchange("query", len(command)+1, received, time.Since(startTime), err)
	if err != nil {
		return "", fmt.Errorf("%s: %w", command, err)
	}
	return reply, nil
}

// Stats returns the statistics of the underlying connection
func (t *Transport) Stats() protocol.ProtocolStats {
	return t.conn.Stats()
}

// Connection returns the underlying connection
func (t *Transport) Connection() protocol.Connection {
	return t.conn
}

func (t *Transport) send(command string) error {
	if strings.ContainsAny(command, "\r\n") {
		return fmt.Errorf("%w: command %q contains a line terminator", model.ErrParse, command)
	}

	t.sink.Record(model.DirectionSent, command)
	t.logger.LogExchange(string(model.DirectionSent), command)

	ctx, cancel := context.WithTimeout(context.Background(), t.options.ReadTimeout)
	defer cancel()

	payload := make([]byte, 0, len(command)+1)
	payload = append(payload, command...)
	payload = append(payload, Terminator)

	if err := t.conn.Write(ctx, payload); err != nil {
		return fmt.Errorf("%w: write %q: %w", model.ErrTransport, command, err)
	}
	return nil
}

// receive reads until a terminator shows up in the buffer. It returns the
// line, the number of bytes read from the connection and any error.
func (t *Transport) receive(timeout time.Duration) (string, int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	received := 0
	for {
		if idx := bytes.IndexByte(t.buffer, Terminator); idx >= 0 {
			line := bytes.TrimSuffix(t.buffer[:idx], []byte{'\r'})
			reply, err := t.deliver(line)
			t.buffer = append([]byte(nil), t.buffer[idx+1:]...)
			return reply, received, err
		}

		if len(t.buffer) > t.options.MaxLineLength {
			t.buffer = nil
			return "", received, fmt.Errorf("%w: reply exceeds %d bytes without terminator", model.ErrTransport, t.options.MaxLineLength)
		}

		chunk, err := t.conn.Read(ctx, t.options.ReadChunk)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				// a late remainder would be taken as the next reply
				t.buffer = nil
				return "", received, fmt.Errorf("%w: no reply within %s", model.ErrTimeout, timeout)
			}
			return "", received, fmt.Errorf("%w: read: %w", model.ErrTransport, err)
		}
		received += len(chunk)
		t.buffer = append(t.buffer, chunk...)
	}
}

func (t *Transport) deliver(line []byte) (string, error) {
	if !utf8.Valid(line) {
		text := strings.ToValidUTF8(string(line), string(utf8.RuneError))
		t.sink.Record(model.DirectionReceived, text)
		t.logger.LogExchange(string(model.DirectionReceived), text)
		return "", fmt.Errorf("%w: %d byte reply", model.ErrDecode, len(line))
	}

	text := string(line)
	t.sink.Record(model.DirectionReceived, text)
	t.logger.LogExchange(string(model.DirectionReceived), text)
	return text, nil
}
