// internal/protocol/protocol.go
package protocol

import (
	"context"
	"sync"
	"time"

	"scope-service/internal/model"
)

// Connection is a bidirectional byte channel to the instrument
type Connection interface {
	// Connection lifecycle
	Open(ctx context.Context) error
	Close() error
	IsOpen() bool

	// Data communication. Read blocks until at least one byte is available
	// or ctx is done.
	Write(ctx context.Context, data []byte) error
	Read(ctx context.Context, maxBytes int) ([]byte, error)

	// Protocol information
	GetProtocolType() model.ConnectionType
	Address() string
	Stats() ProtocolStats
}

// ProtocolStats provides protocol-level statistics
type ProtocolStats struct {
	BytesWritten   int64         `json:"bytes_written"`
	BytesRead      int64         `json:"bytes_read"`
	OperationCount int64         `json:"operation_count"`
	ErrorCount     int64         `json:"error_count"`
	LastActivity   time.Time     `json:"last_activity"`
	AverageLatency time.Duration `json:"average_latency"`
	IsConnected    bool          `json:"is_connected"`
}

// statsRecorder guards ProtocolStats shared by concurrent readers
type statsRecorder struct {
	mu    sync.Mutex
	stats ProtocolStats
}

func (s *statsRecorder) connected(isConnected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.IsConnected = isConnected
	s.stats.LastActivity = time.Now()
}

func (s *statsRecorder) wrote(n int, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.BytesWritten += int64(n)
	s.stats.OperationCount++
	s.stats.LastActivity = time.Now()
	if s.stats.AverageLatency == 0 {
		s.stats.AverageLatency = latency
	} else {
		s.stats.AverageLatency = (s.stats.AverageLatency + latency) / 2
	}
}

func (s *statsRecorder) read(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.BytesRead += int64(n)
	s.stats.OperationCount++
	s.stats.LastActivity = time.Now()
}

func (s *statsRecorder) failed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.ErrorCount++
}

func (s *statsRecorder) snapshot() ProtocolStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
