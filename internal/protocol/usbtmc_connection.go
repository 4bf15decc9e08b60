// internal/protocol/usbtmc_connection.go
package protocol

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"scope-service/internal/model"
)

// USBTMCConnection implements Connection over the Linux usbtmc character
// device. The device file is opened per write and per read; Open only checks
// that the device node exists.
type USBTMCConnection struct {
	config *USBTMCConfig
	logger *zap.Logger
	mutex  sync.RWMutex
	isOpen bool
	stats  statsRecorder
}

// NewUSBTMCConnection creates a new USBTMC connection
func NewUSBTMCConnection(config *USBTMCConfig, logger *zap.Logger) *USBTMCConnection {
	return &USBTMCConnection{
		config: config,
		logger: logger.With(
			zap.String("protocol", "usbtmc"),
			zap.String("device", config.Device),
		),
	}
}

// Open verifies the device node
func (uc *USBTMCConnection) Open(ctx context.Context) error {
	uc.mutex.Lock()
	defer uc.mutex.Unlock()

	if uc.isOpen {
		return nil
	}

	info, err := os.Stat(uc.config.Device)
	if err != nil {
		uc.logger.Error("USBTMC device not available", zap.Error(err))
		return fmt.Errorf("failed to open usbtmc device: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("usbtmc device %s is a directory", uc.config.Device)
	}

	uc.isOpen = true
	uc.stats.connected(true)

	uc.logger.Info("USBTMC device ready")
	return nil
}

// Close marks the connection closed; no handle is held between calls
func (uc *USBTMCConnection) Close() error {
	uc.mutex.Lock()
	defer uc.mutex.Unlock()

	if !uc.isOpen {
		return nil
	}

	uc.isOpen = false
	uc.stats.connected(false)

	uc.logger.Info("USBTMC connection closed")
	return nil
}

// IsOpen returns whether the connection is open
func (uc *USBTMCConnection) IsOpen() bool {
	uc.mutex.RLock()
	defer uc.mutex.RUnlock()
	return uc.isOpen
}

// Write opens the device, writes the whole message and closes it again
func (uc *USBTMCConnection) Write(ctx context.Context, data []byte) error {
	uc.mutex.RLock()
	defer uc.mutex.RUnlock()

	if !uc.isOpen {
		return fmt.Errorf("usbtmc device not open")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	startTime := time.Now()
	file, err := os.OpenFile(uc.config.Device, os.O_WRONLY, 0)
	if err != nil {
		uc.stats.failed()
		return fmt.Errorf("failed to open usbtmc device for writing: %w", err)
	}
	defer file.Close()

	n, err := file.Write(data)
	if err != nil {
		uc.stats.failed()
		uc.logger.Error("USBTMC write failed", zap.Error(err))
		return fmt.Errorf("failed to write to usbtmc device: %w", err)
	}

	uc.stats.wrote(n, time.Since(startTime))
	return nil
}

// Read opens the device and reads one response chunk. The kernel driver
// applies its own transfer timeout; ctx expiry closes the handle to unblock the
// pending read.
func (uc *USBTMCConnection) Read(ctx context.Context, maxBytes int) ([]byte, error) {
	uc.mutex.RLock()
	defer uc.mutex.RUnlock()

	if !uc.isOpen {
		return nil, fmt.Errorf("usbtmc device not open")
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(uc.config.Device, os.O_RDONLY, 0)
	if err != nil {
		uc.stats.failed()
		return nil, fmt.Errorf("failed to open usbtmc device for reading: %w", err)
	}

	type readResult struct {
		data []byte
		err  error
	}
	done := make(chan readResult, 1)

	go func() {
		buffer := make([]byte, maxBytes)
		n, err := file.Read(buffer)
		if err != nil {
			done <- readResult{err: err}
			return
		}
		done <- readResult{data: buffer[:n]}
	}()

	select {
	case result := <-done:
		file.Close()
		if result.err != nil {
			uc.stats.failed()
			return nil, fmt.Errorf("failed to read from usbtmc device: %w", result.err)
		}
		uc.stats.read(len(result.data))
		return result.data, nil

	case <-ctx.Done():
		file.Close()
		return nil, ctx.Err()
	}
}

// GetProtocolType returns the protocol type
func (uc *USBTMCConnection) GetProtocolType() model.ConnectionType {
	return model.ConnectionTypeUSBTMC
}

// Address returns the device path
func (uc *USBTMCConnection) Address() string {
	return uc.config.Device
}

// Stats returns a copy of the connection statistics
func (uc *USBTMCConnection) Stats() ProtocolStats {
	return uc.stats.snapshot()
}
