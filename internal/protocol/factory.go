// internal/protocol/factory.go
package protocol

import (
	"fmt"

	"go.uber.org/zap"

	"scope-service/internal/config"
	"scope-service/internal/model"
)

// CreateConnection creates a connection for the configured connection type
func CreateConnection(cfg *config.InstrumentConfig, logger *zap.Logger) (Connection, error) {
	connectionType, err := model.ParseConnectionType(cfg.ConnectionType)
	if err != nil {
		return nil, err
	}

	switch connectionType {
	case model.ConnectionTypeSerial:
		return createSerialConnection(cfg, logger)
	case model.ConnectionTypeUSBTMC:
		return createUSBTMCConnection(cfg, logger)
	case model.ConnectionTypeTCP:
		return createTCPConnection(cfg, logger)
	case model.ConnectionTypeSimulated:
		return createSimulatedConnection(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unsupported connection type: %s", connectionType)
	}
}

// createSerialConnection creates a serial connection
func createSerialConnection(cfg *config.InstrumentConfig, logger *zap.Logger) (Connection, error) {
	if cfg.Serial.Port == "" {
		return nil, fmt.Errorf("serial port is required")
	}

	serialConfig := &SerialConfig{
		Port:         cfg.Serial.Port,
		BaudRate:     cfg.Serial.BaudRate,
		DataBits:     cfg.Serial.DataBits,
		StopBits:     cfg.Serial.StopBits,
		Parity:       cfg.Serial.Parity,
		PollInterval: cfg.Serial.PollInterval,
	}
	if serialConfig.BaudRate == 0 {
		serialConfig.BaudRate = 9600
	}
	if serialConfig.DataBits == 0 {
		serialConfig.DataBits = 8
	}

	logger.Info("Creating serial connection",
		zap.String("port", serialConfig.Port),
		zap.Int("baud_rate", serialConfig.BaudRate),
	)

	return NewSerialConnection(serialConfig, logger), nil
}

// createUSBTMCConnection creates a usbtmc character device connection
func createUSBTMCConnection(cfg *config.InstrumentConfig, logger *zap.Logger) (Connection, error) {
	if cfg.USBTMC.Device == "" {
		return nil, fmt.Errorf("usbtmc device is required")
	}

	logger.Info("Creating USBTMC connection", zap.String("device", cfg.USBTMC.Device))

	return NewUSBTMCConnection(&USBTMCConfig{Device: cfg.USBTMC.Device}, logger), nil
}

// createTCPConnection creates a TCP connection
func createTCPConnection(cfg *config.InstrumentConfig, logger *zap.Logger) (Connection, error) {
	if cfg.TCP.Host == "" {
		return nil, fmt.Errorf("TCP host is required")
	}
	if cfg.TCP.Port < 1 || cfg.TCP.Port > 65535 {
		return nil, fmt.Errorf("invalid port number: %d", cfg.TCP.Port)
	}

	tcpConfig := &TCPConfig{
		Host:         cfg.TCP.Host,
		Port:         cfg.TCP.Port,
		Timeout:      cfg.TCP.ConnectTimeout,
		WriteTimeout: cfg.TCP.WriteTimeout,
	}

	logger.Info("Creating TCP connection",
		zap.String("host", tcpConfig.Host),
		zap.Int("port", tcpConfig.Port),
	)

	return NewTCPConnection(tcpConfig, logger), nil
}

// createSimulatedConnection creates the in-process instrument
func createSimulatedConnection(cfg *config.InstrumentConfig, logger *zap.Logger) Connection {
	logger.Info("Creating simulated connection", zap.Int64("seed", cfg.Simulated.Seed))

	return NewSimulatedConnection(&SimulatedConfig{
		Seed:  cfg.Simulated.Seed,
		Delay: cfg.Simulated.Delay,
	}, logger)
}
