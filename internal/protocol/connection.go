// internal/protocol/connection.go
package protocol

import "time"

// SerialConfig represents serial connection configuration
type SerialConfig struct {
	Port     string `json:"port"`
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
	// PollInterval is the port read timeout used while waiting for data
	PollInterval time.Duration `json:"poll_interval"`
}

// USBTMCConfig represents a kernel usbtmc character device
type USBTMCConfig struct {
	Device string `json:"device"`
}

// TCPConfig represents TCP connection configuration
type TCPConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	Timeout      time.Duration `json:"timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

// SimulatedConfig configures the simulated oscilloscope
type SimulatedConfig struct {
	Seed  int64         `json:"seed"`
	Delay time.Duration `json:"delay"`
}
