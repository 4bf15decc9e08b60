// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"scope-service/internal/model"
)

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Security   SecurityConfig   `mapstructure:"security"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Instrument InstrumentConfig `mapstructure:"instrument"`
	EventLog   EventLogConfig   `mapstructure:"eventlog"`
	App        AppConfig        `mapstructure:"app"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// SecurityConfig represents browser-facing security settings
type SecurityConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// InstrumentConfig describes how to reach the oscilloscope
type InstrumentConfig struct {
	ConnectionType   string          `mapstructure:"connection_type"`
	ConnectOnStart   bool            `mapstructure:"connect_on_start"`
	ReadTimeout      time.Duration   `mapstructure:"read_timeout"`
	CurveReadTimeout time.Duration   `mapstructure:"curve_read_timeout"`
	MaxLineLength    int             `mapstructure:"max_line_length"`
	Serial           SerialConfig    `mapstructure:"serial"`
	USBTMC           USBTMCConfig    `mapstructure:"usbtmc"`
	TCP              TCPConfig       `mapstructure:"tcp"`
	Simulated        SimulatedConfig `mapstructure:"simulated"`
}

// SerialConfig represents RS-232 port configuration
type SerialConfig struct {
	Port         string        `mapstructure:"port"`
	BaudRate     int           `mapstructure:"baud_rate"`
	DataBits     int           `mapstructure:"data_bits"`
	StopBits     int           `mapstructure:"stop_bits"`
	Parity       string        `mapstructure:"parity"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// USBTMCConfig represents the kernel usbtmc character device
type USBTMCConfig struct {
	Device string `mapstructure:"device"`
}

// TCPConfig represents a raw socket connection to a LAN instrument
type TCPConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
}

// SimulatedConfig tunes the built-in simulated oscilloscope
type SimulatedConfig struct {
	Seed  int64         `mapstructure:"seed"`
	Delay time.Duration `mapstructure:"delay"`
}

// EventLogConfig bounds the exchange journal
type EventLogConfig struct {
	Capacity int `mapstructure:"capacity"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// Load loads configuration from file and environment variables. An empty path
// searches for config.yaml in the working directory and ./config.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variable support
	v.SetEnvPrefix("SCOPE_SERVICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", "8085")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "90s")
	v.SetDefault("server.idle_timeout", "120s")

	v.SetDefault("security.allowed_origins", []string{})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)

	// Instrument defaults
	v.SetDefault("instrument.connection_type", "SERIAL")
	v.SetDefault("instrument.connect_on_start", true)
	v.SetDefault("instrument.read_timeout", "10s")
	v.SetDefault("instrument.curve_read_timeout", "60s")
	v.SetDefault("instrument.max_line_length", 65536)

	v.SetDefault("instrument.serial.port", "/dev/ttyUSB0")
	v.SetDefault("instrument.serial.baud_rate", 9600)
	v.SetDefault("instrument.serial.data_bits", 8)
	v.SetDefault("instrument.serial.stop_bits", 1)
	v.SetDefault("instrument.serial.parity", "none")
	v.SetDefault("instrument.serial.poll_interval", "100ms")

	v.SetDefault("instrument.usbtmc.device", "/dev/usbtmc0")

	v.SetDefault("instrument.tcp.port", 4000)
	v.SetDefault("instrument.tcp.connect_timeout", "10s")
	v.SetDefault("instrument.tcp.write_timeout", "10s")

	v.SetDefault("instrument.simulated.seed", 1)
	v.SetDefault("instrument.simulated.delay", "0s")

	v.SetDefault("eventlog.capacity", 4096)

	// App defaults
	v.SetDefault("app.name", "scope-service")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
}

// validate validates the configuration
func validate(config *Config) error {
	if config.Server.Host == "" {
		return fmt.Errorf("server.host is required")
	}
	if config.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}

	connType, err := model.ParseConnectionType(config.Instrument.ConnectionType)
	if err != nil {
		return fmt.Errorf("instrument.connection_type: %w", err)
	}
	switch connType {
	case model.ConnectionTypeSerial:
		if config.Instrument.Serial.Port == "" {
			return fmt.Errorf("instrument.serial.port is required")
		}
		validRates := []int{1200, 2400, 4800, 9600, 19200, 38400, 57600, 115200}
		isValidRate := false
		for _, rate := range validRates {
			if config.Instrument.Serial.BaudRate == rate {
				isValidRate = true
				break
			}
		}
		if !isValidRate {
			return fmt.Errorf("instrument.serial.baud_rate must be one of: %v", validRates)
		}
	case model.ConnectionTypeUSBTMC:
		if config.Instrument.USBTMC.Device == "" {
			return fmt.Errorf("instrument.usbtmc.device is required")
		}
	case model.ConnectionTypeTCP:
		if config.Instrument.TCP.Host == "" {
			return fmt.Errorf("instrument.tcp.host is required")
		}
		if config.Instrument.TCP.Port < 1 || config.Instrument.TCP.Port > 65535 {
			return fmt.Errorf("invalid instrument.tcp.port: %d", config.Instrument.TCP.Port)
		}
	}

	if config.Instrument.ReadTimeout <= 0 {
		return fmt.Errorf("instrument.read_timeout must be positive")
	}
	if config.Instrument.CurveReadTimeout < config.Instrument.ReadTimeout {
		return fmt.Errorf("instrument.curve_read_timeout must not be shorter than instrument.read_timeout")
	}
	if config.Instrument.MaxLineLength < 1024 {
		return fmt.Errorf("instrument.max_line_length must be at least 1024")
	}
	if config.EventLog.Capacity < 1 {
		return fmt.Errorf("eventlog.capacity must be positive")
	}

	// Validate environment
	validEnvs := []string{"development", "production", "test"}
	isValidEnv := false
	for _, env := range validEnvs {
		if config.App.Environment == env {
			isValidEnv = true
			break
		}
	}
	if !isValidEnv {
		return fmt.Errorf("app.environment must be one of: %v", validEnvs)
	}

	// Validate logging level
	validLevels := []string{"debug", "info", "warn", "error", "fatal"}
	isValidLevel := false
	for _, level := range validLevels {
		if config.Logging.Level == level {
			isValidLevel = true
			break
		}
	}
	if !isValidLevel {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}

	return nil
}

// GetServerAddr returns the server address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// GetConnectionType returns the validated instrument connection type
func (c *Config) GetConnectionType() model.ConnectionType {
	connType, _ := model.ParseConnectionType(c.Instrument.ConnectionType)
	return connType
}

// IsProduction checks if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}
