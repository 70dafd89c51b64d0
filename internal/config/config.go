// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Security  SecurityConfig  `mapstructure:"security"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Serial    SerialConfig    `mapstructure:"serial"`
	Pool      PoolConfig      `mapstructure:"pool"`
	Protocol  ProtocolConfig  `mapstructure:"protocol"`
	Reader    ReaderConfig    `mapstructure:"reader"`
	Manager   ManagerConfig   `mapstructure:"manager"`
	Signals   SignalsConfig   `mapstructure:"signals"`
	Sequences SequencesConfig `mapstructure:"sequences"`
	Database  DatabaseConfig  `mapstructure:"database"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Host         string        `mapstructure:"host"`
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	TLS          TLSConfig     `mapstructure:"tls"`
}

// TLSConfig represents TLS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// SecurityConfig represents security configuration
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

// SerialConfig holds the default port and line settings
type SerialConfig struct {
	Port         string        `mapstructure:"port"`
	AutoConnect  bool          `mapstructure:"auto_connect"`
	BaudRate     int           `mapstructure:"baud_rate"`
	DataBits     int           `mapstructure:"data_bits"`
	StopBits     int           `mapstructure:"stop_bits"`
	Parity       string        `mapstructure:"parity"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	OpenTimeout  time.Duration `mapstructure:"open_timeout"`
	CloseTimeout time.Duration `mapstructure:"close_timeout"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	USBLookup    bool          `mapstructure:"usb_lookup"`
}

// PoolConfig bounds concurrently owned ports
type PoolConfig struct {
	MaxConnections int           `mapstructure:"max_connections"`
	MaxIdleTime    time.Duration `mapstructure:"max_idle_time"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
}

// PatternConfig is a user supplied response pattern
type PatternConfig struct {
	Name    string `mapstructure:"name"`
	Status  string `mapstructure:"status"`
	Pattern string `mapstructure:"pattern"`
}

// ProtocolConfig selects the command dialect
type ProtocolConfig struct {
	Flavor           string          `mapstructure:"flavor"`
	Terminator       string          `mapstructure:"terminator"`
	DefaultTimeout   time.Duration   `mapstructure:"default_timeout"`
	MaxRetries       int             `mapstructure:"max_retries"`
	MaxCommandLength int             `mapstructure:"max_command_length"`
	Unclassified     string          `mapstructure:"unclassified"`
	Patterns         []PatternConfig `mapstructure:"patterns"`
}

// ReaderConfig tunes the background line reader
type ReaderConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	PollSlice        time.Duration `mapstructure:"poll_slice"`
	PollSlices       int           `mapstructure:"poll_slices"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
	InterruptTimeout time.Duration `mapstructure:"interrupt_timeout"`
	ForceTimeout     time.Duration `mapstructure:"force_timeout"`
}

// ManagerConfig tunes the serial manager
type ManagerConfig struct {
	ReconnectDelay       time.Duration `mapstructure:"reconnect_delay"`
	ResponseTimeout      time.Duration `mapstructure:"response_timeout"`
	ResponsePollInterval time.Duration `mapstructure:"response_poll_interval"`
	ShutdownTimeout      time.Duration `mapstructure:"shutdown_timeout"`
}

// SignalsConfig maps telemetry signals to variables. Each mapping value
// has the form "variable (type)".
type SignalsConfig struct {
	Enabled  bool              `mapstructure:"enabled"`
	Mappings map[string]string `mapstructure:"mappings"`
}

// SequencesConfig holds named command sequences
type SequencesConfig struct {
	Definitions       map[string][]string `mapstructure:"definitions"`
	Commands          map[string]string   `mapstructure:"commands"`
	Flags             map[string]bool     `mapstructure:"flags"`
	MaxDepth          int                 `mapstructure:"max_depth"`
	MaxWait           time.Duration       `mapstructure:"max_wait"`
	CompletionTimeout time.Duration       `mapstructure:"completion_timeout"`
}

// DatabaseConfig represents the command journal database
type DatabaseConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Driver       string        `mapstructure:"driver"`
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	User         string        `mapstructure:"user"`
	Password     string        `mapstructure:"password"`
	DBName       string        `mapstructure:"dbname"`
	SSLMode      string        `mapstructure:"sslmode"`
	Path         string        `mapstructure:"path"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
	MaxIdleConns int           `mapstructure:"max_idle_conns"`
	MaxLifetime  time.Duration `mapstructure:"max_lifetime"`
	AutoMigrate  bool          `mapstructure:"auto_migrate"`
	Retention    time.Duration `mapstructure:"retention"`
}

// MQTTConfig represents the telemetry bridge
type MQTTConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Broker         string        `mapstructure:"broker"`
	ClientID       string        `mapstructure:"client_id"`
	TopicPrefix    string        `mapstructure:"topic_prefix"`
	QoS            byte          `mapstructure:"qos"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// ErrConfigNotFound is returned when an explicit config path does not exist
var ErrConfigNotFound = errors.New("config file not found")

// Load loads configuration from file and environment variables. An empty
// path searches the default locations and falls back to defaults when no
// file is present.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/serial-service")
	}

	// Environment variable support
	v.SetEnvPrefix("SERIAL_SERVICE")
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
	// App defaults
	v.SetDefault("app.name", "serial-service")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)

	// Server defaults
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8085")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.tls.enabled", false)

	v.SetDefault("security.allowed_origins", []string{})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)

	// Serial defaults
	v.SetDefault("serial.port", "")
	v.SetDefault("serial.auto_connect", false)
	v.SetDefault("serial.baud_rate", 9600)
	v.SetDefault("serial.data_bits", 8)
	v.SetDefault("serial.stop_bits", 1)
	v.SetDefault("serial.parity", "none")
	v.SetDefault("serial.read_timeout", "1s")
	v.SetDefault("serial.write_timeout", "1s")
	v.SetDefault("serial.open_timeout", "5s")
	v.SetDefault("serial.close_timeout", "2s")
	v.SetDefault("serial.dial_timeout", "5s")
	v.SetDefault("serial.usb_lookup", false)

	// Pool defaults
	v.SetDefault("pool.max_connections", 10)
	v.SetDefault("pool.max_idle_time", "300s")
	v.SetDefault("pool.sweep_interval", "60s")

	// Protocol defaults
	v.SetDefault("protocol.flavor", "custom")
	v.SetDefault("protocol.terminator", "\r\n")
	v.SetDefault("protocol.default_timeout", "5s")
	v.SetDefault("protocol.max_retries", 3)
	v.SetDefault("protocol.max_command_length", 1024)
	v.SetDefault("protocol.unclassified", "success")

	// Reader defaults
	v.SetDefault("reader.enabled", true)
	v.SetDefault("reader.poll_slice", "5ms")
	v.SetDefault("reader.poll_slices", 10)
	v.SetDefault("reader.shutdown_timeout", "2s")
	v.SetDefault("reader.interrupt_timeout", "500ms")
	v.SetDefault("reader.force_timeout", "500ms")

	// Manager defaults
	v.SetDefault("manager.reconnect_delay", "500ms")
	v.SetDefault("manager.response_timeout", "5s")
	v.SetDefault("manager.response_poll_interval", "10ms")
	v.SetDefault("manager.shutdown_timeout", "5s")

	v.SetDefault("signals.enabled", true)

	// Sequence defaults
	v.SetDefault("sequences.max_depth", 10)
	v.SetDefault("sequences.max_wait", "3600s")
	v.SetDefault("sequences.completion_timeout", "10s")

	// Database defaults
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "serial_service")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.path", "./data/journal.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.max_lifetime", "5m")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.retention", "720h")

	// MQTT defaults
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "serial-service")
	v.SetDefault("mqtt.topic_prefix", "serial-service")
	v.SetDefault("mqtt.qos", 0)
	v.SetDefault("mqtt.connect_timeout", "10s")
}

// SupportedBaudRates lists the baud rates accepted in configuration
var SupportedBaudRates = []int{300, 600, 1200, 2400, 4800, 9600, 14400, 19200, 38400, 57600, 115200, 230400, 460800, 921600}

// validate validates the configuration
func validate(config *Config) error {
	if config.Server.Enabled {
		if config.Server.Host == "" {
			return fmt.Errorf("server.host is required")
		}
		if config.Server.Port == "" {
			return fmt.Errorf("server.port is required")
		}
	}

	validEnvs := []string{"development", "staging", "production", "test"}
	if !contains(validEnvs, config.App.Environment) {
		return fmt.Errorf("app.environment must be one of: %v", validEnvs)
	}

	validLevels := []string{"debug", "info", "warn", "error", "fatal"}
	if !contains(validLevels, config.Logging.Level) {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}

	if !containsInt(SupportedBaudRates, config.Serial.BaudRate) {
		return fmt.Errorf("serial.baud_rate %d is not supported", config.Serial.BaudRate)
	}
	if config.Serial.DataBits < 5 || config.Serial.DataBits > 8 {
		return fmt.Errorf("serial.data_bits must be between 5 and 8")
	}
	if config.Serial.StopBits != 1 && config.Serial.StopBits != 2 {
		return fmt.Errorf("serial.stop_bits must be 1 or 2")
	}
	validParity := []string{"none", "odd", "even", "mark", "space", "n", "o", "e", "m", "s"}
	if !contains(validParity, strings.ToLower(config.Serial.Parity)) {
		return fmt.Errorf("serial.parity must be one of: %v", validParity[:5])
	}
	if config.Serial.ReadTimeout <= 0 || config.Serial.WriteTimeout <= 0 {
		return fmt.Errorf("serial timeouts must be positive")
	}

	if config.Pool.MaxConnections <= 0 {
		return fmt.Errorf("pool.max_connections must be positive")
	}
	if config.Pool.MaxIdleTime <= 0 {
		return fmt.Errorf("pool.max_idle_time must be positive")
	}

	validFlavors := []string{"custom", "at_commands", "modbus", "text", "binary"}
	if !contains(validFlavors, config.Protocol.Flavor) {
		return fmt.Errorf("protocol.flavor must be one of: %v", validFlavors)
	}
	validStatuses := []string{"success", "error", "timeout", "invalid", "partial"}
	if !contains(validStatuses, config.Protocol.Unclassified) {
		return fmt.Errorf("protocol.unclassified must be one of: %v", validStatuses)
	}
	for _, p := range config.Protocol.Patterns {
		if p.Name == "" || p.Pattern == "" {
			return fmt.Errorf("protocol.patterns entries need a name and a pattern")
		}
		if !contains(validStatuses, p.Status) {
			return fmt.Errorf("protocol.patterns[%s].status must be one of: %v", p.Name, validStatuses)
		}
	}
	if config.Protocol.MaxRetries < 0 {
		return fmt.Errorf("protocol.max_retries cannot be negative")
	}

	if config.Reader.PollSlice <= 0 || config.Reader.PollSlices <= 0 {
		return fmt.Errorf("reader.poll_slice and reader.poll_slices must be positive")
	}
	if config.Reader.ShutdownTimeout <= 0 || config.Reader.InterruptTimeout <= 0 || config.Reader.ForceTimeout <= 0 {
		return fmt.Errorf("reader timeouts must be positive")
	}

	if config.Database.Enabled {
		switch config.Database.Driver {
		case "postgres":
			if config.Database.Host == "" {
				return fmt.Errorf("database.host is required")
			}
		case "sqlite":
			if config.Database.Path == "" {
				return fmt.Errorf("database.path is required")
			}
		default:
			return fmt.Errorf("database.driver must be postgres or sqlite")
		}
	}

	if config.MQTT.Enabled && config.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}

	return nil
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func containsInt(list []int, n int) bool {
	for _, item := range list {
		if item == n {
			return true
		}
	}
	return false
}

// DSN returns the driver-specific connection string
func (d *DatabaseConfig) DSN() string {
	if d.Driver == "sqlite" {
		return d.Path
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// GetDatabaseDSN returns the database connection string
func (c *Config) GetDatabaseDSN() string {
	return c.Database.DSN()
}

// GetServerAddr returns the server address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// IsProduction checks if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDebugEnabled checks if debug mode is enabled
func (c *Config) IsDebugEnabled() bool {
	return c.App.Debug || c.App.Environment == "development"
}
