// internal/model/serial.go
package model

import (
	"fmt"
	"strings"
	"time"
)

// Parity represents the parity mode of a serial line
type Parity string

const (
	ParityNone  Parity = "none"
	ParityOdd   Parity = "odd"
	ParityEven  Parity = "even"
	ParityMark  Parity = "mark"
	ParitySpace Parity = "space"
)

// ParseParity accepts the long names and the single-letter forms (N, O, E, M, S)
func ParseParity(s string) (Parity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "n", "none":
		return ParityNone, nil
	case "o", "odd":
		return ParityOdd, nil
	case "e", "even":
		return ParityEven, nil
	case "m", "mark":
		return ParityMark, nil
	case "s", "space":
		return ParitySpace, nil
	default:
		return ParityNone, fmt.Errorf("unsupported parity %q", s)
	}
}

// Settings describes how a port is opened
type Settings struct {
	BaudRate     int           `json:"baud_rate"`
	DataBits     int           `json:"data_bits"`
	Parity       Parity        `json:"parity"`
	StopBits     int           `json:"stop_bits"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

// DefaultSettings returns 9600 8N1 with one second timeouts
func DefaultSettings() Settings {
	return Settings{
		BaudRate:     9600,
		DataBits:     8,
		Parity:       ParityNone,
		StopBits:     1,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	}
}

// SettingsOption overrides a single field of Settings
type SettingsOption func(*Settings)

// WithBaudRate overrides the baud rate
func WithBaudRate(baud int) SettingsOption {
	return func(s *Settings) { s.BaudRate = baud }
}

// WithDataBits overrides the byte size
func WithDataBits(bits int) SettingsOption {
	return func(s *Settings) { s.DataBits = bits }
}

// WithParity overrides the parity
func WithParity(p Parity) SettingsOption {
	return func(s *Settings) { s.Parity = p }
}

// WithStopBits overrides the stop bits
func WithStopBits(bits int) SettingsOption {
	return func(s *Settings) { s.StopBits = bits }
}

// WithReadTimeout overrides the read timeout
func WithReadTimeout(d time.Duration) SettingsOption {
	return func(s *Settings) { s.ReadTimeout = d }
}

// WithWriteTimeout overrides the write timeout
func WithWriteTimeout(d time.Duration) SettingsOption {
	return func(s *Settings) { s.WriteTimeout = d }
}

// WithSettings replaces every non-zero field of s
func WithSettings(o Settings) SettingsOption {
	return func(s *Settings) {
		if o.BaudRate > 0 {
			s.BaudRate = o.BaudRate
		}
		if o.DataBits > 0 {
			s.DataBits = o.DataBits
		}
		if o.Parity != "" {
			s.Parity = o.Parity
		}
		if o.StopBits > 0 {
			s.StopBits = o.StopBits
		}
		if o.ReadTimeout > 0 {
			s.ReadTimeout = o.ReadTimeout
		}
		if o.WriteTimeout > 0 {
			s.WriteTimeout = o.WriteTimeout
		}
	}
}

// Apply returns a copy of s with the options applied in order
func (s Settings) Apply(opts ...SettingsOption) Settings {
	out := s
	for _, opt := range opts {
		if opt != nil {
			opt(&out)
		}
	}
	return out
}

// Validate checks the framing parameters
func (s Settings) Validate() error {
	if s.BaudRate <= 0 {
		return fmt.Errorf("invalid baud rate %d", s.BaudRate)
	}
	if s.DataBits < 5 || s.DataBits > 8 {
		return fmt.Errorf("invalid data bits %d: must be between 5 and 8", s.DataBits)
	}
	if s.StopBits != 1 && s.StopBits != 2 {
		return fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", s.StopBits)
	}
	if _, err := ParseParity(string(s.Parity)); err != nil {
		return err
	}
	if s.ReadTimeout < 0 || s.WriteTimeout < 0 {
		return fmt.Errorf("timeouts cannot be negative")
	}
	return nil
}

// PortInfo describes a port as reported by the operating system
type PortInfo struct {
	Port         string `json:"port"`
	Description  string `json:"description"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Product      string `json:"product,omitempty"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	HWID         string `json:"hwid,omitempty"`
	IsUSB        bool   `json:"is_usb"`
}

// Phase is the lifecycle phase of a connection
type Phase int

const (
	PhaseDisconnected Phase = iota
	PhaseConnecting
	PhaseConnected
	PhaseDisconnecting
)

func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	case PhaseDisconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// MarshalText renders the phase by name
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// ConnectionState is a snapshot of a connection's lifecycle
type ConnectionState struct {
	Phase              Phase     `json:"phase"`
	Port               string    `json:"port,omitempty"`
	LastOperation      string    `json:"last_operation,omitempty"`
	OperationTimestamp time.Time `json:"operation_timestamp"`
	PortInfo           *PortInfo `json:"port_info,omitempty"`
	ConnectionAttempts int       `json:"connection_attempts"`
	LastError          string    `json:"last_error,omitempty"`
}

// Connected reports whether the phase is PhaseConnected
func (s ConnectionState) Connected() bool {
	return s.Phase == PhaseConnected
}

// ConnectionRecord is the pool's bookkeeping entry for an owned port
type ConnectionRecord struct {
	Port         string    `json:"port"`
	Settings     Settings  `json:"settings"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}
