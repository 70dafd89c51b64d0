// internal/transport/serial.go
package transport

import (
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"serial-service/internal/model"
)

// SerialOpener opens OS serial ports
type SerialOpener struct {
	logger *zap.Logger
}

// NewSerialOpener creates a serial opener
func NewSerialOpener(logger *zap.Logger) *SerialOpener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SerialOpener{logger: logger.With(zap.String("protocol", "serial"))}
}

// Open opens port with the given framing and read timeout
func (o *SerialOpener) Open(port string, settings model.Settings) (Transport, error) {
	mode, err := serialMode(settings)
	if err != nil {
		return nil, err
	}

	o.logger.Info("Opening serial port",
		zap.String("port", port),
		zap.Int("baud_rate", settings.BaudRate),
		zap.Int("data_bits", settings.DataBits),
		zap.String("parity", string(settings.Parity)),
		zap.Int("stop_bits", settings.StopBits),
	)

	p, err := serial.Open(port, mode)
	if err != nil {
		o.logger.Error("Failed to open serial port", zap.String("port", port), zap.Error(err))
		return nil, fmt.Errorf("failed to open serial port: %w", err)
	}

	if settings.ReadTimeout > 0 {
		if err := p.SetReadTimeout(settings.ReadTimeout); err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to set read timeout: %w", err)
		}
	}

	return &serialTransport{port: p, open: true}, nil
}

func serialMode(settings model.Settings) (*serial.Mode, error) {
	mode := &serial.Mode{
		BaudRate: settings.BaudRate,
		DataBits: settings.DataBits,
	}

	switch settings.StopBits {
	case 1, 0:
		mode.StopBits = serial.OneStopBit
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("unsupported stop bits: %d", settings.StopBits)
	}

	parity, err := model.ParseParity(string(settings.Parity))
	if err != nil {
		return nil, err
	}
	switch parity {
	case model.ParityOdd:
		mode.Parity = serial.OddParity
	case model.ParityEven:
		mode.Parity = serial.EvenParity
	case model.ParityMark:
		mode.Parity = serial.MarkParity
	case model.ParitySpace:
		mode.Parity = serial.SpaceParity
	default:
		mode.Parity = serial.NoParity
	}

	return mode, nil
}

// serialTransport tracks the open flag go.bug.st/serial does not expose
type serialTransport struct {
	port serial.Port
	mu   sync.RWMutex
	open bool
}

func (t *serialTransport) Read(p []byte) (int, error) {
	if !t.IsOpen() {
		return 0, ErrClosed
	}
	return t.port.Read(p)
}

func (t *serialTransport) Write(p []byte) (int, error) {
	if !t.IsOpen() {
		return 0, ErrClosed
	}
	return t.port.Write(p)
}

func (t *serialTransport) Close() error {
	t.mu.Lock()
	if !t.open {
		t.mu.Unlock()
		return nil
	}
	t.open = false
	t.mu.Unlock()

	if err := t.port.Close(); err != nil {
		return fmt.Errorf("failed to close serial port: %w", err)
	}
	return nil
}

func (t *serialTransport) SetReadTimeout(d time.Duration) error {
	return t.port.SetReadTimeout(d)
}

func (t *serialTransport) ResetInputBuffer() error {
	return t.port.ResetInputBuffer()
}

func (t *serialTransport) ResetOutputBuffer() error {
	return t.port.ResetOutputBuffer()
}

func (t *serialTransport) IsOpen() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.open
}
