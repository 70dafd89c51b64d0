// internal/transport/tcp.go
package transport

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"serial-service/internal/model"
)

const defaultDialTimeout = 5 * time.Second

// TCPOpener opens serial-over-TCP bridges addressed as tcp://host:port
type TCPOpener struct {
	dialTimeout time.Duration
	logger      *zap.Logger
}

// NewTCPOpener creates a TCP opener
func NewTCPOpener(logger *zap.Logger, dialTimeout time.Duration) *TCPOpener {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	return &TCPOpener{
		dialTimeout: dialTimeout,
		logger:      logger.With(zap.String("protocol", "tcp")),
	}
}

// Open dials the bridge. Framing settings are ignored; only the timeouts apply.
func (o *TCPOpener) Open(port string, settings model.Settings) (Transport, error) {
	_, address, _ := SplitScheme(port)

	o.logger.Info("Opening TCP connection", zap.String("address", address))

	dialer := &net.Dialer{
		Timeout:   o.dialTimeout,
		KeepAlive: 30 * time.Second,
	}
	conn, err := dialer.Dial("tcp", address)
	if err != nil {
		o.logger.Error("Failed to open TCP connection", zap.Error(err))
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	return &tcpTransport{
		conn:         conn,
		open:         true,
		readTimeout:  settings.ReadTimeout,
		writeTimeout: settings.WriteTimeout,
	}, nil
}

type tcpTransport struct {
	conn         net.Conn
	mu           sync.RWMutex
	open         bool
	readTimeout  time.Duration
	writeTimeout time.Duration
}

// Read maps a deadline expiry onto the serial convention of (0, nil)
func (t *tcpTransport) Read(p []byte) (int, error) {
	t.mu.RLock()
	open, timeout := t.open, t.readTimeout
	t.mu.RUnlock()
	if !open {
		return 0, ErrClosed
	}

	if timeout > 0 {
		t.conn.SetReadDeadline(time.Now().Add(timeout))
	} else {
		t.conn.SetReadDeadline(time.Time{})
	}

	n, err := t.conn.Read(p)
	if err != nil && errors.Is(err, os.ErrDeadlineExceeded) {
		return n, nil
	}
	return n, err
}

func (t *tcpTransport) Write(p []byte) (int, error) {
	t.mu.RLock()
	open, timeout := t.open, t.writeTimeout
	t.mu.RUnlock()
	if !open {
		return 0, ErrClosed
	}

	if timeout > 0 {
		t.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	return t.conn.Write(p)
}

func (t *tcpTransport) Close() error {
	t.mu.Lock()
	if !t.open {
		t.mu.Unlock()
		return nil
	}
	t.open = false
	t.mu.Unlock()

	if err := t.conn.Close(); err != nil {
		return fmt.Errorf("failed to close TCP connection: %w", err)
	}
	return nil
}

func (t *tcpTransport) SetReadTimeout(d time.Duration) error {
	t.mu.Lock()
	t.readTimeout = d
	t.mu.Unlock()
	return nil
}

// ResetInputBuffer discards whatever is immediately readable
func (t *tcpTransport) ResetInputBuffer() error {
	if !t.IsOpen() {
		return ErrClosed
	}
	buf := make([]byte, 512)
	for {
		t.conn.SetReadDeadline(time.Now().Add(time.Millisecond))
		n, err := t.conn.Read(buf)
		if err != nil || n == 0 {
			t.conn.SetReadDeadline(time.Time{})
			if err != nil && !errors.Is(err, os.ErrDeadlineExceeded) {
				return err
			}
			return nil
		}
	}
}

func (t *tcpTransport) ResetOutputBuffer() error {
	return nil
}

func (t *tcpTransport) IsOpen() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.open
}
