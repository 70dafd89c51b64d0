// internal/connection/connection.go
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"serial-service/internal/model"
	"serial-service/internal/pool"
	"serial-service/internal/transport"
	"serial-service/internal/utils"
	"serial-service/internal/worker"
)

const (
	DefaultOpenTimeout    = 5 * time.Second
	DefaultCloseTimeout   = 2 * time.Second
	DefaultReconnectDelay = 500 * time.Millisecond
	DefaultMaxLineLength  = 4096

	minWriteBudget = time.Second
)

// Pool is the admission gate shared by every connection in the process
type Pool interface {
	Check(port string) error
	Register(port string, settings model.Settings) error
	Touch(port string)
	Remove(port string) bool
	SweepIdle() int
	SetLimits(maxConnections int, maxIdleTime time.Duration)
	Stats() pool.Stats
}

// Runner executes a blocking call on a named worker with a deadline
type Runner interface {
	Run(name string, timeout time.Duration, fn worker.Func, opts ...worker.Option) error
}

// Options tunes a Connection. Zero values take the defaults.
type Options struct {
	Defaults       model.Settings
	OpenTimeout    time.Duration
	CloseTimeout   time.Duration
	ReconnectDelay time.Duration
	MaxLineLength  int
	// LookupPortInfo resolves port metadata after a successful open
	LookupPortInfo func(port string) model.PortInfo
}

// Stats is a snapshot of connection counters
type Stats struct {
	State         model.ConnectionState `json:"state"`
	Settings      model.Settings        `json:"settings"`
	PortOpen      bool                  `json:"port_open"`
	BytesSent     int64                 `json:"bytes_sent"`
	BytesReceived int64                 `json:"bytes_received"`
	LinesRead     int64                 `json:"lines_read"`
	WriteErrors   int64                 `json:"write_errors"`
	ReadErrors    int64                 `json:"read_errors"`
	Pool          pool.Stats            `json:"pool_stats"`
}

// Connection owns one transport and its lifecycle. The phase is the
// re-entrancy guard: blocking open and close run outside the state lock
// while the phase is Connecting or Disconnecting.
type Connection struct {
	pool      Pool
	opener    transport.Opener
	runner    Runner
	describer transport.Describer
	opts      Options
	logger    *zap.Logger

	// mu guards state, transport, settings and the remembered port
	mu           sync.RWMutex
	state        model.ConnectionState
	transport    transport.Transport
	settings     model.Settings
	lastPort     string
	lastSettings model.Settings

	// txMu serializes writes
	txMu sync.Mutex
	// wire is held from the start of a transport Write until it returns,
	// which may outlive a SendData call that timed out
	wire chan struct{}

	// rxMu guards rxBuf and serializes reads
	rxMu  sync.Mutex
	rxBuf []byte

	bytesSent     atomic.Int64
	bytesReceived atomic.Int64
	linesRead     atomic.Int64
	writeErrors   atomic.Int64
	readErrors    atomic.Int64
}

// New creates a disconnected connection. runner and describer may be nil.
func New(p Pool, opener transport.Opener, runner Runner, describer transport.Describer, opts Options, logger *zap.Logger) *Connection {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Defaults.BaudRate == 0 {
		opts.Defaults = model.DefaultSettings()
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = DefaultOpenTimeout
	}
	if opts.CloseTimeout <= 0 {
		opts.CloseTimeout = DefaultCloseTimeout
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.MaxLineLength <= 0 {
		opts.MaxLineLength = DefaultMaxLineLength
	}
	if opts.LookupPortInfo == nil {
		opts.LookupPortInfo = func(port string) model.PortInfo {
			return transport.LookupPort(port, describer)
		}
	}

	return &Connection{
		pool:      p,
		opener:    opener,
		runner:    runner,
		describer: describer,
		opts:      opts,
		logger:    logger.With(zap.String("component", "serial_connection")),
		state:     model.ConnectionState{Phase: model.PhaseDisconnected},
		wire:      make(chan struct{}, 1),
	}
}

// run executes fn on the runner, or inline when there is none
func (c *Connection) run(name string, timeout time.Duration, fn worker.Func) error {
	if c.runner == nil {
		return fn(context.Background())
	}
	return c.runner.Run(name, timeout, fn)
}

// Connect opens port with the default settings overridden by opts. It is a
// no-op when already connected and fails fast while another connect or
// disconnect is running.
func (c *Connection) Connect(port string, opts ...model.SettingsOption) error {
	c.mu.Lock()
	switch c.state.Phase {
	case model.PhaseConnected:
		current := c.state.Port
		c.mu.Unlock()
		if current != port {
			c.logger.Warn("Already connected to another port",
				zap.String("connected", current),
				zap.String("requested", port),
			)
		}
		return nil
	case model.PhaseConnecting, model.PhaseDisconnecting:
		c.mu.Unlock()
		c.logger.Warn("Connect rejected", zap.String("port", port), zap.String("phase", c.State().Phase.String()))
		return ErrConnectInProgress
	}

	if err := c.pool.Check(port); err != nil {
		c.setErrorLocked("connect", err)
		c.mu.Unlock()
		c.logger.Error("Connection rejected by pool", zap.String("port", port), zap.Error(err))
		return fmt.Errorf("failed to connect to %s: %w", port, err)
	}

	settings := c.opts.Defaults.Apply(opts...)
	if err := settings.Validate(); err != nil {
		c.setErrorLocked("connect", err)
		c.mu.Unlock()
		return fmt.Errorf("%w for %s: %v", ErrInvalidSettings, port, err)
	}

	c.state.Phase = model.PhaseConnecting
	c.state.LastError = ""
	c.touchOperationLocked("connect")
	c.mu.Unlock()

	portLogger := utils.NewPortLogger(c.logger, port)
	portLogger.Info("Connecting",
		zap.Int("baud_rate", settings.BaudRate),
		zap.Int("data_bits", settings.DataBits),
		zap.String("parity", string(settings.Parity)),
		zap.Int("stop_bits", settings.StopBits),
	)

	t, err := c.open(port, settings)
	if err == nil && !t.IsOpen() {
		t.Close()
		err = ErrTransportNotOpen
	}
	if err == nil {
		if regErr := c.pool.Register(port, settings); regErr != nil {
			if closeErr := t.Close(); closeErr != nil {
				portLogger.Warn("Failed to close transport after pool rejection", zap.Error(closeErr))
			}
			err = regErr
		}
	}
	if err != nil {
		c.mu.Lock()
		c.state.Phase = model.PhaseDisconnected
		c.setErrorLocked("connect", err)
		c.mu.Unlock()
		portLogger.LogConnection("connect", false, err)
		return fmt.Errorf("failed to connect to %s: %w", port, err)
	}

	info := c.opts.LookupPortInfo(port)

	c.rxMu.Lock()
	c.rxBuf = c.rxBuf[:0]
	c.rxMu.Unlock()

	c.mu.Lock()
	c.transport = t
	c.settings = settings
	c.lastPort = port
	c.lastSettings = settings
	c.state.Phase = model.PhaseConnected
	c.state.Port = port
	c.state.PortInfo = &info
	c.state.ConnectionAttempts++
	c.touchOperationLocked("connect")
	c.mu.Unlock()

	portLogger.LogConnection("connect", true, nil)
	return nil
}

// open runs the opener on a worker. A transport that arrives after the
// deadline is closed by the abandoned worker itself.
func (c *Connection) open(port string, settings model.Settings) (transport.Transport, error) {
	var opened transport.Transport
	err := c.run("serial_open:"+port, c.opts.OpenTimeout, func(ctx context.Context) error {
		t, err := c.opener.Open(port, settings)
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			t.Close()
			return context.Cause(ctx)
		}
		opened = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return opened, nil
}

// Disconnect closes the transport and releases the pool record. It is a
// no-op when already disconnected. Close errors are logged, not returned.
func (c *Connection) Disconnect() error {
	return c.DisconnectWithin(c.opts.CloseTimeout)
}

// DisconnectWithin is Disconnect with the transport close bounded by
// budget as well as the configured close timeout. A close that does not
// finish in time is abandoned and the state is reset anyway.
func (c *Connection) DisconnectWithin(budget time.Duration) error {
	closeTimeout := c.opts.CloseTimeout
	if budget > 0 && budget < closeTimeout {
		closeTimeout = budget
	}

	c.mu.Lock()
	switch c.state.Phase {
	case model.PhaseDisconnected:
		c.mu.Unlock()
		c.logger.Debug("Disconnect requested while not connected")
		return nil
	case model.PhaseConnecting, model.PhaseDisconnecting:
		c.mu.Unlock()
		return ErrConnectInProgress
	}

	c.state.Phase = model.PhaseDisconnecting
	c.touchOperationLocked("disconnect")
	t := c.transport
	port := c.state.Port
	c.mu.Unlock()

	portLogger := utils.NewPortLogger(c.logger, port)

	if t != nil {
		err := c.run("serial_close:"+port, closeTimeout, func(ctx context.Context) error {
			return t.Close()
		})
		if err != nil {
			portLogger.Warn("Error closing transport", zap.Error(err))
		}
	}
	c.pool.Remove(port)

	c.rxMu.Lock()
	c.rxBuf = c.rxBuf[:0]
	c.rxMu.Unlock()

	c.mu.Lock()
	c.transport = nil
	c.state.Phase = model.PhaseDisconnected
	c.state.Port = ""
	c.state.PortInfo = nil
	c.touchOperationLocked("disconnect")
	c.mu.Unlock()

	portLogger.LogConnection("disconnect", true, nil)
	return nil
}

// Reconnect disconnects, waits for the OS to release the handle, and
// connects to the remembered port with the remembered settings plus opts
func (c *Connection) Reconnect(opts ...model.SettingsOption) error {
	c.mu.RLock()
	port := c.lastPort
	settings := c.lastSettings
	c.mu.RUnlock()

	if port == "" {
		return ErrNoPort
	}

	if err := c.Disconnect(); err != nil {
		return fmt.Errorf("failed to reconnect: %w", err)
	}
	time.Sleep(c.opts.ReconnectDelay)

	all := append([]model.SettingsOption{model.WithSettings(settings)}, opts...)
	return c.Connect(port, all...)
}

// active returns the transport and port when connected
func (c *Connection) active() (transport.Transport, string, model.Settings, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.state.Phase != model.PhaseConnected || c.transport == nil || !c.transport.IsOpen() {
		return nil, "", model.Settings{}, ErrNotConnected
	}
	return c.transport, c.state.Port, c.settings, nil
}

// SendData writes data in full. A short write is an error.
func (c *Connection) SendData(data []byte) error {
	t, port, settings, err := c.active()
	if err != nil {
		return err
	}

	c.txMu.Lock()
	defer c.txMu.Unlock()

	budget := settings.WriteTimeout
	if budget < minWriteBudget {
		budget = minWriteBudget
	}

	select {
	case c.wire <- struct{}{}:
	default:
		err = fmt.Errorf("%w on %s", ErrWriteInProgress, port)
		c.writeErrors.Add(1)
		c.recordError("send", err)
		return err
	}

	release := sync.OnceFunc(func() { <-c.wire })
	err = c.run("serial_write:"+port, budget, func(ctx context.Context) error {
		defer release()
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		n, err := t.Write(data)
		if err == nil && n != len(data) {
			err = fmt.Errorf("%w: wrote %d of %d bytes", ErrIncompleteWrite, n, len(data))
		}
		return err
	})
	if err != nil {
		// the write goroutine still owns the wire after a timeout
		if !errors.Is(err, worker.ErrWorkerTimeout) {
			release()
		}
		c.writeErrors.Add(1)
		c.recordError("send", err)
		c.logger.Error("Serial write failed", zap.String("port", port), zap.Error(err))
		if errors.Is(err, ErrIncompleteWrite) {
			return err
		}
		return fmt.Errorf("failed to write to %s: %w", port, err)
	}

	c.bytesSent.Add(int64(len(data)))
	c.pool.Touch(port)
	c.logger.Debug("Serial write completed", zap.String("port", port), zap.Int("bytes", len(data)))
	return nil
}

// ReadData reads up to size bytes. An empty result with a nil error means
// nothing arrived within the read timeout.
func (c *Connection) ReadData(size int) ([]byte, error) {
	t, port, _, err := c.active()
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		size = 1
	}

	c.rxMu.Lock()
	defer c.rxMu.Unlock()

	if len(c.rxBuf) > 0 {
		n := min(size, len(c.rxBuf))
		out := append([]byte(nil), c.rxBuf[:n]...)
		c.rxBuf = append(c.rxBuf[:0], c.rxBuf[n:]...)
		return out, nil
	}

	buf := make([]byte, size)
	n, err := t.Read(buf)
	if err != nil {
		c.readErrors.Add(1)
		c.recordError("read", err)
		return nil, fmt.Errorf("failed to read from %s: %w", port, err)
	}
	if n == 0 {
		return []byte{}, nil
	}

	c.bytesReceived.Add(int64(n))
	c.pool.Touch(port)
	return buf[:n], nil
}

// ReadLine returns the next newline-terminated line with invalid UTF-8
// dropped and surrounding whitespace trimmed. When the read timeout expires
// with a partial line buffered, the partial line is returned. ("", nil)
// means nothing arrived.
func (c *Connection) ReadLine() (string, error) {
	t, port, settings, err := c.active()
	if err != nil {
		return "", err
	}

	timeout := settings.ReadTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	deadline := time.Now().Add(timeout)

	c.rxMu.Lock()
	defer c.rxMu.Unlock()

	chunk := make([]byte, 256)
	for {
		if line, ok := c.takeLineLocked(); ok {
			c.linesRead.Add(1)
			return line, nil
		}
		if !time.Now().Before(deadline) {
			if len(c.rxBuf) == 0 {
				return "", nil
			}
			line := decodeLine(c.rxBuf)
			c.rxBuf = c.rxBuf[:0]
			c.linesRead.Add(1)
			return line, nil
		}

		n, err := t.Read(chunk)
		if err != nil {
			c.readErrors.Add(1)
			c.recordError("read", err)
			return "", fmt.Errorf("failed to read line from %s: %w", port, err)
		}
		if n > 0 {
			c.rxBuf = append(c.rxBuf, chunk[:n]...)
			c.bytesReceived.Add(int64(n))
			c.pool.Touch(port)
		}
	}
}

func (c *Connection) takeLineLocked() (string, bool) {
	for i, b := range c.rxBuf {
		if b == '\n' {
			line := decodeLine(c.rxBuf[:i+1])
			c.rxBuf = append(c.rxBuf[:0], c.rxBuf[i+1:]...)
			return line, true
		}
	}
	if len(c.rxBuf) >= c.opts.MaxLineLength {
		line := decodeLine(c.rxBuf)
		c.rxBuf = c.rxBuf[:0]
		return line, true
	}
	return "", false
}

// FlushBuffers discards pending input and output. Failures are logged.
func (c *Connection) FlushBuffers() {
	t, port, _, err := c.active()
	if err != nil {
		return
	}

	c.rxMu.Lock()
	c.rxBuf = c.rxBuf[:0]
	c.rxMu.Unlock()

	if err := t.ResetInputBuffer(); err != nil {
		c.logger.Warn("Failed to reset input buffer", zap.String("port", port), zap.Error(err))
	}
	if err := t.ResetOutputBuffer(); err != nil {
		c.logger.Warn("Failed to reset output buffer", zap.String("port", port), zap.Error(err))
	}
	c.logger.Debug("Buffers flushed", zap.String("port", port))
}

// IsConnected reports whether the phase is Connected and the transport is
// still open. A transport found closed underneath is torn down.
func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Phase != model.PhaseConnected {
		return false
	}
	if c.transport != nil && c.transport.IsOpen() {
		return true
	}

	port := c.state.Port
	c.logger.Warn("Transport closed underneath connection", zap.String("port", port))
	c.transport = nil
	c.state.Phase = model.PhaseDisconnected
	c.state.Port = ""
	c.state.PortInfo = nil
	c.setErrorLocked("check", transport.ErrClosed)
	c.pool.Remove(port)
	return false
}

// Abort closes the transport without touching the state so that a blocked
// read returns. The next IsConnected call notices the closed transport.
func (c *Connection) Abort() {
	c.mu.RLock()
	t := c.transport
	c.mu.RUnlock()

	if t == nil {
		return
	}
	if err := t.Close(); err != nil {
		c.logger.Warn("Error aborting transport", zap.Error(err))
	}
}

// Cleanup force-closes the transport and resets every piece of state,
// including the attempt counter and the remembered port
func (c *Connection) Cleanup() {
	c.mu.Lock()
	t := c.transport
	port := c.state.Port
	c.transport = nil
	c.state = model.ConnectionState{Phase: model.PhaseDisconnected}
	c.lastPort = ""
	c.mu.Unlock()

	if t != nil {
		if err := t.Close(); err != nil {
			c.logger.Warn("Error closing transport during cleanup", zap.Error(err))
		}
	}
	if port != "" {
		c.pool.Remove(port)
	}

	c.rxMu.Lock()
	c.rxBuf = nil
	c.rxMu.Unlock()
}

// Close implements io.Closer
func (c *Connection) Close() error {
	return c.Disconnect()
}

// State returns a copy of the connection state
func (c *Connection) State() model.ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()

	state := c.state
	if state.PortInfo != nil {
		info := *state.PortInfo
		state.PortInfo = &info
	}
	return state
}

// PortInfo returns the metadata of the connected port, or nil
func (c *Connection) PortInfo() *model.PortInfo {
	return c.State().PortInfo
}

// Settings returns the settings of the current or last connection
func (c *Connection) Settings() model.Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state.Phase == model.PhaseConnected {
		return c.settings
	}
	return c.lastSettings
}

// Stats returns counters, state and pool statistics
func (c *Connection) Stats() Stats {
	c.mu.RLock()
	open := c.transport != nil && c.transport.IsOpen()
	settings := c.settings
	c.mu.RUnlock()

	return Stats{
		State:         c.State(),
		Settings:      settings,
		PortOpen:      open,
		BytesSent:     c.bytesSent.Load(),
		BytesReceived: c.bytesReceived.Load(),
		LinesRead:     c.linesRead.Load(),
		WriteErrors:   c.writeErrors.Load(),
		ReadErrors:    c.readErrors.Load(),
		Pool:          c.pool.Stats(),
	}
}

// CleanupIdleConnections sweeps idle pool records
func (c *Connection) CleanupIdleConnections() int {
	return c.pool.SweepIdle()
}

// SetConnectionLimits changes the pool limits
func (c *Connection) SetConnectionLimits(maxConnections int, maxIdleTime time.Duration) {
	c.pool.SetLimits(maxConnections, maxIdleTime)
}

// AvailablePorts lists OS-visible serial ports
func (c *Connection) AvailablePorts() ([]model.PortInfo, error) {
	return transport.ListPorts(c.describer)
}

func (c *Connection) recordError(op string, err error) {
	c.mu.Lock()
	c.setErrorLocked(op, err)
	c.mu.Unlock()
}

func (c *Connection) setErrorLocked(op string, err error) {
	c.state.LastError = err.Error()
	c.touchOperationLocked(op)
}

func (c *Connection) touchOperationLocked(op string) {
	c.state.LastOperation = op
	c.state.OperationTimestamp = time.Now()
}

// WithConnection connects c to port, runs fn, and disconnects on every exit
// path including a panic in fn
func WithConnection(c *Connection, port string, fn func(*Connection) error, opts ...model.SettingsOption) (err error) {
	if err := c.Connect(port, opts...); err != nil {
		return err
	}
	defer func() {
		if derr := c.Disconnect(); derr != nil && err == nil {
			err = derr
		}
	}()
	return fn(c)
}
