// internal/manager/manager.go
package manager

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"serial-service/internal/connection"
	"serial-service/internal/model"
	"serial-service/internal/protocol"
	"serial-service/internal/reader"
	"serial-service/internal/utils"
	"serial-service/internal/worker"
)

const (
	DefaultPollInterval    = 10 * time.Millisecond
	DefaultShutdownTimeout = 10 * time.Second

	source = "serial_manager"
)

// Connection is the transport owner the manager drives
type Connection interface {
	reader.LineSource
	Connect(port string, opts ...model.SettingsOption) error
	Disconnect() error
	DisconnectWithin(budget time.Duration) error
	Reconnect(opts ...model.SettingsOption) error
	SendData(data []byte) error
	FlushBuffers()
	Cleanup()
	State() model.ConnectionState
	Stats() connection.Stats
	AvailablePorts() ([]model.PortInfo, error)
}

// Publisher receives every manager notification as an event
type Publisher interface {
	Publish(event model.Event)
}

// Callbacks are optional hooks for manager notifications. They run on the
// reader goroutine or the calling goroutine and must not block.
type Callbacks struct {
	OnDataReceived      func(line string)
	OnError             func(err error)
	OnSignalProcessed   func(result model.SignalResult)
	OnConnectionChanged func(connected bool)
}

// Options tunes the manager. Zero values take the defaults.
type Options struct {
	Reader reader.Config
	// DisableReader leaves the transport to SendAndWait polling
	DisableReader   bool
	ResponseTimeout time.Duration
	PollInterval    time.Duration
	ShutdownTimeout time.Duration
}

// Stats merges manager, protocol, worker, reader and connection counters
type Stats struct {
	CommandsSent        int64               `json:"commands_sent"`
	ResponsesReceived   int64               `json:"responses_received"`
	Errors              int64               `json:"errors"`
	Timeouts            int64               `json:"timeouts"`
	TotalResponseTime   time.Duration       `json:"total_response_time"`
	AverageResponseTime time.Duration       `json:"average_response_time"`
	Protocol            protocol.Statistics `json:"protocol"`
	Threads             worker.Stats        `json:"threads"`
	Reader              reader.Stats        `json:"reader"`
	Connection          connection.Stats    `json:"connection"`
}

// ShutdownReport describes how GracefulShutdown went
type ShutdownReport struct {
	Reader       reader.StopOutcome `json:"reader"`
	Disconnected bool               `json:"disconnected"`
	Workers      map[string]bool    `json:"workers"`
	Duration     time.Duration      `json:"duration"`
}

// Complete reports whether every component stopped
func (r ShutdownReport) Complete() bool {
	if !r.Reader.Stopped() || !r.Disconnected {
		return false
	}
	for _, ok := range r.Workers {
		if !ok {
			return false
		}
	}
	return true
}

// Manager is the single entry point for serial I/O. Connect, disconnect,
// reconnect and shutdown are serialized; command exchanges are serialized
// separately so a slow response never blocks a disconnect.
type Manager struct {
	conn      Connection
	protocol  *protocol.SerialProtocol
	workers   *worker.Manager
	processor reader.SignalProcessor
	publisher Publisher
	opts      Options
	logger    *zap.Logger

	lifecycle sync.Mutex
	exchange  sync.Mutex

	mutex     sync.RWMutex
	callbacks Callbacks
	reader    *reader.Reader
	closing   bool

	responses dispatcher

	commandsSent      atomic.Int64
	responsesReceived atomic.Int64
	errorCount        atomic.Int64
	timeouts          atomic.Int64
	totalResponseTime atomic.Int64
}

// New composes a manager. processor and publisher may be nil.
func New(conn Connection, proto *protocol.SerialProtocol, workers *worker.Manager, processor reader.SignalProcessor, publisher Publisher, opts Options, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workers == nil {
		workers = worker.NewManager(logger)
	}
	if opts.ResponseTimeout <= 0 {
		opts.ResponseTimeout = proto.DefaultTimeout()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}

	return &Manager{
		conn:      conn,
		protocol:  proto,
		workers:   workers,
		processor: processor,
		publisher: publisher,
		opts:      opts,
		logger:    logger.With(zap.String("component", source)),
	}
}

// SetCallbacks replaces every callback
func (m *Manager) SetCallbacks(cb Callbacks) {
	m.mutex.Lock()
	m.callbacks = cb
	m.mutex.Unlock()
}

func (m *Manager) hooks() Callbacks {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.callbacks
}

func (m *Manager) publish(t model.EventType, data map[string]any) {
	if m.publisher != nil {
		m.publisher.Publish(model.NewEvent(t, source, data))
	}
}

func (m *Manager) shuttingDown() bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.closing
}

// Connect opens port and starts the reader
func (m *Manager) Connect(port string, opts ...model.SettingsOption) error {
	if m.shuttingDown() {
		return ErrShuttingDown
	}

	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if m.conn.State().Connected() {
		return m.conn.Connect(port, opts...)
	}

	if err := m.conn.Connect(port, opts...); err != nil {
		m.reportError(err)
		return err
	}

	if err := m.startReader(); err != nil {
		m.logger.Error("Failed to start reader", zap.Error(err))
		m.reportError(err)
	}

	m.logger.Info("Connected", zap.String("port", port))
	m.connectionChanged(true)
	return nil
}

// Disconnect stops the reader first, then closes the port
func (m *Manager) Disconnect() error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	return m.disconnectLocked(0)
}

func (m *Manager) disconnectLocked(budget time.Duration) error {
	wasConnected := m.conn.State().Connected()

	m.stopReader(budget)

	disconnect := m.conn.Disconnect
	if budget > 0 {
		disconnect = func() error { return m.conn.DisconnectWithin(budget) }
	}
	if err := disconnect(); err != nil {
		m.reportError(err)
		return err
	}

	if wasConnected {
		m.logger.Info("Disconnected")
		m.connectionChanged(false)
	}
	return nil
}

// Reconnect cycles the port with the remembered settings plus opts and
// restarts the reader
func (m *Manager) Reconnect(opts ...model.SettingsOption) error {
	if m.shuttingDown() {
		return ErrShuttingDown
	}

	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.stopReader(0)

	if err := m.conn.Reconnect(opts...); err != nil {
		m.reportError(err)
		m.connectionChanged(false)
		return err
	}

	if err := m.startReader(); err != nil {
		m.logger.Error("Failed to restart reader", zap.Error(err))
		m.reportError(err)
	}

	m.logger.Info("Reconnected", zap.String("port", m.conn.State().Port))
	m.connectionChanged(true)
	return nil
}

func (m *Manager) startReader() error {
	if m.opts.DisableReader {
		return nil
	}

	r := reader.New(m.conn, m.processor, reader.Handlers{
		OnData:     m.onData,
		OnSignal:   m.onSignal,
		OnResponse: m.onResponse,
		OnError:    m.reportError,
		OnExit:     m.onReaderExit,
	}, m.opts.Reader, m.logger)

	if err := r.Start(m.workers); err != nil {
		return err
	}

	m.mutex.Lock()
	m.reader = r
	m.mutex.Unlock()
	return nil
}

// stopReader stops the reader within budget, or with its own timeouts when
// budget is zero
func (m *Manager) stopReader(budget time.Duration) reader.StopOutcome {
	m.mutex.Lock()
	r := m.reader
	m.reader = nil
	m.mutex.Unlock()

	if r == nil {
		return reader.NotRunning
	}
	if budget > 0 {
		return r.StopWithin(budget)
	}
	return r.Stop()
}

func (m *Manager) currentReader() *reader.Reader {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.reader
}

func (m *Manager) readerRunning() bool {
	r := m.currentReader()
	return r != nil && r.Running()
}

func (m *Manager) onData(line string) {
	if cb := m.hooks().OnDataReceived; cb != nil {
		cb(line)
	}
	m.publish(model.EventDataReceived, map[string]any{"line": line})
}

func (m *Manager) onSignal(result model.SignalResult) {
	if cb := m.hooks().OnSignalProcessed; cb != nil {
		cb(result)
	}
	m.publish(model.EventSignalProcessed, map[string]any{
		"signal_name":   result.SignalName,
		"variable_name": result.VariableName,
		"value":         fmt.Sprint(result.Value),
		"signal_type":   string(result.SignalType),
	})
}

func (m *Manager) onResponse(line string) {
	if !m.responses.deliver(line) {
		m.logger.Debug("Unsolicited line", zap.String("line", line))
	}
}

func (m *Manager) onReaderExit(reason error) {
	if reader.IsStopReason(reason) {
		return
	}
	m.logger.Warn("Reader exited", zap.Error(reason))
	if !m.conn.IsConnected() {
		m.connectionChanged(false)
	}
}

func (m *Manager) reportError(err error) {
	m.errorCount.Add(1)
	if cb := m.hooks().OnError; cb != nil {
		cb(err)
	}
	m.publish(model.EventError, map[string]any{"error": err.Error()})
}

func (m *Manager) connectionChanged(connected bool) {
	if cb := m.hooks().OnConnectionChanged; cb != nil {
		cb(connected)
	}
	state := m.conn.State()
	m.publish(model.EventConnectionChanged, map[string]any{
		"connected": connected,
		"port":      state.Port,
		"phase":     state.Phase.String(),
	})
}

// SendCommand validates, formats and writes a command without waiting
func (m *Manager) SendCommand(text string, params map[string]any) error {
	if err := m.protocol.ValidateText(text); err != nil {
		return err
	}
	return m.write(text, params)
}

// Send writes a fully specified command without waiting
func (m *Manager) Send(cmd model.Command) error {
	if _, err := m.validate(&cmd); err != nil {
		return err
	}
	return m.write(cmd.Text, cmd.Params)
}

func (m *Manager) write(text string, params map[string]any) error {
	if !m.conn.IsConnected() {
		return ErrNotConnected
	}

	data := m.protocol.FormatCommand(text, params)
	if err := m.conn.SendData(data); err != nil {
		m.protocol.RecordError()
		m.reportError(err)
		return err
	}

	m.commandsSent.Add(1)
	m.protocol.RecordSent()
	m.logger.Debug("Command sent", zap.String("command", text))
	return nil
}

// validate fills in the default timeout and compiles the expected-response
// pattern
func (m *Manager) validate(cmd *model.Command) (*regexp.Regexp, error) {
	if cmd.Timeout <= 0 {
		cmd.Timeout = m.opts.ResponseTimeout
	}
	if err := m.protocol.ValidateCommand(*cmd); err != nil {
		return nil, err
	}
	if cmd.ExpectedResponse == "" {
		return nil, nil
	}
	re, err := regexp.Compile(cmd.ExpectedResponse)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExpectation, err)
	}
	return re, nil
}

// SendAndWait writes cmd and waits for its response. A zero timeout uses
// cmd.Timeout, then the default. On timeout the command is retried
// cmd.Retries times before ErrResponseTimeout is returned.
func (m *Manager) SendAndWait(ctx context.Context, cmd model.Command, timeout time.Duration) (*model.ProtocolResponse, error) {
	if timeout > 0 {
		cmd.Timeout = timeout
	}
	expected, err := m.validate(&cmd)
	if err != nil {
		return nil, err
	}
	if !m.conn.IsConnected() {
		return nil, ErrNotConnected
	}

	m.exchange.Lock()
	defer m.exchange.Unlock()

	op := utils.NewOperationLogger(m.logger, "send_and_wait", uuid.NewString())
	op.Start(zap.String("command", cmd.Text), zap.Duration("timeout", cmd.Timeout))

	for attempt := 0; ; attempt++ {
		resp, err := m.roundTrip(ctx, cmd, expected)
		if err == nil {
			op.Success(zap.String("status", string(resp.Status)), zap.Int("attempt", attempt+1))
			return resp, nil
		}
		if !errors.Is(err, ErrResponseTimeout) || attempt >= cmd.Retries {
			op.Error(err, zap.Int("attempt", attempt+1))
			return nil, err
		}
		m.logger.Warn("Retrying command after timeout",
			zap.String("command", cmd.Text),
			zap.Int("attempt", attempt+1),
		)
	}
}

// SendAndWaitText is SendAndWait for a bare command string
func (m *Manager) SendAndWaitText(ctx context.Context, text string, timeout time.Duration) (*model.ProtocolResponse, error) {
	return m.SendAndWait(ctx, m.protocol.NewCommand(text, nil), timeout)
}

func (m *Manager) roundTrip(ctx context.Context, cmd model.Command, expected *regexp.Regexp) (*model.ProtocolResponse, error) {
	id := uuid.NewString()
	useReader := m.readerRunning()

	var w *waiter
	if useReader {
		w = m.responses.register(id)
		defer m.responses.cancel(w)
	}

	sentAt := time.Now()
	if err := m.write(cmd.Text, cmd.Params); err != nil {
		return nil, err
	}

	var (
		line string
		err  error
	)
	if useReader {
		line, err = m.awaitLine(ctx, w, cmd.Timeout)
	} else {
		line, err = m.pollLine(ctx, cmd.Timeout)
	}
	if err != nil {
		if errors.Is(err, ErrResponseTimeout) {
			m.timeouts.Add(1)
			m.protocol.RecordTimeout()
			m.logger.Warn("Response timeout", zap.String("command", cmd.Text), zap.Duration("timeout", cmd.Timeout))
			m.completed(cmd.Text, nil, id, err)
		}
		return nil, err
	}

	resp := m.protocol.ParseTimedResponse([]byte(line), cmd.Text, sentAt)
	resp.CorrelationID = id
	if expected != nil && !expected.MatchString(resp.Data) {
		resp.Status = model.StatusInvalid
		resp.ErrorMessage = fmt.Sprintf("response does not match %q", cmd.ExpectedResponse)
	}

	m.responsesReceived.Add(1)
	m.totalResponseTime.Add(int64(resp.ResponseTime))
	m.completed(cmd.Text, resp, id, nil)
	return resp, nil
}

func (m *Manager) awaitLine(ctx context.Context, w *waiter, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case line := <-w.ch:
		return line, nil
	case <-timer.C:
		return "", fmt.Errorf("%w after %s", ErrResponseTimeout, timeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// pollLine reads lines directly from the connection until a non-blank one
// arrives. Bytes after the line stay buffered in the connection for the next
// call.
func (m *Manager) pollLine(ctx context.Context, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		line, err := m.conn.ReadLine()
		if err != nil {
			m.reportError(err)
			return "", err
		}
		if line != "" {
			return line, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(m.opts.PollInterval):
		}
	}

	return "", fmt.Errorf("%w after %s", ErrResponseTimeout, timeout)
}

// AwaitResponse waits for the next response line without sending anything.
// It is used to follow a partial (busy) response.
func (m *Manager) AwaitResponse(ctx context.Context, command string, timeout time.Duration) (*model.ProtocolResponse, error) {
	if timeout <= 0 {
		timeout = m.opts.ResponseTimeout
	}
	if !m.conn.IsConnected() {
		return nil, ErrNotConnected
	}

	m.exchange.Lock()
	defer m.exchange.Unlock()

	id := uuid.NewString()
	start := time.Now()

	var (
		line string
		err  error
	)
	if m.readerRunning() {
		w := m.responses.register(id)
		line, err = m.awaitLine(ctx, w, timeout)
		m.responses.cancel(w)
	} else {
		line, err = m.pollLine(ctx, timeout)
	}
	if err != nil {
		if errors.Is(err, ErrResponseTimeout) {
			m.timeouts.Add(1)
			m.protocol.RecordTimeout()
		}
		return nil, err
	}

	resp := m.protocol.ParseTimedResponse([]byte(line), command, start)
	resp.CorrelationID = id
	m.responsesReceived.Add(1)
	m.completed(command, resp, id, nil)
	return resp, nil
}

func (m *Manager) completed(command string, resp *model.ProtocolResponse, id string, err error) {
	data := map[string]any{
		"command":        command,
		"correlation_id": id,
		"port":           m.conn.State().Port,
	}
	if resp != nil {
		data["response"] = resp.Data
		data["status"] = string(resp.Status)
		data["response_time_ms"] = resp.ResponseTime.Milliseconds()
		if resp.ErrorMessage != "" {
			data["error"] = resp.ErrorMessage
		}
	} else {
		data["status"] = string(model.StatusTimeout)
		if err != nil {
			data["error"] = err.Error()
		}
	}
	m.publish(model.EventCommandCompleted, data)
}

// GracefulShutdown stops the reader, disconnects and stops every remaining
// worker, splitting timeout across the three phases
func (m *Manager) GracefulShutdown(timeout time.Duration) ShutdownReport {
	if timeout <= 0 {
		timeout = m.opts.ShutdownTimeout
	}

	m.mutex.Lock()
	m.closing = true
	m.mutex.Unlock()

	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	start := time.Now()
	deadline := start.Add(timeout)
	m.logger.Info("Graceful shutdown started", zap.Duration("timeout", timeout))

	// reader and disconnect get two fifths each, the workers what is left
	report := ShutdownReport{Reader: m.stopReader(timeout * 2 / 5)}

	if err := m.disconnectLocked(phaseBudget(deadline, timeout*2/5, timeout/5)); err != nil {
		m.logger.Error("Disconnect during shutdown failed", zap.Error(err))
	} else {
		report.Disconnected = true
	}

	report.Workers = m.workers.StopAll(phaseBudget(deadline, timeout, 0))
	report.Duration = time.Since(start)

	if report.Complete() {
		m.logger.Info("Graceful shutdown completed", zap.Duration("duration", report.Duration))
	} else {
		m.logger.Warn("Graceful shutdown incomplete",
			zap.String("reader", report.Reader.String()),
			zap.Bool("disconnected", report.Disconnected),
			zap.Any("workers", report.Workers),
		)
	}
	return report
}

// phaseBudget is share, capped so that reserve is still left before
// deadline. It never returns less than a millisecond.
func phaseBudget(deadline time.Time, share, reserve time.Duration) time.Duration {
	budget := time.Until(deadline) - reserve
	if budget > share {
		budget = share
	}
	if budget < time.Millisecond {
		budget = time.Millisecond
	}
	return budget
}

// Close shuts down with the configured timeout and releases every resource
func (m *Manager) Close() error {
	report := m.GracefulShutdown(0)
	m.conn.Cleanup()
	if !report.Complete() {
		return fmt.Errorf("shutdown incomplete: reader %s", report.Reader)
	}
	return nil
}

// IsConnected reports whether the port is open
func (m *Manager) IsConnected() bool {
	return m.conn.IsConnected()
}

// State returns the connection state
func (m *Manager) State() model.ConnectionState {
	return m.conn.State()
}

// FlushBuffers discards pending I/O on the port
func (m *Manager) FlushBuffers() {
	m.conn.FlushBuffers()
}

// AvailablePorts lists serial ports
func (m *Manager) AvailablePorts() ([]model.PortInfo, error) {
	return m.conn.AvailablePorts()
}

// Protocol returns the protocol in use
func (m *Manager) Protocol() *protocol.SerialProtocol {
	return m.protocol
}

// SetFlavor switches the protocol flavor
func (m *Manager) SetFlavor(flavor model.Flavor) error {
	return m.protocol.SetFlavor(flavor)
}

// ReaderRunning reports whether the background reader is active
func (m *Manager) ReaderRunning() bool {
	return m.readerRunning()
}

// Stats returns merged statistics
func (m *Manager) Stats() Stats {
	stats := Stats{
		CommandsSent:      m.commandsSent.Load(),
		ResponsesReceived: m.responsesReceived.Load(),
		Errors:            m.errorCount.Load(),
		Timeouts:          m.timeouts.Load(),
		TotalResponseTime: time.Duration(m.totalResponseTime.Load()),
		Protocol:          m.protocol.Statistics(),
		Threads:           m.workers.Stats(),
		Connection:        m.conn.Stats(),
	}
	if stats.ResponsesReceived > 0 {
		stats.AverageResponseTime = stats.TotalResponseTime / time.Duration(stats.ResponsesReceived)
	}
	if r := m.currentReader(); r != nil {
		stats.Reader = r.Stats()
	}
	return stats
}

// ResetStatistics zeroes manager and protocol counters
func (m *Manager) ResetStatistics() {
	m.commandsSent.Store(0)
	m.responsesReceived.Store(0)
	m.errorCount.Store(0)
	m.timeouts.Store(0)
	m.totalResponseTime.Store(0)
	m.protocol.ResetStatistics()
}
