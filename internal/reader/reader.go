// internal/reader/reader.go
package reader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"serial-service/internal/model"
	"serial-service/internal/worker"
)

// WorkerName is the name the reader registers under
const WorkerName = "serial_reader"

// LineSource is the connection the reader drains
type LineSource interface {
	ReadLine() (string, error)
	IsConnected() bool
	// Abort unblocks a pending ReadLine, typically by closing the transport
	Abort()
}

// SignalProcessor turns a telemetry line into a signal result
type SignalProcessor interface {
	ProcessIncomingData(line string) model.SignalResult
}

// Starter launches the loop on a named worker. worker.Manager satisfies it.
type Starter interface {
	Start(name string, fn worker.Func, timeout time.Duration, opts ...worker.Option) (*worker.Worker, error)
}

// Handlers receive what the loop reads. Any of them may be nil.
type Handlers struct {
	// OnData sees every non-empty line
	OnData func(line string)
	// OnSignal sees successfully processed signals
	OnSignal func(result model.SignalResult)
	// OnResponse sees every line that was not consumed as a signal
	OnResponse func(line string)
	// OnError sees read failures
	OnError func(err error)
	// OnExit is called once when the loop ends, with the reason
	OnExit func(reason error)
}

// Config tunes polling and shutdown escalation
type Config struct {
	PollSlice        time.Duration
	PollSlices       int
	ShutdownTimeout  time.Duration
	InterruptTimeout time.Duration
	ForceTimeout     time.Duration
}

// DefaultConfig polls in 5ms slices ten times per idle iteration and
// escalates shutdown after 2s, 500ms and 500ms
func DefaultConfig() Config {
	return Config{
		PollSlice:        5 * time.Millisecond,
		PollSlices:       10,
		ShutdownTimeout:  2 * time.Second,
		InterruptTimeout: 500 * time.Millisecond,
		ForceTimeout:     500 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PollSlice <= 0 {
		c.PollSlice = d.PollSlice
	}
	if c.PollSlices <= 0 {
		c.PollSlices = d.PollSlices
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	if c.InterruptTimeout <= 0 {
		c.InterruptTimeout = d.InterruptTimeout
	}
	if c.ForceTimeout <= 0 {
		c.ForceTimeout = d.ForceTimeout
	}
	return c
}

// StopOutcome records which escalation step ended the loop
type StopOutcome int

const (
	NotRunning StopOutcome = iota
	StoppedGracefully
	StoppedAfterInterrupt
	ForceStopped
	ForceFailed
)

func (o StopOutcome) String() string {
	switch o {
	case NotRunning:
		return "not_running"
	case StoppedGracefully:
		return "graceful"
	case StoppedAfterInterrupt:
		return "interrupted"
	case ForceStopped:
		return "forced"
	case ForceFailed:
		return "force_failed"
	default:
		return "unknown"
	}
}

// Stopped reports whether the loop is known to have exited
func (o StopOutcome) Stopped() bool {
	return o != ForceFailed
}

// Stats is a snapshot of reader counters
type Stats struct {
	Running          bool          `json:"running"`
	LinesRead        int64         `json:"lines_read"`
	SignalsProcessed int64         `json:"signals_processed"`
	SignalErrors     int64         `json:"signal_errors"`
	ReadErrors       int64         `json:"read_errors"`
	Runtime          time.Duration `json:"runtime"`
}

// Reader drains lines from a LineSource on a background worker
type Reader struct {
	source    LineSource
	processor SignalProcessor
	handlers  Handlers
	config    Config
	logger    *zap.Logger

	mutex   sync.Mutex
	worker  *worker.Worker
	running atomic.Bool

	linesRead        atomic.Int64
	signalsProcessed atomic.Int64
	signalErrors     atomic.Int64
	readErrors       atomic.Int64
}

// New creates a stopped reader. processor may be nil.
func New(source LineSource, processor SignalProcessor, handlers Handlers, cfg Config, logger *zap.Logger) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{
		source:    source,
		processor: processor,
		handlers:  handlers,
		config:    cfg.withDefaults(),
		logger:    logger.With(zap.String("component", "serial_reader")),
	}
}

// Start launches the loop. starter may be nil, in which case the reader
// owns an unregistered worker.
func (r *Reader) Start(starter Starter) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.worker != nil && r.worker.Alive() {
		return ErrAlreadyRunning
	}

	r.running.Store(true)
	force := worker.WithForceHook(r.source.Abort)

	if starter != nil {
		w, err := starter.Start(WorkerName, r.loop, r.config.ShutdownTimeout, force)
		if err != nil {
			r.running.Store(false)
			return fmt.Errorf("failed to start reader: %w", err)
		}
		r.worker = w
		return nil
	}

	w := worker.New(WorkerName, r.loop, r.logger, force)
	if err := w.Start(); err != nil {
		r.running.Store(false)
		return fmt.Errorf("failed to start reader: %w", err)
	}
	r.worker = w
	return nil
}

func (r *Reader) loop(ctx context.Context) (reason error) {
	r.logger.Debug("Reader loop started")
	defer func() {
		r.running.Store(false)
		r.logger.Debug("Reader loop finished", zap.NamedError("reason", reason))
		if r.handlers.OnExit != nil {
			r.callSafely("exit", func() { r.handlers.OnExit(reason) })
		}
	}()

	for {
		if !r.running.Load() {
			return nil
		}
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		if !r.source.IsConnected() {
			return ErrSourceDisconnected
		}

		line, err := r.source.ReadLine()
		if err != nil {
			if ctx.Err() != nil {
				return context.Cause(ctx)
			}
			r.readErrors.Add(1)
			r.logger.Error("Serial read failed", zap.Error(err))
			if r.handlers.OnError != nil {
				r.callSafely("error", func() { r.handlers.OnError(err) })
			}
			return fmt.Errorf("read failed: %w", err)
		}

		if line != "" {
			r.dispatch(line)
			continue
		}

		if !r.pause(ctx) {
			return context.Cause(ctx)
		}
	}
}

// pause sleeps in short slices so a stop request is honoured quickly
func (r *Reader) pause(ctx context.Context) bool {
	timer := time.NewTimer(r.config.PollSlice)
	defer timer.Stop()

	for i := 0; i < r.config.PollSlices; i++ {
		if i > 0 {
			timer.Reset(r.config.PollSlice)
		}
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
		}
		if !r.running.Load() {
			return true
		}
	}
	return true
}

func (r *Reader) dispatch(line string) {
	r.linesRead.Add(1)
	r.logger.Debug("Line received", zap.String("line", line))

	if r.handlers.OnData != nil {
		r.callSafely("data", func() { r.handlers.OnData(line) })
	}

	if r.processor != nil {
		if result, ok := r.process(line); ok && result.Success {
			r.signalsProcessed.Add(1)
			r.logger.Debug("Signal processed",
				zap.String("signal", result.SignalName),
				zap.Any("value", result.Value),
			)
			if r.handlers.OnSignal != nil {
				r.callSafely("signal", func() { r.handlers.OnSignal(result) })
			}
			return
		}
	}

	if r.handlers.OnResponse != nil {
		r.callSafely("response", func() { r.handlers.OnResponse(line) })
	}
}

func (r *Reader) process(line string) (result model.SignalResult, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.signalErrors.Add(1)
			r.logger.Warn("Signal processing failed", zap.String("line", line), zap.Any("panic", rec))
			ok = false
		}
	}()
	return r.processor.ProcessIncomingData(line), true
}

func (r *Reader) callSafely(handler string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Reader handler panicked", zap.String("handler", handler), zap.Any("panic", rec))
		}
	}()
	fn()
}

// Stop ends the loop, escalating from a graceful stop to an interrupt to a
// forced abort of the source
func (r *Reader) Stop() StopOutcome {
	return r.stop(r.config.ShutdownTimeout, r.config.InterruptTimeout, r.config.ForceTimeout)
}

// StopWithin runs the same escalation with the steps scaled 4:1:1 to fit budget
func (r *Reader) StopWithin(budget time.Duration) StopOutcome {
	if budget <= 0 {
		return r.Stop()
	}
	step := budget / 6
	return r.stop(4*step, step, step)
}

func (r *Reader) stop(shutdown, interrupt, force time.Duration) StopOutcome {
	r.mutex.Lock()
	w := r.worker
	r.mutex.Unlock()

	if w == nil || !w.Alive() {
		r.running.Store(false)
		return NotRunning
	}

	r.logger.Info("Stopping reader")
	r.running.Store(false)

	if w.Stop(shutdown) {
		r.logger.Info("Reader stopped gracefully")
		return StoppedGracefully
	}

	r.logger.Warn("Reader graceful stop timed out", zap.Duration("timeout", shutdown))
	w.Interrupt()
	if w.Wait(interrupt) {
		r.logger.Info("Reader stopped after interrupt")
		return StoppedAfterInterrupt
	}

	r.logger.Error("Reader did not respond to interrupt, forcing")
	w.Force()
	if w.Wait(force) {
		r.logger.Info("Reader force-stopped")
		return ForceStopped
	}

	r.logger.Error("Reader force-stop failed")
	return ForceFailed
}

// Running reports whether the loop is executing
func (r *Reader) Running() bool {
	r.mutex.Lock()
	w := r.worker
	r.mutex.Unlock()
	return w != nil && w.Alive()
}

// Stats returns reader counters
func (r *Reader) Stats() Stats {
	r.mutex.Lock()
	w := r.worker
	r.mutex.Unlock()

	stats := Stats{
		LinesRead:        r.linesRead.Load(),
		SignalsProcessed: r.signalsProcessed.Load(),
		SignalErrors:     r.signalErrors.Load(),
		ReadErrors:       r.readErrors.Load(),
	}
	if w != nil {
		stats.Running = w.Alive()
		stats.Runtime = w.Runtime()
	}
	return stats
}

// IsStopReason reports whether reason came from a stop or interrupt rather
// than a failure
func IsStopReason(reason error) bool {
	return reason == nil ||
		errors.Is(reason, worker.ErrStopRequested) ||
		errors.Is(reason, worker.ErrInterrupted) ||
		errors.Is(reason, context.Canceled)
}
