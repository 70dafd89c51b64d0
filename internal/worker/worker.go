// internal/worker/worker.go
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the lifecycle position of a Worker
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopRequested
	StateInterrupted
	StateStopped
	StateAbandoned
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopRequested:
		return "stop_requested"
	case StateInterrupted:
		return "interrupted"
	case StateStopped:
		return "stopped"
	case StateAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// Func is a unit of work. It must return soon after ctx is done.
type Func func(ctx context.Context) error

// Option configures a Worker
type Option func(*Worker)

// WithForceHook sets the function Force calls to unblock a worker stuck in I/O,
// typically closing the underlying transport.
func WithForceHook(hook func()) Option {
	return func(w *Worker) { w.forceHook = hook }
}

// Worker runs one Func on its own goroutine with cooperative cancellation
type Worker struct {
	name      string
	fn        Func
	forceHook func()
	logger    *zap.Logger

	mutex       sync.RWMutex
	state       State
	interrupted bool
	startedAt   time.Time
	stoppedAt   time.Time
	err         error

	ctx    context.Context
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// New creates an idle worker
func New(name string, fn Func, logger *zap.Logger, opts ...Option) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Worker{
		name:   name,
		fn:     fn,
		logger: logger.With(zap.String("worker", name)),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Name returns the worker name
func (w *Worker) Name() string {
	return w.name
}

// Start launches the work function
func (w *Worker) Start() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.state != StateIdle {
		return fmt.Errorf("%w: %s", ErrAlreadyStarted, w.name)
	}

	w.ctx, w.cancel = context.WithCancelCause(context.Background())
	w.state = StateRunning
	w.interrupted = false
	w.startedAt = time.Now()

	go w.run(w.ctx)

	w.logger.Debug("Worker started")
	return nil
}

func (w *Worker) run(ctx context.Context) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panic: %v", r)
			w.logger.Error("Worker panicked", zap.Any("panic", r))
		}

		w.mutex.Lock()
		w.err = err
		w.stoppedAt = time.Now()
		if w.state != StateAbandoned {
			w.state = StateStopped
		}
		w.mutex.Unlock()

		w.cancel(nil)
		close(w.done)

		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrStopRequested) && !errors.Is(err, ErrInterrupted) {
			w.logger.Warn("Worker exited with error", zap.Error(err))
		} else {
			w.logger.Debug("Worker exited")
		}
	}()

	err = w.fn(ctx)
}

// Stop requests cooperative termination and waits up to timeout. It does not
// kill the worker when the wait expires.
func (w *Worker) Stop(timeout time.Duration) bool {
	w.mutex.Lock()
	if w.state == StateIdle {
		w.mutex.Unlock()
		return true
	}
	if w.state == StateRunning {
		w.state = StateStopRequested
	}
	cancel := w.cancel
	w.mutex.Unlock()

	cancel(ErrStopRequested)
	return w.Wait(timeout)
}

// Interrupt raises the interrupt flag without waiting
func (w *Worker) Interrupt() {
	w.mutex.Lock()
	if w.state == StateIdle {
		w.mutex.Unlock()
		return
	}
	w.interrupted = true
	if w.state == StateRunning || w.state == StateStopRequested {
		w.state = StateInterrupted
	}
	cancel := w.cancel
	w.mutex.Unlock()

	cancel(ErrInterrupted)
}

// Force runs the force hook and detaches from the goroutine. Goroutines cannot
// be killed, so a worker that still ignores its context keeps running but is
// no longer tracked as live.
func (w *Worker) Force() {
	w.mutex.Lock()
	if w.state == StateIdle || w.state == StateStopped {
		w.mutex.Unlock()
		return
	}
	w.interrupted = true
	w.state = StateAbandoned
	cancel := w.cancel
	hook := w.forceHook
	w.mutex.Unlock()

	cancel(ErrInterrupted)
	if hook != nil {
		hook()
	}
	w.logger.Warn("Worker force-terminated")
}

// IsInterrupted reports whether the worker was interrupted or asked to stop
func (w *Worker) IsInterrupted() bool {
	w.mutex.RLock()
	defer w.mutex.RUnlock()

	if w.interrupted {
		return true
	}
	return w.state == StateStopRequested
}

// Wait blocks until the worker exits or timeout elapses. A worker that was
// never started counts as exited.
func (w *Worker) Wait(timeout time.Duration) bool {
	w.mutex.RLock()
	idle := w.state == StateIdle
	w.mutex.RUnlock()
	if idle {
		return true
	}

	if timeout <= 0 {
		select {
		case <-w.done:
			return true
		default:
			return false
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-w.done:
		return true
	case <-timer.C:
		return false
	}
}

// Done is closed when the work function returns
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Alive reports whether the work function is still executing
func (w *Worker) Alive() bool {
	w.mutex.RLock()
	idle := w.state == StateIdle
	w.mutex.RUnlock()
	if idle {
		return false
	}
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

// State returns the lifecycle state
func (w *Worker) State() State {
	w.mutex.RLock()
	defer w.mutex.RUnlock()
	return w.state
}

// Err returns the error the work function returned, if it has exited
func (w *Worker) Err() error {
	w.mutex.RLock()
	defer w.mutex.RUnlock()
	return w.err
}

// Runtime is the wall-clock time since Start, frozen once the worker exits
func (w *Worker) Runtime() time.Duration {
	w.mutex.RLock()
	defer w.mutex.RUnlock()

	if w.startedAt.IsZero() {
		return 0
	}
	if !w.stoppedAt.IsZero() {
		return w.stoppedAt.Sub(w.startedAt)
	}
	return time.Since(w.startedAt)
}
