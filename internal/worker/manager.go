// internal/worker/manager.go
package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// DefaultStopTimeout is used when a caller passes a non-positive timeout to Manager.Start
const DefaultStopTimeout = 5 * time.Second

// Stats summarises the registered workers
type Stats struct {
	Total          int           `json:"total_threads"`
	Running        int           `json:"running_threads"`
	Interrupted    int           `json:"interrupted_threads"`
	Stopped        int           `json:"stopped_threads"`
	TotalRuntime   time.Duration `json:"total_runtime"`
	AverageRuntime time.Duration `json:"average_runtime"`
}

// Manager is a registry of named workers with at most one live worker per name
type Manager struct {
	workers map[string]*Worker
	timeout map[string]time.Duration
	mutex   sync.Mutex
	logger  *zap.Logger
}

// NewManager creates an empty manager
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		workers: make(map[string]*Worker),
		timeout: make(map[string]time.Duration),
		logger:  logger.With(zap.String("component", "worker_manager")),
	}
}

// Start registers and starts a worker under name. A live worker already
// registered under that name is stopped first using its own timeout; if it
// will not stop it is forced. The registry lock is not held while the
// predecessor stops.
func (m *Manager) Start(name string, fn Func, timeout time.Duration, opts ...Option) (*Worker, error) {
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}

	for {
		m.mutex.Lock()
		existing, ok := m.workers[name]
		if !ok || !existing.Alive() {
			w, err := m.startLocked(name, fn, timeout, opts...)
			m.mutex.Unlock()
			return w, err
		}
		previous := m.timeout[name]
		m.mutex.Unlock()

		m.logger.Info("Replacing running worker", zap.String("name", name))
		if !existing.Stop(previous) {
			m.logger.Warn("Previous worker did not stop, forcing", zap.String("name", name))
			existing.Force()
		}
		m.forget(name, existing)
	}
}

func (m *Manager) startLocked(name string, fn Func, timeout time.Duration, opts ...Option) (*Worker, error) {
	delete(m.workers, name)
	delete(m.timeout, name)

	w := New(name, fn, m.logger, opts...)
	if err := w.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker %s: %w", name, err)
	}

	m.workers[name] = w
	m.timeout[name] = timeout
	return w, nil
}

// forget drops the registry entry if it still points at w
func (m *Manager) forget(name string, w *Worker) {
	m.mutex.Lock()
	if m.workers[name] == w {
		delete(m.workers, name)
		delete(m.timeout, name)
	}
	m.mutex.Unlock()
}

// Get returns the worker registered under name
func (m *Manager) Get(name string) (*Worker, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	w, ok := m.workers[name]
	return w, ok
}

// Stop stops the named worker. The entry is removed only when the worker
// terminates within timeout; otherwise it is kept so the caller can retry or
// escalate. Unknown names report success.
func (m *Manager) Stop(name string, timeout time.Duration) bool {
	m.mutex.Lock()
	w, ok := m.workers[name]
	m.mutex.Unlock()
	if !ok {
		return true
	}

	if !w.Stop(timeout) {
		m.logger.Warn("Worker did not stop in time",
			zap.String("name", name),
			zap.Duration("timeout", timeout),
		)
		return false
	}

	m.forget(name, w)

	m.logger.Debug("Worker stopped", zap.String("name", name))
	return true
}

// StopAll signals every worker and then waits on each, giving each remaining
// worker an equal share of the remaining budget. Workers that miss their
// share are forced. The call returns within total plus scheduling slack.
func (m *Manager) StopAll(total time.Duration) map[string]bool {
	m.mutex.Lock()
	names := make([]string, 0, len(m.workers))
	for name := range m.workers {
		names = append(names, name)
	}
	sort.Strings(names)
	workers := make([]*Worker, len(names))
	for i, name := range names {
		workers[i] = m.workers[name]
	}
	m.mutex.Unlock()

	results := make(map[string]bool, len(names))
	if len(names) == 0 {
		return results
	}

	for _, w := range workers {
		w.Stop(0)
	}

	deadline := time.Now().Add(total)
	for i, w := range workers {
		remaining := time.Until(deadline)
		share := remaining / time.Duration(len(workers)-i)
		stopped := w.Wait(share)
		if !stopped {
			m.logger.Warn("Worker did not stop within its share, forcing",
				zap.String("name", w.Name()),
				zap.Duration("share", share),
			)
			w.Force()
		}
		results[w.Name()] = stopped
	}

	m.mutex.Lock()
	for i, name := range names {
		if m.workers[name] == workers[i] && (results[name] || workers[i].State() == StateAbandoned) {
			delete(m.workers, name)
			delete(m.timeout, name)
		}
	}
	m.mutex.Unlock()

	m.logger.Info("All workers stopped", zap.Int("count", len(names)), zap.Any("results", results))
	return results
}

// Cleanup removes entries for workers that have already exited
func (m *Manager) Cleanup() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	removed := 0
	for name, w := range m.workers {
		if !w.Alive() {
			delete(m.workers, name)
			delete(m.timeout, name)
			removed++
		}
	}
	return removed
}

// Names lists registered worker names
func (m *Manager) Names() []string {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	names := make([]string, 0, len(m.workers))
	for name := range m.workers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stats returns counts and runtimes across registered workers
func (m *Manager) Stats() Stats {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	var stats Stats
	for _, w := range m.workers {
		stats.Total++
		if w.Alive() {
			stats.Running++
		} else {
			stats.Stopped++
		}
		if w.IsInterrupted() {
			stats.Interrupted++
		}
		stats.TotalRuntime += w.Runtime()
	}
	if stats.Total > 0 {
		stats.AverageRuntime = stats.TotalRuntime / time.Duration(stats.Total)
	}
	return stats
}

// Run executes fn on a dedicated worker and waits up to timeout for it. On
// timeout the worker is interrupted and forced and ErrWorkerTimeout is
// returned; the goroutine is left to finish on its own.
func (m *Manager) Run(name string, timeout time.Duration, fn Func, opts ...Option) error {
	var result error
	w, err := m.Start(name, func(ctx context.Context) error {
		result = fn(ctx)
		return result
	}, timeout, opts...)
	if err != nil {
		return err
	}

	if !w.Wait(timeout) {
		w.Force()
		m.forget(name, w)
		return fmt.Errorf("%w: %s after %s", ErrWorkerTimeout, name, timeout)
	}

	m.forget(name, w)
	return result
}

// HandleSignals calls StopAll with timeout on SIGINT or SIGTERM. It returns
// when ctx is cancelled or after the shutdown ran.
func (m *Manager) HandleSignals(ctx context.Context, timeout time.Duration) {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-sigCtx.Done()
	if ctx.Err() != nil {
		return
	}

	m.logger.Info("Shutdown signal received, stopping workers", zap.Duration("timeout", timeout))
	m.StopAll(timeout)
}
