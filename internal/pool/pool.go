// internal/pool/pool.go
package pool

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"serial-service/internal/model"
)

const (
	DefaultMaxConnections = 10
	DefaultMaxIdleTime    = 300 * time.Second
)

// Stats is a point-in-time view of the pool
type Stats struct {
	MaxConnections    int           `json:"max_connections"`
	ActiveConnections int           `json:"active_connections"`
	IdleConnections   int           `json:"idle_connections"`
	AvailableSlots    int           `json:"available_slots"`
	MaxIdleTime       time.Duration `json:"max_idle_time"`
}

// Pool tracks which ports are owned and evicts idle ones. It does no I/O.
type Pool struct {
	maxConnections int
	maxIdleTime    time.Duration
	records        map[string]*model.ConnectionRecord
	mutex          sync.Mutex
	now            func() time.Time
	logger         *zap.Logger
}

// Option configures a Pool
type Option func(*Pool)

// WithClock replaces the time source
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// New creates a pool. Non-positive limits fall back to the defaults.
func New(maxConnections int, maxIdleTime time.Duration, logger *zap.Logger, opts ...Option) *Pool {
	if maxConnections <= 0 {
		maxConnections = DefaultMaxConnections
	}
	if maxIdleTime <= 0 {
		maxIdleTime = DefaultMaxIdleTime
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pool{
		maxConnections: maxConnections,
		maxIdleTime:    maxIdleTime,
		records:        make(map[string]*model.ConnectionRecord),
		now:            time.Now,
		logger:         logger.With(zap.String("component", "connection_pool")),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Check reports why a port could not be admitted, or nil if it can
func (p *Pool) Check(port string) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.checkLocked(port)
}

func (p *Pool) checkLocked(port string) error {
	if _, exists := p.records[port]; exists {
		return ErrPortInUse
	}
	if len(p.records) >= p.maxConnections {
		return ErrPoolFull
	}
	return nil
}

// CanCreate reports whether a new connection to port would be admitted
func (p *Pool) CanCreate(port string) bool {
	return p.Check(port) == nil
}

// Register admits port and records it. Admission and insertion happen in
// one critical section.
func (p *Pool) Register(port string, settings model.Settings) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if err := p.checkLocked(port); err != nil {
		p.logger.Warn("Connection rejected by pool",
			zap.String("port", port),
			zap.Int("active", len(p.records)),
			zap.Int("max", p.maxConnections),
			zap.Error(err),
		)
		return err
	}

	now := p.now()
	p.records[port] = &model.ConnectionRecord{
		Port:         port,
		Settings:     settings,
		CreatedAt:    now,
		LastActivity: now,
	}

	p.logger.Debug("Connection registered",
		zap.String("port", port),
		zap.Int("active", len(p.records)),
	)
	return nil
}

// Touch updates the last-activity time of port if it is registered
func (p *Pool) Touch(port string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if record, ok := p.records[port]; ok {
		record.LastActivity = p.now()
	}
}

// Remove deletes the record for port and reports whether one existed
func (p *Pool) Remove(port string) bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if _, ok := p.records[port]; !ok {
		return false
	}
	delete(p.records, port)

	p.logger.Debug("Connection removed", zap.String("port", port))
	return true
}

// SweepIdle removes every record idle for longer than the idle threshold
func (p *Pool) SweepIdle() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	now := p.now()
	removed := 0
	for port, record := range p.records {
		if now.Sub(record.LastActivity) > p.maxIdleTime {
			delete(p.records, port)
			removed++
			p.logger.Info("Evicted idle connection",
				zap.String("port", port),
				zap.Duration("idle", now.Sub(record.LastActivity)),
			)
		}
	}
	return removed
}

// Info returns a copy of the record for port
func (p *Pool) Info(port string) (model.ConnectionRecord, bool) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	record, ok := p.records[port]
	if !ok {
		return model.ConnectionRecord{}, false
	}
	return *record, true
}

// Ports lists registered ports in lexical order
func (p *Pool) Ports() []string {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	ports := make([]string, 0, len(p.records))
	for port := range p.records {
		ports = append(ports, port)
	}
	sort.Strings(ports)
	return ports
}

// Stats returns counts for observability
func (p *Pool) Stats() Stats {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	now := p.now()
	idle := 0
	for _, record := range p.records {
		if now.Sub(record.LastActivity) > p.maxIdleTime {
			idle++
		}
	}

	available := p.maxConnections - len(p.records)
	if available < 0 {
		available = 0
	}

	return Stats{
		MaxConnections:    p.maxConnections,
		ActiveConnections: len(p.records),
		IdleConnections:   idle,
		AvailableSlots:    available,
		MaxIdleTime:       p.maxIdleTime,
	}
}

// SetLimits changes the limits. Existing records are kept even when the
// new maximum is below the current count.
func (p *Pool) SetLimits(maxConnections int, maxIdleTime time.Duration) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if maxConnections > 0 {
		p.maxConnections = maxConnections
	}
	if maxIdleTime > 0 {
		p.maxIdleTime = maxIdleTime
	}
	p.logger.Info("Connection limits updated",
		zap.Int("max_connections", p.maxConnections),
		zap.Duration("max_idle_time", p.maxIdleTime),
	)
}

// RunSweeper calls SweepIdle every interval until ctx is cancelled
func (p *Pool) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.logger.Info("Idle sweeper started", zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Idle sweeper stopped")
			return
		case <-ticker.C:
			if n := p.SweepIdle(); n > 0 {
				p.logger.Info("Idle sweep completed", zap.Int("removed", n))
			}
		}
	}
}
