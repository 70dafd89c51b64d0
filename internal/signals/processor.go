// internal/signals/processor.go
package signals

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"serial-service/internal/model"
)

// Value is the last value seen for a signal
type Value struct {
	Signal    string           `json:"signal"`
	Variable  string           `json:"variable"`
	Type      model.SignalType `json:"type"`
	Value     any              `json:"value"`
	Raw       string           `json:"raw"`
	Timestamp time.Time        `json:"timestamp"`
}

// Stats counts processed lines
type Stats struct {
	Mappings   int       `json:"mappings"`
	Processed  int64     `json:"processed"`
	Errors     int64     `json:"errors"`
	Values     int       `json:"values"`
	Variables  int       `json:"variables"`
	LastUpdate time.Time `json:"last_update"`
}

// Processor maps NAME:VALUE telemetry lines to typed variables
type Processor struct {
	logger *zap.Logger

	mutex     sync.RWMutex
	mappings  map[string]Mapping
	values    map[string]Value
	variables map[string]any
	processed int64
	errors    int64
	updatedAt time.Time
	listeners []func(variable string, value any)
}

// NewProcessor creates a processor with no mappings
func NewProcessor(logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		logger:    logger.With(zap.String("component", "signal_processor")),
		mappings:  make(map[string]Mapping),
		values:    make(map[string]Value),
		variables: make(map[string]any),
	}
}

// LoadMappings replaces every mapping with the parsed config. Nothing changes
// when any entry is invalid.
func (p *Processor) LoadMappings(config map[string]string) error {
	parsed := make(map[string]Mapping, len(config))
	for signal, definition := range config {
		m, err := ParseMapping(signal, definition)
		if err != nil {
			return fmt.Errorf("failed to load signal %s: %w", signal, err)
		}
		parsed[m.Signal] = m
	}

	p.mutex.Lock()
	p.mappings = parsed
	p.mutex.Unlock()

	p.logger.Info("Signal mappings loaded", zap.Int("count", len(parsed)))
	return nil
}

// Register adds or replaces a single mapping
func (p *Processor) Register(signal, definition string) error {
	m, err := ParseMapping(signal, definition)
	if err != nil {
		return err
	}

	p.mutex.Lock()
	p.mappings[m.Signal] = m
	p.mutex.Unlock()

	p.logger.Info("Signal registered",
		zap.String("signal", m.Signal),
		zap.String("variable", m.Variable),
		zap.String("type", string(m.Type)),
	)
	return nil
}

// Unregister removes a mapping and its last value
func (p *Processor) Unregister(signal string) bool {
	key := normalize(signal)

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if _, ok := p.mappings[key]; !ok {
		return false
	}
	delete(p.mappings, key)
	delete(p.values, key)
	return true
}

// OnVariable registers a listener called after each variable update
func (p *Processor) OnVariable(fn func(variable string, value any)) {
	p.mutex.Lock()
	p.listeners = append(p.listeners, fn)
	p.mutex.Unlock()
}

// ProcessIncomingData converts one line. Lines that are not registered
// signals produce an unsuccessful result.
func (p *Processor) ProcessIncomingData(line string) model.SignalResult {
	now := time.Now()

	name, raw, err := SplitLine(line)
	if err != nil {
		return p.fail(model.SignalResult{Timestamp: now}, err)
	}

	key := normalize(name)

	p.mutex.RLock()
	m, ok := p.mappings[key]
	p.mutex.RUnlock()

	result := model.SignalResult{SignalName: key, Timestamp: now}
	if !ok {
		return p.fail(result, fmt.Errorf("%w: %s", ErrUnknownSignal, key))
	}
	result.VariableName = m.Variable
	result.SignalType = m.Type

	value, err := Convert(raw, m.Type)
	if err != nil {
		return p.fail(result, err)
	}
	result.Value = value
	result.Success = true

	p.mutex.Lock()
	p.processed++
	p.updatedAt = now
	p.values[key] = Value{
		Signal:    key,
		Variable:  m.Variable,
		Type:      m.Type,
		Value:     value,
		Raw:       raw,
		Timestamp: now,
	}
	p.variables[m.Variable] = value
	listeners := append([]func(string, any){}, p.listeners...)
	p.mutex.Unlock()

	for _, fn := range listeners {
		fn(m.Variable, value)
	}
	return result
}

func (p *Processor) fail(result model.SignalResult, err error) model.SignalResult {
	p.mutex.Lock()
	p.processed++
	p.errors++
	p.mutex.Unlock()

	result.Success = false
	result.ErrorMessage = err.Error()
	p.logger.Debug("Line is not a signal", zap.Error(err))
	return result
}

// Value returns the last value of a signal
func (p *Processor) Value(signal string) (Value, bool) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	v, ok := p.values[normalize(signal)]
	return v, ok
}

// Values returns the last value of every signal
func (p *Processor) Values() map[string]Value {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	out := make(map[string]Value, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}

// Variable returns the current value of a variable
func (p *Processor) Variable(name string) (any, bool) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	v, ok := p.variables[name]
	return v, ok
}

// SetVariable overrides a variable outside of telemetry
func (p *Processor) SetVariable(name string, value any) {
	p.mutex.Lock()
	p.variables[name] = value
	listeners := append([]func(string, any){}, p.listeners...)
	p.mutex.Unlock()

	for _, fn := range listeners {
		fn(name, value)
	}
}

// Flag reports a boolean variable. ok is false when the variable is unset
// or not a boolean.
func (p *Processor) Flag(name string) (value, ok bool) {
	v, found := p.Variable(name)
	if !found {
		return false, false
	}
	b, isBool := v.(bool)
	return b, isBool
}

// Mappings returns the registered mappings sorted by signal name
func (p *Processor) Mappings() []Mapping {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	out := make([]Mapping, 0, len(p.mappings))
	for _, m := range p.mappings {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Signal < out[j].Signal })
	return out
}

// Stats returns processing counters
func (p *Processor) Stats() Stats {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	return Stats{
		Mappings:   len(p.mappings),
		Processed:  p.processed,
		Errors:     p.errors,
		Values:     len(p.values),
		Variables:  len(p.variables),
		LastUpdate: p.updatedAt,
	}
}

// Clear drops every mapping, value and counter
func (p *Processor) Clear() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.mappings = make(map[string]Mapping)
	p.values = make(map[string]Value)
	p.variables = make(map[string]any)
	p.processed = 0
	p.errors = 0
}
