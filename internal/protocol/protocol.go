// internal/protocol/protocol.go
package protocol

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"serial-service/internal/model"
)

const (
	DefaultTerminator       = "\r\n"
	DefaultTimeout          = 5 * time.Second
	DefaultMaxRetries       = 3
	DefaultMaxCommandLength = 1024
)

// Options configures a SerialProtocol. Zero values take the defaults.
type Options struct {
	Flavor           model.Flavor
	Terminator       string
	DefaultTimeout   time.Duration
	MaxRetries       int
	MaxCommandLength int
	// Unclassified is the status given to non-empty text no pattern matches
	Unclassified model.ResponseStatus
}

// Statistics are running counters across all commands
type Statistics struct {
	CommandsSent        int64         `json:"commands_sent"`
	ResponsesReceived   int64         `json:"responses_received"`
	Errors              int64         `json:"errors"`
	Timeouts            int64         `json:"timeouts"`
	TotalResponseTime   time.Duration `json:"total_response_time"`
	AverageResponseTime time.Duration `json:"average_response_time"`
	ErrorRate           float64       `json:"error_rate"`
}

// Info describes the active protocol configuration
type Info struct {
	Flavor         model.Flavor         `json:"type"`
	Terminator     string               `json:"command_terminator"`
	DefaultTimeout time.Duration        `json:"default_timeout"`
	MaxRetries     int                  `json:"max_retries"`
	Unclassified   model.ResponseStatus `json:"unclassified"`
	Patterns       []string             `json:"response_patterns"`
	Statistics     Statistics           `json:"statistics"`
}

// SerialProtocol formats commands and classifies responses for one flavor
type SerialProtocol struct {
	mutex          sync.RWMutex
	flavor         model.Flavor
	terminator     string
	defaultTimeout time.Duration
	maxRetries     int
	maxLength      int
	unclassified   model.ResponseStatus
	userPatterns   []Pattern
	flavorPatterns []Pattern
	stats          Statistics
	logger         *zap.Logger
}

// New creates a protocol
func New(opts Options, logger *zap.Logger) (*SerialProtocol, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Flavor == "" {
		opts.Flavor = model.FlavorCustom
	}
	if !opts.Flavor.IsValid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFlavor, opts.Flavor)
	}
	if opts.Terminator == "" {
		opts.Terminator = DefaultTerminator
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultTimeout
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.MaxCommandLength <= 0 {
		opts.MaxCommandLength = DefaultMaxCommandLength
	}
	if opts.Unclassified == "" {
		opts.Unclassified = model.StatusSuccess
	}
	if !opts.Unclassified.IsValid() {
		return nil, fmt.Errorf("invalid unclassified policy: %s", opts.Unclassified)
	}

	return &SerialProtocol{
		flavor:         opts.Flavor,
		terminator:     opts.Terminator,
		defaultTimeout: opts.DefaultTimeout,
		maxRetries:     opts.MaxRetries,
		maxLength:      opts.MaxCommandLength,
		unclassified:   opts.Unclassified,
		flavorPatterns: flavorPatterns(opts.Flavor),
		logger:         logger.With(zap.String("component", "protocol")),
	}, nil
}

// Flavor returns the active flavor
func (p *SerialProtocol) Flavor() model.Flavor {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.flavor
}

// SetFlavor switches the flavor and its override patterns
func (p *SerialProtocol) SetFlavor(flavor model.Flavor) error {
	if !flavor.IsValid() {
		return fmt.Errorf("%w: %s", ErrUnknownFlavor, flavor)
	}

	p.mutex.Lock()
	p.flavor = flavor
	p.flavorPatterns = flavorPatterns(flavor)
	p.mutex.Unlock()

	p.logger.Info("Protocol flavor changed", zap.String("flavor", string(flavor)))
	return nil
}

// SetUnclassifiedPolicy sets the status for text no pattern matches
func (p *SerialProtocol) SetUnclassifiedPolicy(status model.ResponseStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("invalid unclassified policy: %s", status)
	}
	p.mutex.Lock()
	p.unclassified = status
	p.mutex.Unlock()
	return nil
}

// Terminator returns the outbound line terminator
func (p *SerialProtocol) Terminator() string {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.terminator
}

// DefaultTimeout returns the per-command timeout used by NewCommand
func (p *SerialProtocol) DefaultTimeout() time.Duration {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.defaultTimeout
}

// AddResponsePattern registers a case-insensitive pattern checked before
// every built-in one. A pattern with an existing name replaces it.
func (p *SerialProtocol) AddResponsePattern(name, expr string, status model.ResponseStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidPattern, status)
	}
	re, err := regexp.Compile("(?i)" + expr)
	if err != nil {
		p.logger.Error("Failed to add response pattern", zap.String("name", name), zap.Error(err))
		return fmt.Errorf("%w: %s: %v", ErrInvalidPattern, name, err)
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	for i := range p.userPatterns {
		if p.userPatterns[i].Name == name {
			p.userPatterns[i] = Pattern{Name: name, Status: status, Regexp: re}
			return nil
		}
	}
	p.userPatterns = append(p.userPatterns, Pattern{Name: name, Status: status, Regexp: re})
	p.logger.Debug("Response pattern added", zap.String("name", name))
	return nil
}

// RemoveResponsePattern deletes a user pattern and reports whether it existed
func (p *SerialProtocol) RemoveResponsePattern(name string) bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	for i := range p.userPatterns {
		if p.userPatterns[i].Name == name {
			p.userPatterns = append(p.userPatterns[:i], p.userPatterns[i+1:]...)
			return true
		}
	}
	p.logger.Warn("Response pattern not found", zap.String("name", name))
	return false
}

// NewCommand builds a command with the protocol's default timeout
func (p *SerialProtocol) NewCommand(text string, params map[string]any) model.Command {
	return model.Command{
		Text:    text,
		Params:  params,
		Timeout: p.DefaultTimeout(),
	}
}

// FormatCommand substitutes {name} placeholders with the parameter values
// and appends the terminator unless the text already ends with it
func (p *SerialProtocol) FormatCommand(text string, params map[string]any) []byte {
	formatted := text
	for key, value := range params {
		placeholder := "{" + key + "}"
		if strings.Contains(formatted, placeholder) {
			formatted = strings.ReplaceAll(formatted, placeholder, fmt.Sprint(value))
		}
	}

	terminator := p.Terminator()
	out := []byte(formatted)
	if !bytes.HasSuffix(out, []byte(terminator)) {
		out = append(out, terminator...)
	}
	return out
}

// ParseResponse decodes raw bytes, replacing invalid sequences, and
// classifies the trimmed text. Statistics are updated.
func (p *SerialProtocol) ParseResponse(raw []byte, command string) *model.ProtocolResponse {
	return p.ParseTimedResponse(raw, command, time.Now())
}

// ParseTimedResponse is ParseResponse with the response time measured from
// sentAt, the moment the command was written
func (p *SerialProtocol) ParseTimedResponse(raw []byte, command string, sentAt time.Time) *model.ProtocolResponse {
	text := strings.TrimSpace(strings.ToValidUTF8(string(raw), "\uFFFD"))

	resp := &model.ProtocolResponse{
		Status:    p.Classify(text),
		Data:      text,
		Raw:       raw,
		Timestamp: time.Now(),
		Command:   command,
	}
	resp.ResponseTime = resp.Timestamp.Sub(sentAt)

	p.RecordResponse(resp)
	p.logger.Debug("Response parsed",
		zap.String("data", text),
		zap.String("status", string(resp.Status)),
	)
	return resp
}

// Classify returns the status for already-decoded response text. Empty text
// is invalid. User patterns are tried first, then flavor overrides, then the
// generic keyword patterns, then the unclassified policy.
func (p *SerialProtocol) Classify(text string) model.ResponseStatus {
	if text == "" {
		return model.StatusInvalid
	}

	p.mutex.RLock()
	defer p.mutex.RUnlock()

	for _, set := range [][]Pattern{p.userPatterns, p.flavorPatterns, genericPatterns} {
		for _, pattern := range set {
			if pattern.Regexp.MatchString(text) {
				return pattern.Status
			}
		}
	}
	return p.unclassified
}

// RecordSent counts an outbound command
func (p *SerialProtocol) RecordSent() {
	p.mutex.Lock()
	p.stats.CommandsSent++
	p.mutex.Unlock()
}

// RecordResponse counts a classified response. ResponseTime is accumulated
// for the running average.
func (p *SerialProtocol) RecordResponse(resp *model.ProtocolResponse) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.stats.ResponsesReceived++
	p.stats.TotalResponseTime += resp.ResponseTime
	switch resp.Status {
	case model.StatusError:
		p.stats.Errors++
	case model.StatusTimeout:
		p.stats.Timeouts++
	}
}

// RecordTimeout counts a command that got no response at all
func (p *SerialProtocol) RecordTimeout() {
	p.mutex.Lock()
	p.stats.Timeouts++
	p.mutex.Unlock()
}

// RecordError counts a failure that produced no response, such as a failed write
func (p *SerialProtocol) RecordError() {
	p.mutex.Lock()
	p.stats.Errors++
	p.mutex.Unlock()
}

// Statistics returns a copy of the counters with derived rates
func (p *SerialProtocol) Statistics() Statistics {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	stats := p.stats
	if stats.ResponsesReceived > 0 {
		stats.AverageResponseTime = stats.TotalResponseTime / time.Duration(stats.ResponsesReceived)
	}
	if total := stats.CommandsSent + stats.ResponsesReceived; total > 0 {
		stats.ErrorRate = float64(stats.Errors) / float64(total) * 100
	}
	return stats
}

// ResetStatistics zeroes the counters
func (p *SerialProtocol) ResetStatistics() {
	p.mutex.Lock()
	p.stats = Statistics{}
	p.mutex.Unlock()
	p.logger.Debug("Protocol statistics reset")
}

// Info describes the protocol configuration
func (p *SerialProtocol) Info() Info {
	stats := p.Statistics()

	p.mutex.RLock()
	defer p.mutex.RUnlock()

	names := make([]string, 0, len(p.userPatterns)+len(p.flavorPatterns)+len(genericPatterns))
	for _, set := range [][]Pattern{p.userPatterns, p.flavorPatterns, genericPatterns} {
		for _, pattern := range set {
			names = append(names, pattern.Name)
		}
	}

	return Info{
		Flavor:         p.flavor,
		Terminator:     p.terminator,
		DefaultTimeout: p.defaultTimeout,
		MaxRetries:     p.maxRetries,
		Unclassified:   p.unclassified,
		Patterns:       names,
		Statistics:     stats,
	}
}
