// internal/transport/transport.go
package transport

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"serial-service/internal/model"
)

// Transport is an open byte stream to a device. Read returns (0, nil) when
// the read timeout elapses with no data.
type Transport interface {
	io.ReadWriteCloser
	SetReadTimeout(d time.Duration) error
	ResetInputBuffer() error
	ResetOutputBuffer() error
	IsOpen() bool
}

// Opener opens a transport for a port address
type Opener interface {
	Open(port string, settings model.Settings) (Transport, error)
}

// OpenerFunc adapts a function to Opener
type OpenerFunc func(port string, settings model.Settings) (Transport, error)

// Open calls f
func (f OpenerFunc) Open(port string, settings model.Settings) (Transport, error) {
	return f(port, settings)
}

// Registry dispatches Open to an opener chosen by the address scheme.
// Addresses without a scheme go to the default opener.
type Registry struct {
	openers  map[string]Opener
	fallback Opener
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewRegistry creates a registry with serial as the default and the tcp and
// usb schemes registered
func NewRegistry(logger *zap.Logger, dialTimeout time.Duration) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		openers: make(map[string]Opener),
		logger:  logger.With(zap.String("component", "transport_registry")),
	}
	r.fallback = NewSerialOpener(logger)
	r.Register("tcp", NewTCPOpener(logger, dialTimeout))
	r.Register("usb", NewUSBOpener(logger))
	return r
}

// Register binds an opener to scheme, replacing any existing binding
func (r *Registry) Register(scheme string, opener Opener) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.openers[strings.ToLower(scheme)] = opener
	r.logger.Debug("Transport registered", zap.String("scheme", scheme))
}

// SetDefault replaces the opener used for addresses without a scheme
func (r *Registry) SetDefault(opener Opener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = opener
}

// Schemes lists registered schemes
func (r *Registry) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schemes := make([]string, 0, len(r.openers))
	for scheme := range r.openers {
		schemes = append(schemes, scheme)
	}
	sort.Strings(schemes)
	return schemes
}

// Open implements Opener
func (r *Registry) Open(port string, settings model.Settings) (Transport, error) {
	scheme, _, hasScheme := SplitScheme(port)

	r.mu.RLock()
	opener := r.fallback
	if hasScheme {
		var ok bool
		opener, ok = r.openers[scheme]
		if !ok {
			r.mu.RUnlock()
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, scheme)
		}
	}
	r.mu.RUnlock()

	if opener == nil {
		return nil, fmt.Errorf("%w: no default opener", ErrUnsupportedScheme)
	}
	return opener.Open(port, settings)
}

// SplitScheme splits "tcp://host:port" into ("tcp", "host:port", true).
// Plain device paths such as /dev/ttyUSB0 or COM3 return hasScheme false.
func SplitScheme(port string) (scheme, address string, hasScheme bool) {
	idx := strings.Index(port, "://")
	if idx <= 0 {
		return "", port, false
	}
	return strings.ToLower(port[:idx]), port[idx+3:], true
}
