// internal/transport/mock.go
package transport

import (
	"bytes"
	"sync"
	"time"

	"serial-service/internal/model"
)

// MockTransport is an in-memory Transport with configurable faults
type MockTransport struct {
	mu sync.Mutex

	readBuf  bytes.Buffer
	writeBuf bytes.Buffer

	// WriteLimit caps the bytes accepted per Write; zero accepts everything
	WriteLimit int

	// ReadError is returned once by the next Read call if set
	ReadError error

	// WriteError is returned once by the next Write call if set
	WriteError error

	// CloseError is returned by Close if set
	CloseError error

	// WriteDelay stalls every Write before it touches the buffer
	WriteDelay time.Duration

	// CloseDelay stalls Close before the transport is marked closed
	CloseDelay time.Duration

	// ResetError is returned by the buffer resets if set
	ResetError error

	// ReportClosed makes IsOpen return false even before Close
	ReportClosed bool

	// BlockReads makes Read wait for data or Close, ignoring the read timeout
	BlockReads bool

	// Responder, if set, is called with every complete write and its result is queued for reading
	Responder func(written []byte) []byte

	closed      bool
	readTimeout time.Duration
	readCalls   int
	writeCalls  int
	cond        *sync.Cond
}

// NewMockTransport creates an open mock with a short read timeout
func NewMockTransport() *MockTransport {
	m := &MockTransport{readTimeout: 20 * time.Millisecond}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Feed queues bytes for reading
func (m *MockTransport) Feed(data []byte) {
	m.mu.Lock()
	m.readBuf.Write(data)
	m.mu.Unlock()
	m.cond.Broadcast()
}

// FeedString queues a string for reading
func (m *MockTransport) FeedString(s string) {
	m.Feed([]byte(s))
}

// Written returns a copy of every byte accepted so far
func (m *MockTransport) Written() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return bytes.Clone(m.writeBuf.Bytes())
}

// Pending returns the number of unread bytes
func (m *MockTransport) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readBuf.Len()
}

// Calls returns the number of Read and Write calls
func (m *MockTransport) Calls() (reads, writes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readCalls, m.writeCalls
}

// SetWriteDelay changes WriteDelay while writes may be running
func (m *MockTransport) SetWriteDelay(d time.Duration) {
	m.mu.Lock()
	m.WriteDelay = d
	m.mu.Unlock()
}

// Closed reports whether Close was called
func (m *MockTransport) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MockTransport) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.readCalls++

	if m.closed {
		return 0, ErrClosed
	}
	if m.ReadError != nil {
		err := m.ReadError
		m.ReadError = nil
		return 0, err
	}

	if m.BlockReads {
		for !m.closed && m.readBuf.Len() == 0 {
			m.cond.Wait()
		}
		if m.closed {
			return 0, ErrClosed
		}
		return m.readBuf.Read(p)
	}

	deadline := time.Now().Add(m.readTimeout)
	for !m.closed && m.readBuf.Len() == 0 && time.Now().Before(deadline) {
		m.mu.Unlock()
		time.Sleep(time.Millisecond)
		m.mu.Lock()
	}
	if m.closed {
		return 0, ErrClosed
	}
	if m.readBuf.Len() == 0 {
		return 0, nil
	}
	return m.readBuf.Read(p)
}

func (m *MockTransport) Write(p []byte) (int, error) {
	m.mu.Lock()
	delay := m.WriteDelay
	m.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	m.mu.Lock()

	m.writeCalls++

	if m.closed {
		m.mu.Unlock()
		return 0, ErrClosed
	}
	if m.WriteError != nil {
		err := m.WriteError
		m.WriteError = nil
		m.mu.Unlock()
		return 0, err
	}

	n := len(p)
	if m.WriteLimit > 0 && n > m.WriteLimit {
		n = m.WriteLimit
	}
	m.writeBuf.Write(p[:n])

	responder := m.Responder
	m.mu.Unlock()

	if responder != nil && n == len(p) {
		if reply := responder(bytes.Clone(p)); len(reply) > 0 {
			m.Feed(reply)
		}
	}
	return n, nil
}

func (m *MockTransport) Close() error {
	m.mu.Lock()
	delay := m.CloseDelay
	m.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	m.mu.Lock()
	m.closed = true
	err := m.CloseError
	m.mu.Unlock()
	m.cond.Broadcast()
	return err
}

func (m *MockTransport) SetReadTimeout(d time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readTimeout = d
	return nil
}

func (m *MockTransport) ResetInputBuffer() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ResetError != nil {
		return m.ResetError
	}
	m.readBuf.Reset()
	return nil
}

func (m *MockTransport) ResetOutputBuffer() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ResetError
}

func (m *MockTransport) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed && !m.ReportClosed
}

// MockOpener hands out MockTransports and records what was opened
type MockOpener struct {
	mu sync.Mutex

	// OpenError is returned by Open if set
	OpenError error

	// Block, if non-nil, makes Open wait until it is closed
	Block chan struct{}

	// Prepare, if set, configures each new transport before it is returned
	Prepare func(port string, t *MockTransport)

	opened   []*MockTransport
	ports    []string
	settings []model.Settings
}

// NewMockOpener creates an opener with no faults
func NewMockOpener() *MockOpener {
	return &MockOpener{}
}

// Open implements Opener
func (o *MockOpener) Open(port string, settings model.Settings) (Transport, error) {
	o.mu.Lock()
	block, openErr, prepare := o.Block, o.OpenError, o.Prepare
	o.mu.Unlock()

	if block != nil {
		<-block
	}
	if openErr != nil {
		return nil, openErr
	}

	t := NewMockTransport()
	if settings.ReadTimeout > 0 {
		t.SetReadTimeout(settings.ReadTimeout)
	}
	if prepare != nil {
		prepare(port, t)
	}

	o.mu.Lock()
	o.opened = append(o.opened, t)
	o.ports = append(o.ports, port)
	o.settings = append(o.settings, settings)
	o.mu.Unlock()
	return t, nil
}

// Last returns the most recently opened transport
func (o *MockOpener) Last() *MockTransport {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.opened) == 0 {
		return nil
	}
	return o.opened[len(o.opened)-1]
}

// Opens returns how many transports were opened
func (o *MockOpener) Opens() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.opened)
}

// LastSettings returns the settings of the most recent Open
func (o *MockOpener) LastSettings() model.Settings {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.settings) == 0 {
		return model.Settings{}
	}
	return o.settings[len(o.settings)-1]
}

// SetOpenError changes the error returned by subsequent opens
func (o *MockOpener) SetOpenError(err error) {
	o.mu.Lock()
	o.OpenError = err
	o.mu.Unlock()
}
