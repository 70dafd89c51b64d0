package reader

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"serial-service/internal/model"
	"serial-service/internal/worker"
)

var errAborted = errors.New("aborted")

type fakeSource struct {
	lines   chan string
	abort   chan struct{}
	once    sync.Once
	release chan struct{}

	connected atomic.Bool
	readErr   atomic.Pointer[error]

	// hang makes every ReadLine sleep this long, ignoring Abort
	hang time.Duration
	// stuck makes ReadLine block until Abort
	stuck bool
	// unkillable makes ReadLine block until release is closed
	unkillable bool
}

func newFakeSource() *fakeSource {
	s := &fakeSource{
		lines:   make(chan string, 64),
		abort:   make(chan struct{}),
		release: make(chan struct{}),
	}
	s.connected.Store(true)
	return s
}

func (s *fakeSource) ReadLine() (string, error) {
	if errp := s.readErr.Load(); errp != nil {
		return "", *errp
	}
	switch {
	case s.unkillable:
		<-s.release
		return "", nil
	case s.stuck:
		<-s.abort
		return "", errAborted
	case s.hang > 0:
		time.Sleep(s.hang)
		return "", nil
	}

	select {
	case line := <-s.lines:
		return line, nil
	case <-s.abort:
		return "", errAborted
	case <-time.After(10 * time.Millisecond):
		return "", nil
	}
}

func (s *fakeSource) IsConnected() bool { return s.connected.Load() }

func (s *fakeSource) Abort() {
	s.once.Do(func() { close(s.abort) })
}

func (s *fakeSource) failWith(err error) { s.readErr.Store(&err) }

type prefixProcessor struct {
	panicOn string
}

func (p prefixProcessor) ProcessIncomingData(line string) model.SignalResult {
	if p.panicOn != "" && line == p.panicOn {
		panic("bad signal")
	}
	name, value, ok := strings.Cut(line, ":")
	if !ok {
		return model.SignalResult{Success: false, ErrorMessage: "not a signal"}
	}
	return model.SignalResult{Success: true, SignalName: name, VariableName: strings.ToLower(name), Value: value}
}

type recorder struct {
	mu        sync.Mutex
	data      []string
	responses []string
	signals   []model.SignalResult
	errs      []error
	exit      chan error
}

func newRecorder() *recorder {
	return &recorder{exit: make(chan error, 1)}
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnData: func(line string) {
			r.mu.Lock()
			r.data = append(r.data, line)
			r.mu.Unlock()
		},
		OnResponse: func(line string) {
			r.mu.Lock()
			r.responses = append(r.responses, line)
			r.mu.Unlock()
		},
		OnSignal: func(result model.SignalResult) {
			r.mu.Lock()
			r.signals = append(r.signals, result)
			r.mu.Unlock()
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
		},
		OnExit: func(reason error) { r.exit <- reason },
	}
}

func (r *recorder) dataCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.data)
}

func fastConfig() Config {
	return Config{
		PollSlice:        time.Millisecond,
		PollSlices:       5,
		ShutdownTimeout:  time.Second,
		InterruptTimeout: time.Second,
		ForceTimeout:     time.Second,
	}
}

func TestReaderDispatchesLines(t *testing.T) {
	src := newFakeSource()
	rec := newRecorder()
	r := New(src, prefixProcessor{}, rec.handlers(), fastConfig(), zaptest.NewLogger(t))

	require.NoError(t, r.Start(nil))
	defer r.Stop()

	src.lines <- "OK"
	src.lines <- "TEMP:21.5"
	src.lines <- "READY"

	require.Eventually(t, func() bool { return rec.dataCount() == 3 }, time.Second, time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []string{"OK", "TEMP:21.5", "READY"}, rec.data)
	assert.Equal(t, []string{"OK", "READY"}, rec.responses)
	require.Len(t, rec.signals, 1)
	assert.Equal(t, "TEMP", rec.signals[0].SignalName)
	assert.Equal(t, "21.5", rec.signals[0].Value)

	stats := r.Stats()
	assert.Equal(t, int64(3), stats.LinesRead)
	assert.Equal(t, int64(1), stats.SignalsProcessed)
	assert.True(t, stats.Running)
}

func TestReaderWithoutProcessorTreatsEverythingAsResponse(t *testing.T) {
	src := newFakeSource()
	rec := newRecorder()
	r := New(src, nil, rec.handlers(), fastConfig(), zap.NewNop())

	require.NoError(t, r.Start(nil))
	defer r.Stop()

	src.lines <- "TEMP:21.5"
	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.responses) == 1
	}, time.Second, time.Millisecond)
}

func TestReaderSurvivesProcessorPanic(t *testing.T) {
	src := newFakeSource()
	rec := newRecorder()
	r := New(src, prefixProcessor{panicOn: "X:1"}, rec.handlers(), fastConfig(), zap.NewNop())

	require.NoError(t, r.Start(nil))
	defer r.Stop()

	src.lines <- "X:1"
	src.lines <- "Y:2"

	require.Eventually(t, func() bool { return rec.dataCount() == 2 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return r.Stats().SignalsProcessed == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, int64(1), r.Stats().SignalErrors)

	rec.mu.Lock()
	assert.Equal(t, []string{"X:1"}, rec.responses)
	rec.mu.Unlock()
}

func TestReaderStartTwice(t *testing.T) {
	r := New(newFakeSource(), nil, Handlers{}, fastConfig(), zap.NewNop())
	require.NoError(t, r.Start(nil))
	defer r.Stop()

	assert.ErrorIs(t, r.Start(nil), ErrAlreadyRunning)
}

func TestReaderRestartAfterStop(t *testing.T) {
	r := New(newFakeSource(), nil, Handlers{}, fastConfig(), zap.NewNop())
	require.NoError(t, r.Start(nil))
	assert.Equal(t, StoppedGracefully, r.Stop())
	assert.False(t, r.Running())

	require.NoError(t, r.Start(nil))
	assert.True(t, r.Running())
	r.Stop()
}

func TestReaderExitsOnReadError(t *testing.T) {
	src := newFakeSource()
	rec := newRecorder()
	r := New(src, nil, rec.handlers(), fastConfig(), zap.NewNop())
	require.NoError(t, r.Start(nil))

	src.failWith(errors.New("framing error"))

	select {
	case reason := <-rec.exit:
		assert.ErrorContains(t, reason, "framing error")
		assert.False(t, IsStopReason(reason))
	case <-time.After(time.Second):
		t.Fatal("reader did not exit")
	}

	rec.mu.Lock()
	assert.Len(t, rec.errs, 1)
	rec.mu.Unlock()
	assert.Equal(t, int64(1), r.Stats().ReadErrors)
	require.Eventually(t, func() bool { return !r.Running() }, time.Second, time.Millisecond)
	assert.Equal(t, NotRunning, r.Stop())
}

func TestReaderExitsWhenSourceDisconnects(t *testing.T) {
	src := newFakeSource()
	rec := newRecorder()
	r := New(src, nil, rec.handlers(), fastConfig(), zap.NewNop())
	require.NoError(t, r.Start(nil))

	src.connected.Store(false)

	select {
	case reason := <-rec.exit:
		assert.ErrorIs(t, reason, ErrSourceDisconnected)
	case <-time.After(time.Second):
		t.Fatal("reader did not exit")
	}
}

func observed(t *testing.T) (*zap.Logger, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.InfoLevel)
	return zap.New(core), logs
}

func TestStopGraceful(t *testing.T) {
	logger, logs := observed(t)
	rec := newRecorder()
	r := New(newFakeSource(), nil, rec.handlers(), fastConfig(), logger)
	require.NoError(t, r.Start(nil))

	start := time.Now()
	assert.Equal(t, StoppedGracefully, r.Stop())
	assert.Less(t, time.Since(start), 200*time.Millisecond)
	assert.Equal(t, 1, logs.FilterMessage("Reader stopped gracefully").Len())
	assert.True(t, IsStopReason(<-rec.exit))
}

func TestStopAfterInterrupt(t *testing.T) {
	logger, logs := observed(t)
	src := newFakeSource()
	src.hang = 150 * time.Millisecond
	cfg := fastConfig()
	cfg.ShutdownTimeout = 20 * time.Millisecond

	r := New(src, nil, Handlers{}, cfg, logger)
	require.NoError(t, r.Start(nil))
	time.Sleep(5 * time.Millisecond)

	assert.Equal(t, StoppedAfterInterrupt, r.Stop())
	assert.Equal(t, 1, logs.FilterMessage("Reader graceful stop timed out").Len())
	assert.Equal(t, 1, logs.FilterMessage("Reader stopped after interrupt").Len())
}

func TestStopForce(t *testing.T) {
	logger, logs := observed(t)
	src := newFakeSource()
	src.stuck = true
	cfg := fastConfig()
	cfg.ShutdownTimeout = 20 * time.Millisecond
	cfg.InterruptTimeout = 20 * time.Millisecond

	r := New(src, nil, Handlers{}, cfg, logger)
	require.NoError(t, r.Start(nil))

	assert.Equal(t, ForceStopped, r.Stop())
	assert.Equal(t, 1, logs.FilterMessage("Reader force-stopped").Len())
	assert.False(t, r.Running())
}

func TestStopForceFailed(t *testing.T) {
	logger, logs := observed(t)
	src := newFakeSource()
	src.unkillable = true
	defer close(src.release)
	cfg := fastConfig()
	cfg.ShutdownTimeout = 10 * time.Millisecond
	cfg.InterruptTimeout = 10 * time.Millisecond
	cfg.ForceTimeout = 10 * time.Millisecond

	r := New(src, nil, Handlers{}, cfg, logger)
	require.NoError(t, r.Start(nil))

	start := time.Now()
	outcome := r.Stop()
	assert.Equal(t, ForceFailed, outcome)
	assert.False(t, outcome.Stopped())
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, 1, logs.FilterMessage("Reader force-stop failed").Len())
}

func TestStopWithinScalesSteps(t *testing.T) {
	src := newFakeSource()
	src.stuck = true
	r := New(src, nil, Handlers{}, DefaultConfig(), zap.NewNop())
	require.NoError(t, r.Start(nil))

	start := time.Now()
	assert.Equal(t, ForceStopped, r.StopWithin(120*time.Millisecond))
	assert.Less(t, time.Since(start), time.Second)
}

func TestStopNotStarted(t *testing.T) {
	r := New(newFakeSource(), nil, Handlers{}, fastConfig(), zap.NewNop())
	assert.Equal(t, NotRunning, r.Stop())
	assert.True(t, NotRunning.Stopped())
}

func TestReaderRegistersWithManager(t *testing.T) {
	m := worker.NewManager(zap.NewNop())
	r := New(newFakeSource(), nil, Handlers{}, fastConfig(), zap.NewNop())

	require.NoError(t, r.Start(m))
	w, ok := m.Get(WorkerName)
	require.True(t, ok)
	assert.True(t, w.Alive())

	results := m.StopAll(time.Second)
	assert.True(t, results[WorkerName])
	assert.False(t, r.Running())
}
