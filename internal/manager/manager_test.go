package manager

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"serial-service/internal/connection"
	"serial-service/internal/model"
	"serial-service/internal/pool"
	"serial-service/internal/protocol"
	"serial-service/internal/reader"
	"serial-service/internal/signals"
	"serial-service/internal/transport"
	"serial-service/internal/worker"
)

func deviceResponder(written []byte) []byte {
	switch strings.TrimSpace(string(written)) {
	case "STATUS":
		return []byte("OK\r\n")
	case "FAIL":
		return []byte("ERROR\r\n")
	case "BUSY":
		return []byte("BUSY\r\n")
	case "NOISY":
		return []byte("TEMP:22.5\r\nOK\r\n")
	case "STAGED":
		return []byte("BUSY\r\nDONE\r\n")
	default:
		return nil
	}
}

type eventLog struct {
	mu     sync.Mutex
	events []model.Event
}

func (l *eventLog) Publish(e model.Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) ofType(t model.EventType) []model.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.Event
	for _, e := range l.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	manager   *Manager
	opener    *transport.MockOpener
	pool      *pool.Pool
	events    *eventLog
	processor *signals.Processor
}

func fastReader() reader.Config {
	return reader.Config{
		PollSlice:        time.Millisecond,
		PollSlices:       2,
		ShutdownTimeout:  time.Second,
		InterruptTimeout: 200 * time.Millisecond,
		ForceTimeout:     200 * time.Millisecond,
	}
}

func newFixtureWithPool(t *testing.T, p *pool.Pool, opts Options) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)

	opener := transport.NewMockOpener()
	opener.Prepare = func(port string, tr *transport.MockTransport) {
		tr.Responder = deviceResponder
	}

	workers := worker.NewManager(logger)
	conn := connection.New(p, opener, workers, nil, connection.Options{
		Defaults:       model.DefaultSettings().Apply(model.WithReadTimeout(20 * time.Millisecond)),
		ReconnectDelay: 5 * time.Millisecond,
		LookupPortInfo: func(port string) model.PortInfo { return model.PortInfo{Port: port} },
	}, logger)

	proto, err := protocol.New(protocol.Options{DefaultTimeout: 500 * time.Millisecond}, logger)
	require.NoError(t, err)

	processor := signals.NewProcessor(logger)
	require.NoError(t, processor.Register("TEMP", "temperature (float)"))

	if opts.Reader == (reader.Config{}) {
		opts.Reader = fastReader()
	}

	events := &eventLog{}
	m := New(conn, proto, workers, processor, events, opts, logger)
	t.Cleanup(func() { m.GracefulShutdown(2 * time.Second) })

	return &fixture{manager: m, opener: opener, pool: p, events: events, processor: processor}
}

func newFixture(t *testing.T, opts Options) *fixture {
	return newFixtureWithPool(t, pool.New(10, time.Minute, zap.NewNop()), opts)
}

func TestSendAndWaitWithReader(t *testing.T) {
	f := newFixture(t, Options{})
	require.NoError(t, f.manager.Connect("COM1"))
	require.True(t, f.manager.ReaderRunning())

	resp, err := f.manager.SendAndWaitText(context.Background(), "STATUS", time.Second)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, resp.Status)
	assert.Equal(t, "OK", resp.Data)
	assert.Equal(t, "STATUS", resp.Command)
	assert.NotEmpty(t, resp.CorrelationID)
	assert.Equal(t, "STATUS\r\n", string(f.opener.Last().Written()))

	stats := f.manager.Stats()
	assert.Equal(t, int64(1), stats.CommandsSent)
	assert.Equal(t, int64(1), stats.ResponsesReceived)
	assert.Equal(t, int64(1), stats.Protocol.CommandsSent)

	completed := f.events.ofType(model.EventCommandCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, "OK", completed[0].Data["response"])
	assert.Equal(t, "COM1", completed[0].Data["port"])
	assert.Equal(t, resp.CorrelationID, completed[0].Data["correlation_id"])
}

func TestSendAndWaitPolling(t *testing.T) {
	f := newFixture(t, Options{DisableReader: true})
	require.NoError(t, f.manager.Connect("COM1"))
	assert.False(t, f.manager.ReaderRunning())

	resp, err := f.manager.SendAndWaitText(context.Background(), "FAIL", time.Second)
	require.NoError(t, err)
	assert.Equal(t, model.StatusError, resp.Status)
	assert.Equal(t, "ERROR", resp.Data)
}

func TestSignalsAreNotMistakenForResponses(t *testing.T) {
	f := newFixture(t, Options{})

	var mu sync.Mutex
	var got []model.SignalResult
	f.manager.SetCallbacks(Callbacks{
		OnSignalProcessed: func(r model.SignalResult) {
			mu.Lock()
			got = append(got, r)
			mu.Unlock()
		},
	})
	require.NoError(t, f.manager.Connect("COM1"))

	resp, err := f.manager.SendAndWaitText(context.Background(), "NOISY", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "OK", resp.Data)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, time.Millisecond)

	mu.Lock()
	assert.Equal(t, "temperature", got[0].VariableName)
	mu.Unlock()

	v, ok := f.processor.Value("TEMP")
	require.True(t, ok)
	assert.Equal(t, "22.5", v.Raw)
	assert.Len(t, f.events.ofType(model.EventSignalProcessed), 1)
}

func TestSendAndWaitTimeoutRetries(t *testing.T) {
	f := newFixture(t, Options{})
	require.NoError(t, f.manager.Connect("COM1"))

	cmd := model.Command{Text: "SILENT", Timeout: 40 * time.Millisecond, Retries: 2}
	start := time.Now()
	resp, err := f.manager.SendAndWait(context.Background(), cmd, 0)
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, ErrResponseTimeout)
	assert.Less(t, time.Since(start), time.Second)

	assert.Equal(t, strings.Repeat("SILENT\r\n", 3), string(f.opener.Last().Written()))
	assert.Equal(t, int64(3), f.manager.Stats().Timeouts)
	assert.Len(t, f.events.ofType(model.EventCommandCompleted), 3)
}

func TestPollingKeepsLinesAfterTheResponse(t *testing.T) {
	f := newFixture(t, Options{DisableReader: true})
	require.NoError(t, f.manager.Connect("COM1"))

	resp, err := f.manager.SendAndWaitText(context.Background(), "STAGED", time.Second)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPartial, resp.Status)
	assert.Equal(t, "BUSY", resp.Data)

	resp, err = f.manager.AwaitResponse(context.Background(), "STAGED", 300*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, resp.Status)
	assert.Equal(t, "DONE", resp.Data)
}

func TestSendAndWaitPollingTimeout(t *testing.T) {
	f := newFixture(t, Options{DisableReader: true})
	require.NoError(t, f.manager.Connect("COM1"))

	_, err := f.manager.SendAndWaitText(context.Background(), "SILENT", 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrResponseTimeout)
}

func TestSendAndWaitContextCancel(t *testing.T) {
	f := newFixture(t, Options{})
	require.NoError(t, f.manager.Connect("COM1"))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := f.manager.SendAndWaitText(ctx, "SILENT", 5*time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExpectedResponse(t *testing.T) {
	f := newFixture(t, Options{})
	require.NoError(t, f.manager.Connect("COM1"))

	resp, err := f.manager.SendAndWait(context.Background(), model.Command{Text: "STATUS", ExpectedResponse: "^READY$"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, model.StatusInvalid, resp.Status)
	assert.NotEmpty(t, resp.ErrorMessage)

	resp, err = f.manager.SendAndWait(context.Background(), model.Command{Text: "STATUS", ExpectedResponse: "^OK$"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, resp.Status)

	_, err = f.manager.SendAndWait(context.Background(), model.Command{Text: "STATUS", ExpectedResponse: "("}, time.Second)
	assert.ErrorIs(t, err, ErrInvalidExpectation)
}

func TestValidationRunsBeforeIO(t *testing.T) {
	f := newFixture(t, Options{})
	require.NoError(t, f.manager.Connect("COM1"))

	err := f.manager.SendCommand("", nil)
	var verr *protocol.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Problems, "command cannot be empty")

	_, err = f.manager.SendAndWait(context.Background(), model.Command{Text: "STATUS", Retries: -1}, time.Second)
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Problems, "retries cannot be negative")

	assert.Empty(t, f.opener.Last().Written())
}

func TestCommandsRequireConnection(t *testing.T) {
	f := newFixture(t, Options{})

	assert.ErrorIs(t, f.manager.SendCommand("STATUS", nil), ErrNotConnected)
	_, err := f.manager.SendAndWaitText(context.Background(), "STATUS", time.Second)
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = f.manager.AwaitResponse(context.Background(), "STATUS", time.Second)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSendCommandFormatsParameters(t *testing.T) {
	f := newFixture(t, Options{})
	require.NoError(t, f.manager.Connect("COM1"))

	require.NoError(t, f.manager.SendCommand("SET {channel} {value}", map[string]any{"channel": 2, "value": 3.5}))
	assert.Equal(t, "SET 2 3.5\r\n", string(f.opener.Last().Written()))
}

func TestWriteFailureIsReported(t *testing.T) {
	f := newFixture(t, Options{})
	require.NoError(t, f.manager.Connect("COM1"))
	f.opener.Last().WriteLimit = 3

	var errs []error
	var mu sync.Mutex
	f.manager.SetCallbacks(Callbacks{OnError: func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}})

	err := f.manager.SendCommand("STATUS", nil)
	assert.ErrorIs(t, err, connection.ErrIncompleteWrite)
	assert.NotEmpty(t, f.manager.State().LastError)

	mu.Lock()
	assert.Len(t, errs, 1)
	mu.Unlock()
	assert.Equal(t, int64(1), f.manager.Stats().Protocol.Errors)
}

func TestAwaitResponseFollowsPartial(t *testing.T) {
	f := newFixture(t, Options{})
	require.NoError(t, f.manager.Connect("COM1"))

	resp, err := f.manager.SendAndWaitText(context.Background(), "BUSY", time.Second)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPartial, resp.Status)

	tr := f.opener.Last()
	go func() {
		time.Sleep(50 * time.Millisecond)
		tr.FeedString("DONE\r\n")
	}()

	resp, err = f.manager.AwaitResponse(context.Background(), "BUSY", time.Second)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, resp.Status)
	assert.Equal(t, "DONE", resp.Data)
}

func TestConnectionCallbacks(t *testing.T) {
	f := newFixture(t, Options{})

	var mu sync.Mutex
	var changes []bool
	var lines []string
	f.manager.SetCallbacks(Callbacks{
		OnConnectionChanged: func(c bool) {
			mu.Lock()
			changes = append(changes, c)
			mu.Unlock()
		},
		OnDataReceived: func(line string) {
			mu.Lock()
			lines = append(lines, line)
			mu.Unlock()
		},
	})

	require.NoError(t, f.manager.Connect("COM1"))
	f.opener.Last().FeedString("HELLO\r\n")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(lines) == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, f.manager.Disconnect())
	require.NoError(t, f.manager.Disconnect())
	assert.False(t, f.manager.ReaderRunning())

	mu.Lock()
	assert.Equal(t, []bool{true, false}, changes)
	assert.Equal(t, []string{"HELLO"}, lines)
	mu.Unlock()

	assert.Len(t, f.events.ofType(model.EventConnectionChanged), 2)
	assert.Len(t, f.events.ofType(model.EventDataReceived), 1)
}

func TestTransportDropIsNoticed(t *testing.T) {
	f := newFixture(t, Options{})

	changed := make(chan bool, 4)
	f.manager.SetCallbacks(Callbacks{OnConnectionChanged: func(c bool) { changed <- c }})

	require.NoError(t, f.manager.Connect("COM1"))
	assert.True(t, <-changed)

	require.NoError(t, f.opener.Last().Close())

	select {
	case c := <-changed:
		assert.False(t, c)
	case <-time.After(time.Second):
		t.Fatal("drop not noticed")
	}
	assert.False(t, f.manager.IsConnected())
	assert.True(t, f.pool.CanCreate("COM1"))
}

func TestReconnectRestartsReader(t *testing.T) {
	f := newFixture(t, Options{})
	require.NoError(t, f.manager.Connect("COM1"))

	require.NoError(t, f.manager.Reconnect(model.WithBaudRate(115200)))
	assert.True(t, f.manager.ReaderRunning())
	assert.Equal(t, 2, f.opener.Opens())
	assert.Equal(t, 115200, f.opener.LastSettings().BaudRate)

	resp, err := f.manager.SendAndWaitText(context.Background(), "STATUS", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "OK", resp.Data)
}

func TestCapacityLeavesFirstConnectionIntact(t *testing.T) {
	shared := pool.New(1, time.Minute, zap.NewNop())
	a := newFixtureWithPool(t, shared, Options{})
	b := newFixtureWithPool(t, shared, Options{})

	require.NoError(t, a.manager.Connect("A"))
	assert.ErrorIs(t, b.manager.Connect("B"), pool.ErrPoolFull)

	assert.True(t, a.manager.IsConnected())
	assert.False(t, b.manager.IsConnected())

	resp, err := a.manager.SendAndWaitText(context.Background(), "STATUS", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "OK", resp.Data)
}

func TestGracefulShutdown(t *testing.T) {
	f := newFixture(t, Options{})
	require.NoError(t, f.manager.Connect("COM1"))

	start := time.Now()
	report := f.manager.GracefulShutdown(time.Second)
	assert.Less(t, time.Since(start), 1500*time.Millisecond)
	assert.True(t, report.Complete(), "%+v", report)
	assert.Equal(t, reader.StoppedGracefully, report.Reader)
	assert.False(t, f.manager.IsConnected())

	assert.ErrorIs(t, f.manager.Connect("COM1"), ErrShuttingDown)
	assert.ErrorIs(t, f.manager.Reconnect(), ErrShuttingDown)
}

func TestGracefulShutdownBoundedWithStuckWorker(t *testing.T) {
	f := newFixture(t, Options{})
	require.NoError(t, f.manager.Connect("COM1"))

	release := make(chan struct{})
	defer close(release)
	_, err := f.manager.workers.Start("stubborn", func(ctx context.Context) error {
		<-release
		return nil
	}, time.Second)
	require.NoError(t, err)

	start := time.Now()
	report := f.manager.GracefulShutdown(300 * time.Millisecond)
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, report.Complete())
	assert.False(t, report.Workers["stubborn"])
}

func TestGracefulShutdownBoundedWithSlowClose(t *testing.T) {
	f := newFixture(t, Options{})
	f.opener.Prepare = func(port string, tr *transport.MockTransport) {
		tr.Responder = deviceResponder
		tr.CloseDelay = 1500 * time.Millisecond
	}
	require.NoError(t, f.manager.Connect("COM1"))

	start := time.Now()
	report := f.manager.GracefulShutdown(300 * time.Millisecond)
	assert.Less(t, time.Since(start), 600*time.Millisecond)
	assert.True(t, report.Disconnected)
	assert.False(t, f.manager.IsConnected())
	assert.True(t, f.pool.CanCreate("COM1"))
}

func TestCloseReleasesEverything(t *testing.T) {
	f := newFixture(t, Options{ShutdownTimeout: time.Second})
	require.NoError(t, f.manager.Connect("COM1"))

	require.NoError(t, f.manager.Close())
	assert.True(t, f.pool.CanCreate("COM1"))
	assert.Equal(t, model.PhaseDisconnected, f.manager.State().Phase)
}

func TestResetStatistics(t *testing.T) {
	f := newFixture(t, Options{})
	require.NoError(t, f.manager.Connect("COM1"))
	_, err := f.manager.SendAndWaitText(context.Background(), "STATUS", time.Second)
	require.NoError(t, err)

	f.manager.ResetStatistics()
	stats := f.manager.Stats()
	assert.Zero(t, stats.CommandsSent)
	assert.Zero(t, stats.Protocol.CommandsSent)
	assert.True(t, stats.Reader.Running)
}

func TestSetFlavor(t *testing.T) {
	f := newFixture(t, Options{})
	require.NoError(t, f.manager.SetFlavor(model.FlavorATCommands))
	assert.Equal(t, model.FlavorATCommands, f.manager.Protocol().Flavor())
	assert.True(t, errors.Is(f.manager.SetFlavor("smoke"), protocol.ErrUnknownFlavor))
}

func TestConnectTwiceKeepsOneReader(t *testing.T) {
	f := newFixture(t, Options{})
	require.NoError(t, f.manager.Connect("COM1"))
	require.NoError(t, f.manager.Connect("COM1"))

	assert.Equal(t, 1, f.opener.Opens())
	assert.Len(t, f.events.ofType(model.EventConnectionChanged), 1)
	assert.True(t, f.manager.ReaderRunning())
}
