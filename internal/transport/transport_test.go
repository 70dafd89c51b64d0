package transport

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/google/gousb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"serial-service/internal/model"
)

func TestSplitScheme(t *testing.T) {
	tests := []struct {
		in        string
		scheme    string
		address   string
		hasScheme bool
	}{
		{"/dev/ttyUSB0", "", "/dev/ttyUSB0", false},
		{"COM3", "", "COM3", false},
		{"tcp://10.0.0.5:4001", "tcp", "10.0.0.5:4001", true},
		{"TCP://bridge:23", "tcp", "bridge:23", true},
		{"://oops", "", "://oops", false},
	}
	for _, tt := range tests {
		scheme, address, has := SplitScheme(tt.in)
		assert.Equal(t, tt.scheme, scheme, tt.in)
		assert.Equal(t, tt.address, address, tt.in)
		assert.Equal(t, tt.hasScheme, has, tt.in)
	}
}

func TestSerialMode(t *testing.T) {
	mode, err := serialMode(model.Settings{BaudRate: 115200, DataBits: 7, Parity: "E", StopBits: 2})
	require.NoError(t, err)
	assert.Equal(t, 115200, mode.BaudRate)
	assert.Equal(t, 7, mode.DataBits)
	assert.Equal(t, serial.EvenParity, mode.Parity)
	assert.Equal(t, serial.TwoStopBits, mode.StopBits)

	mode, err = serialMode(model.DefaultSettings())
	require.NoError(t, err)
	assert.Equal(t, serial.NoParity, mode.Parity)
	assert.Equal(t, serial.OneStopBit, mode.StopBits)

	_, err = serialMode(model.Settings{BaudRate: 9600, DataBits: 8, StopBits: 3})
	assert.Error(t, err)
	_, err = serialMode(model.Settings{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "weird"})
	assert.Error(t, err)
}

func TestRegistryDispatch(t *testing.T) {
	r := NewRegistry(nil, time.Second)
	mock := NewMockOpener()
	r.SetDefault(mock)
	r.Register("mock", mock)

	tr, err := r.Open("/dev/ttyFAKE", model.DefaultSettings())
	require.NoError(t, err)
	assert.True(t, tr.IsOpen())

	_, err = r.Open("mock://anything", model.DefaultSettings())
	require.NoError(t, err)
	assert.Equal(t, 2, mock.Opens())

	_, err = r.Open("ftp://host", model.DefaultSettings())
	assert.ErrorIs(t, err, ErrUnsupportedScheme)
	assert.Equal(t, []string{"mock", "tcp", "usb"}, r.Schemes())
}

func TestTCPTransportRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 64)
		n, _ := conn.Read(buf)
		conn.Write(append([]byte("echo:"), buf[:n]...))
		time.Sleep(200 * time.Millisecond)
	}()

	opener := NewTCPOpener(nil, time.Second)
	tr, err := opener.Open("tcp://"+ln.Addr().String(), model.DefaultSettings().Apply(model.WithReadTimeout(50*time.Millisecond)))
	require.NoError(t, err)
	defer tr.Close()

	n, err := tr.Write([]byte("PING\n"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	buf := make([]byte, 64)
	var got []byte
	deadline := time.Now().Add(time.Second)
	for len(got) < len("echo:PING\n") && time.Now().Before(deadline) {
		n, err := tr.Read(buf)
		require.NoError(t, err)
		got = append(got, buf[:n]...)
	}
	assert.Equal(t, "echo:PING\n", string(got))

	// a quiet line times out as an empty read
	n, err = tr.Read(buf)
	assert.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, tr.Close())
	assert.False(t, tr.IsOpen())
	_, err = tr.Read(buf)
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, tr.Close())
}

func TestTCPOpenFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = NewTCPOpener(nil, 200*time.Millisecond).Open("tcp://"+addr, model.DefaultSettings())
	assert.Error(t, err)
}

func TestPortInfoFromDetails(t *testing.T) {
	info := portInfoFromDetails(&enumerator.PortDetails{
		Name:         "/dev/ttyUSB0",
		IsUSB:        true,
		VID:          "0403",
		PID:          "6001",
		SerialNumber: "A50285BI",
		Product:      "FT232R USB UART",
	})
	assert.Equal(t, "/dev/ttyUSB0", info.Port)
	assert.Equal(t, "FT232R USB UART", info.Description)
	assert.Equal(t, "USB VID:PID=0403:6001 SER=A50285BI", info.HWID)

	info = portInfoFromDetails(&enumerator.PortDetails{Name: "/dev/ttyS0"})
	assert.Equal(t, "n/a", info.Description)
	assert.Empty(t, info.HWID)
}

func TestLookupPortForNetworkBridge(t *testing.T) {
	info := LookupPort("tcp://bridge:4001", nil)
	assert.Equal(t, "tcp://bridge:4001", info.Port)
	assert.Equal(t, "network bridge", info.Description)
}

func TestMockTransportFaults(t *testing.T) {
	m := NewMockTransport()
	m.WriteLimit = 3

	n, err := m.Write([]byte("HELLO"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "HEL", string(m.Written()))

	m.WriteError = errors.New("unplugged")
	_, err = m.Write([]byte("x"))
	assert.EqualError(t, err, "unplugged")

	require.NoError(t, m.SetReadTimeout(5*time.Millisecond))
	buf := make([]byte, 8)
	n, err = m.Read(buf)
	assert.NoError(t, err)
	assert.Zero(t, n)

	m.FeedString("abc")
	n, err = m.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(buf[:n]))

	require.NoError(t, m.Close())
	assert.False(t, m.IsOpen())
	_, err = m.Read(buf)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMockTransportBlockingReadUnblocksOnClose(t *testing.T) {
	m := NewMockTransport()
	m.BlockReads = true

	errCh := make(chan error, 1)
	go func() {
		_, err := m.Read(make([]byte, 4))
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	m.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("blocked read was not released")
	}
}

func TestMockTransportResponder(t *testing.T) {
	m := NewMockTransport()
	m.Responder = func(w []byte) []byte { return []byte("OK\n") }

	_, err := m.Write([]byte("AT\r\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, m.Pending())
}

func TestParseUSBAddress(t *testing.T) {
	addr, err := ParseUSBAddress("usb://2341:0043")
	require.NoError(t, err)
	assert.Equal(t, gousb.ID(0x2341), addr.Vendor)
	assert.Equal(t, gousb.ID(0x0043), addr.Product)
	assert.Equal(t, 1, addr.Endpoint)

	addr, err = ParseUSBAddress("usb://0x0403:0x6001/2")
	require.NoError(t, err)
	assert.Equal(t, 2, addr.Endpoint)

	for _, bad := range []string{"usb://2341", "usb://xyz:0043", "usb://2341:0043/99", "usb://2341:0043/a"} {
		_, err := ParseUSBAddress(bad)
		assert.Error(t, err, bad)
	}
}
