// internal/transport/usb.go
package transport

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/gousb"
	"go.uber.org/zap"

	"serial-service/internal/model"
)

// USBOpener opens raw bulk endpoints on devices addressed as
// usb://VID:PID or usb://VID:PID/endpoint. It serves vendor-class boards
// that expose no CDC serial node.
type USBOpener struct {
	logger *zap.Logger
}

// NewUSBOpener creates a USB bulk opener
func NewUSBOpener(logger *zap.Logger) *USBOpener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &USBOpener{logger: logger.With(zap.String("protocol", "usb"))}
}

// USBAddress is a parsed usb:// port address
type USBAddress struct {
	Vendor   gousb.ID
	Product  gousb.ID
	Endpoint int
}

// ParseUSBAddress parses "VID:PID[/endpoint]" with hex IDs. The endpoint
// defaults to 1.
func ParseUSBAddress(port string) (USBAddress, error) {
	_, address, _ := SplitScheme(port)
	addr := USBAddress{Endpoint: 1}

	ids := address
	if slash := strings.IndexByte(address, '/'); slash >= 0 {
		ids = address[:slash]
		ep, err := strconv.Atoi(address[slash+1:])
		if err != nil || ep <= 0 || ep > 15 {
			return addr, fmt.Errorf("invalid USB endpoint in %q", port)
		}
		addr.Endpoint = ep
	}

	vid, pid, ok := strings.Cut(ids, ":")
	if !ok {
		return addr, fmt.Errorf("invalid USB address %q: expected VID:PID", port)
	}
	v, err := parseHexID(vid)
	if err != nil {
		return addr, fmt.Errorf("invalid vendor ID: %w", err)
	}
	p, err := parseHexID(pid)
	if err != nil {
		return addr, fmt.Errorf("invalid product ID: %w", err)
	}
	addr.Vendor, addr.Product = v, p
	return addr, nil
}

func parseHexID(s string) (gousb.ID, error) {
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	id, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, err
	}
	return gousb.ID(id), nil
}

// Open claims the default interface and its bulk endpoints
func (o *USBOpener) Open(port string, settings model.Settings) (Transport, error) {
	addr, err := ParseUSBAddress(port)
	if err != nil {
		return nil, err
	}

	o.logger.Info("Opening USB connection",
		zap.String("vendor_id", fmt.Sprintf("0x%04X", uint16(addr.Vendor))),
		zap.String("product_id", fmt.Sprintf("0x%04X", uint16(addr.Product))),
		zap.Int("endpoint", addr.Endpoint),
	)

	usbCtx := gousb.NewContext()

	device, err := usbCtx.OpenDeviceWithVIDPID(addr.Vendor, addr.Product)
	if err != nil {
		usbCtx.Close()
		return nil, fmt.Errorf("failed to open USB device: %w", err)
	}
	if device == nil {
		usbCtx.Close()
		return nil, fmt.Errorf("USB device not found (VID: %04X, PID: %04X)", uint16(addr.Vendor), uint16(addr.Product))
	}
	device.SetAutoDetach(true)

	intf, done, err := device.DefaultInterface()
	if err != nil {
		device.Close()
		usbCtx.Close()
		return nil, fmt.Errorf("failed to claim interface: %w", err)
	}

	outEndpt, err := intf.OutEndpoint(addr.Endpoint)
	if err != nil {
		done()
		device.Close()
		usbCtx.Close()
		return nil, fmt.Errorf("failed to get out endpoint: %w", err)
	}

	inEndpt, err := intf.InEndpoint(addr.Endpoint)
	if err != nil {
		o.logger.Warn("No in endpoint found", zap.Error(err))
	}

	o.logger.Info("USB connection opened successfully")
	return &usbTransport{
		ctx:          usbCtx,
		device:       device,
		release:      done,
		out:          outEndpt,
		in:           inEndpt,
		open:         true,
		readTimeout:  settings.ReadTimeout,
		writeTimeout: settings.WriteTimeout,
	}, nil
}

type usbTransport struct {
	ctx     *gousb.Context
	device  *gousb.Device
	release func()
	out     *gousb.OutEndpoint
	in      *gousb.InEndpoint

	mu           sync.RWMutex
	open         bool
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func (t *usbTransport) Read(p []byte) (int, error) {
	t.mu.RLock()
	open, in, timeout := t.open, t.in, t.readTimeout
	t.mu.RUnlock()
	if !open {
		return 0, ErrClosed
	}
	if in == nil {
		return 0, errors.New("USB device has no in endpoint")
	}

	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	n, err := in.ReadContext(ctx, p)
	if err != nil && ctx.Err() != nil {
		return n, nil
	}
	if err != nil {
		return n, fmt.Errorf("failed to read from USB device: %w", err)
	}
	return n, nil
}

func (t *usbTransport) Write(p []byte) (int, error) {
	t.mu.RLock()
	open, out, timeout := t.open, t.out, t.writeTimeout
	t.mu.RUnlock()
	if !open {
		return 0, ErrClosed
	}

	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	n, err := out.WriteContext(ctx, p)
	if err != nil {
		return n, fmt.Errorf("failed to write to USB device: %w", err)
	}
	return n, nil
}

func (t *usbTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.open {
		return nil
	}
	t.open = false

	if t.release != nil {
		t.release()
	}
	var errs []error
	if err := t.device.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := t.ctx.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to close USB device: %w", err)
	}
	return nil
}

func (t *usbTransport) SetReadTimeout(d time.Duration) error {
	t.mu.Lock()
	t.readTimeout = d
	t.mu.Unlock()
	return nil
}

// The bulk pipe has no host-side buffers to reset.
func (t *usbTransport) ResetInputBuffer() error  { return nil }
func (t *usbTransport) ResetOutputBuffer() error { return nil }

func (t *usbTransport) IsOpen() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.open
}
