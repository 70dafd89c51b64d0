// internal/discovery/usb/describer.go
package usb

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/gousb"
	"go.uber.org/zap"

	"serial-service/internal/model"
)

// Describer enriches USB serial ports with vendor and product names. Names
// come from the built-in database first; when live lookup is enabled the
// device's own string descriptors are read through libusb.
type Describer struct {
	db     *DeviceDatabase
	live   bool
	logger *zap.Logger
}

// NewDescriber creates a describer. live enables libusb descriptor reads.
func NewDescriber(logger *zap.Logger, live bool) *Describer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Describer{
		db:     NewDeviceDatabase(),
		live:   live,
		logger: logger.With(zap.String("component", "usb_describer")),
	}
}

// Database exposes the vendor database so callers can register extra devices
func (d *Describer) Database() *DeviceDatabase {
	return d.db
}

// Describe fills Manufacturer, Product and Description where they are empty
func (d *Describer) Describe(info *model.PortInfo) {
	if info == nil || !info.IsUSB {
		return
	}

	vid, err := parseID(info.VID)
	if err != nil {
		return
	}
	pid, err := parseID(info.PID)
	if err != nil {
		return
	}

	vendor, product := d.db.Lookup(vid, pid)
	if info.Manufacturer == "" {
		info.Manufacturer = vendor
	}
	if info.Product == "" {
		info.Product = product
	}

	if d.live && (info.Manufacturer == "" || info.Product == "") {
		d.describeLive(info, vid, pid)
	}

	if info.Description == "" || info.Description == "n/a" {
		info.Description = describe(info)
	}
}

func (d *Describer) describeLive(info *model.PortInfo, vid, pid gousb.ID) {
	usbCtx := gousb.NewContext()
	defer func() {
		if err := usbCtx.Close(); err != nil {
			d.logger.Warn("Failed to close USB context", zap.Error(err))
		}
	}()

	device, err := usbCtx.OpenDeviceWithVIDPID(vid, pid)
	if err != nil || device == nil {
		d.logger.Debug("USB device not accessible",
			zap.String("vendor_id", fmt.Sprintf("0x%04X", uint16(vid))),
			zap.String("product_id", fmt.Sprintf("0x%04X", uint16(pid))),
			zap.Error(err),
		)
		return
	}
	defer device.Close()

	if info.Manufacturer == "" {
		if s, err := device.Manufacturer(); err == nil {
			info.Manufacturer = strings.TrimSpace(s)
		}
	}
	if info.Product == "" {
		if s, err := device.Product(); err == nil {
			info.Product = strings.TrimSpace(s)
		}
	}
	if info.SerialNumber == "" {
		if s, err := device.SerialNumber(); err == nil {
			info.SerialNumber = strings.TrimSpace(s)
		}
	}
}

func describe(info *model.PortInfo) string {
	switch {
	case info.Product != "" && info.Manufacturer != "":
		return fmt.Sprintf("%s (%s)", info.Product, info.Manufacturer)
	case info.Product != "":
		return info.Product
	case info.Manufacturer != "":
		return fmt.Sprintf("%s device %s:%s", info.Manufacturer, info.VID, info.PID)
	default:
		return fmt.Sprintf("USB serial %s:%s", info.VID, info.PID)
	}
}

func parseID(s string) (gousb.ID, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid USB id %q: %w", s, err)
	}
	return gousb.ID(v), nil
}
