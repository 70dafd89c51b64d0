package usb

import (
	"testing"

	"github.com/google/gousb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serial-service/internal/model"
)

func TestDescribeKnownBridge(t *testing.T) {
	d := NewDescriber(nil, false)

	info := model.PortInfo{Port: "/dev/ttyUSB0", VID: "0403", PID: "6001", IsUSB: true, Description: "n/a"}
	d.Describe(&info)

	assert.Equal(t, "FTDI", info.Manufacturer)
	assert.Equal(t, "FT232R USB UART", info.Product)
	assert.Equal(t, "FT232R USB UART (FTDI)", info.Description)
}

func TestDescribeKeepsOSStrings(t *testing.T) {
	d := NewDescriber(nil, false)

	info := model.PortInfo{VID: "1a86", PID: "7523", IsUSB: true, Product: "USB2.0-Serial", Description: "USB2.0-Serial"}
	d.Describe(&info)

	assert.Equal(t, "QinHeng Electronics", info.Manufacturer)
	assert.Equal(t, "USB2.0-Serial", info.Product)
	assert.Equal(t, "USB2.0-Serial", info.Description)
}

func TestDescribeUnknownAndNonUSB(t *testing.T) {
	d := NewDescriber(nil, false)

	info := model.PortInfo{VID: "dead", PID: "beef", IsUSB: true}
	d.Describe(&info)
	assert.Equal(t, "USB serial dead:beef", info.Description)

	plain := model.PortInfo{Port: "/dev/ttyS0", Description: "n/a"}
	d.Describe(&plain)
	assert.Equal(t, "n/a", plain.Description)

	bad := model.PortInfo{VID: "zz", PID: "01", IsUSB: true}
	d.Describe(&bad)
	assert.Empty(t, bad.Description)
}

func TestDatabaseExtension(t *testing.T) {
	db := NewDeviceDatabase()
	before := db.GetTotalProductCount()

	db.AddVendor(0x1234, "Lab Instruments")
	db.AddProduct(0x1234, 0x0001, &ProductInfo{Name: "Thermal Chamber"})
	db.AddProduct(0x9999, 0x0001, &ProductInfo{Name: "ignored"})

	assert.True(t, db.IsKnownVendor(0x1234))
	assert.Equal(t, before+1, db.GetTotalProductCount())

	vendor, product := db.Lookup(0x1234, 0x0001)
	assert.Equal(t, "Lab Instruments", vendor)
	assert.Equal(t, "Thermal Chamber", product)

	vendor, product = db.Lookup(0x1234, 0x0002)
	assert.Equal(t, "Lab Instruments", vendor)
	assert.Empty(t, product)
}

func TestParseID(t *testing.T) {
	id, err := parseID("0x2341")
	require.NoError(t, err)
	assert.Equal(t, gousb.ID(0x2341), id)

	_, err = parseID("12345")
	assert.Error(t, err)
}
