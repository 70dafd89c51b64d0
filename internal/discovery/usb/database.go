// internal/discovery/usb/database.go
package usb

import (
	"sync"

	"github.com/google/gousb"
)

// DeviceDatabase maps USB vendor and product IDs of common USB-to-serial
// bridges and boards onto readable names
type DeviceDatabase struct {
	vendors map[gousb.ID]*VendorInfo
	mu      sync.RWMutex
}

// VendorInfo contains vendor-specific information
type VendorInfo struct {
	Name     string
	products map[gousb.ID]*ProductInfo
}

// ProductInfo describes one known chip or board
type ProductInfo struct {
	Name   string
	Bridge string
}

// NewDeviceDatabase creates and initializes the device database
func NewDeviceDatabase() *DeviceDatabase {
	db := &DeviceDatabase{
		vendors: make(map[gousb.ID]*VendorInfo),
	}
	db.initializeDatabase()
	return db
}

func (db *DeviceDatabase) initializeDatabase() {
	db.vendors[0x0403] = &VendorInfo{
		Name: "FTDI",
		products: map[gousb.ID]*ProductInfo{
			0x6001: {Name: "FT232R USB UART", Bridge: "FT232R"},
			0x6010: {Name: "FT2232 Dual UART", Bridge: "FT2232"},
			0x6011: {Name: "FT4232 Quad UART", Bridge: "FT4232"},
			0x6014: {Name: "FT232H Single HS UART", Bridge: "FT232H"},
			0x6015: {Name: "FT230X Basic UART", Bridge: "FT-X"},
		},
	}

	db.vendors[0x067B] = &VendorInfo{
		Name: "Prolific Technology",
		products: map[gousb.ID]*ProductInfo{
			0x2303: {Name: "PL2303 Serial Port", Bridge: "PL2303"},
			0x23A3: {Name: "PL2303GC Serial Port", Bridge: "PL2303GC"},
		},
	}

	db.vendors[0x1A86] = &VendorInfo{
		Name: "QinHeng Electronics",
		products: map[gousb.ID]*ProductInfo{
			0x7523: {Name: "CH340 Serial Converter", Bridge: "CH340"},
			0x5523: {Name: "CH341 Serial Converter", Bridge: "CH341"},
			0x55D4: {Name: "CH9102 Serial Converter", Bridge: "CH9102"},
		},
	}

	db.vendors[0x10C4] = &VendorInfo{
		Name: "Silicon Labs",
		products: map[gousb.ID]*ProductInfo{
			0xEA60: {Name: "CP210x UART Bridge", Bridge: "CP210x"},
			0xEA70: {Name: "CP2105 Dual UART Bridge", Bridge: "CP2105"},
		},
	}

	db.vendors[0x2341] = &VendorInfo{
		Name: "Arduino",
		products: map[gousb.ID]*ProductInfo{
			0x0043: {Name: "Arduino Uno"},
			0x0042: {Name: "Arduino Mega 2560"},
			0x8036: {Name: "Arduino Leonardo"},
			0x0058: {Name: "Arduino Nano Every"},
		},
	}

	db.vendors[0x2E8A] = &VendorInfo{
		Name: "Raspberry Pi",
		products: map[gousb.ID]*ProductInfo{
			0x000A: {Name: "Raspberry Pi Pico"},
			0x0005: {Name: "Raspberry Pi Pico (MicroPython)"},
		},
	}

	db.vendors[0x0483] = &VendorInfo{
		Name: "STMicroelectronics",
		products: map[gousb.ID]*ProductInfo{
			0x5740: {Name: "STM32 Virtual COM Port"},
			0x374B: {Name: "ST-LINK/V2-1"},
		},
	}
}

// IsKnownVendor checks if vendor is in the database
func (db *DeviceDatabase) IsKnownVendor(vendorID gousb.ID) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	_, exists := db.vendors[vendorID]
	return exists
}

// GetVendorInfo returns vendor information
func (db *DeviceDatabase) GetVendorInfo(vendorID gousb.ID) *VendorInfo {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.vendors[vendorID]
}

// GetProductInfo returns product information
func (vi *VendorInfo) GetProductInfo(productID gousb.ID) *ProductInfo {
	return vi.products[productID]
}

// Lookup returns the vendor and product names for a VID/PID pair. Either
// may be empty.
func (db *DeviceDatabase) Lookup(vendorID, productID gousb.ID) (vendor, product string) {
	vi := db.GetVendorInfo(vendorID)
	if vi == nil {
		return "", ""
	}
	if pi := vi.GetProductInfo(productID); pi != nil {
		return vi.Name, pi.Name
	}
	return vi.Name, ""
}

// GetTotalProductCount returns total number of known products
func (db *DeviceDatabase) GetTotalProductCount() int {
	db.mu.RLock()
	defer db.mu.RUnlock()

	count := 0
	for _, vendor := range db.vendors {
		count += len(vendor.products)
	}
	return count
}

// AddVendor adds a new vendor to the database
func (db *DeviceDatabase) AddVendor(vendorID gousb.ID, name string) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, exists := db.vendors[vendorID]; exists {
		return
	}
	db.vendors[vendorID] = &VendorInfo{
		Name:     name,
		products: make(map[gousb.ID]*ProductInfo),
	}
}

// AddProduct adds a new product to an existing vendor
func (db *DeviceDatabase) AddProduct(vendorID, productID gousb.ID, info *ProductInfo) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if vendor, exists := db.vendors[vendorID]; exists {
		vendor.products[productID] = info
	}
}
