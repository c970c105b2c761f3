// Package ble provides the BLE central for the remote control peripheral.
// It owns the connection lifecycle (scan, connect, MTU, discovery,
// subscription), tracks nonce freshness, and writes authenticated command
// frames.
package ble

import (
	"context"
	"strings"
)

// Default GATT identifiers of the remote control peripheral.
const (
	ServiceUUID    = "4fafc201-1fb5-459e-8fcc-c5c9c331914b"
	WriteCharUUID  = "beb5483e-36e1-4688-b7f5-ea07361b26a8"
	NotifyCharUUID = "beb5483f-36e1-4688-b7f5-ea07361b26a8"

	DefaultMTU = 247
)

// Property is a bitmask of GATT characteristic capabilities.
type Property uint8

const (
	PropertyWrite Property = 1 << iota
	PropertyWriteWithoutResponse
	PropertyNotify
)

// CanWrite reports whether the characteristic accepts any kind of write.
func (p Property) CanWrite() bool {
	return p&(PropertyWrite|PropertyWriteWithoutResponse) != 0
}

// CanNotify reports whether the characteristic supports notifications.
func (p Property) CanNotify() bool {
	return p&PropertyNotify != 0
}

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	UUID() string
	Properties() Property
	// Write sends data. withResponse selects an acknowledged write.
	Write(data []byte, withResponse bool) error
	// Subscribe enables notifications and registers the callback.
	Subscribe(callback func(data []byte)) error
}

// Device represents a discovered BLE peripheral.
type Device struct {
	Name    string
	Address string
	RSSI    int
	// AdvertisesService is true when the advertisement carried the
	// service UUID the scan was filtered on.
	AdvertisesService bool
}

// ScanFilter selects a peripheral by name or advertised service.
type ScanFilter struct {
	Name        string
	ServiceUUID string
}

// Matches reports whether d satisfies the filter. Name and service are
// alternatives; either one is enough.
func (f ScanFilter) Matches(d Device) bool {
	if f.Name != "" && d.Name == f.Name {
		return true
	}
	return d.AdvertisesService
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// RequestMTU asks for the given ATT MTU and returns the negotiated value.
	RequestMTU(size int) (int, error)
	// DiscoverCharacteristics lists the characteristics of a service.
	DiscoverCharacteristics(serviceUUID string) ([]Characteristic, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the peer drops the link.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter. An error means the radio is unusable.
	Enable() error
	// Scan reports advertisements to onResult until ctx is cancelled or
	// StopScan is called. The serviceUUID is used to fill
	// Device.AdvertisesService.
	Scan(ctx context.Context, serviceUUID string, onResult func(Device)) error
	// StopScan ends a running scan.
	StopScan() error
	// Connect establishes a connection to the device.
	Connect(ctx context.Context, device Device) (Connection, error)
}

func sameUUID(a, b string) bool {
	return strings.EqualFold(a, b)
}
