package ble

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"tinygo.org/x/bluetooth"
)

// BluetoothOptions selects the characteristics exposed by BluetoothAdapter.
// tinygo/bluetooth does not report characteristic properties on every
// platform, so capabilities are assigned from the configured UUIDs.
type BluetoothOptions struct {
	WriteCharUUID  string
	NotifyCharUUID string
	// WriteWithoutResponse marks the write characteristic as unacknowledged
	// only, for firmware that does not implement write requests.
	WriteWithoutResponse bool
}

// BluetoothAdapter wraps tinygo-org/bluetooth (BlueZ on Linux,
// CoreBluetooth on macOS, WinRT on Windows). On macOS device addresses are
// CoreBluetooth UUIDs rather than MAC addresses. The BlueZ backend has no
// write requests, so Linux always writes without response.
type BluetoothAdapter struct {
	adapter *bluetooth.Adapter
	opts    BluetoothOptions

	// mu protects the maps below.
	mu          sync.Mutex
	seen        map[string]bluetooth.Address
	connections map[string]*bluetoothConnection
	handlerSet  bool
}

// NewBluetoothAdapter creates a BLE adapter backed by the default radio.
func NewBluetoothAdapter(opts BluetoothOptions) *BluetoothAdapter {
	if opts.WriteCharUUID == "" {
		opts.WriteCharUUID = WriteCharUUID
	}
	if opts.NotifyCharUUID == "" {
		opts.NotifyCharUUID = NotifyCharUUID
	}
	return &BluetoothAdapter{
		adapter:     bluetooth.DefaultAdapter,
		opts:        opts,
		seen:        make(map[string]bluetooth.Address),
		connections: make(map[string]*bluetoothConnection),
	}
}

func (a *BluetoothAdapter) Enable() error {
	if err := a.adapter.Enable(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.handlerSet {
		return nil
	}
	a.handlerSet = true

	// The adapter-level handler is the only disconnect signal tinygo gives us.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		id := device.Address.String()
		a.mu.Lock()
		conn, ok := a.connections[id]
		delete(a.connections, id)
		a.mu.Unlock()
		if ok {
			conn.fireDisconnect()
		}
	})
	return nil
}

func (a *BluetoothAdapter) Scan(ctx context.Context, serviceUUID string, onResult func(Device)) error {
	uuid, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return fmt.Errorf("ble: parse service UUID: %w", err)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = a.adapter.StopScan()
		case <-done:
		}
	}()

	err = a.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		addr := result.Address.String()
		a.mu.Lock()
		a.seen[addr] = result.Address
		a.mu.Unlock()
		onResult(Device{
			Name:              result.LocalName(),
			Address:           addr,
			RSSI:              int(result.RSSI),
			AdvertisesService: result.HasServiceUUID(uuid),
		})
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("ble: scan: %w", err)
	}
	return nil
}

func (a *BluetoothAdapter) StopScan() error {
	return a.adapter.StopScan()
}

func (a *BluetoothAdapter) Connect(ctx context.Context, device Device) (Connection, error) {
	a.mu.Lock()
	addr, ok := a.seen[device.Address]
	a.mu.Unlock()
	if !ok {
		// Not seen in this process; parse the configured address instead.
		addr.Set(device.Address)
	}

	// tinygo/bluetooth's Connect blocks internally with its own timeout.
	// We wrap it to also respect our ctx cancellation.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		d, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{d, err}
	}()

	select {
	case <-ctx.Done():
		// A late success must not leave the link open.
		go func() {
			if r := <-ch; r.err == nil {
				_ = r.device.Disconnect()
			}
		}()
		return nil, fmt.Errorf("ble: connect to %s: %w", device.Address, ctx.Err())
	case result := <-ch:
		if result.err != nil {
			return nil, fmt.Errorf("ble: connect to %s: %w", device.Address, result.err)
		}
		conn := &bluetoothConnection{device: result.device, opts: a.opts}

		a.mu.Lock()
		a.connections[device.Address] = conn
		a.mu.Unlock()
		return conn, nil
	}
}

// Compile-time check that BluetoothAdapter implements Adapter.
var _ Adapter = (*BluetoothAdapter)(nil)

type bluetoothConnection struct {
	device bluetooth.Device
	opts   BluetoothOptions

	mu           sync.Mutex
	disconnectCb func()
}

// RequestMTU records the requested size. BlueZ, CoreBluetooth and WinRT
// negotiate the ATT MTU themselves when the link comes up, so the
// effective value is read back from the characteristics after discovery.
func (c *bluetoothConnection) RequestMTU(size int) (int, error) {
	slog.Debug("[BLE] MTU negotiated by platform stack", "requested", size)
	return size, nil
}

func (c *bluetoothConnection) DiscoverCharacteristics(serviceUUID string) ([]Characteristic, error) {
	svcUUID, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, err
	}

	svcs, err := c.device.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil {
		return nil, fmt.Errorf("ble: discover services: %w", err)
	}
	if len(svcs) == 0 {
		return nil, fmt.Errorf("ble: service %s not found", serviceUUID)
	}

	chars, err := svcs[0].DiscoverCharacteristics(nil)
	if err != nil {
		return nil, fmt.Errorf("ble: discover characteristics: %w", err)
	}

	out := make([]Characteristic, 0, len(chars))
	for i := range chars {
		ch := &bluetoothCharacteristic{char: chars[i], uuid: chars[i].UUID().String()}
		switch {
		case sameUUID(ch.uuid, c.opts.WriteCharUUID):
			ch.props = writeCharProperties(c.opts.WriteWithoutResponse)
			if mtu, err := chars[i].GetMTU(); err == nil {
				slog.Debug("[BLE] write characteristic MTU", "mtu", mtu)
			}
		case sameUUID(ch.uuid, c.opts.NotifyCharUUID):
			ch.props = PropertyNotify
		}
		out = append(out, ch)
	}
	return out, nil
}

func (c *bluetoothConnection) Disconnect() error {
	return c.device.Disconnect()
}

func (c *bluetoothConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

func (c *bluetoothConnection) fireDisconnect() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

type bluetoothCharacteristic struct {
	char  bluetooth.DeviceCharacteristic
	uuid  string
	props Property
}

func (c *bluetoothCharacteristic) UUID() string         { return c.uuid }
func (c *bluetoothCharacteristic) Properties() Property { return c.props }

func (c *bluetoothCharacteristic) Write(data []byte, withResponse bool) error {
	var err error
	if withResponse {
		_, err = writeWithResponse(c.char, data)
	} else {
		_, err = c.char.WriteWithoutResponse(data)
	}
	return err
}

// writeCharProperties reports what the write characteristic offers on this
// platform.
func writeCharProperties(withoutResponseOnly bool) Property {
	p := PropertyWriteWithoutResponse
	if ackWriteSupported && !withoutResponseOnly {
		p |= PropertyWrite
	}
	return p
}

func (c *bluetoothCharacteristic) Subscribe(cb func([]byte)) error {
	return c.char.EnableNotifications(func(buf []byte) {
		cb(buf)
	})
}
