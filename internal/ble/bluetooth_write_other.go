//go:build !darwin && !windows

package ble

import "tinygo.org/x/bluetooth"

// tinygo/bluetooth only exposes write requests on CoreBluetooth and WinRT.
const ackWriteSupported = false

func writeWithResponse(c bluetooth.DeviceCharacteristic, data []byte) (int, error) {
	return c.WriteWithoutResponse(data)
}
