//go:build darwin || windows

package ble

import "tinygo.org/x/bluetooth"

const ackWriteSupported = true

func writeWithResponse(c bluetooth.DeviceCharacteristic, data []byte) (int, error) {
	return c.Write(data)
}
