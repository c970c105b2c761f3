package ble

import "testing"

func TestWriteCharProperties(t *testing.T) {
	tests := []struct {
		name                string
		withoutResponseOnly bool
		wantAck             bool
	}{
		{"default", false, ackWriteSupported},
		{"without response only", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := writeCharProperties(tt.withoutResponseOnly)
			if !p.CanWrite() {
				t.Fatal("write characteristic must be writable")
			}
			if p&PropertyWriteWithoutResponse == 0 {
				t.Error("write without response is always available")
			}
			if got := p&PropertyWrite != 0; got != tt.wantAck {
				t.Errorf("acknowledged write = %v, want %v", got, tt.wantAck)
			}
		})
	}
}
