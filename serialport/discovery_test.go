package serialport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectCandidate(t *testing.T) {
	tests := []struct {
		name   string
		ports  []PortInfo
		want   string
		wantOK bool
	}{
		{name: "empty", ports: nil, wantOK: false},
		{
			name:   "no match falls back to first",
			ports:  []PortInfo{{Path: "/dev/ttyS0"}, {Path: "/dev/ttyS1"}},
			want:   "/dev/ttyS0",
			wantOK: true,
		},
		{
			name: "manufacturer match is case insensitive",
			ports: []PortInfo{
				{Path: "COM1", Manufacturer: "Communications Port"},
				{Path: "COM3", Manufacturer: "USB-SERIAL CH340"},
			},
			want:   "COM3",
			wantOK: true,
		},
		{
			name: "arduino vendor id",
			ports: []PortInfo{
				{Path: "/dev/ttyS0"},
				{Path: "/dev/ttyACM0", VendorID: "2341"},
			},
			want:   "/dev/ttyACM0",
			wantOK: true,
		},
		{
			name: "ch340 vendor id in upper case",
			ports: []PortInfo{
				{Path: "/dev/ttyS0"},
				{Path: "/dev/ttyUSB0", VendorID: "1A86"},
			},
			want:   "/dev/ttyUSB0",
			wantOK: true,
		},
		{
			name: "first match in enumeration order wins",
			ports: []PortInfo{
				{Path: "/dev/ttyUSB1", Manufacturer: "FTDI FT232R"},
				{Path: "/dev/ttyACM0", Manufacturer: "Arduino Uno"},
			},
			want:   "/dev/ttyUSB1",
			wantOK: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DetectCandidate(tt.ports)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got.Path)
		})
	}
}
