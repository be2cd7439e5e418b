package serialport

import (
	"strings"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// PortInfo describes one enumerated serial device.
type PortInfo struct {
	Path         string `json:"path"`
	Manufacturer string `json:"manufacturer,omitempty"`
	VendorID     string `json:"vendor_id,omitempty"`
	ProductID    string `json:"product_id,omitempty"`
	IsUSB        bool   `json:"is_usb"`
}

// Manufacturer substrings and USB vendor ids of boards commonly used as readers.
var (
	readerManufacturers = []string{"arduino", "ch340", "ch341", "ftdi"}
	readerVendorIDs     = []string{"2341", "1a86"} // Arduino, WCH CH340/CH341
)

// ListPorts enumerates serial devices. When detailed enumeration yields
// nothing, the plain port name list is used instead.
func ListPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}

	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		ports = append(ports, PortInfo{
			Path:         d.Name,
			Manufacturer: d.Product,
			VendorID:     d.VID,
			ProductID:    d.PID,
			IsUSB:        d.IsUSB,
		})
	}
	if len(ports) > 0 {
		return ports, nil
	}

	names, err := serial.GetPortsList()
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		ports = append(ports, PortInfo{Path: name})
	}
	return ports, nil
}

// DetectCandidate picks the port most likely to be the RFID reader: the first
// port whose manufacturer or vendor id matches a known reader board, else the
// first port. ok is false when ports is empty.
func DetectCandidate(ports []PortInfo) (PortInfo, bool) {
	for _, p := range ports {
		if isReaderBoard(p) {
			return p, true
		}
	}
	if len(ports) == 0 {
		return PortInfo{}, false
	}
	return ports[0], true
}

func isReaderBoard(p PortInfo) bool {
	m := strings.ToLower(p.Manufacturer)
	for _, want := range readerManufacturers {
		if strings.Contains(m, want) {
			return true
		}
	}
	for _, vid := range readerVendorIDs {
		if strings.EqualFold(p.VendorID, vid) {
			return true
		}
	}
	return false
}
