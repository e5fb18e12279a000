package license

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrInsufficientHardware is returned when fewer than two hardware
// attributes are present.
var ErrInsufficientHardware = errors.New("at least two hardware attributes are required")

// HardwareInfo is the set of attributes a client reports about its machine.
type HardwareInfo struct {
	CPUID       string `json:"cpu_id,omitempty"`
	Motherboard string `json:"motherboard,omitempty"`
	DiskSerial  string `json:"disk_serial,omitempty"`
	MACAddress  string `json:"mac_address,omitempty"`
	MachineID   string `json:"machine_id,omitempty"`
	BIOSSerial  string `json:"bios_serial,omitempty"`
}

func (h HardwareInfo) attributes() [][2]string {
	return [][2]string{
		{"cpu", h.CPUID},
		{"board", h.Motherboard},
		{"disk", h.DiskSerial},
		{"mac", h.MACAddress},
		{"machine", h.MachineID},
		{"bios", h.BIOSSerial},
	}
}

// Fingerprint derives a stable hex digest from the present attributes.
// Formatting differences such as case, spaces, dashes and colons do not
// change the result.
func (h HardwareInfo) Fingerprint() (string, error) {
	var parts []string
	for _, attr := range h.attributes() {
		v := normalizeAttribute(attr[1])
		if v == "" {
			continue
		}
		parts = append(parts, attr[0]+"="+v)
	}
	if len(parts) < 2 {
		return "", ErrInsufficientHardware
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\n")))
	return hex.EncodeToString(sum[:]), nil
}

// Metadata flattens the attributes for the device table.
func (h HardwareInfo) Metadata() map[string]string {
	out := make(map[string]string)
	for _, attr := range h.attributes() {
		if attr[1] != "" {
			out[attr[0]] = attr[1]
		}
	}
	return out
}

func normalizeAttribute(v string) string {
	v = strings.ToUpper(strings.TrimSpace(v))
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', ':', '.', '_':
			return -1
		}
		return r
	}, v)
}

// HashHardwareID hashes a bound hardware id for the device table.
// Comparison is case-insensitive, so the id is upper-cased first.
func HashHardwareID(hardwareID string) string {
	sum := sha256.Sum256([]byte(strings.ToUpper(strings.TrimSpace(hardwareID))))
	return hex.EncodeToString(sum[:])
}
