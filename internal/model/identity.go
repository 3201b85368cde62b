package model

import (
	"encoding/hex"
	"net"
	"strings"

	"github.com/google/uuid"
)

// DeviceID namespaces every topic of the device. It is derived once at startup.
type DeviceID string

// NewDeviceID returns override when set, otherwise the hex hardware address of
// the first non-loopback interface, otherwise a random identifier.
func NewDeviceID(override string) DeviceID {
	if v := strings.TrimSpace(override); v != "" {
		return DeviceID(v)
	}
	if mac := firstHardwareAddr(); mac != "" {
		return DeviceID(mac)
	}
	return DeviceID(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}

func firstHardwareAddr() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, ifc := range ifaces {
		if ifc.Flags&net.FlagLoopback != 0 || len(ifc.HardwareAddr) == 0 {
			continue
		}
		return hex.EncodeToString(ifc.HardwareAddr)
	}
	return ""
}
