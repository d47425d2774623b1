package infra

import (
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/google/uuid"
)

// ComputerID identifies this terminal to the authority: the configured id
// when set, otherwise "<hostname>_<mac as integer>", otherwise a random
// "UNKNOWN_xxxxxxxx".
func ComputerID(configured string) string {
	if id := strings.TrimSpace(configured); id != "" {
		return id
	}

	hostname, err := os.Hostname()
	if err == nil && hostname != "" {
		if mac, ok := primaryMAC(); ok {
			return fmt.Sprintf("%s_%d", hostname, mac)
		}
	}
	return "UNKNOWN_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// primaryMAC returns the first non-loopback hardware address as an integer.
func primaryMAC() (uint64, bool) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return 0, false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) != 6 {
			continue
		}
		var mac uint64
		for _, b := range iface.HardwareAddr {
			mac = mac<<8 | uint64(b)
		}
		if mac != 0 {
			return mac, true
		}
	}
	return 0, false
}
