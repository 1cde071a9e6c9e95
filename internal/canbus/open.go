package canbus

import (
	"fmt"

	"github.com/charmbracelet/log"
)

// Open builds a Port from a bus type name and interface/address, the
// shared entry point every cmd/* binary uses instead of constructing a
// concrete Port type directly.
func Open(busType, iface string, logger *log.Logger) (Port, error) {
	switch busType {
	case "socketcan":
		return NewSocketCANPort(iface, logger)
	case "rawsocket":
		return NewRawSocketPort(iface)
	case "memory":
		return NewMemoryPort(64), nil
	default:
		return nil, fmt.Errorf("canbus: unsupported bus type %q", busType)
	}
}
