// Package transport provides byte-stream connections to an ELM327-style
// adapter, used as a fallback OBD-II path when no SocketCAN interface is
// available (USB/Bluetooth ELM327 dongles, or a TCP-bridged one).
package transport

import (
	"fmt"
	"io"

	"github.com/rzetterberg/elmobd"
)

// NewDevice builds an elmobd.Device, the higher-level ELM327 client used by
// the OBD-II fallback path, from cfg.
func NewDevice(cfg *Config) (*elmobd.Device, error) {
	var addr string
	switch cfg.Type {
	case "serial":
		addr = fmt.Sprintf("serial://%s", cfg.Address)
	case "tcp":
		addr = fmt.Sprintf("tcp://%s", cfg.Address)
	case "mock":
		addr = "mock://"
	default:
		return nil, fmt.Errorf("transport: unsupported type %q", cfg.Type)
	}
	return elmobd.NewDevice(addr, cfg.Debug)
}

// Transport is any byte stream an ELM327 AT-command session can run over.
type Transport interface {
	io.ReadWriteCloser
}

// Config holds connection configuration for a fallback transport.
type Config struct {
	Type     string // "serial", "tcp", or "mock"
	Address  string // COM port / device path, or TCP address
	BaudRate int    // only used for serial connections
	Debug    bool
}
