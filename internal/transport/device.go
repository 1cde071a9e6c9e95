package transport

import (
	"fmt"
	"time"

	"github.com/tarm/serial"
)

// NewConnection creates a byte-stream Transport based on the configuration.
// Unlike NewDevice, this returns the raw stream (used to feed a
// canbus.Port adapter or an elmobd.Device constructed elsewhere), not an
// elmobd.Device itself.
func NewConnection(cfg *Config) (Transport, error) {
	switch cfg.Type {
	case "tcp":
		return NewTCPConnection(cfg.Address)
	case "serial":
		baud := cfg.BaudRate
		if baud == 0 {
			baud = 38400 // ELM327 default
		}
		port, err := serial.OpenPort(&serial.Config{
			Name:        cfg.Address,
			Baud:        baud,
			ReadTimeout: 5 * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("transport: opening serial port %s: %w", cfg.Address, err)
		}
		return &serialTransport{port: port}, nil
	case "mock":
		return newLoopbackTransport(), nil
	default:
		return nil, fmt.Errorf("transport: unsupported type %q", cfg.Type)
	}
}

// serialTransport wraps a tarm/serial.Port to implement Transport.
type serialTransport struct {
	port *serial.Port
}

func (s *serialTransport) Read(p []byte) (int, error)  { return s.port.Read(p) }
func (s *serialTransport) Write(p []byte) (int, error) { return s.port.Write(p) }
func (s *serialTransport) Close() error                { return s.port.Close() }

// loopbackTransport is the "mock" transport: each write is echoed back to
// Read (writes are dropped while 16 are already queued) and never errors,
// used for dry-run config validation and tests that
// don't exercise the ELM327 path itself.
type loopbackTransport struct {
	buf chan []byte
}

func newLoopbackTransport() *loopbackTransport {
	return &loopbackTransport{buf: make(chan []byte, 16)}
}

func (l *loopbackTransport) Read(p []byte) (int, error) {
	b := <-l.buf
	return copy(p, b), nil
}

func (l *loopbackTransport) Write(p []byte) (int, error) {
	cp := append([]byte(nil), p...)
	select {
	case l.buf <- cp:
	default:
	}
	return len(p), nil
}

func (l *loopbackTransport) Close() error {
	close(l.buf)
	return nil
}
