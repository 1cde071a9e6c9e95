package canbus

import (
	"context"
	"fmt"

	daqcan "github.com/go-daq/canbus"
)

// RawSocketPort is an alternate SocketCAN binding using go-daq/canbus
// directly, for hosts where brutella/can's bus abstraction is unavailable
// or undesired (e.g. a minimal sniffing-only build). It was present only
// as an indirect dependency in the donor; this is where it earns a direct
// import.
type RawSocketPort struct {
	conn *daqcan.Socket
}

// NewRawSocketPort opens a raw SocketCAN socket on the named interface.
func NewRawSocketPort(name string) (*RawSocketPort, error) {
	conn, err := daqcan.New()
	if err != nil {
		return nil, fmt.Errorf("canbus: raw socket: %w", err)
	}
	if err := conn.Bind(name); err != nil {
		conn.Close()
		return nil, fmt.Errorf("canbus: binding %s: %w", name, err)
	}
	return &RawSocketPort{conn: conn}, nil
}

func (p *RawSocketPort) Send(frame Frame) error {
	if err := frame.Validate(); err != nil {
		return err
	}
	var data [8]byte
	copy(data[:], frame.Data)
	_, err := p.conn.Send(daqcan.Frame{ID: frame.ID, Data: data, Length: uint8(len(frame.Data))})
	return err
}

func (p *RawSocketPort) Recv(ctx context.Context) (Frame, error) {
	type result struct {
		frame daqcan.Frame
		err   error
	}
	done := make(chan result, 1)
	go func() {
		f, err := p.conn.Recv()
		done <- result{f, err}
	}()
	select {
	case r := <-done:
		if r.err != nil {
			return Frame{}, r.err
		}
		return Frame{ID: r.frame.ID, Data: append([]byte(nil), r.frame.Data[:r.frame.Length]...)}, nil
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (p *RawSocketPort) Close() error {
	return p.conn.Close()
}
