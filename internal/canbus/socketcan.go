package canbus

import (
	"context"
	"fmt"

	"github.com/brutella/can"
	"github.com/charmbracelet/log"
)

// SocketCANPort binds the stack to a real Linux SocketCAN interface via
// brutella/can, the same library the donor dashboard used for its raw
// CAN frame feed.
type SocketCANPort struct {
	bus    *can.Bus
	name   string
	logger *log.Logger

	rx chan Frame
}

// busHandler adapts brutella/can's subscription callback into a channel,
// mirroring the donor's CANHandler pattern in main.go.
type busHandler struct {
	rx chan<- Frame
}

func (h *busHandler) Handle(frame can.Frame) {
	data := make([]byte, frame.Length)
	copy(data, frame.Data[:frame.Length])
	h.rx <- Frame{ID: uint32(frame.ID), Data: data}
}

// NewSocketCANPort opens the named SocketCAN interface (e.g. "can0") and
// starts dispatching incoming frames.
func NewSocketCANPort(name string, logger *log.Logger) (*SocketCANPort, error) {
	bus, err := can.NewBusForInterfaceWithName(name)
	if err != nil {
		return nil, fmt.Errorf("canbus: opening %s: %w", name, err)
	}

	p := &SocketCANPort{
		bus:    bus,
		name:   name,
		logger: logger,
		rx:     make(chan Frame, 256),
	}
	bus.Subscribe(&busHandler{rx: p.rx})
	go func() {
		if err := bus.ConnectAndPublish(); err != nil {
			logger.Error("socketcan bus terminated", "interface", name, "err", err)
		}
	}()
	return p, nil
}

func (p *SocketCANPort) Send(frame Frame) error {
	if err := frame.Validate(); err != nil {
		return err
	}
	cf := can.Frame{ID: frame.ID, Length: uint8(len(frame.Data))}
	copy(cf.Data[:], frame.Data)
	p.logger.Debug("tx", "frame", frame)
	return p.bus.Publish(cf)
}

func (p *SocketCANPort) Recv(ctx context.Context) (Frame, error) {
	select {
	case f, ok := <-p.rx:
		if !ok {
			return Frame{}, ErrClosed
		}
		return f, nil
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (p *SocketCANPort) Close() error {
	return p.bus.Disconnect()
}
