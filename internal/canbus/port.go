package canbus

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// ErrClosed is returned from Send/Recv once a Port has been closed.
var ErrClosed = errors.New("canbus: port closed")

// Port is the minimal abstraction every higher layer depends on: a
// thread-safe, possibly-blocking source/sink of whole CAN frames. A
// malformed or oversized frame is a fatal error, never silently truncated.
type Port interface {
	Send(frame Frame) error
	// Recv blocks until a frame arrives, ctx is cancelled, or the port is
	// closed, returning ctx.Err() or ErrClosed respectively.
	Recv(ctx context.Context) (Frame, error)
	Close() error
}

// MemoryPort is an in-process Port backed by channels, used by tests and by
// capture replay. Frames written with Inject simulate a peer transmitting.
type MemoryPort struct {
	mu     sync.Mutex
	closed bool
	outTx  chan Frame // frames sent by the local side, observable by a test harness
	rx     chan Frame // frames to be delivered to the local side via Recv
}

// NewMemoryPort builds a MemoryPort with the given inbound/outbound buffer
// depth.
func NewMemoryPort(buffer int) *MemoryPort {
	return &MemoryPort{
		outTx: make(chan Frame, buffer),
		rx:    make(chan Frame, buffer),
	}
}

func (p *MemoryPort) Send(frame Frame) error {
	if err := frame.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrClosed
	}
	select {
	case p.outTx <- frame:
		return nil
	default:
		// Unbounded blast of no-ACK frames would otherwise deadlock a
		// slow test harness; drop the oldest rather than stall the sender.
		select {
		case <-p.outTx:
		default:
		}
		p.outTx <- frame
		return nil
	}
}

func (p *MemoryPort) Recv(ctx context.Context) (Frame, error) {
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

// Inject simulates a peer sending frame to the local side.
func (p *MemoryPort) Inject(frame Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.rx <- frame
}

// Sent returns the channel of frames the local side has transmitted, for
// test assertions and for a fake-ECU simulator driving the other end.
func (p *MemoryPort) Sent() <-chan Frame {
	return p.outTx
}

func (p *MemoryPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.rx)
	return nil
}

// TapPort wraps a Port, invoking onFrame for every frame that crosses it in
// either direction before delegating to the underlying Port. Used to let a
// capture recorder observe traffic without becoming a second consumer of
// the underlying Port (only one goroutine may ever call Recv on a given
// Port, so the tap has to sit in front of it rather than beside it).
type TapPort struct {
	Port
	onFrame func(frame Frame)
}

// NewTapPort wraps port so every Send/Recv also calls onFrame.
func NewTapPort(port Port, onFrame func(frame Frame)) *TapPort {
	return &TapPort{Port: port, onFrame: onFrame}
}

func (t *TapPort) Send(frame Frame) error {
	err := t.Port.Send(frame)
	if err == nil {
		t.onFrame(frame)
	}
	return err
}

func (t *TapPort) Recv(ctx context.Context) (Frame, error) {
	frame, err := t.Port.Recv(ctx)
	if err == nil {
		t.onFrame(frame)
	}
	return frame, err
}
