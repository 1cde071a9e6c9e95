package isotp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/baconwaifu/vwdiag/internal/canbus"
)

const (
	maxSingleFrameLen = 7
	maxMessageLen      = 4095
	flowControlTimeout = 1000 * time.Millisecond
	consecutiveTimeout = 1000 * time.Millisecond
)

// Session multiplexes one or more logical ISO-TP conversations over a
// shared canbus.Port, dispatching inbound frames to whichever Endpoint
// registered for that CAN ID.
type Session struct {
	port canbus.Port
	log  *log.Logger

	mu        sync.Mutex
	endpoints map[uint32]chan canbus.Frame

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSession starts the session's receive dispatch loop over port.
func NewSession(ctx context.Context, port canbus.Port, logger *log.Logger) *Session {
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		port:      port,
		log:       logger,
		endpoints: make(map[uint32]chan canbus.Frame),
		ctx:       ctx,
		cancel:    cancel,
	}
	s.wg.Add(1)
	go s.recvLoop()
	return s
}

func (s *Session) recvLoop() {
	defer s.wg.Done()
	for {
		frame, err := s.port.Recv(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.log.Error("isotp: recv failed", "err", err)
			return
		}
		s.mu.Lock()
		ch, ok := s.endpoints[frame.ID]
		s.mu.Unlock()
		if !ok {
			continue
		}
		select {
		case ch <- frame:
		default:
			s.log.Warn("isotp: endpoint queue full, dropping frame", "id", fmt.Sprintf("%#x", frame.ID))
		}
	}
}

// Endpoint is one (txID, rxID) ISO-TP conversation: tester request id and
// ECU response id, per ISO 15765-2 §5.
type Endpoint struct {
	session *Session
	TxID    uint32
	RxID    uint32
	inbox   chan canbus.Frame
}

// Open registers rxID with the session and returns an Endpoint for
// transferring full messages between txID and rxID.
func (s *Session) Open(txID, rxID uint32) *Endpoint {
	ch := make(chan canbus.Frame, 32)
	s.mu.Lock()
	s.endpoints[rxID] = ch
	s.mu.Unlock()
	return &Endpoint{session: s, TxID: txID, RxID: rxID, inbox: ch}
}

// Close deregisters the endpoint's rx id.
func (e *Endpoint) Close() {
	e.session.mu.Lock()
	delete(e.session.endpoints, e.RxID)
	e.session.mu.Unlock()
}

// Close stops the session's receive dispatch loop. It does not close the
// underlying port.
func (s *Session) Close() {
	s.cancel()
	s.wg.Wait()
}

// Send transmits data as a single or multi-frame ISO-TP message, waiting
// for flow control frames from the ECU as needed.
func (e *Endpoint) Send(ctx context.Context, data []byte) error {
	if len(data) > maxMessageLen {
		return fmt.Errorf("isotp: message of %d bytes exceeds %d byte limit", len(data), maxMessageLen)
	}
	if len(data) <= maxSingleFrameLen {
		return e.sendSingleFrame(data)
	}
	if err := e.sendFirstFrame(data); err != nil {
		return err
	}
	fc, err := e.waitForFlowControl(ctx)
	if err != nil {
		return err
	}
	return e.sendConsecutiveFrames(ctx, data, fc)
}

func (e *Endpoint) sendFrame(data [8]byte, n int) error {
	return e.session.port.Send(canbus.Frame{ID: e.TxID, Data: append([]byte(nil), data[:n]...)})
}

func (e *Endpoint) sendSingleFrame(data []byte) error {
	var buf [8]byte
	buf[0] = pciSingle<<4 | byte(len(data)&0x0F)
	copy(buf[1:], data)
	return e.sendFrame(buf, 1+len(data))
}

func (e *Endpoint) sendFirstFrame(data []byte) error {
	var buf [8]byte
	n := len(data)
	buf[0] = pciFirst<<4 | byte((n>>8)&0x0F)
	buf[1] = byte(n & 0xFF)
	copy(buf[2:], data[:6])
	return e.sendFrame(buf, 8)
}

func (e *Endpoint) waitForFlowControl(ctx context.Context) (FlowControl, error) {
	deadline := time.NewTimer(flowControlTimeout)
	defer deadline.Stop()
	for {
		select {
		case frame := <-e.inbox:
			if len(frame.Data) == 0 || frame.Data[0]>>4 != pciFlowControl {
				continue
			}
			fc, err := decodeFlowControl(frame.Data)
			if err != nil {
				continue
			}
			if fc.Status == FlowStatusOverflow {
				return FlowControl{}, fmt.Errorf("isotp: ecu reported buffer overflow")
			}
			return fc, nil
		case <-deadline.C:
			return FlowControl{}, fmt.Errorf("isotp: timed out waiting for flow control frame")
		case <-ctx.Done():
			return FlowControl{}, ctx.Err()
		}
	}
}

func (e *Endpoint) sendConsecutiveFrames(ctx context.Context, data []byte, fc FlowControl) error {
	sep := time.Duration(separationDuration(fc.SeparationTime) * float64(time.Millisecond))
	seq := byte(1)
	sent := 6
	sinceBlockStart := 0

	for sent < len(data) {
		if fc.BlockSize > 0 && sinceBlockStart == int(fc.BlockSize) {
			next, err := e.waitForFlowControl(ctx)
			if err != nil {
				return err
			}
			fc = next
			sinceBlockStart = 0
			sep = time.Duration(separationDuration(fc.SeparationTime) * float64(time.Millisecond))
		}

		var buf [8]byte
		buf[0] = pciConsecutive<<4 | (seq & 0x0F)
		n := copy(buf[1:], data[sent:])
		if err := e.sendFrame(buf, 1+n); err != nil {
			return err
		}
		sent += n
		seq = (seq + 1) % 16
		sinceBlockStart++

		if sent < len(data) {
			select {
			case <-time.After(sep):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// Recv blocks for one fully reassembled ISO-TP message from the ECU,
// sending flow control frames of our own as needed.
func (e *Endpoint) Recv(ctx context.Context) ([]byte, error) {
	var first canbus.Frame
	for {
		select {
		case f := <-e.inbox:
			pci := byte(0)
			if len(f.Data) > 0 {
				pci = f.Data[0] >> 4
			}
			if pci == pciSingle || pci == pciFirst {
				first = f
			} else {
				continue
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		break
	}

	pci := first.Data[0] >> 4
	if pci == pciSingle {
		n := int(first.Data[0] & 0x0F)
		if n > len(first.Data)-1 {
			return nil, fmt.Errorf("isotp: single frame length %d exceeds payload", n)
		}
		return append([]byte(nil), first.Data[1:1+n]...), nil
	}
	return e.receiveMultiFrame(ctx, first)
}

func (e *Endpoint) receiveMultiFrame(ctx context.Context, firstFrame canbus.Frame) ([]byte, error) {
	if len(firstFrame.Data) < 2 {
		return nil, fmt.Errorf("isotp: short first frame")
	}
	total := int(firstFrame.Data[0]&0x0F)<<8 | int(firstFrame.Data[1])
	if total > maxMessageLen {
		return nil, fmt.Errorf("isotp: advertised length %d exceeds %d byte limit", total, maxMessageLen)
	}
	data := make([]byte, total)
	got := copy(data, firstFrame.Data[2:])

	if err := e.sendFrame(DefaultFlowControl.encode(), 8); err != nil {
		return nil, err
	}

	seq := byte(1)
	for got < total {
		select {
		case f := <-e.inbox:
			if len(f.Data) == 0 || f.Data[0]>>4 != pciConsecutive {
				continue
			}
			if f.Data[0]&0x0F != seq {
				return nil, fmt.Errorf("isotp: unexpected sequence number %d, wanted %d", f.Data[0]&0x0F, seq)
			}
			remaining := total - got
			n := len(f.Data) - 1
			if n > remaining {
				n = remaining
			}
			got += copy(data[got:], f.Data[1:1+n])
			seq = (seq + 1) % 16
		case <-time.After(consecutiveTimeout):
			return nil, fmt.Errorf("isotp: timed out waiting for consecutive frame")
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return data, nil
}
