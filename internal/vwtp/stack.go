package vwtp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/baconwaifu/vwdiag/internal/canbus"
)

const (
	linkControlBase  = 0x200
	rxPoolStart      = 0x300
	rxPoolEnd        = 0x30F
	connectTimeout   = 300 * time.Millisecond
	reconnectTimeout = 200 * time.Millisecond
)

// Stack owns channel allocation, the connect/disconnect handshake and the
// CAN receive dispatch described in §4.3.
type Stack struct {
	port canbus.Port
	log  *log.Logger

	bufLock       sync.Mutex
	connections   map[uint32]*Channel      // rx id -> channel
	controlWaiters map[uint32]chan []byte  // rx id (0x200+module) -> one-shot setup response
	nextRx        uint32

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStack starts the stack's receive dispatch loop over port.
func NewStack(ctx context.Context, port canbus.Port, logger *log.Logger) *Stack {
	ctx, cancel := context.WithCancel(ctx)
	s := &Stack{
		port:           port,
		log:            logger,
		connections:    make(map[uint32]*Channel),
		controlWaiters: make(map[uint32]chan []byte),
		nextRx:         rxPoolStart,
		ctx:            ctx,
		cancel:         cancel,
	}
	s.wg.Add(1)
	go s.recvLoop()
	return s
}

func (s *Stack) recvLoop() {
	defer s.wg.Done()
	for {
		frame, err := s.port.Recv(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.log.Error("vwtp: recv failed", "err", err)
			return
		}
		s.dispatch(frame)
	}
}

func (s *Stack) dispatch(frame canbus.Frame) {
	s.bufLock.Lock()
	ch, isChannel := s.connections[frame.ID]
	waiter, isWaiter := s.controlWaiters[frame.ID]
	s.bufLock.Unlock()

	switch {
	case isChannel:
		ch.onCANFrame(frame.Data)
	case isWaiter:
		select {
		case waiter <- frame.Data:
		default:
		}
	default:
		s.log.Debug("vwtp: discarding frame for unknown id", "id", fmt.Sprintf("%#x", frame.ID))
	}
}

func (s *Stack) sendFrame(id uint32, data []byte) error {
	return s.port.Send(canbus.Frame{ID: id, Data: data})
}

func (s *Stack) registerWaiter(id uint32) chan []byte {
	s.bufLock.Lock()
	defer s.bufLock.Unlock()
	ch := make(chan []byte, 1)
	s.controlWaiters[id] = ch
	return ch
}

func (s *Stack) unregisterWaiter(id uint32) {
	s.bufLock.Lock()
	delete(s.controlWaiters, id)
	s.bufLock.Unlock()
}

// Connect allocates a free rx channel, performs the VWTP setup handshake
// for moduleID on CAN ID 0x200, and negotiates channel parameters, per
// §4.3.
func (s *Stack) Connect(ctx context.Context, moduleID byte, proto Proto, autoReopen bool) (*Channel, error) {
	s.log.Info("vwtp: connecting", "module", fmt.Sprintf("%#x", moduleID))

	rx, err := s.allocateRx()
	if err != nil {
		return nil, err
	}

	respID := uint32(linkControlBase) + uint32(moduleID)
	waiter := s.registerWaiter(respID)
	defer s.unregisterWaiter(respID)

	setup := []byte{moduleID, 0xC0, 0x00, 0x10, byte(rx & 0xFF), byte((rx >> 8) & 0xFF), byte(proto)}
	if err := s.sendFrame(linkControlBase, setup); err != nil {
		return nil, err
	}

	var resp []byte
	select {
	case resp = <-waiter:
	case <-time.After(connectTimeout):
		return nil, ErrSetupTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	tx, err := validateSetupResponse(resp, moduleID)
	if err != nil {
		return nil, err
	}

	ch := newChannel(s, s.log, moduleID, rx, tx, proto, autoReopen)
	s.bufLock.Lock()
	s.connections[rx] = ch
	s.bufLock.Unlock()

	if err := ch.open(ctx); err != nil {
		s.bufLock.Lock()
		delete(s.connections, rx)
		s.bufLock.Unlock()
		return nil, err
	}
	s.log.Info("vwtp: connected", "module", fmt.Sprintf("%#x", moduleID), "rx", fmt.Sprintf("%#x", rx), "tx", fmt.Sprintf("%#x", tx))
	return ch, nil
}

func validateSetupResponse(resp []byte, moduleID byte) (tx uint32, err error) {
	if len(resp) < 7 {
		return 0, ErrShortFrame
	}
	if resp[0] != moduleID {
		return 0, fmt.Errorf("%w: response for module %#x, expected %#x", ErrSetupRejected, resp[0], moduleID)
	}
	if resp[1] != 0xD0 {
		return 0, fmt.Errorf("%w: opcode %#x", ErrSetupRejected, resp[1])
	}
	if resp[5]&0x10 != 0 {
		return 0, fmt.Errorf("%w: invalid tx address flag", ErrSetupRejected)
	}
	tx = uint32(resp[5])<<8 | uint32(resp[4])
	return tx, nil
}

func (s *Stack) allocateRx() (uint32, error) {
	s.bufLock.Lock()
	defer s.bufLock.Unlock()

	addr := s.nextRx
	for i := 0; i < 16; i++ {
		if _, used := s.connections[addr]; !used {
			if addr == rxPoolEnd {
				s.nextRx = rxPoolStart
			} else {
				s.nextRx = addr + 1
			}
			return addr, nil
		}
		addr++
		if addr > rxPoolEnd {
			addr = rxPoolStart
		}
	}
	return 0, ErrNoFreeChannel
}

// Reconnect re-issues the setup handshake for ch on its existing rx id,
// updating its tx id. Used to recover after a peer-initiated disconnect on
// a channel with AutoReopen set.
func (s *Stack) Reconnect(ctx context.Context, ch *Channel) error {
	s.log.Info("vwtp: reconnecting", "module", fmt.Sprintf("%#x", ch.ModuleID))
	respID := uint32(linkControlBase) + uint32(ch.ModuleID)
	waiter := s.registerWaiter(respID)
	defer s.unregisterWaiter(respID)

	setup := []byte{ch.ModuleID, 0xC0, 0x00, 0x10, byte(ch.RxID & 0xFF), byte((ch.RxID >> 8) & 0xFF), byte(ch.Proto)}
	if err := s.sendFrame(linkControlBase, setup); err != nil {
		return err
	}

	var resp []byte
	select {
	case resp = <-waiter:
	case <-time.After(reconnectTimeout):
		return fmt.Errorf("%w: reconnect timeout", ErrReopenFailed)
	case <-ctx.Done():
		return ctx.Err()
	}

	tx, err := validateSetupResponse(resp, ch.ModuleID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrReopenFailed, err)
	}
	ch.setTx(tx)
	return ch.open(ctx)
}

// Disconnect sends a teardown to the peer and removes ch from the
// connection table.
func (s *Stack) Disconnect(ch *Channel) error {
	err := ch.Close()
	s.bufLock.Lock()
	for rx, v := range s.connections {
		if v == ch {
			delete(s.connections, rx)
			break
		}
	}
	s.bufLock.Unlock()
	return err
}

// Close stops the receive dispatch loop. It does not close the underlying
// port.
func (s *Stack) Close() {
	s.cancel()
	s.wg.Wait()
}
