package vwtp

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Proto identifies what sits above a VWTP channel. Only KWP (1) is
// exercised against real hardware; other values skip the 2-byte KWP length
// prefix (§9 open question).
type Proto byte

const ProtoKWP Proto = 1

// openState is the channel lifecycle state from §3.
type openState int

const (
	stateClosed openState = iota
	stateOpening
	stateOpen
	stateClosing
)

const (
	setupRetries    = 6
	setupRetryWait  = 100 * time.Millisecond
	ackRetryLimit   = 10
	keepAliveEvery  = 500 * time.Millisecond
)

// sender is the minimal surface a Channel needs from its owning Stack: a
// place to put outgoing CAN frames and a way to re-run the setup handshake
// after a peer-initiated disconnect.
type sender interface {
	sendFrame(id uint32, data []byte) error
	Reconnect(ctx context.Context, ch *Channel) error
}

// Channel is one VWTP connection: per-channel framing, sequence/ACK state,
// keep-alive and reconnect, bound to a single ECU module.
type Channel struct {
	stack      sender
	log        *log.Logger
	ModuleID   byte
	RxID       uint32
	txID       uint32 // guarded by txMu; changes across reconnect
	txMu       sync.RWMutex
	Proto      Proto
	AutoReopen bool

	params Params

	seqMu       sync.Mutex
	rxSeq       byte
	txSeq       byte
	acks        map[byte]struct{}
	reassembly  []byte
	reassembleLen int
	reassembling  bool

	stateMu sync.Mutex
	state   openState
	sending bool // true while Send is transmitting a message; handleDisconnect clears it to stop Send

	blockLock sync.Mutex // held while transmitting a block; handleDisconnect and outgoing ACKs acquire it too

	openedOnce chan struct{} // closed once the first parameter response arrives
	openErr    error

	reads  chan []byte
	onRecv func([]byte) // optional callback in place of the reads channel

	cancelKeepAlive context.CancelFunc
	keepAliveDone   chan struct{}
}

func newChannel(stack sender, logger *log.Logger, moduleID byte, rxID, txID uint32, proto Proto, autoReopen bool) *Channel {
	return &Channel{
		stack:      stack,
		log:        logger,
		ModuleID:   moduleID,
		RxID:       rxID,
		txID:       txID,
		Proto:      proto,
		AutoReopen: autoReopen,
		acks:       make(map[byte]struct{}),
		openedOnce: make(chan struct{}),
		reads:      make(chan []byte, 32),
	}
}

func (c *Channel) tx() uint32 {
	c.txMu.RLock()
	defer c.txMu.RUnlock()
	return c.txID
}

func (c *Channel) setTx(id uint32) {
	c.txMu.Lock()
	c.txID = id
	c.txMu.Unlock()
}

func (c *Channel) setState(s openState) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

func (c *Channel) getState() openState {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// IsOpen reports whether the channel currently accepts sends.
func (c *Channel) IsOpen() bool {
	return c.getState() == stateOpen
}

// open performs the parameter-negotiation handshake described in §4.2 and
// starts the keep-alive pinger.
func (c *Channel) open(ctx context.Context) error {
	c.setState(stateOpening)
	wire := encodeParams(DefaultRequestParams)
	buf := append([]byte{byte(OpParamRequest)}, wire[:]...)

	for i := 0; i < setupRetries; i++ {
		if err := c.rawSend(buf); err != nil {
			return err
		}
		select {
		case <-c.openedOnce:
			goto configured
		case <-time.After(setupRetryWait):
			c.log.Debug("vwtp: retransmitting channel setup", "module", c.ModuleID)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("%w: module %#x", ErrSetupTimeout, c.ModuleID)

configured:
	if c.openErr != nil {
		return c.openErr
	}
	c.setState(stateOpen)
	c.startKeepAlive()
	return nil
}

func (c *Channel) startKeepAlive() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancelKeepAlive = cancel
	c.keepAliveDone = make(chan struct{})
	go func() {
		defer close(c.keepAliveDone)
		t := time.NewTicker(keepAliveEvery)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				if c.IsOpen() {
					c.log.Debug("vwtp: ping", "module", c.ModuleID)
					_ = c.rawSend([]byte{byte(OpKeepAlive)})
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (c *Channel) rawSend(payload []byte) error {
	return c.stack.sendFrame(c.tx(), payload)
}

// onCANFrame dispatches one raw CAN payload received for this channel's rx
// ID, per §4.2's receive path.
func (c *Channel) onCANFrame(data []byte) {
	if len(data) == 0 {
		return
	}
	op := data[0]
	rest := data[1:]

	switch {
	case op == byte(OpDisconnect):
		c.handleDisconnect()
	case op == byte(OpKeepAlive):
		// peer keep-alive, no-op.
	case op == byte(OpParamResponse):
		c.handleParamResponse(rest)
	case isAckOpcode(op):
		seq := dataSeq(op)
		if Opcode(op&0xF0) == opAckNotReady {
			c.log.Warn("vwtp: ack with receiver-busy flag", "module", c.ModuleID, "seq", seq)
		}
		c.seqMu.Lock()
		c.acks[seq] = struct{}{}
		c.seqMu.Unlock()
	case isDataOpcode(op):
		c.handleData(op, rest)
	default:
		c.log.Warn("vwtp: unrecognized opcode", "module", c.ModuleID, "opcode", fmt.Sprintf("%#x", op))
	}
}

func (c *Channel) handleDisconnect() {
	wasOpen := c.IsOpen()
	c.blockLock.Lock()
	if wasOpen {
		_ = c.rawSend([]byte{byte(OpDisconnect)})
	}
	c.stateMu.Lock()
	c.sending = false
	c.stateMu.Unlock()
	c.setState(stateClosed)
	c.blockLock.Unlock()

	if c.cancelKeepAlive != nil {
		c.cancelKeepAlive()
	}
	c.log.Info("vwtp: peer disconnected", "module", c.ModuleID, "auto_reopen", c.AutoReopen)

	if c.AutoReopen {
		go c.reopen()
	}
}

// reopen re-runs the setup handshake on this channel's own rx id, per §8
// scenario S6: a disconnected channel with AutoReopen set re-registers and
// a subsequent Send succeeds without the caller having to re-Connect.
func (c *Channel) reopen() {
	if err := c.stack.Reconnect(context.Background(), c); err != nil {
		c.log.Warn("vwtp: auto-reopen failed", "module", c.ModuleID, "err", err)
	}
}

func (c *Channel) handleParamResponse(buf []byte) {
	select {
	case <-c.openedOnce:
		c.log.Debug("vwtp: pong", "module", c.ModuleID)
		return
	default:
	}
	if len(buf) < 5 {
		c.openErr = fmt.Errorf("%w: short parameter response", ErrShortFrame)
		close(c.openedOnce)
		return
	}
	c.params = decodeParams(buf)
	c.log.Debug("vwtp: parameters negotiated", "block_size", c.params.BlockSize,
		"ack_timeout_ms", c.params.AckTimeoutMS, "inter_frame_ms", c.params.InterFrameInterval)
	close(c.openedOnce)
}

func (c *Channel) handleData(op byte, payload []byte) {
	seq := dataSeq(op)
	wantsAck := dataWantsAck(op)

	c.seqMu.Lock()
	if wantsAck && seq == c.rxSeq {
		ackSeq := (seq + 1) % 16
		// This ACK is a normal send and must not be interleaved with a
		// block the local side is transmitting, so it takes blockLock
		// just like Send/sendBlock do for each of their frames.
		go func() {
			c.blockLock.Lock()
			defer c.blockLock.Unlock()
			_ = c.rawSend([]byte{byte(OpAckReadyByte(ackSeq))})
		}()
	}
	c.rxSeq = (c.rxSeq + 1) % 16

	if !c.reassembling {
		c.reassembling = true
		if c.Proto == ProtoKWP {
			if len(payload) < 2 {
				c.seqMu.Unlock()
				c.log.Warn("vwtp: short first frame, dropping reassembly", "module", c.ModuleID)
				c.reassembling = false
				return
			}
			c.reassembleLen = int(binary.BigEndian.Uint16(payload[:2]))
			c.reassembly = append([]byte(nil), payload[2:]...)
		} else {
			c.reassembleLen = -1 // unknown; only the final flag ends the message
			c.reassembly = append([]byte(nil), payload...)
		}
	} else {
		c.reassembly = append(c.reassembly, payload...)
	}

	final := dataFinal(op)
	var delivered []byte
	if final {
		if c.Proto == ProtoKWP && c.reassembleLen != len(c.reassembly) {
			c.log.Warn("vwtp: frame length mismatch", "module", c.ModuleID,
				"expected", c.reassembleLen, "got", len(c.reassembly))
		}
		delivered = c.reassembly
		c.reassembly = nil
		c.reassembling = false
	}
	c.seqMu.Unlock()

	if final {
		c.deliver(delivered)
	}
}

// OpAckReadyByte builds the "ready for next block" ACK opcode for seq.
func OpAckReadyByte(seq byte) byte {
	return byte(opAckReady) | (seq & 0x0F)
}

func (c *Channel) deliver(frame []byte) {
	if c.onRecv != nil {
		c.onRecv(frame)
		return
	}
	select {
	case c.reads <- frame:
	default:
		c.log.Warn("vwtp: read queue full, dropping message", "module", c.ModuleID)
	}
}

// Read blocks for a fully reassembled VWTP message, honoring ctx
// cancellation. Only valid when no callback was registered.
func (c *Channel) Read(ctx context.Context) ([]byte, error) {
	select {
	case f := <-c.reads:
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Send transmits msg as a complete VWTP message, segmenting it into
// 7-byte data frames grouped into ack-bounded blocks, per §4.2 step 3-5.
func (c *Channel) Send(ctx context.Context, msg []byte) error {
	if !c.IsOpen() {
		return ErrClosed
	}
	payload := msg
	if c.Proto == ProtoKWP {
		lenPrefix := make([]byte, 2)
		binary.BigEndian.PutUint16(lenPrefix, uint16(len(msg)))
		payload = append(lenPrefix, msg...)
	}

	frames := chunk(payload, 7)
	blocks := chunk2D(frames, c.params.BlockSize)
	lastFrameGlobalIdx := len(frames) - 1

	c.stateMu.Lock()
	c.sending = true
	c.stateMu.Unlock()
	defer func() {
		c.stateMu.Lock()
		c.sending = false
		c.stateMu.Unlock()
	}()

	frameIdx := 0
	for _, blk := range blocks {
		blockStartIdx := frameIdx
		retries := ackRetryLimit
		for {
			c.blockLock.Lock()
			c.stateMu.Lock()
			stillSending := c.sending
			c.stateMu.Unlock()
			if !stillSending {
				c.blockLock.Unlock()
				return fmt.Errorf("%w: send cut short by reconnect", ErrClosed)
			}
			ok, err := c.sendBlock(ctx, blk, blockStartIdx, lastFrameGlobalIdx)
			c.blockLock.Unlock()
			if err != nil {
				return err
			}
			if ok {
				break
			}
			_ = c.rawSend([]byte{byte(OpBreak)})
			retries--
			if retries == 0 {
				return ErrRetryExhausted
			}
		}
		frameIdx += len(blk)
	}
	return nil
}

// sendBlock transmits every frame of blk (whose first frame is the
// startIdx'th frame of the whole message), returning true if the
// ACK-bearing final frame of the block was acknowledged in time.
func (c *Channel) sendBlock(ctx context.Context, blk [][]byte, startIdx, lastFrameGlobalIdx int) (bool, error) {
	wantAck := false
	waitSeq := byte(0)

	for i, f := range blk {
		globalIdx := startIdx + i
		isLastOfBlock := i == len(blk)-1
		isFinal := globalIdx == lastFrameGlobalIdx

		c.seqMu.Lock()
		seq := c.txSeq
		c.seqMu.Unlock()

		var op byte
		switch {
		case isFinal && isLastOfBlock:
			op = byte(opDataFinalAck) | seq
			wantAck = true
		case isLastOfBlock:
			op = byte(opDataNotFinalAck) | seq
			wantAck = true
		case isFinal:
			// unreachable: the final frame is always the last of its
			// block, since a block never spans past the message end.
			op = byte(opDataFinalAck) | seq
			wantAck = true
		default:
			op = byte(opDataNotFinalNak) | seq
		}

		if err := c.rawSend(append([]byte{op}, f...)); err != nil {
			return false, err
		}

		c.seqMu.Lock()
		c.txSeq = (c.txSeq + 1) % 16
		nextSeq := c.txSeq
		c.seqMu.Unlock()

		if wantAck {
			waitSeq = nextSeq
			return c.awaitAck(ctx, waitSeq), nil
		}
	}
	return true, nil
}

func (c *Channel) awaitAck(ctx context.Context, seq byte) bool {
	c.seqMu.Lock()
	_, got := c.acks[seq]
	c.seqMu.Unlock()
	if !got {
		wait := time.Duration(c.params.AckTimeoutMS * float64(time.Millisecond))
		if wait <= 0 {
			wait = 100 * time.Millisecond
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return false
		}
	}
	c.seqMu.Lock()
	defer c.seqMu.Unlock()
	if _, ok := c.acks[seq]; !ok {
		return false
	}
	delete(c.acks, seq)
	return true
}

// Close tears the channel down if it is open: sends a disconnect to the
// peer and stops the keep-alive pinger.
func (c *Channel) Close() error {
	if !c.IsOpen() {
		return nil
	}
	c.setState(stateClosing)
	if c.cancelKeepAlive != nil {
		c.cancelKeepAlive()
	}
	err := c.rawSend([]byte{byte(OpDisconnect)})
	c.setState(stateClosed)
	return err
}

func chunk(b []byte, n int) [][]byte {
	var out [][]byte
	for i := 0; i < len(b); i += n {
		end := i + n
		if end > len(b) {
			end = len(b)
		}
		out = append(out, b[i:end])
	}
	if len(out) == 0 {
		out = append(out, []byte{})
	}
	return out
}

func chunk2D(frames [][]byte, n int) [][][]byte {
	var out [][][]byte
	for i := 0; i < len(frames); i += n {
		end := i + n
		if end > len(frames) {
			end = len(frames)
		}
		out = append(out, frames[i:end])
	}
	return out
}
