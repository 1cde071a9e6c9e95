package vwtp

import (
	"context"
	"encoding/binary"
	"os"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/baconwaifu/vwdiag/internal/canbus"
)

func testLogger() *log.Logger {
	return log.New(os.Stderr)
}

// sharedPort wires two MemoryPorts back to back so frames sent on one
// side arrive on the other, simulating a two-node CAN bus.
func sharedPort() (tester, ecu *canbus.MemoryPort) {
	tester = canbus.NewMemoryPort(32)
	ecu = canbus.NewMemoryPort(32)
	go func() {
		for f := range tester.Sent() {
			ecu.Inject(f)
		}
	}()
	go func() {
		for f := range ecu.Sent() {
			tester.Inject(f)
		}
	}()
	return tester, ecu
}

// fakeECU answers the VWTP setup handshake and a subset of the channel
// protocol (parameter negotiation, data reassembly, acks) on the opposite
// side of a Stack under test. It mirrors Channel's own receive path
// (handleData in channel.go) since it plays the responder role no
// production Channel implements.
type fakeECU struct {
	port     *canbus.MemoryPort
	moduleID byte
	txAddr   uint32 // fixed id this fake ECU listens for channel traffic on

	rxAddr uint32 // tester's listen id, learned from the setup frame

	rxSeq         byte
	reassembling  bool
	reassembleLen int
	reassembly    []byte

	received chan []byte
}

func newFakeECU(port *canbus.MemoryPort, moduleID byte, txAddr uint32) *fakeECU {
	return &fakeECU{port: port, moduleID: moduleID, txAddr: txAddr, received: make(chan []byte, 4)}
}

func (e *fakeECU) run(ctx context.Context) {
	for {
		frame, err := e.port.Recv(ctx)
		if err != nil {
			return
		}
		if frame.ID == linkControlBase {
			e.handleSetup(frame.Data)
			continue
		}
		if frame.ID != e.txAddr || len(frame.Data) == 0 {
			continue
		}
		op := frame.Data[0]
		switch {
		case op == byte(OpParamRequest):
			resp := append([]byte{byte(OpParamResponse)}, frame.Data[1:6]...)
			e.port.Send(canbus.Frame{ID: e.rxAddr, Data: resp})
		case op == byte(OpKeepAlive), op == byte(OpDisconnect):
			// no-op for this harness
		case isDataOpcode(op):
			e.handleData(op, frame.Data[1:])
		}
	}
}

func (e *fakeECU) handleSetup(data []byte) {
	if len(data) < 7 || data[0] != e.moduleID || data[1] != 0xC0 {
		return
	}
	e.rxAddr = uint32(data[4]) | uint32(data[5])<<8
	proto := data[6]
	resp := []byte{e.moduleID, 0xD0, 0x00, 0x10, byte(e.txAddr & 0xFF), byte((e.txAddr >> 8) & 0xFF), proto}
	e.port.Send(canbus.Frame{ID: linkControlBase + uint32(e.moduleID), Data: resp})
}

func (e *fakeECU) handleData(op byte, payload []byte) {
	seq := dataSeq(op)
	if dataWantsAck(op) {
		ackSeq := (seq + 1) % 16
		e.port.Send(canbus.Frame{ID: e.rxAddr, Data: []byte{OpAckReadyByte(ackSeq)}})
	}

	if !e.reassembling {
		e.reassembling = true
		e.reassembleLen = int(binary.BigEndian.Uint16(payload[:2]))
		e.reassembly = append([]byte(nil), payload[2:]...)
	} else {
		e.reassembly = append(e.reassembly, payload...)
	}

	if dataFinal(op) {
		e.received <- e.reassembly
		e.reassembly = nil
		e.reassembling = false
	}
}

func TestStackConnect(t *testing.T) {
	testerPort, ecuPort := sharedPort()
	defer testerPort.Close()
	defer ecuPort.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ecu := newFakeECU(ecuPort, 0x01, 0x600)
	go ecu.run(ctx)

	stack := NewStack(ctx, testerPort, testLogger())
	defer stack.Close()

	ch, err := stack.Connect(ctx, 0x01, ProtoKWP, false)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !ch.IsOpen() {
		t.Error("expected channel to be open after Connect")
	}
	if ch.tx() != 0x600 {
		t.Errorf("expected tx id 0x600, got %#x", ch.tx())
	}
}

func TestChannelSendSingleFrame(t *testing.T) {
	testerPort, ecuPort := sharedPort()
	defer testerPort.Close()
	defer ecuPort.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ecu := newFakeECU(ecuPort, 0x01, 0x600)
	go ecu.run(ctx)

	stack := NewStack(ctx, testerPort, testLogger())
	defer stack.Close()

	ch, err := stack.Connect(ctx, 0x01, ProtoKWP, false)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	msg := []byte{0x10, 0x89} // StartDiagnosticSession request, small enough for one frame
	if err := ch.Send(ctx, msg); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case got := <-ecu.received:
		if len(got) != len(msg) || got[0] != msg[0] || got[1] != msg[1] {
			t.Errorf("expected %v, got %v", msg, got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ecu to receive message")
	}
}

func TestChannelSendMultiBlock(t *testing.T) {
	testerPort, ecuPort := sharedPort()
	defer testerPort.Close()
	defer ecuPort.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ecu := newFakeECU(ecuPort, 0x01, 0x600)
	go ecu.run(ctx)

	stack := NewStack(ctx, testerPort, testLogger())
	defer stack.Close()

	ch, err := stack.Connect(ctx, 0x01, ProtoKWP, false)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	msg := make([]byte, 200)
	for i := range msg {
		msg[i] = byte(i)
	}
	if err := ch.Send(ctx, msg); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case got := <-ecu.received:
		if len(got) != len(msg) {
			t.Fatalf("expected %d bytes, got %d", len(msg), len(got))
		}
		for i := range msg {
			if got[i] != msg[i] {
				t.Errorf("byte %d: expected %#x, got %#x", i, msg[i], got[i])
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ecu to receive message")
	}
}

func TestChannelAutoReopen(t *testing.T) {
	testerPort, ecuPort := sharedPort()
	defer testerPort.Close()
	defer ecuPort.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ecu := newFakeECU(ecuPort, 0x01, 0x600)
	go ecu.run(ctx)

	stack := NewStack(ctx, testerPort, testLogger())
	defer stack.Close()

	ch, err := stack.Connect(ctx, 0x01, ProtoKWP, true)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	waitUntil := func(want bool, timeout time.Duration) bool {
		deadline := time.After(timeout)
		for {
			if ch.IsOpen() == want {
				return true
			}
			select {
			case <-deadline:
				return false
			case <-time.After(5 * time.Millisecond):
			}
		}
	}

	// Simulate a peer-initiated disconnect on the channel's own rx id.
	if err := ecu.port.Send(canbus.Frame{ID: ecu.rxAddr, Data: []byte{byte(OpDisconnect)}}); err != nil {
		t.Fatalf("failed to inject disconnect: %v", err)
	}

	if !waitUntil(false, time.Second) {
		t.Fatal("timed out waiting for channel to close after disconnect")
	}
	if !waitUntil(true, 2*time.Second) {
		t.Fatal("timed out waiting for channel to auto-reopen")
	}

	msg := []byte{0x10, 0x89}
	if err := ch.Send(ctx, msg); err != nil {
		t.Fatalf("Send after auto-reopen failed: %v", err)
	}

	select {
	case got := <-ecu.received:
		if len(got) != len(msg) {
			t.Errorf("expected %d bytes, got %d", len(msg), len(got))
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ecu to receive message after reopen")
	}
}

func TestEncodeDecodeTimingRoundTrip(t *testing.T) {
	for _, ms := range []float64{0.1, 5, 100, 6.3} {
		b := encodeTiming(ms)
		got := decodeTiming(b)
		if got < ms-0.2 || got > ms+0.2 {
			t.Errorf("timing %v: round trip gave %v", ms, got)
		}
	}
}

func TestParamsEncodeDecode(t *testing.T) {
	wire := encodeParams(DefaultRequestParams)
	decoded := decodeParams(wire[:])
	if decoded.BlockSize != DefaultRequestParams.BlockSize {
		t.Errorf("expected block size %d, got %d", DefaultRequestParams.BlockSize, decoded.BlockSize)
	}
}
