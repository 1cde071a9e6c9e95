package isotp

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/baconwaifu/vwdiag/internal/canbus"
)

func testLogger() *log.Logger {
	return log.New(os.Stderr)
}

// sharedPort wires two MemoryPorts back to back: whatever one side sends
// the other receives, simulating a two-node CAN bus.
func sharedPort() (a, b *canbus.MemoryPort) {
	a = canbus.NewMemoryPort(32)
	b = canbus.NewMemoryPort(32)
	go func() {
		for f := range a.Sent() {
			b.Inject(f)
		}
	}()
	go func() {
		for f := range b.Sent() {
			a.Inject(f)
		}
	}()
	return a, b
}

func TestSingleFrameRoundTrip(t *testing.T) {
	portA, portB := sharedPort()
	defer portA.Close()
	defer portB.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tester := NewSession(ctx, portA, testLogger())
	defer tester.Close()
	ecu := NewSession(ctx, portB, testLogger())
	defer ecu.Close()

	testerEP := tester.Open(0x7E8, 0x7DF)
	ecuEP := ecu.Open(0x7DF, 0x7E8)

	payload := []byte{0x02, 0x01, 0x0C}
	if err := testerEP.Send(ctx, payload); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	rctx, rcancel := context.WithTimeout(ctx, time.Second)
	defer rcancel()
	got, err := ecuEP.Recv(rctx)
	if err != nil {
		t.Fatalf("recv failed: %v", err)
	}
	if len(got) != len(payload) || got[1] != payload[1] {
		t.Errorf("expected %v, got %v", payload, got)
	}
}

func TestMultiFrameRoundTrip(t *testing.T) {
	portA, portB := sharedPort()
	defer portA.Close()
	defer portB.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tester := NewSession(ctx, portA, testLogger())
	defer tester.Close()
	ecu := NewSession(ctx, portB, testLogger())
	defer ecu.Close()

	testerEP := tester.Open(0x7E8, 0x7DF)
	ecuEP := ecu.Open(0x7DF, 0x7E8)

	payload := make([]byte, 20)
	for i := range payload {
		payload[i] = byte(i)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- testerEP.Send(ctx, payload) }()

	rctx, rcancel := context.WithTimeout(ctx, 2*time.Second)
	defer rcancel()
	got, err := ecuEP.Recv(rctx)
	if err != nil {
		t.Fatalf("recv failed: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if len(got) != len(payload) {
		t.Fatalf("expected %d bytes, got %d", len(payload), len(got))
	}
	for i := range payload {
		if got[i] != payload[i] {
			t.Errorf("byte %d: expected %#x, got %#x", i, payload[i], got[i])
		}
	}
}

func TestFlowControlEncodeDecode(t *testing.T) {
	fc := DefaultFlowControl
	data := fc.encode()
	decoded, err := decodeFlowControl(data[:])
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.Status != fc.Status || decoded.BlockSize != fc.BlockSize || decoded.SeparationTime != fc.SeparationTime {
		t.Errorf("round trip mismatch: %+v vs %+v", fc, decoded)
	}
}

func TestSeparationDuration(t *testing.T) {
	if d := separationDuration(0x00); d != 0 {
		t.Errorf("expected 0ms, got %v", d)
	}
	if d := separationDuration(0x7F); d != 127 {
		t.Errorf("expected 127ms, got %v", d)
	}
	if d := separationDuration(0xF1); d != 0.1 {
		t.Errorf("expected 0.1ms, got %v", d)
	}
}
