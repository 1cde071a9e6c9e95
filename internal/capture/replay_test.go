package capture

import (
	"context"
	"testing"
	"time"

	"github.com/baconwaifu/vwdiag/internal/canbus"
)

func TestReplayerPlayOrder(t *testing.T) {
	session := NewSession("Test Vehicle")
	base := time.Now()
	session.AddFrame(Frame{Timestamp: base, Type: "CAN", ID: 0x100, Data: []byte{1}})
	session.AddFrame(Frame{Timestamp: base.Add(10 * time.Millisecond), Type: "CAN", ID: 0x101, Data: []byte{2}})
	session.AddFrame(Frame{Timestamp: base.Add(20 * time.Millisecond), Type: "CAN", ID: 0x102, Data: []byte{3}})

	replayer := NewReplayer(session)
	replayer.SetSpeed(50) // fast-forward so the test doesn't sleep for real

	var seen []uint32
	err := replayer.Play(context.Background(), func(frame Frame) {
		seen = append(seen, frame.ID)
	})
	if err != nil {
		t.Fatalf("Play failed: %v", err)
	}

	if len(seen) != 3 || seen[0] != 0x100 || seen[1] != 0x101 || seen[2] != 0x102 {
		t.Errorf("unexpected playback order: %v", seen)
	}
	if got := replayer.GetProgress(); got != 1.0 {
		t.Errorf("expected progress 1.0 after playback, got %v", got)
	}
}

func TestReplayerPlayIntoMemoryPort(t *testing.T) {
	session := NewSession("Test Vehicle")
	base := time.Now()
	session.AddFrame(Frame{Timestamp: base, Type: "CAN", ID: 0x7E8, Data: []byte{2, 1, 0x0C}})

	port := canbus.NewMemoryPort(4)
	defer port.Close()

	replayer := NewReplayer(session)
	replayer.SetSpeed(50)

	if err := replayer.PlayIntoMemoryPort(context.Background(), port); err != nil {
		t.Fatalf("PlayIntoMemoryPort failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	frame, err := port.Recv(ctx)
	if err != nil {
		t.Fatalf("expected injected frame, got error: %v", err)
	}
	if frame.ID != 0x7E8 {
		t.Errorf("expected id 0x7E8, got %#x", frame.ID)
	}
}

func TestReplayerSetSpeedInvalid(t *testing.T) {
	replayer := NewReplayer(NewSession("x"))
	replayer.SetSpeed(-5)
	if replayer.Speed != 1.0 {
		t.Errorf("expected invalid speed to fall back to 1.0, got %v", replayer.Speed)
	}
}
