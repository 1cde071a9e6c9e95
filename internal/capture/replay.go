package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/baconwaifu/vwdiag/internal/canbus"
)

// Replayer plays a Session's frames back at their original relative timing,
// scaled by Speed. A Speed of 1.0 reproduces the capture's real-time pacing;
// higher values fast-forward.
type Replayer struct {
	Session      *Session
	Speed        float64
	CurrentFrame int
}

// ReplayHandler receives each frame as it's replayed.
type ReplayHandler func(frame Frame)

// NewReplayer builds a Replayer over session with the default 1.0 speed.
func NewReplayer(session *Session) *Replayer {
	return &Replayer{
		Session: session,
		Speed:   1.0,
	}
}

// SetSpeed sets the playback speed multiplier. Speeds <= 0 are invalid and
// fall back to 1.0.
func (r *Replayer) SetSpeed(speed float64) {
	if speed <= 0 {
		r.Speed = 1.0
		return
	}
	r.Speed = speed
}

// Play walks the session's frames in order, invoking handler for each one
// once its scheduled relative time has elapsed.
func (r *Replayer) Play(ctx context.Context, handler ReplayHandler) error {
	if len(r.Session.Frames) == 0 {
		return fmt.Errorf("capture: no frames to replay")
	}

	wallStart := time.Now()
	sessionStart := r.Session.Frames[0].Timestamp

	for i, frame := range r.Session.Frames {
		r.CurrentFrame = i

		targetDelay := frame.Timestamp.Sub(sessionStart)
		adjustedDelay := time.Duration(float64(targetDelay) / r.Speed)
		actualDelay := time.Since(wallStart)

		if actualDelay < adjustedDelay {
			select {
			case <-time.After(adjustedDelay - actualDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		handler(frame)
	}
	r.CurrentFrame = len(r.Session.Frames)

	return nil
}

// PlayIntoPort replays the session's raw CAN frames onto port via Send, for
// re-driving a real or simulated bus with previously captured traffic.
func (r *Replayer) PlayIntoPort(ctx context.Context, port canbus.Port) error {
	return r.Play(ctx, func(frame Frame) {
		if frame.Type != "CAN" && frame.Type != "VWTP" && frame.Type != "OBD2" {
			return
		}
		_ = port.Send(canbus.Frame{ID: frame.ID, Data: frame.Data})
	})
}

// PlayIntoMemoryPort injects the session's raw CAN frames into port as if a
// peer ECU transmitted them, letting a test harness or simulator feed a
// higher-layer stack (vwtp.Stack, isotp.Session, obd2.Client) exactly what
// was captured on the wire.
func (r *Replayer) PlayIntoMemoryPort(ctx context.Context, port *canbus.MemoryPort) error {
	return r.Play(ctx, func(frame Frame) {
		if frame.Type != "CAN" && frame.Type != "VWTP" && frame.Type != "OBD2" {
			return
		}
		port.Inject(canbus.Frame{ID: frame.ID, Data: frame.Data})
	})
}

// JumpTo advances CurrentFrame to the first frame at or after t.
func (r *Replayer) JumpTo(t time.Time) error {
	for i, frame := range r.Session.Frames {
		if !frame.Timestamp.Before(t) {
			r.CurrentFrame = i
			return nil
		}
	}
	return fmt.Errorf("capture: no frame at or after %s", t)
}

// GetProgress returns how far through the session playback has advanced,
// as a value in [0,1].
func (r *Replayer) GetProgress() float64 {
	if len(r.Session.Frames) == 0 {
		return 0
	}
	return float64(r.CurrentFrame) / float64(len(r.Session.Frames))
}
