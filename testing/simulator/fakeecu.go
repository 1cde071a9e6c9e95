// Package simulator provides an in-process OBD-II fake ECU for exercising
// the canbus/isotp/obd2 stack without real hardware, plus TCP and serial
// writers that stream generated OBD-II-style messages.
package simulator

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/baconwaifu/vwdiag/internal/canbus"
)

const flowControlWait = 500 * time.Millisecond

// OBD2Responder answers functional OBD-II requests (broadcast on 0x7DF) on
// behalf of one or more simulated ECUs, replying on a single physical
// response id. It speaks the same single/first/consecutive-frame ISO-TP
// encoding as internal/isotp, reimplemented locally since the fake ECU sits
// on the opposite side of the conversation from internal/isotp.Endpoint.
type OBD2Responder struct {
	Port       *canbus.MemoryPort
	ResponseID uint32 // e.g. 0x7E8
	VIN        string
	PIDData    map[byte][]byte // pid -> raw data bytes (service 1 current data)
	DTCs       [][2]byte       // raw 2-byte DTC words returned by service 3

	mu   sync.Mutex
	done chan struct{}
}

// NewOBD2Responder builds a responder for one ECU on responseID. During a
// multi-frame reply it takes the next frame the tester sends, whatever its
// id, as the flow-control frame.
func NewOBD2Responder(port *canbus.MemoryPort, responseID uint32) *OBD2Responder {
	return &OBD2Responder{
		Port:       port,
		ResponseID: responseID,
		PIDData:    make(map[byte][]byte),
		done:       make(chan struct{}),
	}
}

// Run watches frames the tester transmits (via Port.Sent) and answers
// functional OBD-II requests until ctx is cancelled.
func (r *OBD2Responder) Run(ctx context.Context) {
	for {
		select {
		case frame, ok := <-r.Port.Sent():
			if !ok {
				return
			}
			if frame.ID != 0x7DF || len(frame.Data) < 3 {
				continue
			}
			svc, pid := frame.Data[1], frame.Data[2]
			r.handleRequest(ctx, svc, pid)
		case <-ctx.Done():
			return
		}
	}
}

func (r *OBD2Responder) handleRequest(ctx context.Context, svc, pid byte) {
	switch svc {
	case 1: // current data
		if pid == 0 {
			r.send(ctx, []byte{0x41, 0x00, 0xFF, 0xFF, 0xFF, 0xFF}) // claim all of PID 1-0x20 supported
			return
		}
		r.mu.Lock()
		data, ok := r.PIDData[pid]
		r.mu.Unlock()
		if ok {
			r.send(ctx, append([]byte{0x41, pid}, data...))
		}
	case 3: // stored DTCs
		payload := []byte{0x43, byte(len(r.DTCs))}
		for _, dtc := range r.DTCs {
			payload = append(payload, dtc[0], dtc[1])
		}
		r.send(ctx, payload)
	case 9: // vehicle info
		if pid == 2 && r.VIN != "" {
			r.send(ctx, append([]byte{0x49, 0x02}, []byte(r.VIN)...))
		}
	}
}

// send encodes payload as a single or multi-frame ISO-TP reply and
// transmits it, waiting out flow control (read from Port.Sent, the tester's
// outgoing side) for multi-frame sends.
func (r *OBD2Responder) send(ctx context.Context, payload []byte) {
	if len(payload) <= 7 {
		var buf [8]byte
		buf[0] = byte(len(payload))
		copy(buf[1:], payload)
		r.Port.Inject(canbus.Frame{ID: r.ResponseID, Data: append([]byte(nil), buf[:1+len(payload)]...)})
		return
	}

	var first [8]byte
	first[0] = 0x10 | byte((len(payload)>>8)&0x0F)
	first[1] = byte(len(payload) & 0xFF)
	copy(first[2:], payload[:6])
	r.Port.Inject(canbus.Frame{ID: r.ResponseID, Data: append([]byte(nil), first[:]...)})

	fcCtx, cancel := context.WithTimeout(ctx, flowControlWait)
	defer cancel()
	select {
	case <-r.Port.Sent():
	case <-fcCtx.Done():
		return // no flow control arrived; tester gave up
	}

	sent := 6
	seq := byte(1)
	for sent < len(payload) {
		var buf [8]byte
		buf[0] = 0x20 | (seq & 0x0F)
		n := copy(buf[1:], payload[sent:])
		r.Port.Inject(canbus.Frame{ID: r.ResponseID, Data: append([]byte(nil), buf[:1+n]...)})
		sent += n
		seq = (seq + 1) % 16
	}
}

// SetRPM sets the value service-1 PID 0x0C ("Engine RPM") reports, using the
// standard (256*A+B)/4 scaling.
func (r *OBD2Responder) SetRPM(rpm float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.PIDData[0x0C] = pidWord16(uint16(rpm * 4))
}

// SetSpeed sets the value service-1 PID 0x0D ("Vehicle Speed") reports, in
// km/h directly.
func (r *OBD2Responder) SetSpeed(kph byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.PIDData[0x0D] = []byte{kph}
}

func pidWord16(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}
