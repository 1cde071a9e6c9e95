// Package isotp implements ISO 15765-2 segmentation over raw CAN frames,
// used by the OBD-II client for payloads that don't fit in one frame.
package isotp

import "fmt"

// PCI type occupies the upper nibble of the first payload byte.
const (
	pciSingle      byte = 0x0
	pciFirst       byte = 0x1
	pciConsecutive byte = 0x2
	pciFlowControl byte = 0x3
)

const (
	// FlowStatusContinue tells the sender to keep transmitting consecutive
	// frames.
	FlowStatusContinue byte = 0x0
	// FlowStatusWait tells the sender to pause and expect another flow
	// control frame.
	FlowStatusWait byte = 0x1
	// FlowStatusOverflow aborts the transfer.
	FlowStatusOverflow byte = 0x2
)

// FlowControl is the receiver-side frame governing consecutive-frame
// pacing, per ISO 15765-2 §6.
type FlowControl struct {
	Status         byte
	BlockSize      byte
	SeparationTime byte // ms for 0x00-0x7F, 100us units for 0xF1-0xF9
}

// DefaultFlowControl accepts the whole transfer with no block limit and a
// minimum separation time, matching the fixed frame the OBD-II client
// sends back to an ECU.
var DefaultFlowControl = FlowControl{Status: FlowStatusContinue, BlockSize: 0, SeparationTime: 0}

func (fc FlowControl) encode() [8]byte {
	var out [8]byte
	out[0] = pciFlowControl<<4 | (fc.Status & 0x0F)
	out[1] = fc.BlockSize
	out[2] = fc.SeparationTime
	for i := 3; i < 8; i++ {
		out[i] = 0x55 // pad per ISO-TP convention used by the reference ECU stack
	}
	return out
}

func decodeFlowControl(data []byte) (FlowControl, error) {
	if len(data) < 3 {
		return FlowControl{}, fmt.Errorf("isotp: short flow control frame: %d bytes", len(data))
	}
	pci := data[0] >> 4
	if pci != pciFlowControl {
		return FlowControl{}, fmt.Errorf("isotp: not a flow control frame, pci=%#x", pci)
	}
	return FlowControl{
		Status:         data[0] & 0x0F,
		BlockSize:      data[1],
		SeparationTime: data[2],
	}, nil
}

func separationDuration(st byte) (ms float64) {
	switch {
	case st <= 0x7F:
		return float64(st)
	case st >= 0xF1 && st <= 0xF9:
		return float64(100*(int(st)-0xF0)) / 1000.0
	default:
		return 10
	}
}
