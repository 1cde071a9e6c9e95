package vwtp

import "github.com/pkg/errors"

// Error kinds surfaced from the VWTP layer. Wait/retry recovery never
// reaches the caller; these are the ones that do.
var (
	ErrSetupTimeout    = errors.New("vwtp: channel setup timed out")
	ErrRetryExhausted  = errors.New("vwtp: ack retry limit exceeded")
	ErrShortFrame      = errors.New("vwtp: short or malformed frame")
	ErrPeerDisconnect  = errors.New("vwtp: peer disconnected")
	ErrReopenFailed    = errors.New("vwtp: channel reopen failed")
	ErrClosed          = errors.New("vwtp: channel closed")
	ErrNoFreeChannel   = errors.New("vwtp: no free rx channels")
	ErrSetupRejected   = errors.New("vwtp: setup request rejected by ecu")
)
