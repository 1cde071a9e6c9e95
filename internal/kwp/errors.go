package kwp

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel errors surfaced from negative-response codes that have their
// own distinct recovery path. A negative response code with none of these
// meanings surfaces as NegativeResponseError instead.
var (
	ErrPermissionDenied = errors.New("kwp: security access denied")
	ErrOutOfRange       = errors.New("kwp: request out of range")
	ErrInvalidKey       = errors.New("kwp: invalid security access key")
	ErrInvalidFormat    = errors.New("kwp: sub-function not supported or invalid format")
	ErrTimeout          = errors.New("kwp: request timed out")
	ErrUnexpectedFrame  = errors.New("kwp: response not a match for the pending request")

	// errRetryRequest and errResponsePending are handled internally by
	// Session.Request and never escape to the caller.
	errRetryRequest    = errors.New("kwp: busy or not yet complete, retry")
	errResponsePending = errors.New("kwp: response pending, keep waiting")
)

// NegativeResponseError wraps an ISO 14230-3 negative response that has no
// dedicated Go error, preserving the raw code and its name for logging.
type NegativeResponseError struct {
	Service byte
	Code    byte
}

func (e *NegativeResponseError) Error() string {
	if name, ok := NegativeResponseNames[e.Code]; ok {
		return fmt.Sprintf("kwp: negative response to service %#x: %s (%#x)", e.Service, name, e.Code)
	}
	return fmt.Sprintf("kwp: negative response to service %#x: unknown code %#x", e.Service, e.Code)
}
