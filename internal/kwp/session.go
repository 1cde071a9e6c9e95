package kwp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/baconwaifu/vwdiag/internal/vwtp"
)

const (
	requestRetryDelay   = 50 * time.Millisecond
	testerPresentPeriod = 2 * time.Second
	responseTimeout     = 1 * time.Second
)

// transport is the minimal surface Session needs from its underlying VWTP
// channel.
type transport interface {
	Send(ctx context.Context, msg []byte) error
	Read(ctx context.Context) ([]byte, error)
}

// Session is one KWP2000 application-layer conversation with an ECU,
// carried over a VWTP channel. Requests are serialized: the keep-alive
// pinger and Request calls share one frame lock so a tester-present ping
// never interleaves with a pending request/response pair.
type Session struct {
	transport transport
	log       *log.Logger

	frameLock sync.Mutex

	mu          sync.RWMutex
	mfrRequests map[string]Request
	mfrResponses map[byte]string

	cancelKeepAlive context.CancelFunc
	keepAliveDone   chan struct{}
}

// NewSession builds a Session over ch. Call Begin to start the diagnostic
// session and keep-alive pinger.
func NewSession(ch transport, logger *log.Logger) *Session {
	return &Session{
		transport:    ch,
		log:          logger,
		mfrRequests:  make(map[string]Request),
		mfrResponses: make(map[byte]string),
	}
}

// RegisterService adds a manufacturer-specific (0xA0-0xBF) request to the
// catalog this session recognizes, addressable by name like the standard
// ones.
func (s *Session) RegisterService(name string, id byte) {
	s.mu.Lock()
	s.mfrRequests[name] = Request{Name: name, ID: id}
	s.mu.Unlock()
}

// RegisterResponseName records a label for a manufacturer-specific
// negative-response code in this session's table. NegativeResponseError's
// Error() string does not read this table: it names only codes found in
// NegativeResponseNames.
func (s *Session) RegisterResponseName(code byte, name string) {
	s.mu.Lock()
	s.mfrResponses[code] = name
	s.mu.Unlock()
}

// Begin starts the diagnostic session (service 0x10) with the given
// sub-function params (e.g. VW's 0x89 "DIAG" mode) and starts the
// tester-present keep-alive pinger.
func (s *Session) Begin(ctx context.Context, params ...byte) ([]byte, error) {
	resp, err := s.Request(ctx, "startDiagnosticSession", params...)
	if err != nil {
		return nil, err
	}
	kctx, cancel := context.WithCancel(context.Background())
	s.cancelKeepAlive = cancel
	s.keepAliveDone = make(chan struct{})
	go s.keepAliveLoop(kctx)
	return resp, nil
}

func (s *Session) keepAliveLoop(ctx context.Context) {
	defer close(s.keepAliveDone)
	t := time.NewTicker(testerPresentPeriod / 2)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if _, err := s.Request(ctx, "testerPresent"); err != nil {
				s.log.Debug("kwp: tester present failed, stopping keep-alive", "err", err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// Close stops the keep-alive pinger. It does not close the underlying
// channel.
func (s *Session) Close() {
	if s.cancelKeepAlive != nil {
		s.cancelKeepAlive()
		<-s.keepAliveDone
	}
}

func (s *Session) lookup(name string) (Request, bool) {
	if req, ok := Requests[name]; ok {
		return req, true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.mfrRequests[name]
	return req, ok
}

// Request sends the named service with the given raw parameter bytes and
// returns the positive response payload (the full frame, including the
// leading service+0x40 byte). A busy (EAGAIN-equivalent) negative response
// is retried automatically; a response-pending negative response is waited
// through. Any other negative response or decode failure is returned as an
// error.
func (s *Session) Request(ctx context.Context, name string, params ...byte) ([]byte, error) {
	req, ok := s.lookup(name)
	if !ok {
		return nil, fmt.Errorf("kwp: unknown request %q", name)
	}

	for {
		resp, err := s.requestOnce(ctx, req, params)
		switch {
		case err == errRetryRequest:
			select {
			case <-time.After(requestRetryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		case err != nil:
			return nil, err
		default:
			return resp, nil
		}
	}
}

func (s *Session) requestOnce(ctx context.Context, req Request, params []byte) ([]byte, error) {
	s.frameLock.Lock()
	defer s.frameLock.Unlock()

	msg := append([]byte{req.ID}, params...)
	if err := s.transport.Send(ctx, msg); err != nil {
		return nil, err
	}

	for {
		rctx, cancel := context.WithTimeout(ctx, responseTimeout)
		resp, err := s.transport.Read(rctx)
		cancel()
		if err != nil {
			return nil, ErrTimeout
		}
		check := s.check(resp, req.ID+PositiveResponseOffset)
		switch check {
		case nil:
			return resp, nil
		case errResponsePending:
			continue // recv again without resending, per the reference session
		default:
			return nil, check
		}
	}
}

// check validates resp against the expected positive-response id, or
// translates a negative response into the appropriate error/sentinel.
func (s *Session) check(resp []byte, want byte) error {
	if len(resp) == 0 {
		return ErrUnexpectedFrame
	}
	if resp[0] == NegativeResponseID {
		if len(resp) < 3 {
			return ErrUnexpectedFrame
		}
		service, code := resp[1], resp[2]
		switch code {
		case 0x21, 0x23:
			return errRetryRequest
		case 0x78:
			return errResponsePending
		case 0x33:
			return ErrPermissionDenied
		case 0x31:
			return ErrOutOfRange
		case 0x35:
			return ErrInvalidKey
		case 0x12:
			return ErrInvalidFormat
		}
		return &NegativeResponseError{Service: service, Code: code}
	}
	if resp[0] == want {
		return nil
	}
	return ErrUnexpectedFrame
}

var _ transport = (*vwtp.Channel)(nil)
