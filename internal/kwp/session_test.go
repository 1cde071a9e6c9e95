package kwp

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/charmbracelet/log"
)

func testLogger() *log.Logger {
	return log.New(os.Stderr)
}

// mockTransport is an in-process stand-in for a vwtp.Channel: Send records
// the last outgoing message, Read serves queued canned responses (or a
// handler function when set).
type mockTransport struct {
	mu        sync.Mutex
	lastSend  []byte
	responses [][]byte
	handler   func(req []byte) []byte
}

func (m *mockTransport) Send(ctx context.Context, msg []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSend = append([]byte(nil), msg...)
	if m.handler != nil {
		m.responses = append(m.responses, m.handler(msg))
	}
	return nil
}

func (m *mockTransport) Read(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.responses) == 0 {
		return nil, errors.New("mockTransport: no queued response")
	}
	resp := m.responses[0]
	m.responses = m.responses[1:]
	return resp, nil
}

func TestSessionRequestPositiveResponse(t *testing.T) {
	tr := &mockTransport{responses: [][]byte{{0x50, 0x89}}}
	sess := NewSession(tr, testLogger())

	resp, err := sess.Request(context.Background(), "startDiagnosticSession", 0x89)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if len(resp) != 2 || resp[0] != 0x50 {
		t.Errorf("unexpected response: %v", resp)
	}
	if len(tr.lastSend) != 2 || tr.lastSend[0] != 0x10 || tr.lastSend[1] != 0x89 {
		t.Errorf("unexpected outgoing request: %v", tr.lastSend)
	}
}

func TestSessionRequestBusyRetried(t *testing.T) {
	tr := &mockTransport{responses: [][]byte{
		{NegativeResponseID, 0x10, 0x21}, // busy-RepeatRequest
		{0x50, 0x89},
	}}
	sess := NewSession(tr, testLogger())

	resp, err := sess.Request(context.Background(), "startDiagnosticSession", 0x89)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if resp[0] != 0x50 {
		t.Errorf("unexpected response: %v", resp)
	}
}

func TestSessionRequestResponsePending(t *testing.T) {
	tr := &mockTransport{responses: [][]byte{
		{NegativeResponseID, 0x10, 0x78}, // responsePending, keep reading without resending
		{0x50, 0x89},
	}}
	sess := NewSession(tr, testLogger())

	resp, err := sess.Request(context.Background(), "startDiagnosticSession", 0x89)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if resp[0] != 0x50 {
		t.Errorf("unexpected response: %v", resp)
	}
}

func TestSessionRequestPermissionDenied(t *testing.T) {
	tr := &mockTransport{responses: [][]byte{{NegativeResponseID, 0x27, 0x33}}}
	sess := NewSession(tr, testLogger())

	_, err := sess.Request(context.Background(), "securityAccess", 0x01)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestSessionRequestUnknownService(t *testing.T) {
	tr := &mockTransport{}
	sess := NewSession(tr, testLogger())

	if _, err := sess.Request(context.Background(), "notARealService"); err == nil {
		t.Error("expected error for unknown service")
	}
}

func TestRegisterManufacturerService(t *testing.T) {
	tr := &mockTransport{responses: [][]byte{{0xE0}}}
	sess := NewSession(tr, testLogger())
	sess.RegisterService("vwCustom", 0xA0)

	resp, err := sess.Request(context.Background(), "vwCustom")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if len(tr.lastSend) != 1 || tr.lastSend[0] != 0xA0 {
		t.Errorf("unexpected outgoing request: %v", tr.lastSend)
	}
	if resp[0] != 0xE0 {
		t.Errorf("unexpected response: %v", resp)
	}
}
