package security

import (
	"context"
	"testing"
)

// mockRequester stands in for a kwp.Session: Request returns scripted
// responses in order, keyed by call index.
type mockRequester struct {
	responses [][]byte
	calls     [][]byte
	call      int
}

func (m *mockRequester) Request(ctx context.Context, name string, params ...byte) ([]byte, error) {
	m.calls = append(m.calls, params)
	resp := m.responses[m.call]
	m.call++
	return resp, nil
}

func TestXorKeyComputeKey(t *testing.T) {
	key := XorKey{ECUIndex: LastSeedIndex}
	got, err := key.ComputeKey(0x12345678)
	if err != nil {
		t.Fatalf("ComputeKey failed: %v", err)
	}
	// Deterministic: same seed always produces the same key.
	got2, _ := key.ComputeKey(0x12345678)
	if got != got2 {
		t.Errorf("expected deterministic output, got %#x then %#x", got, got2)
	}
}

func TestXorKeyInvalidIndexFallsBackToLast(t *testing.T) {
	inRange := XorKey{ECUIndex: LastSeedIndex}
	outOfRange := XorKey{ECUIndex: -1}

	want, _ := inRange.ComputeKey(0xAABBCCDD)
	got, _ := outOfRange.ComputeKey(0xAABBCCDD)
	if got != want {
		t.Errorf("expected out-of-range index to fall back to LastSeedIndex, got %#x want %#x", got, want)
	}
}

func TestReadOnlyKeyComputeKey(t *testing.T) {
	key := ReadOnlyKey{}
	got, err := key.ComputeKey(0x1000)
	if err != nil {
		t.Fatalf("ComputeKey failed: %v", err)
	}
	want := uint32(0x1000) + DefaultReadOnlyPrekey
	if got != want {
		t.Errorf("expected %#x, got %#x", want, got)
	}
}

func TestUnlockSeedKeyHandshake(t *testing.T) {
	alg := XorKey{ECUIndex: LastSeedIndex}
	seed := uint32(0x01020304)
	key, _ := alg.ComputeKey(seed)

	seedResp := append([]byte{0x67, 0x01}, byte(seed>>24), byte(seed>>16), byte(seed>>8), byte(seed))
	req := &mockRequester{responses: [][]byte{seedResp, {0x67, 0x02}}}

	if err := Unlock(context.Background(), req, 1, alg); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}

	if len(req.calls) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(req.calls))
	}
	if req.calls[0][0] != 1 {
		t.Errorf("expected seed request at level 1, got %v", req.calls[0])
	}
	keyCall := req.calls[1]
	if keyCall[0] != 2 {
		t.Errorf("expected key submission at level 2, got level %d", keyCall[0])
	}
	gotKey := uint32(keyCall[1])<<24 | uint32(keyCall[2])<<16 | uint32(keyCall[3])<<8 | uint32(keyCall[4])
	if gotKey != key {
		t.Errorf("expected key %#x, got %#x", key, gotKey)
	}
}

func TestDeriveECUIndex(t *testing.T) {
	// Sum reduced modulo 64 (0x3f).
	hwID := []byte{0x01, 0x02, 0x03, 0xFF} // sum = 0x105 = 261, 261 & 0x3f = 5
	if got := DeriveECUIndex(hwID); got != 5 {
		t.Errorf("expected index 5, got %d", got)
	}
}

func TestReadHardwareID(t *testing.T) {
	req := &mockRequester{responses: [][]byte{{0x7A, 92, 0x10, 0x20, 0x30}}}
	hwID, err := ReadHardwareID(context.Background(), req)
	if err != nil {
		t.Fatalf("ReadHardwareID failed: %v", err)
	}
	want := []byte{0x10, 0x20, 0x30}
	if len(hwID) != len(want) {
		t.Fatalf("expected %v, got %v", want, hwID)
	}
	for i := range want {
		if hwID[i] != want[i] {
			t.Errorf("byte %d: expected %#x, got %#x", i, want[i], hwID[i])
		}
	}
	if req.calls[0][0] != ecuIdentificationLocalID {
		t.Errorf("expected local identifier %d, got %v", ecuIdentificationLocalID, req.calls[0])
	}
}

func TestUnlockAlreadyUnlockedSkipsKeySubmission(t *testing.T) {
	alg := XorKey{ECUIndex: LastSeedIndex}
	seedResp := []byte{0x67, 0x01, 0x00, 0x00, 0x00, 0x00} // all-zero seed: already unlocked
	req := &mockRequester{responses: [][]byte{seedResp}}

	if err := Unlock(context.Background(), req, 1, alg); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	if len(req.calls) != 1 {
		t.Errorf("expected only the seed request, got %d calls", len(req.calls))
	}
}
