package obd2

import "testing"

func TestDecodeDTC(t *testing.T) {
	cases := []struct {
		b    [2]byte
		want string
	}{
		{[2]byte{0x03, 0x01}, "P0301"},
		{[2]byte{0x01, 0x23}, "P0123"},
		{[2]byte{0x50, 0x00}, "C1000"},
		{[2]byte{0x00, 0x05}, "P0005"}, // fixed-width: leading zero must not be dropped
	}
	for _, c := range cases {
		if got := DecodeDTC(c.b); got != c.want {
			t.Errorf("DecodeDTC(%v) = %q, want %q", c.b, got, c.want)
		}
	}
}

func TestParseDTCsSkipsPadding(t *testing.T) {
	data := []byte{0x03, 0x01, 0x00, 0x00, 0x01, 0x23}
	dtcs := ParseDTCs(data)
	if len(dtcs) != 2 {
		t.Fatalf("expected 2 dtcs, got %d: %v", len(dtcs), dtcs)
	}
	if dtcs[0].Code != "P0301" || dtcs[1].Code != "P0123" {
		t.Errorf("unexpected dtcs: %+v", dtcs)
	}
}

func TestDecodeRPM(t *testing.T) {
	if got := DecodeRPM(0x1A, 0xF8); got != 1726 {
		t.Errorf("expected 1726, got %v", got)
	}
}

func TestDecodePercent(t *testing.T) {
	if got := DecodePercent(255); got < 99.9 || got > 100.1 {
		t.Errorf("expected ~100%%, got %v", got)
	}
	if got := DecodePercent(0); got != 0 {
		t.Errorf("expected 0%%, got %v", got)
	}
}

func TestDecodeCoolantTemp(t *testing.T) {
	if got := DecodeCoolantTemp(40); got != 0 {
		t.Errorf("expected 0C, got %v", got)
	}
}

func TestDecodeSupportedPIDBitmap(t *testing.T) {
	// All bits set: every PID from 1 to 0x20 is reported supported.
	pids := decodeSupportedPIDBitmap([]byte{0xFF, 0xFF, 0xFF, 0xFF}, 0x20)
	if len(pids) != 0x20 {
		t.Fatalf("expected 32 supported pids, got %d", len(pids))
	}
	for pid := byte(1); pid <= 0x20; pid++ {
		if !pids[pid] {
			t.Errorf("expected pid %#x supported", pid)
		}
	}

	// Only the LSB set maps to the highest pid in the block (0x20 here),
	// not pid 1 - the quirk this decoder has to replicate.
	pids = decodeSupportedPIDBitmap([]byte{0x00, 0x00, 0x00, 0x01}, 0x20)
	if len(pids) != 1 || !pids[0x20] {
		t.Errorf("expected only pid 0x20 supported, got %v", pids)
	}
}
