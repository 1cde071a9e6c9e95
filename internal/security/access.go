package security

import (
	"context"
	"encoding/binary"
	"fmt"
)

// requester is the minimal surface needed from a kwp.Session to drive the
// securityAccess service, kept narrow here so this package doesn't import
// kwp (which already imports vwtp; security stays a leaf dependency used
// by both).
type requester interface {
	Request(ctx context.Context, name string, params ...byte) ([]byte, error)
}

// Unlock performs the seed/key challenge-response handshake for the given
// access level: requests a seed (level), computes the key via alg, and
// submits it (level+1). Returns nil once the ECU accepts the key. An
// all-zero seed means the ECU is already unlocked at this level, and no
// key is sent.
func Unlock(ctx context.Context, sess requester, level byte, alg Algorithm) error {
	seedResp, err := sess.Request(ctx, "securityAccess", level)
	if err != nil {
		return fmt.Errorf("security: seed request failed: %w", err)
	}
	seedBytes := seedResp[2:] // [service+0x40, level, seed...]
	if allZero(seedBytes) {
		return nil
	}
	seed := decodeSeed(seedBytes)
	key, err := alg.ComputeKey(seed)
	if err != nil {
		return fmt.Errorf("security: key computation failed: %w", err)
	}
	keyBytes := encodeKey(key, len(seedBytes))
	if _, err := sess.Request(ctx, "securityAccess", append([]byte{level + 1}, keyBytes...)...); err != nil {
		return fmt.Errorf("security: key rejected: %w", err)
	}
	return nil
}

// ecuIdentificationLocalID is the local identifier (92 decimal) the
// write-access flashing flow reads to get the ECU's hardware-ID block,
// whose bytewise sum selects the XorKey table entry via DeriveECUIndex.
const ecuIdentificationLocalID = 92

// ReadHardwareID requests the ECU's hardware-identification block
// (readEcuIdentification, local identifier 92) and returns it trimmed of
// the service-id/local-id echo, ready for DeriveECUIndex.
func ReadHardwareID(ctx context.Context, sess requester) ([]byte, error) {
	resp, err := sess.Request(ctx, "readEcuIdentification", ecuIdentificationLocalID)
	if err != nil {
		return nil, fmt.Errorf("security: reading ecu identification failed: %w", err)
	}
	if len(resp) < 2 {
		return nil, fmt.Errorf("security: short ecu identification response")
	}
	return resp[2:], nil
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func decodeSeed(b []byte) uint32 {
	var buf [4]byte
	copy(buf[4-len(b):], b)
	return binary.BigEndian.Uint32(buf[:])
}

func encodeKey(key uint32, width int) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], key)
	if width >= 4 {
		return buf[:]
	}
	return buf[4-width:]
}
