// Package security implements the seed/key security access algorithms
// used by KWP2000's securityAccess service (0x27).
package security

// seedData is the XorKey rotate/xor constant table, indexed by ECU. Most
// ECUs observed in the wild use the last entry regardless of their actual
// identity.
var seedData = [64]uint32{
	0x0A221289, 0x144890A1, 0x24212491, 0x290A0285,
	0x42145091, 0x504822C1, 0x0A24C4C1, 0x14252229,
	0x24250525, 0x2510A491, 0x28488863, 0x29148885,
	0x422184A5, 0x49128521, 0x50844A85, 0x620CC211,
	0x124452A9, 0x18932251, 0x2424A459, 0x29149521,
	0x42352621, 0x4A512289, 0x52A48911, 0x11891475,
	0x22346523, 0x4A3118D1, 0x64497111, 0x0AE34529,
	0x15398989, 0x22324A67, 0x2D12B489, 0x132A4A75,
	0x19B13469, 0x25D2C453, 0x4949349B, 0x524E9259,
	0x1964CA6B, 0x24F5249B, 0x28979175, 0x352A5959,
	0x3A391749, 0x51D44EA9, 0x564A4F25, 0x6AD52649,
	0x76493925, 0x25DE52C9, 0x332E9333, 0x68D64997,
	0x494947FB, 0x33749ACF, 0x5AD55B5D, 0x7F272A4F,
	0x35BD5B75, 0x3F5AD55D, 0x5B5B6DAD, 0x6B5DAD6B,
	0x75B57AD5, 0x5DBAD56F, 0x6DBF6AAD, 0x75775EB5,
	0x5AEDFED5, 0x6B5F7DD5, 0x6F757B6B, 0x5FBD5DBD,
}

// LastSeedIndex is the table entry most ECUs in the wild turn out to use,
// regardless of their actual index.
const LastSeedIndex = len(seedData) - 1

// DefaultReadOnlyPrekey is the additive constant used by the level-4
// (read-only access) key formula.
const DefaultReadOnlyPrekey uint32 = 0x00011170

// Algorithm computes a security access key from an ECU-supplied seed.
type Algorithm interface {
	ComputeKey(seed uint32) (uint32, error)
}

// DeriveECUIndex computes the seedData table index for the XOR-rotate
// variant from an ECU hardware-identification block: the bytewise sum of
// the block, reduced modulo the table size (64 entries, so & 0x3f).
func DeriveECUIndex(hwID []byte) int {
	sum := 0
	for _, b := range hwID {
		sum += int(b)
	}
	return sum & 0x3f
}

// XorKey implements the level-2 ("write" access) seed/key algorithm: five
// rounds of rotate-left-by-1, XORing in the ECU's seed table entry
// whenever the bit rotated out of the top was set.
type XorKey struct {
	// ECUIndex selects the seedData entry. Use LastSeedIndex when the
	// correct per-ECU index isn't known.
	ECUIndex int
}

// ComputeKey implements Algorithm.
func (k XorKey) ComputeKey(seed uint32) (uint32, error) {
	idx := k.ECUIndex
	if idx < 0 || idx >= len(seedData) {
		idx = LastSeedIndex
	}
	for i := 0; i < 5; i++ {
		rotated := (seed << 1) | (seed >> 31)
		if seed&0x80000000 != 0 {
			seed = seedData[idx] ^ rotated
		} else {
			seed = rotated
		}
	}
	return seed, nil
}

// ReadOnlyKey implements the level-4 (read-only access) algorithm: a
// simple additive offset with no rotation.
type ReadOnlyKey struct {
	Prekey uint32
}

// ComputeKey implements Algorithm.
func (k ReadOnlyKey) ComputeKey(seed uint32) (uint32, error) {
	prekey := k.Prekey
	if prekey == 0 {
		prekey = DefaultReadOnlyPrekey
	}
	return seed + prekey, nil
}

// BytecodeAlgorithm adapts an opaque SA2 bytecode executor (the
// challenge-response variant used by UDS flashing tools, where the
// transformation itself is shipped as ECU-specific bytecode rather than a
// fixed formula) to the Algorithm interface. Callers supply their own
// interpreter; this package only has room to hang it on the same seam as
// XorKey and ReadOnlyKey.
type BytecodeAlgorithm struct {
	Execute  func(bytecode []byte, seed uint32) (uint32, error)
	Bytecode []byte
}

// ComputeKey implements Algorithm.
func (b BytecodeAlgorithm) ComputeKey(seed uint32) (uint32, error) {
	return b.Execute(b.Bytecode, seed)
}
