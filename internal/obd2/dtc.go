package obd2

import "fmt"

var dtcPrefix = [4]byte{'P', 'C', 'B', 'U'}

// DecodeDTC turns a 2-byte DTC word into its standard string form, e.g.
// P0301. The high 2 bits of the first byte select the P/C/B/U prefix, the
// next 2 bits are the first digit, and the remaining 12 bits are the last
// three hex digits.
func DecodeDTC(b [2]byte) string {
	prefix := dtcPrefix[b[0]>>6]
	firstDigit := (b[0] & 0x30) >> 4
	return fmt.Sprintf("%c%d%01X%02X", prefix, firstDigit, b[0]&0x0F, b[1])
}

// DTC is a decoded diagnostic trouble code.
type DTC struct {
	Code        string
	Description string
}

// ParseDTCs splits a service 3/7/0x0A response payload (after the
// service+count header) into individual 2-byte DTC words.
func ParseDTCs(data []byte) []DTC {
	var out []DTC
	for i := 0; i+1 < len(data); i += 2 {
		if data[i] == 0 && data[i+1] == 0 {
			continue // padding, not an absent code
		}
		out = append(out, DTC{Code: DecodeDTC([2]byte{data[i], data[i+1]})})
	}
	return out
}
