package obd2

// FunctionalRequestID is the broadcast arbitration ID every OBD-II tester
// request is sent on.
const FunctionalRequestID uint32 = 0x7DF

// responseIDs are the physical response IDs an ECU may reply on; flow
// control for ECU response rx is always sent back on rx-8.
var responseIDs = []uint32{0x7E8, 0x7E9, 0x7EA, 0x7EB, 0x7EC, 0x7ED, 0x7EE}

// ServiceName labels the current-data PIDs (service 1), keyed by PID.
// The map holds names only; the few PIDs with a scaling helper are decoded
// by the Decode* functions below, and the rest are left as raw bytes.
var ServiceName = map[byte]string{
	0x00: "Supported PIDs",
	0x01: "Monitor Status",
	0x02: "Freeze DTC",
	0x03: "Fuel System Status",
	0x04: "Calculated Engine Load",
	0x05: "Engine Coolant Temp",
	0x06: "Short Term Fuel Trim Bank 1",
	0x07: "Long Term Fuel Trim Bank 1",
	0x08: "Short Term Fuel Trim Bank 2",
	0x09: "Long Term Fuel Trim Bank 2",
	0x0A: "Fuel Pressure",
	0x0B: "Intake Manifold Abs. Pressure",
	0x0C: "Engine RPM",
	0x0D: "Vehicle Speed",
	0x0E: "Timing Advance",
	0x0F: "Intake Air Temp",
	0x10: "MAF Flow Rate",
	0x11: "Throttle Position",
	0x12: "Commanded Secondary Air Status",
	0x13: "Oxygen Sensors Present (2 banks)",
	0x1C: "OBD Standards",
	0x1F: "Run-time Since Engine Start",
	0x20: "Extended PIDs Supported",
	0x21: "Distance With Check Engine",
	0x2C: "Commanded EGR",
	0x2D: "EGR Error",
	0x2F: "Fuel Tank Level Input",
	0x33: "Absolute Barometric Pressure",
	0x40: "Extended PIDs Supported (0x40)",
	0x42: "Control Module Voltage",
	0x43: "Absolute Load Value",
	0x45: "Relative Throttle Position",
	0x46: "Ambient Air Temperature",
	0x51: "Fuel Type",
	0x52: "Ethanol Fuel %",
	0x5C: "Engine Oil Temperature",
	0x5E: "Engine Fuel Rate",
	0x60: "Extended PIDs Supported (0x60)",
	0x74: "Turbocharger RPM",
	0xA6: "Odometer",
}

const (
	ServiceCurrentData byte = 1
	ServiceFreezeFrame byte = 2
	ServiceStoredDTCs  byte = 3
	ServiceClearDTCs   byte = 4
	ServicePendingDTCs byte = 7
	ServiceVehicleInfo byte = 9
	ServicePermanentDTCs byte = 0x0A

	PIDSupported byte = 0x00
	PIDVIN       byte = 0x02

	// PositiveResponseOffset is added to the requested service id in a
	// positive response, e.g. service 1 replies with 0x41.
	PositiveResponseOffset byte = 0x40
)

// DecodeRPM applies the PID 0x0C formula: (256*A + B) / 4.
func DecodeRPM(a, b byte) float64 {
	return float64(uint16(a)*256+uint16(b)) / 4.0
}

// DecodeCoolantTemp applies the PID 0x05 formula: N - 40 == degrees C.
func DecodeCoolantTemp(n byte) int {
	return int(n) - 40
}

// DecodePercent applies the standard N/2.55 == % scaling used by several
// PIDs (throttle position, engine load, EGR commanded, fuel level).
func DecodePercent(n byte) float64 {
	return float64(n) / 2.55
}

// DecodeSpeedKPH applies the PID 0x0D formula: N == km/h.
func DecodeSpeedKPH(n byte) int {
	return int(n)
}
