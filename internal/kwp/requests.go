// Package kwp implements the KWP2000 (ISO 14230-3) diagnostic application
// layer riding on top of a VWTP channel: request/response services,
// negative-response decoding, tester-present keep-alive and security
// access.
package kwp

// Request identifies one standard KWP2000 service by its request byte.
type Request struct {
	Name string
	ID   byte
}

// Requests is the standard KWP2000 service catalog, per ISO 14230-3:1996.
// Values 0xA0-0xBF are manufacturer-specific and registered per-session via
// Session.RegisterService.
var Requests = map[string]Request{
	"startDiagnosticSession":             {"startDiagnosticSession", 0x10},
	"ecuReset":                           {"ecuReset", 0x11},
	"readFreezeFrameData":                {"readFreezeFrameData", 0x12},
	"readDiagnosticTroubleCodes":         {"readDiagnosticTroubleCodes", 0x13},
	"clearDiagnosticInformation":         {"clearDiagnosticInformation", 0x14},
	"readStatusOfDiagnosticTroubleCodes": {"readStatusOfDiagnosticTroubleCodes", 0x17},
	"readDiagnosticTroubleCodesByStatus": {"readDiagnosticTroubleCodesByStatus", 0x18},
	"readDTCsUDS":                        {"readDTCsUDS", 0x19},
	"readEcuIdentification":              {"readEcuIdentification", 0x1A},
	"stopDiagnosticSession":              {"stopDiagnosticSession", 0x20},
	"readDataByLocalIdentifier":          {"readDataByLocalIdentifier", 0x21},
	"readDataByCommonIdentifier":         {"readDataByCommonIdentifier", 0x22},
	"readMemoryByAddress":                {"readMemoryByAddress", 0x23},
	"readScalingDataByIdentifierUDS":     {"readScalingDataByIdentifierUDS", 0x24},
	"setDataRates":                       {"setDataRates", 0x26},
	"securityAccess":                     {"securityAccess", 0x27},
	"authenticationUDS":                  {"authenticationUDS", 0x29},
	"dynamicallyDefineLocalIdentifier":   {"dynamicallyDefineLocalIdentifier", 0x2C},
	"writeDataByCommonIdentifier":        {"writeDataByCommonIdentifier", 0x2E},
	"inputOutputControlByCommonIdentifier": {"inputOutputControlByCommonIdentifier", 0x2F},
	"inputOutputControlByLocalIdentifier":  {"inputOutputControlByLocalIdentifier", 0x30},
	"startRoutineByLocalIdentifier":      {"startRoutineByLocalIdentifier", 0x31},
	"stopRoutineByLocalIdentifier":       {"stopRoutineByLocalIdentifier", 0x32},
	"requestRoutineResultsByLocalIdentifier": {"requestRoutineResultsByLocalIdentifier", 0x33},
	"requestDownload":                    {"requestDownload", 0x34},
	"requestUpload":                      {"requestUpload", 0x35},
	"transferData":                       {"transferData", 0x36},
	"requestTransferExit":                {"requestTransferExit", 0x37},
	"startRoutineByAddress":              {"startRoutineByAddress", 0x38},
	"stopRoutineByAddress":               {"stopRoutineByAddress", 0x39},
	"requestRoutineResultsByAddress":     {"requestRoutineResultsByAddress", 0x3A},
	"writeDataByLocalIdentifier":         {"writeDataByLocalIdentifier", 0x3B},
	"writeMemoryByAddress":               {"writeMemoryByAddress", 0x3D},
	"testerPresent":                      {"testerPresent", 0x3E},
	"escCode":                            {"escCode", 0x80},
	"accessTimingParametersUDS":          {"accessTimingParametersUDS", 0x83},
	"secureTransmissionUDS":              {"secureTransmissionUDS", 0x84},
	"controlDTCsUDS":                     {"controlDTCsUDS", 0x85},
	"responseOnEventUDS":                 {"responseOnEventUDS", 0x86},
	"linkControlUDS":                     {"linkControlUDS", 0x87},
}

// NegativeResponseNames maps a negative-response code (the third byte of a
// 0x7F response) to its ISO 14230-3 name. The upper half is
// manufacturer-specific and not listed here.
var NegativeResponseNames = map[byte]string{
	0x10: "generalReject",
	0x11: "serviceNotSupported",
	0x12: "subFunctionNotSupported-invalidFormat",
	0x21: "busy-RepeatRequest",
	0x22: "conditionsNotCorrect-or-requestSequenceError",
	0x23: "routineNotComplete",
	0x31: "requestOutOfRange",
	0x33: "securityAccessDenied",
	0x35: "invalidKey",
	0x36: "exceedNumberOfAttempts",
	0x37: "requiredTimeDelayNotExpired",
	0x40: "downloadNotAccepted",
	0x41: "improperDownloadType",
	0x42: "cantDownloadToSpecifiedAddress",
	0x43: "cantDownloadNumberOfBytesRequested",
	0x50: "uploadNotAccepted",
	0x51: "improperUploadType",
	0x52: "cantUploadFromSpecifiedAddress",
	0x53: "cantUploadNumberOfBytesRequested",
	0x71: "transferSuspended",
	0x72: "transferAborted",
	0x74: "illegalAddressInBlockTransfer",
	0x75: "illegalByteCountInBlockTransfer",
	0x76: "illegalBlockTransferType",
	0x77: "blockTransferDataChecksumError",
	0x78: "reqCorrectlyRcvd-RspPending",
	0x79: "incorrectByteCountDuringBlockTransfer",
}

// PositiveResponseOffset is added to a request's id to form its positive
// response id (bit 0x40 in ISO 14230-3 terms).
const PositiveResponseOffset byte = 0x40

// NegativeResponseID marks a negative response frame: [0x7F, service, code].
const NegativeResponseID byte = 0x7F
