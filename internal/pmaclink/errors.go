package pmaclink

import "fmt"

// ProtocolError is a decoded 0x07 error frame: byte 0x07, 'E','R','R', three
// decimal digits, 0x0D.
type ProtocolError struct {
	Code    int
	Command string
}

func (e *ProtocolError) Error() string {
	desc, ok := errorTable[e.Code]
	if !ok {
		desc = "unknown error"
	}
	if e.Command != "" {
		return fmt.Sprintf("pmaclink: controller error %03d (%s) for %q", e.Code, desc, e.Command)
	}
	return fmt.Sprintf("pmaclink: controller error %03d (%s)", e.Code, desc)
}

// errorTable is the fixed controller error-code table. Codes are 1-indexed:
// "command not allowed during program execution" is code 001, and code 0 is
// unused/reserved.
var errorTable = map[int]string{
	1:  "command not allowed during program execution",
	2:  "password error",
	3:  "data error",
	4:  "illegal character",
	5:  "buffer not open",
	6:  "buffer full",
	7:  "buffer in use",
	8:  "macro aux error",
	9:  "program structure error",
	10: "both overtravel limits set",
	11: "previous move not complete",
	12: "open loop motor",
	13: "inactive motor",
	14: "no motors in coordinate system",
	15: "invalid program pointer",
	16: "improperly structured program",
	17: "resume from bad stop",
	18: "phase reference error during move",
	19: "ccbuffer position change",
	20: "fsave flash incompatible",
	21: "fsave erasing",
	22: "fread flash bad",
}

// ErrorDescription returns the fixed-table description of a controller
// error code, or "" if the code is not one of the enumerated kinds.
func ErrorDescription(code int) string {
	return errorTable[code]
}

// CommandNotAllowedDuringProgram is error code 001: the ASCII mailbox
// retries the offending command exactly once on this error.
const CommandNotAllowedDuringProgram = 1

// IsRetryable reports whether code is the one protocol error the ASCII
// mailbox retries exactly once before giving up.
func IsRetryable(code int) bool {
	return code == CommandNotAllowedDuringProgram
}
