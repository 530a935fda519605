package pccc

import "fmt"

// Canonical local-link STS phrases spec section 4.7 names explicitly;
// other codes in 0x01..0x08 still render, with a generic phrase, rather
// than failing (mirrors localLinkErrorMap/extStsMap0F below, all
// patterned on the same closed-map-plus-fallback shape).
var localLinkErrorMap = map[byte]string{
	0x01: "destination out of buffers",
	0x05: "timeout",
	0x06: "duplicate node",
}

// extStsMap0F covers command 0x0F (data-table) extended STS codes
// 0x01..0x24 (spec section 4.7); only the codes the spec names are
// filled in, everything else falls through to the generic
// "Undefined EXT STS" phrase.
var extStsMap0F = map[byte]string{
	0x17: "type mismatch",
	0x1A: "file open by another node",
}

// extStsMapDH485 is the extended STS table for the DH-485-specific
// commands 0x0B, 0x1A, 0x1B. It has no entries, so every extended code
// for those commands renders through the generic fallback.
var extStsMapDH485 = map[byte]string{}

func isDH485Command(cmd byte) bool {
	return cmd == 0x0B || cmd == 0x1A || cmd == 0x1B
}

// DiagnoseSTS renders a reply's STS/extended-STS byte pair into a human
// description. It never fails: an unmapped extended code renders as
// "Undefined EXT STS 0xNN for CMD 0xMM" rather than erroring (spec
// section 4.7).
func DiagnoseSTS(cmd, sts, extSts byte) string {
	switch {
	case sts == 0x00:
		return "success"
	case sts >= 0x01 && sts <= 0x08:
		if desc, ok := localLinkErrorMap[sts]; ok {
			return desc
		}
		return fmt.Sprintf("local link error 0x%02X", sts)
	case sts == 0xF0:
		return diagnoseExtSTS(cmd, extSts)
	case sts == 0x10, sts == 0x20, sts == 0x30, sts == 0x40, sts == 0x50,
		sts == 0x60, sts == 0x70, sts == 0x80, sts == 0x90:
		return fmt.Sprintf("remote major error 0x%02X", sts)
	default:
		return fmt.Sprintf("undefined STS 0x%02X", sts)
	}
}

func diagnoseExtSTS(cmd, extSts byte) string {
	var table map[byte]string
	switch {
	case cmd == 0x0F:
		table = extStsMap0F
	case isDH485Command(cmd):
		table = extStsMapDH485
	}
	if table != nil {
		if desc, ok := table[extSts]; ok {
			return desc
		}
	}
	return fmt.Sprintf("Undefined EXT STS 0x%02X for CMD 0x%02X", extSts, cmd)
}

// ResultCode is the PCCC client library's local outcome for a command
// (spec section 4.5's ECMD_* family), mirroring the teacher's
// SDOAbortCode pattern: a typed code with an Error() method and a
// canonical description map.
type ResultCode uint8

const (
	Success ResultCode = iota
	ErrNoBuf
	ErrNoDeliver
	ErrTimeout
	ErrInvalidParameter
	ErrReplyMismatch
	ErrNotConnected
)

// resultCodeDescriptions is the canonical phrase for each ResultCode,
// analogous to the teacher's AbortCodeDescriptionMap.
var resultCodeDescriptions = map[ResultCode]string{
	Success:             "success",
	ErrNoBuf:             "no free command slot",
	ErrNoDeliver:         "link layer rejected delivery (NAK)",
	ErrTimeout:           "command timed out waiting for reply",
	ErrInvalidParameter:  "invalid parameter",
	ErrReplyMismatch:     "reply did not match the expected command",
	ErrNotConnected:      "session is not connected",
}

// Error implements the error interface so ResultCode can be returned and
// compared directly (errors.Is-style) by callers.
func (r ResultCode) Error() string {
	if desc, ok := resultCodeDescriptions[r]; ok {
		return desc
	}
	return fmt.Sprintf("unknown PCCC result code %d", uint8(r))
}
