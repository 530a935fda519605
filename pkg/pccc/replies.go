package pccc

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// fileTypeWireCode maps a FileType to the wire byte PTL-family commands
// carry in their address header (spec section 6's file-type table).
func fileTypeWireCode(t FileType) byte {
	switch t {
	case FileTypeSTATUS:
		return 0x84
	case FileTypeBIN:
		return 0x85
	case FileTypeTIMER:
		return 0x86
	case FileTypeCOUNTER:
		return 0x87
	case FileTypeCONTROL:
		return 0x88
	case FileTypeINT:
		return 0x89
	case FileTypeFLOAT:
		return 0x8A
	case FileTypeSTRING:
		return 0x8D
	default:
		return 0
	}
}

// fileTypeFromWireCode is the dual of fileTypeWireCode, extended with
// the ASCII code 0x8E (mapped to FileTypeSTRING) that ReadSLCFileInfo
// may report. The BCD code 0x8F and every other code are rejected with
// ErrInvalidParameter.
func fileTypeFromWireCode(code byte) (FileType, error) {
	switch code {
	case 0x84:
		return FileTypeSTATUS, nil
	case 0x85:
		return FileTypeBIN, nil
	case 0x86:
		return FileTypeTIMER, nil
	case 0x87:
		return FileTypeCOUNTER, nil
	case 0x88:
		return FileTypeCONTROL, nil
	case 0x89:
		return FileTypeINT, nil
	case 0x8A:
		return FileTypeFLOAT, nil
	case 0x8D, 0x8E:
		return FileTypeSTRING, nil
	default:
		return 0, ErrInvalidParameter
	}
}

// replyResult turns a decoder error into the ResultCode a completed
// slot surfaces: ErrReplyMismatch on any decode failure, Success
// otherwise (spec section 4.6's "mismatch => reply-error").
func replyResult(err error) (ResultCode, error) {
	if err != nil {
		return ErrReplyMismatch, err
	}
	return Success, nil
}

// decodeEcho validates that an Echo reply's body matches what was sent,
// bytewise (spec section 4.6).
func decodeEcho(reply []byte, sent []byte) (ResultCode, error) {
	if len(reply) < 6 {
		return ErrReplyMismatch, ErrInvalidParameter
	}
	body := reply[6:]
	if len(body) != len(sent) || !bytes.Equal(body, sent) {
		return ErrReplyMismatch, fmt.Errorf("echo reply does not match sent payload")
	}
	return Success, nil
}

// decodeReadLinkParam checks that a ReadLinkParam reply carries the
// single parameter byte. It does not store the value anywhere;
// LinkParamValue reads it from the raw reply.
func decodeReadLinkParam(reply []byte) (ResultCode, error) {
	if len(reply) < 7 {
		return ErrReplyMismatch, ErrInvalidParameter
	}
	return Success, nil
}

// LinkParamValue returns the single decoded byte of a ReadLinkParam
// reply, for callers that want the value rather than just success/fail.
func LinkParamValue(reply []byte) (byte, error) {
	if len(reply) < 7 {
		return 0, ErrInvalidParameter
	}
	return reply[6], nil
}

// SLCFileInfo is the decoded result of a ReadSLCFileInfo reply (spec
// section 4.6).
type SLCFileInfo struct {
	Bytes    uint32
	Elements uint16
	Type     FileType
}

// decodeReadSLCFileInfo parses the (bytes, elements, reserved,
// file-type) body of a ReadSLCFileInfo reply.
func decodeReadSLCFileInfo(reply []byte) (SLCFileInfo, error) {
	if len(reply) < 6 {
		return SLCFileInfo{}, ErrInvalidParameter
	}
	body := reply[6:]
	if len(body) < 8 {
		return SLCFileInfo{}, ErrInvalidParameter
	}
	info := SLCFileInfo{
		Bytes:    binary.LittleEndian.Uint32(body[0:4]),
		Elements: binary.LittleEndian.Uint16(body[4:6]),
	}
	t, err := fileTypeFromWireCode(body[7])
	if err != nil {
		return SLCFileInfo{}, err
	}
	info.Type = t
	return info, nil
}

// decodePTLReadReply decodes count elements of fileType from a
// ProtectedTypedLogicalRead reply's body (spec section 4.6/9 scenario
// 6).
func decodePTLReadReply(reply []byte, fileType FileType, count int) ([]Element, error) {
	if len(reply) < 6 {
		return nil, ErrInvalidParameter
	}
	return DecodeElements(reply[6:], fileType, count)
}
