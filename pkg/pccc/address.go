package pccc

import "encoding/binary"

// EncodeLogicalBinary renders a PLC address as the logical-binary form:
// a mask byte with bit i set iff level i (0..6) is present, followed by
// each present level's scalar-encoded value, lowest level first (spec
// section 4.8).
func EncodeLogicalBinary(levels map[int]uint16) ([]byte, error) {
	var mask byte
	for lvl := range levels {
		if lvl < 0 || lvl > 6 {
			return nil, ErrInvalidParameter
		}
		mask |= 1 << uint(lvl)
	}
	out := []byte{mask}
	for lvl := 0; lvl <= 6; lvl++ {
		v, ok := levels[lvl]
		if !ok {
			continue
		}
		out = append(out, encodeAddressScalar(v)...)
	}
	return out, nil
}

// DecodeLogicalBinary is the dual of EncodeLogicalBinary. It returns the
// decoded levels and the number of bytes consumed from b.
func DecodeLogicalBinary(b []byte) (map[int]uint16, int, error) {
	if len(b) < 1 {
		return nil, 0, ErrInvalidParameter
	}
	mask := b[0]
	idx := 1
	levels := make(map[int]uint16)
	for lvl := 0; lvl <= 6; lvl++ {
		if mask&(1<<uint(lvl)) == 0 {
			continue
		}
		v, n, err := decodeAddressScalar(b[idx:])
		if err != nil {
			return nil, 0, err
		}
		levels[lvl] = v
		idx += n
	}
	return levels, idx, nil
}

// encodeAddressScalar is the per-level scalar encoder: values 0..254 fit
// in a single byte; 255..65535 are marked with a leading 0xFF and
// carried as little-endian uint16 (spec section 4.8).
func encodeAddressScalar(v uint16) []byte {
	if v <= 254 {
		return []byte{byte(v)}
	}
	buf := make([]byte, 3)
	buf[0] = 0xFF
	binary.LittleEndian.PutUint16(buf[1:], v)
	return buf
}

func decodeAddressScalar(b []byte) (uint16, int, error) {
	if len(b) < 1 {
		return 0, 0, ErrInvalidParameter
	}
	if b[0] != 0xFF {
		return uint16(b[0]), 1, nil
	}
	if len(b) < 3 {
		return 0, 0, ErrInvalidParameter
	}
	return binary.LittleEndian.Uint16(b[1:3]), 3, nil
}

// EncodeLogicalASCII renders a PLC address as 0x00 '$' <text> 0x00; text
// must be 1..14 bytes (spec section 4.8).
func EncodeLogicalASCII(text string) ([]byte, error) {
	if len(text) < 1 || len(text) > 14 {
		return nil, ErrInvalidParameter
	}
	out := make([]byte, 0, 3+len(text))
	out = append(out, 0x00, '$')
	out = append(out, text...)
	out = append(out, 0x00)
	return out, nil
}

// DecodeLogicalASCII is the dual of EncodeLogicalASCII, returning the
// text and the number of bytes consumed.
func DecodeLogicalASCII(b []byte) (string, int, error) {
	if len(b) < 3 || b[0] != 0x00 || b[1] != '$' {
		return "", 0, ErrInvalidParameter
	}
	end := -1
	for i := 2; i < len(b); i++ {
		if b[i] == 0x00 {
			end = i
			break
		}
	}
	if end == -1 {
		return "", 0, ErrInvalidParameter
	}
	text := string(b[2:end])
	if len(text) < 1 || len(text) > 14 {
		return "", 0, ErrInvalidParameter
	}
	return text, end + 1, nil
}
