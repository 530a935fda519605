package pccc

import (
	"encoding/binary"
	"math"
)

// FileType is a data-table element's wire type (spec section 3/4.9). It
// is a closed set: anything else is InvalidParameter, matching the
// decided behaviour for the source's unsupported-file-type fallthrough
// (spec section 7 open questions).
type FileType uint8

const (
	FileTypeINT FileType = iota
	FileTypeBIN
	FileTypeFLOAT
	FileTypeSTATUS
	FileTypeTIMER
	FileTypeCOUNTER
	FileTypeCONTROL
	FileTypeSTRING
)

// WireSize returns the element's fixed wire size in bytes, or 0 for an
// unrecognised type.
func (t FileType) WireSize() int {
	switch t {
	case FileTypeINT, FileTypeBIN, FileTypeSTATUS:
		return 2
	case FileTypeFLOAT:
		return 4
	case FileTypeTIMER, FileTypeCOUNTER, FileTypeCONTROL:
		return 6
	case FileTypeSTRING:
		return 2 + stringMaxLen
	default:
		return 0
	}
}

// WordTriple is the three-word (flags, word1, word2) structure shared by
// TIMER/COUNTER/CONTROL elements (spec section 4.9).
type WordTriple struct {
	Flags uint16
	Word1 uint16
	Word2 uint16
}

// Timer bit-flag positions within WordTriple.Flags.
const (
	TimerEN         uint16 = 0x8000
	TimerTT         uint16 = 0x4000
	TimerDN         uint16 = 0x2000
	TimerBase1Sec   uint16 = 0x0200
)

// Counter bit-flag positions within WordTriple.Flags.
const (
	CounterCU uint16 = 0x8000
	CounterCD uint16 = 0x4000
	CounterDN uint16 = 0x2000
	CounterOV uint16 = 0x1000
	CounterUN uint16 = 0x0800
	CounterUA uint16 = 0x0400
)

// Control bit-flag positions within WordTriple.Flags.
const (
	ControlEN uint16 = 0x8000
	ControlEU uint16 = 0x4000
	ControlDN uint16 = 0x2000
	ControlEM uint16 = 0x1000
	ControlER uint16 = 0x0800
	ControlUL uint16 = 0x0400
	ControlIN uint16 = 0x0200
	ControlFD uint16 = 0x0100
)

const stringMaxLen = 82

// Element is a tagged data-table value: exactly one of the typed fields
// is meaningful, selected by Type (spec section 9's "closed tagged
// variant with exhaustive matching" guidance).
type Element struct {
	Type    FileType
	Int     int16
	Float   float32
	Words   WordTriple
	Str     string
}

// EncodeElement renders a single element to its wire bytes.
func EncodeElement(e Element) ([]byte, error) {
	switch e.Type {
	case FileTypeINT, FileTypeBIN, FileTypeSTATUS:
		buf := make([]byte, 2)
		binary.LittleEndian.PutUint16(buf, uint16(e.Int))
		return buf, nil
	case FileTypeFLOAT:
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, math.Float32bits(e.Float))
		return buf, nil
	case FileTypeTIMER, FileTypeCOUNTER, FileTypeCONTROL:
		return encodeWordTriple(e.Words), nil
	case FileTypeSTRING:
		return encodeString(e.Str)
	default:
		return nil, ErrInvalidParameter
	}
}

// DecodeElement parses one element's wire bytes of the declared type.
func DecodeElement(t FileType, data []byte) (Element, error) {
	size := t.WireSize()
	if size == 0 || len(data) < size {
		return Element{}, ErrInvalidParameter
	}
	switch t {
	case FileTypeINT, FileTypeBIN, FileTypeSTATUS:
		return Element{Type: t, Int: int16(binary.LittleEndian.Uint16(data))}, nil
	case FileTypeFLOAT:
		return Element{Type: t, Float: math.Float32frombits(binary.LittleEndian.Uint32(data))}, nil
	case FileTypeTIMER, FileTypeCOUNTER, FileTypeCONTROL:
		return Element{Type: t, Words: decodeWordTriple(data)}, nil
	case FileTypeSTRING:
		s, err := decodeString(data)
		if err != nil {
			return Element{}, err
		}
		return Element{Type: t, Str: s}, nil
	default:
		return Element{}, ErrInvalidParameter
	}
}

func encodeWordTriple(w WordTriple) []byte {
	buf := make([]byte, 6)
	binary.LittleEndian.PutUint16(buf[0:2], w.Flags)
	binary.LittleEndian.PutUint16(buf[2:4], w.Word1)
	binary.LittleEndian.PutUint16(buf[4:6], w.Word2)
	return buf
}

func decodeWordTriple(b []byte) WordTriple {
	return WordTriple{
		Flags: binary.LittleEndian.Uint16(b[0:2]),
		Word1: binary.LittleEndian.Uint16(b[2:4]),
		Word2: binary.LittleEndian.Uint16(b[4:6]),
	}
}

// encodeString implements the STRING codec's swapped-byte-pair wire
// layout (spec section 4.9): a 16-bit length, then exactly 82 bytes
// where wire position 2k holds text[2k+1] and 2k+1 holds text[2k], with
// the final byte of an odd-length string left unswapped and the
// remainder zero-padded.
func encodeString(s string) ([]byte, error) {
	if len(s) > stringMaxLen {
		return nil, ErrInvalidParameter
	}
	out := make([]byte, 2+stringMaxLen)
	binary.LittleEndian.PutUint16(out[0:2], uint16(len(s)))
	body := out[2:]
	n := len(s)
	i := 0
	for ; i+1 < n; i += 2 {
		body[i] = s[i+1]
		body[i+1] = s[i]
	}
	if i < n {
		body[i] = s[i]
	}
	return out, nil
}

func decodeString(b []byte) (string, error) {
	if len(b) < 2+stringMaxLen {
		return "", ErrInvalidParameter
	}
	n := int(binary.LittleEndian.Uint16(b[0:2]))
	if n > stringMaxLen {
		return "", ErrInvalidParameter
	}
	body := b[2 : 2+stringMaxLen]
	out := make([]byte, n)
	i := 0
	for ; i+1 < n; i += 2 {
		out[i] = body[i+1]
		out[i+1] = body[i]
	}
	if i < n {
		out[i] = body[i]
	}
	return string(out), nil
}

// EncodeElements concatenates the wire form of every element in order
// (the array codec's encode half, spec section 4.9).
func EncodeElements(elems []Element) ([]byte, error) {
	var out []byte
	for _, e := range elems {
		b, err := EncodeElement(e)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

// DecodeElements splits data into count fixed-size elements of type t.
// Any per-element decode failure aborts the whole array (spec section
// 4.9: "any per-element failure aborts").
func DecodeElements(data []byte, t FileType, count int) ([]Element, error) {
	size := t.WireSize()
	if size == 0 {
		return nil, ErrInvalidParameter
	}
	if len(data) < size*count {
		return nil, ErrInvalidParameter
	}
	out := make([]Element, count)
	for i := 0; i < count; i++ {
		e, err := DecodeElement(t, data[i*size:(i+1)*size])
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

// TypeSizeParam is the variable-length type/data parameter header used
// by some commands (spec section 4.9).
type TypeSizeParam struct {
	Type uint32
	Size uint32
}

// EncodeTypeSizeParam renders the flag byte TTT1TTT0 SSSS plus any
// extended little-endian value bytes.
func EncodeTypeSizeParam(p TypeSizeParam) ([]byte, error) {
	typeField, typeExtra, extType, err := packField(p.Type)
	if err != nil {
		return nil, err
	}
	sizeField, sizeExtra, extSize, err := packField(p.Size)
	if err != nil {
		return nil, err
	}
	var flag byte
	if extType {
		flag |= 0x80
	}
	flag |= (typeField & 0x07) << 4
	if extSize {
		flag |= 0x08
	}
	flag |= sizeField & 0x07

	out := make([]byte, 0, 1+len(typeExtra)+len(sizeExtra))
	out = append(out, flag)
	out = append(out, typeExtra...)
	out = append(out, sizeExtra...)
	return out, nil
}

// DecodeTypeSizeParam parses a type/data parameter header from b,
// returning the value and the number of bytes it consumed.
func DecodeTypeSizeParam(b []byte) (TypeSizeParam, int, error) {
	if len(b) < 1 {
		return TypeSizeParam{}, 0, ErrInvalidParameter
	}
	flag := b[0]
	extType := flag&0x80 != 0
	typeField := (flag >> 4) & 0x07
	extSize := flag&0x08 != 0
	sizeField := flag & 0x07

	idx := 1
	typeVal, n, err := unpackField(b[idx:], typeField, extType)
	if err != nil {
		return TypeSizeParam{}, 0, err
	}
	idx += n
	sizeVal, n, err := unpackField(b[idx:], sizeField, extSize)
	if err != nil {
		return TypeSizeParam{}, 0, err
	}
	idx += n
	return TypeSizeParam{Type: typeVal, Size: sizeVal}, idx, nil
}

// packField encodes one of the type/size three-bit fields: if v fits in
// 0..7 it is carried directly in the field; otherwise the field carries
// the byte-length of a little-endian extension, capped at 7 bytes (spec
// section 4.9).
func packField(v uint32) (field byte, extra []byte, extended bool, err error) {
	if v <= 7 {
		return byte(v), nil, false, nil
	}
	n := 0
	for tmp := v; tmp > 0; tmp >>= 8 {
		n++
	}
	if n > 7 {
		return 0, nil, false, ErrInvalidParameter
	}
	buf := make([]byte, n)
	tmp := v
	for i := 0; i < n; i++ {
		buf[i] = byte(tmp)
		tmp >>= 8
	}
	return byte(n), buf, true, nil
}

func unpackField(b []byte, field byte, extended bool) (uint32, int, error) {
	if !extended {
		return uint32(field), 0, nil
	}
	n := int(field)
	if n > len(b) {
		return 0, 0, ErrInvalidParameter
	}
	var v uint32
	for i := 0; i < n; i++ {
		v |= uint32(b[i]) << (8 * i)
	}
	return v, n, nil
}
