package link

import "errors"

var (
	ErrBufferOverflow  = errors.New("df1: application buffer overflow")
	ErrChecksumInvalid = errors.New("df1: checksum mismatch")
	ErrRunt            = errors.New("df1: frame shorter than minimum length")
	ErrHalfDuplexUnsupported = errors.New(
		"df1: half-duplex master/slave polling is not arbitrated, only full duplex is supported")
)
