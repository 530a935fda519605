// Package crc implements the checksum and little-endian field helpers
// shared by the DF1 link layer and the PCCC codec. Wire byte order is
// little-endian throughout.
package crc

import "encoding/binary"

// CRC16 is the DF1 variant of CRC-16: polynomial 0xA001, LSB-first,
// initial value 0. It is updated incrementally one byte at a time,
// mirroring the running-checksum style used elsewhere in this codebase.
type CRC16 uint16

const poly16 = 0xA001

// Single folds one byte into the running CRC.
func (c *CRC16) Single(b byte) {
	crc := uint16(*c)
	crc ^= uint16(b)
	for i := 0; i < 8; i++ {
		if crc&1 != 0 {
			crc = (crc >> 1) ^ poly16
		} else {
			crc = crc >> 1
		}
	}
	*c = CRC16(crc)
}

// Block folds every byte of buf into the running CRC, in order.
func (c *CRC16) Block(buf []byte) {
	for _, b := range buf {
		c.Single(b)
	}
}

// Compute returns the CRC-16 of buf starting from 0.
func Compute(buf []byte) CRC16 {
	var c CRC16
	c.Block(buf)
	return c
}

// BCC computes the DF1 Block Check Character: the two's-complement of the
// sum of all bytes, truncated to 8 bits.
func BCC(buf []byte) byte {
	var sum byte
	for _, b := range buf {
		sum += b
	}
	return byte(-int8(sum))
}

// PutUint16 writes v little-endian into buf (must have len(buf) >= 2).
func PutUint16(buf []byte, v uint16) { binary.LittleEndian.PutUint16(buf, v) }

// Uint16 reads a little-endian uint16 from buf (must have len(buf) >= 2).
func Uint16(buf []byte) uint16 { return binary.LittleEndian.Uint16(buf) }

// PutUint32 writes v little-endian into buf (must have len(buf) >= 4).
func PutUint32(buf []byte, v uint32) { binary.LittleEndian.PutUint32(buf, v) }

// Uint32 reads a little-endian uint32 from buf (must have len(buf) >= 4).
func Uint32(buf []byte) uint32 { return binary.LittleEndian.Uint32(buf) }
