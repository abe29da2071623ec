// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Implements little-endian pack/unpack helpers for fixed PTP/IP packet
// layouts. No assumption is made about the host's native byte order.
package wire

import "fmt"

// ErrShortBuffer is returned when a buffer is too small for the requested
// read or write offset.
type ErrShortBuffer struct {
	Offset, Need, Have int
}

func (e *ErrShortBuffer) Error() string {
	return fmt.Sprintf("wire: need %d bytes at offset %d, have %d", e.Need, e.Offset, e.Have)
}

// Uint16LE reads a little-endian uint16 at off.
func Uint16LE(b []byte, off int) (uint16, error) {
	if off < 0 || off+2 > len(b) {
		return 0, &ErrShortBuffer{off, 2, len(b)}
	}
	return uint16(b[off]) | uint16(b[off+1])<<8, nil
}

// Uint32LE reads a little-endian uint32 at off.
func Uint32LE(b []byte, off int) (uint32, error) {
	if off < 0 || off+4 > len(b) {
		return 0, &ErrShortBuffer{off, 4, len(b)}
	}
	return uint32(b[off]) | uint32(b[off+1])<<8 | uint32(b[off+2])<<16 | uint32(b[off+3])<<24, nil
}

// PutUint16LE writes v at off, growing no buffer: off+2 must already be in range.
func PutUint16LE(b []byte, off int, v uint16) error {
	if off < 0 || off+2 > len(b) {
		return &ErrShortBuffer{off, 2, len(b)}
	}
	b[off] = byte(v)
	b[off+1] = byte(v >> 8)
	return nil
}

// PutUint32LE writes v at off.
func PutUint32LE(b []byte, off int, v uint32) error {
	if off < 0 || off+4 > len(b) {
		return &ErrShortBuffer{off, 4, len(b)}
	}
	b[off] = byte(v)
	b[off+1] = byte(v >> 8)
	b[off+2] = byte(v >> 16)
	b[off+3] = byte(v >> 24)
	return nil
}

// AppendUint16LE appends v in little-endian order.
func AppendUint16LE(b []byte, v uint16) []byte {
	return append(b, byte(v), byte(v>>8))
}

// AppendUint32LE appends v in little-endian order.
func AppendUint32LE(b []byte, v uint32) []byte {
	return append(b, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}
