// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Implements PTP/IP packet framing: the six core packet kinds plus the
// recognized-but-unimplemented vendor kinds (ping, pong, transaction
// cancel), carrying opaque payloads only.
package ptpip

import (
	"errors"
	"fmt"

	"github.com/open-source-firmware/go-ptpip-wireless/pkg/wire"
)

// HeaderSize is the fixed 8-byte PTP/IP header: a little-endian total
// packet length (including itself) followed by a little-endian packet
// kind.
const HeaderSize = 8

// PacketKind identifies the kind of a PTP/IP frame.
type PacketKind uint32

const (
	KindInvalid            PacketKind = 0
	KindInitCommandRequest PacketKind = 1
	KindInitCommandAck     PacketKind = 2
	KindInitEventRequest   PacketKind = 3
	KindInitEventAck       PacketKind = 4
	KindOperationRequest   PacketKind = 6
	KindOperationResponse  PacketKind = 7
	KindEvent              PacketKind = 8
	KindStartData          PacketKind = 9
	KindData               PacketKind = 10
	KindCancel             PacketKind = 11
	KindEndData            PacketKind = 12

	// Vendor kinds recognized on the event socket. Ping is never
	// constructed by this module; Pong is sent only when
	// optransport.Transport.SetAutoPong is enabled.
	KindPing PacketKind = 0x0000fffe
	KindPong PacketKind = 0x0000ffff
)

func (k PacketKind) String() string {
	switch k {
	case KindInitCommandRequest:
		return "InitCommandRequest"
	case KindInitCommandAck:
		return "InitCommandAck"
	case KindInitEventRequest:
		return "InitEventRequest"
	case KindInitEventAck:
		return "InitEventAck"
	case KindOperationRequest:
		return "OperationRequest"
	case KindOperationResponse:
		return "OperationResponse"
	case KindEvent:
		return "Event"
	case KindStartData:
		return "StartData"
	case KindData:
		return "Data"
	case KindCancel:
		return "Cancel"
	case KindEndData:
		return "EndData"
	case KindPing:
		return "Ping"
	case KindPong:
		return "Pong"
	default:
		return fmt.Sprintf("Unknown(%#x)", uint32(k))
	}
}

var (
	// ErrProtocol covers malformed framing: truncated headers, lengths
	// that underflow the header size, and parameter counts outside the
	// wire contract.
	ErrProtocol = errors.New("ptpip: protocol error")
)

// Header is the 8-byte PTP/IP frame prefix.
type Header struct {
	Length uint32
	Kind   PacketKind
}

// DecodeHeader parses the 8-byte prefix of b. A length under HeaderSize is
// a protocol error per spec: it cannot even describe itself.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: header truncated (%d bytes)", ErrProtocol, len(b))
	}
	length, err := wire.Uint32LE(b, 0)
	if err != nil {
		return Header{}, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	kind, err := wire.Uint32LE(b, 4)
	if err != nil {
		return Header{}, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if length < HeaderSize {
		return Header{}, fmt.Errorf("%w: length %d shorter than header", ErrProtocol, length)
	}
	return Header{Length: length, Kind: PacketKind(kind)}, nil
}

// EncodeHeader writes the 8-byte prefix for a frame whose total length
// (including the header) is length.
func EncodeHeader(length uint32, kind PacketKind) []byte {
	b := make([]byte, 0, HeaderSize)
	b = wire.AppendUint32LE(b, length)
	b = wire.AppendUint32LE(b, uint32(kind))
	return b
}

// paramCount infers the number of trailing 4-byte parameters from the
// frame's residual length: (length - header - offset_of_first_param) / 4.
func paramCount(totalLength uint32, fixedPrefix int, max int) (int, error) {
	residual := int64(totalLength) - int64(HeaderSize) - int64(fixedPrefix)
	if residual < 0 {
		return 0, fmt.Errorf("%w: negative parameter residual", ErrProtocol)
	}
	if residual%4 != 0 {
		return 0, fmt.Errorf("%w: parameter residual %d is not a multiple of 4", ErrProtocol, residual)
	}
	n := int(residual / 4)
	if n > max {
		return 0, fmt.Errorf("%w: %d parameters exceeds maximum of %d", ErrProtocol, n, max)
	}
	return n, nil
}
