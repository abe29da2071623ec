// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ptpip

import (
	"fmt"

	"github.com/open-source-firmware/go-ptpip-wireless/pkg/wire"
)

// MaxChunkSize is the fixed fragmentation chunk used by outgoing data
// phases: every intermediate DATA_PACKET carries exactly this many payload
// bytes, and the final chunk (which may be shorter, or equal to it) is
// always sent as END_DATA_PACKET.
const MaxChunkSize = 32756

// MaxDataPhaseLength is the largest payload StartDataPacket's 32-bit
// total-length field can declare. A data phase whose accumulated size
// would exceed this must be rejected before it starts (spec open item:
// the wire contract cannot represent payloads >= 4 GiB).
const MaxDataPhaseLength = 0xffffffff

// StartDataPacket opens a data phase. TotalLength is the declared size of
// the payload that follows in subsequent DATA_PACKET/END_DATA_PACKET
// frames.
type StartDataPacket struct {
	TransactionID uint32
	TotalLength   uint32
}

func (s StartDataPacket) PacketKind() PacketKind { return KindStartData }

func (s StartDataPacket) MarshalBinary() ([]byte, error) {
	body := make([]byte, 0, 12)
	body = wire.AppendUint32LE(body, s.TransactionID)
	body = wire.AppendUint32LE(body, s.TotalLength)
	body = wire.AppendUint32LE(body, 0) // reserved
	return frame(KindStartData, body), nil
}

func UnmarshalStartDataPacket(payload []byte) (StartDataPacket, error) {
	var s StartDataPacket
	if len(payload) < 12 {
		return s, fmt.Errorf("%w: StartDataPacket too short", ErrProtocol)
	}
	tid, err := wire.Uint32LE(payload, 0)
	if err != nil {
		return s, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	total, err := wire.Uint32LE(payload, 4)
	if err != nil {
		return s, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	s.TransactionID = tid
	s.TotalLength = total
	return s, nil
}

// DataPacket carries one intermediate chunk of a data phase.
type DataPacket struct {
	TransactionID uint32
	Payload       []byte
}

func (d DataPacket) PacketKind() PacketKind { return KindData }

func (d DataPacket) MarshalBinary() ([]byte, error) {
	body := make([]byte, 0, 4+len(d.Payload))
	body = wire.AppendUint32LE(body, d.TransactionID)
	body = append(body, d.Payload...)
	return frame(KindData, body), nil
}

func UnmarshalDataPacket(payload []byte) (DataPacket, error) {
	var d DataPacket
	if len(payload) < 4 {
		return d, fmt.Errorf("%w: DataPacket too short", ErrProtocol)
	}
	tid, err := wire.Uint32LE(payload, 0)
	if err != nil {
		return d, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	d.TransactionID = tid
	d.Payload = payload[4:]
	return d, nil
}

// EndDataPacket carries the final chunk of a data phase (empty for a
// zero-size transfer; a full MaxChunkSize chunk for a transfer whose size
// is an exact multiple of MaxChunkSize).
type EndDataPacket struct {
	TransactionID uint32
	Payload       []byte
}

func (e EndDataPacket) PacketKind() PacketKind { return KindEndData }

func (e EndDataPacket) MarshalBinary() ([]byte, error) {
	body := make([]byte, 0, 4+len(e.Payload))
	body = wire.AppendUint32LE(body, e.TransactionID)
	body = append(body, e.Payload...)
	return frame(KindEndData, body), nil
}

func UnmarshalEndDataPacket(payload []byte) (EndDataPacket, error) {
	var e EndDataPacket
	if len(payload) < 4 {
		return e, fmt.Errorf("%w: EndDataPacket too short", ErrProtocol)
	}
	tid, err := wire.Uint32LE(payload, 0)
	if err != nil {
		return e, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	e.TransactionID = tid
	e.Payload = payload[4:]
	return e, nil
}
