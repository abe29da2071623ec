// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ptpip

import (
	"fmt"
	"unicode/utf16"

	"github.com/open-source-firmware/go-ptpip-wireless/pkg/wire"
)

// GUID is the 16-byte identifier carried in the INIT_COMMAND handshake.
// The pairing protocol (pkg/pairing) renders the same identity as 32 hex
// ASCII characters; GUID is the wire form used once the PTP/IP session is
// open.
type GUID [16]byte

// encodeFriendlyName packs a name as a NUL-terminated UTF-16LE string. This
// is wire-level code-unit packing, not locale charset conversion: it never
// attempts to transliterate the name into anything but UTF-16 code units.
func encodeFriendlyName(name string) []byte {
	units := utf16.Encode([]rune(name))
	b := make([]byte, 0, 2*(len(units)+1))
	for _, u := range units {
		b = wire.AppendUint16LE(b, u)
	}
	return wire.AppendUint16LE(b, 0)
}

// decodeFriendlyName unpacks a NUL-terminated UTF-16LE string.
func decodeFriendlyName(b []byte) (string, error) {
	if len(b)%2 != 0 {
		return "", fmt.Errorf("%w: friendly name has odd byte length %d", ErrProtocol, len(b))
	}
	var units []uint16
	for i := 0; i+2 <= len(b); i += 2 {
		u, err := wire.Uint16LE(b, i)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	return string(utf16.Decode(units)), nil
}

// InitCommandRequest is sent host-to-device on the command socket to open
// a session. FriendlyName may be empty (spec open item: the source never
// populates it; this reimplementation makes it configurable).
type InitCommandRequest struct {
	GUID         GUID
	FriendlyName string
}

func (r InitCommandRequest) PacketKind() PacketKind { return KindInitCommandRequest }

func (r InitCommandRequest) MarshalBinary() ([]byte, error) {
	body := make([]byte, 0, 16)
	body = append(body, r.GUID[:]...)
	body = append(body, encodeFriendlyName(r.FriendlyName)...)
	return frame(KindInitCommandRequest, body), nil
}

func UnmarshalInitCommandRequest(payload []byte) (InitCommandRequest, error) {
	var r InitCommandRequest
	if len(payload) < 16 {
		return r, fmt.Errorf("%w: InitCommandRequest shorter than GUID", ErrProtocol)
	}
	copy(r.GUID[:], payload[:16])
	name, err := decodeFriendlyName(payload[16:])
	if err != nil {
		return r, err
	}
	r.FriendlyName = name
	return r, nil
}

// InitCommandAck is sent device-to-host in response to InitCommandRequest,
// carrying the event-pipe-id that binds the two sockets into one session.
type InitCommandAck struct {
	EventPipeID  uint32
	GUID         GUID
	FriendlyName string
}

func (a InitCommandAck) PacketKind() PacketKind { return KindInitCommandAck }

func (a InitCommandAck) MarshalBinary() ([]byte, error) {
	body := make([]byte, 0, 4+16)
	body = wire.AppendUint32LE(body, a.EventPipeID)
	body = append(body, a.GUID[:]...)
	body = append(body, encodeFriendlyName(a.FriendlyName)...)
	return frame(KindInitCommandAck, body), nil
}

func UnmarshalInitCommandAck(payload []byte) (InitCommandAck, error) {
	var a InitCommandAck
	if len(payload) < 4+16 {
		return a, fmt.Errorf("%w: InitCommandAck too short", ErrProtocol)
	}
	eid, err := wire.Uint32LE(payload, 0)
	if err != nil {
		return a, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	a.EventPipeID = eid
	copy(a.GUID[:], payload[4:20])
	name, err := decodeFriendlyName(payload[20:])
	if err != nil {
		return a, err
	}
	a.FriendlyName = name
	return a, nil
}

// InitEventRequest is sent host-to-device on the event socket, echoing the
// event-pipe-id received in InitCommandAck.
type InitEventRequest struct {
	EventPipeID uint32
}

func (r InitEventRequest) PacketKind() PacketKind { return KindInitEventRequest }

func (r InitEventRequest) MarshalBinary() ([]byte, error) {
	body := wire.AppendUint32LE(nil, r.EventPipeID)
	return frame(KindInitEventRequest, body), nil
}

func UnmarshalInitEventRequest(payload []byte) (InitEventRequest, error) {
	var r InitEventRequest
	eid, err := wire.Uint32LE(payload, 0)
	if err != nil {
		return r, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	r.EventPipeID = eid
	return r, nil
}

// InitEventAck is sent device-to-host on the event socket with an empty
// payload, completing the handshake.
type InitEventAck struct{}

func (InitEventAck) PacketKind() PacketKind { return KindInitEventAck }

func (InitEventAck) MarshalBinary() ([]byte, error) {
	return frame(KindInitEventAck, nil), nil
}

func UnmarshalInitEventAck(payload []byte) (InitEventAck, error) {
	return InitEventAck{}, nil
}
