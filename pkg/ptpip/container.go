// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ptpip

import (
	"fmt"

	"github.com/open-source-firmware/go-ptpip-wireless/pkg/wire"
)

// Container is the language-neutral PTP tuple used for both operation
// requests and responses/events. Nparam is the number of leading Params
// entries in use; it is kept explicit as a distinct field validated
// against the 0..5 range on decode.
type Container struct {
	Code          uint16
	TransactionID uint32
	Params        [5]uint32
	Nparam        int
}

func (c Container) paramBytes() []byte {
	var b []byte
	for i := 0; i < c.Nparam; i++ {
		b = wire.AppendUint32LE(b, c.Params[i])
	}
	return b
}

// CmdRequest is CMD_REQUEST: a host-to-device operation request. DataPhase
// is always fixed to 1 by sendreq.
type CmdRequest struct {
	DataPhase uint32
	Container
}

func (r CmdRequest) PacketKind() PacketKind { return KindOperationRequest }

func (r CmdRequest) MarshalBinary() ([]byte, error) {
	if r.Nparam > 5 {
		return nil, fmt.Errorf("%w: CmdRequest has %d params, max 5", ErrProtocol, r.Nparam)
	}
	fixed := 4 + 2 + 4
	body := make([]byte, 0, fixed)
	body = wire.AppendUint32LE(body, r.DataPhase)
	body = wire.AppendUint16LE(body, r.Code)
	body = wire.AppendUint32LE(body, r.TransactionID)
	body = append(body, r.paramBytes()...)
	return frame(KindOperationRequest, body), nil
}

func UnmarshalCmdRequest(payload []byte, length uint32) (CmdRequest, error) {
	var r CmdRequest
	dp, err := wire.Uint32LE(payload, 0)
	if err != nil {
		return r, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	code, err := wire.Uint16LE(payload, 4)
	if err != nil {
		return r, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	tid, err := wire.Uint32LE(payload, 6)
	if err != nil {
		return r, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	n, err := paramCount(length, 4+2+4, 5)
	if err != nil {
		return r, err
	}
	r.DataPhase = dp
	r.Code = code
	r.TransactionID = tid
	r.Nparam = n
	for i := 0; i < n; i++ {
		p, err := wire.Uint32LE(payload, 10+4*i)
		if err != nil {
			return r, fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		r.Params[i] = p
	}
	return r, nil
}

// CmdResponse is CMD_RESPONSE: a device-to-host response.
type CmdResponse struct {
	Container
}

func (r CmdResponse) PacketKind() PacketKind { return KindOperationResponse }

func (r CmdResponse) MarshalBinary() ([]byte, error) {
	if r.Nparam > 5 {
		return nil, fmt.Errorf("%w: CmdResponse has %d params, max 5", ErrProtocol, r.Nparam)
	}
	body := make([]byte, 0, 2+4)
	body = wire.AppendUint16LE(body, r.Code)
	body = wire.AppendUint32LE(body, r.TransactionID)
	body = append(body, r.paramBytes()...)
	return frame(KindOperationResponse, body), nil
}

func UnmarshalCmdResponse(payload []byte, length uint32) (CmdResponse, error) {
	var r CmdResponse
	code, err := wire.Uint16LE(payload, 0)
	if err != nil {
		return r, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	tid, err := wire.Uint32LE(payload, 2)
	if err != nil {
		return r, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	n, err := paramCount(length, 2+4, 5)
	if err != nil {
		return r, err
	}
	r.Code = code
	r.TransactionID = tid
	r.Nparam = n
	for i := 0; i < n; i++ {
		p, err := wire.Uint32LE(payload, 6+4*i)
		if err != nil {
			return r, fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		r.Params[i] = p
	}
	return r, nil
}

// Event is EVENT: a device-to-host asynchronous notification, carried on
// the event socket only.
type Event struct {
	Container
}

func (e Event) PacketKind() PacketKind { return KindEvent }

func (e Event) MarshalBinary() ([]byte, error) {
	if e.Nparam > 3 {
		return nil, fmt.Errorf("%w: Event has %d params, max 3", ErrProtocol, e.Nparam)
	}
	body := make([]byte, 0, 2+4)
	body = wire.AppendUint16LE(body, e.Code)
	body = wire.AppendUint32LE(body, e.TransactionID)
	body = append(body, e.paramBytes()...)
	return frame(KindEvent, body), nil
}

func UnmarshalEvent(payload []byte, length uint32) (Event, error) {
	var e Event
	code, err := wire.Uint16LE(payload, 0)
	if err != nil {
		return e, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	tid, err := wire.Uint32LE(payload, 2)
	if err != nil {
		return e, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	n, err := paramCount(length, 2+4, 3)
	if err != nil {
		return e, err
	}
	e.Code = code
	e.TransactionID = tid
	e.Nparam = n
	for i := 0; i < n; i++ {
		p, err := wire.Uint32LE(payload, 6+4*i)
		if err != nil {
			return e, fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		e.Params[i] = p
	}
	return e, nil
}

// frame prepends the 8-byte header to body, where the header's length
// counts the whole frame.
func frame(kind PacketKind, body []byte) []byte {
	b := EncodeHeader(uint32(HeaderSize+len(body)), kind)
	return append(b, body...)
}
