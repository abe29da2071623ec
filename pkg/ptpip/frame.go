// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ptpip

import (
	"fmt"
	"io"

	"github.com/open-source-firmware/go-ptpip-wireless/pkg/netio"
)

// Frame is a decoded but not yet type-asserted PTP/IP packet: its header
// plus the raw payload bytes that follow it.
type Frame struct {
	Header
	Payload []byte
}

// ReadFrame reads one complete PTP/IP frame from r: the 8-byte header,
// then exactly Length-HeaderSize more bytes.
func ReadFrame(r io.Reader) (Frame, error) {
	hdr := make([]byte, HeaderSize)
	if err := netio.ReadExact(r, hdr); err != nil {
		return Frame{}, fmt.Errorf("ptpip: read header: %w", err)
	}
	h, err := DecodeHeader(hdr)
	if err != nil {
		return Frame{}, err
	}
	payload := make([]byte, h.Length-HeaderSize)
	if len(payload) > 0 {
		if err := netio.ReadExact(r, payload); err != nil {
			return Frame{}, fmt.Errorf("ptpip: read payload: %w", err)
		}
	}
	return Frame{Header: h, Payload: payload}, nil
}
