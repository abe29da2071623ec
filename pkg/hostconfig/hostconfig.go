// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package hostconfig holds the configuration records shared by the
// broadcast responder and pairing listener: the host's own description,
// and the device records produced by a successful pairing.
package hostconfig

import (
	"encoding/hex"
	"fmt"
	"net"

	"github.com/google/uuid"

	"github.com/open-source-firmware/go-ptpip-wireless/pkg/ptpip"
)

// HostDescription is the input to the broadcast responder: the identity
// this host advertises to devices probing for it.
type HostDescription struct {
	GUID                   ptpip.GUID
	Type                   string
	Name                   string
	PairingPort            int
	MTPProtocolVersion     uint32
	WirelessProtocolVersion uint32
}

// GUIDString renders g as 32 lowercase hex ASCII characters, the form used
// on the pairing wire (as opposed to ptpip.GUID's raw 16-byte wire form).
func GUIDString(g ptpip.GUID) string {
	return hex.EncodeToString(g[:])
}

// ParseGUIDString parses a 32-hex-character device id into a ptpip.GUID.
func ParseGUIDString(s string) (ptpip.GUID, error) {
	var g ptpip.GUID
	if len(s) != 32 {
		return g, fmt.Errorf("hostconfig: device id %q is not 32 hex characters", s)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return g, fmt.Errorf("hostconfig: device id %q: %w", s, err)
	}
	copy(g[:], b)
	return g, nil
}

// NewRandomGUID mints a fresh 16-byte identity for a host that has not
// been configured with one, the same role a persisted "our guid" setting
// plays for the other pack repos that identify themselves with a
// uuid.UUID over the wire (the PTP-IP reference implementation's
// InitCommandRequestPacket). ptpip.GUID has no particular UUID version
// requirement, so a random (v4) uuid is flattened into it directly.
func NewRandomGUID() ptpip.GUID {
	var g ptpip.GUID
	copy(g[:], uuid.New()[:])
	return g
}

// DeviceRecord is created per successful pairing and is destroyed along
// with the session that owns it.
type DeviceRecord struct {
	GUID       ptpip.GUID
	Addr       net.IP
	DataPort   int
	Registered bool
}

// Zero reports whether d represents "no device connected within timeout"
// (a zero sin_addr signals this).
func (d DeviceRecord) Zero() bool {
	return d.Addr == nil || d.Addr.IsUnspecified()
}

// KnownDeviceStore is the durable "known devices" set an external
// collaborator owns; the pairing core never implements one itself.
// FilePersister below is a reference implementation for the daemon
// command.
type KnownDeviceStore interface {
	IsRegistered(guid ptpip.GUID) bool
	Register(guid ptpip.GUID)
}
