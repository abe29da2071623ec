// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mtpdemo is an example stand-in for the external MTP layer that
// sits above an opened PTP/IP session. It is not part of the protocol
// implementation; it exists only so cmd/ptpiphostd has something to hand
// a freshly opened session to: it sends one GetDeviceInfo request and
// then logs whatever events the device reports.
package mtpdemo

import (
	"context"
	"errors"
	"log"

	"github.com/open-source-firmware/go-ptpip-wireless/pkg/optransport"
	"github.com/open-source-firmware/go-ptpip-wireless/pkg/ptpip"
	"github.com/open-source-firmware/go-ptpip-wireless/pkg/ptpsession"
)

// Opcode this demo sends. The real vocabulary belongs to the external MTP
// layer; this exists only so the demo has something to send.
const opGetDeviceInfo uint16 = 0x1001

// Run drives sess.Transport until ctx is canceled or an unrecoverable
// transport error occurs: it issues one GetDeviceInfo-shaped request to
// exercise sendreq/getdata/getresp, then loops on EventWait logging
// whatever the device reports.
func Run(ctx context.Context, sess *ptpsession.Session) error {
	nextTransactionID := uint32(2) // 1 was consumed by OpenSession during Connect

	if err := probeDeviceInfo(sess, nextTransactionID); err != nil {
		log.Printf("mtpdemo: GetDeviceInfo probe failed: %v", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		ev, err := sess.Transport.EventWait()
		if err != nil {
			if errors.Is(err, ptpip.ErrProtocol) {
				log.Printf("mtpdemo: malformed event, continuing: %v", err)
				continue
			}
			return err
		}
		log.Printf("mtpdemo: event code=%#04x transaction=%d params=%v",
			ev.Code, ev.TransactionID, ev.Params[:ev.Nparam])
	}
}

func probeDeviceInfo(sess *ptpsession.Session, transactionID uint32) error {
	req := ptpip.Container{Code: opGetDeviceInfo, TransactionID: transactionID}
	if err := sess.Transport.SendReq(req); err != nil {
		return err
	}

	var payload []byte
	if err := sess.Transport.GetData(func(chunk []byte) error {
		payload = append(payload, chunk...)
		return nil
	}); err != nil {
		// A device that answers straight away with CMD_RESPONSE (no data
		// phase) has already consumed the frame GetResp would otherwise
		// read; nothing left to recover here.
		if errors.Is(err, optransport.ErrUnexpectedResponse) {
			log.Printf("mtpdemo: GetDeviceInfo answered without a data phase")
			return nil
		}
		return err
	}

	resp, err := sess.Transport.GetResp()
	if err != nil {
		return err
	}
	log.Printf("mtpdemo: GetDeviceInfo returned %d bytes, resp code=%#04x", len(payload), resp.Code)
	return nil
}
