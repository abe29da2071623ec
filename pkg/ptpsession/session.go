// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ptpsession implements the PTP/IP handshake: dialing the two TCP
// sockets a device advertises, exchanging INIT_COMMAND/INIT_EVENT packets,
// and opening the single MTP session that rides on top of them.
package ptpsession

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/open-source-firmware/go-ptpip-wireless/pkg/optransport"
	"github.com/open-source-firmware/go-ptpip-wireless/pkg/ptpip"
)

var (
	// ErrAckMismatch is returned when an INIT_*_ACK frame decodes to the
	// wrong packet kind for the step of the handshake it was read in.
	ErrAckMismatch = errors.New("ptpsession: unexpected ack packet kind")
	// ErrAlreadyClosed is returned by Close on a session closed before.
	ErrAlreadyClosed = errors.New("ptpsession: already closed")
)

// Session is one open PTP/IP connection to a device: the command and event
// sockets, bound together by the event-pipe-id negotiated during Connect.
type Session struct {
	cmdConn   net.Conn
	evtConn   net.Conn
	Transport *optransport.Transport

	EventPipeID  uint32
	DeviceGUID   ptpip.GUID
	DeviceName   string
	transactions uint32

	closed bool
}

// Option configures Connect.
type Option func(*options)

type options struct {
	guid         ptpip.GUID
	friendlyName string
	dialTimeout  time.Duration
}

// WithGUID sets the 16-byte GUID sent in INIT_COMMAND_REQUEST. The device
// this module targets accepts an all-zero GUID, which is the default.
func WithGUID(g ptpip.GUID) Option {
	return func(o *options) { o.guid = g }
}

// WithFriendlyName sets the host name advertised in INIT_COMMAND_REQUEST.
// The source never populates this field; it defaults to empty here too
// (spec open item, see DESIGN.md).
func WithFriendlyName(name string) Option {
	return func(o *options) { o.friendlyName = name }
}

// WithDialTimeout bounds each of the two TCP dials. Zero means no timeout.
func WithDialTimeout(d time.Duration) Option {
	return func(o *options) { o.dialTimeout = d }
}

// Connect opens a PTP/IP session against addr:dataPort. Both the command
// and event TCP connections must succeed before any handshake byte is
// sent. Any failure during the six-step handshake closes whatever sockets
// were already open and returns a non-nil error. ctx bounds the dials and,
// via a watcher goroutine that closes both sockets on cancellation
// (the same "close to unblock a blocking read/write" idiom pkg/pairing and
// pkg/broadcast use), the handshake exchange that follows them.
func Connect(ctx context.Context, addr string, dataPort int, opts ...Option) (*Session, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	target := net.JoinHostPort(addr, fmt.Sprintf("%d", dataPort))
	dialer := net.Dialer{Timeout: o.dialTimeout}

	cmdConn, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		return nil, fmt.Errorf("ptpsession: dial command socket: %w", err)
	}
	evtConn, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		cmdConn.Close()
		return nil, fmt.Errorf("ptpsession: dial event socket: %w", err)
	}

	s := &Session{cmdConn: cmdConn, evtConn: evtConn, DeviceGUID: o.guid, DeviceName: o.friendlyName}

	stopped := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			cmdConn.Close()
			evtConn.Close()
		case <-stopped:
		}
	}()

	handshakeErr := s.handshake(o)
	close(stopped)
	if handshakeErr != nil {
		s.closeSockets()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ptpsession: handshake: %w", ctx.Err())
		}
		return nil, handshakeErr
	}

	s.Transport = optransport.New(cmdConn, evtConn)

	if err := s.openSession(); err != nil {
		s.Transport.Close()
		s.closeSockets()
		return nil, err
	}

	return s, nil
}

func (s *Session) handshake(o options) error {
	req := ptpip.InitCommandRequest{GUID: o.guid, FriendlyName: o.friendlyName}
	raw, err := req.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := s.cmdConn.Write(raw); err != nil {
		return fmt.Errorf("ptpsession: send InitCommandRequest: %w", err)
	}

	frame, err := ptpip.ReadFrame(s.cmdConn)
	if err != nil {
		return fmt.Errorf("ptpsession: read InitCommandAck: %w", err)
	}
	if frame.Kind != ptpip.KindInitCommandAck {
		return fmt.Errorf("%w: got %v, want InitCommandAck", ErrAckMismatch, frame.Kind)
	}
	ack, err := ptpip.UnmarshalInitCommandAck(frame.Payload)
	if err != nil {
		return err
	}
	s.EventPipeID = ack.EventPipeID
	if ack.FriendlyName != "" {
		s.DeviceName = ack.FriendlyName
	}

	evtReq := ptpip.InitEventRequest{EventPipeID: ack.EventPipeID}
	evtRaw, err := evtReq.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := s.evtConn.Write(evtRaw); err != nil {
		return fmt.Errorf("ptpsession: send InitEventRequest: %w", err)
	}

	evtFrame, err := ptpip.ReadFrame(s.evtConn)
	if err != nil {
		return fmt.Errorf("ptpsession: read InitEventAck: %w", err)
	}
	if evtFrame.Kind != ptpip.KindInitEventAck {
		return fmt.Errorf("%w: got %v, want InitEventAck", ErrAckMismatch, evtFrame.Kind)
	}
	return nil
}

// openSessionOpcode is the MTP OpenSession operation code, used here only
// to complete the PTP/IP handshake; the operation's payload semantics
// belong to the external MTP layer.
const openSessionOpcode = 0x1002

func (s *Session) openSession() error {
	s.transactions++
	req := ptpip.CmdRequest{
		DataPhase: 1,
		Container: ptpip.Container{
			Code:          openSessionOpcode,
			TransactionID: s.transactions,
			Nparam:        1,
			Params:        [5]uint32{1},
		},
	}
	if err := s.Transport.SendReq(req.Container); err != nil {
		return fmt.Errorf("ptpsession: OpenSession sendreq: %w", err)
	}
	if _, err := s.Transport.GetResp(); err != nil {
		return fmt.Errorf("ptpsession: OpenSession getresp: %w", err)
	}
	return nil
}

const closeSessionOpcode = 0x1003

// Close issues a best-effort CloseSession and releases both sockets.
// Errors closing the sockets are returned; a failed CloseSession is not,
// since by this point the caller is tearing the session down regardless.
func (s *Session) Close() error {
	if s.closed {
		return ErrAlreadyClosed
	}
	s.closed = true

	if s.Transport != nil {
		s.transactions++
		req := ptpip.Container{Code: closeSessionOpcode, TransactionID: s.transactions}
		if err := s.Transport.SendReq(req); err == nil {
			s.Transport.GetResp()
		}
	}

	return s.closeSockets()
}

func (s *Session) closeSockets() error {
	var firstErr error
	if s.evtConn != nil {
		if err := s.evtConn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.cmdConn != nil {
		if err := s.cmdConn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
