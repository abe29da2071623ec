// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package broadcast answers UDP SRCH probes with this host's description,
// so that devices on the local network can discover a pairing-ready host.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"

	"github.com/open-source-firmware/go-ptpip-wireless/pkg/hostconfig"
)

// srchProbe is the literal probe a device sends, including its trailing
// NUL byte, which devices require for a compatible reply.
const srchProbe = "SRCH * HTTP/1.1\r\n\x00"

// ErrAlreadyRunning is returned by Start if the responder is already
// listening. The constraint is scoped to one Responder value rather than
// to the whole process.
var ErrAlreadyRunning = errors.New("broadcast: responder already running")

// Responder answers SRCH probes on a UDP socket.
type Responder struct {
	desc       hostconfig.HostDescription
	onAnswered func()

	mu   sync.Mutex
	conn *net.UDPConn
}

// Option configures a Responder at construction time.
type Option func(*Responder)

// OnProbeAnswered registers fn to be called after each successful SRCH
// reply is written, for callers that want to count probes answered
// (cmd/ptpiphostd wires this into a prometheus counter) without the core
// package depending on a metrics library itself.
func OnProbeAnswered(fn func()) Option {
	return func(r *Responder) { r.onAnswered = fn }
}

// New creates a Responder that will reply with desc.
func New(desc hostconfig.HostDescription, opts ...Option) *Responder {
	r := &Responder{desc: desc}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start binds addr (host:port, UDP) and answers SRCH probes until ctx is
// canceled or Stop is called. It blocks until the loop exits.
func (r *Responder) Start(ctx context.Context, addr string) error {
	r.mu.Lock()
	if r.conn != nil {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	udpAddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("broadcast: resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("broadcast: listen %s: %w", addr, err)
	}
	r.conn = conn
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.Stop()
	}()

	return r.loop(conn)
}

// Stop closes the listening socket, unblocking Start. Calling Stop when
// no responder is running is a no-op.
func (r *Responder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		log.Printf("broadcast: stop requested but no responder is running")
		return
	}
	r.conn.Close()
	r.conn = nil
}

func (r *Responder) loop(conn *net.UDPConn) error {
	buf := make([]byte, 2048)
	for {
		n, peer, err := conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Printf("broadcast: read: %v", err)
			continue
		}

		if string(buf[:n]) != srchProbe {
			log.Printf("broadcast: discarding non-SRCH datagram from %s", peer)
			continue
		}

		reply := r.buildReply()
		if _, err := conn.WriteToUDP(reply, peer); err != nil {
			log.Printf("broadcast: reply to %s: %v", peer, err)
			continue
		}
		if r.onAnswered != nil {
			r.onAnswered()
		}
	}
}

func (r *Responder) buildReply() []byte {
	d := r.desc
	body := fmt.Sprintf(
		"HTTP/1.1 200 OK\r\n"+
			"host-id:%s\r\n"+
			"host-type:%s\r\n"+
			"host-name:%s\r\n"+
			"host-mtp-protocol-version:%08d\r\n"+
			"host-request-port:%d\r\n"+
			"host-wireless-protocol-version:%08d\r\n",
		hostconfig.GUIDString(d.GUID), d.Type, d.Name, d.MTPProtocolVersion, d.PairingPort, d.WirelessProtocolVersion,
	)
	return append([]byte(body), 0)
}
