// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pairing implements the TCP pairing handshake: a CONNECT /
// SHOWPIN / REGISTER / STANDBY state machine driven by HTTP-shaped
// plaintext requests from the device.
package pairing

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/open-source-firmware/go-ptpip-wireless/pkg/hostconfig"
	"github.com/open-source-firmware/go-ptpip-wireless/pkg/ptpip"
)

// ErrProtocol covers pairing requests this listener cannot make sense of:
// an unrecognized verb, or a CONNECT whose device-id header is not a
// 32-hex-character GUID.
var ErrProtocol = errors.New("pairing: protocol error")

// DeviceInfo is the wireless device descriptor parsed from a SHOWPIN
// request's headers, passed to Callbacks.CreateRegisterPIN.
type DeviceInfo struct {
	DeviceID   string
	DeviceType string
	MACAddr    string
	DeviceName string
	DataPort   int
}

// Callbacks is implemented by the external MTP layer to drive
// registration decisions. Both methods may block.
type Callbacks interface {
	// IsRegistered reports whether guid is already a known, paired
	// device.
	IsRegistered(guid ptpip.GUID) bool
	// CreateRegisterPIN shows info to the user and returns the PIN they
	// must enter on the device to confirm pairing, or a negative number
	// with a non-nil error if the user declined.
	CreateRegisterPIN(info DeviceInfo) (pin int, err error)
}

// PINError lets a Callbacks implementation control the numeric errorcode
// sent in REGISTERCANCEL when CreateRegisterPIN declines. Callbacks that
// return a plain error get a fixed errorcode of -1.
type PINError struct {
	Code int
	Err  error
}

func (e *PINError) Error() string { return e.Err.Error() }
func (e *PINError) Unwrap() error { return e.Err }

type connState int

const (
	stateIdle connState = iota
	stateAwaitRegister
)

// Listener runs the pairing TCP server.
type Listener struct {
	callbacks Callbacks
}

// New creates a Listener that consults callbacks for registration
// decisions.
func New(callbacks Callbacks) *Listener {
	return &Listener{callbacks: callbacks}
}

// GetWirelessDevice accepts pairing connections on addr until a device
// reaches STANDBY, ctx is canceled, or timeout elapses (0 means wait
// indefinitely). A zero DeviceRecord with a nil error means the timeout
// elapsed with no device connected.
func (l *Listener) GetWirelessDevice(ctx context.Context, addr string, timeout time.Duration) (hostconfig.DeviceRecord, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return hostconfig.DeviceRecord{}, fmt.Errorf("pairing: listen %s: %w", addr, err)
	}
	defer ln.Close()

	if timeout > 0 {
		if tl, ok := ln.(*net.TCPListener); ok {
			tl.SetDeadline(time.Now().Add(timeout))
		}
	}

	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			ln.Close()
		case <-stopped:
		}
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return hostconfig.DeviceRecord{}, nil
			}
			if errors.Is(err, net.ErrClosed) {
				if ctx.Err() != nil {
					return hostconfig.DeviceRecord{}, ctx.Err()
				}
				return hostconfig.DeviceRecord{}, nil
			}
			return hostconfig.DeviceRecord{}, fmt.Errorf("pairing: accept: %w", err)
		}

		rec, done, err := l.handleConn(conn)
		conn.Close()
		if err != nil {
			log.Printf("pairing: connection error: %v", err)
			continue
		}
		if done {
			return rec, nil
		}
	}
}

type pairingRequest struct {
	Method  string
	Headers map[string]string
}

// readPairingRequest parses one `<METHOD> * HTTP/1.1\r\n` block followed
// by header lines up to a blank line. Each header value is an owning
// copy produced by bufio.Reader.ReadString, never an alias into a shared
// read buffer.
func readPairingRequest(r *bufio.Reader) (pairingRequest, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return pairingRequest{}, err
	}
	line = strings.TrimRight(line, "\r\n")
	method, _, _ := strings.Cut(line, " ")

	req := pairingRequest{Method: method, Headers: make(map[string]string)}
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return pairingRequest{}, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		req.Headers[strings.ToLower(k)] = v
	}
	return req, nil
}

func writeStatus(w io.Writer, status string) error {
	_, err := fmt.Fprintf(w, "HTTP/1.1 %s\r\n", status)
	return err
}

func writeRegisterCancel(w io.Writer, errCode int) error {
	_, err := fmt.Fprintf(w, "REGISTERCANCEL * HTTP/1.1\r\nerrorcode:%d\r\n", errCode)
	return err
}

// handleConn drives the state machine for one TCP connection. done is
// true only once STANDBY has been received; a plain EOF before that
// point is reported as (zero, false, nil) so the caller keeps accepting.
func (l *Listener) handleConn(conn net.Conn) (rec hostconfig.DeviceRecord, done bool, err error) {
	reader := bufio.NewReader(conn)

	var (
		state      = stateIdle
		guid       ptpip.GUID
		dataPort   int
		pendingPIN int
		pinSet     bool
		registered bool
	)

	for {
		req, err := readPairingRequest(reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return hostconfig.DeviceRecord{}, false, nil
			}
			return hostconfig.DeviceRecord{}, false, fmt.Errorf("pairing: read request: %w", err)
		}

		switch req.Method {
		case "CONNECT":
			g, err := hostconfig.ParseGUIDString(req.Headers["device-id"])
			if err != nil {
				return hostconfig.DeviceRecord{}, false, fmt.Errorf("%w: CONNECT: %v", ErrProtocol, err)
			}
			port, _ := strconv.Atoi(req.Headers["device-port"])
			guid = g
			dataPort = port
			if registered || l.callbacks.IsRegistered(g) {
				writeStatus(conn, "210 OK")
			} else {
				writeStatus(conn, "605 NG")
			}

		case "SHOWPIN":
			info := DeviceInfo{
				DeviceID:   req.Headers["device-id"],
				DeviceType: req.Headers["device-type"],
				MACAddr:    req.Headers["mac-addr"],
				DeviceName: req.Headers["device-name"],
				DataPort:   dataPort,
			}
			pin, cerr := l.callbacks.CreateRegisterPIN(info)
			writeStatus(conn, "200 OK")
			if pin < 0 {
				code := -1
				var pinErr *PINError
				if errors.As(cerr, &pinErr) {
					code = pinErr.Code
				}
				writeRegisterCancel(conn, code)
				pinSet = false
			} else {
				pendingPIN = pin
				pinSet = true
			}
			state = stateAwaitRegister

		case "REGISTER":
			regGUID, gerr := hostconfig.ParseGUIDString(req.Headers["device-id"])
			given, perr := strconv.Atoi(req.Headers["pin-code"])
			if gerr != nil || regGUID != guid || perr != nil || !pinSet || given != pendingPIN {
				writeStatus(conn, "610 NG")
			} else {
				registered = true
				writeStatus(conn, "200 OK")
			}
			pinSet = false
			state = stateIdle

		case "STANDBY":
			tcpAddr, _ := conn.RemoteAddr().(*net.TCPAddr)
			var ip net.IP
			if tcpAddr != nil {
				ip = tcpAddr.IP
			}
			return hostconfig.DeviceRecord{
				GUID:       guid,
				Addr:       ip,
				DataPort:   dataPort,
				Registered: registered,
			}, true, nil

		case "REGISTERRESULT", "REGISTERCANCEL":
			log.Printf("pairing: %s received from %s", req.Method, conn.RemoteAddr())

		default:
			return hostconfig.DeviceRecord{}, false, fmt.Errorf("%w: unexpected verb %q in state %v", ErrProtocol, req.Method, state)
		}
	}
}
