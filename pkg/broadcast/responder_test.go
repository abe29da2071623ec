package broadcast

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/open-source-firmware/go-ptpip-wireless/pkg/hostconfig"
	"github.com/open-source-firmware/go-ptpip-wireless/pkg/ptpip"
)

func TestResponderAnswersSRCHProbe(t *testing.T) {
	desc := hostconfig.HostDescription{
		GUID:                   ptpip.GUID{1, 2, 3},
		Type:                   "camera-host",
		Name:                   "test-host",
		PairingPort:            15740,
		MTPProtocolVersion:     100,
		WirelessProtocolVersion: 1,
	}
	r := New(desc)

	listenConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	listenConn.Close()
	addr := listenConn.LocalAddr().(*net.UDPAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- r.Start(ctx, addr.String()) }()

	// Give the responder a moment to bind.
	var probeConn *net.UDPConn
	for i := 0; i < 50; i++ {
		probeConn, err = net.DialUDP("udp4", nil, addr)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	defer probeConn.Close()

	if _, err := probeConn.Write([]byte(srchProbe)); err != nil {
		t.Fatalf("write probe: %v", err)
	}

	probeConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 2048)
	n, err := probeConn.Read(buf)
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	reply := string(buf[:n])

	if !strings.HasPrefix(reply, "HTTP/1.1 200 OK\r\n") {
		t.Errorf("reply missing status line: %q", reply)
	}
	if !strings.Contains(reply, "host-name:test-host\r\n") {
		t.Errorf("reply missing host-name: %q", reply)
	}
	if !strings.Contains(reply, "host-mtp-protocol-version:00000100\r\n") {
		t.Errorf("reply missing zero-padded protocol version: %q", reply)
	}
	if !strings.HasSuffix(reply, "\x00") {
		t.Errorf("reply not NUL-terminated: %q", reply)
	}

	r.Stop()
	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
}

func TestResponderIgnoresNonSRCHDatagram(t *testing.T) {
	desc := hostconfig.HostDescription{GUID: ptpip.GUID{1}, Name: "h"}
	r := New(desc)

	listenConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	listenConn.Close()
	addr := listenConn.LocalAddr().(*net.UDPAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Start(ctx, addr.String())
	defer r.Stop()

	var probeConn *net.UDPConn
	for i := 0; i < 50; i++ {
		probeConn, err = net.DialUDP("udp4", nil, addr)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	defer probeConn.Close()

	probeConn.Write([]byte("GARBAGE\r\n\x00"))
	probeConn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	buf := make([]byte, 64)
	if _, err := probeConn.Read(buf); err == nil {
		t.Error("expected no reply to a non-SRCH datagram")
	}
}

func TestStopWithoutStartIsNoOp(t *testing.T) {
	r := New(hostconfig.HostDescription{})
	r.Stop()
}
