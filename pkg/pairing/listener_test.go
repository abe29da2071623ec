package pairing

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/open-source-firmware/go-ptpip-wireless/pkg/hostconfig"
	"github.com/open-source-firmware/go-ptpip-wireless/pkg/ptpip"
)

type fakeCallbacks struct {
	registered map[ptpip.GUID]bool
	pin        int
	pinErr     error
}

func (f *fakeCallbacks) IsRegistered(guid ptpip.GUID) bool { return f.registered[guid] }

func (f *fakeCallbacks) CreateRegisterPIN(info DeviceInfo) (int, error) {
	return f.pin, f.pinErr
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

func dialAndWait(t *testing.T, addr string) net.Conn {
	t.Helper()
	var conn net.Conn
	var err error
	for i := 0; i < 50; i++ {
		conn, err = net.Dial("tcp", addr)
		if err == nil {
			return conn
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("dial %s: %v", addr, err)
	return nil
}

func TestFullPairingFlowReachesStandby(t *testing.T) {
	cb := &fakeCallbacks{registered: map[ptpip.GUID]bool{}, pin: 4242}
	l := New(cb)
	addr := freeAddr(t)

	resultCh := make(chan hostconfig.DeviceRecord, 1)
	errCh := make(chan error, 1)
	go func() {
		rec, err := l.GetWirelessDevice(context.Background(), addr, 5*time.Second)
		resultCh <- rec
		errCh <- err
	}()

	conn := dialAndWait(t, addr)
	defer conn.Close()
	r := bufio.NewReader(conn)

	guid := strings.Repeat("ab", 16)
	fmt.Fprintf(conn, "CONNECT * HTTP/1.1\r\ndevice-id:%s\r\ndevice-port:15740\r\n\r\n", guid)
	status, _ := r.ReadString('\n')
	if !strings.Contains(status, "605") {
		t.Fatalf("expected 605 NG for unknown device, got %q", status)
	}

	fmt.Fprintf(conn, "SHOWPIN * HTTP/1.1\r\ndevice-id:%s\r\ndevice-name:cam\r\n\r\n", guid)
	status, _ = r.ReadString('\n')
	if !strings.Contains(status, "200") {
		t.Fatalf("expected 200 OK for SHOWPIN, got %q", status)
	}

	fmt.Fprintf(conn, "REGISTER * HTTP/1.1\r\ndevice-id:%s\r\npin-code:4242\r\n\r\n", guid)
	status, _ = r.ReadString('\n')
	if !strings.Contains(status, "200") {
		t.Fatalf("expected 200 OK for correct PIN, got %q", status)
	}

	fmt.Fprintf(conn, "STANDBY * HTTP/1.1\r\n\r\n")
	conn.Close()

	select {
	case rec := <-resultCh:
		if err := <-errCh; err != nil {
			t.Fatalf("GetWirelessDevice error: %v", err)
		}
		if rec.Zero() {
			t.Fatal("expected a non-zero device record")
		}
		if rec.DataPort != 15740 {
			t.Errorf("DataPort = %d, want 15740", rec.DataPort)
		}
		if !rec.Registered {
			t.Error("expected Registered = true")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for GetWirelessDevice")
	}
}

func TestConnectKnownDeviceGets210(t *testing.T) {
	guid, err := hostconfig.ParseGUIDString(strings.Repeat("cd", 16))
	if err != nil {
		t.Fatalf("ParseGUIDString: %v", err)
	}
	cb := &fakeCallbacks{registered: map[ptpip.GUID]bool{guid: true}}
	l := New(cb)
	addr := freeAddr(t)

	go l.GetWirelessDevice(context.Background(), addr, 2*time.Second)

	conn := dialAndWait(t, addr)
	defer conn.Close()
	r := bufio.NewReader(conn)

	fmt.Fprintf(conn, "CONNECT * HTTP/1.1\r\ndevice-id:%s\r\ndevice-port:1\r\n\r\n", strings.Repeat("cd", 16))
	status, _ := r.ReadString('\n')
	if !strings.Contains(status, "210") {
		t.Fatalf("expected 210 OK for known device, got %q", status)
	}
}

func TestWrongPINGets610(t *testing.T) {
	cb := &fakeCallbacks{registered: map[ptpip.GUID]bool{}, pin: 1111}
	l := New(cb)
	addr := freeAddr(t)
	go l.GetWirelessDevice(context.Background(), addr, 2*time.Second)

	conn := dialAndWait(t, addr)
	defer conn.Close()
	r := bufio.NewReader(conn)

	guid := strings.Repeat("11", 16)
	fmt.Fprintf(conn, "CONNECT * HTTP/1.1\r\ndevice-id:%s\r\ndevice-port:1\r\n\r\n", guid)
	r.ReadString('\n')

	fmt.Fprintf(conn, "SHOWPIN * HTTP/1.1\r\ndevice-id:%s\r\n\r\n", guid)
	r.ReadString('\n')

	fmt.Fprintf(conn, "REGISTER * HTTP/1.1\r\ndevice-id:%s\r\npin-code:9999\r\n\r\n", guid)
	status, _ := r.ReadString('\n')
	if !strings.Contains(status, "610") {
		t.Fatalf("expected 610 NG for wrong PIN, got %q", status)
	}
}

func TestRegisterGUIDMismatchGets610(t *testing.T) {
	cb := &fakeCallbacks{registered: map[ptpip.GUID]bool{}, pin: 5555}
	l := New(cb)
	addr := freeAddr(t)
	go l.GetWirelessDevice(context.Background(), addr, 2*time.Second)

	conn := dialAndWait(t, addr)
	defer conn.Close()
	r := bufio.NewReader(conn)

	guid := strings.Repeat("33", 16)
	otherGUID := strings.Repeat("44", 16)
	fmt.Fprintf(conn, "CONNECT * HTTP/1.1\r\ndevice-id:%s\r\ndevice-port:1\r\n\r\n", guid)
	r.ReadString('\n')

	fmt.Fprintf(conn, "SHOWPIN * HTTP/1.1\r\ndevice-id:%s\r\n\r\n", guid)
	r.ReadString('\n')

	// A REGISTER presenting the correct PIN but a different device-id than
	// the one that completed CONNECT/SHOWPIN must be rejected, even though
	// the PIN matches.
	fmt.Fprintf(conn, "REGISTER * HTTP/1.1\r\ndevice-id:%s\r\npin-code:5555\r\n\r\n", otherGUID)
	status, _ := r.ReadString('\n')
	if !strings.Contains(status, "610") {
		t.Fatalf("expected 610 NG for guid mismatch, got %q", status)
	}
}

func TestTimeoutWithNoConnectionReturnsZeroRecord(t *testing.T) {
	cb := &fakeCallbacks{registered: map[ptpip.GUID]bool{}}
	l := New(cb)
	addr := freeAddr(t)

	rec, err := l.GetWirelessDevice(context.Background(), addr, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("GetWirelessDevice: %v", err)
	}
	if !rec.Zero() {
		t.Errorf("expected zero record on timeout, got %+v", rec)
	}
}

func TestEOFBeforeStandbyKeepsAcceptingNewConnections(t *testing.T) {
	cb := &fakeCallbacks{registered: map[ptpip.GUID]bool{}, pin: 77}
	l := New(cb)
	addr := freeAddr(t)

	resultCh := make(chan hostconfig.DeviceRecord, 1)
	go func() {
		rec, _ := l.GetWirelessDevice(context.Background(), addr, 3*time.Second)
		resultCh <- rec
	}()

	first := dialAndWait(t, addr)
	first.Close() // EOF with nothing sent

	guid := strings.Repeat("22", 16)
	second := dialAndWait(t, addr)
	defer second.Close()
	r := bufio.NewReader(second)
	fmt.Fprintf(second, "CONNECT * HTTP/1.1\r\ndevice-id:%s\r\ndevice-port:9\r\n\r\n", guid)
	r.ReadString('\n')
	fmt.Fprintf(second, "STANDBY * HTTP/1.1\r\n\r\n")
	second.Close()

	select {
	case rec := <-resultCh:
		if rec.Zero() {
			t.Fatal("expected device record from second connection")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for second connection to complete")
	}
}
