package hostconfig

import (
	"net"
	"path/filepath"
	"testing"

	"github.com/open-source-firmware/go-ptpip-wireless/pkg/ptpip"
)

func TestGUIDStringRoundTrip(t *testing.T) {
	g := ptpip.GUID{0xde, 0xad, 0xbe, 0xef}
	s := GUIDString(g)
	if len(s) != 32 {
		t.Fatalf("GUIDString length = %d, want 32", len(s))
	}
	got, err := ParseGUIDString(s)
	if err != nil {
		t.Fatalf("ParseGUIDString: %v", err)
	}
	if got != g {
		t.Errorf("got %v, want %v", got, g)
	}
}

func TestParseGUIDStringRejectsWrongLength(t *testing.T) {
	if _, err := ParseGUIDString("abcd"); err == nil {
		t.Error("expected error for short device id")
	}
}

func TestDeviceRecordZero(t *testing.T) {
	var d DeviceRecord
	if !d.Zero() {
		t.Error("zero-value DeviceRecord should report Zero() true")
	}
	d.Addr = net.ParseIP("192.168.1.5")
	if d.Zero() {
		t.Error("DeviceRecord with a real address should not report Zero() true")
	}
}

func TestFilePersisterRoundTripsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "known-devices")
	p1, err := NewFilePersister(path)
	if err != nil {
		t.Fatalf("NewFilePersister: %v", err)
	}
	g := ptpip.GUID{1, 2, 3}
	if p1.IsRegistered(g) {
		t.Fatal("unexpected registration before Register")
	}
	p1.Register(g)
	if !p1.IsRegistered(g) {
		t.Fatal("expected registration after Register")
	}

	p2, err := NewFilePersister(path)
	if err != nil {
		t.Fatalf("NewFilePersister reload: %v", err)
	}
	if !p2.IsRegistered(g) {
		t.Error("expected registration to survive reload from disk")
	}
}

func TestFilePersisterMissingFileIsEmptySet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist")
	p, err := NewFilePersister(path)
	if err != nil {
		t.Fatalf("NewFilePersister: %v", err)
	}
	if p.IsRegistered(ptpip.GUID{1}) {
		t.Error("expected empty set for missing file")
	}
}
