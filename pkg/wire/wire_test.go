package wire

import "testing"

func TestRoundTripUint16LE(t *testing.T) {
	testCases := []struct {
		name string
		val  uint16
	}{
		{"zero", 0},
		{"one", 1},
		{"max", 0xffff},
		{"mid", 0x1234},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			buf := make([]byte, 2)
			if err := PutUint16LE(buf, 0, tc.val); err != nil {
				t.Fatalf("PutUint16LE: %v", err)
			}
			got, err := Uint16LE(buf, 0)
			if err != nil {
				t.Fatalf("Uint16LE: %v", err)
			}
			if got != tc.val {
				t.Errorf("got %#x, want %#x", got, tc.val)
			}
		})
	}
}

func TestRoundTripUint32LE(t *testing.T) {
	testCases := []struct {
		name string
		val  uint32
	}{
		{"zero", 0},
		{"one", 1},
		{"max", 0xffffffff},
		{"mid", 0x12345678},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			buf := make([]byte, 4)
			if err := PutUint32LE(buf, 0, tc.val); err != nil {
				t.Fatalf("PutUint32LE: %v", err)
			}
			got, err := Uint32LE(buf, 0)
			if err != nil {
				t.Fatalf("Uint32LE: %v", err)
			}
			if got != tc.val {
				t.Errorf("got %#x, want %#x", got, tc.val)
			}
		})
	}
}

func TestShortBuffer(t *testing.T) {
	buf := make([]byte, 1)
	if _, err := Uint16LE(buf, 0); err == nil {
		t.Errorf("expected short buffer error")
	}
	if err := PutUint32LE(buf, 0, 1); err == nil {
		t.Errorf("expected short buffer error")
	}
}

func TestAppendLittleEndian(t *testing.T) {
	b := AppendUint16LE(nil, 0x0102)
	if len(b) != 2 || b[0] != 0x02 || b[1] != 0x01 {
		t.Errorf("AppendUint16LE produced %x, want 0201", b)
	}
	b = AppendUint32LE(nil, 0x01020304)
	want := []byte{0x04, 0x03, 0x02, 0x01}
	for i := range want {
		if b[i] != want[i] {
			t.Errorf("AppendUint32LE byte %d = %#x, want %#x", i, b[i], want[i])
		}
	}
}
