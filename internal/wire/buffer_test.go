package wire

import "testing"

func TestReaderIntegers(t *testing.T) {
	r := NewReader([]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08})

	u16, err := r.Uint16LE()
	if err != nil || u16 != 0x0201 {
		t.Fatalf("Uint16LE() = %#x, %v; want 0x0201, nil", u16, err)
	}

	u32, err := r.Uint32LE()
	if err != nil || u32 != 0x06050403 {
		t.Fatalf("Uint32LE() = %#x, %v; want 0x06050403, nil", u32, err)
	}

	if r.Len() != 2 {
		t.Fatalf("Len() = %d; want 2", r.Len())
	}
}

func TestReaderTruncated(t *testing.T) {
	r := NewReader([]byte{0x01})
	if _, err := r.Uint16LE(); err == nil {
		t.Fatal("Uint16LE() on 1-byte buffer should have failed")
	}
}

func TestUCS2RoundTrip(t *testing.T) {
	cases := []string{"", "sa", "s0mepa$$w0rd", "unicode: éè"}
	for _, s := range cases {
		enc := StringToUCS2(s)
		got := UCS2ToString(enc)
		if got != s {
			t.Errorf("UCS2 round trip: got %q, want %q", got, s)
		}
	}
}

func TestUsVarChar(t *testing.T) {
	w := NewWriter(0)
	w.UsVarChar("hello")

	r := NewReader(w.Bytes())
	s, err := r.UsVarChar()
	if err != nil {
		t.Fatalf("UsVarChar() error: %v", err)
	}
	if s != "hello" {
		t.Fatalf("UsVarChar() = %q; want %q", s, "hello")
	}
	if r.Len() != 0 {
		t.Fatalf("Len() = %d; want 0", r.Len())
	}
}

func TestBVarChar(t *testing.T) {
	w := NewWriter(0)
	w.BVarChar("sa")

	r := NewReader(w.Bytes())
	s, err := r.BVarChar()
	if err != nil {
		t.Fatalf("BVarChar() error: %v", err)
	}
	if s != "sa" {
		t.Fatalf("BVarChar() = %q; want %q", s, "sa")
	}
}

func TestFloatRoundTrip(t *testing.T) {
	w := NewWriter(0)
	w.Float32LE(3.14)
	w.Float64LE(2.71828182845)

	r := NewReader(w.Bytes())
	f32, err := r.Float32LE()
	if err != nil || f32 != 3.14 {
		t.Fatalf("Float32LE() = %v, %v; want 3.14, nil", f32, err)
	}
	f64, err := r.Float64LE()
	if err != nil || f64 != 2.71828182845 {
		t.Fatalf("Float64LE() = %v, %v; want 2.71828182845, nil", f64, err)
	}
}

func TestReaderSeek(t *testing.T) {
	r := NewReader([]byte{1, 2, 3, 4})
	if err := r.Seek(2); err != nil {
		t.Fatalf("Seek(2) error: %v", err)
	}
	b, err := r.Byte()
	if err != nil || b != 3 {
		t.Fatalf("Byte() after Seek(2) = %v, %v; want 3, nil", b, err)
	}
	if err := r.Seek(10); err == nil {
		t.Fatal("Seek(10) on 4-byte buffer should have failed")
	}
}
