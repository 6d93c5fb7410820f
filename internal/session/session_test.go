package session

import (
	"bytes"
	"testing"
)

func testKey() []byte {
	return bytes.Repeat([]byte{0x42}, 32)
}

func TestSealOpenRoundTrip(t *testing.T) {
	c, err := NewAESGCM(testKey())
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	in := Map{"zip": "60601", "verified": true, "attempts": float64(2)}
	blob, err := Seal(c, in)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if bytes.Contains(blob, []byte("60601")) {
		t.Fatalf("ciphertext leaks plaintext")
	}

	out, err := Open(c, blob)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if out["zip"] != "60601" || out["verified"] != true || out["attempts"] != float64(2) {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

func TestOpenEmptyBlobYieldsEmptyMap(t *testing.T) {
	m, err := Open(Plaintext{}, nil)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(m) != 0 {
		t.Fatalf("expected empty map")
	}
}

func TestDecryptRejectsTamperedBlob(t *testing.T) {
	c, _ := NewAESGCM(testKey())
	blob, err := Seal(c, Map{"k": "v"})
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	blob[len(blob)-1] ^= 0xff
	if _, err := Open(c, blob); err == nil {
		t.Fatalf("expected decrypt failure")
	}
}

func TestNewAESGCMRejectsShortKey(t *testing.T) {
	if _, err := NewAESGCM([]byte("short")); err == nil {
		t.Fatalf("expected key length error")
	}
}
