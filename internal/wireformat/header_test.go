package wireformat

import "testing"

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{
		Flags:       FlagCompressed,
		Type:        PlayerJoined,
		Timestamp:   1234567890,
		Seq:         42,
		Hash:        Sum([]byte("hash")),
		Parent:      Sum([]byte("parent")),
		WorldURILen: 7,
		PayloadLen:  128,
	}
	buf := h.Encode()
	got, err := DecodeHeader(buf[:])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != h {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, h)
	}
}

func TestHeaderChecksumMismatch(t *testing.T) {
	h := Header{Type: WorldCreated, Seq: 1}
	buf := h.Encode()
	buf[50] ^= 0xFF // corrupt a body byte without touching magic/version
	if _, err := DecodeHeader(buf[:]); err == nil {
		t.Fatal("expected checksum mismatch error")
	}
}

func TestHeaderBadMagic(t *testing.T) {
	h := Header{Type: WorldCreated}
	buf := h.Encode()
	buf[0] = 'X'
	if _, err := DecodeHeader(buf[:]); err == nil {
		t.Fatal("expected invalid input error for bad magic")
	}
}

func TestCustomEventTypeRange(t *testing.T) {
	c := Custom(5)
	if !c.IsCustom() {
		t.Fatalf("expected %v to be in the custom range", c)
	}
	if WorldCreated.IsCustom() {
		t.Fatal("WorldCreated must not be in the custom range")
	}
}

func TestCASIndexRecordRoundTrip(t *testing.T) {
	r := CASIndexRecord{Hash: Sum([]byte("blob")), Offset: 1024, Size: 77, Refcount: 3}
	buf := EncodeCASIndexRecord(r)
	got, err := DecodeCASIndexRecord(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != r {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, r)
	}
}

func TestCompressRoundTrip(t *testing.T) {
	orig := []byte("repeated repeated repeated repeated payload bytes")
	c := Compress(orig)
	got, err := Decompress(c)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if string(got) != string(orig) {
		t.Fatalf("round trip mismatch: got %q want %q", got, orig)
	}
}
