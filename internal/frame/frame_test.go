package frame

import (
	"bytes"
	"testing"

	"github.com/kstaniek/linkarq/internal/bitstring"
)

func TestDataFrameRoundTrip(t *testing.T) {
	payload := bitstring.New("1101011011010101")
	f := DataFrame{
		Src:     Address{1, 2, 3, 4, 5, 6},
		Dst:     Address{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff},
		Length:  uint16(payload.Len() / 8),
		Seq:     42,
		Payload: payload,
		FCS:     bitstring.New("10101010101010101010101010101010"),
	}
	encoded, err := f.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(encoded) != HeaderLen+int(f.Length)+FCSBytes {
		t.Fatalf("unexpected encoded length %d", len(encoded))
	}
	decoded, err := DecodeDataFrame(bytes.NewReader(encoded))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Src != f.Src || decoded.Dst != f.Dst || decoded.Length != f.Length || decoded.Seq != f.Seq {
		t.Fatalf("header mismatch: got %+v want %+v", decoded, f)
	}
	if decoded.Payload.Bits() != f.Payload.Bits() {
		t.Fatalf("payload mismatch: got %q want %q", decoded.Payload.Bits(), f.Payload.Bits())
	}
	if decoded.FCS.Bits() != f.FCS.Bits() {
		t.Fatalf("fcs mismatch: got %q want %q", decoded.FCS.Bits(), f.FCS.Bits())
	}
}

func TestDecodeDataFrameTruncatedHeader(t *testing.T) {
	if _, err := DecodeDataFrame(bytes.NewReader([]byte{1, 2, 3})); err == nil {
		t.Fatal("expected error for truncated header")
	}
}

func TestDecodeDataFrameTruncatedBody(t *testing.T) {
	payload := bitstring.New("11110000")
	f := DataFrame{Length: 1, Payload: payload, FCS: bitstring.New("00000000000000000000000000000000")}
	encoded, err := f.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	truncated := encoded[:len(encoded)-2]
	if _, err := DecodeDataFrame(bytes.NewReader(truncated)); err == nil {
		t.Fatal("expected error for truncated body")
	}
}

func TestAckFrameRoundTrip(t *testing.T) {
	a := AckFrame{Src: Address{1, 1, 1, 1, 1, 1}, Dst: Address{2, 2, 2, 2, 2, 2}, Seq: 5}
	encoded := a.Encode()
	if len(encoded) != AckLen {
		t.Fatalf("unexpected ack length %d", len(encoded))
	}
	decoded, err := DecodeAckFrame(bytes.NewReader(encoded))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded != a {
		t.Fatalf("ack round trip mismatch: got %+v want %+v", decoded, a)
	}
}

func TestAckFrameNACKEncoding(t *testing.T) {
	a := AckFrame{Seq: EncodeNACKSeq(3)}
	encoded := a.Encode()
	decoded, err := DecodeAckFrame(bytes.NewReader(encoded))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	missing, isNACK := IsNACKSeq(decoded.Seq)
	if !isNACK || missing != 3 {
		t.Fatalf("expected NACK for seq 3, got missing=%d isNACK=%v", missing, isNACK)
	}
}

func TestIsNACKSeqFalseForNonNegative(t *testing.T) {
	if _, isNACK := IsNACKSeq(5); isNACK {
		t.Fatal("expected non-negative seq to not be a NACK")
	}
}

func TestParseHexAddressRoundTrip(t *testing.T) {
	a, err := ParseHexAddress("01:02:03:04:05:06")
	if err != nil {
		t.Fatalf("ParseHexAddress: %v", err)
	}
	want := Address{1, 2, 3, 4, 5, 6}
	if a != want {
		t.Fatalf("got %+v want %+v", a, want)
	}
	if a.String() != "01:02:03:04:05:06" {
		t.Fatalf("String() = %q", a.String())
	}
}

func TestParseHexAddressRejectsWrongOctetCount(t *testing.T) {
	if _, err := ParseHexAddress("01:02:03"); err == nil {
		t.Fatal("expected error for too few octets")
	}
}
