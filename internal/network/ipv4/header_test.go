package ipv4

import "testing"

func TestMarshalParseRoundTrip(t *testing.T) {
	h := Header{
		ID:       1234,
		TTL:      64,
		Protocol: ProtoUDP,
		Src:      [4]byte{192, 168, 1, 1},
		Dst:      [4]byte{192, 168, 1, 2},
	}
	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	wire := Marshal(h, payload)

	got, err := ParseHeader(wire)
	if err != nil {
		t.Fatalf("ParseHeader() error: %v", err)
	}
	if got.ID != h.ID || got.TTL != h.TTL || got.Protocol != h.Protocol {
		t.Fatalf("round trip mismatch: got %+v, want id/ttl/protocol from %+v", got, h)
	}
	if got.Src != h.Src || got.Dst != h.Dst {
		t.Fatalf("address round trip mismatch: got %+v", got)
	}
	if int(got.TotalLen) != MinHeaderLen+len(payload) {
		t.Fatalf("TotalLen = %d, want %d", got.TotalLen, MinHeaderLen+len(payload))
	}
}

func TestParseHeaderRejectsBadVersion(t *testing.T) {
	data := make([]byte, MinHeaderLen)
	data[0] = (6 << 4) | 5 // version 6
	if _, err := ParseHeader(data); err == nil {
		t.Fatal("expected error for non-IPv4 version")
	}
}

func TestParseHeaderRejectsShortHeaderLen(t *testing.T) {
	data := make([]byte, MinHeaderLen)
	data[0] = (4 << 4) | 3 // IHL=3 -> 12 bytes, below MinHeaderLen
	if _, err := ParseHeader(data); err == nil {
		t.Fatal("expected error for IHL below minimum")
	}
}

func TestIsFragment(t *testing.T) {
	cases := []struct {
		h    Header
		want bool
	}{
		{Header{MF: false, FragOffset: 0}, false},
		{Header{MF: true, FragOffset: 0}, true},
		{Header{MF: false, FragOffset: 5}, true},
	}
	for _, c := range cases {
		if got := c.h.IsFragment(); got != c.want {
			t.Fatalf("IsFragment() = %v, want %v for %+v", got, c.want, c.h)
		}
	}
}
