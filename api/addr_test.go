package api_test

import (
	"encoding/binary"
	"testing"

	"github.com/momentics/hioload-io/api"
)

func TestAddrIPv4RoundTrip(t *testing.T) {
	a := api.AddrIPv4([4]byte{192, 0, 2, 17}, 8080)

	if got := a.Family(); got != api.FamilyIPv4 {
		t.Fatalf("Family() = %d, want %d", got, api.FamilyIPv4)
	}
	if got := a.Port(); got != 8080 {
		t.Fatalf("Port() = %d, want 8080", got)
	}
	if got := a.IP4(); got != [4]byte{192, 0, 2, 17} {
		t.Fatalf("IP4() = %v", got)
	}
	if !a.IsValid() {
		t.Fatal("IsValid() = false for a constructed address")
	}
}

func TestAddrIPv6RoundTrip(t *testing.T) {
	ip := [16]byte{0x20, 0x01, 0x0d, 0xb8, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0x99}
	a := api.AddrIPv6(ip, 443, 7)

	if got := a.Family(); got != api.FamilyIPv6 {
		t.Fatalf("Family() = %d, want %d", got, api.FamilyIPv6)
	}
	if got := a.Port(); got != 443 {
		t.Fatalf("Port() = %d, want 443", got)
	}
	if got := a.IP16(); got != ip {
		t.Fatalf("IP16() = %v", got)
	}
	if got := a.Scope(); got != 7 {
		t.Fatalf("Scope() = %d, want 7", got)
	}
}

// The port must sit in the record in network byte order regardless of host
// endianness, because completion backends hand the record to the OS as-is.
func TestAddrPortNetworkOrder(t *testing.T) {
	a := api.AddrIPv4([4]byte{127, 0, 0, 1}, 0x1234)
	raw := a.Raw()
	if len(raw) != 16 {
		t.Fatalf("Raw() length = %d, want 16", len(raw))
	}
	if raw[2] != 0x12 || raw[3] != 0x34 {
		t.Fatalf("port bytes = %#x %#x, want 0x12 0x34", raw[2], raw[3])
	}
	if got := binary.NativeEndian.Uint16(raw[0:2]); got != api.FamilyIPv4 {
		t.Fatalf("family tag = %d, want %d", got, api.FamilyIPv4)
	}
}

func TestAddrSetRawRoundTrip(t *testing.T) {
	src := api.AddrIPv6([16]byte{0: 0xfe, 1: 0x80, 15: 0x01}, 9000, 3)

	var dst api.Address
	if err := dst.SetRaw(src.Raw()); err != nil {
		t.Fatalf("SetRaw: %v", err)
	}
	if dst != src {
		t.Fatalf("round trip mismatch: %v != %v", &dst, &src)
	}
}

func TestAddrSetRawRejectsGarbage(t *testing.T) {
	var a api.Address
	if err := a.SetRaw([]byte{0xff}); err == nil {
		t.Fatal("SetRaw accepted a 1-byte record")
	}
	bad := make([]byte, 16)
	binary.NativeEndian.PutUint16(bad[0:2], 0x7777)
	if err := a.SetRaw(bad); err == nil {
		t.Fatal("SetRaw accepted an unknown family")
	}
}

func TestAddrZeroValue(t *testing.T) {
	var a api.Address
	if a.IsValid() {
		t.Fatal("zero Address reports valid")
	}
	if a.Raw() != nil {
		t.Fatal("zero Address has a raw record")
	}
	if got := a.String(); got != "<unspecified>" {
		t.Fatalf("String() = %q", got)
	}
}

func TestAddrSetPort(t *testing.T) {
	a := api.AddrIPv4([4]byte{10, 0, 0, 1}, 1)
	a.SetPort(65535)
	if got := a.Port(); got != 65535 {
		t.Fatalf("Port() after SetPort = %d", got)
	}
	if got := a.IP4(); got != [4]byte{10, 0, 0, 1} {
		t.Fatalf("SetPort disturbed address bytes: %v", got)
	}
}
