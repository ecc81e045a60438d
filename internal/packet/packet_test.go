package packet_test

import (
	"testing"

	"github.com/dantte-lp/hcsim/internal/address"
	"github.com/dantte-lp/hcsim/internal/packet"
	"github.com/google/uuid"
)

func mask(t *testing.T, bits string, m int) address.HypercubeMaskAddress {
	t.Helper()
	a := address.NewHypercubeAddress(len(bits))
	for i, c := range bits {
		if c == '1' {
			a = a.SetBit(i, true)
		}
	}
	ma, err := address.NewMaskAddress(a, m)
	if err != nil {
		t.Fatal(err)
	}
	return ma
}

func TestControlPacketRoundTrip(t *testing.T) {
	t.Parallel()

	cases := []packet.ControlPacket{
		{Type: packet.TypePAR, PhysAddr: address.MACAddress{1, 2, 3, 4, 5, 6}, Primary: mask(t, "00000000", 0)},
		{Type: packet.TypePAP, Flags: packet.FlagExhausted, PhysAddr: address.MACAddress{9, 9, 9, 9, 9, 9}, Primary: mask(t, "10000000", 1)},
		{
			Type: packet.TypePAN, PhysAddr: address.MACAddress{1, 1, 1, 1, 1, 1}, Primary: mask(t, "11000000", 2),
			Optional: []packet.OptionalHeader{{Type: packet.OptAdditionalAddress, Address: mask(t, "10100000", 3)}},
		},
		{
			Type: packet.TypeDISC, Flags: packet.FlagHasChild, PhysAddr: address.MACAddress{2, 2, 2, 2, 2, 2}, Primary: mask(t, "00000001", 8),
			Optional: []packet.OptionalHeader{{Type: packet.OptRouteHeader, Hop: address.MACAddress{7, 7, 7, 7, 7, 7}}},
		},
	}

	for i, pkt := range cases {
		buf := make([]byte, 256)
		n, err := packet.MarshalControlPacket(pkt, buf)
		if err != nil {
			t.Fatalf("case %d marshal: %v", i, err)
		}
		got, err := packet.UnmarshalControlPacket(buf[:n])
		if err != nil {
			t.Fatalf("case %d unmarshal: %v", i, err)
		}

		n2, err := packet.MarshalControlPacket(got, make([]byte, 256))
		if err != nil {
			t.Fatalf("case %d re-marshal: %v", i, err)
		}
		if n2 != n {
			t.Fatalf("case %d: re-encoded length differs: %d != %d", i, n2, n)
		}
		if got.Type != pkt.Type || got.Flags != pkt.Flags || got.PhysAddr != pkt.PhysAddr {
			t.Fatalf("case %d: header mismatch: %+v", i, got)
		}
		if !got.Primary.Equal(pkt.Primary) {
			t.Fatalf("case %d: primary mismatch: %v != %v", i, got.Primary, pkt.Primary)
		}
	}
}

func TestDataPacketRoundTrip(t *testing.T) {
	t.Parallel()

	src := address.NewHypercubeAddress(8).SetBit(0, true)
	dst := address.NewHypercubeAddress(8).SetBit(7, true)

	pkt := packet.DataPacket{
		TraceRoute:    true,
		TTL:           packet.MaxTTL,
		Src:           src,
		Dst:           dst,
		TransportType: packet.TransportTypeUDP,
		Payload:       []byte("hello"),
		Route:         []address.MACAddress{{1, 1, 1, 1, 1, 1}, {2, 2, 2, 2, 2, 2}},
	}

	buf := make([]byte, 256)
	n, err := packet.MarshalDataPacket(pkt, buf)
	if err != nil {
		t.Fatal(err)
	}
	got, err := packet.UnmarshalDataPacket(buf[:n])
	if err != nil {
		t.Fatal(err)
	}

	if got.TTL != pkt.TTL || got.TraceRoute != pkt.TraceRoute || string(got.Payload) != string(pkt.Payload) {
		t.Fatalf("mismatch: %+v", got)
	}
	if !got.Src.Equal(pkt.Src) || !got.Dst.Equal(pkt.Dst) {
		t.Fatalf("addr mismatch: %+v", got)
	}
	if len(got.Route) != 2 || got.Route[0] != pkt.Route[0] || got.Route[1] != pkt.Route[1] {
		t.Fatalf("route mismatch: %v", got.Route)
	}

	n2, err := packet.MarshalDataPacket(got, make([]byte, 256))
	if err != nil {
		t.Fatal(err)
	}
	if n2 != n {
		t.Fatalf("re-encoded length differs: %d != %d", n2, n)
	}
}

func TestUDPSegmentRoundTrip(t *testing.T) {
	t.Parallel()

	seg := packet.UDPSegment{SrcPort: 1234, DstPort: 80, Payload: []byte("payload")}
	buf := make([]byte, 64)
	n, err := packet.MarshalUDPSegment(seg, buf)
	if err != nil {
		t.Fatal(err)
	}
	got, err := packet.UnmarshalUDPSegment(buf[:n])
	if err != nil {
		t.Fatal(err)
	}
	if got.SrcPort != seg.SrcPort || got.DstPort != seg.DstPort || string(got.Payload) != string(seg.Payload) {
		t.Fatalf("mismatch: %+v", got)
	}
}

func TestRVPayloadRoundTrip(t *testing.T) {
	t.Parallel()

	cases := []packet.RVPayload{
		{Type: packet.RVRegister, Entry: packet.RVEntry{Identity: "peer-B", Primary: mask(t, "10000000", 1)}},
		{Type: packet.RVAddressSolve, Identity: "peer-C"},
		{Type: packet.RVAddressLookup, Flags: 1, Entry: packet.RVEntry{Identity: "peer-B", Primary: mask(t, "10000000", 1)}},
		{
			Type: packet.RVLookupTable, TableID: uuid.New(),
			Entries: []packet.RVEntry{
				{Identity: "x", Primary: mask(t, "00000000", 0)},
				{Identity: "y", Primary: mask(t, "11000000", 2)},
			},
		},
		{Type: packet.RVLookupTableReceived, TableID: uuid.New()},
	}

	for i, p := range cases {
		buf := make([]byte, 256)
		n, err := packet.MarshalRVPayload(p, buf)
		if err != nil {
			t.Fatalf("case %d marshal: %v", i, err)
		}
		got, err := packet.UnmarshalRVPayload(buf[:n])
		if err != nil {
			t.Fatalf("case %d unmarshal: %v", i, err)
		}
		if got.Type != p.Type || got.TableID != p.TableID {
			t.Fatalf("case %d mismatch: %+v", i, got)
		}
	}
}
