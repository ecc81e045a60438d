// Package packet implements the binary wire codecs used by the hypercube
// overlay: the control-packet family (PAR/PAP/PAN/PANC/DISC/HB/SAP/SAN),
// data packets, their optional sub-headers, and UDP-like transport
// segments. Every Marshal/Unmarshal pair follows the same discipline:
// explicit byte offsets, a sentinel error per validation step, and a
// caller-supplied buffer. BufferPool offers sync.Pool-backed scratch
// buffers; the codecs in this package do not draw from it themselves.
package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/dantte-lp/hcsim/internal/address"
)

// Control packet type codes, the low 5 bits of the header's typeFl byte.
const (
	TypePAR  uint8 = 1
	TypePAP  uint8 = 2
	TypePAN  uint8 = 3
	TypePANC uint8 = 4
	TypeDISC uint8 = 5
	TypeHB   uint8 = 6
	TypeSAP  uint8 = 7
	TypeSAN  uint8 = 8
)

// Per-type flag bits, packed into the high 3 bits of typeFl.
const (
	FlagExhausted uint8 = 0x01 // PAP: address space exhausted
	FlagAccepted  uint8 = 0x01 // SAN: secondary proposal accepted
	FlagHasChild  uint8 = 0x01 // DISC: sender currently has children
)

// Ethernet types used internally to tag a frame as control or data.
const (
	EtherTypeControl uint16 = 1000
	EtherTypeData    uint16 = 1001
)

// TransportTypeUDP identifies the UDP-like segment carried in DataPacket.
const TransportTypeUDP uint8 = 17

// MaxTTL is the hop budget assigned to a new data packet.
const MaxTTL uint16 = 10000

// OptionalHeaderType tags the shape of an optional sub-header.
type OptionalHeaderType uint8

const (
	OptAdditionalAddress OptionalHeaderType = 1
	OptRouteHeader       OptionalHeaderType = 4
)

// OptionalHeader is a tagged-union sub-header appended to a control or
// data packet: an extra proposed/reconnect address, or one traceroute hop.
type OptionalHeader struct {
	Type    OptionalHeaderType
	Address address.HypercubeMaskAddress // valid when Type == OptAdditionalAddress
	Hop     address.MACAddress           // valid when Type == OptRouteHeader
}

// Sentinel errors, one per validation step, mirroring each packet variant's
// Unmarshal path.
var (
	ErrPacketTooShort     = errors.New("packet: buffer too short")
	ErrBufTooSmall        = errors.New("packet: destination buffer too small")
	ErrInvalidType        = errors.New("packet: unknown control packet type")
	ErrInvalidOptionType  = errors.New("packet: unknown optional header type")
	ErrLengthExceedsBuf   = errors.New("packet: declared length exceeds buffer")
	ErrMissingTerminator  = errors.New("packet: missing terminating zero byte")
	ErrInvalidMaskLength  = errors.New("packet: mask exceeds address bit length")
	ErrInvalidRVType      = errors.New("packet: unknown rendez-vous payload type")
	ErrIdentityTooLong    = errors.New("packet: identity string exceeds 255 bytes")
	ErrUDPPayloadTooShort = errors.New("packet: udp segment shorter than header")
)

// BufferPool hands out scratch byte slices sized for the largest packet
// this codec family produces, avoiding a fresh allocation per send in a
// simulation with many nodes and frequent heartbeats.
var BufferPool = sync.Pool{
	New: func() any {
		buf := make([]byte, 0, 512)
		return &buf
	},
}

// GetBuffer returns a pooled scratch buffer reset to zero length.
func GetBuffer() *[]byte {
	b := BufferPool.Get().(*[]byte)
	*b = (*b)[:0]
	return b
}

// PutBuffer returns buf to the pool.
func PutBuffer(buf *[]byte) { BufferPool.Put(buf) }

// ControlPacket is the shared header of PAR/PAP/PAN/PANC/DISC/HB/SAP/SAN,
// carrying the sender's physical and primary addresses plus zero or more
// optional sub-headers.
type ControlPacket struct {
	Type     uint8
	Flags    uint8
	PhysAddr address.MACAddress
	Primary  address.HypercubeMaskAddress
	Optional []OptionalHeader
}

// MarshalControlPacket encodes pkt into buf (which must have enough
// capacity) and returns the number of bytes written.
//
// Layout: typeFl(1) totLen(1) physAddr(6) primBitLen(1) primAddr(ceil(bits/8))
// mask(1) [optHeader]* 0x00.
func MarshalControlPacket(pkt ControlPacket, buf []byte) (int, error) {
	primBytes := pkt.Primary.Address.Bytes()
	need := 1 + 1 + 6 + 1 + len(primBytes) + 1
	for _, opt := range pkt.Optional {
		need += 2 + optionalPayloadLen(opt)
	}
	need++ // terminator

	if len(buf) < need {
		return 0, fmt.Errorf("%w: need %d have %d", ErrBufTooSmall, need, len(buf))
	}

	off := 0
	buf[off] = (pkt.Type & 0x1F) | ((pkt.Flags & 0x07) << 5)
	off++
	buf[off] = uint8(need)
	off++
	copy(buf[off:off+6], pkt.PhysAddr[:])
	off += 6
	buf[off] = uint8(pkt.Primary.Address.BitLen())
	off++
	copy(buf[off:off+len(primBytes)], primBytes)
	off += len(primBytes)
	buf[off] = uint8(pkt.Primary.Mask)
	off++

	for _, opt := range pkt.Optional {
		n, err := marshalOptionalHeader(opt, buf[off:])
		if err != nil {
			return 0, err
		}
		off += n
	}

	buf[off] = 0x00
	off++

	return off, nil
}

func optionalPayloadLen(opt OptionalHeader) int {
	switch opt.Type {
	case OptAdditionalAddress:
		return 1 + len(opt.Address.Address.Bytes()) + 1
	case OptRouteHeader:
		return 6
	default:
		return 0
	}
}

func marshalOptionalHeader(opt OptionalHeader, buf []byte) (int, error) {
	payloadLen := optionalPayloadLen(opt)
	need := 2 + payloadLen
	if len(buf) < need {
		return 0, fmt.Errorf("%w: need %d have %d", ErrBufTooSmall, need, len(buf))
	}

	buf[0] = uint8(opt.Type) & 0x1F
	buf[1] = uint8(payloadLen)
	off := 2

	switch opt.Type {
	case OptAdditionalAddress:
		addrBytes := opt.Address.Address.Bytes()
		buf[off] = uint8(opt.Address.Address.BitLen())
		off++
		copy(buf[off:off+len(addrBytes)], addrBytes)
		off += len(addrBytes)
		buf[off] = uint8(opt.Address.Mask)
		off++
	case OptRouteHeader:
		copy(buf[off:off+6], opt.Hop[:])
		off += 6
	default:
		return 0, fmt.Errorf("%w: %d", ErrInvalidOptionType, opt.Type)
	}

	return off, nil
}

// UnmarshalControlPacket decodes buf into a ControlPacket.
func UnmarshalControlPacket(buf []byte) (ControlPacket, error) {
	var pkt ControlPacket

	if len(buf) < 2+6+1+1 {
		return pkt, ErrPacketTooShort
	}

	typeFl := buf[0]
	pkt.Type = typeFl & 0x1F
	pkt.Flags = (typeFl >> 5) & 0x07
	totLen := int(buf[1])
	if totLen > len(buf) {
		return pkt, fmt.Errorf("%w: declared %d have %d", ErrLengthExceedsBuf, totLen, len(buf))
	}

	off := 2
	copy(pkt.PhysAddr[:], buf[off:off+6])
	off += 6

	primBitLen := int(buf[off])
	off++
	primByteLen := (primBitLen + 7) / 8
	if off+primByteLen+1 > totLen {
		return pkt, ErrPacketTooShort
	}

	primAddr := address.NewHypercubeAddress(primBitLen)
	primAddrBytes := buf[off : off+primByteLen]
	for i := 0; i < primBitLen; i++ {
		bit := primAddrBytes[i/8]&(0x80>>uint(i%8)) != 0
		primAddr = primAddr.SetBit(i, bit)
	}
	off += primByteLen

	mask := int(buf[off])
	off++
	if mask > primBitLen {
		return pkt, ErrInvalidMaskLength
	}
	maskAddr, err := address.NewMaskAddress(primAddr, mask)
	if err != nil {
		return pkt, err
	}
	pkt.Primary = maskAddr

	for off < totLen {
		if buf[off] == 0x00 {
			off++
			return pkt, nil
		}
		opt, n, err := unmarshalOptionalHeader(buf[off:totLen])
		if err != nil {
			return pkt, err
		}
		pkt.Optional = append(pkt.Optional, opt)
		off += n
	}

	return pkt, ErrMissingTerminator
}

func unmarshalOptionalHeader(buf []byte) (OptionalHeader, int, error) {
	var opt OptionalHeader
	if len(buf) < 2 {
		return opt, 0, ErrPacketTooShort
	}
	opt.Type = OptionalHeaderType(buf[0] & 0x1F)
	length := int(buf[1])
	if 2+length > len(buf) {
		return opt, 0, ErrLengthExceedsBuf
	}
	payload := buf[2 : 2+length]

	switch opt.Type {
	case OptAdditionalAddress:
		if len(payload) < 2 {
			return opt, 0, ErrPacketTooShort
		}
		bitLen := int(payload[0])
		byteLen := (bitLen + 7) / 8
		if 1+byteLen+1 > len(payload) {
			return opt, 0, ErrPacketTooShort
		}
		addr := address.NewHypercubeAddress(bitLen)
		addrBytes := payload[1 : 1+byteLen]
		for i := 0; i < bitLen; i++ {
			bit := addrBytes[i/8]&(0x80>>uint(i%8)) != 0
			addr = addr.SetBit(i, bit)
		}
		mask := int(payload[1+byteLen])
		maskAddr, err := address.NewMaskAddress(addr, mask)
		if err != nil {
			return opt, 0, err
		}
		opt.Address = maskAddr
	case OptRouteHeader:
		if len(payload) < 6 {
			return opt, 0, ErrPacketTooShort
		}
		copy(opt.Hop[:], payload[:6])
	default:
		return opt, 0, fmt.Errorf("%w: %d", ErrInvalidOptionType, opt.Type)
	}

	return opt, 2 + length, nil
}

// DataPacket carries application/rendez-vous payload across the overlay.
type DataPacket struct {
	Returned      bool
	TraceRoute    bool
	RendezVous    bool
	Unloop        bool
	TTL           uint16
	Src           address.HypercubeAddress
	Dst           address.HypercubeAddress
	TransportType uint8
	Payload       []byte
	Route         []address.MACAddress
}

const (
	dataFlagReturned   uint8 = 1 << 0
	dataFlagTraceRoute uint8 = 1 << 1
	dataFlagRendezVous uint8 = 1 << 2
	dataFlagUnloop     uint8 = 1 << 3
)

// MarshalDataPacket encodes pkt into buf and returns the number of bytes
// written. Layout: totLen(2) flags(1) ttl(2) addrBL(1) src dst trProt(1)
// payload optHdrs* 0x00. Src and Dst must share the same bit length.
func MarshalDataPacket(pkt DataPacket, buf []byte) (int, error) {
	if pkt.Src.BitLen() != pkt.Dst.BitLen() {
		return 0, fmt.Errorf("packet: src/dst address length mismatch: %d != %d", pkt.Src.BitLen(), pkt.Dst.BitLen())
	}
	srcBytes := pkt.Src.Bytes()
	dstBytes := pkt.Dst.Bytes()

	need := 2 + 1 + 2 + 1 + len(srcBytes) + len(dstBytes) + 1 + len(pkt.Payload) + len(pkt.Route)*(2+6) + 1
	if len(buf) < need {
		return 0, fmt.Errorf("%w: need %d have %d", ErrBufTooSmall, need, len(buf))
	}

	off := 2 // totLen patched below
	flags := uint8(0)
	if pkt.Returned {
		flags |= dataFlagReturned
	}
	if pkt.TraceRoute {
		flags |= dataFlagTraceRoute
	}
	if pkt.RendezVous {
		flags |= dataFlagRendezVous
	}
	if pkt.Unloop {
		flags |= dataFlagUnloop
	}
	buf[off] = flags
	off++
	binary.BigEndian.PutUint16(buf[off:], pkt.TTL)
	off += 2
	buf[off] = uint8(pkt.Src.BitLen())
	off++
	copy(buf[off:off+len(srcBytes)], srcBytes)
	off += len(srcBytes)
	copy(buf[off:off+len(dstBytes)], dstBytes)
	off += len(dstBytes)
	buf[off] = pkt.TransportType
	off++
	copy(buf[off:off+len(pkt.Payload)], pkt.Payload)
	off += len(pkt.Payload)

	for _, hop := range pkt.Route {
		buf[off] = uint8(OptRouteHeader)
		buf[off+1] = 6
		copy(buf[off+2:off+8], hop[:])
		off += 8
	}

	buf[off] = 0x00
	off++

	binary.BigEndian.PutUint16(buf[0:2], uint16(off))
	return off, nil
}

// UnmarshalDataPacket decodes buf into a DataPacket.
func UnmarshalDataPacket(buf []byte) (DataPacket, error) {
	var pkt DataPacket
	if len(buf) < 2+1+2+1 {
		return pkt, ErrPacketTooShort
	}

	totLen := int(binary.BigEndian.Uint16(buf[0:2]))
	if totLen > len(buf) {
		return pkt, fmt.Errorf("%w: declared %d have %d", ErrLengthExceedsBuf, totLen, len(buf))
	}

	off := 2
	flags := buf[off]
	off++
	pkt.Returned = flags&dataFlagReturned != 0
	pkt.TraceRoute = flags&dataFlagTraceRoute != 0
	pkt.RendezVous = flags&dataFlagRendezVous != 0
	pkt.Unloop = flags&dataFlagUnloop != 0

	pkt.TTL = binary.BigEndian.Uint16(buf[off:])
	off += 2

	bitLen := int(buf[off])
	off++
	byteLen := (bitLen + 7) / 8
	if off+2*byteLen+1 > totLen {
		return pkt, ErrPacketTooShort
	}

	pkt.Src = bytesToAddress(buf[off:off+byteLen], bitLen)
	off += byteLen
	pkt.Dst = bytesToAddress(buf[off:off+byteLen], bitLen)
	off += byteLen

	pkt.TransportType = buf[off]
	off++

	// Walk backwards from the terminator collecting trailing RouteHeader
	// entries, then whatever remains between TransportType and the first
	// RouteHeader is the payload.
	routeStart := totLen - 1
	var hops []address.MACAddress
	for routeStart-8 >= off && buf[routeStart-8] == uint8(OptRouteHeader) && buf[routeStart-7] == 6 {
		var hop address.MACAddress
		copy(hop[:], buf[routeStart-6:routeStart])
		hops = append([]address.MACAddress{hop}, hops...)
		routeStart -= 8
	}
	pkt.Route = hops

	if buf[totLen-1] != 0x00 {
		return pkt, ErrMissingTerminator
	}

	payload := make([]byte, routeStart-off)
	copy(payload, buf[off:routeStart])
	pkt.Payload = payload

	return pkt, nil
}

func bytesToAddress(b []byte, bitLen int) address.HypercubeAddress {
	addr := address.NewHypercubeAddress(bitLen)
	for i := 0; i < bitLen; i++ {
		bit := b[i/8]&(0x80>>uint(i%8)) != 0
		addr = addr.SetBit(i, bit)
	}
	return addr
}

// UDPSegment is the UDP-like transport carried by a DataPacket's payload.
type UDPSegment struct {
	SrcPort uint16
	DstPort uint16
	Payload []byte
}

// MarshalUDPSegment encodes seg: sPort(2) dPort(2) length(2) checksum(2=0)
// payload.
func MarshalUDPSegment(seg UDPSegment, buf []byte) (int, error) {
	need := 8 + len(seg.Payload)
	if len(buf) < need {
		return 0, fmt.Errorf("%w: need %d have %d", ErrBufTooSmall, need, len(buf))
	}
	binary.BigEndian.PutUint16(buf[0:], seg.SrcPort)
	binary.BigEndian.PutUint16(buf[2:], seg.DstPort)
	binary.BigEndian.PutUint16(buf[4:], uint16(need))
	binary.BigEndian.PutUint16(buf[6:], 0) // checksum unused, always zero
	copy(buf[8:], seg.Payload)
	return need, nil
}

// UnmarshalUDPSegment decodes buf into a UDPSegment.
func UnmarshalUDPSegment(buf []byte) (UDPSegment, error) {
	var seg UDPSegment
	if len(buf) < 8 {
		return seg, ErrUDPPayloadTooShort
	}
	seg.SrcPort = binary.BigEndian.Uint16(buf[0:])
	seg.DstPort = binary.BigEndian.Uint16(buf[2:])
	length := int(binary.BigEndian.Uint16(buf[4:]))
	if length < 8 {
		return seg, ErrUDPPayloadTooShort
	}
	if length > len(buf) {
		return seg, ErrLengthExceedsBuf
	}
	payload := make([]byte, length-8)
	copy(payload, buf[8:length])
	seg.Payload = payload
	return seg, nil
}
