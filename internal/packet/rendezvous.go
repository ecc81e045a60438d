package packet

import (
	"encoding/binary"
	"fmt"

	"github.com/dantte-lp/hcsim/internal/address"
	"github.com/google/uuid"
)

// Rendez-vous payload type codes, the low 5 bits of the leading byte.
const (
	RVRegister             uint8 = 1
	RVDeregister           uint8 = 2
	RVAddressSolve         uint8 = 3
	RVAddressLookup        uint8 = 4
	RVLookupTable          uint8 = 5
	RVLookupTableReceived  uint8 = 6

	// RVFlagSolved marks an AddressLookup reply whose identity was found.
	RVFlagSolved uint8 = 0x01
)

// RVEntry is one (identity, primary address) pair, used both standalone
// (Register/Deregister/AddressLookup) and as an element of a LookupTable
// handoff batch.
type RVEntry struct {
	Identity string
	Primary  address.HypercubeMaskAddress
}

// RVPayload is the tagged union of every rendez-vous packet body.
type RVPayload struct {
	Type uint8
	Flags uint8

	Entry RVEntry // Register, Deregister, AddressLookup

	Identity string // AddressSolve

	Entries []RVEntry // LookupTable
	TableID uuid.UUID // LookupTable, LookupTableReceived
}

// MarshalRVPayload encodes p into buf and returns the bytes written.
func MarshalRVPayload(p RVPayload, buf []byte) (int, error) {
	need := rvPayloadLen(p)
	if len(buf) < need {
		return 0, fmt.Errorf("%w: need %d have %d", ErrBufTooSmall, need, len(buf))
	}

	buf[0] = (p.Type & 0x1F) | ((p.Flags & 0x07) << 5)
	off := 1

	switch p.Type {
	case RVRegister, RVDeregister:
		off += marshalRVEntry(p.Entry, buf[off:])
	case RVAddressSolve:
		off += marshalRVIdentity(p.Identity, buf[off:])
	case RVAddressLookup:
		off += marshalRVEntry(p.Entry, buf[off:])
	case RVLookupTable:
		copy(buf[off:off+16], p.TableID[:])
		off += 16
		binary.BigEndian.PutUint16(buf[off:], uint16(len(p.Entries)))
		off += 2
		for _, e := range p.Entries {
			off += marshalRVEntry(e, buf[off:])
		}
	case RVLookupTableReceived:
		copy(buf[off:off+16], p.TableID[:])
		off += 16
	default:
		return 0, fmt.Errorf("%w: %d", ErrInvalidRVType, p.Type)
	}

	return off, nil
}

func rvPayloadLen(p RVPayload) int {
	switch p.Type {
	case RVRegister, RVDeregister, RVAddressLookup:
		return 1 + rvEntryLen(p.Entry)
	case RVAddressSolve:
		return 1 + 1 + len(p.Identity)
	case RVLookupTable:
		n := 1 + 16 + 2
		for _, e := range p.Entries {
			n += rvEntryLen(e)
		}
		return n
	case RVLookupTableReceived:
		return 1 + 16
	default:
		return 1
	}
}

func rvEntryLen(e RVEntry) int {
	return 1 + len(e.Identity) + 1 + len(e.Primary.Address.Bytes()) + 1
}

func marshalRVIdentity(id string, buf []byte) int {
	buf[0] = uint8(len(id))
	copy(buf[1:1+len(id)], id)
	return 1 + len(id)
}

func marshalRVEntry(e RVEntry, buf []byte) int {
	off := marshalRVIdentity(e.Identity, buf)
	addrBytes := e.Primary.Address.Bytes()
	buf[off] = uint8(e.Primary.Address.BitLen())
	off++
	copy(buf[off:off+len(addrBytes)], addrBytes)
	off += len(addrBytes)
	buf[off] = uint8(e.Primary.Mask)
	off++
	return off
}

// UnmarshalRVPayload decodes buf into an RVPayload.
func UnmarshalRVPayload(buf []byte) (RVPayload, error) {
	var p RVPayload
	if len(buf) < 1 {
		return p, ErrPacketTooShort
	}
	p.Type = buf[0] & 0x1F
	p.Flags = (buf[0] >> 5) & 0x07
	off := 1

	var err error
	switch p.Type {
	case RVRegister, RVDeregister, RVAddressLookup:
		p.Entry, off, err = unmarshalRVEntry(buf, off)
	case RVAddressSolve:
		p.Identity, off, err = unmarshalRVIdentity(buf, off)
	case RVLookupTable:
		if len(buf) < off+18 {
			return p, ErrPacketTooShort
		}
		copy(p.TableID[:], buf[off:off+16])
		off += 16
		count := int(binary.BigEndian.Uint16(buf[off:]))
		off += 2
		p.Entries = make([]RVEntry, 0, count)
		for i := 0; i < count; i++ {
			var e RVEntry
			e, off, err = unmarshalRVEntry(buf, off)
			if err != nil {
				return p, err
			}
			p.Entries = append(p.Entries, e)
		}
	case RVLookupTableReceived:
		if len(buf) < off+16 {
			return p, ErrPacketTooShort
		}
		copy(p.TableID[:], buf[off:off+16])
		off += 16
	default:
		return p, fmt.Errorf("%w: %d", ErrInvalidRVType, p.Type)
	}

	return p, err
}

func unmarshalRVIdentity(buf []byte, off int) (string, int, error) {
	if off >= len(buf) {
		return "", off, ErrPacketTooShort
	}
	n := int(buf[off])
	off++
	if off+n > len(buf) {
		return "", off, ErrPacketTooShort
	}
	id := string(buf[off : off+n])
	return id, off + n, nil
}

func unmarshalRVEntry(buf []byte, off int) (RVEntry, int, error) {
	var e RVEntry
	id, off2, err := unmarshalRVIdentity(buf, off)
	if err != nil {
		return e, off2, err
	}
	off = off2
	e.Identity = id

	if off >= len(buf) {
		return e, off, ErrPacketTooShort
	}
	bitLen := int(buf[off])
	off++
	byteLen := (bitLen + 7) / 8
	if off+byteLen+1 > len(buf) {
		return e, off, ErrPacketTooShort
	}
	addr := bytesToAddress(buf[off:off+byteLen], bitLen)
	off += byteLen
	mask := int(buf[off])
	off++
	maskAddr, err := address.NewMaskAddress(addr, mask)
	if err != nil {
		return e, off, err
	}
	e.Primary = maskAddr
	return e, off, nil
}
