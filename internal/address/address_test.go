package address_test

import (
	"testing"

	"github.com/dantte-lp/hcsim/internal/address"
)

func mustMask(t *testing.T, bits string, mask int) address.HypercubeMaskAddress {
	t.Helper()
	a := address.NewHypercubeAddress(len(bits))
	for i, c := range bits {
		if c == '1' {
			a = a.SetBit(i, true)
		}
	}
	m, err := address.NewMaskAddress(a, mask)
	if err != nil {
		t.Fatalf("NewMaskAddress: %v", err)
	}
	return m
}

func TestHypercubeAddressBitOps(t *testing.T) {
	t.Parallel()

	a := address.NewHypercubeAddress(8)
	a = a.SetBit(0, true).SetBit(7, true)
	if a.String() != "10000001" {
		t.Fatalf("got %q", a.String())
	}
	a = a.FlipBit(0)
	if a.Bit(0) {
		t.Fatal("expected bit 0 cleared after flip")
	}
}

func TestHammingDistance(t *testing.T) {
	t.Parallel()

	a := address.NewHypercubeAddress(4)
	b := a.SetBit(1, true).SetBit(3, true)
	d, err := a.HammingDistance(b)
	if err != nil {
		t.Fatal(err)
	}
	if d != 2 {
		t.Fatalf("got %d want 2", d)
	}
}

func TestAddressSpaceWholeSpaceCollapses(t *testing.T) {
	t.Parallel()

	s := address.NewAddressSpace()
	s.Add(mustMask(t, "0000", 0))
	base := s.GetBase()
	if len(base) != 1 || base[0].Mask != 0 {
		t.Fatalf("expected single mask-0 member, got %v", base)
	}
}

func TestAddressSpaceSummarisesComplements(t *testing.T) {
	t.Parallel()

	s := address.NewAddressSpace()
	s.Add(mustMask(t, "00", 1)) // 0/1
	changed := s.Add(mustMask(t, "10", 1)) // 1/1, complement of 0/1
	if !changed {
		t.Fatal("expected change")
	}
	base := s.GetBase()
	if len(base) != 1 || base[0].Mask != 0 {
		t.Fatalf("expected summarisation to mask 0, got %v", base)
	}
}

func TestAddressSpaceIdempotentAndOrderIndependent(t *testing.T) {
	t.Parallel()

	a := mustMask(t, "00", 2)
	b := mustMask(t, "01", 2)

	s1 := address.NewAddressSpace()
	s1.Add(a)
	if s1.Add(a) {
		t.Fatal("re-adding the same address should be a no-op")
	}
	s1.Add(b)

	s2 := address.NewAddressSpace()
	s2.Add(b)
	s2.Add(a)

	base1, base2 := s1.GetBase(), s2.GetBase()
	if len(base1) != len(base2) {
		t.Fatalf("order dependence: %v vs %v", base1, base2)
	}
	for i := range base1 {
		if !base1[i].Equal(base2[i]) {
			t.Fatalf("order dependence at %d: %v vs %v", i, base1[i], base2[i])
		}
	}
}

func TestAddressSpaceContainsAlreadyCoveredIsNoop(t *testing.T) {
	t.Parallel()

	s := address.NewAddressSpace()
	s.Add(mustMask(t, "0", 0))
	if s.Add(mustMask(t, "01", 2)) {
		t.Fatal("adding an address already covered by mask 0 must be a no-op")
	}
}

func TestUniversalAddressHashesAreDeterministic(t *testing.T) {
	t.Parallel()

	u := address.UniversalAddress("peer-B")
	mac1 := u.HashToMAC()
	mac2 := u.HashToMAC()
	if mac1 != mac2 {
		t.Fatalf("HashToMAC not deterministic: %v vs %v", mac1, mac2)
	}

	hc1 := u.HashToHypercube(8)
	hc2 := u.HashToHypercube(8)
	if !hc1.Equal(hc2) {
		t.Fatalf("HashToHypercube not deterministic: %v vs %v", hc1, hc2)
	}
}
