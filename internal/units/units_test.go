package units_test

import (
	"testing"

	"github.com/dantte-lp/hcsim/internal/units"
)

func TestParseTimeRoundTrip(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		t    units.Time
	}{
		{"millis", 250 * units.Millisecond},
		{"seconds", 5 * units.Second},
		{"nanos", 42 * units.Nanosecond},
		{"minutes", 3 * units.Minute},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := units.ParseTime(tc.t.String(), units.Millisecond)
			if err != nil {
				t.Fatalf("ParseTime(%q): %v", tc.t.String(), err)
			}
			if got != tc.t {
				t.Fatalf("round-trip mismatch: got %v want %v", got, tc.t)
			}
		})
	}
}

func TestParseTimeDefaultUnit(t *testing.T) {
	t.Parallel()

	got, err := units.ParseTime("100", units.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if got != 100*units.Millisecond {
		t.Fatalf("got %v want %v", got, 100*units.Millisecond)
	}
}

func TestParseTimeInvalid(t *testing.T) {
	t.Parallel()

	if _, err := units.ParseTime("", units.Millisecond); err == nil {
		t.Fatal("expected error for empty literal")
	}
	if _, err := units.ParseTime("5xyz", units.Millisecond); err == nil {
		t.Fatal("expected error for unknown unit")
	}
}

func TestBandwidthInfinite(t *testing.T) {
	t.Parallel()

	if !units.Bandwidth(0).IsInfinite() {
		t.Fatal("zero bandwidth should be infinite")
	}
	if !units.Bandwidth(-1).IsInfinite() {
		t.Fatal("negative bandwidth should be infinite")
	}
	if units.Bandwidth(1).IsInfinite() {
		t.Fatal("positive bandwidth should not be infinite")
	}
	if units.Bandwidth(0).String() != "infinite" {
		t.Fatalf("got %q", units.Bandwidth(0).String())
	}
}

func TestParseBandwidth(t *testing.T) {
	t.Parallel()

	got, err := units.ParseBandwidth("10Mbps", units.Bps)
	if err != nil {
		t.Fatal(err)
	}
	if got != 10*units.Mbps {
		t.Fatalf("got %v want %v", got, 10*units.Mbps)
	}
}
