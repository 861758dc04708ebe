package amount

import "testing"

func TestParseAndFormat(t *testing.T) {
	cases := []struct {
		in       string
		decimals int32
		want     uint64
		out      string
	}{
		{"1", 6, 1_000_000, "1.000000"},
		{"12.5", 6, 12_500_000, "12.500000"},
		{"0.000001", 6, 1, "0.000001"},
		{"42", 0, 42, "42"},
	}
	for _, tc := range cases {
		got, err := Parse(tc.in, tc.decimals)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("parse %q = %d, want %d", tc.in, got, tc.want)
		}
		if s := Format(got, tc.decimals); s != tc.out {
			t.Fatalf("format %d = %q, want %q", got, s, tc.out)
		}
	}
}

func TestParseRejects(t *testing.T) {
	for _, in := range []string{"", "abc", "-1", "0.0000001", "99999999999999999999"} {
		if _, err := Parse(in, 6); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}

func TestBps(t *testing.T) {
	if got := Bps(1_000_000_000, 250); got != 25_000_000 {
		t.Fatalf("fee = %d", got)
	}
	if got := Bps(399, 250); got != 9 {
		t.Fatalf("fee rounds down, got %d", got)
	}
	if got := Bps(1000, 0); got != 0 {
		t.Fatalf("zero bps, got %d", got)
	}
}
