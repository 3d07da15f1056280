package core

import "testing"

func TestMoneyString(t *testing.T) {
	cases := []struct {
		in  Money
		out string
	}{
		{Money{Cents: 100}, "1.00"},
		{Money{Cents: 1234}, "12.34"},
		{Money{Cents: -1230}, "-12.30"},
		{Money{Cents: 5}, "0.05"},
		{Money{Cents: 0}, "0.00"},
	}
	for _, tc := range cases {
		if got := tc.in.String(); got != tc.out {
			t.Fatalf("%d cents expected %q, got %q", tc.in.Cents, tc.out, got)
		}
	}
}

func TestMoneyAbsNeg(t *testing.T) {
	if got := (Money{Cents: -250}).Abs(); got.Cents != 250 {
		t.Fatalf("Abs(-250) = %d", got.Cents)
	}
	if got := (Money{Cents: 250}).Abs(); got.Cents != 250 {
		t.Fatalf("Abs(250) = %d", got.Cents)
	}
	if got := (Money{Cents: 250}).Neg(); got.Cents != -250 {
		t.Fatalf("Neg(250) = %d", got.Cents)
	}
}
