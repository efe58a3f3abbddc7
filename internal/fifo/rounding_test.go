package fifo

import "testing"

func TestRoundedDiv_TiesAwayFromZero(t *testing.T) {
	tests := []struct {
		num, den, want int64
	}{
		{5, 10, 1},
		{-5, 10, -1},
		{4, 10, 0},
		{-4, 10, 0},
		{6, 10, 1},
		{15, 10, 2},
		{-15, 10, -2},
		{25, 10, 3},
		{100, 10, 10},
		{0, 7, 0},
		{133_333_365_333_333, 100_000_000, 1_333_334},
	}
	for _, tt := range tests {
		if got := RoundedDiv(tt.num, tt.den); got != tt.want {
			t.Errorf("RoundedDiv(%d, %d) = %d, want %d", tt.num, tt.den, got, tt.want)
		}
	}
}

func TestMulDiv_MatchesRoundedDiv(t *testing.T) {
	// Same rounding rule as RoundedDiv applied to a product.
	if got := MulDiv(33_333_333, 3_000_000, 100_000_000); got != 1_000_000 {
		t.Errorf("MulDiv(33_333_333, 3_000_000, 1e8) = %d, want 1000000", got)
	}
	if got := MulDiv(1, 5, 10); got != 1 {
		t.Errorf("MulDiv(1, 5, 10) = %d, want 1", got)
	}
	if got := MulDiv(-1, 5, 10); got != -1 {
		t.Errorf("MulDiv(-1, 5, 10) = %d, want -1", got)
	}
}

func TestMulDiv_WideProduct(t *testing.T) {
	// 21M BTC in satoshis times a six-figure price in cents overflows int64
	// as a raw product; the decimal intermediate must survive it.
	sats := int64(2_100_000_000_000_000)
	priceCents := int64(10_000_000) // $100,000
	want := int64(210_000_000_000_000)
	if got := MulDiv(sats, priceCents, 100_000_000); got != want {
		t.Errorf("MulDiv(%d, %d, 1e8) = %d, want %d", sats, priceCents, got, want)
	}
}
