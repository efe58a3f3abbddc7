package fifo

import "github.com/shopspring/decimal"

// RoundedDiv divides numerator by denominator and rounds to the nearest
// integer, ties away from zero: 5/10 -> 1 and -5/10 -> -1. Truncating
// division is rejected here because it introduces a systematic downward bias
// across many small matches. Panics on a zero denominator.
func RoundedDiv(numerator, denominator int64) int64 {
	return decimal.NewFromInt(numerator).
		DivRound(decimal.NewFromInt(denominator), 0).
		IntPart()
}

// MulDiv computes a*b/denominator with the same rounding rule as RoundedDiv.
// The product is formed in decimal arithmetic, so quantity-times-price
// numerators cannot overflow int64 before the division brings them back into
// range. Panics on a zero denominator.
func MulDiv(a, b, denominator int64) int64 {
	return decimal.NewFromInt(a).
		Mul(decimal.NewFromInt(b)).
		DivRound(decimal.NewFromInt(denominator), 0).
		IntPart()
}
