// Package currency implements the fixed-point monetary type. Amounts carry
// exactly six fractional digits; all arithmetic happens in integer smallest
// units and only the boundary converts to and from decimal form.
package currency

import (
	"fmt"
	"math"

	"github.com/The-Sycorax/denaro/foundation/blockchain/chain"
	"github.com/The-Sycorax/denaro/foundation/blockchain/genesis"
	"github.com/shopspring/decimal"
)

// Amount is a quantity of coins in smallest units.
type Amount int64

// MaxAmount bounds every on-chain amount to the 63-bit signed range.
const MaxAmount = Amount(math.MaxInt64)

// FromDecimal converts a decimal coin value into smallest units. Values with
// more than six fractional digits or outside the representable range are
// rejected.
func FromDecimal(d decimal.Decimal) (Amount, error) {
	scaled := d.Mul(decimal.New(genesis.Smallest, 0))
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("amount %s has more than six fractional digits: %w", d, chain.ErrAmountOutOfRange)
	}
	if !scaled.BigInt().IsInt64() {
		return 0, fmt.Errorf("amount %s out of range: %w", d, chain.ErrAmountOutOfRange)
	}

	return Amount(scaled.IntPart()), nil
}

// Parse converts the external decimal representation into smallest units.
func Parse(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("amount %q: %w", s, chain.ErrMalformedInput)
	}

	return FromDecimal(d)
}

// Decimal returns the external decimal representation with six fractional
// digits of precision.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -6)
}

// String implements the fmt.Stringer interface.
func (a Amount) String() string {
	return a.Decimal().String()
}

// Valid reports whether the amount is positive and within range. Zero is not
// a valid output amount.
func (a Amount) Valid() bool {
	return a > 0
}
