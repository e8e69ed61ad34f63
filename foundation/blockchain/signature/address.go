package signature

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"fmt"
	"math/big"

	"github.com/The-Sycorax/denaro/foundation/blockchain/chain"
	"github.com/btcsuite/btcd/btcutil/base58"
)

// AddressLength is the exact character length of an encoded address.
const AddressLength = 45

// Address payload prefixes. The prefix byte carries the parity of the public
// key's y coordinate and makes every encoded address start with 'D' or 'E'.
const (
	prefixEvenY = 42
	prefixOddY  = 43
)

// AddressFromPublicKey encodes the public key as a 45-character address:
// base58 over the parity prefix byte followed by the little-endian x
// coordinate.
func AddressFromPublicKey(publicKey *ecdsa.PublicKey) string {
	payload := make([]byte, 33)
	if publicKey.Y.Bit(0) == 0 {
		payload[0] = prefixEvenY
	} else {
		payload[0] = prefixOddY
	}
	putLE(payload[1:], publicKey.X)

	return base58.Encode(payload)
}

// PublicKeyFromAddress decodes an address back into the P-256 public key it
// represents. The y coordinate is recovered from the curve equation using the
// parity carried by the prefix byte; a point that does not land on the curve
// is rejected, which doubles as the address integrity check.
func PublicKeyFromAddress(address string) (*ecdsa.PublicKey, error) {
	if len(address) != AddressLength {
		return nil, fmt.Errorf("address must be %d characters: %w", AddressLength, chain.ErrMalformedInput)
	}

	payload := base58.Decode(address)
	if len(payload) != 33 {
		return nil, fmt.Errorf("address payload is %d bytes: %w", len(payload), chain.ErrMalformedInput)
	}
	if payload[0] != prefixEvenY && payload[0] != prefixOddY {
		return nil, fmt.Errorf("address prefix byte %d: %w", payload[0], chain.ErrMalformedInput)
	}

	curve := elliptic.P256()
	params := curve.Params()
	x := getLE(payload[1:])
	if x.Cmp(params.P) >= 0 {
		return nil, fmt.Errorf("address x coordinate out of field: %w", chain.ErrMalformedInput)
	}

	// y^2 = x^3 - 3x + b mod p
	y2 := new(big.Int).Mul(x, x)
	y2.Mul(y2, x)
	y2.Sub(y2, new(big.Int).Lsh(x, 1))
	y2.Sub(y2, x)
	y2.Add(y2, params.B)
	y2.Mod(y2, params.P)

	y := new(big.Int).ModSqrt(y2, params.P)
	if y == nil {
		return nil, fmt.Errorf("address is not a curve point: %w", chain.ErrMalformedInput)
	}

	wantOdd := payload[0] == prefixOddY
	if (y.Bit(0) == 1) != wantOdd {
		y.Sub(params.P, y)
	}

	pub := ecdsa.PublicKey{Curve: curve, X: x, Y: y}
	if !curve.IsOnCurve(pub.X, pub.Y) {
		return nil, fmt.Errorf("address is not a curve point: %w", chain.ErrMalformedInput)
	}

	return &pub, nil
}

// ValidAddress reports whether the string decodes as a well formed address.
func ValidAddress(address string) bool {
	_, err := PublicKeyFromAddress(address)
	return err == nil
}
