// Package signature provides the cryptographic primitives for the blockchain:
// SHA-256 hashing, ECDSA over NIST P-256, and the address codec.
package signature

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/The-Sycorax/denaro/foundation/blockchain/chain"
)

// SignatureLength is the fixed byte length of an encoded signature, the
// little-endian r and s values at 32 bytes each.
const SignatureLength = 64

// Hash returns the lowercase hex SHA-256 of the data.
func Hash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// HashBytes returns the raw SHA-256 of the data.
func HashBytes(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// GenerateKey creates a new P-256 private key.
func GenerateKey() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
}

// Sign signs the 32-byte digest with the private key and returns the 64-byte
// encoded signature. The s value is normalised to the lower half of the curve
// order, so each (r, s) pair has a single accepted encoding. The nonce is drawn
// from crypto/rand, so signing the same digest twice yields different
// signatures.
func Sign(digest []byte, privateKey *ecdsa.PrivateKey) ([]byte, error) {
	r, s, err := ecdsa.Sign(rand.Reader, privateKey, digest)
	if err != nil {
		return nil, fmt.Errorf("signing: %w", err)
	}

	n := elliptic.P256().Params().N
	halfN := new(big.Int).Rsh(n, 1)
	if s.Cmp(halfN) > 0 {
		s = new(big.Int).Sub(n, s)
	}

	sig := make([]byte, SignatureLength)
	putLE(sig[:32], r)
	putLE(sig[32:], s)

	return sig, nil
}

// Verify checks the 64-byte signature over the digest against the public key.
// High-s signatures are rejected so each signature has a single valid
// encoding.
func Verify(digest []byte, sig []byte, publicKey *ecdsa.PublicKey) error {
	if len(sig) != SignatureLength {
		return fmt.Errorf("signature must be %d bytes: %w", SignatureLength, chain.ErrMalformedInput)
	}

	r := getLE(sig[:32])
	s := getLE(sig[32:])

	n := elliptic.P256().Params().N
	halfN := new(big.Int).Rsh(n, 1)
	if s.Sign() <= 0 || r.Sign() <= 0 || s.Cmp(halfN) > 0 {
		return chain.ErrSignatureInvalid
	}

	if !ecdsa.Verify(publicKey, digest, r, s) {
		return chain.ErrSignatureInvalid
	}

	return nil
}

// PublicKeyHex returns the SEC1 compressed encoding of the public key in
// lowercase hex. This is the form exchanged in peer envelopes.
func PublicKeyHex(publicKey *ecdsa.PublicKey) string {
	return hex.EncodeToString(elliptic.MarshalCompressed(elliptic.P256(), publicKey.X, publicKey.Y))
}

// PublicKeyFromHex decodes a SEC1 compressed public key from hex.
func PublicKeyFromHex(s string) (*ecdsa.PublicKey, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("public key is not hex: %w", chain.ErrMalformedInput)
	}

	x, y := elliptic.UnmarshalCompressed(elliptic.P256(), raw)
	if x == nil {
		return nil, fmt.Errorf("public key is not on the curve: %w", chain.ErrMalformedInput)
	}

	return &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}, nil
}

// =============================================================================

// putLE writes the big.Int into the buffer little-endian, zero padded.
func putLE(dst []byte, v *big.Int) {
	b := v.Bytes()
	for i := range b {
		dst[i] = b[len(b)-1-i]
	}
	for i := len(b); i < len(dst); i++ {
		dst[i] = 0
	}
}

// getLE reads a little-endian big.Int from the buffer.
func getLE(src []byte) *big.Int {
	b := make([]byte, len(src))
	for i := range src {
		b[i] = src[len(src)-1-i]
	}
	return new(big.Int).SetBytes(b)
}
