// Package peer maintains the node's cryptographic identity, the signed
// request envelope, and the registry of known peers with their reputation
// and rate limits.
package peer

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"github.com/The-Sycorax/denaro/foundation/blockchain/signature"
)

// Identity is the node's stable keypair. The node id is the SHA-256 of the
// compressed public key, 64 hex characters.
type Identity struct {
	PrivateKey *ecdsa.PrivateKey
	NodeID     string
}

// LoadIdentity reads the private key from the given path, generating and
// persisting a fresh one on first start.
func LoadIdentity(path string) (Identity, error) {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		return identityFromHex(string(data))

	case os.IsNotExist(err):
		privateKey, err := signature.GenerateKey()
		if err != nil {
			return Identity{}, fmt.Errorf("generating key: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return Identity{}, fmt.Errorf("creating key directory: %w", err)
		}
		keyHex := fmt.Sprintf("%064x", privateKey.D)
		if err := os.WriteFile(path, []byte(keyHex), 0o600); err != nil {
			return Identity{}, fmt.Errorf("persisting key: %w", err)
		}
		return newIdentity(privateKey), nil

	default:
		return Identity{}, fmt.Errorf("reading key: %w", err)
	}
}

// identityFromHex reconstructs the identity from a stored hex scalar.
func identityFromHex(keyHex string) (Identity, error) {
	d, ok := new(big.Int).SetString(trimmed(keyHex), 16)
	if !ok {
		return Identity{}, fmt.Errorf("key file is not hex")
	}

	curve := elliptic.P256()
	if d.Sign() <= 0 || d.Cmp(curve.Params().N) >= 0 {
		return Identity{}, fmt.Errorf("key scalar out of range")
	}

	privateKey := ecdsa.PrivateKey{D: d}
	privateKey.Curve = curve
	privateKey.X, privateKey.Y = curve.ScalarBaseMult(d.Bytes())

	return newIdentity(&privateKey), nil
}

func newIdentity(privateKey *ecdsa.PrivateKey) Identity {
	pub := signature.PublicKeyHex(&privateKey.PublicKey)
	raw, _ := hex.DecodeString(pub)

	return Identity{
		PrivateKey: privateKey,
		NodeID:     signature.Hash(raw),
	}
}

// PublicKeyHex returns the compressed public key in hex, the form published
// to peers.
func (id Identity) PublicKeyHex() string {
	return signature.PublicKeyHex(&id.PrivateKey.PublicKey)
}

// NodeIDFromPublicKey derives a node id from a peer's published public key.
func NodeIDFromPublicKey(pubkeyHex string) (string, error) {
	raw, err := hex.DecodeString(pubkeyHex)
	if err != nil {
		return "", fmt.Errorf("public key is not hex: %w", err)
	}

	return signature.Hash(raw), nil
}

func trimmed(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r' || s[len(s)-1] == ' ') {
		s = s[:len(s)-1]
	}
	return s
}
