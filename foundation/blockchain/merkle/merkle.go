// Package merkle computes the transaction digest committed by a block
// header. The digest is the SHA-256 of the concatenated transaction hashes in
// block order; the empty set digests to SHA-256 of the empty string.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/The-Sycorax/denaro/foundation/blockchain/chain"
)

// Root computes the digest over the ordered transaction hashes. Each hash
// must be 64 lowercase hex characters.
func Root(txHashes []string) (string, error) {
	h := sha256.New()
	for _, txHash := range txHashes {
		raw, err := hex.DecodeString(txHash)
		if err != nil || len(raw) != 32 {
			return "", fmt.Errorf("transaction hash %q: %w", txHash, chain.ErrMalformedInput)
		}
		h.Write(raw)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
