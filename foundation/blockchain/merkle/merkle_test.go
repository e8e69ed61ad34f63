package merkle_test

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/The-Sycorax/denaro/foundation/blockchain/merkle"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

func TestRoot(t *testing.T) {
	t.Log("Given the need to digest a block's transaction hashes.")
	{
		empty, err := merkle.Root(nil)
		if err != nil {
			t.Fatalf("\t%s\tShould digest the empty set: %v", failed, err)
		}
		expEmpty := sha256.Sum256(nil)
		if empty != hex.EncodeToString(expEmpty[:]) {
			t.Fatalf("\t%s\tShould digest the empty set to SHA-256 of nothing.", failed)
		}
		t.Logf("\t%s\tShould digest the empty set to SHA-256 of nothing.", success)

		h1 := sha256.Sum256([]byte("one"))
		h2 := sha256.Sum256([]byte("two"))
		root, err := merkle.Root([]string{hex.EncodeToString(h1[:]), hex.EncodeToString(h2[:])})
		if err != nil {
			t.Fatalf("\t%s\tShould digest two hashes: %v", failed, err)
		}

		concat := append(append([]byte(nil), h1[:]...), h2[:]...)
		exp := sha256.Sum256(concat)
		if root != hex.EncodeToString(exp[:]) {
			t.Fatalf("\t%s\tShould digest the concatenated hash bytes.", failed)
		}
		t.Logf("\t%s\tShould digest the concatenated hash bytes.", success)

		swapped, _ := merkle.Root([]string{hex.EncodeToString(h2[:]), hex.EncodeToString(h1[:])})
		if swapped == root {
			t.Fatalf("\t%s\tShould be order sensitive.", failed)
		}
		t.Logf("\t%s\tShould be order sensitive.", success)

		if _, err := merkle.Root([]string{"zz"}); err == nil {
			t.Fatalf("\t%s\tShould reject a malformed hash.", failed)
		}
		t.Logf("\t%s\tShould reject a malformed hash.", success)
	}
}
