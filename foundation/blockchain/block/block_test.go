package block_test

import (
	"strings"
	"testing"

	"github.com/The-Sycorax/denaro/foundation/blockchain/block"
	"github.com/The-Sycorax/denaro/foundation/blockchain/genesis"
	"github.com/The-Sycorax/denaro/foundation/blockchain/merkle"
	"github.com/The-Sycorax/denaro/foundation/blockchain/signature"
	"github.com/shopspring/decimal"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

func testAddress(t *testing.T) string {
	t.Helper()
	privateKey, err := signature.GenerateKey()
	if err != nil {
		t.Fatalf("\t%s\tShould be able to generate a key: %v", failed, err)
	}
	return signature.AddressFromPublicKey(&privateKey.PublicKey)
}

func TestContentRoundTrip(t *testing.T) {
	t.Log("Given the need to round-trip block content.")
	{
		root, _ := merkle.Root(nil)
		content := block.Content{
			PreviousHash: genesis.PreviousHashSentinel(),
			MinerAddress: testAddress(t),
			MerkleRoot:   root,
			Timestamp:    1_717_171_717,
			Difficulty:   decimal.RequireFromString("6.3"),
			Nonce:        424242,
		}

		contentHex, err := content.EncodeHex()
		if err != nil {
			t.Fatalf("\t%s\tShould be able to encode content: %v", failed, err)
		}

		decoded, err := block.DecodeContent(contentHex)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to decode content: %v", failed, err)
		}

		if decoded.PreviousHash != content.PreviousHash ||
			decoded.MinerAddress != content.MinerAddress ||
			decoded.MerkleRoot != content.MerkleRoot ||
			decoded.Timestamp != content.Timestamp ||
			!decoded.Difficulty.Equal(content.Difficulty) ||
			decoded.Nonce != content.Nonce {
			t.Fatalf("\t%s\tShould decode to the original content.\ngot: %+v\nexp: %+v", failed, decoded, content)
		}
		t.Logf("\t%s\tShould decode to the original content.", success)

		if _, err := block.DecodeContent(contentHex + "00"); err == nil {
			t.Fatalf("\t%s\tShould reject content with trailing bytes.", failed)
		}
		t.Logf("\t%s\tShould reject content with trailing bytes.", success)
	}
}

func TestDifficultyPredicate(t *testing.T) {
	prev := "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"

	type table struct {
		name       string
		hash       string
		difficulty string
		valid      bool
	}

	tt := []table{
		{
			name:       "integer difficulty satisfied",
			hash:       "f00a08" + strings.Repeat("1", 58),
			difficulty: "6.0",
			valid:      true,
		},
		{
			name:       "integer difficulty wrong prefix",
			hash:       "f00a09" + strings.Repeat("1", 58),
			difficulty: "6.0",
			valid:      false,
		},
		{
			name:       "fractional difficulty allowed next char",
			hash:       "f00a08" + "3" + strings.Repeat("1", 57),
			difficulty: "6.8",
			valid:      true,
		},
		{
			name:       "fractional difficulty disallowed next char",
			hash:       "f00a08" + "f" + strings.Repeat("1", 57),
			difficulty: "6.8",
			valid:      false,
		},
		{
			name:       "wrong length hash",
			hash:       "f00a08",
			difficulty: "6.0",
			valid:      false,
		},
	}

	t.Log("Given the need to evaluate the fractional difficulty predicate.")
	{
		for i, tst := range tt {
			got := block.SatisfiesDifficulty(tst.hash, prev, decimal.RequireFromString(tst.difficulty))
			if got != tst.valid {
				t.Fatalf("\t%s\tTest %d (%s): got %v, exp %v.", failed, i, tst.name, got, tst.valid)
			}
			t.Logf("\t%s\tTest %d (%s).", success, i, tst.name)
		}
	}
}

func TestFractionalCharsetBound(t *testing.T) {
	t.Log("Given the need to honor the fractional charset bound at the boundary character.")
	{
		// difficulty 6.8 allows ceil(16 * 0.2) = 4 leading charset chars.
		prev := strings.Repeat("0", 64)
		base := strings.Repeat("0", 6)

		allowed := []byte{'0', '1', '2', '3'}
		for _, c := range allowed {
			hash := base + string(c) + strings.Repeat("9", 57)
			if !block.SatisfiesDifficulty(hash, prev, decimal.RequireFromString("6.8")) {
				t.Fatalf("\t%s\tShould allow boundary char %q.", failed, c)
			}
		}
		t.Logf("\t%s\tShould allow the first four charset characters.", success)

		for _, c := range []byte{'4', 'a', 'f'} {
			hash := base + string(c) + strings.Repeat("9", 57)
			if block.SatisfiesDifficulty(hash, prev, decimal.RequireFromString("6.8")) {
				t.Fatalf("\t%s\tShould reject boundary char %q.", failed, c)
			}
		}
		t.Logf("\t%s\tShould reject characters past the bound.", success)
	}
}
