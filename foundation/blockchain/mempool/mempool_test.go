package mempool_test

import (
	"testing"

	"github.com/The-Sycorax/denaro/foundation/blockchain/mempool"
	"github.com/The-Sycorax/denaro/foundation/blockchain/signature"
	"github.com/The-Sycorax/denaro/foundation/blockchain/storage"
	"github.com/The-Sycorax/denaro/foundation/blockchain/tx"
	"github.com/shopspring/decimal"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

func pendingRow(hash string, hexSize int, fees string, received int64) storage.PendingRow {
	hexData := make([]byte, hexSize)
	for i := range hexData {
		hexData[i] = 'a'
	}

	return storage.PendingRow{
		TxHash:       hash,
		TxHex:        string(hexData),
		Fees:         decimal.RequireFromString(fees),
		TimeReceived: received,
	}
}

func TestEvictionCandidate(t *testing.T) {
	t.Log("Given the need to pick an eviction victim from a full pool.")
	{
		pool := []storage.PendingRow{
			pendingRow("aaaa", 100, "0.5", 1),
			pendingRow("bbbb", 100, "0.1", 2),
			pendingRow("cccc", 100, "0.9", 3),
		}

		victim, found := mempool.EvictionCandidate(pool, pendingRow("dddd", 100, "0.4", 4))
		if !found || victim != "bbbb" {
			t.Fatalf("\t%s\tShould evict the lowest fee density entry, got %q found %v.", failed, victim, found)
		}
		t.Logf("\t%s\tShould evict the lowest fee density entry.", success)

		if _, found := mempool.EvictionCandidate(pool, pendingRow("eeee", 100, "0.05", 5)); found {
			t.Fatalf("\t%s\tShould refuse to evict for a lower paying transaction.", failed)
		}
		t.Logf("\t%s\tShould refuse to evict for a lower paying transaction.", success)
	}
}

// signedTx builds a signed transaction for selection tests.
func signedTx(t *testing.T, fromHash string, fees string) storage.PendingRow {
	t.Helper()

	privateKey, err := signature.GenerateKey()
	if err != nil {
		t.Fatalf("\t%s\tShould be able to generate a key: %v", failed, err)
	}
	owner := signature.AddressFromPublicKey(&privateKey.PublicKey)

	trn := tx.New([]tx.Input{{TxHash: fromHash, Index: 0}}, []tx.Output{{Address: owner, Amount: 900_000}}, nil)
	if err := trn.Sign(privateKey, []string{owner}); err != nil {
		t.Fatalf("\t%s\tShould be able to sign: %v", failed, err)
	}

	txHex, err := trn.EncodeHex()
	if err != nil {
		t.Fatalf("\t%s\tShould be able to encode: %v", failed, err)
	}
	txHash, err := trn.Hash()
	if err != nil {
		t.Fatalf("\t%s\tShould be able to hash: %v", failed, err)
	}

	return storage.PendingRow{
		TxHash: txHash,
		TxHex:  txHex,
		Fees:   decimal.RequireFromString(fees),
	}
}

func TestSelect(t *testing.T) {
	t.Log("Given the need to assemble a block template within the data budget.")
	{
		funded := signature.Hash([]byte("committed funding output"))

		parent := signedTx(t, funded, "0.2")
		child := signedTx(t, parent.TxHash, "0.9")
		orphan := signedTx(t, signature.Hash([]byte("never committed")), "0.5")

		inUnspentSet := func(txHash string, index uint8) bool {
			return txHash == funded
		}

		// Highest fee density first, as the storage layer would order them.
		pool := []storage.PendingRow{child, orphan, parent}

		sel := mempool.Select(pool, 1<<20, inUnspentSet)

		if len(sel.Rows) != 2 {
			t.Fatalf("\t%s\tShould select the dependent pair only, got %d rows.", failed, len(sel.Rows))
		}
		if sel.Rows[0].TxHash != parent.TxHash || sel.Rows[1].TxHash != child.TxHash {
			t.Fatalf("\t%s\tShould order the parent before the child.", failed)
		}
		t.Logf("\t%s\tShould select the dependent pair in dependency order.", success)

		tight := mempool.Select(pool, len(child.TxHex)+1, inUnspentSet)
		if len(tight.Rows) != 1 {
			t.Fatalf("\t%s\tShould respect the size budget, got %d rows.", failed, len(tight.Rows))
		}
		t.Logf("\t%s\tShould respect the size budget.", success)
	}
}
