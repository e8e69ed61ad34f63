// Package mempool implements the ordering, selection, and eviction policy of
// the pending transaction pool. The pool of record lives in storage; this
// package holds the pure decision logic.
package mempool

import (
	"github.com/The-Sycorax/denaro/foundation/blockchain/storage"
	"github.com/The-Sycorax/denaro/foundation/blockchain/tx"
	"github.com/scylladb/go-set/strset"
	"github.com/shopspring/decimal"
)

// FeeDensity returns the ordering key of a pending transaction: fees per hex
// character.
func FeeDensity(row storage.PendingRow) decimal.Decimal {
	size := len(row.TxHex)
	if size == 0 {
		size = 1
	}

	return row.Fees.Div(decimal.New(int64(size), 0))
}

// EvictionCandidate picks the pending transaction to evict so the incoming
// one can be admitted to a full pool. It returns the hash of the lowest
// fee-density entry, and false when the incoming transaction itself ranks at
// or below everything already pooled.
func EvictionCandidate(pool []storage.PendingRow, incoming storage.PendingRow) (string, bool) {
	if len(pool) == 0 {
		return "", false
	}

	lowest := pool[0]
	for _, row := range pool[1:] {
		d := FeeDensity(row)
		ld := FeeDensity(lowest)
		if d.LessThan(ld) || (d.Equal(ld) && row.TimeReceived < lowest.TimeReceived) {
			lowest = row
		}
	}

	if !FeeDensity(incoming).GreaterThan(FeeDensity(lowest)) {
		return "", false
	}

	return lowest.TxHash, true
}

// Selection is a block template: the chosen transactions in dependency order
// and their aggregate hex size.
type Selection struct {
	Rows    []storage.PendingRow
	HexSize int
}

// Select assembles a fee-density-ordered prefix of the pool bounded by
// maxHexSize, resolving internal dependencies: a transaction is included only
// once every input is satisfied by the committed unspent set or by an earlier
// selected transaction. Rows must arrive ordered highest fee density first.
func Select(rows []storage.PendingRow, maxHexSize int, inUnspentSet func(txHash string, index uint8) bool) Selection {
	var sel Selection
	selected := strset.New()

	// A skipped transaction can become eligible once a dependency is chosen,
	// so sweep until a pass adds nothing.
	remaining := append([]storage.PendingRow(nil), rows...)
	for {
		progressed := false

		next := remaining[:0]
		for _, row := range remaining {
			if sel.HexSize+len(row.TxHex) > maxHexSize {
				continue
			}

			t, err := tx.DecodeHex(row.TxHex)
			if err != nil {
				continue
			}

			eligible := true
			for _, in := range t.Inputs {
				if selected.Has(in.TxHash) {
					continue
				}
				if !inUnspentSet(in.TxHash, in.Index) {
					eligible = false
					break
				}
			}

			if !eligible {
				next = append(next, row)
				continue
			}

			sel.Rows = append(sel.Rows, row)
			sel.HexSize += len(row.TxHex)
			selected.Add(row.TxHash)
			progressed = true
		}

		remaining = next
		if !progressed || len(remaining) == 0 {
			break
		}
	}

	return sel
}
