package tx

import (
	"fmt"

	"github.com/The-Sycorax/denaro/foundation/blockchain/chain"
	"github.com/The-Sycorax/denaro/foundation/blockchain/currency"
	"github.com/The-Sycorax/denaro/foundation/blockchain/signature"
	"github.com/scylladb/go-set/strset"
)

// UTXOView resolves input references against some snapshot of the unspent
// set. Resolve returns the referenced output if it exists and is unspent in
// the snapshot; otherwise it returns ErrUnknownInput for a reference that was
// never produced and ErrDoubleSpend for one that has been consumed.
type UTXOView interface {
	Resolve(txHash string, index uint8) (Output, error)
}

// Validate runs the full admission pipeline for a non-coinbase transaction
// against the snapshot and returns the implied fee. The checks run in order:
// structure, input resolution, signatures, amount ranges, conservation. Every
// amount is range-checked while the sums are formed, so a transaction failing
// both of the last two checks reports AmountOutOfRange.
func Validate(t Tx, view UTXOView) (currency.Amount, error) {
	if t.IsCoinbase() {
		return 0, fmt.Errorf("coinbase outside block context: %w", chain.ErrInvalidStructure)
	}
	if err := checkStructure(t); err != nil {
		return 0, err
	}

	resolved := make([]Output, len(t.Inputs))
	for i, in := range t.Inputs {
		out, err := view.Resolve(in.TxHash, in.Index)
		if err != nil {
			return 0, fmt.Errorf("input %s:%d: %w", in.TxHash, in.Index, err)
		}
		resolved[i] = out
	}

	digest, err := t.SigningDigest()
	if err != nil {
		return 0, err
	}
	for i, in := range t.Inputs {
		publicKey, err := signature.PublicKeyFromAddress(resolved[i].Address)
		if err != nil {
			return 0, fmt.Errorf("input %d owner address: %w", i, err)
		}
		if err := signature.Verify(digest, in.Signature, publicKey); err != nil {
			return 0, fmt.Errorf("input %d: %w", i, err)
		}
	}

	var inSum, outSum currency.Amount
	for _, out := range resolved {
		if !out.Amount.Valid() {
			return 0, fmt.Errorf("resolved input amount %d: %w", out.Amount, chain.ErrAmountOutOfRange)
		}
		if inSum > currency.MaxAmount-out.Amount {
			return 0, fmt.Errorf("input sum overflow: %w", chain.ErrAmountOutOfRange)
		}
		inSum += out.Amount
	}
	for _, out := range t.Outputs {
		if !out.Amount.Valid() {
			return 0, fmt.Errorf("output amount %d: %w", out.Amount, chain.ErrAmountOutOfRange)
		}
		if outSum > currency.MaxAmount-out.Amount {
			return 0, fmt.Errorf("output sum overflow: %w", chain.ErrAmountOutOfRange)
		}
		outSum += out.Amount
	}

	if outSum > inSum {
		return 0, fmt.Errorf("outputs %s exceed inputs %s: %w", outSum, inSum, chain.ErrInsufficientFunds)
	}

	return inSum - outSum, nil
}

// ValidateCoinbase checks the minting transaction of a block: no inputs, a
// single output whose amount equals the block reward plus the fees of the
// block's other transactions.
func ValidateCoinbase(t Tx, expected currency.Amount) error {
	if !t.IsCoinbase() {
		return fmt.Errorf("coinbase has %d inputs: %w", len(t.Inputs), chain.ErrInvalidStructure)
	}
	if len(t.Outputs) != 1 {
		return fmt.Errorf("coinbase has %d outputs: %w", len(t.Outputs), chain.ErrInvalidStructure)
	}
	if !signature.ValidAddress(t.Outputs[0].Address) {
		return fmt.Errorf("coinbase output address: %w", chain.ErrMalformedInput)
	}
	if t.Outputs[0].Amount != expected {
		return fmt.Errorf("coinbase mints %s, schedule allows %s: %w", t.Outputs[0].Amount, expected, chain.ErrBadReward)
	}

	return nil
}

// checkStructure enforces the structural invariants that do not need a UTXO
// snapshot.
func checkStructure(t Tx) error {
	if len(t.Inputs) == 0 {
		return fmt.Errorf("no inputs: %w", chain.ErrInvalidStructure)
	}
	if len(t.Inputs) > MaxInputs || len(t.Outputs) > MaxOutputs || len(t.Outputs) == 0 {
		return fmt.Errorf("input/output counts: %w", chain.ErrInvalidStructure)
	}

	seen := strset.NewWithSize(len(t.Inputs))
	for _, in := range t.Inputs {
		key := outpointKey(in.TxHash, in.Index)
		if seen.Has(key) {
			return fmt.Errorf("duplicate input %s: %w", key, chain.ErrInvalidStructure)
		}
		seen.Add(key)
	}

	return nil
}

// outpointKey is the canonical string form of an output reference.
func outpointKey(txHash string, index uint8) string {
	return fmt.Sprintf("%s:%d", txHash, index)
}

// OutpointKey exposes the canonical output reference form to the pool and
// state packages.
func OutpointKey(txHash string, index uint8) string {
	return outpointKey(txHash, index)
}
