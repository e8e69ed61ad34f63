package state

import (
	"context"
	"fmt"

	"github.com/The-Sycorax/denaro/foundation/blockchain/chain"
	"github.com/The-Sycorax/denaro/foundation/blockchain/currency"
	"github.com/The-Sycorax/denaro/foundation/blockchain/storage"
	"github.com/The-Sycorax/denaro/foundation/blockchain/tx"
)

// entryState tracks how an overlay entry diverges from the committed store.
type entryState int

const (
	entryAvailable entryState = iota // Output exists and is unspent in the overlay.
	entrySpent                       // Output consumed inside the overlay.
	entryDeleted                     // Producing transaction removed inside the overlay.
)

type overlayEntry struct {
	state  entryState
	output tx.Output
}

// overlay is a UTXO view layered over the committed store. Reorganisations
// validate a replacement branch against it before anything is committed, and
// block application uses it to make earlier in-block outputs spendable.
type overlay struct {
	ctx     context.Context
	store   storage.Store
	entries map[storage.Outpoint]overlayEntry
}

func newOverlay(ctx context.Context, store storage.Store) *overlay {
	return &overlay{
		ctx:     ctx,
		store:   store,
		entries: make(map[storage.Outpoint]overlayEntry),
	}
}

// Resolve implements the tx.UTXOView interface.
func (o *overlay) Resolve(txHash string, index uint8) (tx.Output, error) {
	op := storage.Outpoint{TxHash: txHash, Index: index}

	if e, found := o.entries[op]; found {
		switch e.state {
		case entryAvailable:
			return e.output, nil
		case entrySpent:
			return tx.Output{}, chain.ErrDoubleSpend
		default:
			return tx.Output{}, chain.ErrUnknownInput
		}
	}

	r, exists, err := o.store.ResolveOutput(o.ctx, op)
	if err != nil {
		return tx.Output{}, err
	}
	if !exists {
		return tx.Output{}, chain.ErrUnknownInput
	}
	if !r.Unspent {
		return tx.Output{}, chain.ErrDoubleSpend
	}

	return tx.Output{Address: r.Address, Amount: currency.Amount(r.Amount)}, nil
}

// markAvailable records an output as unspent in the overlay.
func (o *overlay) markAvailable(op storage.Outpoint, out tx.Output) {
	o.entries[op] = overlayEntry{state: entryAvailable, output: out}
}

// markSpent records an output as consumed in the overlay.
func (o *overlay) markSpent(op storage.Outpoint) {
	e := o.entries[op]
	e.state = entrySpent
	o.entries[op] = e
}

// markDeleted records that the producing transaction is gone.
func (o *overlay) markDeleted(op storage.Outpoint) {
	o.entries[op] = overlayEntry{state: entryDeleted}
}

// addTxOutputs makes every output of the transaction spendable in the
// overlay.
func (o *overlay) addTxOutputs(t tx.Tx) error {
	txHash, err := t.Hash()
	if err != nil {
		return err
	}
	for i, out := range t.Outputs {
		o.markAvailable(storage.Outpoint{TxHash: txHash, Index: uint8(i)}, out)
	}

	return nil
}

// =============================================================================

// pendingView resolves against the committed unspent set extended by the
// outputs of currently pending transactions. Mempool admission validates
// against it so chained unconfirmed spends are admissible.
type pendingView struct {
	ctx            context.Context
	store          storage.Store
	pendingOutputs map[storage.Outpoint]tx.Output
}

// newPendingView decodes the current pool and indexes its outputs.
func newPendingView(ctx context.Context, store storage.Store) (*pendingView, error) {
	rows, err := store.ListPending(ctx, storage.PendingByAge)
	if err != nil {
		return nil, err
	}

	outputs := make(map[storage.Outpoint]tx.Output)
	for _, row := range rows {
		t, err := tx.DecodeHex(row.TxHex)
		if err != nil {
			return nil, fmt.Errorf("decoding pending %s: %w", row.TxHash, err)
		}
		for i, out := range t.Outputs {
			outputs[storage.Outpoint{TxHash: row.TxHash, Index: uint8(i)}] = out
		}
	}

	return &pendingView{ctx: ctx, store: store, pendingOutputs: outputs}, nil
}

// Resolve implements the tx.UTXOView interface.
func (v *pendingView) Resolve(txHash string, index uint8) (tx.Output, error) {
	op := storage.Outpoint{TxHash: txHash, Index: index}

	r, exists, err := v.store.ResolveOutput(v.ctx, op)
	if err != nil {
		return tx.Output{}, err
	}
	if exists {
		if !r.Unspent {
			return tx.Output{}, chain.ErrDoubleSpend
		}
		return tx.Output{Address: r.Address, Amount: currency.Amount(r.Amount)}, nil
	}

	if out, found := v.pendingOutputs[op]; found {
		return out, nil
	}

	return tx.Output{}, chain.ErrUnknownInput
}
