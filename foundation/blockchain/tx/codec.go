package tx

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/The-Sycorax/denaro/foundation/blockchain/chain"
	"github.com/The-Sycorax/denaro/foundation/blockchain/currency"
	"github.com/The-Sycorax/denaro/foundation/blockchain/genesis"
	"github.com/The-Sycorax/denaro/foundation/blockchain/signature"
	"github.com/btcsuite/btcd/btcutil/base58"
)

// Wire versions. Version 2 appends an optional message section.
const (
	versionPlain   = 1
	versionMessage = 2
)

// Encode produces the canonical byte encoding of the transaction, with input
// signatures appended after the unsigned sections. Decode(Encode(t)) == t.
func (t Tx) Encode() ([]byte, error) {
	return t.encode(true)
}

// EncodeHex returns the encoding as lowercase hex.
func (t Tx) EncodeHex() (string, error) {
	data, err := t.Encode()
	if err != nil {
		return "", err
	}

	return hex.EncodeToString(data), nil
}

func (t Tx) encode(withSignatures bool) ([]byte, error) {
	if len(t.Inputs) > MaxInputs {
		return nil, fmt.Errorf("%d inputs: %w", len(t.Inputs), chain.ErrInvalidStructure)
	}
	if len(t.Outputs) == 0 || len(t.Outputs) > MaxOutputs {
		return nil, fmt.Errorf("%d outputs: %w", len(t.Outputs), chain.ErrInvalidStructure)
	}
	if len(t.Message) > MaxMessage {
		return nil, fmt.Errorf("message of %d bytes: %w", len(t.Message), chain.ErrInvalidStructure)
	}
	if t.Version != versionPlain && t.Version != versionMessage {
		return nil, fmt.Errorf("version %d: %w", t.Version, chain.ErrInvalidStructure)
	}
	if t.Version == versionPlain && len(t.Message) > 0 {
		return nil, fmt.Errorf("message on version 1: %w", chain.ErrInvalidStructure)
	}

	var buf bytes.Buffer
	buf.WriteByte(t.Version)

	buf.WriteByte(uint8(len(t.Inputs)))
	for _, in := range t.Inputs {
		raw, err := hex.DecodeString(in.TxHash)
		if err != nil || len(raw) != 32 {
			return nil, fmt.Errorf("input tx hash %q: %w", in.TxHash, chain.ErrMalformedInput)
		}
		buf.Write(raw)
		buf.WriteByte(in.Index)
	}

	buf.WriteByte(uint8(len(t.Outputs)))
	for _, out := range t.Outputs {
		payload := base58.Decode(out.Address)
		if len(payload) != 33 {
			return nil, fmt.Errorf("output address %q: %w", out.Address, chain.ErrMalformedInput)
		}
		buf.Write(payload)
		var amt [8]byte
		binary.LittleEndian.PutUint64(amt[:], uint64(out.Amount))
		buf.Write(amt[:])
	}

	if t.Version == versionMessage {
		var mlen [2]byte
		binary.LittleEndian.PutUint16(mlen[:], uint16(len(t.Message)))
		buf.Write(mlen[:])
		buf.Write(t.Message)
	}

	if withSignatures {
		for _, in := range t.Inputs {
			if len(in.Signature) != signature.SignatureLength {
				return nil, fmt.Errorf("input %s:%d unsigned: %w", in.TxHash, in.Index, chain.ErrInvalidStructure)
			}
			buf.Write(in.Signature)
		}
	}

	return buf.Bytes(), nil
}

// Decode parses the canonical encoding back into a transaction. The encoding
// is strict: redundant bytes and out-of-range counts are rejected.
func Decode(data []byte) (Tx, error) {
	r := bytes.NewReader(data)

	version, err := r.ReadByte()
	if err != nil {
		return Tx{}, fmt.Errorf("reading version: %w", chain.ErrInvalidStructure)
	}
	if version != versionPlain && version != versionMessage {
		return Tx{}, fmt.Errorf("version %d: %w", version, chain.ErrInvalidStructure)
	}

	inCount, err := r.ReadByte()
	if err != nil {
		return Tx{}, fmt.Errorf("reading input count: %w", chain.ErrInvalidStructure)
	}
	inputs := make([]Input, 0, inCount)
	for i := 0; i < int(inCount); i++ {
		var hash [32]byte
		if _, err := io.ReadFull(r, hash[:]); err != nil {
			return Tx{}, fmt.Errorf("reading input %d: %w", i, chain.ErrInvalidStructure)
		}
		index, err := r.ReadByte()
		if err != nil {
			return Tx{}, fmt.Errorf("reading input %d index: %w", i, chain.ErrInvalidStructure)
		}
		inputs = append(inputs, Input{TxHash: hex.EncodeToString(hash[:]), Index: index})
	}

	outCount, err := r.ReadByte()
	if err != nil {
		return Tx{}, fmt.Errorf("reading output count: %w", chain.ErrInvalidStructure)
	}
	if outCount == 0 {
		return Tx{}, fmt.Errorf("no outputs: %w", chain.ErrInvalidStructure)
	}
	outputs := make([]Output, 0, outCount)
	for i := 0; i < int(outCount); i++ {
		var payload [33]byte
		if _, err := io.ReadFull(r, payload[:]); err != nil {
			return Tx{}, fmt.Errorf("reading output %d: %w", i, chain.ErrInvalidStructure)
		}
		var amt [8]byte
		if _, err := io.ReadFull(r, amt[:]); err != nil {
			return Tx{}, fmt.Errorf("reading output %d amount: %w", i, chain.ErrInvalidStructure)
		}
		amount := binary.LittleEndian.Uint64(amt[:])
		if amount > uint64(currency.MaxAmount) {
			return Tx{}, fmt.Errorf("output %d amount: %w", i, chain.ErrAmountOutOfRange)
		}
		outputs = append(outputs, Output{
			Address: base58.Encode(payload[:]),
			Amount:  currency.Amount(amount),
		})
	}

	var message []byte
	if version == versionMessage {
		var mlen [2]byte
		if _, err := io.ReadFull(r, mlen[:]); err != nil {
			return Tx{}, fmt.Errorf("reading message length: %w", chain.ErrInvalidStructure)
		}
		message = make([]byte, binary.LittleEndian.Uint16(mlen[:]))
		if _, err := io.ReadFull(r, message); err != nil {
			return Tx{}, fmt.Errorf("reading message: %w", chain.ErrInvalidStructure)
		}
		if len(message) == 0 {
			message = nil
		}
	}

	for i := range inputs {
		sig := make([]byte, signature.SignatureLength)
		if _, err := io.ReadFull(r, sig); err != nil {
			return Tx{}, fmt.Errorf("reading input %d signature: %w", i, chain.ErrInvalidStructure)
		}
		inputs[i].Signature = sig
	}

	if r.Len() != 0 {
		return Tx{}, fmt.Errorf("%d trailing bytes: %w", r.Len(), chain.ErrInvalidStructure)
	}

	return Tx{Version: version, Inputs: inputs, Outputs: outputs, Message: message}, nil
}

// DecodeHex parses a hex encoded transaction. The hex form is bounded by the
// per-block transaction data budget.
func DecodeHex(s string) (Tx, error) {
	if len(s) > genesis.MaxTxDataSize {
		return Tx{}, fmt.Errorf("transaction of %d hex chars: %w", len(s), chain.ErrBlockTooLarge)
	}

	data, err := hex.DecodeString(s)
	if err != nil {
		return Tx{}, fmt.Errorf("transaction is not hex: %w", chain.ErrMalformedInput)
	}

	return Decode(data)
}
