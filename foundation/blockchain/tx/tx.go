// Package tx implements the transaction wire codec and the validation
// pipeline that admits transactions into blocks and the pending pool.
package tx

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/The-Sycorax/denaro/foundation/blockchain/currency"
	"github.com/The-Sycorax/denaro/foundation/blockchain/signature"
)

// Structural limits enforced by the codec.
const (
	MaxInputs  = 255
	MaxOutputs = 255
	MaxMessage = 65535
)

// Input references a previously produced output and carries the signature
// authorising its consumption.
type Input struct {
	TxHash    string `json:"tx_hash"`
	Index     uint8  `json:"index"`
	Signature []byte `json:"signature,omitempty"`
}

// Output assigns an amount to an address.
type Output struct {
	Address string          `json:"address"`
	Amount  currency.Amount `json:"amount"`
}

// Tx is a transfer of value. A coinbase transaction has no inputs and a
// single output minting the block reward plus fees.
type Tx struct {
	Version uint8    `json:"version"`
	Inputs  []Input  `json:"inputs"`
	Outputs []Output `json:"outputs"`
	Message []byte   `json:"message,omitempty"`
}

// New constructs an unsigned transaction. The version is derived from the
// presence of a message.
func New(inputs []Input, outputs []Output, message []byte) Tx {
	version := uint8(versionPlain)
	if len(message) > 0 {
		version = versionMessage
	}

	return Tx{
		Version: version,
		Inputs:  inputs,
		Outputs: outputs,
		Message: message,
	}
}

// IsCoinbase reports whether the transaction mints new coins.
func (t Tx) IsCoinbase() bool {
	return len(t.Inputs) == 0
}

// Hash returns the canonical transaction hash used by references: the
// SHA-256 of the full encoding, signatures included.
func (t Tx) Hash() (string, error) {
	data, err := t.Encode()
	if err != nil {
		return "", err
	}

	return signature.Hash(data), nil
}

// SigningDigest returns the 32-byte digest every input signs: the SHA-256 of
// the encoding with all signatures excluded.
func (t Tx) SigningDigest() ([]byte, error) {
	data, err := t.encode(false)
	if err != nil {
		return nil, err
	}

	d := signature.HashBytes(data)
	return d[:], nil
}

// Sign produces the signature for every input controlled by the private key
// and stores it on those inputs. Keys are matched by the address of the
// referenced output, which the caller resolves into the inputAddrs slice aligned
// with the inputs.
func (t *Tx) Sign(privateKey *ecdsa.PrivateKey, inputAddrs []string) error {
	if len(inputAddrs) != len(t.Inputs) {
		return fmt.Errorf("have %d resolved addresses for %d inputs", len(inputAddrs), len(t.Inputs))
	}

	digest, err := t.SigningDigest()
	if err != nil {
		return err
	}

	owned := signature.AddressFromPublicKey(&privateKey.PublicKey)
	for i := range t.Inputs {
		if inputAddrs[i] != owned {
			continue
		}
		sig, err := signature.Sign(digest, privateKey)
		if err != nil {
			return err
		}
		t.Inputs[i].Signature = sig
	}

	return nil
}

// HexSize returns the size of the transaction in hex characters, the unit
// the per-block data budget is measured in.
func (t Tx) HexSize() (int, error) {
	data, err := t.Encode()
	if err != nil {
		return 0, err
	}

	return len(data) * 2, nil
}
