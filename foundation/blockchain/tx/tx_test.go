package tx_test

import (
	"crypto/ecdsa"
	"errors"
	"reflect"
	"testing"

	"github.com/The-Sycorax/denaro/foundation/blockchain/chain"
	"github.com/The-Sycorax/denaro/foundation/blockchain/currency"
	"github.com/The-Sycorax/denaro/foundation/blockchain/signature"
	"github.com/The-Sycorax/denaro/foundation/blockchain/tx"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

// fakeView is a UTXO snapshot for validation tests.
type fakeView struct {
	outputs map[string]tx.Output
	spent   map[string]bool
}

func (v fakeView) Resolve(txHash string, index uint8) (tx.Output, error) {
	key := tx.OutpointKey(txHash, index)
	if v.spent[key] {
		return tx.Output{}, chain.ErrDoubleSpend
	}
	out, found := v.outputs[key]
	if !found {
		return tx.Output{}, chain.ErrUnknownInput
	}
	return out, nil
}

func newKey(t *testing.T) (*ecdsa.PrivateKey, string) {
	t.Helper()
	privateKey, err := signature.GenerateKey()
	if err != nil {
		t.Fatalf("\t%s\tShould be able to generate a key: %v", failed, err)
	}
	return privateKey, signature.AddressFromPublicKey(&privateKey.PublicKey)
}

// fundedTx builds a signed transaction spending a fabricated funding output.
func fundedTx(t *testing.T, privateKey *ecdsa.PrivateKey, owner string, in currency.Amount, outs []tx.Output, message []byte) (tx.Tx, fakeView) {
	t.Helper()

	funding := "aa" + signature.Hash([]byte("funding"))[2:]
	trn := tx.New([]tx.Input{{TxHash: funding, Index: 0}}, outs, message)
	if err := trn.Sign(privateKey, []string{owner}); err != nil {
		t.Fatalf("\t%s\tShould be able to sign the transaction: %v", failed, err)
	}

	view := fakeView{
		outputs: map[string]tx.Output{
			tx.OutpointKey(funding, 0): {Address: owner, Amount: in},
		},
		spent: map[string]bool{},
	}

	return trn, view
}

func TestCodecRoundTrip(t *testing.T) {
	t.Log("Given the need to round-trip the transaction encoding.")
	{
		privateKey, owner := newKey(t)
		_, dest := newKey(t)

		outs := []tx.Output{{Address: dest, Amount: 750_000}, {Address: owner, Amount: 200_000}}
		trn, _ := fundedTx(t, privateKey, owner, 1_000_000, outs, []byte("lunch"))

		encoded, err := trn.Encode()
		if err != nil {
			t.Fatalf("\t%s\tShould be able to encode: %v", failed, err)
		}
		decoded, err := tx.Decode(encoded)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to decode: %v", failed, err)
		}
		if !reflect.DeepEqual(trn, decoded) {
			t.Fatalf("\t%s\tShould decode to the original transaction.\ngot: %+v\nexp: %+v", failed, decoded, trn)
		}
		t.Logf("\t%s\tShould decode to the original transaction.", success)

		if _, err := tx.Decode(encoded[:len(encoded)-1]); err == nil {
			t.Fatalf("\t%s\tShould reject a truncated encoding.", failed)
		}
		t.Logf("\t%s\tShould reject a truncated encoding.", success)

		if _, err := tx.Decode(append(encoded, 0x00)); err == nil {
			t.Fatalf("\t%s\tShould reject trailing bytes.", failed)
		}
		t.Logf("\t%s\tShould reject trailing bytes.", success)

		if _, err := tx.DecodeHex("zzzz"); !errors.Is(err, chain.ErrMalformedInput) {
			t.Fatalf("\t%s\tShould report MalformedInput for non-hex: %v", failed, err)
		}
		t.Logf("\t%s\tShould report MalformedInput for non-hex.", success)
	}
}

func TestValidate(t *testing.T) {
	t.Log("Given the need to validate transactions against a snapshot.")
	{
		privateKey, owner := newKey(t)
		_, dest := newKey(t)

		t.Logf("\tWhen handling a well formed transaction.")
		{
			trn, view := fundedTx(t, privateKey, owner, 1_000_000, []tx.Output{{Address: dest, Amount: 900_000}}, nil)

			fee, err := tx.Validate(trn, view)
			if err != nil {
				t.Fatalf("\t%s\tShould validate: %v", failed, err)
			}
			if fee != 100_000 {
				t.Fatalf("\t%s\tShould compute fee 100000, got %d.", failed, fee)
			}
			t.Logf("\t%s\tShould validate and compute the fee.", success)
		}

		t.Logf("\tWhen the referenced output does not exist.")
		{
			trn, view := fundedTx(t, privateKey, owner, 1_000_000, []tx.Output{{Address: dest, Amount: 900_000}}, nil)
			view.outputs = map[string]tx.Output{}

			if _, err := tx.Validate(trn, view); !errors.Is(err, chain.ErrUnknownInput) {
				t.Fatalf("\t%s\tShould report UnknownInput: %v", failed, err)
			}
			t.Logf("\t%s\tShould report UnknownInput.", success)
		}

		t.Logf("\tWhen the referenced output is already spent.")
		{
			trn, view := fundedTx(t, privateKey, owner, 1_000_000, []tx.Output{{Address: dest, Amount: 900_000}}, nil)
			view.spent[tx.OutpointKey(trn.Inputs[0].TxHash, 0)] = true

			if _, err := tx.Validate(trn, view); !errors.Is(err, chain.ErrDoubleSpend) {
				t.Fatalf("\t%s\tShould report DoubleSpend: %v", failed, err)
			}
			t.Logf("\t%s\tShould report DoubleSpend.", success)
		}

		t.Logf("\tWhen the signature belongs to another key.")
		{
			otherKey, _ := newKey(t)
			trn, view := fundedTx(t, privateKey, owner, 1_000_000, []tx.Output{{Address: dest, Amount: 900_000}}, nil)

			digest, _ := trn.SigningDigest()
			badSig, _ := signature.Sign(digest, otherKey)
			trn.Inputs[0].Signature = badSig

			if _, err := tx.Validate(trn, view); !errors.Is(err, chain.ErrSignatureInvalid) {
				t.Fatalf("\t%s\tShould report SignatureInvalid: %v", failed, err)
			}
			t.Logf("\t%s\tShould report SignatureInvalid.", success)
		}

		t.Logf("\tWhen the outputs exceed the inputs.")
		{
			trn, view := fundedTx(t, privateKey, owner, 500_000, []tx.Output{{Address: dest, Amount: 900_000}}, nil)

			if _, err := tx.Validate(trn, view); !errors.Is(err, chain.ErrInsufficientFunds) {
				t.Fatalf("\t%s\tShould report InsufficientFunds: %v", failed, err)
			}
			t.Logf("\t%s\tShould report InsufficientFunds.", success)
		}

		t.Logf("\tWhen the same output is referenced twice.")
		{
			trn, view := fundedTx(t, privateKey, owner, 1_000_000, []tx.Output{{Address: dest, Amount: 900_000}}, nil)
			trn.Inputs = append(trn.Inputs, trn.Inputs[0])

			if _, err := tx.Validate(trn, view); !errors.Is(err, chain.ErrInvalidStructure) {
				t.Fatalf("\t%s\tShould report InvalidStructure: %v", failed, err)
			}
			t.Logf("\t%s\tShould report InvalidStructure.", success)
		}
	}
}

func TestValidateCoinbase(t *testing.T) {
	t.Log("Given the need to validate coinbase transactions.")
	{
		_, miner := newKey(t)

		cb := tx.New(nil, []tx.Output{{Address: miner, Amount: 64_000_000}}, nil)

		if err := tx.ValidateCoinbase(cb, 64_000_000); err != nil {
			t.Fatalf("\t%s\tShould accept an exact coinbase: %v", failed, err)
		}
		t.Logf("\t%s\tShould accept an exact coinbase.", success)

		if err := tx.ValidateCoinbase(cb, 32_000_000); !errors.Is(err, chain.ErrBadReward) {
			t.Fatalf("\t%s\tShould report BadReward on a mismatch: %v", failed, err)
		}
		t.Logf("\t%s\tShould report BadReward on a mismatch.", success)
	}
}
