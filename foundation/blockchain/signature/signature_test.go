package signature_test

import (
	"strings"
	"testing"

	"github.com/The-Sycorax/denaro/foundation/blockchain/signature"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

func TestSignVerify(t *testing.T) {
	t.Log("Given the need to sign and verify digests.")
	{
		privateKey, err := signature.GenerateKey()
		if err != nil {
			t.Fatalf("\t%s\tShould be able to generate a key: %v", failed, err)
		}
		t.Logf("\t%s\tShould be able to generate a key.", success)

		digest := signature.HashBytes([]byte("transfer of value"))

		sig, err := signature.Sign(digest[:], privateKey)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to sign a digest: %v", failed, err)
		}
		if len(sig) != signature.SignatureLength {
			t.Fatalf("\t%s\tShould produce a %d byte signature, got %d.", failed, signature.SignatureLength, len(sig))
		}
		t.Logf("\t%s\tShould produce a %d byte signature.", success, signature.SignatureLength)

		if err := signature.Verify(digest[:], sig, &privateKey.PublicKey); err != nil {
			t.Fatalf("\t%s\tShould verify the signature: %v", failed, err)
		}
		t.Logf("\t%s\tShould verify the signature.", success)

		other := signature.HashBytes([]byte("a different message"))
		if err := signature.Verify(other[:], sig, &privateKey.PublicKey); err == nil {
			t.Fatalf("\t%s\tShould reject a signature over different data.", failed)
		}
		t.Logf("\t%s\tShould reject a signature over different data.", success)

		tampered := append([]byte(nil), sig...)
		tampered[7] ^= 0x40
		if err := signature.Verify(digest[:], tampered, &privateKey.PublicKey); err == nil {
			t.Fatalf("\t%s\tShould reject a tampered signature.", failed)
		}
		t.Logf("\t%s\tShould reject a tampered signature.", success)
	}
}

func TestAddressCodec(t *testing.T) {
	t.Log("Given the need to encode public keys as addresses.")
	{
		for i := 0; i < 16; i++ {
			privateKey, err := signature.GenerateKey()
			if err != nil {
				t.Fatalf("\t%s\tShould be able to generate a key: %v", failed, err)
			}

			address := signature.AddressFromPublicKey(&privateKey.PublicKey)

			if len(address) != signature.AddressLength {
				t.Fatalf("\t%s\tShould produce a %d character address, got %d: %s", failed, signature.AddressLength, len(address), address)
			}
			if !strings.HasPrefix(address, "D") && !strings.HasPrefix(address, "E") {
				t.Fatalf("\t%s\tShould produce an address starting with D or E: %s", failed, address)
			}

			publicKey, err := signature.PublicKeyFromAddress(address)
			if err != nil {
				t.Fatalf("\t%s\tShould decode the address: %v", failed, err)
			}
			if publicKey.X.Cmp(privateKey.PublicKey.X) != 0 || publicKey.Y.Cmp(privateKey.PublicKey.Y) != 0 {
				t.Fatalf("\t%s\tShould recover the original public key.", failed)
			}
		}
		t.Logf("\t%s\tShould round-trip addresses for fresh keys.", success)

		if signature.ValidAddress("not an address") {
			t.Fatalf("\t%s\tShould reject a malformed address.", failed)
		}
		t.Logf("\t%s\tShould reject a malformed address.", success)
	}
}

func TestPublicKeyHex(t *testing.T) {
	t.Log("Given the need to exchange public keys in hex.")
	{
		privateKey, err := signature.GenerateKey()
		if err != nil {
			t.Fatalf("\t%s\tShould be able to generate a key: %v", failed, err)
		}

		hexKey := signature.PublicKeyHex(&privateKey.PublicKey)
		publicKey, err := signature.PublicKeyFromHex(hexKey)
		if err != nil {
			t.Fatalf("\t%s\tShould decode the hex public key: %v", failed, err)
		}
		if publicKey.X.Cmp(privateKey.PublicKey.X) != 0 {
			t.Fatalf("\t%s\tShould recover the original public key.", failed)
		}
		t.Logf("\t%s\tShould round-trip public keys through hex.", success)

		if _, err := signature.PublicKeyFromHex("zz"); err == nil {
			t.Fatalf("\t%s\tShould reject non-hex input.", failed)
		}
		t.Logf("\t%s\tShould reject non-hex input.", success)
	}
}
