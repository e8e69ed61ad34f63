package currency_test

import (
	"errors"
	"testing"

	"github.com/The-Sycorax/denaro/foundation/blockchain/chain"
	"github.com/The-Sycorax/denaro/foundation/blockchain/currency"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

func TestParse(t *testing.T) {
	type table struct {
		in   string
		out  currency.Amount
		err  error
	}

	tt := []table{
		{"1", 1_000_000, nil},
		{"0.000001", 1, nil},
		{"64", 64_000_000, nil},
		{"12.345678", 12_345_678, nil},
		{"0.0000001", 0, chain.ErrAmountOutOfRange},
		{"not a number", 0, chain.ErrMalformedInput},
	}

	t.Log("Given the need to parse external decimal amounts.")
	{
		for i, tst := range tt {
			got, err := currency.Parse(tst.in)
			if tst.err != nil {
				if !errors.Is(err, tst.err) {
					t.Fatalf("\t%s\tTest %d:\t%q: got error %v, exp %v.", failed, i, tst.in, err, tst.err)
				}
				t.Logf("\t%s\tTest %d:\t%q rejected.", success, i, tst.in)
				continue
			}
			if err != nil || got != tst.out {
				t.Fatalf("\t%s\tTest %d:\t%q: got %d (%v), exp %d.", failed, i, tst.in, got, err, tst.out)
			}
			t.Logf("\t%s\tTest %d:\t%q parses to %d smallest units.", success, i, tst.in, got)
		}
	}
}

func TestDecimalRoundTrip(t *testing.T) {
	t.Log("Given the need to render amounts externally.")
	{
		a := currency.Amount(12_345_678)
		if a.String() != "12.345678" {
			t.Fatalf("\t%s\tShould render 12.345678, got %s.", failed, a)
		}
		t.Logf("\t%s\tShould render six fractional digits.", success)

		back, err := currency.FromDecimal(a.Decimal())
		if err != nil || back != a {
			t.Fatalf("\t%s\tShould round-trip through decimal: %v", failed, err)
		}
		t.Logf("\t%s\tShould round-trip through decimal.", success)
	}
}
