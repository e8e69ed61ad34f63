package consensus_test

import (
	"testing"

	"github.com/The-Sycorax/denaro/foundation/blockchain/consensus"
	"github.com/The-Sycorax/denaro/foundation/blockchain/currency"
	"github.com/The-Sycorax/denaro/foundation/blockchain/genesis"
	"github.com/shopspring/decimal"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

func TestRewardSchedule(t *testing.T) {
	type table struct {
		height uint64
		reward currency.Amount
	}

	tt := []table{
		{1, 64_000_000},
		{262_144, 64_000_000},
		{262_145, 32_000_000},
		{524_289, 16_000_000},
		{262_144*64 + 1, 0},
	}

	t.Log("Given the need to validate the halving schedule.")
	{
		for i, tst := range tt {
			got := consensus.Reward(tst.height)
			if got != tst.reward {
				t.Fatalf("\t%s\tTest %d:\tHeight %d: got %d, exp %d.", failed, i, tst.height, got, tst.reward)
			}
			t.Logf("\t%s\tTest %d:\tHeight %d mints %s.", success, i, tst.height, got)
		}
	}
}

func TestCappedReward(t *testing.T) {
	t.Log("Given the need to cap the subsidy at the maximum supply.")
	{
		max := currency.Amount(int64(genesis.MaxSupply) * genesis.Smallest)

		if got := consensus.CappedReward(1, max); got != 0 {
			t.Fatalf("\t%s\tShould mint nothing at the supply cap, got %d.", failed, got)
		}
		t.Logf("\t%s\tShould mint nothing at the supply cap.", success)

		if got := consensus.CappedReward(1, max-10); got != 10 {
			t.Fatalf("\t%s\tShould mint only the remaining supply, got %d.", failed, got)
		}
		t.Logf("\t%s\tShould mint only the remaining supply.", success)

		if got := consensus.CappedReward(1, 0); got != 64_000_000 {
			t.Fatalf("\t%s\tShould mint the full subsidy below the cap, got %d.", failed, got)
		}
		t.Logf("\t%s\tShould mint the full subsidy below the cap.", success)
	}
}

func TestNextDifficulty(t *testing.T) {
	t.Log("Given the need to recompute difficulty at window boundaries.")
	{
		start := genesis.StartDifficulty

		if got := consensus.NextDifficulty(100, decimal.RequireFromString("7.0"), 0, 0); !got.Equal(start) {
			t.Fatalf("\t%s\tShould hold the start difficulty before the first window, got %s.", failed, got)
		}
		t.Logf("\t%s\tShould hold the start difficulty before the first window.", success)

		if got := consensus.NextDifficulty(700, decimal.RequireFromString("7.0"), 0, 0); !got.Equal(decimal.RequireFromString("7.0")) {
			t.Fatalf("\t%s\tShould carry the difficulty between boundaries, got %s.", failed, got)
		}
		t.Logf("\t%s\tShould carry the difficulty between boundaries.", success)

		// A window on target leaves the difficulty unchanged.
		elapsed := uint32(genesis.BlockTime * genesis.BlocksPerAdjustment)
		if got := consensus.NextDifficulty(1024, decimal.RequireFromString("7.0"), 1000, 1000+elapsed); !got.Equal(decimal.RequireFromString("7.0")) {
			t.Fatalf("\t%s\tShould hold on an on-target window, got %s.", failed, got)
		}
		t.Logf("\t%s\tShould hold on an on-target window.", success)

		// A window twice as fast as target raises the difficulty a full unit.
		if got := consensus.NextDifficulty(1024, decimal.RequireFromString("7.0"), 1000, 1000+elapsed/2); !got.Equal(decimal.RequireFromString("8.0")) {
			t.Fatalf("\t%s\tShould rise one unit on a half-time window, got %s.", failed, got)
		}
		t.Logf("\t%s\tShould rise one unit on a half-time window.", success)

		// A window four times slower clamps to one unit down.
		if got := consensus.NextDifficulty(1024, decimal.RequireFromString("7.0"), 1000, 1000+elapsed*4); !got.Equal(decimal.RequireFromString("6.0")) {
			t.Fatalf("\t%s\tShould clamp to one unit down on a slow window, got %s.", failed, got)
		}
		t.Logf("\t%s\tShould clamp to one unit down on a slow window.", success)
	}
}

func TestValidateTimestamp(t *testing.T) {
	t.Log("Given the need to bound block timestamps.")
	{
		if err := consensus.ValidateTimestamp(2, 1000, 900, 1100); err != nil {
			t.Fatalf("\t%s\tShould accept a monotonic timestamp: %v", failed, err)
		}
		t.Logf("\t%s\tShould accept a monotonic timestamp.", success)

		if err := consensus.ValidateTimestamp(2, 800, 900, 1100); err == nil {
			t.Fatalf("\t%s\tShould reject a timestamp before the parent.", failed)
		}
		t.Logf("\t%s\tShould reject a timestamp before the parent.", success)

		if err := consensus.ValidateTimestamp(2, 5000, 900, 1100); err == nil {
			t.Fatalf("\t%s\tShould reject a timestamp too far in the future.", failed)
		}
		t.Logf("\t%s\tShould reject a timestamp too far in the future.", success)
	}
}
