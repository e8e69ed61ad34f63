// Package consensus implements the versioned consensus schedule: difficulty
// adjustment, the reward halving curve, cumulative work, and the activation
// table that selects rule variants by height.
package consensus

import (
	"fmt"
	"math"

	"github.com/The-Sycorax/denaro/foundation/blockchain/chain"
	"github.com/The-Sycorax/denaro/foundation/blockchain/currency"
	"github.com/The-Sycorax/denaro/foundation/blockchain/genesis"
	"github.com/shopspring/decimal"
)

// Rules is one row of the activation table. Activations are monotonic and
// apply from their height inclusive.
type Rules struct {
	Activation    uint64
	Version       int
	MaxFutureSkew uint32 // Seconds a block timestamp may run ahead of wall time.
}

// activations holds the consensus versions in activation order. Version 0 is
// genesis.
var activations = []Rules{
	{Activation: 1, Version: 0, MaxFutureSkew: 300},
}

// RulesAt returns the rules in force at the given height.
func RulesAt(height uint64) Rules {
	rules := activations[0]
	for _, r := range activations {
		if height >= r.Activation {
			rules = r
		}
	}

	return rules
}

// ValidateTimestamp checks a candidate block timestamp against its parent
// and the local clock under the rules for its height. Timestamps are
// non-decreasing along the chain and may not run ahead of wall time by more
// than the version's skew bound.
func ValidateTimestamp(height uint64, timestamp uint32, parentTimestamp uint32, now uint32) error {
	rules := RulesAt(height)

	if timestamp < parentTimestamp {
		return fmt.Errorf("timestamp %d before parent %d: %w", timestamp, parentTimestamp, chain.ErrInvalidStructure)
	}
	if timestamp > now+rules.MaxFutureSkew {
		return fmt.Errorf("timestamp %d too far in the future: %w", timestamp, chain.ErrInvalidStructure)
	}

	return nil
}

// =============================================================================

// Reward returns the subsidy for a block at the given height in smallest
// units, before the supply cap: 64 coins halved every 262144 blocks, ending
// after 64 halvings.
func Reward(height uint64) currency.Amount {
	if height == 0 {
		return 0
	}

	halvings := (height - 1) / genesis.HalvingInterval
	if halvings >= genesis.MaxHalvings {
		return 0
	}

	return currency.Amount(int64(genesis.InitialReward*genesis.Smallest) >> halvings)
}

// CappedReward applies the hard supply limit: the subsidy never pushes the
// accumulated supply past MaxSupply.
func CappedReward(height uint64, supply currency.Amount) currency.Amount {
	reward := Reward(height)
	max := currency.Amount(int64(genesis.MaxSupply) * genesis.Smallest)
	if supply >= max {
		return 0
	}
	if remaining := max - supply; reward > remaining {
		return remaining
	}

	return reward
}

// =============================================================================

// NextDifficulty computes the difficulty expected of the block after the
// block identified by lastID. Outside an adjustment boundary it carries the
// previous difficulty forward. At each 512-block boundary the elapsed time of
// the window is compared against the target and the difficulty moves by the
// base-2 log of the ratio, rounded to one decimal place and clamped to one
// integer unit per adjustment.
func NextDifficulty(lastID uint64, lastDifficulty decimal.Decimal, windowFirstTimestamp uint32, windowLastTimestamp uint32) decimal.Decimal {
	if lastID < genesis.BlocksPerAdjustment {
		return genesis.StartDifficulty
	}
	if lastID%genesis.BlocksPerAdjustment != 0 {
		return lastDifficulty
	}

	elapsed := float64(1)
	if windowLastTimestamp > windowFirstTimestamp {
		elapsed = float64(windowLastTimestamp - windowFirstTimestamp)
	}
	target := float64(genesis.BlockTime * genesis.BlocksPerAdjustment)

	delta := math.Log2(target / elapsed)
	if delta > 1 {
		delta = 1
	}
	if delta < -1 {
		delta = -1
	}

	next := lastDifficulty.Add(decimal.NewFromFloat(delta).Round(1))
	if next.LessThan(decimal.New(1, 0)) {
		next = decimal.New(1, 0)
	}
	if next.GreaterThan(decimal.New(64, 0)) {
		next = decimal.New(64, 0)
	}

	return next
}

// Work returns the expected hash count a block of the given difficulty
// represents, 16 to the power of the difficulty. Cumulative chain work is the
// sum of this over the chain and drives fork choice.
func Work(difficulty decimal.Decimal) float64 {
	d, _ := difficulty.Float64()
	return math.Pow(16, d)
}
