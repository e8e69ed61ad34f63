// Package genesis maintains access to the chain parameters every node on the
// network must agree on.
package genesis

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/shopspring/decimal"
)

// Smallest is the number of smallest units in one coin. All on-chain
// arithmetic is performed in integer smallest units.
const Smallest = 1_000_000

// Chain parameters. These are consensus critical.
const (
	BlockTime           = 180 // Target seconds between blocks.
	BlocksPerAdjustment = 512 // Difficulty adjustment window.
	MaxSupply           = 33_554_432
	InitialReward       = 64
	HalvingInterval     = 262_144
	MaxHalvings         = 64
)

// Size limits. A raw block serialises to at most 2 MiB, which is 4 MiB in
// hex. Transaction data on a block is bounded a bit below the full block
// limit to leave room for the header content.
const (
	MaxBlockSizeHex = 4096 * 1024
	MaxTxDataSize   = 1900 * 1024
)

// Node-local processing limits.
const (
	MaxMempoolSize         = 8192
	MaxReorgDepth          = 128
	MaxBlocksPerSubmission = 512
)

// StartDifficulty is the difficulty required of the genesis block.
var StartDifficulty = decimal.RequireFromString("6.0")

// PreviousHashSentinel returns the predecessor hash the genesis block commits
// to. Consensus version 0 fixes it as the 32-byte little-endian encoding of
// 30062005.
func PreviousHashSentinel() string {
	var b [32]byte
	binary.LittleEndian.PutUint32(b[:4], 30_06_2005)
	return hex.EncodeToString(b[:])
}
