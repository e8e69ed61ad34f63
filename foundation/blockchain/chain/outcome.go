package chain

import "fmt"

// Outcome describes what happened to a submitted block.
type Outcome int

const (
	// Applied means the block extended the canonical tip.
	Applied Outcome = iota

	// Reorg means the block caused a reorganisation onto a heavier branch.
	Reorg

	// SideChain means the block was stored on a side branch with less
	// cumulative work than the tip.
	SideChain

	// Stale means the block is already held, or builds on a pruned or
	// too-deep ancestor, and was discarded.
	Stale
)

// Result pairs an outcome with its detail for callers that report it.
type Result struct {
	Outcome Outcome
	Depth   int // Number of blocks undone, set for Reorg.
}

// String implements the fmt.Stringer interface.
func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Reorg:
		return "reorg"
	case SideChain:
		return "side-chain"
	case Stale:
		return "stale"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}
