// Package chain defines the error taxonomy and block outcomes shared by the
// validation, state, and network layers.
package chain

import "errors"

// Error kinds reported by validation and processing. Handlers map these onto
// HTTP status codes, the sync layer maps them onto peer reputation events.
var (
	ErrMalformedInput     = errors.New("malformed input")
	ErrSignatureInvalid   = errors.New("signature invalid")
	ErrUnknownInput       = errors.New("unknown input")
	ErrDoubleSpend        = errors.New("double spend")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrAmountOutOfRange   = errors.New("amount out of range")
	ErrInvalidStructure   = errors.New("invalid structure")
	ErrOrphanBlock        = errors.New("orphan block")
	ErrBadDifficulty      = errors.New("bad difficulty")
	ErrBadReward          = errors.New("bad reward")
	ErrPoWInvalid         = errors.New("proof of work invalid")
	ErrBlockTooLarge      = errors.New("block too large")
	ErrStale              = errors.New("stale block")
	ErrMempoolFull        = errors.New("mempool full")
	ErrSyncInProgress     = errors.New("sync in progress")
	ErrPeerUnauthenticated = errors.New("peer unauthenticated")
	ErrPeerBanned         = errors.New("peer banned")
	ErrRateLimited        = errors.New("rate limited")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrTimeout            = errors.New("timeout")
	ErrInternal           = errors.New("internal error")
)

// Code returns the wire code for an error kind. Unknown errors report as
// internal.
func Code(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.code
		}
	}
	return "Internal"
}

var kinds = []struct {
	err  error
	code string
}{
	{ErrMalformedInput, "MalformedInput"},
	{ErrSignatureInvalid, "SignatureInvalid"},
	{ErrUnknownInput, "UnknownInput"},
	{ErrDoubleSpend, "DoubleSpend"},
	{ErrInsufficientFunds, "InsufficientFunds"},
	{ErrAmountOutOfRange, "AmountOutOfRange"},
	{ErrInvalidStructure, "InvalidStructure"},
	{ErrOrphanBlock, "OrphanBlock"},
	{ErrBadDifficulty, "BadDifficulty"},
	{ErrBadReward, "BadReward"},
	{ErrPoWInvalid, "PoWInvalid"},
	{ErrBlockTooLarge, "BlockTooLarge"},
	{ErrStale, "Stale"},
	{ErrMempoolFull, "MempoolFull"},
	{ErrSyncInProgress, "SyncInProgress"},
	{ErrPeerUnauthenticated, "PeerUnauthenticated"},
	{ErrPeerBanned, "PeerBanned"},
	{ErrRateLimited, "RateLimited"},
	{ErrStorageUnavailable, "StorageUnavailable"},
	{ErrTimeout, "Timeout"},
	{ErrInternal, "Internal"},
}
