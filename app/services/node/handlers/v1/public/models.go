package public

import (
	"github.com/The-Sycorax/denaro/foundation/blockchain/storage"
	"github.com/shopspring/decimal"
)

// rootInfo is the landing payload.
type rootInfo struct {
	NodeVersion      string `json:"node_version"`
	GithubRepository string `json:"github_repository"`
	APIDocs          string `json:"api_docs"`
}

// statusInfo is the node status payload.
type statusInfo struct {
	NodeID        string `json:"node_id"`
	Pubkey        string `json:"pubkey"`
	URL           string `json:"url"`
	IsPublic      bool   `json:"is_public"`
	NodeVersion   string `json:"node_version"`
	Height        uint64 `json:"height"`
	LastBlockHash string `json:"last_block_hash,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// blockData is the transfer form of a committed block.
type blockData struct {
	ID         uint64          `json:"id"`
	Hash       string          `json:"hash"`
	Content    string          `json:"content"`
	Address    string          `json:"address"`
	Nonce      uint64          `json:"random"`
	Difficulty decimal.Decimal `json:"difficulty"`
	Reward     decimal.Decimal `json:"reward"`
	Timestamp  uint64          `json:"timestamp"`
}

// blockPayload pairs a block with its transactions in hex.
type blockPayload struct {
	Block        blockData `json:"block"`
	Transactions []string  `json:"transactions"`
}

// toBlockData converts a storage row for the wire.
func toBlockData(row storage.BlockRow) blockData {
	return blockData{
		ID:         row.ID,
		Hash:       row.Hash,
		Content:    row.Content,
		Address:    row.MinerAddress,
		Nonce:      row.Nonce,
		Difficulty: row.Difficulty,
		Reward:     row.Reward,
		Timestamp:  row.Timestamp,
	}
}

// txInfo is the transfer form of a committed transaction.
type txInfo struct {
	TxHash           string          `json:"tx_hash"`
	BlockHash        string          `json:"block_hash"`
	TxHex            string          `json:"tx_hex"`
	InputsAddresses  []string        `json:"inputs_addresses"`
	OutputsAddresses []string        `json:"outputs_addresses"`
	OutputsAmounts   []int64         `json:"outputs_amounts"`
	Fees             decimal.Decimal `json:"fees"`
	TimeReceived     int64           `json:"time_received"`
}

// pendingInfo is the transfer form of a pooled transaction.
type pendingInfo struct {
	TxHash          string          `json:"tx_hash"`
	TxHex           string          `json:"tx_hex"`
	Fees            decimal.Decimal `json:"fees"`
	PropagationTime int64           `json:"propagation_time"`
	TimeReceived    int64           `json:"time_received"`
}

// miningInfo is the block template payload for miners.
type miningInfo struct {
	Difficulty                decimal.Decimal `json:"difficulty"`
	LastBlock                 *blockData      `json:"last_block"`
	PendingTransactions       []string        `json:"pending_transactions_hashes"`
	PendingTransactionsHex    []string        `json:"pending_transactions"`
	MerkleRoot                string          `json:"merkle_root"`
}

// peerInfo is one row of the peer listing.
type peerInfo struct {
	NodeID          string `json:"node_id"`
	Pubkey          string `json:"pubkey,omitempty"`
	URL             string `json:"url,omitempty"`
	IsPublic        bool   `json:"is_public"`
	NodeVersion     string `json:"node_version,omitempty"`
	ReputationScore int    `json:"reputation_score"`
	LastSeen        int64  `json:"last_seen"`
	BannedUntil     int64  `json:"banned_until,omitempty"`
}

// peerStats summarises the peer table.
type peerStats struct {
	Total  int `json:"total"`
	Public int `json:"public"`
	Banned int `json:"banned"`
}

// submitBlockRequest is the miner block submission payload.
type submitBlockRequest struct {
	BlockContent string   `json:"block_content" validate:"required"`
	Txs          []string `json:"txs"`
	ID           uint64   `json:"id"`
}

// pushTxRequest is the transaction submission payload.
type pushTxRequest struct {
	TxHex string `json:"tx_hex" validate:"required"`
}
