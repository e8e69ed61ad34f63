package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/The-Sycorax/denaro/foundation/blockchain/peer"
	"github.com/shopspring/decimal"
)

// ConnectionTimeout bounds every outbound peer request.
const ConnectionTimeout = 10 * time.Second

// MaxBatchBytes bounds a block transfer response.
const MaxBatchBytes = 20 << 20

// envelope is the wire response wrapper every endpoint uses.
type envelope struct {
	Ok     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *wireError      `json:"error,omitempty"`
}

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StatusResult is a peer's /get_status payload.
type StatusResult struct {
	NodeID        string `json:"node_id"`
	Pubkey        string `json:"pubkey"`
	URL           string `json:"url"`
	IsPublic      bool   `json:"is_public"`
	NodeVersion   string `json:"node_version"`
	Height        uint64 `json:"height"`
	LastBlockHash string `json:"last_block_hash"`
}

// BlockData is the transfer form of a committed block.
type BlockData struct {
	ID           uint64          `json:"id"`
	Hash         string          `json:"hash"`
	Content      string          `json:"content"`
	Address      string          `json:"address"`
	Nonce        uint64          `json:"random"`
	Difficulty   decimal.Decimal `json:"difficulty"`
	Reward       decimal.Decimal `json:"reward"`
	Timestamp    uint64          `json:"timestamp"`
}

// BlockPayload pairs a block with its transactions in hex.
type BlockPayload struct {
	Block        BlockData `json:"block"`
	Transactions []string  `json:"transactions"`
}

// ChallengeResult is a peer's /handshake/challenge payload.
type ChallengeResult struct {
	Challenge string `json:"challenge"`
}

// HandshakeResult is the peer's half of a handshake exchange.
type HandshakeResult struct {
	NodeID        string `json:"node_id"`
	Pubkey        string `json:"pubkey"`
	URL           string `json:"url"`
	IsPublic      bool   `json:"is_public"`
	NodeVersion   string `json:"node_version"`
	Height        uint64 `json:"height"`
	LastBlockHash string `json:"last_block_hash"`
}

// client talks to one remote peer.
type client struct {
	baseURL     string
	http        *http.Client
	identity    peer.Identity
	nodeVersion string
}

func newClient(baseURL string, identity peer.Identity, nodeVersion string) *client {
	return &client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		http:        &http.Client{Timeout: ConnectionTimeout},
		identity:    identity,
		nodeVersion: nodeVersion,
	}
}

// get performs an unsigned GET and decodes the envelope result.
func (c *client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	return c.do(req, result)
}

// post performs a signed POST and decodes the envelope result.
func (c *client) post(ctx context.Context, path string, body any, result any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	if err := peer.SignRequest(req, c.identity, c.nodeVersion, data); err != nil {
		return err
	}

	return c.do(req, result)
}

func (c *client) do(req *http.Request, result any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBatchBytes))
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("decoding response from %s: %w", req.URL, err)
	}
	if !env.Ok {
		code := "unknown"
		msg := ""
		if env.Error != nil {
			code = env.Error.Code
			msg = env.Error.Message
		}
		return fmt.Errorf("peer %s: %s: %s", req.URL.Host, code, msg)
	}

	if result != nil && env.Result != nil {
		if err := json.Unmarshal(env.Result, result); err != nil {
			return fmt.Errorf("decoding result from %s: %w", req.URL, err)
		}
	}

	return nil
}

// =============================================================================

// Status fetches the peer's chain status.
func (c *client) Status(ctx context.Context) (StatusResult, error) {
	var s StatusResult
	err := c.get(ctx, "/get_status", &s)
	return s, err
}

// BlockAt fetches the block at a height.
func (c *client) BlockAt(ctx context.Context, id uint64) (BlockPayload, error) {
	var p BlockPayload
	err := c.get(ctx, fmt.Sprintf("/get_block?id=%d", id), &p)
	return p, err
}

// Blocks fetches a forward block range.
func (c *client) Blocks(ctx context.Context, offset uint64, limit int) ([]BlockPayload, error) {
	var ps []BlockPayload
	err := c.get(ctx, fmt.Sprintf("/get_blocks?offset=%d&limit=%d", offset, limit), &ps)
	return ps, err
}

// PushBlock offers a freshly accepted block to the peer.
func (c *client) PushBlock(ctx context.Context, content string, txs []string, id uint64) error {
	body := map[string]any{"block_content": content, "txs": txs, "id": id}
	return c.post(ctx, "/push_block", body, nil)
}

// PushTx relays a pending transaction to the peer.
func (c *client) PushTx(ctx context.Context, txHex string) error {
	body := map[string]any{"tx_hex": txHex}
	return c.post(ctx, "/push_tx", body, nil)
}

// Challenge asks the peer for a handshake challenge.
func (c *client) Challenge(ctx context.Context) (string, error) {
	var r ChallengeResult
	if err := c.get(ctx, "/handshake/challenge", &r); err != nil {
		return "", err
	}
	return r.Challenge, nil
}

// HandshakeResponse answers a challenge with our identity and chain state.
func (c *client) HandshakeResponse(ctx context.Context, body map[string]any) (HandshakeResult, error) {
	var r HandshakeResult
	err := c.post(ctx, "/handshake/response", body, &r)
	return r, err
}
