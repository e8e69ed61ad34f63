// Package block implements the block content codec, the block hash, and the
// fractional-difficulty proof-of-work predicate.
package block

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strings"

	"github.com/The-Sycorax/denaro/foundation/blockchain/chain"
	"github.com/The-Sycorax/denaro/foundation/blockchain/genesis"
	"github.com/The-Sycorax/denaro/foundation/blockchain/signature"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/shopspring/decimal"
)

// contentVersion is the block content layout in use: a version byte followed
// by the predecessor hash, the 33-byte miner address payload, the transaction
// digest, and the little-endian timestamp, scaled difficulty, and nonce.
const (
	contentVersion = 2
	contentLength  = 1 + 32 + 33 + 32 + 4 + 2 + 4
)

// Content is the decoded form of the byte string a block's hash commits to.
type Content struct {
	PreviousHash string
	MinerAddress string
	MerkleRoot   string
	Timestamp    uint32
	Difficulty   decimal.Decimal
	Nonce        uint32
}

// Encode produces the canonical content bytes the block hash is computed
// over.
func (c Content) Encode() ([]byte, error) {
	prev, err := hex.DecodeString(c.PreviousHash)
	if err != nil || len(prev) != 32 {
		return nil, fmt.Errorf("previous hash %q: %w", c.PreviousHash, chain.ErrMalformedInput)
	}
	addr := base58.Decode(c.MinerAddress)
	if len(addr) != 33 {
		return nil, fmt.Errorf("miner address %q: %w", c.MinerAddress, chain.ErrMalformedInput)
	}
	root, err := hex.DecodeString(c.MerkleRoot)
	if err != nil || len(root) != 32 {
		return nil, fmt.Errorf("merkle root %q: %w", c.MerkleRoot, chain.ErrMalformedInput)
	}
	scaled, ok := scaledDifficulty(c.Difficulty)
	if !ok {
		return nil, fmt.Errorf("difficulty %s: %w", c.Difficulty, chain.ErrBadDifficulty)
	}

	var buf bytes.Buffer
	buf.WriteByte(contentVersion)
	buf.Write(prev)
	buf.Write(addr)
	buf.Write(root)

	var u32 [4]byte
	binary.LittleEndian.PutUint32(u32[:], c.Timestamp)
	buf.Write(u32[:])

	var u16 [2]byte
	binary.LittleEndian.PutUint16(u16[:], scaled)
	buf.Write(u16[:])

	binary.LittleEndian.PutUint32(u32[:], c.Nonce)
	buf.Write(u32[:])

	return buf.Bytes(), nil
}

// EncodeHex returns the content as lowercase hex, the form blocks travel in.
func (c Content) EncodeHex() (string, error) {
	data, err := c.Encode()
	if err != nil {
		return "", err
	}

	return hex.EncodeToString(data), nil
}

// DecodeContent parses hex block content. The layout is fixed width, so any
// length or version mismatch is malformed.
func DecodeContent(contentHex string) (Content, error) {
	if len(contentHex) > genesis.MaxBlockSizeHex {
		return Content{}, fmt.Errorf("content of %d hex chars: %w", len(contentHex), chain.ErrBlockTooLarge)
	}

	data, err := hex.DecodeString(contentHex)
	if err != nil {
		return Content{}, fmt.Errorf("content is not hex: %w", chain.ErrMalformedInput)
	}
	if len(data) != contentLength || data[0] != contentVersion {
		return Content{}, fmt.Errorf("content layout: %w", chain.ErrMalformedInput)
	}

	off := 1
	prev := hex.EncodeToString(data[off : off+32])
	off += 32
	addr := base58.Encode(data[off : off+33])
	off += 33
	root := hex.EncodeToString(data[off : off+32])
	off += 32
	ts := binary.LittleEndian.Uint32(data[off : off+4])
	off += 4
	scaled := binary.LittleEndian.Uint16(data[off : off+2])
	off += 2
	nonce := binary.LittleEndian.Uint32(data[off : off+4])

	return Content{
		PreviousHash: prev,
		MinerAddress: addr,
		MerkleRoot:   root,
		Timestamp:    ts,
		Difficulty:   decimal.New(int64(scaled), -1),
		Nonce:        nonce,
	}, nil
}

// HashContent computes the block hash over hex content.
func HashContent(contentHex string) (string, error) {
	data, err := hex.DecodeString(contentHex)
	if err != nil {
		return "", fmt.Errorf("content is not hex: %w", chain.ErrMalformedInput)
	}

	return signature.Hash(data), nil
}

// =============================================================================

const hexCharset = "0123456789abcdef"

// SatisfiesDifficulty evaluates the fractional-difficulty predicate: the
// candidate hash must start with the last floor(difficulty) hex characters of
// the predecessor hash, and when the difficulty carries a fractional part the
// next character must fall inside the allowed leading slice of the hex
// charset.
func SatisfiesDifficulty(hash string, previousHash string, difficulty decimal.Decimal) bool {
	if len(hash) != 64 {
		return false
	}

	d := int(difficulty.IntPart())
	if d < 0 || d > 64 || len(previousHash) < d {
		return false
	}

	tail := previousHash[len(previousHash)-d:]
	if !strings.HasPrefix(hash, tail) {
		return false
	}

	frac := difficulty.Sub(difficulty.Floor())
	if frac.IsZero() {
		return true
	}
	if d >= len(hash) {
		return false
	}

	f, _ := frac.Float64()
	count := int(math.Ceil(16 * (1 - f)))
	return strings.IndexByte(hexCharset[:count], hash[d]) >= 0
}

// scaledDifficulty converts a one-decimal difficulty into its wire form,
// difficulty times ten.
func scaledDifficulty(d decimal.Decimal) (uint16, bool) {
	scaled := d.Mul(decimal.New(10, 0))
	if !scaled.IsInteger() || scaled.IsNegative() || scaled.IntPart() > 640 {
		return 0, false
	}

	return uint16(scaled.IntPart()), true
}
