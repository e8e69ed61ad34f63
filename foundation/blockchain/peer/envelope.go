package peer

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/The-Sycorax/denaro/foundation/blockchain/chain"
	"github.com/The-Sycorax/denaro/foundation/blockchain/signature"
)

// Envelope headers carried by authenticated peer-to-peer calls.
const (
	HeaderNodeID      = "x-node-id"
	HeaderNodePubkey  = "x-node-pubkey"
	HeaderNodeVersion = "x-node-version"
	HeaderTimestamp   = "x-timestamp"
	HeaderSignature   = "x-signature"
)

// EnvelopeSkew bounds how far a signed request timestamp may drift from the
// local clock.
const EnvelopeSkew = 30 * time.Second

// signedPayload builds the byte string the envelope signature covers:
// method, path, timestamp, and the SHA-256 of the body.
func signedPayload(method string, path string, timestamp int64, body []byte) []byte {
	bodyHash := signature.Hash(body)
	return []byte(fmt.Sprintf("%s%s%d%s", method, path, timestamp, bodyHash))
}

// SignRequest attaches the envelope headers to an outbound request.
func SignRequest(req *http.Request, id Identity, nodeVersion string, body []byte) error {
	ts := time.Now().UTC().Unix()

	digest := signature.HashBytes(signedPayload(req.Method, req.URL.Path, ts, body))
	sig, err := signature.Sign(digest[:], id.PrivateKey)
	if err != nil {
		return fmt.Errorf("signing request: %w", err)
	}

	req.Header.Set(HeaderNodeID, id.NodeID)
	req.Header.Set(HeaderNodePubkey, id.PublicKeyHex())
	req.Header.Set(HeaderNodeVersion, nodeVersion)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderSignature, fmt.Sprintf("%x", sig))

	return nil
}

// Sender is the authenticated identity of an inbound peer request.
type Sender struct {
	NodeID      string
	PubkeyHex   string
	NodeVersion string
}

// VerifyRequest authenticates an inbound request: the timestamp must be
// within the skew window, the node id must match the published public key,
// and the signature must verify over method, path, timestamp, and body hash.
func VerifyRequest(req *http.Request, body []byte, now time.Time) (Sender, error) {
	nodeID := req.Header.Get(HeaderNodeID)
	pubkeyHex := req.Header.Get(HeaderNodePubkey)
	tsRaw := req.Header.Get(HeaderTimestamp)
	sigHex := req.Header.Get(HeaderSignature)
	if nodeID == "" || pubkeyHex == "" || tsRaw == "" || sigHex == "" {
		return Sender{}, fmt.Errorf("missing envelope headers: %w", chain.ErrPeerUnauthenticated)
	}

	ts, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return Sender{}, fmt.Errorf("timestamp %q: %w", tsRaw, chain.ErrPeerUnauthenticated)
	}
	drift := now.UTC().Unix() - ts
	if drift < 0 {
		drift = -drift
	}
	if drift > int64(EnvelopeSkew/time.Second) {
		return Sender{}, fmt.Errorf("timestamp drift %ds: %w", drift, chain.ErrPeerUnauthenticated)
	}

	derived, err := NodeIDFromPublicKey(pubkeyHex)
	if err != nil || derived != nodeID {
		return Sender{}, fmt.Errorf("node id does not match public key: %w", chain.ErrPeerUnauthenticated)
	}

	publicKey, err := signature.PublicKeyFromHex(pubkeyHex)
	if err != nil {
		return Sender{}, fmt.Errorf("public key: %w", chain.ErrPeerUnauthenticated)
	}

	var sig []byte
	if _, err := fmt.Sscanf(sigHex, "%x", &sig); err != nil {
		return Sender{}, fmt.Errorf("signature encoding: %w", chain.ErrPeerUnauthenticated)
	}

	digest := signature.HashBytes(signedPayload(req.Method, req.URL.Path, ts, body))
	if err := signature.Verify(digest[:], sig, publicKey); err != nil {
		return Sender{}, fmt.Errorf("envelope signature: %w", chain.ErrPeerUnauthenticated)
	}

	return Sender{
		NodeID:      nodeID,
		PubkeyHex:   pubkeyHex,
		NodeVersion: req.Header.Get(HeaderNodeVersion),
	}, nil
}
