package mid

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/The-Sycorax/denaro/foundation/blockchain/chain"
	"github.com/The-Sycorax/denaro/foundation/blockchain/peer"
	"github.com/The-Sycorax/denaro/foundation/web"
)

type senderKey int

const senderCtxKey senderKey = 1

// GetSender returns the authenticated peer of the request.
func GetSender(ctx context.Context) (peer.Sender, error) {
	s, ok := ctx.Value(senderCtxKey).(peer.Sender)
	if !ok {
		return peer.Sender{}, fmt.Errorf("no authenticated sender: %w", chain.ErrPeerUnauthenticated)
	}

	return s, nil
}

// PeerAuth authenticates the signed request envelope, rejects banned peers,
// and records the peer in the registry. A request with envelope headers that
// fail verification costs the claimed peer reputation.
func PeerAuth(registry *peer.Registry) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			claimed := r.Header.Get(peer.HeaderNodeID)
			if claimed != "" && registry.IsBanned(claimed) {
				return fmt.Errorf("peer %s: %w", claimed, chain.ErrPeerBanned)
			}

			var body []byte
			if r.Body != nil {
				var err error
				body, err = io.ReadAll(r.Body)
				if err != nil {
					return fmt.Errorf("reading body: %w", chain.ErrMalformedInput)
				}
				r.Body = io.NopCloser(bytes.NewReader(body))
			}

			sender, err := peer.VerifyRequest(r, body, time.Now())
			if err != nil {
				if claimed != "" {
					registry.RecordEvent(claimed, peer.EventMalformedEnvelope)
				}
				return err
			}

			if _, _, err := registry.Upsert(peer.Record{
				NodeID:      sender.NodeID,
				Pubkey:      sender.PubkeyHex,
				NodeVersion: sender.NodeVersion,
			}); err != nil {
				return err
			}

			ctx = context.WithValue(ctx, senderCtxKey, sender)

			return handler(ctx, w, r)
		}

		return h
	}

	return m
}
