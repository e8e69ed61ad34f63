package mid

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/The-Sycorax/denaro/foundation/blockchain/chain"
	"github.com/The-Sycorax/denaro/foundation/blockchain/peer"
	"github.com/The-Sycorax/denaro/foundation/web"
)

// RateLimit enforces the per-endpoint token buckets. Requests carrying a
// peer identity are keyed by it; everything else is keyed by client address.
func RateLimit(limiter *peer.RateLimiter) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			key := r.Header.Get(peer.HeaderNodeID)
			if key == "" {
				host, _, err := net.SplitHostPort(r.RemoteAddr)
				if err != nil {
					host = r.RemoteAddr
				}
				key = host
			}

			if !limiter.Allow(r.URL.Path, key) {
				return fmt.Errorf("endpoint %s: %w", r.URL.Path, chain.ErrRateLimited)
			}

			return handler(ctx, w, r)
		}

		return h
	}

	return m
}
