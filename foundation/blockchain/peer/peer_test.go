package peer_test

import (
	"bytes"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/The-Sycorax/denaro/foundation/blockchain/peer"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

func testIdentity(t *testing.T) peer.Identity {
	t.Helper()

	id, err := peer.LoadIdentity(filepath.Join(t.TempDir(), "node.key"))
	if err != nil {
		t.Fatalf("\t%s\tShould be able to load an identity: %v", failed, err)
	}
	return id
}

func TestIdentityStable(t *testing.T) {
	t.Log("Given the need for a stable node identity across restarts.")
	{
		path := filepath.Join(t.TempDir(), "node.key")

		first, err := peer.LoadIdentity(path)
		if err != nil {
			t.Fatalf("\t%s\tShould generate an identity on first start: %v", failed, err)
		}
		if len(first.NodeID) != 64 {
			t.Fatalf("\t%s\tShould derive a 64 hex char node id, got %d.", failed, len(first.NodeID))
		}
		t.Logf("\t%s\tShould generate an identity on first start.", success)

		second, err := peer.LoadIdentity(path)
		if err != nil {
			t.Fatalf("\t%s\tShould reload the identity: %v", failed, err)
		}
		if first.NodeID != second.NodeID {
			t.Fatalf("\t%s\tShould keep the same node id across restarts.", failed)
		}
		t.Logf("\t%s\tShould keep the same node id across restarts.", success)
	}
}

func signedRequest(t *testing.T, id peer.Identity, body []byte) *http.Request {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, "http://node/push_block", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("\t%s\tShould build a request: %v", failed, err)
	}
	if err := peer.SignRequest(req, id, "2.0.0", body); err != nil {
		t.Fatalf("\t%s\tShould sign the request: %v", failed, err)
	}

	return req
}

func TestEnvelope(t *testing.T) {
	t.Log("Given the need to authenticate peer requests.")
	{
		id := testIdentity(t)
		body := []byte(`{"block_content":"00"}`)

		req := signedRequest(t, id, body)
		sender, err := peer.VerifyRequest(req, body, time.Now())
		if err != nil {
			t.Fatalf("\t%s\tShould accept a valid envelope: %v", failed, err)
		}
		if sender.NodeID != id.NodeID {
			t.Fatalf("\t%s\tShould identify the signing node.", failed)
		}
		t.Logf("\t%s\tShould accept a valid envelope.", success)

		if _, err := peer.VerifyRequest(req, []byte(`tampered`), time.Now()); err == nil {
			t.Fatalf("\t%s\tShould reject a body mismatch.", failed)
		}
		t.Logf("\t%s\tShould reject a body mismatch.", success)

		if _, err := peer.VerifyRequest(req, body, time.Now().Add(time.Minute)); err == nil {
			t.Fatalf("\t%s\tShould reject a timestamp outside the skew window.", failed)
		}
		t.Logf("\t%s\tShould reject a timestamp outside the skew window.", success)

		other := testIdentity(t)
		req.Header.Set("x-node-id", other.NodeID)
		if _, err := peer.VerifyRequest(req, body, time.Now()); err == nil {
			t.Fatalf("\t%s\tShould reject a node id that does not match the key.", failed)
		}
		t.Logf("\t%s\tShould reject a node id that does not match the key.", success)
	}
}

func TestReputationBan(t *testing.T) {
	t.Log("Given the need to ban misbehaving peers.")
	{
		id := testIdentity(t)
		registry, err := peer.NewRegistry(id, filepath.Join(t.TempDir(), "peers.db"))
		if err != nil {
			t.Fatalf("\t%s\tShould open a registry: %v", failed, err)
		}
		defer registry.Close()

		other := testIdentity(t)
		p, isNew, err := registry.Upsert(peer.Record{NodeID: other.NodeID, Pubkey: other.PublicKeyHex()})
		if err != nil || !isNew {
			t.Fatalf("\t%s\tShould add a new peer: %v", failed, err)
		}
		t.Logf("\t%s\tShould add a new peer.", success)

		now := time.Now()
		if banned := p.RecordEvent(peer.EventProtocolViolation, now); banned {
			t.Fatalf("\t%s\tShould not ban before the threshold.", failed)
		}
		if banned := p.RecordEvent(peer.EventProtocolViolation, now); !banned {
			t.Fatalf("\t%s\tShould ban at the threshold.", failed)
		}
		if !p.IsBanned(now) {
			t.Fatalf("\t%s\tShould report the peer as banned.", failed)
		}
		t.Logf("\t%s\tShould ban at the threshold.", success)

		firstBan := p.Snapshot().BannedUntil

		// Ban again: the duration doubles.
		p.RecordEvent(peer.EventProtocolViolation, now)
		p.RecordEvent(peer.EventProtocolViolation, now)
		secondBan := p.Snapshot().BannedUntil

		if secondBan-now.Unix() <= firstBan-now.Unix() {
			t.Fatalf("\t%s\tShould double the ban duration on a re-ban.", failed)
		}
		t.Logf("\t%s\tShould double the ban duration on a re-ban.", success)
	}
}

func TestRateLimiter(t *testing.T) {
	t.Log("Given the need to rate limit public endpoints.")
	{
		limiter := peer.NewRateLimiter(map[string]peer.RateLimit{
			"/get_blocks": {PerMinute: 60, Burst: 2},
		})

		if !limiter.Allow("/get_blocks", "10.0.0.1") || !limiter.Allow("/get_blocks", "10.0.0.1") {
			t.Fatalf("\t%s\tShould allow requests within the burst.", failed)
		}
		t.Logf("\t%s\tShould allow requests within the burst.", success)

		if limiter.Allow("/get_blocks", "10.0.0.1") {
			t.Fatalf("\t%s\tShould throttle past the burst.", failed)
		}
		t.Logf("\t%s\tShould throttle past the burst.", success)

		if !limiter.Allow("/get_blocks", "10.0.0.2") {
			t.Fatalf("\t%s\tShould key buckets by caller.", failed)
		}
		t.Logf("\t%s\tShould key buckets by caller.", success)
	}
}
