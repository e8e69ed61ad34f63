package peer

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/lru"
	bolt "go.etcd.io/bbolt"
)

// Capacity and liveness limits of the registry.
const (
	MaxPeers          = 64  // Active peers held in memory.
	MaxPeersCount     = 256 // Peers persisted on disk.
	ActivePeerWindow  = 7 * 24 * time.Hour
)

// Record is the persisted form of a peer.
type Record struct {
	NodeID          string `json:"node_id"`
	Pubkey          string `json:"pubkey"`
	URL             string `json:"url"`
	IsPublic        bool   `json:"is_public"`
	NodeVersion     string `json:"node_version"`
	ReputationScore int    `json:"reputation_score"`
	LastSeen        int64  `json:"last_seen"`
	BannedUntil     int64  `json:"banned_until,omitempty"`
	BanCount        int    `json:"ban_count,omitempty"`
}

// Peer is an active peer with its own lock. Reputation and last-seen updates
// take only this lock; Upsert refreshes an existing peer while also holding
// the registry lock.
type Peer struct {
	mu  sync.Mutex
	rec Record
}

// Snapshot returns a copy of the peer's record.
func (p *Peer) Snapshot() Record {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.rec
}

// Touch updates the last seen time.
func (p *Peer) Touch(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.rec.LastSeen = now.UTC().Unix()
}

// =============================================================================

var peersBucket = []byte("peers")

// Registry tracks the peers this node knows: a bounded in-memory active set
// pruned least-recently-seen first, backed by an on-disk table that survives
// restarts.
type Registry struct {
	mu       sync.Mutex
	identity Identity
	db       *bolt.DB
	active   *lru.Cache[string, *Peer]
}

// NewRegistry opens the peer database and loads the most recently seen
// records into the active set.
func NewRegistry(identity Identity, dbPath string) (*Registry, error) {
	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening peer database: %w", err)
	}

	if err := db.Update(func(btx *bolt.Tx) error {
		_, err := btx.CreateBucketIfNotExists(peersBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating peer bucket: %w", err)
	}

	r := Registry{
		identity: identity,
		db:       db,
		active:   lru.NewCache[string, *Peer](MaxPeers),
	}

	if err := r.load(); err != nil {
		db.Close()
		return nil, err
	}

	return &r, nil
}

// Close releases the peer database.
func (r *Registry) Close() error {
	return r.db.Close()
}

// load reads the persisted records, drops peers unseen for the activity
// window, and fills the active set oldest first, so the most recently seen
// records are the ones the capacity bound keeps.
func (r *Registry) load() error {
	var records []Record
	cutoff := time.Now().UTC().Add(-ActivePeerWindow).Unix()

	err := r.db.Update(func(btx *bolt.Tx) error {
		b := btx.Bucket(peersBucket)

		var stale [][]byte
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil || rec.LastSeen < cutoff {
				stale = append(stale, append([]byte(nil), k...))
				continue
			}
			records = append(records, rec)
		}

		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("loading peers: %w", err)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].LastSeen < records[j].LastSeen })
	for _, rec := range records {
		r.active.Add(rec.NodeID, &Peer{rec: rec})
	}

	return nil
}

// Upsert adds a peer or refreshes an existing one. The node never records
// itself, and the persisted table is capped.
func (r *Registry) Upsert(rec Record) (*Peer, bool, error) {
	if rec.NodeID == r.identity.NodeID {
		return nil, false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC().Unix()
	rec.LastSeen = now

	if p, found := r.active.Get(rec.NodeID); found {
		p.mu.Lock()
		p.rec.Pubkey = rec.Pubkey
		if rec.URL != "" {
			p.rec.URL = rec.URL
		}
		p.rec.IsPublic = rec.IsPublic
		if rec.NodeVersion != "" {
			p.rec.NodeVersion = rec.NodeVersion
		}
		p.rec.LastSeen = now
		snapshot := p.rec
		p.mu.Unlock()

		return p, false, r.persist(snapshot)
	}

	count, err := r.persistedCount()
	if err != nil {
		return nil, false, err
	}
	if count >= MaxPeersCount {
		if err := r.pruneOldest(); err != nil {
			return nil, false, err
		}
	}

	p := &Peer{rec: rec}
	r.active.Add(rec.NodeID, p)

	return p, true, r.persist(rec)
}

// Get returns an active peer, falling back to the persisted table.
func (r *Registry) Get(nodeID string) (*Peer, bool) {
	if p, found := r.active.Get(nodeID); found {
		return p, true
	}

	var rec Record
	found := false
	r.db.View(func(btx *bolt.Tx) error {
		if v := btx.Bucket(peersBucket).Get([]byte(nodeID)); v != nil {
			found = json.Unmarshal(v, &rec) == nil
		}
		return nil
	})
	if !found {
		return nil, false
	}

	p := &Peer{rec: rec}
	r.active.Add(nodeID, p)

	return p, true
}

// Remove forgets a peer entirely.
func (r *Registry) Remove(nodeID string) {
	r.active.Remove(nodeID)
	r.db.Update(func(btx *bolt.Tx) error {
		return btx.Bucket(peersBucket).Delete([]byte(nodeID))
	})
}

// All returns snapshots of the active peers.
func (r *Registry) All() []Record {
	keys := r.active.Keys()
	out := make([]Record, 0, len(keys))
	for _, k := range keys {
		if p, found := r.active.Peek(k); found {
			out = append(out, p.Snapshot())
		}
	}

	return out
}

// ActivePeers returns recently seen, unbanned peers with a reachable URL.
func (r *Registry) ActivePeers(now time.Time) []Record {
	cutoff := now.UTC().Add(-ActivePeerWindow).Unix()

	var out []Record
	for _, rec := range r.All() {
		if rec.LastSeen < cutoff || rec.URL == "" {
			continue
		}
		if rec.BannedUntil > now.UTC().Unix() {
			continue
		}
		out = append(out, rec)
	}

	return out
}

// PickRandom returns up to n random active peers for propagation and
// discovery.
func (r *Registry) PickRandom(n int, now time.Time) []Record {
	peers := r.ActivePeers(now)
	if len(peers) <= n {
		return peers
	}

	rand.Shuffle(len(peers), func(i, j int) { peers[i], peers[j] = peers[j], peers[i] })
	return peers[:n]
}

// NodeID returns this node's identity.
func (r *Registry) NodeID() string {
	return r.identity.NodeID
}

// Identity returns this node's keypair.
func (r *Registry) Identity() Identity {
	return r.identity
}

// persist writes a record to the on-disk table.
func (r *Registry) persist(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	return r.db.Update(func(btx *bolt.Tx) error {
		return btx.Bucket(peersBucket).Put([]byte(rec.NodeID), data)
	})
}

// persistedCount counts the on-disk records.
func (r *Registry) persistedCount() (int, error) {
	var count int
	err := r.db.View(func(btx *bolt.Tx) error {
		count = btx.Bucket(peersBucket).Stats().KeyN
		return nil
	})

	return count, err
}

// pruneOldest deletes the least recently seen persisted record.
func (r *Registry) pruneOldest() error {
	return r.db.Update(func(btx *bolt.Tx) error {
		b := btx.Bucket(peersBucket)

		var oldestKey []byte
		var oldestSeen int64
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				oldestKey = append([]byte(nil), k...)
				break
			}
			if oldestKey == nil || rec.LastSeen < oldestSeen {
				oldestKey = append([]byte(nil), k...)
				oldestSeen = rec.LastSeen
			}
		}
		if oldestKey == nil {
			return nil
		}

		return b.Delete(oldestKey)
	})
}
