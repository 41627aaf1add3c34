package sync

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/horao-fabric/fabric/internal/clock"
)

// DedupCache bounds anti-entropy fan-out: spec.md §4.6's DELTA handling
// forwards to other peers "after deduplicating by (origin_peer_id,
// timestamp)". Grounded on the teacher's LRU-bounded cache pattern used
// throughout apps/mcp-server (e.g. inmemory_cache.go) rather than the
// unbounded AntiReplayCache map in auth.go, since a long-running peer must
// not grow this set forever.
type DedupCache struct {
	seen *lru.Cache[string, struct{}]
}

// NewDedupCache creates a cache holding up to size recent (origin, hwm)
// pairs.
func NewDedupCache(size int) *DedupCache {
	c, _ := lru.New[string, struct{}](size)
	return &DedupCache{seen: c}
}

func dedupKey(originPeerID string, hwm clock.Timestamp) string {
	return originPeerID + "/" + hwm.String()
}

// SeenOrMark reports whether (originPeerID, hwm) was already forwarded; if
// not, it records it and returns false.
func (d *DedupCache) SeenOrMark(originPeerID string, hwm clock.Timestamp) bool {
	key := dedupKey(originPeerID, hwm)
	if d.seen.Contains(key) {
		return true
	}
	d.seen.Add(key, struct{}{})
	return false
}
