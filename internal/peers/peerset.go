// Package peers tracks known and active GhostProtocol peers and runs the
// UDP presence-beacon discovery protocol (§4.6, §6).
package peers

import (
	"fmt"
	"sort"

	"github.com/ghostmesh/ghostnode/internal/store"
	"github.com/ghostmesh/ghostnode/pkg/logging"
)

// ActiveWindowSeconds is how recently a peer must have been seen to count
// as active for difficulty calculation (§3 Active Peer).
const ActiveWindowSeconds = 300

// KnownWindowSeconds is how recently a peer must have been seen to count
// as known for the sync engine's catch-up target list (§3 Known Peer).
const KnownWindowSeconds = 3600

// Set tracks peer last-seen timestamps, backed by Store, with a static
// bootstrap list always counted as known.
type Set struct {
	store     *store.Store
	bootstrap []string
	log       *logging.Logger
}

// New returns a Set backed by st, unioning bootstrap into "known peers"
// regardless of last-seen time.
func New(st *store.Store, bootstrap []string) *Set {
	return &Set{store: st, bootstrap: bootstrap, log: logging.GetDefault().Component("peers")}
}

// Touch records that ip was seen at now.
func (s *Set) Touch(ip string, now int64) error {
	return s.store.UpsertPeer(ip, now)
}

// ActiveCount returns the number of peers seen within ActiveWindowSeconds
// of now, the input to the PoW difficulty formula.
func (s *Set) ActiveCount(now int64) (int, error) {
	return s.store.CountPeersSince(now - ActiveWindowSeconds)
}

// ActivePeers returns every peer seen within ActiveWindowSeconds of now.
func (s *Set) ActivePeers(now int64) ([]store.Peer, error) {
	return s.store.PeersSeenSince(now - ActiveWindowSeconds)
}

// KnownPeers returns the union of peers seen within KnownWindowSeconds of
// now and the static bootstrap list, deduplicated and sorted.
func (s *Set) KnownPeers(now int64) ([]string, error) {
	recent, err := s.store.PeersSeenSince(now - KnownWindowSeconds)
	if err != nil {
		return nil, fmt.Errorf("query known peers: %w", err)
	}

	seen := make(map[string]bool, len(recent)+len(s.bootstrap))
	var out []string
	for _, p := range recent {
		if !seen[p.IP] {
			seen[p.IP] = true
			out = append(out, p.IP)
		}
	}
	for _, b := range s.bootstrap {
		if !seen[b] {
			seen[b] = true
			out = append(out, b)
		}
	}
	sort.Strings(out)
	return out, nil
}
