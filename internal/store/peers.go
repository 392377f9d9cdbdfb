package store

import (
	"fmt"
)

// Peer is a row of the peers table (§3 Peer).
type Peer struct {
	IP       string
	LastSeen int64
}

// UpsertPeer inserts a peer or refreshes its last_seen if already known,
// mirroring the teacher's SavePeer upsert idiom.
func (s *Store) UpsertPeer(ip string, lastSeen int64) error {
	_, err := s.db.Exec(
		`INSERT INTO peers (ip, last_seen) VALUES (?, ?)
		 ON CONFLICT(ip) DO UPDATE SET last_seen = excluded.last_seen`,
		ip, lastSeen,
	)
	if err != nil {
		return fmt.Errorf("upsert peer: %w", err)
	}
	return nil
}

// PeersSeenSince returns every peer with last_seen >= cutoff.
func (s *Store) PeersSeenSince(cutoff int64) ([]Peer, error) {
	rows, err := s.db.Query(`SELECT ip, last_seen FROM peers WHERE last_seen >= ?`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query peers: %w", err)
	}
	defer rows.Close()

	var out []Peer
	for rows.Next() {
		var p Peer
		if err := rows.Scan(&p.IP, &p.LastSeen); err != nil {
			return nil, fmt.Errorf("scan peer: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountPeersSince returns the number of peers with last_seen >= cutoff.
func (s *Store) CountPeersSince(cutoff int64) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM peers WHERE last_seen >= ?`, cutoff).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count peers: %w", err)
	}
	return n, nil
}
